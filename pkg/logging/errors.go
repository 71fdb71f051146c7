// chatguard/pkg/logging/errors.go

package logging

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

type ErrorType string

const (
	ErrorTypeParse         ErrorType = "PARSE"
	ErrorTypeScript        ErrorType = "SCRIPT"
	ErrorTypeStore         ErrorType = "STORE"
	ErrorTypeConfig        ErrorType = "CONFIG"
	ErrorTypeUnimplemented ErrorType = "UNIMPLEMENTED"
)

type GuardError struct {
	Type    ErrorType
	Message string
	Err     error
	Fields  map[string]interface{}
}

func (e *GuardError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *GuardError) Unwrap() error {
	return e.Err
}

func NewError(errType ErrorType, message string, err error, fields map[string]interface{}) *GuardError {
	return &GuardError{
		Type:    errType,
		Message: message,
		Err:     err,
		Fields:  fields,
	}
}

// IsType reports whether err wraps a GuardError of the given type.
func IsType(err error, errType ErrorType) bool {
	var guardErr *GuardError
	if errors.As(err, &guardErr) {
		return guardErr.Type == errType
	}
	return false
}

func LogError(logger zerolog.Logger, err error) {
	var guardErr *GuardError
	if !errors.As(err, &guardErr) {
		logger.Error().Err(err).Msg(err.Error())
		return
	}

	event := logger.Error().Err(guardErr.Err).
		Str("error_type", string(guardErr.Type))

	for k, v := range guardErr.Fields {
		event = event.Interface(k, v)
	}

	event.Msg(guardErr.Message)
}
