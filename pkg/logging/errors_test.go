// chatguard/pkg/logging/errors_test.go

package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewError(t *testing.T) {
	tests := []struct {
		name        string
		errType     ErrorType
		message     string
		err         error
		fields      map[string]interface{}
		expectedMsg string
	}{
		{
			name:        "Parse error",
			errType:     ErrorTypeParse,
			message:     "Unrecognized operator 'then explode' found in rule 'swear'",
			err:         nil,
			fields:      map[string]interface{}{"line": 10},
			expectedMsg: "PARSE: Unrecognized operator 'then explode' found in rule 'swear'",
		},
		{
			name:        "Script error",
			errType:     ErrorTypeScript,
			message:     "require script returned a non-boolean",
			err:         errors.New("got string"),
			fields:      map[string]interface{}{"script": "'yes'"},
			expectedMsg: "SCRIPT: require script returned a non-boolean: got string",
		},
		{
			name:        "Store error",
			errType:     ErrorTypeStore,
			message:     "failed to add points",
			err:         errors.New("connection refused"),
			fields:      nil,
			expectedMsg: "STORE: failed to add points: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guardErr := NewError(tt.errType, tt.message, tt.err, tt.fields)

			assert.Equal(t, tt.errType, guardErr.Type)
			assert.Equal(t, tt.message, guardErr.Message)
			assert.Equal(t, tt.err, guardErr.Err)
			assert.Equal(t, tt.fields, guardErr.Fields)
			assert.Equal(t, tt.expectedMsg, guardErr.Error())

			if tt.err != nil {
				assert.Equal(t, tt.err, guardErr.Unwrap())
			} else {
				assert.Nil(t, guardErr.Unwrap())
			}
		})
	}
}

func TestIsType(t *testing.T) {
	inner := NewError(ErrorTypeScript, "boom", nil, nil)
	wrapped := fmt.Errorf("evaluating chat: %w", inner)

	assert.True(t, IsType(wrapped, ErrorTypeScript))
	assert.False(t, IsType(wrapped, ErrorTypeParse))
	assert.False(t, IsType(errors.New("plain"), ErrorTypeScript))
}

func logged(t *testing.T, err error) map[string]interface{} {
	t.Helper()
	var buf bytes.Buffer
	LogError(zerolog.New(&buf), err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogErrorGuardError(t *testing.T) {
	entry := logged(t, NewError(ErrorTypeScript, "require script failed", errors.New("ReferenceError: foo is not defined"),
		map[string]interface{}{"rule": "chat/badword", "line": 4}))

	assert.Equal(t, map[string]interface{}{
		"level":      "error",
		"error":      "ReferenceError: foo is not defined",
		"error_type": "SCRIPT",
		"rule":       "chat/badword",
		"line":       float64(4),
		"message":    "require script failed",
	}, entry)
}

func TestLogErrorWrapped(t *testing.T) {
	err := fmt.Errorf("reload: %w", NewError(ErrorTypeParse, "unknown operator", nil, map[string]interface{}{"file": "rules/chat.rs"}))
	entry := logged(t, err)

	assert.Equal(t, "PARSE", entry["error_type"])
	assert.Equal(t, "unknown operator", entry["message"])
	assert.Equal(t, "rules/chat.rs", entry["file"])
	assert.NotContains(t, entry, "error")
}

func TestLogErrorPlain(t *testing.T) {
	entry := logged(t, errors.New("dial tcp: connection refused"))

	assert.Equal(t, map[string]interface{}{
		"level":   "error",
		"error":   "dial tcp: connection refused",
		"message": "dial tcp: connection refused",
	}, entry)
}
