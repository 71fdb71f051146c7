// chatguard/pkg/scripting/safe_vm.go

package scripting

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/robertkrimen/otto"

	"rgehrsitz/chatguard/pkg/logging"
)

// DefaultTimeout bounds a single script run.
const DefaultTimeout = 100 * time.Millisecond

var (
	errHalt    = errors.New("halt")
	identifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)
)

// SafeVM runs rule-file JavaScript in a sandbox: eval and Function are
// removed, the stack depth is limited and every run is interrupted after the
// configured timeout. Each run gets its own VM so variables never leak
// between runs.
type SafeVM struct {
	timeout time.Duration
}

func NewSafeVM(timeout time.Duration) *SafeVM {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &SafeVM{timeout: timeout}
}

func newVM() *otto.Otto {
	vm := otto.New()
	vm.Set("eval", otto.UndefinedValue())
	vm.Set("Function", otto.UndefinedValue())
	vm.SetStackDepthLimit(1000)
	return vm
}

// Run evaluates script with vars bound as globals and returns the exported
// result. Undefined and null both come back as nil.
func (s *SafeVM) Run(script string, vars map[string]interface{}) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			if r == errHalt {
				logging.Logger.Error().Str("script", script).Msg("Script execution timed out")
				err = logging.NewError(logging.ErrorTypeScript, "script execution timed out", nil, map[string]interface{}{"script": script})
				return
			}
			err = logging.NewError(logging.ErrorTypeScript, fmt.Sprintf("script panicked: %v", r), nil, map[string]interface{}{"script": script})
		}
	}()

	vm := newVM()
	for name, value := range vars {
		if !identifier.MatchString(name) {
			continue
		}
		if err := vm.Set(name, value); err != nil {
			return nil, logging.NewError(logging.ErrorTypeScript, "failed to bind script variable", err, map[string]interface{}{"variable": name})
		}
	}

	logging.Logger.Debug().Str("script", script).Msg("Running script")

	vm.Interrupt = make(chan func(), 1)
	watchdog := time.AfterFunc(s.timeout, func() {
		vm.Interrupt <- func() { panic(errHalt) }
	})
	defer watchdog.Stop()

	value, err := vm.Run(script)
	if err != nil {
		return nil, logging.NewError(logging.ErrorTypeScript, "script failed", err, map[string]interface{}{"script": script})
	}
	if value.IsUndefined() || value.IsNull() {
		return nil, nil
	}

	exported, err := value.Export()
	if err != nil {
		return nil, logging.NewError(logging.ErrorTypeScript, "error exporting result", err, map[string]interface{}{"script": script})
	}
	if f, ok := exported.(float64); ok && (math.IsInf(f, 0) || math.IsNaN(f)) {
		logging.Logger.Warn().Str("script", script).Float64("result", f).Msg("Script produced Inf or NaN value")
		return nil, logging.NewError(logging.ErrorTypeScript, "script produced invalid numeric result", nil, map[string]interface{}{"script": script})
	}
	return exported, nil
}

// Calculate evaluates a numeric formula such as "2 * 3 + 1".
func (s *SafeVM) Calculate(formula string) (float64, error) {
	result, err := s.Run(formula, nil)
	if err != nil {
		return 0, err
	}
	switch v := result.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	default:
		return 0, logging.NewError(logging.ErrorTypeScript, fmt.Sprintf("formula must be numeric, got %T", result), nil, map[string]interface{}{"formula": formula})
	}
}
