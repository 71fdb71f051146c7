// chatguard/pkg/runtime/outcome.go

package runtime

import (
	"rgehrsitz/chatguard/pkg/action"
)

// OutcomeKind is the terminal state of one evaluation.
type OutcomeKind int

const (
	// Continue delivers the (possibly rewritten) payload.
	Continue OutcomeKind = iota
	// Abort delivers the payload; later operators were not evaluated.
	Abort
	// CancelSilently hides the payload from everyone but its sender.
	CancelSilently
	// Cancel suppresses the event.
	Cancel
)

func (k OutcomeKind) String() string {
	switch k {
	case Abort:
		return "abort"
	case CancelSilently:
		return "cancel_silently"
	case Cancel:
		return "cancel"
	default:
		return "continue"
	}
}

func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Outcome is what an evaluation decided about an event.
type Outcome struct {
	Kind              OutcomeKind     `json:"kind"`
	Message           string          `json:"message"`
	Original          string          `json:"original"`
	Changed           bool            `json:"changed"`
	Cancelled         bool            `json:"cancelled"`
	CancelledSilently bool            `json:"cancelled_silently"`
	LoggingIgnored    bool            `json:"logging_ignored"`
	SpyingIgnored     bool            `json:"spying_ignored"`
	Matched           []string        `json:"matched,omitempty"`
	Effects           []action.Effect `json:"effects,omitempty"`

	aborted bool
}

func newOutcome(message string) *Outcome {
	return &Outcome{Message: message, Original: message}
}

// settle derives Kind from the flags. Cancel wins over a silent cancel,
// which wins over abort.
func (o *Outcome) settle() {
	switch {
	case o.Cancelled:
		o.Kind = Cancel
	case o.CancelledSilently:
		o.Kind = CancelSilently
	case o.aborted:
		o.Kind = Abort
	default:
		o.Kind = Continue
	}
}

func (o *Outcome) setMessage(text string) {
	if text != o.Message {
		o.Message = text
		o.Changed = true
	}
}

func (o *Outcome) emit(effects ...action.Effect) {
	o.Effects = append(o.Effects, effects...)
}
