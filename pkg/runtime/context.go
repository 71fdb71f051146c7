// chatguard/pkg/runtime/context.go

package runtime

import (
	"context"
	"math/rand"
	"time"

	"rgehrsitz/chatguard/pkg/action"
	"rgehrsitz/chatguard/pkg/rules"
	"rgehrsitz/chatguard/pkg/sender"
)

// Evaluator runs rule-file scripts. A nil result means "no opinion".
type Evaluator interface {
	Run(script string, vars map[string]interface{}) (interface{}, error)
}

// PointGranter accumulates escalation points; *warnings.Ledger is one.
type PointGranter interface {
	GrantPoints(ctx context.Context, s sender.Sender, set string, amount float64) (bool, []action.Effect, error)
}

// Host enumerates the connected senders.
type Host interface {
	Online() []sender.Sender
}

// HostFunc adapts a function to a Host.
type HostFunc func() []sender.Sender

func (f HostFunc) Online() []sender.Sender {
	return f()
}

// Resolver substitutes host placeholders that the engine does not know.
type Resolver interface {
	Resolve(template string, s sender.Sender) string
}

// Event is one evaluated occurrence.
type Event struct {
	Category rules.Category
	Sender   sender.Sender
	Message  string
	// Channel is the chat channel the message was written to, if any.
	Channel string
	// Variables are exposed to templates and to context predicates such as
	// the death cause.
	Variables map[string]string
	// Receivers overrides Host.Online for broadcasts.
	Receivers []sender.Sender
	// Only restricts a broadcast to one named operator.
	Only string
}

// Options tune an Engine.
type Options struct {
	// StripColors and StripAccents are the defaults for rules that do not
	// say "strip colors" or "strip accents" themselves.
	StripColors  bool
	StripAccents bool
	// StopOnFirstMatch lists broadcast categories where a receiver gets at
	// most one message per broadcast.
	StopOnFirstMatch []rules.Category
	Resolver         Resolver

	Now  func() time.Time
	Pick func(n int) int
}

func (o *Options) stopsOnFirstMatch(category rules.Category) bool {
	for _, c := range o.StopOnFirstMatch {
		if c == category {
			return true
		}
	}
	return false
}

func (o *Options) defaults() {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Pick == nil {
		o.Pick = rand.Intn
	}
}
