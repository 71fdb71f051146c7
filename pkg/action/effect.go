// chatguard/pkg/action/effect.go

// Package action holds the abstract side effects the engine queues. The engine
// never performs I/O itself; hosts receive Effects and carry them out.
package action

import (
	"context"
	"time"
)

type Kind string

const (
	KindPlayerCommand  Kind = "player_command"
	KindConsoleCommand Kind = "console_command"
	KindProxyCommand   Kind = "proxy_command"
	KindLog            Kind = "log"
	KindNotify         Kind = "notify"
	KindDiscord        Kind = "discord"
	KindWrite          Kind = "write"
	KindWarn           Kind = "warn"
	KindTell           Kind = "tell"
	KindKick           Kind = "kick"
	KindFine           Kind = "fine"
	KindSound          Kind = "sound"
	KindBook           Kind = "book"
	KindToast          Kind = "toast"
	KindTitle          Kind = "title"
	KindActionBar      Kind = "actionbar"
	KindBossBar        Kind = "bossbar"
	KindSaveData       Kind = "save_data"
	KindDeliver        Kind = "deliver"
	KindProxyForward   Kind = "proxy_forward"
)

// Effect is one queued side effect.
//
// Target depends on Kind: the receiving sender id for per-recipient kinds, the
// server for proxy commands, the channel id for discord, the file path for
// write and the data key for save_data.
type Effect struct {
	ID     string            `json:"id,omitempty"`
	Kind   Kind              `json:"kind"`
	Sender string            `json:"sender,omitempty"`
	Target string            `json:"target,omitempty"`
	Text   string            `json:"text,omitempty"`
	Args   map[string]string `json:"args,omitempty"`
	Amount float64           `json:"amount,omitempty"`
	Value  interface{}       `json:"value,omitempty"`
	Delay  time.Duration     `json:"delay,omitempty"`
}

// Async reports whether the effect must leave the evaluating goroutine:
// bridge delivery and file appends may block on I/O.
func (e Effect) Async() bool {
	return e.Kind == KindDiscord || e.Kind == KindWrite || e.Delay > 0
}

// Dispatcher carries out effects.
type Dispatcher interface {
	Dispatch(ctx context.Context, effect Effect) error
}

// DispatcherFunc adapts a function to a Dispatcher.
type DispatcherFunc func(ctx context.Context, effect Effect) error

func (f DispatcherFunc) Dispatch(ctx context.Context, effect Effect) error {
	return f(ctx, effect)
}

// Mux routes effects to a dispatcher by kind, falling back to Default.
type Mux struct {
	Routes  map[Kind]Dispatcher
	Default Dispatcher
}

func (m *Mux) Dispatch(ctx context.Context, effect Effect) error {
	if d, ok := m.Routes[effect.Kind]; ok {
		return d.Dispatch(ctx, effect)
	}
	if m.Default != nil {
		return m.Default.Dispatch(ctx, effect)
	}
	return nil
}

// Filter returns the effects of the given kind.
func Filter(effects []Effect, kind Kind) []Effect {
	var out []Effect
	for _, e := range effects {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
