// chatguard/pkg/runtime/registry.go

package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"rgehrsitz/chatguard/pkg/logging"
	"rgehrsitz/chatguard/pkg/rules"
)

// Loader produces a freshly parsed rule set.
type Loader func() (*rules.Set, error)

// Decision is one finished evaluation, as observers see it.
type Decision struct {
	Time     time.Time      `json:"time"`
	Category rules.Category `json:"category"`
	Sender   string         `json:"sender"`
	Outcome  *Outcome       `json:"outcome,omitempty"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration_ns"`
}

// Observer is notified of every decision.
type Observer interface {
	Observe(Decision)
}

// Stats are the registry's running counters.
type Stats struct {
	Evaluations    int64     `json:"evaluations"`
	Broadcasts     int64     `json:"broadcasts"`
	Cancelled      int64     `json:"cancelled"`
	Matches        int64     `json:"matches"`
	Errors         int64     `json:"errors"`
	Reloads        int64     `json:"reloads"`
	Rules          int       `json:"rules"`
	Groups         int       `json:"groups"`
	Messages       int       `json:"messages"`
	LoadedAt       time.Time `json:"loaded_at"`
	LastEvaluation time.Time `json:"last_evaluation"`
}

// Registry owns the loaded rule set. Reload swaps it atomically; a failed
// reload keeps the previous set. Reloads and broadcasts are serialized.
type Registry struct {
	engine        *Engine
	load          Loader
	resetOnReload bool

	mu      sync.Mutex
	current atomic.Pointer[rules.Set]

	observersMu sync.RWMutex
	observers   []Observer

	evaluations    atomic.Int64
	broadcasts     atomic.Int64
	cancelled      atomic.Int64
	matches        atomic.Int64
	errors         atomic.Int64
	reloads        atomic.Int64
	lastEvaluation atomic.Int64
}

func NewRegistry(engine *Engine, load Loader, resetOnReload bool) *Registry {
	r := &Registry{engine: engine, load: load, resetOnReload: resetOnReload}
	r.current.Store(rules.NewSet())
	return r
}

// Reload loads a new set and swaps it in.
func (r *Registry) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, err := r.load()
	if err != nil {
		reloadsTotal.WithLabelValues("failed").Inc()
		logging.LogError(logging.Logger, err)
		logging.Logger.Warn().Msg("Reload failed, keeping the previous rules")
		return err
	}

	if r.resetOnReload {
		r.engine.state.Reset()
	}
	r.current.Store(set)
	r.reloads.Add(1)
	reloadsTotal.WithLabelValues("ok").Inc()

	rulesCount, messages := countOperators(set)
	logging.Logger.Info().
		Int("rules", rulesCount).
		Int("groups", len(set.Groups)).
		Int("messages", messages).
		Bool("cooldowns_reset", r.resetOnReload).
		Msg("Rules reloaded")
	return nil
}

// Set returns the current snapshot.
func (r *Registry) Set() *rules.Set {
	return r.current.Load()
}

// Evaluate runs the rules of a rule category.
func (r *Registry) Evaluate(ctx context.Context, ev Event) (*Outcome, error) {
	if !isRuleCategory(ev.Category) {
		return nil, logging.NewError(logging.ErrorTypeUnimplemented,
			fmt.Sprintf("no rule handler for category '%s'", ev.Category), nil,
			map[string]interface{}{"category": string(ev.Category)})
	}
	start := time.Now()
	out, err := r.engine.Evaluate(ctx, r.Set(), ev)
	r.evaluations.Add(1)
	r.record(ev, out, err, start)
	return out, err
}

// Broadcast runs the message operators of a broadcast category. It holds
// the reload lock for the whole pass.
func (r *Registry) Broadcast(ctx context.Context, ev Event) (*Outcome, error) {
	if !isMessageCategory(ev.Category) {
		return nil, logging.NewError(logging.ErrorTypeUnimplemented,
			fmt.Sprintf("no broadcast handler for category '%s'", ev.Category), nil,
			map[string]interface{}{"category": string(ev.Category)})
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	set := r.Set()
	if ev.Only != "" && !set.HasMessage(ev.Category, ev.Only) {
		logging.Logger.Debug().Str("category", string(ev.Category)).Str("operator", ev.Only).Msg("Skipping message that is no longer loaded")
		out := newOutcome(ev.Message)
		out.settle()
		return out, nil
	}

	out, err := r.engine.Broadcast(ctx, set, ev)
	r.broadcasts.Add(1)
	r.record(ev, out, err, start)
	return out, err
}

// AddObserver registers o for every later decision.
func (r *Registry) AddObserver(o Observer) {
	r.observersMu.Lock()
	defer r.observersMu.Unlock()
	r.observers = append(r.observers, o)
}

func (r *Registry) record(ev Event, out *Outcome, err error, start time.Time) {
	now := time.Now()
	r.lastEvaluation.Store(now.UnixNano())

	d := Decision{Time: now, Category: ev.Category, Duration: now.Sub(start), Outcome: out}
	if ev.Sender != nil {
		d.Sender = ev.Sender.Name()
	}
	if err != nil {
		r.errors.Add(1)
		d.Error = err.Error()
	}
	if out != nil {
		r.matches.Add(int64(len(out.Matched)))
		if out.Cancelled {
			r.cancelled.Add(1)
		}
	}

	r.observersMu.RLock()
	observers := r.observers
	r.observersMu.RUnlock()
	for _, o := range observers {
		o.Observe(d)
	}
}

func (r *Registry) Stats() Stats {
	set := r.Set()
	rulesCount, messages := countOperators(set)
	stats := Stats{
		Evaluations: r.evaluations.Load(),
		Broadcasts:  r.broadcasts.Load(),
		Cancelled:   r.cancelled.Load(),
		Matches:     r.matches.Load(),
		Errors:      r.errors.Load(),
		Reloads:     r.reloads.Load(),
		Rules:       rulesCount,
		Groups:      len(set.Groups),
		Messages:    messages,
		LoadedAt:    set.LoadedAt,
	}
	if last := r.lastEvaluation.Load(); last > 0 {
		stats.LastEvaluation = time.Unix(0, last)
	}
	return stats
}

func countOperators(set *rules.Set) (int, int) {
	rulesCount, messages := 0, 0
	for _, rs := range set.Rulesets {
		rulesCount += len(rs.Rules)
	}
	for _, list := range set.Messages {
		messages += len(list)
	}
	return rulesCount, messages
}

func isRuleCategory(c rules.Category) bool {
	for _, known := range rules.RuleCategories {
		if c == known {
			return true
		}
	}
	return false
}

func isMessageCategory(c rules.Category) bool {
	for _, known := range rules.MessageCategories {
		if c == known {
			return true
		}
	}
	return false
}
