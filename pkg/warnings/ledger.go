// chatguard/pkg/warnings/ledger.go

// Package warnings accumulates escalation points per sender and set and fires
// the highest qualifying action of a set when a threshold is reached.
package warnings

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"rgehrsitz/chatguard/pkg/action"
	"rgehrsitz/chatguard/pkg/logging"
	"rgehrsitz/chatguard/pkg/sender"
	"rgehrsitz/chatguard/pkg/store"
	"rgehrsitz/chatguard/pkg/textutil"
	"rgehrsitz/chatguard/pkg/timeutil"
)

const BypassPermission = "chatguard.bypass.warningpoints"

// Calculator evaluates numeric formulas.
type Calculator interface {
	Calculate(formula string) (float64, error)
}

// Trigger grants points computed from Formula to Set, e.g. "{delay} * 2".
type Trigger struct {
	Set     string `yaml:"set"`
	Formula string `yaml:"formula"`
}

// IsZero reports whether no trigger is configured.
func (t Trigger) IsZero() bool {
	return t.Set == ""
}

// Verdict is the result of a triggered violation.
type Verdict struct {
	// Cancel is true when the violating message must be dropped.
	Cancel bool
	// Fired is true when a set action ran instead of the fallback warning.
	Fired bool
	// Message is the fallback warning, empty when an action fired.
	Message string
	Effects []action.Effect
}

type Ledger struct {
	points store.PointStore
	calc   Calculator

	mu      sync.RWMutex
	enabled bool
	sets    map[string]*WarnSet
	remove  map[string]int64
	period  time.Duration
}

func NewLedger(cfg *Config, points store.PointStore, calc Calculator) (*Ledger, error) {
	l := &Ledger{points: points, calc: calc}
	if err := l.Reload(cfg); err != nil {
		return nil, err
	}
	return l, nil
}

// Reload swaps in a new configuration. Stored totals are kept.
func (l *Ledger) Reload(cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	period, _ := cfg.ResetTask.Interval()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = cfg.Enabled
	l.sets = buildSets(cfg)
	l.remove = cfg.ResetTask.Remove
	l.period = period
	return nil
}

// Enabled reports whether points are collected at all.
func (l *Ledger) Enabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.enabled
}

// DecayPeriod is the configured reset_task period.
func (l *Ledger) DecayPeriod() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.period
}

// SetNames returns the loaded set names, sorted.
func (l *Ledger) SetNames() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.sets))
	for name := range l.sets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GrantPoints adds amount, rounded, to the sender's total in set and returns
// the effects of the highest action the new total qualifies for. Nothing is
// stored when the ledger is disabled, the sender bypasses it or amount is
// below one.
func (l *Ledger) GrantPoints(ctx context.Context, s sender.Sender, setName string, amount float64) (bool, []action.Effect, error) {
	l.mu.RLock()
	enabled := l.enabled
	set, ok := l.sets[setName]
	l.mu.RUnlock()

	if !enabled || s.HasPermission(BypassPermission) || amount < 1 {
		return false, nil, nil
	}
	if !ok {
		return false, nil, logging.NewError(logging.ErrorTypeConfig,
			fmt.Sprintf("Cannot give warn points to a non-existing warn set '%s'. Available: %s", setName, strings.Join(l.SetNames(), ", ")),
			nil, map[string]interface{}{"sender": s.Name(), "set": setName})
	}

	rounded := int64(math.Round(amount))
	total, err := l.points.AddPoints(ctx, s.ID(), setName, rounded)
	if err != nil {
		return false, nil, err
	}
	pointsGranted.WithLabelValues(setName).Add(float64(rounded))

	logging.Logger.Info().
		Str("sender", s.Name()).
		Str("set", setName).
		Int64("from", total-rounded).
		Int64("to", total).
		Msg("Set warning points")

	highest := set.Highest(total)
	if highest == nil {
		return false, nil, nil
	}
	actionsFired.WithLabelValues(setName).Inc()
	return true, actionEffects(s, highest, total), nil
}

func actionEffects(s sender.Sender, a *WarnAction, total int64) []action.Effect {
	vars := map[string]string{
		"player": s.Name(),
		"sender": s.Name(),
		"uuid":   s.ID(),
		"points": strconv.FormatInt(total, 10),
	}

	effects := make([]action.Effect, 0, len(a.Commands))
	for _, line := range a.Commands {
		line = textutil.Render(line, vars)

		switch {
		case strings.HasPrefix(line, "warn "):
			effects = append(effects, action.Effect{
				Kind:   action.KindTell,
				Sender: s.ID(),
				Target: s.ID(),
				Text:   strings.TrimPrefix(line, "warn "),
				Delay:  timeutil.Tick,
			})

		case strings.HasPrefix(line, "proxyconsole ") || strings.HasPrefix(line, "bungeeconsole "):
			if strings.HasPrefix(line, "bungeeconsole ") {
				logging.Logger.Warn().Str("action", a.String()).Msg("The 'bungeeconsole' command is deprecated, use 'proxyconsole' instead")
			}
			rest := strings.TrimPrefix(strings.TrimPrefix(line, "proxyconsole "), "bungeeconsole ")
			server, command := "proxy", rest
			if head, tail, found := strings.Cut(rest, " "); found {
				server, command = head, tail
			}
			effects = append(effects, action.Effect{Kind: action.KindProxyCommand, Sender: s.ID(), Target: server, Text: command})

		default:
			effects = append(effects, action.Effect{Kind: action.KindConsoleCommand, Sender: s.ID(), Text: line})
		}
	}
	return effects
}

// Trigger handles a violation: points are computed from the trigger's
// formula and granted. When an action fires the message is cancelled
// without a warning; otherwise it is cancelled with fallback. Only players
// collect points.
func (l *Ledger) Trigger(ctx context.Context, s sender.Sender, trigger Trigger, fallback string, vars map[string]string) (Verdict, error) {
	fallbackVerdict := Verdict{Cancel: true, Message: fallback}
	if trigger.IsZero() || !l.Enabled() || s.Origin() != sender.OriginPlayer {
		return fallbackVerdict, nil
	}

	expression := trigger.Formula
	for key, value := range vars {
		if !strings.HasPrefix(key, "{") {
			key = "{" + key + "}"
		}
		expression = strings.ReplaceAll(expression, key, value)
	}
	if strings.ContainsAny(expression, "{}") {
		return Verdict{}, logging.NewError(logging.ErrorTypeConfig,
			"Unparsed variables found when evaluating warning points",
			nil, map[string]interface{}{"sender": s.Name(), "expression": expression, "warning": fallback})
	}

	points, err := l.calc.Calculate(expression)
	if err != nil {
		logging.LogError(logging.Logger, logging.NewError(logging.ErrorTypeScript,
			"Failed to calculate warning points", err,
			map[string]interface{}{"sender": s.Name(), "expression": expression}))
		return Verdict{}, nil
	}

	fired, effects, err := l.GrantPoints(ctx, s, trigger.Set, points)
	if err != nil {
		return Verdict{}, err
	}
	if fired {
		return Verdict{Cancel: true, Fired: true, Effects: effects}, nil
	}
	return fallbackVerdict, nil
}

// Decay subtracts each set's configured amount from every given sender,
// floored at zero.
func (l *Ledger) Decay(ctx context.Context, online []sender.Sender) error {
	l.mu.RLock()
	enabled := l.enabled
	remove := l.remove
	l.mu.RUnlock()

	if !enabled || len(remove) == 0 {
		return nil
	}

	for _, s := range online {
		totals, err := l.points.ListPoints(ctx, s.ID())
		if err != nil {
			return err
		}
		for set, amount := range totals {
			threshold, ok := remove[set]
			if !ok || threshold == 0 {
				continue
			}
			remaining, err := l.points.RemovePoints(ctx, s.ID(), set, threshold)
			if err != nil {
				return err
			}
			logging.Logger.Debug().
				Str("sender", s.Name()).
				Str("set", set).
				Int64("from", amount).
				Int64("to", remaining).
				Msg("Reset warning points")
		}
	}
	return nil
}

// RunDecay calls Decay every interval until ctx is done. A zero interval
// returns immediately.
func (l *Ledger) RunDecay(ctx context.Context, interval time.Duration, online func() []sender.Sender) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.Decay(ctx, online()); err != nil {
				logging.LogError(logging.Logger, err)
			}
		}
	}
}
