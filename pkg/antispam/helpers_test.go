// chatguard/pkg/antispam/helpers_test.go

package antispam

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rgehrsitz/chatguard/pkg/action"
	"rgehrsitz/chatguard/pkg/runtime"
	"rgehrsitz/chatguard/pkg/sender"
	"rgehrsitz/chatguard/pkg/warnings"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func player(name string, permissions ...string) *sender.Snapshot {
	return &sender.Snapshot{
		UniqueID:    name + "-id",
		Username:    name,
		From:        sender.OriginPlayer,
		Permissions: permissions,
		WorldName:   "world",
		Position:    sender.Location{World: "world", X: 10, Y: 64, Z: 10},
	}
}

type fakeLedger struct {
	triggers []warnings.Trigger
	vars     []map[string]string
	verdict  *warnings.Verdict
	err      error
}

func (f *fakeLedger) Trigger(_ context.Context, _ sender.Sender, trigger warnings.Trigger, fallback string, vars map[string]string) (warnings.Verdict, error) {
	f.triggers = append(f.triggers, trigger)
	f.vars = append(f.vars, vars)
	if f.err != nil {
		return warnings.Verdict{}, f.err
	}
	if f.verdict != nil {
		return *f.verdict, nil
	}
	return warnings.Verdict{Cancel: true, Message: fallback}, nil
}

type fakeRules struct {
	events  []runtime.Event
	outcome func(ev runtime.Event) *runtime.Outcome
	err     error
}

func (f *fakeRules) Evaluate(_ context.Context, ev runtime.Event) (*runtime.Outcome, error) {
	f.events = append(f.events, ev)
	if f.err != nil {
		return nil, f.err
	}
	if f.outcome != nil {
		return f.outcome(ev), nil
	}
	return &runtime.Outcome{Message: ev.Message, Original: ev.Message}, nil
}

// quiet returns settings with every stage off, so a test turns on only what
// it exercises.
func quiet() *Settings {
	s := DefaultSettings()
	s.Chat.Delay = Duration{}
	s.Chat.Similarity = 0
	s.Chat.LimitMax = 0
	s.Commands.Delay = Duration{}
	s.Commands.Similarity = 0
	s.Commands.LimitMax = 0
	return s
}

type testChecker struct {
	*Checker
	clock  *clock
	ledger *fakeLedger
	online []sender.Sender
}

func newTestChecker(settings *Settings, rules RuleEvaluator, online ...sender.Sender) *testChecker {
	tc := &testChecker{
		clock:  &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)},
		ledger: &fakeLedger{},
		online: online,
	}
	tc.Checker = NewChecker(Config{
		Settings: settings,
		Ledger:   tc.ledger,
		Rules:    rules,
		Host:     runtime.HostFunc(func() []sender.Sender { return tc.online }),
		Now:      tc.clock.Now,
	})
	return tc
}

func (tc *testChecker) chat(t *testing.T, s sender.Sender, message string) *Result {
	t.Helper()
	res, err := tc.Check(context.Background(), KindChat, s, message, "")
	require.NoError(t, err)
	return res
}

func (tc *testChecker) command(t *testing.T, s sender.Sender, message string) *Result {
	t.Helper()
	res, err := tc.Check(context.Background(), KindCommand, s, message, "")
	require.NoError(t, err)
	return res
}

func texts(effects []action.Effect, kind action.Kind) []string {
	var out []string
	for _, e := range action.Filter(effects, kind) {
		out = append(out, e.Text)
	}
	return out
}
