// chatguard/pkg/runtime/helpers_test.go

package runtime

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/require"

	"rgehrsitz/chatguard/pkg/action"
	"rgehrsitz/chatguard/pkg/rules"
	"rgehrsitz/chatguard/pkg/scripting"
	"rgehrsitz/chatguard/pkg/sender"
)

func loadSet(t testing.TB, files map[string]string) *rules.Set {
	t.Helper()
	fsys := fstest.MapFS{}
	for name, body := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(body)}
	}
	set, err := rules.LoadFS(fsys)
	require.NoError(t, err)
	return set
}

func player(name string, permissions ...string) *sender.Snapshot {
	return &sender.Snapshot{
		UniqueID:    name + "-id",
		Username:    name,
		WorldName:   "world",
		Mode:        "SURVIVAL",
		Permissions: permissions,
	}
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time {
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type grant struct {
	sender string
	set    string
	amount float64
}

type fakePoints struct {
	grants []grant
	fire   bool
	err    error
}

func (f *fakePoints) GrantPoints(_ context.Context, s sender.Sender, set string, amount float64) (bool, []action.Effect, error) {
	f.grants = append(f.grants, grant{sender: s.ID(), set: set, amount: amount})
	if f.err != nil {
		return false, nil, f.err
	}
	if !f.fire {
		return false, nil, nil
	}
	return true, []action.Effect{{Kind: action.KindConsoleCommand, Sender: s.ID(), Text: "warn " + s.Name()}}, nil
}

type testEngine struct {
	*Engine
	clock *clock
}

func newTestEngine(points PointGranter, opts Options, online ...sender.Sender) *testEngine {
	clk := &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	opts.Now = clk.Now
	if opts.Pick == nil {
		opts.Pick = func(int) int { return 0 }
	}
	host := HostFunc(func() []sender.Sender { return online })
	return &testEngine{
		Engine: NewEngine(scripting.NewSafeVM(0), points, host, NewState(), opts),
		clock:  clk,
	}
}

func chat(s sender.Sender, message string) Event {
	return Event{Category: rules.CategoryChat, Sender: s, Message: message}
}

func texts(effects []action.Effect, kind action.Kind) []string {
	var out []string
	for _, e := range action.Filter(effects, kind) {
		out = append(out, e.Text)
	}
	return out
}

func targets(effects []action.Effect, kind action.Kind) []string {
	var out []string
	for _, e := range action.Filter(effects, kind) {
		out = append(out, e.Target)
	}
	return out
}
