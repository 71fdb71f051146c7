// chatguard/pkg/warnings/ledger_test.go

package warnings

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rgehrsitz/chatguard/pkg/action"
	"rgehrsitz/chatguard/pkg/logging"
	"rgehrsitz/chatguard/pkg/scripting"
	"rgehrsitz/chatguard/pkg/sender"
	"rgehrsitz/chatguard/pkg/store"
	"rgehrsitz/chatguard/pkg/timeutil"
)

const settings = `
enabled: true
sets:
  spam:
    5: ["warn A {player} has {points}"]
    10: ["B {player}"]
    20: ["proxyconsole lobby C {player}", "bungeeconsole D"]
  swear:
    1: ["kick {player}"]
reset_task:
  period: 5 minutes
  remove:
    spam: 4
`

func setupLedger(t *testing.T, document string) (*miniredis.Miniredis, *store.RedisStore, *Ledger) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	points := store.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: s.Addr()}))
	cfg, err := ParseConfig([]byte(document))
	require.NoError(t, err)

	ledger, err := NewLedger(cfg, points, scripting.NewSafeVM(scripting.DefaultTimeout))
	require.NoError(t, err)
	return s, points, ledger
}

func player(id string, permissions ...string) *sender.Snapshot {
	return &sender.Snapshot{UniqueID: id, Username: id, From: sender.OriginPlayer, Permissions: permissions}
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(settings))
	require.NoError(t, err)

	assert.True(t, cfg.Enabled)
	assert.Len(t, cfg.Sets, 2)
	period, err := cfg.ResetTask.Interval()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, period)

	sets := buildSets(cfg)
	require.Len(t, sets["spam"].Actions, 3)
	assert.Equal(t, int64(5), sets["spam"].Actions[0].Trigger)
	assert.Equal(t, int64(20), sets["spam"].Actions[2].Trigger)
}

func TestParseConfigErrors(t *testing.T) {
	_, err := ParseConfig([]byte("reset_task:\n  period: forever\n"))
	require.Error(t, err)
	assert.True(t, logging.IsType(err, logging.ErrorTypeConfig))

	_, err = ParseConfig([]byte("sets: [1, 2"))
	require.Error(t, err)
}

func TestDefaultsToEnabled(t *testing.T) {
	cfg, err := ParseConfig([]byte("sets: {}"))
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
}

func TestGrantPointsEscalation(t *testing.T) {
	_, points, ledger := setupLedger(t, settings)
	ctx := context.Background()
	steve := player("steve")

	tests := []struct {
		name     string
		amount   float64
		fired    bool
		expected string
		total    int64
	}{
		{"0 to 7 fires the first action", 7, true, "A steve has 7", 7},
		{"7 to 12 fires the second action", 5, true, "B steve", 12},
		{"No change fires nothing", 0, false, "", 12},
		{"12 to 25 fires only the last action", 13, true, "C steve", 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fired, effects, err := ledger.GrantPoints(ctx, steve, "spam", tt.amount)
			require.NoError(t, err)
			assert.Equal(t, tt.fired, fired)

			if tt.fired {
				require.NotEmpty(t, effects)
				assert.Equal(t, tt.expected, effects[0].Text)
			} else {
				assert.Empty(t, effects)
			}

			total, err := points.GetPoints(ctx, "steve", "spam")
			require.NoError(t, err)
			assert.Equal(t, tt.total, total)
		})
	}
}

func TestGrantPointsEffectKinds(t *testing.T) {
	_, _, ledger := setupLedger(t, settings)
	ctx := context.Background()

	fired, effects, err := ledger.GrantPoints(ctx, player("alex"), "spam", 5)
	require.NoError(t, err)
	require.True(t, fired)
	require.Len(t, effects, 1)
	assert.Equal(t, action.KindTell, effects[0].Kind)
	assert.Equal(t, "alex", effects[0].Target)
	assert.Equal(t, timeutil.Tick, effects[0].Delay)

	_, effects, err = ledger.GrantPoints(ctx, player("alex"), "spam", 5)
	require.NoError(t, err)
	require.Len(t, effects, 1)
	assert.Equal(t, action.KindConsoleCommand, effects[0].Kind)

	_, effects, err = ledger.GrantPoints(ctx, player("alex"), "spam", 10)
	require.NoError(t, err)
	require.Len(t, effects, 2)
	assert.Equal(t, action.Effect{Kind: action.KindProxyCommand, Sender: "alex", Target: "lobby", Text: "C alex"}, effects[0])
	assert.Equal(t, action.Effect{Kind: action.KindProxyCommand, Sender: "alex", Target: "proxy", Text: "D"}, effects[1])
}

func TestGrantPointsIgnored(t *testing.T) {
	tests := []struct {
		name     string
		document string
		sender   sender.Sender
		amount   float64
	}{
		{"Bypass permission", settings, player("vip", BypassPermission), 50},
		{"Amount below one", settings, player("steve"), 0.6},
		{"Ledger disabled", "enabled: false\nsets:\n  spam:\n    1: [\"x\"]\n", player("steve"), 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, ledger := setupLedger(t, tt.document)

			fired, effects, err := ledger.GrantPoints(context.Background(), tt.sender, "spam", tt.amount)
			assert.NoError(t, err)
			assert.False(t, fired)
			assert.Empty(t, effects)
			assert.Empty(t, s.Keys())
		})
	}
}

func TestGrantPointsUnknownSet(t *testing.T) {
	_, _, ledger := setupLedger(t, settings)

	_, _, err := ledger.GrantPoints(context.Background(), player("steve"), "nope", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-existing warn set 'nope'")
}

func TestGrantPointsRounds(t *testing.T) {
	_, points, ledger := setupLedger(t, settings)
	ctx := context.Background()

	_, _, err := ledger.GrantPoints(ctx, player("steve"), "spam", 2.5)
	require.NoError(t, err)

	total, err := points.GetPoints(ctx, "steve", "spam")
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestTrigger(t *testing.T) {
	_, _, ledger := setupLedger(t, settings)
	ctx := context.Background()
	steve := player("steve")
	trigger := Trigger{Set: "spam", Formula: "{delay} * 2"}

	verdict, err := ledger.Trigger(ctx, steve, trigger, "Slow down", map[string]string{"delay": "1"})
	require.NoError(t, err)
	assert.Equal(t, Verdict{Cancel: true, Message: "Slow down"}, verdict, "two points stay below every trigger")

	verdict, err = ledger.Trigger(ctx, steve, trigger, "Slow down", map[string]string{"{delay}": "2"})
	require.NoError(t, err)
	assert.True(t, verdict.Cancel)
	assert.True(t, verdict.Fired)
	assert.Empty(t, verdict.Message)
	assert.NotEmpty(t, verdict.Effects)
}

func TestTriggerFallbacks(t *testing.T) {
	_, _, ledger := setupLedger(t, settings)
	ctx := context.Background()

	verdict, err := ledger.Trigger(ctx, sender.Console, Trigger{Set: "spam", Formula: "50"}, "warn", nil)
	require.NoError(t, err)
	assert.Equal(t, Verdict{Cancel: true, Message: "warn"}, verdict, "console never collects points")

	verdict, err = ledger.Trigger(ctx, player("steve"), Trigger{}, "warn", nil)
	require.NoError(t, err)
	assert.Equal(t, Verdict{Cancel: true, Message: "warn"}, verdict)

	_, err = ledger.Trigger(ctx, player("steve"), Trigger{Set: "spam", Formula: "{unknown} + 1"}, "warn", nil)
	assert.Error(t, err)
}

func TestTriggerCalculationError(t *testing.T) {
	_, points, ledger := setupLedger(t, settings)
	ctx := context.Background()

	for _, formula := range []string{"1 +* 2", "'many'", "{delay} / 0"} {
		verdict, err := ledger.Trigger(ctx, player("steve"), Trigger{Set: "spam", Formula: formula}, "Slow down",
			map[string]string{"delay": "3"})
		require.NoError(t, err, formula)
		assert.Equal(t, Verdict{}, verdict, "%s lets the message through without a warning", formula)
	}

	total, err := points.GetPoints(ctx, "steve", "spam")
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestDecay(t *testing.T) {
	_, points, ledger := setupLedger(t, settings)
	ctx := context.Background()

	_, err := points.AddPoints(ctx, "steve", "spam", 10)
	require.NoError(t, err)
	_, err = points.AddPoints(ctx, "steve", "swear", 3)
	require.NoError(t, err)
	_, err = points.AddPoints(ctx, "alex", "spam", 3)
	require.NoError(t, err)

	online := []sender.Sender{player("steve"), player("alex")}
	require.NoError(t, ledger.Decay(ctx, online))

	total, _ := points.GetPoints(ctx, "steve", "spam")
	assert.Equal(t, int64(6), total)
	total, _ = points.GetPoints(ctx, "steve", "swear")
	assert.Equal(t, int64(3), total, "sets without a reset amount are untouched")
	total, _ = points.GetPoints(ctx, "alex", "spam")
	assert.Equal(t, int64(0), total, "decay is floored at zero")
}

func TestRunDecayStopsWithContext(t *testing.T) {
	_, points, ledger := setupLedger(t, settings)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := points.AddPoints(context.Background(), "steve", "spam", 9)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		ledger.RunDecay(ctx, 10*time.Millisecond, func() []sender.Sender { return []sender.Sender{player("steve")} })
		close(done)
	}()

	assert.Eventually(t, func() bool {
		total, _ := points.GetPoints(context.Background(), "steve", "spam")
		return total < 9
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunDecay did not stop")
	}
}
