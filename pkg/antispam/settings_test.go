// chatguard/pkg/antispam/settings_test.go

package antispam

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rgehrsitz/chatguard/pkg/logging"
)

const document = `
chat:
  delay: 2 seconds
  similarity: 75%
  similarity_past_messages: 3
  whitelist_delay: ["^gg$"]
  channel_delays:
    trade: 30 seconds
  parrot: true
  parrot_similarity: 0.95
commands:
  delay: 500ms
  similarity_min_args: 2
  whitelist_similarity: ["/home"]
anti_caps:
  enabled: true
  min_caps_percentage: "60%"
  whitelist: ["LOL", "NASA"]
anti_bot:
  block_chat_until_moved: true
  join_flood:
    enabled: true
    threshold: 5 seconds
    min_players: 3
    commands: ["kick {player}"]
grammar:
  insert_dot_min_length: 4
triggers:
  chat_delay:
    set: spam
    formula: "{remaining_time}"
messages:
  parrot: "No parroting, {player}."
warning_points:
  enabled: true
`

func TestParseSettings(t *testing.T) {
	s, err := ParseSettings([]byte(document))
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, s.Chat.Delay.Duration)
	assert.Equal(t, "2 seconds", s.Chat.Delay.String())
	assert.InDelta(t, 0.75, float64(s.Chat.Similarity), 1e-9)
	assert.Equal(t, 3, s.Chat.SimilarityPast)
	assert.True(t, s.Chat.WhitelistDelay.Matches("gg"))
	assert.False(t, s.Chat.WhitelistDelay.Matches("ggez"))
	assert.Equal(t, 30*time.Second, s.Chat.ChannelDelays["trade"].Duration)
	assert.True(t, s.Chat.Parrot)
	assert.InDelta(t, 0.95, float64(s.Chat.ParrotSimilarity), 1e-9)

	assert.Equal(t, 500*time.Millisecond, s.Commands.Delay.Duration)
	assert.Equal(t, 2, s.Commands.SimilarityMinArgs)
	assert.True(t, s.Commands.WhitelistSimilarity.Contains("/HOME"))

	assert.True(t, s.AntiCaps.Enabled)
	assert.InDelta(t, 0.6, float64(s.AntiCaps.MinCapsPercentage), 1e-9)
	assert.True(t, s.AntiCaps.Whitelist.Contains("lol"))

	assert.True(t, s.AntiBot.BlockChatUntilMoved)
	assert.Equal(t, 3, s.AntiBot.JoinFlood.MinPlayers)
	assert.Equal(t, "5 seconds", s.AntiBot.JoinFlood.Threshold.String())

	assert.Equal(t, 4, s.Grammar.InsertDotMinLength)
	assert.Equal(t, "spam", s.Triggers.ChatDelay.Set)
	assert.Equal(t, "No parroting, {player}.", s.Messages.Parrot)

	// Unset keys keep their defaults.
	assert.Equal(t, 5, s.Chat.LimitMax)
	assert.Equal(t, DefaultSettings().Messages.DelayChat, s.Messages.DelayChat)
	assert.Equal(t, 30*time.Minute, s.Window())
}

func TestParseSettingsErrors(t *testing.T) {
	tests := []struct {
		name     string
		document string
	}{
		{"BadDuration", "chat:\n  delay: soon\n"},
		{"BadPercentage", "chat:\n  similarity: lots\n"},
		{"PercentageOutOfRange", "chat:\n  similarity: 150%\n"},
		{"BadWhitelist", "anti_caps:\n  whitelist: [\"(unclosed\"]\n"},
		{"NegativeLimit", "chat:\n  limit_max: -1\n"},
		{"TinyFlood", "anti_bot:\n  join_flood:\n    enabled: true\n    min_players: 1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSettings([]byte(tt.document))
			require.Error(t, err)
			assert.True(t, logging.IsType(err, logging.ErrorTypeConfig))
		})
	}
}

func TestLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yml")
	require.NoError(t, os.WriteFile(path, []byte(document), 0o644))

	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.True(t, s.Chat.Parrot)

	_, err = LoadSettings(filepath.Join(t.TempDir(), "missing.yml"))
	assert.True(t, logging.IsType(err, logging.ErrorTypeConfig))
}
