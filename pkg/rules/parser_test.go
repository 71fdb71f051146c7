// chatguard/pkg/rules/parser_test.go

package rules

import (
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rgehrsitz/chatguard/pkg/logging"
)

func parseRules(t *testing.T, category Category, text string) (*Ruleset, error) {
	t.Helper()
	return ParseRules("rules/"+string(category)+".rs", category, strings.NewReader(text))
}

func TestLexSkipsCommentsAndBlankLines(t *testing.T) {
	statements, err := Lex(strings.NewReader("# comment\n\n   match  foo   bar \n\tthen   deny\n"))
	require.NoError(t, err)
	require.Len(t, statements, 2)

	assert.Equal(t, 3, statements[0].Line)
	assert.Equal(t, "match  foo   bar", statements[0].Text)
	assert.Equal(t, "foo   bar", statements[0].Rest(1))
	assert.Equal(t, "then deny", statements[1].Head(2))
}

func TestParseRules(t *testing.T) {
	rs, err := parseRules(t, CategoryChat, `
@import global
match (?<!\w)fo+\b
name foo
group swear
require perm chatguard.use You lack {permission}
ignore world lobby|hub
ignore world spawn
delay 5 seconds Slow down, {delay}s left
player delay 1 minute
then warn Do not say {matched_message}
then warn Second warning
then console say {player}|broadcast {player}
then notify chatguard.notify [foo] {player}: {message}
then title Hey|You|5|40|5
then points swear 2.5
then replace ***
then deny silently
dont log

match bar
then rewrite nope|no
then abort
`)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 2)
	assert.Equal(t, []Category{CategoryGlobal}, rs.Imports)

	foo := rs.Rules[0]
	assert.Equal(t, `(?<!\w)fo+\b`, foo.Match)
	assert.Equal(t, "foo", foo.Label)
	assert.Equal(t, "swear", foo.Group)
	assert.Equal(t, "chat/(?<!\\w)fo+\\b", foo.ID())

	matched, err := foo.Pattern.MatchString("FOOO")
	require.NoError(t, err)
	assert.True(t, matched, "patterns are case-insensitive")

	preds := foo.PredicatesIn(Require, ScopeSender)
	require.Len(t, preds, 1)
	assert.Equal(t, KindPermission, preds[0].Kind)
	assert.Equal(t, "You lack {permission}", preds[0].Message)

	ignores := foo.PredicatesIn(Ignore, ScopeSender)
	require.Len(t, ignores, 1)
	assert.Equal(t, []string{"lobby", "hub", "spawn"}, ignores[0].Values)

	require.NotNil(t, foo.Delay)
	assert.Equal(t, 5*time.Second, foo.Delay.Duration)
	assert.Equal(t, "Slow down, {delay}s left", foo.Delay.Message)
	require.NotNil(t, foo.PlayerDelay)
	assert.Equal(t, time.Minute, foo.PlayerDelay.Duration)
	assert.Empty(t, foo.PlayerDelay.Message)

	require.Len(t, foo.Actions.Warns, 2)
	assert.NotEqual(t, foo.Actions.Warns[0].ID, foo.Actions.Warns[1].ID)
	assert.Equal(t, []string{"say {player}|broadcast {player}"}, foo.Actions.ConsoleCommands)
	assert.Equal(t, []Notify{{Permission: "chatguard.notify", Message: "[foo] {player}: {message}"}}, foo.Actions.Notifies)
	assert.Equal(t, &Title{Title: "Hey", Subtitle: "You", FadeIn: 5, Stay: 40, FadeOut: 5}, foo.Actions.Title)
	assert.Equal(t, []PointGrant{{Set: "swear", Formula: "2.5"}}, foo.Actions.Points)
	assert.Equal(t, []string{"***"}, foo.Replacements)
	assert.True(t, foo.DenySilently)
	assert.False(t, foo.Deny)
	assert.True(t, foo.IgnoreLogging)

	bar := rs.Rules[1]
	assert.Equal(t, []string{"nope", "no"}, bar.Rewrites)
	assert.True(t, bar.Abort)
}

func TestParseRulesErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		message string
	}{
		{
			name:    "Unrecognized statement",
			input:   "match foo\nthen dance",
			message: "Unrecognized operator 'then dance' found in Rule 'foo' (rules/chat.rs:1)",
		},
		{
			name:    "Duplicate single-use action",
			input:   "match foo\nthen kick bye\nthen kick again",
			message: "'then kick' already set",
		},
		{
			name:    "Duplicate flag",
			input:   "match foo\nthen abort\nthen abort",
			message: "then abort already used",
		},
		{
			name:    "Duplicate scalar predicate",
			input:   "match foo\nrequire perm a\nrequire perm b",
			message: "already set",
		},
		{
			name:    "Duplicate ignore string",
			input:   "match foo\nignore string bar\nignore string bar",
			message: "already set",
		},
		{
			name:    "Statement before match",
			input:   "then deny\nmatch foo",
			message: "found before the first 'match'",
		},
		{
			name:    "Invalid pattern",
			input:   "match (foo",
			message: "invalid pattern",
		},
		{
			name:    "Duplicate match",
			input:   "match foo\nmatch foo",
			message: "already exists",
		},
		{
			name:    "Ignore type outside global",
			input:   "match foo\nignore type chat",
			message: "only use 'ignore type' for global rules",
		},
		{
			name:    "Bad delay",
			input:   "match foo\ndelay soon",
			message: "Syntax error in 'delay' operator",
		},
		{
			name:    "Unknown import",
			input:   "@import nowhere",
			message: "unknown category",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseRules(t, CategoryChat, tt.input)
			require.Error(t, err)
			assert.True(t, logging.IsType(err, logging.ErrorTypeParse))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestParseRulesErrorFields(t *testing.T) {
	_, err := parseRules(t, CategoryChat, "match foo\n\nthen dance")
	require.Error(t, err)

	guardErr, ok := err.(*logging.GuardError)
	require.True(t, ok)
	assert.Equal(t, "rules/chat.rs", guardErr.Fields["file"])
	assert.Equal(t, 3, guardErr.Fields["line"])
	assert.Equal(t, "Rule 'foo' (rules/chat.rs:1)", guardErr.Fields["operator"])
}

func TestParseGlobalIgnoreCategories(t *testing.T) {
	rs, err := parseRules(t, CategoryGlobal, "match foo\nignore events sign|book\nstrip colors false\nstrip accents")
	require.NoError(t, err)

	rule := rs.Rules[0]
	assert.True(t, rule.Ignores(CategorySign))
	assert.True(t, rule.Ignores(CategoryBook))
	assert.False(t, rule.Ignores(CategoryChat))
	require.NotNil(t, rule.StripColors)
	assert.False(t, *rule.StripColors)
	require.NotNil(t, rule.StripAccents)
	assert.True(t, *rule.StripAccents)
}

func TestParseChannelsAndBeforeReplace(t *testing.T) {
	rs, err := parseRules(t, CategoryChat, "match foo\nrequire channel global read|staff\nrequire channel trade\nbefore replace \\s+ with\nbefore replace 0 with o")
	require.NoError(t, err)

	rule := rs.Rules[0]
	preds := rule.PredicatesIn(Require, ScopeSender)
	require.Len(t, preds, 1)
	assert.Equal(t, map[string]string{"global": "read", "staff": "", "trade": ""}, preds[0].Channels)

	require.Len(t, rule.BeforeReplace, 2)
	assert.Equal(t, "o", rule.BeforeReplace[1].With)
}

func TestParseGroups(t *testing.T) {
	groups, err := ParseGroups("rules/groups.rs", strings.NewReader(`
group advertisement
ignore perm chatguard.bypass.ad
ignore command /brush|/auction
ignore command //*
then warn Please do not advertise.
then deny

group swear
then replace @prolong *
`))
	require.NoError(t, err)
	require.Len(t, groups, 2)

	ad := groups["advertisement"]
	require.NotNil(t, ad)
	assert.True(t, ad.Deny)
	ignores := ad.PredicatesIn(Ignore, ScopeSender)
	require.Len(t, ignores, 2)
	assert.Equal(t, KindPermission, ignores[0].Kind)
	assert.Equal(t, []string{"/brush", "/auction", "//*"}, ignores[1].Values)

	assert.Equal(t, []string{"@prolong *"}, groups["swear"].Replacements)
}

func TestParseMessages(t *testing.T) {
	messages, err := ParseMessages("messages/join.rs", CategoryJoin, strings.NewReader(`
group vip
require sender perm chatguard.vip
ignore receiver world hidden
ignore self
prefix <gold>[VIP]
prefix <gold>----
suffix !
random
then foreach console give {receiver} cookie
messages:
- "Welcome {player}"
- Hello {player}
  and welcome back
then log {player} joined

group default
message:
- {player} joined
`))
	require.NoError(t, err)
	require.Len(t, messages, 2)

	vip := messages[0]
	assert.Equal(t, "vip", vip.Name)
	assert.Equal(t, []string{"Welcome {player}", "Hello {player}\nand welcome back"}, vip.Messages)
	assert.Equal(t, "<gold>[VIP]\n<gold>----", vip.Prefix)
	assert.Equal(t, "!", vip.Suffix)
	assert.True(t, vip.Random)
	// Common statements still apply inside an open message list.
	assert.Equal(t, []string{"{player} joined"}, vip.Actions.Logs)

	require.Len(t, vip.PredicatesIn(Require, ScopeSender), 1)
	receiverIgnores := vip.PredicatesIn(Ignore, ScopeReceiver)
	require.Len(t, receiverIgnores, 1)
	assert.Equal(t, KindWorld, receiverIgnores[0].Kind)
	selfIgnores := vip.PredicatesIn(Ignore, ScopeSender)
	require.Len(t, selfIgnores, 1)
	assert.Equal(t, KindSelf, selfIgnores[0].Kind)

	assert.Equal(t, []string{"give {receiver} cookie"}, vip.ForeachConsole)
	assert.Equal(t, []string{"{player} joined"}, messages[1].Messages)
}

func TestParseMessagesListCapturesLines(t *testing.T) {
	messages, err := ParseMessages("messages/quit.rs", CategoryQuit, strings.NewReader("group a\nmessages:\n- one\nrandom\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"one\nrandom"}, messages[0].Messages)
	assert.False(t, messages[0].Random)
}

func TestParseDeathMessages(t *testing.T) {
	messages, err := ParseMessages("messages/death.rs", CategoryDeath, strings.NewReader(`
group playerArrow
require projectile arrow
require killer player
require killer item bow|crossbow
ignore npc
message:
- {player} was shot by {killer}
`))
	require.NoError(t, err)
	require.Len(t, messages, 1)

	requires := messages[0].PredicatesIn(Require, ScopeSender)
	require.Len(t, requires, 3)
	assert.Equal(t, "projectile", requires[0].Key)
	assert.Equal(t, "killer", requires[1].Key)
	assert.Equal(t, "killer_item", requires[2].Key)
	assert.Equal(t, []string{"bow", "crossbow"}, requires[2].Values)

	ignores := messages[0].PredicatesIn(Ignore, ScopeSender)
	require.Len(t, ignores, 1)
	assert.Equal(t, "npc", ignores[0].Key)

	_, err = ParseMessages("messages/join.rs", CategoryJoin, strings.NewReader("group a\nrequire cause fall"))
	assert.Error(t, err, "death statements are only valid in death messages")
}

func TestLoadFS(t *testing.T) {
	fsys := fstest.MapFS{
		"rules/global.rs":   {Data: []byte("match badword\ngroup swear\n")},
		"rules/chat.rs":     {Data: []byte("@import global\nmatch hello\nthen warn hi\n")},
		"rules/groups.rs":   {Data: []byte("group swear\nthen deny\n")},
		"messages/join.rs":  {Data: []byte("group default\nmessage:\n- hi {player}\n")},
		"messages/timed.rs": {Data: []byte("group tips\nmessages:\n- tip one\n- tip two\n")},
	}

	set, err := LoadFS(fsys)
	require.NoError(t, err)

	rules := set.RulesFor(CategoryChat)
	require.Len(t, rules, 2)
	assert.Equal(t, "badword", rules[0].Match, "imported rules come first")
	assert.Equal(t, "hello", rules[1].Match)
	assert.Nil(t, set.RulesFor(CategoryCommand))

	assert.Contains(t, set.Groups, "swear")
	assert.Len(t, set.Messages[CategoryTimed][0].Messages, 2)
	assert.True(t, set.HasMessage(CategoryJoin, "default"))
	assert.False(t, set.HasMessage(CategoryJoin, "missing"))
	assert.False(t, set.LoadedAt.IsZero())
}

func TestLoadFSDanglingGroup(t *testing.T) {
	fsys := fstest.MapFS{
		"rules/chat.rs": {Data: []byte("match hello\ngroup missing\n")},
	}

	_, err := LoadFS(fsys)
	require.Error(t, err)
	assert.True(t, logging.IsType(err, logging.ErrorTypeParse))
	assert.Contains(t, err.Error(), "non-existing group")
}

func TestFindRule(t *testing.T) {
	set, err := LoadFS(fstest.MapFS{"rules/chat.rs": {Data: []byte("match a\nname First\nmatch b\n")}})
	require.NoError(t, err)

	require.NotNil(t, set.FindRule("first"))
	assert.Nil(t, set.FindRule("second"))
}
