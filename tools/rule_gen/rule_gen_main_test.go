// chatguard/tools/rule_gen/rule_gen_main_test.go

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rgehrsitz/chatguard/pkg/rules"
)

func TestParseFlags(t *testing.T) {
	numRules, outputDir := parseFlags([]string{})
	assert.Equal(t, 1000, numRules)
	assert.Equal(t, "generated_rules", outputDir)

	numRules, outputDir = parseFlags([]string{"-rules", "500", "-output", "custom_rules"})
	assert.Equal(t, 500, numRules)
	assert.Equal(t, "custom_rules", outputDir)
}

func TestGenerateRuleset(t *testing.T) {
	ruleset := generateRuleset(30)

	total := 0
	for category, list := range ruleset.Rules {
		assert.Contains(t, ruleCategories, category)
		matches := make(map[string]bool)
		for _, rule := range list {
			assert.False(t, matches[rule.Match], "duplicate match %s in %s", rule.Match, category)
			matches[rule.Match] = true
		}
		total += len(list)
	}
	assert.Equal(t, 30, total)

	groups := 0
	for _, list := range ruleset.Messages {
		groups += len(list)
	}
	assert.Equal(t, 3, groups)
}

func TestGenerateRule(t *testing.T) {
	rule := generateRule(1)

	assert.Equal(t, "rule-1", rule.Name)
	assert.True(t, strings.HasPrefix(rule.Match, `\b(`))
	assert.NotEmpty(t, rule.Actions)
	assert.LessOrEqual(t, len(rule.Predicates), 2)

	text := rule.String()
	assert.True(t, strings.HasPrefix(text, "match "+rule.Match+"\nname rule-1\n"))
}

func TestGenerateMessage(t *testing.T) {
	m := generateMessage(4)

	assert.Equal(t, "message-4", m.Name)
	assert.NotEmpty(t, m.Messages)
	assert.True(t, strings.HasPrefix(m.String(), "group message-4\nmessage:\n- {player} "))
}

func TestWrittenRulesetLoads(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeRuleset(generateRuleset(60), dir))

	for _, category := range ruleCategories {
		_, err := os.Stat(filepath.Join(dir, "rules", category+".rs"))
		assert.NoError(t, err, category)
	}

	set, err := rules.Load(dir)
	require.NoError(t, err)

	total := 0
	for _, rs := range set.Rulesets {
		total += len(rs.Rules)
	}
	assert.Equal(t, 60, total)
	assert.Len(t, set.Messages[rules.CategoryJoin], 2)
	assert.NotNil(t, set.FindRule("rule-1"))
}
