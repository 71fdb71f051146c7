// chatguard/tools/rule_gen/main.go

package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

// Rule is one generated pattern operator.
type Rule struct {
	Match      string
	Name       string
	Predicates []string
	Actions    []string
}

func (r Rule) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "match %s\n", r.Match)
	fmt.Fprintf(&b, "name %s\n", r.Name)
	for _, p := range r.Predicates {
		b.WriteString(p + "\n")
	}
	for _, a := range r.Actions {
		b.WriteString(a + "\n")
	}
	return b.String()
}

// Message is one generated broadcast group.
type Message struct {
	Name     string
	Messages []string
}

func (m Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "group %s\n", m.Name)
	b.WriteString("message:\n")
	for _, line := range m.Messages {
		b.WriteString("- " + line + "\n")
	}
	return b.String()
}

// Ruleset groups generated operators by the file they are written to.
type Ruleset struct {
	Rules    map[string][]Rule
	Messages map[string][]Message
}

var ruleCategories = []string{"chat", "command", "sign"}

var messageCategories = []string{"join", "quit", "timed"}

var worlds = []string{"world", "world_nether", "world_the_end", "lobby"}

var warningSets = []string{"spam", "swear", "ads"}

func parseFlags(args []string) (int, string) {
	flags := flag.NewFlagSet("rule_gen", flag.ExitOnError)
	numRules := flags.Int("rules", 1000, "Number of rules to generate")
	outputDir := flags.String("output", "generated_rules", "Output directory")
	flags.Parse(args)
	return *numRules, *outputDir
}

func words(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = regexp.QuoteMeta(strings.ToLower(gofakeit.Word()))
	}
	return out
}

func sentence(n int) string {
	return strings.Join(words(n), " ")
}

func generatePredicate(index, kind int) string {
	switch kind {
	case 0:
		return fmt.Sprintf("ignore perm chatguard.bypass.rule%d", index)
	case 1:
		return "require world " + gofakeit.RandomString(worlds)
	case 2:
		return "ignore gamemode creative"
	default:
		return fmt.Sprintf("require script player.name.length > %d", gofakeit.Number(1, 8))
	}
}

func generateAction() string {
	switch gofakeit.Number(0, 5) {
	case 0:
		return "then warn Please do not say that, {player}."
	case 1:
		return fmt.Sprintf("then points %s %d", gofakeit.RandomString(warningSets), gofakeit.Number(1, 5))
	case 2:
		return "then replace " + strings.Repeat("*", gofakeit.Number(3, 6))
	case 3:
		return "then console say {player} said " + sentence(2)
	case 4:
		return "then notify chatguard.notify {player} tripped {rule}"
	default:
		return fmt.Sprintf("then write logs/rule-%d.txt {player}: {message}", gofakeit.Number(1, 9))
	}
}

func generateMatch() string {
	return fmt.Sprintf(`\b(%s)\b`, strings.Join(words(gofakeit.Number(1, 4)), "|"))
}

func generateRule(index int) Rule {
	rule := Rule{
		Match: generateMatch(),
		Name:  fmt.Sprintf("rule-%d", index),
	}
	kinds := []int{0, 1, 2, 3}
	gofakeit.ShuffleInts(kinds)
	for _, kind := range kinds[:gofakeit.Number(0, 2)] {
		rule.Predicates = append(rule.Predicates, generatePredicate(index, kind))
	}
	for i := gofakeit.Number(1, 2); i > 0; i-- {
		rule.Actions = append(rule.Actions, generateAction())
	}
	if gofakeit.Bool() {
		rule.Actions = append(rule.Actions, "then deny")
	}
	return rule
}

func generateMessage(index int) Message {
	m := Message{Name: fmt.Sprintf("message-%d", index)}
	for i := gofakeit.Number(1, 3); i > 0; i-- {
		m.Messages = append(m.Messages, "{player} "+sentence(gofakeit.Number(2, 6)))
	}
	return m
}

// generateRuleset spreads numRules rules over the rule categories and adds
// one broadcast group per ten rules. Matches are unique per category.
func generateRuleset(numRules int) Ruleset {
	ruleset := Ruleset{Rules: make(map[string][]Rule), Messages: make(map[string][]Message)}
	seen := make(map[string]bool)
	for i := 0; i < numRules; i++ {
		category := ruleCategories[i%len(ruleCategories)]
		rule := generateRule(i + 1)
		for attempt := 0; seen[category+rule.Match]; attempt++ {
			rule.Match = generateMatch()
			if attempt > 10 {
				rule.Match = fmt.Sprintf(`\brule%d\b`, i+1)
			}
		}
		seen[category+rule.Match] = true
		ruleset.Rules[category] = append(ruleset.Rules[category], rule)
	}
	for i := 0; i < (numRules+9)/10; i++ {
		category := messageCategories[i%len(messageCategories)]
		ruleset.Messages[category] = append(ruleset.Messages[category], generateMessage(i+1))
	}
	return ruleset
}

// writeRuleset writes rules/<category>.rs and messages/<category>.rs under
// dir.
func writeRuleset(ruleset Ruleset, dir string) error {
	for category, list := range ruleset.Rules {
		blocks := make([]string, len(list))
		for i, r := range list {
			blocks[i] = r.String()
		}
		if err := writeFile(filepath.Join(dir, "rules", category+".rs"), blocks); err != nil {
			return err
		}
	}
	for category, list := range ruleset.Messages {
		blocks := make([]string, len(list))
		for i, m := range list {
			blocks[i] = m.String()
		}
		if err := writeFile(filepath.Join(dir, "messages", category+".rs"), blocks); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, blocks []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strings.Join(blocks, "\n")), 0o644)
}

func main() {
	numRules, outputDir := parseFlags(os.Args[1:])

	gofakeit.Seed(time.Now().UnixNano())

	ruleset := generateRuleset(numRules)
	if err := writeRuleset(ruleset, outputDir); err != nil {
		fmt.Printf("Error writing rules: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %d rules. Saved to %s\n", numRules, outputDir)
}
