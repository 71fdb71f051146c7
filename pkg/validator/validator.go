// chatguard/pkg/validator/validator.go

// Package validator lints a loaded rule set for authoring mistakes the parser
// accepts: operators that do nothing, rules that can never run and groups or
// imports that are never used.
package validator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"rgehrsitz/chatguard/pkg/logging"
	"rgehrsitz/chatguard/pkg/rules"
)

type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue is one finding, located at the operator's declaration.
type Issue struct {
	Severity Severity
	Operator string
	File     string
	Line     int
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s:%d: %s: %s (%s)", i.File, i.Line, i.Severity, i.Message, i.Operator)
}

func issue(severity Severity, op *rules.Operator, format string, args ...interface{}) Issue {
	return Issue{Severity: severity, Operator: op.ID(), File: op.File, Line: op.Line, Message: fmt.Sprintf(format, args...)}
}

// ValidateRule returns an error when a rule cannot have any effect.
func ValidateRule(rule *rules.Rule) error {
	if rule.Pattern == nil {
		return fmt.Errorf("rule must have a match expression")
	}
	if !hasEffect(&rule.Operator, &rule.Rewrite) && rule.Group == "" {
		return fmt.Errorf("rule has no actions, rewrites or group")
	}
	return nil
}

// Validate lints set as of now. Issues are sorted by file and line.
func Validate(set *rules.Set, now time.Time) []Issue {
	var issues []Issue
	used := make(map[string]bool)

	for _, category := range rules.RuleCategories {
		rs, ok := set.Rulesets[category]
		if !ok {
			continue
		}
		for _, imported := range rs.Imports {
			if _, ok := set.Rulesets[imported]; !ok {
				issues = append(issues, Issue{
					Severity: SeverityWarning,
					Operator: string(category),
					File:     "rules/" + string(category) + ".rs",
					Message:  fmt.Sprintf("imports %s, which has no rule file", imported),
				})
			}
		}

		for _, rule := range rs.Rules {
			if rule.Group != "" {
				used[rule.Group] = true
			}
			if err := ValidateRule(rule); err != nil {
				issues = append(issues, issue(SeverityWarning, &rule.Operator, "%v", err))
			}
			issues = append(issues, schedule(&rule.Operator, now)...)
		}
		issues = append(issues, unreachable(set, rs)...)
	}

	for name, group := range set.Groups {
		if !used[name] {
			issues = append(issues, issue(SeverityWarning, &group.Operator, "group is never referenced"))
		}
	}

	for _, category := range rules.MessageCategories {
		for _, m := range set.Messages[category] {
			if len(m.Messages) == 0 && !m.Abort {
				issues = append(issues, issue(SeverityWarning, &m.Operator, "message group has no messages"))
			}
			issues = append(issues, schedule(&m.Operator, now)...)
		}
	}

	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].File != issues[j].File {
			return issues[i].File < issues[j].File
		}
		return issues[i].Line < issues[j].Line
	})
	return issues
}

// Log writes issues at warn level and returns the number of errors.
func Log(issues []Issue) int {
	errors := 0
	for _, i := range issues {
		if i.Severity == SeverityError {
			errors++
		}
		logging.Logger.Warn().
			Str("severity", string(i.Severity)).
			Str("operator", i.Operator).
			Str("file", i.File).
			Int("line", i.Line).
			Msg(i.Message)
	}
	return errors
}

func schedule(op *rules.Operator, now time.Time) []Issue {
	var issues []Issue
	if !op.Begins.IsZero() && !op.Expires.IsZero() && !op.Begins.Before(op.Expires) {
		issues = append(issues, issue(SeverityError, op, "begins at or after it expires"))
	} else if !op.Expires.IsZero() && op.Expires.Before(now) {
		issues = append(issues, issue(SeverityWarning, op, "expired on %s", op.Expires.Format(time.RFC3339)))
	}
	return issues
}

// unreachable reports rules of rs shadowed by an imported rule with the
// same match that always stops evaluation. Imported rules run first.
func unreachable(set *rules.Set, rs *rules.Ruleset) []Issue {
	stoppers := make(map[string]*rules.Rule)
	for _, imported := range rs.Imports {
		other, ok := set.Rulesets[imported]
		if !ok {
			continue
		}
		for _, rule := range other.Rules {
			if _, ok := stoppers[rule.Match]; !ok && stops(rule) {
				stoppers[rule.Match] = rule
			}
		}
	}

	var issues []Issue
	for _, rule := range rs.Rules {
		if earlier, ok := stoppers[rule.Match]; ok && !rule.Disabled {
			issues = append(issues, issue(SeverityError, &rule.Operator,
				"unreachable: %s:%d has the same match and stops evaluation", earlier.File, earlier.Line))
		}
	}
	return issues
}

// stops reports whether a rule ends evaluation for every message it matches.
func stops(rule *rules.Rule) bool {
	if rule.Disabled || len(rule.Predicates) > 0 || rule.Delay != nil || rule.PlayerDelay != nil || rule.Group != "" {
		return false
	}
	if !rule.Begins.IsZero() || !rule.Expires.IsZero() {
		return false
	}
	return rule.Abort || rule.Deny
}

func hasEffect(op *rules.Operator, rw *rules.Rewrite) bool {
	if op.Abort || op.Deny || op.DenySilently || op.IgnoreLogging || op.IgnoreSpying || op.Spy {
		return true
	}
	if len(rw.BeforeReplace) > 0 || len(rw.Replacements) > 0 || len(rw.Rewrites) > 0 || len(rw.WorldRewrites) > 0 {
		return true
	}
	a := &op.Actions
	counts := []int{
		len(a.PlayerCommands), len(a.ConsoleCommands), len(a.ProxyCommands), len(a.Logs),
		len(a.Notifies), len(a.Discords), len(a.Writes), len(a.Warns), len(a.Points),
		len(a.Sounds), len(a.SaveData), len(strings.TrimSpace(a.Book)), len(a.ActionBar),
	}
	for _, n := range counts {
		if n > 0 {
			return true
		}
	}
	return a.Kick != nil || a.HasFine || a.Toast != nil || a.Title != nil || a.BossBar != nil
}
