// chatguard/pkg/rules/parser.go

package rules

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/google/uuid"

	"rgehrsitz/chatguard/pkg/logging"
	"rgehrsitz/chatguard/pkg/textutil"
	"rgehrsitz/chatguard/pkg/timeutil"
)

// MatchTimeout bounds a single regex evaluation of a user pattern.
const MatchTimeout = 250 * time.Millisecond

// CompilePattern compiles a rule file regex. Patterns are case-insensitive.
func CompilePattern(expr string) (*regexp2.Regexp, error) {
	re, err := regexp2.Compile(expr, regexp2.IgnoreCase)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = MatchTimeout
	return re, nil
}

// Location is used to resolve begins and expires dates.
var Location = time.Local

type parser struct {
	file     string
	category Category
}

func (p *parser) errorf(st Statement, operator fmt.Stringer, format string, args ...interface{}) error {
	fields := map[string]interface{}{
		"file": p.file,
		"line": st.Line,
	}
	if operator != nil {
		fields["operator"] = operator.String()
	}
	return logging.NewError(logging.ErrorTypeParse, fmt.Sprintf(format, args...), nil, fields)
}

func (p *parser) unrecognized(st Statement, operator fmt.Stringer) error {
	return p.errorf(st, operator, "Unrecognized operator '%s' found in %s", st.Text, operator)
}

// ParseRules reads a rules/<category>.rs file.
func ParseRules(file string, category Category, r io.Reader) (*Ruleset, error) {
	statements, err := Lex(r)
	if err != nil {
		return nil, logging.NewError(logging.ErrorTypeParse, "failed to read rule file", err, map[string]interface{}{"file": file})
	}

	p := &parser{file: file, category: category}
	rs := &Ruleset{Category: category}
	seen := make(map[string]bool)

	var current *Rule
	for _, st := range statements {
		switch {
		case strings.HasPrefix(st.Text, "@import"):
			if current != nil {
				return nil, p.errorf(st, current, "@import must come before the first rule")
			}
			imported, err := ParseCategory(strings.TrimSpace(st.Rest(1)))
			if err != nil {
				return nil, p.errorf(st, nil, "@import refers to an unknown category: %v", err)
			}
			if imported == category {
				return nil, p.errorf(st, nil, "@import of %s in its own file", category)
			}
			rs.Imports = append(rs.Imports, imported)

		case st.Head(1) == "match":
			rule, err := p.newRule(st)
			if err != nil {
				return nil, err
			}
			if seen[rule.Match] {
				return nil, p.errorf(st, rule, "Rule type %s with match '%s' already exists", category, rule.Match)
			}
			seen[rule.Match] = true
			rs.Rules = append(rs.Rules, rule)
			current = rule

		default:
			if current == nil {
				return nil, p.errorf(st, nil, "statement '%s' found before the first 'match'", st.Text)
			}
			if err := p.parseRuleStatement(current, st); err != nil {
				return nil, err
			}
		}
	}

	logging.Logger.Debug().Str("file", file).Int("rules", len(rs.Rules)).Msg("Parsed rule file")
	return rs, nil
}

// ParseGroups reads rules/groups.rs.
func ParseGroups(file string, r io.Reader) (map[string]*Group, error) {
	statements, err := Lex(r)
	if err != nil {
		return nil, logging.NewError(logging.ErrorTypeParse, "failed to read group file", err, map[string]interface{}{"file": file})
	}

	p := &parser{file: file, category: CategoryGroups}
	groups := make(map[string]*Group)

	var current *Group
	for _, st := range statements {
		if st.Head(1) == "group" {
			name := st.Rest(1)
			if name == "" {
				return nil, p.errorf(st, nil, "group without a name")
			}
			if _, exists := groups[name]; exists {
				return nil, p.errorf(st, nil, "group '%s' is already defined", name)
			}
			current = &Group{Operator: Operator{Category: CategoryGroups, Name: name, File: file, Line: st.Line, kind: "Group"}}
			groups[name] = current
			continue
		}
		if current == nil {
			return nil, p.errorf(st, nil, "statement '%s' found before the first 'group'", st.Text)
		}

		handled, err := p.parseCommon(&current.Operator, st)
		if err != nil {
			return nil, err
		}
		if handled {
			continue
		}
		handled, err = p.parseRewrite(&current.Operator, &current.Rewrite, st)
		if err != nil {
			return nil, err
		}
		if !handled {
			return nil, p.unrecognized(st, current)
		}
	}

	return groups, nil
}

// ParseMessages reads a messages/<category>.rs file.
func ParseMessages(file string, category Category, r io.Reader) ([]*Message, error) {
	statements, err := Lex(r)
	if err != nil {
		return nil, logging.NewError(logging.ErrorTypeParse, "failed to read message file", err, map[string]interface{}{"file": file})
	}

	p := &parser{file: file, category: category}
	var messages []*Message
	names := make(map[string]bool)

	var current *Message
	for _, st := range statements {
		if st.Head(1) == "group" {
			name := st.Rest(1)
			if name == "" {
				return nil, p.errorf(st, nil, "group without a name")
			}
			if names[name] {
				return nil, p.errorf(st, nil, "message group '%s' is already defined", name)
			}
			names[name] = true
			current = &Message{Operator: Operator{Category: category, Name: name, File: file, Line: st.Line, kind: "Message"}}
			messages = append(messages, current)
			continue
		}
		if current == nil {
			return nil, p.errorf(st, nil, "statement '%s' found before the first 'group'", st.Text)
		}
		if err := p.parseMessageStatement(current, st); err != nil {
			return nil, err
		}
	}

	for _, m := range messages {
		if len(m.Messages) == 0 && !m.Abort {
			logging.Logger.Warn().Str("file", file).Str("operator", m.Name).Msg("Message group has no messages")
		}
	}
	return messages, nil
}

func (p *parser) newRule(st Statement) (*Rule, error) {
	expr := st.Rest(1)
	rule := &Rule{Operator: Operator{Category: p.category, Name: expr, File: p.file, Line: st.Line, kind: "Rule"}, Match: expr}
	if expr == "" {
		return nil, p.errorf(st, rule, "'match' without a pattern")
	}
	re, err := CompilePattern(expr)
	if err != nil {
		return nil, p.errorf(st, rule, "invalid pattern '%s': %v", expr, err)
	}
	rule.Pattern = re
	return rule, nil
}

func (p *parser) parseRuleStatement(rule *Rule, st Statement) error {
	handled, err := p.parseCommon(&rule.Operator, st)
	if err != nil || handled {
		return err
	}

	switch h2 := st.Head(2); {
	case st.Head(1) == "name":
		rule.Label = st.Rest(1)
		return nil

	case st.Head(1) == "group":
		if rule.Group != "" {
			return p.errorf(st, rule, "'group' already set on %s", rule)
		}
		rule.Group = st.Rest(1)
		return nil

	case h2 == "ignore event" || h2 == "ignore events" || h2 == "ignore type" || h2 == "ignore types":
		if p.category != CategoryGlobal {
			return p.errorf(st, rule, "You can only use 'ignore type' for global rules not %s", rule)
		}
		for _, key := range strings.Split(st.Rest(2), "|") {
			c, err := ParseCategory(strings.ToLower(strings.TrimSpace(key)))
			if err != nil {
				return p.errorf(st, rule, "%v", err)
			}
			rule.IgnoreCategories = append(rule.IgnoreCategories, c)
		}
		return nil

	case h2 == "strip colors" || h2 == "strip accents":
		value, err := parseOptionalBool(st.Rest(2))
		if err != nil {
			return p.errorf(st, rule, "Malformed syntax for '%s': %v", h2, err)
		}
		if h2 == "strip colors" {
			rule.StripColors = &value
		} else {
			rule.StripAccents = &value
		}
		return nil
	}

	handled, err = p.parseRewrite(&rule.Operator, &rule.Rewrite, st)
	if err != nil {
		return err
	}
	if !handled {
		return p.unrecognized(st, rule)
	}
	return nil
}

// parseCommon handles statements every operator kind understands.
func (p *parser) parseCommon(op *Operator, st Statement) (bool, error) {
	h1, h2 := st.Head(1), st.Head(2)
	rest := st.Rest(2)

	switch {
	case h2 == "require key" || h2 == "ignore key" || h2 == "save key":
		key, script := splitFirst(rest)
		if key == "" {
			return true, p.errorf(st, op, "Wrong '%s' operator syntax! Usage: <keyName> <condition with 'value' as the value object>", h2)
		}
		if h2 == "save key" {
			for _, saved := range op.Actions.SaveData {
				if saved.Key == key {
					return true, p.errorf(st, op, "The 'save key' operator already contains key: %s", key)
				}
			}
			op.Actions.SaveData = append(op.Actions.SaveData, KeyedScript{Key: key, Script: script})
			return true, nil
		}
		if h2 == "require key" && script == "" {
			return true, p.errorf(st, op, "'require key %s' needs a condition", key)
		}
		mode := Require
		if h2 == "ignore key" {
			mode = Ignore
		}
		return true, p.addPredicate(op, st, Predicate{Mode: mode, Kind: KindKey, Key: key, Script: script})

	case h1 == "begins" || h1 == "expires":
		target := &op.Begins
		if h1 == "expires" {
			target = &op.Expires
		}
		if !target.IsZero() {
			return true, p.errorf(st, op, "Operator '%s' already defined on %s", h1, op)
		}
		date, err := timeutil.ParseDate(st.Rest(1), Location)
		if err != nil {
			return true, p.errorf(st, op, "invalid '%s' date: %v", h1, err)
		}
		*target = date
		return true, nil

	case h1 == "delay" || h2 == "player delay":
		offset := 1
		target := &op.Delay
		if h2 == "player delay" {
			offset = 2
			target = &op.PlayerDelay
		}
		if *target != nil {
			return true, p.errorf(st, op, "'%s' already set on %s", st.Head(offset), op)
		}
		cooldown, err := parseCooldown(st, offset)
		if err != nil {
			return true, p.errorf(st, op, "Syntax error in 'delay' operator. Valid: <amount> <unit> (1 second, 2 minutes). Got: %s", st.Text)
		}
		*target = cooldown
		return true, nil

	case h2 == "then command" || h2 == "then commands" || h2 == "then playercommand" || h2 == "then playercommands":
		op.Actions.PlayerCommands = append(op.Actions.PlayerCommands, rest)

	case h2 == "then console" || h2 == "then consolecommand" || h2 == "then consolecommands":
		op.Actions.ConsoleCommands = append(op.Actions.ConsoleCommands, rest)

	case h2 == "then proxy" || h2 == "then bungee" || h2 == "then proxyconsole" || h2 == "then bungeeconsole" ||
		h2 == "then proxycommand" || h2 == "then proxycommands":
		op.Actions.ProxyCommands = append(op.Actions.ProxyCommands, rest)

	case h2 == "then log":
		op.Actions.Logs = append(op.Actions.Logs, rest)

	case h2 == "then notify":
		permission, message := splitFirst(rest)
		if message == "" {
			return true, p.errorf(st, op, "wrong then notify syntax! Usage: <permission> <message>")
		}
		op.Actions.Notifies = append(op.Actions.Notifies, Notify{Permission: permission, Message: message})

	case h2 == "then discord":
		channel, message := splitFirst(rest)
		if message == "" {
			return true, p.errorf(st, op, "wrong 'then discord' syntax! Use: 'then discord <channel> <message>'")
		}
		op.Actions.Discords = append(op.Actions.Discords, Discord{Channel: channel, Message: message})

	case h2 == "then write":
		path, message := splitFirst(rest)
		if message == "" {
			return true, p.errorf(st, op, "wrong 'then write' syntax! Usage: <file (without spaces)> <message>")
		}
		op.Actions.Writes = append(op.Actions.Writes, FileWrite{Path: path, Message: message})

	case h2 == "then warn" || h2 == "then alert" || h2 == "then message":
		op.Actions.Warns = append(op.Actions.Warns, Warn{ID: uuid.NewString(), Message: rest})

	case h2 == "then kick":
		if op.Actions.Kick != nil {
			return true, p.errorf(st, op, "'then kick' already set on %s", op)
		}
		message := rest
		op.Actions.Kick = &message

	case h2 == "then fine":
		if op.Actions.HasFine {
			return true, p.errorf(st, op, "everything is fine except you specifying 'then fine' twice for %s", op)
		}
		fine, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			return true, p.errorf(st, op, "Invalid number in 'then fine': %s", rest)
		}
		op.Actions.Fine, op.Actions.HasFine = fine, true

	case h2 == "then points":
		set, formula := splitFirst(rest)
		if formula == "" {
			return true, p.errorf(st, op, "wrong then points syntax! Usage: <warning set> <points>")
		}
		op.Actions.Points = append(op.Actions.Points, PointGrant{Set: set, Formula: formula})

	case h2 == "then sound":
		if rest == "" {
			return true, p.errorf(st, op, "'then sound' needs a sound")
		}
		op.Actions.Sounds = append(op.Actions.Sounds, rest)

	case h2 == "then book":
		if op.Actions.Book != "" {
			return true, p.errorf(st, op, "'then book' already set on %s", op)
		}
		op.Actions.Book = rest

	case h2 == "then toast":
		if op.Actions.Toast != nil {
			return true, p.errorf(st, op, "'then toast' already set on %s", op)
		}
		if len(st.Words) < 5 {
			return true, p.errorf(st, op, "Invalid 'then toast' syntax. Usage: <material> <task/goal/challenge> <message>")
		}
		op.Actions.Toast = &Toast{Material: st.Words[2], Style: strings.ToLower(st.Words[3]), Message: st.Rest(4)}

	case h2 == "then title":
		if op.Actions.Title != nil {
			return true, p.errorf(st, op, "'then title' already set on %s", op)
		}
		title, err := parseTitle(rest)
		if err != nil {
			return true, p.errorf(st, op, "Invalid 'then title' syntax: %v", err)
		}
		op.Actions.Title = title

	case h2 == "then actionbar":
		if op.Actions.ActionBar != "" {
			return true, p.errorf(st, op, "'then actionbar' already set on %s", op)
		}
		op.Actions.ActionBar = rest

	case h2 == "then bossbar":
		if op.Actions.BossBar != nil {
			return true, p.errorf(st, op, "'then bossbar' already set on %s", op)
		}
		if len(st.Words) < 6 {
			return true, p.errorf(st, op, "Invalid 'then bossbar' syntax. Usage: <color> <style> <secondsToShow> <message>")
		}
		seconds, err := strconv.Atoi(st.Words[4])
		if err != nil {
			return true, p.errorf(st, op, "Invalid seconds to show in 'then bossbar': %s", st.Words[4])
		}
		op.Actions.BossBar = &BossBar{Color: strings.ToLower(st.Words[2]), Style: strings.ToLower(st.Words[3]), Seconds: seconds, Message: st.Rest(5)}

	case h2 == "then abort":
		return true, p.setFlag(&op.Abort, st, op)

	case h2 == "then deny":
		if strings.EqualFold(rest, "silently") {
			return true, p.setFlag(&op.DenySilently, st, op)
		}
		return true, p.setFlag(&op.Deny, st, op)

	case h2 == "dont log":
		return true, p.setFlag(&op.IgnoreLogging, st, op)

	case h2 == "dont spy":
		return true, p.setFlag(&op.IgnoreSpying, st, op)

	case h2 == "dont verbose":
		return true, p.setFlag(&op.IgnoreVerbose, st, op)

	case h2 == "require discord":
		return true, p.setFlag(&op.RequireDiscord, st, op)

	case h2 == "ignore discord":
		return true, p.setFlag(&op.IgnoreDiscord, st, op)

	case h2 == "ignore muted":
		return true, p.setFlag(&op.IgnoreMuted, st, op)

	case h2 == "then spy" || h2 == "spy command":
		return true, p.setFlag(&op.Spy, st, op)

	case h1 == "disabled" && len(st.Words) == 1:
		return true, p.setFlag(&op.Disabled, st, op)

	default:
		return false, nil
	}
	return true, nil
}

// parseRewrite handles the predicate and rewrite vocabulary of rules and groups.
func (p *parser) parseRewrite(op *Operator, rw *Rewrite, st Statement) (bool, error) {
	h2 := st.Head(2)
	rest := st.Rest(2)
	mode := Require
	if st.Head(1) == "ignore" {
		mode = Ignore
	}

	switch h2 {
	case "ignore commandprefix":
		value, err := parseOptionalBool(rest)
		if err != nil {
			return true, p.errorf(st, op, "Malformed syntax for 'ignore commandprefix': %v", err)
		}
		rw.IgnoreCommandPrefix = value

	case "before replace":
		expr, with, found := strings.Cut(rest, " with ")
		if !found {
			expr = strings.TrimSuffix(rest, " with")
		}
		re, err := CompilePattern(expr)
		if err != nil {
			return true, p.errorf(st, op, "invalid 'before replace' pattern '%s': %v", expr, err)
		}
		rw.BeforeReplace = append(rw.BeforeReplace, Replacement{Pattern: re, With: with})

	case "require perm", "require permission":
		permission, message := splitFirst(rest)
		if permission == "" {
			return true, p.errorf(st, op, "'require perm' needs a permission")
		}
		return true, p.addPredicate(op, st, Predicate{Mode: Require, Kind: KindPermission, Values: []string{permission}, Message: message})

	case "ignore perm", "ignore permission":
		if rest == "" {
			return true, p.errorf(st, op, "'ignore perm' needs a permission")
		}
		return true, p.addPredicate(op, st, Predicate{Mode: Ignore, Kind: KindPermission, Values: []string{rest}})

	case "require script", "ignore script":
		if rest == "" {
			return true, p.errorf(st, op, "'%s' needs a script", h2)
		}
		return true, p.addPredicate(op, st, Predicate{Mode: mode, Kind: KindScript, Script: rest})

	case "require variable":
		pred, err := parseVariable(rest)
		if err != nil {
			return true, p.errorf(st, op, "%v", err)
		}
		return true, p.addPredicate(op, st, pred)

	case "require command", "require commands", "ignore command", "ignore commands":
		return true, p.addValues(op, st, mode, ScopeSender, KindCommand, rest)

	case "require gamemode", "require gamemodes", "ignore gamemode", "ignore gamemodes":
		return true, p.addValues(op, st, mode, ScopeSender, KindGameMode, strings.ToUpper(rest))

	case "require world", "require worlds", "ignore world", "ignore worlds":
		return true, p.addValues(op, st, mode, ScopeSender, KindWorld, rest)

	case "require region", "require regions", "ignore region", "ignore regions":
		return true, p.addValues(op, st, mode, ScopeSender, KindRegion, rest)

	case "require channel", "require channels", "ignore channel", "ignore channels":
		return true, p.addPredicate(op, st, Predicate{Mode: mode, Kind: KindChannel, Channels: parseChannels(rest)})

	case "ignore string":
		re, err := CompilePattern(rest)
		if err != nil {
			return true, p.errorf(st, op, "invalid 'ignore string' pattern '%s': %v", rest, err)
		}
		return true, p.addPredicate(op, st, Predicate{Mode: Ignore, Kind: KindString, Key: rest, Pattern: re})

	case "then replace":
		rw.Replacements = append(rw.Replacements, textutil.SplitVertically(rest)...)

	case "then rewrite":
		rw.Rewrites = append(rw.Rewrites, textutil.SplitVertically(rest)...)

	case "then rewritein":
		world, messages := splitFirst(rest)
		if messages == "" {
			return true, p.errorf(st, op, "wrong then rewritein syntax! Usage: <world> <message>")
		}
		if rw.WorldRewrites == nil {
			rw.WorldRewrites = make(map[string][]string)
		}
		rw.WorldRewrites[world] = textutil.SplitVertically(messages)

	default:
		return false, nil
	}
	return true, nil
}

func (p *parser) parseMessageStatement(m *Message, st Statement) error {
	handled, err := p.parseCommon(&m.Operator, st)
	if err != nil || handled {
		return err
	}

	if m.listing {
		p.appendMessageLine(m, st)
		return nil
	}

	h1, h2, h3 := st.Head(1), st.Head(2), st.Head(3)
	switch {
	case h1 == "message:" || h1 == "messages:":
		if len(m.Messages) > 0 {
			return p.errorf(st, m, "'%s' already set on %s", h1, m)
		}
		m.listing = true
		if inline := st.Rest(1); inline != "" {
			p.appendMessageLine(m, Statement{Line: st.Line, Text: inline, Words: strings.Fields(inline)})
		}
		return nil

	case h1 == "prefix" || h1 == "suffix":
		target := &m.Prefix
		if h1 == "suffix" {
			target = &m.Suffix
		}
		if *target != "" {
			*target += "\n"
		}
		*target += st.Rest(1)
		return nil

	case h1 == "proxy" || h1 == "bungee":
		return p.setFlag(&m.Proxy, st, m)

	case h1 == "random":
		return p.setFlag(&m.Random, st, m)

	case h3 == "then foreach console":
		m.ForeachConsole = append(m.ForeachConsole, st.Rest(3))
		return nil

	case h2 == "require self" || h2 == "ignore self":
		mode := Require
		if h1 == "ignore" {
			mode = Ignore
		}
		return p.addPredicate(&m.Operator, st, Predicate{Mode: mode, Kind: KindSelf})

	case h2 == "ignore string":
		re, err := CompilePattern(st.Rest(2))
		if err != nil {
			return p.errorf(st, m, "invalid 'ignore string' pattern: %v", err)
		}
		return p.addPredicate(&m.Operator, st, Predicate{Mode: Ignore, Kind: KindString, Key: st.Rest(2), Pattern: re})
	}

	if h1 == "require" || h1 == "ignore" {
		handled, err := p.parseScoped(m, st)
		if err != nil || handled {
			return err
		}
		if m.Category == CategoryDeath {
			handled, err := p.parseDeathContext(m, st)
			if err != nil || handled {
				return err
			}
		}
	}
	return p.unrecognized(st, m)
}

// Once a message list is open, every non-common line belongs to it: "- "
// starts a new entry and anything else continues the previous one.
func (p *parser) appendMessageLine(m *Message, st Statement) {
	if strings.HasPrefix(st.Text, "- ") || st.Text == "-" {
		entry := strings.TrimSpace(strings.TrimPrefix(st.Text, "-"))
		m.Messages = append(m.Messages, textutil.StripQuotes(entry))
		return
	}
	if len(m.Messages) == 0 {
		logging.Logger.Warn().Str("file", p.file).Int("line", st.Line).Str("operator", m.Name).
			Msg("Message line does not start with '- ', treating it as a new message")
		m.Messages = append(m.Messages, st.Text)
		return
	}
	last := len(m.Messages) - 1
	m.Messages[last] += "\n" + st.Text
}

func (p *parser) parseScoped(m *Message, st Statement) (bool, error) {
	if len(st.Words) < 3 {
		return false, nil
	}
	mode := Require
	if st.Head(1) == "ignore" {
		mode = Ignore
	}
	var scope Scope
	switch strings.ToLower(st.Words[1]) {
	case "sender":
		scope = ScopeSender
	case "receiver":
		scope = ScopeReceiver
	default:
		return false, nil
	}
	rest := st.Rest(3)

	switch strings.ToLower(st.Words[2]) {
	case "perm", "permission":
		if mode == Require {
			permission, message := splitFirst(rest)
			return true, p.addPredicate(&m.Operator, st, Predicate{Mode: mode, Scope: scope, Kind: KindPermission, Values: []string{permission}, Message: message})
		}
		return true, p.addPredicate(&m.Operator, st, Predicate{Mode: mode, Scope: scope, Kind: KindPermission, Values: []string{rest}})
	case "script":
		return true, p.addPredicate(&m.Operator, st, Predicate{Mode: mode, Scope: scope, Kind: KindScript, Script: rest})
	case "variable":
		pred, err := parseVariable(rest)
		if err != nil {
			return true, p.errorf(st, m, "%v", err)
		}
		pred.Mode, pred.Scope = mode, scope
		return true, p.addPredicate(&m.Operator, st, pred)
	case "gamemode", "gamemodes":
		return true, p.addValues(&m.Operator, st, mode, scope, KindGameMode, strings.ToUpper(rest))
	case "world", "worlds":
		return true, p.addValues(&m.Operator, st, mode, scope, KindWorld, rest)
	case "region", "regions":
		return true, p.addValues(&m.Operator, st, mode, scope, KindRegion, rest)
	case "channel", "channels":
		return true, p.addPredicate(&m.Operator, st, Predicate{Mode: mode, Scope: scope, Kind: KindChannel, Channels: parseChannels(rest)})
	case "key":
		key, script := splitFirst(rest)
		if key == "" {
			return true, p.errorf(st, m, "Wrong '%s' operator syntax! Usage: <keyName> <condition>", st.Head(3))
		}
		return true, p.addPredicate(&m.Operator, st, Predicate{Mode: mode, Scope: scope, Kind: KindKey, Key: key, Script: script})
	}
	return false, nil
}

// deathContext maps death statements to the context variable they test.
var deathContext = map[string]string{
	"cause":        "cause",
	"causes":       "cause",
	"projectile":   "projectile",
	"projectiles":  "projectile",
	"block":        "block",
	"blocks":       "block",
	"killer":       "killer",
	"killers":      "killer",
	"boss":         "boss",
	"bosses":       "boss",
	"killer item":  "killer_item",
	"killer items": "killer_item",
}

func (p *parser) parseDeathContext(m *Message, st Statement) (bool, error) {
	mode := Require
	if st.Head(1) == "ignore" {
		mode = Ignore
	}
	if strings.EqualFold(st.Head(2), st.Head(1)+" npc") && len(st.Words) == 2 {
		return true, p.addPredicate(&m.Operator, st, Predicate{Mode: mode, Kind: KindContext, Key: "npc", Values: []string{"true"}})
	}
	for _, words := range []int{3, 2} {
		if len(st.Words) <= words-1 {
			continue
		}
		name := strings.ToLower(strings.Join(st.Words[1:words], " "))
		key, ok := deathContext[name]
		if !ok {
			continue
		}
		values := textutil.SplitVertically(st.Rest(words))
		if len(values) == 0 {
			return true, p.errorf(st, m, "'%s' needs at least one value", st.Head(words))
		}
		return true, p.mergeValues(&m.Operator, st, Predicate{Mode: mode, Kind: KindContext, Key: key, Values: values})
	}
	return false, nil
}

func (p *parser) setFlag(flag *bool, st Statement, op fmt.Stringer) error {
	if *flag {
		return p.errorf(st, op, "%s already used on %s", st.Text, op)
	}
	*flag = true
	return nil
}

func (p *parser) addValues(op *Operator, st Statement, mode Mode, scope Scope, kind PredicateKind, rest string) error {
	values := textutil.SplitVertically(rest)
	if len(values) == 0 {
		return p.errorf(st, op, "'%s' needs at least one value", st.Text)
	}
	return p.mergeValues(op, st, Predicate{Mode: mode, Scope: scope, Kind: kind, Values: values})
}

// mergeValues folds repeated list predicates into one.
func (p *parser) mergeValues(op *Operator, st Statement, pred Predicate) error {
	for i := range op.Predicates {
		existing := &op.Predicates[i]
		if existing.slot() == pred.slot() {
			existing.Values = append(existing.Values, pred.Values...)
			return nil
		}
	}
	pred.Line = st.Line
	op.Predicates = append(op.Predicates, pred)
	return nil
}

func (p *parser) addPredicate(op *Operator, st Statement, pred Predicate) error {
	if pred.Kind == KindChannel {
		for i := range op.Predicates {
			existing := &op.Predicates[i]
			if existing.slot() == pred.slot() {
				for name, mode := range pred.Channels {
					existing.Channels[name] = mode
				}
				return nil
			}
		}
	} else {
		for _, existing := range op.Predicates {
			if existing.slot() == pred.slot() {
				return p.errorf(st, op, "'%s' already set on %s", st.Head(3), op)
			}
		}
	}
	pred.Line = st.Line
	op.Predicates = append(op.Predicates, pred)
	return nil
}

func parseCooldown(st Statement, offset int) (*Cooldown, error) {
	if len(st.Words) >= offset+2 {
		if d, err := timeutil.ParseDuration(st.Words[offset] + " " + st.Words[offset+1]); err == nil {
			return &Cooldown{Duration: d, Message: st.Rest(offset + 2)}, nil
		}
	}
	if len(st.Words) < offset+1 {
		return nil, fmt.Errorf("missing duration")
	}
	d, err := timeutil.ParseDuration(st.Words[offset])
	if err != nil {
		return nil, err
	}
	return &Cooldown{Duration: d, Message: st.Rest(offset + 1)}, nil
}

func parseTitle(rest string) (*Title, error) {
	parts := textutil.SplitVertically(rest)
	if len(parts) == 0 {
		return nil, fmt.Errorf("missing title")
	}
	title := &Title{Title: parts[0], FadeIn: 10, Stay: 30, FadeOut: 10}
	if len(parts) > 1 {
		title.Subtitle = parts[1]
	}
	for i, target := range []*int{&title.FadeIn, &title.Stay, &title.FadeOut} {
		if len(parts) <= i+2 {
			break
		}
		n, err := strconv.Atoi(strings.TrimSpace(parts[i+2]))
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", parts[i+2])
		}
		*target = n
	}
	return title, nil
}

func parseVariable(rest string) (Predicate, error) {
	fields := strings.Fields(rest)
	if len(fields) != 1 && len(fields) != 2 {
		return Predicate{}, fmt.Errorf("Invalid 'require variable' syntax - it must be in the form 'require variable <variable> <true/false>', got: '%s'", rest)
	}
	expect := true
	if len(fields) == 2 {
		value, err := strconv.ParseBool(fields[1])
		if err != nil {
			return Predicate{}, fmt.Errorf("invalid boolean %q in 'require variable'", fields[1])
		}
		expect = value
	}
	return Predicate{Mode: Require, Kind: KindVariable, Key: fields[0], Expect: expect}, nil
}

func parseChannels(rest string) map[string]string {
	channels := make(map[string]string)
	for _, entry := range textutil.SplitVertically(rest) {
		name, mode := splitFirst(entry)
		channels[name] = strings.ToLower(mode)
	}
	return channels
}

func parseOptionalBool(text string) (bool, error) {
	if strings.TrimSpace(text) == "" {
		return true, nil
	}
	return strconv.ParseBool(strings.TrimSpace(text))
}

// splitFirst returns the first word of text and the remainder.
func splitFirst(text string) (string, string) {
	text = strings.TrimSpace(text)
	head, tail, _ := strings.Cut(text, " ")
	return head, strings.TrimSpace(tail)
}
