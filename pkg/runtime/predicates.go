// chatguard/pkg/runtime/predicates.go

package runtime

import (
	"fmt"
	"strings"

	"rgehrsitz/chatguard/pkg/logging"
	"rgehrsitz/chatguard/pkg/rules"
	"rgehrsitz/chatguard/pkg/sender"
)

// truth is a predicate result. unknown means the predicate does not apply
// to this event or sender: a require passes and an ignore does not veto.
type truth int

const (
	unknown truth = iota
	yes
	no
)

func truthOf(b bool) truth {
	if b {
		return yes
	}
	return no
}

type predicateFunc func(c *check, op *rules.Operator, p *rules.Predicate, who sender.Sender) (truth, error)

var predicateTable = map[rules.PredicateKind]predicateFunc{
	rules.KindSelf:       testSelf,
	rules.KindPermission: testPermission,
	rules.KindVariable:   testVariable,
	rules.KindScript:     testScript,
	rules.KindGameMode:   playersOnly(func(who sender.Sender, p *rules.Predicate) bool { return containsFold(p.Values, who.GameMode()) }),
	rules.KindWorld:      playersOnly(func(who sender.Sender, p *rules.Predicate) bool { return containsFold(p.Values, who.World()) }),
	rules.KindRegion:     playersOnly(func(who sender.Sender, p *rules.Predicate) bool { return anyFold(p.Values, who.Regions()) }),
	rules.KindChannel:    testChannel,
	rules.KindCommand:    testCommand,
	rules.KindString:     testString,
	rules.KindContext:    testContext,
	rules.KindKey:        testKey,
}

// predicateOrder is the evaluation order of kinds. Permission comes first
// so a denial message is shown before cheaper checks silently skip.
var predicateOrder = []rules.PredicateKind{
	rules.KindSelf,
	rules.KindPermission,
	rules.KindVariable,
	rules.KindScript,
	rules.KindGameMode,
	rules.KindWorld,
	rules.KindRegion,
	rules.KindChannel,
	rules.KindCommand,
	rules.KindString,
	rules.KindContext,
	rules.KindKey,
}

var scopes = []rules.Scope{rules.ScopeSender, rules.ScopeReceiver}

// verdict is how a predicate pass or an execution step ended.
type verdict int

const (
	pass verdict = iota
	// skip leaves this operator and continues with the next.
	skip
	// refuse ends only the current receiver's branch of a broadcast.
	refuse
	// halt cancels the whole evaluation.
	halt
)

func (c *check) bound(scope rules.Scope) sender.Sender {
	if scope == rules.ScopeReceiver {
		return c.receiver
	}
	return c.event.Sender
}

// admits runs the base checks and then every require predicate followed by
// every ignore predicate.
func (c *check) admits(op *rules.Operator) (verdict, error) {
	if !c.baseAdmits(op) {
		return skip, nil
	}

	for _, mode := range []rules.Mode{rules.Require, rules.Ignore} {
		for _, kind := range predicateOrder {
			for _, scope := range scopes {
				who := c.bound(scope)
				if who == nil {
					continue
				}
				for i := range op.Predicates {
					p := &op.Predicates[i]
					if p.Mode != mode || p.Kind != kind || p.Scope != scope {
						continue
					}
					v, err := c.test(op, p, who)
					if err != nil || v != pass {
						return v, err
					}
				}
			}
		}
	}
	return pass, nil
}

func (c *check) test(op *rules.Operator, p *rules.Predicate, who sender.Sender) (verdict, error) {
	fn, ok := predicateTable[p.Kind]
	if !ok {
		return skip, logging.NewError(logging.ErrorTypeUnimplemented,
			fmt.Sprintf("no handler for predicate kind '%s'", p.Kind), nil,
			map[string]interface{}{"operator": op.String(), "line": p.Line})
	}
	result, err := fn(c, op, p, who)
	if err != nil {
		return skip, err
	}

	switch {
	case p.Mode == rules.Require && result == no:
		logging.Logger.Debug().Str("operator", op.ID()).Str("predicate", string(p.Kind)).Str("scope", p.Scope.String()).Msg("Required predicate failed")
		if p.Kind == rules.KindPermission && p.Message != "" {
			return c.denyPermission(op, p, who), nil
		}
		return skip, nil
	case p.Mode == rules.Ignore && result == yes:
		logging.Logger.Debug().Str("operator", op.ID()).Str("predicate", string(p.Kind)).Str("scope", p.Scope.String()).Msg("Ignore predicate matched")
		return skip, nil
	}
	return pass, nil
}

// denyPermission tells who the configured message. A receiver's denial only
// ends that receiver's branch; a sender's denial cancels the evaluation.
func (c *check) denyPermission(op *rules.Operator, p *rules.Predicate, who sender.Sender) verdict {
	text := strings.ReplaceAll(p.Message, "{permission}", p.Values[0])
	c.tell(who, c.render(op, who, text))
	if p.Scope == rules.ScopeReceiver {
		return refuse
	}
	c.out.Cancelled = true
	return halt
}

// baseAdmits covers the flags every operator kind shares.
func (c *check) baseAdmits(op *rules.Operator) bool {
	s := c.event.Sender
	origin := s.Origin()

	switch {
	case op.Disabled:
		return false
	case !inWindow(c.now, op):
		return false
	case origin == sender.OriginDiscord && op.IgnoreDiscord:
		return false
	case origin != sender.OriginPlayer && op.Spy:
		return false
	case origin != sender.OriginDiscord && op.RequireDiscord:
		return false
	case op.IgnoreMuted && s.Muted():
		return false
	}
	return true
}

func playersOnly(match func(who sender.Sender, p *rules.Predicate) bool) predicateFunc {
	return func(_ *check, _ *rules.Operator, p *rules.Predicate, who sender.Sender) (truth, error) {
		if who.Origin() != sender.OriginPlayer {
			return unknown, nil
		}
		return truthOf(match(who, p)), nil
	}
}

func testSelf(c *check, _ *rules.Operator, _ *rules.Predicate, _ sender.Sender) (truth, error) {
	if c.receiver == nil {
		return unknown, nil
	}
	return truthOf(c.receiver.ID() == c.event.Sender.ID()), nil
}

func testPermission(_ *check, _ *rules.Operator, p *rules.Predicate, who sender.Sender) (truth, error) {
	return truthOf(who.HasPermission(p.Values[0])), nil
}

// testVariable renders a placeholder and compares it to the expected boolean.
func testVariable(c *check, op *rules.Operator, p *rules.Predicate, who sender.Sender) (truth, error) {
	placeholder := p.Key
	if !strings.HasPrefix(placeholder, "{") {
		placeholder = "{" + placeholder + "}"
	}
	value := strings.TrimSpace(c.render(op, who, placeholder))
	return truthOf(strings.EqualFold(value, "true") == p.Expect), nil
}

func testScript(c *check, op *rules.Operator, p *rules.Predicate, who sender.Sender) (truth, error) {
	result, err := c.runScript(op, p, who, p.Script, scriptVars(who))
	if err != nil {
		return unknown, err
	}
	if result == nil {
		return unknown, nil
	}
	b, ok := result.(bool)
	if !ok {
		return unknown, c.scriptError(op, p, who, p.Script,
			fmt.Sprintf("%s %s script condition must return boolean not %T", p.Mode, p.Scope, result), nil)
	}
	return truthOf(b), nil
}

// testKey checks stored data. Without a script the key only has to exist;
// with one the script must return true for the stored value.
func testKey(c *check, op *rules.Operator, p *rules.Predicate, who sender.Sender) (truth, error) {
	if who.Origin() != sender.OriginPlayer {
		return unknown, nil
	}
	value, ok := who.Data(p.Key)
	if !ok || value == nil {
		return no, nil
	}
	if strings.TrimSpace(p.Script) == "" {
		return yes, nil
	}

	vars := scriptVars(who)
	vars["value"] = value
	result, err := c.runScript(op, p, who, p.Script, vars)
	if err != nil {
		return unknown, err
	}
	b, ok := result.(bool)
	if !ok {
		return unknown, c.scriptError(op, p, who, p.Script,
			fmt.Sprintf("'%s key' expected boolean, got %T: %v", p.Mode, result, result), nil)
	}
	return truthOf(b), nil
}

// testChannel matches the channel a rule's message was written to, or the
// channels a broadcast party has joined.
func testChannel(c *check, _ *rules.Operator, p *rules.Predicate, who sender.Sender) (truth, error) {
	if who.Origin() != sender.OriginPlayer {
		return unknown, nil
	}
	if c.receiver == nil {
		if c.event.Channel == "" {
			return unknown, nil
		}
		mode, ok := lookupFold(p.Channels, c.event.Channel)
		if !ok {
			return no, nil
		}
		if mode == "" {
			return yes, nil
		}
		joined, _ := lookupFold(who.Channels(), c.event.Channel)
		return truthOf(strings.EqualFold(joined, mode)), nil
	}

	for name, mode := range p.Channels {
		joined, ok := lookupFold(who.Channels(), name)
		if ok && (mode == "" || strings.EqualFold(joined, mode)) {
			return yes, nil
		}
	}
	return no, nil
}

// testCommand matches the command label. A trailing '*' is a prefix match.
func testCommand(c *check, _ *rules.Operator, p *rules.Predicate, _ sender.Sender) (truth, error) {
	if c.event.Category != rules.CategoryCommand {
		return unknown, nil
	}
	label, _, _ := strings.Cut(c.out.Message, " ")
	return truthOf(matchesCommand(p.Values, label)), nil
}

func matchesCommand(commands []string, label string) bool {
	for _, command := range commands {
		if strings.HasSuffix(command, "*") {
			if strings.HasPrefix(label, strings.TrimSpace(strings.TrimSuffix(command, "*"))) {
				return true
			}
		} else if strings.EqualFold(label, command) {
			return true
		}
	}
	return false
}

func testString(c *check, op *rules.Operator, p *rules.Predicate, _ sender.Sender) (truth, error) {
	matched, err := p.Pattern.MatchString(c.out.Message)
	if err != nil {
		logging.Logger.Warn().Err(err).Str("operator", op.String()).Str("pattern", p.Key).Msg("Ignore string pattern timed out")
		return unknown, nil
	}
	return truthOf(matched), nil
}

func testContext(c *check, _ *rules.Operator, p *rules.Predicate, _ sender.Sender) (truth, error) {
	value, ok := c.event.Variables[p.Key]
	if !ok {
		return no, nil
	}
	return truthOf(containsFold(p.Values, value)), nil
}

func (c *check) runScript(op *rules.Operator, p *rules.Predicate, who sender.Sender, raw string, vars map[string]interface{}) (interface{}, error) {
	if c.engine.eval == nil {
		return nil, nil
	}
	script := c.render(op, who, raw)
	result, err := c.engine.eval.Run(script, vars)
	if err != nil {
		return nil, c.scriptError(op, p, who, raw, fmt.Sprintf("Error parsing '%s %s' in %s", p.Mode, p.Kind, op), err)
	}
	return result, nil
}

func (c *check) scriptError(op *rules.Operator, p *rules.Predicate, who sender.Sender, raw, message string, err error) error {
	fields := map[string]interface{}{
		"operator":  op.String(),
		"raw":       raw,
		"evaluated": c.render(op, who, raw),
		"sender":    c.event.Sender.Name(),
	}
	if p != nil {
		fields["line"] = p.Line
	}
	guardErr := logging.NewError(logging.ErrorTypeScript, message, err, fields)
	logging.LogError(logging.Logger, guardErr)
	return guardErr
}

func containsFold(values []string, value string) bool {
	for _, v := range values {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}

func anyFold(values, candidates []string) bool {
	for _, candidate := range candidates {
		if containsFold(values, candidate) {
			return true
		}
	}
	return false
}

func lookupFold(m map[string]string, key string) (string, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}
