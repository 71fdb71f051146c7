// chatguard/pkg/runtime/engine.go

// Package runtime evaluates loaded operators against events and reports
// an Outcome: the rewritten payload, the control flags and the effects to
// carry out.
package runtime

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"

	"rgehrsitz/chatguard/pkg/action"
	"rgehrsitz/chatguard/pkg/logging"
	"rgehrsitz/chatguard/pkg/rules"
	"rgehrsitz/chatguard/pkg/sender"
	"rgehrsitz/chatguard/pkg/textutil"
	"rgehrsitz/chatguard/pkg/timeutil"
)

// Engine evaluates operator lists. It holds no rule definitions; callers
// pass the loaded set with every call.
type Engine struct {
	eval   Evaluator
	points PointGranter
	host   Host
	state  *State
	opts   Options
}

func NewEngine(eval Evaluator, points PointGranter, host Host, state *State, opts Options) *Engine {
	if state == nil {
		state = NewState()
	}
	if host == nil {
		host = HostFunc(func() []sender.Sender { return nil })
	}
	opts.defaults()
	return &Engine{eval: eval, points: points, host: host, state: state, opts: opts}
}

// State exposes the cooldown side table.
func (e *Engine) State() *State {
	return e.state
}

// check is the state of one evaluation call.
type check struct {
	ctx    context.Context
	engine *Engine
	event  Event
	out    *Outcome
	now    time.Time

	// firstRun limits console-class actions to the first execution of a
	// broadcast. Rule evaluations always run them.
	firstRun bool
	warned   bool
	warns    []queuedWarn
	notified map[string]bool

	rule     *rules.Rule
	group    *rules.Group
	match    *regexp2.Match
	receiver sender.Sender
	picked   string
}

type queuedWarn struct {
	id   string
	text string
}

func (e *Engine) newCheck(ctx context.Context, ev Event) *check {
	if ev.Sender == nil {
		ev.Sender = sender.Console
	}
	return &check{
		ctx:      ctx,
		engine:   e,
		event:    ev,
		out:      newOutcome(ev.Message),
		now:      e.opts.Now(),
		firstRun: true,
		notified: make(map[string]bool),
	}
}

// Evaluate runs the category's rules, imported ones first, against the
// event. Script errors abort the call and are returned.
func (e *Engine) Evaluate(ctx context.Context, set *rules.Set, ev Event) (*Outcome, error) {
	start := time.Now()
	c := e.newCheck(ctx, ev)

	err := c.runRules(set)
	evaluationDuration.WithLabelValues(string(ev.Category)).Observe(time.Since(start).Seconds())
	evaluationsTotal.WithLabelValues(string(ev.Category)).Inc()
	if err != nil {
		return nil, err
	}

	c.flushWarns()
	c.out.settle()
	outcomesTotal.WithLabelValues(string(ev.Category), c.out.Kind.String()).Inc()
	return c.out, nil
}

func (c *check) runRules(set *rules.Set) error {
	if set == nil {
		return nil
	}
	for _, rule := range set.RulesFor(c.event.Category) {
		v, abort, err := c.filterRule(set, rule)
		if err != nil {
			return err
		}
		if v == halt {
			return nil
		}
		if abort {
			if !rule.IgnoreVerbose {
				logging.Logger.Debug().Str("rule", rule.ID()).Msg("Stopping further operator check")
			}
			c.out.aborted = true
			return nil
		}
	}
	return nil
}

// filterRule matches one rule and, when it fires, its group as a second
// pass. The returned bool asks to stop evaluating later rules.
func (c *check) filterRule(set *rules.Set, rule *rules.Rule) (verdict, bool, error) {
	if rule.Ignores(c.event.Category) {
		return skip, false, nil
	}

	var group *rules.Group
	if rule.Group != "" {
		group = set.Groups[rule.Group]
	}

	m, err := rule.Pattern.FindStringMatch(c.matchInput(rule, group))
	if err != nil {
		logging.Logger.Warn().Err(err).Str("rule", rule.String()).Msg("Rule pattern timed out")
		return skip, false, nil
	}
	if m == nil {
		return skip, false, nil
	}

	c.rule, c.group, c.match = rule, nil, m
	v, err := c.admits(&rule.Operator)
	if err != nil || v != pass {
		return v, false, err
	}

	original := c.out.Message
	if !rule.IgnoreVerbose {
		logging.Logger.Debug().
			Str("category", string(c.event.Category)).
			Str("rule", rule.DisplayName()).
			Str("sender", c.event.Sender.Name()).
			Str("match", rule.Match).
			Str("catch", c.out.Message).
			Msg("Rule match")
	}

	v, err = c.execute(&rule.Operator, &rule.Rewrite, rule)
	if err != nil || v != pass {
		return v, false, err
	}

	groupRan := false
	if group != nil {
		c.group = group
		v, err = c.admits(&group.Operator)
		if err != nil || v == halt {
			return v, false, err
		}
		if v == pass {
			v, err = c.execute(&group.Operator, &group.Rewrite, nil)
			if err != nil || v == halt {
				return v, false, err
			}
			groupRan = v == pass
		}
	}

	if !rule.IgnoreVerbose && original != c.out.Message {
		logging.Logger.Debug().Str("rule", rule.DisplayName()).Str("update", c.out.Message).Msg("Rule updated message")
	}
	if !rule.IgnoreVerbose && c.out.CancelledSilently {
		logging.Logger.Debug().Str("rule", rule.DisplayName()).Msg("Original message cancelled silently")
	}

	return pass, rule.Abort || (groupRan && group.Abort), nil
}

// execute runs a matched rule or group: cooldowns, rewriting, then actions.
// stripRule is nil for groups, which fall back to the global strip flags.
func (c *check) execute(op *rules.Operator, rw *rules.Rewrite, stripRule *rules.Rule) (verdict, error) {
	if v := c.cooldowns(op); v != pass {
		return v, nil
	}
	if !op.IgnoreLogging {
		logging.Logger.Info().
			Str("category", string(c.event.Category)).
			Str("operator", op.ID()).
			Str("sender", c.event.Sender.Name()).
			Str("message", c.out.Message).
			Msg("Rule matched")
	}
	c.out.Matched = append(c.out.Matched, op.ID())
	matchesTotal.WithLabelValues(string(c.event.Category), op.Name).Inc()

	c.rewrite(op, rw, stripRule)
	return c.runActions(op)
}

// cooldowns enforces delay and player delay. A running cooldown with a
// message cancels the evaluation with that message; without one the
// operator is skipped.
func (c *check) cooldowns(op *rules.Operator) verdict {
	s := c.event.Sender
	for _, step := range []struct {
		cd       *rules.Cooldown
		senderID string
	}{
		{op.Delay, ""},
		{op.PlayerDelay, s.ID()},
	} {
		if step.cd == nil {
			continue
		}
		last := c.engine.state.LastExecuted(op.ID(), step.senderID)
		elapsed := timeutil.ElapsedSeconds(c.now, last)
		limit := timeutil.Seconds(step.cd.Duration)

		if elapsed < limit {
			logging.Logger.Debug().Str("operator", op.ID()).Int64("elapsed", elapsed).Int64("threshold", limit).Msg("Operator is cooling down")
			if step.cd.Message == "" {
				return skip
			}
			left := strconv.FormatInt(limit-elapsed, 10)
			text := strings.NewReplacer("{delay}", left, "{player_delay}", left).Replace(step.cd.Message)
			c.tell(s, c.render(op, s, text))
			c.out.Cancelled = true
			return halt
		}
		c.engine.state.MarkExecuted(op.ID(), step.senderID, c.now)
	}
	return pass
}

// runActions executes an operator's actions in their fixed order.
func (c *check) runActions(op *rules.Operator) (verdict, error) {
	s := c.event.Sender
	a := &op.Actions
	isPlayer := s.Origin() == sender.OriginPlayer

	if op.IgnoreSpying {
		c.out.SpyingIgnored = true
	}
	if op.IgnoreLogging {
		c.out.LoggingIgnored = true
	}

	if isPlayer && c.firstRun {
		for _, command := range a.PlayerCommands {
			c.out.emit(action.Effect{Kind: action.KindPlayerCommand, Sender: s.ID(), Target: s.ID(), Text: c.render(op, s, c.pickOne(command))})
		}
	}

	if c.firstRun {
		c.consoleActions(op, isPlayer)
	}

	if isPlayer && c.firstRun {
		if a.HasFine && a.Fine > 0 {
			c.out.emit(action.Effect{Kind: action.KindFine, Sender: s.ID(), Target: s.ID(), Amount: a.Fine})
		}
		if err := c.grantPoints(op); err != nil {
			return skip, err
		}
	}

	c.displayActions(op)

	if isPlayer && c.firstRun {
		if err := c.saveData(op); err != nil {
			return skip, err
		}
	}

	if a.Kick != nil && s.Origin() != sender.OriginConsole && c.firstRun {
		c.out.emit(action.Effect{Kind: action.KindKick, Sender: s.ID(), Target: s.ID(), Text: c.render(op, s, *a.Kick)})
	}

	if c.firstRun {
		for _, w := range a.Warns {
			c.warns = append(c.warns, queuedWarn{id: w.ID, text: c.render(op, s, c.pickOne(w.Message))})
		}
	}

	if op.Deny {
		if !op.IgnoreVerbose {
			logging.Logger.Debug().Str("operator", op.ID()).Msg("Original message cancelled")
		}
		c.out.Cancelled = true
		return halt, nil
	}
	if op.DenySilently {
		c.out.CancelledSilently = true
	}
	return pass, nil
}

// consoleActions fire once per evaluation: console and proxy commands,
// logs, notifications, bridge messages and file appends.
func (c *check) consoleActions(op *rules.Operator, isPlayer bool) {
	s := c.event.Sender
	a := &op.Actions

	if s.Origin() != sender.OriginConsole {
		for _, command := range a.ConsoleCommands {
			c.out.emit(action.Effect{Kind: action.KindConsoleCommand, Sender: s.ID(), Text: c.render(op, s, c.pickOne(command))})
		}
	}

	if isPlayer {
		for _, line := range a.ProxyCommands {
			picked := c.render(op, s, c.pickOne(line))
			server, command := "proxy", picked
			if head, tail, found := strings.Cut(picked, " "); found {
				server, command = head, tail
			}
			c.out.emit(action.Effect{Kind: action.KindProxyCommand, Sender: s.ID(), Target: server, Text: command})
		}
	}

	for _, line := range a.Logs {
		text := c.render(op, s, c.pickOne(line))
		logging.Logger.Info().Str("operator", op.ID()).Str("sender", s.Name()).Msg(textutil.StripColors(text))
		c.out.emit(action.Effect{Kind: action.KindLog, Sender: s.ID(), Text: text})
	}

	for _, n := range a.Notifies {
		text := c.render(op, s, n.Message)
		if c.notified[text] {
			continue
		}
		c.notified[text] = true
		for _, online := range c.engine.host.Online() {
			if online.HasPermission(n.Permission) && online.Name() != s.Name() {
				c.out.emit(action.Effect{
					Kind:   action.KindNotify,
					Sender: s.ID(),
					Target: online.ID(),
					Text:   text,
					Args:   map[string]string{"permission": n.Permission},
					Delay:  2 * timeutil.Tick,
				})
			}
		}
	}

	delays := make(map[string]int)
	for _, d := range a.Discords {
		if _, ok := delays[d.Channel]; !ok {
			delays[d.Channel] = 1
		}
		c.out.emit(action.Effect{
			Kind:   action.KindDiscord,
			Sender: s.ID(),
			Target: d.Channel,
			Text:   textutil.StripColors(c.render(op, s, d.Message)),
			Delay:  time.Duration(delays[d.Channel]) * time.Second,
		})
		delays[d.Channel] += 2
	}

	for _, w := range a.Writes {
		c.out.emit(action.Effect{
			Kind:   action.KindWrite,
			Sender: s.ID(),
			Target: c.render(op, s, w.Path),
			Text:   textutil.StripColors(c.render(op, s, w.Message)),
		})
	}
}

// displayActions target the receiver of a broadcast, or the sender of a
// rule evaluation. They fire for every receiver.
func (c *check) displayActions(op *rules.Operator) {
	who := c.event.Sender
	if c.receiver != nil {
		who = c.receiver
	}
	if who.Origin() != sender.OriginPlayer {
		return
	}
	a := &op.Actions
	s := c.event.Sender
	effect := func(kind action.Kind, text string, args map[string]string) action.Effect {
		return action.Effect{Kind: kind, Sender: s.ID(), Target: who.ID(), Text: text, Args: args}
	}

	for _, sound := range a.Sounds {
		c.out.emit(effect(action.KindSound, sound, nil))
	}
	if a.Book != "" {
		c.out.emit(effect(action.KindBook, a.Book, nil))
	}
	if t := a.Toast; t != nil {
		text := strings.ReplaceAll(c.render(op, s, t.Message), `\n`, "\n")
		c.out.emit(effect(action.KindToast, text, map[string]string{"material": t.Material, "style": t.Style}))
	}
	if t := a.Title; t != nil {
		c.out.emit(effect(action.KindTitle, c.render(op, s, t.Title), map[string]string{
			"subtitle": c.render(op, s, t.Subtitle),
			"fade_in":  strconv.Itoa(t.FadeIn),
			"stay":     strconv.Itoa(t.Stay),
			"fade_out": strconv.Itoa(t.FadeOut),
		}))
	}
	if a.ActionBar != "" {
		c.out.emit(effect(action.KindActionBar, c.render(op, s, a.ActionBar), nil))
	}
	if b := a.BossBar; b != nil {
		c.out.emit(effect(action.KindBossBar, c.render(op, s, b.Message), map[string]string{
			"color":   b.Color,
			"style":   b.Style,
			"seconds": strconv.Itoa(b.Seconds),
		}))
	}
}

// grantPoints evaluates each point formula and hands it to the ledger. A
// fired set action suppresses this evaluation's warn messages.
func (c *check) grantPoints(op *rules.Operator) error {
	if c.engine.points == nil {
		return nil
	}
	s := c.event.Sender
	for _, grant := range op.Actions.Points {
		formula := c.render(op, s, grant.Formula)
		amount, err := strconv.ParseFloat(strings.TrimSpace(formula), 64)
		if err != nil {
			amount, err = c.calculate(op, s, formula)
			if err != nil {
				return err
			}
		}

		fired, effects, err := c.engine.points.GrantPoints(c.ctx, s, grant.Set, amount)
		if err != nil {
			logging.LogError(logging.Logger, err)
			continue
		}
		if fired {
			c.warned = true
		}
		c.out.emit(effects...)
	}
	return nil
}

func (c *check) calculate(op *rules.Operator, s sender.Sender, formula string) (float64, error) {
	if c.engine.eval == nil {
		return 0, nil
	}
	result, err := c.engine.eval.Run(formula, scriptVars(s))
	if err != nil {
		return 0, c.scriptError(op, nil, s, formula, "Error calculating 'then points' in "+op.String(), err)
	}
	switch v := result.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	}
	return 0, c.scriptError(op, nil, s, formula, "'then points' formula must be numeric in "+op.String(), nil)
}

// saveData runs each "save key" script and queues the result. An empty
// script clears the key.
func (c *check) saveData(op *rules.Operator) error {
	s := c.event.Sender
	for _, saved := range op.Actions.SaveData {
		script := c.render(op, s, saved.Script)
		var value interface{}
		if strings.TrimSpace(script) != "" && c.engine.eval != nil {
			result, err := c.engine.eval.Run(script, scriptVars(s))
			if err != nil {
				return c.scriptError(op, nil, s, saved.Script, "Error saving data in "+op.String(), err)
			}
			value = result
		}
		c.out.emit(action.Effect{Kind: action.KindSaveData, Sender: s.ID(), Target: saved.Key, Value: value})
	}
	return nil
}

func (c *check) tell(who sender.Sender, text string) {
	if text == "" {
		return
	}
	c.out.emit(action.Effect{Kind: action.KindTell, Sender: c.event.Sender.ID(), Target: who.ID(), Text: text})
}

// flushWarns delivers queued warn messages one tick after the pass unless
// a point set already warned the sender.
func (c *check) flushWarns() {
	if c.warned {
		return
	}
	s := c.event.Sender
	for _, w := range c.warns {
		if w.text == "" || !c.engine.state.ShouldWarn(w.id, s.ID(), c.now) {
			continue
		}
		c.out.emit(action.Effect{ID: w.id, Kind: action.KindWarn, Sender: s.ID(), Target: s.ID(), Text: w.text, Delay: timeutil.Tick})
	}
	c.warns = nil
}

func (c *check) pick(list []string) string {
	if len(list) == 0 {
		return ""
	}
	return list[c.engine.opts.Pick(len(list))]
}

// pickOne picks one of the '|' separated alternatives of line.
func (c *check) pickOne(line string) string {
	alternatives := textutil.SplitVertically(line)
	if len(alternatives) == 0 {
		return line
	}
	return c.pick(alternatives)
}

func inWindow(now time.Time, op *rules.Operator) bool {
	return timeutil.InWindow(now, op.Begins, op.Expires)
}
