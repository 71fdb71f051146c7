// chatguard/pkg/antispam/checker.go

// Package antispam screens chat messages and commands before the rule engine
// sees them: join floods, parroting, anti-move, rate and period limits, caps,
// repetition and grammar.
package antispam

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"rgehrsitz/chatguard/pkg/action"
	"rgehrsitz/chatguard/pkg/logging"
	"rgehrsitz/chatguard/pkg/rules"
	"rgehrsitz/chatguard/pkg/runtime"
	"rgehrsitz/chatguard/pkg/sender"
	"rgehrsitz/chatguard/pkg/textutil"
	"rgehrsitz/chatguard/pkg/timeutil"
	"rgehrsitz/chatguard/pkg/warnings"
)

// Kind is what a sender produced.
type Kind string

const (
	KindChat    Kind = "chat"
	KindCommand Kind = "command"
)

func (k Kind) category() rules.Category {
	if k == KindCommand {
		return rules.CategoryCommand
	}
	return rules.CategoryChat
}

const (
	BypassParrot            = "chatguard.bypass.parrot"
	BypassMove              = "chatguard.bypass.move"
	BypassDelayChat         = "chatguard.bypass.delay.chat"
	BypassDelayCommand      = "chatguard.bypass.delay.command"
	BypassPeriod            = "chatguard.bypass.period"
	BypassCaps              = "chatguard.bypass.caps"
	BypassSimilarityChat    = "chatguard.bypass.similarity.chat"
	BypassSimilarityCommand = "chatguard.bypass.similarity.command"
	BypassGrammar           = "chatguard.bypass.grammar"
)

// Escalator turns a violation into warning points; *warnings.Ledger is one.
type Escalator interface {
	Trigger(ctx context.Context, s sender.Sender, trigger warnings.Trigger, fallback string, vars map[string]string) (warnings.Verdict, error)
}

// RuleEvaluator runs the chat and command rules; *runtime.Registry is one.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, ev runtime.Event) (*runtime.Outcome, error)
}

type Config struct {
	Settings *Settings
	// Ledger may be nil, every violation then gets its plain warning.
	Ledger Escalator
	// Rules may be nil to skip rule filtering.
	Rules RuleEvaluator
	Host  runtime.Host
	Now   func() time.Time
}

// Result is what a check decided. Check names the stage that cancelled.
type Result struct {
	Message           string          `json:"message"`
	Original          string          `json:"original"`
	Changed           bool            `json:"changed"`
	Cancelled         bool            `json:"cancelled"`
	CancelledSilently bool            `json:"cancelled_silently"`
	LoggingIgnored    bool            `json:"logging_ignored"`
	SpyingIgnored     bool            `json:"spying_ignored"`
	Check             string          `json:"check,omitempty"`
	Matched           []string        `json:"matched,omitempty"`
	Effects           []action.Effect `json:"effects,omitempty"`
}

type Checker struct {
	settings atomic.Pointer[Settings]
	ledger   Escalator
	rules    RuleEvaluator
	host     runtime.Host
	history  *History
	now      func() time.Time
}

func NewChecker(cfg Config) *Checker {
	c := &Checker{
		ledger:  cfg.Ledger,
		rules:   cfg.Rules,
		host:    cfg.Host,
		history: NewHistory(),
		now:     cfg.Now,
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.Reload(cfg.Settings)
	return c
}

// Reload swaps the settings. History is kept.
func (c *Checker) Reload(settings *Settings) {
	if settings == nil {
		settings = DefaultSettings()
	}
	c.settings.Store(settings)
}

func (c *Checker) Settings() *Settings {
	return c.settings.Load()
}

func (c *Checker) History() *History {
	return c.history
}

// RecordJoin starts a session for the anti-move, join cooldown and join
// flood stages.
func (c *Checker) RecordJoin(s sender.Sender, location sender.Location) {
	c.history.Join(s.ID(), c.now(), location)
}

// RecordMove reports whether the sender has left its join location.
func (c *Checker) RecordMove(s sender.Sender, location sender.Location) bool {
	return c.history.Move(s.ID(), location)
}

func (c *Checker) Forget(id string) {
	c.history.Forget(id)
}

// Prune drops history older than the longest configured window.
func (c *Checker) Prune(now time.Time) int {
	removed := c.history.Prune(now.Add(-c.Settings().Window()))
	if removed > 0 {
		logging.Logger.Debug().Int("removed", removed).Msg("Pruned antispam history")
	}
	return removed
}

// RunPrune calls Prune every interval until ctx is done.
func (c *Checker) RunPrune(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Prune(c.now())
		}
	}
}

func (c *Checker) online() []sender.Sender {
	if c.host == nil {
		return nil
	}
	return c.host.Online()
}

type pass struct {
	ctx      context.Context
	checker  *Checker
	settings *Settings
	kind     Kind
	sender   sender.Sender
	channel  string
	label    string
	now      time.Time
	res      *Result
	// pending holds the caps warning, told only if nothing blocks later.
	pending []action.Effect
}

// Check runs every stage over message in order and returns the final text
// and flags. Stages stop at the first cancel.
func (c *Checker) Check(ctx context.Context, kind Kind, s sender.Sender, message, channel string) (*Result, error) {
	if kind != KindChat && kind != KindCommand {
		return nil, logging.NewError(logging.ErrorTypeUnimplemented, fmt.Sprintf("antispam has no checks for %q", kind), nil,
			map[string]interface{}{"sender": s.Name()})
	}

	p := &pass{
		ctx:      ctx,
		checker:  c,
		settings: c.Settings(),
		kind:     kind,
		sender:   s,
		channel:  channel,
		now:      c.now(),
		res:      &Result{Message: message, Original: message},
	}
	if fields := strings.Fields(message); len(fields) > 0 {
		p.label = fields[0]
	}

	stages := []func() (bool, error){
		p.joinFlood,
		p.antiMove,
		p.joinCooldown,
		p.delay,
		p.period,
		p.caps,
		p.filterRules,
		p.similarity,
	}
	for _, stage := range stages {
		done, err := stage()
		if err != nil {
			return nil, err
		}
		if done {
			return p.res, nil
		}
	}

	c.history.Record(s.ID(), kind, Output{Text: p.res.Message, Channel: channel, Time: p.now}, p.settings.historySize(kind))

	p.grammar()
	p.res.Effects = append(p.res.Effects, p.pending...)
	return p.res, nil
}

func (p *pass) isPlayer() bool {
	return p.sender.Origin() == sender.OriginPlayer
}

func (p *pass) pick(chat, command string) string {
	if p.kind == KindCommand {
		return command
	}
	return chat
}

func (p *pass) render(template string, vars map[string]string) string {
	if vars == nil {
		vars = map[string]string{}
	}
	vars["player"] = p.sender.Name()
	return textutil.Render(template, vars)
}

func (p *pass) tell(text string) action.Effect {
	id := p.sender.ID()
	return action.Effect{Kind: action.KindTell, Sender: id, Target: id, Text: text}
}

func (p *pass) setMessage(text, check string) {
	if text == p.res.Message {
		return
	}
	p.res.Message = text
	p.res.Changed = true
	rewritesTotal.WithLabelValues(string(p.kind), check).Inc()
}

func (p *pass) block(check, warning string) bool {
	p.res.Cancelled = true
	p.res.Check = check
	if warning != "" {
		p.res.Effects = append(p.res.Effects, p.tell(warning))
	}
	blocksTotal.WithLabelValues(string(p.kind), check).Inc()
	logging.Logger.Debug().
		Str("sender", p.sender.Name()).
		Str("kind", string(p.kind)).
		Str("check", check).
		Str("message", p.res.Original).
		Msg("Antispam blocked message")
	return true
}

// escalate grants warning points for a violation. The message is blocked
// unless the ledger declined to cancel it.
func (p *pass) escalate(check string, trigger warnings.Trigger, fallback string, vars map[string]string) bool {
	verdict := p.verdict(trigger, fallback, vars)
	if !verdict.Cancel {
		return false
	}
	p.res.Effects = append(p.res.Effects, verdict.Effects...)
	return p.block(check, verdict.Message)
}

func (p *pass) verdict(trigger warnings.Trigger, fallback string, vars map[string]string) warnings.Verdict {
	if p.checker.ledger == nil {
		return warnings.Verdict{Cancel: true, Message: fallback}
	}
	verdict, err := p.checker.ledger.Trigger(p.ctx, p.sender, trigger, fallback, vars)
	if err != nil {
		logging.LogError(logging.Logger, err)
		return warnings.Verdict{Cancel: true, Message: fallback}
	}
	return verdict
}

type floodGroup struct {
	text    string
	members []sender.Sender
}

// joinFlood looks for parroting and for recently joined senders typing the
// same thing. Parroting cancels, a flood runs the remediation commands.
func (p *pass) joinFlood() (bool, error) {
	if p.kind != KindChat || !p.isPlayer() {
		return false, nil
	}
	chat := p.settings.Chat
	flood := p.settings.AntiBot.JoinFlood
	message := p.res.Message
	history := p.checker.history

	parrot := chat.Parrot && !p.sender.HasPermission(BypassParrot) && !chat.ParrotWhitelist.Matches(message)
	parroted, score := false, 0.0

	var groups []*floodGroup
	index := make(map[string]*floodGroup)

	for _, online := range p.checker.online() {
		self := online.ID() == p.sender.ID()
		last := message
		if !self {
			output, ok := history.LastChat(online.ID())
			if !ok {
				continue
			}
			last = output.Text

			if parrot {
				similarity := textutil.Similarity(last, message)
				if similarity >= float64(chat.ParrotSimilarity) && p.now.Sub(output.Time) < chat.ParrotDelay.Duration {
					parroted, score = true, similarity
					break
				}
			}
		}

		if flood.Enabled {
			state := history.sessionOf(online.ID())
			if state.flooded || !state.hasJoin || p.now.Sub(state.joined) >= flood.Threshold.Duration {
				continue
			}
			key := strings.ToLower(textutil.StripColors(last))
			g, ok := index[key]
			if !ok {
				g = &floodGroup{text: last}
				index[key] = g
				groups = append(groups, g)
			}
			g.members = append(g.members, online)
		}
	}

	if parroted {
		return p.block("parrot", p.render(p.settings.Messages.Parrot, map[string]string{
			"message":    message,
			"similarity": strconv.Itoa(int(math.Round(score * 100))),
			"delay":      chat.ParrotDelay.String(),
		})), nil
	}

	sort.SliceStable(groups, func(i, j int) bool { return len(groups[i].members) < len(groups[j].members) })
	for _, g := range groups {
		if len(g.members) < flood.MinPlayers {
			continue
		}
		for _, member := range g.members {
			if !history.flag(member.ID()) {
				continue
			}
			floodsTotal.Inc()
			logging.Logger.Warn().
				Str("sender", member.Name()).
				Int("players", len(g.members)).
				Str("message", g.text).
				Msg("Join flood detected")

			for _, command := range flood.Commands {
				p.res.Effects = append(p.res.Effects, action.Effect{
					Kind:   action.KindConsoleCommand,
					Sender: member.ID(),
					Text: textutil.Render(command, map[string]string{
						"player":        member.Name(),
						"player_amount": strconv.Itoa(len(g.members)),
						"threshold":     flood.Threshold.String(),
						"message":       g.text,
					}),
				})
			}
		}
	}
	return false, nil
}

func (p *pass) antiMove() (bool, error) {
	if !p.isPlayer() {
		return false, nil
	}
	state := p.checker.history.sessionOf(p.sender.ID())
	if !state.hasJoin || state.moved {
		return false, nil
	}
	if p.checker.history.Move(p.sender.ID(), p.sender.Location()) || p.sender.HasPermission(BypassMove) {
		return false, nil
	}

	bot := p.settings.AntiBot
	blocked := bot.BlockChatUntilMoved
	if p.kind == KindCommand {
		blocked = containsFold(bot.BlockCommandsUntilMoved, p.label)
	}
	if !blocked {
		return false, nil
	}
	return p.block("move", p.render(p.pick(p.settings.Messages.MoveChat, p.settings.Messages.MoveCommand), nil)), nil
}

func (p *pass) joinCooldown() (bool, error) {
	if !p.isPlayer() {
		return false, nil
	}
	state := p.checker.history.sessionOf(p.sender.ID())
	if !state.hasJoin {
		return false, nil
	}
	bot := p.settings.AntiBot
	cooldown := bot.CooldownChatAfterJoin
	if p.kind == KindCommand {
		cooldown = bot.CooldownCommandAfterJoin
	}

	wait := timeutil.Seconds(cooldown.Duration)
	playtime := timeutil.ElapsedSeconds(p.now, state.joined)
	if playtime >= wait {
		return false, nil
	}
	message := p.pick(p.settings.Messages.JoinChat, p.settings.Messages.JoinCommand)
	return p.block("join", p.render(message, map[string]string{"seconds": strconv.FormatInt(wait-playtime, 10)})), nil
}

func (p *pass) delay() (bool, error) {
	if p.sender.Origin() == sender.OriginConsole || p.sender.HasPermission(p.pick(BypassDelayChat, BypassDelayCommand)) {
		return false, nil
	}
	last := p.checker.history.Last(p.sender.ID(), p.kind, 1, p.channel)
	if len(last) == 0 {
		return false, nil
	}
	limits := p.settings.limits(p.kind)
	if limits.WhitelistDelay.Matches(p.res.Message) {
		return false, nil
	}

	delay := limits.Delay.Duration
	if p.kind == KindChat && p.channel != "" {
		if channelDelay, ok := p.settings.Chat.ChannelDelays[p.channel]; ok {
			delay = channelDelay.Duration
		}
	}
	wait := timeutil.Seconds(delay)
	elapsed := timeutil.ElapsedSeconds(p.now, last[0].Time)
	if wait <= elapsed {
		return false, nil
	}

	remaining := strconv.FormatInt(wait-elapsed, 10)
	trigger := p.settings.Triggers.ChatDelay
	if p.kind == KindCommand {
		trigger = p.settings.Triggers.CommandDelay
	}
	message := p.pick(p.settings.Messages.DelayChat, p.settings.Messages.DelayCommand)
	return p.escalate("delay", trigger, p.render(message, map[string]string{"seconds": remaining}),
		map[string]string{"remaining_time": remaining}), nil
}

func (p *pass) period() (bool, error) {
	if p.sender.HasPermission(BypassPeriod) {
		return false, nil
	}
	limits := p.settings.limits(p.kind)
	if limits.LimitMax <= 0 || limits.LimitPeriod.Duration <= 0 {
		return false, nil
	}
	count := p.checker.history.CountSince(p.sender.ID(), p.kind, p.now.Add(-limits.LimitPeriod.Duration), p.channel)
	if count < limits.LimitMax {
		return false, nil
	}

	limit := strconv.Itoa(limits.LimitMax)
	trigger := p.settings.Triggers.ChatLimit
	if p.kind == KindCommand {
		trigger = p.settings.Triggers.CommandLimit
	}
	warning := p.render(p.settings.Messages.Period, map[string]string{
		"max":    limit,
		"type":   p.pick("messages", "commands"),
		"period": limits.LimitPeriod.String(),
	})
	return p.escalate("period", trigger, warning, map[string]string{"messages_in_period": limit}), nil
}

func (p *pass) caps() (bool, error) {
	caps := p.settings.AntiCaps
	enabled := caps.Enabled
	if p.kind == KindCommand {
		enabled = containsFold(caps.EnabledInCommands, p.label)
	}
	message := p.res.Message
	if !enabled || p.sender.HasPermission(BypassCaps) || utf8.RuneCountInString(message) < caps.MinMessageLength {
		return false, nil
	}

	names := make(map[string]bool)
	for _, online := range p.checker.online() {
		names[strings.ToLower(online.Name())] = true
	}
	words := strings.Split(textutil.StripColors(message), " ")
	for i, word := range words {
		if isOnlineName(names, word) {
			words[i] = strings.ToLower(word)
		}
	}
	stats := strings.Join(words, " ")

	percentage := int(math.Round(textutil.CapsPercentage(stats) * 100))
	overPercentage := caps.MinCapsPercentage > 0 && percentage >= int(math.Round(float64(caps.MinCapsPercentage)*100))
	overRow := caps.MinCapsInRow > 0 && textutil.CapsInRow(stats, caps.Whitelist.Contains) >= caps.MinCapsInRow
	if !overPercentage && !overRow {
		return false, nil
	}

	rewritten := lowerCaps(message, names, caps.Whitelist)
	if rewritten == message {
		return false, nil
	}
	p.setMessage(rewritten, "caps")

	warning := p.render(p.settings.Messages.Caps, map[string]string{"type": p.pick("message", "command")})
	verdict := p.verdict(p.settings.Triggers.Caps, warning, map[string]string{
		"caps_percentage_double": strconv.FormatFloat(float64(percentage)/100, 'f', -1, 64),
	})
	p.res.Effects = append(p.res.Effects, verdict.Effects...)
	if verdict.Cancel && verdict.Message != "" {
		p.pending = append(p.pending, p.tell(verdict.Message))
	}
	return false, nil
}

// lowerCaps lowercases message word by word. The first word of a sentence
// keeps its first letter. Domains, online names and whitelisted words are
// left as typed.
func lowerCaps(message string, names map[string]bool, whitelist Whitelist) string {
	words := strings.Split(message, " ")
	lowerAll := false
	for i, word := range words {
		if word == "" {
			continue
		}
		if textutil.IsDomain(word) {
			lowerAll = true
			continue
		}
		if whitelist.Contains(word) {
			lowerAll = true
			continue
		}
		if isOnlineName(names, word) {
			continue
		}

		if lowerAll {
			words[i] = strings.ToLower(word)
		} else {
			first, size := utf8.DecodeRuneInString(word)
			words[i] = string(first) + strings.ToLower(word[size:])
		}
		lowerAll = !strings.HasSuffix(words[i], ".") && !strings.HasSuffix(words[i], "!") && !strings.HasSuffix(words[i], "?")
	}
	return strings.Join(words, " ")
}

// isOnlineName reports whether word, ignoring surrounding punctuation, is the
// name of an online player.
func isOnlineName(names map[string]bool, word string) bool {
	name := strings.TrimFunc(word, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	return name != "" && names[strings.ToLower(name)]
}

func (p *pass) filterRules() (bool, error) {
	if p.checker.rules == nil {
		return false, nil
	}
	out, err := p.checker.rules.Evaluate(p.ctx, runtime.Event{
		Category: p.kind.category(),
		Sender:   p.sender,
		Message:  p.res.Message,
		Channel:  p.channel,
	})
	if err != nil {
		return false, err
	}

	p.res.Effects = append(p.res.Effects, out.Effects...)
	p.res.Matched = append(p.res.Matched, out.Matched...)
	p.res.LoggingIgnored = p.res.LoggingIgnored || out.LoggingIgnored
	p.res.SpyingIgnored = p.res.SpyingIgnored || out.SpyingIgnored
	if out.Changed {
		p.setMessage(out.Message, "rules")
	}
	if out.CancelledSilently {
		p.res.CancelledSilently = true
	}
	if out.Cancelled {
		p.res.Cancelled = true
		p.res.Check = "rules"
		blocksTotal.WithLabelValues(string(p.kind), "rules").Inc()
		return true, nil
	}
	return false, nil
}

func (p *pass) similarity() (bool, error) {
	if p.sender.HasPermission(p.pick(BypassSimilarityChat, BypassSimilarityCommand)) {
		return false, nil
	}
	limits := p.settings.limits(p.kind)
	threshold := float64(limits.Similarity)
	if threshold <= 0 {
		return false, nil
	}
	startAt := limits.SimilarityStartAt
	if startAt < 1 {
		startAt = 1
	}
	trigger := p.settings.Triggers.ChatSimilarity
	if p.kind == KindCommand {
		trigger = p.settings.Triggers.CommandSimilarity
	}

	breaches := 0
	for _, output := range p.checker.history.Last(p.sender.ID(), p.kind, limits.SimilarityPast, p.channel) {
		if p.now.Sub(output.Time) > limits.SimilarityForgive.Duration {
			continue
		}
		fields := strings.Fields(output.Text)
		if p.kind == KindCommand {
			if minArgs := p.settings.Commands.SimilarityMinArgs; minArgs > 0 && len(fields)-1 < minArgs {
				continue
			}
			if len(fields) > 0 && limits.WhitelistSimilarity.Contains(fields[0]) {
				continue
			}
		} else if limits.WhitelistSimilarity.Matches(output.Text) {
			continue
		}

		score := textutil.Similarity(output.Text, p.res.Message)
		if score < threshold {
			continue
		}
		if breaches++; breaches < startAt {
			continue
		}

		message := p.pick(p.settings.Messages.SimilarChat, p.settings.Messages.SimilarCommand)
		warning := p.render(message, map[string]string{"similarity": strconv.Itoa(int(math.Round(score * 100)))})
		if p.escalate("similarity", trigger, warning, map[string]string{
			"similarity_percentage_double": strconv.FormatFloat(threshold, 'f', -1, 64),
		}) {
			return true, nil
		}
	}
	return false, nil
}

func (p *pass) grammar() {
	if p.kind != KindChat || p.sender.HasPermission(BypassGrammar) {
		return
	}
	g := p.settings.Grammar
	if g.CapitalizeMinLength > 0 && utf8.RuneCountInString(p.res.Message) >= g.CapitalizeMinLength {
		p.setMessage(textutil.CapitalizeFirst(p.res.Message), "grammar")
	}
	if g.InsertDotMinLength > 0 && utf8.RuneCountInString(p.res.Message) >= g.InsertDotMinLength {
		p.setMessage(textutil.InsertDot(p.res.Message), "grammar")
	}
}
