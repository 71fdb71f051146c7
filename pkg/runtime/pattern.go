// chatguard/pkg/runtime/pattern.go

package runtime

import (
	"strings"
	"unicode/utf8"

	"github.com/dlclark/regexp2"

	"rgehrsitz/chatguard/pkg/logging"
	"rgehrsitz/chatguard/pkg/rules"
	"rgehrsitz/chatguard/pkg/sender"
	"rgehrsitz/chatguard/pkg/textutil"
)

// prolongPrefix makes a replacement repeat to the length of the match, so
// "@prolong *" turns "idiot" into "*****".
const prolongPrefix = "@prolong "

func (e *Engine) stripsColors(rule *rules.Rule) bool {
	if rule != nil && rule.StripColors != nil {
		return *rule.StripColors
	}
	return e.opts.StripColors
}

func (e *Engine) stripsAccents(rule *rules.Rule) bool {
	if rule != nil && rule.StripAccents != nil {
		return *rule.StripAccents
	}
	return e.opts.StripAccents
}

// normalize applies before-replace substitutions in declaration order and
// then the strip flags. Matching and partial replacement both see text
// normalized this way.
func (e *Engine) normalize(text string, rw *rules.Rewrite, rule *rules.Rule) string {
	for _, r := range rw.BeforeReplace {
		replaced, err := r.Pattern.Replace(text, r.With, -1, -1)
		if err != nil {
			logging.Logger.Warn().Err(err).Str("pattern", r.Pattern.String()).Msg("Before replace pattern timed out")
			continue
		}
		text = replaced
	}
	if e.stripsColors(rule) {
		text = textutil.StripColors(text)
	}
	if e.stripsAccents(rule) {
		text = textutil.StripAccents(text)
	}
	return text
}

// matchInput is the text a rule's pattern runs against.
func (c *check) matchInput(rule *rules.Rule, group *rules.Group) string {
	text := c.engine.normalize(c.out.Message, &rule.Rewrite, rule)

	if c.event.Category == rules.CategoryCommand {
		dropPrefix := rule.IgnoreCommandPrefix || (group != nil && group.IgnoreCommandPrefix)
		if label, rest, found := strings.Cut(text, " "); found && dropPrefix && label != "" {
			text = rest
		}
	}
	return text
}

// rewrite applies the first applicable strategy: a rewrite for the sender's
// world, an unconditional rewrite, or a replacement of the matched spans.
func (c *check) rewrite(op *rules.Operator, rw *rules.Rewrite, rule *rules.Rule) {
	s := c.event.Sender

	if s.Origin() == sender.OriginPlayer {
		if list := rw.WorldRewrites[s.World()]; len(list) > 0 {
			c.out.setMessage(c.render(op, s, c.pick(list)))
			return
		}
	}
	if len(rw.Rewrites) > 0 {
		c.out.setMessage(c.render(op, s, c.pick(rw.Rewrites)))
		return
	}
	if c.match == nil || c.rule == nil || len(rw.Replacements) == 0 {
		return
	}

	text := c.engine.normalize(c.out.Message, rw, rule)
	replacement := c.renderTokens(op, s, c.pick(rw.Replacements))
	replaced, err := replaceMatches(c.rule.Pattern, text, replacement)
	if err != nil {
		logging.Logger.Warn().Err(err).Str("operator", op.String()).Msg("Replacement timed out")
		return
	}
	if replaced != text {
		c.out.setMessage(replaced)
	}
}

// replaceMatches replaces every match of re in text. Capture groups are
// available to the replacement as $n.
func replaceMatches(re *regexp2.Regexp, text, replacement string) (string, error) {
	return re.ReplaceFunc(text, func(m regexp2.Match) string {
		if strings.HasPrefix(replacement, prolongPrefix) {
			return prolong(strings.TrimPrefix(replacement, prolongPrefix), utf8.RuneCountInString(m.String()))
		}
		return substituteGroups(replacement, &m, false)
	}, -1, -1)
}

func prolong(fill string, length int) string {
	if fill == "" || length <= 0 {
		return ""
	}
	runes := []rune(strings.Repeat(fill, length/utf8.RuneCountInString(fill)+1))
	return string(runes[:length])
}
