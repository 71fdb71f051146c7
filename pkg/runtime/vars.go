// chatguard/pkg/runtime/vars.go

package runtime

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"

	"rgehrsitz/chatguard/pkg/rules"
	"rgehrsitz/chatguard/pkg/sender"
	"rgehrsitz/chatguard/pkg/textutil"
	"rgehrsitz/chatguard/pkg/timeutil"
)

// variables builds the {token} map for templates rendered on behalf of who.
func (c *check) variables(op *rules.Operator, who sender.Sender) map[string]string {
	vars := make(map[string]string, 24)
	for k, v := range c.event.Variables {
		vars[k] = v
	}

	origin := c.event.Sender
	vars["player"] = who.Name()
	vars["sender"] = origin.Name()
	vars["uuid"] = who.ID()
	vars["world"] = who.World()
	vars["channel"] = c.event.Channel
	vars["message"] = c.out.Message
	vars["original_message"] = c.out.Original
	vars["rule_type"] = string(c.event.Category)

	for _, key := range who.DataKeys() {
		if value, ok := who.Data(key); ok && value != nil {
			vars["data_"+key] = fmt.Sprint(value)
		}
	}

	if c.rule != nil {
		vars["rule_name"] = c.rule.Label
		vars["rule_group"] = c.rule.Group
		vars["rule_match"] = c.rule.Match
		vars["ruleID"] = c.rule.Label
	}
	if c.group != nil && op == &c.group.Operator {
		vars["group_name"] = c.group.Name
	}
	vars["rule_fine"] = strconv.FormatFloat(op.Actions.Fine, 'f', -1, 64)

	if op.Delay != nil {
		vars["delay"] = c.remaining(op.Delay, op.ID(), "")
	}
	if op.PlayerDelay != nil {
		vars["player_delay"] = c.remaining(op.PlayerDelay, op.ID(), origin.ID())
	}

	if c.receiver != nil {
		vars["receiver"] = c.receiver.Name()
		vars["receiver_uuid"] = c.receiver.ID()
		vars["broadcast_group"] = op.Name
	}

	if c.match != nil {
		vars["matched_message"] = strings.TrimSpace(c.match.String())
	}
	return vars
}

// remaining is the cooldown left in whole seconds, or "" when it ran out.
func (c *check) remaining(cd *rules.Cooldown, operator, senderID string) string {
	elapsed := timeutil.ElapsedSeconds(c.now, c.engine.state.LastExecuted(operator, senderID))
	limit := timeutil.Seconds(cd.Duration)
	if elapsed >= limit {
		return ""
	}
	return strconv.FormatInt(limit-elapsed, 10)
}

// render substitutes host placeholders, then {tokens}, then capture groups.
func (c *check) render(op *rules.Operator, who sender.Sender, template string) string {
	template = c.renderTokens(op, who, template)
	if template != "" && c.match != nil {
		template = substituteGroups(template, c.match, true)
	}
	return template
}

// renderTokens leaves $n alone so a replacement can use the groups of each
// match it replaces.
func (c *check) renderTokens(op *rules.Operator, who sender.Sender, template string) string {
	if template == "" {
		return ""
	}
	if r := c.engine.opts.Resolver; r != nil {
		template = r.Resolve(template, who)
	}
	return textutil.Render(template, c.variables(op, who))
}

// substituteGroups replaces $n with capture group n, from the highest index
// down so "$10" is not read as "$1" followed by "0". A group that did not
// participate becomes "".
func substituteGroups(template string, m *regexp2.Match, trim bool) string {
	if !strings.Contains(template, "$") {
		return template
	}
	groups := m.Groups()
	for i := len(groups) - 1; i >= 0; i-- {
		value := ""
		if len(groups[i].Captures) > 0 {
			value = groups[i].String()
		}
		if trim {
			value = strings.TrimSpace(value)
		}
		template = strings.ReplaceAll(template, "$"+strconv.Itoa(i), value)
	}
	return template
}

// scriptVars binds a sender as the "player" object scripts see.
func scriptVars(who sender.Sender) map[string]interface{} {
	return map[string]interface{}{
		"player": map[string]interface{}{
			"name":     who.Name(),
			"uuid":     who.ID(),
			"world":    who.World(),
			"gamemode": who.GameMode(),
			"muted":    who.Muted(),
			"origin":   string(who.Origin()),
		},
	}
}
