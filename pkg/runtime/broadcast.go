// chatguard/pkg/runtime/broadcast.go

package runtime

import (
	"context"
	"time"

	"rgehrsitz/chatguard/pkg/action"
	"rgehrsitz/chatguard/pkg/logging"
	"rgehrsitz/chatguard/pkg/rules"
	"rgehrsitz/chatguard/pkg/sender"
	"rgehrsitz/chatguard/pkg/timeutil"
)

// noMessage is the body authors use for a group that only runs actions.
const noMessage = "none"

// Broadcast evaluates the category's message operators for one originator
// and every receiver. Each receiver that passes gets a deliver effect with
// the picked message. Console-class actions fire once per broadcast, on
// the first delivery.
func (e *Engine) Broadcast(ctx context.Context, set *rules.Set, ev Event) (*Outcome, error) {
	start := time.Now()
	c := e.newCheck(ctx, ev)

	receivers := ev.Receivers
	if receivers == nil {
		receivers = e.host.Online()
	}

	err := c.runMessages(set, receivers)
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

func (c *check) runMessages(set *rules.Set, receivers []sender.Sender) error {
	if set == nil {
		return nil
	}
	delivered := make(map[string]bool)
	stopOnFirst := c.engine.opts.stopsOnFirstMatch(c.event.Category)

	for _, m := range set.Messages[c.event.Category] {
		if c.event.Only != "" && m.Name != c.event.Only {
			continue
		}
		v, err := c.filterMessage(m, receivers, delivered, stopOnFirst)
		if err != nil {
			return err
		}
		if v == halt {
			return nil
		}
		if m.Abort && v == pass {
			c.out.aborted = true
			return nil
		}
	}

	if c.event.Only != "" && !set.HasMessage(c.event.Category, c.event.Only) {
		logging.Logger.Debug().Str("category", string(c.event.Category)).Str("operator", c.event.Only).Msg("Message is no longer loaded, skipping")
	}
	return nil
}

// filterMessage returns pass when the operator delivered to at least one
// receiver.
func (c *check) filterMessage(m *rules.Message, receivers []sender.Sender, delivered map[string]bool, stopOnFirst bool) (verdict, error) {
	op := &m.Operator
	if v := c.broadcastCooldowns(m); v != pass {
		return v, nil
	}

	c.picked = ""
	picked := false
	result := skip

	for _, receiver := range receivers {
		if stopOnFirst && delivered[receiver.ID()] {
			continue
		}
		if receiver.Ignores(string(m.Category), m.Name) {
			continue
		}

		c.receiver = receiver
		v, err := c.admits(op)
		if err != nil || v == halt {
			c.receiver = nil
			return v, err
		}
		if v != pass {
			continue
		}

		if !picked {
			c.picked = c.nextMessage(m)
			picked = true
			c.out.Matched = append(c.out.Matched, op.ID())
			matchesTotal.WithLabelValues(string(m.Category), m.Name).Inc()
		}

		v, err = c.deliver(m)
		c.receiver = nil
		if err != nil || v == halt {
			return v, err
		}
		delivered[receiver.ID()] = true
		result = pass
	}
	c.receiver = nil
	return result, nil
}

// broadcastCooldowns gate the whole broadcast before any receiver is
// considered. A timed message with no timestamp yet was just loaded: it is
// scheduled from now instead of firing at once.
func (c *check) broadcastCooldowns(m *rules.Message) verdict {
	op := &m.Operator
	for _, step := range []struct {
		cd       *rules.Cooldown
		senderID string
	}{
		{op.Delay, ""},
		{op.PlayerDelay, c.event.Sender.ID()},
	} {
		if step.cd == nil {
			continue
		}
		last := c.engine.state.LastExecuted(op.ID(), step.senderID)
		if last.IsZero() && m.Category == rules.CategoryTimed {
			c.engine.state.MarkExecuted(op.ID(), step.senderID, c.now)
			return skip
		}
		if timeutil.ElapsedSeconds(c.now, last) < timeutil.Seconds(step.cd.Duration) {
			return skip
		}
		c.engine.state.MarkExecuted(op.ID(), step.senderID, c.now)
	}
	return pass
}

func (c *check) nextMessage(m *rules.Message) string {
	switch {
	case len(m.Messages) == 0:
		return ""
	case m.Random:
		return c.pick(m.Messages)
	default:
		return m.Messages[c.engine.state.NextIndex(m.ID(), len(m.Messages))]
	}
}

// deliver sends the picked message to the current receiver and runs the
// operator's actions for this delivery.
func (c *check) deliver(m *rules.Message) (verdict, error) {
	op := &m.Operator
	s := c.event.Sender

	if c.picked != "" && c.picked != noMessage {
		text := c.render(op, s, m.Prefix+c.picked+m.Suffix)

		c.out.emit(action.Effect{Kind: action.KindDeliver, Sender: s.ID(), Target: c.receiver.ID(), Text: text, Args: map[string]string{"group": m.Name}})
		if c.firstRun && m.Proxy {
			c.out.emit(action.Effect{Kind: action.KindProxyForward, Sender: s.ID(), Target: "proxy", Text: text})
		}
	}

	if s.Origin() != sender.OriginConsole {
		for _, command := range m.ForeachConsole {
			c.out.emit(action.Effect{Kind: action.KindConsoleCommand, Sender: s.ID(), Target: c.receiver.ID(), Text: c.render(op, s, command)})
		}
	}

	v, err := c.runActions(op)
	c.firstRun = false
	return v, err
}
