// chatguard/cmd/chatguardd/events.go

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"rgehrsitz/chatguard/pkg/action"
	"rgehrsitz/chatguard/pkg/antispam"
	"rgehrsitz/chatguard/pkg/logging"
	"rgehrsitz/chatguard/pkg/rules"
	"rgehrsitz/chatguard/pkg/runtime"
	"rgehrsitz/chatguard/pkg/sender"
	"rgehrsitz/chatguard/pkg/warnings"
)

// Event kinds accepted on the events channel.
const (
	EventChat      = "chat"
	EventCommand   = "command"
	EventRule      = "rule"
	EventBroadcast = "broadcast"
	EventJoin      = "join"
	EventMove      = "move"
	EventQuit      = "quit"
)

// Event is the JSON the host publishes for every occurrence.
type Event struct {
	ID              string             `json:"id,omitempty"`
	Kind            string             `json:"kind"`
	Category        rules.Category     `json:"category,omitempty"`
	Sender          *sender.Snapshot   `json:"sender,omitempty"`
	ReceiversOnline []*sender.Snapshot `json:"receivers_online,omitempty"`
	Message         string             `json:"message"`
	Channel         string             `json:"channel,omitempty"`
	Variables       map[string]string  `json:"variables,omitempty"`
	Only            string             `json:"only,omitempty"`
}

// Decision is published for every evaluated event.
type Decision struct {
	ID                string         `json:"id"`
	Kind              string         `json:"kind"`
	Category          rules.Category `json:"category,omitempty"`
	Sender            string         `json:"sender,omitempty"`
	Message           string         `json:"message"`
	Original          string         `json:"original"`
	Changed           bool           `json:"changed"`
	Cancelled         bool           `json:"cancelled"`
	CancelledSilently bool           `json:"cancelled_silently"`
	LoggingIgnored    bool           `json:"logging_ignored"`
	SpyingIgnored     bool           `json:"spying_ignored"`
	Check             string         `json:"check,omitempty"`
	Matched           []string       `json:"matched,omitempty"`
	Effects           int            `json:"effects"`
}

func decodeEvent(payload []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, logging.NewError(logging.ErrorTypeParse, "invalid event payload", err, map[string]interface{}{"payload": string(payload)})
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Sender == nil && ev.Kind != EventBroadcast && ev.Kind != EventRule {
		return nil, logging.NewError(logging.ErrorTypeParse, fmt.Sprintf("%s event has no sender", ev.Kind), nil, map[string]interface{}{"event": ev.ID})
	}
	return &ev, nil
}

func (ev *Event) sender() sender.Sender {
	if ev.Sender == nil {
		return sender.Console
	}
	return ev.Sender
}

func (ev *Event) runtimeEvent(category rules.Category) runtime.Event {
	return runtime.Event{
		Category:  category,
		Sender:    ev.sender(),
		Message:   ev.Message,
		Channel:   ev.Channel,
		Variables: ev.Variables,
		Only:      ev.Only,
	}
}

// handle evaluates one event. Move events update state only and return no
// decision.
func (d *Dependencies) handle(ctx context.Context, ev *Event) (*Decision, []action.Effect, error) {
	if ev.ReceiversOnline != nil {
		d.Roster.Replace(ev.ReceiversOnline)
	}
	if ev.Sender != nil {
		d.hydrate(ctx, ev.Sender)
		if ev.Kind != EventQuit {
			d.Roster.Put(ev.Sender)
		}
	}

	switch ev.Kind {
	case EventChat, EventCommand:
		kind := antispam.KindChat
		if ev.Kind == EventCommand {
			kind = antispam.KindCommand
		}
		res, err := d.Checker.Check(ctx, kind, ev.Sender, ev.Message, ev.Channel)
		if err != nil {
			return nil, nil, err
		}
		return fromResult(ev, res), res.Effects, nil

	case EventRule:
		category := ev.Category
		if category == "" {
			category = rules.CategoryGlobal
		}
		out, err := d.Registry.Evaluate(ctx, ev.runtimeEvent(category))
		if err != nil {
			return nil, nil, err
		}
		return fromOutcome(ev, category, out), out.Effects, nil

	case EventBroadcast:
		return d.broadcast(ctx, ev, ev.Category)

	case EventJoin:
		d.Checker.RecordJoin(ev.Sender, ev.Sender.Location())
		return d.broadcast(ctx, ev, rules.CategoryJoin)

	case EventMove:
		d.Checker.RecordMove(ev.Sender, ev.Sender.Location())
		return nil, nil, nil

	case EventQuit:
		decision, effects, err := d.broadcast(ctx, ev, rules.CategoryQuit)
		d.Checker.Forget(ev.Sender.ID())
		d.Roster.Remove(ev.Sender.ID())
		return decision, effects, err
	}

	return nil, nil, logging.NewError(logging.ErrorTypeUnimplemented, fmt.Sprintf("no handler for event kind %q", ev.Kind), nil,
		map[string]interface{}{"event": ev.ID})
}

func (d *Dependencies) broadcast(ctx context.Context, ev *Event, category rules.Category) (*Decision, []action.Effect, error) {
	out, err := d.Registry.Broadcast(ctx, ev.runtimeEvent(category))
	if err != nil {
		return nil, nil, err
	}
	return fromOutcome(ev, category, out), out.Effects, nil
}

// hydrate fills in persisted data the host did not send with the sender.
func (d *Dependencies) hydrate(ctx context.Context, s *sender.Snapshot) {
	data, err := d.Store.AllData(ctx, s.ID())
	if err != nil {
		logging.LogError(logging.Logger, err)
		return
	}
	for key, value := range data {
		if s.Values == nil {
			s.Values = make(map[string]interface{}, len(data))
		}
		if _, ok := s.Values[key]; !ok {
			s.Values[key] = value
		}
	}
}

func fromResult(ev *Event, res *antispam.Result) *Decision {
	return &Decision{
		ID:                ev.ID,
		Kind:              ev.Kind,
		Sender:            ev.sender().ID(),
		Message:           res.Message,
		Original:          res.Original,
		Changed:           res.Changed,
		Cancelled:         res.Cancelled,
		CancelledSilently: res.CancelledSilently,
		LoggingIgnored:    res.LoggingIgnored,
		SpyingIgnored:     res.SpyingIgnored,
		Check:             res.Check,
		Matched:           res.Matched,
		Effects:           len(res.Effects),
	}
}

func fromOutcome(ev *Event, category rules.Category, out *runtime.Outcome) *Decision {
	return &Decision{
		ID:                ev.ID,
		Kind:              ev.Kind,
		Category:          category,
		Sender:            ev.sender().ID(),
		Message:           out.Message,
		Original:          out.Original,
		Changed:           out.Changed,
		Cancelled:         out.Cancelled,
		CancelledSilently: out.CancelledSilently,
		LoggingIgnored:    out.LoggingIgnored,
		SpyingIgnored:     out.SpyingIgnored,
		Matched:           out.Matched,
		Effects:           len(out.Effects),
	}
}

// loadSettings reads the antispam settings and the warning_points section
// from one YAML document. An empty path yields the defaults.
func loadSettings(path string) (*antispam.Settings, *warnings.Config, error) {
	if path == "" {
		return antispam.DefaultSettings(), warnings.DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, logging.NewError(logging.ErrorTypeConfig, "failed to read settings", err, map[string]interface{}{"file": path})
	}

	settings, err := antispam.ParseSettings(data)
	if err != nil {
		return nil, nil, err
	}

	var doc struct {
		WarningPoints yaml.Node `yaml:"warning_points"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, logging.NewError(logging.ErrorTypeConfig, "invalid settings", err, map[string]interface{}{"file": path})
	}
	points := warnings.DefaultConfig()
	if !doc.WarningPoints.IsZero() {
		if err := doc.WarningPoints.Decode(points); err != nil {
			return nil, nil, logging.NewError(logging.ErrorTypeConfig, "invalid warning points settings", err, map[string]interface{}{"file": path})
		}
		if err := points.Validate(); err != nil {
			return nil, nil, err
		}
	}
	return settings, points, nil
}
