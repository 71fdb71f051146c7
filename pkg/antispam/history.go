// chatguard/pkg/antispam/history.go

package antispam

import (
	"sync"
	"time"

	"rgehrsitz/chatguard/pkg/sender"
)

// Output is one message or command a sender produced.
type Output struct {
	Text    string
	Channel string
	Time    time.Time
}

type session struct {
	joined       time.Time
	joinLocation sender.Location
	hasJoin      bool
	moved        bool
	flooded      bool
}

type record struct {
	session
	outputs map[Kind][]Output
}

// History keeps the rolling per-sender state the stages read.
type History struct {
	mu      sync.Mutex
	records map[string]*record
}

func NewHistory() *History {
	return &History{records: make(map[string]*record)}
}

func (h *History) get(id string) *record {
	r, ok := h.records[id]
	if !ok {
		r = &record{outputs: make(map[Kind][]Output)}
		h.records[id] = r
	}
	return r
}

// Last returns up to n most recent outputs of kind, oldest first. A non-empty
// channel restricts the result to that channel.
func (h *History) Last(id string, kind Kind, n int, channel string) []Output {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.records[id]
	if !ok || n <= 0 {
		return nil
	}
	var out []Output
	list := r.outputs[kind]
	for i := len(list) - 1; i >= 0 && len(out) < n; i-- {
		if channel != "" && list[i].Channel != channel {
			continue
		}
		out = append(out, list[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// CountSince counts outputs of kind produced after since.
func (h *History) CountSince(id string, kind Kind, since time.Time, channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.records[id]
	if !ok {
		return 0
	}
	count := 0
	for _, o := range r.outputs[kind] {
		if o.Time.After(since) && (channel == "" || o.Channel == channel) {
			count++
		}
	}
	return count
}

// LastChat returns the sender's most recent chat message.
func (h *History) LastChat(id string) (Output, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.records[id]
	if !ok || len(r.outputs[KindChat]) == 0 {
		return Output{}, false
	}
	list := r.outputs[KindChat]
	return list[len(list)-1], true
}

// Record appends an output and keeps at most size entries of its kind.
func (h *History) Record(id string, kind Kind, o Output, size int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.get(id)
	list := append(r.outputs[kind], o)
	if size > 0 && len(list) > size {
		list = append([]Output(nil), list[len(list)-size:]...)
	}
	r.outputs[kind] = list
}

// Join starts a new session: the join location, the login time and the flood
// flag are reset.
func (h *History) Join(id string, at time.Time, location sender.Location) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.get(id).session = session{joined: at, joinLocation: location, hasJoin: true}
}

// Move marks the sender as moved once location leaves the join block.
func (h *History) Move(id string, location sender.Location) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.records[id]
	if !ok || !r.hasJoin {
		return false
	}
	if !r.moved && location != r.joinLocation {
		r.moved = true
	}
	return r.moved
}

func (h *History) sessionOf(id string) session {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.records[id]
	if !ok {
		return session{}
	}
	return r.session
}

// flag marks the sender as remediated for the current flood. It returns false
// when the sender was already flagged.
func (h *History) flag(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.get(id)
	if r.flooded {
		return false
	}
	r.flooded = true
	return true
}

func (h *History) Forget(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.records, id)
}

// Prune drops outputs older than before and senders left with nothing. Join
// state of a sender still in session is kept.
func (h *History) Prune(before time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	for id, r := range h.records {
		for kind, list := range r.outputs {
			kept := list[:0]
			for _, o := range list {
				if o.Time.Before(before) {
					removed++
					continue
				}
				kept = append(kept, o)
			}
			if len(kept) == 0 {
				delete(r.outputs, kind)
			} else {
				r.outputs[kind] = kept
			}
		}
		if len(r.outputs) == 0 && !r.hasJoin {
			delete(h.records, id)
		}
	}
	return removed
}

// Len returns the number of tracked senders.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}
