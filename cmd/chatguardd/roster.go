// chatguard/cmd/chatguardd/roster.go

package main

import (
	"sort"
	"sync"

	"rgehrsitz/chatguard/pkg/sender"
)

// Roster tracks the senders the host reports online. It is the daemon's
// runtime.Host.
type Roster struct {
	mu      sync.RWMutex
	senders map[string]*sender.Snapshot
}

func NewRoster() *Roster {
	return &Roster{senders: make(map[string]*sender.Snapshot)}
}

// Put adds or refreshes a player. The console is never online.
func (r *Roster) Put(s *sender.Snapshot) {
	if s.Origin() != sender.OriginPlayer {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[s.ID()] = s
}

// Replace makes list the full set of online players.
func (r *Roster) Replace(list []*sender.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.senders = make(map[string]*sender.Snapshot, len(list))
	for _, s := range list {
		if s != nil && s.Origin() == sender.OriginPlayer {
			r.senders[s.ID()] = s
		}
	}
}

func (r *Roster) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.senders, id)
}

func (r *Roster) Get(id string) (*sender.Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[id]
	return s, ok
}

// SetData replaces the stored snapshot with a copy carrying the new value.
// A nil value removes the key.
func (r *Roster) SetData(id, key string, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.senders[id]
	if !ok {
		return
	}
	updated := *s
	updated.Values = make(map[string]interface{}, len(s.Values)+1)
	for k, v := range s.Values {
		updated.Values[k] = v
	}
	if value == nil {
		delete(updated.Values, key)
	} else {
		updated.Values[key] = value
	}
	r.senders[id] = &updated
}

// Online returns the players ordered by id.
func (r *Roster) Online() []sender.Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.senders))
	for id := range r.senders {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	online := make([]sender.Sender, 0, len(ids))
	for _, id := range ids {
		online = append(online, r.senders[id])
	}
	return online
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.senders)
}
