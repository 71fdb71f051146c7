// chatguard/pkg/runtime/state.go

package runtime

import (
	"sync"
	"time"
)

// WarnDedupeWindow suppresses the same warn message to the same sender.
const WarnDedupeWindow = 500 * time.Millisecond

type stateKey struct {
	operator string
	sender   string
}

// State is the mutable runtime side of loaded operators: cooldown
// timestamps, message cycle positions and recently shown warnings. Parsed
// operators never change, so a reload may keep or drop State on its own.
type State struct {
	mu       sync.Mutex
	executed map[stateKey]time.Time
	cycles   map[string]int
	warned   map[stateKey]time.Time
}

func NewState() *State {
	return &State{
		executed: make(map[stateKey]time.Time),
		cycles:   make(map[string]int),
		warned:   make(map[stateKey]time.Time),
	}
}

// LastExecuted returns when the operator last fired for the sender. An
// empty sender id is the operator's global timestamp.
func (s *State) LastExecuted(operator, senderID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executed[stateKey{operator, senderID}]
}

func (s *State) MarkExecuted(operator, senderID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed[stateKey{operator, senderID}] = at
}

// NextIndex returns the cyclic position for an operator's message list and
// advances it.
func (s *State) NextIndex(operator string, size int) int {
	if size <= 1 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.cycles[operator]
	if i >= size {
		i = 0
	}
	s.cycles[operator] = i + 1
	return i
}

// ShouldWarn records a warning for the sender unless the same warning was
// shown within WarnDedupeWindow.
func (s *State) ShouldWarn(warnID, senderID string, now time.Time) bool {
	key := stateKey{warnID, senderID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.warned[key]; ok && now.Sub(last) <= WarnDedupeWindow {
		return false
	}
	s.warned[key] = now
	return true
}

// Reset drops every timestamp and cycle position.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executed = make(map[stateKey]time.Time)
	s.cycles = make(map[string]int)
	s.warned = make(map[stateKey]time.Time)
}

// Forget drops the per-sender entries of a sender that left.
func (s *State) Forget(senderID string) {
	if senderID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.executed {
		if key.sender == senderID {
			delete(s.executed, key)
		}
	}
	for key := range s.warned {
		if key.sender == senderID {
			delete(s.warned, key)
		}
	}
}

// Prune drops per-sender timestamps older than before and returns how many
// were removed. Global timestamps are kept.
func (s *State) Prune(before time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, at := range s.executed {
		if key.sender != "" && at.Before(before) {
			delete(s.executed, key)
			removed++
		}
	}
	for key, at := range s.warned {
		if at.Before(before) {
			delete(s.warned, key)
			removed++
		}
	}
	return removed
}

// Len is the number of tracked timestamps.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.executed) + len(s.warned)
}
