package detection

import (
	"sync"

	"github.com/auraspark/companion/backend/internal/model/conversation"
)

// DefaultMaxRounds is how many scripted exchanges run before free-form chat
// unlocks when the platform does not say otherwise.
const DefaultMaxRounds = 5

// State tracks the scripted three-choice bootstrap protocol for one session.
// Rounds only move forward, completion is a one-way transition, and once the
// protocol completes the option set stays permanently empty.
type State struct {
	mu        sync.RWMutex
	round     int
	complete  bool
	options   []conversation.ReplyOption
	maxRounds int
}

// NewState returns a fresh protocol state at round zero.
func NewState(maxRounds int) *State {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &State{maxRounds: maxRounds}
}

// Snapshot is a read-only view of the protocol state.
type Snapshot struct {
	Round      int                        `json:"round"`
	IsComplete bool                       `json:"isComplete"`
	Options    []conversation.ReplyOption `json:"replyOptions,omitempty"`
}

// Snapshot returns the current state for the UI.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Round:      s.round,
		IsComplete: s.complete,
		Options:    append([]conversation.ReplyOption(nil), s.options...),
	}
}

// IsComplete reports whether free-form chat has unlocked.
func (s *State) IsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.complete
}

// Option returns the reply option at index from the current set.
func (s *State) Option(index int) (conversation.ReplyOption, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.complete || index < 0 || index >= len(s.options) {
		return conversation.ReplyOption{}, false
	}
	return s.options[index], true
}

// Apply folds an authoritative platform payload into the state. Rounds never
// move backwards, completion never reverts, and the option set is replaced
// wholesale. Payloads arriving after completion are ignored.
func (s *State) Apply(round int, complete bool, options []conversation.ReplyOption) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.complete {
		return
	}

	if round > s.round {
		if round > s.maxRounds {
			round = s.maxRounds
		}
		s.round = round
	}

	if complete || s.round >= s.maxRounds {
		s.complete = true
		s.options = nil
		return
	}

	if options != nil {
		s.options = append([]conversation.ReplyOption(nil), options...)
	}
}
