package ledger

import "sync"

// Score mirrors the server-tracked relationship intimacy. Like the coin
// balance it is only ever assigned from authoritative responses; any response
// that carries an intimacy value may update it opportunistically.
type Score struct {
	mu    sync.RWMutex
	value int
}

// NewScore returns a score seeded with the given value.
func NewScore(value int) *Score {
	return &Score{value: value}
}

// Set assigns a server-confirmed intimacy value.
func (s *Score) Set(value int) {
	s.mu.Lock()
	s.value = value
	s.mu.Unlock()
}

// Value returns the current mirrored intimacy.
func (s *Score) Value() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}
