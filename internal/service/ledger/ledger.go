package ledger

import "sync"

// Coin costs per operation. The gateway uses these only for the local
// affordability pre-check; the authoritative charge always comes back from
// the platform as a new balance.
const (
	CostText  = 1
	CostAudio = 5
	CostImage = 10
	CostVideo = 50
)

// Mode selects the enrichment requested for a turn.
type Mode string

const (
	ModeText  Mode = "text"
	ModeImage Mode = "image"
	ModeVideo Mode = "video"
)

// Cost returns the coin cost of a turn in the given mode.
func Cost(mode Mode) int {
	switch mode {
	case ModeImage:
		return CostImage
	case ModeVideo:
		return CostVideo
	default:
		return CostText
	}
}

// Ledger mirrors the server wallet for one session. It is only ever assigned
// from values carried by authoritative platform responses; the gateway never
// decrements it with a locally computed cost.
type Ledger struct {
	mu      sync.RWMutex
	balance int
}

// New returns a ledger seeded with the given balance.
func New(balance int) *Ledger {
	return &Ledger{balance: balance}
}

// Set assigns a server-confirmed balance.
func (l *Ledger) Set(balance int) {
	l.mu.Lock()
	l.balance = balance
	l.mu.Unlock()
}

// Value returns the current mirrored balance.
func (l *Ledger) Value() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance
}

// CanAfford reports whether the mirrored balance covers cost.
func (l *Ledger) CanAfford(cost int) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance >= cost
}
