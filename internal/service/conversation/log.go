package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auraspark/companion/backend/internal/model/conversation"
)

// Log holds the ordered transcript of one open conversation. It is
// append-only: entries are never removed, and the only in-place mutation is
// the field-merge used to resolve a pending media placeholder. Entries are
// addressed by the UUID assigned at append time, never by position, so a
// late-resolving enrichment job cannot patch the wrong message.
type Log struct {
	mu       sync.RWMutex
	messages []conversation.Message
	index    map[string]int
}

// NewLog returns an empty transcript.
func NewLog() *Log {
	return &Log{
		messages: make([]conversation.Message, 0, 16),
		index:    make(map[string]int, 16),
	}
}

// Append adds a message to the end of the transcript, assigning it an ID and
// timestamp when missing, and returns the stored copy.
func (l *Log) Append(msg conversation.Message) conversation.Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	l.mu.Lock()
	l.index[msg.ID] = len(l.messages)
	l.messages = append(l.messages, msg)
	l.mu.Unlock()

	return msg
}

// Patch describes a partial message update. Nil fields are left untouched;
// non-nil fields are assigned, so a patch can clear a value by pointing at an
// empty string.
type Patch struct {
	Content        *string
	AudioURL       *string
	ImageURL       *string
	VideoURL       *string
	IsMediaLoading *bool
}

// Update merges patch into the identified message and reports whether a
// message matched. An unknown ID is a silent no-op.
func (l *Log) Update(id string, patch Patch) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.index[id]
	if !ok {
		return false
	}

	msg := &l.messages[pos]
	if patch.Content != nil {
		msg.Content = *patch.Content
	}
	if patch.AudioURL != nil {
		msg.AudioURL = *patch.AudioURL
	}
	if patch.ImageURL != nil {
		msg.ImageURL = *patch.ImageURL
	}
	if patch.VideoURL != nil {
		msg.VideoURL = *patch.VideoURL
	}
	if patch.IsMediaLoading != nil {
		msg.IsMediaLoading = *patch.IsMediaLoading
	}
	return true
}

// Get returns a copy of the identified message.
func (l *Log) Get(id string) (conversation.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, ok := l.index[id]
	if !ok {
		return conversation.Message{}, false
	}
	return l.messages[pos], true
}

// Messages returns a snapshot copy of the transcript in append order.
func (l *Log) Messages() []conversation.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	copied := make([]conversation.Message, len(l.messages))
	copy(copied, l.messages)
	return copied
}

// Len reports the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}
