package suggest

import (
	"context"
	"log"
	"sync"

	"github.com/auraspark/companion/backend/internal/model/conversation"
	"github.com/auraspark/companion/backend/internal/platform"
)

// maxSuggestions caps how many reply candidates are kept per turn.
const maxSuggestions = 3

// Fetcher is the slice of the platform API the engine consumes.
type Fetcher interface {
	SuggestReplies(ctx context.Context, agentID string, req platform.SuggestRequest) ([]conversation.ReplyOption, error)
}

// Engine fetches free-form reply suggestions after a turn. It is strictly
// best-effort: a failed fetch leaves the list empty and never surfaces an
// error to the turn that triggered it.
type Engine struct {
	client  Fetcher
	agentID string

	mu      sync.RWMutex
	gen     uint64
	options []conversation.ReplyOption
}

// NewEngine binds an engine to one agent conversation.
func NewEngine(client Fetcher, agentID string) *Engine {
	return &Engine{client: client, agentID: agentID}
}

// Fetch requests suggestions keyed on the latest assistant reply and the
// current intimacy, replacing the stored list with the result (or with
// nothing on failure), and returns the new list.
func (e *Engine) Fetch(ctx context.Context, lastAIMessage string, intimacy int) []conversation.ReplyOption {
	e.mu.RLock()
	gen := e.gen
	e.mu.RUnlock()

	options, err := e.client.SuggestReplies(ctx, e.agentID, platform.SuggestRequest{
		LastAIMessage: lastAIMessage,
		Intimacy:      intimacy,
	})
	if err != nil {
		log.Printf("[suggest] fetch failed for agent=%s: %v", e.agentID, err)
		options = nil
	}
	if len(options) > maxSuggestions {
		options = options[:maxSuggestions]
	}

	e.mu.Lock()
	if e.gen != gen {
		// Cleared while the fetch was in flight; the result is keyed on a
		// reply that is no longer the latest one.
		e.mu.Unlock()
		return nil
	}
	e.options = append([]conversation.ReplyOption(nil), options...)
	e.mu.Unlock()

	return append([]conversation.ReplyOption(nil), options...)
}

// Clear drops the stored suggestions and invalidates any fetch still in
// flight. Called when the user sends their next input, whether typed or
// picked from the list.
func (e *Engine) Clear() {
	e.mu.Lock()
	e.gen++
	e.options = nil
	e.mu.Unlock()
}

// Options returns the current suggestion list.
func (e *Engine) Options() []conversation.ReplyOption {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]conversation.ReplyOption(nil), e.options...)
}
