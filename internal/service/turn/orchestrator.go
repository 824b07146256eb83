package turn

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/auraspark/companion/backend/internal/model/agent"
	"github.com/auraspark/companion/backend/internal/model/conversation"
	"github.com/auraspark/companion/backend/internal/platform"
	conversationlog "github.com/auraspark/companion/backend/internal/service/conversation"
	"github.com/auraspark/companion/backend/internal/service/detection"
	"github.com/auraspark/companion/backend/internal/service/ledger"
	"github.com/auraspark/companion/backend/internal/service/media"
	"github.com/auraspark/companion/backend/internal/service/suggest"
)

// ErrEmptyInput rejects a turn whose prompt is blank.
var ErrEmptyInput = errors.New("turn input is empty")

// suggestionTimeout bounds the background suggestion fetch, which outlives
// the originating request.
const suggestionTimeout = 15 * time.Second

// Chatter is the slice of the platform API the orchestrator itself calls.
type Chatter interface {
	Chat(ctx context.Context, req platform.ChatRequest) (*platform.ChatResult, error)
}

// Sink receives every state change a turn produces, in the order it happens.
// A Sink also satisfies media.Observer, so enrichment jobs report through the
// same channel.
type Sink interface {
	MessageAppended(msg conversation.Message)
	MessageUpdated(msg conversation.Message)
	BalanceUpdated(balance int)
	IntimacyUpdated(intimacy int)
	DetectionUpdated(snapshot detection.Snapshot)
	SuggestionsUpdated(options []conversation.ReplyOption)
	FundsInsufficient(err error)
}

// Deps aggregates the session-scoped collaborators a turn drives.
type Deps struct {
	Log         *conversationlog.Log
	Ledger      *ledger.Ledger
	Intimacy    *ledger.Score
	Detection   *detection.State
	Tracker     *media.Tracker
	MediaRunner *media.Runner
	Suggest     *suggest.Engine
	Sink        Sink
}

// Options carries the per-session preferences injected at construction.
type Options struct {
	SuggestMode bool
	FastVideo   bool
	UseAvatar   bool
}

// Orchestrator drives one conversation turn end to end: affordability check,
// optimistic echo, text reply, ledger and detection reconciliation, optional
// enrichment job, optional suggestion fetch.
type Orchestrator struct {
	client Chatter
	agent  agent.Agent
	opts   Options
	deps   Deps

	// sendMu serializes turns. A turn that is still reconciling must not
	// interleave with the next one's placeholder cleanup, or a superseded
	// assistant message can be left loading forever.
	sendMu sync.Mutex
	bg     sync.WaitGroup
}

// New wires an orchestrator for one open conversation.
func New(client Chatter, companion agent.Agent, deps Deps, opts Options) *Orchestrator {
	return &Orchestrator{client: client, agent: companion, deps: deps, opts: opts}
}

// Result is the synchronous outcome of one turn. Media and suggestions
// resolve later through the Sink.
type Result struct {
	UserMessage      conversation.Message        `json:"userMessage"`
	AssistantMessage conversation.Message        `json:"assistantMessage"`
	Balance          int                         `json:"balance"`
	Intimacy         int                         `json:"intimacy"`
	Detection        detection.Snapshot          `json:"detection"`
	MediaPending     bool                        `json:"mediaPending"`
}

// Send runs one turn. The user echo is appended before any network call and
// is never retracted; on a text-reply failure the echo stays and the error is
// returned to the caller. Insufficient funds, whether detected locally or
// signalled by the platform, is reported as platform.ErrInsufficientFunds.
func (o *Orchestrator) Send(ctx context.Context, content string, mode ledger.Mode) (*Result, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyInput
	}

	o.sendMu.Lock()
	defer o.sendMu.Unlock()

	cost := ledger.Cost(mode)
	if !o.deps.Ledger.CanAfford(cost) {
		return nil, fmt.Errorf("turn cost %d exceeds balance %d: %w", cost, o.deps.Ledger.Value(), platform.ErrInsufficientFunds)
	}

	// A fresh turn supersedes whatever the previous one still had in flight.
	// The cancelled job resolves silently, so its placeholder is cleared here.
	if staleID := o.deps.Tracker.CancelPending(); staleID != "" {
		o.clearStalePlaceholder(staleID)
	}
	o.deps.Suggest.Clear()
	o.deps.Sink.SuggestionsUpdated(nil)

	history := o.deps.Log.Messages()

	userMsg := o.deps.Log.Append(conversation.Message{
		Role:    conversation.RoleUser,
		Content: content,
	})
	o.deps.Sink.MessageAppended(userMsg)

	// Media is requested separately below so each turn charges for at most
	// one enrichment job.
	reply, err := o.client.Chat(ctx, platform.ChatRequest{
		AgentID:      o.agent.ID,
		Prompt:       content,
		History:      history,
		SkipMediaGen: true,
	})
	if err != nil {
		if errors.Is(err, platform.ErrInsufficientFunds) {
			return nil, err
		}
		return nil, fmt.Errorf("chat reply failed: %w", err)
	}

	o.applyLedger(reply.Balance, reply.Intimacy)
	if reply.Detection != nil {
		o.deps.Detection.Apply(reply.Detection.Round, reply.Detection.IsComplete, reply.Detection.ReplyOptions)
		o.deps.Sink.DetectionUpdated(o.deps.Detection.Snapshot())
	}

	assistant := conversation.Message{
		Role:     conversation.RoleAssistant,
		Content:  reply.Reply,
		AudioURL: reply.AudioURL,
	}
	if mode != ledger.ModeText {
		assistant.IsMediaLoading = true
		assistant.ImageURL = conversation.MediaPlaceholder
	}
	assistant = o.deps.Log.Append(assistant)
	o.deps.Sink.MessageAppended(assistant)

	if mode != ledger.ModeText {
		o.deps.Tracker.Launch(o.deps.MediaRunner, media.Request{
			MessageID:    assistant.ID,
			Mode:         mode,
			AgentID:      o.agent.ID,
			UserText:     content,
			MotionPhrase: o.agent.MotionPhrase,
			UseAvatar:    o.opts.UseAvatar,
			FastMode:     o.opts.FastVideo,
		})
	}

	if o.opts.SuggestMode && o.deps.Detection.IsComplete() {
		o.fetchSuggestions(reply.Reply)
	}

	log.Printf("[turn] agent=%s mode=%s reply=%d chars balance=%d",
		o.agent.ID, mode, len(assistant.Content), o.deps.Ledger.Value())

	return &Result{
		UserMessage:      userMsg,
		AssistantMessage: assistant,
		Balance:          o.deps.Ledger.Value(),
		Intimacy:         o.deps.Intimacy.Value(),
		Detection:        o.deps.Detection.Snapshot(),
		MediaPending:     mode != ledger.ModeText,
	}, nil
}

// clearStalePlaceholder drops the loading state of a message whose
// enrichment job was cancelled before it resolved.
func (o *Orchestrator) clearStalePlaceholder(messageID string) {
	msg, ok := o.deps.Log.Get(messageID)
	if !ok || !msg.IsMediaLoading {
		return
	}

	empty := ""
	loading := false
	o.deps.Log.Update(messageID, conversationlog.Patch{
		ImageURL:       &empty,
		IsMediaLoading: &loading,
	})
	if updated, ok := o.deps.Log.Get(messageID); ok {
		o.deps.Sink.MessageUpdated(updated)
	}
}

// fetchSuggestions fires the best-effort suggestion fetch in the background.
// It never blocks or fails the turn that triggered it.
func (o *Orchestrator) fetchSuggestions(lastReply string) {
	intimacy := o.deps.Intimacy.Value()

	o.bg.Add(1)
	go func() {
		defer o.bg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), suggestionTimeout)
		defer cancel()

		options := o.deps.Suggest.Fetch(ctx, lastReply, intimacy)
		if len(options) == 0 {
			return
		}
		o.deps.Sink.SuggestionsUpdated(options)
	}()
}

func (o *Orchestrator) applyLedger(balance, intimacy *int) {
	if balance != nil {
		o.deps.Ledger.Set(*balance)
		o.deps.Sink.BalanceUpdated(*balance)
	}
	if intimacy != nil {
		o.deps.Intimacy.Set(*intimacy)
		o.deps.Sink.IntimacyUpdated(*intimacy)
	}
}

// Wait blocks until background work spawned by past turns has finished.
func (o *Orchestrator) Wait() {
	o.bg.Wait()
	o.deps.Tracker.Wait()
}
