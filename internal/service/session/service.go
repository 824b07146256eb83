package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auraspark/companion/backend/internal/model/agent"
	"github.com/auraspark/companion/backend/internal/model/conversation"
	"github.com/auraspark/companion/backend/internal/platform"
	conversationlog "github.com/auraspark/companion/backend/internal/service/conversation"
	"github.com/auraspark/companion/backend/internal/service/detection"
	"github.com/auraspark/companion/backend/internal/service/ledger"
	"github.com/auraspark/companion/backend/internal/service/media"
	"github.com/auraspark/companion/backend/internal/service/suggest"
	"github.com/auraspark/companion/backend/internal/service/turn"
)

var (
	ErrAgentNotFound   = errors.New("agent not found")
	ErrSessionNotFound = errors.New("session not found")
)

// API is the full platform surface the session layer consumes.
type API interface {
	History(ctx context.Context, agentID string) (*platform.HistoryResult, error)
	Chat(ctx context.Context, req platform.ChatRequest) (*platform.ChatResult, error)
	SynthesizeSpeech(ctx context.Context, agentID, text string) (*platform.SpeechResult, error)
	GenerateImage(ctx context.Context, req platform.ImageRequest) (*platform.MediaResult, error)
	GenerateVideo(ctx context.Context, req platform.VideoRequest) (*platform.MediaResult, error)
	DetectionStatus(ctx context.Context, agentID string) (*platform.DetectionPayload, error)
	RecordChoice(ctx context.Context, agentID string, choiceIndex int) (*platform.DetectionPayload, error)
	SuggestReplies(ctx context.Context, agentID string, req platform.SuggestRequest) ([]conversation.ReplyOption, error)
	WalletBalance(ctx context.Context) (int, error)
	RewardAd(ctx context.Context, traceID string) (int, error)
}

// Options carries the engine-level defaults injected from configuration.
type Options struct {
	SuggestDefault  bool
	DetectionRounds int
	FastVideo       bool
	UseAvatar       bool
}

// Service is the registry of open sessions.
type Service struct {
	client API
	agents agent.Store
	opts   Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewService bootstraps the in-memory session registry.
func NewService(client API, agents agent.Store, opts Options) *Service {
	return &Service{
		client:   client,
		agents:   agents,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Open performs the mount sequence for one agent conversation: authoritative
// wallet fetch, transcript/greeting fetch, and detection resume. suggestMode
// overrides the configured default when non-nil.
func (svc *Service) Open(ctx context.Context, agentID string, suggestMode *bool) (*Session, error) {
	companion, ok := svc.agents.FindByID(agentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}

	balance, err := svc.client.WalletBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch wallet balance: %w", err)
	}

	history, err := svc.client.History(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversation history: %w", err)
	}

	suggestOn := svc.opts.SuggestDefault
	if suggestMode != nil {
		suggestOn = *suggestMode
	}

	sess := &Session{
		ID:          uuid.NewString(),
		Agent:       companion,
		CreatedAt:   time.Now().UTC(),
		client:      svc.client,
		transcript:  conversationlog.NewLog(),
		wallet:      ledger.New(balance),
		intimacy:    ledger.NewScore(0),
		detection:   detection.NewState(svc.opts.DetectionRounds),
		tracker:     media.NewTracker(),
		suggestions: suggest.NewEngine(svc.client, agentID),
		suggestMode: suggestOn,
		subscribers: make(map[chan Event]struct{}),
	}

	for _, msg := range history.History {
		sess.transcript.Append(sanitizeHistoryMessage(msg))
	}
	if history.Intimacy != nil {
		sess.intimacy.Set(*history.Intimacy)
	}
	sess.greeting = history.Greeting

	// Detection resume is best-effort: a failed status fetch only means the
	// scripted choices won't show until the next chat payload carries them.
	if status, err := svc.client.DetectionStatus(ctx, agentID); err != nil {
		log.Printf("[session] detection-status fetch failed for agent=%s: %v", agentID, err)
	} else {
		sess.detection.Apply(status.Round, status.IsComplete, status.ReplyOptions)
	}

	runner := media.NewRunner(svc.client, sess.transcript, sess)
	sess.orchestrator = turn.New(svc.client, companion, turn.Deps{
		Log:         sess.transcript,
		Ledger:      sess.wallet,
		Intimacy:    sess.intimacy,
		Detection:   sess.detection,
		Tracker:     sess.tracker,
		MediaRunner: runner,
		Suggest:     sess.suggestions,
		Sink:        sess,
	}, turn.Options{
		SuggestMode: suggestOn,
		FastVideo:   svc.opts.FastVideo,
		UseAvatar:   svc.opts.UseAvatar,
	})

	svc.mu.Lock()
	svc.sessions[sess.ID] = sess
	svc.mu.Unlock()

	log.Printf("[session] opened session=%s agent=%s history=%d balance=%d",
		sess.ID, agentID, len(history.History), balance)
	return sess, nil
}

// Get retrieves an open session by identifier.
func (svc *Service) Get(sessionID string) (*Session, error) {
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	sess, ok := svc.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Close discards a session and cancels its pending work. Conversation state
// is not persisted anywhere; the next Open rebuilds it from the platform.
func (svc *Service) Close(sessionID string) error {
	svc.mu.Lock()
	sess, ok := svc.sessions[sessionID]
	if ok {
		delete(svc.sessions, sessionID)
	}
	svc.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	sess.close()
	log.Printf("[session] closed session=%s agent=%s", sess.ID, sess.Agent.ID)
	return nil
}

// sanitizeHistoryMessage clears any loading state a stored transcript entry
// carries; a placeholder must never survive a remount.
func sanitizeHistoryMessage(msg conversation.Message) conversation.Message {
	if msg.ImageURL == conversation.MediaPlaceholder {
		msg.ImageURL = ""
	}
	msg.IsMediaLoading = false
	return msg
}
