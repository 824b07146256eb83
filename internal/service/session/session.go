package session

import (
	"context"
	"errors"
	"fmt"
	"log"
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
	"github.com/auraspark/companion/backend/internal/service/turn"
)

var (
	ErrMessageNotFound     = errors.New("message not found")
	ErrInvalidChoice       = errors.New("choice index out of range")
	ErrDetectionComplete   = errors.New("detection protocol already complete")
	ErrNotAssistantMessage = errors.New("speech targets assistant messages only")
)

// eventBuffer is the per-subscriber channel depth; a subscriber that falls
// further behind starts losing events rather than stalling a turn.
const eventBuffer = 32

// Session owns the orchestration state for one open conversation view. It is
// built on mount, discarded on unmount, and holds nothing durable.
type Session struct {
	ID        string
	Agent     agent.Agent
	CreatedAt time.Time

	client       API
	transcript   *conversationlog.Log
	wallet       *ledger.Ledger
	intimacy     *ledger.Score
	detection    *detection.State
	tracker      *media.Tracker
	suggestions  *suggest.Engine
	orchestrator *turn.Orchestrator
	greeting     *conversation.Greeting
	suggestMode  bool

	mu          sync.Mutex
	subscribers map[chan Event]struct{}
	closed      bool
}

// State is the UI-facing snapshot of a session.
type State struct {
	SessionID   string                     `json:"sessionId"`
	Agent       agent.Agent                `json:"agent"`
	Messages    []conversation.Message     `json:"messages"`
	Greeting    *conversation.Greeting     `json:"greeting,omitempty"`
	Balance     int                        `json:"balance"`
	Intimacy    int                        `json:"intimacy"`
	Detection   detection.Snapshot         `json:"detection"`
	Suggestions []conversation.ReplyOption `json:"suggestions,omitempty"`
	SuggestMode bool                       `json:"suggestMode"`
}

// State returns the current snapshot.
func (s *Session) State() State {
	return State{
		SessionID:   s.ID,
		Agent:       s.Agent,
		Messages:    s.transcript.Messages(),
		Greeting:    s.greeting,
		Balance:     s.wallet.Value(),
		Intimacy:    s.intimacy.Value(),
		Detection:   s.detection.Snapshot(),
		Suggestions: s.suggestions.Options(),
		SuggestMode: s.suggestMode,
	}
}

// Send runs one turn. Failures are also published on the event stream so the
// UI reacts even when it only listens to the websocket.
func (s *Session) Send(ctx context.Context, content string, mode ledger.Mode) (*turn.Result, error) {
	result, err := s.orchestrator.Send(ctx, content, mode)
	if err != nil {
		if errors.Is(err, platform.ErrInsufficientFunds) {
			s.FundsInsufficient(err)
		} else if !errors.Is(err, turn.ErrEmptyInput) {
			s.publish(Event{Type: EventTurnFailed, Error: err.Error()})
		}
		return nil, err
	}
	return result, nil
}

// RecordChoice selects one scripted reply option: it reports the choice to
// the platform, advances the protocol, then sends the option's text as a
// regular text turn. Protocol bookkeeping is best-effort; a failed
// record-choice call is logged and the turn still runs.
func (s *Session) RecordChoice(ctx context.Context, index int) (*turn.Result, error) {
	if s.detection.IsComplete() {
		return nil, ErrDetectionComplete
	}

	option, ok := s.detection.Option(index)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChoice, index)
	}

	payload, err := s.client.RecordChoice(ctx, s.Agent.ID, index)
	if err != nil {
		log.Printf("[session] record-choice failed for session=%s: %v", s.ID, err)
	} else if payload != nil {
		s.detection.Apply(payload.Round, payload.IsComplete, payload.ReplyOptions)
		s.DetectionUpdated(s.detection.Snapshot())
	}

	return s.Send(ctx, option.Text, ledger.ModeText)
}

// Speak runs on-demand speech synthesis for an existing message and patches
// its audio URL in place.
func (s *Session) Speak(ctx context.Context, messageID string) (conversation.Message, error) {
	msg, ok := s.transcript.Get(messageID)
	if !ok {
		return conversation.Message{}, ErrMessageNotFound
	}
	if msg.Role != conversation.RoleAssistant {
		return conversation.Message{}, fmt.Errorf("%w: %s", ErrNotAssistantMessage, messageID)
	}

	if !s.wallet.CanAfford(ledger.CostAudio) {
		return conversation.Message{}, fmt.Errorf("speech cost %d exceeds balance %d: %w",
			ledger.CostAudio, s.wallet.Value(), platform.ErrInsufficientFunds)
	}

	res, err := s.client.SynthesizeSpeech(ctx, s.Agent.ID, msg.Content)
	if err != nil {
		if errors.Is(err, platform.ErrInsufficientFunds) {
			s.FundsInsufficient(err)
			return conversation.Message{}, err
		}
		return conversation.Message{}, fmt.Errorf("speech synthesis failed: %w", err)
	}

	s.transcript.Update(messageID, conversationlog.Patch{AudioURL: &res.AudioURL})
	if res.Balance != nil {
		s.wallet.Set(*res.Balance)
		s.BalanceUpdated(*res.Balance)
	}

	updated, _ := s.transcript.Get(messageID)
	s.MessageUpdated(updated)
	return updated, nil
}

// RewardAd credits the wallet after a completed ad view; the insufficient
// funds recovery path.
func (s *Session) RewardAd(ctx context.Context, traceID string) (int, error) {
	balance, err := s.client.RewardAd(ctx, traceID)
	if err != nil {
		return s.wallet.Value(), fmt.Errorf("ad reward failed: %w", err)
	}
	s.wallet.Set(balance)
	s.BalanceUpdated(balance)
	return balance, nil
}

// Subscribe registers an event stream consumer. The returned cancel func
// detaches it again; the channel closes when the session closes.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, eventBuffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
}

func (s *Session) publish(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			log.Printf("[session] dropping %s event for slow subscriber on session=%s", event.Type, s.ID)
		}
	}
}

// close cancels pending work and tears down subscribers. Called only through
// the owning Service.
func (s *Session) close() {
	s.tracker.CancelPending()
	s.orchestrator.Wait()

	s.mu.Lock()
	s.closed = true
	for ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = nil
	s.mu.Unlock()
}

// The Session is the turn orchestrator's Sink (and therefore the media
// runner's Observer): every state change funnels into the event stream.

func (s *Session) MessageAppended(msg conversation.Message) {
	s.publish(Event{Type: EventMessageAppended, Message: &msg})
}

func (s *Session) MessageUpdated(msg conversation.Message) {
	s.publish(Event{Type: EventMessageUpdated, Message: &msg})
}

func (s *Session) BalanceUpdated(balance int) {
	s.publish(Event{Type: EventBalanceUpdated, Balance: &balance})
}

func (s *Session) IntimacyUpdated(intimacy int) {
	s.publish(Event{Type: EventIntimacyUpdated, Intimacy: &intimacy})
}

func (s *Session) DetectionUpdated(snapshot detection.Snapshot) {
	s.publish(Event{Type: EventDetectionUpdated, Detection: &snapshot})
}

func (s *Session) SuggestionsUpdated(options []conversation.ReplyOption) {
	s.publish(Event{Type: EventSuggestionsUpdated, Suggestions: options})
}

func (s *Session) FundsInsufficient(err error) {
	s.publish(Event{Type: EventFundsInsufficient, Error: err.Error()})
}
