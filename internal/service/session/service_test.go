package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	agentModel "github.com/auraspark/companion/backend/internal/model/agent"
	model "github.com/auraspark/companion/backend/internal/model/conversation"
	"github.com/auraspark/companion/backend/internal/platform"
	"github.com/auraspark/companion/backend/internal/service/ledger"
	"github.com/auraspark/companion/backend/internal/service/session"
)

type fakeAPI struct {
	mu sync.Mutex

	balance      int
	balanceErr   error
	history      *platform.HistoryResult
	historyErr   error
	status       *platform.DetectionPayload
	statusErr    error
	chatResult   *platform.ChatResult
	chatErr      error
	choiceResult *platform.DetectionPayload
	choiceErr    error
	choiceCalls  int
	lastChoice   int
	speech       *platform.SpeechResult
	speechErr    error
	imageErr     error
	rewarded     int
	rewardErr    error
	suggestions  []model.ReplyOption
}

func (f *fakeAPI) History(_ context.Context, _ string) (*platform.HistoryResult, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	if f.history != nil {
		return f.history, nil
	}
	return &platform.HistoryResult{}, nil
}

func (f *fakeAPI) Chat(_ context.Context, _ platform.ChatRequest) (*platform.ChatResult, error) {
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	if f.chatResult != nil {
		return f.chatResult, nil
	}
	return &platform.ChatResult{Reply: "ok"}, nil
}

func (f *fakeAPI) SynthesizeSpeech(_ context.Context, _, _ string) (*platform.SpeechResult, error) {
	if f.speechErr != nil {
		return nil, f.speechErr
	}
	if f.speech != nil {
		return f.speech, nil
	}
	return &platform.SpeechResult{AudioURL: "https://cdn.example.com/voice.mp3"}, nil
}

func (f *fakeAPI) GenerateImage(_ context.Context, _ platform.ImageRequest) (*platform.MediaResult, error) {
	if f.imageErr != nil {
		return nil, f.imageErr
	}
	return &platform.MediaResult{URL: "https://cdn.example.com/pic.png"}, nil
}

func (f *fakeAPI) GenerateVideo(_ context.Context, _ platform.VideoRequest) (*platform.MediaResult, error) {
	return &platform.MediaResult{URL: "https://cdn.example.com/clip.mp4"}, nil
}

func (f *fakeAPI) DetectionStatus(_ context.Context, _ string) (*platform.DetectionPayload, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if f.status != nil {
		return f.status, nil
	}
	return &platform.DetectionPayload{}, nil
}

func (f *fakeAPI) RecordChoice(_ context.Context, _ string, choiceIndex int) (*platform.DetectionPayload, error) {
	f.mu.Lock()
	f.choiceCalls++
	f.lastChoice = choiceIndex
	f.mu.Unlock()
	if f.choiceErr != nil {
		return nil, f.choiceErr
	}
	return f.choiceResult, nil
}

func (f *fakeAPI) SuggestReplies(_ context.Context, _ string, _ platform.SuggestRequest) ([]model.ReplyOption, error) {
	return f.suggestions, nil
}

func (f *fakeAPI) WalletBalance(_ context.Context) (int, error) {
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeAPI) RewardAd(_ context.Context, _ string) (int, error) {
	if f.rewardErr != nil {
		return 0, f.rewardErr
	}
	return f.rewarded, nil
}

func newService(api *fakeAPI) *session.Service {
	store := agentModel.NewMemoryStore(agentModel.Seed())
	return session.NewService(api, store, session.Options{DetectionRounds: 5})
}

func TestOpenEmptyHistoryExposesGreetingOnly(t *testing.T) {
	api := &fakeAPI{
		balance: 25,
		history: &platform.HistoryResult{
			Greeting: &model.Greeting{Content: "hey you", WithImage: false},
		},
	}
	svc := newService(api)

	sess, err := svc.Open(context.Background(), "luna", nil)
	if err != nil {
		t.Fatalf("Open err: %v", err)
	}

	state := sess.State()
	if len(state.Messages) != 0 {
		t.Fatalf("log must stay empty until the first user input, got %d messages", len(state.Messages))
	}
	if state.Greeting == nil || state.Greeting.Content != "hey you" {
		t.Fatalf("greeting not exposed: %+v", state.Greeting)
	}
	if state.Balance != 25 {
		t.Fatalf("unexpected balance: %d", state.Balance)
	}
}

func TestOpenLoadsHistoryAndIntimacy(t *testing.T) {
	intimacy := 6
	api := &fakeAPI{
		balance: 10,
		history: &platform.HistoryResult{
			History: []model.Message{
				{Role: model.RoleUser, Content: "hi"},
				{Role: model.RoleAssistant, Content: "hello", ImageURL: model.MediaPlaceholder, IsMediaLoading: true},
			},
			Intimacy: &intimacy,
		},
	}
	svc := newService(api)

	sess, err := svc.Open(context.Background(), "luna", nil)
	if err != nil {
		t.Fatalf("Open err: %v", err)
	}

	state := sess.State()
	if len(state.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(state.Messages))
	}
	for _, msg := range state.Messages {
		if msg.ID == "" {
			t.Fatal("history messages must receive IDs")
		}
		if msg.IsMediaLoading || msg.ImageURL == model.MediaPlaceholder {
			t.Fatalf("placeholder state must not survive a remount: %+v", msg)
		}
	}
	if state.Intimacy != 6 {
		t.Fatalf("unexpected intimacy: %d", state.Intimacy)
	}
}

func TestOpenUnknownAgent(t *testing.T) {
	svc := newService(&fakeAPI{balance: 10})

	if _, err := svc.Open(context.Background(), "nobody", nil); !errors.Is(err, session.ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestOpenSurvivesDetectionStatusFailure(t *testing.T) {
	api := &fakeAPI{balance: 10, statusErr: errors.New("status down")}
	svc := newService(api)

	sess, err := svc.Open(context.Background(), "luna", nil)
	if err != nil {
		t.Fatalf("detection-status failure must not fail the mount: %v", err)
	}
	if sess.State().Detection.IsComplete {
		t.Fatal("detection should start incomplete")
	}
}

func TestOpenResumesDetection(t *testing.T) {
	api := &fakeAPI{
		balance: 10,
		status: &platform.DetectionPayload{
			Round:        2,
			ReplyOptions: []model.ReplyOption{{Text: "a"}, {Text: "b"}, {Text: "c"}},
		},
	}
	svc := newService(api)

	sess, err := svc.Open(context.Background(), "luna", nil)
	if err != nil {
		t.Fatalf("Open err: %v", err)
	}

	state := sess.State()
	if state.Detection.Round != 2 || len(state.Detection.Options) != 3 {
		t.Fatalf("detection not resumed: %+v", state.Detection)
	}
}

func TestRecordChoiceSendsOptionText(t *testing.T) {
	api := &fakeAPI{
		balance: 10,
		status: &platform.DetectionPayload{
			Round:        0,
			ReplyOptions: []model.ReplyOption{{Text: "first"}, {Text: "wave shyly"}, {Text: "third"}},
		},
		choiceResult: &platform.DetectionPayload{Round: 1},
		chatResult:   &platform.ChatResult{Reply: "cute"},
	}
	svc := newService(api)
	sess, err := svc.Open(context.Background(), "luna", nil)
	if err != nil {
		t.Fatalf("Open err: %v", err)
	}

	result, err := sess.RecordChoice(context.Background(), 1)
	if err != nil {
		t.Fatalf("RecordChoice err: %v", err)
	}

	if result.UserMessage.Content != "wave shyly" {
		t.Fatalf("user message must equal the chosen option text, got %q", result.UserMessage.Content)
	}
	if api.lastChoice != 1 || api.choiceCalls != 1 {
		t.Fatalf("choice not reported: calls=%d index=%d", api.choiceCalls, api.lastChoice)
	}
	if sess.State().Detection.Round != 1 {
		t.Fatalf("round not advanced: %+v", sess.State().Detection)
	}
}

func TestRecordChoiceRejectsBadIndex(t *testing.T) {
	api := &fakeAPI{
		balance: 10,
		status: &platform.DetectionPayload{
			ReplyOptions: []model.ReplyOption{{Text: "only"}},
		},
	}
	svc := newService(api)
	sess, _ := svc.Open(context.Background(), "luna", nil)

	if _, err := sess.RecordChoice(context.Background(), 2); !errors.Is(err, session.ErrInvalidChoice) {
		t.Fatalf("expected ErrInvalidChoice, got %v", err)
	}
}

func TestRecordChoiceAfterCompletion(t *testing.T) {
	api := &fakeAPI{
		balance: 10,
		status:  &platform.DetectionPayload{Round: 5, IsComplete: true},
	}
	svc := newService(api)
	sess, _ := svc.Open(context.Background(), "luna", nil)

	if _, err := sess.RecordChoice(context.Background(), 0); !errors.Is(err, session.ErrDetectionComplete) {
		t.Fatalf("expected ErrDetectionComplete, got %v", err)
	}
}

func TestSpeakPatchesAudioURL(t *testing.T) {
	balance := 19
	api := &fakeAPI{
		balance:    20,
		chatResult: &platform.ChatResult{Reply: "listen to this"},
		speech:     &platform.SpeechResult{AudioURL: "https://cdn.example.com/voice.mp3", Balance: &balance},
	}
	svc := newService(api)
	sess, _ := svc.Open(context.Background(), "luna", nil)

	result, err := sess.Send(context.Background(), "say something", ledger.ModeText)
	if err != nil {
		t.Fatalf("Send err: %v", err)
	}

	msg, err := sess.Speak(context.Background(), result.AssistantMessage.ID)
	if err != nil {
		t.Fatalf("Speak err: %v", err)
	}
	if msg.AudioURL != "https://cdn.example.com/voice.mp3" {
		t.Fatalf("audio url not patched: %q", msg.AudioURL)
	}
	if sess.State().Balance != 19 {
		t.Fatalf("balance not applied: %d", sess.State().Balance)
	}
}

func TestSpeakUnknownMessage(t *testing.T) {
	svc := newService(&fakeAPI{balance: 20})
	sess, _ := svc.Open(context.Background(), "luna", nil)

	if _, err := sess.Speak(context.Background(), "missing"); !errors.Is(err, session.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestSpeakBlockedWhenUnaffordable(t *testing.T) {
	api := &fakeAPI{balance: 3, chatResult: &platform.ChatResult{Reply: "hi"}}
	svc := newService(api)
	sess, _ := svc.Open(context.Background(), "luna", nil)

	result, err := sess.Send(context.Background(), "hello", ledger.ModeText)
	if err != nil {
		t.Fatalf("Send err: %v", err)
	}

	if _, err := sess.Speak(context.Background(), result.AssistantMessage.ID); !errors.Is(err, platform.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if sess.State().Balance != 3 {
		t.Fatalf("balance must be untouched by a blocked request, got %d", sess.State().Balance)
	}
}

func TestSpeakRejectsUserMessage(t *testing.T) {
	api := &fakeAPI{balance: 20, chatResult: &platform.ChatResult{Reply: "hi"}}
	svc := newService(api)
	sess, _ := svc.Open(context.Background(), "luna", nil)

	result, err := sess.Send(context.Background(), "hello", ledger.ModeText)
	if err != nil {
		t.Fatalf("Send err: %v", err)
	}

	if _, err := sess.Speak(context.Background(), result.UserMessage.ID); !errors.Is(err, session.ErrNotAssistantMessage) {
		t.Fatalf("expected ErrNotAssistantMessage, got %v", err)
	}
}

func TestMediaFundsRejectionPublishesRecovery(t *testing.T) {
	api := &fakeAPI{
		balance:    20,
		chatResult: &platform.ChatResult{Reply: "one sec"},
		imageErr:   fmt.Errorf("generate-image: %w", platform.ErrInsufficientFunds),
	}
	svc := newService(api)
	sess, _ := svc.Open(context.Background(), "luna", nil)

	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	result, err := sess.Send(context.Background(), "paint one", ledger.ModeImage)
	if err != nil {
		t.Fatalf("Send err: %v", err)
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case event := <-events:
			if event.Type != session.EventFundsInsufficient {
				continue
			}
			if event.Error == "" {
				t.Fatal("funds event must carry the error message")
			}
			got := findMessage(t, sess.State().Messages, result.AssistantMessage.ID)
			if got.IsMediaLoading || got.ImageURL == model.MediaPlaceholder {
				t.Fatalf("placeholder must be cleared on a funds rejection: %+v", got)
			}
			return
		case <-timeout:
			t.Fatal("expected a funds.insufficient event")
		}
	}
}

func findMessage(t *testing.T, messages []model.Message, id string) model.Message {
	t.Helper()
	for _, msg := range messages {
		if msg.ID == id {
			return msg
		}
	}
	t.Fatalf("message %s not found", id)
	return model.Message{}
}

func TestRewardAdUpdatesBalance(t *testing.T) {
	api := &fakeAPI{balance: 0, rewarded: 15}
	svc := newService(api)
	sess, _ := svc.Open(context.Background(), "luna", nil)

	balance, err := sess.RewardAd(context.Background(), "trace-9")
	if err != nil {
		t.Fatalf("RewardAd err: %v", err)
	}
	if balance != 15 || sess.State().Balance != 15 {
		t.Fatalf("balance not applied: %d / %d", balance, sess.State().Balance)
	}
}

func TestSubscribeReceivesTurnEvents(t *testing.T) {
	api := &fakeAPI{balance: 10, chatResult: &platform.ChatResult{Reply: "hello"}}
	svc := newService(api)
	sess, _ := svc.Open(context.Background(), "luna", nil)

	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	if _, err := sess.Send(context.Background(), "hi", ledger.ModeText); err != nil {
		t.Fatalf("Send err: %v", err)
	}

	appended := 0
	timeout := time.After(2 * time.Second)
	for appended < 2 {
		select {
		case event := <-events:
			if event.Type == session.EventMessageAppended {
				appended++
			}
		case <-timeout:
			t.Fatalf("expected 2 append events, got %d", appended)
		}
	}
}

func TestCloseDiscardsSession(t *testing.T) {
	api := &fakeAPI{balance: 10}
	svc := newService(api)
	sess, _ := svc.Open(context.Background(), "luna", nil)

	events, _ := sess.Subscribe()

	if err := svc.Close(sess.ID); err != nil {
		t.Fatalf("Close err: %v", err)
	}

	if _, err := svc.Get(sess.ID); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected closed event channel")
		}
	case <-time.After(time.Second):
		t.Fatal("event channel not closed")
	}

	if err := svc.Close(sess.ID); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("double close should report missing session, got %v", err)
	}
}
