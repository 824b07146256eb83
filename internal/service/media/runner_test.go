package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	model "github.com/auraspark/companion/backend/internal/model/conversation"
	"github.com/auraspark/companion/backend/internal/platform"
	conversationlog "github.com/auraspark/companion/backend/internal/service/conversation"
	"github.com/auraspark/companion/backend/internal/service/ledger"
)

type fakeGenerator struct {
	mu         sync.Mutex
	imageCalls int
	videoCalls int
	lastVideo  platform.VideoRequest
	result     *platform.MediaResult
	err        error
	block      chan struct{} // when set, calls wait for it (or ctx) before returning
}

func (f *fakeGenerator) GenerateImage(ctx context.Context, req platform.ImageRequest) (*platform.MediaResult, error) {
	f.mu.Lock()
	f.imageCalls++
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.result, f.err
}

func (f *fakeGenerator) GenerateVideo(ctx context.Context, req platform.VideoRequest) (*platform.MediaResult, error) {
	f.mu.Lock()
	f.videoCalls++
	f.lastVideo = req
	f.mu.Unlock()
	return f.result, f.err
}

type recordingObserver struct {
	mu       sync.Mutex
	updated  []model.Message
	balances []int
	scores   []int
	funds    []error
}

func (r *recordingObserver) MessageUpdated(msg model.Message) {
	r.mu.Lock()
	r.updated = append(r.updated, msg)
	r.mu.Unlock()
}

func (r *recordingObserver) BalanceUpdated(balance int) {
	r.mu.Lock()
	r.balances = append(r.balances, balance)
	r.mu.Unlock()
}

func (r *recordingObserver) IntimacyUpdated(intimacy int) {
	r.mu.Lock()
	r.scores = append(r.scores, intimacy)
	r.mu.Unlock()
}

func (r *recordingObserver) FundsInsufficient(err error) {
	r.mu.Lock()
	r.funds = append(r.funds, err)
	r.mu.Unlock()
}

func intPtr(v int) *int { return &v }

func newTestTarget(t *testing.T) (*conversationlog.Log, model.Message) {
	t.Helper()
	l := conversationlog.NewLog()
	msg := l.Append(model.Message{
		Role:           model.RoleAssistant,
		Content:        "look at this",
		ImageURL:       model.MediaPlaceholder,
		IsMediaLoading: true,
	})
	return l, msg
}

func TestRunnerImageSuccessResolvesPlaceholder(t *testing.T) {
	l, msg := newTestTarget(t)
	gen := &fakeGenerator{result: &platform.MediaResult{
		URL:      "https://cdn.example.com/pic.png",
		Balance:  intPtr(42),
		Intimacy: intPtr(9),
	}}
	obs := &recordingObserver{}

	NewRunner(gen, l, obs).Run(context.Background(), Request{
		MessageID: msg.ID,
		Mode:      ledger.ModeImage,
		AgentID:   "luna",
		UserText:  "a sunset",
	})

	got, _ := l.Get(msg.ID)
	if got.ImageURL != "https://cdn.example.com/pic.png" {
		t.Fatalf("unexpected image url: %q", got.ImageURL)
	}
	if got.IsMediaLoading {
		t.Fatal("loading flag should be cleared")
	}
	if len(obs.updated) != 1 {
		t.Fatalf("expected 1 update event, got %d", len(obs.updated))
	}
	if len(obs.balances) != 1 || obs.balances[0] != 42 {
		t.Fatalf("unexpected balance events: %v", obs.balances)
	}
	if len(obs.scores) != 1 || obs.scores[0] != 9 {
		t.Fatalf("unexpected intimacy events: %v", obs.scores)
	}
}

func TestRunnerVideoSuccessSetsVideoURL(t *testing.T) {
	l, msg := newTestTarget(t)
	gen := &fakeGenerator{result: &platform.MediaResult{URL: "https://cdn.example.com/clip.mp4"}}

	NewRunner(gen, l, &recordingObserver{}).Run(context.Background(), Request{
		MessageID:    msg.ID,
		Mode:         ledger.ModeVideo,
		AgentID:      "luna",
		UserText:     "dance for me",
		MotionPhrase: "slow dreamy drift",
		FastMode:     true,
	})

	got, _ := l.Get(msg.ID)
	if got.VideoURL != "https://cdn.example.com/clip.mp4" {
		t.Fatalf("unexpected video url: %q", got.VideoURL)
	}
	if got.ImageURL != "" {
		t.Fatalf("placeholder should be cleared, got %q", got.ImageURL)
	}
	if gen.lastVideo.Prompt != "slow dreamy drift, dance for me" {
		t.Fatalf("unexpected motion prompt: %q", gen.lastVideo.Prompt)
	}
	if gen.lastVideo.ImageURL != "" {
		t.Fatal("client must not supply a source image; the platform resolves it")
	}
	if !gen.lastVideo.FastMode {
		t.Fatal("fast mode flag not forwarded")
	}
}

func TestRunnerFailureDegradesGracefully(t *testing.T) {
	l, msg := newTestTarget(t)
	gen := &fakeGenerator{err: context.DeadlineExceeded}

	NewRunner(gen, l, &recordingObserver{}).Run(context.Background(), Request{
		MessageID: msg.ID,
		Mode:      ledger.ModeImage,
		AgentID:   "luna",
		UserText:  "a sunset",
	})

	got, _ := l.Get(msg.ID)
	if got.IsMediaLoading {
		t.Fatal("loading flag should be cleared on failure")
	}
	if got.ImageURL != "" {
		t.Fatalf("placeholder must not survive a failure, got %q", got.ImageURL)
	}
	if got.Content == "" || !strings.HasPrefix(got.Content, "look at this") {
		t.Fatalf("original text must be preserved, got %q", got.Content)
	}
	if got.Content == "look at this" {
		t.Fatal("expected a failure note appended to the content")
	}
}

func TestRunnerInsufficientFundsClearsPlaceholderAndSignals(t *testing.T) {
	l, msg := newTestTarget(t)
	gen := &fakeGenerator{err: fmt.Errorf("generate-image: %w", platform.ErrInsufficientFunds)}
	obs := &recordingObserver{}

	NewRunner(gen, l, obs).Run(context.Background(), Request{
		MessageID: msg.ID,
		Mode:      ledger.ModeImage,
		AgentID:   "luna",
		UserText:  "a sunset",
	})

	got, _ := l.Get(msg.ID)
	if got.IsMediaLoading || got.ImageURL != "" {
		t.Fatalf("placeholder must be cleared, got %+v", got)
	}
	if got.Content != "look at this" {
		t.Fatalf("a funds rejection must not annotate the text, got %q", got.Content)
	}
	if len(obs.funds) != 1 || !errors.Is(obs.funds[0], platform.ErrInsufficientFunds) {
		t.Fatalf("expected one funds signal, got %v", obs.funds)
	}
	if len(obs.updated) != 1 {
		t.Fatalf("expected 1 update event, got %d", len(obs.updated))
	}
}

func TestRunnerCancelledJobPatchesNothing(t *testing.T) {
	l, msg := newTestTarget(t)
	gen := &fakeGenerator{
		result: &platform.MediaResult{URL: "https://cdn.example.com/late.png"},
		block:  make(chan struct{}),
	}
	obs := &recordingObserver{}
	runner := NewRunner(gen, l, obs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runner.Run(ctx, Request{MessageID: msg.ID, Mode: ledger.ModeImage, AgentID: "luna"})
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not observe cancellation")
	}

	got, _ := l.Get(msg.ID)
	if got.ImageURL != model.MediaPlaceholder || !got.IsMediaLoading {
		t.Fatalf("cancelled job must leave the message untouched, got %+v", got)
	}
	if len(obs.updated) != 0 {
		t.Fatal("cancelled job must not emit update events")
	}
}

func TestTrackerLaunchSupersedesPrevious(t *testing.T) {
	l := conversationlog.NewLog()
	first := l.Append(model.Message{Role: model.RoleAssistant, Content: "one", ImageURL: model.MediaPlaceholder, IsMediaLoading: true})
	second := l.Append(model.Message{Role: model.RoleAssistant, Content: "two", ImageURL: model.MediaPlaceholder, IsMediaLoading: true})

	block := make(chan struct{})
	gen := &fakeGenerator{
		result: &platform.MediaResult{URL: "https://cdn.example.com/pic.png"},
		block:  block,
	}
	runner := NewRunner(gen, l, &recordingObserver{})
	tracker := NewTracker()

	tracker.Launch(runner, Request{MessageID: first.ID, Mode: ledger.ModeImage, AgentID: "luna"})
	tracker.Launch(runner, Request{MessageID: second.ID, Mode: ledger.ModeImage, AgentID: "luna"})
	close(block)
	tracker.Wait()

	got, _ := l.Get(first.ID)
	if got.ImageURL != model.MediaPlaceholder {
		t.Fatalf("superseded job should not have patched its message, got %q", got.ImageURL)
	}

	got, _ = l.Get(second.ID)
	if got.ImageURL != "https://cdn.example.com/pic.png" {
		t.Fatalf("latest job should have resolved, got %q", got.ImageURL)
	}
}

func TestComposeMotionPrompt(t *testing.T) {
	cases := []struct {
		phrase, text, want string
	}{
		{"", "", DefaultMotionPrompt},
		{"slow pan", "", "slow pan"},
		{"", "wave hello", "wave hello"},
		{"slow pan", "wave hello", "slow pan, wave hello"},
	}
	for _, tc := range cases {
		if got := ComposeMotionPrompt(tc.phrase, tc.text); got != tc.want {
			t.Fatalf("ComposeMotionPrompt(%q, %q) = %q, want %q", tc.phrase, tc.text, got, tc.want)
		}
	}
}
