package media

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/auraspark/companion/backend/internal/model/conversation"
	"github.com/auraspark/companion/backend/internal/platform"
	conversationlog "github.com/auraspark/companion/backend/internal/service/conversation"
	"github.com/auraspark/companion/backend/internal/service/ledger"
)

// DefaultMotionPrompt is the video motion prompt used when neither the agent
// template nor the user text contributes anything.
const DefaultMotionPrompt = "cinematic movement"

// failureNote is appended to the assistant text when an enrichment job fails.
// The turn still completes with a visible degraded result.
const failureNote = "(the picture didn't come through this time, ask me again?)"

// Generator is the slice of the platform API the runner consumes.
type Generator interface {
	GenerateImage(ctx context.Context, req platform.ImageRequest) (*platform.MediaResult, error)
	GenerateVideo(ctx context.Context, req platform.VideoRequest) (*platform.MediaResult, error)
}

// Observer receives the side effects of a resolved job. Implementations fan
// the updates out to the UI.
type Observer interface {
	MessageUpdated(msg conversation.Message)
	BalanceUpdated(balance int)
	IntimacyUpdated(intimacy int)
	FundsInsufficient(err error)
}

// Request describes one enrichment job bound to an already-appended assistant
// message. The message is addressed by ID only.
type Request struct {
	MessageID    string
	Mode         ledger.Mode
	AgentID      string
	UserText     string
	MotionPhrase string
	UseAvatar    bool
	FastMode     bool
}

// Runner executes enrichment jobs against the platform and resolves the
// target message in place.
type Runner struct {
	client   Generator
	log      *conversationlog.Log
	observer Observer
}

// NewRunner wires a runner to its transcript and observer.
func NewRunner(client Generator, transcript *conversationlog.Log, observer Observer) *Runner {
	return &Runner{client: client, log: transcript, observer: observer}
}

// Run executes one job to completion. On success the target message gets the
// media URL; on failure the placeholder is cleared and a short note is
// appended to the text. A cancelled job resolves silently without touching
// the transcript, so a superseded task can never patch a newer message.
func (r *Runner) Run(ctx context.Context, req Request) {
	var result *platform.MediaResult
	var err error

	switch req.Mode {
	case ledger.ModeVideo:
		result, err = r.client.GenerateVideo(ctx, platform.VideoRequest{
			AgentID:  req.AgentID,
			Prompt:   ComposeMotionPrompt(req.MotionPhrase, req.UserText),
			FastMode: req.FastMode,
		})
	default:
		result, err = r.client.GenerateImage(ctx, platform.ImageRequest{
			Description: req.UserText,
			AgentID:     req.AgentID,
			UseAvatar:   req.UseAvatar,
		})
	}

	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		log.Printf("[media] job for message=%s superseded, dropping result", req.MessageID)
		return
	}

	if err != nil {
		if errors.Is(err, platform.ErrInsufficientFunds) {
			r.resolveInsufficientFunds(req.MessageID, err)
			return
		}
		r.resolveFailure(req.MessageID, err)
		return
	}

	r.resolveSuccess(req, result)
}

func (r *Runner) resolveSuccess(req Request, result *platform.MediaResult) {
	patch := conversationlog.Patch{IsMediaLoading: boolPtr(false)}
	if req.Mode == ledger.ModeVideo {
		patch.ImageURL = stringPtr("")
		patch.VideoURL = stringPtr(result.URL)
	} else {
		patch.ImageURL = stringPtr(result.URL)
	}

	if !r.log.Update(req.MessageID, patch) {
		log.Printf("[media] resolved job for unknown message=%s", req.MessageID)
		return
	}

	if msg, ok := r.log.Get(req.MessageID); ok && r.observer != nil {
		r.observer.MessageUpdated(msg)
	}
	if r.observer != nil {
		if result.Balance != nil {
			r.observer.BalanceUpdated(*result.Balance)
		}
		if result.Intimacy != nil {
			r.observer.IntimacyUpdated(*result.Intimacy)
		}
	}
}

// resolveInsufficientFunds clears the placeholder without annotating the
// text; the observer carries the recovery offer instead of a failure note.
func (r *Runner) resolveInsufficientFunds(messageID string, err error) {
	log.Printf("[media] generation blocked for message=%s: %v", messageID, err)

	r.log.Update(messageID, conversationlog.Patch{
		ImageURL:       stringPtr(""),
		IsMediaLoading: boolPtr(false),
	})

	if updated, ok := r.log.Get(messageID); ok && r.observer != nil {
		r.observer.MessageUpdated(updated)
	}
	if r.observer != nil {
		r.observer.FundsInsufficient(err)
	}
}

func (r *Runner) resolveFailure(messageID string, err error) {
	log.Printf("[media] generation failed for message=%s: %v", messageID, err)

	msg, ok := r.log.Get(messageID)
	if !ok {
		return
	}

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		content = failureNote
	} else {
		content = content + "\n" + failureNote
	}

	r.log.Update(messageID, conversationlog.Patch{
		Content:        stringPtr(content),
		ImageURL:       stringPtr(""),
		IsMediaLoading: boolPtr(false),
	})

	if updated, ok := r.log.Get(messageID); ok && r.observer != nil {
		r.observer.MessageUpdated(updated)
	}
}

// ComposeMotionPrompt joins the agent's motion template with the user's text,
// falling back to DefaultMotionPrompt when both are empty.
func ComposeMotionPrompt(phrase, userText string) string {
	parts := make([]string, 0, 2)
	if p := strings.TrimSpace(phrase); p != "" {
		parts = append(parts, p)
	}
	if t := strings.TrimSpace(userText); t != "" {
		parts = append(parts, t)
	}
	if len(parts) == 0 {
		return DefaultMotionPrompt
	}
	return strings.Join(parts, ", ")
}

func stringPtr(s string) *string { return &s }
func boolPtr(b bool) *bool       { return &b }
