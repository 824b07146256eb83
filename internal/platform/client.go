package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/auraspark/companion/backend/internal/model/conversation"
)

// ErrInsufficientFunds is returned when the platform rejects an operation
// because the wallet cannot cover its cost. Callers distinguish it from
// generic transport failures with errors.Is.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Config carries the connection settings for the companion platform API.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to the companion platform REST API. All AI output consumed by
// the gateway (chat replies, media URLs, suggestions) originates here.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient builds a platform client from configuration.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("platform base URL is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: base,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// DetectionPayload mirrors the detection fields the platform attaches to chat
// and detection-status responses.
type DetectionPayload struct {
	Round        int                        `json:"round"`
	IsComplete   bool                       `json:"isComplete"`
	ReplyOptions []conversation.ReplyOption `json:"replyOptions,omitempty"`
}

// HistoryResult is the mount-time snapshot for one agent conversation.
type HistoryResult struct {
	History  []conversation.Message `json:"history"`
	Intimacy *int                   `json:"intimacy,omitempty"`
	Greeting *conversation.Greeting `json:"greeting,omitempty"`
}

// ChatRequest asks the platform for the assistant's next text reply.
type ChatRequest struct {
	AgentID      string                 `json:"agentId"`
	Prompt       string                 `json:"prompt"`
	History      []conversation.Message `json:"history,omitempty"`
	SkipMediaGen bool                   `json:"skipMediaGen"`
}

// ChatResult carries the reply plus any ledger/intimacy/detection updates.
type ChatResult struct {
	Reply     string            `json:"reply"`
	AudioURL  string            `json:"audioUrl,omitempty"`
	Balance   *int              `json:"balance,omitempty"`
	Intimacy  *int              `json:"intimacy,omitempty"`
	Detection *DetectionPayload `json:"detection,omitempty"`
}

// SpeechResult is the outcome of an on-demand TTS request.
type SpeechResult struct {
	AudioURL string `json:"audioUrl"`
	Balance  *int   `json:"balance,omitempty"`
}

// MediaResult is the outcome of an image or video generation request.
type MediaResult struct {
	URL      string `json:"url"`
	Balance  *int   `json:"balance,omitempty"`
	Intimacy *int   `json:"intimacy,omitempty"`
}

// ImageRequest describes one image generation job.
type ImageRequest struct {
	Description string `json:"description"`
	AgentID     string `json:"agentId"`
	UseAvatar   bool   `json:"useAvatar"`
}

// VideoRequest describes one video generation job. ImageURL stays empty; the
// platform resolves the source frame from the relationship intimacy.
type VideoRequest struct {
	AgentID  string `json:"agentId"`
	Prompt   string `json:"prompt"`
	ImageURL string `json:"imageUrl,omitempty"`
	FastMode bool   `json:"fastMode"`
}

// SuggestRequest asks for free-form reply candidates.
type SuggestRequest struct {
	LastAIMessage string `json:"lastAiMessage"`
	Intimacy      int    `json:"intimacy"`
}

// History fetches the stored transcript and greeting for an agent.
func (c *Client) History(ctx context.Context, agentID string) (*HistoryResult, error) {
	out := &HistoryResult{}
	path := "/history?agentId=" + url.QueryEscape(agentID)
	if err := c.do(ctx, http.MethodGet, path, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Chat requests the assistant's text reply for one turn.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	out := &ChatResult{}
	if err := c.do(ctx, http.MethodPost, "/chat", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SynthesizeSpeech runs on-demand TTS for an existing assistant message.
func (c *Client) SynthesizeSpeech(ctx context.Context, agentID, text string) (*SpeechResult, error) {
	body := map[string]string{"agentId": agentID, "text": text}
	out := &SpeechResult{}
	if err := c.do(ctx, http.MethodPost, "/chat/tts", body, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GenerateImage runs one image enrichment job.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (*MediaResult, error) {
	out := &MediaResult{}
	if err := c.do(ctx, http.MethodPost, "/generate-image", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GenerateVideo runs one video enrichment job.
func (c *Client) GenerateVideo(ctx context.Context, req VideoRequest) (*MediaResult, error) {
	out := &MediaResult{}
	if err := c.do(ctx, http.MethodPost, "/generate-video", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DetectionStatus resumes the scripted-choice protocol state on remount.
func (c *Client) DetectionStatus(ctx context.Context, agentID string) (*DetectionPayload, error) {
	out := &DetectionPayload{}
	path := "/detection-status?agentId=" + url.QueryEscape(agentID)
	if err := c.do(ctx, http.MethodGet, path, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// RecordChoice reports the user's scripted-choice selection.
func (c *Client) RecordChoice(ctx context.Context, agentID string, choiceIndex int) (*DetectionPayload, error) {
	body := map[string]any{"agentId": agentID, "choiceIndex": choiceIndex}
	out := &DetectionPayload{}
	if err := c.do(ctx, http.MethodPost, "/record-choice", body, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SuggestReplies fetches free-form reply candidates for the latest reply.
func (c *Client) SuggestReplies(ctx context.Context, agentID string, req SuggestRequest) ([]conversation.ReplyOption, error) {
	body := struct {
		AgentID string `json:"agentId"`
		SuggestRequest
	}{AgentID: agentID, SuggestRequest: req}

	out := &struct {
		Suggestions []conversation.ReplyOption `json:"suggestions"`
	}{}
	if err := c.do(ctx, http.MethodPost, "/suggest-replies", body, out); err != nil {
		return nil, err
	}
	return out.Suggestions, nil
}

// WalletBalance reads the authoritative coin balance.
func (c *Client) WalletBalance(ctx context.Context) (int, error) {
	out := &struct {
		Balance int `json:"balance"`
	}{}
	if err := c.do(ctx, http.MethodGet, "/wallet/balance", nil, out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

// RewardAd credits the wallet after a completed ad view and returns the new
// balance.
func (c *Client) RewardAd(ctx context.Context, traceID string) (int, error) {
	body := map[string]string{"traceId": traceID}
	out := &struct {
		Balance int `json:"balance"`
	}{}
	if err := c.do(ctx, http.MethodPost, "/wallet/reward/ad", body, out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("platform request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPaymentRequired {
		return fmt.Errorf("%s %s: %w", method, path, ErrInsufficientFunds)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("platform %s %s: %s", method, path, readErrorMessage(resp))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode platform response: %w", err)
	}
	return nil
}

func readErrorMessage(resp *http.Response) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && json.Unmarshal(data, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return resp.Status
}
