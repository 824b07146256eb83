package session

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/auraspark/companion/backend/internal/platform"
	"github.com/auraspark/companion/backend/internal/service/ledger"
	sessionService "github.com/auraspark/companion/backend/internal/service/session"
	"github.com/auraspark/companion/backend/internal/service/turn"
	"github.com/auraspark/companion/backend/pkg/utils"
)

// Handler exposes the conversation session lifecycle and turn operations.
type Handler struct {
	sessions *sessionService.Service
}

// New creates a session handler.
func New(sessions *sessionService.Service) *Handler {
	return &Handler{sessions: sessions}
}

// RegisterRoutes registers session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleOpen)
	r.Get("/sessions/{sessionID}", h.handleState)
	r.Delete("/sessions/{sessionID}", h.handleClose)
	r.Post("/sessions/{sessionID}/turns", h.handleTurn)
	r.Post("/sessions/{sessionID}/choices", h.handleChoice)
	r.Post("/sessions/{sessionID}/messages/{messageID}/speech", h.handleSpeech)
	r.Post("/sessions/{sessionID}/reward", h.handleReward)
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AgentID     string `json:"agentId"`
		SuggestMode *bool  `json:"suggestMode,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.AgentID == "" {
		utils.RespondError(w, http.StatusBadRequest, "agentId is required")
		return
	}

	sess, err := h.sessions.Open(r.Context(), payload.AgentID, payload.SuggestMode)
	if err != nil {
		if errors.Is(err, sessionService.ErrAgentNotFound) {
			utils.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		utils.RespondError(w, http.StatusBadGateway, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusCreated, sess.State())
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolveSession(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, sess.State())
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.sessions.Close(sessionID); err != nil {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (h *Handler) handleTurn(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolveSession(w, r)
	if !ok {
		return
	}

	var payload struct {
		Content string `json:"content"`
		Mode    string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mode, ok := parseMode(payload.Mode)
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "mode must be text, image or video")
		return
	}

	result, err := sess.Send(r.Context(), payload.Content, mode)
	if err != nil {
		h.respondTurnError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) handleChoice(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolveSession(w, r)
	if !ok {
		return
	}

	var payload struct {
		Index int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := sess.RecordChoice(r.Context(), payload.Index)
	if err != nil {
		if errors.Is(err, sessionService.ErrInvalidChoice) ||
			errors.Is(err, sessionService.ErrDetectionComplete) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.respondTurnError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) handleSpeech(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolveSession(w, r)
	if !ok {
		return
	}

	messageID := chi.URLParam(r, "messageID")
	msg, err := sess.Speak(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, sessionService.ErrMessageNotFound) {
			utils.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		if errors.Is(err, sessionService.ErrNotAssistantMessage) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.respondTurnError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, msg)
}

func (h *Handler) handleReward(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.resolveSession(w, r)
	if !ok {
		return
	}

	var payload struct {
		TraceID string `json:"traceId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.TraceID == "" {
		utils.RespondError(w, http.StatusBadRequest, "traceId is required")
		return
	}

	balance, err := sess.RewardAd(r.Context(), payload.TraceID)
	if err != nil {
		utils.RespondError(w, http.StatusBadGateway, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]int{"balance": balance})
}

func (h *Handler) resolveSession(w http.ResponseWriter, r *http.Request) (*sessionService.Session, bool) {
	sessionID := chi.URLParam(r, "sessionID")
	sess, err := h.sessions.Get(sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

// respondTurnError maps the turn error taxonomy to HTTP statuses: 402 with a
// recovery hint for insufficient funds, 400 for empty input, 502 otherwise.
func (h *Handler) respondTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, platform.ErrInsufficientFunds):
		utils.RespondJSON(w, http.StatusPaymentRequired, map[string]string{
			"error":    err.Error(),
			"recovery": "ad",
		})
	case errors.Is(err, turn.ErrEmptyInput):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		utils.RespondError(w, http.StatusBadGateway, err.Error())
	}
}

func parseMode(raw string) (ledger.Mode, bool) {
	switch raw {
	case "", string(ledger.ModeText):
		return ledger.ModeText, true
	case string(ledger.ModeImage):
		return ledger.ModeImage, true
	case string(ledger.ModeVideo):
		return ledger.ModeVideo, true
	default:
		return "", false
	}
}
