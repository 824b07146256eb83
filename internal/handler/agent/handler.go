package agent

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/auraspark/companion/backend/internal/model/agent"
	"github.com/auraspark/companion/backend/pkg/utils"
)

// Handler serves the companion roster.
type Handler struct {
	agents agent.Store
}

// New creates an agent handler.
func New(agents agent.Store) *Handler {
	return &Handler{agents: agents}
}

// RegisterRoutes registers agent routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/agents", h.handleListAgents)
}

func (h *Handler) handleListAgents(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.agents.List())
}
