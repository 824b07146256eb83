package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	agentHandler "github.com/auraspark/companion/backend/internal/handler/agent"
	eventsHandler "github.com/auraspark/companion/backend/internal/handler/events"
	sessionHandler "github.com/auraspark/companion/backend/internal/handler/session"
	middlewarePkg "github.com/auraspark/companion/backend/internal/middleware"
	agentModel "github.com/auraspark/companion/backend/internal/model/agent"
	sessionService "github.com/auraspark/companion/backend/internal/service/session"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(agents agentModel.Store, sessions *sessionService.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Route("/api", func(api chi.Router) {
		agentHandler.New(agents).RegisterRoutes(api)
		sessionHandler.New(sessions).RegisterRoutes(api)
		eventsHandler.New(sessions).RegisterRoutes(api)
	})

	return r
}
