package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	authHandler "github.com/lifeddx/steve/backend/internal/handler/auth"
	"github.com/lifeddx/steve/backend/internal/handler/chat"
	historyHandler "github.com/lifeddx/steve/backend/internal/handler/history"
	specialistHandler "github.com/lifeddx/steve/backend/internal/handler/specialist"
	"github.com/lifeddx/steve/backend/internal/handler/stream"
	middlewarePkg "github.com/lifeddx/steve/backend/internal/middleware"
	"github.com/lifeddx/steve/backend/internal/model/specialist"
	authService "github.com/lifeddx/steve/backend/internal/service/auth"
	"github.com/lifeddx/steve/backend/internal/service/conversation"
	"github.com/lifeddx/steve/backend/internal/service/session"
	"github.com/lifeddx/steve/backend/pkg/utils"
)

// Dependencies are the services the HTTP surface is built on. Compactor and
// LoginLimiter may be nil; ConfigErr carries the startup configuration problem, if any.
// TrustProxy takes the client address from forwarding headers and must only be set
// behind a reverse proxy that overwrites them.
type Dependencies struct {
	Sessions      *session.Manager
	Registry      specialist.Store
	Gate          *authService.Gate
	Conversations *conversation.Manager
	Compactor     historyHandler.Compactor
	LoginLimiter  *middlewarePkg.LoginLimiter

	AllowedOrigins []string
	SessionCookie  string
	SecureCookies  bool
	TrustProxy     bool
	ConfigErr      error
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if deps.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins...))

	// Create handlers
	turns := stream.New(deps.Conversations)
	chatHandler := chat.New(turns, deps.Registry, deps.AllowedOrigins)
	specialists := specialistHandler.New(deps.Registry)
	accounts := authHandler.New(deps.Gate, deps.LoginLimiter, deps.SecureCookies)
	history := historyHandler.New(deps.Compactor)

	sessions := middlewarePkg.NewSessions(deps.Sessions, deps.Gate, deps.SessionCookie, deps.SecureCookies)

	r.Route("/api", func(api chi.Router) {
		api.Get("/status", statusHandler(deps))

		api.Group(func(scoped chi.Router) {
			scoped.Use(sessions.Handler)

			accounts.RegisterRoutes(scoped)

			scoped.Group(func(private chi.Router) {
				private.Use(middlewarePkg.RequireAuth)

				specialists.RegisterRoutes(private)
				chatHandler.RegisterRoutes(private)
				turns.RegisterRoutes(private)
				history.RegisterRoutes(private)
			})
		})
	})

	return r
}

// statusHandler reports readiness. A missing API key degrades the service instead of
// stopping it, and the message is what the page shows as its banner.
func statusHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"status":      "ok",
			"assistant":   deps.Conversations.Available(),
			"compaction":  deps.Compactor != nil,
			"specialists": len(deps.Registry.List()),
		}
		if deps.ConfigErr != nil {
			payload["status"] = "degraded"
			payload["message"] = "API key is not configured. Please set the API_KEY environment variable."
			payload["error"] = deps.ConfigErr.Error()
		}
		utils.RespondJSON(w, http.StatusOK, payload)
	}
}
