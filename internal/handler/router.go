package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/mesh-coach/backend/internal/handler/live"
	"github.com/zhouzirui/mesh-coach/backend/internal/handler/scenario"
	sessionHandler "github.com/zhouzirui/mesh-coach/backend/internal/handler/session"
	middlewarePkg "github.com/zhouzirui/mesh-coach/backend/internal/middleware"
	"github.com/zhouzirui/mesh-coach/backend/pkg/utils"
)

// Deps collects the collaborators the HTTP surface exposes.
type Deps struct {
	Scenarios *scenario.Handler
	Sessions  *sessionHandler.Handler
	Live      *live.Handler
	Log       zerolog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		deps.Scenarios.RegisterRoutes(api)
		deps.Sessions.RegisterRoutes(api)
		deps.Live.RegisterRoutes(api)
	})

	return r
}
