package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	sessionmodel "github.com/zhouzirui/mesh-coach/backend/internal/model/session"
	"github.com/zhouzirui/mesh-coach/backend/internal/service/channel"
	"github.com/zhouzirui/mesh-coach/backend/internal/service/identity"
	meshsvc "github.com/zhouzirui/mesh-coach/backend/internal/service/mesh"
	"github.com/zhouzirui/mesh-coach/backend/internal/service/scheduler"
	sessionsvc "github.com/zhouzirui/mesh-coach/backend/internal/service/session"
	"github.com/zhouzirui/mesh-coach/backend/pkg/utils"
)

// ScenarioStore resolves scenario ids to validated graphs.
type ScenarioStore interface {
	Get(id string) (*meshsvc.ValidGraph, error)
}

// ChannelOpener establishes the provider stream for a new session. Nil means
// the deployment runs text-only and sessions get a silent channel.
type ChannelOpener interface {
	Open(ctx context.Context, sessionID string) (*channel.Channel, error)
}

// ReportReader serves finalized reports to the UI.
type ReportReader interface {
	GetReport(ctx context.Context, sessionID string) (*sessionmodel.Report, error)
}

// Handler is the REST surface for session lifecycle and turn commands.
type Handler struct {
	scenarios ScenarioStore
	manager   *sessionsvc.Manager
	runtimes  *scheduler.Service
	opener    ChannelOpener
	agents    scheduler.AgentGenerator
	synth     scheduler.Synthesizer
	identity  *identity.Client
	reports   ReportReader
	maxTurns  int
	log       zerolog.Logger
}

// New creates the session handler. agents, synth, opener, identity and
// reports are all optional; missing collaborators degrade the corresponding
// feature instead of blocking sessions.
func New(scenarios ScenarioStore, manager *sessionsvc.Manager, runtimes *scheduler.Service, opener ChannelOpener, agents scheduler.AgentGenerator, synth scheduler.Synthesizer, idClient *identity.Client, reports ReportReader, maxTurns int, log zerolog.Logger) *Handler {
	return &Handler{
		scenarios: scenarios,
		manager:   manager,
		runtimes:  runtimes,
		opener:    opener,
		agents:    agents,
		synth:     synth,
		identity:  idClient,
		reports:   reports,
		maxTurns:  maxTurns,
		log:       log.With().Str("component", "api").Logger(),
	}
}

// RegisterRoutes mounts the session endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions", h.handleCreate)
	r.Get("/sessions/{sessionID}", h.handleGet)
	r.Get("/sessions/{sessionID}/report", h.handleReport)
	r.Post("/sessions/{sessionID}/advance", h.handleAdvance)
	r.Post("/sessions/{sessionID}/pause", h.command("pause"))
	r.Post("/sessions/{sessionID}/resume", h.command("resume"))
	r.Post("/sessions/{sessionID}/restart", h.command("restart"))
	r.Post("/sessions/{sessionID}/quiz-answer", h.handleQuizAnswer)
	r.Post("/sessions/{sessionID}/end", h.handleEnd)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ScenarioID string `json:"scenarioId"`
		UserID     string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.ScenarioID == "" {
		utils.RespondError(w, http.StatusBadRequest, "scenarioId is required")
		return
	}
	if payload.UserID == "" {
		utils.RespondError(w, http.StatusBadRequest, "userId is required")
		return
	}

	graph, err := h.scenarios.Get(payload.ScenarioID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "scenario not found")
		return
	}

	// Identity is best-effort: an unreachable profile service never blocks a
	// training run.
	displayName := ""
	if h.identity != nil {
		if profile, err := h.identity.Lookup(r.Context(), payload.UserID); err == nil {
			displayName = profile.DisplayName
		} else {
			h.log.Warn().Err(err).Str("user", payload.UserID).Msg("profile lookup failed")
		}
	}

	state, err := h.manager.Create(r.Context(), payload.UserID, displayName, graph, h.maxTurns)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var ch scheduler.ProviderChannel
	if h.opener != nil {
		opened, err := h.opener.Open(r.Context(), state.SessionID)
		if err != nil {
			h.manager.Remove(state.SessionID)
			if errors.Is(err, channel.ErrCredentialUnavailable) {
				utils.RespondError(w, http.StatusBadGateway, "voice credential unavailable")
				return
			}
			utils.RespondError(w, http.StatusBadGateway, "voice channel unavailable")
			return
		}
		ch = opened
	} else {
		ch = newSilentChannel()
	}

	h.runtimes.Start(context.Background(), state.SessionID, graph, ch, h.agents, h.synth)

	utils.RespondJSON(w, http.StatusCreated, state)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	state, err := h.manager.Get(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, state)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		utils.RespondError(w, http.StatusNotFound, "report persistence disabled")
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	report, err := h.reports.GetReport(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to load report")
		return
	}
	if report == nil {
		utils.RespondError(w, http.StatusNotFound, "report not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, report)
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Transcript string `json:"transcript"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.dispatch(w, r, "advance", payload.Transcript, "")
}

func (h *Handler) handleQuizAnswer(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Answer == "" {
		utils.RespondError(w, http.StatusBadRequest, "answer is required")
		return
	}
	h.dispatch(w, r, "quiz_answer", payload.Answer, "")
}

func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Reason string `json:"reason"`
	}
	// An empty body is a plain user-requested end.
	_ = json.NewDecoder(r.Body).Decode(&payload)
	h.dispatch(w, r, "end", "", payload.Reason)
}

func (h *Handler) command(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.dispatch(w, r, kind, "", "")
	}
}

// dispatch routes a command through the session's runtime loop and maps
// state-machine refusals to HTTP statuses.
func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, kind, input, reason string) {
	sessionID := chi.URLParam(r, "sessionID")

	rt, err := h.runtimes.Get(sessionID)
	if err != nil {
		// No live runtime: either unknown or already ended. Ended sessions
		// still answer reads, so distinguish via the manager.
		if state, getErr := h.manager.Get(r.Context(), sessionID); getErr == nil {
			if kind == "end" {
				// Ending an ended session is a no-op.
				utils.RespondJSON(w, http.StatusOK, state)
				return
			}
			utils.RespondError(w, http.StatusConflict, "session already ended")
			return
		}
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	if err := rt.Dispatch(r.Context(), kind, input, reason); err != nil {
		utils.RespondError(w, refusalStatus(err), err.Error())
		return
	}

	state, err := h.manager.Get(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, state)
}

func refusalStatus(err error) int {
	switch {
	case errors.Is(err, sessionsvc.ErrSessionEnded),
		errors.Is(err, sessionsvc.ErrQuizPending),
		errors.Is(err, sessionsvc.ErrQuizNotActive),
		errors.Is(err, sessionsvc.ErrRestartNotAllowed),
		errors.Is(err, sessionsvc.ErrPauseNotAllowed),
		errors.Is(err, sessionsvc.ErrSessionPaused),
		errors.Is(err, sessionsvc.ErrNotActive),
		errors.Is(err, sessionsvc.ErrNotPaused):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
