package scenario

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	meshmodel "github.com/zhouzirui/mesh-coach/backend/internal/model/mesh"
	meshsvc "github.com/zhouzirui/mesh-coach/backend/internal/service/mesh"
	"github.com/zhouzirui/mesh-coach/backend/pkg/utils"
)

// Store is the slice of the scenario store the handler reads from.
type Store interface {
	Get(id string) (*meshsvc.ValidGraph, error)
	List() []meshmodel.Graph
}

// Handler exposes the scenario catalog to the UI.
type Handler struct {
	store Store
}

// New creates the scenario handler.
func New(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes mounts the scenario endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/scenarios", h.handleList)
	r.Get("/scenarios/{scenarioID}", h.handleGet)
}

type summary struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	NodeCount int    `json:"nodeCount"`
	QuizGates int    `json:"quizGates"`
	MaxTurns  int    `json:"maxTurns,omitempty"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	graphs := h.store.List()
	out := make([]summary, 0, len(graphs))
	for _, g := range graphs {
		gates := 0
		for _, n := range g.Nodes {
			if n.QuizGate {
				gates++
			}
		}
		out = append(out, summary{
			ID:        g.ID,
			Name:      g.Name,
			NodeCount: len(g.Nodes),
			QuizGates: gates,
			MaxTurns:  g.MaxTurns,
		})
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "scenarioID")
	graph, err := h.store.Get(id)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "scenario not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, graph.Graph())
}
