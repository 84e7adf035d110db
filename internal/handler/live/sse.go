package live

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/mesh-coach/backend/pkg/utils"
)

// handleSSE is the fallback projection for clients without WebSocket support.
// Same payloads as the socket stream, delivered as named SSE events.
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	state, err := h.manager.Get(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	states, cancelStates, err := h.manager.Subscribe(sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	defer cancelStates()

	suggestions, cancelSuggestions := h.broker.Subscribe(sessionID)
	defer cancelSuggestions()

	utils.SetupSSEHeaders(w)
	utils.SendSSEEvent(w, flusher, "state", state)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-states:
			if !ok {
				return
			}
			utils.SendSSEEvent(w, flusher, "state", next)
		case suggestion, ok := <-suggestions:
			if !ok {
				return
			}
			utils.SendSSEEvent(w, flusher, "suggestion", suggestion)
		}
	}
}
