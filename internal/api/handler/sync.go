package handler

import (
	"encoding/json"
	"net/http"

	"github.com/tpolls/tpolls-api/internal/publisher"
	"go.uber.org/zap"
)

// HandleSyncStatus reports reconciliation state counts and queue depth
func (h *Handler) HandleSyncStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	registrations, err := h.Store.CountRegistrationsByStatus(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}

	votes, err := h.Store.CountVotesByStatus(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}

	queueLength, err := h.Publisher.QueueLength(ctx)
	if err != nil {
		h.Logger.Warn("queue length unavailable", zap.Error(err))
		queueLength = -1
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"registrations": registrations,
		"votes":         votes,
		"queue": map[string]any{
			"topic":  h.Publisher.Topic(),
			"length": queueLength,
		},
	})
}

// HandleSyncTrigger enqueues a manual sweep for the given scope
func (h *Handler) HandleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scope string `json:"scope"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}

	switch req.Scope {
	case "":
		req.Scope = publisher.ScopeFull
	case publisher.ScopeFull, publisher.ScopeVotes, publisher.ScopeLiveness:
	default:
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown scope"})
		return
	}

	if err := h.Publisher.PublishSweep(r.Context(), req.Scope); err != nil {
		h.writeError(w, err)
		return
	}

	h.Logger.Info("manual sweep triggered", zap.String("scope", req.Scope))
	h.writeJSON(w, http.StatusAccepted, map[string]string{"scope": req.Scope, "status": "queued"})
}
