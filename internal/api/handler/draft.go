package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/tpolls/tpolls-api/pkg/db/models"
	"github.com/tpolls/tpolls-api/pkg/generator"
	"go.uber.org/zap"
)

// HandleDraftGenerate generates a new poll draft from a prompt
func (h *Handler) HandleDraftGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}

	d, err := h.Drafts.Generate(r.Context(), req.Prompt)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.Logger.Info("draft generated", zap.String("draft_id", d.ID))
	h.writeJSON(w, http.StatusCreated, d)
}

// HandleDraftsList returns drafts, optionally filtered by status
// Query params: ?status=pending&limit=50
func (h *Handler) HandleDraftsList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	drafts, err := h.Drafts.List(r.Context(), status, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if drafts == nil {
		drafts = make([]*models.Draft, 0)
	}
	h.writeJSON(w, http.StatusOK, drafts)
}

// HandleDraftDetail returns a specific draft by ID
func (h *Handler) HandleDraftDetail(w http.ResponseWriter, r *http.Request) {
	d, err := h.Drafts.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

// HandleDraftUpdate applies manual edits to a pending draft
func (h *Handler) HandleDraftUpdate(w http.ResponseWriter, r *http.Request) {
	var edit generator.PollDraft
	if err := json.NewDecoder(r.Body).Decode(&edit); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}

	d, err := h.Drafts.Update(r.Context(), mux.Vars(r)["id"], &edit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

// HandleDraftRevise runs a draft back through the generator with feedback
func (h *Handler) HandleDraftRevise(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Feedback string `json:"feedback"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}

	d, err := h.Drafts.Revise(r.Context(), mux.Vars(r)["id"], req.Feedback)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, d)
}

// HandleDraftRegister builds a registration write-intent for the caller's
// wallet and opens a registration attempt
func (h *Handler) HandleDraftRegister(w http.ResponseWriter, r *http.Request) {
	draftID := mux.Vars(r)["id"]

	attempt, intent, err := h.Registrations.RequestRegistration(r.Context(), draftID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.Logger.Info("registration requested",
		zap.String("draft_id", draftID),
		zap.String("attempt_id", attempt.ID),
	)
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"attempt": attempt,
		"intent":  intent,
	})
}
