package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/tpolls/tpolls-api/internal/reconcile"
	"github.com/tpolls/tpolls-api/pkg/db/postgres/store"
	"go.uber.org/zap"
)

// HandleRegistrationDetail returns a registration attempt by ID
func (h *Handler) HandleRegistrationDetail(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.Store.GetRegistrationAttempt(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, reconcile.ErrNotFound)
			return
		}
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, attempt)
}

// HandleRegistrationConfirm records the wallet-reported transaction outcome
// for a registration attempt
func (h *Handler) HandleRegistrationConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TxHash      string `json:"tx_hash"`
		ChainPollID uint64 `json:"chain_poll_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}
	if req.TxHash == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tx_hash is required"})
		return
	}

	attempt, err := h.Registrations.ConfirmRegistration(r.Context(), mux.Vars(r)["id"], req.TxHash, req.ChainPollID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.Logger.Info("registration confirmed",
		zap.String("attempt_id", attempt.ID),
		zap.Uint64("chain_poll_id", req.ChainPollID),
	)
	h.writeJSON(w, http.StatusOK, attempt)
}

// HandlePollDetail returns the cached snapshot for a poll, pulling it from
// the chain on a cache miss
func (h *Handler) HandlePollDetail(w http.ResponseWriter, r *http.Request) {
	pollID, ok := h.pollID(w, r)
	if !ok {
		return
	}

	snap, err := h.Store.GetSnapshot(r.Context(), pollID)
	if err == nil {
		h.writeJSON(w, http.StatusOK, snap)
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		h.writeError(w, err)
		return
	}

	snap, err = h.Liveness.RefreshSnapshot(r.Context(), pollID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// HandlePollRefresh forces a snapshot refresh from the chain
func (h *Handler) HandlePollRefresh(w http.ResponseWriter, r *http.Request) {
	pollID, ok := h.pollID(w, r)
	if !ok {
		return
	}

	snap, err := h.Liveness.RefreshSnapshot(r.Context(), pollID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// HandleVoteSubmit validates a vote and returns the write-intent the
// caller's wallet must sign and broadcast
func (h *Handler) HandleVoteSubmit(w http.ResponseWriter, r *http.Request) {
	pollID, ok := h.pollID(w, r)
	if !ok {
		return
	}

	var req struct {
		OptionIndex int    `json:"option_index"`
		Voter       string `json:"voter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}
	if req.Voter == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "voter is required"})
		return
	}

	vote, intent, err := h.Votes.SubmitVote(r.Context(), pollID, req.OptionIndex, req.Voter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.Logger.Info("vote submitted",
		zap.String("vote_id", vote.ID),
		zap.Uint64("chain_poll_id", pollID),
	)
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"vote":   vote,
		"intent": intent,
	})
}

// HandleVoteDetail returns a vote attempt by ID
func (h *Handler) HandleVoteDetail(w http.ResponseWriter, r *http.Request) {
	vote, err := h.Store.GetVoteAttempt(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.writeError(w, reconcile.ErrNotFound)
			return
		}
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, vote)
}

// HandleVoteSubmitted records the wallet-reported transaction hash so the
// confirmation sweep can start observing the vote
func (h *Handler) HandleVoteSubmitted(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TxHash string `json:"tx_hash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}
	if req.TxHash == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tx_hash is required"})
		return
	}

	vote, err := h.Votes.RecordSubmission(r.Context(), mux.Vars(r)["id"], req.TxHash)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, vote)
}

// pollID parses the {id} path variable as a chain poll id.
func (h *Handler) pollID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid poll ID"})
		return 0, false
	}
	return id, true
}
