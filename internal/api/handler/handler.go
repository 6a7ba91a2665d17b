package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/tpolls/tpolls-api/internal/draft"
	"github.com/tpolls/tpolls-api/internal/publisher"
	"github.com/tpolls/tpolls-api/internal/reconcile"
	"github.com/tpolls/tpolls-api/pkg/db/postgres/store"
	"github.com/tpolls/tpolls-api/pkg/generator"
	"go.uber.org/zap"
)

// Handler holds the dependencies for API handlers
type Handler struct {
	Drafts        *draft.Service
	Registrations *reconcile.RegistrationReconciler
	Votes         *reconcile.VoteReconciler
	Liveness      *reconcile.LivenessReconciler
	Store         *store.DB
	Publisher     *publisher.Publisher
	Logger        *zap.Logger
	AdminToken    string
}

// NewHandler creates a new Handler instance
func NewHandler(
	drafts *draft.Service,
	registrations *reconcile.RegistrationReconciler,
	votes *reconcile.VoteReconciler,
	liveness *reconcile.LivenessReconciler,
	db *store.DB,
	pub *publisher.Publisher,
	logger *zap.Logger,
	adminToken string,
) *Handler {
	return &Handler{
		Drafts:        drafts,
		Registrations: registrations,
		Votes:         votes,
		Liveness:      liveness,
		Store:         db,
		Publisher:     pub,
		Logger:        logger,
		AdminToken:    adminToken,
	}
}

// NewRouter creates and configures the HTTP router with all API routes
func (h *Handler) NewRouter() *mux.Router {
	r := mux.NewRouter()

	// Public health check endpoint
	r.HandleFunc("/api/health", h.HandleHealth).Methods(http.MethodGet)

	// Draft lifecycle
	r.HandleFunc("/api/drafts", h.HandleDraftGenerate).Methods(http.MethodPost)
	r.HandleFunc("/api/drafts", h.HandleDraftsList).Methods(http.MethodGet)
	r.HandleFunc("/api/drafts/{id}", h.HandleDraftDetail).Methods(http.MethodGet)
	r.HandleFunc("/api/drafts/{id}", h.HandleDraftUpdate).Methods(http.MethodPut)
	r.HandleFunc("/api/drafts/{id}/revise", h.HandleDraftRevise).Methods(http.MethodPost)
	r.HandleFunc("/api/drafts/{id}/register", h.HandleDraftRegister).Methods(http.MethodPost)

	// Registration attempts
	r.HandleFunc("/api/registrations/{id}", h.HandleRegistrationDetail).Methods(http.MethodGet)
	r.HandleFunc("/api/registrations/{id}/confirm", h.HandleRegistrationConfirm).Methods(http.MethodPost)

	// Polls and votes
	r.HandleFunc("/api/polls/{id}", h.HandlePollDetail).Methods(http.MethodGet)
	r.HandleFunc("/api/polls/{id}/votes", h.HandleVoteSubmit).Methods(http.MethodPost)
	r.HandleFunc("/api/votes/{id}", h.HandleVoteDetail).Methods(http.MethodGet)
	r.HandleFunc("/api/votes/{id}/submitted", h.HandleVoteSubmitted).Methods(http.MethodPost)

	// Protected operational endpoints
	r.HandleFunc("/api/polls/{id}/refresh", h.RequireAuth(h.HandlePollRefresh)).Methods(http.MethodPost)
	r.HandleFunc("/api/sync/status", h.RequireAuth(h.HandleSyncStatus)).Methods(http.MethodGet)
	r.HandleFunc("/api/sync/trigger", h.RequireAuth(h.HandleSyncTrigger)).Methods(http.MethodPost)

	return r
}

// RequireAuth is a middleware that validates the bearer token
func (h *Handler) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		expected := "Bearer " + h.AdminToken

		if auth != expected {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}

		next(w, r)
	}
}

// HandleHealth returns a simple health check response
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// writeJSON writes a JSON response with the given status.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps a service error onto an HTTP status and writes it.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, reconcile.ErrNotFound), errors.Is(err, draft.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, reconcile.ErrInvalidOption),
		errors.Is(err, reconcile.ErrInvalidVoter),
		errors.Is(err, draft.ErrEmptyPrompt),
		errors.Is(err, generator.ErrBadDraft):
		status = http.StatusBadRequest
	case errors.Is(err, reconcile.ErrDuplicateVote),
		errors.Is(err, reconcile.ErrAlreadyInProgress),
		errors.Is(err, draft.ErrNotEditable):
		status = http.StatusConflict
	case errors.Is(err, reconcile.ErrChainUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, reconcile.ErrSweepRunning):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.Logger.Error("request failed", zap.Error(err))
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
