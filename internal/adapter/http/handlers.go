package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Strob0t/agenthost/internal/domain"
	"github.com/Strob0t/agenthost/internal/domain/workflow"
	"github.com/Strob0t/agenthost/internal/port/eventstore"
	"github.com/Strob0t/agenthost/internal/service"
)

// maxBodyBytes bounds API request bodies.
const maxBodyBytes = 1 << 20

// Handlers carries the collaborators of the API routes.
type Handlers struct {
	Host  *service.Host
	Store eventstore.Store // optional; nil disables /events
}

// MountRoutes attaches the run API under /api.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/runs", func(r chi.Router) {
		r.Post("/", h.startRun)
		r.Post("/{id}/cancel", h.cancelRun)
		r.Post("/{id}/approve", h.resolveProposal)
		r.Get("/{id}/events", h.runEvents)
	})
}

func (h *Handlers) startRun(w http.ResponseWriter, r *http.Request) {
	var req workflow.StartRequest
	if !readJSON(w, r, &req) {
		return
	}

	runID := uuid.NewString()
	if err := h.Host.StartRun(r.Context(), runID, req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (h *Handlers) cancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	var body struct {
		Reason string `json:"reason"`
	}
	// The body is optional for cancel.
	_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body)

	if err := h.Host.CancelRun(runID, body.Reason); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, domain.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (h *Handlers) resolveProposal(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	var body struct {
		Approve bool   `json:"approve"`
		Reason  string `json:"reason"`
	}
	if !readJSON(w, r, &body) {
		return
	}

	if err := h.Host.ResolveProposal(runID, body.Approve, body.Reason); err != nil {
		status := http.StatusConflict
		if errors.Is(err, domain.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (h *Handlers) runEvents(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeError(w, http.StatusNotImplemented, "event persistence is not configured")
		return
	}
	runID := chi.URLParam(r, "id")
	events, err := h.Store.LoadByRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
