package queue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-queue/pkg/logging"
)

// HistoryReader returns the recorded transitions of a token, oldest first.
type HistoryReader interface {
	ListForToken(ctx context.Context, tokenID string, types ...EventType) ([]Transition, error)
}

// Handler exposes the queue service over HTTP.
type Handler struct {
	svc     *Service
	history HistoryReader
	logger  *logging.Logger
}

// NewHandler creates a queue handler. history may be nil when auditing is off.
func NewHandler(svc *Service, history HistoryReader, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, history: history, logger: logger}
}

// QueueResponse is the body of queue listings.
type QueueResponse struct {
	Tokens              []*Token `json:"tokens"`
	Count               int      `json:"count"`
	ConsultationMinutes int      `json:"consultation_minutes"`
}

// Enqueue handles POST /queue/tokens
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tok, err := h.svc.Enqueue(r.Context(), req)
	if err != nil {
		h.fail(w, "enqueue", err)
		return
	}
	writeJSON(w, http.StatusCreated, tok)
}

// WaitingQueue handles GET /queue
func (h *Handler) WaitingQueue(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.svc.WaitingQueue(r.Context())
	if err != nil {
		h.fail(w, "waiting queue", err)
		return
	}
	h.writeQueue(w, tokens)
}

// DoctorQueue handles GET /queue/doctor
func (h *Handler) DoctorQueue(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.svc.DoctorQueue(r.Context())
	if err != nil {
		h.fail(w, "doctor queue", err)
		return
	}
	h.writeQueue(w, tokens)
}

// ActiveToken handles GET /queue/patients/{patientID}/token
func (h *Handler) ActiveToken(w http.ResponseWriter, r *http.Request) {
	tok, err := h.svc.ActiveToken(r.Context(), chi.URLParam(r, "patientID"))
	if err != nil {
		h.fail(w, "active token", err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

// Token handles GET /queue/tokens/{tokenID}
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	tok, err := h.svc.Token(r.Context(), chi.URLParam(r, "tokenID"))
	if err != nil {
		h.fail(w, "get token", err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

// CallNext handles POST /queue/call-next
func (h *Handler) CallNext(w http.ResponseWriter, r *http.Request) {
	tok, err := h.svc.CallNext(r.Context())
	if err != nil {
		h.fail(w, "call next", err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

// MarkEmergency handles PATCH /queue/tokens/{tokenID}/emergency
func (h *Handler) MarkEmergency(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "mark emergency", h.svc.MarkEmergency)
}

// Skip handles PATCH /queue/tokens/{tokenID}/skip
func (h *Handler) Skip(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "skip", h.svc.Skip)
}

// MarkInProgress handles PATCH /queue/tokens/{tokenID}/in-progress
func (h *Handler) MarkInProgress(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "mark in progress", h.svc.MarkInProgress)
}

// Complete handles PATCH /queue/tokens/{tokenID}/complete
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "complete", h.svc.Complete)
}

type notesRequest struct {
	Notes string `json:"notes"`
}

// UpdateNotes handles PATCH /queue/tokens/{tokenID}/notes
func (h *Handler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tok, err := h.svc.UpdateNotes(r.Context(), chi.URLParam(r, "tokenID"), req.Notes)
	if err != nil {
		h.fail(w, "update notes", err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

// History handles GET /queue/tokens/{tokenID}/events?type=...
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotImplemented, "audit log disabled")
		return
	}
	tokenID := chi.URLParam(r, "tokenID")
	if _, err := h.svc.Token(r.Context(), tokenID); err != nil {
		h.fail(w, "history", err)
		return
	}

	var types []EventType
	for _, raw := range r.URL.Query()["type"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				types = append(types, EventType(part))
			}
		}
	}
	transitions, err := h.history.ListForToken(r.Context(), tokenID, types...)
	if err != nil {
		h.fail(w, "history", err)
		return
	}
	if transitions == nil {
		transitions = []Transition{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": transitions})
}

func (h *Handler) command(w http.ResponseWriter, r *http.Request, name string, run func(context.Context, string) (*Token, error)) {
	tok, err := run(r.Context(), chi.URLParam(r, "tokenID"))
	if err != nil {
		h.fail(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

func (h *Handler) writeQueue(w http.ResponseWriter, tokens []*Token) {
	if tokens == nil {
		tokens = []*Token{}
	}
	writeJSON(w, http.StatusOK, QueueResponse{
		Tokens:              tokens,
		Count:               len(tokens),
		ConsultationMinutes: h.svc.ConsultationMinutes(),
	})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("queue request failed", "op", op, "error", err)
	}
	if errors.Is(err, ErrAllocation) {
		w.Header().Set("Retry-After", "1")
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, status, msg)
}

// StatusCode maps queue errors onto HTTP statuses.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrQueueEmpty):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateActiveToken), errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidPriorityClass), errors.Is(err, ErrMissingPatient):
		return http.StatusBadRequest
	case errors.Is(err, ErrAllocation):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
