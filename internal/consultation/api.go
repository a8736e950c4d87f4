package consultation

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/telehealth/platform/internal/shared/auth"
	apperrors "github.com/telehealth/platform/internal/shared/errors"
	"github.com/telehealth/platform/internal/shared/types"
)

// Handler provides HTTP handlers for consultation requests
type Handler struct {
	service *Service
}

// NewHandler creates a new consultation handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes registers the consultation routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListRequests)
	r.With(auth.RequireRole(auth.RolePatient, auth.RoleAdmin)).
		Post("/", h.CreateRequest)

	r.With(auth.RequireRole(auth.RoleAdmin)).
		Get("/stats", h.GetStats)
	r.With(auth.RequireRole(auth.RoleAdmin)).
		Post("/assign-pending", h.AssignPending)

	r.Route("/{requestID}", func(r chi.Router) {
		r.Get("/", h.GetRequest)
		r.Patch("/status", h.UpdateStatus)
		r.With(auth.RequireRole(auth.RoleDoctor, auth.RoleAdmin)).
			Post("/reassign", h.Reassign)

		r.Route("/notes", func(r chi.Router) {
			r.Get("/", h.ListNotes)
			r.Post("/", h.AddNote)
		})
	})

	return r
}

// CreateRequest creates a new consultation request for the caller
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.Unauthorized("authentication required"))
		return
	}

	var input CreateRequestInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}

	req, err := h.service.Create(r.Context(), user.Username, input)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, req)
}

// GetRequest returns a single consultation request
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "requestID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid request ID"))
		return
	}

	req, err := h.service.Get(r.Context(), auth.GetUser(r.Context()), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, req)
}

// ListRequests lists requests scoped to the caller's role
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		Category: r.URL.Query().Get("category"),
	}

	if s := r.URL.Query().Get("status"); s != "" {
		status := Status(s)
		if !status.Valid() {
			writeError(w, apperrors.BadRequest("invalid status filter"))
			return
		}
		filter.Status = &status
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 0 {
			writeError(w, apperrors.BadRequest("invalid limit"))
			return
		}
		filter.Limit = limit
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		offset, err := strconv.Atoi(o)
		if err != nil || offset < 0 {
			writeError(w, apperrors.BadRequest("invalid offset"))
			return
		}
		filter.Offset = offset
	}

	requests, total, err := h.service.List(r.Context(), auth.GetUser(r.Context()), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  requests,
		"total": total,
	})
}

// UpdateStatus applies a lifecycle transition
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "requestID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid request ID"))
		return
	}

	var input UpdateStatusInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}

	req, err := h.service.UpdateStatus(r.Context(), auth.GetUser(r.Context()), id, input)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, req)
}

// ReassignRequest is the request body for reassignment
type ReassignRequest struct {
	// NewDoctor is optional; empty reruns matching
	NewDoctor string `json:"new_doctor,omitempty"`
}

// Reassign moves an assigned request to another doctor
func (h *Handler) Reassign(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "requestID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid request ID"))
		return
	}

	var input ReassignRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}

	req, err := h.service.Reassign(r.Context(), auth.GetUser(r.Context()), id, input.NewDoctor)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, req)
}

// AddNote attaches a note to a request
func (h *Handler) AddNote(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "requestID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid request ID"))
		return
	}

	var input AddNoteInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}

	note, err := h.service.AddNote(r.Context(), auth.GetUser(r.Context()), id, input)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, note)
}

// ListNotes lists all notes on a request
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "requestID"))
	if err != nil {
		writeError(w, apperrors.BadRequest("invalid request ID"))
		return
	}

	notes, err := h.service.ListNotes(r.Context(), auth.GetUser(r.Context()), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  notes,
		"total": len(notes),
	})
}

// GetStats returns aggregate request counts
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// AssignPending retries matching for queued requests
func (h *Handler) AssignPending(w http.ResponseWriter, r *http.Request) {
	assigned, err := h.service.AssignPending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"assigned": assigned,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*apperrors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
