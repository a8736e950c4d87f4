package availability

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/telehealth/platform/internal/shared/auth"
	apperrors "github.com/telehealth/platform/internal/shared/errors"
	"github.com/telehealth/platform/internal/shared/events"
)

// Handler provides HTTP handlers for the availability registry
type Handler struct {
	registry *Registry
	bus      *events.Bus
}

// NewHandler creates a new availability handler
func NewHandler(registry *Registry, bus *events.Bus) *Handler {
	return &Handler{registry: registry, bus: bus}
}

// Routes registers the availability routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/available", h.GetAvailableDoctors)
	r.Get("/stats", h.GetStats)

	r.With(auth.RequireRole(auth.RoleDoctor, auth.RoleAdmin)).
		Post("/availability", h.SetAvailability)
	r.With(auth.RequireRole(auth.RoleDoctor, auth.RoleAdmin)).
		Patch("/max-load", h.SetMaxLoad)

	r.Get("/{doctorUsername}", h.GetDoctor)

	return r
}

// SetAvailability sets the caller's online status and specialties
func (h *Handler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.Unauthorized("authentication required"))
		return
	}

	var req SetAvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}

	doctor, err := h.registry.SetAvailability(r.Context(), user.Username, req.IsOnline, req.Specialties)
	if err != nil {
		writeError(w, err)
		return
	}

	h.publishChanged(r, doctor)

	writeJSON(w, http.StatusOK, doctor)
}

// SetMaxLoad sets the caller's concurrent consultation capacity
func (h *Handler) SetMaxLoad(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, apperrors.Unauthorized("authentication required"))
		return
	}

	var req SetMaxLoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}

	doctor, err := h.registry.SetMaxLoad(r.Context(), user.Username, req.MaxLoad)
	if err != nil {
		writeError(w, err)
		return
	}

	h.publishChanged(r, doctor)

	writeJSON(w, http.StatusOK, doctor)
}

// GetAvailableDoctors lists online doctors matching the query filters
func (h *Handler) GetAvailableDoctors(w http.ResponseWriter, r *http.Request) {
	filter := Filter{}

	if s := r.URL.Query().Get("specialties"); s != "" {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				filter.Specialties = append(filter.Specialties, part)
			}
		}
	}

	if m := r.URL.Query().Get("max_load"); m != "" {
		maxLoad, err := strconv.Atoi(m)
		if err != nil || maxLoad < 0 {
			writeError(w, apperrors.BadRequest("invalid max_load"))
			return
		}
		filter.MaxLoad = &maxLoad
	}

	if l := r.URL.Query().Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 0 {
			writeError(w, apperrors.BadRequest("invalid limit"))
			return
		}
		filter.Limit = limit
	}

	doctors, err := h.registry.GetAvailableDoctors(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  doctors,
		"total": len(doctors),
	})
}

// GetDoctor returns a single doctor's availability record
func (h *Handler) GetDoctor(w http.ResponseWriter, r *http.Request) {
	doctorUsername := chi.URLParam(r, "doctorUsername")

	doctor, err := h.registry.GetDoctor(r.Context(), doctorUsername)
	if err != nil {
		writeError(w, err)
		return
	}
	if doctor == nil {
		writeError(w, apperrors.NotFound("doctor availability", doctorUsername))
		return
	}

	writeJSON(w, http.StatusOK, doctor)
}

// GetStats returns aggregate registry counts
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.registry.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) publishChanged(r *http.Request, doctor *DoctorAvailability) {
	if h.bus == nil {
		return
	}

	user := auth.GetUser(r.Context())
	event := events.NewEvent("availability.changed", "availability", map[string]any{
		"doctor_username": doctor.DoctorUsername,
		"is_online":       doctor.IsOnline,
		"specialties":     doctor.Specialties,
		"current_load":    doctor.CurrentLoad,
		"max_load":        doctor.MaxLoad,
	})
	if user != nil {
		event = event.WithActor(user.Username, user.Role)
	}

	h.bus.Publish(r.Context(), event)
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
