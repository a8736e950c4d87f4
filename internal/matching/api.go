package matching

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	apperrors "github.com/telehealth/platform/internal/shared/errors"
)

// Handler provides HTTP handlers for doctor matching
type Handler struct {
	engine *Engine
}

// NewHandler creates a new matching handler
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// Routes registers the matching routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/find-match", h.FindMatch)
	r.Post("/rank", h.RankDoctors)

	return r
}

// FindMatchRequest is the request body for match queries
type FindMatchRequest struct {
	Category             string   `json:"category"`
	PreferredSpecialties []string `json:"preferred_specialties,omitempty"`
}

// FindMatch returns the best available doctor without reserving a slot
func (h *Handler) FindMatch(w http.ResponseWriter, r *http.Request) {
	var req FindMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}

	if req.Category == "" {
		writeError(w, apperrors.Validation("validation failed", map[string]string{
			"category": "category is required",
		}))
		return
	}

	candidate, err := h.engine.FindBestDoctor(r.Context(), req.Category, req.PreferredSpecialties)
	if err != nil {
		writeError(w, err)
		return
	}
	if candidate == nil {
		writeError(w, apperrors.NoDoctorsAvailable())
		return
	}

	writeJSON(w, http.StatusOK, candidate)
}

// RankDoctors returns all eligible doctors ordered by score
func (h *Handler) RankDoctors(w http.ResponseWriter, r *http.Request) {
	var req FindMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return
	}

	if req.Category == "" {
		writeError(w, apperrors.Validation("validation failed", map[string]string{
			"category": "category is required",
		}))
		return
	}

	candidates, err := h.engine.RankDoctors(r.Context(), req.Category, req.PreferredSpecialties)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  candidates,
		"total": len(candidates),
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
