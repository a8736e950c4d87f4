package catalog

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler provides HTTP handlers for the category catalog
type Handler struct{}

// NewHandler creates a new catalog handler
func NewHandler() *Handler {
	return &Handler{}
}

// Routes registers the catalog routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListCategories)
	r.Get("/{category}/specialties", h.GetSpecialties)

	return r
}

// ListCategories returns the full catalog
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  GetHealthCategories(),
		"total": len(categories),
	})
}

// GetSpecialties returns the suggested specialties for a category
func (h *Handler) GetSpecialties(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")

	specialties := GetSuggestedSpecialties(category)
	if len(specialties) == 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{
			"error": "unknown health category: " + category,
			"code":  "INVALID_CATEGORY",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"category":    category,
		"specialties": specialties,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
