package consent

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/swasthyasetu/platform/internal/shared/errors"
	"github.com/swasthyasetu/platform/internal/shared/types"
)

// Handler provides HTTP handlers for patient consent. Callers are
// authenticated and restricted to their own patient id by middleware.
type Handler struct {
	registry *Registry
}

// NewHandler creates a new consent handler
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// Routes registers the consent routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{patient_id}", h.GetConsent)
	r.Put("/{patient_id}", h.SetConsent)
	return r
}

// SetConsentRequest is the body of PUT /consent/{patient_id}
type SetConsentRequest struct {
	Granted *bool `json:"granted"`
}

// GetConsent returns the current consent
func (h *Handler) GetConsent(w http.ResponseWriter, r *http.Request) {
	patientID, err := types.ParseID(chi.URLParam(r, "patient_id"))
	if err != nil {
		writeError(w, errors.InvalidRequest("invalid patient id"))
		return
	}

	c, err := h.registry.Get(r.Context(), patientID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// SetConsent grants or revokes consent
func (h *Handler) SetConsent(w http.ResponseWriter, r *http.Request) {
	patientID, err := types.ParseID(chi.URLParam(r, "patient_id"))
	if err != nil {
		writeError(w, errors.InvalidRequest("invalid patient id"))
		return
	}

	var req SetConsentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidRequest("invalid request body"))
		return
	}
	if req.Granted == nil {
		writeError(w, errors.Validation("granted is required", map[string]string{"granted": "required"}))
		return
	}

	c, err := h.registry.Set(r.Context(), patientID, *req.Granted)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	status, code, message, details := errors.Public(err)
	writeJSON(w, status, map[string]any{
		"error":   message,
		"code":    code,
		"details": details,
	})
}
