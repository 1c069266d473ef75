package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/swasthyasetu/platform/internal/credential"
	"github.com/swasthyasetu/platform/internal/shared/errors"
	"github.com/swasthyasetu/platform/internal/shared/types"
)

// Handler provides HTTP handlers for record access. The router authenticates
// the institution credential before these handlers run.
type Handler struct {
	gateway *Gateway
}

// NewHandler creates a new gateway handler
func NewHandler(gateway *Gateway) *Handler {
	return &Handler{gateway: gateway}
}

// Routes registers the record routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/fetch", h.Fetch)
	return r
}

// FetchRequest is the body of POST /records/fetch
type FetchRequest struct {
	PatientID string `json:"patient_id"`
	Emergency bool   `json:"emergency"`
	Reason    string `json:"reason"`
}

// Fetch returns the full view, or the critical view in emergency mode
func (h *Handler) Fetch(w http.ResponseWriter, r *http.Request) {
	ac, ok := credential.FromContext(r.Context())
	if !ok {
		writeError(w, errors.Unauthenticated("missing credential"))
		return
	}

	var body FetchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.InvalidRequest("invalid request body"))
		return
	}

	var patientID types.ID
	if body.PatientID != "" {
		id, err := types.ParseID(body.PatientID)
		if err != nil {
			writeError(w, errors.Validation("invalid patient_id", map[string]string{"patient_id": err.Error()}))
			return
		}
		patientID = id
	}

	resp, err := h.gateway.FetchRecord(r.Context(), Request{
		PatientID:     patientID,
		InstitutionID: ac.InstitutionID,
		Role:          ac.Role,
		Emergency:     body.Emergency,
		Reason:        body.Reason,
		RequestID:     middleware.GetReqID(r.Context()),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp.View())
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
