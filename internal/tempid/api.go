package tempid

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/swasthyasetu/platform/internal/credential"
	"github.com/swasthyasetu/platform/internal/institution"
	"github.com/swasthyasetu/platform/internal/shared/errors"
	"github.com/swasthyasetu/platform/internal/shared/types"
)

// Handler serves POST /patients/temp for authenticated institutions
type Handler struct {
	issuer *Issuer
}

func NewHandler(issuer *Issuer) *Handler {
	return &Handler{issuer: issuer}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/temp", h.Create)
	return r
}

// CreateRequest is the body of POST /patients/temp
type CreateRequest struct {
	Notes string `json:"notes"`
}

// CreateResponse is returned with 201
type CreateResponse struct {
	PatientID types.ID `json:"patient_id"`
	Message   string   `json:"message"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ac, ok := credential.FromContext(r.Context())
	if !ok {
		writeError(w, errors.Unauthenticated("missing credential"))
		return
	}

	var req CreateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errors.InvalidRequest("invalid request body"))
			return
		}
	}

	inst := &institution.Institution{ID: ac.InstitutionID, Name: ac.InstitutionName}
	id, err := h.issuer.CreateTemporaryPatient(r.Context(), inst, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateResponse{
		PatientID: id,
		Message:   "Temporary patient created",
	})
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
