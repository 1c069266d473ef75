package audit

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/swasthyasetu/platform/internal/credential"
	"github.com/swasthyasetu/platform/internal/shared/errors"
	"github.com/swasthyasetu/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the access log. Authentication is
// applied by the router: patient sessions for PatientLogs, institution
// credentials for InstitutionLogs and admin sessions for AdminRoutes.
type Handler struct {
	repo        Repository
	checkpoints *CheckpointService
}

// NewHandler creates a new audit handler
func NewHandler(repo Repository, checkpoints *CheckpointService) *Handler {
	return &Handler{repo: repo, checkpoints: checkpoints}
}

// AdminRoutes serves /audit
func (h *Handler) AdminRoutes() chi.Router {
	r := chi.NewRouter()

	r.Get("/verify", h.VerifyChain)

	r.Route("/checkpoints", func(r chi.Router) {
		r.Get("/", h.ListCheckpoints)
		r.Post("/", h.CreateCheckpoint)
		r.Get("/latest", h.GetLatestCheckpoint)
		r.Get("/{checkpointID}", h.GetCheckpoint)
		r.Get("/{checkpointID}/verify", h.VerifyCheckpoint)
	})

	r.Get("/entries/{entryID}", h.GetEntry)

	return r
}

// LogPage is the response body of access log listings
type LogPage struct {
	Data  []AccessLogEntry `json:"data"`
	Total int              `json:"total"`
}

// PatientLogs returns every entry recorded against a patient, newest first,
// including denied attempts.
func (h *Handler) PatientLogs(w http.ResponseWriter, r *http.Request) {
	patientID, err := types.ParseID(chi.URLParam(r, "patient_id"))
	if err != nil {
		writeError(w, errors.InvalidRequest("invalid patient id"))
		return
	}

	filter, err := pageFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	filter.PatientID = patientID

	h.list(w, r, filter)
}

// InstitutionLogs returns entries recorded for the calling institution
func (h *Handler) InstitutionLogs(w http.ResponseWriter, r *http.Request) {
	ac, ok := credential.FromContext(r.Context())
	if !ok {
		writeError(w, errors.Unauthenticated("missing credential"))
		return
	}

	filter, err := pageFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	filter.InstitutionID = ac.InstitutionID

	if mode := r.URL.Query().Get("access_mode"); mode != "" {
		filter.Mode = AccessMode(mode)
		if !filter.Mode.Valid() {
			writeError(w, errors.InvalidRequest("invalid access_mode"))
			return
		}
	}

	h.list(w, r, filter)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, filter ListFilter) {
	entries, total, err := h.repo.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LogPage{Data: entries, Total: total})
}

// pageFilter reads optional limit and offset. No limit returns everything.
func pageFilter(r *http.Request) (ListFilter, error) {
	var f ListFilter
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.InvalidRequest("invalid limit")
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.InvalidRequest("invalid offset")
		}
		f.Offset = n
	}
	return f, nil
}

// GetEntry gets a single entry by ID
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "entryID"))
	if err != nil {
		writeError(w, errors.InvalidRequest("invalid entry id"))
		return
	}

	entry, err := h.repo.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// VerifyChain verifies content hashes and linkage of the newest entries
func (h *Handler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	limit := defaultVerifyLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, errors.InvalidRequest("invalid limit"))
			return
		}
		limit = n
	}
	details := r.URL.Query().Get("details") == "true"

	result, err := h.repo.VerifyChain(r.Context(), limit, details)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListCheckpoints lists recent checkpoints
func (h *Handler) ListCheckpoints(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	checkpoints, err := h.checkpoints.ListCheckpoints(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  checkpoints,
		"total": len(checkpoints),
	})
}

// CreateCheckpoint witnesses the current chain head
func (h *Handler) CreateCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := h.checkpoints.CreateCheckpoint(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cp)
}

// GetLatestCheckpoint returns the most recent checkpoint
func (h *Handler) GetLatestCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := h.checkpoints.GetLatestCheckpoint(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

// GetCheckpoint returns a checkpoint by ID
func (h *Handler) GetCheckpoint(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "checkpointID"))
	if err != nil {
		writeError(w, errors.InvalidRequest("invalid checkpoint id"))
		return
	}

	cp, err := h.repo.GetCheckpoint(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

// VerifyCheckpoint checks a checkpoint against the current chain
func (h *Handler) VerifyCheckpoint(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "checkpointID"))
	if err != nil {
		writeError(w, errors.InvalidRequest("invalid checkpoint id"))
		return
	}

	result, err := h.checkpoints.VerifyCheckpoint(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
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
