package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/luaxhealth/clinic-scheduler/internal/http/middleware"
	"github.com/luaxhealth/clinic-scheduler/internal/patients"
	"github.com/luaxhealth/clinic-scheduler/pkg/logging"
)

// PatientsHandler serves the patient directory endpoints.
type PatientsHandler struct {
	repo   patients.Repository
	logger *logging.Logger
}

// NewPatientsHandler creates the handler.
func NewPatientsHandler(repo patients.Repository, logger *logging.Logger) *PatientsHandler {
	if repo == nil {
		panic("handlers: patients repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PatientsHandler{repo: repo, logger: logger}
}

type createPatientRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Create handles POST /patients.
func (h *PatientsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPatientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	p := &patients.Patient{Name: req.Name, Email: req.Email}
	if err := h.repo.Create(r.Context(), p); err != nil {
		h.writeRepoError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// Get handles GET /patients/{patientID}. Patients may only fetch their own
// record; admins may fetch any.
func (h *PatientsHandler) Get(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	patientID := chi.URLParam(r, "patientID")
	if !caller.Admin && caller.PatientID != patientID {
		writeError(w, http.StatusForbidden, "patients may only access their own record")
		return
	}

	p, err := h.repo.Get(r.Context(), patientID)
	if err != nil {
		h.writeRepoError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// List handles GET /patients. Admin only, enforced by router middleware.
func (h *PatientsHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.List(r.Context())
	if err != nil {
		h.writeRepoError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patients": list})
}

func (h *PatientsHandler) writeRepoError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, patients.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, patients.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, patients.ErrDuplicateEmail):
		status = http.StatusConflict
	default:
		status = http.StatusServiceUnavailable
		h.logger.Error("patient request failed", "error", err, "path", r.URL.Path)
	}
	writeError(w, status, err.Error())
}
