// Package handlers contains the HTTP handlers for the scheduling API. They
// translate requests into Service calls and map the package's sentinel errors
// onto status codes.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/luaxhealth/clinic-scheduler/internal/http/middleware"
	"github.com/luaxhealth/clinic-scheduler/internal/scheduling"
	"github.com/luaxhealth/clinic-scheduler/pkg/logging"
)

// AppointmentsHandler serves the appointment lifecycle endpoints.
type AppointmentsHandler struct {
	service *scheduling.Service
	logger  *logging.Logger
}

// NewAppointmentsHandler creates the handler.
func NewAppointmentsHandler(service *scheduling.Service, logger *logging.Logger) *AppointmentsHandler {
	if service == nil {
		panic("handlers: scheduling service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AppointmentsHandler{service: service, logger: logger}
}

type bookRequest struct {
	Date    string `json:"date"`
	Time    string `json:"time"`
	Details string `json:"details"`
}

type editRequest struct {
	Date    string `json:"date"`
	Time    string `json:"time"`
	Details string `json:"details"`
}

type readFlagRequest struct {
	Read bool `json:"read"`
}

// Book handles POST /appointments.
func (h *AppointmentsHandler) Book(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	a, err := h.service.Book(r.Context(), caller, req.Date, req.Time, req.Details)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// Get handles GET /appointments/{id}.
func (h *AppointmentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	a, err := h.service.Get(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Edit handles PATCH /appointments/{id}.
func (h *AppointmentsHandler) Edit(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	a, err := h.service.Edit(r.Context(), caller, chi.URLParam(r, "id"), req.Date, req.Time, req.Details)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Cancel handles POST /appointments/{id}/cancel.
func (h *AppointmentsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	a, err := h.service.Cancel(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Confirm handles POST /appointments/{id}/confirm. Admin only, enforced by
// the service.
func (h *AppointmentsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	a, err := h.service.Confirm(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// SetReadFlag handles PUT /appointments/{id}/read.
func (h *AppointmentsHandler) SetReadFlag(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req readFlagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	a, err := h.service.SetReadFlag(r.Context(), caller, chi.URLParam(r, "id"), req.Read)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ListAll handles GET /appointments. Admin only, enforced by the service.
func (h *AppointmentsHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	list, err := h.service.ListAll(r.Context(), caller)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": list})
}

// ListForPatient handles GET /patients/{patientID}/appointments.
func (h *AppointmentsHandler) ListForPatient(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	list, err := h.service.ListForPatient(r.Context(), caller, chi.URLParam(r, "patientID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": list})
}

func (h *AppointmentsHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status >= 500 {
		h.logger.Error("appointment request failed", "error", err, "path", r.URL.Path)
	}
	writeError(w, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, scheduling.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, scheduling.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, scheduling.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduling.ErrInvalidState), errors.Is(err, scheduling.ErrSlotConflict), errors.Is(err, scheduling.ErrVersionConflict):
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
