// Package handler exposes the scheduler's operations over HTTP for the
// surrounding staff application.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"bus-scheduler/internal/clock"
	"bus-scheduler/internal/schedule"
	"bus-scheduler/internal/trips"
)

// Materializer is the subset of materializer.Materializer the API triggers.
type Materializer interface {
	Materialize(ctx context.Context, orgID string, now time.Time) (int, error)
}

type ScheduleHandler struct {
	trips  *trips.Service
	mat    Materializer
	clock  clock.Clock
	tz     *time.Location
	logger *slog.Logger
}

func NewScheduleHandler(svc *trips.Service, mat Materializer, c clock.Clock, tz *time.Location, logger *slog.Logger) *ScheduleHandler {
	if c == nil {
		c = clock.Real()
	}
	if tz == nil {
		tz = time.Local
	}
	return &ScheduleHandler{trips: svc, mat: mat, clock: c, tz: tz, logger: logger.With("component", "http")}
}

// Routes registers every endpoint on mux.
func (h *ScheduleHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/orgs/{org}/board", h.Board)
	mux.HandleFunc("GET /v1/orgs/{org}/attention", h.Attention)
	mux.HandleFunc("POST /v1/orgs/{org}/materialize", h.Materialize)
	mux.HandleFunc("GET /v1/orgs/{org}/templates", h.ListTemplates)
	mux.HandleFunc("POST /v1/orgs/{org}/templates", h.CreateTemplate)
	mux.HandleFunc("PUT /v1/orgs/{org}/templates/{id}", h.UpdateTemplate)
	mux.HandleFunc("POST /v1/orgs/{org}/templates/{id}/active", h.SetTemplateActive)
	mux.HandleFunc("DELETE /v1/orgs/{org}/templates/{id}", h.DeleteTemplate)
	mux.HandleFunc("POST /v1/orgs/{org}/instances", h.CreateOneOff)
	mux.HandleFunc("POST /v1/instances/{id}/status", h.ApplyStatus)
	mux.HandleFunc("POST /v1/instances/{id}/archive", h.Archive)
	mux.HandleFunc("GET /healthz", h.Healthz)
}

type BoardResponse struct {
	Buckets    map[schedule.Bucket][]schedule.Instance `json:"buckets"`
	Counts     map[schedule.Bucket]int                 `json:"counts"`
	ServerTime time.Time                               `json:"serverTime"`
}

func (h *ScheduleHandler) Board(w http.ResponseWriter, r *http.Request) {
	now := h.clock.Now().In(h.tz)
	board, err := h.trips.Board(r.Context(), r.PathValue("org"), now)
	if err != nil {
		h.fail(w, err)
		return
	}
	resp := BoardResponse{
		Buckets:    make(map[schedule.Bucket][]schedule.Instance, len(schedule.Buckets)),
		Counts:     make(map[schedule.Bucket]int, len(schedule.Buckets)),
		ServerTime: now,
	}
	for _, b := range schedule.Buckets {
		list := board[b]
		if list == nil {
			list = []schedule.Instance{}
		}
		resp.Buckets[b] = list
		resp.Counts[b] = len(list)
	}
	respondJSON(w, http.StatusOK, resp)
}

type InstancesResponse struct {
	Instances  []schedule.Instance `json:"instances"`
	Count      int                 `json:"count"`
	ServerTime time.Time           `json:"serverTime"`
}

func (h *ScheduleHandler) Attention(w http.ResponseWriter, r *http.Request) {
	now := h.clock.Now().In(h.tz)
	list, err := h.trips.Attention(r.Context(), r.PathValue("org"), now)
	if err != nil {
		h.fail(w, err)
		return
	}
	if list == nil {
		list = []schedule.Instance{}
	}
	respondJSON(w, http.StatusOK, InstancesResponse{Instances: list, Count: len(list), ServerTime: now})
}

type MaterializeResponse struct {
	Created int `json:"created"`
}

func (h *ScheduleHandler) Materialize(w http.ResponseWriter, r *http.Request) {
	created, err := h.mat.Materialize(r.Context(), r.PathValue("org"), h.clock.Now().In(h.tz))
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, MaterializeResponse{Created: created})
}

func (h *ScheduleHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := h.trips.ListTemplates(r.Context(), r.PathValue("org"))
	if err != nil {
		h.fail(w, err)
		return
	}
	if list == nil {
		list = []schedule.Template{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *ScheduleHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var in schedule.TemplateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	t, active, err := in.ToTemplate()
	if err != nil {
		h.fail(w, err)
		return
	}
	// omitted isActive means active
	if active == nil {
		t.IsActive = true
	}
	t.OrganizationID = r.PathValue("org")
	created, err := h.trips.CreateTemplate(r.Context(), t, r.Header.Get("X-User-ID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (h *ScheduleHandler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var in schedule.TemplateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	t, active, err := in.ToTemplate()
	if err != nil {
		h.fail(w, err)
		return
	}
	t.OrganizationID = r.PathValue("org")
	t.ID = r.PathValue("id")
	updated, err := h.trips.UpdateTemplate(r.Context(), t, active)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

type activeRequest struct {
	IsActive *bool `json:"isActive"`
}

func (h *ScheduleHandler) SetTemplateActive(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsActive == nil {
		respondError(w, http.StatusBadRequest, "body must be {\"isActive\": true|false}")
		return
	}
	t, err := h.trips.SetTemplateActive(r.Context(), r.PathValue("org"), r.PathValue("id"), *req.IsActive)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

func (h *ScheduleHandler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.trips.DeleteTemplate(r.Context(), r.PathValue("org"), r.PathValue("id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type oneOffRequest struct {
	RouteID        string    `json:"routeId"`
	BusID          string    `json:"busId"`
	DepartureAt    time.Time `json:"departureDateTime"`
	ArrivalAt      time.Time `json:"arrivalDateTime"`
	Price          float64   `json:"price"`
	AvailableSeats int       `json:"availableSeats"`
}

// CreateOneOff schedules a single trip outside any template.
func (h *ScheduleHandler) CreateOneOff(w http.ResponseWriter, r *http.Request) {
	var req oneOffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	in, err := h.trips.CreateOneOff(r.Context(), trips.OneOff{
		OrganizationID: r.PathValue("org"),
		RouteID:        req.RouteID,
		BusID:          req.BusID,
		DepartureAt:    req.DepartureAt,
		ArrivalAt:      req.ArrivalAt,
		Price:          req.Price,
		AvailableSeats: req.AvailableSeats,
	}, r.Header.Get("X-User-ID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, in)
}

type statusRequest struct {
	Status schedule.Status `json:"status"`
}

func (h *ScheduleHandler) ApplyStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	in, err := h.trips.ApplyStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, in)
}

func (h *ScheduleHandler) Archive(w http.ResponseWriter, r *http.Request) {
	in, err := h.trips.Archive(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, in)
}

func (h *ScheduleHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// fail maps the error taxonomy onto HTTP status codes.
func (h *ScheduleHandler) fail(w http.ResponseWriter, err error) {
	switch {
	case schedule.IsValidation(err):
		respondError(w, http.StatusBadRequest, err.Error())
	case schedule.IsNotFound(err):
		respondError(w, http.StatusNotFound, err.Error())
	case schedule.IsConflict(err):
		respondError(w, http.StatusConflict, err.Error())
	case schedule.IsTransient(err):
		w.Header().Set("Retry-After", "5")
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled):
		respondError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		h.logger.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
