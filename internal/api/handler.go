package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"landslide_service/internal/core"
	"landslide_service/internal/domain/model"
	"landslide_service/internal/domain/repository"
)

// Store is the read/update surface the handlers need beyond the core
// services.
type Store interface {
	ListLandslides(ctx context.Context) ([]model.LandslideRecord, error)
	LandslideByID(ctx context.Context, id string) (*model.LandslideRecord, error)
	UpdateLandslideStatus(ctx context.Context, id string, status model.LandslideStatus, note string) error
	CreateArea(ctx context.Context, area model.MonitoringArea) error
	ListAreas(ctx context.Context) ([]model.MonitoringArea, error)
	AreaByID(ctx context.Context, id string) (*model.MonitoringArea, error)
	AreaForLandslide(ctx context.Context, landslideID string) (*model.MonitoringArea, error)
	UpdateAreaSettings(ctx context.Context, id string, s repository.AreaSettings) error
	ListAlerts(ctx context.Context) ([]model.Alert, error)
	MarkAlertRead(ctx context.Context, id string) error
}

type Handler struct {
	tracker   *core.Tracker
	monitor   *core.Monitor
	confirmer *core.Confirmer
	store     Store
	alerts    core.AlertSink
}

func NewHandler(tracker *core.Tracker, monitor *core.Monitor, confirmer *core.Confirmer, store Store, alerts core.AlertSink) *Handler {
	return &Handler{
		tracker:   tracker,
		monitor:   monitor,
		confirmer: confirmer,
		store:     store,
		alerts:    alerts,
	}
}

// Register wires every route onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/landslide", h.Landslide)
	mux.HandleFunc("/api/landslide-confirmation", h.Confirmation)
	mux.HandleFunc("/api/landslide-confirmation/check", h.ConfirmationCheck)
	mux.HandleFunc("/api/monitoring", h.Monitoring)
	mux.HandleFunc("/api/monitoring/check", h.CheckArea)
	mux.HandleFunc("/api/monitoring/exists", h.AreaExists)
	mux.HandleFunc("/api/monitoring-update", h.UpdateArea)
	mux.HandleFunc("/api/alerts", h.Alerts)
	mux.HandleFunc("/api/alerts/read", h.MarkAlertRead)
}

// Landslide dispatches detection submission (POST), the job status
// query surface (GET) and record status updates (PATCH).
func (h *Handler) Landslide(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.submitDetection(w, r)
	case http.MethodGet:
		h.jobStatus(w, r)
	case http.MethodPatch:
		h.updateLandslideStatus(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type detectRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (h *Handler) submitDetection(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Lat == nil || req.Lng == nil {
		http.Error(w, "lat and lng are required", http.StatusBadRequest)
		return
	}
	coord := model.Coordinate{Lat: *req.Lat, Lng: *req.Lng}
	if !coord.Valid() {
		http.Error(w, "latitude or longitude out of range", http.StatusBadRequest)
		return
	}

	id, err := h.tracker.Submit(r.Context(), coord)
	if err != nil {
		log.Error().Err(err).Msg("detection submission failed")
		http.Error(w, "Detection service unavailable", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     id,
		"status": string(model.JobProcessing),
	})
}

func (h *Handler) jobStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing ID parameter", http.StatusBadRequest)
		return
	}

	job, err := h.tracker.Status(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type statusUpdateRequest struct {
	ID     string                `json:"id"`
	Status model.LandslideStatus `json:"status"`
	Note   string                `json:"note"`
}

func (h *Handler) updateLandslideStatus(w http.ResponseWriter, r *http.Request) {
	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.Status == "" {
		http.Error(w, "id and status are required", http.StatusBadRequest)
		return
	}

	if err := h.store.UpdateLandslideStatus(r.Context(), req.ID, req.Status, req.Note); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Landslide status updated",
	})
}

// Confirmation dispatches confirming a candidate (POST) and listing
// confirmed records (GET).
func (h *Handler) Confirmation(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.confirm(w, r)
	case http.MethodGet:
		h.listConfirmed(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	var in core.LandslideInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rec, err := h.confirmer.Confirm(r.Context(), in)
	if err != nil {
		var dup *model.DuplicateError
		if errors.As(err, &dup) {
			writeJSON(w, http.StatusConflict, map[string]interface{}{
				"error": "landslide already exists",
				"existing": map[string]interface{}{
					"id":         dup.ExistingID,
					"name":       dup.Name,
					"status":     dup.Status,
					"detectedAt": dup.DetectedAt,
				},
			})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":   true,
		"message":   fmt.Sprintf("Confirmed landslide point: %s", rec.Name),
		"id":        rec.ID,
		"landslide": rec,
	})
}

func (h *Handler) listConfirmed(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("id"); id != "" {
		rec, err := h.store.LandslideByID(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}

	records, err := h.store.ListLandslides(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type checkCoordinatesRequest struct {
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	Tolerance float64  `json:"tolerance"`
}

// ConfirmationCheck reports whether a coordinate collides with an
// existing record, so callers can offer "view existing" before
// submitting a duplicate.
func (h *Handler) ConfirmationCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req checkCoordinatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Lat == nil || req.Lng == nil {
		http.Error(w, "lat and lng are required", http.StatusBadRequest)
		return
	}

	match, err := h.confirmer.Check(r.Context(), model.Coordinate{Lat: *req.Lat, Lng: *req.Lng}, req.Tolerance)
	if err != nil {
		writeError(w, err)
		return
	}
	if match == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"exists": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"exists": true,
		"landslide": map[string]interface{}{
			"id":         match.ID,
			"name":       match.Name,
			"lat":        match.Coordinate.Lat,
			"lng":        match.Coordinate.Lng,
			"status":     match.Status,
			"detectedAt": match.FirstDetectedAt,
		},
	})
}

type createAreaRequest struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Bounds           *model.BoundingBox `json:"boundingBox"`
	MonitorFrequency string             `json:"monitorFrequency"`
	LandslideID      string             `json:"landslideId"`
	AutoVerify       bool               `json:"autoVerify"`
}

// Monitoring dispatches area creation (POST) and area listing (GET).
func (h *Handler) Monitoring(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createArea(w, r)
	case http.MethodGet:
		h.listAreas(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// createArea registers a new monitoring area and announces it with an
// info alert.
func (h *Handler) createArea(w http.ResponseWriter, r *http.Request) {
	var req createAreaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Bounds == nil {
		http.Error(w, "name and boundingBox are required", http.StatusBadRequest)
		return
	}
	if !req.Bounds.Valid() {
		http.Error(w, "north must exceed south and east must exceed west", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	area := model.MonitoringArea{
		ID:               req.ID,
		Name:             req.Name,
		Bounds:           *req.Bounds,
		MonitorFrequency: req.MonitorFrequency,
		Status:           model.AreaActive,
		AutoVerify:       req.AutoVerify,
		LandslideID:      req.LandslideID,
		CreatedAt:        now,
		LastCheckedAt:    now,
		RiskLevel:        model.RiskLow,
	}
	if area.ID == "" {
		area.ID = uuid.NewString()
	}

	if err := h.store.CreateArea(r.Context(), area); err != nil {
		writeError(w, err)
		return
	}

	alert := model.Alert{
		Type:             model.AlertInfo,
		Title:            "New area under monitoring",
		Description:      fmt.Sprintf("Area %q (%s) was added to continuous monitoring", area.Name, area.ID),
		Date:             now,
		MonitoringAreaID: area.ID,
	}
	if err := h.alerts.Emit(r.Context(), alert); err != nil {
		log.Warn().Err(err).Str("areaId", area.ID).Msg("area creation alert not delivered")
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"id":      area.ID,
	})
}

func (h *Handler) listAreas(w http.ResponseWriter, r *http.Request) {
	areas, err := h.store.ListAreas(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, areas)
}

type checkAreaRequest struct {
	AreaID string             `json:"areaId"`
	Bounds *model.BoundingBox `json:"boundingBox"`
}

// CheckArea triggers one evaluation of a monitoring area.
func (h *Handler) CheckArea(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req checkAreaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.AreaID == "" || req.Bounds == nil {
		http.Error(w, "areaId and boundingBox are required", http.StatusBadRequest)
		return
	}

	result, err := h.monitor.CheckArea(r.Context(), req.AreaID, *req.Bounds)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"areaId":         result.AreaID,
		"lastChecked":    result.CheckedAt,
		"detectedPoints": result.DetectedPoints,
		"newDetections":  result.NewDetections,
		"riskLevel":      result.RiskLevel,
	})
}

type areaExistsRequest struct {
	LandslideID string `json:"landslideId"`
}

// AreaExists reports whether a monitoring area is already linked to a
// landslide record.
func (h *Handler) AreaExists(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req areaExistsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.LandslideID == "" {
		http.Error(w, "landslideId is required", http.StatusBadRequest)
		return
	}

	area, err := h.store.AreaForLandslide(r.Context(), req.LandslideID)
	if errors.Is(err, model.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]bool{"exists": false})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"exists": true,
		"area":   area,
	})
}

type updateAreaRequest struct {
	ID               string            `json:"id"`
	Name             *string           `json:"name"`
	Status           *model.AreaStatus `json:"status"`
	MonitorFrequency *string           `json:"monitorFrequency"`
	RiskLevel        *model.RiskLevel  `json:"riskLevel"`
	AutoVerify       *bool             `json:"autoVerify"`
}

// UpdateArea applies a partial settings update and raises an info
// alert when the area is activated or paused.
func (h *Handler) UpdateArea(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req updateAreaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	area, err := h.store.AreaByID(r.Context(), req.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	settings := repository.AreaSettings{
		Name:             req.Name,
		Status:           req.Status,
		MonitorFrequency: req.MonitorFrequency,
		RiskLevel:        req.RiskLevel,
		AutoVerify:       req.AutoVerify,
	}
	if err := h.store.UpdateAreaSettings(r.Context(), req.ID, settings); err != nil {
		writeError(w, err)
		return
	}

	if req.Status != nil && *req.Status != area.Status {
		title := "Monitoring paused"
		verb := "paused"
		if *req.Status == model.AreaActive {
			title = "Monitoring activated"
			verb = "activated"
		}
		alert := model.Alert{
			Type:             model.AlertInfo,
			Title:            title,
			Description:      fmt.Sprintf("Monitoring of area %q was %s", area.Name, verb),
			Date:             time.Now().UTC(),
			MonitoringAreaID: area.ID,
		}
		if err := h.alerts.Emit(r.Context(), alert); err != nil {
			log.Warn().Err(err).Str("areaId", area.ID).Msg("area update alert not delivered")
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Monitoring area updated",
	})
}

// Alerts lists every recorded alert, newest first.
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	alerts, err := h.store.ListAlerts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

type markReadRequest struct {
	ID string `json:"id"`
}

func (h *Handler) MarkAlertRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	if err := h.store.MarkAlertRead(r.Context(), req.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// writeError maps the error taxonomy onto HTTP statuses: invalid
// input, missing entity and internal failure are structurally distinct
// outcomes for the caller.
func writeError(w http.ResponseWriter, err error) {
	var ve *model.ValidationError
	switch {
	case errors.As(err, &ve):
		http.Error(w, ve.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		log.Error().Err(err).Msg("request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
