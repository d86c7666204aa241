package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landslide_service/internal/cache"
	"landslide_service/internal/core"
	"landslide_service/internal/domain/model"
	"landslide_service/internal/domain/repository"
)

type fakeDetector struct {
	id  string
	err error
}

func (f *fakeDetector) Submit(_ context.Context, _ model.Coordinate) (string, error) {
	return f.id, f.err
}

func (f *fakeDetector) GetStatus(_ context.Context, _ string) (model.DetectionUpdate, error) {
	return model.DetectionUpdate{Kind: model.UpdateProcessing}, nil
}

type fakeSink struct {
	mu     sync.Mutex
	alerts []model.Alert
}

func (s *fakeSink) Emit(_ context.Context, alert model.Alert) error {
	s.mu.Lock()
	s.alerts = append(s.alerts, alert)
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) emitted() []model.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Alert(nil), s.alerts...)
}

// fakeStore backs the handlers, the monitor and the confirmer in one
// in-memory implementation.
type fakeStore struct {
	mu      sync.Mutex
	records []model.LandslideRecord
	areas   map[string]model.MonitoringArea
	alerts  []model.Alert
}

func newFakeStore() *fakeStore {
	return &fakeStore{areas: make(map[string]model.MonitoringArea)}
}

func (s *fakeStore) ListLandslides(_ context.Context) ([]model.LandslideRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.LandslideRecord(nil), s.records...), nil
}

func (s *fakeStore) LandslidesNear(_ context.Context, c model.Coordinate, tolerance float64) ([]model.LandslideRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var near []model.LandslideRecord
	for _, rec := range s.records {
		if rec.Coordinate.Lat >= c.Lat-tolerance && rec.Coordinate.Lat <= c.Lat+tolerance &&
			rec.Coordinate.Lng >= c.Lng-tolerance && rec.Coordinate.Lng <= c.Lng+tolerance {
			near = append(near, rec)
		}
	}
	return near, nil
}

func (s *fakeStore) LandslidesInBounds(_ context.Context, b model.BoundingBox) ([]model.LandslideRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inside []model.LandslideRecord
	for _, rec := range s.records {
		if b.Contains(rec.Coordinate) {
			inside = append(inside, rec)
		}
	}
	return inside, nil
}

func (s *fakeStore) InsertLandslide(_ context.Context, rec model.LandslideRecord) error {
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) LandslideByID(_ context.Context, id string) (*model.LandslideRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == id {
			rec := s.records[i]
			return &rec, nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *fakeStore) UpdateLandslideStatus(_ context.Context, id string, status model.LandslideStatus, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == id {
			s.records[i].Status = status
			s.records[i].History = append(s.records[i].History, model.HistoryEntry{
				Date: time.Now().UTC(), Status: string(status), Note: note,
			})
			return nil
		}
	}
	return model.ErrNotFound
}

func (s *fakeStore) ListAreas(_ context.Context) ([]model.MonitoringArea, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	areas := make([]model.MonitoringArea, 0, len(s.areas))
	for _, area := range s.areas {
		areas = append(areas, area)
	}
	return areas, nil
}

func (s *fakeStore) CreateArea(_ context.Context, area model.MonitoringArea) error {
	s.mu.Lock()
	s.areas[area.ID] = area
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) AreaByID(_ context.Context, id string) (*model.MonitoringArea, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	area, ok := s.areas[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &area, nil
}

func (s *fakeStore) AreaForLandslide(_ context.Context, landslideID string) (*model.MonitoringArea, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, area := range s.areas {
		if area.LandslideID == landslideID {
			a := area
			return &a, nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *fakeStore) UpdateAreaCheck(_ context.Context, id string, checkedAt time.Time, detectedPoints int, risk model.RiskLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	area, ok := s.areas[id]
	if !ok {
		return model.ErrNotFound
	}
	area.LastCheckedAt = checkedAt
	area.DetectedPointCount = detectedPoints
	area.RiskLevel = risk
	s.areas[id] = area
	return nil
}

func (s *fakeStore) UpdateAreaSettings(_ context.Context, id string, set repository.AreaSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	area, ok := s.areas[id]
	if !ok {
		return model.ErrNotFound
	}
	if set.Name != nil {
		area.Name = *set.Name
	}
	if set.Status != nil {
		area.Status = *set.Status
	}
	s.areas[id] = area
	return nil
}

func (s *fakeStore) ListAlerts(_ context.Context) ([]model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Alert(nil), s.alerts...), nil
}

func (s *fakeStore) MarkAlertRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts[i].Read = true
			return nil
		}
	}
	return model.ErrNotFound
}

type testEnv struct {
	mux     *http.ServeMux
	store   *fakeStore
	sink    *fakeSink
	tracker *core.Tracker
}

func newTestEnv(t *testing.T, det *fakeDetector) *testEnv {
	t.Helper()

	store := newFakeStore()
	sink := &fakeSink{}

	tracker := core.NewTracker(det, cache.New[model.DetectionUpdate](time.Minute), nil, core.TrackerConfig{
		PollInterval: time.Hour,
	})
	t.Cleanup(tracker.Stop)

	monitor := core.NewMonitor(store, core.NewDetectionFeed(), sink, cache.New[core.CheckResult](time.Minute), time.Minute)
	confirmer := core.NewConfirmer(store, sink, nil, 0)

	mux := http.NewServeMux()
	NewHandler(tracker, monitor, confirmer, store, sink).Register(mux)
	return &testEnv{mux: mux, store: store, sink: sink, tracker: tracker}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSubmitDetection(t *testing.T) {
	env := newTestEnv(t, &fakeDetector{id: "job-1"})

	rec := env.do(t, http.MethodPost, "/api/landslide", map[string]float64{"lat": 21.0285, "lng": 105.8542})
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "job-1", body["id"])
	assert.Equal(t, "processing", body["status"])
}

func TestSubmitDetectionValidation(t *testing.T) {
	env := newTestEnv(t, &fakeDetector{id: "job-1"})

	rec := env.do(t, http.MethodPost, "/api/landslide", map[string]float64{"lat": 21.0285})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing lng")

	rec = env.do(t, http.MethodPost, "/api/landslide", map[string]float64{"lat": 99, "lng": 105})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "latitude out of range")
}

func TestJobStatusEndpoint(t *testing.T) {
	env := newTestEnv(t, &fakeDetector{id: "job-1"})

	rec := env.do(t, http.MethodPost, "/api/landslide", map[string]float64{"lat": 21, "lng": 105})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/landslide?id=job-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "processing", body["state"])

	rec = env.do(t, http.MethodGet, "/api/landslide?id=missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/landslide", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfirmEndpoint(t *testing.T) {
	env := newTestEnv(t, &fakeDetector{})

	payload := map[string]interface{}{
		"name":        "Pa Cheo slope",
		"coordinates": map[string]float64{"lat": 21.0285, "lng": 105.8542},
	}
	rec := env.do(t, http.MethodPost, "/api/landslide-confirmation", payload)
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["id"])

	// Same coordinate again collides.
	rec = env.do(t, http.MethodPost, "/api/landslide-confirmation", payload)
	require.Equal(t, http.StatusConflict, rec.Code)
	body = decodeBody(t, rec)
	existing, ok := body["existing"].(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, existing["id"])
}

func TestListConfirmedEndpoint(t *testing.T) {
	env := newTestEnv(t, &fakeDetector{})
	require.NoError(t, env.store.InsertLandslide(context.Background(), model.LandslideRecord{
		ID: "LS000001", Name: "Slope", Status: model.StatusActive,
	}))

	rec := env.do(t, http.MethodGet, "/api/landslide-confirmation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []model.LandslideRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.Len(t, records, 1)

	rec = env.do(t, http.MethodGet, "/api/landslide-confirmation?id=LS000001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Slope", decodeBody(t, rec)["name"])

	rec = env.do(t, http.MethodGet, "/api/landslide-confirmation?id=LS999999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfirmEndpointValidation(t *testing.T) {
	env := newTestEnv(t, &fakeDetector{})

	rec := env.do(t, http.MethodPost, "/api/landslide-confirmation", map[string]interface{}{
		"coordinates": map[string]float64{"lat": 21, "lng": 105},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "name is required")
}

func TestConfirmationCheckEndpoint(t *testing.T) {
	env := newTestEnv(t, &fakeDetector{})
	require.NoError(t, env.store.InsertLandslide(context.Background(), model.LandslideRecord{
		ID:         "LS000001",
		Name:       "Existing slope",
		Coordinate: model.Coordinate{Lat: 21.0285, Lng: 105.8542},
		Status:     model.StatusActive,
	}))

	rec := env.do(t, http.MethodPost, "/api/landslide-confirmation/check", map[string]float64{"lat": 21.02855, "lng": 105.85425})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["exists"])

	rec = env.do(t, http.MethodPost, "/api/landslide-confirmation/check", map[string]float64{"lat": 22, "lng": 105})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, false, body["exists"])
}

func TestCreateAreaEndpoint(t *testing.T) {
	env := newTestEnv(t, &fakeDetector{})

	rec := env.do(t, http.MethodPost, "/api/monitoring", map[string]interface{}{
		"name": "Slope A",
		"boundingBox": map[string]float64{
			"north": 21.1, "south": 21.0, "east": 106.0, "west": 105.9,
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["id"])

	alerts := env.sink.emitted()
	require.Len(t, alerts, 1)
	assert.Equal(t, model.AlertInfo, alerts[0].Type)
}

func TestCreateAreaEndpointValidation(t *testing.T) {
	env := newTestEnv(t, &fakeDetector{})

	rec := env.do(t, http.MethodPost, "/api/monitoring", map[string]interface{}{
		"name": "Slope A",
		"boundingBox": map[string]float64{
			"north": 21.0, "south": 21.1, "east": 106.0, "west": 105.9,
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "inverted bounds")

	rec = env.do(t, http.MethodPost, "/api/monitoring", map[string]interface{}{
		"boundingBox": map[string]float64{"north": 21.1, "south": 21.0, "east": 106.0, "west": 105.9},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing name")
}

func TestCheckAreaEndpoint(t *testing.T) {
	env := newTestEnv(t, &fakeDetector{})
	require.NoError(t, env.store.CreateArea(context.Background(), model.MonitoringArea{
		ID: "area-1", Name: "Slope A", Status: model.AreaActive,
	}))
	require.NoError(t, env.store.InsertLandslide(context.Background(), model.LandslideRecord{
		ID: "LS000001", Coordinate: model.Coordinate{Lat: 21.05, Lng: 105.95},
	}))

	rec := env.do(t, http.MethodPost, "/api/monitoring/check", map[string]interface{}{
		"areaId":      "area-1",
		"boundingBox": map[string]float64{"north": 21.1, "south": 21.0, "east": 106.0, "west": 105.9},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["detectedPoints"])
	assert.Equal(t, "medium", body["riskLevel"])
}

func TestCheckAreaEndpointUnknownArea(t *testing.T) {
	env := newTestEnv(t, &fakeDetector{})

	rec := env.do(t, http.MethodPost, "/api/monitoring/check", map[string]interface{}{
		"areaId":      "missing",
		"boundingBox": map[string]float64{"north": 21.1, "south": 21.0, "east": 106.0, "west": 105.9},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAreaExistsEndpoint(t *testing.T) {
	env := newTestEnv(t, &fakeDetector{})
	require.NoError(t, env.store.CreateArea(context.Background(), model.MonitoringArea{
		ID: "area-1", Name: "Slope A", LandslideID: "LS000001",
	}))

	rec := env.do(t, http.MethodPost, "/api/monitoring/exists", map[string]string{"landslideId": "LS000001"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["exists"])

	rec = env.do(t, http.MethodPost, "/api/monitoring/exists", map[string]string{"landslideId": "LS999999"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["exists"])
}

func TestUpdateAreaEndpoint(t *testing.T) {
	env := newTestEnv(t, &fakeDetector{})
	require.NoError(t, env.store.CreateArea(context.Background(), model.MonitoringArea{
		ID: "area-1", Name: "Slope A", Status: model.AreaActive,
	}))

	rec := env.do(t, http.MethodPost, "/api/monitoring-update", map[string]interface{}{
		"id":     "area-1",
		"status": "paused",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	area, err := env.store.AreaByID(context.Background(), "area-1")
	require.NoError(t, err)
	assert.Equal(t, model.AreaPaused, area.Status)

	alerts := env.sink.emitted()
	require.Len(t, alerts, 1)
	assert.Equal(t, "Monitoring paused", alerts[0].Title)

	rec = env.do(t, http.MethodPost, "/api/monitoring-update", map[string]interface{}{
		"id":   "missing",
		"name": "whatever",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAlertsEndpoints(t *testing.T) {
	env := newTestEnv(t, &fakeDetector{})
	env.store.alerts = []model.Alert{{ID: "alert-1", Type: model.AlertWarning, Title: "New points"}}

	rec := env.do(t, http.MethodGet, "/api/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var alerts []model.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)

	rec = env.do(t, http.MethodPost, "/api/alerts/read", map[string]string{"id": "alert-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.store.alerts[0].Read)

	rec = env.do(t, http.MethodPost, "/api/alerts/read", map[string]string{"id": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateLandslideStatusEndpoint(t *testing.T) {
	env := newTestEnv(t, &fakeDetector{})
	require.NoError(t, env.store.InsertLandslide(context.Background(), model.LandslideRecord{
		ID:     "LS000001",
		Name:   "Slope",
		Status: model.StatusActive,
	}))

	rec := env.do(t, http.MethodPatch, "/api/landslide", map[string]string{
		"id":     "LS000001",
		"status": "stabilized",
		"note":   "Drainage installed",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	records, err := env.store.ListLandslides(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StatusStabilized, records[0].Status)
	require.Len(t, records[0].History, 1)
	assert.Equal(t, "Drainage installed", records[0].History[0].Note)

	rec = env.do(t, http.MethodPatch, "/api/landslide", map[string]string{
		"id":     "LS999999",
		"status": "stabilized",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/landslide", map[string]string{"id": "LS000001"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "status is required")
}

func TestListAreasEndpoint(t *testing.T) {
	env := newTestEnv(t, &fakeDetector{})
	require.NoError(t, env.store.CreateArea(context.Background(), model.MonitoringArea{
		ID: "area-1", Name: "Slope A",
	}))

	rec := env.do(t, http.MethodGet, "/api/monitoring", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var areas []model.MonitoringArea
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &areas))
	require.Len(t, areas, 1)
	assert.Equal(t, "Slope A", areas[0].Name)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, &fakeDetector{})

	rec := env.do(t, http.MethodDelete, "/api/landslide", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/monitoring/check", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
