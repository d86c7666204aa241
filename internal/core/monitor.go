package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"landslide_service/internal/cache"
	"landslide_service/internal/domain/model"
)

// AreaStore is the persistence surface the evaluator needs.
type AreaStore interface {
	AreaByID(ctx context.Context, id string) (*model.MonitoringArea, error)
	LandslidesInBounds(ctx context.Context, bounds model.BoundingBox) ([]model.LandslideRecord, error)
	// UpdateAreaCheck applies lastChecked, detectedPoints and riskLevel
	// as one statement; partial updates must never be observable.
	UpdateAreaCheck(ctx context.Context, id string, checkedAt time.Time, detectedPoints int, risk model.RiskLevel) error
}

// PointSource supplies coordinates newly detected since the last
// check. Requeue hands back points whose attribution failed; they must
// reappear in a later Drain.
type PointSource interface {
	Drain(bounds model.BoundingBox) []model.Coordinate
	Requeue(points []model.Coordinate)
}

// CheckResult is the outcome of one monitoring area evaluation.
type CheckResult struct {
	AreaID         string          `json:"areaId"`
	CheckedAt      time.Time       `json:"lastChecked"`
	DetectedPoints int             `json:"detectedPoints"`
	NewDetections  int             `json:"newDetections"`
	RiskLevel      model.RiskLevel `json:"riskLevel"`
}

// Monitor recomputes a monitoring area's detected point count and risk
// level on demand, and raises an alert when new points appear. It does
// not self-schedule; an external trigger invokes CheckArea.
type Monitor struct {
	store  AreaStore
	source PointSource
	alerts AlertSink
	cache  *cache.Cache[CheckResult]
	ttl    time.Duration

	mu        sync.Mutex
	areaLocks map[string]*sync.Mutex
}

// NewMonitor builds an evaluator. Identical (areaID, bounds) checks
// within ttl are served from checkCache so repeated external triggers
// do not re-run the point query and the alert side effect.
func NewMonitor(store AreaStore, source PointSource, alerts AlertSink, checkCache *cache.Cache[CheckResult], ttl time.Duration) *Monitor {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Monitor{
		store:     store,
		source:    source,
		alerts:    alerts,
		cache:     checkCache,
		ttl:       ttl,
		areaLocks: make(map[string]*sync.Mutex),
	}
}

// CheckArea evaluates one monitoring area against the given bounds.
// Unknown areas yield ErrNotFound, malformed bounds a ValidationError.
func (m *Monitor) CheckArea(ctx context.Context, areaID string, bounds model.BoundingBox) (CheckResult, error) {
	if areaID == "" {
		return CheckResult{}, &model.ValidationError{Field: "areaId", Reason: "must not be empty"}
	}
	if !bounds.Valid() {
		return CheckResult{}, &model.ValidationError{Field: "boundingBox", Reason: "north must exceed south and east must exceed west"}
	}

	key := fmt.Sprintf("monitoring-check:%s:%.6f,%.6f,%.6f,%.6f",
		areaID, bounds.North, bounds.South, bounds.East, bounds.West)
	return m.cache.GetOrCompute(key, m.ttl, func() (CheckResult, error) {
		return m.runCheck(ctx, areaID, bounds)
	})
}

func (m *Monitor) runCheck(ctx context.Context, areaID string, bounds model.BoundingBox) (CheckResult, error) {
	// Checks of the same area are serialized to keep the
	// read-modify-write of count and risk level from interleaving.
	// Different areas proceed independently.
	lock := m.lockFor(areaID)
	lock.Lock()
	defer lock.Unlock()

	area, err := m.store.AreaByID(ctx, areaID)
	if err != nil {
		return CheckResult{}, fmt.Errorf("monitoring area %s: %w", areaID, err)
	}

	existing, err := m.store.LandslidesInBounds(ctx, bounds)
	if err != nil {
		return CheckResult{}, fmt.Errorf("query landslides in area %s: %w", areaID, err)
	}

	var fresh []model.Coordinate
	if m.source != nil {
		fresh = m.source.Drain(bounds)
	}

	total := len(existing) + len(fresh)
	// The counter never decreases: confirmed records removed by an
	// external collaborator do not retract past detections.
	if total < area.DetectedPointCount {
		total = area.DetectedPointCount
	}

	risk := model.RiskForCount(total)
	checkedAt := time.Now().UTC()

	// A failed check must not swallow the drained points: they go back
	// to the source so the next check counts them and raises the alert.
	if err := m.store.UpdateAreaCheck(ctx, areaID, checkedAt, total, risk); err != nil {
		m.requeue(fresh)
		return CheckResult{}, fmt.Errorf("update monitoring area %s: %w", areaID, err)
	}

	log.Info().Str("areaId", areaID).Int("detectedPoints", total).
		Int("newDetections", len(fresh)).Str("riskLevel", string(risk)).
		Msg("monitoring area checked")

	// Alert only on newly merged points, and only after the area update
	// is durably applied so a reader reacting to the alert sees the new
	// state. Zero new points means zero alerts regardless of risk.
	if len(fresh) > 0 {
		alert := model.Alert{
			Type:             model.AlertWarning,
			Title:            "New landslide points detected",
			Description:      fmt.Sprintf("Detected %d new landslide points in area %q", len(fresh), area.Name),
			Date:             checkedAt,
			MonitoringAreaID: areaID,
		}
		if err := m.alerts.Emit(ctx, alert); err != nil {
			m.requeue(fresh)
			return CheckResult{}, fmt.Errorf("emit area alert for %s: %w", areaID, err)
		}
	}

	return CheckResult{
		AreaID:         areaID,
		CheckedAt:      checkedAt,
		DetectedPoints: total,
		NewDetections:  len(fresh),
		RiskLevel:      risk,
	}, nil
}

func (m *Monitor) requeue(points []model.Coordinate) {
	if m.source != nil {
		m.source.Requeue(points)
	}
}

func (m *Monitor) lockFor(areaID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.areaLocks[areaID]
	if !ok {
		lock = &sync.Mutex{}
		m.areaLocks[areaID] = lock
	}
	return lock
}
