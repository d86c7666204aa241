package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"landslide_service/internal/domain/model"
)

// LandslideStore is the persistence surface of the confirmation
// workflow.
type LandslideStore interface {
	// LandslidesNear returns records inside the tolerance box around c,
	// ordered by first detection time so the earliest record wins ties.
	LandslidesNear(ctx context.Context, c model.Coordinate, tolerance float64) ([]model.LandslideRecord, error)
	InsertLandslide(ctx context.Context, rec model.LandslideRecord) error
}

// TerrainContext resolves mapped infrastructure around a site.
type TerrainContext interface {
	SiteContext(ctx context.Context, c model.Coordinate) (model.SiteContext, error)
}

// LandslideInput is a confirmation candidate. Coordinate is a pointer
// so that an absent coordinate is distinguishable from (0, 0).
type LandslideInput struct {
	ID              string                `json:"id,omitempty"`
	Name            string                `json:"name"`
	Coordinate      *model.Coordinate     `json:"coordinates"`
	Status          model.LandslideStatus `json:"status,omitempty"`
	DetectedAt      time.Time             `json:"detectedAt,omitempty"`
	AffectedArea    string                `json:"affectedArea,omitempty"`
	PotentialImpact string                `json:"potentialImpact,omitempty"`
	Note            string                `json:"note,omitempty"`
}

// Confirmer decides atomically whether a candidate becomes a new
// landslide record or collides with an existing one.
type Confirmer struct {
	store     LandslideStore
	alerts    AlertSink
	terrain   TerrainContext
	tolerance float64

	// mu scopes the duplicate check and the insert so no conflicting
	// write for a coordinate in the tolerance window lands between
	// them. The reference deployment has a single writer process.
	// Terrain enrichment runs outside this lock; a slow Overpass
	// round trip must not serialize unrelated confirmations.
	mu sync.Mutex
}

// NewConfirmer builds a workflow with the given deduplication
// tolerance in degrees; non-positive falls back to DefaultTolerance.
// terrain may be nil to disable site-context enrichment.
func NewConfirmer(store LandslideStore, alerts AlertSink, terrain TerrainContext, tolerance float64) *Confirmer {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Confirmer{store: store, alerts: alerts, terrain: terrain, tolerance: tolerance}
}

// Tolerance returns the configured deduplication tolerance in degrees.
func (c *Confirmer) Tolerance() float64 { return c.tolerance }

// Check reports the existing record a coordinate would collide with,
// or nil when the coordinate is clear. tolerance <= 0 uses the
// configured default.
func (c *Confirmer) Check(ctx context.Context, coord model.Coordinate, tolerance float64) (*model.LandslideRecord, error) {
	if !coord.Valid() {
		return nil, &model.ValidationError{Field: "coordinates", Reason: "latitude or longitude out of range"}
	}
	if tolerance <= 0 {
		tolerance = c.tolerance
	}
	existing, err := c.store.LandslidesNear(ctx, coord, tolerance)
	if err != nil {
		return nil, fmt.Errorf("query nearby landslides: %w", err)
	}
	return FindNearby(coord, tolerance, existing), nil
}

// Confirm validates the candidate, rejects duplicates within the
// tolerance box, and otherwise persists a new record with a seeded
// history entry. The companion alert is best-effort notification: a
// failed alert write never fails a confirmation whose record write
// succeeded.
func (c *Confirmer) Confirm(ctx context.Context, in LandslideInput) (*model.LandslideRecord, error) {
	if in.Name == "" {
		return nil, &model.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if in.Coordinate == nil {
		return nil, &model.ValidationError{Field: "coordinates", Reason: "must be present"}
	}
	if !in.Coordinate.Valid() {
		return nil, &model.ValidationError{Field: "coordinates", Reason: "latitude or longitude out of range"}
	}

	// Early duplicate check so a colliding candidate is rejected before
	// paying for the terrain lookup. The authoritative check runs again
	// under the mutex in insertIfClear.
	if match, err := c.Check(ctx, *in.Coordinate, c.tolerance); err != nil {
		return nil, err
	} else if match != nil {
		return nil, duplicateOf(match)
	}

	rec := c.buildRecord(ctx, in)

	if err := c.insertIfClear(ctx, rec); err != nil {
		return nil, err
	}

	alert := model.Alert{
		Type:        model.AlertInfo,
		Title:       "Landslide point confirmed",
		Description: fmt.Sprintf("Confirmed landslide point at %s", rec.Name),
		Date:        time.Now().UTC(),
		LandslideID: rec.ID,
	}
	if err := c.alerts.Emit(ctx, alert); err != nil {
		log.Warn().Err(err).Str("landslideId", rec.ID).Msg("confirmation alert not delivered")
	}

	log.Info().Str("landslideId", rec.ID).Str("name", rec.Name).
		Float64("lat", rec.Coordinate.Lat).Float64("lng", rec.Coordinate.Lng).
		Msg("landslide confirmed")
	return &rec, nil
}

// insertIfClear holds the Confirmer's mutex across the tolerance query
// and the insert, so two candidates for the same spot cannot both pass
// the check.
func (c *Confirmer) insertIfClear(ctx context.Context, rec model.LandslideRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.store.LandslidesNear(ctx, rec.Coordinate, c.tolerance)
	if err != nil {
		return fmt.Errorf("query nearby landslides: %w", err)
	}
	if match := FindNearby(rec.Coordinate, c.tolerance, existing); match != nil {
		return duplicateOf(match)
	}

	if err := c.store.InsertLandslide(ctx, rec); err != nil {
		return fmt.Errorf("insert landslide %s: %w", rec.ID, err)
	}
	return nil
}

func duplicateOf(match *model.LandslideRecord) *model.DuplicateError {
	return &model.DuplicateError{
		ExistingID: match.ID,
		Name:       match.Name,
		Status:     match.Status,
		DetectedAt: match.FirstDetectedAt,
	}
}

func (c *Confirmer) buildRecord(ctx context.Context, in LandslideInput) model.LandslideRecord {
	now := time.Now().UTC()

	id := in.ID
	if id == "" {
		id = fmt.Sprintf("LS%06d", now.UnixMilli()%1_000_000)
	}
	status := in.Status
	if status == "" {
		status = model.StatusActive
	}
	detectedAt := in.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = now
	}
	note := in.Note
	if note == "" {
		note = "Confirmed via detection workflow"
	}

	rec := model.LandslideRecord{
		ID:              id,
		Name:            in.Name,
		Coordinate:      *in.Coordinate,
		Status:          status,
		AffectedArea:    in.AffectedArea,
		PotentialImpact: in.PotentialImpact,
		FirstDetectedAt: detectedAt,
		LastUpdateAt:    now,
		History: []model.HistoryEntry{
			{Date: now, Status: "detected", Note: note},
		},
	}

	if c.terrain != nil && (rec.AffectedArea == "" || rec.PotentialImpact == "") {
		c.enrich(ctx, &rec)
	}
	return rec
}

// enrich fills blank impact fields from mapped infrastructure around
// the site. Best-effort: a failed lookup leaves the fields blank.
func (c *Confirmer) enrich(ctx context.Context, rec *model.LandslideRecord) {
	sc, err := c.terrain.SiteContext(ctx, rec.Coordinate)
	if err != nil {
		log.Warn().Err(err).Str("landslideId", rec.ID).Msg("site context lookup failed")
		return
	}
	if rec.AffectedArea == "" {
		rec.AffectedArea = fmt.Sprintf("%d buildings and %d road segments mapped nearby", sc.Buildings, sc.Roads)
	}
	if rec.PotentialImpact == "" {
		if sc.NearestRoadKm > 0 {
			rec.PotentialImpact = fmt.Sprintf("Nearest road %.2f km away; %d waterways in range", sc.NearestRoadKm, sc.Waterways)
		} else {
			rec.PotentialImpact = fmt.Sprintf("%d waterways in range", sc.Waterways)
		}
	}
}
