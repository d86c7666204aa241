package model

import "time"

// Coordinate is a WGS84 point in degrees. Value type, no identity.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate is inside the WGS84 range.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// BoundingBox is a rectangular region in degrees. North must exceed
// south and east must exceed west.
type BoundingBox struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

func (b BoundingBox) Valid() bool {
	return b.North > b.South && b.East > b.West
}

// Contains performs an inclusive per-axis containment test. Not a
// geodesic test; monitoring boxes are small enough for the flat
// approximation.
func (b BoundingBox) Contains(c Coordinate) bool {
	return c.Lat >= b.South && c.Lat <= b.North &&
		c.Lng >= b.West && c.Lng <= b.East
}

// LandslideStatus is the risk/lifecycle tag of a confirmed site.
type LandslideStatus string

const (
	StatusHighRisk   LandslideStatus = "high_risk"
	StatusActive     LandslideStatus = "active"
	StatusMonitored  LandslideStatus = "monitored"
	StatusStabilized LandslideStatus = "stabilized"
	StatusRemediated LandslideStatus = "remediated"
)

// RiskLevel classifies a monitoring area by its detected point count.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskForCount derives the risk level from a detected point count:
// more than 5 points is high, at least one is medium, zero is low.
func RiskForCount(count int) RiskLevel {
	switch {
	case count > 5:
		return RiskHigh
	case count > 0:
		return RiskMedium
	default:
		return RiskLow
	}
}

// HistoryEntry is one step in a landslide record's append-only audit
// trail.
type HistoryEntry struct {
	Date   time.Time `json:"date"`
	Status string    `json:"status"`
	Note   string    `json:"note"`
}

// LandslideRecord is a confirmed, persisted landslide site. No two
// records may sit within the deduplication tolerance of each other;
// the confirmation workflow enforces that, not the store.
type LandslideRecord struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Coordinate      Coordinate      `json:"coordinates"`
	Status          LandslideStatus `json:"status"`
	AffectedArea    string          `json:"affectedArea,omitempty"`
	PotentialImpact string          `json:"potentialImpact,omitempty"`
	FirstDetectedAt time.Time       `json:"detectedAt"`
	LastUpdateAt    time.Time       `json:"lastUpdate"`
	History         []HistoryEntry  `json:"history"`
}

// AreaStatus tells whether an area is actively re-checked.
type AreaStatus string

const (
	AreaActive AreaStatus = "active"
	AreaPaused AreaStatus = "paused"
)

// MonitoringArea is a tracked rectangular region that is periodically
// re-evaluated for landslide risk. Created externally; only the
// evaluator's check mutates the check fields.
type MonitoringArea struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name"`
	Bounds             BoundingBox `json:"boundingBox"`
	MonitorFrequency   string      `json:"monitorFrequency,omitempty"`
	Status             AreaStatus  `json:"status"`
	AutoVerify         bool        `json:"autoVerify"`
	LandslideID        string      `json:"landslideId,omitempty"`
	CreatedAt          time.Time   `json:"createdAt"`
	LastCheckedAt      time.Time   `json:"lastChecked"`
	DetectedPointCount int         `json:"detectedPoints"`
	RiskLevel          RiskLevel   `json:"riskLevel"`
}

// AlertType mirrors the severity classes of the dashboard the alerts
// feed into.
type AlertType string

const (
	AlertInfo    AlertType = "info"
	AlertWarning AlertType = "warning"
	AlertDanger  AlertType = "danger"
)

// Alert is a one-way notification record. The core only ever writes
// alerts; it never reads them back.
type Alert struct {
	ID               string    `json:"id"`
	Type             AlertType `json:"type"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Date             time.Time `json:"date"`
	LandslideID      string    `json:"landslideId,omitempty"`
	MonitoringAreaID string    `json:"monitoringAreaId,omitempty"`
	Read             bool      `json:"read"`
}

// SiteContext summarizes mapped infrastructure around a confirmed
// site, used to describe its potential impact.
type SiteContext struct {
	Buildings     int     `json:"buildings"`
	Roads         int     `json:"roads"`
	Waterways     int     `json:"waterways"`
	NearestRoadKm float64 `json:"nearestRoadKm"`
}
