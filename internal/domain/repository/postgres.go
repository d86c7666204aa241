package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"landslide_service/internal/domain/model"
)

// LandslideRepository persists landslide records, monitoring areas and
// alert reads in Postgres.
type LandslideRepository struct {
	DB *sqlx.DB
}

func NewLandslideRepository(connStr string) *LandslideRepository {
	db := sqlx.MustConnect("postgres", connStr)
	return &LandslideRepository{DB: db}
}

type landslideRow struct {
	ID              string         `db:"id"`
	Name            string         `db:"name"`
	Lat             float64        `db:"lat"`
	Lng             float64        `db:"lng"`
	Status          string         `db:"status"`
	AffectedArea    sql.NullString `db:"affected_area"`
	PotentialImpact sql.NullString `db:"potential_impact"`
	FirstDetectedAt time.Time      `db:"first_detected_at"`
	LastUpdate      time.Time      `db:"last_update"`
	History         []byte         `db:"history"`
}

const landslideColumns = `
	id, name, lat, lng, status, affected_area, potential_impact,
	first_detected_at, last_update, history`

func (r landslideRow) toModel() model.LandslideRecord {
	var history []model.HistoryEntry
	if len(r.History) > 0 {
		if err := json.Unmarshal(r.History, &history); err != nil {
			log.Error().Err(err).Str("landslideId", r.ID).Msg("corrupt history payload")
			history = nil
		}
	}
	return model.LandslideRecord{
		ID:              r.ID,
		Name:            r.Name,
		Coordinate:      model.Coordinate{Lat: r.Lat, Lng: r.Lng},
		Status:          model.LandslideStatus(r.Status),
		AffectedArea:    r.AffectedArea.String,
		PotentialImpact: r.PotentialImpact.String,
		FirstDetectedAt: r.FirstDetectedAt,
		LastUpdateAt:    r.LastUpdate,
		History:         history,
	}
}

// LandslidesNear returns records inside the tolerance box around c,
// earliest detection first.
func (r *LandslideRepository) LandslidesNear(ctx context.Context, c model.Coordinate, tolerance float64) ([]model.LandslideRecord, error) {
	const query = `
		SELECT` + landslideColumns + `
		FROM landslides
		WHERE lat BETWEEN $1 AND $2
		AND lng BETWEEN $3 AND $4
		ORDER BY first_detected_at`

	var rows []landslideRow
	err := r.DB.SelectContext(ctx, &rows, query,
		c.Lat-tolerance, c.Lat+tolerance,
		c.Lng-tolerance, c.Lng+tolerance,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query nearby landslides: %w", err)
	}
	return toRecords(rows), nil
}

// LandslidesInBounds returns confirmed records inside the bounding
// box, inclusive on both axes, earliest detection first.
func (r *LandslideRepository) LandslidesInBounds(ctx context.Context, b model.BoundingBox) ([]model.LandslideRecord, error) {
	const query = `
		SELECT` + landslideColumns + `
		FROM landslides
		WHERE lat BETWEEN $1 AND $2
		AND lng BETWEEN $3 AND $4
		ORDER BY first_detected_at`

	var rows []landslideRow
	err := r.DB.SelectContext(ctx, &rows, query, b.South, b.North, b.West, b.East)
	if err != nil {
		return nil, fmt.Errorf("failed to query landslides in bounds: %w", err)
	}
	return toRecords(rows), nil
}

func (r *LandslideRepository) LandslideByID(ctx context.Context, id string) (*model.LandslideRecord, error) {
	const query = `
		SELECT` + landslideColumns + `
		FROM landslides
		WHERE id = $1`

	var row landslideRow
	err := r.DB.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query landslide %s: %w", id, err)
	}
	rec := row.toModel()
	return &rec, nil
}

func (r *LandslideRepository) ListLandslides(ctx context.Context) ([]model.LandslideRecord, error) {
	const query = `
		SELECT` + landslideColumns + `
		FROM landslides
		ORDER BY first_detected_at DESC`

	var rows []landslideRow
	if err := r.DB.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list landslides: %w", err)
	}
	return toRecords(rows), nil
}

func (r *LandslideRepository) InsertLandslide(ctx context.Context, rec model.LandslideRecord) error {
	const query = `
		INSERT INTO landslides (
			id, name, lat, lng, status, affected_area, potential_impact,
			first_detected_at, last_update, history, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())`

	history, err := json.Marshal(rec.History)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	_, err = r.DB.ExecContext(ctx, query,
		rec.ID, rec.Name, rec.Coordinate.Lat, rec.Coordinate.Lng,
		string(rec.Status), nullable(rec.AffectedArea), nullable(rec.PotentialImpact),
		rec.FirstDetectedAt, rec.LastUpdateAt, history,
	)
	if err != nil {
		return fmt.Errorf("failed to insert landslide %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateLandslideStatus changes a record's status and appends one
// history entry, as a single transaction.
func (r *LandslideRepository) UpdateLandslideStatus(ctx context.Context, id string, status model.LandslideStatus, note string) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin status update: %w", err)
	}
	defer tx.Rollback()

	var history []byte
	err = tx.GetContext(ctx, &history, `SELECT history FROM landslides WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read history for %s: %w", id, err)
	}

	var entries []model.HistoryEntry
	if len(history) > 0 {
		if err := json.Unmarshal(history, &entries); err != nil {
			log.Error().Err(err).Str("landslideId", id).Msg("corrupt history payload, resetting")
			entries = nil
		}
	}
	now := time.Now().UTC()
	entries = append(entries, model.HistoryEntry{Date: now, Status: string(status), Note: note})

	updated, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	const query = `
		UPDATE landslides
		SET status = $2, history = $3, last_update = $4, updated_at = NOW()
		WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, string(status), updated, now); err != nil {
		return fmt.Errorf("failed to update landslide %s: %w", id, err)
	}
	return tx.Commit()
}

type areaRow struct {
	ID               string         `db:"id"`
	Name             string         `db:"name"`
	NorthBound       float64        `db:"north_bound"`
	SouthBound       float64        `db:"south_bound"`
	EastBound        float64        `db:"east_bound"`
	WestBound        float64        `db:"west_bound"`
	CreatedAt        time.Time      `db:"created_at"`
	MonitorFrequency sql.NullString `db:"monitor_frequency"`
	LastChecked      time.Time      `db:"last_checked"`
	Status           string         `db:"status"`
	DetectedPoints   int            `db:"detected_points"`
	RiskLevel        string         `db:"risk_level"`
	LandslideID      sql.NullString `db:"landslide_id"`
	AutoVerify       bool           `db:"auto_verify"`
}

const areaColumns = `
	id, name, north_bound, south_bound, east_bound, west_bound,
	created_at, monitor_frequency, last_checked, status,
	detected_points, risk_level, landslide_id, auto_verify`

func (r areaRow) toModel() model.MonitoringArea {
	return model.MonitoringArea{
		ID:   r.ID,
		Name: r.Name,
		Bounds: model.BoundingBox{
			North: r.NorthBound,
			South: r.SouthBound,
			East:  r.EastBound,
			West:  r.WestBound,
		},
		MonitorFrequency:   r.MonitorFrequency.String,
		Status:             model.AreaStatus(r.Status),
		AutoVerify:         r.AutoVerify,
		LandslideID:        r.LandslideID.String,
		CreatedAt:          r.CreatedAt,
		LastCheckedAt:      r.LastChecked,
		DetectedPointCount: r.DetectedPoints,
		RiskLevel:          model.RiskLevel(r.RiskLevel),
	}
}

func (r *LandslideRepository) CreateArea(ctx context.Context, area model.MonitoringArea) error {
	const query = `
		INSERT INTO monitoring_areas (
			id, name, north_bound, south_bound, east_bound, west_bound,
			created_at, monitor_frequency, last_checked, status,
			detected_points, risk_level, landslide_id, auto_verify
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.DB.ExecContext(ctx, query,
		area.ID, area.Name,
		area.Bounds.North, area.Bounds.South, area.Bounds.East, area.Bounds.West,
		area.CreatedAt, nullable(area.MonitorFrequency), area.LastCheckedAt,
		string(area.Status), area.DetectedPointCount, string(area.RiskLevel),
		nullable(area.LandslideID), area.AutoVerify,
	)
	if err != nil {
		return fmt.Errorf("failed to insert monitoring area %s: %w", area.ID, err)
	}
	return nil
}

func (r *LandslideRepository) AreaByID(ctx context.Context, id string) (*model.MonitoringArea, error) {
	const query = `
		SELECT` + areaColumns + `
		FROM monitoring_areas
		WHERE id = $1`

	var row areaRow
	err := r.DB.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query monitoring area %s: %w", id, err)
	}
	area := row.toModel()
	return &area, nil
}

// AreaForLandslide returns the monitoring area linked to a landslide
// record, or ErrNotFound when none is.
func (r *LandslideRepository) AreaForLandslide(ctx context.Context, landslideID string) (*model.MonitoringArea, error) {
	const query = `
		SELECT` + areaColumns + `
		FROM monitoring_areas
		WHERE landslide_id = $1
		ORDER BY created_at
		LIMIT 1`

	var row areaRow
	err := r.DB.GetContext(ctx, &row, query, landslideID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query area for landslide %s: %w", landslideID, err)
	}
	area := row.toModel()
	return &area, nil
}

func (r *LandslideRepository) ListAreas(ctx context.Context) ([]model.MonitoringArea, error) {
	const query = `
		SELECT` + areaColumns + `
		FROM monitoring_areas
		ORDER BY created_at DESC`

	var rows []areaRow
	if err := r.DB.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list monitoring areas: %w", err)
	}
	areas := make([]model.MonitoringArea, 0, len(rows))
	for _, row := range rows {
		areas = append(areas, row.toModel())
	}
	return areas, nil
}

// UpdateAreaCheck applies the result of one evaluation as a single
// statement so count and risk level can never be observed apart.
func (r *LandslideRepository) UpdateAreaCheck(ctx context.Context, id string, checkedAt time.Time, detectedPoints int, risk model.RiskLevel) error {
	const query = `
		UPDATE monitoring_areas
		SET last_checked = $2, detected_points = $3, risk_level = $4
		WHERE id = $1`

	res, err := r.DB.ExecContext(ctx, query, id, checkedAt, detectedPoints, string(risk))
	if err != nil {
		return fmt.Errorf("failed to update monitoring area %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// AreaSettings carries the optional fields of an area settings update;
// nil fields are left untouched.
type AreaSettings struct {
	Name             *string
	Status           *model.AreaStatus
	MonitorFrequency *string
	RiskLevel        *model.RiskLevel
	AutoVerify       *bool
}

// UpdateAreaSettings applies the non-nil settings fields.
func (r *LandslideRepository) UpdateAreaSettings(ctx context.Context, id string, s AreaSettings) error {
	sets := []string{"updated_at = NOW()"}
	args := []interface{}{id}

	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if s.Name != nil {
		add("name", *s.Name)
	}
	if s.Status != nil {
		add("status", string(*s.Status))
	}
	if s.MonitorFrequency != nil {
		add("monitor_frequency", *s.MonitorFrequency)
	}
	if s.RiskLevel != nil {
		add("risk_level", string(*s.RiskLevel))
	}
	if s.AutoVerify != nil {
		add("auto_verify", *s.AutoVerify)
	}

	query := fmt.Sprintf(`UPDATE monitoring_areas SET %s WHERE id = $1`, strings.Join(sets, ", "))
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update settings for area %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return model.ErrNotFound
	}
	return nil
}

type alertRow struct {
	ID               string         `db:"id"`
	Type             string         `db:"type"`
	Title            string         `db:"title"`
	Description      string         `db:"description"`
	Date             time.Time      `db:"date"`
	LandslideID      sql.NullString `db:"landslide_id"`
	MonitoringAreaID sql.NullString `db:"monitoring_area_id"`
	Read             bool           `db:"read"`
}

func (r *LandslideRepository) ListAlerts(ctx context.Context) ([]model.Alert, error) {
	const query = `
		SELECT id, type, title, description, date, landslide_id, monitoring_area_id, read
		FROM alerts
		ORDER BY date DESC`

	var rows []alertRow
	if err := r.DB.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	alerts := make([]model.Alert, 0, len(rows))
	for _, row := range rows {
		alerts = append(alerts, model.Alert{
			ID:               row.ID,
			Type:             model.AlertType(row.Type),
			Title:            row.Title,
			Description:      row.Description,
			Date:             row.Date,
			LandslideID:      row.LandslideID.String,
			MonitoringAreaID: row.MonitoringAreaID.String,
			Read:             row.Read,
		})
	}
	return alerts, nil
}

func (r *LandslideRepository) MarkAlertRead(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE alerts SET read = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark alert %s read: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func toRecords(rows []landslideRow) []model.LandslideRecord {
	records := make([]model.LandslideRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toModel())
	}
	return records
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
