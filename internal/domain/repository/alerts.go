package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"landslide_service/internal/domain/model"
)

// PostgresAlertRecorder is the durable alert sink. It shares the
// repository's DB handle.
type PostgresAlertRecorder struct {
	db *sqlx.DB
}

func NewPostgresAlertRecorder(db *sqlx.DB) *PostgresAlertRecorder {
	return &PostgresAlertRecorder{db: db}
}

// Emit inserts one alert row. An id is assigned when the alert carries
// none.
func (r *PostgresAlertRecorder) Emit(ctx context.Context, alert model.Alert) error {
	const query = `
		INSERT INTO alerts (
			id, type, title, description, date,
			landslide_id, monitoring_area_id, read, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`

	id := alert.ID
	if id == "" {
		id = uuid.NewString()
	}
	date := alert.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, query,
		id, string(alert.Type), alert.Title, alert.Description, date,
		nullable(alert.LandslideID), nullable(alert.MonitoringAreaID), alert.Read,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}
