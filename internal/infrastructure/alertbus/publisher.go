// Package alertbus publishes alerts to NATS for external subscribers
// (dashboards, notifiers). Delivery is best-effort; the durable copy
// of every alert lives in the database.
package alertbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"landslide_service/internal/domain/model"
)

const subject = "alerts"

// Publisher publishes alerts to NATS.
type Publisher struct {
	conn *nats.Conn
}

// NewPublisher connects to NATS with retry-on-reconnect semantics.
func NewPublisher(natsURL string) (*Publisher, error) {
	conn, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	log.Info().Str("url", natsURL).Msg("alert publisher connected to NATS")
	return &Publisher{conn: conn}, nil
}

// Emit publishes one alert on the "alerts" subject.
func (p *Publisher) Emit(_ context.Context, alert model.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return err
	}
	log.Debug().Str("type", string(alert.Type)).Str("title", alert.Title).
		Msg("alert published to bus")
	return nil
}

// IsConnected reports whether the NATS connection is up.
func (p *Publisher) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}

// Close drains the NATS connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
		log.Info().Msg("alert publisher disconnected from NATS")
	}
}
