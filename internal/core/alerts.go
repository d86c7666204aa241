package core

import (
	"context"

	"github.com/rs/zerolog/log"

	"landslide_service/internal/domain/model"
)

// AlertSink receives one-way notifications about state changes. The
// core never reads alerts back.
type AlertSink interface {
	Emit(ctx context.Context, alert model.Alert) error
}

// FanoutSink delivers an alert to every sink in order. The first sink
// is treated as the durable one: its failure fails the emit. Failures
// of the remaining sinks are logged and swallowed, so a flaky bus
// cannot block the durable write.
type FanoutSink []AlertSink

func (s FanoutSink) Emit(ctx context.Context, alert model.Alert) error {
	for i, sink := range s {
		if err := sink.Emit(ctx, alert); err != nil {
			if i == 0 {
				return err
			}
			log.Warn().Err(err).Str("alertTitle", alert.Title).Msg("secondary alert sink failed")
		}
	}
	return nil
}
