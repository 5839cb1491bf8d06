package outbox

import (
	"context"
	"errors"
	"log/slog"

	"dreamteam/internal/ledger"
)

// Publisher delivers one outbox event. Delivery is at least once, so
// implementations must tolerate repeats.
type Publisher interface {
	Publish(ctx context.Context, ev ledger.Event) error
}

// Fanout publishes to every publisher and fails if any of them failed.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev ledger.Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type LogPublisher struct {
	log *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{log: logger}
}

func (p *LogPublisher) Publish(_ context.Context, ev ledger.Event) error {
	p.log.Info("market event",
		"event_id", ev.ID.String(),
		"type", ev.Type,
		"payload", string(ev.Payload),
	)
	return nil
}
