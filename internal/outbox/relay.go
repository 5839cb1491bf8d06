package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"dreamteam/internal/ledger"
)

type RelayConfig struct {
	PollEvery  time.Duration
	BatchSize  int
	MaxRetries int
	RetryDelay time.Duration
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		PollEvery:  5 * time.Second,
		BatchSize:  100,
		MaxRetries: 3,
		RetryDelay: 200 * time.Millisecond,
	}
}

// Relay moves committed outbox events to a publisher. Events go out in
// commit order and are marked sent only after a successful publish.
type Relay struct {
	store ledger.Outbox
	pub   Publisher
	cfg   RelayConfig
	clock clockwork.Clock
	log   *slog.Logger
	wake  <-chan struct{}
}

type RelayOption func(*Relay)

func WithClock(c clockwork.Clock) RelayOption {
	return func(r *Relay) { r.clock = c }
}

// WithWake makes the relay drain whenever wake fires, in addition to polling.
func WithWake(wake <-chan struct{}) RelayOption {
	return func(r *Relay) { r.wake = wake }
}

func NewRelay(store ledger.Outbox, pub Publisher, cfg RelayConfig, logger *slog.Logger, opts ...RelayOption) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultRelayConfig()
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = def.PollEvery
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	r := &Relay{
		store: store,
		pub:   pub,
		cfg:   cfg,
		clock: clockwork.NewRealClock(),
		log:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drains once immediately, then on every tick or wake until ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.cfg.PollEvery)
	defer ticker.Stop()

	r.log.Info("outbox relay started", "poll_every", r.cfg.PollEvery.String(), "batch_size", r.cfg.BatchSize)
	r.drainAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return nil
		case <-ticker.Chan():
			r.drainAndLog(ctx)
		case <-r.wake:
			r.drainAndLog(ctx)
		}
	}
}

func (r *Relay) drainAndLog(ctx context.Context) {
	n, err := r.Drain(ctx)
	if err != nil && ctx.Err() == nil {
		r.log.Error("outbox drain failed", "err", err, "published", n)
		return
	}
	if n > 0 {
		r.log.Info("outbox drained", "published", n)
	}
}

// Drain publishes pending events until none are left or one cannot be
// delivered. It returns how many were published and marked sent.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		events, err := r.store.PendingEvents(ctx, r.cfg.BatchSize)
		if err != nil {
			return total, fmt.Errorf("read outbox: %w", err)
		}
		if len(events) == 0 {
			return total, nil
		}

		sent := make([]uuid.UUID, 0, len(events))
		var pubErr error
		for _, ev := range events {
			if pubErr = r.publishWithRetry(ctx, ev); pubErr != nil {
				break
			}
			sent = append(sent, ev.ID)
		}
		if len(sent) > 0 {
			if err := r.store.MarkEventsSent(ctx, sent); err != nil {
				return total, fmt.Errorf("mark sent: %w", err)
			}
			total += len(sent)
		}
		if pubErr != nil {
			return total, pubErr
		}
		if len(events) < r.cfg.BatchSize {
			return total, nil
		}
	}
}

func (r *Relay) publishWithRetry(ctx context.Context, ev ledger.Event) error {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.clock.After(r.cfg.RetryDelay * time.Duration(attempt)):
			}
		}
		err := r.pub.Publish(ctx, ev)
		if err == nil {
			return nil
		}
		lastErr = err
		r.log.Warn("publish failed", "event_id", ev.ID.String(), "type", ev.Type, "attempt", attempt+1, "err", err)
	}
	return fmt.Errorf("publish %s after %d attempts: %w", ev.ID, r.cfg.MaxRetries+1, lastErr)
}
