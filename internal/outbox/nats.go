package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"dreamteam/internal/ledger"
)

type NATSConfig struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxAge          time.Duration
	DuplicateWindow time.Duration
}

func DefaultNATSConfig(url string) NATSConfig {
	return NATSConfig{
		URL:             url,
		StreamName:      "MARKET_EVENTS",
		SubjectPrefix:   "market.events",
		MaxAge:          7 * 24 * time.Hour,
		DuplicateWindow: 2 * time.Hour,
	}
}

// NATSPublisher writes events to a JetStream stream. The event id is the
// message id, so redelivered events inside the duplicate window are dropped
// by the server.
type NATSPublisher struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	cfg NATSConfig
	log *slog.Logger
}

func NewNATSPublisher(ctx context.Context, cfg NATSConfig, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	p := &NATSPublisher{nc: nc, js: js, cfg: cfg, log: logger}
	if err := p.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return p, nil
}

func (p *NATSPublisher) ensureStream(ctx context.Context) error {
	_, err := p.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        p.cfg.StreamName,
		Description: "Transfer market events",
		Subjects:    []string{p.cfg.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		Storage:     jetstream.FileStorage,
		MaxAge:      p.cfg.MaxAge,
		Duplicates:  p.cfg.DuplicateWindow,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", p.cfg.StreamName, err)
	}
	return nil
}

func subjectFor(prefix, eventType string) string {
	return prefix + "." + eventType
}

func (p *NATSPublisher) Publish(ctx context.Context, ev ledger.Event) error {
	msg := &nats.Msg{
		Subject: subjectFor(p.cfg.SubjectPrefix, ev.Type),
		Data:    ev.Payload,
		Header: nats.Header{
			"Event-Type": []string{ev.Type},
			"Event-ID":   []string{ev.ID.String()},
			"Created-At": []string{ev.CreatedAt.UTC().Format(time.RFC3339Nano)},
		},
	}
	ack, err := p.js.PublishMsg(ctx, msg,
		jetstream.WithMsgID(ev.ID.String()),
		jetstream.WithExpectStream(p.cfg.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	p.log.Debug("published to jetstream", "subject", msg.Subject, "sequence", ack.Sequence, "duplicate", ack.Duplicate)
	return nil
}

func (p *NATSPublisher) Close() error {
	p.nc.Close()
	return nil
}
