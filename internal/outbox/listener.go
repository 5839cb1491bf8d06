package outbox

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// PGNotifier turns Postgres NOTIFY messages on a channel into relay wake-ups.
// Bursts collapse into one pending wake-up.
type PGNotifier struct {
	listener *pq.Listener
	wake     chan struct{}
	done     chan struct{}
	log      *slog.Logger
}

func NewPGNotifier(dsn, channel string, logger *slog.Logger) (*PGNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("pg listener event", "event", int(ev), "err", err)
		}
	})
	if err := l.Listen(channel); err != nil {
		l.Close()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}
	n := &PGNotifier{
		listener: l,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		log:      logger,
	}
	go n.loop()
	logger.Info("listening for outbox notifications", "channel", channel)
	return n, nil
}

func (n *PGNotifier) C() <-chan struct{} {
	return n.wake
}

func (n *PGNotifier) loop() {
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-n.done:
			return
		case _, ok := <-n.listener.Notify:
			if !ok {
				return
			}
			// A nil notification means the connection was re-established;
			// wake anyway so nothing committed meanwhile is missed.
			n.signal()
		case <-ping.C:
			if err := n.listener.Ping(); err != nil {
				n.log.Warn("pg listener ping failed", "err", err)
			}
		}
	}
}

func (n *PGNotifier) signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *PGNotifier) Close() error {
	close(n.done)
	return n.listener.Close()
}
