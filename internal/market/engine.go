package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"dreamteam/internal/ledger"
)

const (
	maxAttempts   = 8
	baseRetry     = 75 * time.Millisecond
	maxRetryDelay = 1200 * time.Millisecond
)

// Engine runs the list, cancel and purchase transitions against a store.
type Engine struct {
	store ledger.Records
	log   *slog.Logger

	mu   sync.Mutex
	rand *mathrand.Rand

	retryDelay time.Duration
}

// NewEngine builds an engine. A nil src seeds from the clock.
func NewEngine(store ledger.Records, logger *slog.Logger, src mathrand.Source) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if src == nil {
		src = mathrand.NewSource(time.Now().UnixNano())
	}
	return &Engine{
		store:      store,
		log:        logger,
		rand:       mathrand.New(src),
		retryDelay: baseRetry,
	}
}

func (e *Engine) List(ctx context.Context, actorTeamID, playerID, price int64) (Result, error) {
	if price < 0 {
		return Result{}, ErrInvalidPrice
	}
	res, err := e.execute(ctx, "list", func(ctx context.Context) (ledger.Batch, Result, error) {
		p, err := e.player(ctx, playerID)
		if err != nil {
			return ledger.Batch{}, Result{}, err
		}
		team, err := e.team(ctx, actorTeamID)
		if err != nil {
			return ledger.Batch{}, Result{}, err
		}
		return planList(p, team, price)
	})
	if err != nil {
		return Result{}, err
	}
	e.log.Info("player listed", "player_id", playerID, "team_id", actorTeamID, "price", price)
	return res, nil
}

func (e *Engine) Cancel(ctx context.Context, actorTeamID, playerID int64) (Result, error) {
	res, err := e.execute(ctx, "cancel", func(ctx context.Context) (ledger.Batch, Result, error) {
		p, err := e.player(ctx, playerID)
		if err != nil {
			return ledger.Batch{}, Result{}, err
		}
		team, err := e.team(ctx, actorTeamID)
		if err != nil {
			return ledger.Batch{}, Result{}, err
		}
		return planCancel(p, team)
	})
	if err != nil {
		return Result{}, err
	}
	e.log.Info("listing cancelled", "player_id", playerID, "team_id", actorTeamID)
	return res, nil
}

// Purchase moves a listed player to the buyer's team. A non-empty
// idempotencyKey is claimed in the same commit, so a replayed request fails
// with ErrDuplicateRequest instead of buying twice.
func (e *Engine) Purchase(ctx context.Context, buyerTeamID, playerID int64, idempotencyKey string) (Result, error) {
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	res, err := e.execute(ctx, "purchase", func(ctx context.Context) (ledger.Batch, Result, error) {
		p, err := e.player(ctx, playerID)
		if err != nil {
			return ledger.Batch{}, Result{}, err
		}
		if err := purchasable(p, buyerTeamID); err != nil {
			return ledger.Batch{}, Result{}, err
		}
		buyer, err := e.team(ctx, buyerTeamID)
		if err != nil {
			return ledger.Batch{}, Result{}, err
		}
		seller, err := e.team(ctx, p.TeamID)
		if err != nil {
			return ledger.Batch{}, Result{}, err
		}
		var claim *ledger.Claim
		if idempotencyKey != "" {
			claim = &ledger.Claim{UserID: buyer.UserID, Key: idempotencyKey, Action: "market.purchase"}
		}
		return planPurchase(p, buyer, seller, Increment(e.nextFloat()), claim)
	})
	if err != nil {
		return Result{}, err
	}
	e.log.Info("player purchased",
		"player_id", playerID,
		"buyer_team_id", buyerTeamID,
		"price", res.Price,
		"market_value", res.Player.MarketValue,
	)
	return res, nil
}

// execute reads, plans and commits, starting over from a fresh read whenever
// the commit loses a race.
func (e *Engine) execute(ctx context.Context, op string, step func(context.Context) (ledger.Batch, Result, error)) (Result, error) {
	retryDelay := e.retryDelay
	for attempt := 0; attempt < maxAttempts; attempt++ {
		batch, res, err := step(ctx)
		if err != nil {
			return Result{}, err
		}
		if batch.Empty() {
			return res, nil
		}
		err = e.store.Commit(ctx, batch)
		if err == nil {
			return res, nil
		}
		switch {
		case errors.Is(err, ledger.ErrDuplicateClaim):
			return Result{}, ErrDuplicateRequest
		case !errors.Is(err, ledger.ErrConflict):
			return Result{}, fmt.Errorf("%s commit: %w", op, err)
		}
		e.log.Debug("market commit conflict", "op", op, "attempt", attempt+1)
		if attempt == maxAttempts-1 {
			break
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return Result{}, err
		}
		if retryDelay < maxRetryDelay {
			retryDelay *= 2
		}
	}
	return Result{}, ErrTxConflict
}

func (e *Engine) player(ctx context.Context, id int64) (ledger.Player, error) {
	p, err := e.store.Player(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return ledger.Player{}, ErrPlayerNotFound
	}
	return p, err
}

func (e *Engine) team(ctx context.Context, id int64) (ledger.Team, error) {
	t, err := e.store.Team(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return ledger.Team{}, ErrTeamNotFound
	}
	return t, err
}

func (e *Engine) nextFloat() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rand.Float64()
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
