package ledger_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"dreamteam/internal/ledger"
	"dreamteam/internal/ledger/ledgertest"
)

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("DREAMTEAM_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("DREAMTEAM_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	ledgertest.Run(t, func(t *testing.T) ledger.Store {
		s := ledger.NewPostgres(pool)
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		_, err := pool.Exec(ctx, `
			TRUNCATE game.players, game.teams, game.users, game.outbox, game.idempotency_keys
			RESTART IDENTITY CASCADE
		`)
		if err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return noClose{s}
	})
}

// noClose keeps the shared pool open across subtests.
type noClose struct {
	*ledger.Postgres
}

func (noClose) Close() error { return nil }
