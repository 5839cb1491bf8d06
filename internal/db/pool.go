package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"dreamteam/internal/ledger"
)

func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

type Kind string

const (
	KindMemory   Kind = "memory"
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgres"
)

// KindOf classifies a DATABASE_URL by scheme.
func KindOf(databaseURL string) (Kind, string, error) {
	u := strings.TrimSpace(databaseURL)
	switch {
	case u == "" || strings.HasPrefix(u, "memory://"):
		return KindMemory, "", nil
	case strings.HasPrefix(u, "sqlite://"):
		path := strings.TrimPrefix(u, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("sqlite url needs a file path")
		}
		return KindSQLite, path, nil
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return KindPostgres, u, nil
	}
	return "", "", fmt.Errorf("unsupported database url scheme: %q", u)
}

// Open connects the store selected by databaseURL and makes sure its schema
// exists.
func Open(ctx context.Context, databaseURL string) (ledger.Store, Kind, error) {
	kind, target, err := KindOf(databaseURL)
	if err != nil {
		return nil, "", err
	}
	switch kind {
	case KindSQLite:
		s, err := ledger.NewSQLite(target)
		if err != nil {
			return nil, "", err
		}
		return s, kind, nil
	case KindPostgres:
		pool, err := Connect(ctx, target)
		if err != nil {
			return nil, "", err
		}
		s := ledger.NewPostgres(pool)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, "", err
		}
		return s, kind, nil
	}
	return ledger.NewMemory(), KindMemory, nil
}
