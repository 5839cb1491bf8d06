package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotifyChannel is the LISTEN/NOTIFY channel that carries new outbox event ids.
const NotifyChannel = "market_outbox"

//go:embed schema/postgres.sql
var postgresSchema string

const playerColumns = `id, team_id, first_name, last_name, country, age, position, market_value, is_on_sale, selling_price, version`

type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{db: pool}
}

// Migrate applies the idempotent schema.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Postgres) Close() error {
	s.db.Close()
	return nil
}

func (s *Postgres) CreateUser(ctx context.Context, u User) (User, error) {
	err := s.db.QueryRow(ctx, `
		INSERT INTO game.users (email, username, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, signup_date
	`, u.Email, u.Username, u.PasswordHash).Scan(&u.ID, &u.SignupDate)
	if err != nil {
		return User{}, mapPgError(err)
	}
	return u, nil
}

func (s *Postgres) User(ctx context.Context, id int64) (User, error) {
	return s.userWhere(ctx, "id = $1", id)
}

func (s *Postgres) UserByEmail(ctx context.Context, email string) (User, error) {
	return s.userWhere(ctx, "email = $1", email)
}

func (s *Postgres) UserByUsername(ctx context.Context, username string) (User, error) {
	return s.userWhere(ctx, "username = $1", username)
}

func (s *Postgres) userWhere(ctx context.Context, cond string, arg any) (User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		SELECT id, email, username, password_hash, signup_date
		FROM game.users
		WHERE `+cond, arg).Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.SignupDate)
	if err != nil {
		return User{}, mapPgError(err)
	}
	return u, nil
}

func (s *Postgres) Usernames(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT username FROM game.users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Postgres) CreateTeam(ctx context.Context, t Team, roster []Player) (Team, error) {
	if err := t.Check(); err != nil {
		return Team{}, err
	}
	for _, p := range roster {
		if err := p.Check(); err != nil {
			return Team{}, err
		}
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Team{}, err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO game.teams (user_id, name, country, cash_available)
		VALUES ($1, $2, $3, $4)
		RETURNING id, version
	`, t.UserID, t.Name, t.Country, t.CashAvailable).Scan(&t.ID, &t.Version)
	if err != nil {
		return Team{}, mapPgError(err)
	}

	rows := make([][]any, 0, len(roster))
	for _, p := range roster {
		rows = append(rows, []any{t.ID, p.FirstName, p.LastName, p.Country, p.Age, string(p.Position), p.MarketValue, p.IsOnSale, p.SellingPrice})
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"game", "players"},
		[]string{"team_id", "first_name", "last_name", "country", "age", "position", "market_value", "is_on_sale", "selling_price"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return Team{}, mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Team{}, mapPgError(err)
	}
	return t, nil
}

func (s *Postgres) Team(ctx context.Context, id int64) (Team, error) {
	return s.teamWhere(ctx, "id = $1", id)
}

func (s *Postgres) TeamByUser(ctx context.Context, userID int64) (Team, error) {
	return s.teamWhere(ctx, "user_id = $1", userID)
}

func (s *Postgres) teamWhere(ctx context.Context, cond string, arg any) (Team, error) {
	var t Team
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, name, country, cash_available, version
		FROM game.teams
		WHERE `+cond, arg).Scan(&t.ID, &t.UserID, &t.Name, &t.Country, &t.CashAvailable, &t.Version)
	if err != nil {
		return Team{}, mapPgError(err)
	}
	return t, nil
}

func (s *Postgres) Player(ctx context.Context, id int64) (Player, error) {
	p, err := scanPlayer(s.db.QueryRow(ctx, `SELECT `+playerColumns+` FROM game.players WHERE id = $1`, id))
	if err != nil {
		return Player{}, mapPgError(err)
	}
	return p, nil
}

func (s *Postgres) PlayersByTeam(ctx context.Context, teamID int64) ([]Player, error) {
	return s.queryPlayers(ctx, `SELECT `+playerColumns+` FROM game.players WHERE team_id = $1 ORDER BY id`, teamID)
}

func (s *Postgres) PlayersOnSale(ctx context.Context) ([]Player, error) {
	return s.queryPlayers(ctx, `SELECT `+playerColumns+` FROM game.players WHERE is_on_sale ORDER BY id`)
}

func (s *Postgres) queryPlayers(ctx context.Context, query string, args ...any) ([]Player, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPlayer(row pgx.Row) (Player, error) {
	var p Player
	var position string
	err := row.Scan(&p.ID, &p.TeamID, &p.FirstName, &p.LastName, &p.Country, &p.Age, &position, &p.MarketValue, &p.IsOnSale, &p.SellingPrice, &p.Version)
	p.Position = Position(position)
	return p, err
}

func (s *Postgres) Commit(ctx context.Context, b Batch) error {
	if err := b.check(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if b.Claim != nil {
		cmd, err := tx.Exec(ctx, `
			INSERT INTO game.idempotency_keys (user_id, key, action)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, key) DO NOTHING
		`, b.Claim.UserID, b.Claim.Key, b.Claim.Action)
		if err != nil {
			return mapPgError(err)
		}
		if cmd.RowsAffected() == 0 {
			return ErrDuplicateClaim
		}
	}

	for _, t := range b.Teams {
		cmd, err := tx.Exec(ctx, `
			UPDATE game.teams
			SET name = $1, country = $2, cash_available = $3, version = version + 1
			WHERE id = $4 AND version = $5
		`, t.Name, t.Country, t.CashAvailable, t.ID, t.Version)
		if err != nil {
			return mapPgError(err)
		}
		if cmd.RowsAffected() == 0 {
			return missingOrStale(ctx, tx, "game.teams", "team", t.ID)
		}
	}

	for _, p := range b.Players {
		cmd, err := tx.Exec(ctx, `
			UPDATE game.players
			SET team_id = $1, first_name = $2, last_name = $3, country = $4, age = $5, position = $6,
			    market_value = $7, is_on_sale = $8, selling_price = $9, version = version + 1
			WHERE id = $10 AND version = $11
		`, p.TeamID, p.FirstName, p.LastName, p.Country, p.Age, string(p.Position),
			p.MarketValue, p.IsOnSale, p.SellingPrice, p.ID, p.Version)
		if err != nil {
			return mapPgError(err)
		}
		if cmd.RowsAffected() == 0 {
			return missingOrStale(ctx, tx, "game.players", "player", p.ID)
		}
	}

	for _, ev := range b.Events {
		if _, err := tx.Exec(ctx, `
			INSERT INTO game.outbox (id, event_type, payload, created_at)
			VALUES ($1, $2, $3::jsonb, $4)
		`, ev.ID, ev.Type, string(ev.Payload), ev.CreatedAt); err != nil {
			return mapPgError(err)
		}
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, ev.ID.String()); err != nil {
			return mapPgError(err)
		}
	}

	return mapPgError(tx.Commit(ctx))
}

func missingOrStale(ctx context.Context, tx pgx.Tx, table, kind string, id int64) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, id).Scan(&exists); err != nil {
		return mapPgError(err)
	}
	if !exists {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return fmt.Errorf("%s %d: %w", kind, id, ErrConflict)
}

func (s *Postgres) PendingEvents(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, event_type, payload, created_at
		FROM game.outbox
		WHERE sent_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var ev Event
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.Type, &payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Payload = payload
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Postgres) MarkEventsSent(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	_, err := s.db.Exec(ctx, `
		UPDATE game.outbox
		SET sent_at = now()
		WHERE id = ANY($1::uuid[]) AND sent_at IS NULL
	`, raw)
	return err
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
	case "23505":
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	case "23514":
		return fmt.Errorf("%w: %s", ErrConstraint, pgErr.ConstraintName)
	case "23503":
		return fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
	}
	return err
}
