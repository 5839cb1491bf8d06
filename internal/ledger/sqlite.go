package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	email         TEXT NOT NULL UNIQUE,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	signup_date   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS teams (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id        INTEGER NOT NULL UNIQUE REFERENCES users (id),
	name           TEXT NOT NULL UNIQUE,
	country        TEXT NOT NULL,
	cash_available INTEGER NOT NULL CHECK (cash_available >= 0),
	version        INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS players (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	team_id       INTEGER NOT NULL REFERENCES teams (id),
	first_name    TEXT NOT NULL,
	last_name     TEXT NOT NULL,
	country       TEXT NOT NULL,
	age           INTEGER NOT NULL,
	position      TEXT NOT NULL,
	market_value  INTEGER NOT NULL CHECK (market_value > 0),
	is_on_sale    INTEGER NOT NULL DEFAULT 0,
	selling_price INTEGER NOT NULL DEFAULT 0 CHECK (selling_price >= 0),
	version       INTEGER NOT NULL DEFAULT 1,
	CHECK (is_on_sale = 1 OR selling_price = 0)
);
CREATE INDEX IF NOT EXISTS players_team_idx ON players (team_id);
CREATE TABLE IF NOT EXISTS outbox (
	id         TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	payload    BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	sent_at    INTEGER
);
CREATE TABLE IF NOT EXISTS idempotency_keys (
	user_id    INTEGER NOT NULL,
	key        TEXT NOT NULL,
	action     TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (user_id, key)
);
`

// SQLite is a single-file Store for local play. All access goes through one
// connection, so a transaction never interleaves with another writer.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) CreateUser(ctx context.Context, u User) (User, error) {
	if u.SignupDate.IsZero() {
		u.SignupDate = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (email, username, password_hash, signup_date) VALUES (?, ?, ?, ?)",
		u.Email, u.Username, u.PasswordHash, u.SignupDate.UnixMilli(),
	)
	if err != nil {
		return User{}, mapSQLiteError(err)
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return User{}, err
	}
	u.SignupDate = time.UnixMilli(u.SignupDate.UnixMilli()).UTC()
	return u, nil
}

func (s *SQLite) User(ctx context.Context, id int64) (User, error) {
	return s.userWhere(ctx, "id = ?", id)
}

func (s *SQLite) UserByEmail(ctx context.Context, email string) (User, error) {
	return s.userWhere(ctx, "email = ?", email)
}

func (s *SQLite) UserByUsername(ctx context.Context, username string) (User, error) {
	return s.userWhere(ctx, "username = ?", username)
}

func (s *SQLite) userWhere(ctx context.Context, cond string, arg any) (User, error) {
	var u User
	var signup int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, username, password_hash, signup_date FROM users WHERE "+cond, arg,
	).Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &signup)
	if err != nil {
		return User{}, mapSQLiteError(err)
	}
	u.SignupDate = time.UnixMilli(signup).UTC()
	return u, nil
}

func (s *SQLite) Usernames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT username FROM users ORDER BY id")
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

func (s *SQLite) CreateTeam(ctx context.Context, t Team, roster []Player) (Team, error) {
	if err := t.Check(); err != nil {
		return Team{}, err
	}
	for _, p := range roster {
		if err := p.Check(); err != nil {
			return Team{}, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Team{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO teams (user_id, name, country, cash_available) VALUES (?, ?, ?, ?)",
		t.UserID, t.Name, t.Country, t.CashAvailable,
	)
	if err != nil {
		return Team{}, mapSQLiteError(err)
	}
	if t.ID, err = res.LastInsertId(); err != nil {
		return Team{}, err
	}
	t.Version = 1

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO players (team_id, first_name, last_name, country, age, position, market_value, is_on_sale, selling_price)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return Team{}, err
	}
	defer stmt.Close()
	for _, p := range roster {
		if _, err := stmt.ExecContext(ctx, t.ID, p.FirstName, p.LastName, p.Country, p.Age, string(p.Position), p.MarketValue, p.IsOnSale, p.SellingPrice); err != nil {
			return Team{}, mapSQLiteError(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Team{}, mapSQLiteError(err)
	}
	return t, nil
}

func (s *SQLite) Team(ctx context.Context, id int64) (Team, error) {
	return s.teamWhere(ctx, "id = ?", id)
}

func (s *SQLite) TeamByUser(ctx context.Context, userID int64) (Team, error) {
	return s.teamWhere(ctx, "user_id = ?", userID)
}

func (s *SQLite) teamWhere(ctx context.Context, cond string, arg any) (Team, error) {
	var t Team
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, name, country, cash_available, version FROM teams WHERE "+cond, arg,
	).Scan(&t.ID, &t.UserID, &t.Name, &t.Country, &t.CashAvailable, &t.Version)
	if err != nil {
		return Team{}, mapSQLiteError(err)
	}
	return t, nil
}

func (s *SQLite) Player(ctx context.Context, id int64) (Player, error) {
	p, err := scanSQLPlayer(s.db.QueryRowContext(ctx, "SELECT "+playerColumns+" FROM players WHERE id = ?", id))
	if err != nil {
		return Player{}, mapSQLiteError(err)
	}
	return p, nil
}

func (s *SQLite) PlayersByTeam(ctx context.Context, teamID int64) ([]Player, error) {
	return s.queryPlayers(ctx, "SELECT "+playerColumns+" FROM players WHERE team_id = ? ORDER BY id", teamID)
}

func (s *SQLite) PlayersOnSale(ctx context.Context) ([]Player, error) {
	return s.queryPlayers(ctx, "SELECT "+playerColumns+" FROM players WHERE is_on_sale = 1 ORDER BY id")
}

func (s *SQLite) queryPlayers(ctx context.Context, query string, args ...any) ([]Player, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Player
	for rows.Next() {
		p, err := scanSQLPlayer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLPlayer(row rowScanner) (Player, error) {
	var p Player
	var position string
	err := row.Scan(&p.ID, &p.TeamID, &p.FirstName, &p.LastName, &p.Country, &p.Age, &position, &p.MarketValue, &p.IsOnSale, &p.SellingPrice, &p.Version)
	p.Position = Position(position)
	return p, err
}

func (s *SQLite) Commit(ctx context.Context, b Batch) error {
	if err := b.check(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if b.Claim != nil {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO idempotency_keys (user_id, key, action, created_at) VALUES (?, ?, ?, ?) ON CONFLICT (user_id, key) DO NOTHING",
			b.Claim.UserID, b.Claim.Key, b.Claim.Action, now.UnixMilli(),
		)
		if err != nil {
			return mapSQLiteError(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrDuplicateClaim
		}
	}

	for _, t := range b.Teams {
		res, err := tx.ExecContext(ctx,
			"UPDATE teams SET name = ?, country = ?, cash_available = ?, version = version + 1 WHERE id = ? AND version = ?",
			t.Name, t.Country, t.CashAvailable, t.ID, t.Version,
		)
		if err != nil {
			return mapSQLiteError(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sqliteMissingOrStale(ctx, tx, "teams", "team", t.ID)
		}
	}

	for _, p := range b.Players {
		res, err := tx.ExecContext(ctx, `
			UPDATE players
			SET team_id = ?, first_name = ?, last_name = ?, country = ?, age = ?, position = ?,
			    market_value = ?, is_on_sale = ?, selling_price = ?, version = version + 1
			WHERE id = ? AND version = ?`,
			p.TeamID, p.FirstName, p.LastName, p.Country, p.Age, string(p.Position),
			p.MarketValue, p.IsOnSale, p.SellingPrice, p.ID, p.Version,
		)
		if err != nil {
			return mapSQLiteError(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sqliteMissingOrStale(ctx, tx, "players", "player", p.ID)
		}
	}

	for _, ev := range b.Events {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO outbox (id, event_type, payload, created_at) VALUES (?, ?, ?, ?)",
			ev.ID.String(), ev.Type, []byte(ev.Payload), ev.CreatedAt.UnixNano(),
		); err != nil {
			return mapSQLiteError(err)
		}
	}

	return mapSQLiteError(tx.Commit())
}

func sqliteMissingOrStale(ctx context.Context, tx *sql.Tx, table, kind string, id int64) error {
	var exists bool
	if err := tx.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM "+table+" WHERE id = ?)", id).Scan(&exists); err != nil {
		return mapSQLiteError(err)
	}
	if !exists {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return fmt.Errorf("%s %d: %w", kind, id, ErrConflict)
}

func (s *SQLite) PendingEvents(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, event_type, payload, created_at FROM outbox WHERE sent_at IS NULL ORDER BY created_at, id LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			rawID   string
			payload []byte
			created int64
			ev      Event
		)
		if err := rows.Scan(&rawID, &ev.Type, &payload, &created); err != nil {
			return nil, err
		}
		if ev.ID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("outbox id %q: %w", rawID, err)
		}
		ev.Payload = payload
		ev.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLite) MarkEventsSent(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := time.Now().UTC().UnixNano()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "UPDATE outbox SET sent_at = ? WHERE id = ? AND sent_at IS NULL", now, id.String()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func mapSQLiteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %s", ErrDuplicate, msg)
	case strings.Contains(msg, "CHECK constraint failed"):
		return fmt.Errorf("%w: %s", ErrConstraint, msg)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case strings.Contains(msg, "database is locked"):
		return fmt.Errorf("%w: %s", ErrConflict, msg)
	}
	return err
}
