package ledger

import (
	"context"

	"github.com/google/uuid"
)

type Users interface {
	CreateUser(ctx context.Context, u User) (User, error)
	User(ctx context.Context, id int64) (User, error)
	UserByEmail(ctx context.Context, email string) (User, error)
	UserByUsername(ctx context.Context, username string) (User, error)
	Usernames(ctx context.Context) ([]string, error)
}

type Records interface {
	Team(ctx context.Context, id int64) (Team, error)
	TeamByUser(ctx context.Context, userID int64) (Team, error)
	Player(ctx context.Context, id int64) (Player, error)
	PlayersByTeam(ctx context.Context, teamID int64) ([]Player, error)
	PlayersOnSale(ctx context.Context) ([]Player, error)
	Commit(ctx context.Context, b Batch) error
}

type Outbox interface {
	PendingEvents(ctx context.Context, limit int) ([]Event, error)
	MarkEventsSent(ctx context.Context, ids []uuid.UUID) error
}

// Store is the full persistence surface shared by the API, engine and relay.
type Store interface {
	Users
	Records
	Outbox
	// CreateTeam inserts the team and its roster in one transaction and
	// returns the team with its assigned id.
	CreateTeam(ctx context.Context, t Team, roster []Player) (Team, error)
	Close() error
}
