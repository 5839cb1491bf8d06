package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrConflict       = errors.New("write conflict: record changed since it was read")
	ErrDuplicate      = errors.New("duplicate record")
	ErrDuplicateClaim = errors.New("duplicate idempotency key")
	ErrConstraint     = errors.New("record constraint violated")
)

type Position string

const (
	Goalkeeper Position = "goalkeeper"
	Defender   Position = "defender"
	Midfielder Position = "midfielder"
	Attacker   Position = "attacker"
)

func (p Position) Valid() bool {
	switch p {
	case Goalkeeper, Defender, Midfielder, Attacker:
		return true
	}
	return false
}

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	SignupDate   time.Time `json:"signup_date"`
}

type Team struct {
	ID            int64  `json:"id"`
	UserID        int64  `json:"user_id"`
	Name          string `json:"name"`
	Country       string `json:"country"`
	CashAvailable int64  `json:"cash_available"`
	Version       int64  `json:"-"`
}

type Player struct {
	ID           int64    `json:"id"`
	TeamID       int64    `json:"team_id"`
	FirstName    string   `json:"first_name"`
	LastName     string   `json:"last_name"`
	Country      string   `json:"country"`
	Age          int      `json:"age"`
	Position     Position `json:"position"`
	MarketValue  int64    `json:"market_value"`
	IsOnSale     bool     `json:"is_on_sale"`
	SellingPrice int64    `json:"selling_price"`
	Version      int64    `json:"-"`
}

func (p Player) FullName() string {
	return p.FirstName + " " + p.LastName
}

// Check reports whether the team satisfies the stored-record invariants.
func (t Team) Check() error {
	if t.CashAvailable < 0 {
		return fmt.Errorf("%w: team %d cash %d below zero", ErrConstraint, t.ID, t.CashAvailable)
	}
	return nil
}

// Check reports whether the player satisfies the stored-record invariants.
func (p Player) Check() error {
	switch {
	case p.SellingPrice < 0:
		return fmt.Errorf("%w: player %d selling price %d below zero", ErrConstraint, p.ID, p.SellingPrice)
	case !p.IsOnSale && p.SellingPrice != 0:
		return fmt.Errorf("%w: player %d not on sale but priced at %d", ErrConstraint, p.ID, p.SellingPrice)
	case p.MarketValue <= 0:
		return fmt.Errorf("%w: player %d market value %d not positive", ErrConstraint, p.ID, p.MarketValue)
	case !p.Position.Valid():
		return fmt.Errorf("%w: player %d position %q", ErrConstraint, p.ID, p.Position)
	}
	return nil
}

type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewEvent marshals payload into an outbox event with a fresh id.
func NewEvent(eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

type Claim struct {
	UserID int64
	Key    string
	Action string
}

// Batch is one atomic unit of writes. Every team and player carries the
// Version it was read at; Commit stores Version+1 or fails with ErrConflict.
type Batch struct {
	Teams   []Team
	Players []Player
	Events  []Event
	Claim   *Claim
}

func (b Batch) Empty() bool {
	return len(b.Teams) == 0 && len(b.Players) == 0 && len(b.Events) == 0 && b.Claim == nil
}

func (b Batch) check() error {
	seenTeams := make(map[int64]bool, len(b.Teams))
	for _, t := range b.Teams {
		if seenTeams[t.ID] {
			return fmt.Errorf("%w: team %d written twice in one batch", ErrConstraint, t.ID)
		}
		seenTeams[t.ID] = true
		if err := t.Check(); err != nil {
			return err
		}
	}
	seenPlayers := make(map[int64]bool, len(b.Players))
	for _, p := range b.Players {
		if seenPlayers[p.ID] {
			return fmt.Errorf("%w: player %d written twice in one batch", ErrConstraint, p.ID)
		}
		seenPlayers[p.ID] = true
		if err := p.Check(); err != nil {
			return err
		}
	}
	return nil
}
