package market

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"dreamteam/internal/ledger"
)

const (
	EventListed    = "player.listed"
	EventUnlisted  = "player.unlisted"
	EventPurchased = "player.purchased"
)

var (
	ErrPlayerNotFound    = errors.New("player not found")
	ErrTeamNotFound      = errors.New("team not found")
	ErrInvalidPrice      = errors.New("invalid price")
	ErrInsufficientFunds = errors.New("insufficient money, unable to purchase player")
	ErrNotForSale        = errors.New("player is not on sale")
	ErrAlreadyOwned      = errors.New("player already belongs to your team")
	ErrNotOwner          = errors.New("player does not belong to your team")
	ErrTxConflict        = errors.New("transaction conflict, retry")
	ErrDuplicateRequest  = errors.New("duplicate request")
)

// Result is the outcome of one market transition. Team is the acting team
// as of the transition: the owner for list and cancel, the buyer after a
// purchase.
type Result struct {
	Message string        `json:"message"`
	Player  ledger.Player `json:"player"`
	Team    ledger.Team   `json:"team"`
	Price   int64         `json:"price"`
}

type Offer struct {
	Player ledger.Player `json:"player"`
	Team   ledger.Team   `json:"team"`
}

// ListingEvent is the payload of player.listed and player.unlisted.
type ListingEvent struct {
	PlayerID   int64  `json:"player_id"`
	PlayerName string `json:"player_name"`
	TeamID     int64  `json:"team_id"`
	Price      int64  `json:"price"`
}

type PurchaseEvent struct {
	PlayerID       int64  `json:"player_id"`
	PlayerName     string `json:"player_name"`
	SellerTeamID   int64  `json:"seller_team_id"`
	BuyerTeamID    int64  `json:"buyer_team_id"`
	Price          int64  `json:"price"`
	OldMarketValue int64  `json:"old_market_value"`
	NewMarketValue int64  `json:"new_market_value"`
}

// ParsePrice turns a form value into a price. Only plain non-negative
// integers are accepted.
func ParsePrice(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, ErrInvalidPrice
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPrice, raw)
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidPrice, raw)
	}
	return v, nil
}

var maxValue = decimal.NewFromInt(math.MaxInt64)

// Increment maps a uniform sample in [0,1) to the revaluation factor:
// u = 0.10 + 0.90*sample rounded to two places, factor = 1 + u.
func Increment(sample float64) decimal.Decimal {
	u := decimal.NewFromFloat(0.10 + 0.90*sample).Round(2)
	return decimal.NewFromInt(1).Add(u)
}

// Revalue returns floor(value * increment), saturating at MaxInt64.
func Revalue(value int64, increment decimal.Decimal) int64 {
	next := decimal.NewFromInt(value).Mul(increment).Floor()
	if next.GreaterThan(maxValue) {
		return math.MaxInt64
	}
	return next.IntPart()
}

func saleMessage(p ledger.Player, price int64) string {
	return fmt.Sprintf("%s is put on sale for $%d.", p.FullName(), price)
}

func cancelMessage(p ledger.Player) string {
	return fmt.Sprintf("Removed %s from transfer list.", p.FullName())
}

func purchaseMessage(p ledger.Player, price int64) string {
	return fmt.Sprintf("Purchased %s for $%d!", p.FullName(), price)
}
