package market

import (
	"github.com/shopspring/decimal"

	"dreamteam/internal/ledger"
)

// The planners are pure: they take records as read and return the batch that
// moves them to the next state. Batches carry the read versions, so a commit
// after a concurrent change fails instead of overwriting it.

func planList(p ledger.Player, team ledger.Team, price int64) (ledger.Batch, Result, error) {
	if p.TeamID != team.ID {
		return ledger.Batch{}, Result{}, ErrNotOwner
	}
	if price < 0 {
		return ledger.Batch{}, Result{}, ErrInvalidPrice
	}
	p.IsOnSale = true
	p.SellingPrice = price

	ev, err := ledger.NewEvent(EventListed, ListingEvent{
		PlayerID:   p.ID,
		PlayerName: p.FullName(),
		TeamID:     p.TeamID,
		Price:      price,
	})
	if err != nil {
		return ledger.Batch{}, Result{}, err
	}
	batch := ledger.Batch{Players: []ledger.Player{p}, Events: []ledger.Event{ev}}
	return batch, Result{Message: saleMessage(p, price), Player: p, Team: team, Price: price}, nil
}

func planCancel(p ledger.Player, team ledger.Team) (ledger.Batch, Result, error) {
	if p.TeamID != team.ID {
		return ledger.Batch{}, Result{}, ErrNotOwner
	}
	if !p.IsOnSale {
		// Already off the list: nothing to write.
		return ledger.Batch{}, Result{Message: cancelMessage(p), Player: p, Team: team}, nil
	}
	price := p.SellingPrice
	p.IsOnSale = false
	p.SellingPrice = 0

	ev, err := ledger.NewEvent(EventUnlisted, ListingEvent{
		PlayerID:   p.ID,
		PlayerName: p.FullName(),
		TeamID:     p.TeamID,
		Price:      price,
	})
	if err != nil {
		return ledger.Batch{}, Result{}, err
	}
	batch := ledger.Batch{Players: []ledger.Player{p}, Events: []ledger.Event{ev}}
	return batch, Result{Message: cancelMessage(p), Player: p, Team: team}, nil
}

func purchasable(p ledger.Player, buyerTeamID int64) error {
	if p.TeamID == buyerTeamID {
		return ErrAlreadyOwned
	}
	if !p.IsOnSale {
		return ErrNotForSale
	}
	return nil
}

func planPurchase(p ledger.Player, buyer, seller ledger.Team, increment decimal.Decimal, claim *ledger.Claim) (ledger.Batch, Result, error) {
	if err := purchasable(p, buyer.ID); err != nil {
		return ledger.Batch{}, Result{}, err
	}
	if seller.ID != p.TeamID {
		return ledger.Batch{}, Result{}, ErrTeamNotFound
	}
	price := p.SellingPrice
	if buyer.CashAvailable < price {
		return ledger.Batch{}, Result{}, ErrInsufficientFunds
	}

	oldValue := p.MarketValue
	p.MarketValue = Revalue(p.MarketValue, increment)
	p.IsOnSale = false
	p.SellingPrice = 0
	seller.CashAvailable += price
	p.TeamID = buyer.ID
	buyer.CashAvailable -= price

	ev, err := ledger.NewEvent(EventPurchased, PurchaseEvent{
		PlayerID:       p.ID,
		PlayerName:     p.FullName(),
		SellerTeamID:   seller.ID,
		BuyerTeamID:    buyer.ID,
		Price:          price,
		OldMarketValue: oldValue,
		NewMarketValue: p.MarketValue,
	})
	if err != nil {
		return ledger.Batch{}, Result{}, err
	}
	batch := ledger.Batch{
		Teams:   []ledger.Team{seller, buyer},
		Players: []ledger.Player{p},
		Events:  []ledger.Event{ev},
		Claim:   claim,
	}
	return batch, Result{Message: purchaseMessage(p, price), Player: p, Team: buyer, Price: price}, nil
}
