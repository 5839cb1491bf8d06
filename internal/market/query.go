package market

import (
	"context"
	"fmt"
)

// Offers returns every listed player with its owning team, ordered by player
// id. Both are read fresh on each call.
func (e *Engine) Offers(ctx context.Context) ([]Offer, error) {
	players, err := e.store.PlayersOnSale(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Offer, 0, len(players))
	for _, p := range players {
		t, err := e.team(ctx, p.TeamID)
		if err != nil {
			return nil, fmt.Errorf("owner of player %d: %w", p.ID, err)
		}
		out = append(out, Offer{Player: p, Team: t})
	}
	return out, nil
}
