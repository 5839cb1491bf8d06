// Package ledgertest holds the behaviour every ledger.Store must share.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	"dreamteam/internal/ledger"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) ledger.Store

// Run exercises a store implementation against the shared contract.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, s ledger.Store)
	}{
		{"users", testUsers},
		{"create team", testCreateTeam},
		{"commit applies all writes", testCommitApplies},
		{"stale version conflicts", testStaleVersion},
		{"failed commit writes nothing", testAtomicity},
		{"constraint violation rejected", testConstraint},
		{"duplicate team name", testDuplicateName},
		{"idempotency claim", testClaim},
		{"outbox", testOutbox},
		{"concurrent commits", testConcurrentCommits},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

// Roster returns n unlisted players cycling through every position.
func Roster(n int) []ledger.Player {
	positions := []ledger.Position{ledger.Goalkeeper, ledger.Defender, ledger.Midfielder, ledger.Attacker}
	out := make([]ledger.Player, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ledger.Player{
			FirstName:   fmt.Sprintf("First%d", i),
			LastName:    fmt.Sprintf("Last%d", i),
			Country:     "Portugal",
			Age:         18 + i,
			Position:    positions[i%len(positions)],
			MarketValue: 1_000_000,
		})
	}
	return out
}

// Seed creates a user and a team with the given cash and roster size.
func Seed(t *testing.T, s ledger.Store, name string, cash int64, players int) (ledger.Team, []ledger.Player) {
	t.Helper()
	ctx := context.Background()
	u, err := s.CreateUser(ctx, ledger.User{
		Email:        name + "@example.com",
		Username:     name,
		PasswordHash: "hash",
	})
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	team, err := s.CreateTeam(ctx, ledger.Team{
		UserID:        u.ID,
		Name:          name + " FC",
		Country:       "Portugal",
		CashAvailable: cash,
	}, Roster(players))
	if err != nil {
		t.Fatalf("create team %s: %v", name, err)
	}
	roster, err := s.PlayersByTeam(ctx, team.ID)
	if err != nil {
		t.Fatalf("players of %s: %v", name, err)
	}
	if len(roster) != players {
		t.Fatalf("team %s has %d players, want %d", name, len(roster), players)
	}
	return team, roster
}

func testUsers(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	u, err := s.CreateUser(ctx, ledger.User{Email: "a@example.com", Username: "alice", PasswordHash: "h"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.ID == 0 || u.SignupDate.IsZero() {
		t.Fatalf("user not populated: %+v", u)
	}
	if _, err := s.CreateUser(ctx, ledger.User{Email: "a@example.com", Username: "other", PasswordHash: "h"}); !errors.Is(err, ledger.ErrDuplicate) {
		t.Fatalf("duplicate email: got %v", err)
	}
	if _, err := s.CreateUser(ctx, ledger.User{Email: "b@example.com", Username: "alice", PasswordHash: "h"}); !errors.Is(err, ledger.ErrDuplicate) {
		t.Fatalf("duplicate username: got %v", err)
	}
	if _, err := s.CreateUser(ctx, ledger.User{Email: "b@example.com", Username: "bob", PasswordHash: "h"}); err != nil {
		t.Fatalf("create bob: %v", err)
	}

	byEmail, err := s.UserByEmail(ctx, "a@example.com")
	if err != nil || byEmail.ID != u.ID {
		t.Fatalf("by email: %+v %v", byEmail, err)
	}
	byName, err := s.UserByUsername(ctx, "alice")
	if err != nil || byName.ID != u.ID {
		t.Fatalf("by username: %+v %v", byName, err)
	}
	byID, err := s.User(ctx, u.ID)
	if err != nil || byID.Username != "alice" {
		t.Fatalf("by id: %+v %v", byID, err)
	}
	if _, err := s.UserByUsername(ctx, "nobody"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("missing user: got %v", err)
	}

	names, err := s.Usernames(ctx)
	if err != nil {
		t.Fatalf("usernames: %v", err)
	}
	if len(names) != 2 || names[0] != "alice" || names[1] != "bob" {
		t.Fatalf("usernames = %v", names)
	}
}

func testCreateTeam(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	team, roster := Seed(t, s, "alpha", 5_000_000, 4)
	if team.Version == 0 {
		t.Fatalf("team version not set")
	}
	for _, p := range roster {
		if p.TeamID != team.ID || p.IsOnSale || p.SellingPrice != 0 || p.Version == 0 {
			t.Fatalf("bad seeded player %+v", p)
		}
	}

	got, err := s.TeamByUser(ctx, team.UserID)
	if err != nil || got.ID != team.ID || got.CashAvailable != 5_000_000 {
		t.Fatalf("team by user: %+v %v", got, err)
	}
	if _, err := s.Team(ctx, team.ID+1000); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("missing team: got %v", err)
	}
	if _, err := s.Player(ctx, roster[len(roster)-1].ID+1000); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("missing player: got %v", err)
	}

	// A second team for the same user is rejected.
	_, err = s.CreateTeam(ctx, ledger.Team{UserID: team.UserID, Name: "Other", Country: "Spain", CashAvailable: 1}, Roster(1))
	if !errors.Is(err, ledger.ErrDuplicate) {
		t.Fatalf("second team: got %v", err)
	}

	u, err := s.CreateUser(ctx, ledger.User{Email: "b@example.com", Username: "beta", PasswordHash: "h"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	_, err = s.CreateTeam(ctx, ledger.Team{UserID: u.ID, Name: team.Name, Country: "Spain", CashAvailable: 1}, Roster(1))
	if !errors.Is(err, ledger.ErrDuplicate) {
		t.Fatalf("taken name: got %v", err)
	}
	if _, err := s.TeamByUser(ctx, u.ID); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("failed create left a team behind: %v", err)
	}
}

func testCommitApplies(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	seller, sellerRoster := Seed(t, s, "seller", 5_000_000, 2)
	buyer, _ := Seed(t, s, "buyer", 5_000_000, 1)

	p := sellerRoster[0]
	p.IsOnSale = true
	p.SellingPrice = 750_000
	if err := s.Commit(ctx, ledger.Batch{Players: []ledger.Player{p}}); err != nil {
		t.Fatalf("list: %v", err)
	}
	onSale, err := s.PlayersOnSale(ctx)
	if err != nil {
		t.Fatalf("on sale: %v", err)
	}
	if len(onSale) != 1 || onSale[0].ID != p.ID || onSale[0].SellingPrice != 750_000 {
		t.Fatalf("on sale = %+v", onSale)
	}

	p = onSale[0]
	seller.CashAvailable += p.SellingPrice
	buyer.CashAvailable -= p.SellingPrice
	p.TeamID = buyer.ID
	p.IsOnSale = false
	p.SellingPrice = 0
	p.MarketValue = 1_500_000
	err = s.Commit(ctx, ledger.Batch{
		Teams:   []ledger.Team{seller, buyer},
		Players: []ledger.Player{p},
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	gotSeller, _ := s.Team(ctx, seller.ID)
	gotBuyer, _ := s.Team(ctx, buyer.ID)
	if gotSeller.CashAvailable != 5_750_000 || gotBuyer.CashAvailable != 4_250_000 {
		t.Fatalf("cash seller=%d buyer=%d", gotSeller.CashAvailable, gotBuyer.CashAvailable)
	}
	if gotSeller.Version != seller.Version+1 || gotBuyer.Version != buyer.Version+1 {
		t.Fatalf("team versions not bumped")
	}
	gotPlayer, _ := s.Player(ctx, p.ID)
	if gotPlayer.TeamID != buyer.ID || gotPlayer.IsOnSale || gotPlayer.MarketValue != 1_500_000 {
		t.Fatalf("player after transfer %+v", gotPlayer)
	}
	buyerRoster, _ := s.PlayersByTeam(ctx, buyer.ID)
	if len(buyerRoster) != 2 {
		t.Fatalf("buyer roster size %d", len(buyerRoster))
	}
	if onSale, _ := s.PlayersOnSale(ctx); len(onSale) != 0 {
		t.Fatalf("still on sale: %+v", onSale)
	}
}

func testStaleVersion(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	_, roster := Seed(t, s, "stale", 1_000, 1)
	p := roster[0]

	first := p
	first.IsOnSale = true
	first.SellingPrice = 10
	if err := s.Commit(ctx, ledger.Batch{Players: []ledger.Player{first}}); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	second := p
	second.IsOnSale = true
	second.SellingPrice = 20
	if err := s.Commit(ctx, ledger.Batch{Players: []ledger.Player{second}}); !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("stale commit: got %v", err)
	}
	got, _ := s.Player(ctx, p.ID)
	if got.SellingPrice != 10 {
		t.Fatalf("stale write leaked: %+v", got)
	}

	missing := p
	missing.ID += 1000
	if err := s.Commit(ctx, ledger.Batch{Players: []ledger.Player{missing}}); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("missing player: got %v", err)
	}
}

func testAtomicity(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	team, roster := Seed(t, s, "atomic", 100, 2)

	ok := roster[0]
	ok.IsOnSale = true
	ok.SellingPrice = 5
	stale := roster[1]
	stale.Version += 7
	rich := team
	rich.CashAvailable = 1_000_000
	ev, err := ledger.NewEvent("player.listed", map[string]int64{"player_id": ok.ID})
	if err != nil {
		t.Fatalf("event: %v", err)
	}

	err = s.Commit(ctx, ledger.Batch{
		Teams:   []ledger.Team{rich},
		Players: []ledger.Player{ok, stale},
		Events:  []ledger.Event{ev},
		Claim:   &ledger.Claim{UserID: team.UserID, Key: "k1", Action: "test"},
	})
	if !errors.Is(err, ledger.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	gotTeam, _ := s.Team(ctx, team.ID)
	gotPlayer, _ := s.Player(ctx, ok.ID)
	if gotTeam.CashAvailable != 100 || gotTeam.Version != team.Version {
		t.Fatalf("team changed: %+v", gotTeam)
	}
	if gotPlayer.IsOnSale || gotPlayer.Version != roster[0].Version {
		t.Fatalf("player changed: %+v", gotPlayer)
	}
	pending, _ := s.PendingEvents(ctx, 10)
	if len(pending) != 0 {
		t.Fatalf("event leaked: %+v", pending)
	}
	// The claim was rolled back with everything else.
	if err := s.Commit(ctx, ledger.Batch{Claim: &ledger.Claim{UserID: team.UserID, Key: "k1", Action: "test"}}); err != nil {
		t.Fatalf("claim after rollback: %v", err)
	}
}

func testConstraint(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	team, roster := Seed(t, s, "strict", 100, 1)

	broke := team
	broke.CashAvailable = -1
	if err := s.Commit(ctx, ledger.Batch{Teams: []ledger.Team{broke}}); !errors.Is(err, ledger.ErrConstraint) {
		t.Fatalf("negative cash: got %v", err)
	}

	priced := roster[0]
	priced.SellingPrice = 10
	if err := s.Commit(ctx, ledger.Batch{Players: []ledger.Player{priced}}); !errors.Is(err, ledger.ErrConstraint) {
		t.Fatalf("price while unlisted: got %v", err)
	}

	twice := roster[0]
	if err := s.Commit(ctx, ledger.Batch{Players: []ledger.Player{twice, twice}}); !errors.Is(err, ledger.ErrConstraint) {
		t.Fatalf("player twice: got %v", err)
	}

	got, _ := s.Team(ctx, team.ID)
	if got.CashAvailable != 100 {
		t.Fatalf("cash changed to %d", got.CashAvailable)
	}
}

func testDuplicateName(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	a, _ := Seed(t, s, "first", 1, 1)
	b, _ := Seed(t, s, "second", 1, 1)

	b.Name = a.Name
	if err := s.Commit(ctx, ledger.Batch{Teams: []ledger.Team{b}}); !errors.Is(err, ledger.ErrDuplicate) {
		t.Fatalf("rename onto taken name: got %v", err)
	}
	b.Name = "Brand New"
	if err := s.Commit(ctx, ledger.Batch{Teams: []ledger.Team{b}}); err != nil {
		t.Fatalf("rename: %v", err)
	}
	got, _ := s.Team(ctx, b.ID)
	if got.Name != "Brand New" {
		t.Fatalf("name = %q", got.Name)
	}
}

func testClaim(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	team, _ := Seed(t, s, "claimer", 1, 1)
	claim := &ledger.Claim{UserID: team.UserID, Key: uuid.NewString(), Action: "market.purchase"}
	if err := s.Commit(ctx, ledger.Batch{Claim: claim}); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := s.Commit(ctx, ledger.Batch{Claim: claim}); !errors.Is(err, ledger.ErrDuplicateClaim) {
		t.Fatalf("second claim: got %v", err)
	}
	other := &ledger.Claim{UserID: team.UserID + 1000, Key: claim.Key, Action: "market.purchase"}
	if err := s.Commit(ctx, ledger.Batch{Claim: other}); err != nil {
		t.Fatalf("same key other user: %v", err)
	}
}

func testOutbox(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		ev, err := ledger.NewEvent("player.listed", map[string]int{"n": i})
		if err != nil {
			t.Fatalf("event: %v", err)
		}
		ids = append(ids, ev.ID)
		if err := s.Commit(ctx, ledger.Batch{Events: []ledger.Event{ev}}); err != nil {
			t.Fatalf("commit event: %v", err)
		}
	}

	pending, err := s.PendingEvents(ctx, 2)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if pending[0].Type != "player.listed" || len(pending[0].Payload) == 0 {
		t.Fatalf("bad event %+v", pending[0])
	}

	if err := s.MarkEventsSent(ctx, ids[:2]); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	pending, _ = s.PendingEvents(ctx, 10)
	if len(pending) != 1 || pending[0].ID != ids[2] {
		t.Fatalf("pending after mark = %+v", pending)
	}
	if err := s.MarkEventsSent(ctx, nil); err != nil {
		t.Fatalf("mark none: %v", err)
	}
}

func testConcurrentCommits(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	team, _ := Seed(t, s, "race", 0, 1)

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := team
			next.CashAvailable = int64(i + 1)
			err := s.Commit(ctx, ledger.Batch{Teams: []ledger.Team{next}})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ledger.ErrConflict):
				conflicts++
			default:
				t.Errorf("writer %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 || conflicts != writers-1 {
		t.Fatalf("wins=%d conflicts=%d", wins, conflicts)
	}
	got, _ := s.Team(ctx, team.ID)
	if got.Version != team.Version+1 {
		t.Fatalf("version = %d, want %d", got.Version, team.Version+1)
	}
}
