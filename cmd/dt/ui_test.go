package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	cl "dreamteam/internal/cli"
	"dreamteam/internal/ledger"
	"dreamteam/internal/market"
)

func TestMoney(t *testing.T) {
	tests := map[int64]string{
		0:          "$0",
		999:        "$999",
		1000:       "$1,000",
		5_000_000:  "$5,000,000",
		-1_234_567: "-$1,234,567",
	}
	for in, want := range tests {
		if got := money(in); got != want {
			t.Fatalf("money(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("Ronaldo Silva", 8); got != "Ronal..." {
		t.Fatalf("got %q", got)
	}
	if got := truncate(" short ", 10); got != "short" {
		t.Fatalf("got %q", got)
	}
}

func sampleOffers() []market.Offer {
	return []market.Offer{
		{
			Player: ledger.Player{ID: 3, FirstName: "Ronaldo", LastName: "Silva", Age: 24, Position: ledger.Attacker, MarketValue: 1_000_000, IsOnSale: true, SellingPrice: 500_000},
			Team:   ledger.Team{ID: 1, Name: "Alice FC"},
		},
		{
			Player: ledger.Player{ID: 9, FirstName: "Ada", LastName: "Keeper", Age: 30, Position: ledger.Goalkeeper, MarketValue: 1_100_000, IsOnSale: true, SellingPrice: 10},
			Team:   ledger.Team{ID: 2, Name: "Bob United"},
		},
	}
}

func TestOfferRows(t *testing.T) {
	rows := offerRows(sampleOffers())
	if len(rows) != 2 {
		t.Fatalf("rows %d", len(rows))
	}
	if rows[0][0] != "3" || rows[0][1] != "Ronaldo Silva" || rows[0][6] != "$500,000" {
		t.Fatalf("row %v", rows[0])
	}
	if rows[1][2] != "goalkeeper" {
		t.Fatalf("position %v", rows[1])
	}
}

func TestBrowseModelUpdates(t *testing.T) {
	m := newBrowseModel(context.Background(), nil, cl.Session{AccessToken: "tok"})

	next, _ := m.Update(offersMsg{offers: sampleOffers()})
	m = next.(browseModel)
	if len(m.offers) != 2 || !strings.Contains(m.status, "2 players") {
		t.Fatalf("after offers: %+v", m.status)
	}

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(browseModel)
	if !m.busy || cmd == nil || !strings.Contains(m.status, "Ronaldo Silva") {
		t.Fatalf("enter did not start a purchase: %q", m.status)
	}

	// A second enter while busy is ignored.
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Fatalf("expected no command while busy")
	}

	next, _ = m.Update(boughtMsg{err: errors.New("insufficient money, unable to purchase player")})
	m = next.(browseModel)
	if m.busy || !m.failed || !strings.Contains(m.status, "insufficient money") {
		t.Fatalf("after failed buy: %+v", m)
	}
	if !strings.Contains(m.View(), "Transfer list") {
		t.Fatalf("view missing title")
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatalf("q should quit")
	}
}
