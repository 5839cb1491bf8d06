package game

import "dreamteam/internal/ledger"

type HomeView struct {
	User      ledger.User     `json:"user"`
	Team      *ledger.Team    `json:"team,omitempty"`
	Players   []ledger.Player `json:"players"`
	TeamValue int64           `json:"team_value"`
	Countries []string        `json:"countries"`
}

type CreateTeamInput struct {
	UserID  int64
	Name    string
	Country string
}

type EditTeamInput struct {
	UserID  int64
	Name    string
	Country string
}

type EditPlayerInput struct {
	UserID    int64
	PlayerID  int64
	FirstName string
	LastName  string
	Country   string
}
