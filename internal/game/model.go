package game

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"dreamteam/internal/ledger"
)

const (
	StarterCash        = int64(5_000_000)
	DefaultMarketValue = int64(1_000_000)
	RosterSize         = 20

	MinPlayerAge = 18
	MaxPlayerAge = 40

	// AdminUsername is the only account allowed to use the admin lookups.
	AdminUsername = "admin"
)

var (
	ErrNoTeam         = errors.New("you have not created a team yet")
	ErrTeamExists     = errors.New("you already have a team")
	ErrTeamNameTaken  = errors.New("team name is taken")
	ErrNoChanges      = errors.New("no changes were made")
	ErrForbidden      = errors.New("forbidden")
	ErrUserNotFound   = errors.New("user not found")
	ErrUnknownCountry = errors.New("unknown country")
	ErrInvalidName    = errors.New("invalid name")
)

// squadShape is the fixed position layout of a generated squad: 3 GK, 6 DF,
// 6 MF, 5 FW.
var squadShape = []struct {
	position ledger.Position
	count    int
}{
	{ledger.Goalkeeper, 3},
	{ledger.Defender, 6},
	{ledger.Midfielder, 6},
	{ledger.Attacker, 5},
}

var blockedNameFragments = []string{
	"admin",
	"shit",
	"fuck",
	"bitch",
	"nazi",
}

//go:embed roster.yaml
var rosterYAML []byte

type Roster struct {
	FirstNames []string `yaml:"first_names"`
	LastNames  []string `yaml:"last_names"`
	Countries  []string `yaml:"countries"`
}

func ParseRoster(data []byte) (Roster, error) {
	var r Roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Roster{}, fmt.Errorf("parse roster: %w", err)
	}
	switch {
	case len(r.FirstNames) == 0:
		return Roster{}, fmt.Errorf("roster has no first names")
	case len(r.LastNames) == 0:
		return Roster{}, fmt.Errorf("roster has no last names")
	case len(r.Countries) == 0:
		return Roster{}, fmt.Errorf("roster has no countries")
	}
	return r, nil
}

var defaultRoster = sync.OnceValues(func() (Roster, error) {
	return ParseRoster(rosterYAML)
})

// DefaultRoster is the embedded name and country pool.
func DefaultRoster() (Roster, error) {
	return defaultRoster()
}

func (r Roster) HasCountry(country string) bool {
	return slices.Contains(r.Countries, country)
}

func validateName(kind, name string) (string, error) {
	clean := strings.TrimSpace(name)
	if clean == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidName, kind)
	}
	if len(clean) > 64 {
		return "", fmt.Errorf("%w: %s too long (max 64 chars)", ErrInvalidName, kind)
	}
	return clean, nil
}

func validateTeamName(name string) (string, error) {
	clean, err := validateName("team name", name)
	if err != nil {
		return "", err
	}
	lower := strings.ToLower(clean)
	for _, fragment := range blockedNameFragments {
		if strings.Contains(lower, fragment) {
			return "", fmt.Errorf("%w: team name contains blocked content", ErrInvalidName)
		}
	}
	return clean, nil
}

// TeamValue is the sum of the players' market values.
func TeamValue(players []ledger.Player) int64 {
	var total int64
	for _, p := range players {
		total += p.MarketValue
	}
	return total
}
