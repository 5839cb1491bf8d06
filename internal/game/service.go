package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"dreamteam/internal/auth"
	"dreamteam/internal/ledger"
	"dreamteam/internal/market"
)

// Service owns team lifecycle, squad edits and the admin lookups. Transfers
// go through market.Engine.
type Service struct {
	store  ledger.Store
	log    *slog.Logger
	roster Roster
	mu     sync.Mutex
	rand   *mathrand.Rand
}

func NewService(store ledger.Store, logger *slog.Logger) (*Service, error) {
	roster, err := DefaultRoster()
	if err != nil {
		return nil, err
	}
	return NewServiceWithRoster(store, logger, roster, nil), nil
}

func NewServiceWithRoster(store ledger.Store, logger *slog.Logger, roster Roster, src mathrand.Source) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if src == nil {
		src = mathrand.NewSource(time.Now().UnixNano())
	}
	return &Service{
		store:  store,
		log:    logger,
		roster: roster,
		rand:   mathrand.New(src),
	}
}

func (s *Service) Countries() []string {
	return s.roster.Countries
}

func (s *Service) CreateTeam(ctx context.Context, in CreateTeamInput) (ledger.Team, error) {
	name, err := validateTeamName(in.Name)
	if err != nil {
		return ledger.Team{}, err
	}
	country := strings.TrimSpace(in.Country)
	if !s.roster.HasCountry(country) {
		return ledger.Team{}, fmt.Errorf("%w: %q", ErrUnknownCountry, in.Country)
	}
	if _, err := s.store.User(ctx, in.UserID); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.Team{}, ErrUserNotFound
		}
		return ledger.Team{}, err
	}
	switch _, err := s.store.TeamByUser(ctx, in.UserID); {
	case err == nil:
		return ledger.Team{}, ErrTeamExists
	case !errors.Is(err, ledger.ErrNotFound):
		return ledger.Team{}, err
	}

	team, err := s.store.CreateTeam(ctx, ledger.Team{
		UserID:        in.UserID,
		Name:          name,
		Country:       country,
		CashAvailable: StarterCash,
	}, s.generateSquad())
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicate) {
			// Lost a race with another create for this user, or the name is taken.
			if _, terr := s.store.TeamByUser(ctx, in.UserID); terr == nil {
				return ledger.Team{}, ErrTeamExists
			}
			return ledger.Team{}, ErrTeamNameTaken
		}
		return ledger.Team{}, err
	}
	s.log.Info("team created", "team_id", team.ID, "user_id", in.UserID, "name", team.Name)
	return team, nil
}

func (s *Service) generateSquad() []ledger.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Player, 0, RosterSize)
	for _, slot := range squadShape {
		for i := 0; i < slot.count; i++ {
			out = append(out, ledger.Player{
				FirstName:   s.roster.FirstNames[s.rand.Intn(len(s.roster.FirstNames))],
				LastName:    s.roster.LastNames[s.rand.Intn(len(s.roster.LastNames))],
				Country:     s.roster.Countries[s.rand.Intn(len(s.roster.Countries))],
				Age:         MinPlayerAge + s.rand.Intn(MaxPlayerAge-MinPlayerAge+1),
				Position:    slot.position,
				MarketValue: DefaultMarketValue,
			})
		}
	}
	return out
}

// Home is the landing view: the user's team, its squad and total value. A
// user without a team gets a view with Team unset.
func (s *Service) Home(ctx context.Context, userID int64) (HomeView, error) {
	u, err := s.store.User(ctx, userID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return HomeView{}, ErrUserNotFound
		}
		return HomeView{}, err
	}
	view := HomeView{User: u, Players: []ledger.Player{}, Countries: s.roster.Countries}

	team, err := s.store.TeamByUser(ctx, userID)
	if errors.Is(err, ledger.ErrNotFound) {
		return view, nil
	}
	if err != nil {
		return HomeView{}, err
	}
	players, err := s.store.PlayersByTeam(ctx, team.ID)
	if err != nil {
		return HomeView{}, err
	}
	view.Team = &team
	if players != nil {
		view.Players = players
	}
	view.TeamValue = TeamValue(players)
	return view, nil
}

// TeamOf returns the team the user plays with.
func (s *Service) TeamOf(ctx context.Context, userID int64) (ledger.Team, error) {
	team, err := s.store.TeamByUser(ctx, userID)
	if errors.Is(err, ledger.ErrNotFound) {
		return ledger.Team{}, ErrNoTeam
	}
	return team, err
}

func (s *Service) EditTeam(ctx context.Context, in EditTeamInput) (ledger.Team, error) {
	name, err := validateTeamName(in.Name)
	if err != nil {
		return ledger.Team{}, err
	}
	country := strings.TrimSpace(in.Country)
	if !s.roster.HasCountry(country) {
		return ledger.Team{}, fmt.Errorf("%w: %q", ErrUnknownCountry, in.Country)
	}
	team, err := s.TeamOf(ctx, in.UserID)
	if err != nil {
		return ledger.Team{}, err
	}
	if team.Name == name && team.Country == country {
		return ledger.Team{}, ErrNoChanges
	}
	team.Name = name
	team.Country = country
	if err := s.store.Commit(ctx, ledger.Batch{Teams: []ledger.Team{team}}); err != nil {
		if errors.Is(err, ledger.ErrDuplicate) {
			return ledger.Team{}, ErrTeamNameTaken
		}
		return ledger.Team{}, err
	}
	team.Version++
	s.log.Info("team updated", "team_id", team.ID)
	return team, nil
}

// EditPlayer renames a player or changes its country. Only the owning team
// may edit.
func (s *Service) EditPlayer(ctx context.Context, in EditPlayerInput) (ledger.Player, error) {
	first, err := validateName("first name", in.FirstName)
	if err != nil {
		return ledger.Player{}, err
	}
	last, err := validateName("last name", in.LastName)
	if err != nil {
		return ledger.Player{}, err
	}
	country := strings.TrimSpace(in.Country)
	if !s.roster.HasCountry(country) {
		return ledger.Player{}, fmt.Errorf("%w: %q", ErrUnknownCountry, in.Country)
	}
	team, err := s.TeamOf(ctx, in.UserID)
	if err != nil {
		return ledger.Player{}, err
	}
	p, err := s.store.Player(ctx, in.PlayerID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.Player{}, market.ErrPlayerNotFound
		}
		return ledger.Player{}, err
	}
	if p.TeamID != team.ID {
		return ledger.Player{}, market.ErrNotOwner
	}
	if p.FirstName == first && p.LastName == last && p.Country == country {
		return ledger.Player{}, ErrNoChanges
	}
	p.FirstName = first
	p.LastName = last
	p.Country = country
	if err := s.store.Commit(ctx, ledger.Batch{Players: []ledger.Player{p}}); err != nil {
		return ledger.Player{}, err
	}
	p.Version++
	s.log.Info("player updated", "player_id", p.ID, "team_id", team.ID)
	return p, nil
}

func (s *Service) AdminUsers(ctx context.Context, actor ledger.User) ([]string, error) {
	if actor.Username != AdminUsername {
		return nil, ErrForbidden
	}
	names, err := s.store.Usernames(ctx)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// AdminLookup finds a user by email when cred looks like one, otherwise by
// username.
func (s *Service) AdminLookup(ctx context.Context, actor ledger.User, cred string) (ledger.User, error) {
	if actor.Username != AdminUsername {
		return ledger.User{}, ErrForbidden
	}
	cred = strings.TrimSpace(cred)
	var (
		u   ledger.User
		err error
	)
	if auth.IsEmail(cred) {
		u, err = s.store.UserByEmail(ctx, cred)
	} else {
		u, err = s.store.UserByUsername(ctx, cred)
	}
	if errors.Is(err, ledger.ErrNotFound) {
		return ledger.User{}, ErrUserNotFound
	}
	return u, err
}
