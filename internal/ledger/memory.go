package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type claimKey struct {
	userID int64
	key    string
}

type memEvent struct {
	Event
	sent bool
}

// Memory is a process-local Store. A single mutex serialises every commit,
// which gives the same all-or-nothing and version semantics as the SQL stores.
type Memory struct {
	mu         sync.Mutex
	nextUser   int64
	nextTeam   int64
	nextPlayer int64
	users      map[int64]User
	teams      map[int64]Team
	players    map[int64]Player
	events     []memEvent
	claims     map[claimKey]string
}

func NewMemory() *Memory {
	return &Memory{
		users:   make(map[int64]User),
		teams:   make(map[int64]Team),
		players: make(map[int64]Player),
		claims:  make(map[claimKey]string),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) CreateUser(_ context.Context, u User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email || existing.Username == u.Username {
			return User{}, fmt.Errorf("%w: user %q", ErrDuplicate, u.Username)
		}
	}
	m.nextUser++
	u.ID = m.nextUser
	if u.SignupDate.IsZero() {
		u.SignupDate = time.Now().UTC()
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *Memory) User(_ context.Context, id int64) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) UserByEmail(_ context.Context, email string) (User, error) {
	return m.findUser(func(u User) bool { return u.Email == email })
}

func (m *Memory) UserByUsername(_ context.Context, username string) (User, error) {
	return m.findUser(func(u User) bool { return u.Username == username })
}

func (m *Memory) findUser(match func(User) bool) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(u) {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (m *Memory) Usernames(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.users[id].Username)
	}
	return out, nil
}

func (m *Memory) CreateTeam(_ context.Context, t Team, roster []Player) (Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[t.UserID]; !ok {
		return Team{}, fmt.Errorf("user %d: %w", t.UserID, ErrNotFound)
	}
	for _, existing := range m.teams {
		if existing.Name == t.Name {
			return Team{}, fmt.Errorf("%w: team name %q", ErrDuplicate, t.Name)
		}
		if existing.UserID == t.UserID {
			return Team{}, fmt.Errorf("%w: user %d already owns a team", ErrDuplicate, t.UserID)
		}
	}
	if err := t.Check(); err != nil {
		return Team{}, err
	}
	for _, p := range roster {
		if err := p.Check(); err != nil {
			return Team{}, err
		}
	}

	m.nextTeam++
	t.ID = m.nextTeam
	t.Version = 1
	m.teams[t.ID] = t
	for _, p := range roster {
		m.nextPlayer++
		p.ID = m.nextPlayer
		p.TeamID = t.ID
		p.Version = 1
		m.players[p.ID] = p
	}
	return t, nil
}

func (m *Memory) Team(_ context.Context, id int64) (Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.teams[id]
	if !ok {
		return Team{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) TeamByUser(_ context.Context, userID int64) (Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.teams {
		if t.UserID == userID {
			return t, nil
		}
	}
	return Team{}, ErrNotFound
}

func (m *Memory) Player(_ context.Context, id int64) (Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[id]
	if !ok {
		return Player{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) PlayersByTeam(_ context.Context, teamID int64) ([]Player, error) {
	return m.filterPlayers(func(p Player) bool { return p.TeamID == teamID }), nil
}

func (m *Memory) PlayersOnSale(_ context.Context) ([]Player, error) {
	return m.filterPlayers(func(p Player) bool { return p.IsOnSale }), nil
}

func (m *Memory) filterPlayers(keep func(Player) bool) []Player {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Player
	for _, p := range m.players {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) Commit(_ context.Context, b Batch) error {
	if err := b.check(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range b.Teams {
		cur, ok := m.teams[t.ID]
		if !ok {
			return fmt.Errorf("team %d: %w", t.ID, ErrNotFound)
		}
		if cur.Version != t.Version {
			return fmt.Errorf("team %d: %w", t.ID, ErrConflict)
		}
		for id, other := range m.teams {
			if id != t.ID && other.Name == t.Name {
				return fmt.Errorf("%w: team name %q", ErrDuplicate, t.Name)
			}
		}
	}
	for _, p := range b.Players {
		cur, ok := m.players[p.ID]
		if !ok {
			return fmt.Errorf("player %d: %w", p.ID, ErrNotFound)
		}
		if cur.Version != p.Version {
			return fmt.Errorf("player %d: %w", p.ID, ErrConflict)
		}
		if _, ok := m.teams[p.TeamID]; !ok {
			return fmt.Errorf("player %d team %d: %w", p.ID, p.TeamID, ErrNotFound)
		}
	}
	if b.Claim != nil {
		if _, taken := m.claims[claimKey{b.Claim.UserID, b.Claim.Key}]; taken {
			return ErrDuplicateClaim
		}
	}

	for _, t := range b.Teams {
		t.Version++
		m.teams[t.ID] = t
	}
	for _, p := range b.Players {
		p.Version++
		m.players[p.ID] = p
	}
	for _, ev := range b.Events {
		m.events = append(m.events, memEvent{Event: ev})
	}
	if b.Claim != nil {
		m.claims[claimKey{b.Claim.UserID, b.Claim.Key}] = b.Claim.Action
	}
	return nil
}

func (m *Memory) PendingEvents(_ context.Context, limit int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.sent {
			continue
		}
		out = append(out, ev.Event)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkEventsSent(_ context.Context, ids []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for i := range m.events {
		if want[m.events[i].ID] {
			m.events[i].sent = true
		}
	}
	return nil
}
