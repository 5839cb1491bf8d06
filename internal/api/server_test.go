package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	mathrand "math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dreamteam/internal/auth"
	"dreamteam/internal/config"
	"dreamteam/internal/game"
	"dreamteam/internal/ledger"
	"dreamteam/internal/market"
)

type harness struct {
	t    *testing.T
	srv  *httptest.Server
	game *game.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := ledger.NewMemory()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	authSvc := auth.NewService(store, auth.NewTokens("test-secret", time.Hour), quiet)
	gameSvc, err := game.NewService(store, quiet)
	require.NoError(t, err)
	engine := market.NewEngine(store, quiet, mathrand.NewSource(7))

	cfg := config.APIConfig{RequestTimeout: 5 * time.Second, LiveEvery: 20 * time.Millisecond}
	srv := httptest.NewServer(New(cfg, quiet, authSvc, gameSvc, engine).Handler())
	t.Cleanup(srv.Close)
	return &harness{t: t, srv: srv, game: gameSvc}
}

func (h *harness) do(method, path, token string, body any, header map[string]string, out any) int {
	h.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	require.NoError(h.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := h.srv.Client().Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(h.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (h *harness) signup(username string) string {
	h.t.Helper()
	var session auth.Session
	status := h.do(http.MethodPost, "/v1/auth/signup", "", map[string]string{
		"email":            username + "@example.com",
		"username":         username,
		"password":         "password1",
		"password_confirm": "password1",
	}, nil, &session)
	require.Equal(h.t, http.StatusCreated, status)
	require.NotEmpty(h.t, session.AccessToken)
	return session.AccessToken
}

func (h *harness) createTeam(token, name string) ledger.Team {
	h.t.Helper()
	var team ledger.Team
	status := h.do(http.MethodPost, "/v1/team", token, map[string]string{
		"name":    name,
		"country": h.game.Countries()[0],
	}, nil, &team)
	require.Equal(h.t, http.StatusCreated, status)
	return team
}

func (h *harness) home(token string) game.HomeView {
	h.t.Helper()
	var view game.HomeView
	require.Equal(h.t, http.StatusOK, h.do(http.MethodGet, "/v1/home", token, nil, nil, &view))
	return view
}

type errorBody struct {
	Error string `json:"error"`
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	var out map[string]any
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/healthz", "", nil, nil, &out))
	assert.Equal(t, true, out["ok"])
}

func TestTransferFlow(t *testing.T) {
	h := newHarness(t)
	alice := h.signup("alice")
	bob := h.signup("bob")
	aliceTeam := h.createTeam(alice, "Alice FC")
	bobTeam := h.createTeam(bob, "Bob United")

	view := h.home(alice)
	require.NotNil(t, view.Team)
	require.Len(t, view.Players, game.RosterSize)
	assert.Equal(t, int64(game.RosterSize)*game.DefaultMarketValue, view.TeamValue)
	assert.Equal(t, game.StarterCash, view.Team.CashAvailable)
	star := view.Players[0]

	var listed market.Result
	status := h.do(http.MethodPost, "/v1/market/listings", alice, map[string]any{
		"player_id": star.ID,
		"price":     "500000",
	}, nil, &listed)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, fmt.Sprintf("%s is put on sale for $500000.", star.FullName()), listed.Message)

	var offers struct {
		Offers []market.Offer `json:"offers"`
	}
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/market", bob, nil, nil, &offers))
	require.Len(t, offers.Offers, 1)
	assert.Equal(t, star.ID, offers.Offers[0].Player.ID)
	assert.Equal(t, aliceTeam.ID, offers.Offers[0].Team.ID)

	key := map[string]string{"Idempotency-Key": "buy-1"}
	var bought market.Result
	status = h.do(http.MethodPost, "/v1/market/purchases", bob, map[string]any{"player_id": star.ID}, key, &bought)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, fmt.Sprintf("Purchased %s for $500000!", star.FullName()), bought.Message)
	assert.Equal(t, bobTeam.ID, bought.Player.TeamID)
	assert.False(t, bought.Player.IsOnSale)
	assert.Greater(t, bought.Player.MarketValue, star.MarketValue)

	// A reused key is refused even for a different purchase.
	second := view.Players[1]
	status = h.do(http.MethodPost, "/v1/market/listings", alice, map[string]any{"player_id": second.ID, "price": "1"}, nil, nil)
	require.Equal(t, http.StatusOK, status)
	var dup errorBody
	status = h.do(http.MethodPost, "/v1/market/purchases", bob, map[string]any{"player_id": second.ID}, key, &dup)
	assert.Equal(t, http.StatusConflict, status)
	assert.NotEmpty(t, dup.Error)

	assert.Equal(t, game.StarterCash+500_000, h.home(alice).Team.CashAvailable)
	bobView := h.home(bob)
	assert.Equal(t, game.StarterCash-500_000, bobView.Team.CashAvailable)
	assert.Len(t, bobView.Players, game.RosterSize+1)

	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/market", bob, nil, nil, &offers))
	require.Len(t, offers.Offers, 1)
	assert.Equal(t, second.ID, offers.Offers[0].Player.ID)
}

func TestCancelAndEdits(t *testing.T) {
	h := newHarness(t)
	alice := h.signup("alice")
	h.createTeam(alice, "Alice FC")
	p := h.home(alice).Players[0]

	status := h.do(http.MethodPost, "/v1/market/listings", alice, map[string]any{"player_id": p.ID, "price": "10"}, nil, nil)
	require.Equal(t, http.StatusOK, status)

	var cancelled market.Result
	status = h.do(http.MethodDelete, fmt.Sprintf("/v1/market/listings/%d", p.ID), alice, nil, nil, &cancelled)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, fmt.Sprintf("Removed %s from transfer list.", p.FullName()), cancelled.Message)
	assert.False(t, cancelled.Player.IsOnSale)

	var renamed ledger.Player
	status = h.do(http.MethodPatch, fmt.Sprintf("/v1/players/%d", p.ID), alice, map[string]string{
		"first_name": "Ronaldo",
		"last_name":  "Silva",
		"country":    p.Country,
	}, nil, &renamed)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Ronaldo Silva", renamed.FullName())

	status = h.do(http.MethodPatch, fmt.Sprintf("/v1/players/%d", p.ID), alice, map[string]string{
		"first_name": "Ronaldo",
		"last_name":  "Silva",
		"country":    p.Country,
	}, nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	var team ledger.Team
	status = h.do(http.MethodPatch, "/v1/team", alice, map[string]string{
		"name":    "Alice Athletic",
		"country": h.game.Countries()[0],
	}, nil, &team)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Alice Athletic", team.Name)
}

func TestErrorStatuses(t *testing.T) {
	h := newHarness(t)
	alice := h.signup("alice")
	bob := h.signup("bob")
	carol := h.signup("carol")
	h.createTeam(alice, "Alice FC")
	h.createTeam(bob, "Bob United")
	alicePlayer := h.home(alice).Players[0]

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{"missing token", http.MethodGet, "/v1/home", "", nil, http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/v1/home", "not-a-jwt", nil, http.StatusUnauthorized},
		{"negative price", http.MethodPost, "/v1/market/listings", alice, map[string]any{"player_id": alicePlayer.ID, "price": "-5"}, http.StatusBadRequest},
		{"decimal price", http.MethodPost, "/v1/market/listings", alice, map[string]any{"player_id": alicePlayer.ID, "price": "1.5"}, http.StatusBadRequest},
		{"list foreign player", http.MethodPost, "/v1/market/listings", bob, map[string]any{"player_id": alicePlayer.ID, "price": "100"}, http.StatusForbidden},
		{"list unknown player", http.MethodPost, "/v1/market/listings", alice, map[string]any{"player_id": 99999, "price": "100"}, http.StatusNotFound},
		{"list without team", http.MethodPost, "/v1/market/listings", carol, map[string]any{"player_id": alicePlayer.ID, "price": "100"}, http.StatusNotFound},
		{"buy unlisted", http.MethodPost, "/v1/market/purchases", bob, map[string]any{"player_id": alicePlayer.ID}, http.StatusBadRequest},
		{"buy own player", http.MethodPost, "/v1/market/purchases", alice, map[string]any{"player_id": alicePlayer.ID}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/v1/market/purchases", bob, map[string]any{"player": 1}, http.StatusBadRequest},
		{"bad path id", http.MethodDelete, "/v1/market/listings/abc", alice, nil, http.StatusBadRequest},
		{"second team", http.MethodPost, "/v1/team", alice, map[string]string{"name": "Other", "country": h.game.Countries()[0]}, http.StatusConflict},
		{"team name taken", http.MethodPost, "/v1/team", carol, map[string]string{"name": "Alice FC", "country": h.game.Countries()[0]}, http.StatusConflict},
		{"unknown country", http.MethodPost, "/v1/team", carol, map[string]string{"name": "Carol City", "country": "Atlantis"}, http.StatusBadRequest},
		{"admin only", http.MethodGet, "/v1/admin/users", alice, nil, http.StatusForbidden},
		{"duplicate signup", http.MethodPost, "/v1/auth/signup", "", map[string]string{"email": "alice@example.com", "username": "alice2", "password": "password1", "password_confirm": "password1"}, http.StatusConflict},
		{"invalid signup", http.MethodPost, "/v1/auth/signup", "", map[string]string{"email": "nope", "username": "dave", "password": "password1", "password_confirm": "password1"}, http.StatusBadRequest},
		{"wrong password", http.MethodPost, "/v1/auth/login", "", map[string]string{"cred": "alice", "password": "wrong-password"}, http.StatusUnauthorized},
		{"unknown user", http.MethodPost, "/v1/auth/login", "", map[string]string{"cred": "zed", "password": "password1"}, http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out errorBody
			status := h.do(tc.method, tc.path, tc.token, tc.body, nil, &out)
			assert.Equal(t, tc.want, status)
			assert.NotEmpty(t, out.Error)
		})
	}
}

func TestLoginByEmailOrUsername(t *testing.T) {
	h := newHarness(t)
	h.signup("alice")
	for _, cred := range []string{"alice", "alice@example.com"} {
		var session auth.Session
		status := h.do(http.MethodPost, "/v1/auth/login", "", map[string]string{"cred": cred, "password": "password1"}, nil, &session)
		require.Equal(t, http.StatusOK, status, cred)
		assert.Equal(t, "alice", session.User.Username)
		assert.Equal(t, "bearer", session.TokenType)
	}
}

func TestAdminRoutes(t *testing.T) {
	h := newHarness(t)
	admin := h.signup(game.AdminUsername)
	h.signup("alice")

	var users struct {
		Usernames []string `json:"usernames"`
	}
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/admin/users", admin, nil, nil, &users))
	assert.ElementsMatch(t, []string{"admin", "alice"}, users.Usernames)

	var found ledger.User
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/admin/users/alice@example.com", admin, nil, nil, &found))
	assert.Equal(t, "alice", found.Username)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/admin/users/nobody", admin, nil, nil, nil))
}

func TestMarketLive(t *testing.T) {
	h := newHarness(t)
	alice := h.signup("alice")
	h.createTeam(alice, "Alice FC")
	p := h.home(alice).Players[0]

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/v1/market/live?access_token=" + alice
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	var frame liveFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Empty(t, frame.Offers)

	status := h.do(http.MethodPost, "/v1/market/listings", alice, map[string]any{"player_id": p.ID, "price": "42"}, nil, nil)
	require.Equal(t, http.StatusOK, status)

	require.NoError(t, conn.ReadJSON(&frame))
	require.Len(t, frame.Offers, 1)
	assert.Equal(t, p.ID, frame.Offers[0].Player.ID)
	assert.Equal(t, int64(42), frame.Offers[0].Player.SellingPrice)
}

func TestMarketLiveRequiresToken(t *testing.T) {
	h := newHarness(t)
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/v1/market/live"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrapped: %w", market.ErrInsufficientFunds), http.StatusBadRequest},
		{market.ErrTxConflict, http.StatusConflict},
		{ledger.ErrNotFound, http.StatusNotFound},
		{game.ErrForbidden, http.StatusForbidden},
		{auth.ErrInvalidToken, http.StatusUnauthorized},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		rec := httptest.NewRecorder()
		writeDomainError(rec, tc.err)
		assert.Equal(t, tc.want, rec.Code, tc.err.Error())
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer  abc "))
	assert.Empty(t, bearerToken("Basic abc"))
	assert.Empty(t, bearerToken(""))
}
