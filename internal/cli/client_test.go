package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	mathrand "math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dreamteam/internal/api"
	"dreamteam/internal/auth"
	"dreamteam/internal/config"
	"dreamteam/internal/game"
	"dreamteam/internal/ledger"
	"dreamteam/internal/market"
)

func newTestAPI(t *testing.T) (*Client, *game.Service) {
	t.Helper()
	store := ledger.NewMemory()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	gameSvc, err := game.NewService(store, quiet)
	require.NoError(t, err)
	srv := httptest.NewServer(api.New(
		config.APIConfig{RequestTimeout: 5 * time.Second},
		quiet,
		auth.NewService(store, auth.NewTokens("test-secret", time.Hour), quiet),
		gameSvc,
		market.NewEngine(store, quiet, mathrand.NewSource(3)),
	).Handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL + "/"), gameSvc
}

func signup(t *testing.T, c *Client, username string) auth.Session {
	t.Helper()
	sess, err := c.Signup(context.Background(), auth.SignupInput{
		Email:           username + "@example.com",
		Username:        username,
		Password:        "password1",
		PasswordConfirm: "password1",
	})
	require.NoError(t, err)
	return sess
}

func TestClientMarketRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, gameSvc := newTestAPI(t)
	country := gameSvc.Countries()[0]

	alice := signup(t, c, "alice")
	bob := signup(t, c, "bob")
	_, err := c.CreateTeam(ctx, alice.AccessToken, "Alice FC", country)
	require.NoError(t, err)
	_, err = c.CreateTeam(ctx, bob.AccessToken, "Bob United", country)
	require.NoError(t, err)

	home, err := c.Home(ctx, alice.AccessToken)
	require.NoError(t, err)
	require.Len(t, home.Players, game.RosterSize)
	p := home.Players[0]

	listed, err := c.List(ctx, alice.AccessToken, p.ID, "250000", "list-1")
	require.NoError(t, err)
	assert.True(t, listed.Player.IsOnSale)

	offers, err := c.Offers(ctx, bob.AccessToken)
	require.NoError(t, err)
	require.Len(t, offers, 1)

	bought, err := c.Purchase(ctx, bob.AccessToken, p.ID, "buy-1")
	require.NoError(t, err)
	assert.Equal(t, int64(250000), bought.Price)

	_, err = c.Cancel(ctx, alice.AccessToken, p.ID, "cancel-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, market.ErrNotOwner.Error(), apiErr.Message)
	assert.False(t, IsNetworkError(err))
}

func TestClientLoginAndEdits(t *testing.T) {
	ctx := context.Background()
	c, gameSvc := newTestAPI(t)
	country := gameSvc.Countries()[0]
	signup(t, c, "alice")

	sess, err := c.Login(ctx, "alice@example.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, "alice", sess.User.Username)

	_, err = c.Login(ctx, "alice", "nope-nope")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	_, err = c.CreateTeam(ctx, sess.AccessToken, "Alice FC", country)
	require.NoError(t, err)
	team, err := c.EditTeam(ctx, sess.AccessToken, "Alice Rovers", country)
	require.NoError(t, err)
	assert.Equal(t, "Alice Rovers", team.Name)

	home, err := c.Home(ctx, sess.AccessToken)
	require.NoError(t, err)
	player, err := c.EditPlayer(ctx, sess.AccessToken, home.Players[0].ID, "Ada", "Keeper", country)
	require.NoError(t, err)
	assert.Equal(t, "Ada Keeper", player.FullName())

	_, err = c.AdminUsers(ctx, sess.AccessToken)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestClientDoReplaysQueuedWrite(t *testing.T) {
	ctx := context.Background()
	c, gameSvc := newTestAPI(t)
	alice := signup(t, c, "alice")
	_, err := c.CreateTeam(ctx, alice.AccessToken, "Alice FC", gameSvc.Countries()[0])
	require.NoError(t, err)
	home, err := c.Home(ctx, alice.AccessToken)
	require.NoError(t, err)
	p := home.Players[0]

	out, err := c.Do(ctx, http.MethodPost, "/v1/market/listings", alice.AccessToken, ListBody(p.ID, "75"), "q-1")
	require.NoError(t, err)
	assert.Contains(t, out["message"], "is put on sale for $75.")

	out, err = c.Do(ctx, http.MethodDelete, CancelPath(p.ID), alice.AccessToken, nil, "q-2")
	require.NoError(t, err)
	assert.Contains(t, out["message"], "from transfer list.")
}

func TestIsNetworkError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	_, err := c.Offers(context.Background(), "token")
	require.Error(t, err)
	assert.True(t, IsNetworkError(err))

	assert.False(t, IsNetworkError(nil))
	assert.False(t, IsNetworkError(&APIError{Status: 400, Message: "bad"}))
	assert.False(t, IsNetworkError(context.Canceled))
	assert.True(t, IsNetworkError(errors.New("connection reset by peer")))
}

func TestSessionRoundTrip(t *testing.T) {
	t.Setenv("DT_HOME", t.TempDir())

	_, err := LoadSession()
	require.Error(t, err)

	require.NoError(t, SaveSession(Session{AccessToken: "tok", UserID: 7, Username: "alice", ExpiresAt: time.Now().Add(time.Hour)}))
	s, err := LoadSession()
	require.NoError(t, err)
	assert.Equal(t, int64(7), s.UserID)

	require.NoError(t, SaveSession(Session{AccessToken: "tok", ExpiresAt: time.Now().Add(-time.Minute)}))
	_, err = LoadSession()
	assert.ErrorContains(t, err, "expired")

	require.NoError(t, ClearSession())
	require.NoError(t, ClearSession())
	_, err = LoadSession()
	assert.Error(t, err)
}
