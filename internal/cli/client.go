package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dreamteam/internal/auth"
	"dreamteam/internal/game"
	"dreamteam/internal/ledger"
	"dreamteam/internal/market"
)

// APIError is a response the server produced. Anything else that fails a
// request is a transport problem.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsNetworkError reports whether err means the request never got an answer
// from the API, so it is worth queueing for a later sync.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Signup(ctx context.Context, in auth.SignupInput) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/signup", "", in, &out, "")
	return out, err
}

func (c *Client) Login(ctx context.Context, cred, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", auth.LoginInput{
		Cred:     cred,
		Password: password,
	}, &out, "")
	return out, err
}

func (c *Client) Home(ctx context.Context, accessToken string) (game.HomeView, error) {
	var out game.HomeView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/home", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) CreateTeam(ctx context.Context, accessToken, name, country string) (ledger.Team, error) {
	var out ledger.Team
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/team", accessToken, map[string]any{
		"name":    name,
		"country": country,
	}, &out, "")
	return out, err
}

func (c *Client) EditTeam(ctx context.Context, accessToken, name, country string) (ledger.Team, error) {
	var out ledger.Team
	err := c.jsonRequest(ctx, http.MethodPatch, "/v1/team", accessToken, map[string]any{
		"name":    name,
		"country": country,
	}, &out, "")
	return out, err
}

func (c *Client) EditPlayer(ctx context.Context, accessToken string, playerID int64, first, last, country string) (ledger.Player, error) {
	var out ledger.Player
	err := c.jsonRequest(ctx, http.MethodPatch, fmt.Sprintf("/v1/players/%d", playerID), accessToken, map[string]any{
		"first_name": first,
		"last_name":  last,
		"country":    country,
	}, &out, "")
	return out, err
}

func (c *Client) Offers(ctx context.Context, accessToken string) ([]market.Offer, error) {
	var out struct {
		Offers []market.Offer `json:"offers"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/market", accessToken, nil, &out, "")
	return out.Offers, err
}

// ListBody is the request body of a listing; the sync queue stores it as is.
func ListBody(playerID int64, price string) map[string]any {
	return map[string]any{"player_id": playerID, "price": price}
}

func (c *Client) List(ctx context.Context, accessToken string, playerID int64, price, idem string) (market.Result, error) {
	var out market.Result
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/market/listings", accessToken, ListBody(playerID, price), &out, idem)
	return out, err
}

func CancelPath(playerID int64) string {
	return fmt.Sprintf("/v1/market/listings/%d", playerID)
}

func (c *Client) Cancel(ctx context.Context, accessToken string, playerID int64, idem string) (market.Result, error) {
	var out market.Result
	err := c.jsonRequest(ctx, http.MethodDelete, CancelPath(playerID), accessToken, nil, &out, idem)
	return out, err
}

func (c *Client) Purchase(ctx context.Context, accessToken string, playerID int64, idem string) (market.Result, error) {
	var out market.Result
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/market/purchases", accessToken, map[string]any{
		"player_id": playerID,
	}, &out, idem)
	return out, err
}

func (c *Client) AdminUsers(ctx context.Context, accessToken string) ([]string, error) {
	var out struct {
		Usernames []string `json:"usernames"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/admin/users", accessToken, nil, &out, "")
	return out.Usernames, err
}

func (c *Client) AdminLookup(ctx context.Context, accessToken, cred string) (ledger.User, error) {
	var out ledger.User
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/admin/users/"+url.PathEscape(cred), accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Do(ctx context.Context, method, path, accessToken string, body map[string]any, idem string) (map[string]any, error) {
	var out map[string]any
	var in any
	if body != nil {
		in = body
	}
	err := c.jsonRequest(ctx, method, path, accessToken, in, &out, idem)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func errorMessage(raw []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(raw))
}
