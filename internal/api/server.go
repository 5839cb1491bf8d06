package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"dreamteam/internal/auth"
	"dreamteam/internal/config"
	"dreamteam/internal/game"
	"dreamteam/internal/ledger"
	"dreamteam/internal/market"
)

type contextKey string

const userContextKey contextKey = "user"

type Server struct {
	cfg    config.APIConfig
	log    *slog.Logger
	auth   *auth.Service
	game   *game.Service
	market *market.Engine
	mux    *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, authSvc *auth.Service, gameSvc *game.Service, engine *market.Engine) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.LiveEvery <= 0 {
		cfg.LiveEvery = 2 * time.Second
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	s := &Server{
		cfg:    cfg,
		log:    logger,
		auth:   authSvc,
		game:   gameSvc,
		market: engine,
		mux:    chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key"},
	}).Handler)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		// The live feed holds its connection open, so it sits outside the
		// request timeout.
		r.With(s.authMiddleware).Get("/market/live", s.handleMarketLive)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.RequestTimeout))
			r.Post("/auth/signup", s.handleSignup)
			r.Post("/auth/login", s.handleLogin)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Get("/home", s.handleHome)
				r.Post("/team", s.handleCreateTeam)
				r.Patch("/team", s.handleEditTeam)
				r.Patch("/players/{id}", s.handleEditPlayer)

				r.Get("/market", s.handleMarket)
				r.Post("/market/listings", s.handleList)
				r.Delete("/market/listings/{id}", s.handleCancel)
				r.Post("/market/purchases", s.handlePurchase)

				r.Get("/admin/users", s.handleAdminUsers)
				r.Get("/admin/users/{cred}", s.handleAdminLookup)
			})
		})
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// authMiddleware accepts the token from the Authorization header, or from
// the access_token query parameter for websocket clients that cannot set
// headers.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = strings.TrimSpace(r.URL.Query().Get("access_token"))
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}
			writeDomainError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (ledger.User, error) {
	user, ok := ctx.Value(userContextKey).(ledger.User)
	if !ok || user.ID == 0 {
		return ledger.User{}, errors.New("missing auth context")
	}
	return user, nil
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in auth.SignupInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.auth.Signup(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in auth.LoginInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.auth.Login(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.game.Home(r.Context(), user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type teamRequest struct {
	Name    string `json:"name"`
	Country string `json:"country"`
}

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in teamRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	team, err := s.game.CreateTeam(r.Context(), game.CreateTeamInput{
		UserID:  user.ID,
		Name:    in.Name,
		Country: in.Country,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, team)
}

func (s *Server) handleEditTeam(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in teamRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	team, err := s.game.EditTeam(r.Context(), game.EditTeamInput{
		UserID:  user.ID,
		Name:    in.Name,
		Country: in.Country,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (s *Server) handleEditPlayer(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	playerID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var in struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Country   string `json:"country"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	player, err := s.game.EditPlayer(r.Context(), game.EditPlayerInput{
		UserID:    user.ID,
		PlayerID:  playerID,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Country:   in.Country,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, player)
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	offers, err := s.market.Offers(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"offers": offers})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	team, ok := s.actingTeam(w, r)
	if !ok {
		return
	}
	var in struct {
		PlayerID int64  `json:"player_id"`
		Price    string `json:"price"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	price, err := market.ParsePrice(in.Price)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	result, err := s.market.List(r.Context(), team.ID, in.PlayerID, price)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	team, ok := s.actingTeam(w, r)
	if !ok {
		return
	}
	playerID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.market.Cancel(r.Context(), team.ID, playerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	team, ok := s.actingTeam(w, r)
	if !ok {
		return
	}
	var in struct {
		PlayerID int64 `json:"player_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.market.Purchase(r.Context(), team.ID, in.PlayerID, idempotencyKey(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	names, err := s.game.AdminUsers(r.Context(), user)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"usernames": names})
}

func (s *Server) handleAdminLookup(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	found, err := s.game.AdminLookup(r.Context(), user, chi.URLParam(r, "cred"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

// actingTeam resolves the caller's team for market operations and writes the
// error response itself when there is none.
func (s *Server) actingTeam(w http.ResponseWriter, r *http.Request) (ledger.Team, bool) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return ledger.Team{}, false
	}
	team, err := s.game.TeamOf(r.Context(), user.ID)
	if err != nil {
		writeDomainError(w, err)
		return ledger.Team{}, false
	}
	return team, true
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, market.ErrPlayerNotFound),
		errors.Is(err, market.ErrTeamNotFound),
		errors.Is(err, game.ErrUserNotFound),
		errors.Is(err, game.ErrNoTeam),
		errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, market.ErrInvalidPrice),
		errors.Is(err, market.ErrInsufficientFunds),
		errors.Is(err, market.ErrNotForSale),
		errors.Is(err, market.ErrAlreadyOwned),
		errors.Is(err, game.ErrNoChanges),
		errors.Is(err, game.ErrInvalidName),
		errors.Is(err, game.ErrUnknownCountry),
		errors.Is(err, auth.ErrInvalidSignup),
		errors.Is(err, auth.ErrMissingPassword):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrUnknownUser),
		errors.Is(err, auth.ErrWrongPassword),
		errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, market.ErrNotOwner), errors.Is(err, game.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, market.ErrDuplicateRequest),
		errors.Is(err, market.ErrTxConflict),
		errors.Is(err, auth.ErrEmailTaken),
		errors.Is(err, auth.ErrUsernameTaken),
		errors.Is(err, game.ErrTeamExists),
		errors.Is(err, game.ErrTeamNameTaken),
		errors.Is(err, ledger.ErrConflict),
		errors.Is(err, ledger.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
