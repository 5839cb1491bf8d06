package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type APIConfig struct {
	Addr           string
	DatabaseURL    string
	JWTSecret      string
	TokenTTL       time.Duration
	RequestTimeout time.Duration
	CORSOrigins    []string
	LiveEvery      time.Duration
}

type WorkerConfig struct {
	DatabaseURL      string
	NATSURL          string
	DiscordToken     string
	DiscordChannelID string
	PollEvery        time.Duration
	BatchSize        int
	RunOnce          bool
}

type CLIConfig struct {
	APIBaseURL string
}

// LoadDotEnv reads a .env file into the process environment when present.
// Variables already set win.
func LoadDotEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil && !os.IsNotExist(err) {
		slog.Warn("env file not loaded", "files", files, "err", err)
	}
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("DREAMTEAM_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:           addr,
		DatabaseURL:    envDefault("DATABASE_URL", "memory://"),
		JWTSecret:      strings.TrimSpace(os.Getenv("JWT_SECRET")),
		TokenTTL:       envDurationDefault("DREAMTEAM_TOKEN_TTL", 30*24*time.Hour),
		RequestTimeout: envDurationDefault("DREAMTEAM_REQUEST_TIMEOUT", 15*time.Second),
		CORSOrigins:    envListDefault("DREAMTEAM_CORS_ORIGINS", []string{"*"}),
		LiveEvery:      envDurationDefault("DREAMTEAM_LIVE_EVERY", 2*time.Second),
	}
	if cfg.JWTSecret == "" {
		if !strings.HasPrefix(cfg.DatabaseURL, "memory://") {
			return cfg, fmt.Errorf("JWT_SECRET is required")
		}
		cfg.JWTSecret = "dreamteam-dev-secret"
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	cfg := WorkerConfig{
		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		NATSURL:          strings.TrimSpace(os.Getenv("NATS_URL")),
		DiscordToken:     strings.TrimSpace(os.Getenv("DISCORD_BOT_TOKEN")),
		DiscordChannelID: strings.TrimSpace(os.Getenv("DISCORD_CHANNEL_ID")),
		PollEvery:        envDurationDefault("DREAMTEAM_OUTBOX_POLL_EVERY", 5*time.Second),
		BatchSize:        envIntDefault("DREAMTEAM_OUTBOX_BATCH", 100),
		RunOnce:          envBoolDefault("DREAMTEAM_WORKER_RUN_ONCE", false),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if strings.HasPrefix(cfg.DatabaseURL, "memory://") {
		return cfg, fmt.Errorf("worker needs a shared database, not %s", cfg.DatabaseURL)
	}
	if (cfg.DiscordToken == "") != (cfg.DiscordChannelID == "") {
		return cfg, fmt.Errorf("DISCORD_BOT_TOKEN and DISCORD_CHANNEL_ID must be set together")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("DT_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envListDefault(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
