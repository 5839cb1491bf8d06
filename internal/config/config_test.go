package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAPIDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DREAMTEAM_API_ADDR", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DREAMTEAM_CORS_ORIGINS", "")

	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.DatabaseURL != "memory://" {
		t.Fatalf("defaults %+v", cfg)
	}
	if cfg.JWTSecret == "" {
		t.Fatalf("memory mode should get a dev secret")
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Fatalf("cors %v", cfg.CORSOrigins)
	}
}

func TestLoadAPIRequiresSecretForRealDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/dreamteam")
	t.Setenv("JWT_SECRET", "")
	if _, err := LoadAPIFromEnv(); err == nil {
		t.Fatalf("expected missing JWT_SECRET to fail")
	}

	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORT", "9000")
	t.Setenv("DREAMTEAM_CORS_ORIGINS", "https://a.example, https://b.example,")
	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9000" || len(cfg.CORSOrigins) != 2 {
		t.Fatalf("cfg %+v", cfg)
	}
}

func TestLoadWorker(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/dreamteam")
	t.Setenv("DISCORD_BOT_TOKEN", "")
	t.Setenv("DISCORD_CHANNEL_ID", "")
	t.Setenv("DREAMTEAM_OUTBOX_POLL_EVERY", "250ms")
	t.Setenv("DREAMTEAM_OUTBOX_BATCH", "-3")

	cfg, err := LoadWorkerFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PollEvery != 250*time.Millisecond || cfg.BatchSize != 100 {
		t.Fatalf("cfg %+v", cfg)
	}

	t.Setenv("DISCORD_BOT_TOKEN", "token-only")
	if _, err := LoadWorkerFromEnv(); err == nil {
		t.Fatalf("expected half-configured discord to fail")
	}

	t.Setenv("DISCORD_BOT_TOKEN", "")
	t.Setenv("DATABASE_URL", "memory://")
	if _, err := LoadWorkerFromEnv(); err == nil {
		t.Fatalf("expected memory database to fail")
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("X_DURATION", "nope")
	t.Setenv("X_INT", "12")
	t.Setenv("X_BOOL", "true")
	if got := envDurationDefault("X_DURATION", time.Second); got != time.Second {
		t.Fatalf("bad duration fallback %v", got)
	}
	if got := envIntDefault("X_INT", 1); got != 12 {
		t.Fatalf("int %d", got)
	}
	if got := envBoolDefault("X_BOOL", false); !got {
		t.Fatalf("bool false")
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("DREAMTEAM_DOTENV_CHECK=loaded\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("DREAMTEAM_DOTENV_CHECK", "")
	os.Unsetenv("DREAMTEAM_DOTENV_CHECK")

	LoadDotEnv(path)
	if got := os.Getenv("DREAMTEAM_DOTENV_CHECK"); got != "loaded" {
		t.Fatalf("dotenv value = %q", got)
	}
	// Missing files are ignored.
	LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"))
}
