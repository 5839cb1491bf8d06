package syncq

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"dreamteam/internal/cli"
)

// Command is a write that could not reach the API. It is replayed with the
// same idempotency key it was first sent with.
type Command struct {
	Method         string         `json:"method"`
	Path           string         `json:"path"`
	Body           map[string]any `json:"body,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	QueuedAt       time.Time      `json:"queued_at"`
}

// queuePath keeps the queue next to the session file.
func queuePath() (string, error) {
	dir, err := cli.BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "queue.json"), nil
}

func Load() ([]Command, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func Save(commands []Command) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func Push(cmd Command) error {
	commands, err := Load()
	if err != nil {
		return err
	}
	if cmd.QueuedAt.IsZero() {
		cmd.QueuedAt = time.Now().UTC()
	}
	commands = append(commands, cmd)
	return Save(commands)
}

// Outcome is what a replay did with one command.
type Outcome int

const (
	// Done means the command reached the API; it leaves the queue whether the
	// API accepted it or refused it.
	Done Outcome = iota
	// Retry keeps the command queued.
	Retry
)

// Replay sends every command in order and returns the ones to keep.
func Replay(ctx context.Context, commands []Command, send func(context.Context, Command) Outcome) (remaining []Command, replayed int) {
	remaining = make([]Command, 0, len(commands))
	for i, c := range commands {
		if ctx.Err() != nil {
			return append(remaining, commands[i:]...), replayed
		}
		if send(ctx, c) == Retry {
			remaining = append(remaining, c)
			continue
		}
		replayed++
	}
	return remaining, replayed
}
