package db

import (
	"context"
	"path/filepath"
	"testing"

	"dreamteam/internal/ledger"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		url     string
		kind    Kind
		target  string
		wantErr bool
	}{
		{url: "", kind: KindMemory},
		{url: "memory://", kind: KindMemory},
		{url: "sqlite:///var/lib/dt.db", kind: KindSQLite, target: "/var/lib/dt.db"},
		{url: "sqlite://dt.db", kind: KindSQLite, target: "dt.db"},
		{url: "postgres://u:p@localhost:5432/dt", kind: KindPostgres, target: "postgres://u:p@localhost:5432/dt"},
		{url: "postgresql://localhost/dt", kind: KindPostgres, target: "postgresql://localhost/dt"},
		{url: "sqlite://", wantErr: true},
		{url: "mysql://localhost/dt", wantErr: true},
	}
	for _, tc := range tests {
		kind, target, err := KindOf(tc.url)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.url)
			}
			continue
		}
		if err != nil || kind != tc.kind || target != tc.target {
			t.Fatalf("%q: got %s %q %v", tc.url, kind, target, err)
		}
	}
}

func TestOpenLocalStores(t *testing.T) {
	ctx := context.Background()

	s, kind, err := Open(ctx, "memory://")
	if err != nil || kind != KindMemory {
		t.Fatalf("memory: %s %v", kind, err)
	}
	if _, ok := s.(*ledger.Memory); !ok {
		t.Fatalf("memory store type %T", s)
	}

	path := filepath.Join(t.TempDir(), "dt.db")
	s, kind, err = Open(ctx, "sqlite://"+path)
	if err != nil || kind != KindSQLite {
		t.Fatalf("sqlite: %s %v", kind, err)
	}
	defer s.Close()
	if _, err := s.CreateUser(ctx, ledger.User{Email: "a@example.com", Username: "alice", PasswordHash: "h"}); err != nil {
		t.Fatalf("sqlite store not usable: %v", err)
	}
}
