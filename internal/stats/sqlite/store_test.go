package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mohametBa/UniversMurid-sub001/internal/stats"
	"github.com/mohametBa/UniversMurid-sub001/internal/stats/statstest"
	"github.com/mohametBa/UniversMurid-sub001/internal/vault"
	"github.com/mohametBa/UniversMurid-sub001/pkg/schema"
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "progress.db"), opts...)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_Contract(t *testing.T) {
	statstest.Run(t, func(t *testing.T) stats.Repository {
		return openTestStore(t)
	})
}

func TestStore_ContractSealed(t *testing.T) {
	sealer, err := vault.NewSealer([]byte("thisis32byteslongsecretkey123456"))
	if err != nil {
		t.Fatal(err)
	}
	statstest.Run(t, func(t *testing.T) stats.Repository {
		return openTestStore(t, WithSealer(sealer))
	})
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("Expected error for empty path")
	}
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "progress.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := store.CreateStats(ctx, statstest.Record("u1", "quiz", schema.GameState{"score": float64(7)})); err != nil {
		t.Fatalf("CreateStats failed: %v", err)
	}
	store.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	rec, err := reopened.GetStats(ctx, "u1", "quiz")
	if err != nil || rec.GameState["score"] != json.Number("7") {
		t.Fatalf("Expected persisted record, got %+v (%v)", rec, err)
	}
}

func TestLargeIntegersSurviveStorage(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	seed := json.Number("9007199254740993")
	if err := store.CreateStats(ctx, statstest.Record("u1", "quiz", schema.GameState{"seed": seed})); err != nil {
		t.Fatalf("CreateStats failed: %v", err)
	}
	rec, err := store.GetStats(ctx, "u1", "quiz")
	if err != nil || rec.GameState["seed"] != seed {
		t.Fatalf("Expected seed %s, got %+v (%v)", seed, rec.GameState, err)
	}
}

func TestSealedStateIsNotStoredInPlaintext(t *testing.T) {
	ctx := context.Background()
	sealer, _ := vault.NewSealer([]byte("thisis32byteslongsecretkey123456"))
	store := openTestStore(t, WithSealer(sealer))

	store.CreateStats(ctx, statstest.Record("u1", "quiz", schema.GameState{"secretAnswer": "42"}))

	var raw string
	if err := store.sqlDB.QueryRow(`SELECT game_state FROM game_stats WHERE user_id = 'u1'`).Scan(&raw); err != nil {
		t.Fatalf("raw query failed: %v", err)
	}
	if strings.Contains(raw, "secretAnswer") || !vault.IsSealed(raw) {
		t.Errorf("game state stored in plaintext: %q", raw)
	}

	rec, err := store.GetStats(ctx, "u1", "quiz")
	if err != nil || rec.GameState["secretAnswer"] != "42" {
		t.Errorf("Expected decrypted state, got %+v (%v)", rec, err)
	}
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	store.CreateStats(ctx, statstest.Record("u2", "quiz", nil))
	store.CreateStats(ctx, statstest.Record("u1", "memory", nil))
	store.CreateStats(ctx, statstest.Record("u1", "quiz", nil))

	users, err := store.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(users) != 2 || users[0] != "u1" {
		t.Errorf("Expected [u1 u2], got %v", users)
	}
	recs, _ := store.ListStats(ctx, "u1")
	if len(recs) != 2 || recs[0].GameType != "memory" {
		t.Errorf("Expected two records ordered by game type, got %+v", recs)
	}
}
