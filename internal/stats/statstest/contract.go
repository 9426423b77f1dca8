// Package statstest holds the behavioural contract every stats.Repository
// implementation must satisfy.
package statstest

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mohametBa/UniversMurid-sub001/internal/stats"
	"github.com/mohametBa/UniversMurid-sub001/pkg/schema"
)

// Factory returns a fresh, empty repository.
type Factory func(t *testing.T) stats.Repository

// Record builds a version-1 stats record for tests.
func Record(userID, gameType string, state schema.GameState) schema.GameStatsRecord {
	return schema.GameStatsRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		GameType:  gameType,
		GameState: state,
		LastSaved: time.Now().UTC().Truncate(time.Millisecond),
		Version:   1,
	}
}

// Run executes the contract against repositories produced by newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Run("GetMissing", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.GetStats(context.Background(), "u1", "quiz")
		if !errors.Is(err, stats.ErrNotFound) {
			t.Fatalf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("CreateGetUpdate", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		rec := Record("u1", "quiz", schema.GameState{"score": json.Number("10")})
		rec.TotalPlayTime = 42

		if err := repo.CreateStats(ctx, rec); err != nil {
			t.Fatalf("CreateStats failed: %v", err)
		}
		got, err := repo.GetStats(ctx, "u1", "quiz")
		if err != nil {
			t.Fatalf("GetStats failed: %v", err)
		}
		if got.ID != rec.ID || got.TotalPlayTime != 42 || got.Version != 1 || got.GameState["score"] != json.Number("10") {
			t.Fatalf("Unexpected record %+v", got)
		}

		got.GameState = schema.GameState{"score": json.Number("20")}
		got.Version = 2
		if err := repo.UpdateStats(ctx, got, 1); err != nil {
			t.Fatalf("UpdateStats failed: %v", err)
		}
		again, _ := repo.GetStats(ctx, "u1", "quiz")
		if again.Version != 2 || again.GameState["score"] != json.Number("20") {
			t.Fatalf("Update not applied: %+v", again)
		}
	})

	t.Run("DuplicateCreateConflicts", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		if err := repo.CreateStats(ctx, Record("u1", "quiz", nil)); err != nil {
			t.Fatalf("CreateStats failed: %v", err)
		}
		err := repo.CreateStats(ctx, Record("u1", "quiz", nil))
		if !errors.Is(err, stats.ErrConflict) {
			t.Fatalf("Expected ErrConflict, got %v", err)
		}
		if err := repo.CreateStats(ctx, Record("u1", "memory", nil)); err != nil {
			t.Fatalf("different game type must not conflict: %v", err)
		}
	})

	t.Run("StaleVersionConflicts", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		rec := Record("u1", "quiz", nil)
		repo.CreateStats(ctx, rec)

		rec.Version = 2
		if err := repo.UpdateStats(ctx, rec, 1); err != nil {
			t.Fatalf("first update failed: %v", err)
		}
		rec.Version = 2
		if err := repo.UpdateStats(ctx, rec, 1); !errors.Is(err, stats.ErrConflict) {
			t.Fatalf("Expected ErrConflict for stale version, got %v", err)
		}
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		repo := newRepo(t)
		err := repo.UpdateStats(context.Background(), Record("u1", "quiz", nil), 1)
		if !errors.Is(err, stats.ErrNotFound) {
			t.Fatalf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("HistoryOrderFilterLimit", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		for i := 0; i < 15; i++ {
			gameType := "quiz"
			if i%3 == 0 {
				gameType = "memory"
			}
			entry := schema.HistoryEntry{
				ID:        uuid.NewString(),
				UserID:    "u1",
				GameType:  gameType,
				GameState: schema.GameState{"i": json.Number(strconv.Itoa(i))},
				Version:   int64(i + 1),
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}
			if err := repo.AppendHistory(ctx, entry); err != nil {
				t.Fatalf("AppendHistory failed: %v", err)
			}
		}
		repo.AppendHistory(ctx, schema.HistoryEntry{ID: uuid.NewString(), UserID: "u2", GameType: "quiz", CreatedAt: base})

		all, err := repo.ListHistory(ctx, stats.HistoryQuery{UserID: "u1", Limit: 100})
		if err != nil {
			t.Fatalf("ListHistory failed: %v", err)
		}
		if len(all) != 15 {
			t.Fatalf("Expected 15 entries, got %d", len(all))
		}
		assertDescending(t, all)

		def, _ := repo.ListHistory(ctx, stats.HistoryQuery{UserID: "u1"})
		if len(def) != stats.DefaultHistoryLimit {
			t.Errorf("Expected default limit %d, got %d", stats.DefaultHistoryLimit, len(def))
		}

		quiz, _ := repo.ListHistory(ctx, stats.HistoryQuery{UserID: "u1", GameType: "quiz", Limit: 3})
		if len(quiz) != 3 {
			t.Fatalf("Expected 3 quiz entries, got %d", len(quiz))
		}
		for _, e := range quiz {
			if e.GameType != "quiz" || e.UserID != "u1" {
				t.Errorf("Unexpected entry %+v", e)
			}
		}
		assertDescending(t, quiz)
		if quiz[0].GameState["i"] != json.Number("14") {
			t.Errorf("Expected newest quiz entry first, got %v", quiz[0].GameState)
		}

		none, err := repo.ListHistory(ctx, stats.HistoryQuery{UserID: "nobody"})
		if err != nil || none == nil || len(none) != 0 {
			t.Errorf("Expected empty non-nil list, got %v (%v)", none, err)
		}
	})

	t.Run("HistoryDuplicateID", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		entry := schema.HistoryEntry{ID: uuid.NewString(), UserID: "u1", GameType: "quiz", CreatedAt: time.Now().UTC()}
		repo.AppendHistory(ctx, entry)
		if err := repo.AppendHistory(ctx, entry); !errors.Is(err, stats.ErrConflict) {
			t.Fatalf("Expected ErrConflict, got %v", err)
		}
	})

	t.Run("Achievements", func(t *testing.T) {
		ctx := context.Background()
		repo := newRepo(t)
		now := time.Now().UTC().Truncate(time.Millisecond)
		for _, id := range []string{"first-win", "streak-5", "first-win"} {
			err := repo.UnlockAchievement(ctx, schema.Achievement{
				ID:            uuid.NewString(),
				UserID:        "u1",
				AchievementID: id,
				UnlockedAt:    now,
				Metadata:      map[string]string{"game": "quiz"},
			})
			if err != nil {
				t.Fatalf("UnlockAchievement failed: %v", err)
			}
		}
		list, err := repo.ListAchievements(ctx, "u1")
		if err != nil {
			t.Fatalf("ListAchievements failed: %v", err)
		}
		var ids []string
		for _, a := range list {
			ids = append(ids, a.AchievementID)
			if a.Metadata["game"] != "quiz" {
				t.Errorf("metadata lost: %+v", a)
			}
		}
		sort.Strings(ids)
		if len(ids) != 2 || ids[0] != "first-win" || ids[1] != "streak-5" {
			t.Errorf("Expected [first-win streak-5], got %v", ids)
		}

		empty, err := repo.ListAchievements(ctx, "u2")
		if err != nil || empty == nil || len(empty) != 0 {
			t.Errorf("Expected empty non-nil set, got %v (%v)", empty, err)
		}
	})
}

func assertDescending(t *testing.T, entries []schema.HistoryEntry) {
	t.Helper()
	for i := 1; i < len(entries); i++ {
		if entries[i].CreatedAt.After(entries[i-1].CreatedAt) {
			t.Fatalf("entries not ordered by created_at desc at %d", i)
		}
	}
}
