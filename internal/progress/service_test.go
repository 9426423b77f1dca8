package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mohametBa/UniversMurid-sub001/internal/apperrors"
	"github.com/mohametBa/UniversMurid-sub001/internal/stats"
	"github.com/mohametBa/UniversMurid-sub001/internal/stats/memstore"
	"github.com/mohametBa/UniversMurid-sub001/internal/stats/statstest"
	"github.com/mohametBa/UniversMurid-sub001/pkg/schema"
)

func newTestService(t *testing.T) (*Service, *memstore.MemStore) {
	t.Helper()
	store := memstore.NewMemStore(nil, nil)
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := NewService(store, WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
	return svc, store
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	saved, err := svc.SaveState(ctx, "U1", "quiz", schema.GameState{"score": float64(10)})
	if err != nil {
		t.Fatalf("SaveState failed: %v", err)
	}
	if saved["score"] != float64(10) || len(saved) != 1 {
		t.Errorf("Expected {score:10}, got %v", saved)
	}

	loaded, ok, err := svc.LoadState(ctx, "U1", "quiz")
	if err != nil || !ok {
		t.Fatalf("LoadState = %v, %v, %v", loaded, ok, err)
	}
	if loaded["score"] != float64(10) || len(loaded) != 1 {
		t.Errorf("Expected {score:10}, got %v", loaded)
	}

	// Full replace, not a deep merge.
	svc.SaveState(ctx, "U1", "quiz", schema.GameState{"level": float64(2)})
	loaded, _, _ = svc.LoadState(ctx, "U1", "quiz")
	if _, stale := loaded["score"]; stale || loaded["level"] != float64(2) {
		t.Errorf("Expected state to be replaced, got %v", loaded)
	}
}

func TestLoadStateAbsent(t *testing.T) {
	svc, _ := newTestService(t)
	state, ok, err := svc.LoadState(context.Background(), "U1", "quiz")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if ok || state != nil {
		t.Errorf("Expected absent result, got %v, %v", state, ok)
	}
}

func TestSaveStateValidationBeforeAuthentication(t *testing.T) {
	svc, _ := newTestService(t)
	for _, userID := range []string{"", "U1"} {
		_, err := svc.SaveState(context.Background(), userID, "  ", schema.GameState{})
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("user %q: expected validation error, got %v", userID, err)
		}
	}
}

func TestSaveStateRequiresIdentity(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.SaveState(context.Background(), "", "quiz", schema.GameState{})
	if !errors.Is(err, apperrors.ErrUnauthenticated) {
		t.Errorf("Expected unauthenticated error, got %v", err)
	}
}

func TestSaveCarriesTotalPlayTimeAndResetsSession(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	rec := statstest.Record("U1", "quiz", schema.GameState{})
	rec.TotalPlayTime = 300
	rec.SessionPlayTime = 45
	rec.LastSaved = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.CreateStats(ctx, rec)

	for i := 0; i < 2; i++ {
		before, _ := store.GetStats(ctx, "U1", "quiz")
		if _, err := svc.SaveState(ctx, "U1", "quiz", schema.GameState{"n": float64(i)}); err != nil {
			t.Fatalf("SaveState failed: %v", err)
		}
		after, _ := store.GetStats(ctx, "U1", "quiz")
		if after.TotalPlayTime < before.TotalPlayTime {
			t.Fatalf("total play time decreased: %d -> %d", before.TotalPlayTime, after.TotalPlayTime)
		}
		if after.TotalPlayTime != 300 {
			t.Errorf("Expected total play time carried forward as 300, got %d", after.TotalPlayTime)
		}
		if after.SessionPlayTime != 0 {
			t.Errorf("Expected session play time reset, got %d", after.SessionPlayTime)
		}
		if after.ID != rec.ID {
			t.Errorf("record must be updated in place, id changed %s -> %s", rec.ID, after.ID)
		}
		if !after.LastSaved.After(before.LastSaved) {
			t.Errorf("last saved not advanced")
		}
	}
}

func TestSaveVersioningAndHistory(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)

	for i := 1; i <= 3; i++ {
		if _, err := svc.SaveState(ctx, "U1", "quiz", schema.GameState{"round": float64(i)}); err != nil {
			t.Fatalf("SaveState %d failed: %v", i, err)
		}
		rec, _ := store.GetStats(ctx, "U1", "quiz")
		if rec.Version != int64(i) {
			t.Errorf("Expected version %d, got %d", i, rec.Version)
		}
	}

	history, _ := store.ListHistory(ctx, stats.HistoryQuery{UserID: "U1", GameType: "quiz"})
	if len(history) != 3 {
		t.Fatalf("Expected 3 history entries, got %d", len(history))
	}
	if history[0].GameState["round"] != float64(3) || history[0].Version != 3 {
		t.Errorf("Expected newest snapshot first, got %+v", history[0])
	}
}

func TestMerge(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	first := Merge(nil, schema.GameState{"a": 1}, "new-id", now)
	if first.ID != "new-id" || first.Version != 1 || first.TotalPlayTime != 0 || !first.LastSaved.Equal(now) {
		t.Errorf("unexpected first record %+v", first)
	}

	existing := schema.GameStatsRecord{ID: "old-id", UserID: "u", GameType: "g", TotalPlayTime: 90, SessionPlayTime: 30, Version: 4}
	next := Merge(&existing, nil, "ignored", now)
	if next.ID != "old-id" || next.Version != 5 || next.TotalPlayTime != 90 || next.SessionPlayTime != 0 {
		t.Errorf("unexpected merged record %+v", next)
	}
	if next.GameState == nil {
		t.Error("nil incoming state should become an empty state")
	}
}

// racingStore simulates another writer committing between the lookup and the write.
type racingStore struct {
	*memstore.MemStore
}

func (r racingStore) CreateStats(ctx context.Context, rec schema.GameStatsRecord) error {
	other := statstest.Record(rec.UserID, rec.GameType, schema.GameState{"winner": "other"})
	r.MemStore.CreateStats(ctx, other)
	return r.MemStore.CreateStats(ctx, rec)
}

func TestSaveConflictIsReported(t *testing.T) {
	svc := NewService(racingStore{memstore.NewMemStore(nil, nil)})
	_, err := svc.SaveState(context.Background(), "U1", "quiz", schema.GameState{"winner": "me"})
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("Expected conflict, got %v", err)
	}
}

type brokenStore struct {
	*memstore.MemStore
}

func (brokenStore) GetStats(context.Context, string, string) (schema.GameStatsRecord, error) {
	return schema.GameStatsRecord{}, errors.New("disk I/O error")
}

func TestRepositoryFailureIsInternal(t *testing.T) {
	svc := NewService(brokenStore{memstore.NewMemStore(nil, nil)})

	_, err := svc.SaveState(context.Background(), "U1", "quiz", schema.GameState{})
	if !errors.Is(err, apperrors.ErrInternal) {
		t.Errorf("SaveState: expected internal error, got %v", err)
	}
	_, _, err = svc.LoadState(context.Background(), "U1", "quiz")
	if !errors.Is(err, apperrors.ErrInternal) {
		t.Errorf("LoadState: expected internal error, got %v", err)
	}
}

type historyDownStore struct {
	*memstore.MemStore
}

func (historyDownStore) AppendHistory(context.Context, schema.HistoryEntry) error {
	return errors.New("history table locked")
}

func TestSaveSucceedsWhenHistoryAppendFails(t *testing.T) {
	ctx := context.Background()
	store := historyDownStore{memstore.NewMemStore(nil, nil)}
	svc := NewService(store)

	saved, err := svc.SaveState(ctx, "U1", "quiz", schema.GameState{"score": float64(10)})
	if err != nil {
		t.Fatalf("Expected the committed save to succeed, got %v", err)
	}
	if saved["score"] != float64(10) {
		t.Errorf("Expected persisted state, got %v", saved)
	}

	rec, err := store.GetStats(ctx, "U1", "quiz")
	if err != nil || rec.Version != 1 {
		t.Fatalf("Expected stored record at version 1, got %+v (%v)", rec, err)
	}
	history, _ := store.ListHistory(ctx, stats.HistoryQuery{UserID: "U1"})
	if len(history) != 0 {
		t.Errorf("Expected no snapshot, got %d", len(history))
	}
}
