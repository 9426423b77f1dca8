package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mohametBa/UniversMurid-sub001/internal/auth"
	"github.com/mohametBa/UniversMurid-sub001/internal/history"
	"github.com/mohametBa/UniversMurid-sub001/internal/offline"
	"github.com/mohametBa/UniversMurid-sub001/internal/progress"
	"github.com/mohametBa/UniversMurid-sub001/internal/stats"
	"github.com/mohametBa/UniversMurid-sub001/internal/stats/memstore"
	"github.com/mohametBa/UniversMurid-sub001/pkg/schema"
)

var testSecret = []byte("test-secret")

type testStore interface {
	progress.Store
	history.Store
}

func setupTestRouter(t *testing.T, store testStore) (*gin.Engine, *Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	verifier, err := auth.NewJWTVerifier(testSecret, "")
	if err != nil {
		t.Fatalf("NewJWTVerifier failed: %v", err)
	}
	h := &Handler{
		Progress: progress.NewService(store),
		Reader:   history.NewReader(store, 50, nil),
		Verifier: verifier,
	}
	r := gin.New()
	r.POST("/game-progress", h.SaveProgress)
	r.GET("/game-progress", h.LoadProgress)
	r.GET("/game-stats/history", h.GetHistory)
	r.GET("/game-stats/achievements", h.GetAchievements)
	r.GET("/offline/manifest", h.GetManifest)
	r.GET("/healthz", h.Health)
	return r, h
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := auth.Issue(testSecret, "", userID, time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	return tok
}

func do(r *gin.Engine, method, url, bearer string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSaveThenLoad(t *testing.T) {
	r, _ := setupTestRouter(t, memstore.NewMemStore(nil, nil))
	tok := token(t, "U1")

	w := do(r, http.MethodPost, "/game-progress", tok, map[string]any{"gameType": "quiz", "score": 10})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var saved map[string]any
	json.Unmarshal(w.Body.Bytes(), &saved)
	if _, ok := saved["gameType"]; ok {
		t.Errorf("gameType should be stripped, got %v", saved)
	}
	if saved["score"] != float64(10) {
		t.Errorf("Expected score 10, got %v", saved["score"])
	}

	w = do(r, http.MethodGet, "/game-progress?gameType=quiz", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if got := bytes.TrimSpace(w.Body.Bytes()); string(got) != `{"score":10}` {
		t.Errorf("Expected {\"score\":10}, got %s", got)
	}
}

func TestLoadUnsavedIsNull(t *testing.T) {
	r, _ := setupTestRouter(t, memstore.NewMemStore(nil, nil))

	w := do(r, http.MethodGet, "/game-progress?gameType=memory", token(t, "U1"), nil)
	if w.Code != http.StatusOK || w.Body.String() != "null" {
		t.Errorf("Expected 200 null, got %d %s", w.Code, w.Body.String())
	}
}

func TestGameTypeRequired(t *testing.T) {
	r, _ := setupTestRouter(t, memstore.NewMemStore(nil, nil))

	// Validation wins over authentication.
	for _, bearer := range []string{"", "garbage", token(t, "U1")} {
		w := do(r, http.MethodPost, "/game-progress", bearer, map[string]any{"score": 1})
		if w.Code != http.StatusBadRequest {
			t.Errorf("POST with bearer %q: expected 400, got %d", bearer, w.Code)
		}
		w = do(r, http.MethodGet, "/game-progress", bearer, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("GET with bearer %q: expected 400, got %d", bearer, w.Code)
		}
	}

	w := do(r, http.MethodPost, "/game-progress", "", "not an object")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for non-object body, got %d", w.Code)
	}
}

func TestCredentialRequired(t *testing.T) {
	r, _ := setupTestRouter(t, memstore.NewMemStore(nil, nil))
	forged, _ := auth.Issue([]byte("other-secret"), "", "U1", time.Hour)

	requests := []struct {
		method, url string
		body        any
	}{
		{http.MethodPost, "/game-progress", map[string]any{"gameType": "quiz"}},
		{http.MethodGet, "/game-progress?gameType=quiz", nil},
		{http.MethodGet, "/game-stats/history", nil},
		{http.MethodGet, "/game-stats/achievements", nil},
	}
	for _, rq := range requests {
		for _, bearer := range []string{"", forged} {
			w := do(r, rq.method, rq.url, bearer, rq.body)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("%s %s: expected 401, got %d", rq.method, rq.url, w.Code)
			}
		}
	}
}

func TestIdentityHeaderMustMatchCredential(t *testing.T) {
	r, _ := setupTestRouter(t, memstore.NewMemStore(nil, nil))

	req, _ := http.NewRequest(http.MethodGet, "/game-stats/history", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, "U1"))
	req.Header.Set(auth.IdentityHeader, "U2")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for mismatched identity, got %d", w.Code)
	}

	req.Header.Set(auth.IdentityHeader, "U1")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for matching identity, got %d", w.Code)
	}
}

func TestHistory(t *testing.T) {
	r, _ := setupTestRouter(t, memstore.NewMemStore(nil, nil))
	tok := token(t, "U1")

	for i := 0; i < 4; i++ {
		do(r, http.MethodPost, "/game-progress", tok, map[string]any{"gameType": "quiz", "round": i})
	}
	do(r, http.MethodPost, "/game-progress", tok, map[string]any{"gameType": "memory"})
	do(r, http.MethodPost, "/game-progress", token(t, "U2"), map[string]any{"gameType": "quiz"})

	w := do(r, http.MethodGet, "/game-stats/history?gameType=quiz&limit=3", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var entries []schema.HistoryEntry
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.UserID != "U1" || e.GameType != "quiz" {
			t.Errorf("entry %d leaked another key: %+v", i, e)
		}
		if i > 0 && e.CreatedAt.After(entries[i-1].CreatedAt) {
			t.Errorf("entries not newest first at %d", i)
		}
	}

	w = do(r, http.MethodGet, "/game-stats/history", tok, nil)
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != 5 {
		t.Errorf("Expected all 5 of U1's entries, got %d", len(entries))
	}

	w = do(r, http.MethodGet, "/game-stats/history?limit=abc", tok, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad limit, got %d", w.Code)
	}

	w = do(r, http.MethodGet, "/game-stats/history", token(t, "nobody"), nil)
	if w.Code != http.StatusOK || w.Body.String() != "[]" {
		t.Errorf("Expected empty array, got %d %s", w.Code, w.Body.String())
	}
}

func TestAchievements(t *testing.T) {
	store := memstore.NewMemStore(nil, nil)
	r, _ := setupTestRouter(t, store)
	store.UnlockAchievement(context.Background(), schema.Achievement{
		ID: "a1", UserID: "U1", AchievementID: "first-win", UnlockedAt: time.Now().UTC(),
	})

	w := do(r, http.MethodGet, "/game-stats/achievements", token(t, "U1"), nil)
	var list []schema.Achievement
	json.Unmarshal(w.Body.Bytes(), &list)
	if w.Code != http.StatusOK || len(list) != 1 || list[0].AchievementID != "first-win" {
		t.Errorf("Expected first-win, got %d %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodGet, "/game-stats/achievements", token(t, "U2"), nil)
	if w.Code != http.StatusOK || w.Body.String() != "[]" {
		t.Errorf("Expected empty array, got %d %s", w.Code, w.Body.String())
	}
}

// failingStore fails every call with a detailed storage error.
type failingStore struct{}

var errDisk = errors.New("disk I/O error at /var/lib/progress.db")

func (failingStore) GetStats(context.Context, string, string) (schema.GameStatsRecord, error) {
	return schema.GameStatsRecord{}, errDisk
}
func (failingStore) CreateStats(context.Context, schema.GameStatsRecord) error { return errDisk }
func (failingStore) UpdateStats(context.Context, schema.GameStatsRecord, int64) error {
	return errDisk
}
func (failingStore) AppendHistory(context.Context, schema.HistoryEntry) error { return errDisk }
func (failingStore) ListHistory(context.Context, stats.HistoryQuery) ([]schema.HistoryEntry, error) {
	return nil, errDisk
}
func (failingStore) ListAchievements(context.Context, string) ([]schema.Achievement, error) {
	return nil, errDisk
}

func TestRepositoryFailureIsOpaque(t *testing.T) {
	r, _ := setupTestRouter(t, failingStore{})
	tok := token(t, "U1")

	for _, w := range []*httptest.ResponseRecorder{
		do(r, http.MethodPost, "/game-progress", tok, map[string]any{"gameType": "quiz"}),
		do(r, http.MethodGet, "/game-progress?gameType=quiz", tok, nil),
		do(r, http.MethodGet, "/game-stats/history", tok, nil),
		do(r, http.MethodGet, "/game-stats/achievements", tok, nil),
	} {
		if w.Code != http.StatusInternalServerError {
			t.Errorf("Expected 500, got %d", w.Code)
		}
		if w.Body.String() != `{"error":"internal error"}` {
			t.Errorf("internal detail leaked: %s", w.Body.String())
		}
	}
}

// conflictStore loses every write race.
type conflictStore struct{ *memstore.MemStore }

func (s conflictStore) CreateStats(context.Context, schema.GameStatsRecord) error {
	return fmt.Errorf("insert: %w", stats.ErrConflict)
}

func TestConcurrentSaveConflict(t *testing.T) {
	r, _ := setupTestRouter(t, conflictStore{memstore.NewMemStore(nil, nil)})

	w := do(r, http.MethodPost, "/game-progress", token(t, "U1"), map[string]any{"gameType": "quiz"})
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", w.Code)
	}
}

// historyDownStore commits records but cannot append snapshots.
type historyDownStore struct{ *memstore.MemStore }

func (historyDownStore) AppendHistory(context.Context, schema.HistoryEntry) error { return errDisk }

func TestSaveSurvivesHistoryFailure(t *testing.T) {
	r, _ := setupTestRouter(t, historyDownStore{memstore.NewMemStore(nil, nil)})
	tok := token(t, "U1")

	w := do(r, http.MethodPost, "/game-progress", tok, map[string]any{"gameType": "quiz", "score": 10})
	if w.Code != http.StatusOK || w.Body.String() != `{"score":10}` {
		t.Fatalf("Expected committed save to answer 200, got %d %s", w.Code, w.Body.String())
	}
	w = do(r, http.MethodGet, "/game-progress?gameType=quiz", tok, nil)
	if w.Code != http.StatusOK || w.Body.String() != `{"score":10}` {
		t.Errorf("Expected saved state on load, got %d %s", w.Code, w.Body.String())
	}
}

func TestLargeIntegersRoundTrip(t *testing.T) {
	r, _ := setupTestRouter(t, memstore.NewMemStore(nil, nil))
	tok := token(t, "U1")

	body := json.RawMessage(`{"gameType":"quiz","seed":9007199254740993,"nested":{"ids":[18446744073709551615]}}`)
	want := `{"nested":{"ids":[18446744073709551615]},"seed":9007199254740993}`

	w := do(r, http.MethodPost, "/game-progress", tok, body)
	if w.Code != http.StatusOK || w.Body.String() != want {
		t.Fatalf("save: expected %s, got %d %s", want, w.Code, w.Body.String())
	}
	w = do(r, http.MethodGet, "/game-progress?gameType=quiz", tok, nil)
	if w.Body.String() != want {
		t.Errorf("load: expected %s, got %s", want, w.Body.String())
	}
}

func TestManifestAndHealth(t *testing.T) {
	r, h := setupTestRouter(t, memstore.NewMemStore(nil, nil))

	if w := do(r, http.MethodGet, "/offline/manifest", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without offline manager, got %d", w.Code)
	}

	shell := offline.FetcherFunc(func(ctx context.Context, url string) (offline.Response, error) {
		return offline.Response{Status: http.StatusOK, Body: []byte(url)}, nil
	})
	h.Offline = offline.NewManager(offline.NewMemCacheStore(nil, nil), shell,
		offline.Manifest{Generation: "v1", URLs: []string{"/", "/favicon.ico"}}, nil)
	h.Offline.Start(context.Background())

	w := do(r, http.MethodGet, "/offline/manifest", "", nil)
	var got struct {
		Generation string   `json:"generation"`
		URLs       []string `json:"urls"`
		State      string   `json:"state"`
		Active     string   `json:"active"`
	}
	json.Unmarshal(w.Body.Bytes(), &got)
	if got.Generation != "v1" || len(got.URLs) != 2 || got.State != "active" || got.Active != "v1" {
		t.Errorf("unexpected manifest response %s", w.Body.String())
	}

	if w := do(r, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}
