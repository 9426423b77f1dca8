// Package memstore is the in-memory stats repository. With a persister
// attached, every write is flushed to one JSON document per user in the
// background.
package memstore

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sort"
	"sync"

	"github.com/mohametBa/UniversMurid-sub001/internal/persist"
	"github.com/mohametBa/UniversMurid-sub001/internal/stats"
	"github.com/mohametBa/UniversMurid-sub001/pkg/schema"
)

// UserData is everything stored for one user. It is also the on-disk document shape.
type UserData struct {
	Stats        map[string]schema.GameStatsRecord `json:"stats"`        // by game type
	History      []schema.HistoryEntry             `json:"history"`      // append order
	Achievements map[string]schema.Achievement     `json:"achievements"` // by achievement id
}

func newUserData() *UserData {
	return &UserData{
		Stats:        make(map[string]schema.GameStatsRecord),
		Achievements: make(map[string]schema.Achievement),
	}
}

// MemStore is a thread-safe stats.Repository.
type MemStore struct {
	mu        sync.RWMutex
	data      map[string]*UserData // by user id
	persister *persist.Persistence
	wg        sync.WaitGroup

	// pending holds the newest unsaved snapshot per user. A single writer
	// drains it, so a stale snapshot never lands after a newer one.
	pendingMu sync.Mutex
	pending   map[string]*UserData
	writing   bool
}

var (
	_ stats.Repository = (*MemStore)(nil)
	_ stats.Exporter   = (*MemStore)(nil)
)

// NewMemStore initializes a store.
// It accepts existing data (from Load) and an optional persister.
func NewMemStore(initialData map[string]*UserData, p *persist.Persistence) *MemStore {
	if initialData == nil {
		initialData = make(map[string]*UserData)
	}
	for _, u := range initialData {
		if u.Stats == nil {
			u.Stats = make(map[string]schema.GameStatsRecord)
		}
		if u.Achievements == nil {
			u.Achievements = make(map[string]schema.Achievement)
		}
	}
	return &MemStore{data: initialData, persister: p, pending: make(map[string]*UserData)}
}

// documentName maps a user id to a file-safe document name. Identities are
// opaque and may contain path separators.
func documentName(userID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(userID))
}

// Load reads every user document from p, keyed by user id.
func Load(p *persist.Persistence) (map[string]*UserData, error) {
	docs, err := persist.LoadAll[*UserData](p)
	if err != nil {
		return nil, err
	}
	data := make(map[string]*UserData, len(docs))
	for name, doc := range docs {
		id, err := base64.RawURLEncoding.DecodeString(name)
		if err != nil || doc == nil {
			slog.Warn("skipping unrecognized stats document", "document", name)
			continue
		}
		data[string(id)] = doc
	}
	return data, nil
}

// Open loads a JSON data directory and returns a store persisting back into it.
func Open(dir string) (*MemStore, error) {
	p, err := persist.NewPersistence(dir)
	if err != nil {
		return nil, err
	}
	data, err := Load(p)
	if err != nil {
		return nil, err
	}
	return NewMemStore(data, p), nil
}

// Wait waits for all background persistence tasks to complete.
func (m *MemStore) Wait() {
	m.wg.Wait()
}

// user returns the user's data, creating it. Must hold m.mu.Lock.
func (m *MemStore) user(userID string) *UserData {
	u, ok := m.data[userID]
	if !ok {
		u = newUserData()
		m.data[userID] = u
	}
	return u
}

// flush queues a copy of the user's data for the background writer.
// It MUST be called while holding m.mu.Lock.
func (m *MemStore) flush(userID string) {
	if m.persister == nil {
		return
	}
	snapshot := m.copyUserData(userID)

	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	m.pending[userID] = snapshot
	if m.writing {
		return
	}
	m.writing = true
	m.wg.Add(1)
	go m.drain()
}

// drain saves pending snapshots until none are left.
func (m *MemStore) drain() {
	defer m.wg.Done()
	for {
		m.pendingMu.Lock()
		var id string
		var data *UserData
		for id, data = range m.pending {
			break
		}
		if data == nil {
			m.writing = false
			m.pendingMu.Unlock()
			return
		}
		delete(m.pending, id)
		m.pendingMu.Unlock()

		if err := m.persister.Save(documentName(id), data); err != nil {
			slog.Error("persist user stats", "user_id", id, "error", err)
		}
	}
}

// copyUserData creates a deep copy of a user's data.
// It MUST be called while holding m.mu.Lock or m.mu.RLock.
func (m *MemStore) copyUserData(userID string) *UserData {
	original, ok := m.data[userID]
	if !ok {
		return nil
	}
	out := newUserData()
	for k, rec := range original.Stats {
		rec.GameState = rec.GameState.Clone()
		out.Stats[k] = rec
	}
	out.History = make([]schema.HistoryEntry, len(original.History))
	copy(out.History, original.History)
	for k, a := range original.Achievements {
		out.Achievements[k] = a
	}
	return out
}

// --- Interface Implementation ---

func (m *MemStore) GetStats(ctx context.Context, userID, gameType string) (schema.GameStatsRecord, error) {
	if err := ctx.Err(); err != nil {
		return schema.GameStatsRecord{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.data[userID]
	if !ok {
		return schema.GameStatsRecord{}, stats.ErrNotFound
	}
	rec, ok := u.Stats[gameType]
	if !ok {
		return schema.GameStatsRecord{}, stats.ErrNotFound
	}
	rec.GameState = rec.GameState.Clone()
	return rec, nil
}

func (m *MemStore) CreateStats(ctx context.Context, rec schema.GameStatsRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.user(rec.UserID)
	if _, exists := u.Stats[rec.GameType]; exists {
		return stats.ErrConflict
	}
	rec.GameState = rec.GameState.Clone()
	u.Stats[rec.GameType] = rec
	m.flush(rec.UserID)
	return nil
}

func (m *MemStore) UpdateStats(ctx context.Context, rec schema.GameStatsRecord, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.data[rec.UserID]
	if !ok {
		return stats.ErrNotFound
	}
	current, ok := u.Stats[rec.GameType]
	if !ok || current.ID != rec.ID {
		return stats.ErrNotFound
	}
	if current.Version != expectedVersion {
		return stats.ErrConflict
	}
	rec.GameState = rec.GameState.Clone()
	u.Stats[rec.GameType] = rec
	m.flush(rec.UserID)
	return nil
}

func (m *MemStore) AppendHistory(ctx context.Context, entry schema.HistoryEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.user(entry.UserID)
	for _, existing := range u.History {
		if existing.ID == entry.ID {
			return stats.ErrConflict
		}
	}
	entry.GameState = entry.GameState.Clone()
	u.History = append(u.History, entry)
	m.flush(entry.UserID)
	return nil
}

func (m *MemStore) ListHistory(ctx context.Context, q stats.HistoryQuery) ([]schema.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := []schema.HistoryEntry{}
	u, ok := m.data[q.UserID]
	if !ok {
		return list, nil
	}
	// Walk newest first so equal timestamps list the latest append first.
	for i := len(u.History) - 1; i >= 0; i-- {
		e := u.History[i]
		if q.GameType != "" && e.GameType != q.GameType {
			continue
		}
		e.GameState = e.GameState.Clone()
		list = append(list, e)
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	limit := stats.NormalizeLimit(q.Limit, 0)
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (m *MemStore) UnlockAchievement(ctx context.Context, a schema.Achievement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u := m.user(a.UserID)
	if _, ok := u.Achievements[a.AchievementID]; ok {
		return nil
	}
	u.Achievements[a.AchievementID] = a
	m.flush(a.UserID)
	return nil
}

func (m *MemStore) ListAchievements(ctx context.Context, userID string) ([]schema.Achievement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := []schema.Achievement{}
	if u, ok := m.data[userID]; ok {
		for _, a := range u.Achievements {
			list = append(list, a)
		}
	}
	return list, nil
}

// --- Export ---

func (m *MemStore) ListUsers(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var list []string
	for id := range m.data {
		list = append(list, id)
	}
	sort.Strings(list)
	return list, nil
}

func (m *MemStore) ListStats(ctx context.Context, userID string) ([]schema.GameStatsRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var list []schema.GameStatsRecord
	if u, ok := m.data[userID]; ok {
		for _, rec := range u.Stats {
			rec.GameState = rec.GameState.Clone()
			list = append(list, rec)
		}
	}
	return list, nil
}

func (m *MemStore) AllHistory(ctx context.Context, userID string) ([]schema.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var list []schema.HistoryEntry
	if u, ok := m.data[userID]; ok {
		list = append(list, u.History...)
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list, nil
}
