// Package stats defines the repository contract for per-user game statistics,
// their history snapshots and unlocked achievements.
package stats

import (
	"context"
	"errors"

	"github.com/mohametBa/UniversMurid-sub001/pkg/schema"
)

var (
	// ErrNotFound is returned when no stats record exists for a key.
	ErrNotFound = errors.New("stats record not found")
	// ErrConflict is returned when an insert hits an existing (user, game type)
	// pair or an update's expected version no longer matches.
	ErrConflict = errors.New("stats record conflict")
)

// DefaultHistoryLimit is used when a history query does not set a limit.
const DefaultHistoryLimit = 10

// HistoryQuery narrows a history listing. An empty GameType matches all game types.
type HistoryQuery struct {
	UserID   string
	GameType string
	Limit    int
}

// --- Functional Interfaces (Interface Segregation) ---

// StatsReader looks up the unique stats record for a user and game type.
type StatsReader interface {
	GetStats(ctx context.Context, userID, gameType string) (schema.GameStatsRecord, error)
}

// StatsWriter creates and updates stats records.
type StatsWriter interface {
	// CreateStats inserts a new record. It returns ErrConflict if the
	// (user, game type) pair already exists.
	CreateStats(ctx context.Context, rec schema.GameStatsRecord) error
	// UpdateStats replaces the record with rec.ID, provided its stored version
	// still equals expectedVersion. It returns ErrNotFound or ErrConflict.
	UpdateStats(ctx context.Context, rec schema.GameStatsRecord, expectedVersion int64) error
}

// HistoryLog is the append-only snapshot ledger.
type HistoryLog interface {
	// AppendHistory returns ErrConflict if an entry with the same ID exists.
	AppendHistory(ctx context.Context, entry schema.HistoryEntry) error
	// ListHistory returns entries ordered by CreatedAt descending, at most q.Limit of them.
	ListHistory(ctx context.Context, q HistoryQuery) ([]schema.HistoryEntry, error)
}

// AchievementStore stores achievements unlocked by collaborators and lists them per user.
type AchievementStore interface {
	// UnlockAchievement is idempotent per (user, achievement id).
	UnlockAchievement(ctx context.Context, a schema.Achievement) error
	ListAchievements(ctx context.Context, userID string) ([]schema.Achievement, error)
}

// --- Composite Interfaces ---

// Repository is the durable storage abstraction consumed by the sync service
// and the history reader.
type Repository interface {
	StatsReader
	StatsWriter
	HistoryLog
	AchievementStore
}

// Exporter enumerates a repository's full contents; used by Migrate.
type Exporter interface {
	ListUsers(ctx context.Context) ([]string, error)
	ListStats(ctx context.Context, userID string) ([]schema.GameStatsRecord, error)
	// AllHistory returns every history entry of a user, oldest first.
	AllHistory(ctx context.Context, userID string) ([]schema.HistoryEntry, error)
	ListAchievements(ctx context.Context, userID string) ([]schema.Achievement, error)
}

// NormalizeLimit applies the default and clamps to max when max is positive.
func NormalizeLimit(limit, max int) int {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if max > 0 && limit > max {
		limit = max
	}
	return limit
}
