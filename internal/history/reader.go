// Package history serves read-only views of saved snapshots and unlocked achievements.
package history

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mohametBa/UniversMurid-sub001/internal/apperrors"
	"github.com/mohametBa/UniversMurid-sub001/internal/stats"
	"github.com/mohametBa/UniversMurid-sub001/pkg/schema"
)

// Store is the slice of the stats repository the reader needs.
type Store interface {
	ListHistory(ctx context.Context, q stats.HistoryQuery) ([]schema.HistoryEntry, error)
	ListAchievements(ctx context.Context, userID string) ([]schema.Achievement, error)
}

// Reader lists history and achievements for a verified identity.
type Reader struct {
	store    Store
	maxLimit int
	logger   *slog.Logger
}

// NewReader returns a Reader. maxLimit caps the page size; zero means no cap.
func NewReader(store Store, maxLimit int, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{store: store, maxLimit: maxLimit, logger: logger}
}

func requireIdentity(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperrors.New(apperrors.CodeUnauthenticated, "unauthenticated")
	}
	return nil
}

// ListHistory returns at most limit snapshots, newest first, optionally
// narrowed to one game type. A non-positive limit means the default of 10.
func (r *Reader) ListHistory(ctx context.Context, userID, gameType string, limit int) ([]schema.HistoryEntry, error) {
	if err := requireIdentity(userID); err != nil {
		return nil, err
	}
	q := stats.HistoryQuery{
		UserID:   userID,
		GameType: strings.TrimSpace(gameType),
		Limit:    stats.NormalizeLimit(limit, r.maxLimit),
	}
	entries, err := r.store.ListHistory(ctx, q)
	if err != nil {
		r.logger.Error("list history", "user_id", userID, "game_type", q.GameType, "error", err)
		return nil, apperrors.Wrap(apperrors.CodeInternal, "list history", err)
	}
	if entries == nil {
		entries = []schema.HistoryEntry{}
	}
	if len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}
	return entries, nil
}

// ListAchievements returns every achievement the user has unlocked, in no particular order.
func (r *Reader) ListAchievements(ctx context.Context, userID string) ([]schema.Achievement, error) {
	if err := requireIdentity(userID); err != nil {
		return nil, err
	}
	list, err := r.store.ListAchievements(ctx, userID)
	if err != nil {
		r.logger.Error("list achievements", "user_id", userID, "error", err)
		return nil, apperrors.Wrap(apperrors.CodeInternal, "list achievements", err)
	}
	if list == nil {
		list = []schema.Achievement{}
	}
	return list, nil
}
