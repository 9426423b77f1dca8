// Package progress reconciles a client's game-state blob with the stored
// per-user, per-game-type statistics record.
package progress

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohametBa/UniversMurid-sub001/internal/apperrors"
	"github.com/mohametBa/UniversMurid-sub001/internal/stats"
	"github.com/mohametBa/UniversMurid-sub001/pkg/schema"
)

// Store is the slice of the stats repository the sync service needs.
type Store interface {
	stats.StatsReader
	stats.StatsWriter
	stats.HistoryLog
}

// Service loads and saves game progress. It keeps no state between calls;
// the repository's per-row update is the only serialization point.
type Service struct {
	store  Store
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger used for repository failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService builds a Service over an injected store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validate(userID, gameType string) error {
	if strings.TrimSpace(gameType) == "" {
		return apperrors.New(apperrors.CodeValidation, "gameType is required")
	}
	if strings.TrimSpace(userID) == "" {
		return apperrors.New(apperrors.CodeUnauthenticated, "unauthenticated")
	}
	return nil
}

// LoadState returns the stored game state for (userID, gameType). When no
// record exists yet it returns ok=false and a nil error.
func (s *Service) LoadState(ctx context.Context, userID, gameType string) (state schema.GameState, ok bool, err error) {
	if err := validate(userID, gameType); err != nil {
		return nil, false, err
	}

	rec, err := s.store.GetStats(ctx, userID, gameType)
	if errors.Is(err, stats.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		s.logger.Error("load game state", "user_id", userID, "game_type", gameType, "error", err)
		return nil, false, apperrors.Wrap(apperrors.CodeInternal, "load game state", err)
	}
	return rec.GameState, true, nil
}

// Merge computes the record to persist from the existing record (nil on first
// save) and the incoming state:
//   - the game state is replaced wholesale
//   - total play time is carried forward unchanged
//   - session play time resets to zero
//   - version starts at 1 and increments on every update
func Merge(existing *schema.GameStatsRecord, incoming schema.GameState, id string, now time.Time) schema.GameStatsRecord {
	rec := schema.GameStatsRecord{
		ID:              id,
		GameState:       incoming.Clone(),
		TotalPlayTime:   0,
		SessionPlayTime: 0,
		LastSaved:       now.UTC(),
		Version:         1,
	}
	if rec.GameState == nil {
		rec.GameState = schema.GameState{}
	}
	if existing != nil {
		rec.ID = existing.ID
		rec.UserID = existing.UserID
		rec.GameType = existing.GameType
		rec.TotalPlayTime = existing.TotalPlayTime
		rec.Version = existing.Version + 1
	}
	return rec
}

// SaveState stores incoming as the new game state for (userID, gameType),
// appends a history snapshot, and returns the state as persisted. Once the
// record is written the save succeeds; a failed history append is only logged.
//
// A save that races with another save for the same key fails with a
// CodeConflict error instead of overwriting it. There is no retry.
func (s *Service) SaveState(ctx context.Context, userID, gameType string, incoming schema.GameState) (schema.GameState, error) {
	if err := validate(userID, gameType); err != nil {
		return nil, err
	}
	log := s.logger.With("user_id", userID, "game_type", gameType)

	var existing *schema.GameStatsRecord
	current, err := s.store.GetStats(ctx, userID, gameType)
	switch {
	case err == nil:
		existing = &current
	case errors.Is(err, stats.ErrNotFound):
	default:
		log.Error("look up stats record", "error", err)
		return nil, apperrors.Wrap(apperrors.CodeInternal, "look up stats record", err)
	}

	rec := Merge(existing, incoming, s.newID(), s.now())
	rec.UserID = userID
	rec.GameType = gameType

	if existing != nil {
		err = s.store.UpdateStats(ctx, rec, existing.Version)
	} else {
		err = s.store.CreateStats(ctx, rec)
	}
	if err != nil {
		if errors.Is(err, stats.ErrConflict) || (existing != nil && errors.Is(err, stats.ErrNotFound)) {
			log.Warn("concurrent save lost", "version", rec.Version, "error", err)
			return nil, apperrors.Wrap(apperrors.CodeConflict, "game progress was saved concurrently, reload and retry", err)
		}
		log.Error("write stats record", "error", err)
		return nil, apperrors.Wrap(apperrors.CodeInternal, "write stats record", err)
	}

	entry := schema.HistoryEntry{
		ID:              s.newID(),
		UserID:          userID,
		GameType:        gameType,
		GameState:       rec.GameState,
		TotalPlayTime:   rec.TotalPlayTime,
		SessionPlayTime: rec.SessionPlayTime,
		Version:         rec.Version,
		CreatedAt:       rec.LastSaved,
	}
	// The record is already committed; a missing snapshot must not turn a
	// successful save into a reported failure.
	if err := s.store.AppendHistory(ctx, entry); err != nil {
		log.Error("append history", "version", rec.Version, "error", err)
	}

	persisted, err := s.store.GetStats(ctx, userID, gameType)
	if err != nil {
		log.Warn("read back stats record", "error", err)
		return rec.GameState, nil
	}
	log.Debug("game progress saved", "version", persisted.Version)
	return persisted.GameState, nil
}
