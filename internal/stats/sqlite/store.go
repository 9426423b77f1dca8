// Package sqlite provides a SQLite-backed stats repository.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/mohametBa/UniversMurid-sub001/internal/stats"
	"github.com/mohametBa/UniversMurid-sub001/internal/vault"
	"github.com/mohametBa/UniversMurid-sub001/pkg/schema"
)

// Store persists stats, history and achievements in SQLite.
type Store struct {
	sqlDB  *sql.DB
	sealer *vault.Sealer
}

var (
	_ stats.Repository = (*Store)(nil)
	_ stats.Exporter   = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithSealer encrypts game-state blobs at rest.
func WithSealer(s *vault.Sealer) Option {
	return func(st *Store) { st.sealer = s }
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens or creates the SQLite database and applies migrations.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	dsn := cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	s := &Store{sqlDB: sqlDB}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS game_stats (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			game_type TEXT NOT NULL,
			game_state TEXT NOT NULL,
			total_play_time INTEGER NOT NULL DEFAULT 0,
			session_play_time INTEGER NOT NULL DEFAULT 0,
			last_saved INTEGER NOT NULL,
			version INTEGER NOT NULL,
			UNIQUE(user_id, game_type)
		)`,
		`CREATE TABLE IF NOT EXISTS game_history (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			game_type TEXT NOT NULL,
			game_state TEXT NOT NULL,
			total_play_time INTEGER NOT NULL,
			session_play_time INTEGER NOT NULL,
			version INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS achievements (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			achievement_id TEXT NOT NULL,
			unlocked_at INTEGER NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			UNIQUE(user_id, achievement_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_game_history_user_created ON game_history(user_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_achievements_user ON achievements(user_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.sqlDB.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (s *Store) encodeState(state schema.GameState) (string, error) {
	if state == nil {
		state = schema.GameState{}
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("encode game state: %w", err)
	}
	if s.sealer == nil {
		return string(raw), nil
	}
	return s.sealer.Seal(raw)
}

func (s *Store) decodeState(value string) (schema.GameState, error) {
	raw := []byte(value)
	if vault.IsSealed(value) {
		if s.sealer == nil {
			return nil, fmt.Errorf("game state is encrypted but no state key is configured")
		}
		opened, err := s.sealer.Open(value)
		if err != nil {
			return nil, err
		}
		raw = opened
	}
	state, err := schema.DecodeGameState(raw)
	if err != nil {
		return nil, fmt.Errorf("decode game state: %w", err)
	}
	return state, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanStats(row rowScanner) (schema.GameStatsRecord, error) {
	var rec schema.GameStatsRecord
	var state string
	var lastSaved int64
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.GameType, &state, &rec.TotalPlayTime, &rec.SessionPlayTime, &lastSaved, &rec.Version); err != nil {
		return schema.GameStatsRecord{}, err
	}
	decoded, err := s.decodeState(state)
	if err != nil {
		return schema.GameStatsRecord{}, err
	}
	rec.GameState = decoded
	rec.LastSaved = fromMillis(lastSaved)
	return rec, nil
}

const statsColumns = `id, user_id, game_type, game_state, total_play_time, session_play_time, last_saved, version`

// GetStats returns the unique record for (userID, gameType).
func (s *Store) GetStats(ctx context.Context, userID, gameType string) (schema.GameStatsRecord, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+statsColumns+` FROM game_stats WHERE user_id = ? AND game_type = ?`,
		userID, gameType,
	)
	rec, err := s.scanStats(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return schema.GameStatsRecord{}, stats.ErrNotFound
		}
		return schema.GameStatsRecord{}, fmt.Errorf("get stats: %w", err)
	}
	return rec, nil
}

// CreateStats inserts a new record.
func (s *Store) CreateStats(ctx context.Context, rec schema.GameStatsRecord) error {
	state, err := s.encodeState(rec.GameState)
	if err != nil {
		return err
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO game_stats (`+statsColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.GameType, state,
		rec.TotalPlayTime, rec.SessionPlayTime, toMillis(rec.LastSaved), rec.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return stats.ErrConflict
		}
		return fmt.Errorf("create stats: %w", err)
	}
	return nil
}

// UpdateStats updates by primary key, guarded by the expected version.
func (s *Store) UpdateStats(ctx context.Context, rec schema.GameStatsRecord, expectedVersion int64) error {
	state, err := s.encodeState(rec.GameState)
	if err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE game_stats
		    SET game_state = ?, total_play_time = ?, session_play_time = ?, last_saved = ?, version = ?
		  WHERE id = ? AND version = ?`,
		state, rec.TotalPlayTime, rec.SessionPlayTime, toMillis(rec.LastSaved), rec.Version,
		rec.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update stats: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update stats: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM game_stats WHERE id = ?`, rec.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return stats.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update stats: %w", err)
	}
	return stats.ErrConflict
}

// AppendHistory inserts an immutable snapshot.
func (s *Store) AppendHistory(ctx context.Context, entry schema.HistoryEntry) error {
	state, err := s.encodeState(entry.GameState)
	if err != nil {
		return err
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO game_history (id, user_id, game_type, game_state, total_play_time, session_play_time, version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.GameType, state,
		entry.TotalPlayTime, entry.SessionPlayTime, entry.Version, toMillis(entry.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return stats.ErrConflict
		}
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// ListHistory returns the newest entries first.
func (s *Store) ListHistory(ctx context.Context, q stats.HistoryQuery) ([]schema.HistoryEntry, error) {
	query := `SELECT id, user_id, game_type, game_state, total_play_time, session_play_time, version, created_at
	            FROM game_history
	           WHERE user_id = ?`
	args := []any{q.UserID}
	if q.GameType != "" {
		query += ` AND game_type = ?`
		args = append(args, q.GameType)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, stats.NormalizeLimit(q.Limit, 0))

	return s.queryHistory(ctx, query, args...)
}

func (s *Store) queryHistory(ctx context.Context, query string, args ...any) ([]schema.HistoryEntry, error) {
	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	list := []schema.HistoryEntry{}
	for rows.Next() {
		var e schema.HistoryEntry
		var state string
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.GameType, &state, &e.TotalPlayTime, &e.SessionPlayTime, &e.Version, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if e.GameState, err = s.decodeState(state); err != nil {
			return nil, err
		}
		e.CreatedAt = fromMillis(createdAt)
		list = append(list, e)
	}
	return list, rows.Err()
}

// UnlockAchievement stores an achievement; unlocking it again is a no-op.
func (s *Store) UnlockAchievement(ctx context.Context, a schema.Achievement) error {
	meta := a.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode achievement metadata: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO achievements (id, user_id, achievement_id, unlocked_at, metadata)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, achievement_id) DO NOTHING`,
		a.ID, a.UserID, a.AchievementID, toMillis(a.UnlockedAt), string(rawMeta),
	)
	if err != nil {
		return fmt.Errorf("unlock achievement: %w", err)
	}
	return nil
}

// ListAchievements returns all achievements owned by userID.
func (s *Store) ListAchievements(ctx context.Context, userID string) ([]schema.Achievement, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, user_id, achievement_id, unlocked_at, metadata FROM achievements WHERE user_id = ?`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list achievements: %w", err)
	}
	defer rows.Close()

	list := []schema.Achievement{}
	for rows.Next() {
		var a schema.Achievement
		var unlockedAt int64
		var rawMeta string
		if err := rows.Scan(&a.ID, &a.UserID, &a.AchievementID, &unlockedAt, &rawMeta); err != nil {
			return nil, fmt.Errorf("scan achievement: %w", err)
		}
		a.UnlockedAt = fromMillis(unlockedAt)
		if rawMeta != "" && rawMeta != "{}" {
			if err := json.Unmarshal([]byte(rawMeta), &a.Metadata); err != nil {
				return nil, fmt.Errorf("decode achievement metadata: %w", err)
			}
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// --- Export ---

// ListUsers returns every user owning stats, history or achievements.
func (s *Store) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT user_id FROM game_stats
		 UNION SELECT user_id FROM game_history
		 UNION SELECT user_id FROM achievements
		 ORDER BY user_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// ListStats returns every stats record of a user.
func (s *Store) ListStats(ctx context.Context, userID string) ([]schema.GameStatsRecord, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+statsColumns+` FROM game_stats WHERE user_id = ? ORDER BY game_type`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list stats: %w", err)
	}
	defer rows.Close()

	var list []schema.GameStatsRecord
	for rows.Next() {
		rec, err := s.scanStats(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

// AllHistory returns every history entry of a user, oldest first.
func (s *Store) AllHistory(ctx context.Context, userID string) ([]schema.HistoryEntry, error) {
	return s.queryHistory(ctx,
		`SELECT id, user_id, game_type, game_state, total_play_time, session_play_time, version, created_at
		   FROM game_history
		  WHERE user_id = ?
		  ORDER BY created_at ASC, rowid ASC`,
		userID,
	)
}
