// Package schema defines the data structures shared by the progress server and its clients.
package schema

import (
	"bytes"
	"encoding/json"
	"time"
)

// GameState is the opaque, game-specific state blob. Its shape is owned by the
// client and never validated by the server.
type GameState map[string]any

// Clone returns a shallow copy so callers cannot mutate stored state through a returned map.
func (s GameState) Clone() GameState {
	if s == nil {
		return nil
	}
	out := make(GameState, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// UnmarshalJSON decodes numbers as json.Number, so integers beyond float64
// precision come back exactly as they were sent.
func (s *GameState) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}
	*s = m
	return nil
}

// DecodeGameState parses a JSON object into a GameState.
func DecodeGameState(raw []byte) (GameState, error) {
	var state GameState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, err
	}
	return state, nil
}

// GameStatsRecord is the durable per-user, per-game-type statistics row.
// (UserID, GameType) is unique.
type GameStatsRecord struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	GameType        string    `json:"game_type"`
	GameState       GameState `json:"game_state"`
	TotalPlayTime   int64     `json:"total_play_time"`   // seconds, never decreases
	SessionPlayTime int64     `json:"session_play_time"` // seconds, reset on every save
	LastSaved       time.Time `json:"last_saved"`
	Version         int64     `json:"version"`
}

// HistoryEntry is an immutable snapshot appended on every save.
type HistoryEntry struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	GameType        string    `json:"game_type"`
	GameState       GameState `json:"game_state"`
	TotalPlayTime   int64     `json:"total_play_time"`
	SessionPlayTime int64     `json:"session_play_time"`
	Version         int64     `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
}

// Achievement is an unlocked achievement owned by a user.
type Achievement struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	AchievementID string            `json:"achievement_id"`
	UnlockedAt    time.Time         `json:"unlocked_at"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}
