package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mohametBa/UniversMurid-sub001/pkg/schema"
)

var (
	// ErrValidation is returned when the server rejects a request as malformed.
	ErrValidation = errors.New("invalid request")
	// ErrUnauthenticated is returned when the credential is missing, invalid or mismatched.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrConflict is returned when a save lost a race with another save.
	ErrConflict = errors.New("concurrent save conflict")
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("progress api: %d %s", e.Status, e.Message)
}

// Is maps the HTTP status onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch e.Status {
	case http.StatusBadRequest:
		return target == ErrValidation
	case http.StatusUnauthorized:
		return target == ErrUnauthenticated
	case http.StatusConflict:
		return target == ErrConflict
	}
	return false
}

// --- Functional Interfaces (Interface Segregation) ---

// ProgressReader loads the saved state of one game.
type ProgressReader interface {
	Load(ctx context.Context, gameType string) (schema.GameState, bool, error)
}

// ProgressWriter saves the state of one game.
type ProgressWriter interface {
	Save(ctx context.Context, gameType string, state schema.GameState) (schema.GameState, error)
}

// StatsReader lists snapshots and achievements.
type StatsReader interface {
	History(ctx context.Context, gameType string, limit int) ([]schema.HistoryEntry, error)
	Achievements(ctx context.Context) ([]schema.Achievement, error)
}

// --- Composite Interfaces ---

// ProgressClient is everything the progress API offers to one signed-in user.
type ProgressClient interface {
	ProgressReader
	ProgressWriter
	StatsReader

	// Game returns a GameScope pinned to gameType.
	Game(gameType string) GameScope
}

// GameScope provides a simplified, scoped interface for one game type.
type GameScope interface {
	Load(ctx context.Context) (schema.GameState, bool, error)
	Save(ctx context.Context, state schema.GameState) (schema.GameState, error)
	History(ctx context.Context, limit int) ([]schema.HistoryEntry, error)
}
