package stats

import (
	"context"
	"errors"
	"fmt"
)

// Migrate copies every stats record, history entry and achievement from src
// into dst. It works for:
// - Memory (JSON dir) -> SQLite (the import at startup)
// - SQLite -> Memory (a portable backup)
//
// Records and history entries already present in dst are skipped, so a
// migration can be re-run.
func Migrate(ctx context.Context, src Exporter, dst Repository) error {
	users, err := src.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	for _, userID := range users {
		records, err := src.ListStats(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to list stats for user %s: %w", userID, err)
		}
		for _, rec := range records {
			if err := dst.CreateStats(ctx, rec); err != nil {
				if errors.Is(err, ErrConflict) {
					continue
				}
				return fmt.Errorf("failed to copy stats %s/%s: %w", userID, rec.GameType, err)
			}
		}

		history, err := src.AllHistory(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to list history for user %s: %w", userID, err)
		}
		for _, entry := range history {
			if err := dst.AppendHistory(ctx, entry); err != nil {
				if errors.Is(err, ErrConflict) {
					continue
				}
				return fmt.Errorf("failed to copy history entry %s: %w", entry.ID, err)
			}
		}

		achievements, err := src.ListAchievements(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to list achievements for user %s: %w", userID, err)
		}
		for _, a := range achievements {
			if err := dst.UnlockAchievement(ctx, a); err != nil {
				return fmt.Errorf("failed to copy achievement %s: %w", a.AchievementID, err)
			}
		}
	}

	return nil
}
