package store

import (
	"context"
	"fmt"
)

// IsBlacklisted checks the global, manually curated blacklist (spec §3, §4.H
// "the moderator's output ... is backstopped by the BlacklistEntry table").
func (s *Store) IsBlacklisted(ctx context.Context, externalClipID string) (bool, error) {
	var exists bool
	err := s.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM blacklist_clips WHERE external_clip_id = $1)`,
		externalClipID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return exists, nil
}

// AddToBlacklist appends a manually curated, append-only blacklist entry (spec §3).
func (s *Store) AddToBlacklist(ctx context.Context, externalClipID, reason string) error {
	_, err := s.ExecContext(ctx, `
		INSERT INTO blacklist_clips (external_clip_id, reason) VALUES ($1,$2)
		ON CONFLICT (external_clip_id) DO NOTHING
	`, externalClipID, reason)
	if err != nil {
		return fmt.Errorf("failed to add blacklist entry: %w", err)
	}
	return nil
}
