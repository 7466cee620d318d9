package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/churchcast/reelforge/internal/models"
)

// RecencyWindow returns the set of external_clip_id values used across a
// tenant's N most-recent successful jobs (spec §4.G, GLOSSARY "Recency
// window"). N=10 per spec; callers pass recentJobs=10.
func (s *Store) RecencyWindow(ctx context.Context, tenantID uuid.UUID, recentJobs int) (map[string]bool, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT DISTINCT uc.external_clip_id
		FROM used_clips uc
		WHERE uc.job_id IN (
			SELECT j.id FROM jobs j
			WHERE j.tenant_id = $1 AND j.status = $2
			ORDER BY j.completed_at DESC
			LIMIT $3
		)
	`, tenantID, models.JobStatusSucceeded, recentJobs)
	if err != nil {
		return nil, fmt.Errorf("failed to query recency window: %w", err)
	}
	defer rows.Close()

	window := make(map[string]bool)
	for rows.Next() {
		var clipID string
		if err := rows.Scan(&clipID); err != nil {
			return nil, fmt.Errorf("failed to scan recency window row: %w", err)
		}
		window[clipID] = true
	}
	return window, nil
}

// InsertUsedClips persists the job's accepted clips in a single transaction
// of their own (spec §3 "a row exists for every clip that appears in a
// successfully completed job's output"). The succeeded status transition is
// not part of this transaction; CompleteTerminal commits it separately.
func (s *Store) InsertUsedClips(ctx context.Context, tenantID, jobID uuid.UUID, externalClipIDs []string) error {
	if len(externalClipIDs) == 0 {
		return nil
	}
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin used-clips tx: %w", err)
	}
	defer tx.Rollback()

	for _, clipID := range externalClipIDs {
		if clipID == "" {
			continue // pool clips with no external identity are not tracked
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO used_clips (tenant_id, job_id, external_clip_id)
			VALUES ($1,$2,$3)
			ON CONFLICT (job_id, external_clip_id) DO NOTHING
		`, tenantID, jobID, clipID); err != nil {
			return fmt.Errorf("failed to insert used clip %s: %w", clipID, err)
		}
	}

	return tx.Commit()
}
