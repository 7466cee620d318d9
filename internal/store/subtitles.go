package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/churchcast/reelforge/internal/models"
)

// ReplaceSubtitles overwrites a job's subtitle segment list transactionally.
// The transcribe and post_process_subtitles stages call it directly from
// inside the stage, and Regenerate calls it to carry subtitles forward; the
// write does not go through the stage's StageResult.
func (s *Store) ReplaceSubtitles(ctx context.Context, jobID uuid.UUID, segments []models.SubtitleSegment) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin subtitle replace tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM subtitle_segments WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to clear existing subtitles: %w", err)
	}

	for _, seg := range segments {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO subtitle_segments (job_id, index, start_seconds, end_seconds, text)
			VALUES ($1,$2,$3,$4,$5)
		`, jobID, seg.Index, seg.StartSeconds, seg.EndSeconds, seg.Text); err != nil {
			return fmt.Errorf("failed to insert subtitle segment %d: %w", seg.Index, err)
		}
	}

	return tx.Commit()
}

// GetSubtitles returns a job's finalized subtitle segments in index order.
func (s *Store) GetSubtitles(ctx context.Context, jobID uuid.UUID) ([]models.SubtitleSegment, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT job_id, index, start_seconds, end_seconds, text
		FROM subtitle_segments WHERE job_id = $1 ORDER BY index
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subtitles: %w", err)
	}
	defer rows.Close()

	var segs []models.SubtitleSegment
	for rows.Next() {
		var seg models.SubtitleSegment
		if err := rows.Scan(&seg.JobID, &seg.Index, &seg.StartSeconds, &seg.EndSeconds, &seg.Text); err != nil {
			return nil, fmt.Errorf("failed to scan subtitle segment: %w", err)
		}
		segs = append(segs, seg)
	}
	return segs, nil
}
