package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/churchcast/reelforge/internal/models"
)

// CreateJob inserts a new job row in status=queued (spec §3, §6 submit_job).
func (s *Store) CreateJob(ctx context.Context, job *models.Job) error {
	overrideJSON, err := json.Marshal(job.ClipOverride)
	if err != nil {
		return fmt.Errorf("failed to marshal clip override: %w", err)
	}

	query := `
		INSERT INTO jobs (
			id, tenant_id, user_id, audio_blob_url, title, layout_id,
			generation_mode, clip_override, bgm_blob_url, bgm_gain,
			status, stage, progress, attempts, regenerated_from_job_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at
	`
	return s.QueryRowContext(ctx, query,
		job.ID, job.TenantID, job.UserID, job.AudioBlobURL, job.Title, job.LayoutID,
		job.GenerationMode, overrideJSON, job.BGMBlobURL, job.BGMGain,
		job.Status, job.Stage, job.Progress, job.Attempts, job.RegeneratedFromJobID,
	).Scan(&job.CreatedAt)
}

// GetJob returns the current row for get_job (spec §6).
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	query := `
		SELECT id, tenant_id, user_id, audio_blob_url, title, layout_id,
			generation_mode, clip_override, bgm_blob_url, bgm_gain,
			status, stage, progress, error_kind, error_detail, attempts, cancelled,
			video_blob_url, subtitle_blob_url, thumbnail_blob_url, duration_seconds,
			regenerated_from_job_id, created_at, started_at, completed_at, heartbeat_at
		FROM jobs WHERE id = $1
	`
	job := &models.Job{}
	var overrideJSON []byte
	err := s.QueryRowContext(ctx, query, id).Scan(
		&job.ID, &job.TenantID, &job.UserID, &job.AudioBlobURL, &job.Title, &job.LayoutID,
		&job.GenerationMode, &overrideJSON, &job.BGMBlobURL, &job.BGMGain,
		&job.Status, &job.Stage, &job.Progress, &job.ErrorKind, &job.ErrorDetail, &job.Attempts, &job.Cancelled,
		&job.VideoBlobURL, &job.SubtitleBlobURL, &job.ThumbnailBlobURL, &job.DurationSeconds,
		&job.RegeneratedFromJobID, &job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.HeartbeatAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if len(overrideJSON) > 0 {
		_ = json.Unmarshal(overrideJSON, &job.ClipOverride)
	}
	return job, nil
}

// TryPickup performs the queued→running CAS transition (spec §4.L "guarded by
// compare-and-set on status; if CAS fails, another worker got it, exit").
// Returns true if this caller won the race.
func (s *Store) TryPickup(ctx context.Context, jobID uuid.UUID) (bool, error) {
	now := time.Now()
	res, err := s.ExecContext(ctx, `
		UPDATE jobs SET status = $1, started_at = $2, heartbeat_at = $2, attempts = attempts + 1
		WHERE id = $3 AND status = $4
	`, models.JobStatusRunning, now, jobID, models.JobStatusQueued)
	if err != nil {
		return false, fmt.Errorf("failed to CAS pickup job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// AdvanceStage records the stage the job has just completed (the orchestrator
// calls it only after a stage returns Ok) and raises its absolute progress —
// writes never roll back progress (spec §4.L).
func (s *Store) AdvanceStage(ctx context.Context, jobID uuid.UUID, stage models.StageName, progress int) error {
	_, err := s.ExecContext(ctx, `
		UPDATE jobs SET stage = $1, progress = GREATEST(progress, $2) WHERE id = $3
	`, stage, progress, jobID)
	if err != nil {
		return fmt.Errorf("failed to advance stage: %w", err)
	}
	return nil
}

// WriteProgress writes a coalesced progress update without changing stage
// (spec §4.L "Progress reporting" — never rolls back).
func (s *Store) WriteProgress(ctx context.Context, jobID uuid.UUID, progress int) error {
	_, err := s.ExecContext(ctx, `
		UPDATE jobs SET progress = GREATEST(progress, $1) WHERE id = $2
	`, progress, jobID)
	return err
}

// Heartbeat refreshes the liveness timestamp a running worker writes every
// HeartbeatInterval (spec §9 "Worker reaper vs. heartbeat").
func (s *Store) Heartbeat(ctx context.Context, jobID uuid.UUID) error {
	_, err := s.ExecContext(ctx, `UPDATE jobs SET heartbeat_at = now() WHERE id = $1 AND status = $2`,
		jobID, models.JobStatusRunning)
	return err
}

// ReapStale moves running jobs whose heartbeat is older than staleAfter back
// to queued (spec §9). Returns the reaped job IDs. It leaves attempts
// unchanged; TryPickup increments attempts when a worker picks the requeued
// job up again.
func (s *Store) ReapStale(ctx context.Context, staleAfter time.Duration) ([]uuid.UUID, error) {
	rows, err := s.QueryContext(ctx, `
		UPDATE jobs SET status = $1, heartbeat_at = NULL
		WHERE status = $2 AND heartbeat_at < now() - $3::interval
		RETURNING id
	`, models.JobStatusQueued, models.JobStatusRunning, staleAfter.String())
	if err != nil {
		return nil, fmt.Errorf("failed to reap stale jobs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan reaped job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CompleteTerminal commits a terminal status transition (spec §3 "terminal
// statuses are write-once"). Only succeeds if the row is not already terminal.
func (s *Store) CompleteTerminal(ctx context.Context, jobID uuid.UUID, status models.JobStatus, errKind *models.ErrorKind, errDetail *string) error {
	res, err := s.ExecContext(ctx, `
		UPDATE jobs SET status = $1, error_kind = $2, error_detail = $3, completed_at = now()
		WHERE id = $4 AND status NOT IN ($5, $6, $7)
	`, status, errKind, errDetail, jobID,
		models.JobStatusSucceeded, models.JobStatusFailed, models.JobStatusCancelled)
	if err != nil {
		return fmt.Errorf("failed to commit terminal status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s already terminal, refusing to overwrite", jobID)
	}
	return nil
}

// SetOutputs records the final artifact URLs and duration at persist_artifacts
// (spec §4.L stage table).
func (s *Store) SetOutputs(ctx context.Context, jobID uuid.UUID, videoURL, subtitleURL, thumbnailURL string, durationSeconds float64) error {
	_, err := s.ExecContext(ctx, `
		UPDATE jobs SET video_blob_url = $1, subtitle_blob_url = $2, thumbnail_blob_url = $3, duration_seconds = $4
		WHERE id = $5
	`, videoURL, subtitleURL, thumbnailURL, durationSeconds, jobID)
	return err
}

// MarkCancelRequested sets the cooperative cancellation flag (spec §6
// cancel_job — idempotent).
func (s *Store) MarkCancelRequested(ctx context.Context, jobID uuid.UUID) error {
	_, err := s.ExecContext(ctx, `UPDATE jobs SET cancelled = true WHERE id = $1`, jobID)
	return err
}

// IsCancelRequested polls the cancellation flag (spec §4.L "Cancellation").
func (s *Store) IsCancelRequested(ctx context.Context, jobID uuid.UUID) (bool, error) {
	var cancelled bool
	err := s.QueryRowContext(ctx, `SELECT cancelled FROM jobs WHERE id = $1`, jobID).Scan(&cancelled)
	return cancelled, err
}

// SetRegeneratedFrom records regeneration lineage after the new job row
// already exists (spec §6 "regenerate_job ... copies the source audio and
// layout and submits a new job"; the source job itself is never mutated).
func (s *Store) SetRegeneratedFrom(ctx context.Context, jobID, sourceJobID uuid.UUID) error {
	_, err := s.ExecContext(ctx, `UPDATE jobs SET regenerated_from_job_id = $1 WHERE id = $2`, sourceJobID, jobID)
	return err
}
