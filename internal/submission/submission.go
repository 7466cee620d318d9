// Package submission implements the API boundary's validated JobSubmission
// DTO (spec §9 "dynamic typing at API boundaries" — the source decodes
// loosely-typed maps deep into business logic; here the boundary is a single
// strongly-typed struct validated once, before any stage ever sees it).
package submission

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/churchcast/reelforge/internal/models"
	"github.com/churchcast/reelforge/internal/quota"
	"github.com/churchcast/reelforge/internal/queue"
	"github.com/churchcast/reelforge/internal/store"
)

var validate = validator.New()

// JobSubmission is the inbound shape for submit_job (spec §6). Every field
// the core pipeline reads arrives already typed and validated — no stage
// downstream re-parses a raw map.
type JobSubmission struct {
	TenantID       uuid.UUID `json:"tenant_id" validate:"required"`
	UserID         uuid.UUID `json:"user_id" validate:"required"`
	AudioBlobURL   string    `json:"audio_blob_url" validate:"required,url"`
	Title          string    `json:"title" validate:"required,max=200"`
	LayoutID       *uuid.UUID `json:"layout_id,omitempty"`
	GenerationMode *string   `json:"generation_mode,omitempty" validate:"omitempty,oneof=natural template"`
	ClipOverride   []string  `json:"clip_override,omitempty" validate:"omitempty,dive,required"`
	BGMBlobURL     *string   `json:"bgm_blob_url,omitempty" validate:"omitempty,url"`
	BGMGain        float64   `json:"bgm_gain" validate:"gte=0,lte=0.5"`
}

// Validate runs struct-tag validation, returning a BadInput-flavored error
// (spec §7 ErrorKind "BadInput") the API layer can surface verbatim.
func (s JobSubmission) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid job submission: %w", err)
	}
	return nil
}

// RegenerationOverrides carries the subset of a JobSubmission a caller may
// change when regenerating from a prior job (spec §6 "regenerate_job(job_id,
// overrides)"). Zero-value fields mean "inherit from the source job".
type RegenerationOverrides struct {
	Title          *string
	LayoutID       *uuid.UUID
	GenerationMode *string
	ClipOverride   []string
	BGMBlobURL     *string
	BGMGain        *float64
}

// Submitter implements the inbound API's job-lifecycle operations (spec §6),
// coordinating the Job Store, the Quota Ledger, and the durable queue.
type Submitter struct {
	store *store.Store
	ledger *quota.Ledger
	queue *queue.Queue
}

func New(s *store.Store, l *quota.Ledger, q *queue.Queue) *Submitter {
	return &Submitter{store: s, ledger: l, queue: q}
}

// Submit validates the submission, places the job in queued with a quota
// hold, and pushes it onto the durable queue (spec §6 "submit_job ...
// Synchronous: places the job in queued, places the quota hold. Rejects with
// QuotaExceeded if no credits."). The hold is placed before the row is
// created so a quota rejection never leaves an orphaned queued job.
func (s *Submitter) Submit(ctx context.Context, sub JobSubmission) (uuid.UUID, error) {
	if err := sub.Validate(); err != nil {
		return uuid.Nil, err
	}

	jobID := uuid.New()

	if err := s.ledger.Hold(ctx, sub.TenantID, jobID); err != nil {
		return uuid.Nil, err
	}

	var genMode *models.GenerationMode
	if sub.GenerationMode != nil {
		m := models.GenerationMode(*sub.GenerationMode)
		genMode = &m
	}

	job := &models.Job{
		ID:             jobID,
		TenantID:       sub.TenantID,
		UserID:         sub.UserID,
		AudioBlobURL:   sub.AudioBlobURL,
		Title:          sub.Title,
		LayoutID:       sub.LayoutID,
		GenerationMode: genMode,
		ClipOverride:   sub.ClipOverride,
		BGMBlobURL:     sub.BGMBlobURL,
		BGMGain:        sub.BGMGain,
		Status:         models.JobStatusQueued,
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		_ = s.ledger.Release(ctx, sub.TenantID, jobID)
		return uuid.Nil, fmt.Errorf("failed to create job: %w", err)
	}

	if err := s.queue.Enqueue(ctx, jobID); err != nil {
		_ = s.ledger.Release(ctx, sub.TenantID, jobID)
		return uuid.Nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return jobID, nil
}

// Get returns the current JobRecord (spec §6 "get_job(job_id) → JobRecord").
func (s *Submitter) Get(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// Cancel sets the cooperative cancellation flag; idempotent (spec §6, §8
// "cancel_job is idempotent").
func (s *Submitter) Cancel(ctx context.Context, jobID uuid.UUID) error {
	return s.store.MarkCancelRequested(ctx, jobID)
}

// Regenerate copies a source job's audio, layout, and current (possibly
// user-edited) subtitle list into a new submission, applying overrides, and
// runs it through the normal Submit path (spec §6 "regenerate_job(job_id,
// overrides) → new_job_id ... copies the source audio and layout and submits
// a new job"; the source job is never mutated). Carrying the subtitles
// forward lets the orchestrator skip transcribe/post_process_subtitles for
// the new job, so edits made to a source job's subtitles survive
// regeneration instead of being overwritten by a fresh transcription.
func (s *Submitter) Regenerate(ctx context.Context, sourceJobID uuid.UUID, overrides RegenerationOverrides) (uuid.UUID, error) {
	source, err := s.store.GetJob(ctx, sourceJobID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to load source job: %w", err)
	}

	sourceSegments, err := s.store.GetSubtitles(ctx, sourceJobID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to load source subtitles: %w", err)
	}

	sub := JobSubmission{
		TenantID:       source.TenantID,
		UserID:         source.UserID,
		AudioBlobURL:   source.AudioBlobURL,
		Title:          source.Title,
		LayoutID:       source.LayoutID,
		ClipOverride:   source.ClipOverride,
		BGMBlobURL:     source.BGMBlobURL,
		BGMGain:        source.BGMGain,
	}
	if source.GenerationMode != nil {
		mode := string(*source.GenerationMode)
		sub.GenerationMode = &mode
	}

	if overrides.Title != nil {
		sub.Title = *overrides.Title
	}
	if overrides.LayoutID != nil {
		sub.LayoutID = overrides.LayoutID
	}
	if overrides.GenerationMode != nil {
		sub.GenerationMode = overrides.GenerationMode
	}
	if overrides.ClipOverride != nil {
		sub.ClipOverride = overrides.ClipOverride
	}
	if overrides.BGMBlobURL != nil {
		sub.BGMBlobURL = overrides.BGMBlobURL
	}
	if overrides.BGMGain != nil {
		sub.BGMGain = *overrides.BGMGain
	}

	newJobID, err := s.Submit(ctx, sub)
	if err != nil {
		return uuid.Nil, err
	}

	if err := s.store.SetRegeneratedFrom(ctx, newJobID, sourceJobID); err != nil {
		return newJobID, fmt.Errorf("job submitted but failed to record regeneration lineage: %w", err)
	}

	if len(sourceSegments) > 0 {
		if err := s.store.ReplaceSubtitles(ctx, newJobID, sourceSegments); err != nil {
			return newJobID, fmt.Errorf("job submitted but failed to carry forward subtitles: %w", err)
		}
	}

	return newJobID, nil
}

// ValidateAudioDuration enforces the boundary behaviors from spec §8: audio
// shorter than 2s or longer than 30min is BadInput. It is exported for the
// orchestrator's validate_input stage (spec §4.L band 0-5), which is where
// this actually runs — duration is unknown at submission time, before the
// audio has been probed.
func ValidateAudioDuration(seconds float64) error {
	if seconds < 2 {
		return fmt.Errorf("audio duration %.2fs is below the 2s minimum", seconds)
	}
	if seconds > 30*60 {
		return fmt.Errorf("audio duration %.2fs exceeds the 30 minute maximum", seconds)
	}
	return nil
}
