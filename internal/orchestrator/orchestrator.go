// Package orchestrator implements the Pipeline Orchestrator (spec §4.L, "the
// heart"): drives one job from queued to a terminal status by executing an
// ordered table of stages, applying a per-stage retry/backoff policy,
// coalescing progress writes, and polling cooperative cancellation between
// and inside stages.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/churchcast/reelforge/internal/blob"
	"github.com/churchcast/reelforge/internal/clipsource"
	"github.com/churchcast/reelforge/internal/compose"
	"github.com/churchcast/reelforge/internal/models"
	"github.com/churchcast/reelforge/internal/moderation"
	"github.com/churchcast/reelforge/internal/normalize"
	"github.com/churchcast/reelforge/internal/overlay"
	"github.com/churchcast/reelforge/internal/postprocess"
	"github.com/churchcast/reelforge/internal/quota"
	"github.com/churchcast/reelforge/internal/queryplan"
	"github.com/churchcast/reelforge/internal/store"
	"github.com/churchcast/reelforge/internal/transcribe"
)

// Backoff parameters for RetryableError recovery (spec §4.L "Backoff is
// exponential with jitter (base 2s, cap 30s)").
const (
	backoffBase = 2 * time.Second
	backoffCap  = 30 * time.Second

	// progressCoalesce bounds how often a stage's sub-progress callback is
	// allowed to hit the Job Store (spec §4.L "writes it to the Job Store at
	// most every 500ms").
	progressCoalesce = 500 * time.Millisecond
)

// ClipSearchDeps bundles the collaborators acquire_clips needs to build a
// fresh clipsource.Source per job, once the tenant's recency window is known
// (spec §4.G "recencyWindow is loaded once per job from store.RecencyWindow").
type ClipSearchDeps struct {
	Pool       clipsource.Pool
	Cache      clipsource.Cache
	Search     clipsource.SearchClient
	Downloader clipsource.Downloader
	Limiter    *rate.Limiter
}

// Deps bundles every outbound collaborator the Orchestrator drives stages
// with (spec §9 "Ad-hoc global state → explicit collaborators" — each becomes
// an injected dependency with a minimal interface).
type Deps struct {
	Store       *store.Store
	Quota       *quota.Ledger
	Blob        blob.Store
	Transcriber *transcribe.Transcriber
	QueryPlan   *queryplan.Planner
	ClipSearch  ClipSearchDeps
	Moderator   *moderation.Moderator
	Normalizer  *normalize.Normalizer
	Composer    *compose.Composer
	Overlay     *overlay.Overlay

	RecencyWindowSize int // number of recent successful jobs unioned (spec §4.G: 10)
	ScratchRoot       string
}

// reportFunc is the sub-progress callback a stage calls with a fraction in
// [0,1] of its own band and a human label (spec §4.L "Progress reporting").
type reportFunc func(fraction float64, label string)

// resultKind tags a StageResult the way spec §4.L's variant is described:
// Ok | RetryableError | FatalError | Cancelled.
type resultKind int

const (
	resultOk resultKind = iota
	resultRetryable
	resultFatal
	resultCancelled
)

// StageResult is the outcome of one stage attempt (spec §4.L "Outputs: a
// StageResult variant").
type StageResult struct {
	kind        resultKind
	errorKind   models.ErrorKind
	detail      string
	backoffHint time.Duration
}

func ok() StageResult { return StageResult{kind: resultOk} }

func retryable(kind models.ErrorKind, detail string) StageResult {
	return StageResult{kind: resultRetryable, errorKind: kind, detail: detail}
}

func fatal(kind models.ErrorKind, detail string) StageResult {
	return StageResult{kind: resultFatal, errorKind: kind, detail: detail}
}

func cancelled() StageResult {
	return StageResult{kind: resultCancelled, errorKind: models.ErrorCancelled, detail: "cancelled by user"}
}

// stageSpec is one row of the stage table (spec §4.L "Stages, in order").
type stageSpec struct {
	name        models.StageName
	maxAttempts int
	timeout     time.Duration
	run         func(ctx context.Context, o *Orchestrator, jc *jobContext, report reportFunc) StageResult
}

// stageTable is the fixed, ordered sequence the Orchestrator drives every job
// through (spec §4.L stage table; retry policy "default 3; transcribe=2;
// acquire_clips=4"; §9 "Cancellation and timeouts" per-stage wall clocks).
var stageTable = []stageSpec{
	{models.StageValidateInput, 3, 2 * time.Minute, runValidateInput},
	{models.StageTranscribe, 2, 10 * time.Minute, runTranscribe},
	{models.StagePostProcessSubtitles, 3, 2 * time.Minute, runPostProcessSubtitles},
	{models.StagePlanQueries, 3, 2 * time.Minute, runPlanQueries},
	{models.StageAcquireClips, 4, 15 * time.Minute, runAcquireClips},
	{models.StageComposeBody, 3, 20 * time.Minute, runComposeBody},
	{models.StageApplyIntroOutro, 3, 2 * time.Minute, runApplyIntroOutro},
	{models.StagePersistArtifacts, 3, 2 * time.Minute, runPersistArtifacts},
	{models.StageFinalize, 3, 2 * time.Minute, runFinalize},
}

// jobHardDeadline is the wall-clock ceiling from started_at (spec §4.L,
// §9 "A job-level hard deadline of 45 minutes from started_at forces
// termination").
const jobHardDeadline = 45 * time.Minute

// jobContext is the mutable working state threaded through a job's stages —
// the part of spec §4.L's "JobContext (a struct holding job row + scratch
// paths)" that is not itself persisted to the Job Store between stages.
type jobContext struct {
	job *models.Job

	scratchDir string

	audioDurationSeconds float64

	segments      []models.SubtitleSegment
	matchedTokens []string

	slots []models.Slot

	// seededSubtitles is true when the job's subtitle segments were carried
	// forward from a source job at regeneration time (spec §6 "copies ...
	// the current (possibly user-edited) SubtitleSegment list into a new
	// Job row"), so transcribe and post_process_subtitles are skipped rather
	// than overwriting the carried-forward edits.
	seededSubtitles bool

	clipSource    *clipsource.Source
	acquired      []models.AcquiredClip
	normalized    []string // one normalized local path per acquired clip, same order
	probes        []models.ClipProbe

	bodyPath  string
	finalPath string

	videoURL     string
	subtitleURL  string
	thumbnailURL string
}

// Orchestrator drives jobs through the stage table.
type Orchestrator struct {
	deps Deps
}

// New constructs an Orchestrator over its outbound collaborators.
func New(deps Deps) *Orchestrator {
	if deps.RecencyWindowSize == 0 {
		deps.RecencyWindowSize = 10
	}
	return &Orchestrator{deps: deps}
}

// Run drives one job from its current stage to a terminal status (spec §4.L
// "State machine"). The caller (the Worker Pool) has already won the
// queued→running CAS; Run assumes it holds exclusive ownership of jobID.
func (o *Orchestrator) Run(ctx context.Context, jobID uuid.UUID) error {
	job, err := o.deps.Store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	deadline := time.Now().Add(jobHardDeadline)
	if job.StartedAt != nil {
		deadline = job.StartedAt.Add(jobHardDeadline)
	}
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	jc := &jobContext{job: job, scratchDir: scratchDirFor(o.deps.ScratchRoot, job.ID)}

	if job.RegeneratedFromJobID != nil {
		if segments, err := o.deps.Store.GetSubtitles(runCtx, job.ID); err == nil && len(segments) > 0 {
			jc.segments = segments
			jc.seededSubtitles = true
		}
	}

	startIdx := stageIndex(job.Stage)
	for i := startIdx; i < len(stageTable); i++ {
		spec := stageTable[i]

		if jc.seededSubtitles && (spec.name == models.StageTranscribe || spec.name == models.StagePostProcessSubtitles) {
			band := models.StageBands[spec.name]
			if err := o.deps.Store.AdvanceStage(ctx, jobID, spec.name, band.High); err != nil {
				return fmt.Errorf("failed to advance stage %s: %w", spec.name, err)
			}
			jc.job.Stage = spec.name
			jc.job.Progress = band.High
			continue
		}

		if cancelledFlag, cerr := o.deps.Store.IsCancelRequested(runCtx, jobID); cerr == nil && cancelledFlag {
			return o.finishCancelled(ctx, jc)
		}

		result := o.runStageWithRetry(runCtx, spec, jc)

		switch result.kind {
		case resultOk:
			band := models.StageBands[spec.name]
			if err := o.deps.Store.AdvanceStage(ctx, jobID, spec.name, band.High); err != nil {
				return fmt.Errorf("failed to advance stage %s: %w", spec.name, err)
			}
			jc.job.Stage = spec.name
			jc.job.Progress = band.High
		case resultCancelled:
			return o.finishCancelled(ctx, jc)
		case resultFatal:
			return o.finishFailed(ctx, jc, result.errorKind, result.detail)
		case resultRetryable:
			// Retries exhausted inside runStageWithRetry promote to fatal; a
			// resultRetryable reaching here should not happen, but fail safe.
			return o.finishFailed(ctx, jc, result.errorKind, result.detail)
		}
	}

	return nil
}

// runStageWithRetry executes one stage, retrying RetryableError results up
// to its max_attempts with exponential backoff, then promoting the last
// error to fatal (spec §4.L "Retry policy").
func (o *Orchestrator) runStageWithRetry(ctx context.Context, spec stageSpec, jc *jobContext) StageResult {
	band := models.StageBands[spec.name]

	var lastReportAt time.Time
	report := func(fraction float64, label string) {
		if fraction < 0 {
			fraction = 0
		}
		if fraction > 1 {
			fraction = 1
		}
		now := time.Now()
		if !lastReportAt.IsZero() && now.Sub(lastReportAt) < progressCoalesce {
			return
		}
		lastReportAt = now
		absolute := band.Low + int(fraction*float64(band.High-band.Low))
		_ = o.deps.Store.WriteProgress(ctx, jc.job.ID, absolute)
	}

	var last StageResult
	for attempt := 1; attempt <= spec.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			// The job-level hard deadline (spec §4.L, §9 "45 minutes from
			// started_at forces termination") expired, not just this
			// attempt's stage timeout.
			return fatal(models.ErrorUpstreamTimeout, fmt.Sprintf("job exceeded its %s hard deadline", jobHardDeadline))
		}

		stageCtx, cancel := context.WithTimeout(ctx, spec.timeout)
		result := spec.run(stageCtx, o, jc, report)
		cancel()

		if errors.Is(stageCtx.Err(), context.DeadlineExceeded) && result.kind != resultOk {
			result = retryable(models.ErrorUpstreamTimeout, fmt.Sprintf("%s timed out after %s", spec.name, spec.timeout))
		}

		if result.kind != resultRetryable {
			return result
		}

		last = result
		if attempt == spec.maxAttempts {
			break
		}

		delay := backoffDelay(attempt, result.backoffHint)
		select {
		case <-ctx.Done():
			return cancelled()
		case <-time.After(delay):
		}
	}

	// Retries exhausted (spec §4.L "On exhausting retries, the stage's last
	// error is promoted to fatal").
	return fatal(last.errorKind, last.detail)
}

// backoffDelay computes the exponential-with-jitter delay for a retry
// attempt (spec §4.L "base 2s, cap 30s"), grounded on the Blob adapter's
// retryDelay (internal/blob/blob.go) but generalized to the orchestrator's
// own base/cap. A non-zero hint from the failed stage overrides the
// computed delay's floor when larger (e.g. an upstream Retry-After).
func backoffDelay(attempt int, hint time.Duration) time.Duration {
	delay := float64(backoffBase) * pow2(attempt-1)
	if delay > float64(backoffCap) {
		delay = float64(backoffCap)
	}
	jitter := delay * 0.25 * rand.Float64()
	computed := time.Duration(delay + jitter)
	if hint > computed {
		return hint
	}
	return computed
}

func pow2(n int) float64 {
	if n < 0 {
		return 1
	}
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}

// stageIndex resolves the resume point for a job picked up mid-run (a reaped
// job re-enters at its last-committed stage rather than from scratch, since
// every stage before it already committed its outputs).
func stageIndex(stage models.StageName) int {
	if stage == "" {
		return 0
	}
	for i, spec := range stageTable {
		if spec.name == stage {
			// The recorded stage already completed (AdvanceStage is only
			// called with Ok); resume at the next one.
			return i + 1
		}
	}
	return 0
}

func (o *Orchestrator) finishFailed(ctx context.Context, jc *jobContext, kind models.ErrorKind, detail string) error {
	cleanupScratch(jc.scratchDir)
	if err := o.deps.Quota.Release(ctx, jc.job.TenantID, jc.job.ID); err != nil {
		return fmt.Errorf("failed to release quota hold on job failure: %w", err)
	}
	k := kind
	d := detail
	if err := o.deps.Store.CompleteTerminal(ctx, jc.job.ID, models.JobStatusFailed, &k, &d); err != nil {
		return fmt.Errorf("failed to commit failed status: %w", err)
	}
	return nil
}

func (o *Orchestrator) finishCancelled(ctx context.Context, jc *jobContext) error {
	cleanupScratch(jc.scratchDir)
	if err := o.deps.Quota.Release(ctx, jc.job.TenantID, jc.job.ID); err != nil {
		return fmt.Errorf("failed to release quota hold on cancellation: %w", err)
	}
	kind := models.ErrorCancelled
	detail := "cancelled by user"
	if err := o.deps.Store.CompleteTerminal(ctx, jc.job.ID, models.JobStatusCancelled, &kind, &detail); err != nil {
		return fmt.Errorf("failed to commit cancelled status: %w", err)
	}
	return nil
}

func scratchDirFor(root string, jobID uuid.UUID) string {
	return root + "/" + jobID.String()
}

// cleanupScratch performs the best-effort scratch-directory removal spec
// §4.L calls for on cancellation, and is reused on failure for the same
// reason: intermediate artifacts of a non-succeeded attempt are
// garbage-collectable, never referenced again (spec §3 "Invariants").
func cleanupScratch(dir string) {
	if dir == "" {
		return
	}
	_ = os.RemoveAll(dir)
}
