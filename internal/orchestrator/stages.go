package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/churchcast/reelforge/internal/clipsource"
	"github.com/churchcast/reelforge/internal/compose"
	"github.com/churchcast/reelforge/internal/models"
	"github.com/churchcast/reelforge/internal/postprocess"
	"github.com/churchcast/reelforge/internal/queryplan"
	"github.com/churchcast/reelforge/internal/submission"
	"github.com/churchcast/reelforge/internal/transcribe"
)

// acquireClipsFanOut bounds how many slots acquire_clips resolves
// concurrently (spec §5 "distinct slots MAY be acquired in parallel up to a
// per-job fan-out of 4, bounded to respect the external search API's rate
// limit" — the Clip Source's own rate.Limiter enforces the actual API
// budget, this just caps how many goroutines can be waiting on it at once).
const acquireClipsFanOut = 4

// errSlotCancelled signals runAcquireClips' errgroup that a mid-batch cancel
// request was observed, distinct from a stage-retryable failure.
var errSlotCancelled = errors.New("job cancelled during acquire_clips")

// runValidateInput probes the submitted audio, rejects out-of-range
// durations, and prepares the job's scratch directory (spec §4.L
// validate_input band 0-5, "normalized inputs, quota hold" — the quota hold
// itself was already placed at submission, spec §6, so this stage only
// validates and prepares).
func runValidateInput(ctx context.Context, o *Orchestrator, jc *jobContext, report reportFunc) StageResult {
	if err := os.MkdirAll(jc.scratchDir, 0o755); err != nil {
		return fatal(models.ErrorStorage, fmt.Sprintf("failed to create scratch directory: %v", err))
	}
	report(0.2, "preparing scratch space")

	duration, err := probeAudioDuration(ctx, jc.job.AudioBlobURL)
	if err != nil {
		return retryable(models.ErrorUpstreamTimeout, fmt.Sprintf("failed to probe audio duration: %v", err))
	}
	jc.audioDurationSeconds = duration
	report(0.7, "probed audio duration")

	if err := submission.ValidateAudioDuration(duration); err != nil {
		return fatal(models.ErrorBadInput, err.Error())
	}

	report(1.0, "validated input")
	return ok()
}

func probeAudioDuration(ctx context.Context, url string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		url,
	}
	out, err := exec.CommandContext(ctx, "ffprobe", args...).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration probe failed: %w", err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse probed duration %q: %w", string(out), err)
	}
	return seconds, nil
}

// runTranscribe produces the raw SubtitleSegment list (spec §4.L transcribe
// band 5-20).
func runTranscribe(ctx context.Context, o *Orchestrator, jc *jobContext, report reportFunc) StageResult {
	segments, err := o.deps.Transcriber.Transcribe(ctx, jc.job.AudioBlobURL, "")
	if err != nil {
		return mapTranscribeError(err)
	}
	report(0.8, "transcribed audio")

	jc.segments = segments
	if err := o.deps.Store.ReplaceSubtitles(ctx, jc.job.ID, jc.segments); err != nil {
		return retryable(models.ErrorStorage, fmt.Sprintf("failed to persist raw subtitles: %v", err))
	}

	report(1.0, "persisted raw subtitles")
	return ok()
}

func mapTranscribeError(err error) StageResult {
	var retryableErr *transcribe.RetryableError
	if errors.As(err, &retryableErr) {
		return retryable(retryableErr.Kind, retryableErr.Detail)
	}
	var fatalErr *transcribe.FatalError
	if errors.As(err, &fatalErr) {
		return fatal(fatalErr.Kind, fatalErr.Detail)
	}
	return retryable(models.ErrorUpstreamUnavailable, err.Error())
}

// runPostProcessSubtitles applies the tenant's replacement dictionary and
// merges/trims segments (spec §4.L post_process_subtitles band 20-25).
func runPostProcessSubtitles(ctx context.Context, o *Orchestrator, jc *jobContext, report reportFunc) StageResult {
	replacements, err := o.deps.Store.GetReplacements(ctx, jc.job.TenantID)
	if err != nil {
		return retryable(models.ErrorStorage, fmt.Sprintf("failed to load replacement dictionary: %v", err))
	}
	report(0.3, "loaded replacement dictionary")

	result := postprocess.Process(jc.segments, replacements)
	jc.segments = result.Segments
	jc.matchedTokens = result.MatchedToken

	if err := o.deps.Store.ReplaceSubtitles(ctx, jc.job.ID, jc.segments); err != nil {
		return retryable(models.ErrorStorage, fmt.Sprintf("failed to persist finalized subtitles: %v", err))
	}
	report(0.7, "persisted finalized subtitles")

	if len(result.MatchedToken) > 0 {
		if err := o.deps.Store.IncrementUseCounts(ctx, jc.job.TenantID, result.MatchedToken); err != nil {
			return retryable(models.ErrorStorage, fmt.Sprintf("failed to increment replacement use counts: %v", err))
		}
	}

	report(1.0, "post-processed subtitles")
	return ok()
}

// runPlanQueries builds the clip slots and assigns each a search query (spec
// §4.L plan_queries band 25-30).
func runPlanQueries(ctx context.Context, o *Orchestrator, jc *jobContext, report reportFunc) StageResult {
	slots := queryplan.BuildSlots(jc.audioDurationSeconds)
	report(0.3, "computed slot count")

	jc.slots = o.deps.QueryPlan.Plan(ctx, slots, jc.segments)
	report(1.0, "planned slot queries")
	return ok()
}

// runAcquireClips resolves every slot to a local NormalizedClip file,
// checking cooperative cancellation after each clip download (spec §4.L
// acquire_clips band 30-55; §4.L "Cancellation ... after each clip download
// in acquire_clips").
func runAcquireClips(ctx context.Context, o *Orchestrator, jc *jobContext, report reportFunc) StageResult {
	if jc.clipSource == nil {
		recency, err := o.deps.Store.RecencyWindow(ctx, jc.job.TenantID, o.deps.RecencyWindowSize)
		if err != nil {
			return retryable(models.ErrorStorage, fmt.Sprintf("failed to load recency window: %v", err))
		}
		jc.clipSource = clipsource.New(
			o.deps.ClipSearch.Pool,
			o.deps.ClipSearch.Cache,
			o.deps.ClipSearch.Search,
			o.deps.Moderator,
			o.deps.ClipSearch.Downloader,
			o.deps.Store,
			o.deps.ClipSearch.Limiter,
			recency,
		)
	}

	total := len(jc.slots)
	jc.acquired = make([]models.AcquiredClip, total)
	jc.normalized = make([]string, total)
	jc.probes = make([]models.ClipProbe, total)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(acquireClipsFanOut)

	var (
		mu        sync.Mutex
		completed int
	)

	for idx, slot := range jc.slots {
		idx, slot := idx, slot
		g.Go(func() error {
			if cancelledFlag, cerr := o.deps.Store.IsCancelRequested(gctx, jc.job.ID); cerr == nil && cancelledFlag {
				return errSlotCancelled
			}

			clip, err := resolveSlotClip(gctx, o, jc, idx, slot)
			if err != nil {
				return fmt.Errorf("slot %d: %w", slot.Index, err)
			}

			normalizedPath := filepath.Join(jc.scratchDir, fmt.Sprintf("slot_%03d.mp4", slot.Index))
			var probe models.ClipProbe

			if clip.FromPool {
				normalizedPath = clip.LocalPath
				probe = models.ClipProbe{
					Path:       normalizedPath,
					VideoCodec: models.NormalizedVideoCodec,
					Width:      models.NormalizedWidth,
					Height:     models.NormalizedHeight,
					FPS:        models.NormalizedFPS,
					PixFmt:     models.NormalizedPixFmt,
					HasAudio:   false,
				}
			} else {
				if err := o.deps.Normalizer.Normalize(gctx, clip.LocalPath, normalizedPath, slot.DurationSeconds); err != nil {
					return fmt.Errorf("slot %d normalize failed: %w", slot.Index, err)
				}
				probe, err = o.deps.Normalizer.Probe(gctx, normalizedPath)
				if err != nil {
					return fmt.Errorf("slot %d probe failed: %w", slot.Index, err)
				}
			}

			mu.Lock()
			jc.acquired[idx] = clip
			jc.normalized[idx] = normalizedPath
			jc.probes[idx] = probe
			completed++
			n := completed
			mu.Unlock()

			report(float64(n)/float64(total), fmt.Sprintf("acquired clip %d/%d", n, total))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, errSlotCancelled) {
			return cancelled()
		}
		if errors.Is(err, clipsource.ErrTooFewClips) {
			return retryable(models.ErrorContentFiltered, err.Error())
		}
		return retryable(models.ErrorUpstreamUnavailable, err.Error())
	}

	return ok()
}

// resolveSlotClip resolves one slot to an AcquiredClip, honoring an explicit
// clip-list override (spec §3 Job Inputs "optional explicit clip-list
// override") ahead of the normal search pipeline when the job's
// ClipOverride supplies an entry for this slot's position.
func resolveSlotClip(ctx context.Context, o *Orchestrator, jc *jobContext, idx int, slot models.Slot) (models.AcquiredClip, error) {
	if idx < len(jc.job.ClipOverride) && jc.job.ClipOverride[idx] != "" {
		return acquireOverrideClip(ctx, o, slot, jc.job.ClipOverride[idx])
	}

	resolved, err := jc.clipSource.Resolve(ctx, []models.Slot{slot}, jc.scratchDir)
	if err != nil {
		return models.AcquiredClip{}, err
	}
	return resolved[0], nil
}

// acquireOverrideClip resolves an explicitly requested external_clip_id
// (spec §3 Job Inputs). The permanent blacklist still applies (spec §3
// "Clips in the blacklist are forbidden from selection for all tenants,
// forever") but search, moderation, and the recency window are skipped: the
// clip was chosen deliberately, not discovered. Override ids must already be
// cache-resident — there is no by-id lookup against the external search API,
// only by-query search, so an override the operator hasn't pre-seeded into
// the Clip Source's disk cache cannot be resolved.
func acquireOverrideClip(ctx context.Context, o *Orchestrator, slot models.Slot, clipID string) (models.AcquiredClip, error) {
	blacklisted, err := o.deps.Store.IsBlacklisted(ctx, clipID)
	if err != nil {
		return models.AcquiredClip{}, fmt.Errorf("blacklist check failed for override clip %s: %w", clipID, err)
	}
	if blacklisted {
		return models.AcquiredClip{}, fmt.Errorf("override clip %s is blacklisted: %w", clipID, clipsource.ErrTooFewClips)
	}

	if o.deps.ClipSearch.Cache == nil {
		return models.AcquiredClip{}, fmt.Errorf("override clip %s: %w", clipID, clipsource.ErrTooFewClips)
	}
	path, ok := o.deps.ClipSearch.Cache.Get(clipID)
	if !ok {
		return models.AcquiredClip{}, fmt.Errorf("override clip %s not found in cache: %w", clipID, clipsource.ErrTooFewClips)
	}

	return models.AcquiredClip{Slot: slot, LocalPath: path, ExternalClipID: clipID}, nil
}

// runComposeBody stitches the acquired clips, burns subtitles, and mixes
// audio (spec §4.L compose_body band 55-80). ffmpeg is invoked via
// exec.CommandContext, so cancelling the stage's context kills the
// in-flight subprocess immediately rather than waiting on a polled
// checkpoint.
func runComposeBody(ctx context.Context, o *Orchestrator, jc *jobContext, report reportFunc) StageResult {
	report(0.05, "starting composition")

	voicePath := filepath.Join(jc.scratchDir, "voice.audio")
	if err := downloadToFile(ctx, jc.job.AudioBlobURL, voicePath); err != nil {
		return retryable(models.ErrorUpstreamUnavailable, fmt.Sprintf("failed to fetch voice audio: %v", err))
	}

	var bgmPath string
	if jc.job.BGMBlobURL != nil && *jc.job.BGMBlobURL != "" {
		bgmPath = filepath.Join(jc.scratchDir, "bgm.audio")
		if err := downloadToFile(ctx, *jc.job.BGMBlobURL, bgmPath); err != nil {
			return retryable(models.ErrorUpstreamUnavailable, fmt.Sprintf("failed to fetch background music: %v", err))
		}
	}

	jc.bodyPath = filepath.Join(jc.scratchDir, "body.mp4")
	in := compose.Input{
		ClipPaths:      jc.normalized,
		VoiceAudioPath: voicePath,
		BGMPath:        bgmPath,
		BGMGain:        jc.job.BGMGain,
		Subtitles:      jc.segments,
		ScratchDir:     jc.scratchDir,
		OutputPath:     jc.bodyPath,
	}

	if err := o.deps.Composer.Compose(ctx, in, jc.probes); err != nil {
		return retryable(models.ErrorInternalMedia, fmt.Sprintf("composition failed: %v", err))
	}

	report(1.0, "composed body video")
	return ok()
}

// runApplyIntroOutro splices the optional intro/outro still segments (spec
// §4.L apply_intro_outro band 80-90).
func runApplyIntroOutro(ctx context.Context, o *Orchestrator, jc *jobContext, report reportFunc) StageResult {
	var layout *models.ThumbnailLayout
	if jc.job.LayoutID != nil {
		l, err := o.deps.Store.GetLayout(ctx, *jc.job.LayoutID)
		if err != nil {
			return retryable(models.ErrorStorage, fmt.Sprintf("failed to load layout: %v", err))
		}
		layout = l
	}
	report(0.2, "loaded layout")

	finalPath := filepath.Join(jc.scratchDir, "final.mp4")
	out, err := o.deps.Overlay.Apply(ctx, jc.bodyPath, layout, jc.scratchDir, finalPath)
	if err != nil {
		return retryable(models.ErrorInternalMedia, fmt.Sprintf("intro/outro overlay failed: %v", err))
	}
	jc.finalPath = out

	report(1.0, "applied intro/outro")
	return ok()
}

// runPersistArtifacts uploads the final video, subtitle (SRT), and a
// thumbnail frame to the blob store (spec §4.L persist_artifacts band
// 90-98).
func runPersistArtifacts(ctx context.Context, o *Orchestrator, jc *jobContext, report reportFunc) StageResult {
	videoBytes, err := os.ReadFile(jc.finalPath)
	if err != nil {
		return fatal(models.ErrorInternalMedia, fmt.Sprintf("failed to read final video: %v", err))
	}
	videoKey := artifactKey(jc.job.TenantID.String(), jc.job.ID.String(), "video.mp4")
	videoURL, err := o.deps.Blob.Put(ctx, videoKey, videoBytes, "video/mp4")
	if err != nil {
		return retryable(models.ErrorStorage, fmt.Sprintf("failed to upload video: %v", err))
	}
	jc.videoURL = videoURL
	report(0.4, "uploaded video")

	srtKey := artifactKey(jc.job.TenantID.String(), jc.job.ID.String(), "subtitles.srt")
	subtitleURL, err := o.deps.Blob.Put(ctx, srtKey, []byte(renderSRT(jc.segments)), "text/plain")
	if err != nil {
		return retryable(models.ErrorStorage, fmt.Sprintf("failed to upload subtitles: %v", err))
	}
	jc.subtitleURL = subtitleURL
	report(0.7, "uploaded subtitles")

	thumbPath := filepath.Join(jc.scratchDir, "thumbnail.jpg")
	if err := extractThumbnail(ctx, jc.finalPath, thumbPath); err != nil {
		return retryable(models.ErrorInternalMedia, fmt.Sprintf("failed to extract thumbnail: %v", err))
	}
	thumbBytes, err := os.ReadFile(thumbPath)
	if err != nil {
		return retryable(models.ErrorInternalMedia, fmt.Sprintf("failed to read thumbnail: %v", err))
	}
	thumbKey := artifactKey(jc.job.TenantID.String(), jc.job.ID.String(), "thumbnail.jpg")
	thumbnailURL, err := o.deps.Blob.Put(ctx, thumbKey, thumbBytes, "image/jpeg")
	if err != nil {
		return retryable(models.ErrorStorage, fmt.Sprintf("failed to upload thumbnail: %v", err))
	}
	jc.thumbnailURL = thumbnailURL

	if err := o.deps.Store.SetOutputs(ctx, jc.job.ID, jc.videoURL, jc.subtitleURL, jc.thumbnailURL, jc.audioDurationSeconds); err != nil {
		return retryable(models.ErrorStorage, fmt.Sprintf("failed to record output URLs: %v", err))
	}

	report(1.0, "persisted artifacts")
	return ok()
}

// runFinalize converts the quota hold into a committed decrement, records
// this job's accepted clips in the dedup window, and commits the terminal
// succeeded status (spec §4.L finalize band 98-100; §4.G "persisted to
// UsedClip only at finalize so failed jobs do not poison the dedup window").
func runFinalize(ctx context.Context, o *Orchestrator, jc *jobContext, report reportFunc) StageResult {
	if jc.clipSource != nil {
		if ids := jc.clipSource.PendingUsed(); len(ids) > 0 {
			if err := o.deps.Store.InsertUsedClips(ctx, jc.job.TenantID, jc.job.ID, ids); err != nil {
				return retryable(models.ErrorStorage, fmt.Sprintf("failed to record used clips: %v", err))
			}
		}
	}
	report(0.5, "recorded used clips")

	if err := o.deps.Quota.Commit(ctx, jc.job.TenantID, jc.job.ID); err != nil {
		return fatal(models.ErrorQuotaExceeded, fmt.Sprintf("failed to commit quota hold: %v", err))
	}

	if err := o.deps.Store.CompleteTerminal(ctx, jc.job.ID, models.JobStatusSucceeded, nil, nil); err != nil {
		return fatal(models.ErrorStorage, fmt.Sprintf("failed to commit succeeded status: %v", err))
	}

	cleanupScratch(jc.scratchDir)

	report(1.0, "finalized job")
	return ok()
}

func artifactKey(tenantID, jobID, file string) string {
	return tenantID + "/" + jobID + "/" + file
}

// downloadToFile fetches a blob URL straight to disk via plain HTTP,
// mirroring the fetch pattern transcribe.fetchAudio uses for the same URLs.
func downloadToFile(ctx context.Context, url, path string) error {
	data, err := httpGet(ctx, url)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func extractThumbnail(ctx context.Context, videoPath, outPath string) error {
	args := []string{
		"-ss", "0",
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "3",
		"-y",
		outPath,
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg thumbnail extraction failed: %w (output: %s)", err, string(output))
	}
	return nil
}

// renderSRT serializes the finalized subtitle list to SubRip format (spec
// §4.E "later serialized as SRT when persisted").
func renderSRT(segments []models.SubtitleSegment) string {
	var sb strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&sb, "%d\n%s --> %s\n%s\n\n", i+1, srtTimestamp(seg.StartSeconds), srtTimestamp(seg.EndSeconds), seg.Text)
	}
	return sb.String()
}

func srtTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMillis := int(seconds*1000 + 0.5)
	millis := totalMillis % 1000
	totalSeconds := totalMillis / 1000
	secs := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	mins := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, mins, secs, millis)
}
