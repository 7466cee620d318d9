package orchestrator

import (
	"testing"
	"time"

	"github.com/churchcast/reelforge/internal/models"
)

func TestStageTableMatchesSpecOrderAndBands(t *testing.T) {
	if len(stageTable) != len(models.StageOrder) {
		t.Fatalf("stage table has %d entries, expected %d", len(stageTable), len(models.StageOrder))
	}
	for i, spec := range stageTable {
		if spec.name != models.StageOrder[i] {
			t.Errorf("stage %d: got %s, want %s", i, spec.name, models.StageOrder[i])
		}
		band, ok := models.StageBands[spec.name]
		if !ok {
			t.Errorf("stage %s has no progress band", spec.name)
		}
		if band.Low >= band.High {
			t.Errorf("stage %s has a non-increasing band %v", spec.name, band)
		}
	}
}

func TestStageTableMaxAttemptsMatchSpecOverrides(t *testing.T) {
	want := map[models.StageName]int{
		models.StageTranscribe:   2,
		models.StageAcquireClips: 4,
	}
	for _, spec := range stageTable {
		if expected, overridden := want[spec.name]; overridden {
			if spec.maxAttempts != expected {
				t.Errorf("stage %s: max_attempts = %d, want %d", spec.name, spec.maxAttempts, expected)
			}
			continue
		}
		if spec.maxAttempts != 3 {
			t.Errorf("stage %s: max_attempts = %d, want default 3", spec.name, spec.maxAttempts)
		}
	}
}

func TestStageTableTimeoutsMatchSpec(t *testing.T) {
	want := map[models.StageName]time.Duration{
		models.StageTranscribe:   10 * time.Minute,
		models.StageAcquireClips: 15 * time.Minute,
		models.StageComposeBody:  20 * time.Minute,
	}
	for _, spec := range stageTable {
		if expected, overridden := want[spec.name]; overridden {
			if spec.timeout != expected {
				t.Errorf("stage %s: timeout = %v, want %v", spec.name, spec.timeout, expected)
			}
			continue
		}
		if spec.timeout != 2*time.Minute {
			t.Errorf("stage %s: timeout = %v, want default 2m", spec.name, spec.timeout)
		}
	}
}

func TestBackoffDelayStaysWithinCap(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffDelay(attempt, 0)
		if d > backoffCap+backoffCap/4 {
			t.Errorf("attempt %d: delay %v exceeds cap+jitter envelope", attempt, d)
		}
		if d < 0 {
			t.Errorf("attempt %d: negative delay %v", attempt, d)
		}
	}
}

func TestBackoffDelayGrowsWithAttempt(t *testing.T) {
	small := backoffDelay(1, 0)
	large := backoffDelay(5, 0)
	if large <= small {
		t.Errorf("expected backoff to grow with attempt, attempt1=%v attempt5=%v", small, large)
	}
}

func TestBackoffDelayHonorsHintWhenLarger(t *testing.T) {
	hint := 100 * time.Second
	got := backoffDelay(1, hint)
	if got != hint {
		t.Errorf("expected hint to win when larger than computed delay, got %v", got)
	}
}

func TestStageIndexResumesAfterLastCommittedStage(t *testing.T) {
	idx := stageIndex(models.StageTranscribe)
	if stageTable[idx].name != models.StagePostProcessSubtitles {
		t.Errorf("expected resume at post_process_subtitles, got %s", stageTable[idx].name)
	}
}

func TestStageIndexEmptyStageStartsAtZero(t *testing.T) {
	if stageIndex("") != 0 {
		t.Errorf("expected empty stage to resume at index 0")
	}
}

func TestStageIndexUnknownStageStartsAtZero(t *testing.T) {
	if stageIndex("not_a_real_stage") != 0 {
		t.Errorf("expected unknown stage to resume at index 0")
	}
}

func TestResultConstructorsTagCorrectly(t *testing.T) {
	if ok().kind != resultOk {
		t.Error("ok() should be resultOk")
	}
	if retryable(models.ErrorUpstreamTimeout, "x").kind != resultRetryable {
		t.Error("retryable() should be resultRetryable")
	}
	if fatal(models.ErrorBadInput, "x").kind != resultFatal {
		t.Error("fatal() should be resultFatal")
	}
	if cancelled().kind != resultCancelled {
		t.Error("cancelled() should be resultCancelled")
	}
	if cancelled().errorKind != models.ErrorCancelled {
		t.Error("cancelled() should carry the Cancelled error kind")
	}
}

func TestRenderSRTFormatsTimestampsAndSequenceNumbers(t *testing.T) {
	segments := []models.SubtitleSegment{
		{Index: 0, StartSeconds: 0, EndSeconds: 1.5, Text: "hello"},
		{Index: 1, StartSeconds: 1.5, EndSeconds: 3661.25, Text: "world"},
	}
	out := renderSRT(segments)
	if !contains(out, "1\n00:00:00,000 --> 00:00:01,500\nhello") {
		t.Errorf("unexpected SRT output: %q", out)
	}
	if !contains(out, "2\n00:00:01,500 --> 01:01:01,250\nworld") {
		t.Errorf("unexpected SRT output: %q", out)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// Audio duration boundary checking itself is tested in
// internal/submission (TestValidateAudioDurationBoundaries), which is where
// ValidateAudioDuration now lives; runValidateInput just calls it.
