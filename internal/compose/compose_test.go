package compose

import (
	"strings"
	"testing"

	"github.com/churchcast/reelforge/internal/models"
)

func conformingProbe() models.ClipProbe {
	return models.ClipProbe{
		VideoCodec: models.NormalizedVideoCodec,
		Width:      models.NormalizedWidth,
		Height:     models.NormalizedHeight,
		FPS:        models.NormalizedFPS,
		PixFmt:     models.NormalizedPixFmt,
	}
}

func TestAllConformTrueWhenEveryClipMatches(t *testing.T) {
	probes := []models.ClipProbe{conformingProbe(), conformingProbe(), conformingProbe()}
	if !allConform(probes) {
		t.Fatal("expected fast path when every clip conforms")
	}
}

func TestAllConformFalseWhenAnyClipDiffers(t *testing.T) {
	nonConforming := conformingProbe()
	nonConforming.Width = 1280
	probes := []models.ClipProbe{conformingProbe(), nonConforming, conformingProbe()}
	if allConform(probes) {
		t.Fatal("expected slow path when any clip does not conform")
	}
}

func TestAllConformEmptyIsTrue(t *testing.T) {
	if !allConform(nil) {
		t.Fatal("expected vacuously true for no clips")
	}
}

func TestDbToLinearUnityAtZero(t *testing.T) {
	if got := dbToLinear(0); got < 0.999 || got > 1.001 {
		t.Errorf("expected unity gain at 0dB, got %v", got)
	}
}

func TestDbToLinearAttenuatesNegativeDB(t *testing.T) {
	got := dbToLinear(bgmDuckDB)
	if got <= 0 || got >= 1 {
		t.Errorf("expected -6dB to attenuate into (0,1), got %v", got)
	}
	// -6dB is approximately half amplitude.
	if got < 0.45 || got > 0.55 {
		t.Errorf("expected -6dB ≈ 0.501 linear, got %v", got)
	}
}

func TestWrapAtBreaksOnWordBoundary(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog and keeps running"
	wrapped := wrapAt(text, 20)
	for _, line := range strings.Split(wrapped, "\\N") {
		if len(line) > 20 {
			t.Errorf("line exceeds wrap width: %q", line)
		}
	}
}

func TestWrapAtShortTextUnchanged(t *testing.T) {
	if got := wrapAt("short", 40); got != "short" {
		t.Errorf("expected short text unchanged, got %q", got)
	}
}

func TestFormatASSTimeFormatsHMSCentiseconds(t *testing.T) {
	if got := formatASSTime(3661.25); got != "1:01:01.25" {
		t.Errorf("unexpected ASS time format: %q", got)
	}
	if got := formatASSTime(0); got != "0:00:00.00" {
		t.Errorf("unexpected ASS time format for zero: %q", got)
	}
}

func TestFormatASSTimeClampsNegative(t *testing.T) {
	if got := formatASSTime(-5); got != "0:00:00.00" {
		t.Errorf("expected negative seconds clamped to zero, got %q", got)
	}
}
