package overlay

import (
	"testing"

	"github.com/churchcast/reelforge/internal/models"
)

func TestApplyReturnsBodyUnchangedWhenBothDisabled(t *testing.T) {
	layout := &models.ThumbnailLayout{
		Intro: models.IntroOutroSettings{Enabled: false},
		Outro: models.IntroOutroSettings{Enabled: false},
	}

	o := New()
	got, err := o.Apply(nil, "/tmp/body.mp4", layout, "/tmp/scratch", "/tmp/final.mp4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/tmp/body.mp4" {
		t.Errorf("expected unchanged body path, got %q", got)
	}
}

func TestApplyReturnsBodyUnchangedWhenLayoutNil(t *testing.T) {
	o := New()
	got, err := o.Apply(nil, "/tmp/body.mp4", nil, "/tmp/scratch", "/tmp/final.mp4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/tmp/body.mp4" {
		t.Errorf("expected unchanged body path, got %q", got)
	}
}

func TestEscapeDrawtextEscapesSpecialCharacters(t *testing.T) {
	got := escapeDrawtext("50% off: 'now'")
	want := "50\\% off\\: \\'now\\'"
	if got != want {
		t.Errorf("escapeDrawtext(%q) = %q, want %q", "50% off: 'now'", got, want)
	}
}

func TestNormalizeColorDefaultsToWhite(t *testing.T) {
	if got := normalizeColor(""); got != "white" {
		t.Errorf("expected default white, got %q", got)
	}
	if got := normalizeColor("#ff0000"); got != "#ff0000" {
		t.Errorf("expected passthrough, got %q", got)
	}
}

func TestTruncateLeavesShortStringsUnchanged(t *testing.T) {
	if got := truncate("short", 2000); got != "short" {
		t.Errorf("expected unchanged, got %q", got)
	}
}

func TestTruncateCutsLongStrings(t *testing.T) {
	long := make([]byte, 3000)
	for i := range long {
		long[i] = 'a'
	}
	got := truncate(string(long), 2000)
	if len(got) <= 2000 {
		t.Errorf("expected truncation marker appended beyond limit, got len=%d", len(got))
	}
}
