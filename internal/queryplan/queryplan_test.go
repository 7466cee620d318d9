package queryplan

import (
	"testing"

	"github.com/churchcast/reelforge/internal/models"
)

func TestBuildSlotsCoversTotalDuration(t *testing.T) {
	slots := BuildSlots(180)
	if len(slots) == 0 {
		t.Fatal("expected at least one slot")
	}

	var covered float64
	for i, s := range slots {
		if s.Index != i {
			t.Errorf("slot %d has Index %d", i, s.Index)
		}
		covered += s.DurationSeconds
	}
	if diff := covered - 180; diff > 0.01 || diff < -0.01 {
		t.Errorf("expected slots to cover 180s total, got %.4f", covered)
	}
}

func TestBuildSlotsMeanLengthWithinRange(t *testing.T) {
	slots := BuildSlots(100)
	if len(slots) == 0 {
		t.Fatal("expected slots")
	}
	mean := 100.0 / float64(len(slots))
	if mean < 7.5 || mean > 12.5 {
		t.Errorf("expected mean clip length near [8,12], got %.2f over %d slots", mean, len(slots))
	}
}

func TestBuildSlotsZeroDuration(t *testing.T) {
	if slots := BuildSlots(0); slots != nil {
		t.Errorf("expected nil slots for zero duration, got %+v", slots)
	}
}

func TestTextInWindowSelectsOverlappingSegments(t *testing.T) {
	segments := []models.SubtitleSegment{
		{StartSeconds: 0, EndSeconds: 5, Text: "first"},
		{StartSeconds: 5, EndSeconds: 10, Text: "second"},
		{StartSeconds: 10, EndSeconds: 15, Text: "third"},
	}
	got := textInWindow(segments, 4, 11)
	if got != "first second third" {
		t.Errorf("unexpected window text: %q", got)
	}
}

func TestFallbackQueryRotatesThroughTags(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < len(fallbackTags)*2; i++ {
		_, tags := fallbackQuery(i)
		if len(tags) != 1 {
			t.Fatalf("expected exactly one fallback tag, got %v", tags)
		}
		seen[tags[0]] = true
	}
	if len(seen) != len(fallbackTags) {
		t.Errorf("expected to cycle through all %d fallback tags, saw %d", len(fallbackTags), len(seen))
	}
}
