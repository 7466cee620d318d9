package postprocess

import (
	"testing"

	"github.com/churchcast/reelforge/internal/models"
)

func seg(index int, start, end float64, text string) models.SubtitleSegment {
	return models.SubtitleSegment{Index: index, StartSeconds: start, EndSeconds: end, Text: text}
}

func TestProcessAppliesWholeTokenReplacement(t *testing.T) {
	segments := []models.SubtitleSegment{
		seg(0, 0, 3, "God bless you and Godspeed"),
	}
	replacements := []models.ReplacementEntry{
		{OriginalToken: "God", ReplacementToken: "Yahweh"},
	}

	result := Process(segments, replacements)
	if len(result.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(result.Segments))
	}
	// "Godspeed" must not match the whole-token pattern for "God".
	if got := result.Segments[0].Text; got != "Yahweh bless you and Godspeed" {
		t.Errorf("unexpected replacement result: %q", got)
	}
	if len(result.MatchedToken) != 1 || result.MatchedToken[0] != "God" {
		t.Errorf("expected MatchedToken=[God], got %v", result.MatchedToken)
	}
}

func TestProcessReplacementIsCaseSensitive(t *testing.T) {
	segments := []models.SubtitleSegment{seg(0, 0, 2, "god is good")}
	replacements := []models.ReplacementEntry{{OriginalToken: "God", ReplacementToken: "Yahweh"}}

	result := Process(segments, replacements)
	if result.Segments[0].Text != "god is good" {
		t.Errorf("expected no match for lowercase 'god', got %q", result.Segments[0].Text)
	}
	if len(result.MatchedToken) != 0 {
		t.Errorf("expected no matched tokens, got %v", result.MatchedToken)
	}
}

func TestProcessMergesShortAdjacentSegments(t *testing.T) {
	segments := []models.SubtitleSegment{
		seg(0, 0, 1.5, "Hello"),
		seg(1, 1.5, 3.0, "friends"),
	}
	result := Process(segments, nil)
	if len(result.Segments) != 1 {
		t.Fatalf("expected segments to merge into 1, got %d: %+v", len(result.Segments), result.Segments)
	}
	if result.Segments[0].Text != "Hello friends" {
		t.Errorf("unexpected merged text: %q", result.Segments[0].Text)
	}
	if result.Segments[0].StartSeconds != 0 || result.Segments[0].EndSeconds != 3.0 {
		t.Errorf("unexpected merged span: %+v", result.Segments[0])
	}
}

func TestProcessDoesNotMergeWhenOverDurationCap(t *testing.T) {
	segments := []models.SubtitleSegment{
		seg(0, 0, 4, "Hello there"),
		seg(1, 4, 8, "my friends"),
	}
	result := Process(segments, nil)
	if len(result.Segments) != 2 {
		t.Fatalf("expected segments to stay separate, got %d", len(result.Segments))
	}
}

func TestProcessDoesNotMergeWhenOverTextLengthCap(t *testing.T) {
	segments := []models.SubtitleSegment{
		seg(0, 0, 1, "this is a fairly long first segment of text"),
		seg(1, 1, 2, "and more"),
	}
	result := Process(segments, nil)
	if len(result.Segments) != 2 {
		t.Fatalf("expected segments to stay separate due to text length cap, got %d", len(result.Segments))
	}
}

func TestProcessTrimsAndDropsEmptySegments(t *testing.T) {
	segments := []models.SubtitleSegment{
		seg(0, 0, 1, "   "),
		seg(1, 1, 2, "  real text  "),
	}
	result := Process(segments, nil)
	if len(result.Segments) != 1 {
		t.Fatalf("expected empty segment to be dropped, got %d: %+v", len(result.Segments), result.Segments)
	}
	if result.Segments[0].Text != "real text" {
		t.Errorf("expected trimmed text, got %q", result.Segments[0].Text)
	}
	if result.Segments[0].Index != 0 {
		t.Errorf("expected reindexed segment to have Index 0, got %d", result.Segments[0].Index)
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	segments := []models.SubtitleSegment{
		seg(0, 0, 3, "The Lord God is good"),
		seg(1, 3, 4.5, "all the time"),
	}
	replacements := []models.ReplacementEntry{{OriginalToken: "God", ReplacementToken: "Yahweh"}}

	once := Process(segments, replacements)
	twice := Process(once.Segments, replacements)

	if len(once.Segments) != len(twice.Segments) {
		t.Fatalf("expected stable segment count, got %d then %d", len(once.Segments), len(twice.Segments))
	}
	for i := range once.Segments {
		if once.Segments[i].Text != twice.Segments[i].Text {
			t.Errorf("segment %d text changed on reprocessing: %q vs %q", i, once.Segments[i].Text, twice.Segments[i].Text)
		}
	}
}
