package transcribe

import "testing"

func TestGroupIntoSegmentsSplitsOnSilenceGap(t *testing.T) {
	words := []word{
		{text: "Hello", start: 0.0, end: 0.3},
		{text: "there", start: 0.3, end: 0.6},
		// gap > 0.6s triggers a split here
		{text: "Welcome", start: 1.5, end: 1.9},
		{text: "friends", start: 1.9, end: 2.3},
	}

	segments := groupIntoSegments(words)
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d: %+v", len(segments), segments)
	}
	if segments[0].Text != "Hello there" {
		t.Errorf("expected first segment %q, got %q", "Hello there", segments[0].Text)
	}
	if segments[1].Text != "Welcome friends" {
		t.Errorf("expected second segment %q, got %q", "Welcome friends", segments[1].Text)
	}
}

func TestGroupIntoSegmentsSplitsOnMaxDuration(t *testing.T) {
	words := []word{
		{text: "one", start: 0, end: 1},
		{text: "two", start: 1, end: 2},
		{text: "three", start: 2, end: 3},
		{text: "four", start: 3, end: 4},
		{text: "five", start: 4, end: 5},
		{text: "six", start: 5, end: 6.5}, // pushes duration past 6s cap
		{text: "seven", start: 6.5, end: 7},
	}

	segments := groupIntoSegments(words)
	if len(segments) < 2 {
		t.Fatalf("expected a split once duration exceeds %gs, got %+v", maxSegmentSeconds, segments)
	}
	for _, seg := range segments {
		if seg.EndSeconds-seg.StartSeconds > maxSegmentSeconds+0.01 {
			t.Errorf("segment %+v exceeds max duration", seg)
		}
	}
}

func TestGroupIntoSegmentsIndicesAreSequential(t *testing.T) {
	words := []word{
		{text: "a", start: 0, end: 0.5},
		{text: "b.", start: 0.5, end: 2.1},
		{text: "c", start: 3.0, end: 3.5},
	}
	segments := groupIntoSegments(words)
	for i, seg := range segments {
		if seg.Index != i {
			t.Errorf("segment %d has Index %d", i, seg.Index)
		}
	}
}

func TestGroupIntoSegmentsEmptyInput(t *testing.T) {
	segments := groupIntoSegments(nil)
	if len(segments) != 0 {
		t.Fatalf("expected no segments for empty input, got %+v", segments)
	}
}
