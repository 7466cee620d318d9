package models

import (
	"encoding/json"
	"testing"
)

func TestJSONBMarshal(t *testing.T) {
	j := JSONB{
		"external_clip_ids": []string{"clip-1", "clip-2"},
		"mood":              "calm",
	}

	data, err := j.Value()
	if err != nil {
		t.Fatalf("failed to marshal JSONB: %v", err)
	}

	if data == nil {
		t.Fatal("expected non-nil data")
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data.([]byte), &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["mood"] != "calm" {
		t.Errorf("expected mood=calm, got %v", result["mood"])
	}
}

func TestJSONBScan(t *testing.T) {
	jsonData := []byte(`{"tone": "reflective", "slots": 18}`)

	var j JSONB
	if err := j.Scan(jsonData); err != nil {
		t.Fatalf("failed to scan: %v", err)
	}

	if j["tone"] != "reflective" {
		t.Errorf("expected tone=reflective, got %v", j["tone"])
	}

	if j["slots"].(float64) != 18 {
		t.Errorf("expected slots=18, got %v", j["slots"])
	}
}

func TestJobStatusTerminal(t *testing.T) {
	cases := map[JobStatus]bool{
		JobStatusQueued:    false,
		JobStatusRunning:   false,
		JobStatusSucceeded: true,
		JobStatusFailed:    true,
		JobStatusCancelled: true,
	}

	for status, want := range cases {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestStageOrderMatchesBands(t *testing.T) {
	if len(StageOrder) != len(StageBands) {
		t.Fatalf("StageOrder has %d stages but StageBands has %d entries", len(StageOrder), len(StageBands))
	}
	for _, s := range StageOrder {
		if _, ok := StageBands[s]; !ok {
			t.Errorf("stage %s missing from StageBands", s)
		}
	}
}

func TestStageBandsAreContiguousAndOrdered(t *testing.T) {
	prevHigh := 0
	for _, s := range StageOrder {
		band := StageBands[s]
		if band.Low != prevHigh {
			t.Errorf("stage %s starts at %d, expected %d (contiguous with previous band)", s, band.Low, prevHigh)
		}
		if band.High <= band.Low {
			t.Errorf("stage %s has non-positive band width [%d,%d]", s, band.Low, band.High)
		}
		prevHigh = band.High
	}
	if prevHigh != 100 {
		t.Errorf("final stage band ends at %d, want 100", prevHigh)
	}
}

func TestClipProbeConformsToContract(t *testing.T) {
	conforming := ClipProbe{
		VideoCodec: NormalizedVideoCodec,
		Width:      NormalizedWidth,
		Height:     NormalizedHeight,
		FPS:        NormalizedFPS,
		PixFmt:     NormalizedPixFmt,
		HasAudio:   false,
	}
	if !conforming.ConformsToContract() {
		t.Error("expected conforming clip to satisfy the NormalizedClip contract")
	}

	nonConforming := conforming
	nonConforming.HasAudio = true
	if nonConforming.ConformsToContract() {
		t.Error("expected clip with an audio stream to fail the NormalizedClip contract")
	}

	wrongRes := conforming
	wrongRes.Width = 1280
	if wrongRes.ConformsToContract() {
		t.Error("expected clip with wrong resolution to fail the NormalizedClip contract")
	}
}
