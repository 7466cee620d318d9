package submission

import (
	"testing"

	"github.com/google/uuid"
)

func validSubmission() JobSubmission {
	return JobSubmission{
		TenantID:     uuid.New(),
		UserID:       uuid.New(),
		AudioBlobURL: "https://blob.example.com/audio.m4a",
		Title:        "Sunday Sermon",
		BGMGain:      0.2,
	}
}

func TestValidateAccepts(t *testing.T) {
	if err := validSubmission().Validate(); err != nil {
		t.Fatalf("expected valid submission to pass, got: %v", err)
	}
}

func TestValidateRejectsMissingAudioURL(t *testing.T) {
	sub := validSubmission()
	sub.AudioBlobURL = ""
	if err := sub.Validate(); err == nil {
		t.Fatal("expected validation error for missing audio_blob_url")
	}
}

func TestValidateRejectsMalformedAudioURL(t *testing.T) {
	sub := validSubmission()
	sub.AudioBlobURL = "not-a-url"
	if err := sub.Validate(); err == nil {
		t.Fatal("expected validation error for malformed audio_blob_url")
	}
}

func TestValidateRejectsBGMGainOutOfRange(t *testing.T) {
	sub := validSubmission()
	sub.BGMGain = 0.9
	if err := sub.Validate(); err == nil {
		t.Fatal("expected validation error for bgm_gain above 0.5")
	}
}

func TestValidateRejectsUnknownGenerationMode(t *testing.T) {
	sub := validSubmission()
	bogus := "freestyle"
	sub.GenerationMode = &bogus
	if err := sub.Validate(); err == nil {
		t.Fatal("expected validation error for unrecognized generation_mode")
	}
}

func TestValidateAcceptsKnownGenerationModes(t *testing.T) {
	for _, mode := range []string{"natural", "template"} {
		sub := validSubmission()
		m := mode
		sub.GenerationMode = &m
		if err := sub.Validate(); err != nil {
			t.Fatalf("expected generation_mode %q to be valid, got: %v", mode, err)
		}
	}
}

func TestValidateAudioDurationBoundaries(t *testing.T) {
	cases := []struct {
		seconds float64
		wantErr bool
	}{
		{1.9, true},
		{2.0, false},
		{1800, false},
		{1800.1, true},
	}
	for _, c := range cases {
		err := ValidateAudioDuration(c.seconds)
		if c.wantErr && err == nil {
			t.Errorf("duration %.1fs: expected error, got none", c.seconds)
		}
		if !c.wantErr && err != nil {
			t.Errorf("duration %.1fs: expected no error, got %v", c.seconds, err)
		}
	}
}
