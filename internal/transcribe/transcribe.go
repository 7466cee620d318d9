// Package transcribe implements the Transcriber (spec §4.D): audio blob to
// time-coded SubtitleSegment list via Whisper, grouping word-level timestamps
// into phrase-level segments.
package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/churchcast/reelforge/internal/models"
)

// maxSegmentSeconds and minSegmentSeconds bound phrase-level grouping
// (spec §4.D "phrase-level segments of 2-6 seconds each").
const (
	minSegmentSeconds = 2.0
	maxSegmentSeconds = 6.0
	silenceGapSeconds = 0.6
)

// RetryableError signals a stage-retryable failure (spec §4.D "Upstream
// timeouts are RetryableError{upstream_timeout}").
type RetryableError struct {
	Kind   models.ErrorKind
	Detail string
}

func (e *RetryableError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Detail) }

// FatalError signals a stage-fatal failure (spec §4.D "Fails with BadInput
// for unsupported formats").
type FatalError struct {
	Kind   models.ErrorKind
	Detail string
}

func (e *FatalError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Detail) }

// supportedContentTypes maps the declared audio content type to the file
// extension hint the Whisper client needs. Extensions come from the
// declared content type, never from slicing the filename — the upstream bug
// this avoids is a hard-coded ".mp3"→".srt" substitution that silently
// corrupted ".m4a" inputs (spec §4.D).
var supportedContentTypes = map[string]string{
	"audio/mpeg": ".mp3",
	"audio/mp3":  ".mp3",
	"audio/wav":  ".wav",
	"audio/x-wav": ".wav",
	"audio/m4a":  ".m4a",
	"audio/mp4":  ".m4a",
	"audio/x-m4a": ".m4a",
}

// Transcriber wraps Whisper transcription.
type Transcriber struct {
	client *openai.Client
}

func New(apiKey string) *Transcriber {
	return &Transcriber{client: openai.NewClient(apiKey)}
}

// Transcribe fetches audio bytes and content type from a blob URL, sends them
// to Whisper, and returns phrase-level subtitle segments (spec §4.D).
func (t *Transcriber) Transcribe(ctx context.Context, audioBlobURL, language string) ([]models.SubtitleSegment, error) {
	audioBytes, contentType, err := fetchAudio(ctx, audioBlobURL)
	if err != nil {
		return nil, &RetryableError{Kind: models.ErrorUpstreamTimeout, Detail: err.Error()}
	}

	ext, ok := supportedContentTypes[strings.ToLower(contentType)]
	if !ok {
		return nil, &FatalError{
			Kind:   models.ErrorBadInput,
			Detail: fmt.Sprintf("unsupported audio content type %q (only mp3, wav, m4a accepted)", contentType),
		}
	}

	if language == "" {
		language = "en"
	}

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   bytes.NewReader(audioBytes),
		FilePath: "audio" + ext,
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: language,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularityWord,
		},
	})
	if err != nil {
		return nil, &RetryableError{Kind: models.ErrorUpstreamTimeout, Detail: fmt.Sprintf("whisper transcription failed: %v", err)}
	}

	// Silent audio produces zero words; composing proceeds without burn-in
	// rather than failing (spec §8 boundary behavior).
	if len(resp.Words) == 0 {
		return nil, nil
	}

	words := make([]word, len(resp.Words))
	for i, w := range resp.Words {
		words[i] = word{text: strings.TrimSpace(w.Word), start: w.Start, end: w.End}
	}

	return groupIntoSegments(words), nil
}

type word struct {
	text  string
	start float64
	end   float64
}

// groupIntoSegments aggregates word-level timestamps into 2-6s phrase
// segments, splitting on a silence gap greater than 0.6s or soft
// punctuation (spec §4.D).
func groupIntoSegments(words []word) []models.SubtitleSegment {
	var segments []models.SubtitleSegment
	var current []word

	flush := func() {
		if len(current) == 0 {
			return
		}
		text := joinWords(current)
		if text != "" {
			segments = append(segments, models.SubtitleSegment{
				Index:        len(segments),
				StartSeconds: current[0].start,
				EndSeconds:   current[len(current)-1].end,
				Text:         text,
			})
		}
		current = nil
	}

	for i, w := range words {
		if len(current) > 0 && w.end-current[0].start > maxSegmentSeconds {
			flush()
		}
		current = append(current, w)

		duration := w.end - current[0].start
		isLast := i == len(words)-1
		gapToNext := 0.0
		if !isLast {
			gapToNext = words[i+1].start - w.end
		}
		endsWithPunctuation := strings.HasSuffix(w.text, ".") || strings.HasSuffix(w.text, "!") || strings.HasSuffix(w.text, "?")

		shouldSplit := isLast ||
			duration >= maxSegmentSeconds ||
			gapToNext > silenceGapSeconds ||
			(duration >= minSegmentSeconds && endsWithPunctuation)

		if shouldSplit {
			flush()
		}
	}
	flush()

	return segments
}

func joinWords(words []word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if w.text != "" {
			parts = append(parts, w.text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// fetchAudio is a small HTTP GET the orchestrator's blob client normally
// performs; kept local so Transcriber has no dependency on the blob package
// beyond a plain URL.
func fetchAudio(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build audio fetch request: %w", err)
	}

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("audio fetch returned status %d", resp.StatusCode)
	}

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, "", fmt.Errorf("failed to read audio body: %w", err)
	}

	return buf.Bytes(), resp.Header.Get("Content-Type"), nil
}
