// Package queryplan implements the Query Planner (spec §4.F): slices the
// finalized subtitle timeline into clip slots and derives an English noun
// phrase search query for each, falling back to a static rotation when the
// planning LLM is unavailable.
package queryplan

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/churchcast/reelforge/internal/models"
)

// minMeanClipSeconds and maxMeanClipSeconds bound the candidate clip lengths
// the slot-count search considers (spec §4.F "mean_clip_length ∈ [8s,12s]").
const (
	minMeanClipSeconds = 8.0
	maxMeanClipSeconds = 12.0
)

// fallbackTags is the static rotation used when the planning LLM is
// unavailable — a degraded success, not an error (spec §4.F).
var fallbackTags = []string{"nature", "sky", "ocean", "forest", "light"}

// Planner derives slots and queries from a finalized subtitle timeline.
type Planner struct {
	client *openai.Client
}

func New(apiKey string) *Planner {
	return &Planner{client: openai.NewClient(apiKey)}
}

// BuildSlots computes the slot count and time windows for a given total
// duration, picking the mean clip length in [8s,12s] that minimizes the
// remainder (spec §4.F "Slot count = ceil(total_duration / mean_clip_length)
// ... picked to minimize |remainder|").
func BuildSlots(totalDurationSeconds float64) []models.Slot {
	if totalDurationSeconds <= 0 {
		return nil
	}

	bestRemainder := math.MaxFloat64
	bestCount := 0

	for meanLength := minMeanClipSeconds; meanLength <= maxMeanClipSeconds; meanLength += 0.5 {
		count := int(math.Ceil(totalDurationSeconds / meanLength))
		if count <= 0 {
			continue
		}
		exact := totalDurationSeconds / float64(count)
		remainder := math.Abs(exact - meanLength)
		if remainder < bestRemainder {
			bestRemainder = remainder
			bestCount = count
		}
	}

	if bestCount == 0 {
		bestCount = 1
	}

	slots := make([]models.Slot, bestCount)
	slotDuration := totalDurationSeconds / float64(bestCount)
	for i := range slots {
		slots[i] = models.Slot{
			Index:           i,
			StartSeconds:    float64(i) * slotDuration,
			DurationSeconds: slotDuration,
		}
	}

	return slots
}

// Plan fills in QueryString and SemanticTags for every slot, deriving each
// query from the subtitle text spanning that slot's window (spec §4.F).
func (p *Planner) Plan(ctx context.Context, slots []models.Slot, segments []models.SubtitleSegment) []models.Slot {
	for i := range slots {
		windowText := textInWindow(segments, slots[i].StartSeconds, slots[i].StartSeconds+slots[i].DurationSeconds)
		query, tags, ok := p.queryForWindow(ctx, windowText)
		if !ok {
			query, tags = fallbackQuery(i)
		}
		slots[i].QueryString = query
		slots[i].SemanticTags = tags
	}
	return slots
}

func textInWindow(segments []models.SubtitleSegment, start, end float64) string {
	var parts []string
	for _, seg := range segments {
		if seg.StartSeconds < end && seg.EndSeconds > start {
			parts = append(parts, seg.Text)
		}
	}
	return strings.Join(parts, " ")
}

// queryForWindow asks the planning LLM to summarize the window's subtitle
// text into a 3-6 word noun phrase. ok=false signals the caller to use the
// static fallback rotation (spec §4.F "if the LLM is unavailable, fall back
// to a static rotation").
func (p *Planner) queryForWindow(ctx context.Context, windowText string) (query string, tags []string, ok bool) {
	if strings.TrimSpace(windowText) == "" {
		return "", nil, false
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: "gpt-5-mini",
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: "You derive short stock-footage search queries from narration text. " +
					"Respond with a single English noun phrase of 3 to 6 words describing a visual scene " +
					"that would pair well with the narration. Do not include verbs of speech, names, or punctuation.",
			},
			{Role: openai.ChatMessageRoleUser, Content: windowText},
		},
		Temperature: 0.7,
	})
	if err != nil {
		log.Printf("[queryplan] planning LLM unavailable, using fallback rotation: %v", err)
		return "", nil, false
	}
	if len(resp.Choices) == 0 {
		return "", nil, false
	}

	phrase := strings.TrimSpace(resp.Choices[0].Message.Content)
	if phrase == "" {
		return "", nil, false
	}

	words := strings.Fields(phrase)
	return phrase, words, true
}

func fallbackQuery(slotIndex int) (string, []string) {
	tag := fallbackTags[slotIndex%len(fallbackTags)]
	return fmt.Sprintf("peaceful %s scenery", tag), []string{tag}
}
