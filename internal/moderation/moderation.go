// Package moderation implements the Vision Moderator (spec §4.H): a
// stateless thumbnail classifier backed by a vision LLM, with a process-local
// 24h response cache keyed by thumbnail hash.
package moderation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/churchcast/reelforge/internal/models"
)

// cacheTTL matches spec §4.H "The moderator's output is cached by thumbnail
// hash for 24h".
const cacheTTL = 24 * time.Hour

// policyPrompt is the fixed classification policy (spec §4.H reject/accept
// categories). It never varies per tenant or job.
const policyPrompt = `You are a content moderator for a devotional short-form video pipeline.
Classify the attached image as ACCEPT or REJECT.

REJECT if the image contains any of:
- a recognizable human face
- revealing attire
- a consumer-product close-up
- a vehicle
- a pet or domestic animal
- weapons, alcohol, or nightlife imagery

ACCEPT if the image shows pure nature, architecture without people, or symbolic
biblical animals at a distance (sheep, doves).

Respond with exactly one word: ACCEPT or REJECT.`

type cacheEntry struct {
	verdict   models.ModerationVerdict
	expiresAt time.Time
}

// Moderator classifies thumbnails via a vision LLM call.
//
// Shared-resource policy: the cache is process-local, read-mostly, and
// guarded by a read-write mutex — concurrent reads share the read lock and
// wait only while the brief write-through on a miss holds the write lock.
type Moderator struct {
	client *genai.Client
	model  string

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

func New(ctx context.Context, apiKey string) (*Moderator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to construct genai client: %w", err)
	}
	return &Moderator{
		client: client,
		model:  "gemini-2.5-flash",
		cache:  make(map[string]cacheEntry),
	}, nil
}

// Classify returns ACCEPT or REJECT for a thumbnail's image bytes (spec
// §4.H). Results are cached by content hash for 24h.
func (m *Moderator) Classify(ctx context.Context, thumbnailBytes []byte) (models.ModerationVerdict, error) {
	key := hashThumbnail(thumbnailBytes)

	if verdict, ok := m.cached(key); ok {
		return verdict, nil
	}

	verdict, err := m.classifyLive(ctx, thumbnailBytes)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.cache[key] = cacheEntry{verdict: verdict, expiresAt: time.Now().Add(cacheTTL)}
	m.mu.Unlock()

	return verdict, nil
}

func (m *Moderator) cached(key string) (models.ModerationVerdict, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.verdict, true
}

func (m *Moderator) classifyLive(ctx context.Context, thumbnailBytes []byte) (models.ModerationVerdict, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: policyPrompt},
				{InlineData: &genai.Blob{MIMEType: "image/jpeg", Data: thumbnailBytes}},
			},
		},
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("vision classification request failed: %w", err)
	}

	text := strings.ToUpper(strings.TrimSpace(resp.Text()))
	switch {
	case strings.Contains(text, "ACCEPT"):
		return models.ModerationAccept, nil
	case strings.Contains(text, "REJECT"):
		return models.ModerationReject, nil
	default:
		// An unparseable response is treated as a reject — the blacklist
		// table backstops false negatives (spec §4.H), it is never asked to
		// backstop false accepts from a malformed classification.
		return models.ModerationReject, nil
	}
}

func hashThumbnail(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
