package moderation

import (
	"testing"
	"time"

	"github.com/churchcast/reelforge/internal/models"
)

func TestCachedReturnsStoredVerdictBeforeExpiry(t *testing.T) {
	m := &Moderator{cache: map[string]cacheEntry{}}
	key := hashThumbnail([]byte("thumb-a"))
	m.cache[key] = cacheEntry{verdict: models.ModerationAccept, expiresAt: time.Now().Add(time.Hour)}

	verdict, ok := m.cached(key)
	if !ok || verdict != models.ModerationAccept {
		t.Fatalf("expected cached ACCEPT, got verdict=%q ok=%v", verdict, ok)
	}
}

func TestCachedMissesAfterExpiry(t *testing.T) {
	m := &Moderator{cache: map[string]cacheEntry{}}
	key := hashThumbnail([]byte("thumb-b"))
	m.cache[key] = cacheEntry{verdict: models.ModerationReject, expiresAt: time.Now().Add(-time.Minute)}

	if _, ok := m.cached(key); ok {
		t.Fatal("expected expired cache entry to miss")
	}
}

func TestHashThumbnailIsStableAndContentAddressed(t *testing.T) {
	a := hashThumbnail([]byte("same bytes"))
	b := hashThumbnail([]byte("same bytes"))
	c := hashThumbnail([]byte("different bytes"))

	if a != b {
		t.Error("expected identical bytes to hash identically")
	}
	if a == c {
		t.Error("expected different bytes to hash differently")
	}
}
