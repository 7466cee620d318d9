// Package clipsource implements the Clip Source (spec §4.G): resolves each
// planned Slot to a local, normalized-or-normalizable clip file by trying
// the pre-normalized pool, the content-addressed cache, and finally an
// external search API, filtering every external candidate through the
// blacklist, the tenant's recency window, and the Vision Moderator.
package clipsource

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/churchcast/reelforge/internal/models"
)

// Candidate is one result from the external clip search API (spec §6
// "Clip search: search(query, page_size) → Candidate[]").
type Candidate struct {
	ID           string
	DownloadURL  string
	ThumbnailURL string
	Duration     float64
}

// candidatesPerSearch and maxRelaxations implement the K=15 / 2-relaxation
// resolution policy (spec §4.G).
const (
	candidatesPerSearch = 15
	maxRelaxations      = 2
)

// SearchClient is the external clip search dependency (spec §6).
type SearchClient interface {
	Search(ctx context.Context, query string, pageSize int) ([]Candidate, error)
}

// Moderator classifies a candidate's thumbnail (spec §4.H).
type Moderator interface {
	Classify(ctx context.Context, thumbnailBytes []byte) (models.ModerationVerdict, error)
}

// Downloader fetches bytes for a URL — satisfied by the blob client's Get,
// kept narrow so tests can fake it without a full Store.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// BlacklistChecker and RecencyChecker are narrow Job Store slices (spec §4.G
// filter pipeline).
type BlacklistChecker interface {
	IsBlacklisted(ctx context.Context, externalClipID string) (bool, error)
}

// Pool is the pre-normalized local clip pool shipped with the build (spec
// §4.G resolution order step 1). Paths are NormalizedClip-contract files.
type Pool interface {
	RandomPick() (localPath string, ok bool)
}

// Cache is the content-addressed local cache keyed by external_clip_id (spec
// §4.G resolution order step 2).
type Cache interface {
	Get(externalClipID string) (localPath string, ok bool)
	Put(externalClipID, localPath string) error
}

// ErrTooFewClips is the retryable failure when, after relaxation and pool
// fallback, a slot still has no acceptable clip (spec §4.G "RetryableError{
// too_few_clips}").
var ErrTooFewClips = fmt.Errorf("too few clips")

// Source resolves slots to local clips. A single Source is shared across
// the bounded per-job slot fan-out in acquire_clips (spec §5, up to 4
// concurrent slots), so pendingUsed is guarded by mu; recencyWindow is
// populated once at construction and only ever read afterward.
type Source struct {
	pool       Pool
	cache      Cache
	search     SearchClient
	moderator  Moderator
	downloader Downloader
	blacklist  BlacklistChecker
	limiter    *rate.Limiter

	recencyWindow map[string]bool // external_clip_id -> used, this tenant's last 10 successful jobs

	mu          sync.Mutex
	pendingUsed map[string]bool // accepted this job, not yet persisted (spec §4.G "in-memory pending-used set")
}

// New constructs a Source. recencyWindow is loaded once per job from
// store.RecencyWindow (spec §4.G "union of UsedClip.external_clip_id for
// this tenant's 10 most-recent successful jobs").
func New(pool Pool, cache Cache, search SearchClient, moderator Moderator, downloader Downloader, blacklist BlacklistChecker, limiter *rate.Limiter, recencyWindow map[string]bool) *Source {
	return &Source{
		pool:          pool,
		cache:         cache,
		search:        search,
		moderator:     moderator,
		downloader:    downloader,
		blacklist:     blacklist,
		limiter:       limiter,
		recencyWindow: recencyWindow,
		pendingUsed:   map[string]bool{},
	}
}

// Resolve fills every slot with a local clip path following the resolution
// order in spec §4.G. It downloads accepted candidates into localDir.
func (s *Source) Resolve(ctx context.Context, slots []models.Slot, localDir string) ([]models.AcquiredClip, error) {
	acquired := make([]models.AcquiredClip, 0, len(slots))

	for _, slot := range slots {
		clip, err := s.resolveSlot(ctx, slot, localDir)
		if err != nil {
			return nil, err
		}
		acquired = append(acquired, clip)
	}

	return acquired, nil
}

func (s *Source) resolveSlot(ctx context.Context, slot models.Slot, localDir string) (models.AcquiredClip, error) {
	// Step 1: pre-normalized local pool — zero re-encoding (spec §4.G).
	if s.pool != nil {
		if path, ok := s.pool.RandomPick(); ok {
			return models.AcquiredClip{Slot: slot, LocalPath: path, FromPool: true}, nil
		}
	}

	query := slot.QueryString
	for attempt := 0; attempt <= maxRelaxations; attempt++ {
		clip, ok, err := s.trySearch(ctx, slot, query, localDir)
		if err != nil {
			return models.AcquiredClip{}, err
		}
		if ok {
			return clip, nil
		}
		query = relax(query)
	}

	// Final fallback: pool again, tolerating a previously-empty pool only if
	// a later pick becomes available is not meaningful here — if the pool
	// was empty at step 1 it remains empty.
	if s.pool != nil {
		if path, ok := s.pool.RandomPick(); ok {
			return models.AcquiredClip{Slot: slot, LocalPath: path, FromPool: true}, nil
		}
	}

	return models.AcquiredClip{}, ErrTooFewClips
}

// trySearch issues one search-API call and filters its candidates through
// the pipeline in spec §4.G, checking the cache for each admitted candidate
// before downloading it.
func (s *Source) trySearch(ctx context.Context, slot models.Slot, query, localDir string) (models.AcquiredClip, bool, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return models.AcquiredClip{}, false, fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	candidates, err := s.search.Search(ctx, query, candidatesPerSearch)
	if err != nil {
		return models.AcquiredClip{}, false, fmt.Errorf("clip search failed: %w", err)
	}

	for _, c := range candidates {
		// Blacklist and dedup checks run before any cache-hit short-circuit
		// (spec §3 "Clips in the blacklist are forbidden from selection for
		// all tenants, forever") — a clip already in the content-addressed
		// cache must still clear them on every later use.
		admitted, err := s.admit(ctx, c)
		if err != nil {
			return models.AcquiredClip{}, false, err
		}
		if !admitted {
			continue
		}

		if s.cache != nil {
			if path, ok := s.cache.Get(c.ID); ok {
				s.markUsed(c.ID)
				return models.AcquiredClip{Slot: slot, LocalPath: path, ExternalClipID: c.ID}, true, nil
			}
		}

		// Moderation only runs on a cache miss: a cached clip was already
		// classified the first time it was accepted (spec §4.H thumbnail
		// hash cache covers re-use).
		accepted, err := s.moderate(ctx, c)
		if err != nil {
			return models.AcquiredClip{}, false, err
		}
		if !accepted {
			continue
		}

		localPath, err := s.downloadCandidate(ctx, c, localDir)
		if err != nil {
			return models.AcquiredClip{}, false, err
		}

		if s.cache != nil {
			_ = s.cache.Put(c.ID, localPath)
		}
		s.markUsed(c.ID)
		return models.AcquiredClip{Slot: slot, LocalPath: localPath, ExternalClipID: c.ID}, true, nil
	}

	return models.AcquiredClip{}, false, nil
}

// admit runs the blacklist and recency/dedup checks (spec §4.G "Filter
// pipeline per candidate"), ahead of any cache lookup.
func (s *Source) admit(ctx context.Context, c Candidate) (bool, error) {
	s.mu.Lock()
	rejected := s.recencyWindow[c.ID] || s.pendingUsed[c.ID]
	s.mu.Unlock()
	if rejected {
		return false, nil
	}

	if s.blacklist != nil {
		blacklisted, err := s.blacklist.IsBlacklisted(ctx, c.ID)
		if err != nil {
			return false, fmt.Errorf("blacklist check failed: %w", err)
		}
		if blacklisted {
			return false, nil
		}
	}

	return true, nil
}

// moderate classifies a cache-miss candidate's thumbnail (spec §4.H).
func (s *Source) moderate(ctx context.Context, c Candidate) (bool, error) {
	if s.moderator == nil {
		return true, nil
	}

	thumb, err := s.downloader.Download(ctx, c.ThumbnailURL)
	if err != nil {
		return false, fmt.Errorf("thumbnail download failed: %w", err)
	}
	verdict, err := s.moderator.Classify(ctx, thumb)
	if err != nil {
		return false, fmt.Errorf("moderation classify failed: %w", err)
	}
	return verdict == models.ModerationAccept, nil
}

func (s *Source) markUsed(externalClipID string) {
	s.mu.Lock()
	s.pendingUsed[externalClipID] = true
	s.mu.Unlock()
}

func (s *Source) downloadCandidate(ctx context.Context, c Candidate, localDir string) (string, error) {
	data, err := s.downloader.Download(ctx, c.DownloadURL)
	if err != nil {
		return "", fmt.Errorf("clip download failed: %w", err)
	}
	path := localDir + "/" + c.ID + ".mp4"
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write downloaded clip: %w", err)
	}
	return path, nil
}

// relax drops the most specific (last) noun from a query string (spec §4.G
// "the slot's query is relaxed (drop the most specific noun)").
func relax(query string) string {
	words := strings.Fields(query)
	if len(words) <= 1 {
		return query
	}
	return strings.Join(words[:len(words)-1], " ")
}

// PendingUsed returns the external clip IDs accepted this job, for the
// orchestrator to persist via store.InsertUsedClips at finalize (spec §4.G
// "persisted to UsedClip only at finalize").
func (s *Source) PendingUsed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.pendingUsed))
	for id := range s.pendingUsed {
		ids = append(ids, id)
	}
	return ids
}
