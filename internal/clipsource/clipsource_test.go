package clipsource

import (
	"context"
	"testing"

	"github.com/churchcast/reelforge/internal/models"
)

type fakePool struct {
	path string
	ok   bool
}

func (p fakePool) RandomPick() (string, bool) { return p.path, p.ok }

type fakeSearch struct {
	calls       int
	byQuery     map[string][]Candidate
	defaultCand []Candidate
}

func (f *fakeSearch) Search(ctx context.Context, query string, pageSize int) ([]Candidate, error) {
	f.calls++
	if c, ok := f.byQuery[query]; ok {
		return c, nil
	}
	return f.defaultCand, nil
}

type fakeModerator struct {
	verdict models.ModerationVerdict
}

func (m fakeModerator) Classify(ctx context.Context, thumbnailBytes []byte) (models.ModerationVerdict, error) {
	return m.verdict, nil
}

type fakeDownloader struct{}

func (fakeDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	return []byte("fake-bytes"), nil
}

type fakeBlacklist struct {
	blocked map[string]bool
}

func (b fakeBlacklist) IsBlacklisted(ctx context.Context, externalClipID string) (bool, error) {
	return b.blocked[externalClipID], nil
}

type fakeCache struct {
	entries map[string]string
	puts    map[string]string
}

func (c *fakeCache) Get(externalClipID string) (string, bool) {
	path, ok := c.entries[externalClipID]
	return path, ok
}

func (c *fakeCache) Put(externalClipID, localPath string) error {
	if c.puts == nil {
		c.puts = map[string]string{}
	}
	c.puts[externalClipID] = localPath
	return nil
}

func TestResolvePrefersPool(t *testing.T) {
	src := New(fakePool{path: "/pool/clip1.mp4", ok: true}, nil, nil, nil, nil, nil, nil, nil)
	slots := []models.Slot{{Index: 0, QueryString: "ocean waves"}}

	clips, err := src.Resolve(context.Background(), slots, "/tmp")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(clips) != 1 || !clips[0].FromPool || clips[0].LocalPath != "/pool/clip1.mp4" {
		t.Fatalf("expected pool pick, got %+v", clips)
	}
}

func TestResolveFallsThroughToSearchWhenPoolEmpty(t *testing.T) {
	search := &fakeSearch{defaultCand: []Candidate{
		{ID: "c1", DownloadURL: "https://example.com/c1.mp4", ThumbnailURL: "https://example.com/c1.jpg"},
	}}
	src := New(fakePool{ok: false}, nil, search, fakeModerator{verdict: models.ModerationAccept}, fakeDownloader{}, fakeBlacklist{}, nil, nil)

	clips, err := src.Resolve(context.Background(), []models.Slot{{Index: 0, QueryString: "ocean waves sunset"}}, t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(clips) != 1 || clips[0].ExternalClipID != "c1" {
		t.Fatalf("expected external clip c1, got %+v", clips)
	}
}

func TestResolveSkipsBlacklistedCandidate(t *testing.T) {
	search := &fakeSearch{defaultCand: []Candidate{
		{ID: "blocked", DownloadURL: "https://example.com/a.mp4", ThumbnailURL: "https://example.com/a.jpg"},
		{ID: "ok", DownloadURL: "https://example.com/b.mp4", ThumbnailURL: "https://example.com/b.jpg"},
	}}
	src := New(fakePool{ok: false}, nil, search, fakeModerator{verdict: models.ModerationAccept}, fakeDownloader{},
		fakeBlacklist{blocked: map[string]bool{"blocked": true}}, nil, nil)

	clips, err := src.Resolve(context.Background(), []models.Slot{{Index: 0, QueryString: "ocean waves sunset"}}, t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clips[0].ExternalClipID != "ok" {
		t.Fatalf("expected blacklisted candidate to be skipped, got %+v", clips[0])
	}
}

func TestResolveSkipsBlacklistedCandidateEvenOnCacheHit(t *testing.T) {
	search := &fakeSearch{defaultCand: []Candidate{
		{ID: "blocked", DownloadURL: "https://example.com/a.mp4", ThumbnailURL: "https://example.com/a.jpg"},
		{ID: "ok", DownloadURL: "https://example.com/b.mp4", ThumbnailURL: "https://example.com/b.jpg"},
	}}
	cache := &fakeCache{entries: map[string]string{
		"blocked": "/cache/blocked.mp4",
		"ok":      "/cache/ok.mp4",
	}}
	src := New(fakePool{ok: false}, cache, search, fakeModerator{verdict: models.ModerationAccept}, fakeDownloader{},
		fakeBlacklist{blocked: map[string]bool{"blocked": true}}, nil, nil)

	clips, err := src.Resolve(context.Background(), []models.Slot{{Index: 0, QueryString: "ocean waves sunset"}}, t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clips[0].ExternalClipID != "ok" {
		t.Fatalf("expected blacklisted candidate to be rejected despite cache hit, got %+v", clips[0])
	}
}

func TestResolveSkipsRejectedByModerator(t *testing.T) {
	search := &fakeSearch{defaultCand: []Candidate{
		{ID: "rejected", DownloadURL: "https://example.com/a.mp4", ThumbnailURL: "https://example.com/a.jpg"},
	}}
	src := New(fakePool{ok: false}, nil, search, fakeModerator{verdict: models.ModerationReject}, fakeDownloader{},
		fakeBlacklist{}, nil, nil)

	clips, err := src.Resolve(context.Background(), []models.Slot{{Index: 0, QueryString: "city street traffic"}}, t.TempDir())
	if err == nil {
		t.Fatalf("expected ErrTooFewClips after all candidates rejected across relaxations, got clips=%+v", clips)
	}
}

func TestResolveSkipsRecencyWindowMatch(t *testing.T) {
	search := &fakeSearch{defaultCand: []Candidate{
		{ID: "recent", DownloadURL: "https://example.com/a.mp4", ThumbnailURL: "https://example.com/a.jpg"},
		{ID: "fresh", DownloadURL: "https://example.com/b.mp4", ThumbnailURL: "https://example.com/b.jpg"},
	}}
	src := New(fakePool{ok: false}, nil, search, fakeModerator{verdict: models.ModerationAccept}, fakeDownloader{},
		fakeBlacklist{}, nil, map[string]bool{"recent": true})

	clips, err := src.Resolve(context.Background(), []models.Slot{{Index: 0, QueryString: "mountain river valley"}}, t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clips[0].ExternalClipID != "fresh" {
		t.Fatalf("expected recency-window clip to be skipped, got %+v", clips[0])
	}
}

func TestRelaxDropsLastWord(t *testing.T) {
	got := relax("peaceful mountain river valley")
	if got != "peaceful mountain river" {
		t.Errorf("expected trailing noun dropped, got %q", got)
	}
	if relax("ocean") != "ocean" {
		t.Error("expected single-word query to be left unchanged")
	}
}

func TestPendingUsedTracksAcceptedClips(t *testing.T) {
	search := &fakeSearch{defaultCand: []Candidate{
		{ID: "c1", DownloadURL: "https://example.com/c1.mp4", ThumbnailURL: "https://example.com/c1.jpg"},
	}}
	src := New(fakePool{ok: false}, nil, search, fakeModerator{verdict: models.ModerationAccept}, fakeDownloader{}, fakeBlacklist{}, nil, nil)

	_, err := src.Resolve(context.Background(), []models.Slot{{Index: 0, QueryString: "ocean waves sunset"}}, t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pending := src.PendingUsed()
	if len(pending) != 1 || pending[0] != "c1" {
		t.Errorf("expected pending used set to contain c1, got %v", pending)
	}
}
