package clipsource

import (
	"context"

	"github.com/churchcast/reelforge/internal/blob"
)

// BlobDownloader adapts the Blob Store's Get to the narrower Downloader
// interface this package depends on, so clipsource tests can fake a
// Downloader without pulling in the whole blob.Store surface.
type BlobDownloader struct {
	Store blob.Store
}

var _ Downloader = BlobDownloader{}

func (b BlobDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	return b.Store.Get(ctx, url)
}
