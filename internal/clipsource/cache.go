package clipsource

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DiskCache is the content-addressed local cache keyed by external_clip_id
// (spec §4.G resolution order step 2): once a clip has been downloaded,
// later slots (and later jobs) that resolve to the same external_clip_id
// skip the download. The cached file is the downloaded original; it is
// still normalized for each slot that uses it.
type DiskCache struct {
	dir string
	mu  sync.RWMutex
}

// NewDiskCache binds a cache to dir, creating it if necessary.
func NewDiskCache(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create clip cache directory %s: %w", dir, err)
	}
	return &DiskCache{dir: dir}, nil
}

var _ Cache = (*DiskCache)(nil)

// Get returns the cached normalized file for externalClipID, if present.
func (c *DiskCache) Get(externalClipID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	path := c.pathFor(externalClipID)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// Put copies localPath's contents into the cache under externalClipID's key.
func (c *DiskCache) Put(externalClipID, localPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("failed to read clip for caching: %w", err)
	}

	dest := c.pathFor(externalClipID)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// pathFor hashes the clip id into a filename so arbitrary external ids
// (which may contain slashes or other path-unsafe characters) are always
// safe to use as a file name.
func (c *DiskCache) pathFor(externalClipID string) string {
	sum := sha256.Sum256([]byte(externalClipID))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".mp4")
}
