package clipsource

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
)

// LocalPool is the pre-normalized local clip pool shipped with the build
// (spec §4.G resolution order step 1). Every file under dir is assumed to
// already conform to the NormalizedClip contract.
type LocalPool struct {
	mu    sync.RWMutex
	files []string
}

// NewLocalPool scans dir once at construction for .mp4 files. An empty or
// missing directory yields a pool that never has a pick, so callers fall
// through to the cache/search steps (spec §4.G "resolution order").
func NewLocalPool(dir string) (*LocalPool, error) {
	var files []string
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return &LocalPool{}, nil
		}
		return nil, fmt.Errorf("failed to read clip pool directory %s: %w", dir, err)
	}

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".mp4" {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}

	return &LocalPool{files: files}, nil
}

var _ Pool = (*LocalPool)(nil)

// RandomPick returns a uniformly random pool file, or ok=false if the pool
// is empty.
func (p *LocalPool) RandomPick() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.files) == 0 {
		return "", false
	}
	return p.files[rand.Intn(len(p.files))], true
}
