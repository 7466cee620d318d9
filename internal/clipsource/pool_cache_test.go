package clipsource

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewLocalPoolScansMP4Files(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.mp4", "b.mp4", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("failed to seed pool dir: %v", err)
		}
	}

	pool, err := NewLocalPool(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		path, ok := pool.RandomPick()
		if !ok {
			t.Fatal("expected a pick from a non-empty pool")
		}
		seen[filepath.Base(path)] = true
	}
	if seen["notes.txt"] {
		t.Error("pool picked a non-mp4 file")
	}
	if !seen["a.mp4"] && !seen["b.mp4"] {
		t.Error("expected at least one of the seeded mp4 files to be picked")
	}
}

func TestNewLocalPoolMissingDirectoryYieldsEmptyPool(t *testing.T) {
	pool, err := NewLocalPool(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := pool.RandomPick(); ok {
		t.Error("expected no pick from a missing pool directory")
	}
}

func TestDiskCachePutThenGet(t *testing.T) {
	cacheDir := t.TempDir()
	cache, err := NewDiskCache(cacheDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	srcPath := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(srcPath, []byte("clip-bytes"), 0o644); err != nil {
		t.Fatalf("failed to write source clip: %v", err)
	}

	if err := cache.Put("external-123", srcPath); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	path, ok := cache.Get("external-123")
	if !ok {
		t.Fatal("expected cache hit after Put")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read cached file: %v", err)
	}
	if string(data) != "clip-bytes" {
		t.Errorf("cached content = %q, want %q", data, "clip-bytes")
	}
}

func TestDiskCacheMissReturnsFalse(t *testing.T) {
	cache, err := NewDiskCache(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := cache.Get("never-cached"); ok {
		t.Error("expected a cache miss for an id never Put")
	}
}
