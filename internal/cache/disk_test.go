package cache

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDiskCacheBasicOperations(t *testing.T) {
	dc, err := New(t.TempDir(), 1024*1024, DefaultCompressionLevel)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer dc.Close()

	if _, ok := dc.Get("missing"); ok {
		t.Error("Expected miss for unknown key")
	}

	value := []byte("audio bytes")
	if err := dc.Put("https://example.com/a.mp3", value); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !dc.Contains("https://example.com/a.mp3") {
		t.Error("Expected key to be cached")
	}

	got, ok := dc.Get("https://example.com/a.mp3")
	if !ok {
		t.Fatal("Expected hit")
	}
	if !bytes.Equal(got, value) {
		t.Errorf("Expected %q, got %q", value, got)
	}

	if err := dc.Delete("https://example.com/a.mp3"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if dc.Contains("https://example.com/a.mp3") {
		t.Error("Expected key to be deleted")
	}

	stats := dc.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Expected 1 hit and 1 miss, got %d and %d", stats.Hits, stats.Misses)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("Expected hit rate 0.5, got %f", stats.HitRate)
	}
}

func TestDiskCacheCompression(t *testing.T) {
	dc, err := New(t.TempDir(), 1024*1024, DefaultCompressionLevel)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer dc.Close()

	value := bytes.Repeat([]byte("silence "), 4096)
	if err := dc.Put("big", value); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	stats := dc.Stats()
	if stats.Size >= int64(len(value)) {
		t.Errorf("Expected compressed size below %d, got %d", len(value), stats.Size)
	}
	if stats.OriginalSize != int64(len(value)) {
		t.Errorf("Expected original size %d, got %d", len(value), stats.OriginalSize)
	}
	if stats.CompressionRatio() >= 1 {
		t.Errorf("Expected compression ratio below 1, got %f", stats.CompressionRatio())
	}

	got, ok := dc.Get("big")
	if !ok || !bytes.Equal(got, value) {
		t.Error("Expected compressed entry to round trip")
	}
}

func TestDiskCacheLRUEviction(t *testing.T) {
	dc, err := New(t.TempDir(), 100, 0)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer dc.Close()

	chunk := make([]byte, 40)
	if err := dc.Put("a", chunk); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	if err := dc.Put("b", chunk); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	dc.Get("a")
	time.Sleep(2 * time.Millisecond)
	if err := dc.Put("c", chunk); err != nil {
		t.Fatal(err)
	}

	if dc.Contains("b") {
		t.Error("Expected least recently used entry b to be evicted")
	}
	if !dc.Contains("a") || !dc.Contains("c") {
		t.Error("Expected a and c to remain")
	}
	if dc.Size() != 80 {
		t.Errorf("Expected size 80, got %d", dc.Size())
	}
	if dc.Stats().Evictions != 1 {
		t.Errorf("Expected 1 eviction, got %d", dc.Stats().Evictions)
	}

	keys := dc.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "c" {
		t.Errorf("Expected keys [a c], got %v", keys)
	}
}

func TestDiskCacheItemTooLarge(t *testing.T) {
	dc, err := New(t.TempDir(), 10, 0)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer dc.Close()

	if err := dc.Put("huge", make([]byte, 11)); !errors.Is(err, ErrItemTooLarge) {
		t.Errorf("Expected ErrItemTooLarge, got %v", err)
	}
}

func TestDiskCachePersistence(t *testing.T) {
	dir := t.TempDir()

	dc, err := New(dir, 1024*1024, DefaultCompressionLevel)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	if err := dc.Put("keep", []byte("narration")); err != nil {
		t.Fatal(err)
	}
	if err := dc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := dc.Put("late", []byte("x")); !errors.Is(err, ErrCacheClosed) {
		t.Errorf("Expected ErrCacheClosed, got %v", err)
	}

	reopened, err := New(dir, 1024*1024, 0)
	if err != nil {
		t.Fatalf("Failed to reopen cache: %v", err)
	}
	defer reopened.Close()

	got, ok := reopened.Get("keep")
	if !ok || string(got) != "narration" {
		t.Errorf("Expected persisted entry, got %q (hit=%v)", got, ok)
	}
}

func TestDiskCacheCorruptEntry(t *testing.T) {
	dir := t.TempDir()
	dc, err := New(dir, 1024*1024, DefaultCompressionLevel)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer dc.Close()

	if err := dc.Put("clip", bytes.Repeat([]byte{1, 2, 3, 4}, 1024)); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, fileName("clip")), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, ok := dc.Get("clip"); ok {
		t.Error("Expected corrupt entry to miss")
	}
	if dc.Contains("clip") {
		t.Error("Expected corrupt entry to be dropped")
	}
	if dc.Size() != 0 {
		t.Errorf("Expected size 0 after drop, got %d", dc.Size())
	}
}

func TestDiskCacheCorruptIndex(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, indexFile), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	dc, err := New(dir, 1024, 0)
	if err != nil {
		t.Fatalf("Expected corrupt index to be tolerated, got %v", err)
	}
	defer dc.Close()

	if dc.Stats().ItemCount != 0 {
		t.Errorf("Expected empty cache, got %d items", dc.Stats().ItemCount)
	}
}

func TestDiskCacheClearAndPrune(t *testing.T) {
	dc, err := New(t.TempDir(), 1024*1024, 0)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer dc.Close()

	for _, k := range []string{"a", "b", "c"} {
		if err := dc.Put(k, []byte(k)); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := dc.RemoveOlderThan(time.Now().Add(-time.Hour))
	if err != nil || removed != 0 {
		t.Errorf("Expected nothing pruned, got %d (%v)", removed, err)
	}
	removed, err = dc.RemoveOlderThan(time.Now().Add(time.Second))
	if err != nil || removed != 3 {
		t.Errorf("Expected 3 pruned, got %d (%v)", removed, err)
	}

	if err := dc.Put("d", []byte("d")); err != nil {
		t.Fatal(err)
	}
	if err := dc.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if stats := dc.Stats(); stats.ItemCount != 0 || stats.Size != 0 {
		t.Errorf("Expected empty cache after Clear, got %+v", stats)
	}
}

func TestNewRejectsZeroCapacity(t *testing.T) {
	if _, err := New(t.TempDir(), 0, 0); err == nil {
		t.Error("Expected error for zero capacity")
	}
}
