package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"
)

const (
	indexFile = "index.json"
	entryExt  = ".audio"

	// compressThreshold skips compression for tiny payloads.
	compressThreshold = 1024
)

// DiskCache is a persistent, size-bounded cache of audio payloads.
// It is safe for concurrent use.
type DiskCache struct {
	dir      string
	capacity int64
	size     int64

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	index map[string]*entry

	mu     sync.Mutex
	stats  Stats
	closed bool
	logger *log.Logger
}

// New opens or creates a cache in dir holding at most capacity bytes on
// disk. A level of 0 disables compression.
func New(dir string, capacity int64, level int) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if capacity <= 0 {
		return nil, errors.New("cache capacity must be positive")
	}

	dc := &DiskCache{
		dir:      dir,
		capacity: capacity,
		index:    make(map[string]*entry),
		logger:   log.Default().WithPrefix("cache"),
	}

	if level > 0 {
		var err error
		dc.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}
	// Entries written with compression stay readable after it is turned off.
	var err error
	dc.decoder, err = zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	if err := dc.loadIndex(); err != nil {
		dc.logger.Warn("Discarding unreadable cache index", "dir", dir, "error", err)
		dc.index = make(map[string]*entry)
	}
	dc.calculateSize()

	return dc, nil
}

// Dir returns the cache directory.
func (dc *DiskCache) Dir() string {
	return dc.dir
}

// Get retrieves a value. Entries whose file is missing or corrupt are
// dropped and reported as a miss.
func (dc *DiskCache) Get(key string) ([]byte, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	e, ok := dc.index[key]
	if !ok {
		dc.stats.Misses++
		return nil, false
	}

	data, err := os.ReadFile(dc.path(e))
	if err == nil && e.Compressed {
		data, err = dc.decoder.DecodeAll(data, nil)
	}
	if err != nil {
		dc.logger.Debug("Dropping unreadable cache entry", "key", key, "error", err)
		dc.removeLocked(key, e)
		dc.stats.Misses++
		return nil, false
	}

	now := time.Now()
	e.LastAccess = now
	e.Hits++
	dc.stats.Hits++
	dc.stats.LastAccess = now

	return data, true
}

// Put stores value under key, evicting least recently used entries to
// stay within capacity.
func (dc *DiskCache) Put(key string, value []byte) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if dc.closed {
		return ErrCacheClosed
	}

	data, compressed := value, false
	if dc.encoder != nil && len(value) > compressThreshold {
		if c := dc.encoder.EncodeAll(value, nil); len(c) < len(value) {
			data, compressed = c, true
		}
	}

	diskSize := int64(len(data))
	if diskSize > dc.capacity {
		return ErrItemTooLarge
	}

	if existing, ok := dc.index[key]; ok {
		dc.removeLocked(key, existing)
	}
	for dc.size+diskSize > dc.capacity && len(dc.index) > 0 {
		dc.evictOldestLocked()
	}

	now := time.Now()
	e := &entry{
		Key:          key,
		File:         fileName(key),
		Size:         diskSize,
		OriginalSize: int64(len(value)),
		Created:      now,
		LastAccess:   now,
		Compressed:   compressed,
	}
	if err := writeFile(dc.path(e), data); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	dc.index[key] = e
	dc.size += diskSize

	return dc.saveIndex()
}

// Delete removes an entry.
func (dc *DiskCache) Delete(key string) error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	e, ok := dc.index[key]
	if !ok {
		return nil
	}
	dc.removeLocked(key, e)
	return dc.saveIndex()
}

// Clear removes every entry.
func (dc *DiskCache) Clear() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	for _, e := range dc.index {
		_ = os.Remove(dc.path(e))
	}
	dc.index = make(map[string]*entry)
	dc.size = 0

	return dc.saveIndex()
}

// RemoveOlderThan removes entries created before cutoff and returns how
// many were removed.
func (dc *DiskCache) RemoveOlderThan(cutoff time.Time) (int, error) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	removed := 0
	for key, e := range dc.index {
		if e.Created.Before(cutoff) {
			dc.removeLocked(key, e)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, dc.saveIndex()
}

// Contains reports whether key is cached without touching access time.
func (dc *DiskCache) Contains(key string) bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	_, ok := dc.index[key]
	return ok
}

// Size returns the current size on disk in bytes.
func (dc *DiskCache) Size() int64 {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	return dc.size
}

// Stats returns cache statistics.
func (dc *DiskCache) Stats() Stats {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	stats := dc.stats
	stats.Dir = dc.dir
	stats.Capacity = dc.capacity
	stats.Size = dc.size
	stats.ItemCount = len(dc.index)
	for _, e := range dc.index {
		stats.OriginalSize += e.OriginalSize
		if stats.Oldest.IsZero() || e.Created.Before(stats.Oldest) {
			stats.Oldest = e.Created
		}
	}
	if stats.Hits+stats.Misses > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Hits+stats.Misses)
	}
	return stats
}

// Keys returns cached keys, least recently used first.
func (dc *DiskCache) Keys() []string {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	entries := make([]*entry, 0, len(dc.index))
	for _, e := range dc.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccess.Before(entries[j].LastAccess)
	})

	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}
	return keys
}

// Close saves the index and releases the codecs.
func (dc *DiskCache) Close() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if dc.closed {
		return nil
	}
	dc.closed = true

	err := dc.saveIndex()
	if dc.encoder != nil {
		if cerr := dc.encoder.Close(); err == nil {
			err = cerr
		}
	}
	dc.decoder.Close()
	return err
}

func (dc *DiskCache) path(e *entry) string {
	return filepath.Join(dc.dir, e.File)
}

func (dc *DiskCache) removeLocked(key string, e *entry) {
	_ = os.Remove(dc.path(e))
	dc.size -= e.Size
	delete(dc.index, key)
}

func (dc *DiskCache) evictOldestLocked() {
	var oldestKey string
	var oldest *entry
	for key, e := range dc.index {
		if oldest == nil || e.LastAccess.Before(oldest.LastAccess) {
			oldestKey, oldest = key, e
		}
	}
	if oldest == nil {
		return
	}

	dc.logger.Debug("Evicting cache entry", "key", oldestKey, "size", oldest.Size)
	dc.removeLocked(oldestKey, oldest)
	dc.stats.Evictions++
	dc.stats.LastEvict = time.Now()
}

func (dc *DiskCache) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(dc.dir, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, &dc.index); err != nil {
		return err
	}

	// Forget entries whose files vanished behind our back.
	for key, e := range dc.index {
		if _, err := os.Stat(dc.path(e)); err != nil {
			delete(dc.index, key)
		}
	}
	return nil
}

func (dc *DiskCache) saveIndex() error {
	data, err := json.MarshalIndent(dc.index, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache index: %w", err)
	}
	if err := writeFile(filepath.Join(dc.dir, indexFile), data); err != nil {
		return fmt.Errorf("failed to save cache index: %w", err)
	}
	return nil
}

func (dc *DiskCache) calculateSize() {
	dc.size = 0
	for _, e := range dc.index {
		dc.size += e.Size
	}
}

func fileName(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:16]) + entryExt
}

// writeFile writes to a temp file then renames it into place.
func writeFile(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	return os.Rename(tempPath, path)
}
