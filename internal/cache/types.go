package cache

import (
	"errors"
	"time"
)

// Common errors for cache operations
var (
	// ErrItemTooLarge is returned when an item exceeds the cache capacity
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrCacheClosed is returned when writing to a closed cache
	ErrCacheClosed = errors.New("cache is closed")
)

// DefaultCompressionLevel is the zstd level used when none is configured.
const DefaultCompressionLevel = 3

// Stats holds cache performance metrics
type Stats struct {
	Dir      string
	Capacity int64 // Maximum size on disk in bytes

	Size         int64 // Current size on disk in bytes
	OriginalSize int64 // Uncompressed size of all entries
	ItemCount    int

	Hits      int64
	Misses    int64
	Evictions int64
	HitRate   float64 // hits / (hits + misses)

	LastAccess time.Time
	LastEvict  time.Time
	Oldest     time.Time
}

// CompressionRatio returns stored bytes over original bytes.
func (s Stats) CompressionRatio() float64 {
	if s.OriginalSize == 0 {
		return 1
	}
	return float64(s.Size) / float64(s.OriginalSize)
}

// entry is one record in the on-disk index.
type entry struct {
	Key          string    `json:"key"`
	File         string    `json:"file"`
	Size         int64     `json:"size"`
	OriginalSize int64     `json:"original_size"`
	Created      time.Time `json:"created"`
	LastAccess   time.Time `json:"last_access"`
	Hits         int64     `json:"hits"`
	Compressed   bool      `json:"compressed"`
}
