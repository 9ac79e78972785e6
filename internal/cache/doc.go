// Package cache persists fetched audio on disk so remote narration clips
// are downloaded once. Entries are zstd compressed and evicted least
// recently used first.
package cache
