// Package queue provides the bounded FIFO that backs the playback queue.
// When the ring is full the oldest entry is evicted to make room, so the
// newest audio is never dropped.
package queue
