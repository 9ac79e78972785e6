package playback

import (
	"context"
	"strings"
	"time"
)

// EventKind identifies an output notification.
type EventKind int

const (
	// EventMetadata reports the media duration once known.
	EventMetadata EventKind = iota
	// EventTimeUpdate reports the playback position.
	EventTimeUpdate
	// EventEnded reports that the media played through.
	EventEnded
	// EventError reports an asynchronous output failure.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventMetadata:
		return "metadata"
	case EventTimeUpdate:
		return "timeupdate"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is emitted by an Output. Src is the source the event belongs to
// and is empty when the output had no source assigned.
type Event struct {
	Kind     EventKind
	Src      string
	Position time.Duration
	Duration time.Duration
	Err      error
}

// Media is a playable source: an in-memory tracked resource or a remote URL.
type Media struct {
	Src      string
	MimeType string
	Data     []byte
}

// IsRemote reports whether the media must be fetched.
func (m Media) IsRemote() bool {
	return m.Data == nil && !strings.HasPrefix(m.Src, resourceScheme)
}

// Output is the single underlying output element.
//
// Implementations must never call the event handler synchronously from
// inside one of these methods.
type Output interface {
	// Load assigns the source and returns once it can play through.
	Load(ctx context.Context, m Media) error
	// Play starts or resumes playback and returns once audio is audible.
	Play(ctx context.Context) error
	Pause()
	Seek(pos time.Duration) error
	SetVolume(v float64)
	// Unload clears the assigned source.
	Unload()
	SetEventHandler(h func(Event))
	Close() error
}

// Unlocker is the platform capability that permits audible playback after
// a user gesture.
type Unlocker interface {
	AttemptUnlock(ctx context.Context) error
}
