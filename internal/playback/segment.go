package playback

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MaxQueuedSegments is the default playback queue ceiling.
const MaxQueuedSegments = 10

// Outcome is how a segment's lifecycle ended.
type Outcome int

const (
	// OutcomePending means the segment has not finished yet.
	OutcomePending Outcome = iota
	// OutcomeCompleted means the segment played to its natural end.
	OutcomeCompleted
	// OutcomeEvicted means the segment was dropped because the queue was full.
	OutcomeEvicted
	// OutcomeStopped means Stop or Close cancelled the segment.
	OutcomeStopped
	// OutcomeSuperseded means direct playback took over the output.
	OutcomeSuperseded
	// OutcomeFailed means the segment could not be loaded or played.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeCompleted:
		return "completed"
	case OutcomeEvicted:
		return "evicted"
	case OutcomeStopped:
		return "stopped"
	case OutcomeSuperseded:
		return "superseded"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SegmentOption configures a queued segment.
type SegmentOption func(*Segment)

// WithOnStart registers a callback run once the segment is audible.
func WithOnStart(fn func()) SegmentOption {
	return func(s *Segment) { s.onStart = fn }
}

// WithOnEnd registers a callback run exactly once when the segment leaves
// the engine, whatever the reason.
func WithOnEnd(fn func(Outcome)) SegmentOption {
	return func(s *Segment) { s.onEnd = fn }
}

// WithID overrides the generated segment ID.
func WithID(id string) SegmentOption {
	return func(s *Segment) {
		if id != "" {
			s.id = id
		}
	}
}

// Segment is one queued unit of audio. It doubles as a future: Started and
// Done are closed as the segment moves through its lifecycle.
//
// Lifecycle flags are only mutated while the engine lock is held.
type Segment struct {
	id       string
	src      source
	res      *Resource
	queuedAt time.Time

	onStart func()
	onEnd   func(Outcome)

	started  chan struct{}
	done     chan struct{}
	begun    bool
	finished bool
	outcome  Outcome
	err      error
}

func newSegment(src source, opts ...SegmentOption) *Segment {
	s := &Segment{
		id:       uuid.NewString(),
		src:      src,
		queuedAt: time.Now(),
		started:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID identifies the segment.
func (s *Segment) ID() string { return s.id }

// Format is the format hint the segment was queued with.
func (s *Segment) Format() string { return s.src.format }

// URL is the remote source, empty for in-memory audio.
func (s *Segment) URL() string { return s.src.url }

// QueuedAt is when the segment was queued.
func (s *Segment) QueuedAt() time.Time { return s.queuedAt }

// Started is closed once the segment is audible.
func (s *Segment) Started() <-chan struct{} { return s.started }

// Done is closed once the segment has finished.
func (s *Segment) Done() <-chan struct{} { return s.done }

// Outcome returns the final outcome, or OutcomePending while unfinished.
func (s *Segment) Outcome() Outcome {
	select {
	case <-s.done:
		return s.outcome
	default:
		return OutcomePending
	}
}

// Err returns the failure cause for OutcomeFailed.
func (s *Segment) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Wait blocks until the segment finishes or ctx is done.
func (s *Segment) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-s.done:
		return s.outcome, s.err
	case <-ctx.Done():
		return OutcomePending, ctx.Err()
	}
}

// markStarted flags the segment as audible. It reports false if the
// segment already started or finished.
func (s *Segment) markStarted() bool {
	if s.begun || s.finished {
		return false
	}
	s.begun = true
	close(s.started)
	return true
}

// finish records the outcome. It reports false if already finished.
func (s *Segment) finish(o Outcome, err error) bool {
	if s.finished {
		return false
	}
	s.finished = true
	s.outcome = o
	s.err = err
	close(s.done)
	return true
}
