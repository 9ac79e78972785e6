package narration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/storyaudio/internal/playback"
)

// Queuer accepts segments for gapless playback. *playback.Engine
// satisfies it.
type Queuer interface {
	QueueAudio(data []byte, format string, opts ...playback.SegmentOption) *playback.Segment
	QueueURL(url string, opts ...playback.SegmentOption) *playback.Segment
}

// Stats counts segment outcomes seen by a feeder.
type Stats struct {
	Queued    int
	Started   int
	Completed int
	Dropped   int // evicted, stopped or superseded
	Failed    int
	Malformed int
}

// Feeder queues narration frames on an engine. Hooks are optional and run
// on the engine's callback path, so they must not block.
type Feeder struct {
	q      Queuer
	logger *log.Logger

	// OnCaption is called with a segment's text once its audio starts, and
	// immediately for text-only frames.
	OnCaption func(segment int, text string)
	// OnCue is called for each sound effect cue once its segment starts.
	OnCue func(segment int, cue string)

	// MaxOutstanding, when positive, makes Feed wait before queueing
	// another segment while that many are still queued or playing, so a
	// fast source never overflows the engine queue.
	MaxOutstanding int

	mu    sync.Mutex
	stats Stats
}

// NewFeeder returns a feeder queuing onto q.
func NewFeeder(q Queuer, logger *log.Logger) *Feeder {
	if logger == nil {
		logger = log.Default().WithPrefix("narration")
	}
	return &Feeder{q: q, logger: logger}
}

// Feed reads frames from r until an end frame or EOF and queues every
// audio frame. Malformed frames are skipped; their errors are joined into
// the returned error. The queued segments are returned in stream order so
// callers can wait for them.
func (f *Feeder) Feed(ctx context.Context, r io.Reader) ([]*playback.Segment, error) {
	reader := NewReader(r)
	var (
		segments []*playback.Segment
		errs     []error
	)

	for {
		if err := ctx.Err(); err != nil {
			return segments, err
		}

		frame, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var lineErr *LineError
		if errors.As(err, &lineErr) {
			f.logger.Warn("Skipping malformed narration frame", "line", lineErr.Line, "error", lineErr.Err)
			f.count(func(s *Stats) { s.Malformed++ })
			errs = append(errs, err)
			continue
		}
		if err != nil {
			return segments, err
		}

		switch frame.Type {
		case FrameEnd:
			f.logger.Debug("Narration stream ended", "line", reader.Line(), "segments", len(segments))
			return segments, errors.Join(errs...)

		case FrameText:
			if f.OnCaption != nil {
				f.OnCaption(frame.Segment, frame.Text)
			}

		case FrameAudio:
			if err := f.waitForRoom(ctx, segments); err != nil {
				return segments, err
			}
			seg, err := f.queue(frame)
			if err != nil {
				f.count(func(s *Stats) { s.Malformed++ })
				errs = append(errs, &LineError{Line: reader.Line(), Err: err})
				continue
			}
			segments = append(segments, seg)
		}
	}

	return segments, errors.Join(errs...)
}

// waitForRoom blocks until fewer than MaxOutstanding segments are unfinished.
func (f *Feeder) waitForRoom(ctx context.Context, segments []*playback.Segment) error {
	if f.MaxOutstanding <= 0 || len(segments) < f.MaxOutstanding {
		return nil
	}
	// Segments finish in order, so only the oldest in the window matters.
	oldest := segments[len(segments)-f.MaxOutstanding]
	select {
	case <-oldest.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Feeder) queue(frame Frame) (*playback.Segment, error) {
	opts := []playback.SegmentOption{
		playback.WithID(fmt.Sprintf("segment-%d", frame.Segment)),
		playback.WithOnStart(func() { f.started(frame) }),
		playback.WithOnEnd(func(o playback.Outcome) { f.ended(frame, o) }),
	}

	var seg *playback.Segment
	if frame.URL != "" {
		seg = f.q.QueueURL(frame.URL, opts...)
	} else {
		data, err := playback.DecodePayload(frame.Audio)
		if err != nil {
			return nil, err
		}
		seg = f.q.QueueAudio(data, frame.Format, opts...)
	}

	f.count(func(s *Stats) { s.Queued++ })
	f.logger.Debug("Queued narration segment",
		"segment", frame.Segment,
		"format", frame.Format,
		"url", frame.URL,
		"cues", len(frame.Cues))
	return seg, nil
}

func (f *Feeder) started(frame Frame) {
	f.count(func(s *Stats) { s.Started++ })
	if f.OnCaption != nil && frame.Text != "" {
		f.OnCaption(frame.Segment, frame.Text)
	}
	if f.OnCue != nil {
		for _, cue := range frame.Cues {
			f.OnCue(frame.Segment, cue)
		}
	}
}

func (f *Feeder) ended(frame Frame, o playback.Outcome) {
	f.count(func(s *Stats) {
		switch o {
		case playback.OutcomeCompleted:
			s.Completed++
		case playback.OutcomeFailed:
			s.Failed++
		default:
			s.Dropped++
		}
	})
	if o != playback.OutcomeCompleted {
		f.logger.Debug("Narration segment did not complete", "segment", frame.Segment, "outcome", o)
	}
}

func (f *Feeder) count(fn func(*Stats)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.stats)
}

// Stats returns a copy of the outcome counters.
func (f *Feeder) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}
