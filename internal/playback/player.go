package playback

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

type eventResult int

const (
	resultNone eventResult = iota
	resultEnded
	resultFailed
)

// Player drives the single output track. Loads and plays that are
// overtaken by a newer Load, Stop or Unload fail with ErrInterrupted.
type Player struct {
	mu  sync.Mutex
	out Output
	sm  *stateMachine

	src      string
	gen      uint64
	position time.Duration
	duration time.Duration
	volume   float64

	release func(handle string)
	logger  *log.Logger
}

// NewPlayer wraps out. release is called with every source the player
// stops referencing and may be nil.
func NewPlayer(out Output, release func(handle string), logger *log.Logger) *Player {
	if release == nil {
		release = func(string) {}
	}
	if logger == nil {
		logger = log.Default()
	}
	p := &Player{
		out:     out,
		sm:      newStateMachine(),
		volume:  1.0,
		release: release,
		logger:  logger,
	}
	out.SetVolume(p.volume)
	return p
}

// Src returns the source assigned to the output.
func (p *Player) Src() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.src
}

// State returns the transport state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sm.current
}

// Load replaces the current source with m and waits until it can play.
func (p *Player) Load(ctx context.Context, m Media) error {
	p.mu.Lock()
	old := p.src
	p.gen++
	gen := p.gen
	if err := p.sm.transition(StateLoading); err != nil {
		p.sm.reset()
		_ = p.sm.transition(StateLoading)
	}
	p.src = m.Src
	p.position = 0
	p.duration = 0
	p.mu.Unlock()

	if old != "" && old != m.Src {
		p.release(old)
	}

	err := p.out.Load(ctx, m)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return opError("load", m.Src, ErrInterrupted)
	}
	if err != nil {
		p.sm.reset()
		p.src = ""
		p.release(m.Src)
		return opError("load", m.Src, err)
	}
	return nil
}

// Play starts the loaded source and returns once it is audible.
func (p *Player) Play(ctx context.Context) error {
	p.mu.Lock()
	if err := p.sm.transition(StateStarting); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("cannot play: %w", err)
	}
	gen := p.gen
	src := p.src
	p.mu.Unlock()

	err := p.out.Play(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return opError("play", src, ErrInterrupted)
	}
	if err != nil {
		p.sm.reset()
		return opError("play", src, err)
	}
	// A very short clip may already have ended.
	if p.sm.current == StateStarting {
		_ = p.sm.transition(StatePlaying)
	}
	return nil
}

// Pause pauses audible playback.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sm.current != StatePlaying {
		return fmt.Errorf("cannot pause: player is %s: %w", p.sm.current, ErrNotPlaying)
	}
	p.out.Pause()
	return p.sm.transition(StatePaused)
}

// Resume continues paused playback. On failure the player stays paused.
func (p *Player) Resume(ctx context.Context) error {
	p.mu.Lock()
	if p.sm.current != StatePaused {
		state := p.sm.current
		p.mu.Unlock()
		return fmt.Errorf("cannot resume: player is %s: %w", state, ErrNotPaused)
	}
	_ = p.sm.transition(StateStarting)
	gen := p.gen
	src := p.src
	p.mu.Unlock()

	err := p.out.Play(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return opError("resume", src, ErrInterrupted)
	}
	if err != nil {
		_ = p.sm.transition(StatePaused)
		return opError("resume", src, err)
	}
	if p.sm.current == StateStarting {
		_ = p.sm.transition(StatePlaying)
	}
	return nil
}

// Stop halts playback, rewinds to the start and returns to idle. The
// source stays assigned.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gen++
	p.out.Pause()
	if p.src != "" {
		if err := p.out.Seek(0); err != nil {
			p.logger.Debug("Rewind on stop failed", "src", p.src, "error", err)
		}
	}
	p.position = 0
	p.sm.reset()
}

// Unload stops playback and clears the source.
func (p *Player) Unload() {
	p.mu.Lock()
	p.gen++
	old := p.src
	p.src = ""
	p.position = 0
	p.duration = 0
	p.out.Pause()
	p.out.Unload()
	p.sm.reset()
	p.mu.Unlock()

	if old != "" {
		p.release(old)
	}
}

// SeekTo moves the position, clamped to the known duration. It is a no-op
// while the duration is unknown. The resulting position is returned.
func (p *Player) SeekTo(d time.Duration) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.duration <= 0 {
		return p.position
	}
	d = max(0, min(d, p.duration))
	if err := p.out.Seek(d); err != nil {
		p.logger.Warn("Seek failed", "src", p.src, "position", d, "error", err)
	}
	p.position = d
	return d
}

// SetVolume clamps v into [0, 1] and applies it. NaN is rejected.
func (p *Player) SetVolume(v float64) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if math.IsNaN(v) {
		return p.volume, false
	}
	v = ClampVolume(v)
	p.volume = v
	p.out.SetVolume(v)
	return v, true
}

// Volume returns the applied volume.
func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

func (p *Player) snapshot(s *Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s.State = p.sm.current
	s.IsPlaying = p.sm.current == StatePlaying
	s.IsPaused = p.sm.current == StatePaused
	s.IsStartingPlayback = p.sm.current == StateStarting
	s.CurrentTime = p.position
	s.Duration = p.duration
	s.Volume = p.volume
}

// handleEvent applies an output event and reports whether the current
// source ended or failed.
func (p *Player) handleEvent(ev Event) (eventResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ev.Kind == EventError && ev.Src == "" {
		// Emitted while no source is assigned, e.g. after unlock clean-up.
		p.logger.Debug("Ignoring output error without source", "error", ev.Err)
		return resultNone, nil
	}
	if p.src == "" || ev.Src != p.src {
		return resultNone, nil
	}

	switch ev.Kind {
	case EventMetadata:
		p.duration = ev.Duration
	case EventTimeUpdate:
		if p.sm.current == StatePlaying || p.sm.current == StatePaused {
			p.position = ev.Position
		}
	case EventEnded:
		if p.sm.current != StatePlaying && p.sm.current != StateStarting {
			return resultNone, nil
		}
		_ = p.sm.transition(StateEnded)
		p.position = p.duration
		return resultEnded, nil
	case EventError:
		p.logger.Error("Audio output error", "src", p.src, "state", p.sm.current, "error", ev.Err)
		p.gen++
		p.sm.reset()
		return resultFailed, opError("output", p.src, ev.Err)
	}
	return resultNone, nil
}

// ClampVolume bounds v to [0, 1].
func ClampVolume(v float64) float64 {
	if math.IsNaN(v) {
		return 1.0
	}
	return math.Max(0, math.Min(1, v))
}
