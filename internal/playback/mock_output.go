package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// ErrUnlockDenied is returned by MockUnlocker when told to refuse.
var ErrUnlockDenied = errors.New("audio unlock denied")

// MockOutput implements Output without producing sound. By default events
// are only emitted through the test helpers; a simulated mock also plays
// clips out in real time.
type MockOutput struct {
	mu       sync.Mutex
	handler  func(Event)
	src      string
	playing  bool
	position time.Duration
	duration time.Duration
	volume   float64
	closed   bool

	simulated   bool
	metaPending bool

	durationFor func(Media) time.Duration
	loadErr     func(Media) error
	playErr     error
	loadGate    chan struct{}

	loads       []Media
	playCalls   int
	pauseCalls  int
	unloadCalls int
	seeks       []time.Duration

	done chan struct{}
}

// NewMockOutput returns a mock whose clips last ten seconds.
func NewMockOutput() *MockOutput {
	return &MockOutput{
		volume:      1.0,
		durationFor: func(Media) time.Duration { return 10 * time.Second },
		done:        make(chan struct{}),
	}
}

// NewSimulatedMockOutput returns a mock that plays clips out in real time,
// estimating duration from the encoded size at the given byte rate.
func NewSimulatedMockOutput(bytesPerSecond int) *MockOutput {
	if bytesPerSecond <= 0 {
		bytesPerSecond = 16000
	}
	m := NewMockOutput()
	m.durationFor = func(media Media) time.Duration {
		d := time.Duration(len(media.Data)) * time.Second / time.Duration(bytesPerSecond)
		return max(d, time.Second)
	}
	m.simulated = true
	log.Debug("Creating simulated mock audio output", "bytes_per_second", bytesPerSecond)
	go m.simulate()
	return m
}

func (m *MockOutput) simulate() {
	const tick = 100 * time.Millisecond
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		if m.metaPending {
			m.metaPending = false
			ev := Event{Kind: EventMetadata, Src: m.src, Duration: m.duration}
			m.mu.Unlock()
			m.emit(ev)
			continue
		}
		if !m.playing {
			m.mu.Unlock()
			continue
		}
		m.position += tick
		ev := Event{Kind: EventTimeUpdate, Src: m.src, Position: m.position}
		if m.position >= m.duration {
			m.position = m.duration
			m.playing = false
			ev = Event{Kind: EventEnded, Src: m.src, Position: m.position}
		}
		m.mu.Unlock()
		m.emit(ev)
	}
}

// Load implements Output.
func (m *MockOutput) Load(ctx context.Context, media Media) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("mock output closed")
	}
	m.loads = append(m.loads, media)
	m.src = media.Src
	m.playing = false
	m.position = 0
	m.duration = 0
	gate := m.loadGate
	loadErr := m.loadErr
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if loadErr != nil {
		if err := loadErr(media); err != nil {
			return err
		}
	}

	m.mu.Lock()
	if m.src == media.Src {
		m.duration = m.durationFor(media)
		m.metaPending = m.simulated
	}
	m.mu.Unlock()
	return nil
}

// Play implements Output.
func (m *MockOutput) Play(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.playCalls++
	if m.playErr != nil {
		err := m.playErr
		m.playErr = nil
		return err
	}
	if m.src == "" {
		return errors.New("no source loaded")
	}
	m.playing = true
	return nil
}

// Pause implements Output.
func (m *MockOutput) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauseCalls++
	m.playing = false
}

// Seek implements Output.
func (m *MockOutput) Seek(pos time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seeks = append(m.seeks, pos)
	m.position = pos
	return nil
}

// SetVolume implements Output.
func (m *MockOutput) SetVolume(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volume = v
}

// Unload implements Output.
func (m *MockOutput) Unload() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unloadCalls++
	m.src = ""
	m.playing = false
	m.position = 0
	m.duration = 0
}

// SetEventHandler implements Output.
func (m *MockOutput) SetEventHandler(h func(Event)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// Close implements Output.
func (m *MockOutput) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

func (m *MockOutput) emit(ev Event) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// Finish plays the current source to its end.
func (m *MockOutput) Finish() {
	m.mu.Lock()
	m.playing = false
	m.position = m.duration
	ev := Event{Kind: EventEnded, Src: m.src, Position: m.position}
	m.mu.Unlock()
	m.emit(ev)
}

// Fail emits an asynchronous output error for the current source.
func (m *MockOutput) Fail(err error) {
	m.mu.Lock()
	m.playing = false
	ev := Event{Kind: EventError, Src: m.src, Err: err}
	m.mu.Unlock()
	m.emit(ev)
}

// FailWithoutSource emits an error as if no source were assigned.
func (m *MockOutput) FailWithoutSource(err error) {
	m.emit(Event{Kind: EventError, Err: err})
}

// ReportMetadata emits the duration of the current source.
func (m *MockOutput) ReportMetadata() {
	m.mu.Lock()
	ev := Event{Kind: EventMetadata, Src: m.src, Duration: m.duration}
	m.mu.Unlock()
	m.emit(ev)
}

// Advance moves the position and emits a time update.
func (m *MockOutput) Advance(pos time.Duration) {
	m.mu.Lock()
	m.position = pos
	ev := Event{Kind: EventTimeUpdate, Src: m.src, Position: pos}
	m.mu.Unlock()
	m.emit(ev)
}

// SetDuration overrides the clip duration reported after load.
func (m *MockOutput) SetDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durationFor = func(Media) time.Duration { return d }
}

// SetLoadError makes Load fail whenever fn returns an error.
func (m *MockOutput) SetLoadError(fn func(Media) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = fn
}

// SetPlayError makes the next Play fail with err.
func (m *MockOutput) SetPlayError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playErr = err
}

// BlockLoads makes Load wait until the returned release func is called.
func (m *MockOutput) BlockLoads() (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.loadGate = gate
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.loadGate == gate {
				m.loadGate = nil
			}
			m.mu.Unlock()
			close(gate)
		})
	}
}

// Src returns the assigned source.
func (m *MockOutput) Src() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.src
}

// IsPlaying reports whether the mock is playing.
func (m *MockOutput) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

// VolumeLevel returns the last applied volume.
func (m *MockOutput) VolumeLevel() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume
}

// Loads returns every media loaded so far.
func (m *MockOutput) Loads() []Media {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Media(nil), m.loads...)
}

// Seeks returns every seek position requested so far.
func (m *MockOutput) Seeks() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.seeks...)
}

// PlayCalls returns how many times Play was called.
func (m *MockOutput) PlayCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playCalls
}

// UnloadCalls returns how many times Unload was called.
func (m *MockOutput) UnloadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unloadCalls
}

// MockUnlocker implements Unlocker, optionally refusing attempts.
type MockUnlocker struct {
	mu       sync.Mutex
	refuse   int
	attempts int
}

// RefuseNext makes the next n attempts fail.
func (u *MockUnlocker) RefuseNext(n int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.refuse = n
}

// AttemptUnlock implements Unlocker.
func (u *MockUnlocker) AttemptUnlock(context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.attempts++
	if u.refuse > 0 {
		u.refuse--
		return ErrUnlockDenied
	}
	return nil
}

// Attempts returns how many unlock attempts were made.
func (u *MockUnlocker) Attempts() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.attempts
}
