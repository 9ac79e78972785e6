package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/storyaudio/internal/playback"
)

const monitorInterval = 100 * time.Millisecond

// ErrNothingLoaded is returned when playing without a loaded source.
var ErrNothingLoaded = errors.New("no audio source loaded")

// Output implements playback.Output on a Device. One track exists at a
// time; loading a new source closes the previous track.
type Output struct {
	dev     Device
	fetcher *Fetcher
	logger  *log.Logger

	mu       sync.Mutex
	track    Track
	reader   *bytes.Reader
	src      string
	duration time.Duration
	volume   float64
	playing  bool
	closed   bool

	hmu     sync.Mutex
	handler func(playback.Event)

	events    chan playback.Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewOutput creates an output on dev. fetcher resolves remote sources and
// may be nil, in which case remote media fail to load.
func NewOutput(dev Device, fetcher *Fetcher, logger *log.Logger) *Output {
	if logger == nil {
		logger = log.Default()
	}
	o := &Output{
		dev:     dev,
		fetcher: fetcher,
		logger:  logger,
		volume:  1.0,
		events:  make(chan playback.Event, 64),
		done:    make(chan struct{}),
	}
	go o.emitLoop()
	go o.monitorPlayback()
	return o
}

// Load implements playback.Output.
func (o *Output) Load(ctx context.Context, m playback.Media) error {
	data, mimeType := m.Data, m.MimeType
	if m.IsRemote() {
		if o.fetcher == nil {
			return fmt.Errorf("cannot load %s: remote sources are disabled", m.Src)
		}
		fetched, fetchedType, err := o.fetcher.Fetch(ctx, m.Src)
		if err != nil {
			return err
		}
		data = fetched
		if mimeType == "" {
			mimeType = fetchedType
		}
	}

	pcm, duration, err := Decode(mimeType, data, o.dev.SampleRate(), o.dev.Channels())
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return errors.New("output is closed")
	}
	o.closeTrackLocked()
	o.reader = bytes.NewReader(pcm)
	o.track = o.dev.NewTrack(o.reader)
	o.track.SetVolume(o.volume)
	o.src = m.Src
	o.duration = duration
	o.mu.Unlock()

	o.logger.Debug("Loaded audio source",
		"src", m.Src,
		"mime", mimeType,
		"encoded_size", len(data),
		"pcm_size", len(pcm),
		"duration", duration)

	o.send(playback.Event{Kind: playback.EventMetadata, Src: m.Src, Duration: duration})
	return nil
}

// Play implements playback.Output.
func (o *Output) Play(context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.track == nil {
		return ErrNothingLoaded
	}
	if err := o.track.Err(); err != nil {
		return err
	}
	o.track.Play()
	o.playing = true
	return nil
}

// Pause implements playback.Output.
func (o *Output) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.track != nil {
		o.track.Pause()
	}
	o.playing = false
}

// Seek implements playback.Output.
func (o *Output) Seek(pos time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.track == nil {
		return ErrNothingLoaded
	}
	offset := pcmOffset(pos, o.dev.SampleRate(), o.dev.Channels())
	offset = min(max(offset, 0), o.reader.Size())
	if _, err := o.track.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	return nil
}

// SetVolume implements playback.Output.
func (o *Output) SetVolume(v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.volume = v
	if o.track != nil {
		o.track.SetVolume(v)
	}
}

// Unload implements playback.Output.
func (o *Output) Unload() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closeTrackLocked()
}

// SetEventHandler implements playback.Output.
func (o *Output) SetEventHandler(h func(playback.Event)) {
	o.hmu.Lock()
	defer o.hmu.Unlock()
	o.handler = h
}

// Close releases the current track and stops event delivery.
func (o *Output) Close() error {
	o.mu.Lock()
	o.closed = true
	o.closeTrackLocked()
	o.mu.Unlock()

	o.closeOnce.Do(func() { close(o.done) })
	return nil
}

func (o *Output) closeTrackLocked() {
	if o.track != nil {
		o.track.Pause()
		if err := o.track.Close(); err != nil {
			o.logger.Debug("Closing track failed", "src", o.src, "error", err)
		}
	}
	o.track = nil
	o.reader = nil
	o.src = ""
	o.duration = 0
	o.playing = false
}

// positionLocked derives the position from the bytes the device consumed.
func (o *Output) positionLocked() time.Duration {
	if o.reader == nil {
		return 0
	}
	consumed := int(o.reader.Size()) - o.reader.Len() - o.track.BufferedSize()
	if consumed < 0 {
		consumed = 0
	}
	return min(pcmDuration(consumed, o.dev.SampleRate(), o.dev.Channels()), o.duration)
}

// monitorPlayback reports progress and detects the end of a track.
func (o *Output) monitorPlayback() {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.done:
			return
		case <-ticker.C:
		}

		o.mu.Lock()
		if o.track == nil || !o.playing {
			o.mu.Unlock()
			continue
		}
		var ev playback.Event
		switch err := o.track.Err(); {
		case err != nil:
			o.playing = false
			ev = playback.Event{Kind: playback.EventError, Src: o.src, Err: err}
		case !o.track.IsPlaying() && o.reader.Len() == 0:
			o.playing = false
			ev = playback.Event{Kind: playback.EventEnded, Src: o.src, Position: o.duration}
		default:
			ev = playback.Event{Kind: playback.EventTimeUpdate, Src: o.src, Position: o.positionLocked()}
		}
		o.mu.Unlock()

		o.send(ev)
	}
}

func (o *Output) send(ev playback.Event) {
	select {
	case o.events <- ev:
	case <-o.done:
	}
}

// emitLoop delivers events in order, outside every output lock.
func (o *Output) emitLoop() {
	for {
		select {
		case <-o.done:
			return
		case ev := <-o.events:
			o.hmu.Lock()
			h := o.handler
			o.hmu.Unlock()
			if h != nil {
				h(ev)
			}
		}
	}
}
