//go:build !nocgo
// +build !nocgo

package audio

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"
)

type otoDevice struct {
	ctx        *oto.Context
	ready      chan struct{}
	sampleRate int
	channels   int
}

// OpenDevice opens the platform audio device. It does not wait for the
// device to become ready; some platforms only get there after a user
// gesture.
func OpenDevice(cfg Config) (Device, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	op := &oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   cfg.Buffer,
	}
	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoAudioDevice, err)
	}

	d := &otoDevice{
		ctx:        ctx,
		ready:      make(chan struct{}),
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
	}
	go func() {
		<-readyChan
		close(d.ready)
		log.Debug("Audio device ready", "sample_rate", cfg.SampleRate, "channels", cfg.Channels)
	}()
	return d, nil
}

func (d *otoDevice) NewTrack(r io.Reader) Track {
	return d.ctx.NewPlayer(r)
}

func (d *otoDevice) Resume() error          { return d.ctx.Resume() }
func (d *otoDevice) Suspend() error         { return d.ctx.Suspend() }
func (d *otoDevice) Ready() <-chan struct{} { return d.ready }
func (d *otoDevice) SampleRate() int        { return d.sampleRate }
func (d *otoDevice) Channels() int          { return d.channels }
