package audio

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNoAudioDevice is returned when no audio device can be opened.
var ErrNoAudioDevice = errors.New("no audio device available")

// Device renders PCM tracks. The oto context is the production device.
type Device interface {
	NewTrack(r io.Reader) Track
	Resume() error
	Suspend() error
	// Ready is closed once the device can produce sound.
	Ready() <-chan struct{}
	SampleRate() int
	Channels() int
}

// Track is one playing PCM stream. *oto.Player satisfies it.
type Track interface {
	Play()
	Pause()
	IsPlaying() bool
	SetVolume(v float64)
	Seek(offset int64, whence int) (int64, error)
	BufferedSize() int
	Close() error
	Err() error
}

// Config describes the device format.
type Config struct {
	SampleRate int           // 44100 or 48000 Hz only
	Channels   int           // 1 = mono, 2 = stereo
	Buffer     time.Duration // device buffer, 0 for the platform default
}

// DefaultConfig returns the default device configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate: 44100,
		Channels:   2,
		Buffer:     100 * time.Millisecond,
	}
}

func validateConfig(cfg Config) error {
	if cfg.SampleRate != 44100 && cfg.SampleRate != 48000 {
		return fmt.Errorf("sample rate must be 44100 or 48000 Hz, got %d", cfg.SampleRate)
	}
	if cfg.Channels != 1 && cfg.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", cfg.Channels)
	}
	if cfg.Buffer < 0 {
		return errors.New("buffer must not be negative")
	}
	return nil
}

// bytesPerFrame is the size of one signed 16-bit frame.
func bytesPerFrame(channels int) int {
	return channels * 2
}

func pcmDuration(n, sampleRate, channels int) time.Duration {
	frames := n / bytesPerFrame(channels)
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

func pcmOffset(d time.Duration, sampleRate, channels int) int64 {
	frames := int64(d) * int64(sampleRate) / int64(time.Second)
	return frames * int64(bytesPerFrame(channels))
}
