package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

const (
	unlockTimeout = 500 * time.Millisecond
	silentVolume  = 0.001
	silentLength  = 10 * time.Millisecond
)

// Unlocker resumes a suspended device after a user gesture. It implements
// playback.Unlocker.
type Unlocker struct {
	dev    Device
	logger *log.Logger
}

// NewUnlocker returns an unlocker for dev.
func NewUnlocker(dev Device, logger *log.Logger) *Unlocker {
	if logger == nil {
		logger = log.Default()
	}
	return &Unlocker{dev: dev, logger: logger}
}

// AttemptUnlock resumes the device and plays a near-silent blip. Either
// succeeding is enough, provided the device becomes ready.
func (u *Unlocker) AttemptUnlock(ctx context.Context) error {
	resumeErr := u.dev.Resume()
	if resumeErr != nil {
		u.logger.Debug("Resuming audio device failed", "error", resumeErr)
	}

	select {
	case <-u.dev.Ready():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(unlockTimeout):
		return fmt.Errorf("%w: device not ready after %s", ErrNoAudioDevice, unlockTimeout)
	}

	silentErr := u.playSilence()
	if silentErr != nil {
		u.logger.Debug("Silent unlock playback failed", "error", silentErr)
	}

	if resumeErr == nil || silentErr == nil {
		return nil
	}
	return errors.Join(resumeErr, silentErr)
}

func (u *Unlocker) playSilence() error {
	n := int(pcmOffset(silentLength, u.dev.SampleRate(), u.dev.Channels()))
	track := u.dev.NewTrack(bytes.NewReader(make([]byte, n)))
	track.SetVolume(silentVolume)
	track.Play()
	track.Pause()
	err := track.Err()
	if cerr := track.Close(); err == nil {
		err = cerr
	}
	return err
}
