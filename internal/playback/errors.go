package playback

import (
	"errors"
	"fmt"
)

// Common playback errors.
var (
	// Request errors
	ErrSuperseded  = errors.New("playback request superseded by a newer request")
	ErrInterrupted = errors.New("playback interrupted by a new load request")
	ErrEmptyAudio  = errors.New("audio data is empty")
	ErrEmptyURL    = errors.New("audio url is empty")

	// Transport errors
	ErrNotPlaying      = errors.New("no audio is playing")
	ErrNotPaused       = errors.New("audio is not paused")
	ErrStateTransition = errors.New("invalid state transition")

	// Resource errors
	ErrResourceRevoked = errors.New("audio resource has been revoked")
	ErrInvalidPayload  = errors.New("invalid audio payload")

	// Lifecycle errors
	ErrEngineClosed = errors.New("playback engine is closed")
)

// PlaybackError carries the operation and source that failed.
type PlaybackError struct {
	Op  string // load, play, resume, fetch ...
	Src string // resource handle or URL, may be empty
	Err error
}

func (e *PlaybackError) Error() string {
	if e.Src == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Src, e.Err)
}

func (e *PlaybackError) Unwrap() error {
	return e.Err
}

func opError(op, src string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PlaybackError
	if errors.As(err, &pe) {
		return err
	}
	return &PlaybackError{Op: op, Src: src, Err: err}
}
