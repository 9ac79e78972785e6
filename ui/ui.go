// Package ui provides the terminal control bar for story playback.
package ui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/storyaudio/internal/playback"
)

// Controller is the playback surface the control bar drives.
// *playback.Engine satisfies it.
type Controller interface {
	Snapshot() playback.Snapshot
	Subscribe() (<-chan playback.Snapshot, func())
	Gesture(ctx context.Context, kind playback.GestureKind) bool
	Pause() error
	Resume(ctx context.Context) error
	Stop()
	SeekTo(d time.Duration)
	SetVolume(v float64)
	Volume() float64
}

// CaptionMsg shows the text of the segment now playing.
type CaptionMsg struct {
	Segment int
	Text    string
}

// CueMsg shows a sound effect cue.
type CueMsg struct {
	Segment int
	Cue     string
}

// ErrMsg surfaces an error in the status area.
type ErrMsg struct{ Err error }

func (e ErrMsg) Error() string { return e.Err.Error() }

// DoneMsg reports that the story has finished playing.
type DoneMsg struct{}

type snapshotMsg playback.Snapshot

type gestureMsg struct{ unlocked bool }

// NewProgram returns a new Tea program driving ctrl.
func NewProgram(cfg Config, ctrl Controller) *tea.Program {
	log.Debug("Starting control bar",
		"seek_step", cfg.SeekStep,
		"volume_step", cfg.VolumeStep,
		"mouse", cfg.EnableMouse)

	var opts []tea.ProgramOption
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	return tea.NewProgram(newModel(cfg, ctrl), opts...)
}
