package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dgnsrekt/storyaudio/internal/playback"
	"github.com/muesli/reflow/truncate"
)

const ellipsis = "…"

// StatusDisplay renders a playback snapshot for the status bar.
type StatusDisplay struct {
	snap    playback.Snapshot
	caption string
	cue     string
	err     string
}

// NewStatusDisplay creates an empty status display.
func NewStatusDisplay() *StatusDisplay {
	return &StatusDisplay{}
}

// Update replaces the snapshot being displayed.
func (s *StatusDisplay) Update(snap playback.Snapshot) {
	s.snap = snap
	if snap.State == playback.StatePlaying {
		s.err = ""
	}
}

// SetCaption sets the line currently being narrated.
func (s *StatusDisplay) SetCaption(text string) { s.caption = text }

// SetCue sets the last sound effect cue.
func (s *StatusDisplay) SetCue(cue string) { s.cue = cue }

// SetError shows an error until playback resumes.
func (s *StatusDisplay) SetError(err error) {
	if err == nil {
		s.err = ""
		return
	}
	s.err = err.Error()
}

// IsActive reports whether anything is loaded or waiting.
func (s *StatusDisplay) IsActive() bool {
	return s.snap.State != playback.StateIdle || s.snap.QueueLength > 0 || s.snap.HasPendingAudio
}

// Progress returns the played fraction of the current track.
func (s *StatusDisplay) Progress() float64 {
	if s.snap.Duration <= 0 {
		return 0
	}
	return min(1, max(0, float64(s.snap.CurrentTime)/float64(s.snap.Duration)))
}

// CompactStatus returns the state icon, clock, volume and queue length.
func (s *StatusDisplay) CompactStatus() string {
	icon, label := s.stateIcon()
	status := lipgloss.NewStyle().Foreground(s.stateColor()).Render(icon + " " + label)

	if s.snap.Duration > 0 {
		status += dimStyle.Render(fmt.Sprintf(" %s / %s",
			formatDuration(s.snap.CurrentTime), formatDuration(s.snap.Duration)))
	}

	status += dimStyle.Render(fmt.Sprintf(" vol %d%%", int(s.snap.Volume*100+0.5)))

	if s.snap.QueueLength > 0 {
		status += dimStyle.Render(fmt.Sprintf(" +%d queued", s.snap.QueueLength))
	}
	return status
}

// DetailedStatus returns the caption, cue and error lines fitted to width.
func (s *StatusDisplay) DetailedStatus(width int) string {
	var lines []string
	w := uint(max(0, width)) //nolint:gosec

	if s.caption != "" {
		lines = append(lines, captionStyle.Render(truncate.StringWithTail(s.caption, w, ellipsis)))
	}
	if s.cue != "" {
		lines = append(lines, cueStyle.Render(truncate.StringWithTail("♪ "+s.cue, w, ellipsis)))
	}
	if s.err != "" {
		lines = append(lines, errorStyle.Render(truncate.StringWithTail("Error: "+s.err, w, ellipsis)))
	}
	return strings.Join(lines, "\n")
}

func (s *StatusDisplay) stateIcon() (string, string) {
	switch {
	case s.snap.ShowUnlockPrompt():
		return "🔒", "Waiting"
	case s.snap.IsStartingPlayback, s.snap.State == playback.StateLoading:
		return "⟳", "Loading"
	case s.snap.IsPlaying:
		return "▶", "Playing"
	case s.snap.IsPaused:
		return "⏸", "Paused"
	case s.snap.State == playback.StateEnded:
		return "■", "Ended"
	default:
		return "◼", "Stopped"
	}
}

func (s *StatusDisplay) stateColor() lipgloss.TerminalColor {
	switch {
	case s.err != "":
		return red
	case s.snap.ShowUnlockPrompt():
		return orange
	case s.snap.IsStartingPlayback, s.snap.State == playback.StateLoading:
		return blue
	case s.snap.IsPlaying:
		return green
	case s.snap.IsPaused:
		return yellow
	default:
		return gray
	}
}

// formatDuration renders d as m:ss.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
