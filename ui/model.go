package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/storyaudio/internal/playback"
	"github.com/muesli/reflow/truncate"
)

// UnlockPrompt is shown while audio waits for the first interaction.
const UnlockPrompt = "press any key to play"

type model struct {
	cfg  Config
	ctrl Controller
	keys keyMap

	updates     <-chan playback.Snapshot
	unsubscribe func()

	status   *StatusDisplay
	snap     playback.Snapshot
	progress progress.Model
	help     help.Model

	width    int
	done     bool
	quitting bool
}

func newModel(cfg Config, ctrl Controller) model {
	cfg = cfg.withDefaults()
	updates, unsubscribe := ctrl.Subscribe()

	h := help.New()
	h.ShowAll = false

	m := model{
		cfg:         cfg,
		ctrl:        ctrl,
		keys:        newKeyMap(),
		updates:     updates,
		unsubscribe: unsubscribe,
		status:      NewStatusDisplay(),
		progress:    progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		help:        h,
		width:       80,
	}
	m.snap = ctrl.Snapshot()
	m.status.Update(m.snap)
	return m
}

func (m model) Init() tea.Cmd {
	return m.listen()
}

// listen waits for the next published snapshot.
func (m model) listen() tea.Cmd {
	updates := m.updates
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return nil
		}
		return snapshotMsg(snap)
	}
}

// gesture reports the interaction to the controller off the update loop;
// unlocking may wait on the audio device.
func (m model) gesture(kind playback.GestureKind) tea.Cmd {
	if m.snap.IsUnlocked {
		return nil
	}
	ctrl := m.ctrl
	return func() tea.Msg {
		return gestureMsg{unlocked: ctrl.Gesture(context.Background(), kind)}
	}
}

// stop runs off the update loop: stopping may dispatch segment callbacks
// that send messages back to the program.
func (m model) stop() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		ctrl.Stop()
		return nil
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		m.progress.Width = max(10, msg.Width-4)
		return m, nil

	case snapshotMsg:
		m.snap = playback.Snapshot(msg)
		m.status.Update(m.snap)
		return m, m.listen()

	case gestureMsg:
		if msg.unlocked {
			log.Debug("Playback unlocked from control bar")
		}
		m.snap = m.ctrl.Snapshot()
		m.status.Update(m.snap)
		return m, nil

	case CaptionMsg:
		m.status.SetCaption(msg.Text)
		return m, nil

	case CueMsg:
		m.status.SetCue(msg.Cue)
		return m, nil

	case ErrMsg:
		m.status.SetError(msg.Err)
		return m, nil

	case DoneMsg:
		m.done = true
		if m.cfg.ExitWhenDone {
			return m.quit()
		}
		return m, nil

	case tea.MouseMsg:
		if msg.Action == tea.MouseActionPress {
			return m, m.gesture(playback.GesturePointerDown)
		}
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m.quit()
		}
		// While locked every key is only a gesture.
		if !m.snap.IsUnlocked {
			return m, m.gesture(playback.GestureKeyDown)
		}
		cmd := m.handleKey(msg)
		return m, cmd
	}

	return m, nil
}

func (m *model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll

	case key.Matches(msg, m.keys.PlayPause):
		return m.togglePause()

	case key.Matches(msg, m.keys.Stop):
		return m.stop()

	case key.Matches(msg, m.keys.SeekBack):
		m.ctrl.SeekTo(max(0, m.snap.CurrentTime-m.cfg.SeekStep))

	case key.Matches(msg, m.keys.SeekFwd):
		m.ctrl.SeekTo(m.snap.CurrentTime + m.cfg.SeekStep)

	case key.Matches(msg, m.keys.VolumeUp):
		m.ctrl.SetVolume(playback.ClampVolume(m.ctrl.Volume() + m.cfg.VolumeStep))

	case key.Matches(msg, m.keys.VolumeDown):
		m.ctrl.SetVolume(playback.ClampVolume(m.ctrl.Volume() - m.cfg.VolumeStep))
	}
	return nil
}

func (m *model) togglePause() tea.Cmd {
	ctrl := m.ctrl
	if m.snap.IsPaused {
		return func() tea.Msg {
			if err := ctrl.Resume(context.Background()); err != nil {
				return ErrMsg{err}
			}
			return nil
		}
	}
	if err := ctrl.Pause(); err != nil {
		log.Debug("Pause ignored", "error", err)
	}
	return nil
}

func (m model) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	return m, tea.Quit
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	title := m.cfg.Title
	if title == "" {
		title = "storyaudio"
	}
	title = truncate.StringWithTail(title, uint(max(1, m.width-2)), ellipsis) //nolint:gosec
	fmt.Fprintln(&b, titleStyle.Render(title))

	if m.snap.ShowUnlockPrompt() {
		fmt.Fprintln(&b, promptStyle.Render(UnlockPrompt))
	}

	fmt.Fprintln(&b, m.status.CompactStatus())
	fmt.Fprintln(&b, m.progress.ViewAs(m.status.Progress()))

	if details := m.status.DetailedStatus(m.width); details != "" {
		fmt.Fprintln(&b, details)
	}
	if m.done {
		fmt.Fprintln(&b, dimStyle.Render("The end."))
	}
	if m.cfg.ShowHelp {
		fmt.Fprint(&b, "\n"+m.help.View(m.keys))
	}
	return b.String()
}
