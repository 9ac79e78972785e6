package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/storyaudio/internal/audio"
	"github.com/dgnsrekt/storyaudio/internal/cache"
	"github.com/dgnsrekt/storyaudio/internal/narration"
	"github.com/dgnsrekt/storyaudio/internal/playback"
	"github.com/dgnsrekt/storyaudio/internal/prefs"
	"github.com/dgnsrekt/storyaudio/ui"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// session owns everything one playback run needs.
type session struct {
	engine  *playback.Engine
	backend *audio.Backend
	cache   *cache.DiskCache
	prefs   *prefs.FileStore
}

// Close releases whatever has been opened so far.
func (s *session) Close() error {
	var err error
	if s.engine != nil {
		err = s.engine.Close()
	}
	if s.backend != nil {
		if cerr := s.backend.Close(); err == nil {
			err = cerr
		}
	}
	if s.cache != nil {
		if cerr := s.cache.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func openSession() (*session, error) {
	s := &session{}

	dc, err := openCache()
	if err != nil {
		log.Warn("Audio cache disabled", "error", err)
	} else {
		s.cache = dc
	}

	var fetchCache audio.Cache
	if s.cache != nil {
		fetchCache = s.cache
	}
	fetcher := audio.NewFetcher(audio.FetchConfig{
		Timeout:           viper.GetDuration("fetch.timeout"),
		RequestsPerMinute: viper.GetInt("fetch.requests_per_minute"),
	}, fetchCache, log.Default().WithPrefix("fetch"))

	kind, err := audio.ParseKind(viper.GetString("audio.backend"))
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	backend, err := audio.NewBackend(kind, audio.Config{
		SampleRate: viper.GetInt("audio.sample_rate"),
		Channels:   viper.GetInt("audio.channels"),
		Buffer:     viper.GetDuration("audio.buffer"),
	}, fetcher, log.Default().WithPrefix("audio"))
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("unable to open audio backend: %w", err)
	}
	s.backend = backend

	prefsPath, err := prefsFilePath()
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.prefs, err = prefs.OpenFile(prefsPath)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("unable to open preferences: %w", err)
	}

	s.engine = playback.New(backend.Output, backend.Unlocker,
		playback.WithVolumeStore(s.prefs),
		playback.WithUser(user),
	)
	return s, nil
}

func openCache() (*cache.DiskCache, error) {
	dir := viper.GetString("cache.dir")
	if dir == "" {
		var err error
		dir, err = gap.NewScope(gap.User, appName).CacheDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(dir, "audio")
	}
	capacity := int64(viper.GetInt("cache.max_size_mb")) * 1024 * 1024
	return cache.New(dir, capacity, viper.GetInt("cache.compression"))
}

func prefsFilePath() (string, error) {
	if p := viper.GetString("prefs.file"); p != "" {
		return p, nil
	}
	dirs, err := gap.NewScope(gap.User, appName).DataDirs()
	if err != nil {
		return "", fmt.Errorf("could not find data directory: %w", err)
	}
	if len(dirs) == 0 {
		return "", errors.New("could not find data directory")
	}
	return filepath.Join(dirs[0], "prefs.yml"), nil
}

// hooks route captions to whichever front end is running.
type hooks struct {
	caption func(segment int, text string)
	cue     func(segment int, cue string)
}

func execute(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && streamSrc == "" {
		return cmd.Help()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	if cmd.Flags().Changed("volume") {
		s.engine.SetVolume(volume)
	}

	go func() {
		err := s.prefs.Watch(ctx, func() {
			v, ok, err := s.prefs.Float(playback.VolumeKey(user))
			if err != nil || !ok || v == s.engine.Volume() {
				return
			}
			log.Debug("Volume changed by another instance", "volume", v)
			s.engine.SetVolume(v)
		})
		if err != nil {
			log.Debug("Not watching preferences", "error", err)
		}
	}()

	if tui {
		return runTUI(ctx, s, args)
	}
	return runPlain(ctx, s, args, os.Stdin, os.Stdout)
}

func runTUI(ctx context.Context, s *session, args []string) error {
	cfg, err := env.ParseAs[ui.Config]()
	if err != nil {
		return fmt.Errorf("error parsing config: %v", err)
	}
	cfg.Title = title(args)
	cfg.ExitWhenDone = true

	p := ui.NewProgram(cfg, s.engine)
	h := hooks{
		caption: func(seg int, text string) { p.Send(ui.CaptionMsg{Segment: seg, Text: text}) },
		cue:     func(seg int, cue string) { p.Send(ui.CueMsg{Segment: seg, Cue: cue}) },
	}

	go func() {
		if err := playAll(ctx, s.engine, args, h); err != nil && !errors.Is(err, context.Canceled) {
			p.Send(ui.ErrMsg{Err: err})
			return
		}
		p.Send(ui.DoneMsg{})
	}()

	go func() {
		<-ctx.Done()
		p.Quit()
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("unable to run tui program: %w", err)
	}
	return nil
}

func runPlain(ctx context.Context, s *session, args []string, in io.Reader, out io.Writer) error {
	var mu sync.Mutex
	printf := func(format string, a ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, format+"\n", a...)
	}

	h := hooks{
		caption: func(seg int, text string) { printf("[%d] %s", seg, text) },
		cue:     func(seg int, cue string) { printf("    ♪ %s", cue) },
	}

	stdinIsStream := streamSrc == "-"
	go func() {
		if stdinIsStream {
			// Running the command is the interaction; stdin carries frames.
			s.engine.Gesture(ctx, playback.GestureKeyDown)
			return
		}
		printf(ui.UnlockPrompt + " (enter)")
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			if s.engine.Gesture(ctx, playback.GestureKeyDown) || s.engine.Snapshot().IsUnlocked {
				return
			}
		}
	}()

	return playAll(ctx, s.engine, args, h)
}

// playAll queues every argument and the narration stream, then waits for
// each segment to leave the engine.
func playAll(ctx context.Context, e *playback.Engine, args []string, h hooks) error {
	var segments []*playback.Segment
	window := playback.MaxQueuedSegments

	for i, arg := range args {
		// Keep at most a queue's worth outstanding so nothing is evicted.
		if i >= window {
			if _, err := segments[i-window].Wait(ctx); err != nil {
				return err
			}
		}
		seg, err := queueArg(e, arg, i+1, h)
		if err != nil {
			return err
		}
		segments = append(segments, seg)
	}

	var feedErr error
	if streamSrc != "" {
		r, err := openStream(ctx, streamSrc)
		if err != nil {
			return err
		}
		defer r.Close() //nolint:errcheck

		feeder := narration.NewFeeder(e, log.Default().WithPrefix("narration"))
		feeder.OnCaption = h.caption
		feeder.OnCue = h.cue
		feeder.MaxOutstanding = window
		fed, err := feeder.Feed(ctx, r)
		segments = append(segments, fed...)
		if errors.Is(err, context.Canceled) {
			return err
		}
		feedErr = err
		defer func() {
			stats := feeder.Stats()
			log.Info("Narration finished",
				"queued", stats.Queued,
				"completed", stats.Completed,
				"dropped", stats.Dropped,
				"failed", stats.Failed,
				"malformed", stats.Malformed)
		}()
	}

	for _, seg := range segments {
		outcome, err := seg.Wait(ctx)
		if err != nil {
			return err
		}
		if outcome == playback.OutcomeFailed {
			log.Warn("Segment failed", "segment", seg.ID(), "error", seg.Err())
		}
	}
	return feedErr
}

func queueArg(e *playback.Engine, arg string, n int, h hooks) (*playback.Segment, error) {
	name := filepath.Base(arg)
	opts := []playback.SegmentOption{
		playback.WithID(name),
		playback.WithOnStart(func() {
			if h.caption != nil {
				h.caption(n, name)
			}
		}),
	}

	if isURL(arg) {
		return e.QueueURL(arg, opts...), nil
	}

	data, err := os.ReadFile(arg)
	if err != nil {
		return nil, fmt.Errorf("unable to open file: %w", err)
	}
	return e.QueueAudio(data, formatFromPath(arg), opts...), nil
}

// openStream opens a narration source: - for stdin, an http(s) URL or a
// file path.
func openStream(ctx context.Context, src string) (io.ReadCloser, error) {
	if src == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	if isURL(src) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			return nil, fmt.Errorf("unable to get url: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("unable to get url: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("HTTP status %d", resp.StatusCode)
		}
		return resp.Body, nil
	}
	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("unable to open file: %w", err)
	}
	return f, nil
}

func isURL(s string) bool {
	u, err := url.ParseRequestURI(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// formatFromPath derives a format hint from a file extension.
func formatFromPath(p string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(p), "."))
}

func title(args []string) string {
	switch {
	case streamSrc != "" && streamSrc != "-":
		return filepath.Base(streamSrc)
	case len(args) == 1:
		return filepath.Base(args[0])
	case len(args) > 1:
		return fmt.Sprintf("%s and %d more", filepath.Base(args[0]), len(args)-1)
	default:
		return appName
	}
}
