package playback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/storyaudio/internal/queue"
)

type owner int

const (
	ownerNone owner = iota
	ownerDirect
	ownerSegment
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithVolumeStore persists volume changes to store.
func WithVolumeStore(store VolumeStore) Option {
	return func(e *Engine) { e.store = store }
}

// WithUser scopes the persisted volume to a user.
func WithUser(id string) Option {
	return func(e *Engine) { e.user = id }
}

// WithQueueCapacity overrides MaxQueuedSegments.
func WithQueueCapacity(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.queueCap = n
		}
	}
}

// WithResourceCeiling overrides MaxTrackedResources.
func WithResourceCeiling(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.resourceCeiling = n
		}
	}
}

// Engine plays narration audio on a single output. Audio is either played
// immediately, superseding whatever is current, or queued and played
// back-to-back. Nothing is audible until a qualifying gesture unlocks the
// gate.
//
// Segment callbacks run one at a time in the order their lifecycle events
// happened, outside any engine lock, so they may call back into the engine.
type Engine struct {
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	closed   bool
	gen      uint64
	owner    owner
	current  *Segment
	notes    []func()
	flushing atomic.Bool

	out       Output
	unlocker  Unlocker
	player    *Player
	gate      *UnlockGate
	resources *ResourceManager
	queue     *queue.Ring[*Segment]
	subs      *broadcaster

	store           VolumeStore
	user            string
	queueCap        int
	resourceCeiling int
	logger          *log.Logger
}

// New creates an engine on out. unlocker may be nil when the platform needs
// no unlock step; the first qualifying gesture then unlocks.
func New(out Output, unlocker Unlocker, opts ...Option) *Engine {
	e := &Engine{
		out:             out,
		unlocker:        unlocker,
		gate:            NewUnlockGate(),
		subs:            newBroadcaster(),
		queueCap:        MaxQueuedSegments,
		resourceCeiling: MaxTrackedResources,
		logger:          log.Default().WithPrefix("playback"),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.queue = queue.New[*Segment](e.queueCap)
	e.player = NewPlayer(out, func(handle string) { e.resources.Revoke(handle) }, e.logger)
	e.resources = NewResourceManager(e.resourceCeiling, e.player.Src, e.logger)

	out.SetEventHandler(e.handleEvent)
	e.player.SetVolume(loadVolume(e.store, e.user, e.logger))

	e.logger.Debug("Playback engine created",
		"user", e.user,
		"queue_capacity", e.queueCap,
		"resource_ceiling", e.resourceCeiling,
		"volume", e.player.Volume())
	return e
}

// PlayAudio plays data immediately, superseding the current segment. While
// playback is locked the call waits for unlock; a newer call made in the
// meantime makes this one fail with ErrSuperseded.
func (e *Engine) PlayAudio(ctx context.Context, data []byte, format string) error {
	if len(data) == 0 {
		return ErrEmptyAudio
	}
	return e.request(ctx, source{data: data, format: format})
}

// PlayURL is PlayAudio for a remote source.
func (e *Engine) PlayURL(ctx context.Context, url string) error {
	if url == "" {
		return ErrEmptyURL
	}
	return e.request(ctx, source{url: url})
}

func (e *Engine) request(ctx context.Context, src source) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}

	if !e.gate.Unlocked() {
		req := newRequest(ctx, src)
		e.gate.submit(req)
		e.mu.Unlock()

		e.logger.Debug("Playback locked, waiting for user gesture")
		e.publish()

		select {
		case err := <-req.result:
			return err
		case <-ctx.Done():
			e.gate.cancel(req)
			e.publish()
			select {
			case err := <-req.result:
				return err
			default:
				return ctx.Err()
			}
		}
	}

	gen := e.claimLocked()
	e.mu.Unlock()
	e.flush()

	return e.playDirect(ctx, gen, src)
}

// claimLocked hands the output to direct playback.
func (e *Engine) claimLocked() uint64 {
	e.gen++
	if seg := e.current; seg != nil {
		e.current = nil
		e.finishLocked(seg, OutcomeSuperseded, nil)
	}
	e.owner = ownerDirect
	return e.gen
}

func (e *Engine) playDirect(ctx context.Context, gen uint64, src source) error {
	media, err := e.mediaFor(src)
	if err == nil {
		err = e.player.Load(ctx, media)
	}
	if err == nil {
		e.publish()
		err = e.player.Play(ctx)
	}
	if err != nil {
		e.mu.Lock()
		if e.gen == gen {
			e.owner = ownerNone
		}
		e.mu.Unlock()

		if !errors.Is(err, ErrInterrupted) {
			e.logger.Error("Playback failed", "error", err)
		}
		e.publish()
		e.tryDrain()
		return err
	}

	e.publish()
	return nil
}

func (e *Engine) mediaFor(src source) (Media, error) {
	if src.url != "" {
		return Media{Src: src.url, MimeType: mimeFromURL(src.url)}, nil
	}
	res, err := e.resources.Create(src.data, MimeTypeFor(src.format))
	if err != nil {
		return Media{}, err
	}
	return res.Media(), nil
}

// segmentMedia resolves a queued segment's source. A handle evicted at the
// resource ceiling while the segment waited fails with ErrResourceRevoked.
func (e *Engine) segmentMedia(seg *Segment) (Media, error) {
	if seg.res == nil {
		return e.mediaFor(seg.src)
	}
	res, ok := e.resources.Lookup(seg.res.Handle)
	if !ok {
		return Media{}, opError("load", seg.res.Handle, ErrResourceRevoked)
	}
	return res.Media(), nil
}

// QueueAudio appends data to the playback queue. When the queue is full the
// oldest queued segment is evicted first. Queueing never waits for unlock.
func (e *Engine) QueueAudio(data []byte, format string, opts ...SegmentOption) *Segment {
	return e.enqueue(source{data: data, format: format}, opts)
}

// QueueURL appends a remote source to the playback queue.
func (e *Engine) QueueURL(url string, opts ...SegmentOption) *Segment {
	return e.enqueue(source{url: url}, opts)
}

func (e *Engine) enqueue(src source, opts []SegmentOption) *Segment {
	seg := newSegment(src, opts...)

	// In-memory audio holds its handle from the moment it is queued.
	var resErr error
	if len(src.data) > 0 {
		seg.res, resErr = e.resources.Create(src.data, MimeTypeFor(src.format))
	}

	e.mu.Lock()
	switch {
	case e.closed:
		e.finishLocked(seg, OutcomeStopped, ErrEngineClosed)
	case len(src.data) == 0 && src.url == "":
		e.finishLocked(seg, OutcomeFailed, ErrEmptyAudio)
	case resErr != nil:
		e.finishLocked(seg, OutcomeFailed, resErr)
	default:
		if evicted, ok := e.queue.Push(seg); ok {
			e.logger.Warn("Playback queue full, evicting oldest segment",
				"segment", evicted.id,
				"capacity", e.queueCap)
			e.finishLocked(evicted, OutcomeEvicted, nil)
		}
	}
	e.mu.Unlock()

	e.flush()
	e.tryDrain()
	e.publish()
	return seg
}

// tryDrain starts the next queued segment when the output is free.
func (e *Engine) tryDrain() {
	e.mu.Lock()
	if e.closed || e.owner != ownerNone || !e.gate.Unlocked() {
		e.mu.Unlock()
		return
	}
	seg, ok := e.queue.Pop()
	if !ok {
		e.mu.Unlock()
		return
	}
	e.gen++
	gen := e.gen
	e.current = seg
	e.owner = ownerSegment
	e.mu.Unlock()

	e.logger.Debug("Playing queued segment",
		"segment", seg.id,
		"waited", time.Since(seg.queuedAt))
	e.publish()
	go e.playSegment(gen, seg)
}

func (e *Engine) playSegment(gen uint64, seg *Segment) {
	media, err := e.segmentMedia(seg)
	if err == nil {
		err = e.player.Load(e.ctx, media)
	}
	if err == nil {
		e.publish()
		err = e.player.Play(e.ctx)
	}

	e.mu.Lock()
	if e.gen != gen || e.current != seg {
		// Stopped, superseded or already ended; the segment is finished.
		e.mu.Unlock()
		return
	}
	if err != nil {
		e.current = nil
		e.owner = ownerNone
		e.finishLocked(seg, OutcomeFailed, err)
		e.mu.Unlock()

		e.logger.Error("Segment playback failed", "segment", seg.id, "error", err)
		e.flush()
		e.publish()
		e.tryDrain()
		return
	}
	e.startedLocked(seg)
	e.mu.Unlock()

	e.flush()
	e.publish()
}

func (e *Engine) handleEvent(ev Event) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return
	}

	res, err := e.player.handleEvent(ev)
	if res == resultNone {
		if ev.Kind == EventMetadata || ev.Kind == EventTimeUpdate {
			e.publish()
		}
		return
	}

	e.mu.Lock()
	if seg := e.current; seg != nil && e.owner == ownerSegment {
		e.current = nil
		if res == resultEnded {
			e.startedLocked(seg)
			e.finishLocked(seg, OutcomeCompleted, nil)
		} else {
			e.finishLocked(seg, OutcomeFailed, err)
		}
	}
	if e.owner != ownerNone {
		e.gen++
		e.owner = ownerNone
	}
	e.mu.Unlock()

	e.flush()
	e.publish()
	e.tryDrain()
}

// Pause pauses audible playback.
func (e *Engine) Pause() error {
	if e.isClosed() {
		return ErrEngineClosed
	}
	err := e.player.Pause()
	e.publish()
	return err
}

// Resume continues paused playback.
func (e *Engine) Resume(ctx context.Context) error {
	if e.isClosed() {
		return ErrEngineClosed
	}
	err := e.player.Resume(ctx)
	if err != nil && !errors.Is(err, ErrNotPaused) {
		e.logger.Warn("Resume failed", "error", err)
	}
	e.publish()
	return err
}

// Stop cancels the current segment and every queued segment, in order,
// and returns the output to idle. Segment Done channels are closed before
// Stop returns.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.stopLocked()
	e.player.Stop()
	e.mu.Unlock()

	e.flush()
	e.publish()
}

func (e *Engine) stopLocked() {
	e.gen++
	if seg := e.current; seg != nil {
		e.current = nil
		e.finishLocked(seg, OutcomeStopped, nil)
	}
	for _, seg := range e.queue.Drain() {
		e.finishLocked(seg, OutcomeStopped, nil)
	}
	e.owner = ownerNone
}

// SeekTo moves the playback position, clamped to the media duration. It
// does nothing while the duration is unknown.
func (e *Engine) SeekTo(d time.Duration) {
	e.player.SeekTo(d)
	e.publish()
}

// SetVolume clamps v into [0, 1], applies it and persists it for the user.
func (e *Engine) SetVolume(v float64) {
	applied, ok := e.player.SetVolume(v)
	if !ok {
		e.logger.Warn("Ignoring invalid volume", "volume", v)
		return
	}
	if e.store != nil {
		if err := e.store.SetFloat(VolumeKey(e.user), applied); err != nil {
			e.logger.Warn("Could not persist volume", "error", err)
		}
	}
	e.publish()
}

// Volume returns the applied volume.
func (e *Engine) Volume() float64 {
	return e.player.Volume()
}

// Gesture reports a user interaction. The first qualifying gesture that
// the platform accepts unlocks playback, replays the newest waiting
// request and starts draining the queue. It reports whether this gesture
// unlocked playback.
func (e *Engine) Gesture(ctx context.Context, kind GestureKind) bool {
	if !kind.Qualifies() || e.gate.Unlocked() || e.isClosed() {
		return false
	}

	ok, err := e.gate.tryUnlock(ctx, e.unlocker)
	if err != nil {
		e.logger.Debug("Unlock attempt failed, waiting for next gesture", "gesture", kind, "error", err)
		return false
	}
	if !ok {
		return false
	}
	e.logger.Info("Audio playback unlocked", "gesture", kind)

	e.mu.Lock()
	req := e.gate.takeNewest()
	switch {
	case req == nil:
		e.mu.Unlock()
		e.tryDrain()
	case e.closed:
		e.mu.Unlock()
		req.resolve(ErrEngineClosed)
	default:
		gen := e.claimLocked()
		e.mu.Unlock()
		e.flush()
		go func() {
			req.resolve(e.playDirect(req.ctx, gen, req.src))
		}()
	}

	e.publish()
	return true
}

// Snapshot returns the current observable state.
func (e *Engine) Snapshot() Snapshot {
	var s Snapshot
	e.player.snapshot(&s)

	e.mu.Lock()
	if e.current != nil {
		s.CurrentSegment = e.current.id
	}
	e.mu.Unlock()

	s.QueueLength = e.queue.Len()
	s.IsUnlocked = e.gate.Unlocked()
	s.HasPendingAudio = e.gate.HasPending() || (!s.IsUnlocked && s.QueueLength > 0)
	return s
}

// Subscribe returns a channel of snapshots published after every change
// and a function that cancels the subscription.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	return e.subs.subscribe()
}

// QueueStats returns playback queue statistics.
func (e *Engine) QueueStats() queue.Stats {
	return e.queue.Stats()
}

// Close tears the engine down: pending requests fail with ErrEngineClosed,
// remaining segments finish with OutcomeStopped, the output is unloaded and
// every resource revoked. The output itself is left open.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.stopLocked()
	e.mu.Unlock()

	e.gate.rejectAll(ErrEngineClosed)
	e.cancel()
	e.out.SetEventHandler(nil)
	e.player.Unload()
	e.resources.RevokeAll()
	e.flush()
	e.subs.close()

	e.logger.Debug("Playback engine closed")
	return nil
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) publish() {
	if e.isClosed() {
		return
	}
	e.subs.publish(e.Snapshot())
}

// startedLocked marks seg audible and schedules its start callback.
func (e *Engine) startedLocked(seg *Segment) {
	if !seg.markStarted() || seg.onStart == nil {
		return
	}
	fn := seg.onStart
	e.notes = append(e.notes, func() { e.invoke("start", seg, fn) })
}

// finishLocked records seg's outcome and schedules its end callback.
func (e *Engine) finishLocked(seg *Segment, o Outcome, err error) {
	if !seg.finish(o, err) {
		return
	}
	// A segment that never reached the output still owns its handle; a
	// loaded one is released by the player when it is replaced.
	if seg.res != nil && !seg.begun && e.player.Src() != seg.res.Handle {
		e.resources.Revoke(seg.res.Handle)
	}
	if seg.onEnd == nil {
		return
	}
	fn := seg.onEnd
	e.notes = append(e.notes, func() { e.invoke("end", seg, func() { fn(o) }) })
}

// flush runs scheduled callbacks in order. If another goroutine, or a
// caller further up this stack, is already flushing, it picks them up.
func (e *Engine) flush() {
	for {
		if !e.flushing.CompareAndSwap(false, true) {
			return
		}
		for {
			e.mu.Lock()
			if len(e.notes) == 0 {
				e.mu.Unlock()
				break
			}
			fn := e.notes[0]
			e.notes[0] = nil
			e.notes = e.notes[1:]
			e.mu.Unlock()
			fn()
		}
		e.flushing.Store(false)

		e.mu.Lock()
		more := len(e.notes) > 0
		e.mu.Unlock()
		if !more {
			return
		}
	}
}

func (e *Engine) invoke(name string, seg *Segment, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Segment callback panicked",
				"callback", name,
				"segment", seg.id,
				"panic", r)
		}
	}()
	fn()
}
