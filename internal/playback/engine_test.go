package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

const testTimeout = 2 * time.Second

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *MockOutput, *MockUnlocker) {
	t.Helper()
	out := NewMockOutput()
	u := &MockUnlocker{}
	opts = append([]Option{WithLogger(log.New(io.Discard))}, opts...)
	e := New(out, u, opts...)
	t.Cleanup(func() {
		_ = e.Close()
		_ = out.Close()
	})
	return e, out, u
}

func unlock(t *testing.T, e *Engine) {
	t.Helper()
	if !e.Gesture(context.Background(), GestureKeyDown) {
		t.Fatal("Expected gesture to unlock playback")
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(testTimeout):
		t.Fatalf("Timed out waiting for %s", what)
	}
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) has(s string) bool {
	for _, e := range r.list() {
		if e == s {
			return true
		}
	}
	return false
}

func (r *recorder) options(name string) []SegmentOption {
	return []SegmentOption{
		WithID(name),
		WithOnStart(func() { r.add(name + ":start") }),
		WithOnEnd(func(o Outcome) { r.add(name + ":" + o.String()) }),
	}
}

func assertEvents(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("Expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected events %v, got %v", want, got)
		}
	}
}

type memStore struct {
	mu     sync.Mutex
	values map[string]float64
}

func newMemStore() *memStore {
	return &memStore{values: make(map[string]float64)}
}

func (s *memStore) Float(key string) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *memStore) SetFloat(key string, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = v
	return nil
}

func (s *memStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func TestEngine_GaplessQueueOrdering(t *testing.T) {
	e, out, _ := newTestEngine(t)
	unlock(t, e)
	rec := &recorder{}

	a := e.QueueAudio([]byte("aaa"), "mp3", rec.options("a")...)
	b := e.QueueAudio([]byte("bbb"), "mp3", rec.options("b")...)
	c := e.QueueAudio([]byte("ccc"), "mp3", rec.options("c")...)

	for _, seg := range []*Segment{a, b, c} {
		waitClosed(t, seg.Started(), seg.ID()+" start")
		out.Finish()
		waitClosed(t, seg.Done(), seg.ID()+" done")
	}

	eventually(t, func() bool { return len(rec.list()) == 6 }, "all callbacks")
	assertEvents(t, rec.list(), []string{
		"a:start", "a:completed",
		"b:start", "b:completed",
		"c:start", "c:completed",
	})

	for _, seg := range []*Segment{a, b, c} {
		if seg.Outcome() != OutcomeCompleted {
			t.Errorf("Expected %s completed, got %s", seg.ID(), seg.Outcome())
		}
	}
	if e.Snapshot().QueueLength != 0 {
		t.Errorf("Expected empty queue, got %d", e.Snapshot().QueueLength)
	}
}

func TestEngine_LockedPlaybackReplaysNewest(t *testing.T) {
	e, out, _ := newTestEngine(t)
	ctx := context.Background()

	errX := make(chan error, 1)
	go func() { errX <- e.PlayAudio(ctx, []byte("xxx"), "mp3") }()
	eventually(t, func() bool { return e.Snapshot().HasPendingAudio }, "x pending")

	if !e.Snapshot().ShowUnlockPrompt() {
		t.Error("Expected unlock prompt while audio is pending")
	}

	errY := make(chan error, 1)
	go func() { errY <- e.PlayAudio(ctx, []byte("yyy"), "mp3") }()

	select {
	case err := <-errX:
		if !errors.Is(err, ErrSuperseded) {
			t.Errorf("Expected ErrSuperseded for x, got %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Timed out waiting for x to be superseded")
	}

	if len(out.Loads()) != 0 {
		t.Fatal("Expected nothing loaded while locked")
	}

	unlock(t, e)

	select {
	case err := <-errY:
		if err != nil {
			t.Errorf("Expected y to play, got %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Timed out waiting for y to play")
	}

	loads := out.Loads()
	if len(loads) != 1 || string(loads[0].Data) != "yyy" {
		t.Errorf("Expected only y to be loaded, got %d loads", len(loads))
	}
	s := e.Snapshot()
	if !s.IsPlaying || s.HasPendingAudio || !s.IsUnlocked {
		t.Errorf("Unexpected snapshot after unlock: %+v", s)
	}
}

func TestEngine_QueueEvictsOldest(t *testing.T) {
	e, _, _ := newTestEngine(t)
	rec := &recorder{}

	segs := make([]*Segment, 0, 11)
	for i := 0; i < 10; i++ {
		segs = append(segs, e.QueueAudio([]byte{byte(i + 1)}, "mp3", rec.options(fmt.Sprint(i))...))
	}
	if len(rec.list()) != 0 {
		t.Fatalf("Expected no callbacks yet, got %v", rec.list())
	}

	segs = append(segs, e.QueueAudio([]byte{11}, "mp3", rec.options("10")...))

	assertEvents(t, rec.list(), []string{"0:evicted"})
	if segs[0].Outcome() != OutcomeEvicted {
		t.Errorf("Expected first segment evicted, got %s", segs[0].Outcome())
	}

	s := e.Snapshot()
	if s.QueueLength != MaxQueuedSegments {
		t.Errorf("Expected %d queued, got %d", MaxQueuedSegments, s.QueueLength)
	}
	if !s.HasPendingAudio || !s.ShowUnlockPrompt() {
		t.Error("Expected queued audio to count as pending while locked")
	}
}

func TestEngine_StopFinishesEverythingInOrder(t *testing.T) {
	e, _, _ := newTestEngine(t)
	unlock(t, e)
	rec := &recorder{}

	a := e.QueueAudio([]byte("aaa"), "mp3", rec.options("a")...)
	b := e.QueueAudio([]byte("bbb"), "mp3", rec.options("b")...)
	c := e.QueueAudio([]byte("ccc"), "mp3", rec.options("c")...)

	waitClosed(t, a.Started(), "a start")
	eventually(t, func() bool { return rec.has("a:start") }, "a start callback")
	eventually(t, func() bool { return !e.flushing.Load() }, "callback dispatch to finish")

	e.Stop()

	assertEvents(t, rec.list(), []string{"a:start", "a:stopped", "b:stopped", "c:stopped"})
	for _, seg := range []*Segment{a, b, c} {
		if seg.Outcome() != OutcomeStopped {
			t.Errorf("Expected %s stopped, got %s", seg.ID(), seg.Outcome())
		}
	}
	s := e.Snapshot()
	if s.State != StateIdle || s.QueueLength != 0 || s.CurrentTime != 0 {
		t.Errorf("Expected idle empty transport, got %+v", s)
	}
}

func TestEngine_StopDuringCallbackDefersEndCallbacks(t *testing.T) {
	e, _, _ := newTestEngine(t)
	unlock(t, e)
	rec := &recorder{}

	entered := make(chan struct{})
	release := make(chan struct{})
	releaseOnce := sync.OnceFunc(func() { close(release) })
	defer releaseOnce()

	a := e.QueueAudio([]byte("aaa"), "mp3",
		WithID("a"),
		WithOnStart(func() {
			close(entered)
			<-release
		}),
		WithOnEnd(func(o Outcome) { rec.add("a:" + o.String()) }))
	b := e.QueueAudio([]byte("bbb"), "mp3",
		WithID("b"),
		WithOnEnd(func(o Outcome) { rec.add("b:" + o.String()) }))

	waitClosed(t, entered, "a start callback")
	e.Stop()

	// The goroutine blocked in a's start callback owns dispatch, so Stop
	// returns with the segments finished but their end callbacks pending.
	for _, seg := range []*Segment{a, b} {
		select {
		case <-seg.Done():
		default:
			t.Errorf("Expected %s done when Stop returns", seg.ID())
		}
		if seg.Outcome() != OutcomeStopped {
			t.Errorf("Expected %s stopped, got %s", seg.ID(), seg.Outcome())
		}
	}
	if got := rec.list(); len(got) != 0 {
		t.Errorf("Expected end callbacks to wait for the running callback, got %v", got)
	}

	releaseOnce()
	eventually(t, func() bool { return len(rec.list()) == 2 }, "deferred end callbacks")
	assertEvents(t, rec.list(), []string{"a:stopped", "b:stopped"})
}

func TestEngine_ResourceCeilingKeepsActive(t *testing.T) {
	const ceiling = 3
	e, out, _ := newTestEngine(t, WithResourceCeiling(ceiling))
	unlock(t, e)

	queue := func(name string) *Segment {
		t.Helper()
		seg := e.QueueAudio([]byte(name), "mp3", WithID(name))
		if n := e.resources.Len(); n > ceiling {
			t.Errorf("Expected at most %d tracked resources after %s, got %d", ceiling, name, n)
		}
		if _, ok := e.resources.Lookup(out.Src()); !ok {
			t.Fatalf("Expected playing resource to survive queueing %s", name)
		}
		return seg
	}

	a := e.QueueAudio([]byte("a"), "mp3", WithID("a"))
	waitClosed(t, a.Started(), "a start")
	if out.Src() != a.res.Handle {
		t.Fatalf("Expected a on the output, got %s", out.Src())
	}

	// c fills the ceiling; d evicts everything but the playing a.
	b := queue("b")
	c := queue("c")
	d := queue("d")
	queue("e")

	out.Finish()
	waitClosed(t, d.Started(), "d start")

	for _, seg := range []*Segment{b, c} {
		if seg.Outcome() != OutcomeFailed || !errors.Is(seg.Err(), ErrResourceRevoked) {
			t.Errorf("Expected %s to fail with ErrResourceRevoked, got %s (%v)", seg.ID(), seg.Outcome(), seg.Err())
		}
	}
	if out.Src() != d.res.Handle {
		t.Errorf("Expected d on the output, got %s", out.Src())
	}

	// a was released when d loaded; g evicts everything but the playing d.
	queue("f")
	queue("g")
	if n := e.resources.Len(); n != 2 {
		t.Errorf("Expected playing and newest resource tracked, got %d", n)
	}
}

func TestEngine_VolumeMigration(t *testing.T) {
	store := newMemStore()
	_ = store.SetFloat(LegacyVolumeKey, 0.4)

	e, out, _ := newTestEngine(t, WithVolumeStore(store), WithUser("u1"))

	if e.Volume() != 0.4 {
		t.Errorf("Expected migrated volume 0.4, got %v", e.Volume())
	}
	if out.VolumeLevel() != 0.4 {
		t.Errorf("Expected output volume 0.4, got %v", out.VolumeLevel())
	}
	if v, ok, _ := store.Float("audio.volume.u1"); !ok || v != 0.4 {
		t.Errorf("Expected scoped key 0.4, got %v (ok=%v)", v, ok)
	}
	if _, ok, _ := store.Float(LegacyVolumeKey); ok {
		t.Error("Expected legacy key to be removed")
	}

	e.SetVolume(1.7)
	if v, _, _ := store.Float("audio.volume.u1"); v != 1.0 {
		t.Errorf("Expected persisted 1.0, got %v", v)
	}
	if e.Volume() != 1.0 {
		t.Errorf("Expected clamped 1.0, got %v", e.Volume())
	}

	e.SetVolume(-0.2)
	if v, _, _ := store.Float("audio.volume.u1"); v != 0 {
		t.Errorf("Expected persisted 0, got %v", v)
	}

	e.SetVolume(math.NaN())
	if e.Volume() != 0 {
		t.Errorf("Expected NaN to be ignored, got %v", e.Volume())
	}
}

func TestEngine_VolumeLoading(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]float64
		user   string
		want   float64
	}{
		{"nothing stored", nil, "u1", 1.0},
		{"scoped wins over legacy", map[string]float64{"audio.volume.u1": 0.3, LegacyVolumeKey: 0.8}, "u1", 0.3},
		{"stored value clamped", map[string]float64{"audio.volume.u1": 3}, "u1", 1.0},
		{"anonymous uses legacy", map[string]float64{LegacyVolumeKey: 0.6}, "", 0.6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			for k, v := range tt.values {
				store.values[k] = v
			}
			e, _, _ := newTestEngine(t, WithVolumeStore(store), WithUser(tt.user))
			if e.Volume() != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, e.Volume())
			}
		})
	}
}

func TestEngine_DirectPlaySupersedesCurrentSegment(t *testing.T) {
	e, out, _ := newTestEngine(t)
	unlock(t, e)
	rec := &recorder{}

	a := e.QueueAudio([]byte("aaa"), "mp3", rec.options("a")...)
	b := e.QueueAudio([]byte("bbb"), "mp3", rec.options("b")...)
	waitClosed(t, a.Started(), "a start")

	if err := e.PlayAudio(context.Background(), []byte("direct"), "mp3"); err != nil {
		t.Fatalf("PlayAudio failed: %v", err)
	}
	if a.Outcome() != OutcomeSuperseded {
		t.Errorf("Expected a superseded, got %s", a.Outcome())
	}
	if e.Snapshot().QueueLength != 1 {
		t.Errorf("Expected b to remain queued, got %d", e.Snapshot().QueueLength)
	}

	out.Finish()
	waitClosed(t, b.Started(), "b start")

	eventually(t, func() bool { return rec.has("b:start") }, "b start callback")
	assertEvents(t, rec.list(), []string{"a:start", "a:superseded", "b:start"})
}

func TestEngine_LoadFailureSkipsToNext(t *testing.T) {
	e, out, _ := newTestEngine(t)
	out.SetLoadError(func(m Media) error {
		if string(m.Data) == "bad" {
			return errors.New("decode failed")
		}
		return nil
	})
	unlock(t, e)
	rec := &recorder{}

	bad := e.QueueAudio([]byte("bad"), "mp3", rec.options("bad")...)
	good := e.QueueAudio([]byte("good"), "mp3", rec.options("good")...)

	waitClosed(t, good.Started(), "good start")
	if bad.Outcome() != OutcomeFailed || bad.Err() == nil {
		t.Errorf("Expected bad segment failed with error, got %s (%v)", bad.Outcome(), bad.Err())
	}
	eventually(t, func() bool { return rec.has("good:start") }, "good start callback")
	assertEvents(t, rec.list(), []string{"bad:failed", "good:start"})
}

func TestEngine_OutputErrorFailsCurrentSegment(t *testing.T) {
	e, out, _ := newTestEngine(t)
	unlock(t, e)

	a := e.QueueAudio([]byte("aaa"), "mp3")
	b := e.QueueAudio([]byte("bbb"), "mp3")
	waitClosed(t, a.Started(), "a start")

	out.Fail(errors.New("device lost"))

	waitClosed(t, b.Started(), "b start")
	if a.Outcome() != OutcomeFailed {
		t.Errorf("Expected a failed, got %s", a.Outcome())
	}
}

func TestEngine_IgnoresErrorWithoutSource(t *testing.T) {
	e, out, _ := newTestEngine(t)
	unlock(t, e)

	a := e.QueueAudio([]byte("aaa"), "mp3")
	waitClosed(t, a.Started(), "a start")

	out.FailWithoutSource(errors.New("unlock clean-up"))

	if !e.Snapshot().IsPlaying {
		t.Error("Expected playback to continue")
	}
	if a.Outcome() != OutcomePending {
		t.Errorf("Expected a still pending, got %s", a.Outcome())
	}
}

func TestEngine_CallbackPanicIsIsolated(t *testing.T) {
	e, out, _ := newTestEngine(t)
	unlock(t, e)

	var ended atomic.Int32
	a := e.QueueAudio([]byte("aaa"), "mp3",
		WithOnStart(func() { panic("boom") }),
		WithOnEnd(func(Outcome) { ended.Add(1); panic("boom again") }),
	)
	b := e.QueueAudio([]byte("bbb"), "mp3")

	waitClosed(t, a.Started(), "a start")
	out.Finish()
	waitClosed(t, b.Started(), "b start")

	eventually(t, func() bool { return ended.Load() == 1 }, "a end callback")
}

func TestEngine_CallbackMayCallEngine(t *testing.T) {
	e, _, _ := newTestEngine(t)
	unlock(t, e)
	rec := &recorder{}

	a := e.QueueAudio([]byte("aaa"), "mp3",
		WithOnStart(func() {
			rec.add("a:start")
			e.Stop()
		}),
		WithOnEnd(func(o Outcome) { rec.add("a:" + o.String()) }),
	)

	waitClosed(t, a.Done(), "a done")
	eventually(t, func() bool { return len(rec.list()) == 2 }, "callbacks")
	assertEvents(t, rec.list(), []string{"a:start", "a:stopped"})
}

func TestEngine_SeekTo(t *testing.T) {
	e, out, _ := newTestEngine(t)
	unlock(t, e)

	if err := e.PlayAudio(context.Background(), []byte("aaa"), "mp3"); err != nil {
		t.Fatalf("PlayAudio failed: %v", err)
	}

	e.SeekTo(5 * time.Second)
	if got := e.Snapshot().CurrentTime; got != 0 {
		t.Errorf("Expected seek ignored without duration, got %v", got)
	}

	out.ReportMetadata()
	if got := e.Snapshot().Duration; got != 10*time.Second {
		t.Fatalf("Expected duration 10s, got %v", got)
	}

	e.SeekTo(30 * time.Second)
	if got := e.Snapshot().CurrentTime; got != 10*time.Second {
		t.Errorf("Expected position clamped to 10s, got %v", got)
	}

	e.SeekTo(-time.Second)
	if got := e.Snapshot().CurrentTime; got != 0 {
		t.Errorf("Expected position clamped to 0, got %v", got)
	}

	out.Advance(4 * time.Second)
	if got := e.Snapshot().CurrentTime; got != 4*time.Second {
		t.Errorf("Expected time update to 4s, got %v", got)
	}
}

func TestEngine_PauseResume(t *testing.T) {
	e, out, _ := newTestEngine(t)
	ctx := context.Background()

	if err := e.Pause(); !errors.Is(err, ErrNotPlaying) {
		t.Errorf("Expected ErrNotPlaying, got %v", err)
	}

	unlock(t, e)
	if err := e.PlayAudio(ctx, []byte("aaa"), "mp3"); err != nil {
		t.Fatalf("PlayAudio failed: %v", err)
	}

	if err := e.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if s := e.Snapshot(); !s.IsPaused || s.IsPlaying {
		t.Errorf("Expected paused snapshot, got %+v", s)
	}

	out.SetPlayError(errors.New("not allowed"))
	if err := e.Resume(ctx); err == nil {
		t.Error("Expected resume failure")
	}
	if !e.Snapshot().IsPaused {
		t.Error("Expected to stay paused after failed resume")
	}

	if err := e.Resume(ctx); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if !e.Snapshot().IsPlaying {
		t.Error("Expected playing after resume")
	}
}

func TestEngine_UnlockRetriedOnNextGesture(t *testing.T) {
	e, _, u := newTestEngine(t)
	u.RefuseNext(1)
	ctx := context.Background()

	if e.Gesture(ctx, GestureOther) {
		t.Error("Expected non-qualifying gesture to be ignored")
	}
	if u.Attempts() != 0 {
		t.Errorf("Expected no attempts for non-qualifying gesture, got %d", u.Attempts())
	}

	if e.Gesture(ctx, GestureClick) {
		t.Error("Expected refused unlock")
	}
	if e.Snapshot().IsUnlocked {
		t.Error("Expected engine to stay locked")
	}

	if !e.Gesture(ctx, GestureTouchEnd) {
		t.Error("Expected second gesture to unlock")
	}
	if e.Gesture(ctx, GestureClick) {
		t.Error("Expected gestures after unlock to be no-ops")
	}
	if u.Attempts() != 2 {
		t.Errorf("Expected 2 attempts, got %d", u.Attempts())
	}
}

func TestEngine_PendingRequestCancelled(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- e.PlayAudio(ctx, []byte("aaa"), "mp3") }()
	eventually(t, func() bool { return e.Snapshot().HasPendingAudio }, "pending request")

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Timed out waiting for cancellation")
	}
	if e.Snapshot().HasPendingAudio {
		t.Error("Expected no pending audio after cancellation")
	}
}

func TestEngine_StopInterruptsLoad(t *testing.T) {
	e, out, _ := newTestEngine(t)
	unlock(t, e)
	release := out.BlockLoads()
	defer release()

	errCh := make(chan error, 1)
	go func() { errCh <- e.PlayAudio(context.Background(), []byte("aaa"), "mp3") }()
	eventually(t, func() bool { return e.Snapshot().State == StateLoading }, "loading")

	e.Stop()
	release()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrInterrupted) {
			t.Errorf("Expected ErrInterrupted, got %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Timed out waiting for interrupted play")
	}
}

func TestEngine_EmptyInput(t *testing.T) {
	e, _, _ := newTestEngine(t)

	if err := e.PlayAudio(context.Background(), nil, "mp3"); !errors.Is(err, ErrEmptyAudio) {
		t.Errorf("Expected ErrEmptyAudio, got %v", err)
	}
	if err := e.PlayURL(context.Background(), ""); !errors.Is(err, ErrEmptyURL) {
		t.Errorf("Expected ErrEmptyURL, got %v", err)
	}

	var outcome Outcome
	seg := e.QueueAudio(nil, "mp3", WithOnEnd(func(o Outcome) { outcome = o }))
	if seg.Outcome() != OutcomeFailed || outcome != OutcomeFailed {
		t.Errorf("Expected empty segment to fail immediately, got %s", seg.Outcome())
	}
}

func TestEngine_PlayURL(t *testing.T) {
	e, out, _ := newTestEngine(t)
	unlock(t, e)

	url := "https://cdn.example.com/story/seg-1.mp3"
	if err := e.PlayURL(context.Background(), url); err != nil {
		t.Fatalf("PlayURL failed: %v", err)
	}
	loads := out.Loads()
	if len(loads) != 1 || loads[0].Src != url || !loads[0].IsRemote() {
		t.Errorf("Expected remote media load, got %+v", loads)
	}
	if e.resources.Len() != 0 {
		t.Errorf("Expected no tracked resources for URL playback, got %d", e.resources.Len())
	}
}

func TestEngine_RevokesReplacedResources(t *testing.T) {
	e, out, _ := newTestEngine(t)
	unlock(t, e)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := e.PlayAudio(ctx, []byte{byte(i + 1)}, "mp3"); err != nil {
			t.Fatalf("PlayAudio %d failed: %v", i, err)
		}
	}
	if n := e.resources.Len(); n != 1 {
		t.Errorf("Expected only the live resource tracked, got %d", n)
	}
	if _, ok := e.resources.Lookup(out.Src()); !ok {
		t.Error("Expected the live resource to be tracked")
	}
}

func TestEngine_Close(t *testing.T) {
	e, out, _ := newTestEngine(t)
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() { errCh <- e.PlayAudio(ctx, []byte("aaa"), "mp3") }()
	eventually(t, func() bool { return e.Snapshot().HasPendingAudio }, "pending request")

	queued := e.QueueAudio([]byte("bbb"), "mp3")
	updates, _ := e.Subscribe()

	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrEngineClosed) {
			t.Errorf("Expected ErrEngineClosed, got %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Timed out waiting for pending request")
	}
	if queued.Outcome() != OutcomeStopped {
		t.Errorf("Expected queued segment stopped, got %s", queued.Outcome())
	}
	if e.resources.Len() != 0 {
		t.Errorf("Expected resources revoked, got %d", e.resources.Len())
	}
	if out.UnloadCalls() == 0 {
		t.Error("Expected output to be unloaded")
	}

	for range updates {
	}

	late := e.QueueAudio([]byte("ccc"), "mp3")
	if late.Outcome() != OutcomeStopped || !errors.Is(late.Err(), ErrEngineClosed) {
		t.Errorf("Expected late segment stopped with ErrEngineClosed, got %s (%v)", late.Outcome(), late.Err())
	}
	if err := e.PlayAudio(ctx, []byte("ddd"), "mp3"); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Expected ErrEngineClosed, got %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("Expected second close to succeed, got %v", err)
	}
}

func TestEngine_SubscribeReceivesSnapshots(t *testing.T) {
	e, _, _ := newTestEngine(t)
	updates, unsub := e.Subscribe()
	defer unsub()

	unlock(t, e)

	select {
	case s := <-updates:
		if !s.IsUnlocked {
			t.Errorf("Expected unlocked snapshot, got %+v", s)
		}
	case <-time.After(testTimeout):
		t.Fatal("Timed out waiting for snapshot")
	}
}

func TestEngine_ExactlyOnceEndUnderConcurrency(t *testing.T) {
	e, out, _ := newTestEngine(t)
	unlock(t, e)

	const n = 40
	var counts [n]atomic.Int32
	segs := make([]*Segment, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			segs[i] = e.QueueAudio([]byte{byte(i + 1)}, "mp3",
				WithOnEnd(func(Outcome) { counts[i].Add(1) }))
			if i%7 == 0 {
				out.Finish()
			}
		}(i)
	}
	wg.Wait()
	e.Stop()

	for i, seg := range segs {
		waitClosed(t, seg.Done(), fmt.Sprintf("segment %d", i))
	}
	eventually(t, func() bool {
		for i := range counts {
			if counts[i].Load() != 1 {
				return false
			}
		}
		return true
	}, "every end callback")

	time.Sleep(20 * time.Millisecond)
	for i := range counts {
		if c := counts[i].Load(); c != 1 {
			t.Errorf("Segment %d: expected exactly one end callback, got %d", i, c)
		}
	}
}
