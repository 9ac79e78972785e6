package playback

import (
	"context"
	"sync"
	"sync/atomic"
)

// MaxPendingRequests bounds the requests buffered while playback is locked.
const MaxPendingRequests = 5

// GestureKind classifies a user interaction.
type GestureKind int

const (
	// GestureOther is any interaction that does not grant playback.
	GestureOther GestureKind = iota
	GesturePointerDown
	GestureClick
	GestureKeyDown
	GestureTouchStart
	GestureTouchEnd
)

// Qualifies reports whether the gesture may unlock playback.
func (k GestureKind) Qualifies() bool {
	switch k {
	case GesturePointerDown, GestureClick, GestureKeyDown, GestureTouchStart, GestureTouchEnd:
		return true
	default:
		return false
	}
}

func (k GestureKind) String() string {
	switch k {
	case GesturePointerDown:
		return "pointerdown"
	case GestureClick:
		return "click"
	case GestureKeyDown:
		return "keydown"
	case GestureTouchStart:
		return "touchstart"
	case GestureTouchEnd:
		return "touchend"
	default:
		return "other"
	}
}

// source is the audio a request or segment refers to.
type source struct {
	data   []byte
	format string
	url    string
}

// request is an immediate-playback call waiting for its outcome.
type request struct {
	ctx    context.Context
	src    source
	result chan error
	once   sync.Once
}

func newRequest(ctx context.Context, src source) *request {
	return &request{ctx: ctx, src: src, result: make(chan error, 1)}
}

func (r *request) resolve(err error) {
	r.once.Do(func() { r.result <- err })
}

// UnlockGate buffers immediate-playback requests until a qualifying user
// gesture unlocks playback. Once unlocked it stays unlocked.
type UnlockGate struct {
	mu       sync.Mutex
	unlocked atomic.Bool
	pending  []*request
}

// NewUnlockGate returns a locked gate.
func NewUnlockGate() *UnlockGate {
	return &UnlockGate{}
}

// Unlocked reports whether playback has been unlocked.
func (g *UnlockGate) Unlocked() bool {
	return g.unlocked.Load()
}

// submit buffers r. Every older pending request is rejected with
// ErrSuperseded; only the newest can ever be replayed.
func (g *UnlockGate) submit(r *request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, old := range g.pending {
		old.resolve(ErrSuperseded)
	}
	g.pending = append(g.pending[:0], r)
	if len(g.pending) > MaxPendingRequests {
		g.pending = g.pending[len(g.pending)-MaxPendingRequests:]
	}
}

// cancel drops r without touching other requests.
func (g *UnlockGate) cancel(r *request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, p := range g.pending {
		if p == r {
			g.pending = append(g.pending[:i], g.pending[i+1:]...)
			return
		}
	}
}

// HasPending reports whether any request is waiting for unlock.
func (g *UnlockGate) HasPending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending) > 0
}

// tryUnlock attempts the platform unlock. Exactly one successful caller
// observes the locked to unlocked edge and gets true.
func (g *UnlockGate) tryUnlock(ctx context.Context, u Unlocker) (bool, error) {
	if g.unlocked.Load() {
		return false, nil
	}
	if u != nil {
		if err := u.AttemptUnlock(ctx); err != nil {
			return false, err
		}
	}
	return g.unlocked.CompareAndSwap(false, true), nil
}

// takeNewest removes every pending request, rejecting all but the newest,
// which is returned for replay.
func (g *UnlockGate) takeNewest() *request {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.pending) == 0 {
		return nil
	}
	newest := g.pending[len(g.pending)-1]
	for _, r := range g.pending[:len(g.pending)-1] {
		r.resolve(ErrSuperseded)
	}
	g.pending = nil
	return newest
}

// rejectAll fails every pending request with err.
func (g *UnlockGate) rejectAll(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, r := range g.pending {
		r.resolve(err)
	}
	g.pending = nil
}
