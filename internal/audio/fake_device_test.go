package audio

import (
	"errors"
	"io"
	"sync"
)

type fakeDevice struct {
	mu        sync.Mutex
	ready     chan struct{}
	resumeErr error
	autoDrain bool
	tracks    []*fakeTrack
	resumes   int
}

func newFakeDevice(ready bool) *fakeDevice {
	d := &fakeDevice{ready: make(chan struct{})}
	if ready {
		close(d.ready)
	}
	return d
}

func (d *fakeDevice) NewTrack(r io.Reader) Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &fakeTrack{r: r, drain: d.autoDrain, volume: 1}
	d.tracks = append(d.tracks, t)
	return t
}

func (d *fakeDevice) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resumes++
	return d.resumeErr
}

func (d *fakeDevice) Suspend() error         { return nil }
func (d *fakeDevice) Ready() <-chan struct{} { return d.ready }
func (d *fakeDevice) SampleRate() int        { return 44100 }
func (d *fakeDevice) Channels() int          { return 2 }

func (d *fakeDevice) lastTrack() *fakeTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.tracks) == 0 {
		return nil
	}
	return d.tracks[len(d.tracks)-1]
}

// fakeTrack consumes its whole reader on Play when drain is set, the way a
// device finishes a short clip.
type fakeTrack struct {
	mu      sync.Mutex
	r       io.Reader
	drain   bool
	playing bool
	volume  float64
	closed  bool
	err     error
	seeks   []int64
}

func (t *fakeTrack) Play() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.drain {
		_, _ = io.Copy(io.Discard, t.r)
		t.playing = false
		return
	}
	t.playing = true
}

func (t *fakeTrack) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.playing = false
}

func (t *fakeTrack) IsPlaying() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

func (t *fakeTrack) SetVolume(v float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.volume = v
}

func (t *fakeTrack) Volume() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.volume
}

func (t *fakeTrack) Seek(offset int64, whence int) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.r.(io.Seeker)
	if !ok {
		return 0, errors.New("not seekable")
	}
	t.seeks = append(t.seeks, offset)
	return s.Seek(offset, whence)
}

func (t *fakeTrack) BufferedSize() int { return 0 }

func (t *fakeTrack) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTrack) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *fakeTrack) setErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
}
