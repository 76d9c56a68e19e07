package capture

import (
	"bytes"
	"errors"
	"math"
	"sync"
	"testing"
)

// fakeStream is an in-memory Stream fed by the test.
type fakeStream struct {
	ch chan []byte

	mu     sync.Mutex
	paused bool
	closed bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{ch: make(chan []byte, 16)}
}

func (f *fakeStream) Chunks() <-chan []byte { return f.ch }
func (f *fakeStream) MimeType() string      { return "audio/ogg" }

func (f *fakeStream) Pause() {
	f.mu.Lock()
	f.paused = true
	f.mu.Unlock()
}

func (f *fakeStream) Resume() {
	f.mu.Lock()
	f.paused = false
	f.mu.Unlock()
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
	return nil
}

func (f *fakeStream) isPaused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

func (f *fakeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeDevice hands out fakeStreams, or fails when broken.
type fakeDevice struct {
	mu      sync.Mutex
	broken  bool
	streams []*fakeStream
}

func (d *fakeDevice) Open() (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.broken {
		return nil, errors.New("device busy")
	}
	s := newFakeStream()
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) last() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

func TestRecorderLifecycle(t *testing.T) {
	dev := &fakeDevice{}
	r := NewRecorder(dev)

	if r.State() != StateIdle {
		t.Fatalf("new recorder state: %s", r.State())
	}
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	if r.State() != StateRecording {
		t.Fatalf("state after start: %s", r.State())
	}

	stream := dev.last()
	stream.ch <- []byte("aaa")
	stream.ch <- []byte("bbb")

	clip, err := r.Stop()
	if err != nil {
		t.Fatal(err)
	}
	if r.State() != StateStopped {
		t.Fatalf("state after stop: %s", r.State())
	}
	if !stream.isClosed() {
		t.Error("device not released on stop")
	}
	if !bytes.Equal(clip.Data, []byte("aaabbb")) {
		t.Errorf("chunks not concatenated in order: %q", clip.Data)
	}
	if clip.MimeType != "audio/ogg" {
		t.Errorf("mime type: %q", clip.MimeType)
	}
	if got, ok := r.Clip(); !ok || got != clip {
		t.Error("clip not retained after stop")
	}
}

func TestRecorderInvalidTransitions(t *testing.T) {
	dev := &fakeDevice{}
	r := NewRecorder(dev)

	if err := r.Pause(); err == nil {
		t.Error("pause from idle must fail")
	}
	if err := r.Resume(); err == nil {
		t.Error("resume from idle must fail")
	}
	if _, err := r.Stop(); err == nil {
		t.Error("stop from idle must fail")
	}

	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(); err == nil {
		t.Error("start while recording must fail")
	}
	if err := r.Resume(); err == nil {
		t.Error("resume while recording must fail")
	}
	r.Cancel()
}

func TestRecorderPauseResume(t *testing.T) {
	dev := &fakeDevice{}
	r := NewRecorder(dev)
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	stream := dev.last()

	if err := r.Pause(); err != nil {
		t.Fatal(err)
	}
	if r.State() != StatePaused || !stream.isPaused() {
		t.Fatal("pause did not suspend both counter state and stream")
	}
	if err := r.Pause(); err == nil {
		t.Error("double pause must fail")
	}

	if err := r.Resume(); err != nil {
		t.Fatal(err)
	}
	if r.State() != StateRecording || stream.isPaused() {
		t.Fatal("resume did not restart both counter state and stream")
	}
	r.Cancel()
}

func TestRecorderCancel(t *testing.T) {
	dev := &fakeDevice{}
	r := NewRecorder(dev)

	r.Cancel() // idle cancel is a no-op

	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	stream := dev.last()
	stream.ch <- []byte("discard me")

	r.Cancel()
	if r.State() != StateIdle {
		t.Fatalf("state after cancel: %s", r.State())
	}
	if !stream.isClosed() {
		t.Error("device not released on cancel")
	}
	if _, ok := r.Clip(); ok {
		t.Error("clip survived cancel")
	}
	if r.Elapsed() != 0 {
		t.Error("counter not reset by cancel")
	}

	// The recorder is reusable after cancel.
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	r.Cancel()
}

func TestRecorderDeviceUnavailable(t *testing.T) {
	dev := &fakeDevice{broken: true}
	r := NewRecorder(dev)
	err := r.Start()
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("want ErrDeviceUnavailable, got %v", err)
	}
	if r.State() != StateIdle {
		t.Fatalf("failed start must leave recorder idle, got %s", r.State())
	}
}

func TestSendDuration(t *testing.T) {
	t.Run("counter wins when positive", func(t *testing.T) {
		r := NewRecorder(&fakeDevice{})
		r.elapsed = 7
		r.clip = &Clip{Data: []byte("x")}
		secs, err := r.SendDuration(func(Clip) (float64, error) { return 99, nil })
		if err != nil || secs != 7 {
			t.Fatalf("got %d, %v; want 7, nil", secs, err)
		}
	})

	t.Run("probe fallback floors fractional seconds", func(t *testing.T) {
		r := NewRecorder(&fakeDevice{})
		r.clip = &Clip{Data: []byte("x")}
		secs, err := r.SendDuration(func(Clip) (float64, error) { return 4.9, nil })
		if err != nil || secs != 4 {
			t.Fatalf("got %d, %v; want 4, nil", secs, err)
		}
	})

	t.Run("unusable probe results refuse the send", func(t *testing.T) {
		r := NewRecorder(&fakeDevice{})
		r.clip = &Clip{Data: []byte("x")}
		for _, bad := range []float64{0, -1, math.NaN(), math.Inf(1)} {
			_, err := r.SendDuration(func(Clip) (float64, error) { return bad, nil })
			if !errors.Is(err, ErrUnusableDuration) {
				t.Errorf("probe=%v: want ErrUnusableDuration, got %v", bad, err)
			}
		}
	})

	t.Run("probe error refuses the send", func(t *testing.T) {
		r := NewRecorder(&fakeDevice{})
		r.clip = &Clip{Data: []byte("x")}
		_, err := r.SendDuration(func(Clip) (float64, error) { return 0, errors.New("bad header") })
		if !errors.Is(err, ErrUnusableDuration) {
			t.Fatalf("want ErrUnusableDuration, got %v", err)
		}
	})

	t.Run("no clip and no counter refuses", func(t *testing.T) {
		r := NewRecorder(&fakeDevice{})
		if _, err := r.SendDuration(nil); !errors.Is(err, ErrUnusableDuration) {
			t.Fatalf("want ErrUnusableDuration, got %v", err)
		}
	})
}
