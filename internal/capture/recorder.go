// Package capture owns voice-note recording: microphone acquisition, the
// chunked capture loop, pause/resume, and the wall-clock duration counter.
// The recorder and the call coordinator must never hold the microphone at
// the same time; callers stop one before starting the other.
package capture

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"
)

// State is the recording state machine position.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopped   State = "stopped" // clip retained, device released
)

var (
	// ErrDeviceUnavailable reports that the microphone could not be acquired
	// (permission denied, busy, or no device). Terminal for this attempt; the
	// recorder stays Idle and the user must retry explicitly.
	ErrDeviceUnavailable = errors.New("capture: microphone unavailable")

	// ErrUnusableDuration reports that neither the wall-clock counter nor
	// the clip's own metadata produced a usable duration; the send must be
	// refused rather than submitting a zero-duration artifact.
	ErrUnusableDuration = errors.New("capture: clip duration unusable")

	errWrongState = errors.New("capture: operation invalid in current state")
)

// Clip is a finalized voice note.
type Clip struct {
	Data     []byte
	MimeType string
}

// DurationProbe decodes a clip and returns its duration in seconds. Used as
// the fallback when the wall-clock counter is unusable.
type DurationProbe func(Clip) (float64, error)

// Recorder is the voice-note state machine. All methods are safe for
// concurrent use; transitions not listed in the state diagram return
// an error and change nothing.
type Recorder struct {
	dev Device

	mu      sync.Mutex
	state   State
	stream  Stream
	chunks  [][]byte
	elapsed int // whole seconds, wall clock; paused in lock-step with capture
	clip    *Clip

	tickStop chan struct{}
	wg       sync.WaitGroup
}

// NewRecorder creates an idle recorder using dev for acquisition.
func NewRecorder(dev Device) *Recorder {
	return &Recorder{dev: dev, state: StateIdle}
}

// State returns the current state machine position.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Elapsed returns the wall-clock counter in whole seconds.
func (r *Recorder) Elapsed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsed
}

// Start acquires the microphone and begins capturing timed chunks plus the
// 1-second counter. Valid only from Idle/Stopped; a previous clip is
// discarded.
func (r *Recorder) Start() error {
	r.mu.Lock()
	if r.state != StateIdle && r.state != StateStopped {
		r.mu.Unlock()
		return fmt.Errorf("%w: start from %s", errWrongState, r.state)
	}
	r.mu.Unlock()

	stream, err := r.dev.Open()
	if err != nil {
		log.Printf("CAPTURE: open microphone: %v", err)
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	r.mu.Lock()
	r.state = StateRecording
	r.stream = stream
	r.chunks = nil
	r.elapsed = 0
	r.clip = nil
	r.tickStop = make(chan struct{})
	r.mu.Unlock()

	r.wg.Add(2)
	go r.collect(stream)
	go r.tick(r.tickStop)
	return nil
}

// Pause suspends capture and the counter together.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording {
		return fmt.Errorf("%w: pause from %s", errWrongState, r.state)
	}
	r.stream.Pause()
	r.state = StatePaused
	return nil
}

// Resume continues capture and the counter together.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePaused {
		return fmt.Errorf("%w: resume from %s", errWrongState, r.state)
	}
	r.stream.Resume()
	r.state = StateRecording
	return nil
}

// Stop finalizes the captured chunks into a single clip, releases the
// device, and retains the clip for sending.
func (r *Recorder) Stop() (*Clip, error) {
	r.mu.Lock()
	if r.state != StateRecording && r.state != StatePaused {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: stop from %s", errWrongState, r.state)
	}
	stream := r.stream
	r.stream = nil
	r.state = StateStopped
	close(r.tickStop)
	r.mu.Unlock()

	if err := stream.Close(); err != nil {
		log.Printf("CAPTURE: close stream: %v", err)
	}
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	var buf bytes.Buffer
	for _, c := range r.chunks {
		buf.Write(c)
	}
	r.chunks = nil
	r.clip = &Clip{Data: buf.Bytes(), MimeType: stream.MimeType()}
	return r.clip, nil
}

// Cancel discards everything, releases the device, and resets the counter.
// Valid from any state; cancelling an idle recorder is a no-op.
func (r *Recorder) Cancel() {
	r.mu.Lock()
	stream := r.stream
	if r.state == StateRecording || r.state == StatePaused {
		close(r.tickStop)
	}
	r.stream = nil
	r.chunks = nil
	r.elapsed = 0
	r.clip = nil
	r.state = StateIdle
	r.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			log.Printf("CAPTURE: close stream: %v", err)
		}
		r.wg.Wait()
	}
}

// Clip returns the retained clip after Stop, if any.
func (r *Recorder) Clip() (*Clip, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.clip == nil {
		return nil, false
	}
	return r.clip, true
}

// SendDuration reconciles the clip duration for submission: the wall-clock
// counter is authoritative when positive; otherwise probe decodes the clip.
// Both unusable means the send is refused with ErrUnusableDuration.
func (r *Recorder) SendDuration(probe DurationProbe) (int, error) {
	r.mu.Lock()
	elapsed := r.elapsed
	clip := r.clip
	r.mu.Unlock()

	if elapsed > 0 {
		return elapsed, nil
	}
	if clip == nil || probe == nil {
		return 0, ErrUnusableDuration
	}
	secs, err := probe(*clip)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnusableDuration, err)
	}
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs <= 0 {
		return 0, ErrUnusableDuration
	}
	return int(math.Floor(secs)), nil
}

// collect appends chunks until the stream's channel closes. The stream stops
// delivering while paused, keeping the chunk timeline aligned with the
// counter.
func (r *Recorder) collect(stream Stream) {
	defer r.wg.Done()
	for chunk := range stream.Chunks() {
		r.mu.Lock()
		// Chunks buffered at Stop time still belong to the clip; only a
		// cancelled session (state reset to Idle) discards them.
		if r.state != StateIdle {
			r.chunks = append(r.chunks, chunk)
		}
		r.mu.Unlock()
	}
}

// tick advances the wall-clock counter once per second while recording.
func (r *Recorder) tick(stop chan struct{}) {
	defer r.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.state == StateRecording {
				r.elapsed++
			}
			r.mu.Unlock()
		}
	}
}
