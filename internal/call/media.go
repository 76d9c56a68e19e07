package call

import (
	"log"
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
)

// pionMedia is the LocalMedia implementation over pion/mediadevices tracks.
// Mute is implemented with RTPSender.ReplaceTrack, which swaps the audio
// track out in place without renegotiation.
type pionMedia struct {
	selector *mediadevices.CodecSelector

	mu      sync.Mutex
	tracks  []mediadevices.Track
	audio   []audioBinding
	enabled bool
	stopped bool
}

type audioBinding struct {
	sender *webrtc.RTPSender
	track  mediadevices.Track
}

func newPionMedia(selector *mediadevices.CodecSelector, tracks []mediadevices.Track) *pionMedia {
	return &pionMedia{selector: selector, tracks: tracks, enabled: true}
}

// attach adds the local tracks to pc and returns how many were attached.
// Called once per peer connection by the engine.
func (m *pionMedia) attach(pc *webrtc.PeerConnection) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return 0
	}
	attached := 0
	for _, track := range m.tracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			log.Printf("CALL: AddTrack: %v", err)
			continue
		}
		attached++
		if track.Kind() == webrtc.RTPCodecTypeAudio {
			m.audio = append(m.audio, audioBinding{sender: sender, track: track})
			if !m.enabled {
				_ = sender.ReplaceTrack(nil)
			}
		}
	}
	return attached
}

// SetAudioEnabled toggles every audio track across all attached peers.
func (m *pionMedia) SetAudioEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || m.enabled == enabled {
		m.enabled = enabled
		return
	}
	m.enabled = enabled
	for _, b := range m.audio {
		if enabled {
			if err := b.sender.ReplaceTrack(b.track); err != nil {
				log.Printf("CALL: unmute: %v", err)
			}
		} else {
			if err := b.sender.ReplaceTrack(nil); err != nil {
				log.Printf("CALL: mute: %v", err)
			}
		}
	}
}

// Stop stops every track and releases the capture devices. Idempotent.
func (m *pionMedia) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	tracks := m.tracks
	m.tracks = nil
	m.audio = nil
	m.mu.Unlock()

	for _, t := range tracks {
		t.Close()
	}
}

// Stopped reports whether Stop has run.
func (m *pionMedia) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}
