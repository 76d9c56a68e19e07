// Package call manages one active call per channel view: local media
// acquisition, one peer connection per remote participant, and the
// offer/answer/ICE exchange brokered over the signaling topic. Coupling to
// the transport and REST layers is via the SignalSender and CallAPI
// interfaces only; the WebRTC stack sits behind MediaEngine so the state
// machine can be exercised without hardware.
package call

import (
	"context"
	"encoding/json"

	"github.com/teamgrid/collabcore/internal/model"
)

// SignalSender publishes one signaling frame to the call's topic.
type SignalSender interface {
	SendSignal(callID string, sig model.Signal)
}

// CallAPI is the REST surface the coordinator needs.
type CallAPI interface {
	CreateCall(ctx context.Context, channelID string, kind model.CallKind) (*model.Call, error)
	EndCall(ctx context.Context, callID string) error
}

// MediaEngine acquires local capture and builds peer connections. The native
// implementation uses Pion; tests substitute fakes.
type MediaEngine interface {
	// Acquire captures local media for the call kind: microphone for VOICE,
	// microphone+camera for VIDEO, display capture for SCREEN. The returned
	// media replaces any previous capture — callers stop the old one first.
	Acquire(kind model.CallKind) (LocalMedia, error)

	// NewPeer builds a connection toward one remote participant with the
	// local tracks attached. media may be nil (receive-only).
	NewPeer(remoteID string, media LocalMedia, cb PeerCallbacks) (Peer, error)
}

// LocalMedia is one set of live local tracks.
type LocalMedia interface {
	// SetAudioEnabled toggles the audio track(s) in place, without
	// renegotiation.
	SetAudioEnabled(bool)
	// Stop stops every track and releases the capture devices. Idempotent.
	Stop()
	// Stopped reports whether Stop has run.
	Stopped() bool
}

// Peer is one media-transport connection to a remote participant.
type Peer interface {
	// CreateOffer produces the local offer and sets it as the local
	// description.
	CreateOffer() (model.SDP, error)
	// HandleOffer sets the remote offer and returns the created answer.
	HandleOffer(model.SDP) (model.SDP, error)
	// HandleAnswer sets the remote answer. No response is produced.
	HandleAnswer(model.SDP) error
	// AddCandidate feeds one remote ICE candidate to the connection.
	AddCandidate(json.RawMessage) error
	// Close tears the connection down. Idempotent.
	Close() error
}

// PeerCallbacks are invoked by the engine as negotiation progresses. Either
// field may be nil.
type PeerCallbacks struct {
	// OnCandidate fires for each local ICE candidate to be relayed to the
	// remote participant.
	OnCandidate func(candidate json.RawMessage)
	// OnRemoteTrack fires when a remote track starts arriving; kind is
	// "audio" or "video".
	OnRemoteTrack func(kind string)
}

// Phase is the coordinator state machine position.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseInitiating Phase = "initiating"
	PhaseActive     Phase = "active"
	PhaseEnded      Phase = "ended"
	PhaseFailed     Phase = "failed"
)
