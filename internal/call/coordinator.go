package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/teamgrid/collabcore/internal/model"
)

// ErrMediaAcquisition reports that local capture failed during Initiate.
// This is the only call-fatal error class: the coordinator transitions to
// Failed and the user must retry explicitly.
var ErrMediaAcquisition = errors.New("call: local media acquisition failed")

// Coordinator owns the single active call of one channel view and every
// PeerConnectionEntry in it. No other component creates or closes peer
// connections.
type Coordinator struct {
	selfID  string
	api     CallAPI
	sig     SignalSender
	engine  MediaEngine
	onError func(error)

	mu       sync.Mutex
	phase    Phase
	call     *model.Call
	media    LocalMedia
	preview  LocalMedia // camera preview kept alive between video calls
	peers    map[string]*peerEntry
	muted    bool
	deafened bool

	durSecs int
	durStop chan struct{}
}

// peerEntry bundles one remote participant's connection with its inbound
// remote-stream slot. Lifetime is bound to the call.
type peerEntry struct {
	remoteID string
	peer     Peer

	mu          sync.Mutex
	remoteKinds map[string]bool // "audio"/"video" seen from this peer
}

func (e *peerEntry) markRemote(kind string) {
	e.mu.Lock()
	e.remoteKinds[kind] = true
	e.mu.Unlock()
}

// RemoteKinds reports which media kinds have arrived from this peer.
func (e *peerEntry) RemoteKinds() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.remoteKinds))
	for k := range e.remoteKinds {
		out = append(out, k)
	}
	return out
}

// NewCoordinator creates an idle coordinator. onError receives non-fatal
// per-peer failures and may be nil.
func NewCoordinator(selfID string, api CallAPI, sig SignalSender, engine MediaEngine, onError func(error)) *Coordinator {
	return &Coordinator{
		selfID:  selfID,
		api:     api,
		sig:     sig,
		engine:  engine,
		onError: onError,
		phase:   PhaseIdle,
		peers:   make(map[string]*peerEntry),
	}
}

// Phase returns the state machine position.
func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Call returns a copy of the active call, if any.
func (c *Coordinator) Call() (model.Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.call == nil {
		return model.Call{}, false
	}
	return *c.call, true
}

// Duration returns the seconds elapsed since the call went active.
func (c *Coordinator) Duration() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.durSecs
}

// PeerCount returns the number of live PeerConnectionEntry objects.
func (c *Coordinator) PeerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.peers)
}

// Muted reports the local mute state.
func (c *Coordinator) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// Deafened reports the local deafen state.
func (c *Coordinator) Deafened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deafened
}

// Initiate starts a call of the given kind in channel: Begin followed by
// Announce. Callers that need the call's signaling topic subscribed before
// any offer goes out (everyone answering over that topic) use the two-step
// form directly.
func (c *Coordinator) Initiate(ctx context.Context, channel *model.Channel, kind model.CallKind) error {
	if _, err := c.Begin(ctx, channel, kind); err != nil {
		return err
	}
	c.Announce(channel)
	return nil
}

// Begin acquires local media (replacing any previous capture, preview
// included) and posts the call creation request. No offer is sent yet; the
// returned call carries the id to subscribe signaling on before Announce.
// Media failure is call-fatal (Failed).
func (c *Coordinator) Begin(ctx context.Context, channel *model.Channel, kind model.CallKind) (model.Call, error) {
	c.mu.Lock()
	if c.phase == PhaseInitiating || c.phase == PhaseActive {
		c.mu.Unlock()
		return model.Call{}, fmt.Errorf("call: already in a call (phase %s)", c.phase)
	}
	c.phase = PhaseInitiating
	prevMedia, prevPreview := c.media, c.preview
	c.media, c.preview = nil, nil
	c.mu.Unlock()

	// Prior tracks stopped before reacquiring — no leaked capture devices.
	if prevMedia != nil {
		prevMedia.Stop()
	}
	if prevPreview != nil {
		prevPreview.Stop()
	}

	media, err := c.engine.Acquire(kind)
	if err != nil {
		c.setPhase(PhaseFailed)
		return model.Call{}, fmt.Errorf("%w: %v", ErrMediaAcquisition, err)
	}

	created, err := c.api.CreateCall(ctx, channel.ID.String(), kind)
	if err != nil {
		media.Stop()
		c.setPhase(PhaseFailed)
		return model.Call{}, fmt.Errorf("call: create: %w", err)
	}

	c.mu.Lock()
	c.phase = PhaseActive
	c.call = created
	c.media = media
	c.muted, c.deafened = false, false
	c.durSecs = 0
	c.durStop = make(chan struct{})
	go c.countDuration(c.durStop)
	c.mu.Unlock()

	log.Printf("CALL [%s]: started (%s) in channel %s", created.ID, kind, channel.ID)
	return *created, nil
}

// Announce opens one peer connection per known channel member (excluding
// self) and sends each an offer. The caller has the signaling topic
// subscribed by now, so no answer can race the subscription.
func (c *Coordinator) Announce(channel *model.Channel) {
	c.mu.Lock()
	active := c.phase == PhaseActive
	c.mu.Unlock()
	if !active {
		return
	}
	for _, member := range channel.MemberIDs {
		if member.String() == c.selfID {
			continue
		}
		c.offerTo(member.String())
	}
}

// HandleSignal applies one inbound signaling frame. Frames must arrive in
// per-participant order (offer before answer before candidates); the caller
// guarantees this by dispatching frames sequentially from the topic reader.
// Failures are reported through onError and never affect other peers.
func (c *Coordinator) HandleSignal(sig model.Signal) {
	uid := sig.UserID.String()
	if uid == c.selfID {
		return
	}

	c.mu.Lock()
	if c.phase != PhaseActive && c.phase != PhaseInitiating {
		c.mu.Unlock()
		return
	}
	entry := c.peers[uid]
	c.mu.Unlock()

	switch sig.Type {
	case model.SignalOffer:
		if sig.SDP == nil {
			c.report(fmt.Errorf("call: offer from %s without sdp", uid))
			return
		}
		if entry == nil {
			// A participant we did not offer to (they joined the call after
			// us) — create the entry reactively so late joiners connect.
			var err error
			entry, err = c.addPeer(uid)
			if err != nil {
				c.report(fmt.Errorf("call: peer for %s: %w", uid, err))
				return
			}
		}
		answer, err := entry.peer.HandleOffer(*sig.SDP)
		if err != nil {
			c.report(fmt.Errorf("call: offer from %s: %w", uid, err))
			return
		}
		c.send(model.Signal{
			UserID: model.FlexID(c.selfID),
			Type:   model.SignalAnswer,
			SDP:    &answer,
		})

	case model.SignalAnswer:
		if entry == nil {
			// Answer for a connection we never opened — drop it.
			log.Printf("CALL: dropping answer from unknown peer %s", uid)
			return
		}
		if sig.SDP == nil {
			c.report(fmt.Errorf("call: answer from %s without sdp", uid))
			return
		}
		if err := entry.peer.HandleAnswer(*sig.SDP); err != nil {
			c.report(fmt.Errorf("call: answer from %s: %w", uid, err))
		}

	case model.SignalCandidate:
		if entry == nil {
			log.Printf("CALL: dropping candidate from unknown peer %s", uid)
			return
		}
		if err := entry.peer.AddCandidate(sig.Candidate); err != nil {
			c.report(fmt.Errorf("call: candidate from %s: %w", uid, err))
		}

	default:
		c.report(fmt.Errorf("call: unknown signal type %q from %s", sig.Type, uid))
	}
}

// HandleCallEvent applies an inbound call status event from the call topic.
// Status moves forward only; stale regressions are ignored. A remote ENDED
// tears the local side down without re-notifying the server.
func (c *Coordinator) HandleCallEvent(evt model.Call) {
	c.mu.Lock()
	if c.call == nil || c.call.ID != evt.ID {
		c.mu.Unlock()
		return
	}
	advanced := c.call.AdvanceStatus(evt.Status)
	for _, p := range evt.ParticipantIDs {
		c.call.AddParticipant(p)
	}
	c.mu.Unlock()

	if advanced && (evt.Status == model.CallEnded || evt.Status == model.CallFailed) {
		log.Printf("CALL [%s]: remote end (%s)", evt.ID, evt.Status)
		next := PhaseEnded
		if evt.Status == model.CallFailed {
			next = PhaseFailed
		}
		c.teardown(false, next)
	}
}

// RemoteStats reports inbound RTP counters for one peer, for debug surfaces.
// ok is false for unknown peers and for connections that don't track stats.
func (c *Coordinator) RemoteStats(userID string) (packets, bytes uint64, ok bool) {
	c.mu.Lock()
	entry := c.peers[userID]
	c.mu.Unlock()
	if entry == nil {
		return 0, 0, false
	}
	sp, ok := entry.peer.(interface{ Stats() (uint64, uint64) })
	if !ok {
		return 0, 0, false
	}
	packets, bytes = sp.Stats()
	return packets, bytes, true
}

// RemovePeer destroys the entry for a participant who left. The call itself
// continues for remaining peers.
func (c *Coordinator) RemovePeer(userID string) {
	c.mu.Lock()
	entry, ok := c.peers[userID]
	if ok {
		delete(c.peers, userID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := entry.peer.Close(); err != nil {
		c.report(fmt.Errorf("call: close peer %s: %w", userID, err))
	}
	log.Printf("CALL: peer %s left, entry closed", userID)
}

// End leaves the call: notifies the server, stops local media, closes and
// clears every peer entry, and settles in Ended. If the call was VIDEO the
// camera is reacquired immediately so the pre-call preview stays available.
func (c *Coordinator) End(ctx context.Context) {
	c.mu.Lock()
	call := c.call
	c.mu.Unlock()

	if call != nil {
		if err := c.api.EndCall(ctx, call.ID.String()); err != nil {
			// Teardown proceeds regardless — the server reconciles on its own.
			c.report(fmt.Errorf("call: end notify: %w", err))
		}
	}
	c.teardown(true, PhaseEnded)
}

// ToggleMute flips the local audio track in place. Returns the new muted
// state. No renegotiation happens.
func (c *Coordinator) ToggleMute() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = !c.muted
	if c.media != nil {
		c.media.SetAudioEnabled(!c.muted && !c.deafened)
	}
	return c.muted
}

// ToggleDeafen flips the deafen state. Deafening also disables the local
// audio track; undeafening restores it unless muted. The UI consults
// Deafened() to silence remote playback.
func (c *Coordinator) ToggleDeafen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deafened = !c.deafened
	if c.media != nil {
		c.media.SetAudioEnabled(!c.muted && !c.deafened)
	}
	return c.deafened
}

// Close releases everything without server notification. For view unmount —
// no preview reacquisition, the camera stays off.
func (c *Coordinator) Close() {
	c.teardown(false, PhaseIdle)
	c.mu.Lock()
	preview := c.preview
	c.preview = nil
	c.mu.Unlock()
	if preview != nil {
		preview.Stop()
	}
}

// offerTo creates the entry for one remote member and sends the offer.
// Failures are per-peer: logged, surfaced, and never fatal to siblings.
func (c *Coordinator) offerTo(remoteID string) {
	entry, err := c.addPeer(remoteID)
	if err != nil {
		c.report(fmt.Errorf("call: peer for %s: %w", remoteID, err))
		return
	}
	offer, err := entry.peer.CreateOffer()
	if err != nil {
		c.report(fmt.Errorf("call: offer to %s: %w", remoteID, err))
		return
	}
	c.send(model.Signal{
		UserID: model.FlexID(c.selfID),
		Type:   model.SignalOffer,
		SDP:    &offer,
	})
}

// addPeer builds a PeerConnectionEntry for remoteID and registers it.
func (c *Coordinator) addPeer(remoteID string) (*peerEntry, error) {
	entry := &peerEntry{remoteID: remoteID, remoteKinds: make(map[string]bool)}

	c.mu.Lock()
	media := c.media
	c.mu.Unlock()

	peer, err := c.engine.NewPeer(remoteID, media, PeerCallbacks{
		OnCandidate: func(candidate json.RawMessage) {
			c.send(model.Signal{
				UserID:    model.FlexID(c.selfID),
				Type:      model.SignalCandidate,
				Candidate: candidate,
			})
		},
		OnRemoteTrack: func(kind string) {
			entry.markRemote(kind)
			log.Printf("CALL: remote %s track from %s", kind, remoteID)
		},
	})
	if err != nil {
		return nil, err
	}
	entry.peer = peer

	c.mu.Lock()
	if old, ok := c.peers[remoteID]; ok {
		// Replace a stale entry (renegotiation after the peer rejoined).
		go old.peer.Close()
	}
	c.peers[remoteID] = entry
	c.mu.Unlock()
	return entry, nil
}

// send publishes one signaling frame for the active call.
func (c *Coordinator) send(sig model.Signal) {
	c.mu.Lock()
	call := c.call
	c.mu.Unlock()
	if call == nil {
		return
	}
	c.sig.SendSignal(call.ID.String(), sig)
}

// teardown stops media, closes all peers, and settles in next (Ended for a
// finished call, Idle for unmount). When reacquirePreview is set and the
// call kind was VIDEO, the camera is captured again for the pre-call
// preview.
func (c *Coordinator) teardown(reacquirePreview bool, next Phase) {
	c.mu.Lock()
	call := c.call
	media := c.media
	peers := c.peers
	durStop := c.durStop
	c.call = nil
	c.media = nil
	c.peers = make(map[string]*peerEntry)
	c.durStop = nil
	wasActive := c.phase == PhaseActive || c.phase == PhaseInitiating
	if wasActive {
		c.phase = next
	} else if next == PhaseIdle {
		c.phase = PhaseIdle
	}
	c.mu.Unlock()

	if durStop != nil {
		close(durStop)
	}
	if media != nil {
		media.Stop()
	}
	for id, entry := range peers {
		if err := entry.peer.Close(); err != nil {
			c.report(fmt.Errorf("call: close peer %s: %w", id, err))
		}
	}
	if wasActive && call != nil {
		log.Printf("CALL [%s]: ended, %d peer entries closed", call.ID, len(peers))
	}

	if reacquirePreview && call != nil && call.Kind == model.CallVideo {
		preview, err := c.engine.Acquire(model.CallVideo)
		if err != nil {
			c.report(fmt.Errorf("call: reacquire preview: %w", err))
			return
		}
		c.mu.Lock()
		c.preview = preview
		c.mu.Unlock()
	}
}

// countDuration advances the call duration once per second until stopped.
func (c *Coordinator) countDuration(stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.phase == PhaseActive {
				c.durSecs++
			}
			c.mu.Unlock()
		}
	}
}

func (c *Coordinator) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

func (c *Coordinator) report(err error) {
	if c.onError != nil {
		c.onError(err)
		return
	}
	log.Printf("CALL: %v", err)
}
