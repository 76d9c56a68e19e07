package call

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/teamgrid/collabcore/internal/model"
)

// pliInterval is how often a keyframe request is sent for each remote video
// track. Without periodic PLIs a late joiner can stare at a frozen frame
// until the sender happens to emit a keyframe.
const pliInterval = 3 * time.Second

// PionEngine is the production MediaEngine built on Pion WebRTC. Local
// capture is platform-specific (see captureLocal); connection construction
// and remote-track handling are shared.
type PionEngine struct {
	iceServers []string
}

// NewPionEngine creates an engine negotiating through the given STUN/TURN
// servers.
func NewPionEngine(iceServers []string) *PionEngine {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return &PionEngine{iceServers: iceServers}
}

// Acquire captures local media for the call kind via the platform backend.
func (e *PionEngine) Acquire(kind model.CallKind) (LocalMedia, error) {
	return captureLocal(kind)
}

// NewPeer builds one peer connection with the local tracks attached (or
// receive-only transceivers when media carries none).
func (e *PionEngine) NewPeer(remoteID string, media LocalMedia, cb PeerCallbacks) (Peer, error) {
	mediaEngine := &webrtc.MediaEngine{}
	pm, _ := media.(*pionMedia)
	if pm != nil && pm.selector != nil {
		pm.selector.Populate(mediaEngine)
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	// Generous ICE timeouts so a brief relay/NAT hiccup does not immediately
	// terminate the call. The default disconnectedTimeout is 5 s — far too
	// short for relay paths with short outages during re-keying or failover.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	servers := make([]webrtc.ICEServer, 0, len(e.iceServers))
	for _, u := range e.iceServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, err
	}

	attached := 0
	if pm != nil {
		attached = pm.attach(pc)
	}
	if attached == 0 {
		addRecvOnlyTransceivers(remoteID, pc)
	}

	p := &pionPeer{remoteID: remoteID, pc: pc, done: make(chan struct{})}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || cb.OnCandidate == nil {
			return
		}
		b, err := json.Marshal(cand.ToJSON())
		if err != nil {
			return
		}
		cb.OnCandidate(b)
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := track.Kind().String()
		if cb.OnRemoteTrack != nil {
			cb.OnRemoteTrack(kind)
		}
		go p.consumeRemote(track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("CALL: peer %s connection %s", remoteID, state)
	})

	return p, nil
}

// addRecvOnlyTransceivers adds recvonly transceivers for video and audio so
// CreateOffer/CreateAnswer always produces valid m-lines with ICE credentials.
func addRecvOnlyTransceivers(remoteID string, pc *webrtc.PeerConnection) {
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		log.Printf("CALL: AddTransceiver(video) for %s: %v", remoteID, err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		log.Printf("CALL: AddTransceiver(audio) for %s: %v", remoteID, err)
	}
}

// pionPeer implements Peer on a real *webrtc.PeerConnection.
type pionPeer struct {
	remoteID string
	pc       *webrtc.PeerConnection

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	stats remoteStats
}

// remoteStats accumulates inbound RTP counters across all remote tracks of
// one peer. Exposed for debug surfaces.
type remoteStats struct {
	mu      sync.Mutex
	packets uint64
	bytes   uint64
}

func (s *remoteStats) observe(pkt *rtp.Packet) {
	s.mu.Lock()
	s.packets++
	s.bytes += uint64(len(pkt.Payload))
	s.mu.Unlock()
}

// Stats returns the inbound packet and payload-byte counts.
func (p *pionPeer) Stats() (packets, bytes uint64) {
	p.stats.mu.Lock()
	defer p.stats.mu.Unlock()
	return p.stats.packets, p.stats.bytes
}

func (p *pionPeer) CreateOffer() (model.SDP, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return model.SDP{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return model.SDP{}, err
	}
	return model.SDP{SDP: offer.SDP, Type: offer.Type.String()}, nil
}

func (p *pionPeer) HandleOffer(offer model.SDP) (model.SDP, error) {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.SDP,
	}); err != nil {
		return model.SDP{}, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return model.SDP{}, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return model.SDP{}, fmt.Errorf("set local answer: %w", err)
	}
	return model.SDP{SDP: answer.SDP, Type: answer.Type.String()}, nil
}

func (p *pionPeer) HandleAnswer(answer model.SDP) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer.SDP,
	})
}

func (p *pionPeer) AddCandidate(raw json.RawMessage) error {
	if len(raw) == 0 {
		return errors.New("empty candidate")
	}
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		return fmt.Errorf("parse candidate: %w", err)
	}
	return p.pc.AddICECandidate(init)
}

// Close tears the connection down. Idempotent — safe to call multiple times.
func (p *pionPeer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()
	return p.pc.Close()
}

// consumeRemote drains one remote track. Video tracks additionally get a
// periodic PLI so the remote keeps sending decodable keyframes. The loop
// exits when the track or the connection closes.
func (p *pionPeer) consumeRemote(track *webrtc.TrackRemote) {
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go p.sendPLI(track)
	}
	for {
		select {
		case <-p.done:
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("CALL: remote %s track from %s: %v", track.Kind(), p.remoteID, err)
			}
			return
		}
		p.stats.observe(pkt)
	}
}

func (p *pionPeer) sendPLI(track *webrtc.TrackRemote) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			err := p.pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
			})
			if err != nil {
				return
			}
		}
	}
}
