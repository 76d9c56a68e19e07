package model

import "encoding/json"

// SignalType enumerates the WebRTC signaling message kinds exchanged over
// the call's signaling topic.
type SignalType string

const (
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "ice-candidate"
)

// SDP carries a session description. Type is "offer" or "answer".
type SDP struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// Signal is one signaling frame for a call: an offer, an answer, or an ICE
// candidate from the peer identified by UserID. Candidate stays raw JSON —
// the coordinator hands it to the WebRTC stack untouched.
type Signal struct {
	UserID    FlexID          `json:"userId"`
	Type      SignalType      `json:"type"`
	SDP       *SDP            `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// ChatLine is one ephemeral call-side chat message. No edit/delete/reaction
// support — simpler than channel messages on purpose.
type ChatLine struct {
	SenderID FlexID `json:"senderId"`
	Sender   string `json:"senderName"`
	Text     string `json:"text"`
	At       int64  `json:"timestamp"` // unix milliseconds
}
