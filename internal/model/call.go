package model

import "time"

// CallStatus is the lifecycle status of a call. Transitions are forward-only:
// INITIATED → ACTIVE → ENDED/FAILED. AdvanceStatus enforces this.
type CallStatus string

const (
	CallInitiated CallStatus = "INITIATED"
	CallActive    CallStatus = "ACTIVE"
	CallEnded     CallStatus = "ENDED"
	CallFailed    CallStatus = "FAILED"
)

// rank orders statuses for monotonicity checks. ENDED and FAILED are both
// terminal and mutually exclusive.
func (s CallStatus) rank() int {
	switch s {
	case CallInitiated:
		return 0
	case CallActive:
		return 1
	case CallEnded, CallFailed:
		return 2
	}
	return -1
}

// CallKind is the media profile of a call.
type CallKind string

const (
	CallVoice  CallKind = "VOICE"
	CallVideo  CallKind = "VIDEO"
	CallScreen CallKind = "SCREEN"
)

// Call is the server's view of one call in a channel. The client tracks at
// most one active call per mounted channel view.
type Call struct {
	ID             FlexID     `json:"id"`
	ChannelID      FlexID     `json:"channelId"`
	ChannelName    string     `json:"channelName"`
	InitiatorID    FlexID     `json:"initiatorId"`
	Status         CallStatus `json:"status"`
	Kind           CallKind   `json:"type"`
	StartedAt      time.Time  `json:"startedAt"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
	ParticipantIDs []FlexID   `json:"participantIds"`
}

// AdvanceStatus applies next if it moves the call forward and reports
// whether the transition was accepted. Regressions (for example a stale
// ACTIVE event arriving after ENDED) are rejected.
func (c *Call) AdvanceStatus(next CallStatus) bool {
	if next.rank() < 0 || next.rank() < c.Status.rank() {
		return false
	}
	if c.Status.rank() == 2 && next != c.Status {
		return false
	}
	c.Status = next
	return true
}

// AddParticipant appends id if not already present. The participant list is
// append-only for the lifetime of the call.
func (c *Call) AddParticipant(id FlexID) {
	for _, p := range c.ParticipantIDs {
		if p == id {
			return
		}
	}
	c.ParticipantIDs = append(c.ParticipantIDs, id)
}
