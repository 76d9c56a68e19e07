package model

// ChannelKind distinguishes text channels from voice channels.
type ChannelKind string

const (
	ChannelText  ChannelKind = "TEXT"
	ChannelVoice ChannelKind = "VOICE"
)

// Channel is read-only metadata owned by the management API. The realtime
// core never creates or mutates channels.
type Channel struct {
	ID        FlexID      `json:"id"`
	Name      string      `json:"name"`
	Kind      ChannelKind `json:"type"`
	Private   bool        `json:"private"`
	MemberIDs []FlexID    `json:"memberIds"`
}

// HasMember reports whether userID is in the channel member set.
func (c *Channel) HasMember(userID string) bool {
	for _, id := range c.MemberIDs {
		if id.String() == userID {
			return true
		}
	}
	return false
}
