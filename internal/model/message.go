// Package model holds the wire-level entities shared by the realtime
// components: channels, messages, calls, and signaling payloads. All server
// ids are normalized to strings on decode (the backend emits numeric ids on
// some endpoints and string ids on others).
package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// MessageKind classifies a channel message payload.
type MessageKind string

const (
	KindText   MessageKind = "TEXT"
	KindImage  MessageKind = "IMAGE"
	KindVideo  MessageKind = "VIDEO"
	KindFile   MessageKind = "FILE"
	KindAudio  MessageKind = "AUDIO"
	KindSystem MessageKind = "SYSTEM"
)

// TombstoneText is the sentinel body of a SYSTEM message instructing the
// client to remove the referenced message instead of rendering it.
const TombstoneText = "message deleted"

// FlexID is a string identifier that tolerates numeric JSON on the wire.
type FlexID string

// UnmarshalJSON accepts "42", 42, and null (empty id).
func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

func (f FlexID) String() string { return string(f) }

// Message is one channel message as broadcast by the server.
// Mutable fields (Pinned, Modified, Reactions) change via full-message
// replace events keyed by ID.
type Message struct {
	ID        FlexID      `json:"id"`
	ChannelID FlexID      `json:"channelId"`
	SenderID  FlexID      `json:"senderId"`
	Sender    string      `json:"senderName"`
	Text      string      `json:"text"`
	FileURL   string      `json:"fileUrl,omitempty"`
	MimeType  string      `json:"mimeType,omitempty"`
	Kind      MessageKind `json:"type"`
	CreatedAt time.Time   `json:"createdAt"`

	Pinned   bool `json:"pinned"`
	Modified bool `json:"modified"`

	// Reactions maps emoji to the set of reactor ids. The server always
	// broadcasts the complete map, so updates replace it wholesale.
	Reactions map[string][]string `json:"reactions,omitempty"`

	// Reply reference, denormalized so the UI can render a quote without a
	// second lookup.
	ReplyToID     FlexID `json:"replyToId,omitempty"`
	ReplyToText   string `json:"replyToText,omitempty"`
	ReplyToSender string `json:"replyToSenderName,omitempty"`

	// Duration in whole seconds, set only for AUDIO messages.
	Duration int `json:"duration,omitempty"`

	// Pending marks a local optimistic placeholder that has not been
	// confirmed by a broadcast event yet. Never set on wire messages.
	Pending bool `json:"-"`
}

// UnmarshalJSON decodes a wire message, normalizing the duration field.
// Old payloads carry it fractional or stringly typed.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	aux := struct {
		*alias
		Duration json.RawMessage `json:"duration"`
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.Duration = ParseDuration(aux.Duration)
	return nil
}

// IsTombstone reports whether m is a deletion instruction rather than a
// visible message.
func (m *Message) IsTombstone() bool {
	return m.Kind == KindSystem && m.Text == TombstoneText
}

// Merge returns the message that results from applying incoming on top of
// existing. Scalar fields are overwritten; Reactions replaces wholesale when
// the event carries a map and is preserved when the event omits it. Neither
// input is mutated.
func Merge(existing, incoming Message) Message {
	out := incoming
	out.Pending = false
	if incoming.Reactions == nil {
		out.Reactions = existing.Reactions
	}
	if incoming.CreatedAt.IsZero() {
		out.CreatedAt = existing.CreatedAt
	}
	if incoming.Kind == "" {
		out.Kind = existing.Kind
	}
	if incoming.Sender == "" {
		out.Sender = existing.Sender
	}
	return out
}

// CloneReactions deep-copies a reaction map. Used by callers that build
// modified maps without touching the stored one.
func CloneReactions(in map[string][]string) map[string][]string {
	if in == nil {
		return nil
	}
	out := make(map[string][]string, len(in))
	for emoji, users := range in {
		out[emoji] = append([]string(nil), users...)
	}
	return out
}

// ParseDuration converts a wire duration (seconds, possibly fractional or
// stringly typed in old payloads) into whole seconds. Returns 0 on garbage.
func ParseDuration(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f)
		}
	}
	return 0
}
