// Package transport owns the persistent socket of one mounted collaboration
// view. It multiplexes logical topics over a single gorilla/websocket
// connection, reconnects with a fixed delay when the link drops, and keeps a
// heartbeat in both directions to detect half-open connections.
package transport

import "encoding/json"

// Frame is the wire unit exchanged with the broker. Server-to-client frames
// carry the topic in Destination; client-to-server frames carry either an
// application destination (/app/...) or a control destination.
type Frame struct {
	Destination string            `json:"destination"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        json.RawMessage   `json:"body,omitempty"`
}

// Control destinations understood by the broker.
const (
	destSubscribe   = "/control/subscribe"
	destUnsubscribe = "/control/unsubscribe"
)

// subscribeBody announces interest in a topic pattern.
type subscribeBody struct {
	Topic string `json:"topic"`
}

// topicMatches reports whether topic matches pattern. A pattern ending in
// ".*" matches any single trailing segment; anything else is an exact match.
func topicMatches(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	const wild = ".*"
	if len(pattern) > len(wild) && pattern[len(pattern)-len(wild):] == wild {
		prefix := pattern[:len(pattern)-1] // keep the trailing dot
		if len(topic) > len(prefix) && topic[:len(prefix)] == prefix {
			rest := topic[len(prefix):]
			for i := 0; i < len(rest); i++ {
				if rest[i] == '.' {
					return false
				}
			}
			return true
		}
	}
	return false
}
