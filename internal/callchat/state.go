// Package callchat keeps the lightweight state running parallel to a call:
// an ephemeral append-only chat log, typing indicators, and membership
// bookkeeping. Unlike channel messages there is no edit, delete, or reaction
// support — lines exist only for the lifetime of the call view.
package callchat

import (
	"sort"
	"sync"
	"time"

	"github.com/teamgrid/collabcore/internal/model"
	"github.com/teamgrid/collabcore/internal/util"
)

// typingTTL is how long a typing signal stays visible without a refresh.
const typingTTL = 4 * time.Second

// State is the auxiliary chat state for one call's channel.
type State struct {
	log *util.RingBuffer[model.ChatLine]

	mu      sync.Mutex
	typing  map[string]typingEntry // userID → last signal
	members map[string]string      // userID → display name

	listenerMu sync.RWMutex
	listeners  map[chan model.ChatLine]struct{}

	now func() time.Time // test hook
}

type typingEntry struct {
	name string
	at   time.Time
}

// New creates an empty State with a bounded log.
func New(logCapacity int) *State {
	return &State{
		log:       util.NewRingBuffer[model.ChatLine](logCapacity),
		typing:    make(map[string]typingEntry),
		members:   make(map[string]string),
		listeners: make(map[chan model.ChatLine]struct{}),
		now:       time.Now,
	}
}

// Append adds one inbound chat line and clears the sender's typing state
// (a delivered message supersedes "is typing").
func (s *State) Append(line model.ChatLine) {
	s.log.Push(line)

	s.mu.Lock()
	delete(s.typing, line.SenderID.String())
	s.mu.Unlock()

	s.listenerMu.RLock()
	for ch := range s.listeners {
		select {
		case ch <- line:
		default:
		}
	}
	s.listenerMu.RUnlock()
}

// Lines returns the log oldest-first; the UI renders most-recent-last and
// auto-scrolls.
func (s *State) Lines() []model.ChatLine {
	return s.log.Snapshot()
}

// SetTyping records a typing signal for a user.
func (s *State) SetTyping(userID, name string) {
	s.mu.Lock()
	s.typing[userID] = typingEntry{name: name, at: s.now()}
	s.mu.Unlock()
}

// TypingNames returns the display names of users whose typing signal has not
// expired, sorted for stable rendering. Expired entries are pruned.
func (s *State) TypingNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-typingTTL)
	names := make([]string, 0, len(s.typing))
	for id, e := range s.typing {
		if e.at.Before(cutoff) {
			delete(s.typing, id)
			continue
		}
		names = append(names, e.name)
	}
	sort.Strings(names)
	return names
}

// Join records a member of the call's channel chat.
func (s *State) Join(userID, name string) {
	s.mu.Lock()
	s.members[userID] = name
	s.mu.Unlock()
}

// Leave removes a member and any typing state they held.
func (s *State) Leave(userID string) {
	s.mu.Lock()
	delete(s.members, userID)
	delete(s.typing, userID)
	s.mu.Unlock()
}

// Members returns userID → display name for everyone present.
func (s *State) Members() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.members))
	for id, name := range s.members {
		out[id] = name
	}
	return out
}

// Subscribe returns a channel receiving appended lines and a cancel func.
func (s *State) Subscribe() (ch chan model.ChatLine, cancel func()) {
	ch = make(chan model.ChatLine, 32)
	s.listenerMu.Lock()
	s.listeners[ch] = struct{}{}
	s.listenerMu.Unlock()

	cancel = func() {
		s.listenerMu.Lock()
		if _, ok := s.listeners[ch]; ok {
			delete(s.listeners, ch)
			close(ch)
		}
		s.listenerMu.Unlock()
	}
	return ch, cancel
}

// Close drops all listeners and clears state.
func (s *State) Close() {
	s.listenerMu.Lock()
	for ch := range s.listeners {
		close(ch)
	}
	s.listeners = map[chan model.ChatLine]struct{}{}
	s.listenerMu.Unlock()

	s.mu.Lock()
	s.typing = map[string]typingEntry{}
	s.members = map[string]string{}
	s.mu.Unlock()
	s.log.Reset()
}
