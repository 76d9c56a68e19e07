// Package store reconciles an initially-fetched message page with the live
// stream of create/update/delete events into one ordered, deduplicated view.
// The Store is the only mutator of its message list; event application is
// idempotent so a replayed frame never corrupts state.
package store

import (
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/teamgrid/collabcore/internal/model"
)

// EventType classifies a store change notification.
type EventType string

const (
	EventLoad   EventType = "load"
	EventAdd    EventType = "add"
	EventUpdate EventType = "update"
	EventRemove EventType = "remove"
)

// Event is one store change, delivered to subscribers.
type Event struct {
	Type EventType
	ID   model.FlexID
}

// Store holds the reconciled message list of one channel.
type Store struct {
	channelID string
	cache     *Cache // nil when caching is disabled

	mu    sync.RWMutex
	msgs  []model.Message // ascending CreatedAt, ties broken by id
	index map[model.FlexID]int

	listenerMu sync.RWMutex
	listeners  map[chan Event]struct{}
}

// New creates an empty store for channelID. cache may be nil.
func New(channelID string, cache *Cache) *Store {
	return &Store{
		channelID: channelID,
		cache:     cache,
		index:     make(map[model.FlexID]int),
		listeners: make(map[chan Event]struct{}),
	}
}

// ChannelID returns the owning channel id.
func (s *Store) ChannelID() string { return s.channelID }

// Prime loads the cached page, if any, so a re-mounted view has content
// while the network fetch is in flight. No-op without a cache.
func (s *Store) Prime() {
	if s.cache == nil {
		return
	}
	msgs, err := s.cache.Load(s.channelID)
	if err != nil {
		log.Printf("STORE [%s]: cache load: %v", s.channelID, err)
		return
	}
	if len(msgs) > 0 {
		s.LoadInitial(msgs)
	}
}

// LoadInitial replaces the store contents with the fetched page and
// establishes baseline ordering (ascending creation time, regardless of
// input order).
func (s *Store) LoadInitial(msgs []model.Message) {
	sorted := append([]model.Message(nil), msgs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	s.mu.Lock()
	s.msgs = sorted
	s.reindex()
	s.mu.Unlock()

	s.persist()
	s.notify(Event{Type: EventLoad})
}

// ApplyInbound applies one broadcast event. A tombstone removes the
// referenced message; a known id merges (edit/pin/reaction update); anything
// else appends. Applying the same event twice yields the same state.
func (s *Store) ApplyInbound(event model.Message) {
	if event.IsTombstone() {
		s.remove(event.ID)
		return
	}

	s.mu.Lock()
	if pos, ok := s.index[event.ID]; ok {
		s.msgs[pos] = model.Merge(s.msgs[pos], event)
		s.mu.Unlock()
		s.persist()
		s.notify(Event{Type: EventUpdate, ID: event.ID})
		return
	}
	s.insertLocked(event)
	s.mu.Unlock()

	s.persist()
	s.notify(Event{Type: EventAdd, ID: event.ID})
}

// OptimisticAppend inserts a "sending…" placeholder before the network round
// trip of an upload and returns its temporary id. The placeholder is removed
// by OptimisticRemove once the authoritative event arrives or the request
// fails; it is never persisted.
func (s *Store) OptimisticAppend(draft model.Message) model.FlexID {
	draft.ID = model.FlexID("tmp-" + uuid.NewString())
	draft.Pending = true

	s.mu.Lock()
	s.insertLocked(draft)
	s.mu.Unlock()

	s.notify(Event{Type: EventAdd, ID: draft.ID})
	return draft.ID
}

// OptimisticRemove drops a placeholder. No-op for unknown ids.
func (s *Store) OptimisticRemove(tempID model.FlexID) {
	s.remove(tempID)
}

// Get returns a copy of the message with the given id.
func (s *Store) Get(id model.FlexID) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.index[id]
	if !ok {
		return model.Message{}, false
	}
	return s.msgs[pos], true
}

// Messages returns a copy of the full ordered list.
func (s *Store) Messages() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Message(nil), s.msgs...)
}

// Len returns the number of messages held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// Subscribe returns a channel receiving store events and a cancel function.
// Sends are non-blocking; a slow consumer misses events rather than stalling
// event application.
func (s *Store) Subscribe() (ch chan Event, cancel func()) {
	ch = make(chan Event, 64)
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

// Close drops all listeners.
func (s *Store) Close() {
	s.listenerMu.Lock()
	for ch := range s.listeners {
		close(ch)
	}
	s.listeners = map[chan Event]struct{}{}
	s.listenerMu.Unlock()
}

// insertLocked places m at its sorted position. Caller holds s.mu.
func (s *Store) insertLocked(m model.Message) {
	pos := sort.Search(len(s.msgs), func(i int) bool {
		if s.msgs[i].CreatedAt.Equal(m.CreatedAt) {
			return s.msgs[i].ID >= m.ID
		}
		return s.msgs[i].CreatedAt.After(m.CreatedAt)
	})
	s.msgs = append(s.msgs, model.Message{})
	copy(s.msgs[pos+1:], s.msgs[pos:])
	s.msgs[pos] = m
	s.reindex()
}

func (s *Store) remove(id model.FlexID) {
	s.mu.Lock()
	pos, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.msgs = append(s.msgs[:pos], s.msgs[pos+1:]...)
	s.reindex()
	s.mu.Unlock()

	s.persist()
	s.notify(Event{Type: EventRemove, ID: id})
}

// reindex rebuilds the id index. Caller holds s.mu.
func (s *Store) reindex() {
	s.index = make(map[model.FlexID]int, len(s.msgs))
	for i, m := range s.msgs {
		s.index[m.ID] = i
	}
}

func (s *Store) notify(evt Event) {
	s.listenerMu.RLock()
	for ch := range s.listeners {
		select {
		case ch <- evt:
		default:
		}
	}
	s.listenerMu.RUnlock()
}

// persist writes the confirmed messages behind to the cache.
func (s *Store) persist() {
	if s.cache == nil {
		return
	}
	s.mu.RLock()
	snapshot := make([]model.Message, 0, len(s.msgs))
	for _, m := range s.msgs {
		if !m.Pending {
			snapshot = append(snapshot, m)
		}
	}
	s.mu.RUnlock()

	if err := s.cache.Put(s.channelID, snapshot); err != nil {
		log.Printf("STORE [%s]: cache put: %v", s.channelID, err)
	}
}
