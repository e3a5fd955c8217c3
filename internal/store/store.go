// Package store holds render data that can change while a preview is
// running. Subscribers are told about every change so pages can be
// re-rendered.
package store

import (
	"sort"
	"sync"
	"time"
)

// Subscriber is called after every state change with a copy of the new state.
type Subscriber func(state map[string]any)

// Event represents a change in the store
type Event struct {
	Type      EventType
	Keys      []string
	Timestamp time.Time
}

// EventType represents the type of store event
type EventType int

const (
	EventTypeSet EventType = iota
	EventTypeReset
	EventTypeReplace
)

func (t EventType) String() string {
	switch t {
	case EventTypeSet:
		return "set"
	case EventTypeReset:
		return "reset"
	case EventTypeReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// Store is a mutex-guarded map of top-level keys. Updates merge shallowly.
type Store struct {
	initial     map[string]any
	state       map[string]any
	mutex       sync.RWMutex
	subscribers map[int]Subscriber
	nextID      int
	watchers    []chan Event
}

// New creates a store whose initial and current state are copies of initial.
func New(initial map[string]any) *Store {
	return &Store{
		initial:     clone(initial),
		state:       clone(initial),
		subscribers: make(map[int]Subscriber),
		watchers:    make([]chan Event, 0),
	}
}

// Subscribe registers fn and returns a function that removes it. Calling the
// returned function more than once is harmless.
func (s *Store) Subscribe(fn Subscriber) func() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn

	return func() {
		s.mutex.Lock()
		defer s.mutex.Unlock()
		delete(s.subscribers, id)
	}
}

// GetState returns a shallow copy of the current state.
func (s *Store) GetState() map[string]any {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return clone(s.state)
}

// Get returns one top-level value.
func (s *Store) Get(key string) (any, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	v, ok := s.state[key]
	return v, ok
}

// SetState merges patch into the state, overwriting existing keys, then
// notifies every subscriber.
func (s *Store) SetState(patch map[string]any) {
	s.mutex.Lock()
	next := clone(s.state)
	keys := make([]string, 0, len(patch))
	for k, v := range patch {
		next[k] = v
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s.state = next
	s.mutex.Unlock()

	s.notify(Event{Type: EventTypeSet, Keys: keys, Timestamp: time.Now()})
}

// ResetState restores the initial state and notifies every subscriber.
func (s *Store) ResetState() {
	s.mutex.Lock()
	s.state = clone(s.initial)
	s.mutex.Unlock()

	s.notify(Event{Type: EventTypeReset, Timestamp: time.Now()})
}

// Replace swaps both the initial and the current state, as when the data
// file behind the store is reloaded.
func (s *Store) Replace(state map[string]any) {
	s.mutex.Lock()
	s.initial = clone(state)
	s.state = clone(state)
	s.mutex.Unlock()

	s.notify(Event{Type: EventTypeReplace, Timestamp: time.Now()})
}

// Watch returns a channel that receives store events
func (s *Store) Watch() <-chan Event {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	ch := make(chan Event, 100)
	s.watchers = append(s.watchers, ch)
	return ch
}

// UnWatch removes a watcher channel and closes it
func (s *Store) UnWatch(ch <-chan Event) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i, watcher := range s.watchers {
		if watcher == ch {
			close(watcher)
			s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
			break
		}
	}
}

// notify runs subscribers outside the lock, in subscription order, so a
// subscriber may read or even update the store.
func (s *Store) notify(event Event) {
	s.mutex.RLock()
	ids := make([]int, 0, len(s.subscribers))
	for id := range s.subscribers {
		ids = append(ids, id)
	}
	subs := make([]Subscriber, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		subs = append(subs, s.subscribers[id])
	}
	state := clone(s.state)

	for _, watcher := range s.watchers {
		select {
		case watcher <- event:
		default:
			// Skip if channel is full
		}
	}
	s.mutex.RUnlock()

	for _, fn := range subs {
		fn(clone(state))
	}
}

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
