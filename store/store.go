// Package store holds the in-memory mirror of server resources that views
// render from. Writes are reserved for the mutation controller; views get a
// Reader.
package store

import (
	"sort"
	"sync"

	"prism-client/domain"
)

// Change describes a single write to one key.
type Change struct {
	Key      domain.Key
	Resource domain.Resource
	Deleted  bool
}

// Listener receives changes synchronously, in the order writes were applied.
type Listener func(Change)

// Reader is the read side of the store handed to views.
type Reader interface {
	Get(kind domain.Kind, id string) (domain.Resource, bool)
	Keys(kind domain.Kind) []string
	Subscribe(kind domain.Kind, id string, fn Listener) (unsubscribe func())
	SubscribeKind(kind domain.Kind, fn Listener) (unsubscribe func())
}

// Store is a keyed resource collection with per-key and per-kind subscriptions.
type Store struct {
	// writeMu serializes writes together with their delivery so listeners of a
	// key observe changes in exactly the order they were applied.
	writeMu sync.Mutex

	mu       sync.RWMutex
	entries  map[domain.Key]domain.Resource
	subs     map[domain.Key]map[uint64]Listener
	kindSubs map[domain.Kind]map[uint64]Listener
	nextSub  uint64
}

var _ Reader = (*Store)(nil)

func New() *Store {
	return &Store{
		entries:  make(map[domain.Key]domain.Resource),
		subs:     make(map[domain.Key]map[uint64]Listener),
		kindSubs: make(map[domain.Kind]map[uint64]Listener),
	}
}

// Get returns the stored resource. The value is shared and must not be modified.
func (s *Store) Get(kind domain.Kind, id string) (domain.Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.entries[domain.Key{Kind: kind, ID: id}]
	return r, ok
}

// Keys returns the sorted ids stored for kind.
func (s *Store) Keys(kind domain.Kind) []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.entries))
	for k := range s.entries {
		if k.Kind == kind {
			ids = append(ids, k.ID)
		}
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Set replaces the entry and notifies subscribers. A nil resource deletes.
func (s *Store) Set(kind domain.Kind, id string, r domain.Resource) {
	if r == nil {
		s.Delete(kind, id)
		return
	}
	key := domain.Key{Kind: kind, ID: id}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.entries[key] = r
	s.mu.Unlock()

	s.deliver(Change{Key: key, Resource: r})
}

// Delete removes the entry and notifies subscribers. Deleting a missing key
// is a no-op.
func (s *Store) Delete(kind domain.Kind, id string) {
	key := domain.Key{Kind: kind, ID: id}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()

	if ok {
		s.deliver(Change{Key: key, Deleted: true})
	}
}

// Reset removes every entry, notifying subscribers of each removed key.
func (s *Store) Reset() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	keys := make([]domain.Key, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.entries = make(map[domain.Key]domain.Resource)
	s.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	for _, k := range keys {
		s.deliver(Change{Key: k, Deleted: true})
	}
}

// Subscribe registers fn for every write to (kind, id).
func (s *Store) Subscribe(kind domain.Kind, id string, fn Listener) func() {
	key := domain.Key{Kind: kind, ID: id}
	s.mu.Lock()
	s.nextSub++
	sid := s.nextSub
	if s.subs[key] == nil {
		s.subs[key] = make(map[uint64]Listener)
	}
	s.subs[key][sid] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if m, ok := s.subs[key]; ok {
				delete(m, sid)
				if len(m) == 0 {
					delete(s.subs, key)
				}
			}
			s.mu.Unlock()
		})
	}
}

// SubscribeKind registers fn for every write to any key of kind.
func (s *Store) SubscribeKind(kind domain.Kind, fn Listener) func() {
	s.mu.Lock()
	s.nextSub++
	sid := s.nextSub
	if s.kindSubs[kind] == nil {
		s.kindSubs[kind] = make(map[uint64]Listener)
	}
	s.kindSubs[kind][sid] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if m, ok := s.kindSubs[kind]; ok {
				delete(m, sid)
				if len(m) == 0 {
					delete(s.kindSubs, kind)
				}
			}
			s.mu.Unlock()
		})
	}
}

// deliver must be called with writeMu held and mu released.
func (s *Store) deliver(ch Change) {
	s.mu.RLock()
	fns := make([]subscriber, 0, len(s.subs[ch.Key])+len(s.kindSubs[ch.Key.Kind]))
	for id, fn := range s.subs[ch.Key] {
		fns = append(fns, subscriber{id: id, fn: fn})
	}
	for id, fn := range s.kindSubs[ch.Key.Kind] {
		fns = append(fns, subscriber{id: id, fn: fn})
	}
	s.mu.RUnlock()

	// registration order
	sort.Slice(fns, func(i, j int) bool { return fns[i].id < fns[j].id })
	for _, sub := range fns {
		sub.fn(ch)
	}
}

type subscriber struct {
	id uint64
	fn Listener
}
