package kv

import (
	"container/list"
	"sync"
	"time"
)

type entry[V any] struct {
	key      string
	value    V
	expireAt time.Time
}

// Store is a small in-memory map with per-key TTL and LRU eviction once the
// number of entries exceeds its capacity. The gossip layer keeps removal
// tombstones in it.
type Store[V any] struct {
	mu   sync.Mutex
	data map[string]*list.Element
	ll   *list.List
	cap  int
	now  func() time.Time
}

func NewStore[V any](capacity int) *Store[V] {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Store[V]{
		data: make(map[string]*list.Element),
		ll:   list.New(),
		cap:  capacity,
		now:  time.Now,
	}
}

// SetClock replaces the time source used for TTL bookkeeping.
func (s *Store[V]) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	s.now = now
}

func (s *Store[V]) Put(key string, val V, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exp time.Time
	if ttl > 0 {
		exp = s.now().Add(ttl)
	}

	if el, ok := s.data[key]; ok {
		e := el.Value.(*entry[V])
		e.value = val
		e.expireAt = exp
		s.ll.MoveToFront(el)
	} else {
		e := &entry[V]{key: key, value: val, expireAt: exp}
		s.data[key] = s.ll.PushFront(e)
	}
	s.evictIfNeeded()
}

func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero V
	el, ok := s.data[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[V])
	if s.expired(e) {
		s.removeElement(el)
		return zero, false
	}
	s.ll.MoveToFront(el)
	return e.value, true
}

// Delete removes key and reports whether it was present.
func (s *Store[V]) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.data[key]; ok {
		s.removeElement(el)
		return true
	}
	return false
}

// Sweep drops every expired entry and returns how many were removed.
func (s *Store[V]) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for el := s.ll.Back(); el != nil; {
		prev := el.Prev()
		if s.expired(el.Value.(*entry[V])) {
			s.removeElement(el)
			n++
		}
		el = prev
	}
	return n
}

func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func (s *Store[V]) expired(e *entry[V]) bool {
	return !e.expireAt.IsZero() && s.now().After(e.expireAt)
}

func (s *Store[V]) evictIfNeeded() {
	for len(s.data) > s.cap && s.ll.Back() != nil {
		s.removeElement(s.ll.Back())
	}
}

func (s *Store[V]) removeElement(el *list.Element) {
	e := el.Value.(*entry[V])
	delete(s.data, e.key)
	s.ll.Remove(el)
}
