// Package dedup remembers fingerprints of stored events so repeated
// deliveries can be recognized before touching the event store.
package dedup

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Defaults for NewMemory.
const (
	DefaultMaxKeys = 10000
	DefaultTTL     = 24 * time.Hour
)

// Memory is a TTL-bound LRU of fingerprint -> event ID, local to the process.
type Memory struct {
	mu    sync.Mutex
	cap   int
	ttl   time.Duration
	ll    *list.List               // most-recent at front
	items map[string]*list.Element // fingerprint -> element
	now   func() time.Time
}

type entry struct {
	key string
	id  string
	exp time.Time
}

// NewMemory returns a cache holding at most maxKeys fingerprints for ttl each.
// Non-positive arguments take the defaults.
func NewMemory(maxKeys int, ttl time.Duration) *Memory {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		cap:   maxKeys,
		ttl:   ttl,
		ll:    list.New(),
		items: make(map[string]*list.Element, maxKeys),
		now:   time.Now,
	}
}

// Seen returns the event ID recorded for fp, if it has not expired.
func (m *Memory) Seen(_ context.Context, fp string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.items[fp]
	if !ok {
		return "", false, nil
	}
	en := el.Value.(entry)
	if m.now().Before(en.exp) {
		m.ll.MoveToFront(el)
		return en.id, true, nil
	}
	m.ll.Remove(el)
	delete(m.items, fp)
	return "", false, nil
}

// Mark records fp -> id and refreshes its TTL.
func (m *Memory) Mark(_ context.Context, fp, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if el, ok := m.items[fp]; ok {
		el.Value = entry{key: fp, id: id, exp: now.Add(m.ttl)}
		m.ll.MoveToFront(el)
		return nil
	}
	m.items[fp] = m.ll.PushFront(entry{key: fp, id: id, exp: now.Add(m.ttl)})

	for m.ll.Len() > m.cap {
		m.evict(m.ll.Back())
	}
	// drop expired entries at the tail
	for t := m.ll.Back(); t != nil && !now.Before(t.Value.(entry).exp); t = m.ll.Back() {
		m.evict(t)
	}
	return nil
}

// Len returns the number of entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ll.Len()
}

func (m *Memory) evict(el *list.Element) {
	m.ll.Remove(el)
	delete(m.items, el.Value.(entry).key)
}
