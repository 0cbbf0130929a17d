package storage

import (
	"sync"
	"time"

	"idx-pipeline/utils"
)

// SessionKeySuffix names the slot an extraction result is stored under.
const SessionKeySuffix = "idxPropertyData"

// SessionKey builds the session-scoped key for an extraction result.
func SessionKey(session string) string {
	return session + ":" + SessionKeySuffix
}

type sessionItem struct {
	value   []byte
	expires time.Time
}

// SessionStore is a short-lived in-process key/value store. Entries expire
// after the TTL and are dropped lazily on read or by Sweep.
type SessionStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	clock utils.Clock
	items map[string]sessionItem
}

func NewSessionStore(ttl time.Duration, clock utils.Clock) *SessionStore {
	if clock == nil {
		clock = utils.RealClock{}
	}
	return &SessionStore{ttl: ttl, clock: clock, items: make(map[string]sessionItem)}
}

func (s *SessionStore) Put(key string, value []byte) {
	cp := append([]byte(nil), value...)
	s.mu.Lock()
	s.items[key] = sessionItem{value: cp, expires: s.clock.Now().Add(s.ttl)}
	s.mu.Unlock()
}

func (s *SessionStore) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[key]
	if !ok {
		return nil, false
	}
	if !s.clock.Now().Before(it.expires) {
		delete(s.items, key)
		return nil, false
	}
	return append([]byte(nil), it.value...), true
}

func (s *SessionStore) Delete(key string) {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Sweep drops expired entries and returns how many were removed.
func (s *SessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	removed := 0
	for k, it := range s.items {
		if !now.Before(it.expires) {
			delete(s.items, k)
			removed++
		}
	}
	return removed
}
