package storage

import (
	"testing"
	"time"

	"idx-pipeline/utils"
)

func TestSessionStoreExpires(t *testing.T) {
	clock := utils.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	s := NewSessionStore(30*time.Second, clock)
	key := SessionKey("abc")

	if key != "abc:idxPropertyData" {
		t.Errorf("SessionKey = %q", key)
	}

	s.Put(key, []byte(`{"address":"1 Elm St"}`))
	if v, ok := s.Get(key); !ok || string(v) != `{"address":"1 Elm St"}` {
		t.Errorf("Get = %q, %v", v, ok)
	}

	clock.Advance(31 * time.Second)
	if _, ok := s.Get(key); ok {
		t.Error("value should have expired")
	}
}

func TestSessionStoreSweep(t *testing.T) {
	clock := utils.NewFakeClock(time.Unix(0, 0))
	s := NewSessionStore(time.Minute, clock)
	s.Put("a", []byte("1"))
	clock.Advance(30 * time.Second)
	s.Put("b", []byte("2"))
	clock.Advance(45 * time.Second)

	if n := s.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d; want 1", n)
	}
	if _, ok := s.Get("b"); !ok {
		t.Error("b should still be present")
	}
}
