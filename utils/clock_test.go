package utils

import (
	"testing"
	"time"
)

func TestFakeClockFiresInDeadlineOrder(t *testing.T) {
	c := NewFakeClock(time.Unix(0, 0))
	var got []string

	c.AfterFunc(2*time.Second, func() { got = append(got, "b") })
	c.AfterFunc(1*time.Second, func() { got = append(got, "a") })
	c.AfterFunc(5*time.Second, func() { got = append(got, "c") })

	c.Advance(3 * time.Second)

	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("fired %v; want [a b]", got)
	}
	if c.Pending() != 1 {
		t.Errorf("Pending() = %d; want 1", c.Pending())
	}
	if want := time.Unix(3, 0); !c.Now().Equal(want) {
		t.Errorf("Now() = %v; want %v", c.Now(), want)
	}
}

func TestFakeClockStop(t *testing.T) {
	c := NewFakeClock(time.Unix(0, 0))
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })

	if !tm.Stop() {
		t.Error("Stop on a pending timer should return true")
	}
	if tm.Stop() {
		t.Error("second Stop should return false")
	}
	c.Advance(time.Minute)
	if fired {
		t.Error("stopped timer fired")
	}
}

func TestFakeClockChainedTimers(t *testing.T) {
	c := NewFakeClock(time.Unix(0, 0))
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 5 {
			c.AfterFunc(time.Second, tick)
		}
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(10 * time.Second)
	if count != 5 {
		t.Errorf("count = %d; want 5", count)
	}
}
