package idx

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"idx-pipeline/models"
	"idx-pipeline/utils"
)

const validHTML = `<html><body><div class="ihf-address">123 Main Street, Roseville</div>
	<span class="ihf-price">$450,000</span></body></html>`

const loadingHTML = `<html><body><div class="ihf-widget">Loading...</div></body></html>`

// flakySource renders the widget only from the readyAt-th snapshot on.
// readyAt 0 never renders.
type flakySource struct {
	mu      sync.Mutex
	calls   int
	readyAt int
	err     error
}

func (f *flakySource) Snapshot(_ context.Context) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return Snapshot{}, f.err
	}
	if f.readyAt > 0 && f.calls >= f.readyAt {
		return Snapshot{URL: "https://homes.example.com/detail", HTML: validHTML}, nil
	}
	return Snapshot{URL: "https://homes.example.com/detail", HTML: loadingHTML}, nil
}

func (f *flakySource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeStream keeps calling every handler it ever saw, even after
// unsubscribe, so late notifications can be simulated.
type fakeStream struct {
	handlers []func()
	unsubs   int
}

func (s *fakeStream) Subscribe(fn func()) func() {
	s.handlers = append(s.handlers, fn)
	return func() { s.unsubs++ }
}

func (s *fakeStream) Emit() {
	for _, h := range s.handlers {
		h()
	}
}

type countingSink struct {
	count int
	last  *models.PropertyRecord
}

func (c *countingSink) Broadcast(_ context.Context, _ string, rec *models.PropertyRecord) error {
	c.count++
	c.last = rec
	return nil
}

func newTestScheduler(src SnapshotSource, stream MutationStream, sink Broadcaster, clock *utils.FakeClock) *Scheduler {
	logger := utils.NewLoggerTo(io.Discard, utils.LevelError)
	ex := NewExtractor(DefaultRules(), clock, logger)
	cfg := SchedulerConfig{
		MaxAttempts: 20,
		RetryDelay:  2 * time.Second,
		SettleDelay: time.Second,
		SessionID:   "test-session",
	}
	return NewScheduler(cfg, ex, src, stream, sink, clock, logger)
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestSchedulerRetryBudget(t *testing.T) {
	clock := utils.NewFakeClock(testNow)
	src := &flakySource{}
	stream := &fakeStream{}
	s := newTestScheduler(src, stream, &countingSink{}, clock)

	s.Start(context.Background())
	for i := 0; i < 40; i++ {
		clock.Advance(2 * time.Second)
	}

	if src.Calls() != 20 || s.Attempts() != 20 {
		t.Errorf("calls = %d, attempts = %d; want 20", src.Calls(), s.Attempts())
	}
	if s.State() != StateExhausted {
		t.Errorf("State() = %v; want exhausted", s.State())
	}
	if clock.Pending() != 0 {
		t.Errorf("%d timers still pending after exhaustion", clock.Pending())
	}
	if !isClosed(s.Done()) || s.Record() != nil {
		t.Error("exhausted scheduler should be done with no record")
	}
	if stream.unsubs != 1 {
		t.Errorf("unsubscribed %d times; want 1", stream.unsubs)
	}

	stream.Emit()
	clock.Advance(time.Minute)
	if src.Calls() != 20 || clock.Pending() != 0 {
		t.Errorf("activity after exhaustion: calls = %d, pending = %d", src.Calls(), clock.Pending())
	}
}

func TestSchedulerBroadcastsOnce(t *testing.T) {
	clock := utils.NewFakeClock(testNow)
	src := &flakySource{readyAt: 3}
	stream := &fakeStream{}
	sink := &countingSink{}
	s := newTestScheduler(src, stream, sink, clock)

	s.Start(context.Background())
	clock.Advance(2 * time.Second) // timer attempt
	stream.Emit()
	clock.Advance(time.Second) // settle attempt succeeds

	if s.State() != StateSuccess || sink.count != 1 {
		t.Fatalf("state = %v, broadcasts = %d; want success, 1", s.State(), sink.count)
	}
	rec := s.Record()

	for i := 0; i < 5; i++ {
		stream.Emit()
	}
	for i := 0; i < 3; i++ {
		clock.Advance(10 * time.Second)
	}

	if sink.count != 1 {
		t.Errorf("broadcasts = %d; want exactly 1", sink.count)
	}
	if s.Record() != rec || sink.last != rec {
		t.Error("stored record changed after success")
	}
	if src.Calls() != 3 || clock.Pending() != 0 {
		t.Errorf("calls = %d, pending = %d; want 3, 0", src.Calls(), clock.Pending())
	}
	if rec.Address != "123 Main Street, Roseville" || rec.Price != "450000" {
		t.Errorf("record = %+v", rec)
	}
}

func TestSchedulerFirstAttemptIsSynchronous(t *testing.T) {
	clock := utils.NewFakeClock(testNow)
	sink := &countingSink{}
	s := newTestScheduler(StaticSource{Snap: Snapshot{HTML: validHTML}}, nil, sink, clock)

	s.Start(context.Background())

	if s.State() != StateSuccess || sink.count != 1 || !isClosed(s.Done()) {
		t.Errorf("state = %v, broadcasts = %d, done = %v", s.State(), sink.count, isClosed(s.Done()))
	}
	if clock.Pending() != 0 {
		t.Errorf("pending = %d; want 0", clock.Pending())
	}

	s.Start(context.Background())
	if s.Attempts() != 1 {
		t.Errorf("second Start ran another attempt")
	}
}

func TestSchedulerCoalescesMutations(t *testing.T) {
	clock := utils.NewFakeClock(testNow)
	src := &flakySource{}
	stream := &fakeStream{}
	s := newTestScheduler(src, stream, nil, clock)

	s.Start(context.Background())
	stream.Emit()
	stream.Emit()
	stream.Emit()
	if clock.Pending() != 2 {
		t.Fatalf("pending = %d; want retry + one settle timer", clock.Pending())
	}

	clock.Advance(time.Second)
	if src.Calls() != 2 {
		t.Errorf("calls = %d; want 2 after settle", src.Calls())
	}
	if clock.Pending() != 1 {
		t.Errorf("pending = %d; want only the retry timer", clock.Pending())
	}
}

func TestSchedulerStop(t *testing.T) {
	clock := utils.NewFakeClock(testNow)
	src := &flakySource{}
	stream := &fakeStream{}
	sink := &countingSink{}
	s := newTestScheduler(src, stream, sink, clock)

	s.Start(context.Background())
	stream.Emit()
	s.Stop()
	s.Stop()

	if clock.Pending() != 0 || stream.unsubs != 1 || !isClosed(s.Done()) {
		t.Errorf("pending = %d, unsubs = %d, done = %v", clock.Pending(), stream.unsubs, isClosed(s.Done()))
	}

	src.mu.Lock()
	src.readyAt = 1
	src.mu.Unlock()
	stream.Emit()
	clock.Advance(time.Minute)
	if src.Calls() != 1 || sink.count != 0 {
		t.Errorf("callbacks ran after Stop: calls = %d, broadcasts = %d", src.Calls(), sink.count)
	}
}

func TestSchedulerSnapshotErrorsCountAsAttempts(t *testing.T) {
	clock := utils.NewFakeClock(testNow)
	src := &flakySource{err: errors.New("tab crashed")}
	logger := utils.NewLoggerTo(io.Discard, utils.LevelError)
	s := NewScheduler(SchedulerConfig{MaxAttempts: 3, RetryDelay: time.Second},
		NewExtractor(DefaultRules(), clock, logger), src, nil, nil, clock, logger)

	s.Start(context.Background())
	clock.Advance(10 * time.Second)

	if s.Attempts() != 3 || s.State() != StateExhausted {
		t.Errorf("attempts = %d, state = %v; want 3, exhausted", s.Attempts(), s.State())
	}
	if s.ID() == "" {
		t.Error("scheduler should get a generated session id")
	}
}

func TestSchedulerWait(t *testing.T) {
	clock := utils.NewFakeClock(testNow)
	s := newTestScheduler(StaticSource{Snap: Snapshot{HTML: validHTML}}, nil, nil, clock)
	s.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if rec := s.Wait(ctx); rec == nil {
		t.Error("Wait() returned nil after success")
	}
}

func TestSchedulerStopsWhenContextEnds(t *testing.T) {
	clock := utils.NewFakeClock(testNow)
	src := &flakySource{}
	stream := &fakeStream{}
	sink := &countingSink{}
	s := newTestScheduler(src, stream, sink, clock)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler still running after its context was cancelled")
	}
	if clock.Pending() != 0 || stream.unsubs != 1 {
		t.Errorf("pending = %d, unsubs = %d; want 0 and 1", clock.Pending(), stream.unsubs)
	}

	src.mu.Lock()
	src.readyAt = 1
	src.mu.Unlock()
	stream.Emit()
	for i := 0; i < 40; i++ {
		clock.Advance(2 * time.Second)
	}
	if src.Calls() != 1 || s.Attempts() != 1 || sink.count != 0 {
		t.Errorf("ran after cancel: calls = %d, attempts = %d, broadcasts = %d",
			src.Calls(), s.Attempts(), sink.count)
	}
}

func TestSchedulerZeroConfigUsesDefaults(t *testing.T) {
	logger := utils.NewLoggerTo(io.Discard, utils.LevelError)
	clock := utils.NewFakeClock(testNow)
	src := &flakySource{}
	stream := &fakeStream{}
	s := NewScheduler(SchedulerConfig{}, NewExtractor(DefaultRules(), clock, logger), src, stream, nil, clock, logger)
	defer s.Stop()

	s.Start(context.Background())
	stream.Emit()

	clock.Advance(DefaultSettleDelay - time.Millisecond)
	if src.Calls() != 1 {
		t.Errorf("calls = %d before the default settle delay; want 1", src.Calls())
	}
	clock.Advance(time.Millisecond)
	if src.Calls() != 2 {
		t.Errorf("calls = %d at the default settle delay; want 2", src.Calls())
	}
	if s.ID() == "" {
		t.Error("expected a generated session id")
	}
}
