package idx

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"idx-pipeline/models"
	"idx-pipeline/utils"
)

// SnapshotSource produces the current rendering of the page.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// MutationStream notifies subscribers when nodes are added to the page.
// The returned func unsubscribes.
type MutationStream interface {
	Subscribe(fn func()) (unsubscribe func())
}

// State is the scheduler's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateAttempting
	StateSuccess
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttempting:
		return "attempting"
	case StateSuccess:
		return "success"
	case StateExhausted:
		return "exhausted"
	}
	return "unknown"
}

const (
	DefaultMaxAttempts = 20
	DefaultRetryDelay  = 2 * time.Second
	DefaultSettleDelay = time.Second
)

type SchedulerConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
	SettleDelay time.Duration
	// SessionID keys the broadcast; a random id is used when empty.
	SessionID string
}

// Scheduler drives an Extractor against a page that renders asynchronously,
// retrying on a fixed delay and after DOM mutations until a valid record is
// found or the attempt budget runs out. One Scheduler serves one page.
type Scheduler struct {
	id        string
	cfg       SchedulerConfig
	extractor *Extractor
	source    SnapshotSource
	mutations MutationStream
	sink      Broadcaster
	clock     utils.Clock
	logger    *utils.Logger

	runMu sync.Mutex // one attempt at a time

	mu          sync.Mutex
	state       State
	attempts    int
	record      *models.PropertyRecord
	stopped     bool
	broadcasted bool
	retryTimer  utils.Timer
	settleTimer utils.Timer
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	stopOnDone  func() bool

	done     chan struct{}
	doneOnce sync.Once
}

// NewScheduler wires a scheduler. mutations and sink may be nil.
func NewScheduler(cfg SchedulerConfig, extractor *Extractor, source SnapshotSource,
	mutations MutationStream, sink Broadcaster, clock utils.Clock, logger *utils.Logger) *Scheduler {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if clock == nil {
		clock = utils.RealClock{}
	}
	return &Scheduler{
		id:        cfg.SessionID,
		cfg:       cfg,
		extractor: extractor,
		source:    source,
		mutations: mutations,
		sink:      sink,
		clock:     clock,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

func (s *Scheduler) ID() string { return s.id }

// Done is closed once the scheduler reaches Success or Exhausted, or is stopped.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Record returns the extracted record, or nil before success.
func (s *Scheduler) Record() *models.PropertyRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

// Wait blocks until Done or ctx ends and returns the record, if any.
func (s *Scheduler) Wait(ctx context.Context) *models.PropertyRecord {
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return s.Record()
}

// Start moves Idle to Attempting, subscribes to mutations and runs the first
// attempt on the calling goroutine. Later calls are no-ops. Cancelling ctx
// stops the scheduler.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateIdle || s.stopped {
		s.mu.Unlock()
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.stopOnDone = context.AfterFunc(ctx, s.Stop)
	s.state = StateAttempting
	s.mu.Unlock()

	s.logger.Info("[scheduler] %s started (budget %d attempts)", s.id, s.cfg.MaxAttempts)

	if s.mutations != nil {
		unsub := s.mutations.Subscribe(s.onMutation)
		s.mu.Lock()
		if s.state != StateAttempting || s.stopped {
			s.mu.Unlock()
			unsub()
		} else {
			s.unsubscribe = unsub
			s.mu.Unlock()
		}
	}

	s.attempt("initial")
}

// Stop tears the scheduler down. Pending timers are cancelled, the mutation
// subscription is released and any callback that still fires is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	unsub := s.releaseLocked()
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	s.finish()
}

func (s *Scheduler) onRetry() {
	s.mu.Lock()
	s.retryTimer = nil
	s.mu.Unlock()
	s.attempt("timer")
}

func (s *Scheduler) onSettle() {
	s.mu.Lock()
	s.settleTimer = nil
	s.mu.Unlock()
	s.attempt("mutation")
}

// onMutation arms the settle timer. Mutations arriving while it is pending
// are folded into the same attempt.
func (s *Scheduler) onMutation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.state != StateAttempting || s.settleTimer != nil {
		return
	}
	s.settleTimer = s.clock.AfterFunc(s.cfg.SettleDelay, s.onSettle)
}

func (s *Scheduler) attempt(trigger string) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	if s.stopped || s.state != StateAttempting {
		s.mu.Unlock()
		return
	}
	s.attempts++
	n := s.attempts
	ctx := s.ctx
	s.mu.Unlock()

	rec, ok := s.tryOnce(ctx, n, trigger)

	s.mu.Lock()
	if s.stopped || s.state != StateAttempting {
		s.mu.Unlock()
		return
	}

	if ok {
		s.state = StateSuccess
		s.record = rec
		unsub := s.releaseLocked()
		first := !s.broadcasted
		s.broadcasted = true
		s.mu.Unlock()

		if unsub != nil {
			unsub()
		}
		s.logger.Info("[scheduler] %s extracted %q after %d attempt(s)", s.id, rec.Address, n)
		if first && s.sink != nil {
			if err := s.sink.Broadcast(ctx, s.id, rec); err != nil {
				s.logger.Warn("[scheduler] %s broadcast: %v", s.id, err)
			}
		}
		s.finish()
		return
	}

	if n >= s.cfg.MaxAttempts {
		s.state = StateExhausted
		unsub := s.releaseLocked()
		s.mu.Unlock()

		if unsub != nil {
			unsub()
		}
		s.logger.Warn("[scheduler] %s no property data after %d attempts", s.id, n)
		s.finish()
		return
	}

	if s.retryTimer == nil {
		s.retryTimer = s.clock.AfterFunc(s.cfg.RetryDelay, s.onRetry)
	}
	s.mu.Unlock()
}

func (s *Scheduler) tryOnce(ctx context.Context, n int, trigger string) (*models.PropertyRecord, bool) {
	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		s.logger.Debug("[scheduler] %s attempt %d (%s): snapshot: %v", s.id, n, trigger, err)
		return nil, false
	}
	rec, ok := s.extractor.Extract(snap)
	if !ok {
		s.logger.Debug("[scheduler] %s attempt %d (%s): no valid record yet", s.id, n, trigger)
	}
	return rec, ok
}

// releaseLocked cancels timers and returns the unsubscribe func for the
// caller to run after unlocking.
func (s *Scheduler) releaseLocked() func() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	if s.settleTimer != nil {
		s.settleTimer.Stop()
		s.settleTimer = nil
	}
	unsub := s.unsubscribe
	s.unsubscribe = nil
	return unsub
}

func (s *Scheduler) finish() {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		cancel, release := s.cancel, s.stopOnDone
		s.mu.Unlock()
		if release != nil {
			release()
		}
		if cancel != nil {
			cancel()
		}
		close(s.done)
	})
}
