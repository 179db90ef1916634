package resilience

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// BulkheadConfig bounds concurrent calls against one resource.
type BulkheadConfig struct {
	MaxConcurrent int `env:"MAX_CONCURRENT" envDefault:"10"`
	MaxQueueSize  int `env:"MAX_QUEUE_SIZE" envDefault:"20"`
}

// BulkheadState is an immutable snapshot of bulkhead admission counters.
type BulkheadState struct {
	Executing int   `json:"executing"`
	Queued    int   `json:"queued"`
	Rejected  int64 `json:"rejected"`
	Completed int64 `json:"completed"`
}

// Admission is the outcome of CanAccept.
type Admission struct {
	CanAccept bool
	WillQueue bool
	Reason    string
}

// CanAccept decides admission: run immediately while a slot is free,
// queue while the queue has room, reject otherwise.
func CanAccept(s BulkheadState, cfg BulkheadConfig) Admission {
	if s.Executing < cfg.MaxConcurrent {
		return Admission{CanAccept: true}
	}
	if s.Queued < cfg.MaxQueueSize {
		return Admission{CanAccept: true, WillQueue: true}
	}
	return Admission{
		Reason: fmt.Sprintf("bulkhead full: %d executing, %d queued", s.Executing, s.Queued),
	}
}

// StartExecution admits a call directly into an execution slot.
func StartExecution(s BulkheadState) BulkheadState {
	s.Executing++
	return s
}

// StartQueued moves a queued call into an execution slot.
func StartQueued(s BulkheadState) BulkheadState {
	if s.Queued > 0 {
		s.Queued--
	}
	s.Executing++
	return s
}

// CompleteExecution frees an execution slot.
func CompleteExecution(s BulkheadState) BulkheadState {
	if s.Executing > 0 {
		s.Executing--
	}
	s.Completed++
	return s
}

// AbandonExecution frees a slot that was granted to a call which gave up
// before running. The call counts as rejected, not completed.
func AbandonExecution(s BulkheadState) BulkheadState {
	if s.Executing > 0 {
		s.Executing--
	}
	s.Rejected++
	return s
}

// AddToQueue records a call waiting for a slot.
func AddToQueue(s BulkheadState) BulkheadState {
	s.Queued++
	return s
}

// LeaveQueue removes a waiting call that gave up before getting a slot.
func LeaveQueue(s BulkheadState) BulkheadState {
	if s.Queued > 0 {
		s.Queued--
	}
	return s
}

// Reject records a refused call.
func Reject(s BulkheadState) BulkheadState {
	s.Rejected++
	return s
}

// Bulkhead enforces a BulkheadConfig across goroutines.
// Queued callers are served in FIFO order.
type Bulkhead struct {
	cfg     BulkheadConfig
	mu      sync.Mutex
	state   BulkheadState
	waiters []chan struct{}
}

// NewBulkhead creates a bulkhead. MaxConcurrent defaults to 10; a negative queue size means no queue.
func NewBulkhead(cfg BulkheadConfig) *Bulkhead {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.MaxQueueSize < 0 {
		cfg.MaxQueueSize = 0
	}
	return &Bulkhead{cfg: cfg}
}

// Acquire takes an execution slot, waiting in the queue when all slots are busy.
// Returns ErrBulkheadFull when the queue is also full.
// On success, returns a release function that must be called when the operation completes.
func (b *Bulkhead) Acquire(ctx context.Context) (func(), error) {
	b.mu.Lock()
	admission := CanAccept(b.state, b.cfg)
	if !admission.CanAccept {
		b.state = Reject(b.state)
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrBulkheadFull, admission.Reason)
	}
	if !admission.WillQueue {
		b.state = StartExecution(b.state)
		b.mu.Unlock()
		return b.releaseFunc(), nil
	}

	ready := make(chan struct{})
	b.waiters = append(b.waiters, ready)
	b.state = AddToQueue(b.state)
	b.mu.Unlock()

	select {
	case <-ready:
		return b.releaseFunc(), nil
	case <-ctx.Done():
	}

	b.mu.Lock()
	if idx := slices.Index(b.waiters, ready); idx >= 0 {
		b.waiters = slices.Delete(b.waiters, idx, idx+1)
		b.state = Reject(LeaveQueue(b.state))
		b.mu.Unlock()
		return nil, fmt.Errorf("bulkhead acquire: %w", ctx.Err())
	}
	b.mu.Unlock()

	// A slot was handed over while ctx was being cancelled.
	b.release(false)
	return nil, fmt.Errorf("bulkhead acquire: %w", ctx.Err())
}

// Snapshot returns the current admission counters.
func (b *Bulkhead) Snapshot() BulkheadState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bulkhead) releaseFunc() func() {
	var once sync.Once
	return func() {
		once.Do(func() { b.release(true) })
	}
}

// release frees a slot and hands it to the next waiter. completed is false
// when the slot holder never ran.
func (b *Bulkhead) release(completed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if completed {
		b.state = CompleteExecution(b.state)
	} else {
		b.state = AbandonExecution(b.state)
	}
	if len(b.waiters) == 0 {
		return
	}
	next := b.waiters[0]
	b.waiters = b.waiters[1:]
	b.state = StartQueued(b.state)
	close(next)
}
