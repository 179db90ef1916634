package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// ErrRunInProgress is returned by Runner.RunOnce when another process holds the run lock.
var ErrRunInProgress = errors.New("lifecycle: another run holds the lock")

// BatchProcessor runs a full lifecycle pass. *Engine implements it.
type BatchProcessor interface {
	ProcessAll(ctx context.Context) (AllResults, error)
}

// Locker provides cross-process mutual exclusion for runs.
// TryAcquire never blocks; acquired is false when the key is held elsewhere.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// Runner executes ProcessAll on a schedule. Runs of one Runner never overlap;
// a Locker extends that guarantee across processes.
type Runner struct {
	processor BatchProcessor
	schedule  Schedule
	locker    Locker
	lockKey   string
	lockTTL   time.Duration
	logger    *slog.Logger
	now       func() time.Time
	onResult  func(AllResults, error)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLocker guards every run with lock key. ttl should exceed the longest expected run.
func WithLocker(l Locker, key string, ttl time.Duration) RunnerOption {
	return func(r *Runner) {
		r.locker = l
		if key != "" {
			r.lockKey = key
		}
		if ttl > 0 {
			r.lockTTL = ttl
		}
	}
}

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRunnerClock overrides the time source used to compute the next run.
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithResultHook is called after every completed run.
func WithResultHook(fn func(AllResults, error)) RunnerOption {
	return func(r *Runner) {
		r.onResult = fn
	}
}

// NewRunner creates a Runner. Panics if processor or schedule is nil.
func NewRunner(processor BatchProcessor, schedule Schedule, opts ...RunnerOption) *Runner {
	if processor == nil {
		panic("lifecycle: BatchProcessor is required")
	}
	if schedule == nil {
		panic("lifecycle: Schedule is required")
	}

	r := &Runner{
		processor: processor,
		schedule:  schedule,
		lockKey:   "billing:lifecycle:run",
		lockTTL:   10 * time.Minute,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(logger.Component("lifecycle_runner"))
	return r
}

// RunOnce performs a single locked pass.
// It returns ErrRunInProgress without running when the lock is held elsewhere.
func (r *Runner) RunOnce(ctx context.Context) (AllResults, error) {
	if r.locker != nil {
		release, acquired, err := r.locker.TryAcquire(ctx, r.lockKey, r.lockTTL)
		if err != nil {
			return AllResults{}, err
		}
		if !acquired {
			r.logger.InfoContext(ctx, "lifecycle run skipped, lock held elsewhere")
			return AllResults{}, ErrRunInProgress
		}
		defer func() {
			// Release even when ctx is already canceled.
			if err := release(context.WithoutCancel(ctx)); err != nil {
				r.logger.WarnContext(ctx, "failed to release run lock", logger.Error(err))
			}
		}()
	}

	res, err := r.processor.ProcessAll(ctx)
	if r.onResult != nil {
		r.onResult(res, err)
	}
	return res, err
}

// Start runs passes on the schedule until ctx is done, then returns ctx.Err().
// The first pass starts at the first scheduled time after Start is called.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.InfoContext(ctx, "lifecycle runner started", slog.String("schedule", r.schedule.String()))

	for {
		next := r.schedule.Next(r.now())
		timer := time.NewTimer(max(next.Sub(r.now()), 0))

		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.InfoContext(ctx, "lifecycle runner shutting down")
			return ctx.Err()
		case <-timer.C:
		}

		if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, ErrRunInProgress) && ctx.Err() == nil {
			r.logger.ErrorContext(ctx, "lifecycle run failed", logger.Error(err))
		}
	}
}
