package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hadealahmad/virtualmin-wp-cron-sh/internal/model"
)

// Monitor is polled before every admission.
type Monitor interface {
	Check(ctx context.Context) model.Throttle
}

// Invoker runs one record to completion. It must honor ctx cancellation by
// bringing its subprocess down and must always return an outcome.
type Invoker interface {
	Invoke(ctx context.Context, rec model.SiteRecord) model.JobOutcome
}

// Scheduler is the bounded-concurrency batch dispatcher.
type Scheduler struct {
	MaxParallel int           // model.DefaultMaxParallel when 0
	Stagger     time.Duration // minimum delay between launches
	Backoff     time.Duration // pause between throttle re-polls

	Monitor Monitor // nil means never throttled
	Invoker Invoker

	// Sink, when set, receives each outcome the moment it is collected,
	// before Run returns. Called from a single goroutine.
	Sink func(model.JobOutcome)

	Log *slog.Logger
}

// Run dispatches every record and blocks until each launched job has a
// terminal outcome. On cancellation it stops admitting, waits for in-flight
// jobs to come down, and returns the outcomes gathered so far together with
// model.ErrInterrupted.
func (s *Scheduler) Run(ctx context.Context, records []model.SiteRecord) ([]model.JobOutcome, error) {
	if len(records) == 0 {
		return nil, nil
	}

	maxParallel := s.MaxParallel
	if maxParallel <= 0 {
		maxParallel = model.DefaultMaxParallel
	}
	stagger := s.Stagger
	if stagger <= 0 {
		stagger, _ = model.ParseDurationField("stagger", model.DefaultStagger)
	}
	logger := s.Log
	if logger == nil {
		logger = slog.Default()
	}

	sem := semaphore.NewWeighted(int64(maxParallel))
	limiter := rate.NewLimiter(rate.Every(stagger), 1)

	outcomes := make(chan model.JobOutcome)
	collected := make(chan []model.JobOutcome, 1)
	go func() {
		all := make([]model.JobOutcome, 0, len(records))
		for o := range outcomes {
			if s.Sink != nil {
				s.Sink(o)
			}
			all = append(all, o)
		}
		collected <- all
	}()

	var wg sync.WaitGroup
	launched := 0
	for _, rec := range records {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		// The slot is held across the throttle wait so a clear host
		// admits immediately without re-contending.
		if !s.waitClear(ctx, logger) {
			sem.Release(1)
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			sem.Release(1)
			break
		}

		launched++
		wg.Add(1)
		go func(rec model.SiteRecord) {
			defer wg.Done()
			defer sem.Release(1)
			outcomes <- s.Invoker.Invoke(ctx, rec)
		}(rec)
	}

	wg.Wait()
	close(outcomes)
	all := <-collected

	if err := ctx.Err(); err != nil {
		logger.WarnContext(ctx, "batch interrupted",
			slog.Int("launched", launched),
			slog.Int("skipped", len(records)-launched),
		)
		return all, fmt.Errorf("%d of %d records dispatched: %w",
			launched, len(records), model.ErrInterrupted)
	}
	return all, nil
}

// waitClear blocks until the monitor reports the host clear, pausing
// Backoff between polls. Returns false when ctx is canceled first.
func (s *Scheduler) waitClear(ctx context.Context, logger *slog.Logger) bool {
	if s.Monitor == nil {
		return true
	}
	backoff := s.Backoff
	if backoff <= 0 {
		backoff, _ = model.ParseDurationField("backoff", model.DefaultThrottleBackoff)
	}
	for {
		th := s.Monitor.Check(ctx)
		if !th.Throttled {
			return true
		}
		logger.WarnContext(ctx, "admission paused by resource pressure",
			slog.String("reason", th.Reason),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
	}
}
