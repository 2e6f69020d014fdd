package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TickSummary counts what one tick did.
type TickSummary struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Due       int           `json:"due"`
	Published int           `json:"published"`
	Denied    int           `json:"denied"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Errors    int           `json:"errors"`
}

func (t *TickSummary) add(outcome Outcome) {
	switch outcome.State {
	case StatePublished:
		t.Published++
	case StateDenied:
		t.Denied++
	case StateFailed:
		t.Failed++
	default:
		t.Skipped++
	}
}

type Status struct {
	IsRunning  bool         `json:"is_running"`
	NextTickAt *time.Time   `json:"next_tick_at,omitempty"`
	LastTickAt *time.Time   `json:"last_tick_at,omitempty"`
	LastTick   *TickSummary `json:"last_tick,omitempty"`
}

type SchedulerConfig struct {
	Interval time.Duration
	// Concurrency bounds how many channels are processed in parallel
	// within a tick. Items of the same channel always run in order.
	Concurrency int
}

// Scheduler owns the recurring timer. Ticks never overlap: the timer is
// re-armed only after a tick completes, and ProcessNow waits for any
// running tick before starting its own.
//
// Running two Schedulers against the same store is not safe; both may
// publish the same due post.
type Scheduler struct {
	source  *JobSource
	runner  *JobRunner
	cfg     SchedulerConfig
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time

	tickMu sync.Mutex
	wg     sync.WaitGroup

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	nextTick time.Time
	lastTick *TickSummary
}

func NewScheduler(cfg SchedulerConfig, source *JobSource, runner *JobRunner, logger *zap.Logger, metrics *Metrics) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Scheduler{
		source:  source,
		runner:  runner,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		now:     runner.now,
	}
}

// Start runs one tick synchronously and then arms the timer. It returns
// false without doing anything when the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Info("Scheduler is already running")
		return false
	}
	s.running = true
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	// Registered before the first tick so Wait covers it.
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("Starting scheduler", zap.Duration("interval", s.cfg.Interval))

	s.runTick(ctx)

	s.mu.Lock()
	if s.stopCh == stopCh && s.running {
		s.nextTick = s.now().Add(s.cfg.Interval)
	}
	s.mu.Unlock()

	go s.loop(ctx, stopCh)
	return true
}

// Stop prevents new ticks. A tick in flight runs to completion. It returns
// false when the scheduler was not running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.logger.Info("Scheduler is not running")
		return false
	}
	s.running = false
	close(s.stopCh)
	s.stopCh = nil
	s.nextTick = time.Time{}
	s.logger.Info("Scheduler stopped")
	return true
}

// Wait blocks until every Start has returned and its timer goroutine has
// exited, including any tick it was running.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// ProcessNow runs one full tick regardless of the timer and returns its
// summary. It does not change the running state.
func (s *Scheduler) ProcessNow(ctx context.Context) TickSummary {
	s.logger.Info("Processing due posts on demand")
	return s.runTick(ctx)
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{IsRunning: s.running}
	if s.running && !s.nextTick.IsZero() {
		next := s.nextTick
		st.NextTickAt = &next
	}
	if s.lastTick != nil {
		last := *s.lastTick
		started := last.StartedAt
		st.LastTick = &last
		st.LastTickAt = &started
	}
	return st
}

func (s *Scheduler) loop(ctx context.Context, stopCh chan struct{}) {
	defer s.wg.Done()

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			s.mu.Lock()
			if s.stopCh == stopCh {
				s.running = false
				close(s.stopCh)
				s.stopCh = nil
				s.nextTick = time.Time{}
			}
			s.mu.Unlock()
			s.logger.Info("Scheduler context cancelled")
			return
		case <-timer.C:
			// A Stop that raced the timer wins.
			select {
			case <-stopCh:
				return
			default:
			}

			s.runTick(ctx)

			s.mu.Lock()
			if s.stopCh == stopCh {
				s.nextTick = s.now().Add(s.cfg.Interval)
			}
			s.mu.Unlock()
			timer.Reset(s.cfg.Interval)
		}
	}
}

// runTick processes every due post once. Nothing escapes it: store errors
// and panics are logged and counted.
func (s *Scheduler) runTick(ctx context.Context) (summary TickSummary) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	summary.StartedAt = s.now()
	began := time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduler tick panicked", zap.Any("panic", r))
			summary.Errors++
		}
		summary.Duration = time.Since(began)
		s.metrics.observeTick(summary)

		s.mu.Lock()
		last := summary
		s.lastTick = &last
		s.mu.Unlock()
	}()

	items, err := s.source.DueJobs(ctx, summary.StartedAt)
	if err != nil {
		s.logger.Error("Failed to load due posts", zap.Error(err))
		summary.Errors++
		return summary
	}
	summary.Due = len(items)
	if len(items) == 0 {
		s.logger.Debug("No due posts")
		return summary
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)
	for _, group := range groupByChannel(items) {
		group := group
		g.Go(func() error {
			for _, item := range group {
				outcome, err := s.runItem(ctx, item)
				mu.Lock()
				summary.add(outcome)
				if err != nil {
					summary.Errors++
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("Scheduler tick completed",
		zap.Int("due", summary.Due),
		zap.Int("published", summary.Published),
		zap.Int("denied", summary.Denied),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors))
	return summary
}

func (s *Scheduler) runItem(ctx context.Context, item WorkItem) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Job runner panicked",
				zap.String("post_id", item.PostID),
				zap.Any("panic", r))
			outcome = Outcome{PostID: item.PostID, State: StateFailed, Reason: "panic"}
			err = fmt.Errorf("job runner panic: %v", r)
		}
	}()

	outcome, err = s.runner.Run(ctx, item)
	if err != nil {
		s.logger.Error("Failed to process post",
			zap.String("post_id", item.PostID),
			zap.String("state", string(outcome.State)),
			zap.Error(err))
	}
	return outcome, err
}
