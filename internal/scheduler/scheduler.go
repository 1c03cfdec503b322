// Package scheduler runs the periodic job tick: scheduled campaign
// dispatch, A/B test evaluation and workflow run resumption.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jeylabbb/newsletter-hq/internal/abtest"
	"github.com/jeylabbb/newsletter-hq/internal/lifecycle"
	"github.com/jeylabbb/newsletter-hq/internal/metrics"
	"github.com/jeylabbb/newsletter-hq/internal/models"
	"github.com/jeylabbb/newsletter-hq/internal/repository"
	"github.com/jeylabbb/newsletter-hq/internal/schedule"
	"github.com/jeylabbb/newsletter-hq/internal/workflow"
)

// Scheduler scans for due work and executes it. Every piece of due work
// is claimed with a conditional update before any side effect, so a tick
// that overlaps another tick (or a concurrent instance) processes each
// item at most once.
type Scheduler struct {
	campaigns *repository.CampaignRepository
	runs      *repository.RunRepository
	lifecycle *lifecycle.Lifecycle
	abtest    *abtest.Engine
	workflows *workflow.Engine
	metrics   *metrics.Metrics
	logger    *slog.Logger

	dispatchHour int
	concurrency  int
	now          func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func New(
	campaigns *repository.CampaignRepository,
	runs *repository.RunRepository,
	lc *lifecycle.Lifecycle,
	ab *abtest.Engine,
	wf *workflow.Engine,
	m *metrics.Metrics,
	dispatchHour, concurrency int,
	logger *slog.Logger,
) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{
		campaigns:    campaigns,
		runs:         runs,
		lifecycle:    lc,
		abtest:       ab,
		workflows:    wf,
		metrics:      m,
		dispatchHour: dispatchHour,
		concurrency:  concurrency,
		logger:       logger.With("component", "scheduler"),
		now:          time.Now,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// SetNow overrides the clock, for tests.
func (s *Scheduler) SetNow(now func() time.Time) {
	s.now = now
}

// Start runs ticks at each daily dispatch boundary until Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Stop halts the tick loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	for {
		next := schedule.NextBoundary(s.now().UTC(), s.dispatchHour)
		wait := time.Until(next)
		s.logger.Debug("next tick scheduled", "at", next)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := s.Tick(ctx); err != nil {
			s.logger.Error("tick failed", "error", err)
		}
	}
}

// Tick performs one full scan. Each phase tolerates per-item failures:
// one broken campaign never blocks the rest of the batch.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now().UTC()
	s.metrics.SchedulerTicksTotal.Inc()
	s.logger.Info("tick started", "now", now)

	s.dispatchDue(ctx, now)
	s.evaluateDue(ctx, now)
	s.resumeDue(ctx, now)

	s.logger.Info("tick finished")
	return ctx.Err()
}

func (s *Scheduler) dispatchDue(ctx context.Context, now time.Time) {
	due, err := s.campaigns.ScheduledDue(now)
	if err != nil {
		s.logger.Error("failed to scan scheduled campaigns", "error", err)
		return
	}

	s.forEach(ctx, len(due), func(i int) {
		c := due[i]
		claimed, err := s.campaigns.ClaimDispatch(c.ID, models.CampaignStatusScheduled)
		if err != nil {
			s.logger.Error("dispatch claim failed", "campaign_id", c.ID, "error", err)
			return
		}
		if !claimed {
			s.metrics.ClaimConflictsTotal.WithLabelValues("dispatch").Inc()
			return
		}

		if err := s.lifecycle.Dispatch(ctx, c.ID); err != nil {
			s.logger.Error("dispatch failed", "campaign_id", c.ID, "error", err)
		}
	})
}

func (s *Scheduler) evaluateDue(ctx context.Context, now time.Time) {
	due, err := s.campaigns.EvaluationsDue(now)
	if err != nil {
		s.logger.Error("failed to scan due evaluations", "error", err)
		return
	}

	s.forEach(ctx, len(due), func(i int) {
		c := due[i]
		claimed, err := s.campaigns.ClaimEvaluation(c.ID, now)
		if err != nil {
			s.logger.Error("evaluation claim failed", "campaign_id", c.ID, "error", err)
			return
		}
		if !claimed {
			s.metrics.ClaimConflictsTotal.WithLabelValues("evaluation").Inc()
			return
		}

		if err := s.abtest.Evaluate(ctx, c.ID); err != nil {
			s.logger.Error("evaluation failed", "campaign_id", c.ID, "error", err)
		}
	})
}

func (s *Scheduler) resumeDue(ctx context.Context, now time.Time) {
	due, err := s.runs.WaitingDue(now)
	if err != nil {
		s.logger.Error("failed to scan waiting runs", "error", err)
		return
	}

	s.forEach(ctx, len(due), func(i int) {
		run := due[i]
		claimed, err := s.runs.ClaimResume(run.ID, now)
		if err != nil {
			s.logger.Error("resume claim failed", "run_id", run.ID, "error", err)
			return
		}
		if !claimed {
			s.metrics.ClaimConflictsTotal.WithLabelValues("resume").Inc()
			return
		}

		if err := s.workflows.Resume(ctx, run.ID); err != nil {
			s.logger.Error("resume failed", "run_id", run.ID, "error", err)
		}
	})
}

// forEach runs fn for each index with bounded concurrency.
func (s *Scheduler) forEach(ctx context.Context, n int, fn func(i int)) {
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(i)
		}(i)
	}
	wg.Wait()
}
