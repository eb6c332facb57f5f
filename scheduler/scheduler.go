package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-credentials/core"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency    = 4
	defaultRefreshTimeout = 30 * time.Second
)

// RefreshService is the part of core.Service the sweeps drive.
type RefreshService interface {
	ListExpiring(ctx context.Context, lookahead time.Duration) ([]core.Credential, error)
	RefreshOne(ctx context.Context, credential core.Credential, trigger core.RefreshTrigger) (core.RefreshResult, error)
	CleanupAuthorizationStates(ctx context.Context) (int64, error)
}

// SweepSummary aggregates one refresh sweep.
type SweepSummary struct {
	Total     int
	Refreshed int
	Skipped   int
	Failed    int
	Revoked   int
	Enqueued  int
}

type Option func(*Scheduler)

func WithLogger(logger core.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEnqueuer switches the refresh sweep to enqueue one job per credential.
func WithEnqueuer(enqueuer core.JobEnqueuer) Option {
	return func(s *Scheduler) {
		s.enqueuer = enqueuer
	}
}

func WithLookahead(lookahead time.Duration) Option {
	return func(s *Scheduler) {
		if lookahead > 0 {
			s.lookahead = lookahead
		}
	}
}

type Scheduler struct {
	service   RefreshService
	cfg       core.SchedulerConfig
	lookahead time.Duration
	enqueuer  core.JobEnqueuer
	logger    core.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

func New(service RefreshService, cfg core.SchedulerConfig, opts ...Option) (*Scheduler, error) {
	if service == nil {
		return nil, fmt.Errorf("scheduler: refresh service is required")
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = core.DefaultRefreshInterval
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = core.DefaultCleanupInterval
	}
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = defaultConcurrency
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = defaultRefreshTimeout
	}
	s := &Scheduler{service: service, cfg: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = glog.Ensure(s.logger)
	return s, nil
}

// Start registers both sweeps on a cron runner. A sweep still running when
// its next tick arrives is skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler: already running")
	}
	logger := newCronLogger(s.logger)
	runner := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := runner.AddFunc(every(s.cfg.RefreshInterval), func() {
		_, _ = s.RunRefreshSweep(ctx)
	}); err != nil {
		return fmt.Errorf("scheduler: register refresh sweep: %w", err)
	}
	if _, err := runner.AddFunc(every(s.cfg.CleanupInterval), func() {
		_, _ = s.RunCleanupSweep(ctx)
	}); err != nil {
		return fmt.Errorf("scheduler: register cleanup sweep: %w", err)
	}
	runner.Start()
	s.cron = runner
	s.running = true
	s.logger.Info("scheduler started",
		"refresh_interval", s.cfg.RefreshInterval.String(),
		"cleanup_interval", s.cfg.CleanupInterval.String(),
		"queued", s.enqueuer != nil,
	)
	return nil
}

// Stop halts the cron runner and waits for in-flight sweeps or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	runner := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()
	if runner == nil {
		return nil
	}
	done := runner.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunRefreshSweep refreshes or enqueues every credential that is expiring or
// due for a liveness check. One credential failing never stops the others.
func (s *Scheduler) RunRefreshSweep(ctx context.Context) (SweepSummary, error) {
	startedAt := time.Now()
	credentials, err := s.service.ListExpiring(ctx, s.lookahead)
	if err != nil {
		s.logger.Error("refresh sweep: list expiring failed", "error", err)
		return SweepSummary{}, err
	}

	var summary SweepSummary
	if s.enqueuer != nil {
		summary = s.enqueueAll(ctx, credentials)
	} else {
		summary = s.refreshAll(ctx, credentials)
	}
	s.logger.Info("refresh sweep finished",
		"total", summary.Total,
		"refreshed", summary.Refreshed,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"revoked", summary.Revoked,
		"enqueued", summary.Enqueued,
		"duration_ms", time.Since(startedAt).Milliseconds(),
	)
	return summary, nil
}

func (s *Scheduler) refreshAll(ctx context.Context, credentials []core.Credential) SweepSummary {
	var (
		mu      sync.Mutex
		summary = SweepSummary{Total: len(credentials)}
	)
	group := new(errgroup.Group)
	group.SetLimit(s.cfg.SweepConcurrency)
	for _, credential := range credentials {
		group.Go(func() error {
			outcome := s.refreshOne(ctx, credential)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeRefreshed:
				summary.Refreshed++
			case outcomeSkipped:
				summary.Skipped++
			case outcomeRevoked:
				summary.Revoked++
			default:
				summary.Failed++
			}
			return nil
		})
	}
	_ = group.Wait()
	return summary
}

type sweepOutcome int

const (
	outcomeFailed sweepOutcome = iota
	outcomeRefreshed
	outcomeSkipped
	outcomeRevoked
)

func (s *Scheduler) refreshOne(ctx context.Context, credential core.Credential) sweepOutcome {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RefreshTimeout)
	defer cancel()

	result, err := s.service.RefreshOne(callCtx, credential, core.RefreshTriggerSweep)
	switch {
	case err == nil && result.Skipped:
		return outcomeSkipped
	case err == nil:
		return outcomeRefreshed
	case result.Outcome == core.RefreshOutcomeRevoked || errors.Is(err, core.ErrRevoked):
		s.logger.Warn("refresh sweep: credential revoked",
			"tenant_id", credential.TenantID,
			"credential_id", credential.ID,
			"error", err,
		)
		return outcomeRevoked
	default:
		s.logger.Warn("refresh sweep: credential refresh failed",
			"tenant_id", credential.TenantID,
			"credential_id", credential.ID,
			"error", err,
		)
		return outcomeFailed
	}
}

func (s *Scheduler) enqueueAll(ctx context.Context, credentials []core.Credential) SweepSummary {
	summary := SweepSummary{Total: len(credentials)}
	for _, credential := range credentials {
		if err := s.enqueuer.Enqueue(ctx, NewRefreshJobMessage(credential)); err != nil {
			summary.Failed++
			s.logger.Warn("refresh sweep: enqueue failed",
				"tenant_id", credential.TenantID,
				"credential_id", credential.ID,
				"error", err,
			)
			continue
		}
		summary.Enqueued++
	}
	return summary
}

// RunCleanupSweep deletes expired authorization states.
func (s *Scheduler) RunCleanupSweep(ctx context.Context) (int64, error) {
	deleted, err := s.service.CleanupAuthorizationStates(ctx)
	if err != nil {
		s.logger.Error("cleanup sweep failed", "error", err)
		return 0, err
	}
	s.logger.Info("cleanup sweep finished", "deleted", deleted)
	return deleted, nil
}

func every(interval time.Duration) string {
	return "@every " + interval.String()
}
