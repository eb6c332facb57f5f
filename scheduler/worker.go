package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-credentials/core"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	defaultRetryDelay   = time.Minute
	defaultPollInterval = time.Second
)

// ErrNoJob is returned by ProcessNext when the queue had nothing to deliver.
var ErrNoJob = errors.New("scheduler: no job available")

// RefreshRunner executes one queued refresh.
type RefreshRunner interface {
	RefreshCredential(ctx context.Context, tenantID string, credentialID string, trigger core.RefreshTrigger) (core.RefreshResult, error)
}

type WorkerOption func(*Worker)

func WithWorkerLogger(logger core.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func WithWorkerHook(hook core.JobWorkerHook) WorkerOption {
	return func(w *Worker) {
		w.hook = hook
	}
}

func WithRetryDelay(delay time.Duration) WorkerOption {
	return func(w *Worker) {
		if delay >= 0 {
			w.retryDelay = delay
		}
	}
}

func WithPollInterval(interval time.Duration) WorkerOption {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

func WithRefreshTimeout(timeout time.Duration) WorkerOption {
	return func(w *Worker) {
		if timeout > 0 {
			w.timeout = timeout
		}
	}
}

// Worker drains refresh jobs from a queue. Transient refresh failures are
// nacked for retry; the queue's retry policy bounds the attempts.
type Worker struct {
	dequeuer     core.JobDequeuer
	runner       RefreshRunner
	hook         core.JobWorkerHook
	logger       core.Logger
	retryDelay   time.Duration
	pollInterval time.Duration
	timeout      time.Duration
}

func NewWorker(dequeuer core.JobDequeuer, runner RefreshRunner, opts ...WorkerOption) (*Worker, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("scheduler: job dequeuer is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("scheduler: refresh runner is required")
	}
	w := &Worker{
		dequeuer:     dequeuer,
		runner:       runner,
		retryDelay:   defaultRetryDelay,
		pollInterval: defaultPollInterval,
		timeout:      defaultRefreshTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	w.logger = glog.Ensure(w.logger)
	return w, nil
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := w.ProcessNext(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, ErrNoJob) {
				w.logger.Warn("refresh worker: queue operation failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// ProcessNext handles a single delivery. The returned error only reports
// queue failures; refresh failures are settled on the delivery.
func (w *Worker) ProcessNext(ctx context.Context) error {
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	if delivery == nil {
		return ErrNoJob
	}
	msg := delivery.Message()
	event := core.JobWorkerEvent{Message: msg, Attempt: 1, StartedAt: time.Now().UTC()}

	tenantID, credentialID, err := RefreshJobTarget(msg)
	if err != nil {
		event.Err = err
		w.onFailure(ctx, event)
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: err.Error()})
	}

	w.onStart(ctx, event)
	callCtx, cancel := context.WithTimeout(ctx, w.timeout)
	result, runErr := w.runner.RefreshCredential(callCtx, tenantID, credentialID, core.RefreshTriggerJob)
	cancel()
	event.Duration = time.Since(event.StartedAt)
	event.Err = runErr

	switch {
	case runErr == nil:
		w.onSuccess(ctx, event)
		w.logger.Debug("refresh worker: job done",
			"tenant_id", tenantID,
			"credential_id", credentialID,
			"outcome", string(result.Outcome),
			"skipped", result.Skipped,
		)
		return delivery.Ack(ctx)
	case isSettled(runErr):
		// The credential was revoked by this run; there is nothing to retry.
		w.onSuccess(ctx, event)
		return delivery.Ack(ctx)
	case isTerminal(runErr):
		w.onFailure(ctx, event)
		w.logger.Error("refresh worker: job cannot succeed",
			"tenant_id", tenantID,
			"credential_id", credentialID,
			"error", runErr,
		)
		return delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: runErr.Error()})
	default:
		event.Delay = w.retryDelay
		w.onRetry(ctx, event)
		return delivery.Nack(ctx, core.JobNackOptions{Requeue: true, Delay: w.retryDelay, Reason: runErr.Error()})
	}
}

func isSettled(err error) bool {
	return errors.Is(err, core.ErrRevoked)
}

func isTerminal(err error) bool {
	return errors.Is(err, core.ErrNotFound) ||
		errors.Is(err, core.ErrIntegrity) ||
		errors.Is(err, core.ErrInvalidTenantID)
}

func (w *Worker) onStart(ctx context.Context, event core.JobWorkerEvent) {
	if w.hook != nil {
		w.hook.OnStart(ctx, event)
	}
}

func (w *Worker) onSuccess(ctx context.Context, event core.JobWorkerEvent) {
	if w.hook != nil {
		w.hook.OnSuccess(ctx, event)
	}
}

func (w *Worker) onFailure(ctx context.Context, event core.JobWorkerEvent) {
	if w.hook != nil {
		w.hook.OnFailure(ctx, event)
	}
}

func (w *Worker) onRetry(ctx context.Context, event core.JobWorkerEvent) {
	if w.hook != nil {
		w.hook.OnRetry(ctx, event)
	}
}
