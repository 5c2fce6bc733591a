// Package delivery implements the Delivery Worker: claims due
// DeliveryEvents, drives each through the Destination Client, and applies
// the backoff/DLQ state-machine rules. Grounded on the teacher's adaptive
// notification worker (poll loop, per-tenant goroutine pool, Sentry error
// capture).
package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"golang.org/x/sync/semaphore"

	"github.com/metahub/integrationhub/internal/destination"
	apperrors "github.com/metahub/integrationhub/internal/errors"
	"github.com/metahub/integrationhub/internal/eventstore"
	"github.com/metahub/integrationhub/internal/telemetry"
)

const (
	baseBackoffMS = 60_000
	maxBackoffMS  = 3_600_000
)

// computeBackoff implements backoff_ms = min(60000*2^(n-1), 3_600_000).
func computeBackoff(attemptsCount int) time.Duration {
	if attemptsCount < 1 {
		attemptsCount = 1
	}
	ms := baseBackoffMS
	for i := 1; i < attemptsCount; i++ {
		ms *= 2
		if ms >= maxBackoffMS {
			ms = maxBackoffMS
			break
		}
	}
	if ms > maxBackoffMS {
		ms = maxBackoffMS
	}
	return time.Duration(ms) * time.Millisecond
}

// DestinationLookup resolves a destination by id, or reports it's inactive.
type DestinationLookup interface {
	Get(ctx context.Context, tenantID, destinationID string) (destination.Destination, bool, error)
}

// Config tunes worker concurrency.
type Config struct {
	BatchSize              int
	PollInterval           time.Duration
	PerTenantConcurrency   int64
}

func DefaultConfig() Config {
	return Config{BatchSize: 50, PollInterval: 2 * time.Second, PerTenantConcurrency: 32}
}

// Worker drives the process/resend/test entry points of §4.F.
type Worker struct {
	events  eventstore.Repository
	dests   DestinationLookup
	client  *destination.Client
	cfg     Config
	logFn   func(ctx context.Context, level, category, action, message string, meta map[string]interface{})

	tenantSemMu sync.Mutex
	tenantSems  map[string]*semaphore.Weighted

	lock     *eventstore.ClaimLock
	workerID string
	lockTTL  time.Duration

	metrics *telemetry.DeliveryMetrics

	stop   chan struct{}
	done   chan struct{}
}

// WithMetrics attaches an OpenTelemetry metrics recorder; attempts and
// terminal transitions are counted against it when non-nil.
func (w *Worker) WithMetrics(m *telemetry.DeliveryMetrics) *Worker {
	w.metrics = m
	return w
}

// WithClaimLock attaches a distributed claim assist so multiple Worker
// processes sharing one Event Store skip an event a sibling already holds,
// instead of racing the database's conditional update alone.
func (w *Worker) WithClaimLock(lock *eventstore.ClaimLock, workerID string, ttl time.Duration) *Worker {
	w.lock = lock
	w.workerID = workerID
	w.lockTTL = ttl
	return w
}

func NewWorker(events eventstore.Repository, dests DestinationLookup, client *destination.Client, cfg Config, logFn func(ctx context.Context, level, category, action, message string, meta map[string]interface{})) *Worker {
	if cfg.BatchSize <= 0 {
		cfg = DefaultConfig()
	}
	if logFn == nil {
		logFn = func(context.Context, string, string, string, string, map[string]interface{}) {}
	}
	return &Worker{
		events:     events,
		dests:      dests,
		client:     client,
		cfg:        cfg,
		logFn:      logFn,
		tenantSems: map[string]*semaphore.Weighted{},
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the process cycle on a ticker until Stop is called.
func (w *Worker) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := w.Process(ctx); err != nil {
					w.captureError("process", err)
				}
			}
		}
	}()
}

func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Worker) tenantSem(tenantID string) *semaphore.Weighted {
	w.tenantSemMu.Lock()
	defer w.tenantSemMu.Unlock()
	sem, ok := w.tenantSems[tenantID]
	if !ok {
		sem = semaphore.NewWeighted(w.cfg.PerTenantConcurrency)
		w.tenantSems[tenantID] = sem
	}
	return sem
}

// ProcessStats summarizes one Process cycle for the /delivery/process API.
type ProcessStats struct {
	Processed int
	Delivered int
	Failed    int
}

// Process claims a batch and drives every claimed event through a single
// attempt, bounding per-tenant concurrency so one noisy tenant can't starve
// the others' outbound calls.
func (w *Worker) Process(ctx context.Context) (ProcessStats, error) {
	batch, err := w.events.ClaimBatch(ctx, w.cfg.BatchSize)
	if err != nil {
		return ProcessStats{}, fmt.Errorf("delivery: claim batch: %w", err)
	}

	type driveResult struct {
		delivered bool
		err       error
	}
	results := make(chan driveResult, len(batch))
	for _, evt := range batch {
		evt := evt
		sem := w.tenantSem(evt.TenantID)
		if err := sem.Acquire(ctx, 1); err != nil {
			results <- driveResult{err: err}
			continue
		}
		go func() {
			defer sem.Release(1)
			delivered, err := w.driveOne(ctx, evt)
			results <- driveResult{delivered: delivered, err: err}
		}()
	}

	var stats ProcessStats
	for range batch {
		r := <-results
		stats.Processed++
		if r.err != nil {
			w.captureError("driveOne", r.err)
			stats.Failed++
			continue
		}
		if r.delivered {
			stats.Delivered++
		} else {
			stats.Failed++
		}
	}
	return stats, nil
}

func (w *Worker) driveOne(ctx context.Context, evt *eventstore.DeliveryEvent) (bool, error) {
	if w.lock != nil {
		ok, err := w.lock.Acquire(ctx, evt.ID, w.workerID, w.lockTTL)
		if err != nil {
			w.captureError("claimLock.Acquire", err)
		} else if !ok {
			return false, nil
		} else {
			defer func() {
				if err := w.lock.Release(ctx, evt.ID, w.workerID); err != nil {
					w.captureError("claimLock.Release", err)
				}
			}()
		}
	}

	dest, active, err := w.dests.Get(ctx, evt.TenantID, evt.DestinationID)
	if err != nil {
		return false, fmt.Errorf("delivery: load destination %s: %w", evt.DestinationID, err)
	}
	if !active {
		reason := "Destination inactive"
		return false, w.events.Transition(ctx, evt.ID, eventstore.StatusProcessing, eventstore.StatusCancelled,
			eventstore.TransitionFields{ErrorMessage: &reason})
	}

	body := evt.TransformedPayload
	if len(body) == 0 {
		body = evt.Payload
	}

	result, err := w.client.Call(ctx, dest, body, evt.ID, evt.AttemptsCount)
	if err != nil {
		return false, fmt.Errorf("delivery: call destination: %w", err)
	}

	attempt := &eventstore.DeliveryAttempt{
		ID:            destination.NewAttemptID(),
		EventID:       evt.ID,
		AttemptNumber: evt.AttemptsCount,
		RequestURL:    dest.URL,
		RequestMethod: string(dest.Method),
		ResponseBody:  result.ResponseBody,
		ErrorMessage:  result.ErrorMessage,
		DurationMS:    result.DurationMS,
	}
	if result.StatusCode != 0 {
		sc := result.StatusCode
		attempt.StatusCode = &sc
	}
	if err := w.events.AppendAttempt(ctx, attempt); err != nil {
		return false, err
	}

	w.logFn(ctx, "info", "delivery", "attempt", fmt.Sprintf("attempt %d for event %s", evt.AttemptsCount, evt.ID), map[string]interface{}{
		"event_id": evt.ID, "success": result.Success, "status_code": result.StatusCode,
	})

	w.metrics.RecordAttempt(ctx, evt.TenantID, result.Success)

	if result.Success {
		now := time.Now().UTC()
		err := w.events.Transition(ctx, evt.ID, eventstore.StatusProcessing, eventstore.StatusDelivered,
			eventstore.TransitionFields{DeliveredAt: &now, ClearRetry: true})
		w.metrics.RecordTerminal(ctx, evt.TenantID, "delivered")
		return true, err
	}

	return false, w.handleFailure(ctx, evt, result.ErrorMessage)
}

func (w *Worker) handleFailure(ctx context.Context, evt *eventstore.DeliveryEvent, errMsg string) error {
	if evt.AttemptsCount >= evt.MaxAttempts {
		err := w.events.Transition(ctx, evt.ID, eventstore.StatusProcessing, eventstore.StatusDLQ,
			eventstore.TransitionFields{ErrorMessage: &errMsg, ClearRetry: true})
		w.metrics.RecordTerminal(ctx, evt.TenantID, "dlq")
		return err
	}

	backoff := computeBackoff(evt.AttemptsCount)
	nextRetry := time.Now().UTC().Add(backoff)
	failedAt := time.Now().UTC()
	err := w.events.Transition(ctx, evt.ID, eventstore.StatusProcessing, eventstore.StatusFailed,
		eventstore.TransitionFields{ErrorMessage: &errMsg, FailedAt: &failedAt, NextRetryAt: &nextRetry})
	w.metrics.RecordTerminal(ctx, evt.TenantID, "failed")
	if err != nil && !apperrors.IsErrorType(err, apperrors.ErrorTypeConflict) {
		return err
	}
	return nil
}

// Resend implements the user-initiated resend action: only valid from
// failed or dlq, resets to pending with next_retry_at=now (open-question
// decision: also resets attempts_count so the resent event gets a full
// fresh budget of attempts), clears the error, then attempts once inline.
func (w *Worker) Resend(ctx context.Context, tenantID, eventID string) (destination.AttemptResult, error) {
	evt, err := w.events.GetByID(ctx, tenantID, eventID)
	if err != nil {
		return destination.AttemptResult{}, err
	}
	if evt.Status != eventstore.StatusFailed && evt.Status != eventstore.StatusDLQ {
		return destination.AttemptResult{}, apperrors.NewValidationError("status", "resend is only valid from failed or dlq")
	}

	now := time.Now().UTC()
	if err := w.events.Transition(ctx, eventID, evt.Status, eventstore.StatusPending,
		eventstore.TransitionFields{NextRetryAt: &now, ClearRetry: false, ResetAttempts: true, ClearErrorMessage: true}); err != nil {
		return destination.AttemptResult{}, err
	}
	if err := w.events.Transition(ctx, eventID, eventstore.StatusPending, eventstore.StatusProcessing,
		eventstore.TransitionFields{}); err != nil {
		return destination.AttemptResult{}, err
	}
	evt.AttemptsCount = 1
	evt.Status = eventstore.StatusProcessing

	delivered, err := w.driveOne(ctx, evt)
	if err != nil {
		return destination.AttemptResult{}, err
	}
	return destination.AttemptResult{Success: delivered}, nil
}

// DispatchOne implements the webhook receiver's fire-and-observe handoff:
// it best-effort attempts a just-created pending event once, immediately,
// outside the poll cycle. The event already has next_retry_at=now, so a
// failure here simply leaves it for the next Process tick — errors are
// logged, never returned, and the call never blocks its caller.
func (w *Worker) DispatchOne(tenantID, eventID string) {
	sem := w.tenantSem(tenantID)
	go func() {
		ctx := context.Background()
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer sem.Release(1)

		evt, err := w.events.GetByID(ctx, tenantID, eventID)
		if err != nil {
			return
		}
		if evt.Status != eventstore.StatusPending {
			return
		}
		if err := w.events.Transition(ctx, eventID, eventstore.StatusPending, eventstore.StatusProcessing, eventstore.TransitionFields{}); err != nil {
			return
		}
		evt.Status = eventstore.StatusProcessing
		evt.AttemptsCount++
		if _, err := w.driveOne(ctx, evt); err != nil {
			w.captureError("dispatchOne", err)
		}
	}()
}

// Test performs a dry-run call against a destination with a canned sample
// payload. It never touches the Event Store.
func (w *Worker) Test(ctx context.Context, dest destination.Destination) (destination.AttemptResult, error) {
	sample := []byte(`{"event":"test","message":"this is a test delivery from MetaHub Integration Hub"}`)
	return w.client.Call(ctx, dest, sample, destination.NewAttemptID(), 1)
}

func (w *Worker) captureError(stage string, err error) {
	w.logFn(context.Background(), "error", "delivery", stage, err.Error(), nil)
	sentry.CaptureException(fmt.Errorf("delivery worker %s: %w", stage, err))
}
