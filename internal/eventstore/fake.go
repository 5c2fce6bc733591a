package eventstore

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/metahub/integrationhub/internal/errors"
)

// FakeRepository is an in-memory Repository used by the delivery and
// webhook packages' unit tests; it mimics the optimistic-concurrency and
// claim semantics of PostgresRepository without a database.
type FakeRepository struct {
	mu       sync.Mutex
	events   map[string]*DeliveryEvent
	attempts map[string][]*DeliveryAttempt
}

func NewFakeRepository() *FakeRepository {
	return &FakeRepository{
		events:   map[string]*DeliveryEvent{},
		attempts: map[string][]*DeliveryAttempt{},
	}
}

func (f *FakeRepository) Create(ctx context.Context, e *DeliveryEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = DefaultMaxAttempts
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
	if e.SourceEventID != nil {
		for _, existing := range f.events {
			if existing.TenantID == e.TenantID && existing.SourceType == e.SourceType &&
				existing.SourceEventID != nil && *existing.SourceEventID == *e.SourceEventID {
				return apperrors.NewConflictError("an event for this source_event_id already exists")
			}
		}
	}
	now := time.Now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	cp := *e
	f.events[e.ID] = &cp
	return nil
}

func (f *FakeRepository) GetByID(ctx context.Context, tenantID, id string) (*DeliveryEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok || e.TenantID != tenantID {
		return nil, apperrors.NewNotFoundError("delivery_event")
	}
	cp := *e
	return &cp, nil
}

func (f *FakeRepository) Transition(ctx context.Context, id string, from, to Status, fields TransitionFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[id]
	if !ok {
		return apperrors.NewNotFoundError("delivery_event")
	}
	if e.Status != from {
		return apperrors.NewConflictError("event is not in the expected status for this transition")
	}
	switch {
	case fields.ResetAttempts:
		e.AttemptsCount = 0
	case to == StatusProcessing:
		e.AttemptsCount++
	}
	e.Status = to
	if fields.ClearErrorMessage {
		e.ErrorMessage = ""
	} else if fields.ErrorMessage != nil {
		e.ErrorMessage = *fields.ErrorMessage
	}
	if fields.DeliveredAt != nil {
		e.DeliveredAt = fields.DeliveredAt
	}
	if fields.FailedAt != nil {
		e.FailedAt = fields.FailedAt
	}
	clearRetry := fields.ClearRetry || to == StatusDelivered || to == StatusDLQ || to == StatusCancelled
	switch {
	case clearRetry:
		e.NextRetryAt = nil
	case fields.NextRetryAt != nil:
		e.NextRetryAt = fields.NextRetryAt
	}
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *FakeRepository) AppendAttempt(ctx context.Context, a *DeliveryAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = time.Now().UTC()
	}
	cp := *a
	f.attempts[a.EventID] = append(f.attempts[a.EventID], &cp)
	return nil
}

func (f *FakeRepository) ClaimBatch(ctx context.Context, limit int) ([]*DeliveryEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	now := time.Now().UTC()
	var candidates []*DeliveryEvent
	for _, e := range f.events {
		if e.Status != StatusPending && e.Status != StatusFailed {
			continue
		}
		if e.NextRetryAt != nil && e.NextRetryAt.After(now) {
			continue
		}
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return readyTime(candidates[i]).Before(readyTime(candidates[j]))
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]*DeliveryEvent, 0, len(candidates))
	for _, e := range candidates {
		e.Status = StatusProcessing
		e.AttemptsCount++
		e.UpdatedAt = now
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func readyTime(e *DeliveryEvent) time.Time {
	if e.NextRetryAt != nil {
		return *e.NextRetryAt
	}
	return e.CreatedAt
}

func (f *FakeRepository) QueryByStatus(ctx context.Context, tenantID string, statuses []Status, readyBefore *time.Time, limit int) ([]*DeliveryEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[Status]bool{}
	for _, s := range statuses {
		want[s] = true
	}
	var out []*DeliveryEvent
	for _, e := range f.events {
		if e.TenantID != tenantID || !want[e.Status] {
			continue
		}
		if readyBefore != nil && readyTime(e).After(*readyBefore) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return readyTime(out[i]).Before(readyTime(out[j])) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *FakeRepository) StatsByWindow(ctx context.Context, tenantID string, hours int) (*Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	s := &Stats{TenantID: tenantID, WindowHours: hours}
	for _, e := range f.events {
		if e.TenantID != tenantID || e.CreatedAt.Before(since) {
			continue
		}
		s.TotalEvents++
		switch e.Status {
		case StatusDelivered:
			s.DeliveredCount++
		case StatusFailed:
			s.FailedCount++
		case StatusDLQ:
			s.DLQCount++
		case StatusPending:
			s.PendingCount++
		}
	}
	if s.TotalEvents > 0 {
		s.ErrorRatePct = 100 * float64(s.FailedCount+s.DLQCount) / float64(s.TotalEvents)
	}
	return s, nil
}

func (f *FakeRepository) StatsByWindowMinutes(ctx context.Context, tenantID string, minutes int) (*Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	since := time.Now().UTC().Add(-time.Duration(minutes) * time.Minute)
	s := &Stats{TenantID: tenantID}
	for _, e := range f.events {
		if e.TenantID != tenantID || e.CreatedAt.Before(since) {
			continue
		}
		s.TotalEvents++
		switch e.Status {
		case StatusDelivered:
			s.DeliveredCount++
		case StatusFailed:
			s.FailedCount++
		case StatusDLQ:
			s.DLQCount++
		case StatusPending:
			s.PendingCount++
		}
	}
	if s.TotalEvents > 0 {
		s.ErrorRatePct = 100 * float64(s.FailedCount+s.DLQCount) / float64(s.TotalEvents)
	}
	return s, nil
}

func (f *FakeRepository) AvgDeliveryLatencyMS(ctx context.Context, tenantID string, minutes int) (float64, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	since := time.Now().UTC().Add(-time.Duration(minutes) * time.Minute)
	var total float64
	var count int
	for _, e := range f.events {
		if e.TenantID != tenantID || e.Status != StatusDelivered || e.DeliveredAt == nil || e.DeliveredAt.Before(since) {
			continue
		}
		total += float64(e.DeliveredAt.Sub(e.CreatedAt).Milliseconds())
		count++
	}
	if count == 0 {
		return 0, 0, nil
	}
	return total / float64(count), count, nil
}

func (f *FakeRepository) ConsecutiveFailureStreaks(ctx context.Context, tenantID string, limit int) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit <= 0 {
		limit = 10
	}
	type attemptRow struct {
		destinationID string
		attemptedAt   time.Time
		success       bool
	}
	var rows []attemptRow
	for _, e := range f.events {
		if e.TenantID != tenantID {
			continue
		}
		for _, a := range f.attempts[e.ID] {
			success := a.StatusCode != nil && *a.StatusCode >= 200 && *a.StatusCode < 300
			rows = append(rows, attemptRow{destinationID: e.DestinationID, attemptedAt: a.AttemptedAt, success: success})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].attemptedAt.After(rows[j].attemptedAt) })

	streaks := map[string]int{}
	seenCount := map[string]int{}
	broken := map[string]bool{}
	for _, r := range rows {
		if broken[r.destinationID] || seenCount[r.destinationID] >= limit {
			continue
		}
		seenCount[r.destinationID]++
		if r.success {
			broken[r.destinationID] = true
			continue
		}
		streaks[r.destinationID]++
	}
	return streaks, nil
}

func (f *FakeRepository) CountByStatus(ctx context.Context, tenantID string, status Status) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, e := range f.events {
		if e.TenantID == tenantID && e.Status == status {
			count++
		}
	}
	return count, nil
}

func (f *FakeRepository) ListAttempts(ctx context.Context, eventID string) ([]*DeliveryAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*DeliveryAttempt, len(f.attempts[eventID]))
	copy(out, f.attempts[eventID])
	return out, nil
}
