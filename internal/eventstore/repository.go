package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	apperrors "github.com/metahub/integrationhub/internal/errors"
	"github.com/lib/pq"
)

// TransitionFields carries the state-dependent column updates accompanying
// a status transition (error_message, delivered_at, next_retry_at, ...).
type TransitionFields struct {
	ErrorMessage     *string
	DeliveredAt      *time.Time
	FailedAt         *time.Time
	NextRetryAt      *time.Time
	ClearRetry       bool // when true, sets next_retry_at = NULL even if NextRetryAt is nil
	ResetAttempts    bool // when true, sets attempts_count = 0 (the resend path)
	ClearErrorMessage bool
}

// Repository is the durable store for DeliveryEvents and DeliveryAttempts.
type Repository interface {
	Create(ctx context.Context, e *DeliveryEvent) error
	GetByID(ctx context.Context, tenantID, id string) (*DeliveryEvent, error)
	// Transition performs an optimistic-concurrency status change: the
	// update only applies if the row's current status equals from. A
	// mismatch returns a ConflictError the caller is expected to ignore on
	// worker paths (someone else already advanced this event).
	Transition(ctx context.Context, id string, from, to Status, fields TransitionFields) error
	AppendAttempt(ctx context.Context, a *DeliveryAttempt) error
	// ClaimBatch atomically transitions up to limit events in
	// {pending, failed} with next_retry_at <= now (or null) into
	// processing, bumping attempts_count, oldest-ready first, and returns
	// the claimed rows.
	ClaimBatch(ctx context.Context, limit int) ([]*DeliveryEvent, error)
	QueryByStatus(ctx context.Context, tenantID string, statuses []Status, readyBefore *time.Time, limit int) ([]*DeliveryEvent, error)
	StatsByWindow(ctx context.Context, tenantID string, hours int) (*Stats, error)
	ListAttempts(ctx context.Context, eventID string) ([]*DeliveryAttempt, error)
	// StatsByWindowMinutes is StatsByWindow at minute granularity, for the
	// Alert Evaluator's error_rate/no_events conditions whose
	// configured windows are far shorter than an hour.
	StatsByWindowMinutes(ctx context.Context, tenantID string, minutes int) (*Stats, error)
	// AvgDeliveryLatencyMS averages created_at->delivered_at over delivered
	// events in the window, for the latency_threshold condition.
	AvgDeliveryLatencyMS(ctx context.Context, tenantID string, minutes int) (avgMS float64, sampleCount int, err error)
	// ConsecutiveFailureStreaks reports, for every destination with at
	// least one attempt, how many of its most recent attempts (looking
	// back at most limit) were consecutive failures, for the
	// consecutive_fails condition.
	ConsecutiveFailureStreaks(ctx context.Context, tenantID string, limit int) (map[string]int, error)
	// CountByStatus returns the current, unwindowed count of events in the
	// given status, for the dlq_threshold condition ("count of events in
	// status=dlq >= threshold" — dlq is a terminal state, not a rolling
	// window measurement).
	CountByStatus(ctx context.Context, tenantID string, status Status) (int, error)
}

// PostgresRepository implements Repository over database/sql + lib/pq.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, e *DeliveryEvent) error {
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = DefaultMaxAttempts
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
	metaJSON, err := marshalMetadata(e.Metadata)
	if err != nil {
		return apperrors.NewValidationError("metadata", "must be valid JSON")
	}

	query := `
		INSERT INTO delivery_events (id, tenant_id, route_id, destination_id, source_type,
			source_event_id, payload, transformed_payload, status, attempts_count,
			max_attempts, next_retry_at, metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at, updated_at`
	now := time.Now().UTC()
	row := r.db.QueryRowContext(ctx, query, e.ID, e.TenantID, e.RouteID, e.DestinationID,
		e.SourceType, e.SourceEventID, e.Payload, e.TransformedPayload, e.Status,
		e.AttemptsCount, e.MaxAttempts, e.NextRetryAt, metaJSON, now, now)
	if err := row.Scan(&e.CreatedAt, &e.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewConflictError("an event for this source_event_id already exists")
		}
		return apperrors.NewTransientError("eventstore.Create", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, tenantID, id string) (*DeliveryEvent, error) {
	query := `
		SELECT id, tenant_id, route_id, destination_id, source_type, source_event_id,
			payload, transformed_payload, status, attempts_count, max_attempts,
			next_retry_at, delivered_at, failed_at, error_message, metadata,
			created_at, updated_at
		FROM delivery_events WHERE id=$1 AND tenant_id=$2`
	row := r.db.QueryRowContext(ctx, query, id, tenantID)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("delivery_event")
	}
	if err != nil {
		return nil, apperrors.NewTransientError("eventstore.GetByID", err)
	}
	return e, nil
}

func (r *PostgresRepository) Transition(ctx context.Context, id string, from, to Status, fields TransitionFields) error {
	nextRetry := fields.NextRetryAt
	clearRetry := fields.ClearRetry || to == StatusDelivered || to == StatusDLQ || to == StatusCancelled

	query := `
		UPDATE delivery_events
		SET status=$1,
			attempts_count = CASE WHEN $10 THEN 0 WHEN $1='processing' THEN attempts_count+1 ELSE attempts_count END,
			error_message = CASE WHEN $11 THEN NULL ELSE COALESCE($2, error_message) END,
			delivered_at = COALESCE($3, delivered_at),
			failed_at = COALESCE($4, failed_at),
			next_retry_at = CASE WHEN $5 THEN NULL ELSE COALESCE($6, next_retry_at) END,
			updated_at = $7
		WHERE id=$8 AND status=$9`
	res, err := r.db.ExecContext(ctx, query, to, fields.ErrorMessage, fields.DeliveredAt,
		fields.FailedAt, clearRetry, nextRetry, time.Now().UTC(), id, from,
		fields.ResetAttempts, fields.ClearErrorMessage)
	if err != nil {
		return apperrors.NewTransientError("eventstore.Transition", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewTransientError("eventstore.Transition rowsAffected", err)
	}
	if n == 0 {
		return apperrors.NewConflictError("event is not in the expected status for this transition")
	}
	return nil
}

func (r *PostgresRepository) AppendAttempt(ctx context.Context, a *DeliveryAttempt) error {
	query := `
		INSERT INTO delivery_attempts (id, event_id, attempt_number, request_url,
			request_method, status_code, response_body, error_message, duration_ms, attempted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, query, a.ID, a.EventID, a.AttemptNumber, a.RequestURL,
		a.RequestMethod, a.StatusCode, a.ResponseBody, a.ErrorMessage, a.DurationMS, a.AttemptedAt)
	if err != nil {
		return apperrors.NewTransientError("eventstore.AppendAttempt", err)
	}
	return nil
}

func (r *PostgresRepository) ClaimBatch(ctx context.Context, limit int) ([]*DeliveryEvent, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	query := `
		UPDATE delivery_events
		SET status='processing', attempts_count = attempts_count + 1, updated_at=$1
		WHERE id IN (
			SELECT id FROM delivery_events
			WHERE status IN ('pending','failed') AND (next_retry_at IS NULL OR next_retry_at <= $1)
			ORDER BY COALESCE(next_retry_at, created_at) ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, tenant_id, route_id, destination_id, source_type, source_event_id,
			payload, transformed_payload, status, attempts_count, max_attempts,
			next_retry_at, delivered_at, failed_at, error_message, metadata,
			created_at, updated_at`
	rows, err := r.db.QueryContext(ctx, query, time.Now().UTC(), limit)
	if err != nil {
		return nil, apperrors.NewTransientError("eventstore.ClaimBatch", err)
	}
	defer rows.Close()

	var out []*DeliveryEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, apperrors.NewTransientError("eventstore.ClaimBatch scan", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) QueryByStatus(ctx context.Context, tenantID string, statuses []Status, readyBefore *time.Time, limit int) ([]*DeliveryEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, tenant_id, route_id, destination_id, source_type, source_event_id,
			payload, transformed_payload, status, attempts_count, max_attempts,
			next_retry_at, delivered_at, failed_at, error_message, metadata,
			created_at, updated_at
		FROM delivery_events
		WHERE tenant_id=$1 AND status = ANY($2) AND ($3::timestamptz IS NULL OR COALESCE(next_retry_at, created_at) <= $3)
		ORDER BY COALESCE(next_retry_at, created_at) ASC
		LIMIT $4`
	rows, err := r.db.QueryContext(ctx, query, tenantID, pq.Array(statusSlice(statuses)), readyBefore, limit)
	if err != nil {
		return nil, apperrors.NewTransientError("eventstore.QueryByStatus", err)
	}
	defer rows.Close()

	var out []*DeliveryEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, apperrors.NewTransientError("eventstore.QueryByStatus scan", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) StatsByWindow(ctx context.Context, tenantID string, hours int) (*Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status='delivered'),
			COUNT(*) FILTER (WHERE status='failed'),
			COUNT(*) FILTER (WHERE status='dlq'),
			COUNT(*) FILTER (WHERE status='pending')
		FROM delivery_events
		WHERE tenant_id=$1 AND created_at >= $2`
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	row := r.db.QueryRowContext(ctx, query, tenantID, since)

	s := &Stats{TenantID: tenantID, WindowHours: hours}
	if err := row.Scan(&s.TotalEvents, &s.DeliveredCount, &s.FailedCount, &s.DLQCount, &s.PendingCount); err != nil {
		return nil, apperrors.NewTransientError("eventstore.StatsByWindow", err)
	}
	if s.TotalEvents > 0 {
		s.ErrorRatePct = 100 * float64(s.FailedCount+s.DLQCount) / float64(s.TotalEvents)
	}
	return s, nil
}

func (r *PostgresRepository) StatsByWindowMinutes(ctx context.Context, tenantID string, minutes int) (*Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status='delivered'),
			COUNT(*) FILTER (WHERE status='failed'),
			COUNT(*) FILTER (WHERE status='dlq'),
			COUNT(*) FILTER (WHERE status='pending')
		FROM delivery_events
		WHERE tenant_id=$1 AND created_at >= $2`
	since := time.Now().UTC().Add(-time.Duration(minutes) * time.Minute)
	row := r.db.QueryRowContext(ctx, query, tenantID, since)

	s := &Stats{TenantID: tenantID}
	if err := row.Scan(&s.TotalEvents, &s.DeliveredCount, &s.FailedCount, &s.DLQCount, &s.PendingCount); err != nil {
		return nil, apperrors.NewTransientError("eventstore.StatsByWindowMinutes", err)
	}
	if s.TotalEvents > 0 {
		s.ErrorRatePct = 100 * float64(s.FailedCount+s.DLQCount) / float64(s.TotalEvents)
	}
	return s, nil
}

func (r *PostgresRepository) AvgDeliveryLatencyMS(ctx context.Context, tenantID string, minutes int) (float64, int, error) {
	query := `
		SELECT COALESCE(AVG(EXTRACT(EPOCH FROM (delivered_at - created_at)) * 1000), 0), COUNT(*)
		FROM delivery_events
		WHERE tenant_id=$1 AND status='delivered' AND delivered_at >= $2`
	since := time.Now().UTC().Add(-time.Duration(minutes) * time.Minute)
	row := r.db.QueryRowContext(ctx, query, tenantID, since)
	var avgMS float64
	var count int
	if err := row.Scan(&avgMS, &count); err != nil {
		return 0, 0, apperrors.NewTransientError("eventstore.AvgDeliveryLatencyMS", err)
	}
	return avgMS, count, nil
}

func (r *PostgresRepository) ConsecutiveFailureStreaks(ctx context.Context, tenantID string, limit int) (map[string]int, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT e.destination_id, a.status_code, a.error_message
		FROM delivery_attempts a
		JOIN delivery_events e ON e.id = a.event_id
		WHERE e.tenant_id = $1
		ORDER BY e.destination_id, a.attempted_at DESC`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, apperrors.NewTransientError("eventstore.ConsecutiveFailureStreaks", err)
	}
	defer rows.Close()

	streaks := map[string]int{}
	seenCount := map[string]int{}
	broken := map[string]bool{}
	for rows.Next() {
		var destinationID, errMsg string
		var statusCode sql.NullInt64
		if err := rows.Scan(&destinationID, &statusCode, &errMsg); err != nil {
			return nil, apperrors.NewTransientError("eventstore.ConsecutiveFailureStreaks scan", err)
		}
		if seenCount[destinationID] >= limit || broken[destinationID] {
			continue
		}
		seenCount[destinationID]++
		success := statusCode.Valid && statusCode.Int64 >= 200 && statusCode.Int64 < 300
		if success {
			broken[destinationID] = true
			continue
		}
		streaks[destinationID]++
	}
	return streaks, rows.Err()
}

func (r *PostgresRepository) CountByStatus(ctx context.Context, tenantID string, status Status) (int, error) {
	var count int
	row := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM delivery_events WHERE tenant_id=$1 AND status=$2`, tenantID, status)
	if err := row.Scan(&count); err != nil {
		return 0, apperrors.NewTransientError("eventstore.CountByStatus", err)
	}
	return count, nil
}

func (r *PostgresRepository) ListAttempts(ctx context.Context, eventID string) ([]*DeliveryAttempt, error) {
	query := `
		SELECT id, event_id, attempt_number, request_url, request_method, status_code,
			response_body, error_message, duration_ms, attempted_at
		FROM delivery_attempts WHERE event_id=$1 ORDER BY attempt_number ASC`
	rows, err := r.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, apperrors.NewTransientError("eventstore.ListAttempts", err)
	}
	defer rows.Close()

	var out []*DeliveryAttempt
	for rows.Next() {
		var a DeliveryAttempt
		if err := rows.Scan(&a.ID, &a.EventID, &a.AttemptNumber, &a.RequestURL, &a.RequestMethod,
			&a.StatusCode, &a.ResponseBody, &a.ErrorMessage, &a.DurationMS, &a.AttemptedAt); err != nil {
			return nil, apperrors.NewTransientError("eventstore.ListAttempts scan", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*DeliveryEvent, error) {
	var e DeliveryEvent
	var metaJSON sql.NullString
	if err := row.Scan(&e.ID, &e.TenantID, &e.RouteID, &e.DestinationID, &e.SourceType,
		&e.SourceEventID, &e.Payload, &e.TransformedPayload, &e.Status, &e.AttemptsCount,
		&e.MaxAttempts, &e.NextRetryAt, &e.DeliveredAt, &e.FailedAt, &e.ErrorMessage,
		&metaJSON, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	meta, err := unmarshalMetadata(metaJSON)
	if err != nil {
		return nil, err
	}
	e.Metadata = meta
	return &e, nil
}

func marshalMetadata(m map[string]interface{}) (interface{}, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalMetadata(ns sql.NullString) (map[string]interface{}, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func statusSlice(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// isUniqueViolation mirrors the teacher's notification repository check
// for a lib/pq unique_violation (SQLSTATE 23505) on the optional
// (tenant_id, source_type, source_event_id) idempotency index.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
