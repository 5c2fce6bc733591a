// Package logsink is the append-only structured event log described for
// every tenant: a write path for categorized entries and a filtered read
// path, mirrored to the process's own structured logger.
package logsink

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	apperrors "github.com/metahub/integrationhub/internal/errors"
)

// Level is the closed set of EventLog severities.
type Level string

const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Category is the closed set of EventLog categories.
type Category string

const (
	CategoryWebhook  Category = "webhook"
	CategoryDelivery Category = "delivery"
	CategoryOAuth    Category = "oauth"
	CategoryWhatsApp Category = "whatsapp"
	CategoryMapping  Category = "mapping"
	CategorySystem   Category = "system"
	CategoryBilling  Category = "billing"
	CategoryAuth     Category = "auth"
	CategoryAlert    Category = "alert"
)

// Entry is one append-only EventLog row.
type Entry struct {
	ID          string
	TenantID    string
	Level       Level
	Category    Category
	Action      string
	Message     string
	ResourceRef *string
	Metadata    map[string]interface{}
	DurationMS  *int64
	CreatedAt   time.Time
}

// Filter narrows a Query call.
type Filter struct {
	Level        *Level
	Category     *Category
	MessageLike  string
	Limit        int
}

// Sink is the append-only log's read/write surface.
type Sink interface {
	Write(ctx context.Context, e Entry) error
	Query(ctx context.Context, tenantID string, f Filter) ([]Entry, error)
}

// PostgresSink persists entries to Postgres and mirrors them to a logrus
// logger the way the teacher's telemetry.Logger wraps logrus.
type PostgresSink struct {
	db     *sql.DB
	logger *logrus.Logger
}

func NewPostgresSink(db *sql.DB, logger *logrus.Logger) *PostgresSink {
	if logger == nil {
		logger = logrus.New()
	}
	return &PostgresSink{db: db, logger: logger}
}

func (s *PostgresSink) Write(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	metaJSON, err := marshalMeta(e.Metadata)
	if err != nil {
		return apperrors.NewValidationError("metadata", "must be valid JSON")
	}

	query := `
		INSERT INTO event_logs (id, tenant_id, level, category, action, message,
			resource_ref, metadata, duration_ms, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	if _, err := s.db.ExecContext(ctx, query, e.ID, e.TenantID, e.Level, e.Category, e.Action,
		e.Message, e.ResourceRef, metaJSON, e.DurationMS, e.CreatedAt); err != nil {
		return apperrors.NewTransientError("logsink.Write", err)
	}

	s.mirror(e)
	return nil
}

func (s *PostgresSink) mirror(e Entry) {
	fields := logrus.Fields{
		"tenant_id": e.TenantID,
		"category":  e.Category,
		"action":    e.Action,
	}
	if e.ResourceRef != nil {
		fields["resource_ref"] = *e.ResourceRef
	}
	if e.DurationMS != nil {
		fields["duration_ms"] = *e.DurationMS
	}
	entry := s.logger.WithFields(fields)
	switch e.Level {
	case LevelDebug:
		entry.Debug(e.Message)
	case LevelWarn:
		entry.Warn(e.Message)
	case LevelError, LevelCritical:
		entry.Error(e.Message)
	default:
		entry.Info(e.Message)
	}
}

func (s *PostgresSink) Query(ctx context.Context, tenantID string, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, tenant_id, level, category, action, message, resource_ref,
			metadata, duration_ms, created_at
		FROM event_logs
		WHERE tenant_id=$1
			AND ($2::text IS NULL OR level=$2)
			AND ($3::text IS NULL OR category=$3)
			AND ($4::text IS NULL OR message ILIKE '%' || $4 || '%')
		ORDER BY created_at DESC
		LIMIT $5`
	rows, err := s.db.QueryContext(ctx, query, tenantID, nullableLevel(f.Level), nullableCategory(f.Category),
		nullableString(f.MessageLike), limit)
	if err != nil {
		return nil, apperrors.NewTransientError("logsink.Query", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var metaJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Level, &e.Category, &e.Action, &e.Message,
			&e.ResourceRef, &metaJSON, &e.DurationMS, &e.CreatedAt); err != nil {
			return nil, apperrors.NewTransientError("logsink.Query scan", err)
		}
		meta, err := unmarshalMeta(metaJSON)
		if err != nil {
			return nil, err
		}
		e.Metadata = meta
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalMeta(m map[string]interface{}) (interface{}, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalMeta(ns sql.NullString) (map[string]interface{}, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func nullableLevel(l *Level) interface{} {
	if l == nil {
		return nil
	}
	return string(*l)
}

func nullableCategory(c *Category) interface{} {
	if c == nil {
		return nil
	}
	return string(*c)
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
