package alert

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	apperrors "github.com/metahub/integrationhub/internal/errors"
)

// Repository persists AlertRules and AlertHistory rows.
type Repository interface {
	ListActiveRules(ctx context.Context) ([]*Rule, error)
	GetRule(ctx context.Context, tenantID, id string) (*Rule, error)
	SaveRule(ctx context.Context, r *Rule) error
	CreateHistory(ctx context.Context, h *History) error
	GetHistory(ctx context.Context, tenantID, id string) (*History, error)
	UpdateHistory(ctx context.Context, h *History) error
}

// PostgresRepository implements Repository over database/sql.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ListActiveRules(ctx context.Context) ([]*Rule, error) {
	query := `
		SELECT id, tenant_id, name, condition_type, condition_config, notify_channels,
			notify_config, cooldown_minutes, last_triggered_at, trigger_count, is_active,
			created_at, updated_at
		FROM alert_rules WHERE is_active=true`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.NewTransientError("alert.ListActiveRules", err)
	}
	defer rows.Close()

	var out []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, apperrors.NewTransientError("alert.ListActiveRules scan", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetRule(ctx context.Context, tenantID, id string) (*Rule, error) {
	query := `
		SELECT id, tenant_id, name, condition_type, condition_config, notify_channels,
			notify_config, cooldown_minutes, last_triggered_at, trigger_count, is_active,
			created_at, updated_at
		FROM alert_rules WHERE id=$1 AND tenant_id=$2`
	row := r.db.QueryRowContext(ctx, query, id, tenantID)
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("alert_rule")
	}
	if err != nil {
		return nil, apperrors.NewTransientError("alert.GetRule", err)
	}
	return rule, nil
}

func (r *PostgresRepository) SaveRule(ctx context.Context, rule *Rule) error {
	condJSON, err := json.Marshal(rule.ConditionConfig)
	if err != nil {
		return apperrors.NewValidationError("condition_config", "must be valid JSON")
	}
	notifyJSON, err := json.Marshal(rule.NotifyConfig)
	if err != nil {
		return apperrors.NewValidationError("notify_config", "must be valid JSON")
	}
	channelsJSON, err := json.Marshal(rule.NotifyChannels)
	if err != nil {
		return apperrors.NewValidationError("notify_channels", "must be valid JSON")
	}
	query := `
		INSERT INTO alert_rules (id, tenant_id, name, condition_type, condition_config,
			notify_channels, notify_config, cooldown_minutes, last_triggered_at,
			trigger_count, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
		ON CONFLICT (id) DO UPDATE SET
			name=$3, condition_type=$4, condition_config=$5, notify_channels=$6,
			notify_config=$7, cooldown_minutes=$8, last_triggered_at=$9,
			trigger_count=$10, is_active=$11, updated_at=$12`
	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, query, rule.ID, rule.TenantID, rule.Name, rule.ConditionType,
		string(condJSON), string(channelsJSON), string(notifyJSON), rule.CooldownMinutes,
		rule.LastTriggeredAt, rule.TriggerCount, rule.IsActive, now)
	if err != nil {
		return apperrors.NewTransientError("alert.SaveRule", err)
	}
	return nil
}

func (r *PostgresRepository) CreateHistory(ctx context.Context, h *History) error {
	snapshotJSON, err := json.Marshal(h.ConditionSnapshot)
	if err != nil {
		return apperrors.NewValidationError("condition_snapshot", "must be valid JSON")
	}
	viaJSON, err := json.Marshal(h.NotifiedVia)
	if err != nil {
		return apperrors.NewValidationError("notified_via", "must be valid JSON")
	}
	query := `
		INSERT INTO alert_history (id, tenant_id, rule_id, status, condition_snapshot,
			notified_via, acknowledged_by, acknowledged_at, resolved_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`
	now := time.Now().UTC()
	row := r.db.QueryRowContext(ctx, query, h.ID, h.TenantID, h.RuleID, h.Status,
		string(snapshotJSON), string(viaJSON), h.AcknowledgedBy, h.AcknowledgedAt, h.ResolvedAt, now)
	return unwrapScanErr(row.Scan(&h.CreatedAt), "alert.CreateHistory")
}

func (r *PostgresRepository) GetHistory(ctx context.Context, tenantID, id string) (*History, error) {
	query := `
		SELECT id, tenant_id, rule_id, status, condition_snapshot, notified_via,
			acknowledged_by, acknowledged_at, resolved_at, created_at
		FROM alert_history WHERE id=$1 AND tenant_id=$2`
	row := r.db.QueryRowContext(ctx, query, id, tenantID)
	h, err := scanHistory(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("alert_history")
	}
	if err != nil {
		return nil, apperrors.NewTransientError("alert.GetHistory", err)
	}
	return h, nil
}

func (r *PostgresRepository) UpdateHistory(ctx context.Context, h *History) error {
	viaJSON, err := json.Marshal(h.NotifiedVia)
	if err != nil {
		return apperrors.NewValidationError("notified_via", "must be valid JSON")
	}
	query := `
		UPDATE alert_history SET status=$3, notified_via=$4, acknowledged_by=$5,
			acknowledged_at=$6, resolved_at=$7
		WHERE id=$1 AND tenant_id=$2`
	res, err := r.db.ExecContext(ctx, query, h.ID, h.TenantID, h.Status, string(viaJSON),
		h.AcknowledgedBy, h.AcknowledgedAt, h.ResolvedAt)
	if err != nil {
		return apperrors.NewTransientError("alert.UpdateHistory", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("alert_history")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var r Rule
	var condJSON, notifyJSON, channelsJSON sql.NullString
	if err := row.Scan(&r.ID, &r.TenantID, &r.Name, &r.ConditionType, &condJSON,
		&channelsJSON, &notifyJSON, &r.CooldownMinutes, &r.LastTriggeredAt,
		&r.TriggerCount, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if condJSON.Valid && condJSON.String != "" {
		if err := json.Unmarshal([]byte(condJSON.String), &r.ConditionConfig); err != nil {
			return nil, err
		}
	}
	if notifyJSON.Valid && notifyJSON.String != "" {
		if err := json.Unmarshal([]byte(notifyJSON.String), &r.NotifyConfig); err != nil {
			return nil, err
		}
	}
	if channelsJSON.Valid && channelsJSON.String != "" {
		if err := json.Unmarshal([]byte(channelsJSON.String), &r.NotifyChannels); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

func scanHistory(row rowScanner) (*History, error) {
	var h History
	var snapshotJSON, viaJSON sql.NullString
	if err := row.Scan(&h.ID, &h.TenantID, &h.RuleID, &h.Status, &snapshotJSON,
		&viaJSON, &h.AcknowledgedBy, &h.AcknowledgedAt, &h.ResolvedAt, &h.CreatedAt); err != nil {
		return nil, err
	}
	if snapshotJSON.Valid && snapshotJSON.String != "" {
		if err := json.Unmarshal([]byte(snapshotJSON.String), &h.ConditionSnapshot); err != nil {
			return nil, err
		}
	}
	if viaJSON.Valid && viaJSON.String != "" {
		if err := json.Unmarshal([]byte(viaJSON.String), &h.NotifiedVia); err != nil {
			return nil, err
		}
	}
	return &h, nil
}

func unwrapScanErr(err error, op string) error {
	if err != nil {
		return apperrors.NewTransientError(op, err)
	}
	return nil
}

// FakeRepository is an in-memory Repository for unit tests.
type FakeRepository struct {
	mu      sync.Mutex
	rules   map[string]*Rule
	history map[string]*History
}

func NewFakeRepository() *FakeRepository {
	return &FakeRepository{rules: map[string]*Rule{}, history: map[string]*History{}}
}

func (f *FakeRepository) ListActiveRules(ctx context.Context) ([]*Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Rule
	for _, r := range f.rules {
		if r.IsActive {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *FakeRepository) GetRule(ctx context.Context, tenantID, id string) (*Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rules[id]
	if !ok || r.TenantID != tenantID {
		return nil, apperrors.NewNotFoundError("alert_rule")
	}
	cp := *r
	return &cp, nil
}

func (f *FakeRepository) SaveRule(ctx context.Context, rule *Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := f.rules[rule.ID]; ok {
		rule.CreatedAt = existing.CreatedAt
	} else {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	cp := *rule
	f.rules[rule.ID] = &cp
	return nil
}

func (f *FakeRepository) CreateHistory(ctx context.Context, h *History) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h.CreatedAt = time.Now().UTC()
	cp := *h
	f.history[h.ID] = &cp
	return nil
}

func (f *FakeRepository) GetHistory(ctx context.Context, tenantID, id string) (*History, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.history[id]
	if !ok || h.TenantID != tenantID {
		return nil, apperrors.NewNotFoundError("alert_history")
	}
	cp := *h
	return &cp, nil
}

func (f *FakeRepository) UpdateHistory(ctx context.Context, h *History) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.history[h.ID]
	if !ok || existing.TenantID != h.TenantID {
		return apperrors.NewNotFoundError("alert_history")
	}
	cp := *h
	f.history[h.ID] = &cp
	return nil
}
