package mapping

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	apperrors "github.com/metahub/integrationhub/internal/errors"
)

// StoredMapping adds tenant ownership and naming to a Mapping so it can be
// referenced by id from a Route.
type StoredMapping struct {
	Mapping
	ID        string
	TenantID  string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository persists Mappings.
type Repository interface {
	Create(ctx context.Context, m *StoredMapping) error
	Update(ctx context.Context, m *StoredMapping) error
	GetByID(ctx context.Context, tenantID, id string) (*StoredMapping, bool, error)
}

// PostgresRepository implements Repository over database/sql.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func validateStructure(m *StoredMapping) error {
	if m.Mode != ModeFieldMap && m.Mode != ModeTemplate {
		return apperrors.NewValidationError("mode", "must be field_map or template")
	}
	if m.Mode == ModeTemplate && m.Template == "" {
		return apperrors.NewValidationError("template", "required in template mode")
	}
	if m.Mode == ModeFieldMap && len(m.Rules) == 0 && !m.PassThrough {
		return apperrors.NewValidationError("rules", "field_map mode needs at least one rule or pass_through")
	}
	return nil
}

func (r *PostgresRepository) Create(ctx context.Context, m *StoredMapping) error {
	if err := validateStructure(m); err != nil {
		return err
	}
	body, err := json.Marshal(m.Mapping)
	if err != nil {
		return apperrors.NewValidationError("mapping", "must be valid JSON")
	}
	query := `
		INSERT INTO mappings (id, tenant_id, name, body, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$5)
		RETURNING created_at, updated_at`
	now := time.Now().UTC()
	row := r.db.QueryRowContext(ctx, query, m.ID, m.TenantID, m.Name, string(body), now)
	if err := row.Scan(&m.CreatedAt, &m.UpdatedAt); err != nil {
		return apperrors.NewTransientError("mapping.Create", err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, m *StoredMapping) error {
	if err := validateStructure(m); err != nil {
		return err
	}
	body, err := json.Marshal(m.Mapping)
	if err != nil {
		return apperrors.NewValidationError("mapping", "must be valid JSON")
	}
	query := `
		UPDATE mappings SET name=$3, body=$4, updated_at=$5
		WHERE id=$1 AND tenant_id=$2`
	res, err := r.db.ExecContext(ctx, query, m.ID, m.TenantID, m.Name, string(body), time.Now().UTC())
	if err != nil {
		return apperrors.NewTransientError("mapping.Update", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("mapping")
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, tenantID, id string) (*StoredMapping, bool, error) {
	query := `SELECT id, tenant_id, name, body, created_at, updated_at FROM mappings WHERE id=$1 AND tenant_id=$2`
	row := r.db.QueryRowContext(ctx, query, id, tenantID)
	var sm StoredMapping
	var body string
	if err := row.Scan(&sm.ID, &sm.TenantID, &sm.Name, &body, &sm.CreatedAt, &sm.UpdatedAt); err == sql.ErrNoRows {
		return nil, false, nil
	} else if err != nil {
		return nil, false, apperrors.NewTransientError("mapping.GetByID", err)
	}
	if err := json.Unmarshal([]byte(body), &sm.Mapping); err != nil {
		return nil, false, apperrors.NewTransientError("mapping.GetByID", err)
	}
	return &sm, true, nil
}

// FakeRepository is an in-memory Repository for unit tests.
type FakeRepository struct {
	mu    sync.Mutex
	store map[string]*StoredMapping
}

func NewFakeRepository() *FakeRepository {
	return &FakeRepository{store: map[string]*StoredMapping{}}
}

func (f *FakeRepository) Create(ctx context.Context, m *StoredMapping) error {
	if err := validateStructure(m); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	cp := *m
	f.store[m.ID] = &cp
	return nil
}

func (f *FakeRepository) Update(ctx context.Context, m *StoredMapping) error {
	if err := validateStructure(m); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.store[m.ID]
	if !ok || existing.TenantID != m.TenantID {
		return apperrors.NewNotFoundError("mapping")
	}
	m.CreatedAt = existing.CreatedAt
	m.UpdatedAt = time.Now().UTC()
	cp := *m
	f.store[m.ID] = &cp
	return nil
}

func (f *FakeRepository) GetByID(ctx context.Context, tenantID, id string) (*StoredMapping, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.store[id]
	if !ok || m.TenantID != tenantID {
		return nil, false, nil
	}
	cp := *m
	return &cp, true, nil
}
