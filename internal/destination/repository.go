package destination

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/url"
	"time"

	apperrors "github.com/metahub/integrationhub/internal/errors"
)

// StoredDestination adds the persistence-layer attributes (name,
// soft-delete, tenant ownership) to the Destination the Client consumes.
type StoredDestination struct {
	Destination
	TenantID  string
	Name      string
	IsActive  bool
	CreatedAt time.Time
	DeletedAt *time.Time
}

// Repository persists Destinations.
type Repository interface {
	Create(ctx context.Context, d *StoredDestination) error
	Update(ctx context.Context, d *StoredDestination) error
	GetByID(ctx context.Context, tenantID, id string) (*StoredDestination, error)
	// SoftDelete marks a destination inactive and deleted; callers are
	// responsible for cascading route deactivation (route.Repository).
	SoftDelete(ctx context.Context, tenantID, id string) error
}

// PostgresRepository implements Repository over database/sql + lib/pq.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func validate(d *StoredDestination) error {
	if _, err := url.ParseRequestURI(d.URL); err != nil {
		return apperrors.NewValidationError("url", "must be a valid absolute URL")
	}
	if d.TimeoutMS < 1000 || d.TimeoutMS > 30000 {
		return apperrors.NewValidationError("timeout_ms", "must be between 1000 and 30000")
	}
	return nil
}

func (r *PostgresRepository) Create(ctx context.Context, d *StoredDestination) error {
	if err := validate(d); err != nil {
		return err
	}
	headersJSON, authJSON, err := encodeDestinationJSON(d)
	if err != nil {
		return apperrors.NewValidationError("headers", "must be valid JSON")
	}
	query := `
		INSERT INTO destinations (id, tenant_id, name, url, method, headers,
			auth_type, auth_config, timeout_ms, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at`
	row := r.db.QueryRowContext(ctx, query, d.ID, d.TenantID, d.Name, d.URL, d.Method,
		headersJSON, d.AuthType, authJSON, d.TimeoutMS, d.IsActive, time.Now().UTC())
	if err := row.Scan(&d.CreatedAt); err != nil {
		return apperrors.NewTransientError("destination.Create", err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, d *StoredDestination) error {
	if err := validate(d); err != nil {
		return err
	}
	headersJSON, authJSON, err := encodeDestinationJSON(d)
	if err != nil {
		return apperrors.NewValidationError("headers", "must be valid JSON")
	}
	query := `
		UPDATE destinations SET name=$3, url=$4, method=$5, headers=$6,
			auth_type=$7, auth_config=$8, timeout_ms=$9, is_active=$10
		WHERE id=$1 AND tenant_id=$2 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, d.ID, d.TenantID, d.Name, d.URL, d.Method,
		headersJSON, d.AuthType, authJSON, d.TimeoutMS, d.IsActive)
	if err != nil {
		return apperrors.NewTransientError("destination.Update", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("destination")
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, tenantID, id string) (*StoredDestination, error) {
	query := `
		SELECT id, tenant_id, name, url, method, headers, auth_type, auth_config,
			timeout_ms, is_active, created_at, deleted_at
		FROM destinations WHERE id=$1 AND tenant_id=$2`
	row := r.db.QueryRowContext(ctx, query, id, tenantID)
	d, err := scanDestination(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("destination")
	}
	if err != nil {
		return nil, apperrors.NewTransientError("destination.GetByID", err)
	}
	return d, nil
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, tenantID, id string) error {
	query := `UPDATE destinations SET is_active=false, deleted_at=$3 WHERE id=$1 AND tenant_id=$2`
	res, err := r.db.ExecContext(ctx, query, id, tenantID, time.Now().UTC())
	if err != nil {
		return apperrors.NewTransientError("destination.SoftDelete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("destination")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDestination(row rowScanner) (*StoredDestination, error) {
	var d StoredDestination
	var headersJSON, authJSON sql.NullString
	if err := row.Scan(&d.ID, &d.TenantID, &d.Name, &d.URL, &d.Method, &headersJSON,
		&d.AuthType, &authJSON, &d.TimeoutMS, &d.IsActive, &d.CreatedAt, &d.DeletedAt); err != nil {
		return nil, err
	}
	if headersJSON.Valid && headersJSON.String != "" {
		if err := json.Unmarshal([]byte(headersJSON.String), &d.Headers); err != nil {
			return nil, err
		}
	}
	if authJSON.Valid && authJSON.String != "" {
		if err := json.Unmarshal([]byte(authJSON.String), &d.AuthConfig); err != nil {
			return nil, err
		}
	}
	return &d, nil
}

func encodeDestinationJSON(d *StoredDestination) (interface{}, interface{}, error) {
	var headersJSON, authJSON interface{}
	if d.Headers != nil {
		b, err := json.Marshal(d.Headers)
		if err != nil {
			return nil, nil, err
		}
		headersJSON = string(b)
	}
	b, err := json.Marshal(d.AuthConfig)
	if err != nil {
		return nil, nil, err
	}
	authJSON = string(b)
	return headersJSON, authJSON, nil
}

// RepositoryLookup adapts Repository to the delivery.DestinationLookup
// interface, reporting a destination as inactive when it's soft-deleted
// or flagged is_active=false.
type RepositoryLookup struct {
	Repo Repository
}

func (l RepositoryLookup) Get(ctx context.Context, tenantID, destinationID string) (Destination, bool, error) {
	stored, err := l.Repo.GetByID(ctx, tenantID, destinationID)
	if apperrors.IsErrorType(err, apperrors.ErrorTypeNotFound) {
		return Destination{}, false, nil
	}
	if err != nil {
		return Destination{}, false, err
	}
	if !stored.IsActive || stored.DeletedAt != nil {
		return Destination{}, false, nil
	}
	return stored.Destination, true, nil
}
