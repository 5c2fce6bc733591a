// Package route resolves inbound webhook traffic to the set of active
// Routes that should receive it, in priority order, honoring each route's
// event_types filter.
package route

import (
	"context"
	"database/sql"
	"sort"
	"time"

	apperrors "github.com/metahub/integrationhub/internal/errors"
)

// Route binds a source to a destination, optionally through a mapping.
type Route struct {
	ID            string
	TenantID      string
	SourceType    string
	SourceID      *string // nil means catch-all
	DestinationID string
	MappingID     *string
	FilterRules   *FilterRules
	Priority      int
	IsActive      bool
	CreatedAt     time.Time
	DeletedAt     *time.Time
}

// FilterRules is the only defined filter today: event_types. A nil
// FilterRules (or one whose EventTypes is nil) means "accept all events" —
// the caller must normalize an empty-but-present array to nil before
// persisting (see Repository.Create/Update), so the resolver only ever
// has to handle the nil case.
type FilterRules struct {
	EventTypes []string `json:"event_types,omitempty"`
}

// Matches reports whether eventType passes this route's filter_rules.
// A nil receiver, or one with no EventTypes, accepts everything.
func (f *FilterRules) Matches(eventType string) bool {
	if f == nil || len(f.EventTypes) == 0 {
		return true
	}
	for _, t := range f.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// NormalizeFilterRules implements the open-question decision that an
// empty-array filter_rules is indistinguishable from an absent one: both
// collapse to nil so the resolver only has one "no filter" representation.
func NormalizeFilterRules(f *FilterRules) *FilterRules {
	if f == nil || len(f.EventTypes) == 0 {
		return nil
	}
	return f
}

// Repository persists and resolves Routes.
type Repository interface {
	Create(ctx context.Context, r *Route) error
	Update(ctx context.Context, r *Route) error
	GetByID(ctx context.Context, tenantID, id string) (*Route, error)
	// Resolve returns active, non-deleted routes matching sourceType and
	// (sourceID or catch-all), sorted by priority desc then creation time
	// asc. Callers apply event-type filtering themselves via Matches since
	// that decision needs the specific event's type, not just the source.
	Resolve(ctx context.Context, tenantID, sourceType string, sourceID *string) ([]*Route, error)
	// DeactivateByDestination soft-deactivates every route referencing
	// destinationID, implementing the Destination deletion cascade.
	DeactivateByDestination(ctx context.Context, tenantID, destinationID string) error
	// DetachMapping clears mappingID from every route referencing it,
	// implementing the Mapping deletion cascade (route stays active,
	// falls back to pass-through behaviour).
	DetachMapping(ctx context.Context, tenantID, mappingID string) error
}

// PostgresRepository is the database/sql-backed Repository.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, rt *Route) error {
	rt.FilterRules = NormalizeFilterRules(rt.FilterRules)
	filterJSON, err := encodeFilterRules(rt.FilterRules)
	if err != nil {
		return apperrors.NewValidationError("filter_rules", "must be valid JSON")
	}
	query := `
		INSERT INTO routes (id, tenant_id, source_type, source_id, destination_id,
			mapping_id, filter_rules, priority, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`
	row := r.db.QueryRowContext(ctx, query, rt.ID, rt.TenantID, rt.SourceType, rt.SourceID,
		rt.DestinationID, rt.MappingID, filterJSON, rt.Priority, rt.IsActive, time.Now().UTC())
	if err := row.Scan(&rt.CreatedAt); err != nil {
		return apperrors.NewTransientError("route.Create", err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, rt *Route) error {
	rt.FilterRules = NormalizeFilterRules(rt.FilterRules)
	filterJSON, err := encodeFilterRules(rt.FilterRules)
	if err != nil {
		return apperrors.NewValidationError("filter_rules", "must be valid JSON")
	}
	query := `
		UPDATE routes SET source_type=$3, source_id=$4, destination_id=$5,
			mapping_id=$6, filter_rules=$7, priority=$8, is_active=$9
		WHERE id=$1 AND tenant_id=$2 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, rt.ID, rt.TenantID, rt.SourceType, rt.SourceID,
		rt.DestinationID, rt.MappingID, filterJSON, rt.Priority, rt.IsActive)
	if err != nil {
		return apperrors.NewTransientError("route.Update", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("route")
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, tenantID, id string) (*Route, error) {
	query := `
		SELECT id, tenant_id, source_type, source_id, destination_id, mapping_id,
			filter_rules, priority, is_active, created_at, deleted_at
		FROM routes WHERE id=$1 AND tenant_id=$2`
	row := r.db.QueryRowContext(ctx, query, id, tenantID)
	rt, err := scanRoute(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("route")
	}
	if err != nil {
		return nil, apperrors.NewTransientError("route.GetByID", err)
	}
	return rt, nil
}

func (r *PostgresRepository) Resolve(ctx context.Context, tenantID, sourceType string, sourceID *string) ([]*Route, error) {
	query := `
		SELECT id, tenant_id, source_type, source_id, destination_id, mapping_id,
			filter_rules, priority, is_active, created_at, deleted_at
		FROM routes
		WHERE tenant_id=$1 AND source_type=$2 AND is_active=true AND deleted_at IS NULL
			AND (source_id IS NULL OR source_id=$3)
		ORDER BY priority DESC, created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, tenantID, sourceType, sourceID)
	if err != nil {
		return nil, apperrors.NewTransientError("route.Resolve", err)
	}
	defer rows.Close()

	var out []*Route
	for rows.Next() {
		rt, err := scanRoute(rows)
		if err != nil {
			return nil, apperrors.NewTransientError("route.Resolve scan", err)
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) DeactivateByDestination(ctx context.Context, tenantID, destinationID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE routes SET is_active=false WHERE tenant_id=$1 AND destination_id=$2`,
		tenantID, destinationID)
	if err != nil {
		return apperrors.NewTransientError("route.DeactivateByDestination", err)
	}
	return nil
}

func (r *PostgresRepository) DetachMapping(ctx context.Context, tenantID, mappingID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE routes SET mapping_id=NULL WHERE tenant_id=$1 AND mapping_id=$2`,
		tenantID, mappingID)
	if err != nil {
		return apperrors.NewTransientError("route.DetachMapping", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRoute(row rowScanner) (*Route, error) {
	var rt Route
	var filterJSON sql.NullString
	if err := row.Scan(&rt.ID, &rt.TenantID, &rt.SourceType, &rt.SourceID, &rt.DestinationID,
		&rt.MappingID, &filterJSON, &rt.Priority, &rt.IsActive, &rt.CreatedAt, &rt.DeletedAt); err != nil {
		return nil, err
	}
	f, err := decodeFilterRules(filterJSON)
	if err != nil {
		return nil, err
	}
	rt.FilterRules = f
	return &rt, nil
}

// SortByPriorityThenCreation applies the §4.C tie-break rule in-memory;
// the PostgresRepository's ORDER BY already does this, exported for
// in-memory test doubles and for re-sorting after a Resolve merge.
func SortByPriorityThenCreation(routes []*Route) {
	sort.SliceStable(routes, func(i, j int) bool {
		if routes[i].Priority != routes[j].Priority {
			return routes[i].Priority > routes[j].Priority
		}
		return routes[i].CreatedAt.Before(routes[j].CreatedAt)
	})
}
