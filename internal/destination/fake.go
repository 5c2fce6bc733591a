package destination

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/metahub/integrationhub/internal/errors"
)

// FakeRepository is an in-memory Repository for unit tests.
type FakeRepository struct {
	mu    sync.Mutex
	store map[string]*StoredDestination
}

func NewFakeRepository() *FakeRepository {
	return &FakeRepository{store: map[string]*StoredDestination{}}
}

func (f *FakeRepository) Create(ctx context.Context, d *StoredDestination) error {
	if err := validate(d); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d.CreatedAt = time.Now().UTC()
	cp := *d
	f.store[d.ID] = &cp
	return nil
}

func (f *FakeRepository) Update(ctx context.Context, d *StoredDestination) error {
	if err := validate(d); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.store[d.ID]
	if !ok || existing.TenantID != d.TenantID {
		return apperrors.NewNotFoundError("destination")
	}
	d.CreatedAt = existing.CreatedAt
	cp := *d
	f.store[d.ID] = &cp
	return nil
}

func (f *FakeRepository) GetByID(ctx context.Context, tenantID, id string) (*StoredDestination, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.store[id]
	if !ok || d.TenantID != tenantID {
		return nil, apperrors.NewNotFoundError("destination")
	}
	cp := *d
	return &cp, nil
}

func (f *FakeRepository) SoftDelete(ctx context.Context, tenantID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.store[id]
	if !ok || d.TenantID != tenantID {
		return apperrors.NewNotFoundError("destination")
	}
	d.IsActive = false
	now := time.Now().UTC()
	d.DeletedAt = &now
	return nil
}
