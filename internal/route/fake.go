package route

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/metahub/integrationhub/internal/errors"
)

// FakeRepository is an in-memory Repository for unit tests.
type FakeRepository struct {
	mu    sync.Mutex
	store map[string]*Route
}

func NewFakeRepository() *FakeRepository {
	return &FakeRepository{store: map[string]*Route{}}
}

func (f *FakeRepository) Create(ctx context.Context, rt *Route) error {
	rt.FilterRules = NormalizeFilterRules(rt.FilterRules)
	f.mu.Lock()
	defer f.mu.Unlock()
	rt.CreatedAt = time.Now().UTC()
	cp := *rt
	f.store[rt.ID] = &cp
	return nil
}

func (f *FakeRepository) Update(ctx context.Context, rt *Route) error {
	rt.FilterRules = NormalizeFilterRules(rt.FilterRules)
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.store[rt.ID]
	if !ok || existing.TenantID != rt.TenantID {
		return apperrors.NewNotFoundError("route")
	}
	rt.CreatedAt = existing.CreatedAt
	cp := *rt
	f.store[rt.ID] = &cp
	return nil
}

func (f *FakeRepository) GetByID(ctx context.Context, tenantID, id string) (*Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rt, ok := f.store[id]
	if !ok || rt.TenantID != tenantID {
		return nil, apperrors.NewNotFoundError("route")
	}
	cp := *rt
	return &cp, nil
}

func (f *FakeRepository) Resolve(ctx context.Context, tenantID, sourceType string, sourceID *string) ([]*Route, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []*Route
	for _, rt := range f.store {
		if rt.TenantID != tenantID || rt.SourceType != sourceType || !rt.IsActive || rt.DeletedAt != nil {
			continue
		}
		if rt.SourceID != nil && (sourceID == nil || *rt.SourceID != *sourceID) {
			continue
		}
		cp := *rt
		matched = append(matched, &cp)
	}
	SortByPriorityThenCreation(matched)
	return matched, nil
}

func (f *FakeRepository) DeactivateByDestination(ctx context.Context, tenantID, destinationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rt := range f.store {
		if rt.TenantID == tenantID && rt.DestinationID == destinationID {
			rt.IsActive = false
		}
	}
	return nil
}

func (f *FakeRepository) DetachMapping(ctx context.Context, tenantID, mappingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rt := range f.store {
		if rt.TenantID == tenantID && rt.MappingID != nil && *rt.MappingID == mappingID {
			rt.MappingID = nil
		}
	}
	return nil
}
