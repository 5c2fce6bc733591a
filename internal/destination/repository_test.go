package destination

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeRepository_CreateRejectsInvalidURL(t *testing.T) {
	repo := NewFakeRepository()
	err := repo.Create(context.Background(), &StoredDestination{
		Destination: Destination{ID: "d1", URL: "not a url", TimeoutMS: 5000},
		TenantID:    "t1",
	})
	require.Error(t, err)
}

func TestFakeRepository_CreateRejectsOutOfRangeTimeout(t *testing.T) {
	repo := NewFakeRepository()
	err := repo.Create(context.Background(), &StoredDestination{
		Destination: Destination{ID: "d1", URL: "https://example.com/hook", TimeoutMS: 100},
		TenantID:    "t1",
	})
	require.Error(t, err)
}

func TestRepositoryLookup_ReportsInactiveForSoftDeleted(t *testing.T) {
	repo := NewFakeRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &StoredDestination{
		Destination: Destination{ID: "d1", URL: "https://example.com/hook", TimeoutMS: 5000},
		TenantID:    "t1",
		IsActive:    true,
	}))

	lookup := RepositoryLookup{Repo: repo}
	_, active, err := lookup.Get(ctx, "t1", "d1")
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, repo.SoftDelete(ctx, "t1", "d1"))
	_, active, err = lookup.Get(ctx, "t1", "d1")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestRepositoryLookup_UnknownDestinationIsInactiveNotError(t *testing.T) {
	repo := NewFakeRepository()
	lookup := RepositoryLookup{Repo: repo}
	_, active, err := lookup.Get(context.Background(), "t1", "missing")
	require.NoError(t, err)
	assert.False(t, active)
}
