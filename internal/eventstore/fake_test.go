package eventstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeRepository_CreateAndTransitionLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewFakeRepository()

	e := &DeliveryEvent{ID: "evt-1", TenantID: "tenant-a", RouteID: "r-1", DestinationID: "d-1", SourceType: "whatsapp"}
	require.NoError(t, repo.Create(ctx, e))
	assert.Equal(t, StatusPending, e.Status)
	assert.Equal(t, DefaultMaxAttempts, e.MaxAttempts)

	claimed, err := repo.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, StatusProcessing, claimed[0].Status)
	assert.Equal(t, 1, claimed[0].AttemptsCount)

	now := time.Now().UTC()
	require.NoError(t, repo.Transition(ctx, "evt-1", StatusProcessing, StatusDelivered, TransitionFields{DeliveredAt: &now}))

	got, err := repo.GetByID(ctx, "tenant-a", "evt-1")
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, got.Status)
	assert.NotNil(t, got.DeliveredAt)
	assert.Nil(t, got.NextRetryAt)
}

func TestFakeRepository_TransitionConflictOnStaleFrom(t *testing.T) {
	ctx := context.Background()
	repo := NewFakeRepository()
	e := &DeliveryEvent{ID: "evt-2", TenantID: "tenant-a", Status: StatusDelivered}
	require.NoError(t, repo.Create(ctx, e))

	err := repo.Transition(ctx, "evt-2", StatusProcessing, StatusDelivered, TransitionFields{})
	require.Error(t, err)
}

func TestFakeRepository_IdempotencyConflictOnDuplicateSourceEventID(t *testing.T) {
	ctx := context.Background()
	repo := NewFakeRepository()
	sourceID := "wamid.123"

	first := &DeliveryEvent{ID: "evt-3", TenantID: "tenant-a", SourceType: "whatsapp", SourceEventID: &sourceID}
	require.NoError(t, repo.Create(ctx, first))

	second := &DeliveryEvent{ID: "evt-4", TenantID: "tenant-a", SourceType: "whatsapp", SourceEventID: &sourceID}
	err := repo.Create(ctx, second)
	require.Error(t, err)
}

func TestFakeRepository_ClaimBatchSkipsFutureRetries(t *testing.T) {
	ctx := context.Background()
	repo := NewFakeRepository()

	future := time.Now().UTC().Add(time.Hour)
	notReady := &DeliveryEvent{ID: "evt-5", TenantID: "tenant-a", Status: StatusFailed, NextRetryAt: &future}
	require.NoError(t, repo.Create(ctx, notReady))

	claimed, err := repo.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestFakeRepository_StatsByWindow(t *testing.T) {
	ctx := context.Background()
	repo := NewFakeRepository()

	require.NoError(t, repo.Create(ctx, &DeliveryEvent{ID: "evt-6", TenantID: "t1", Status: StatusDelivered}))
	require.NoError(t, repo.Create(ctx, &DeliveryEvent{ID: "evt-7", TenantID: "t1", Status: StatusDLQ}))

	stats, err := repo.StatsByWindow(ctx, "t1", 24)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalEvents)
	assert.Equal(t, 1, stats.DLQCount)
	assert.InDelta(t, 50.0, stats.ErrorRatePct, 0.001)
}
