package alert

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metahub/integrationhub/internal/eventstore"
	"github.com/metahub/integrationhub/internal/logsink"
)

func newTestEvaluator(t *testing.T, events *eventstore.FakeRepository) (*Evaluator, *FakeRepository, *logsink.FakeSink) {
	t.Helper()
	rules := NewFakeRepository()
	logs := logsink.NewFakeSink()
	notifier := NewNotifier(SMTPConfig{}, logs)
	return NewEvaluator(rules, events, logs, notifier, time.Minute), rules, logs
}

func TestEvaluateOne_DLQThresholdFiresAndRecordsHistory(t *testing.T) {
	events := eventstore.NewFakeRepository()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		evt := &eventstore.DeliveryEvent{ID: "evt" + string(rune('a'+i)), TenantID: "t1", DestinationID: "d1", SourceType: "whatsapp", Status: eventstore.StatusDLQ}
		require.NoError(t, events.Create(ctx, evt))
	}
	ev, rules, _ := newTestEvaluator(t, events)
	rule := &Rule{
		ID: "r1", TenantID: "t1", Name: "dlq-watch", ConditionType: ConditionDLQThreshold,
		ConditionConfig: ConditionConfig{Threshold: 3}, CooldownMinutes: 5, IsActive: true,
		NotifyChannels: []Channel{ChannelInApp},
	}
	require.NoError(t, rules.SaveRule(ctx, rule))

	ev.EvaluateAll(ctx)

	updated, err := rules.GetRule(ctx, "t1", "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, updated.TriggerCount)
	assert.NotNil(t, updated.LastTriggeredAt)
	assert.Len(t, rules.history, 1)
}

func TestEvaluateOne_CooldownSkipsReevaluation(t *testing.T) {
	events := eventstore.NewFakeRepository()
	ctx := context.Background()
	require.NoError(t, events.Create(ctx, &eventstore.DeliveryEvent{ID: "e1", TenantID: "t1", DestinationID: "d1", SourceType: "whatsapp", Status: eventstore.StatusDLQ}))

	ev, rules, _ := newTestEvaluator(t, events)
	recent := time.Now().UTC()
	rule := &Rule{
		ID: "r1", TenantID: "t1", Name: "dlq-watch", ConditionType: ConditionDLQThreshold,
		ConditionConfig: ConditionConfig{Threshold: 1}, CooldownMinutes: 30, IsActive: true,
		LastTriggeredAt: &recent,
	}
	require.NoError(t, rules.SaveRule(ctx, rule))

	ev.EvaluateAll(ctx)

	updated, err := rules.GetRule(ctx, "t1", "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, updated.TriggerCount)
}

func TestEvaluateOne_NoEventsFiresWhenWindowIsEmpty(t *testing.T) {
	events := eventstore.NewFakeRepository()
	ctx := context.Background()
	ev, rules, _ := newTestEvaluator(t, events)
	rule := &Rule{
		ID: "r1", TenantID: "t1", Name: "silence", ConditionType: ConditionNoEvents,
		ConditionConfig: ConditionConfig{Minutes: 15}, CooldownMinutes: 5, IsActive: true,
	}
	require.NoError(t, rules.SaveRule(ctx, rule))

	ev.EvaluateAll(ctx)

	updated, err := rules.GetRule(ctx, "t1", "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, updated.TriggerCount)
}

func TestNotifier_WebhookChannelOnlyRecordedWhenAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(SMTPConfig{}, logsink.NewFakeSink())
	rule := &Rule{NotifyChannels: []Channel{ChannelWebhook}, NotifyConfig: NotifyConfig{WebhookURL: srv.URL}}
	hist := &History{ID: "h1", CreatedAt: time.Now()}

	notified := n.Notify(context.Background(), rule, hist)
	assert.Equal(t, []Channel{ChannelWebhook}, notified)
}

func TestNotifier_WebhookFailureIsNotRecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewNotifier(SMTPConfig{}, logsink.NewFakeSink())
	rule := &Rule{NotifyChannels: []Channel{ChannelWebhook}, NotifyConfig: NotifyConfig{WebhookURL: srv.URL}}
	hist := &History{ID: "h1", CreatedAt: time.Now()}

	notified := n.Notify(context.Background(), rule, hist)
	assert.Empty(t, notified)
}

func TestEvaluator_AcknowledgeThenResolveLifecycle(t *testing.T) {
	events := eventstore.NewFakeRepository()
	ev, rules, _ := newTestEvaluator(t, events)
	ctx := context.Background()
	require.NoError(t, rules.CreateHistory(ctx, &History{ID: "h1", TenantID: "t1", RuleID: "r1", Status: StatusTriggered}))

	require.NoError(t, ev.Acknowledge(ctx, "t1", "h1", "user-1"))
	h, err := rules.GetHistory(ctx, "t1", "h1")
	require.NoError(t, err)
	assert.Equal(t, StatusAcknowledged, h.Status)
	assert.Equal(t, "user-1", *h.AcknowledgedBy)

	require.NoError(t, ev.Resolve(ctx, "t1", "h1"))
	h, err = rules.GetHistory(ctx, "t1", "h1")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, h.Status)
	assert.NotNil(t, h.ResolvedAt)
}

func TestEvaluator_AcknowledgeRejectsFromResolved(t *testing.T) {
	events := eventstore.NewFakeRepository()
	ev, rules, _ := newTestEvaluator(t, events)
	ctx := context.Background()
	require.NoError(t, rules.CreateHistory(ctx, &History{ID: "h1", TenantID: "t1", RuleID: "r1", Status: StatusResolved}))

	err := ev.Acknowledge(ctx, "t1", "h1", "user-1")
	require.Error(t, err)
}
