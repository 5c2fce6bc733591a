package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metahub/integrationhub/internal/alert"
	"github.com/metahub/integrationhub/internal/delivery"
	"github.com/metahub/integrationhub/internal/destination"
	"github.com/metahub/integrationhub/internal/eventstore"
	"github.com/metahub/integrationhub/internal/httpmw"
	"github.com/metahub/integrationhub/internal/logsink"
	"github.com/metahub/integrationhub/internal/tenant"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func withCaller(tenantID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := tenant.WithCaller(c.Request.Context(), tenant.Caller{
			UserID: "user-1", TenantID: tenantID, Memberships: map[string]bool{tenantID: true},
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func TestDeliveryHandlers_Process_ReturnsCounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	events := eventstore.NewFakeRepository()
	require.NoError(t, events.Create(context.Background(), &eventstore.DeliveryEvent{
		ID: "evt-1", TenantID: "t1", DestinationID: "d1", SourceType: "whatsapp",
	}))
	dests := destination.NewFakeRepository()
	require.NoError(t, dests.Create(context.Background(), &destination.StoredDestination{
		Destination: destination.Destination{ID: "d1", URL: srv.URL, Method: destination.MethodPOST, TimeoutMS: 5000},
		TenantID:    "t1", IsActive: true,
	}))

	lookup := destination.RepositoryLookup{Repo: dests}
	client := destination.NewClient(nil, "test-agent")
	worker := delivery.NewWorker(events, lookup, client, delivery.DefaultConfig(), nil)
	handlers := NewDeliveryHandlers(worker, dests)

	r := gin.New()
	r.Use(httpmw.ErrorHandler())
	r.POST("/delivery/process", handlers.Process)

	req := httptest.NewRequest(http.MethodPost, "/delivery/process", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body["processed"])
	assert.Equal(t, 1, body["delivered"])
	assert.Equal(t, 0, body["failed"])
}

func TestDeliveryHandlers_Resend_RequiresTenantMembership(t *testing.T) {
	events := eventstore.NewFakeRepository()
	dests := destination.NewFakeRepository()
	lookup := destination.RepositoryLookup{Repo: dests}
	client := destination.NewClient(nil, "test-agent")
	worker := delivery.NewWorker(events, lookup, client, delivery.DefaultConfig(), nil)
	handlers := NewDeliveryHandlers(worker, dests)

	r := gin.New()
	r.Use(httpmw.ErrorHandler())
	r.POST("/:tenant_id/delivery/resend", handlers.Resend)

	req := httptest.NewRequest(http.MethodPost, "/t1/delivery/resend", httpBody(`{"event_id":"evt-1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDeliveryHandlers_Test_ReturnsDryRunResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	events := eventstore.NewFakeRepository()
	dests := destination.NewFakeRepository()
	require.NoError(t, dests.Create(context.Background(), &destination.StoredDestination{
		Destination: destination.Destination{ID: "d1", URL: srv.URL, Method: destination.MethodPOST, TimeoutMS: 5000},
		TenantID:    "t1", IsActive: true,
	}))
	lookup := destination.RepositoryLookup{Repo: dests}
	client := destination.NewClient(nil, "test-agent")
	worker := delivery.NewWorker(events, lookup, client, delivery.DefaultConfig(), nil)
	handlers := NewDeliveryHandlers(worker, dests)

	r := gin.New()
	r.Use(httpmw.ErrorHandler())
	r.Use(withCaller("t1"))
	r.POST("/:tenant_id/delivery/test", handlers.Test)

	req := httptest.NewRequest(http.MethodPost, "/t1/delivery/test", httpBody(`{"destination_id":"d1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(202), body["status_code"])
}

func TestTransformHandlers_Preview_FieldMapSuccess(t *testing.T) {
	handlers := NewTransformHandlers()
	r := gin.New()
	r.Use(httpmw.ErrorHandler())
	r.POST("/transform/preview", handlers.Preview)

	body := `{
		"mode": "field_map",
		"rules": [{"source_path": "name", "target_path": "full_name"}],
		"payload": {"name": "Ada"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/transform/preview", httpBody(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	output := resp["output"].(map[string]interface{})
	assert.Equal(t, "Ada", output["full_name"])
}

func TestTransformHandlers_Preview_StructuralErrorIsReportedNot500(t *testing.T) {
	handlers := NewTransformHandlers()
	r := gin.New()
	r.Use(httpmw.ErrorHandler())
	r.POST("/transform/preview", handlers.Preview)

	body := `{"mode": "template", "payload": {}}`
	req := httptest.NewRequest(http.MethodPost, "/transform/preview", httpBody(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["success"])
	assert.NotEmpty(t, resp["error"])
}

func TestAlertHandlers_Acknowledge_ReturnsNoContent(t *testing.T) {
	rules := alert.NewFakeRepository()
	events := eventstore.NewFakeRepository()
	logs := logsink.NewFakeSink()
	notifier := alert.NewNotifier(alert.SMTPConfig{}, logs)
	evaluator := alert.NewEvaluator(rules, events, logs, notifier, time.Minute)

	rule := &alert.Rule{ID: "rule-1", TenantID: "t1", ConditionType: alert.ConditionDLQThreshold, IsActive: true}
	require.NoError(t, rules.SaveRule(context.Background(), rule))
	require.NoError(t, rules.CreateHistory(context.Background(), &alert.History{
		ID: "hist-1", TenantID: "t1", RuleID: "rule-1", Status: alert.StatusTriggered,
	}))

	handlers := NewAlertHandlers(evaluator)
	r := gin.New()
	r.Use(httpmw.ErrorHandler())
	r.Use(withCaller("t1"))
	r.POST("/:tenant_id/alerts/acknowledge", handlers.Acknowledge)

	req := httptest.NewRequest(http.MethodPost, "/t1/alerts/acknowledge", httpBody(`{"alert_id":"hist-1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func httpBody(s string) *strings.Reader {
	return strings.NewReader(s)
}
