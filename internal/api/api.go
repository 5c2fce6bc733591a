// Package api wires the Delivery Worker, Alert Evaluator, Mapping engine
// and OAuth state signer into the gin HTTP surface described for
// /delivery, /transform, /alerts and /oauth. Process and Preview are not
// tenant-scoped; the resend, test, acknowledge and resolve handlers resolve
// their tenant through internal/tenant's trust boundary. Membership, request
// and lookup failures go through internal/httpmw.Fail so
// internal/httpmw.ErrorHandler renders them uniformly; a failed resend, a
// failed test call and a mapping structural error are instead reported as
// a 200 response with success=false.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/metahub/integrationhub/internal/alert"
	"github.com/metahub/integrationhub/internal/delivery"
	"github.com/metahub/integrationhub/internal/destination"
	apperrors "github.com/metahub/integrationhub/internal/errors"
	"github.com/metahub/integrationhub/internal/httpmw"
	"github.com/metahub/integrationhub/internal/mapping"
	"github.com/metahub/integrationhub/internal/tenant"
)

// DeliveryHandlers exposes the Delivery Worker's operations as gin handlers.
type DeliveryHandlers struct {
	Worker *delivery.Worker
	Dests  destination.Repository
}

func NewDeliveryHandlers(worker *delivery.Worker, dests destination.Repository) *DeliveryHandlers {
	return &DeliveryHandlers{Worker: worker, Dests: dests}
}

// Process handles POST /delivery/process.
func (h *DeliveryHandlers) Process(c *gin.Context) {
	stats, err := h.Worker.Process(c.Request.Context())
	if err != nil {
		httpmw.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"processed": stats.Processed,
		"delivered": stats.Delivered,
		"failed":    stats.Failed,
	})
}

type resendRequest struct {
	EventID string `json:"event_id" binding:"required"`
}

// Resend handles POST /delivery/resend.
func (h *DeliveryHandlers) Resend(c *gin.Context) {
	caller, err := tenant.RequireMember(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		httpmw.Fail(c, err)
		return
	}
	var req resendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpmw.Fail(c, apperrors.NewValidationError("event_id", "event_id is required"))
		return
	}
	_, err = h.Worker.Resend(c.Request.Context(), caller.TenantID, req.EventID)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type testDestinationRequest struct {
	DestinationID string `json:"destination_id" binding:"required"`
}

// Test handles POST /delivery/test: a dry run against a stored destination
// that never touches the Event Store.
func (h *DeliveryHandlers) Test(c *gin.Context) {
	caller, err := tenant.RequireMember(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		httpmw.Fail(c, err)
		return
	}
	var req testDestinationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpmw.Fail(c, apperrors.NewValidationError("destination_id", "destination_id is required"))
		return
	}
	stored, err := h.Dests.GetByID(c.Request.Context(), caller.TenantID, req.DestinationID)
	if err != nil {
		httpmw.Fail(c, err)
		return
	}

	result, err := h.Worker.Test(c.Request.Context(), stored.Destination)
	resp := gin.H{"duration_ms": result.DurationMS}
	if err != nil {
		resp["success"] = false
		resp["error"] = err.Error()
		c.JSON(http.StatusOK, resp)
		return
	}
	resp["success"] = result.Success
	if result.StatusCode != 0 {
		resp["status_code"] = result.StatusCode
	}
	if result.ResponseBody != "" {
		resp["response_body"] = result.ResponseBody
	}
	if result.ErrorMessage != "" {
		resp["error"] = result.ErrorMessage
	}
	c.JSON(http.StatusOK, resp)
}

// TransformHandlers exposes the mapping engine as a dry-run preview.
type TransformHandlers struct{}

func NewTransformHandlers() *TransformHandlers { return &TransformHandlers{} }

type transformPreviewRequest struct {
	Rules        []mapping.Rule         `json:"rules"`
	Payload      interface{}            `json:"payload"`
	StaticFields map[string]interface{} `json:"static_fields"`
	Mode         mapping.Mode           `json:"mode" binding:"required"`
	Template     string                 `json:"template"`
	PassThrough  bool                   `json:"pass_through"`
}

// Preview handles POST /transform/preview: applies a Mapping built from the
// request body to the given payload and reports the output or the first
// structural error, never blocking on bad data.
func (h *TransformHandlers) Preview(c *gin.Context) {
	var req transformPreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpmw.Fail(c, apperrors.NewValidationError("body", "malformed transform preview request"))
		return
	}

	m := mapping.Mapping{
		Mode:         req.Mode,
		Rules:        req.Rules,
		Template:     req.Template,
		StaticFields: req.StaticFields,
		PassThrough:  req.PassThrough,
	}

	start := time.Now()
	result, err := mapping.Apply(m, req.Payload)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error(), "duration_ms": duration})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "output": result.Output, "duration_ms": duration})
}

// AlertHandlers exposes the Alert Evaluator's lifecycle transitions.
type AlertHandlers struct {
	Evaluator *alert.Evaluator
}

func NewAlertHandlers(evaluator *alert.Evaluator) *AlertHandlers {
	return &AlertHandlers{Evaluator: evaluator}
}

type alertIDRequest struct {
	AlertID string `json:"alert_id" binding:"required"`
}

// Acknowledge handles POST /alerts/acknowledge.
func (h *AlertHandlers) Acknowledge(c *gin.Context) {
	caller, err := tenant.RequireMember(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		httpmw.Fail(c, err)
		return
	}
	var req alertIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpmw.Fail(c, apperrors.NewValidationError("alert_id", "alert_id is required"))
		return
	}
	if err := h.Evaluator.Acknowledge(c.Request.Context(), caller.TenantID, req.AlertID, caller.UserID); err != nil {
		httpmw.Fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Resolve handles POST /alerts/resolve.
func (h *AlertHandlers) Resolve(c *gin.Context) {
	caller, err := tenant.RequireMember(c.Request.Context(), c.Param("tenant_id"))
	if err != nil {
		httpmw.Fail(c, err)
		return
	}
	var req alertIDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpmw.Fail(c, apperrors.NewValidationError("alert_id", "alert_id is required"))
		return
	}
	if err := h.Evaluator.Resolve(c.Request.Context(), caller.TenantID, req.AlertID); err != nil {
		httpmw.Fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
