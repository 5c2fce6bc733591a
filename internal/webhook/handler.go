package webhook

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/metahub/integrationhub/internal/errors"
	"github.com/metahub/integrationhub/internal/eventstore"
	"github.com/metahub/integrationhub/internal/jsonvalue"
	"github.com/metahub/integrationhub/internal/logsink"
	"github.com/metahub/integrationhub/internal/mapping"
	"github.com/metahub/integrationhub/internal/route"
)

// LeadEnricher fetches the full lead object from the Meta Graph API.
// Enrichment failure is non-fatal per §4.E step 3.
type LeadEnricher interface {
	FetchLead(ctx context.Context, tenantID, formID, leadID string) (map[string]interface{}, error)
}

// Dispatcher hands a newly created event to the Delivery Worker for an
// immediate best-effort attempt. DispatchOne must not block the webhook
// response and must never propagate a delivery failure back to the
// caller — the event already has a scheduled retry.
type Dispatcher interface {
	DispatchOne(tenantID, eventID string)
}

// Handler implements the two Meta Webhook Receiver entry points.
type Handler struct {
	verifyToken   string
	routes        route.Repository
	mappings      mapping.Repository
	events        eventstore.Repository
	logs          logsink.Sink
	enricher      LeadEnricher
	dispatcher    Dispatcher
	resolveTenant func(c *gin.Context) string
}

// NewHandler builds a Handler. resolveTenant extracts the tenant id this
// inbound request belongs to (e.g. from a path segment or a header set by
// an upstream gateway); the core itself does not authenticate Meta's
// callback beyond the verify token / signature.
func NewHandler(verifyToken string, routes route.Repository, mappings mapping.Repository, events eventstore.Repository, logs logsink.Sink, enricher LeadEnricher, dispatcher Dispatcher, resolveTenant func(c *gin.Context) string) *Handler {
	return &Handler{
		verifyToken:   verifyToken,
		routes:        routes,
		mappings:      mappings,
		events:        events,
		logs:          logs,
		enricher:      enricher,
		dispatcher:    dispatcher,
		resolveTenant: resolveTenant,
	}
}

// HandleChallenge implements GET /webhook/meta.
func (h *Handler) HandleChallenge(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" || token != h.verifyToken {
		c.String(http.StatusForbidden, "")
		return
	}
	c.String(http.StatusOK, challenge)
}

// HandlePost implements POST /webhook/meta.
func (h *Handler) HandlePost(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := h.resolveTenant(c)

	var env Envelope
	raw, err := readBody(c)
	if err != nil || json.Unmarshal(raw, &env) != nil || env.Object == "" || len(env.Entry) == 0 {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	h.log(ctx, tenantID, logsink.LevelInfo, "webhook", "received", "inbound meta webhook received", map[string]interface{}{"object": env.Object})

	processed := 0
	switch env.Object {
	case "whatsapp_business_account":
		processed = h.processWhatsApp(ctx, tenantID, env, raw)
	case "page":
		processed = h.processPageLeadgen(ctx, tenantID, env)
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "processed": processed})
}

func (h *Handler) processWhatsApp(ctx context.Context, tenantID string, env Envelope, raw []byte) int {
	processed := 0
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			phoneNumberID, _ := jsonvalue.Get(change.Value, "metadata.phone_number_id").(string)
			if phoneNumberID == "" {
				continue
			}
			eventType := classifyWhatsAppEventType(change.Value)
			processed += h.resolveAndCreate(ctx, tenantID, "whatsapp", &phoneNumberID, eventType, change.Value, raw)
		}
	}
	return processed
}

func (h *Handler) processPageLeadgen(ctx context.Context, tenantID string, env Envelope) int {
	processed := 0
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			if change.Field != "leadgen" {
				continue
			}
			formID, _ := jsonvalue.Get(change.Value, "form_id").(string)
			if formID == "" {
				continue
			}
			enriched := change.Value
			if h.enricher != nil {
				leadID, _ := jsonvalue.Get(change.Value, "leadgen_id").(string)
				if leadID != "" {
					full, err := h.enricher.FetchLead(ctx, tenantID, formID, leadID)
					if err != nil {
						h.log(ctx, tenantID, logsink.LevelWarn, "webhook", "enrich_failed", "lead enrichment failed, continuing with raw payload", map[string]interface{}{"error": err.Error()})
					} else {
						enriched = jsonvalue.ShallowMerge(jsonvalue.CloneShallow(change.Value), full, true)
					}
				}
			}
			raw, _ := json.Marshal(enriched)
			processed += h.resolveAndCreate(ctx, tenantID, "forms", &formID, "leadgen", enriched, raw)
		}
	}
	return processed
}

func (h *Handler) resolveAndCreate(ctx context.Context, tenantID, sourceType string, sourceID *string, eventType string, value map[string]interface{}, raw []byte) int {
	routes, err := h.routes.Resolve(ctx, tenantID, sourceType, sourceID)
	if err != nil {
		h.log(ctx, tenantID, logsink.LevelError, "webhook", "route_resolve_failed", err.Error(), nil)
		return 0
	}

	h.log(ctx, tenantID, logsink.LevelInfo, "webhook", "route_match", "route resolution complete", map[string]interface{}{
		"source_type": sourceType, "match_count": len(routes),
	})

	created := 0
	for _, rt := range routes {
		if !rt.FilterRules.Matches(eventType) {
			continue
		}
		transformed := h.applyMapping(ctx, tenantID, rt, value)
		evt := &eventstore.DeliveryEvent{
			ID:                 uuid.NewString(),
			TenantID:           tenantID,
			RouteID:            rt.ID,
			DestinationID:      rt.DestinationID,
			SourceType:         sourceType,
			Payload:            raw,
			TransformedPayload: transformed,
			Status:             eventstore.StatusPending,
		}
		if err := h.events.Create(ctx, evt); err != nil {
			if !apperrors.IsErrorType(err, apperrors.ErrorTypeConflict) {
				h.log(ctx, tenantID, logsink.LevelError, "webhook", "event_create_failed", err.Error(), nil)
			}
			continue
		}
		created++
		h.log(ctx, tenantID, logsink.LevelInfo, "webhook", "event_created", "delivery event created", map[string]interface{}{"event_id": evt.ID, "route_id": rt.ID})
		if h.dispatcher != nil {
			h.dispatcher.DispatchOne(tenantID, evt.ID)
		}
	}
	return created
}

func (h *Handler) applyMapping(ctx context.Context, tenantID string, rt *route.Route, value map[string]interface{}) []byte {
	if rt.MappingID == nil || h.mappings == nil {
		return nil
	}
	m, ok, err := h.mappings.GetByID(ctx, tenantID, *rt.MappingID)
	if err != nil || !ok {
		return nil
	}
	result, err := mapping.Apply(m.Mapping, value)
	if err != nil {
		h.log(ctx, tenantID, logsink.LevelWarn, "mapping", "apply_failed", err.Error(), nil)
		return nil
	}
	for _, w := range result.Warnings {
		h.log(ctx, tenantID, logsink.LevelWarn, "mapping", "warning", w, nil)
	}
	out, err := json.Marshal(result.Output)
	if err != nil {
		return nil
	}
	return out
}

func (h *Handler) log(ctx context.Context, tenantID string, level logsink.Level, category logsink.Category, action, message string, meta map[string]interface{}) {
	if h.logs == nil {
		return
	}
	_ = h.logs.Write(ctx, logsink.Entry{TenantID: tenantID, Level: level, Category: category, Action: action, Message: message, Metadata: meta})
}

func classifyWhatsAppEventType(value map[string]interface{}) string {
	if !jsonvalue.IsAbsent(jsonvalue.Get(value, "messages")) {
		return "messages"
	}
	statuses := jsonvalue.Get(value, "statuses[0].status")
	if s, ok := statuses.(string); ok {
		switch s {
		case "sent":
			return "status_sent"
		case "delivered":
			return "status_delivered"
		case "read":
			return "status_read"
		case "failed":
			return "status_failed"
		}
	}
	return "messages"
}

func readBody(c *gin.Context) ([]byte, error) {
	return c.GetRawData()
}
