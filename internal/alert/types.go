// Package alert implements the Alert Evaluator: periodic evaluation of
// user-defined AlertRules against the Event Store and Log Sink, cooldown,
// the triggered/acknowledged/resolved lifecycle, and multi-channel
// notification. Grounded on the teacher's internal/monitoring/alerting.go
// AlertManager, restructured around the closed condition_type set and
// AlertHistory rows instead of free-form metric names.
package alert

import "time"

// ConditionType is the closed set of rule predicates.
type ConditionType string

const (
	ConditionErrorRate        ConditionType = "error_rate"
	ConditionDLQThreshold     ConditionType = "dlq_threshold"
	ConditionLatencyThreshold ConditionType = "latency_threshold"
	ConditionNoEvents         ConditionType = "no_events"
	ConditionConsecutiveFails ConditionType = "consecutive_fails"
	ConditionCustom           ConditionType = "custom"
)

// Channel is the closed set of notification channels.
type Channel string

const (
	ChannelInApp   Channel = "in_app"
	ChannelEmail   Channel = "email"
	ChannelWebhook Channel = "webhook"
)

// Status is the AlertHistory lifecycle.
type Status string

const (
	StatusTriggered   Status = "triggered"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved    Status = "resolved"
)

// ConditionConfig holds the per-type configuration; only the fields
// relevant to Rule.ConditionType are populated and the evaluator ignores
// the rest.
type ConditionConfig struct {
	ThresholdPct  float64 `json:"threshold_pct,omitempty"`
	Threshold     float64 `json:"threshold,omitempty"`
	ThresholdMS   float64 `json:"threshold_ms,omitempty"`
	WindowMinutes int     `json:"window_minutes,omitempty"`
	Minutes       int     `json:"minutes,omitempty"`
}

// NotifyConfig holds per-channel delivery parameters.
type NotifyConfig struct {
	WebhookURL string `json:"webhook_url,omitempty"`
	EmailTo    string `json:"email_to,omitempty"`
}

// Rule is a tenant's user-defined alert condition.
type Rule struct {
	ID               string
	TenantID         string
	Name             string
	ConditionType    ConditionType
	ConditionConfig  ConditionConfig
	NotifyChannels   []Channel
	NotifyConfig     NotifyConfig
	CooldownMinutes  int
	LastTriggeredAt  *time.Time
	TriggerCount     int
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// History is one firing of a Rule.
type History struct {
	ID                string
	TenantID          string
	RuleID            string
	Status            Status
	ConditionSnapshot map[string]float64
	NotifiedVia       []Channel
	AcknowledgedBy    *string
	AcknowledgedAt    *time.Time
	ResolvedAt        *time.Time
	CreatedAt         time.Time
}
