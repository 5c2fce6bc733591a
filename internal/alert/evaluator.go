package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	apperrors "github.com/metahub/integrationhub/internal/errors"
	"github.com/metahub/integrationhub/internal/eventstore"
	"github.com/metahub/integrationhub/internal/logsink"
	"github.com/metahub/integrationhub/internal/telemetry"
)

// defaultConsecutiveFailsLookback bounds how many of a destination's most
// recent attempts the consecutive_fails condition examines.
const defaultConsecutiveFailsLookback = 50

// Evaluator runs every active Rule on a fixed cadence and drives the
// triggered/acknowledged/resolved lifecycle. Grounded on the teacher's
// AlertManager.evaluationLoop/evaluateRules, restructured around the
// closed condition_type table instead of a free-form metric store.
type Evaluator struct {
	rules    Repository
	events   eventstore.Repository
	logs     logsink.Sink
	notifier *Notifier
	interval time.Duration
	metrics  *telemetry.DeliveryMetrics

	stop chan struct{}
	done chan struct{}
}

// WithMetrics attaches an OpenTelemetry metrics recorder; a fired rule is
// counted against it when non-nil.
func (e *Evaluator) WithMetrics(m *telemetry.DeliveryMetrics) *Evaluator {
	e.metrics = m
	return e
}

func NewEvaluator(rules Repository, events eventstore.Repository, logs logsink.Sink, notifier *Notifier, interval time.Duration) *Evaluator {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Evaluator{
		rules:    rules,
		events:   events,
		logs:     logs,
		notifier: notifier,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the evaluation loop on a ticker until Stop is called.
func (e *Evaluator) Start(ctx context.Context) {
	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-e.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.EvaluateAll(ctx)
			}
		}
	}()
}

func (e *Evaluator) Stop() {
	close(e.stop)
	<-e.done
}

// EvaluateAll evaluates every active rule. A single rule's error is
// isolated: it's logged and the remaining rules still run.
func (e *Evaluator) EvaluateAll(ctx context.Context) {
	rules, err := e.rules.ListActiveRules(ctx)
	if err != nil {
		e.captureError("list_rules", err)
		return
	}
	for _, rule := range rules {
		if err := e.evaluateOne(ctx, rule); err != nil {
			e.captureError(fmt.Sprintf("evaluate_rule:%s", rule.ID), err)
		}
	}
}

func (e *Evaluator) evaluateOne(ctx context.Context, rule *Rule) error {
	if rule.LastTriggeredAt != nil {
		cooldown := time.Duration(rule.CooldownMinutes) * time.Minute
		if time.Since(*rule.LastTriggeredAt) < cooldown {
			return nil
		}
	}

	fired, snapshot, err := e.evaluateCondition(ctx, rule)
	if err != nil {
		return err
	}
	if !fired {
		return nil
	}

	hist := &History{
		ID:                uuid.NewString(),
		TenantID:          rule.TenantID,
		RuleID:            rule.ID,
		Status:            StatusTriggered,
		ConditionSnapshot: snapshot,
	}
	if err := e.rules.CreateHistory(ctx, hist); err != nil {
		return err
	}

	hist.NotifiedVia = e.notifier.Notify(ctx, rule, hist)
	if err := e.rules.UpdateHistory(ctx, hist); err != nil {
		return err
	}

	now := time.Now().UTC()
	rule.LastTriggeredAt = &now
	rule.TriggerCount++
	if err := e.rules.SaveRule(ctx, rule); err != nil {
		return err
	}

	e.log(ctx, rule.TenantID, logsink.LevelWarn, "triggered", fmt.Sprintf("alert rule %s fired", rule.Name), map[string]interface{}{
		"rule_id": rule.ID, "condition_type": rule.ConditionType,
	})
	e.metrics.RecordAlertFired(ctx, rule.TenantID, string(rule.ConditionType))
	return nil
}

func (e *Evaluator) evaluateCondition(ctx context.Context, rule *Rule) (bool, map[string]float64, error) {
	cfg := rule.ConditionConfig
	switch rule.ConditionType {
	case ConditionErrorRate:
		stats, err := e.events.StatsByWindowMinutes(ctx, rule.TenantID, cfg.WindowMinutes)
		if err != nil {
			return false, nil, err
		}
		if stats.TotalEvents == 0 {
			return false, nil, nil
		}
		fired := stats.ErrorRatePct >= cfg.ThresholdPct
		return fired, map[string]float64{"error_rate_pct": stats.ErrorRatePct, "total_events": float64(stats.TotalEvents)}, nil

	case ConditionDLQThreshold:
		count, err := e.events.CountByStatus(ctx, rule.TenantID, eventstore.StatusDLQ)
		if err != nil {
			return false, nil, err
		}
		fired := float64(count) >= cfg.Threshold
		return fired, map[string]float64{"dlq_count": float64(count)}, nil

	case ConditionLatencyThreshold:
		avgMS, count, err := e.events.AvgDeliveryLatencyMS(ctx, rule.TenantID, cfg.WindowMinutes)
		if err != nil {
			return false, nil, err
		}
		if count == 0 {
			return false, nil, nil
		}
		fired := avgMS >= cfg.ThresholdMS
		return fired, map[string]float64{"avg_latency_ms": avgMS, "sample_count": float64(count)}, nil

	case ConditionNoEvents:
		stats, err := e.events.StatsByWindowMinutes(ctx, rule.TenantID, cfg.Minutes)
		if err != nil {
			return false, nil, err
		}
		fired := stats.TotalEvents == 0
		return fired, map[string]float64{"total_events": float64(stats.TotalEvents)}, nil

	case ConditionConsecutiveFails:
		streaks, err := e.events.ConsecutiveFailureStreaks(ctx, rule.TenantID, defaultConsecutiveFailsLookback)
		if err != nil {
			return false, nil, err
		}
		for destinationID, streak := range streaks {
			if float64(streak) >= cfg.Threshold {
				return true, map[string]float64{"streak": float64(streak)}, nil
			}
			_ = destinationID
		}
		return false, nil, nil

	case ConditionCustom:
		return false, nil, nil

	default:
		return false, nil, apperrors.NewValidationError("condition_type", "unknown condition type")
	}
}

// Acknowledge implements the acknowledge(alert_id, user) lifecycle action.
func (e *Evaluator) Acknowledge(ctx context.Context, tenantID, alertID, user string) error {
	h, err := e.rules.GetHistory(ctx, tenantID, alertID)
	if err != nil {
		return err
	}
	if h.Status != StatusTriggered {
		return apperrors.NewValidationError("status", "acknowledge is only valid from triggered")
	}
	now := time.Now().UTC()
	h.Status = StatusAcknowledged
	h.AcknowledgedBy = &user
	h.AcknowledgedAt = &now
	return e.rules.UpdateHistory(ctx, h)
}

// Resolve implements the resolve(alert_id) lifecycle action.
func (e *Evaluator) Resolve(ctx context.Context, tenantID, alertID string) error {
	h, err := e.rules.GetHistory(ctx, tenantID, alertID)
	if err != nil {
		return err
	}
	if h.Status != StatusTriggered && h.Status != StatusAcknowledged {
		return apperrors.NewValidationError("status", "resolve is only valid from triggered or acknowledged")
	}
	now := time.Now().UTC()
	h.Status = StatusResolved
	h.ResolvedAt = &now
	return e.rules.UpdateHistory(ctx, h)
}

func (e *Evaluator) log(ctx context.Context, tenantID string, level logsink.Level, action, message string, meta map[string]interface{}) {
	if e.logs == nil {
		return
	}
	_ = e.logs.Write(ctx, logsink.Entry{TenantID: tenantID, Level: level, Category: logsink.CategoryAlert, Action: action, Message: message, Metadata: meta})
}

func (e *Evaluator) captureError(stage string, err error) {
	e.log(context.Background(), "", logsink.LevelError, stage, err.Error(), nil)
	sentry.CaptureException(fmt.Errorf("alert evaluator %s: %w", stage, err))
}
