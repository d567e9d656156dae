// Package alert owns the alert lifecycle: composing and committing alert
// records on rule trigger, and acknowledgement afterwards.
package alert

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohamedkhairy/alert-dispatch/internal/models"
	"github.com/mohamedkhairy/alert-dispatch/internal/rules"
	"github.com/mohamedkhairy/alert-dispatch/internal/storage"
	"github.com/mohamedkhairy/alert-dispatch/pkg/clock"
	"github.com/mohamedkhairy/alert-dispatch/pkg/logger"
)

var alertsTriggeredTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "alerts_triggered_total",
		Help: "Alerts created on rule trigger, by alert type",
	},
	[]string{"alert_type"},
)

// Lifecycle creates immutable alert records when a rule triggers and updates
// the rule's suppression bookkeeping in the same transaction
type Lifecycle struct {
	store       storage.AlertStore
	clock       clock.Clock
	maxAttempts int
}

// NewLifecycle creates an alert lifecycle manager
func NewLifecycle(store storage.AlertStore, clk clock.Clock, maxAttempts int) *Lifecycle {
	if clk == nil {
		clk = clock.Real()
	}
	if maxAttempts <= 0 {
		maxAttempts = models.DefaultMaxAttempts
	}
	return &Lifecycle{
		store:       store,
		clock:       clk,
		maxAttempts: maxAttempts,
	}
}

// CreateAlert composes an alert from the rule and its triggering evaluation,
// creates one pending delivery per configured channel, and commits the alert,
// the deliveries and the rule's last_triggered_at/trigger_count update
// atomically
func (l *Lifecycle) CreateAlert(ctx context.Context, rule *models.Rule, eval *rules.Evaluation) (*models.Alert, []*models.Delivery, error) {
	now := l.clock.Now()
	snapshot := eval.Snapshot

	a := &models.Alert{
		ID:            uuid.New().String(),
		RuleID:        rule.ID,
		Symbol:        snapshot.Symbol,
		Title:         composeTitle(rule, snapshot),
		Message:       composeMessage(rule, eval),
		TriggerValue:  triggerValue(rule, snapshot),
		Snapshot:      snapshot,
		ConditionsMet: eval.ConditionsMet,
		Status:        models.StatusPending,
		CreatedAt:     now,
	}

	deliveries := make([]*models.Delivery, 0, len(rule.Channels))
	for _, channel := range rule.Channels {
		deliveries = append(deliveries, &models.Delivery{
			ID:          uuid.New().String(),
			AlertID:     a.ID,
			Channel:     channel.Type,
			Target:      channel.Target,
			Status:      models.StatusPending,
			Attempts:    0,
			MaxAttempts: l.maxAttempts,
		})
	}

	if err := l.store.CreateTriggered(ctx, a, deliveries, now); err != nil {
		return nil, nil, fmt.Errorf("failed to commit triggered alert: %w", err)
	}

	alertsTriggeredTotal.WithLabelValues(rule.AlertType).Inc()
	logger.Info("Alert triggered",
		logger.String("alert_id", a.ID),
		logger.String("rule_id", rule.ID),
		logger.String("symbol", a.Symbol),
		logger.Float64("trigger_value", a.TriggerValue),
		logger.Int("channels", len(deliveries)),
	)
	return a, deliveries, nil
}

// Acknowledge records the acknowledgement timestamp on an alert, once
func (l *Lifecycle) Acknowledge(ctx context.Context, alertID string) error {
	return l.store.AcknowledgeAlert(ctx, alertID, l.clock.Now())
}

func composeTitle(rule *models.Rule, snapshot *models.Snapshot) string {
	switch rule.AlertType {
	case models.AlertTypeVolume:
		return fmt.Sprintf("Volume Alert: %s", snapshot.Symbol)
	case models.AlertTypeIndicator:
		return fmt.Sprintf("Indicator Alert: %s", snapshot.Symbol)
	case models.AlertTypeSentiment:
		return fmt.Sprintf("Sentiment Alert: %s", snapshot.Symbol)
	case models.AlertTypeOptionsFlow:
		return fmt.Sprintf("Options Flow Alert: %s", snapshot.Symbol)
	default:
		return fmt.Sprintf("Price Alert: %s", snapshot.Symbol)
	}
}

func composeMessage(rule *models.Rule, eval *rules.Evaluation) string {
	snapshot := eval.Snapshot

	var b strings.Builder
	fmt.Fprintf(&b, "%s fired for %s at %.2f (%+.2f%% vs previous close).",
		rule.Name, snapshot.Symbol, snapshot.Close, snapshot.ChangePercent())
	if len(eval.ConditionsMet) > 0 {
		fmt.Fprintf(&b, " Conditions met (%s): %s",
			eval.Logic, strings.Join(eval.ConditionsMet, "; "))
	}
	return b.String()
}

func triggerValue(rule *models.Rule, snapshot *models.Snapshot) float64 {
	switch rule.AlertType {
	case models.AlertTypeVolume:
		return snapshot.Volume
	case models.AlertTypeSentiment:
		return snapshot.Sentiment
	default:
		return snapshot.Close
	}
}
