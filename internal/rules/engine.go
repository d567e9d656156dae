package rules

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohamedkhairy/alert-dispatch/internal/models"
	"github.com/mohamedkhairy/alert-dispatch/pkg/clock"
	"github.com/mohamedkhairy/alert-dispatch/pkg/logger"
)

// Suppression/result reasons reported in an Evaluation
const (
	ReasonDisabled       = "rule_disabled"
	ReasonSnoozed        = "rule_snoozed"
	ReasonCooldown       = "cooldown_active"
	ReasonNoConditions   = "no_conditions"
	ReasonConditionsMet  = "conditions_met"
	ReasonConditionsFail = "conditions_not_met"
)

var ruleEvaluationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rule_evaluations_total",
		Help: "Rule evaluations by outcome reason",
	},
	[]string{"reason"},
)

// SnoozeClearer persists the one suppression side effect the engine owns:
// clearing an expired snooze window.
type SnoozeClearer interface {
	ClearSnooze(ctx context.Context, ruleID string) error
}

// Evaluation is the result of evaluating one rule against one snapshot
type Evaluation struct {
	RuleID              string
	Triggered           bool
	Reason              string
	Logic               string
	ConditionsEvaluated int
	ConditionsMet       []string
	CooldownRemaining   time.Duration
	Snapshot            *models.Snapshot
}

// Engine applies enablement, snooze and cooldown gating, then combines
// condition results under the rule's AND/OR logic
type Engine struct {
	store SnoozeClearer
	clock clock.Clock
}

// NewEngine creates a rule evaluation engine
func NewEngine(store SnoozeClearer, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.Real()
	}
	return &Engine{
		store: store,
		clock: clk,
	}
}

// Evaluate evaluates a rule against a snapshot. Gating checks short-circuit
// in order: disabled, snoozed, cooldown, no conditions. An expired snooze is
// cleared (persisted) and evaluation continues. Condition errors are logged
// and treated as not met; they never abort sibling conditions.
func (e *Engine) Evaluate(ctx context.Context, rule *models.Rule, snapshot *models.Snapshot) (*Evaluation, error) {
	now := e.clock.Now()

	result := &Evaluation{
		RuleID:   rule.ID,
		Logic:    rule.Logic,
		Snapshot: snapshot,
	}

	if !rule.Enabled {
		result.Reason = ReasonDisabled
		ruleEvaluationsTotal.WithLabelValues(ReasonDisabled).Inc()
		return result, nil
	}

	if rule.IsSnoozed {
		if rule.SnoozeUntil != nil && now.Before(*rule.SnoozeUntil) {
			result.Reason = ReasonSnoozed
			ruleEvaluationsTotal.WithLabelValues(ReasonSnoozed).Inc()
			return result, nil
		}
		// Snooze window expired; clear it exactly once and continue.
		if err := e.store.ClearSnooze(ctx, rule.ID); err != nil {
			logger.Warn("Failed to clear expired snooze",
				logger.ErrorField(err),
				logger.String("rule_id", rule.ID),
			)
		} else {
			rule.IsSnoozed = false
			rule.SnoozeUntil = nil
		}
	}

	if rule.LastTriggeredAt != nil && rule.CooldownSeconds > 0 {
		cooldown := time.Duration(rule.CooldownSeconds) * time.Second
		elapsed := now.Sub(*rule.LastTriggeredAt)
		if elapsed < cooldown {
			result.Reason = ReasonCooldown
			result.CooldownRemaining = cooldown - elapsed
			ruleEvaluationsTotal.WithLabelValues(ReasonCooldown).Inc()
			return result, nil
		}
	}

	if len(rule.Conditions) == 0 {
		result.Reason = ReasonNoConditions
		ruleEvaluationsTotal.WithLabelValues(ReasonNoConditions).Inc()
		return result, nil
	}

	// Conditions are pure and order-independent; evaluate every one so the
	// conditions-met list is complete even under OR logic.
	metCount := 0
	for i := range rule.Conditions {
		cond := &rule.Conditions[i]
		result.ConditionsEvaluated++

		met, err := EvaluateCondition(cond, snapshot)
		if err != nil {
			logger.Warn("Condition evaluation failed, treating as not met",
				logger.ErrorField(err),
				logger.String("rule_id", rule.ID),
				logger.String("field", cond.Field),
				logger.String("operator", cond.Operator),
			)
			continue
		}
		if met {
			metCount++
			result.ConditionsMet = append(result.ConditionsMet, cond.String())
		}
	}

	switch rule.Logic {
	case models.LogicOr:
		result.Triggered = metCount > 0
	default: // AND
		result.Triggered = metCount == len(rule.Conditions)
	}

	if result.Triggered {
		result.Reason = ReasonConditionsMet
		ruleEvaluationsTotal.WithLabelValues(ReasonConditionsMet).Inc()
	} else {
		result.Reason = ReasonConditionsFail
		ruleEvaluationsTotal.WithLabelValues(ReasonConditionsFail).Inc()
	}
	return result, nil
}
