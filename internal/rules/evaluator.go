package rules

import (
	"fmt"
	"math"

	"github.com/mohamedkhairy/alert-dispatch/internal/models"
)

// equalityEpsilon is the tolerance for the "==" and "!=" operators
const equalityEpsilon = 0.01

// Supported condition operators
const (
	OpGreater        = ">"
	OpGreaterOrEqual = ">="
	OpLess           = "<"
	OpLessOrEqual    = "<="
	OpEqual          = "=="
	OpNotEqual       = "!="
	OpCrossesAbove   = "crosses_above"
	OpCrossesBelow   = "crosses_below"
	OpPctChangeAbove = "pct_change_above"
	OpPctChangeBelow = "pct_change_below"
)

// EvaluateCondition evaluates a single condition against a snapshot. It is
// side-effect free. Unknown fields or operators return an error; the engine
// treats an errored condition as not met (fail-closed).
func EvaluateCondition(cond *models.Condition, snapshot *models.Snapshot) (bool, error) {
	if snapshot == nil {
		return false, models.ErrMissingSnapshot
	}

	current, ok := snapshot.Field(cond.Field)
	if !ok {
		return false, fmt.Errorf("%w: %s", models.ErrInvalidField, cond.Field)
	}

	threshold := cond.Value
	if cond.ValueKind == models.ValueKindPercentage {
		// The threshold is a percentage of the current reading itself,
		// not of a fixed baseline.
		threshold = current * cond.Value / 100
	}

	switch cond.Operator {
	case OpGreater:
		return current > threshold, nil
	case OpGreaterOrEqual:
		return current >= threshold, nil
	case OpLess:
		return current < threshold, nil
	case OpLessOrEqual:
		return current <= threshold, nil
	case OpEqual:
		return math.Abs(current-threshold) <= equalityEpsilon, nil
	case OpNotEqual:
		return math.Abs(current-threshold) > equalityEpsilon, nil
	case OpCrossesAbove:
		// True only on the reading where the field moves through the
		// threshold; a field already above does not re-trigger.
		return snapshot.PreviousValue < threshold && current >= threshold, nil
	case OpCrossesBelow:
		return snapshot.PreviousValue > threshold && current <= threshold, nil
	case OpPctChangeAbove:
		change, err := percentChange(snapshot.PreviousValue, current)
		if err != nil {
			return false, err
		}
		return change >= cond.Value, nil
	case OpPctChangeBelow:
		change, err := percentChange(snapshot.PreviousValue, current)
		if err != nil {
			return false, err
		}
		return change <= cond.Value, nil
	default:
		return false, fmt.Errorf("%w: %s", models.ErrInvalidOperator, cond.Operator)
	}
}

func percentChange(previous, current float64) (float64, error) {
	if previous == 0 {
		return 0, fmt.Errorf("cannot compute percent change from zero previous value")
	}
	return (current - previous) / previous * 100, nil
}
