package models

import "errors"

var (
	ErrInvalidRuleID    = errors.New("invalid rule ID")
	ErrInvalidRuleName  = errors.New("invalid rule name")
	ErrInvalidLogic     = errors.New("invalid rule logic (must be AND or OR)")
	ErrNoConditions     = errors.New("rule must have at least one condition")
	ErrInvalidCooldown  = errors.New("cooldown must not be negative")
	ErrInvalidField     = errors.New("invalid condition field")
	ErrInvalidOperator  = errors.New("invalid condition operator")
	ErrInvalidValueKind = errors.New("invalid condition value kind")
	ErrInvalidAlertID   = errors.New("invalid alert ID")
	ErrRuleNotFound     = errors.New("rule not found")
	ErrAlertNotFound    = errors.New("alert not found")
	ErrDeliveryNotFound = errors.New("delivery not found")
	ErrRetryNotAllowed  = errors.New("delivery is not retryable")
	ErrAlreadyAcked     = errors.New("alert already acknowledged")
	ErrUnknownChannel   = errors.New("unknown channel type")
	ErrMissingSnapshot  = errors.New("snapshot is required")
)
