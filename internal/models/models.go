package models

import (
	"fmt"
	"time"
)

// Rule logic for combining condition results
const (
	LogicAnd = "AND"
	LogicOr  = "OR"
)

// Alert types supported by the engine
const (
	AlertTypePrice       = "price"
	AlertTypeVolume      = "volume"
	AlertTypeIndicator   = "indicator"
	AlertTypeSentiment   = "sentiment"
	AlertTypeOptionsFlow = "options_flow"
)

// Alert and Delivery statuses
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// DefaultMaxAttempts is the default delivery attempt limit
const DefaultMaxAttempts = 3

// Rule represents a persisted alert definition. Rules are authored by an
// external management surface; this engine only mutates the suppression
// bookkeeping fields (IsSnoozed/SnoozeUntil, LastTriggeredAt, TriggerCount).
type Rule struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Symbol          string          `json:"symbol,omitempty"`
	AlertType       string          `json:"alert_type"`
	Logic           string          `json:"logic"` // "AND" or "OR"
	Conditions      []Condition     `json:"conditions"`
	Channels        []ChannelConfig `json:"channels"`
	Enabled         bool            `json:"enabled"`
	IsSnoozed       bool            `json:"is_snoozed"`
	SnoozeUntil     *time.Time      `json:"snooze_until,omitempty"`
	CooldownSeconds int             `json:"cooldown_seconds"`
	LastTriggeredAt *time.Time      `json:"last_triggered_at,omitempty"`
	TriggerCount    int64           `json:"trigger_count"`
	Owner           string          `json:"owner"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Validate validates a Rule
func (r *Rule) Validate() error {
	if r.ID == "" {
		return ErrInvalidRuleID
	}
	if r.Name == "" {
		return ErrInvalidRuleName
	}
	if r.Logic != LogicAnd && r.Logic != LogicOr {
		return ErrInvalidLogic
	}
	if len(r.Conditions) == 0 {
		return ErrNoConditions
	}
	if r.CooldownSeconds < 0 {
		return ErrInvalidCooldown
	}
	for i := range r.Conditions {
		if err := r.Conditions[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Condition value kinds
const (
	ValueKindAbsolute   = "absolute"
	ValueKindPercentage = "percentage"
)

// Condition represents a single comparison clause within a rule
type Condition struct {
	Field         string  `json:"field"`    // e.g. "close", "volume_ratio", "rsi_14"
	Operator      string  `json:"operator"` // ">", "crosses_above", ...
	Value         float64 `json:"value"`
	ValueKind     string  `json:"value_kind"` // "absolute" or "percentage"
	WindowMinutes int     `json:"window_minutes,omitempty"`
}

// Validate validates a Condition
func (c *Condition) Validate() error {
	if c.Field == "" {
		return ErrInvalidField
	}
	if c.Operator == "" {
		return ErrInvalidOperator
	}
	if c.ValueKind != "" && c.ValueKind != ValueKindAbsolute && c.ValueKind != ValueKindPercentage {
		return ErrInvalidValueKind
	}
	return nil
}

// String renders a condition in a human-readable form for alert messages
func (c Condition) String() string {
	if c.ValueKind == ValueKindPercentage {
		return fmt.Sprintf("%s %s %.2f%% of current", c.Field, c.Operator, c.Value)
	}
	return fmt.Sprintf("%s %s %.2f", c.Field, c.Operator, c.Value)
}

// ChannelConfig holds one notification channel configured on a rule
type ChannelConfig struct {
	Type     string            `json:"type"`   // "telegram", "email", "sms", "webhook", "slack"
	Target   string            `json:"target"` // chat ID, email address, phone number, URL
	Settings map[string]string `json:"settings,omitempty"`
}

// Snapshot is a point-in-time view of market data for one symbol, supplied
// by the external market data provider. Indicator values arrive precomputed.
type Snapshot struct {
	Symbol        string             `json:"symbol"`
	Timestamp     time.Time          `json:"timestamp"`
	Open          float64            `json:"open"`
	High          float64            `json:"high"`
	Low           float64            `json:"low"`
	Close         float64            `json:"close"`
	Volume        float64            `json:"volume"`
	PreviousClose float64            `json:"previous_close"`
	AvgVolume     float64            `json:"avg_volume"`
	Indicators    map[string]float64 `json:"indicators,omitempty"`
	Sentiment     float64            `json:"sentiment"`
	OptionsFlow   map[string]float64 `json:"options_flow,omitempty"`
	// PreviousValue is the reading of the evaluated field from the prior
	// observation, used for cross detection.
	PreviousValue float64 `json:"previous_value"`
}

// ChangePercent returns the percentage price change vs the previous close
func (s *Snapshot) ChangePercent() float64 {
	if s.PreviousClose == 0 {
		return 0
	}
	return (s.Close - s.PreviousClose) / s.PreviousClose * 100
}

// VolumeRatio returns current volume relative to average volume
func (s *Snapshot) VolumeRatio() float64 {
	if s.AvgVolume == 0 {
		return 0
	}
	return s.Volume / s.AvgVolume
}

// Field resolves a named field from the snapshot. Derived fields and
// indicator values share one namespace; indicators win only when no raw
// field has the name.
func (s *Snapshot) Field(name string) (float64, bool) {
	switch name {
	case "price", "close":
		return s.Close, true
	case "open":
		return s.Open, true
	case "high":
		return s.High, true
	case "low":
		return s.Low, true
	case "volume":
		return s.Volume, true
	case "previous_close":
		return s.PreviousClose, true
	case "avg_volume":
		return s.AvgVolume, true
	case "change_percent":
		return s.ChangePercent(), true
	case "volume_ratio":
		return s.VolumeRatio(), true
	case "sentiment":
		return s.Sentiment, true
	}
	if v, ok := s.Indicators[name]; ok {
		return v, true
	}
	if v, ok := s.OptionsFlow[name]; ok {
		return v, true
	}
	return 0, false
}

// Alert is a recorded trigger event produced by a rule. Immutable after
// creation except for acknowledgement and the delivery status map.
type Alert struct {
	ID             string            `json:"id"`
	RuleID         string            `json:"rule_id"`
	Symbol         string            `json:"symbol"`
	Title          string            `json:"title"`
	Message        string            `json:"message"`
	TriggerValue   float64           `json:"trigger_value"`
	Snapshot       *Snapshot         `json:"snapshot,omitempty"`
	ConditionsMet  []string          `json:"conditions_met"`
	DeliveryStatus map[string]string `json:"delivery_status,omitempty"`
	Status         string            `json:"status"` // pending, sent, failed
	CreatedAt      time.Time         `json:"created_at"`
	AcknowledgedAt *time.Time        `json:"acknowledged_at,omitempty"`
}

// Validate validates an Alert
func (a *Alert) Validate() error {
	if a.ID == "" {
		return ErrInvalidAlertID
	}
	if a.RuleID == "" {
		return ErrInvalidRuleID
	}
	return nil
}

// Delivery tracks one channel's attempt to notify about an alert
type Delivery struct {
	ID            string     `json:"id"`
	AlertID       string     `json:"alert_id"`
	Channel       string     `json:"channel"`
	Target        string     `json:"target"`
	Status        string     `json:"status"` // pending, sent, failed
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"max_attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`
	FailedAt      *time.Time `json:"failed_at,omitempty"`
	ExternalRef   string     `json:"external_ref,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// Retryable reports whether another delivery attempt is allowed
func (d *Delivery) Retryable() bool {
	return d.Status != StatusSent && d.Attempts < d.MaxAttempts
}
