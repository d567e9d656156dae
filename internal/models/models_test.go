package models

import (
	"errors"
	"testing"
)

func validRule() *Rule {
	return &Rule{
		ID:    "rule-1",
		Name:  "AAPL breakout",
		Logic: LogicAnd,
		Conditions: []Condition{
			{Field: "close", Operator: ">", Value: 100},
		},
	}
}

func TestRuleValidate(t *testing.T) {
	if err := validRule().Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*Rule)
		wantErr error
	}{
		{"missing id", func(r *Rule) { r.ID = "" }, ErrInvalidRuleID},
		{"missing name", func(r *Rule) { r.Name = "" }, ErrInvalidRuleName},
		{"bad logic", func(r *Rule) { r.Logic = "XOR" }, ErrInvalidLogic},
		{"no conditions", func(r *Rule) { r.Conditions = nil }, ErrNoConditions},
		{"negative cooldown", func(r *Rule) { r.CooldownSeconds = -1 }, ErrInvalidCooldown},
		{"bad condition field", func(r *Rule) { r.Conditions[0].Field = "" }, ErrInvalidField},
		{"bad condition operator", func(r *Rule) { r.Conditions[0].Operator = "" }, ErrInvalidOperator},
		{"bad value kind", func(r *Rule) { r.Conditions[0].ValueKind = "relative" }, ErrInvalidValueKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := validRule()
			tt.mutate(rule)
			if err := rule.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestConditionString(t *testing.T) {
	c := Condition{Field: "close", Operator: ">", Value: 100}
	if got := c.String(); got != "close > 100.00" {
		t.Errorf("String() = %q", got)
	}

	c.ValueKind = ValueKindPercentage
	if got := c.String(); got != "close > 100.00% of current" {
		t.Errorf("String() = %q", got)
	}
}

func TestSnapshotField(t *testing.T) {
	s := &Snapshot{
		Open:          100,
		High:          110,
		Low:           95,
		Close:         105,
		Volume:        2_000_000,
		PreviousClose: 100,
		AvgVolume:     1_000_000,
		Indicators:    map[string]float64{"rsi_14": 70, "close": 999},
		OptionsFlow:   map[string]float64{"call_volume": 5000},
		Sentiment:     0.4,
	}

	tests := []struct {
		name string
		want float64
	}{
		{"close", 105},
		{"price", 105}, // alias
		{"open", 100},
		{"high", 110},
		{"low", 95},
		{"volume", 2_000_000},
		{"previous_close", 100},
		{"avg_volume", 1_000_000},
		{"change_percent", 5},
		{"volume_ratio", 2},
		{"sentiment", 0.4},
		{"rsi_14", 70},
		{"call_volume", 5000},
	}
	for _, tt := range tests {
		got, ok := s.Field(tt.name)
		if !ok {
			t.Errorf("Field(%q) not resolved", tt.name)
			continue
		}
		if got != tt.want {
			t.Errorf("Field(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}

	// Raw fields shadow same-named indicators.
	if got, _ := s.Field("close"); got == 999 {
		t.Error("Indicator must not shadow the raw close field")
	}
	if _, ok := s.Field("unknown"); ok {
		t.Error("Field(unknown) resolved unexpectedly")
	}
}

func TestSnapshotDerivedZeroDenominators(t *testing.T) {
	s := &Snapshot{Close: 100}
	if got := s.ChangePercent(); got != 0 {
		t.Errorf("ChangePercent() with zero previous close = %v, want 0", got)
	}
	if got := s.VolumeRatio(); got != 0 {
		t.Errorf("VolumeRatio() with zero average = %v, want 0", got)
	}
}

func TestDeliveryRetryable(t *testing.T) {
	tests := []struct {
		name     string
		delivery Delivery
		want     bool
	}{
		{"pending with attempts left", Delivery{Status: StatusPending, Attempts: 0, MaxAttempts: 3}, true},
		{"failed with attempts left", Delivery{Status: StatusFailed, Attempts: 2, MaxAttempts: 3}, true},
		{"sent", Delivery{Status: StatusSent, Attempts: 1, MaxAttempts: 3}, false},
		{"exhausted", Delivery{Status: StatusFailed, Attempts: 3, MaxAttempts: 3}, false},
	}
	for _, tt := range tests {
		if got := tt.delivery.Retryable(); got != tt.want {
			t.Errorf("%s: Retryable() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
