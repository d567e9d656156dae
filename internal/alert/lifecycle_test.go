package alert

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mohamedkhairy/alert-dispatch/internal/models"
	"github.com/mohamedkhairy/alert-dispatch/internal/rules"
	"github.com/mohamedkhairy/alert-dispatch/internal/storage"
	"github.com/mohamedkhairy/alert-dispatch/pkg/clock"
)

func triggeredEval(rule *models.Rule, snapshot *models.Snapshot) *rules.Evaluation {
	return &rules.Evaluation{
		RuleID:        rule.ID,
		Triggered:     true,
		Reason:        rules.ReasonConditionsMet,
		Logic:         rule.Logic,
		ConditionsMet: []string{"close > 100.00"},
		Snapshot:      snapshot,
	}
}

func TestCreateAlert(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := storage.NewMockStore()
	lifecycle := NewLifecycle(store, clock.NewFake(now), 3)

	rule := &models.Rule{
		ID:        "rule-1",
		Name:      "AAPL breakout",
		Symbol:    "AAPL",
		AlertType: models.AlertTypePrice,
		Logic:     models.LogicAnd,
		Enabled:   true,
		Channels: []models.ChannelConfig{
			{Type: "telegram", Target: "chat-1"},
			{Type: "email", Target: "ops@example.com"},
		},
	}
	store.AddRule(rule)

	snapshot := &models.Snapshot{
		Symbol:        "AAPL",
		Close:         105,
		PreviousClose: 100,
	}

	a, deliveries, err := lifecycle.CreateAlert(context.Background(), rule, triggeredEval(rule, snapshot))
	if err != nil {
		t.Fatalf("CreateAlert() error = %v", err)
	}

	if a.Title != "Price Alert: AAPL" {
		t.Errorf("Title = %q", a.Title)
	}
	if !strings.Contains(a.Message, "AAPL breakout fired for AAPL at 105.00") {
		t.Errorf("Message = %q", a.Message)
	}
	if !strings.Contains(a.Message, "+5.00%") {
		t.Errorf("Message missing change percent: %q", a.Message)
	}
	if !strings.Contains(a.Message, "Conditions met (AND): close > 100.00") {
		t.Errorf("Message missing conditions: %q", a.Message)
	}
	if a.TriggerValue != 105 {
		t.Errorf("TriggerValue = %v, want 105", a.TriggerValue)
	}
	if a.Status != models.StatusPending {
		t.Errorf("Status = %q, want pending", a.Status)
	}
	if !a.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", a.CreatedAt, now)
	}

	if len(deliveries) != 2 {
		t.Fatalf("Got %d deliveries, want 2", len(deliveries))
	}
	for _, d := range deliveries {
		if d.AlertID != a.ID {
			t.Errorf("Delivery %s not bound to alert", d.ID)
		}
		if d.Status != models.StatusPending || d.Attempts != 0 || d.MaxAttempts != 3 {
			t.Errorf("Delivery %s state = %q/%d/%d", d.ID, d.Status, d.Attempts, d.MaxAttempts)
		}
	}

	// The commit updates the rule's suppression bookkeeping too.
	if rule.LastTriggeredAt == nil || !rule.LastTriggeredAt.Equal(now) {
		t.Errorf("Rule LastTriggeredAt = %v, want %v", rule.LastTriggeredAt, now)
	}
	if rule.TriggerCount != 1 {
		t.Errorf("Rule TriggerCount = %d, want 1", rule.TriggerCount)
	}
}

func TestCreateAlert_TriggerValueByType(t *testing.T) {
	store := storage.NewMockStore()
	lifecycle := NewLifecycle(store, clock.NewFake(time.Now()), 3)

	snapshot := &models.Snapshot{
		Symbol:    "TSLA",
		Close:     250,
		Volume:    5_000_000,
		Sentiment: 0.8,
	}

	tests := []struct {
		alertType string
		title     string
		value     float64
	}{
		{models.AlertTypeVolume, "Volume Alert: TSLA", 5_000_000},
		{models.AlertTypeSentiment, "Sentiment Alert: TSLA", 0.8},
		{models.AlertTypeIndicator, "Indicator Alert: TSLA", 250},
	}

	for _, tt := range tests {
		rule := &models.Rule{ID: "rule-" + tt.alertType, Name: "r", AlertType: tt.alertType}
		a, _, err := lifecycle.CreateAlert(context.Background(), rule, triggeredEval(rule, snapshot))
		if err != nil {
			t.Fatalf("CreateAlert(%s) error = %v", tt.alertType, err)
		}
		if a.Title != tt.title {
			t.Errorf("Title for %s = %q, want %q", tt.alertType, a.Title, tt.title)
		}
		if a.TriggerValue != tt.value {
			t.Errorf("TriggerValue for %s = %v, want %v", tt.alertType, a.TriggerValue, tt.value)
		}
	}
}

func TestCreateAlert_CommitFailure(t *testing.T) {
	store := storage.NewMockStore()
	store.CreateErr = errors.New("db down")
	lifecycle := NewLifecycle(store, clock.NewFake(time.Now()), 3)

	rule := &models.Rule{ID: "rule-1", Name: "r", Channels: []models.ChannelConfig{{Type: "telegram"}}}
	snapshot := &models.Snapshot{Symbol: "AAPL", Close: 100}

	if _, _, err := lifecycle.CreateAlert(context.Background(), rule, triggeredEval(rule, snapshot)); err == nil {
		t.Fatal("Expected commit error to propagate")
	}
	if len(store.Alerts) != 0 {
		t.Error("No alert must exist after a failed commit")
	}
}

func TestAcknowledge(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := storage.NewMockStore()
	lifecycle := NewLifecycle(store, clock.NewFake(now), 3)

	store.Alerts["alert-1"] = &models.Alert{ID: "alert-1", Status: models.StatusSent}

	if err := lifecycle.Acknowledge(context.Background(), "alert-1"); err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}
	if store.Alerts["alert-1"].AcknowledgedAt == nil {
		t.Fatal("AcknowledgedAt not set")
	}

	if err := lifecycle.Acknowledge(context.Background(), "alert-1"); !errors.Is(err, models.ErrAlreadyAcked) {
		t.Errorf("Second ack error = %v, want ErrAlreadyAcked", err)
	}
	if err := lifecycle.Acknowledge(context.Background(), "missing"); !errors.Is(err, models.ErrAlertNotFound) {
		t.Errorf("Missing alert error = %v, want ErrAlertNotFound", err)
	}
}
