package storage

import (
	"context"
	"time"

	"github.com/mohamedkhairy/alert-dispatch/internal/models"
)

// RuleStore defines the read side of rule access plus the four suppression
// fields this engine is allowed to write (snooze flag, snooze expiry,
// last-triggered, trigger count). Rule authoring lives elsewhere.
type RuleStore interface {
	// GetRule retrieves a rule by ID
	GetRule(ctx context.Context, id string) (*models.Rule, error)

	// LoadEnabledRules retrieves all enabled rules for a monitor tick.
	// Snooze and cooldown are evaluated per rule inside the engine.
	LoadEnabledRules(ctx context.Context) ([]*models.Rule, error)

	// ClearSnooze clears an expired snooze window on a rule
	ClearSnooze(ctx context.Context, ruleID string) error
}

// AlertStore defines the interface for alert persistence
type AlertStore interface {
	// CreateTriggered persists a new alert with its pending deliveries and
	// updates the owning rule's last_triggered_at and trigger_count. All
	// writes commit in a single transaction; a partial write would corrupt
	// cooldown suppression.
	CreateTriggered(ctx context.Context, alert *models.Alert, deliveries []*models.Delivery, triggeredAt time.Time) error

	// GetAlert retrieves a single alert by ID
	GetAlert(ctx context.Context, id string) (*models.Alert, error)

	// ListAlerts retrieves alerts with filtering options
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*models.Alert, error)

	// UpdateDeliveryOutcome writes the aggregate status and per-channel
	// delivery status map back onto an alert after dispatch resolves
	UpdateDeliveryOutcome(ctx context.Context, alertID string, status string, deliveryStatus map[string]string) error

	// AcknowledgeAlert records the acknowledgement timestamp, once
	AcknowledgeAlert(ctx context.Context, alertID string, at time.Time) error
}

// DeliveryStore defines the interface for delivery persistence
type DeliveryStore interface {
	// GetDelivery retrieves a single delivery by ID
	GetDelivery(ctx context.Context, id string) (*models.Delivery, error)

	// ListDeliveries retrieves all deliveries for an alert
	ListDeliveries(ctx context.Context, alertID string) ([]*models.Delivery, error)

	// UpdateDeliveryAttempt persists the outcome of one delivery attempt
	// as a single atomic write
	UpdateDeliveryAttempt(ctx context.Context, delivery *models.Delivery) error
}

// AlertFilter defines filtering options for alert queries
type AlertFilter struct {
	RuleID string
	Symbol string
	Status string
	Since  time.Time
	Limit  int
	Offset int
}

// SnapshotCache is a short-TTL cache for market snapshots, shared across
// rules targeting the same symbol within one tick
type SnapshotCache interface {
	// GetSnapshot returns a cached snapshot, if present
	GetSnapshot(ctx context.Context, symbol string) (*models.Snapshot, bool, error)

	// SetSnapshot caches a snapshot with a TTL
	SetSnapshot(ctx context.Context, snapshot *models.Snapshot, ttl time.Duration) error
}

// InflightLocker guards against concurrent evaluation of the same rule
// across overlapping ticks
type InflightLocker interface {
	// TryAcquire attempts to mark a rule as in flight. Returns false when
	// another worker already holds the marker.
	TryAcquire(ctx context.Context, ruleID string, ttl time.Duration) (bool, error)

	// Release removes the in-flight marker
	Release(ctx context.Context, ruleID string) error
}
