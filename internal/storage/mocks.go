package storage

import (
	"context"
	"sync"
	"time"

	"github.com/mohamedkhairy/alert-dispatch/internal/models"
)

// MockStore is an in-memory implementation of RuleStore, AlertStore and
// DeliveryStore for testing
type MockStore struct {
	mu         sync.Mutex
	Rules      map[string]*models.Rule
	Alerts     map[string]*models.Alert
	Deliveries map[string]*models.Delivery

	LoadErr   error
	CreateErr error
	UpdateErr error
}

// NewMockStore creates an empty in-memory store
func NewMockStore() *MockStore {
	return &MockStore{
		Rules:      make(map[string]*models.Rule),
		Alerts:     make(map[string]*models.Alert),
		Deliveries: make(map[string]*models.Delivery),
	}
}

// AddRule seeds a rule into the store
func (m *MockStore) AddRule(rule *models.Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rules[rule.ID] = rule
}

func (m *MockStore) GetRule(ctx context.Context, id string) (*models.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.Rules[id]
	if !ok {
		return nil, models.ErrRuleNotFound
	}
	return rule, nil
}

func (m *MockStore) LoadEnabledRules(ctx context.Context) ([]*models.Rule, error) {
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var rules []*models.Rule
	for _, rule := range m.Rules {
		if rule.Enabled {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

func (m *MockStore) ClearSnooze(ctx context.Context, ruleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rule, ok := m.Rules[ruleID]; ok {
		rule.IsSnoozed = false
		rule.SnoozeUntil = nil
	}
	return nil
}

func (m *MockStore) CreateTriggered(ctx context.Context, alert *models.Alert, deliveries []*models.Delivery, triggeredAt time.Time) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts[alert.ID] = alert
	for _, d := range deliveries {
		m.Deliveries[d.ID] = d
	}
	if rule, ok := m.Rules[alert.RuleID]; ok {
		at := triggeredAt
		rule.LastTriggeredAt = &at
		rule.TriggerCount++
	}
	return nil
}

func (m *MockStore) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.Alerts[id]
	if !ok {
		return nil, models.ErrAlertNotFound
	}
	return alert, nil
}

func (m *MockStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]*models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var alerts []*models.Alert
	for _, alert := range m.Alerts {
		if filter.RuleID != "" && alert.RuleID != filter.RuleID {
			continue
		}
		if filter.Symbol != "" && alert.Symbol != filter.Symbol {
			continue
		}
		if filter.Status != "" && alert.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && alert.CreatedAt.Before(filter.Since) {
			continue
		}
		alerts = append(alerts, alert)
	}
	if filter.Limit > 0 && len(alerts) > filter.Limit {
		alerts = alerts[:filter.Limit]
	}
	return alerts, nil
}

func (m *MockStore) UpdateDeliveryOutcome(ctx context.Context, alertID string, status string, deliveryStatus map[string]string) error {
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.Alerts[alertID]
	if !ok {
		return models.ErrAlertNotFound
	}
	alert.Status = status
	alert.DeliveryStatus = deliveryStatus
	return nil
}

func (m *MockStore) AcknowledgeAlert(ctx context.Context, alertID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.Alerts[alertID]
	if !ok {
		return models.ErrAlertNotFound
	}
	if alert.AcknowledgedAt != nil {
		return models.ErrAlreadyAcked
	}
	ackedAt := at
	alert.AcknowledgedAt = &ackedAt
	return nil
}

func (m *MockStore) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delivery, ok := m.Deliveries[id]
	if !ok {
		return nil, models.ErrDeliveryNotFound
	}
	return delivery, nil
}

func (m *MockStore) ListDeliveries(ctx context.Context, alertID string) ([]*models.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deliveries []*models.Delivery
	for _, d := range m.Deliveries {
		if d.AlertID == alertID {
			deliveries = append(deliveries, d)
		}
	}
	return deliveries, nil
}

func (m *MockStore) UpdateDeliveryAttempt(ctx context.Context, delivery *models.Delivery) error {
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deliveries[delivery.ID] = delivery
	return nil
}

// MockSnapshotCache is an in-memory SnapshotCache for testing. TTLs are
// ignored; tests control contents directly.
type MockSnapshotCache struct {
	mu        sync.Mutex
	Snapshots map[string]*models.Snapshot
	SetCalls  int
	GetCalls  int
}

// NewMockSnapshotCache creates an empty snapshot cache
func NewMockSnapshotCache() *MockSnapshotCache {
	return &MockSnapshotCache{
		Snapshots: make(map[string]*models.Snapshot),
	}
}

func (m *MockSnapshotCache) GetSnapshot(ctx context.Context, symbol string) (*models.Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCalls++
	snapshot, ok := m.Snapshots[symbol]
	return snapshot, ok, nil
}

func (m *MockSnapshotCache) SetSnapshot(ctx context.Context, snapshot *models.Snapshot, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetCalls++
	m.Snapshots[snapshot.Symbol] = snapshot
	return nil
}

// MockInflightLocker is an in-memory InflightLocker for testing
type MockInflightLocker struct {
	mu      sync.Mutex
	Held    map[string]bool
	DenyAll bool
}

// NewMockInflightLocker creates an empty in-flight locker
func NewMockInflightLocker() *MockInflightLocker {
	return &MockInflightLocker{Held: make(map[string]bool)}
}

func (m *MockInflightLocker) TryAcquire(ctx context.Context, ruleID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DenyAll || m.Held[ruleID] {
		return false, nil
	}
	m.Held[ruleID] = true
	return true, nil
}

func (m *MockInflightLocker) Release(ctx context.Context, ruleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Held, ruleID)
	return nil
}
