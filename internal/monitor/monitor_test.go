package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mohamedkhairy/alert-dispatch/internal/alert"
	"github.com/mohamedkhairy/alert-dispatch/internal/channels"
	"github.com/mohamedkhairy/alert-dispatch/internal/config"
	"github.com/mohamedkhairy/alert-dispatch/internal/dispatch"
	"github.com/mohamedkhairy/alert-dispatch/internal/marketdata"
	"github.com/mohamedkhairy/alert-dispatch/internal/models"
	"github.com/mohamedkhairy/alert-dispatch/internal/rules"
	"github.com/mohamedkhairy/alert-dispatch/internal/storage"
	"github.com/mohamedkhairy/alert-dispatch/pkg/clock"
)

type okAdapter struct{ name string }

func (a okAdapter) Name() string { return a.name }

func (a okAdapter) Send(ctx context.Context, al *models.Alert, cfg models.ChannelConfig) (string, error) {
	return "ref-" + a.name, nil
}

type fixture struct {
	monitor  *Monitor
	store    *storage.MockStore
	cache    *storage.MockSnapshotCache
	locker   *storage.MockInflightLocker
	provider *marketdata.MockProvider
	clock    *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := storage.NewMockStore()
	cache := storage.NewMockSnapshotCache()
	locker := storage.NewMockInflightLocker()
	provider := marketdata.NewMockProvider()
	clk := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	registry := channels.NewRegistry()
	registry.Register(okAdapter{name: "telegram"})
	registry.Register(okAdapter{name: "webhook"})

	engine := rules.NewEngine(store, clk)
	lifecycle := alert.NewLifecycle(store, clk, 3)
	dispatcher := dispatch.NewDispatcher(registry, store, store, store, clk, time.Second)

	cfg := config.MonitorConfig{
		TickInterval: time.Minute,
		WorkerCount:  4,
		SnapshotTTL:  55 * time.Second,
		InflightTTL:  2 * time.Minute,
	}
	mon := New(cfg, store, engine, lifecycle, dispatcher, provider, cache, locker, "SPY")

	return &fixture{
		monitor:  mon,
		store:    store,
		cache:    cache,
		locker:   locker,
		provider: provider,
		clock:    clk,
	}
}

func breakoutRule(id, symbol string) *models.Rule {
	return &models.Rule{
		ID:      id,
		Name:    symbol + " breakout",
		Symbol:  symbol,
		Logic:   models.LogicAnd,
		Enabled: true,
		Conditions: []models.Condition{
			{Field: "close", Operator: ">", Value: 100},
		},
		Channels: []models.ChannelConfig{
			{Type: "telegram", Target: "chat-1"},
			{Type: "webhook", Target: "https://example.com/hook"},
		},
		CooldownSeconds: 600,
	}
}

func TestTick_TriggersAndDelivers(t *testing.T) {
	f := newFixture(t)
	f.store.AddRule(breakoutRule("rule-1", "AAPL"))
	f.provider.SetSnapshot(&models.Snapshot{Symbol: "AAPL", Close: 105, PreviousClose: 100, PreviousValue: 100})

	if err := f.monitor.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	if len(f.store.Alerts) != 1 {
		t.Fatalf("Got %d alerts, want 1", len(f.store.Alerts))
	}
	var a *models.Alert
	for _, stored := range f.store.Alerts {
		a = stored
	}
	if a.Status != models.StatusSent {
		t.Errorf("Alert status = %q, want sent", a.Status)
	}
	if len(f.store.Deliveries) != 2 {
		t.Errorf("Got %d deliveries, want 2", len(f.store.Deliveries))
	}
	for _, d := range f.store.Deliveries {
		if d.Status != models.StatusSent {
			t.Errorf("Delivery %s status = %q, want sent", d.Channel, d.Status)
		}
	}

	rule := f.store.Rules["rule-1"]
	if rule.LastTriggeredAt == nil || !rule.LastTriggeredAt.Equal(f.clock.Now()) {
		t.Errorf("Rule LastTriggeredAt = %v, want %v", rule.LastTriggeredAt, f.clock.Now())
	}
	if rule.TriggerCount != 1 {
		t.Errorf("Rule TriggerCount = %d, want 1", rule.TriggerCount)
	}

	// The in-flight marker is released after processing.
	if len(f.locker.Held) != 0 {
		t.Errorf("In-flight markers still held: %v", f.locker.Held)
	}
}

func TestTick_CooldownSuppressesSecondTick(t *testing.T) {
	f := newFixture(t)
	f.store.AddRule(breakoutRule("rule-1", "AAPL"))
	f.provider.SetSnapshot(&models.Snapshot{Symbol: "AAPL", Close: 105, PreviousClose: 100, PreviousValue: 100})

	if err := f.monitor.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if len(f.store.Alerts) != 1 {
		t.Fatalf("Got %d alerts after first tick, want 1", len(f.store.Alerts))
	}

	// One minute later the cooldown (10m) is still active.
	f.clock.Advance(time.Minute)
	f.cache.Snapshots = map[string]*models.Snapshot{} // expire the cache
	if err := f.monitor.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if len(f.store.Alerts) != 1 {
		t.Errorf("Got %d alerts under cooldown, want still 1", len(f.store.Alerts))
	}

	// Past the cooldown the rule fires again.
	f.clock.Advance(10 * time.Minute)
	f.cache.Snapshots = map[string]*models.Snapshot{}
	if err := f.monitor.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if len(f.store.Alerts) != 2 {
		t.Errorf("Got %d alerts after cooldown elapsed, want 2", len(f.store.Alerts))
	}
}

func TestTick_InflightRuleSkipped(t *testing.T) {
	f := newFixture(t)
	f.store.AddRule(breakoutRule("rule-1", "AAPL"))
	f.provider.SetSnapshot(&models.Snapshot{Symbol: "AAPL", Close: 105, PreviousClose: 100, PreviousValue: 100})
	f.locker.Held["rule-1"] = true

	if err := f.monitor.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if len(f.store.Alerts) != 0 {
		t.Errorf("Got %d alerts for an in-flight rule, want 0", len(f.store.Alerts))
	}
	// A skipped rule's marker is left alone for the owner to release.
	if !f.locker.Held["rule-1"] {
		t.Error("In-flight marker must not be released by the skipping tick")
	}
}

func TestTick_SnapshotSharedAcrossRules(t *testing.T) {
	f := newFixture(t)
	f.monitor.cfg.WorkerCount = 1 // serialize so the second rule sees the cache
	f.store.AddRule(breakoutRule("rule-1", "AAPL"))
	f.store.AddRule(breakoutRule("rule-2", "AAPL"))
	f.provider.SetSnapshot(&models.Snapshot{Symbol: "AAPL", Close: 105, PreviousClose: 100, PreviousValue: 100})

	if err := f.monitor.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}

	if f.provider.Calls != 1 {
		t.Errorf("Provider calls = %d, want 1 (second rule served from cache)", f.provider.Calls)
	}
	if f.cache.SetCalls != 1 {
		t.Errorf("Cache writes = %d, want 1", f.cache.SetCalls)
	}
	if len(f.store.Alerts) != 2 {
		t.Errorf("Got %d alerts, want 2", len(f.store.Alerts))
	}
}

func TestTick_ProviderFailureIsolated(t *testing.T) {
	f := newFixture(t)
	f.store.AddRule(breakoutRule("rule-1", "AAPL"))
	f.provider.Err = errors.New("upstream timeout")

	if err := f.monitor.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v (a single rule failure must not abort the tick)", err)
	}
	if len(f.store.Alerts) != 0 {
		t.Errorf("Got %d alerts despite provider failure, want 0", len(f.store.Alerts))
	}
	if len(f.locker.Held) != 0 {
		t.Error("In-flight marker must be released after a failed rule")
	}
}

func TestTick_DefaultSymbolFallback(t *testing.T) {
	f := newFixture(t)
	rule := breakoutRule("rule-1", "")
	rule.Name = "index breakout"
	f.store.AddRule(rule)
	f.provider.SetSnapshot(&models.Snapshot{Symbol: "SPY", Close: 105, PreviousClose: 100, PreviousValue: 100})

	if err := f.monitor.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	if len(f.store.Alerts) != 1 {
		t.Fatalf("Got %d alerts, want 1", len(f.store.Alerts))
	}
	for _, a := range f.store.Alerts {
		if a.Symbol != "SPY" {
			t.Errorf("Alert symbol = %q, want default SPY", a.Symbol)
		}
	}
}

func TestTick_LoadFailure(t *testing.T) {
	f := newFixture(t)
	f.store.LoadErr = errors.New("db down")

	if err := f.monitor.Tick(context.Background()); err == nil {
		t.Fatal("Expected error when rules cannot be loaded")
	}
}
