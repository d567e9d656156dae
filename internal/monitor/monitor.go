// Package monitor runs the periodic rule evaluation loop: load enabled
// rules, fetch snapshots, evaluate, and hand triggered rules to the alert
// lifecycle and the delivery dispatcher.
package monitor

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohamedkhairy/alert-dispatch/internal/alert"
	"github.com/mohamedkhairy/alert-dispatch/internal/config"
	"github.com/mohamedkhairy/alert-dispatch/internal/dispatch"
	"github.com/mohamedkhairy/alert-dispatch/internal/marketdata"
	"github.com/mohamedkhairy/alert-dispatch/internal/models"
	"github.com/mohamedkhairy/alert-dispatch/internal/rules"
	"github.com/mohamedkhairy/alert-dispatch/internal/storage"
	"github.com/mohamedkhairy/alert-dispatch/pkg/logger"
)

var (
	ticksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "monitor_ticks_total",
			Help: "Completed monitor ticks",
		},
	)

	tickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "monitor_tick_duration_seconds",
			Help:    "Duration of a full monitor tick in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	rulesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monitor_rules_processed_total",
			Help: "Rules processed per tick by outcome",
		},
		[]string{"outcome"}, // "triggered", "not_triggered", "skipped", "error"
	)
)

// Monitor evaluates all enabled rules once per tick using a bounded worker
// pool. Each worker runs evaluate, alert and deliver for one rule end to
// end; a slow market data call for one rule never blocks the others.
type Monitor struct {
	cfg        config.MonitorConfig
	ruleStore  storage.RuleStore
	engine     *rules.Engine
	lifecycle  *alert.Lifecycle
	dispatcher *dispatch.Dispatcher
	provider   marketdata.Provider
	cache      storage.SnapshotCache
	locker     storage.InflightLocker

	defaultSymbol string
}

// New creates a monitor
func New(
	cfg config.MonitorConfig,
	ruleStore storage.RuleStore,
	engine *rules.Engine,
	lifecycle *alert.Lifecycle,
	dispatcher *dispatch.Dispatcher,
	provider marketdata.Provider,
	cache storage.SnapshotCache,
	locker storage.InflightLocker,
	defaultSymbol string,
) *Monitor {
	return &Monitor{
		cfg:           cfg,
		ruleStore:     ruleStore,
		engine:        engine,
		lifecycle:     lifecycle,
		dispatcher:    dispatcher,
		provider:      provider,
		cache:         cache,
		locker:        locker,
		defaultSymbol: defaultSymbol,
	}
}

// Tick runs one full evaluation cycle. The tick carries a deadline equal to
// the tick interval; rules not started when it passes are left for the next
// tick. A single rule's failure is logged and skipped, never aborting the
// tick.
func (m *Monitor) Tick(ctx context.Context) error {
	timer := prometheus.NewTimer(tickDuration)
	defer timer.ObserveDuration()
	defer ticksTotal.Inc()

	tickCtx, cancel := context.WithTimeout(ctx, m.cfg.TickInterval)
	defer cancel()

	enabledRules, err := m.ruleStore.LoadEnabledRules(tickCtx)
	if err != nil {
		return fmt.Errorf("failed to load enabled rules: %w", err)
	}

	logger.Debug("Starting monitor tick",
		logger.Int("rules", len(enabledRules)),
		logger.Int("workers", m.cfg.WorkerCount),
	)

	sem := make(chan struct{}, m.cfg.WorkerCount)
	var wg sync.WaitGroup

	for _, rule := range enabledRules {
		select {
		case <-tickCtx.Done():
			logger.Warn("Tick deadline reached, deferring remaining rules",
				logger.String("rule_id", rule.ID),
			)
			wg.Wait()
			return nil
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(rule *models.Rule) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					rulesProcessedTotal.WithLabelValues("error").Inc()
					logger.Error("Panic while processing rule",
						logger.String("rule_id", rule.ID),
						logger.Any("panic", r),
					)
				}
			}()
			m.processRule(tickCtx, rule)
		}(rule)
	}

	wg.Wait()
	return nil
}

// processRule runs the evaluate→alert→deliver pipeline for one rule
func (m *Monitor) processRule(ctx context.Context, rule *models.Rule) {
	acquired, err := m.locker.TryAcquire(ctx, rule.ID, m.cfg.InflightTTL)
	if err != nil {
		rulesProcessedTotal.WithLabelValues("error").Inc()
		logger.Warn("Failed to acquire in-flight marker",
			logger.ErrorField(err),
			logger.String("rule_id", rule.ID),
		)
		return
	}
	if !acquired {
		rulesProcessedTotal.WithLabelValues("skipped").Inc()
		logger.Debug("Rule still in flight from a previous tick, skipping",
			logger.String("rule_id", rule.ID),
		)
		return
	}
	defer func() {
		if err := m.locker.Release(context.WithoutCancel(ctx), rule.ID); err != nil {
			logger.Warn("Failed to release in-flight marker",
				logger.ErrorField(err),
				logger.String("rule_id", rule.ID),
			)
		}
	}()

	symbol := rule.Symbol
	if symbol == "" {
		symbol = m.defaultSymbol
	}

	snapshot, err := m.snapshot(ctx, symbol)
	if err != nil {
		rulesProcessedTotal.WithLabelValues("error").Inc()
		logger.Warn("Failed to fetch snapshot, rule retried next tick",
			logger.ErrorField(err),
			logger.String("rule_id", rule.ID),
			logger.String("symbol", symbol),
		)
		return
	}

	eval, err := m.engine.Evaluate(ctx, rule, snapshot)
	if err != nil {
		rulesProcessedTotal.WithLabelValues("error").Inc()
		logger.Warn("Rule evaluation failed, rule retried next tick",
			logger.ErrorField(err),
			logger.String("rule_id", rule.ID),
		)
		return
	}

	if !eval.Triggered {
		rulesProcessedTotal.WithLabelValues("not_triggered").Inc()
		return
	}

	triggered, deliveries, err := m.lifecycle.CreateAlert(ctx, rule, eval)
	if err != nil {
		rulesProcessedTotal.WithLabelValues("error").Inc()
		logger.Error("Failed to create alert for triggered rule",
			logger.ErrorField(err),
			logger.String("rule_id", rule.ID),
		)
		return
	}

	rulesProcessedTotal.WithLabelValues("triggered").Inc()
	m.dispatcher.Deliver(ctx, triggered, deliveries, rule.Channels)
}

// snapshot serves a symbol's snapshot from the short-TTL cache, falling
// through to the provider on miss
func (m *Monitor) snapshot(ctx context.Context, symbol string) (*models.Snapshot, error) {
	if cached, ok, err := m.cache.GetSnapshot(ctx, symbol); err == nil && ok {
		return cached, nil
	} else if err != nil {
		logger.Warn("Snapshot cache read failed, falling through to provider",
			logger.ErrorField(err),
			logger.String("symbol", symbol),
		)
	}

	snapshot, err := m.provider.GetSnapshot(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if err := m.cache.SetSnapshot(ctx, snapshot, m.cfg.SnapshotTTL); err != nil {
		logger.Warn("Failed to cache snapshot",
			logger.ErrorField(err),
			logger.String("symbol", symbol),
		)
	}
	return snapshot, nil
}
