// Package dispatch fans one alert out to its configured channels, tracks
// per-channel delivery state and serves the externally invoked retry path.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohamedkhairy/alert-dispatch/internal/channels"
	"github.com/mohamedkhairy/alert-dispatch/internal/models"
	"github.com/mohamedkhairy/alert-dispatch/internal/storage"
	"github.com/mohamedkhairy/alert-dispatch/pkg/clock"
	"github.com/mohamedkhairy/alert-dispatch/pkg/logger"
)

var (
	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deliveries_total",
			Help: "Delivery attempts by channel and outcome",
		},
		[]string{"channel", "status"},
	)

	deliveryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delivery_latency_seconds",
			Help:    "Channel send latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"channel"},
	)
)

// Result is the outcome of one delivery attempt
type Result struct {
	Channel     string
	Status      string
	ExternalRef string
	Err         error
}

// Dispatcher delivers alerts through channel adapters. Channels are
// attempted concurrently and independently; one channel's failure never
// blocks or cancels another.
type Dispatcher struct {
	registry       *channels.Registry
	rules          storage.RuleStore
	alerts         storage.AlertStore
	deliveries     storage.DeliveryStore
	clock          clock.Clock
	channelTimeout time.Duration
}

// NewDispatcher creates a delivery dispatcher
func NewDispatcher(registry *channels.Registry, rules storage.RuleStore, alerts storage.AlertStore, deliveries storage.DeliveryStore, clk clock.Clock, channelTimeout time.Duration) *Dispatcher {
	if clk == nil {
		clk = clock.Real()
	}
	if channelTimeout <= 0 {
		channelTimeout = 10 * time.Second
	}
	return &Dispatcher{
		registry:       registry,
		rules:          rules,
		alerts:         alerts,
		deliveries:     deliveries,
		clock:          clk,
		channelTimeout: channelTimeout,
	}
}

// Deliver fans the alert out to every pending delivery concurrently, then
// writes the aggregate outcome back onto the alert. The alert is "sent" when
// at least one channel succeeded, "failed" only when all channels failed.
func (d *Dispatcher) Deliver(ctx context.Context, alert *models.Alert, deliveries []*models.Delivery, channelCfgs []models.ChannelConfig) map[string]Result {
	results := make(map[string]Result, len(deliveries))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, delivery := range deliveries {
		wg.Add(1)
		go func(delivery *models.Delivery) {
			defer wg.Done()
			result := d.attempt(ctx, alert, delivery, channelConfigFor(channelCfgs, delivery))
			mu.Lock()
			results[deliveryKey(delivery)] = result
			mu.Unlock()
		}(delivery)
	}
	wg.Wait()

	status := models.StatusFailed
	deliveryStatus := make(map[string]string, len(results))
	for key, result := range results {
		deliveryStatus[key] = result.Status
		if result.Status == models.StatusSent {
			status = models.StatusSent
		}
	}

	if err := d.alerts.UpdateDeliveryOutcome(ctx, alert.ID, status, deliveryStatus); err != nil {
		logger.Error("Failed to record delivery outcome on alert",
			logger.ErrorField(err),
			logger.String("alert_id", alert.ID),
		)
	}

	alert.Status = status
	alert.DeliveryStatus = deliveryStatus
	return results
}

// Retry performs one more attempt on a failed delivery. It is rejected once
// the delivery is sent or its attempts are exhausted.
func (d *Dispatcher) Retry(ctx context.Context, deliveryID string) (Result, error) {
	delivery, err := d.deliveries.GetDelivery(ctx, deliveryID)
	if err != nil {
		return Result{}, err
	}
	if !delivery.Retryable() {
		return Result{}, fmt.Errorf("%w: delivery %s (status %s, attempts %d/%d)",
			models.ErrRetryNotAllowed, delivery.ID, delivery.Status, delivery.Attempts, delivery.MaxAttempts)
	}

	alert, err := d.alerts.GetAlert(ctx, delivery.AlertID)
	if err != nil {
		return Result{}, err
	}

	// The per-channel settings live on the rule; re-read them so a retry
	// carries the same config (webhook secrets etc.) as the first attempt.
	var channelCfgs []models.ChannelConfig
	if rule, ruleErr := d.rules.GetRule(ctx, alert.RuleID); ruleErr == nil {
		channelCfgs = rule.Channels
	} else {
		logger.Warn("Failed to load rule for retry, using delivery target only",
			logger.ErrorField(ruleErr),
			logger.String("delivery_id", delivery.ID),
		)
	}

	result := d.attempt(ctx, alert, delivery, channelConfigFor(channelCfgs, delivery))
	d.refreshAlertOutcome(ctx, alert)
	return result, nil
}

// attempt runs a single adapter send with its own timeout and persists the
// delivery transition as one atomic write
func (d *Dispatcher) attempt(ctx context.Context, alert *models.Alert, delivery *models.Delivery, cfg models.ChannelConfig) Result {
	now := d.clock.Now()
	delivery.Attempts++
	delivery.LastAttemptAt = &now

	externalRef, err := d.send(ctx, alert, delivery, cfg)

	if err != nil {
		failedAt := d.clock.Now()
		delivery.Status = models.StatusFailed
		delivery.FailedAt = &failedAt
		delivery.Error = err.Error()

		deliveriesTotal.WithLabelValues(delivery.Channel, models.StatusFailed).Inc()
		logger.Warn("Delivery failed",
			logger.ErrorField(err),
			logger.String("alert_id", alert.ID),
			logger.String("delivery_id", delivery.ID),
			logger.String("channel", delivery.Channel),
			logger.Int("attempts", delivery.Attempts),
			logger.Bool("permanent", channels.IsPermanent(err)),
		)
	} else {
		deliveredAt := d.clock.Now()
		delivery.Status = models.StatusSent
		delivery.DeliveredAt = &deliveredAt
		delivery.ExternalRef = externalRef
		delivery.Error = ""

		deliveriesTotal.WithLabelValues(delivery.Channel, models.StatusSent).Inc()
		logger.Debug("Delivery sent",
			logger.String("alert_id", alert.ID),
			logger.String("delivery_id", delivery.ID),
			logger.String("channel", delivery.Channel),
			logger.String("external_ref", externalRef),
		)
	}

	if storeErr := d.deliveries.UpdateDeliveryAttempt(ctx, delivery); storeErr != nil {
		logger.Error("Failed to persist delivery attempt",
			logger.ErrorField(storeErr),
			logger.String("delivery_id", delivery.ID),
		)
	}

	return Result{
		Channel:     delivery.Channel,
		Status:      delivery.Status,
		ExternalRef: delivery.ExternalRef,
		Err:         err,
	}
}

func (d *Dispatcher) send(ctx context.Context, alert *models.Alert, delivery *models.Delivery, cfg models.ChannelConfig) (string, error) {
	adapter, ok := d.registry.Get(delivery.Channel)
	if !ok {
		return "", channels.Permanent(fmt.Errorf("%w: %s", models.ErrUnknownChannel, delivery.Channel))
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.channelTimeout)
	defer cancel()

	timer := prometheus.NewTimer(deliveryLatency.WithLabelValues(delivery.Channel))
	defer timer.ObserveDuration()

	return adapter.Send(sendCtx, alert, cfg)
}

// refreshAlertOutcome recomputes the alert's aggregate status and delivery
// map from all of its deliveries after a retry
func (d *Dispatcher) refreshAlertOutcome(ctx context.Context, alert *models.Alert) {
	deliveries, err := d.deliveries.ListDeliveries(ctx, alert.ID)
	if err != nil {
		logger.Error("Failed to load deliveries for outcome refresh",
			logger.ErrorField(err),
			logger.String("alert_id", alert.ID),
		)
		return
	}

	status := models.StatusFailed
	deliveryStatus := make(map[string]string, len(deliveries))
	for _, delivery := range deliveries {
		deliveryStatus[deliveryKey(delivery)] = delivery.Status
		if delivery.Status == models.StatusSent {
			status = models.StatusSent
		}
	}

	if err := d.alerts.UpdateDeliveryOutcome(ctx, alert.ID, status, deliveryStatus); err != nil {
		logger.Error("Failed to refresh delivery outcome on alert",
			logger.ErrorField(err),
			logger.String("alert_id", alert.ID),
		)
	}
}

// deliveryKey identifies one delivery in the result and aggregate status
// maps. Two channels of the same type with different targets keep distinct
// entries.
func deliveryKey(d *models.Delivery) string {
	if d.Target == "" {
		return d.Channel
	}
	return d.Channel + ":" + d.Target
}

// channelConfigFor picks the rule's config entry matching a delivery,
// falling back to the target recorded on the delivery itself
func channelConfigFor(channelCfgs []models.ChannelConfig, delivery *models.Delivery) models.ChannelConfig {
	for _, cfg := range channelCfgs {
		if cfg.Type == delivery.Channel && cfg.Target == delivery.Target {
			return cfg
		}
	}
	return models.ChannelConfig{
		Type:   delivery.Channel,
		Target: delivery.Target,
	}
}
