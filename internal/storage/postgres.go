package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohamedkhairy/alert-dispatch/internal/config"
	"github.com/mohamedkhairy/alert-dispatch/internal/models"
	"github.com/mohamedkhairy/alert-dispatch/pkg/logger"
)

var (
	storeQueryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_query_latency_seconds",
			Help:    "Latency of PostgreSQL store operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"operation"},
	)

	storeErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_errors_total",
			Help: "Total number of PostgreSQL store errors",
		},
		[]string{"operation"},
	)
)

// PostgresStore implements RuleStore, AlertStore and DeliveryStore backed by
// PostgreSQL. All suppression-state transitions are single statements or a
// single transaction so concurrent workers cannot produce lost updates.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a PostgreSQL connection pool and verifies it
func NewPostgresStore(dbConfig config.DatabaseConfig) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.User,
		dbConfig.Password,
		dbConfig.Database,
		dbConfig.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(dbConfig.MaxConnections)
	db.SetMaxIdleConns(dbConfig.MaxIdleConns)
	db.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("PostgreSQL store initialized",
		logger.String("host", dbConfig.Host),
		logger.Int("port", dbConfig.Port),
		logger.String("database", dbConfig.Database),
	)

	return &PostgresStore{db: db}, nil
}

// Close closes the database connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

const ruleColumns = `id, name, symbol, alert_type, logic, conditions, channels,
	enabled, is_snoozed, snooze_until, cooldown_seconds, last_triggered_at,
	trigger_count, owner, created_at, updated_at`

// GetRule retrieves a rule by ID
func (s *PostgresStore) GetRule(ctx context.Context, id string) (*models.Rule, error) {
	timer := prometheus.NewTimer(storeQueryLatency.WithLabelValues("get_rule"))
	defer timer.ObserveDuration()

	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM rules WHERE id = $1", ruleColumns), id)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrRuleNotFound
	}
	if err != nil {
		storeErrorsTotal.WithLabelValues("get_rule").Inc()
		return nil, fmt.Errorf("failed to get rule %s: %w", id, err)
	}
	return rule, nil
}

// LoadEnabledRules retrieves all enabled rules. This is the coarse filter for
// a monitor tick; snooze and cooldown gating happens inside the engine.
func (s *PostgresStore) LoadEnabledRules(ctx context.Context) ([]*models.Rule, error) {
	timer := prometheus.NewTimer(storeQueryLatency.WithLabelValues("load_enabled_rules"))
	defer timer.ObserveDuration()

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM rules WHERE enabled = true ORDER BY id", ruleColumns))
	if err != nil {
		storeErrorsTotal.WithLabelValues("load_enabled_rules").Inc()
		return nil, fmt.Errorf("failed to load enabled rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			storeErrorsTotal.WithLabelValues("load_enabled_rules").Inc()
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return rules, nil
}

// ClearSnooze clears an expired snooze window on a rule
func (s *PostgresStore) ClearSnooze(ctx context.Context, ruleID string) error {
	timer := prometheus.NewTimer(storeQueryLatency.WithLabelValues("clear_snooze"))
	defer timer.ObserveDuration()

	result, err := s.db.ExecContext(ctx,
		`UPDATE rules SET is_snoozed = false, snooze_until = NULL, updated_at = NOW()
		 WHERE id = $1 AND is_snoozed = true`, ruleID)
	if err != nil {
		storeErrorsTotal.WithLabelValues("clear_snooze").Inc()
		return fmt.Errorf("failed to clear snooze for rule %s: %w", ruleID, err)
	}

	if n, _ := result.RowsAffected(); n > 0 {
		logger.Debug("Cleared expired snooze",
			logger.String("rule_id", ruleID),
		)
	}
	return nil
}

// CreateTriggered persists an alert, its pending deliveries and the rule
// suppression update in one transaction
func (s *PostgresStore) CreateTriggered(ctx context.Context, alert *models.Alert, deliveries []*models.Delivery, triggeredAt time.Time) error {
	timer := prometheus.NewTimer(storeQueryLatency.WithLabelValues("create_triggered"))
	defer timer.ObserveDuration()

	if err := alert.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	snapshotJSON, err := json.Marshal(alert.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	conditionsJSON, err := json.Marshal(alert.ConditionsMet)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions met: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO alerts (id, rule_id, symbol, title, message, trigger_value,
			snapshot, conditions_met, delivery_status, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '{}', $9, $10)`,
		alert.ID, alert.RuleID, alert.Symbol, alert.Title, alert.Message,
		alert.TriggerValue, snapshotJSON, conditionsJSON, alert.Status, alert.CreatedAt)
	if err != nil {
		storeErrorsTotal.WithLabelValues("create_triggered").Inc()
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	for _, d := range deliveries {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO deliveries (id, alert_id, channel, target, status,
				attempts, max_attempts)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			d.ID, d.AlertID, d.Channel, d.Target, d.Status, d.Attempts, d.MaxAttempts)
		if err != nil {
			storeErrorsTotal.WithLabelValues("create_triggered").Inc()
			return fmt.Errorf("failed to insert delivery for channel %s: %w", d.Channel, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE rules SET last_triggered_at = $2, trigger_count = trigger_count + 1,
			updated_at = NOW()
		 WHERE id = $1`,
		alert.RuleID, triggeredAt)
	if err != nil {
		storeErrorsTotal.WithLabelValues("create_triggered").Inc()
		return fmt.Errorf("failed to update rule suppression state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		storeErrorsTotal.WithLabelValues("create_triggered").Inc()
		return fmt.Errorf("failed to commit trigger transaction: %w", err)
	}

	logger.Debug("Alert committed with deliveries",
		logger.String("alert_id", alert.ID),
		logger.String("rule_id", alert.RuleID),
		logger.Int("deliveries", len(deliveries)),
	)
	return nil
}

// GetAlert retrieves a single alert by ID
func (s *PostgresStore) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	timer := prometheus.NewTimer(storeQueryLatency.WithLabelValues("get_alert"))
	defer timer.ObserveDuration()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, rule_id, symbol, title, message, trigger_value, snapshot,
			conditions_met, delivery_status, status, created_at, acknowledged_at
		 FROM alerts WHERE id = $1`, id)

	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrAlertNotFound
	}
	if err != nil {
		storeErrorsTotal.WithLabelValues("get_alert").Inc()
		return nil, fmt.Errorf("failed to get alert %s: %w", id, err)
	}
	return alert, nil
}

// ListAlerts retrieves alerts with filtering options
func (s *PostgresStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]*models.Alert, error) {
	timer := prometheus.NewTimer(storeQueryLatency.WithLabelValues("list_alerts"))
	defer timer.ObserveDuration()

	query := `
		SELECT id, rule_id, symbol, title, message, trigger_value, snapshot,
			conditions_met, delivery_status, status, created_at, acknowledged_at
		FROM alerts
		WHERE 1=1
	`
	args := []interface{}{}
	argIndex := 1

	if filter.RuleID != "" {
		query += fmt.Sprintf(" AND rule_id = $%d", argIndex)
		args = append(args, filter.RuleID)
		argIndex++
	}

	if filter.Symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", argIndex)
		args = append(args, filter.Symbol)
		argIndex++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, filter.Status)
		argIndex++
	}

	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIndex)
		args = append(args, filter.Since)
		argIndex++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
		argIndex++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, filter.Offset)
		argIndex++
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		storeErrorsTotal.WithLabelValues("list_alerts").Inc()
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			storeErrorsTotal.WithLabelValues("list_alerts").Inc()
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return alerts, nil
}

// UpdateDeliveryOutcome writes the aggregate status and per-channel map back
// onto an alert after dispatch resolves
func (s *PostgresStore) UpdateDeliveryOutcome(ctx context.Context, alertID string, status string, deliveryStatus map[string]string) error {
	timer := prometheus.NewTimer(storeQueryLatency.WithLabelValues("update_delivery_outcome"))
	defer timer.ObserveDuration()

	statusJSON, err := json.Marshal(deliveryStatus)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery status: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET status = $2, delivery_status = $3 WHERE id = $1`,
		alertID, status, statusJSON)
	if err != nil {
		storeErrorsTotal.WithLabelValues("update_delivery_outcome").Inc()
		return fmt.Errorf("failed to update alert %s delivery outcome: %w", alertID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return models.ErrAlertNotFound
	}
	return nil
}

// AcknowledgeAlert records the acknowledgement timestamp, once
func (s *PostgresStore) AcknowledgeAlert(ctx context.Context, alertID string, at time.Time) error {
	timer := prometheus.NewTimer(storeQueryLatency.WithLabelValues("acknowledge_alert"))
	defer timer.ObserveDuration()

	result, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET acknowledged_at = $2
		 WHERE id = $1 AND acknowledged_at IS NULL`, alertID, at)
	if err != nil {
		storeErrorsTotal.WithLabelValues("acknowledge_alert").Inc()
		return fmt.Errorf("failed to acknowledge alert %s: %w", alertID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// Either missing or already acknowledged; disambiguate for the caller
		if _, getErr := s.GetAlert(ctx, alertID); getErr != nil {
			return getErr
		}
		return models.ErrAlreadyAcked
	}
	return nil
}

// GetDelivery retrieves a single delivery by ID
func (s *PostgresStore) GetDelivery(ctx context.Context, id string) (*models.Delivery, error) {
	timer := prometheus.NewTimer(storeQueryLatency.WithLabelValues("get_delivery"))
	defer timer.ObserveDuration()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, alert_id, channel, target, status, attempts, max_attempts,
			last_attempt_at, delivered_at, failed_at, external_ref, error
		 FROM deliveries WHERE id = $1`, id)

	delivery, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrDeliveryNotFound
	}
	if err != nil {
		storeErrorsTotal.WithLabelValues("get_delivery").Inc()
		return nil, fmt.Errorf("failed to get delivery %s: %w", id, err)
	}
	return delivery, nil
}

// ListDeliveries retrieves all deliveries for an alert
func (s *PostgresStore) ListDeliveries(ctx context.Context, alertID string) ([]*models.Delivery, error) {
	timer := prometheus.NewTimer(storeQueryLatency.WithLabelValues("list_deliveries"))
	defer timer.ObserveDuration()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, alert_id, channel, target, status, attempts, max_attempts,
			last_attempt_at, delivered_at, failed_at, external_ref, error
		 FROM deliveries WHERE alert_id = $1 ORDER BY channel`, alertID)
	if err != nil {
		storeErrorsTotal.WithLabelValues("list_deliveries").Inc()
		return nil, fmt.Errorf("failed to list deliveries for alert %s: %w", alertID, err)
	}
	defer rows.Close()

	var deliveries []*models.Delivery
	for rows.Next() {
		delivery, err := scanDelivery(rows)
		if err != nil {
			storeErrorsTotal.WithLabelValues("list_deliveries").Inc()
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		deliveries = append(deliveries, delivery)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deliveries: %w", err)
	}
	return deliveries, nil
}

// UpdateDeliveryAttempt persists the outcome of one delivery attempt. The
// attempts guard in the WHERE clause keeps a racing retry from exceeding
// max_attempts.
func (s *PostgresStore) UpdateDeliveryAttempt(ctx context.Context, delivery *models.Delivery) error {
	timer := prometheus.NewTimer(storeQueryLatency.WithLabelValues("update_delivery_attempt"))
	defer timer.ObserveDuration()

	result, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET status = $2, attempts = $3, last_attempt_at = $4,
			delivered_at = $5, failed_at = $6, external_ref = $7, error = $8
		 WHERE id = $1 AND attempts < max_attempts`,
		delivery.ID, delivery.Status, delivery.Attempts, delivery.LastAttemptAt,
		delivery.DeliveredAt, delivery.FailedAt, delivery.ExternalRef, delivery.Error)
	if err != nil {
		storeErrorsTotal.WithLabelValues("update_delivery_attempt").Inc()
		return fmt.Errorf("failed to update delivery %s: %w", delivery.ID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return models.ErrRetryNotAllowed
	}
	return nil
}

// rowScanner covers *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*models.Rule, error) {
	var rule models.Rule
	var symbol, owner sql.NullString
	var snoozeUntil, lastTriggeredAt sql.NullTime
	var conditionsJSON, channelsJSON []byte

	err := row.Scan(&rule.ID, &rule.Name, &symbol, &rule.AlertType, &rule.Logic,
		&conditionsJSON, &channelsJSON, &rule.Enabled, &rule.IsSnoozed,
		&snoozeUntil, &rule.CooldownSeconds, &lastTriggeredAt,
		&rule.TriggerCount, &owner, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rule.Symbol = symbol.String
	rule.Owner = owner.String
	if snoozeUntil.Valid {
		rule.SnoozeUntil = &snoozeUntil.Time
	}
	if lastTriggeredAt.Valid {
		rule.LastTriggeredAt = &lastTriggeredAt.Time
	}
	if err := json.Unmarshal(conditionsJSON, &rule.Conditions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
	}
	if err := json.Unmarshal(channelsJSON, &rule.Channels); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channels: %w", err)
	}
	return &rule, nil
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var alert models.Alert
	var snapshotJSON, conditionsJSON, statusJSON []byte
	var ackedAt sql.NullTime

	err := row.Scan(&alert.ID, &alert.RuleID, &alert.Symbol, &alert.Title,
		&alert.Message, &alert.TriggerValue, &snapshotJSON, &conditionsJSON,
		&statusJSON, &alert.Status, &alert.CreatedAt, &ackedAt)
	if err != nil {
		return nil, err
	}

	if ackedAt.Valid {
		alert.AcknowledgedAt = &ackedAt.Time
	}
	if len(snapshotJSON) > 0 {
		if err := json.Unmarshal(snapshotJSON, &alert.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
	}
	if len(conditionsJSON) > 0 {
		if err := json.Unmarshal(conditionsJSON, &alert.ConditionsMet); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conditions met: %w", err)
		}
	}
	if len(statusJSON) > 0 {
		if err := json.Unmarshal(statusJSON, &alert.DeliveryStatus); err != nil {
			return nil, fmt.Errorf("failed to unmarshal delivery status: %w", err)
		}
	}
	return &alert, nil
}

func scanDelivery(row rowScanner) (*models.Delivery, error) {
	var d models.Delivery
	var lastAttemptAt, deliveredAt, failedAt sql.NullTime
	var externalRef, errMsg sql.NullString

	err := row.Scan(&d.ID, &d.AlertID, &d.Channel, &d.Target, &d.Status,
		&d.Attempts, &d.MaxAttempts, &lastAttemptAt, &deliveredAt, &failedAt,
		&externalRef, &errMsg)
	if err != nil {
		return nil, err
	}

	if lastAttemptAt.Valid {
		d.LastAttemptAt = &lastAttemptAt.Time
	}
	if deliveredAt.Valid {
		d.DeliveredAt = &deliveredAt.Time
	}
	if failedAt.Valid {
		d.FailedAt = &failedAt.Time
	}
	d.ExternalRef = externalRef.String
	d.Error = errMsg.String
	return &d, nil
}
