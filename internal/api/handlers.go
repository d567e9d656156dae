// Package api exposes the operations surface for alert history, delivery
// retry and acknowledgement. Rule authoring has its own management surface
// elsewhere; it is deliberately absent here.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/mohamedkhairy/alert-dispatch/internal/alert"
	"github.com/mohamedkhairy/alert-dispatch/internal/dispatch"
	"github.com/mohamedkhairy/alert-dispatch/internal/models"
	"github.com/mohamedkhairy/alert-dispatch/internal/storage"
	"github.com/mohamedkhairy/alert-dispatch/pkg/logger"
)

// Handler serves the operations API
type Handler struct {
	alerts     storage.AlertStore
	deliveries storage.DeliveryStore
	lifecycle  *alert.Lifecycle
	dispatcher *dispatch.Dispatcher
}

// NewHandler creates an operations API handler
func NewHandler(alerts storage.AlertStore, deliveries storage.DeliveryStore, lifecycle *alert.Lifecycle, dispatcher *dispatch.Dispatcher) *Handler {
	return &Handler{
		alerts:     alerts,
		deliveries: deliveries,
		lifecycle:  lifecycle,
		dispatcher: dispatcher,
	}
}

// Routes registers all API routes on a router
func (h *Handler) Routes(router *mux.Router) {
	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/alerts", h.ListAlerts).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/{id}", h.GetAlert).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/{id}/ack", h.AcknowledgeAlert).Methods(http.MethodPost)
	v1.HandleFunc("/alerts/{id}/deliveries", h.ListDeliveries).Methods(http.MethodGet)
	v1.HandleFunc("/deliveries/{id}/retry", h.RetryDelivery).Methods(http.MethodPost)
}

// ListAlerts handles GET /api/v1/alerts
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	filter := storage.AlertFilter{
		RuleID: r.URL.Query().Get("rule_id"),
		Symbol: r.URL.Query().Get("symbol"),
		Status: r.URL.Query().Get("status"),
		Limit:  100,
	}

	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid 'since' timestamp (expected RFC3339)")
			return
		}
		filter.Since = t
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid 'limit'")
			return
		}
		filter.Limit = n
	}

	alerts, err := h.alerts.ListAlerts(r.Context(), filter)
	if err != nil {
		logger.Error("Failed to list alerts", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve alerts")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetAlert handles GET /api/v1/alerts/{id}
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	alertID := mux.Vars(r)["id"]

	a, err := h.alerts.GetAlert(r.Context(), alertID)
	if errors.Is(err, models.ErrAlertNotFound) {
		respondWithError(w, http.StatusNotFound, "Alert not found")
		return
	}
	if err != nil {
		logger.Error("Failed to get alert", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve alert")
		return
	}

	respondWithJSON(w, http.StatusOK, a)
}

// AcknowledgeAlert handles POST /api/v1/alerts/{id}/ack
func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	alertID := mux.Vars(r)["id"]

	err := h.lifecycle.Acknowledge(r.Context(), alertID)
	switch {
	case errors.Is(err, models.ErrAlertNotFound):
		respondWithError(w, http.StatusNotFound, "Alert not found")
	case errors.Is(err, models.ErrAlreadyAcked):
		respondWithError(w, http.StatusConflict, "Alert already acknowledged")
	case err != nil:
		logger.Error("Failed to acknowledge alert", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to acknowledge alert")
	default:
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
	}
}

// ListDeliveries handles GET /api/v1/alerts/{id}/deliveries
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	alertID := mux.Vars(r)["id"]

	if _, err := h.alerts.GetAlert(r.Context(), alertID); errors.Is(err, models.ErrAlertNotFound) {
		respondWithError(w, http.StatusNotFound, "Alert not found")
		return
	}

	deliveries, err := h.deliveries.ListDeliveries(r.Context(), alertID)
	if err != nil {
		logger.Error("Failed to list deliveries", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve deliveries")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"deliveries": deliveries,
		"count":      len(deliveries),
	})
}

// RetryDelivery handles POST /api/v1/deliveries/{id}/retry
func (h *Handler) RetryDelivery(w http.ResponseWriter, r *http.Request) {
	deliveryID := mux.Vars(r)["id"]

	result, err := h.dispatcher.Retry(r.Context(), deliveryID)
	switch {
	case errors.Is(err, models.ErrDeliveryNotFound):
		respondWithError(w, http.StatusNotFound, "Delivery not found")
	case errors.Is(err, models.ErrRetryNotAllowed):
		respondWithError(w, http.StatusConflict, err.Error())
	case err != nil:
		logger.Error("Failed to retry delivery", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to retry delivery")
	default:
		body := map[string]interface{}{
			"channel": result.Channel,
			"status":  result.Status,
		}
		if result.ExternalRef != "" {
			body["external_ref"] = result.ExternalRef
		}
		if result.Err != nil {
			body["error"] = result.Err.Error()
		}
		respondWithJSON(w, http.StatusOK, body)
	}
}

// HealthHandler handles GET /healthz
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode response", logger.ErrorField(err))
	}
}

func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, map[string]string{"error": message})
}
