package worker

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ramanifashion/order-engine/internal/domain"
)

// NotificationHandler delivers the order-confirmation message to the
// notification provider. Delivery is fire-and-forget: provider failures are
// logged and the event is still committed.
type NotificationHandler struct {
	providerURL string
	httpClient  *http.Client
	logger      *slog.Logger
}

func NewNotificationHandler(providerURL string, client *http.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		providerURL: providerURL,
		httpClient:  client,
		logger:      logger,
	}
}

func (h *NotificationHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderDispatchedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("skipping malformed order dispatched event", "error", err)
		return nil
	}

	message := fmt.Sprintf("Your order %s has been shipped.", event.OrderNumber)
	if event.CourierName != "" {
		message = fmt.Sprintf("Your order %s has been shipped via %s.", event.OrderNumber, event.CourierName)
	}
	if event.AwbCode != "" {
		message += fmt.Sprintf(" Tracking number: %s.", event.AwbCode)
	}

	body := map[string]string{
		"to":          event.Email,
		"phone":       event.Phone,
		"subject":     "Order shipped: " + event.OrderNumber,
		"orderNumber": event.OrderNumber,
		"message":     message,
	}

	if err := h.deliver(ctx, body); err != nil {
		h.logger.Error("failed to deliver notification", "error", err, "order_number", event.OrderNumber)
		return nil
	}

	h.logger.Info("notification delivered", "order_number", event.OrderNumber, "to", event.Email)
	return nil
}

func (h *NotificationHandler) deliver(ctx context.Context, body map[string]string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.providerURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notification provider returned status %d", resp.StatusCode)
	}

	return nil
}

// SummaryRepository maintains the denormalized per-customer order summary,
// recomputed from the orders table so duplicate events are harmless.
type SummaryRepository struct {
	db *sql.DB
}

func NewSummaryRepository(db *sql.DB) *SummaryRepository {
	return &SummaryRepository{db: db}
}

func (r *SummaryRepository) Recompute(ctx context.Context, customerID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO customer_order_summary (customer_id, order_count, cancelled_count, lifetime_total, last_order_at, updated_at)
		SELECT customer_id,
			COUNT(*),
			COUNT(*) FILTER (WHERE order_status = 'cancelled'),
			COALESCE(SUM(total) FILTER (WHERE order_status <> 'cancelled'), 0),
			MAX(created_at),
			NOW()
		FROM orders
		WHERE customer_id = $1
		GROUP BY customer_id
		ON CONFLICT (customer_id) DO UPDATE SET
			order_count = EXCLUDED.order_count,
			cancelled_count = EXCLUDED.cancelled_count,
			lifetime_total = EXCLUDED.lifetime_total,
			last_order_at = EXCLUDED.last_order_at,
			updated_at = EXCLUDED.updated_at
	`, customerID)
	return err
}

// ProjectorHandler consumes order updated events and refreshes the customer
// summary projection.
type ProjectorHandler struct {
	summaries *SummaryRepository
	logger    *slog.Logger
}

func NewProjectorHandler(summaries *SummaryRepository, logger *slog.Logger) *ProjectorHandler {
	return &ProjectorHandler{summaries: summaries, logger: logger}
}

func (h *ProjectorHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderUpdatedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("skipping malformed order updated event", "error", err)
		return nil
	}

	if err := h.summaries.Recompute(ctx, event.CustomerID); err != nil {
		h.logger.Error("failed to recompute customer summary", "error", err, "customer_id", event.CustomerID)
		return fmt.Errorf("recompute customer summary: %w", err)
	}

	h.logger.Info("customer summary updated", "customer_id", event.CustomerID, "order_number", event.OrderNumber)
	return nil
}
