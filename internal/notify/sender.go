package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/ramanifashion/order-engine/internal/domain"
)

// Publisher is the event transport the sender publishes through.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Sender emits the customer order-confirmation notification as a
// fire-and-forget event. It carries its own bounded timeout and never
// reports failure to the caller: a lost notification must not fail a
// dispatch that already succeeded.
type Sender struct {
	producer Publisher
	timeout  time.Duration
	logger   *slog.Logger
}

func NewSender(producer Publisher, timeout time.Duration, logger *slog.Logger) *Sender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sender{producer: producer, timeout: timeout, logger: logger}
}

func (s *Sender) OrderDispatched(order *domain.Order) {
	if s.producer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	event := domain.OrderDispatchedEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		Email:       order.Email,
		Phone:       order.ShippingAddress.Phone,
		CourierName: order.CourierName,
		AwbCode:     order.ShiprocketAwbCode,
		Timestamp:   time.Now().UTC(),
	}
	if order.ShiprocketShipmentID != nil {
		event.ShipmentID = *order.ShiprocketShipmentID
	}

	if err := s.producer.Publish(ctx, order.ID, event); err != nil {
		s.logger.Error("failed to publish order dispatched event",
			"error", err, "order_number", order.OrderNumber)
		return
	}

	s.logger.Info("order dispatched event published", "order_number", order.OrderNumber)
}
