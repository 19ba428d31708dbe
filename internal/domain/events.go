package domain

import "time"

const (
	TopicOrderUpdated    = "order.updated"
	TopicOrderDispatched = "order.dispatched"
)

// OrderUpdatedEvent is published after every committed state transition so
// downstream projections observe changes explicitly instead of through
// storage-layer side channels.
type OrderUpdatedEvent struct {
	OrderID       string        `json:"order_id"`
	OrderNumber   string        `json:"order_number"`
	CustomerID    string        `json:"customer_id"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	OrderStatus   OrderStatus   `json:"order_status"`
	Total         int64         `json:"total"`
	Timestamp     time.Time     `json:"timestamp"`
}

// OrderDispatchedEvent triggers the best-effort customer notification after a
// successful carrier handoff.
type OrderDispatchedEvent struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	CustomerID  string    `json:"customer_id"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	ShipmentID  int64     `json:"shipment_id"`
	CourierName string    `json:"courier_name,omitempty"`
	AwbCode     string    `json:"awb_code,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
