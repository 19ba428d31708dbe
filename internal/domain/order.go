package domain

import (
	"encoding/json"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusApproved   OrderStatus = "approved"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// statusPredecessor maps each manually advanced order status to the only
// status it may be advanced from. Cancelled and delivered are terminal.
var statusPredecessor = map[OrderStatus]OrderStatus{
	OrderStatusShipped:   OrderStatusProcessing,
	OrderStatusDelivered: OrderStatusShipped,
}

// PredecessorOf returns the status an order must currently hold for a manual
// advance to the given status, and whether such an advance exists at all.
func PredecessorOf(to OrderStatus) (OrderStatus, bool) {
	from, ok := statusPredecessor[to]
	return from, ok
}

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// Terminal reports whether a payment status can never be overwritten by a
// later observation.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusPaid || s == PaymentStatusFailed
}

const (
	PaymentMethodCOD     = "cod"
	PaymentMethodPhonePe = "phonepe"
)

type OrderItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
	Image     string `json:"image,omitempty"`
}

type Address struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Order is the central entity of the reconciliation engine. It is created by
// checkout in {pending, pending, approved:false} and afterwards mutated only
// through the conditional writes of the order store.
type Order struct {
	ID          string `json:"id"`
	OrderNumber string `json:"orderNumber"`
	CustomerID  string `json:"customerId"`
	Email       string `json:"email"`

	Items           []OrderItem `json:"items"`
	ShippingAddress Address     `json:"shippingAddress"`
	Subtotal        int64       `json:"subtotal"`
	ShippingFee     int64       `json:"shippingFee"`
	Tax             int64       `json:"tax"`
	Discount        int64       `json:"discount"`
	Total           int64       `json:"total"`

	PaymentMethod        string          `json:"paymentMethod"`
	PaymentStatus        PaymentStatus   `json:"paymentStatus"`
	PhonePeOrderID       string          `json:"phonepeOrderId,omitempty"`
	PhonePeState         string          `json:"phonepeState,omitempty"`
	PhonePeTransactionID string          `json:"phonepeTransactionId,omitempty"`
	PhonePeDetails       json.RawMessage `json:"phonepeDetails,omitempty"`

	Approved        bool       `json:"approved"`
	ApprovedBy      string     `json:"approvedBy,omitempty"`
	ApprovedAt      *time.Time `json:"approvedAt,omitempty"`
	RejectedBy      string     `json:"rejectedBy,omitempty"`
	RejectedAt      *time.Time `json:"rejectedAt,omitempty"`
	RejectionReason string     `json:"rejectionReason,omitempty"`

	OrderStatus          OrderStatus `json:"orderStatus"`
	ShiprocketOrderID    *int64      `json:"shiprocketOrderId,omitempty"`
	ShiprocketShipmentID *int64      `json:"shiprocketShipmentId,omitempty"`
	ShiprocketAwbCode    string      `json:"shiprocketAwbCode,omitempty"`
	CourierID            *int64      `json:"courierId,omitempty"`
	CourierName          string      `json:"courierName,omitempty"`
	LabelURL             string      `json:"labelUrl,omitempty"`
	TrackingURL          string      `json:"trackingUrl,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Dispatched reports whether a carrier shipment has already been assigned.
func (o *Order) Dispatched() bool {
	return o.ShiprocketShipmentID != nil
}

// ApprovalUnlocked reports whether the approval gate may act on the order:
// settled payment, or COD which is exempt from settlement.
func (o *Order) ApprovalUnlocked() bool {
	return o.PaymentMethod == PaymentMethodCOD || o.PaymentStatus == PaymentStatusPaid
}
