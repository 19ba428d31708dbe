package shipping

import (
	"context"
	"log/slog"
	"time"

	"github.com/ramanifashion/order-engine/internal/domain"
	"github.com/ramanifashion/order-engine/internal/orders"
)

// Package weight defaults used when the catalog carries no physical data:
// half a kilogram per unit in a single standard box.
const (
	unitWeightKG = 0.5
	boxLengthCM  = 10
	boxBreadthCM = 10
	boxHeightCM  = 10
)

// OrderStore is the slice of the order record store the dispatcher writes
// through.
type OrderStore interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	AttachShipment(ctx context.Context, id string, carrierOrderID, shipmentID int64) (*domain.Order, error)
	AssignAWB(ctx context.Context, id string, awb orders.AWBAssignment) (*domain.Order, error)
}

// Carrier is the outbound carrier API surface.
type Carrier interface {
	CreateOrder(ctx context.Context, req ShipmentRequest) (*ShipmentResult, error)
	AssignAWB(ctx context.Context, shipmentID int64) (*AWBResult, error)
	SchedulePickup(ctx context.Context, shipmentID int64) error
}

// Notifier fires the customer notification; it must never fail the caller.
type Notifier interface {
	OrderDispatched(order *domain.Order)
}

// Dispatcher orchestrates the carrier handoff. Shipment creation and its
// persistence must succeed; AWB assignment, pickup scheduling, and the
// customer notification are best-effort enrichments reported only through
// logs.
type Dispatcher struct {
	store             OrderStore
	carrier           Carrier
	notifier          Notifier
	pickupLocation    string
	bestEffortTimeout time.Duration
	logger            *slog.Logger
}

func NewDispatcher(store OrderStore, carrier Carrier, notifier Notifier, pickupLocation string, bestEffortTimeout time.Duration, logger *slog.Logger) *Dispatcher {
	if bestEffortTimeout <= 0 {
		bestEffortTimeout = 5 * time.Second
	}
	return &Dispatcher{
		store:             store,
		carrier:           carrier,
		notifier:          notifier,
		pickupLocation:    pickupLocation,
		bestEffortTimeout: bestEffortTimeout,
		logger:            logger,
	}
}

// Dispatch hands an approved order to the carrier. It succeeds once the
// shipment is created and persisted; a missing AWB or pickup slot leaves the
// order in a legitimate "dispatched, tracking pending" state.
func (d *Dispatcher) Dispatch(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := d.store.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// Cheap pre-check before calling the carrier. The authoritative guard is
	// the conditional write below; a concurrent dispatch loses there.
	if !order.Approved {
		return nil, &domain.ConflictError{Reason: "order not approved"}
	}
	if order.Dispatched() {
		return nil, &domain.ConflictError{Reason: "already sent"}
	}

	result, err := d.carrier.CreateOrder(ctx, buildShipmentRequest(order, d.pickupLocation))
	if err != nil {
		return nil, err
	}

	order, err = d.store.AttachShipment(ctx, order.ID, result.CarrierOrderID, result.ShipmentID)
	if err != nil {
		return nil, err
	}

	d.logger.Info("shipment created",
		"order_number", order.OrderNumber,
		"carrier_order_id", result.CarrierOrderID,
		"shipment_id", result.ShipmentID)

	order = d.assignTracking(ctx, order, result.ShipmentID)

	if d.notifier != nil {
		d.notifier.OrderDispatched(order)
	}

	return order, nil
}

// assignTracking runs the best-effort AWB and pickup steps. Failures are
// logged and the order stays valid with the shipment id alone.
func (d *Dispatcher) assignTracking(ctx context.Context, order *domain.Order, shipmentID int64) *domain.Order {
	awbCtx, cancel := context.WithTimeout(ctx, d.bestEffortTimeout)
	defer cancel()

	awb, err := d.carrier.AssignAWB(awbCtx, shipmentID)
	if err != nil {
		d.logger.Error("failed to assign awb, order remains without tracking",
			"error", err, "order_number", order.OrderNumber, "shipment_id", shipmentID)
		return order
	}

	updated, err := d.store.AssignAWB(ctx, order.ID, orders.AWBAssignment{
		AwbCode:     awb.AwbCode,
		CourierID:   awb.CourierID,
		CourierName: awb.CourierName,
		LabelURL:    awb.LabelURL,
	})
	if err != nil {
		d.logger.Error("failed to persist awb assignment",
			"error", err, "order_number", order.OrderNumber, "awb_code", awb.AwbCode)
		return order
	}
	order = updated

	d.logger.Info("awb assigned",
		"order_number", order.OrderNumber,
		"awb_code", awb.AwbCode,
		"courier", awb.CourierName)

	pickupCtx, cancel := context.WithTimeout(ctx, d.bestEffortTimeout)
	defer cancel()

	if err := d.carrier.SchedulePickup(pickupCtx, shipmentID); err != nil {
		d.logger.Error("failed to schedule pickup",
			"error", err, "order_number", order.OrderNumber, "shipment_id", shipmentID)
		return order
	}

	d.logger.Info("pickup scheduled", "order_number", order.OrderNumber, "shipment_id", shipmentID)
	return order
}

func buildShipmentRequest(order *domain.Order, pickupLocation string) ShipmentRequest {
	items := make([]ShipmentItem, 0, len(order.Items))
	units := 0
	for _, item := range order.Items {
		items = append(items, ShipmentItem{
			Name:  item.Name,
			SKU:   item.ProductID,
			Units: item.Quantity,
			Price: item.Price,
		})
		units += item.Quantity
	}

	method := "Prepaid"
	if order.PaymentMethod == domain.PaymentMethodCOD {
		method = "COD"
	}

	addr := order.ShippingAddress
	return ShipmentRequest{
		OrderNumber:    order.OrderNumber,
		PickupLocation: pickupLocation,
		PaymentMethod:  method,
		Subtotal:       order.Subtotal,
		CustomerName:   addr.Name,
		Phone:          addr.Phone,
		Email:          order.Email,
		AddressLine1:   addr.Line1,
		AddressLine2:   addr.Line2,
		City:           addr.City,
		State:          addr.State,
		PostalCode:     addr.PostalCode,
		Country:        addr.Country,
		Items:          items,
		WeightKG:       float64(units) * unitWeightKG,
		LengthCM:       boxLengthCM,
		BreadthCM:      boxBreadthCM,
		HeightCM:       boxHeightCM,
	}
}
