package payment

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/ramanifashion/order-engine/internal/domain"
	"github.com/ramanifashion/order-engine/internal/orders"
)

type Channel string

const (
	ChannelWebhook  Channel = "webhook"
	ChannelRedirect Channel = "redirect"
	ChannelPoll     Channel = "poll"
)

// Observation is a single payment-state report from any ingress channel.
type Observation struct {
	MerchantOrderID string
	State           string
	TransactionID   string
	Details         json.RawMessage
	Channel         Channel
}

// Store is the slice of the order record store the reconciler mutates
// through.
type Store interface {
	GetByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error)
	ApplyPaymentUpdate(ctx context.Context, id string, upd orders.PaymentUpdate) (*domain.Order, bool, error)
}

// StatusQuerier is the authoritative upstream status lookup.
type StatusQuerier interface {
	Status(ctx context.Context, merchantOrderID string) (*StatusResult, error)
}

// Publisher emits domain events after committed transitions.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Reconciler collapses duplicate, out-of-order payment observations from all
// three ingress channels into one consistent payment state per order.
type Reconciler struct {
	store     Store
	gateway   StatusQuerier
	publisher Publisher
	logger    *slog.Logger
}

func NewReconciler(store Store, gateway StatusQuerier, publisher Publisher, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:     store,
		gateway:   gateway,
		publisher: publisher,
		logger:    logger,
	}
}

// Apply merges one observation onto the order it correlates with.
//
// Terminal precedence: an order whose payment status is already paid or
// failed is returned unchanged regardless of what the observation claims.
// A payment signal for an unknown order never creates one.
func (r *Reconciler) Apply(ctx context.Context, obs Observation) (*domain.Order, error) {
	order, err := r.store.GetByOrderNumber(ctx, obs.MerchantOrderID)
	if err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			r.logger.Info("payment observation for unknown order, dropping",
				"merchant_order_id", obs.MerchantOrderID, "channel", obs.Channel)
		}
		return nil, err
	}

	if order.PaymentStatus.Terminal() {
		return order, nil
	}

	mapped := MapGatewayState(obs.State)

	order, applied, err := r.store.ApplyPaymentUpdate(ctx, order.ID, orders.PaymentUpdate{
		Status:        mapped,
		GatewayState:  obs.State,
		TransactionID: obs.TransactionID,
		Details:       obs.Details,
	})
	if err != nil {
		return nil, err
	}

	if !applied {
		// A concurrent observation committed first; this one is a no-op.
		return order, nil
	}

	r.logger.Info("payment observation applied",
		"order_number", order.OrderNumber,
		"channel", obs.Channel,
		"gateway_state", obs.State,
		"payment_status", order.PaymentStatus)

	if mapped.Terminal() {
		r.publishUpdated(order)
	}

	return order, nil
}

// Refresh is the "try upstream, fall back to cached" path used by the poll
// and redirect channels: a cached terminal status is returned without an
// upstream call, otherwise the gateway is queried authoritatively and the
// result fed through Apply.
func (r *Reconciler) Refresh(ctx context.Context, merchantOrderID string, channel Channel) (*domain.Order, error) {
	order, err := r.store.GetByOrderNumber(ctx, merchantOrderID)
	if err != nil {
		return nil, err
	}

	if order.PaymentStatus.Terminal() {
		return order, nil
	}

	status, err := r.gateway.Status(ctx, merchantOrderID)
	if err != nil {
		return nil, err
	}

	return r.Apply(ctx, Observation{
		MerchantOrderID: merchantOrderID,
		State:           status.State,
		TransactionID:   status.TransactionID(),
		Details:         status.PaymentDetails,
		Channel:         channel,
	})
}

func (r *Reconciler) publishUpdated(order *domain.Order) {
	if r.publisher == nil {
		return
	}

	// Best effort: the transition is already committed, a lost event only
	// delays the downstream projection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := domain.OrderUpdatedEvent{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerID:    order.CustomerID,
		PaymentStatus: order.PaymentStatus,
		OrderStatus:   order.OrderStatus,
		Total:         order.Total,
		Timestamp:     time.Now().UTC(),
	}
	if err := r.publisher.Publish(ctx, order.ID, event); err != nil {
		r.logger.Error("failed to publish order updated event", "error", err, "order_id", order.ID)
	}
}
