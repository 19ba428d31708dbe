package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ramanifashion/order-engine/internal/domain"
	"github.com/ramanifashion/order-engine/internal/orders"
)

// fakeStore mimics the conditional-write semantics of the real repository:
// a payment update only lands while the current status is pending.
type fakeStore struct {
	mu     sync.Mutex
	byID   map[string]*domain.Order
	byNum  map[string]string
	writes int
}

func newFakeStore(list ...*domain.Order) *fakeStore {
	s := &fakeStore{
		byID:  make(map[string]*domain.Order),
		byNum: make(map[string]string),
	}
	for _, o := range list {
		s.byID[o.ID] = o
		s.byNum[o.OrderNumber] = o.ID
	}
	return s
}

func (s *fakeStore) GetByOrderNumber(_ context.Context, orderNumber string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byNum[orderNumber]
	if !ok {
		return nil, &domain.NotFoundError{Entity: "order", Key: orderNumber}
	}
	copied := *s.byID[id]
	return &copied, nil
}

func (s *fakeStore) ApplyPaymentUpdate(_ context.Context, id string, upd orders.PaymentUpdate) (*domain.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.byID[id]
	if !ok {
		return nil, false, &domain.NotFoundError{Entity: "order", Key: id}
	}
	if order.PaymentStatus.Terminal() {
		copied := *order
		return &copied, false, nil
	}
	s.writes++
	order.PaymentStatus = upd.Status
	order.PhonePeState = upd.GatewayState
	if upd.TransactionID != "" {
		order.PhonePeTransactionID = upd.TransactionID
	}
	if len(upd.Details) > 0 {
		order.PhonePeDetails = upd.Details
	}
	copied := *order
	return &copied, true, nil
}

type fakeGateway struct {
	result *StatusResult
	err    error
	calls  int
}

func (g *fakeGateway) Status(context.Context, string) (*StatusResult, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []any
}

func (p *fakePublisher) Publish(_ context.Context, _ string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func pendingOrder(id, number string) *domain.Order {
	return &domain.Order{
		ID:            id,
		OrderNumber:   number,
		CustomerID:    "cust-1",
		PaymentMethod: domain.PaymentMethodPhonePe,
		PaymentStatus: domain.PaymentStatusPending,
		OrderStatus:   domain.OrderStatusPending,
		Total:         4200,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReconciler_Apply(t *testing.T) {
	t.Run("maps success state to paid", func(t *testing.T) {
		store := newFakeStore(pendingOrder("id-1", "RM1001"))
		pub := &fakePublisher{}
		r := NewReconciler(store, nil, pub, testLogger())

		order, err := r.Apply(context.Background(), Observation{
			MerchantOrderID: "RM1001",
			State:           "COMPLETED",
			TransactionID:   "T42",
			Details:         json.RawMessage(`[{"transactionId":"T42"}]`),
			Channel:         ChannelWebhook,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if order.PaymentStatus != domain.PaymentStatusPaid {
			t.Errorf("expected paid, got %s", order.PaymentStatus)
		}
		if order.PhonePeState != "COMPLETED" {
			t.Errorf("expected raw state COMPLETED, got %s", order.PhonePeState)
		}
		if order.PhonePeTransactionID != "T42" {
			t.Errorf("expected transaction T42, got %s", order.PhonePeTransactionID)
		}
		if pub.count() != 1 {
			t.Errorf("expected 1 published event, got %d", pub.count())
		}
	})

	t.Run("is idempotent under duplicate observations", func(t *testing.T) {
		store := newFakeStore(pendingOrder("id-1", "RM1001"))
		pub := &fakePublisher{}
		r := NewReconciler(store, nil, pub, testLogger())

		obs := Observation{MerchantOrderID: "RM1001", State: "COMPLETED", TransactionID: "T42", Channel: ChannelWebhook}

		first, err := r.Apply(context.Background(), obs)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		second, err := r.Apply(context.Background(), obs)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if second.PaymentStatus != first.PaymentStatus ||
			second.PhonePeState != first.PhonePeState ||
			second.PhonePeTransactionID != first.PhonePeTransactionID {
			t.Errorf("second application changed the order: %+v vs %+v", second, first)
		}
		if store.writes != 1 {
			t.Errorf("expected exactly 1 store write, got %d", store.writes)
		}
		if pub.count() != 1 {
			t.Errorf("expected exactly 1 published event, got %d", pub.count())
		}
	})

	t.Run("terminal precedence over stale pending", func(t *testing.T) {
		order := pendingOrder("id-1", "RM1001")
		order.PaymentStatus = domain.PaymentStatusPaid
		order.PhonePeState = "COMPLETED"
		store := newFakeStore(order)
		r := NewReconciler(store, nil, nil, testLogger())

		got, err := r.Apply(context.Background(), Observation{
			MerchantOrderID: "RM1001",
			State:           "PENDING",
			Channel:         ChannelRedirect,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.PaymentStatus != domain.PaymentStatusPaid {
			t.Errorf("terminal status regressed to %s", got.PaymentStatus)
		}
		if got.PhonePeState != "COMPLETED" {
			t.Errorf("raw state overwritten: %s", got.PhonePeState)
		}
		if store.writes != 0 {
			t.Errorf("expected no store writes, got %d", store.writes)
		}
	})

	t.Run("failure state does not publish regressions later", func(t *testing.T) {
		store := newFakeStore(pendingOrder("id-1", "RM1001"))
		r := NewReconciler(store, nil, nil, testLogger())

		got, err := r.Apply(context.Background(), Observation{
			MerchantOrderID: "RM1001", State: "FAILED", Channel: ChannelWebhook,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.PaymentStatus != domain.PaymentStatusFailed {
			t.Errorf("expected failed, got %s", got.PaymentStatus)
		}

		got, err = r.Apply(context.Background(), Observation{
			MerchantOrderID: "RM1001", State: "COMPLETED", Channel: ChannelPoll,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.PaymentStatus != domain.PaymentStatusFailed {
			t.Errorf("terminal failed regressed to %s", got.PaymentStatus)
		}
	})

	t.Run("unknown order is a logged no-op", func(t *testing.T) {
		store := newFakeStore()
		r := NewReconciler(store, nil, nil, testLogger())

		_, err := r.Apply(context.Background(), Observation{
			MerchantOrderID: "RM9999", State: "COMPLETED", Channel: ChannelWebhook,
		})
		var notFound *domain.NotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("expected NotFoundError, got %v", err)
		}
		if store.writes != 0 {
			t.Errorf("expected no writes, got %d", store.writes)
		}
	})

	t.Run("unmapped state stays pending without event", func(t *testing.T) {
		store := newFakeStore(pendingOrder("id-1", "RM1001"))
		pub := &fakePublisher{}
		r := NewReconciler(store, nil, pub, testLogger())

		got, err := r.Apply(context.Background(), Observation{
			MerchantOrderID: "RM1001", State: "PROCESSING", Channel: ChannelPoll,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.PaymentStatus != domain.PaymentStatusPending {
			t.Errorf("expected pending, got %s", got.PaymentStatus)
		}
		if got.PhonePeState != "PROCESSING" {
			t.Errorf("raw state not recorded: %s", got.PhonePeState)
		}
		if pub.count() != 0 {
			t.Errorf("expected no events for non-terminal transition, got %d", pub.count())
		}
	})
}

func TestReconciler_Refresh(t *testing.T) {
	t.Run("terminal status short-circuits the upstream call", func(t *testing.T) {
		order := pendingOrder("id-1", "RM1001")
		order.PaymentStatus = domain.PaymentStatusPaid
		store := newFakeStore(order)
		gateway := &fakeGateway{}
		r := NewReconciler(store, gateway, nil, testLogger())

		got, err := r.Refresh(context.Background(), "RM1001", ChannelPoll)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.PaymentStatus != domain.PaymentStatusPaid {
			t.Errorf("expected paid, got %s", got.PaymentStatus)
		}
		if gateway.calls != 0 {
			t.Errorf("expected no upstream calls, got %d", gateway.calls)
		}
	})

	t.Run("pending status queries upstream and applies", func(t *testing.T) {
		store := newFakeStore(pendingOrder("id-1", "RM1001"))
		gateway := &fakeGateway{result: &StatusResult{
			GatewayOrderID: "OMO123",
			State:          "COMPLETED",
			Amount:         4200,
			PaymentDetails: json.RawMessage(`[{"transactionId":"T42"}]`),
		}}
		r := NewReconciler(store, gateway, nil, testLogger())

		got, err := r.Refresh(context.Background(), "RM1001", ChannelPoll)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if gateway.calls != 1 {
			t.Errorf("expected 1 upstream call, got %d", gateway.calls)
		}
		if got.PaymentStatus != domain.PaymentStatusPaid {
			t.Errorf("expected paid, got %s", got.PaymentStatus)
		}
		if got.PhonePeTransactionID != "T42" {
			t.Errorf("expected transaction T42, got %s", got.PhonePeTransactionID)
		}
	})

	t.Run("upstream failure is surfaced", func(t *testing.T) {
		store := newFakeStore(pendingOrder("id-1", "RM1001"))
		gateway := &fakeGateway{err: &domain.UpstreamError{System: "phonepe", Op: "status", Err: errors.New("timeout")}}
		r := NewReconciler(store, gateway, nil, testLogger())

		_, err := r.Refresh(context.Background(), "RM1001", ChannelPoll)
		var upstream *domain.UpstreamError
		if !errors.As(err, &upstream) {
			t.Fatalf("expected UpstreamError, got %v", err)
		}
	})
}
