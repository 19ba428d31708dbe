package orders

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ramanifashion/order-engine/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validCreateRequest() createOrderRequest {
	return createOrderRequest{
		Items: []domain.OrderItem{
			{ProductID: "sku-1", Name: "Silk Saree", Price: 2100, Quantity: 2},
		},
		ShippingAddress: domain.Address{
			Name: "A Customer", Phone: "9999999999", Line1: "1 Main St",
			City: "Chennai", PostalCode: "600001",
		},
		PaymentMethod: domain.PaymentMethodCOD,
		Email:         "customer@example.com",
	}
}

func TestValidateCreate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*createOrderRequest)
		wantErr string
	}{
		{"valid cod order", func(r *createOrderRequest) {}, ""},
		{"valid phonepe order", func(r *createOrderRequest) {
			r.PaymentMethod = domain.PaymentMethodPhonePe
		}, ""},
		{"no items", func(r *createOrderRequest) {
			r.Items = nil
		}, "order has no items"},
		{"item without product id", func(r *createOrderRequest) {
			r.Items[0].ProductID = ""
		}, "invalid order item"},
		{"item with zero quantity", func(r *createOrderRequest) {
			r.Items[0].Quantity = 0
		}, "invalid order item"},
		{"item with negative price", func(r *createOrderRequest) {
			r.Items[0].Price = -1
		}, "invalid order item"},
		{"unsupported payment method", func(r *createOrderRequest) {
			r.PaymentMethod = "bitcoin"
		}, "unsupported payment method"},
		{"missing address name", func(r *createOrderRequest) {
			r.ShippingAddress.Name = ""
		}, "incomplete shipping address"},
		{"missing postal code", func(r *createOrderRequest) {
			r.ShippingAddress.PostalCode = ""
		}, "incomplete shipping address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validCreateRequest()
			tt.mutate(&req)

			err := validateCreate(&req)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var validation *domain.ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if validation.Msg != tt.wantErr {
				t.Errorf("expected %q, got %q", tt.wantErr, validation.Msg)
			}
		})
	}
}

func TestHandler_HandleReject_RequiresReason(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/admin/orders/id-1/reject", strings.NewReader(`{"reason":""}`))
	req.SetPathValue("id", "id-1")
	rec := httptest.NewRecorder()

	h.HandleReject(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] != "rejection reason is required" {
		t.Errorf("unexpected error message %q", resp["error"])
	}
}

type fakeDispatcher struct {
	order *domain.Order
	err   error
}

func (d *fakeDispatcher) Dispatch(context.Context, string) (*domain.Order, error) {
	return d.order, d.err
}

type capturePublisher struct {
	events []any
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event any) error {
	p.events = append(p.events, event)
	return nil
}

func TestHandler_HandleDispatch(t *testing.T) {
	t.Run("maps dispatch conflict to 409", func(t *testing.T) {
		h := NewHandler(nil, nil, &fakeDispatcher{err: &domain.ConflictError{Reason: "already sent"}}, nil, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/admin/orders/id-1/dispatch", nil)
		req.SetPathValue("id", "id-1")
		rec := httptest.NewRecorder()

		h.HandleDispatch(rec, req)

		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
		var resp map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp["error"] != "already sent" {
			t.Errorf("unexpected error message %q", resp["error"])
		}
	})

	t.Run("maps carrier outage to 502", func(t *testing.T) {
		h := NewHandler(nil, nil, &fakeDispatcher{err: &domain.UpstreamError{
			System: "shiprocket", Op: "create order", Err: errors.New("503"),
		}}, nil, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/admin/orders/id-1/dispatch", nil)
		req.SetPathValue("id", "id-1")
		rec := httptest.NewRecorder()

		h.HandleDispatch(rec, req)

		if rec.Code != http.StatusBadGateway {
			t.Fatalf("expected 502, got %d", rec.Code)
		}
	})

	t.Run("returns dispatched order and publishes event", func(t *testing.T) {
		shipmentID := int64(555)
		order := &domain.Order{
			ID:                   "id-1",
			OrderNumber:          "RM1001",
			OrderStatus:          domain.OrderStatusProcessing,
			ShiprocketShipmentID: &shipmentID,
		}
		pub := &capturePublisher{}
		h := NewHandler(nil, nil, &fakeDispatcher{order: order}, pub, testLogger())

		req := httptest.NewRequest(http.MethodPost, "/admin/orders/id-1/dispatch", nil)
		req.SetPathValue("id", "id-1")
		rec := httptest.NewRecorder()

		h.HandleDispatch(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var got domain.Order
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if got.OrderStatus != domain.OrderStatusProcessing {
			t.Errorf("expected processing, got %s", got.OrderStatus)
		}
		if len(pub.events) != 1 {
			t.Errorf("expected 1 published event, got %d", len(pub.events))
		}
	})
}
