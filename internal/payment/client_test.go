package payment

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ramanifashion/order-engine/internal/domain"
)

func webhookDigest(username, password string) string {
	sum := sha256.Sum256([]byte(username + ":" + password))
	return hex.EncodeToString(sum[:])
}

func TestClient_VerifyWebhook(t *testing.T) {
	client := NewClient(ClientConfig{
		WebhookUsername: "merchant",
		WebhookPassword: "s3cret",
	})

	t.Run("accepts valid digest", func(t *testing.T) {
		if err := client.VerifyWebhook(webhookDigest("merchant", "s3cret")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("rejects wrong credentials", func(t *testing.T) {
		err := client.VerifyWebhook(webhookDigest("merchant", "wrong"))
		var authErr *domain.AuthError
		if !errors.As(err, &authErr) {
			t.Fatalf("expected AuthError, got %v", err)
		}
	})

	t.Run("rejects missing header", func(t *testing.T) {
		err := client.VerifyWebhook("")
		var authErr *domain.AuthError
		if !errors.As(err, &authErr) {
			t.Fatalf("expected AuthError, got %v", err)
		}
	})
}

func TestParseWebhook(t *testing.T) {
	body := `{"event":"checkout.order.completed","payload":{"merchantOrderId":"RM1001","orderId":"OMO123","state":"COMPLETED","paymentDetails":[{"transactionId":"T42"}]}}`

	t.Run("parses raw json", func(t *testing.T) {
		payload, err := ParseWebhook([]byte(body))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if payload.Payload.MerchantOrderID != "RM1001" {
			t.Errorf("expected RM1001, got %s", payload.Payload.MerchantOrderID)
		}
		if payload.Payload.State != "COMPLETED" {
			t.Errorf("expected COMPLETED, got %s", payload.Payload.State)
		}
		if payload.TransactionID() != "T42" {
			t.Errorf("expected transaction T42, got %s", payload.TransactionID())
		}
	})

	t.Run("parses base64 encoded json", func(t *testing.T) {
		encoded := base64.StdEncoding.EncodeToString([]byte(body))
		payload, err := ParseWebhook([]byte(encoded))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if payload.Payload.MerchantOrderID != "RM1001" {
			t.Errorf("expected RM1001, got %s", payload.Payload.MerchantOrderID)
		}
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := ParseWebhook([]byte("!!not base64 and not json!!"))
		var validation *domain.ValidationError
		if !errors.As(err, &validation) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("rejects empty body", func(t *testing.T) {
		_, err := ParseWebhook([]byte("  "))
		var validation *domain.ValidationError
		if !errors.As(err, &validation) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("rejects payload without merchant order id", func(t *testing.T) {
		_, err := ParseWebhook([]byte(`{"event":"x","payload":{"state":"COMPLETED"}}`))
		var validation *domain.ValidationError
		if !errors.As(err, &validation) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})
}

func TestClient_Status(t *testing.T) {
	t.Run("returns mapped status result", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/checkout/v2/order/RM1001/status" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if r.Header.Get("X-Client-Id") != "client-1" {
				t.Errorf("missing client id header")
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"orderId":"OMO123","state":"COMPLETED","amount":4200,"paymentDetails":[{"transactionId":"T42"}]}`))
		}))
		defer server.Close()

		client := NewClient(ClientConfig{
			BaseURL:    server.URL,
			ClientID:   "client-1",
			HTTPClient: server.Client(),
		})

		result, err := client.Status(context.Background(), "RM1001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.State != "COMPLETED" {
			t.Errorf("expected COMPLETED, got %s", result.State)
		}
		if result.TransactionID() != "T42" {
			t.Errorf("expected T42, got %s", result.TransactionID())
		}
	})

	t.Run("wraps upstream failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewClient(ClientConfig{BaseURL: server.URL, HTTPClient: server.Client()})

		_, err := client.Status(context.Background(), "RM1001")
		var upstream *domain.UpstreamError
		if !errors.As(err, &upstream) {
			t.Fatalf("expected UpstreamError, got %v", err)
		}
	})
}

func TestClient_Initiate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/checkout/v2/pay" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req["merchantOrderId"] != "RM1001" {
			t.Errorf("unexpected merchant order id %v", req["merchantOrderId"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"orderId":"OMO123","state":"PENDING","redirectUrl":"https://pay.example/checkout"}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, HTTPClient: server.Client()})

	result, err := client.Initiate(context.Background(), "RM1001", 4200, "https://shop.example/return")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.GatewayOrderID != "OMO123" {
		t.Errorf("expected OMO123, got %s", result.GatewayOrderID)
	}
	if result.RedirectURL != "https://pay.example/checkout" {
		t.Errorf("unexpected redirect url %s", result.RedirectURL)
	}
}
