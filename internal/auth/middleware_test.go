package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequireAdmin(t *testing.T) {
	identityProbe := func(got *Identity) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFrom(r.Context())
			if !ok {
				t.Error("identity missing from context")
			}
			*got = identity
			w.WriteHeader(http.StatusOK)
		}
	}

	t.Run("accepts valid token and attaches operator identity", func(t *testing.T) {
		var got Identity
		handler := RequireAdmin("topsecret", testLogger(), identityProbe(&got))

		req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
		req.Header.Set("Authorization", "Bearer topsecret")
		req.Header.Set("X-Operator", "priya")
		rec := httptest.NewRecorder()

		handler(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if got.ID != "priya" || got.Role != RoleAdmin {
			t.Errorf("unexpected identity %+v", got)
		}
	})

	t.Run("defaults the operator name", func(t *testing.T) {
		var got Identity
		handler := RequireAdmin("topsecret", testLogger(), identityProbe(&got))

		req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
		req.Header.Set("Authorization", "Bearer topsecret")
		rec := httptest.NewRecorder()

		handler(rec, req)

		if got.ID != "admin" {
			t.Errorf("expected default operator, got %q", got.ID)
		}
	})

	t.Run("rejects wrong token", func(t *testing.T) {
		handler := RequireAdmin("topsecret", testLogger(), func(w http.ResponseWriter, r *http.Request) {
			t.Error("next handler called on rejected request")
		})

		req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		rec := httptest.NewRecorder()

		handler(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("rejects everything when no token is configured", func(t *testing.T) {
		handler := RequireAdmin("", testLogger(), func(w http.ResponseWriter, r *http.Request) {
			t.Error("next handler called with empty configured token")
		})

		req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
		req.Header.Set("Authorization", "Bearer ")
		rec := httptest.NewRecorder()

		handler(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})
}

func TestRequireCustomer(t *testing.T) {
	t.Run("attaches customer identity", func(t *testing.T) {
		var got Identity
		handler := RequireCustomer(testLogger(), func(w http.ResponseWriter, r *http.Request) {
			got, _ = IdentityFrom(r.Context())
		})

		req := httptest.NewRequest(http.MethodGet, "/my/orders", nil)
		req.Header.Set(CustomerHeader, "cust-1")
		rec := httptest.NewRecorder()

		handler(rec, req)

		if got.ID != "cust-1" || got.Role != RoleCustomer {
			t.Errorf("unexpected identity %+v", got)
		}
	})

	t.Run("rejects missing header", func(t *testing.T) {
		handler := RequireCustomer(testLogger(), func(w http.ResponseWriter, r *http.Request) {
			t.Error("next handler called without customer id")
		})

		req := httptest.NewRequest(http.MethodGet, "/my/orders", nil)
		rec := httptest.NewRecorder()

		handler(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("rejects whitespace-only header", func(t *testing.T) {
		handler := RequireCustomer(testLogger(), func(w http.ResponseWriter, r *http.Request) {
			t.Error("next handler called without customer id")
		})

		req := httptest.NewRequest(http.MethodGet, "/my/orders", nil)
		req.Header.Set(CustomerHeader, "   ")
		rec := httptest.NewRecorder()

		handler(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
	})
}
