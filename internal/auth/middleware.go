package auth

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// CustomerHeader carries the customer id asserted by the upstream
// authentication layer, which sits in front of this engine.
const CustomerHeader = "X-Customer-ID"

// RequireAdmin checks the operator bearer token before letting the request
// through and attaches the admin identity to the context. The operator name
// comes from X-Operator, defaulting to "admin".
func RequireAdmin(token string, logger *slog.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			logger.Warn("admin auth rejected", "path", r.URL.Path)
			writeAuthError(w, "invalid admin credentials")
			return
		}

		operator := r.Header.Get("X-Operator")
		if operator == "" {
			operator = "admin"
		}

		ctx := WithIdentity(r.Context(), Identity{ID: operator, Role: RoleAdmin})
		next(w, r.WithContext(ctx))
	}
}

// RequireCustomer extracts the upstream-asserted customer id and attaches it
// to the context. A request without one is unauthenticated.
func RequireCustomer(logger *slog.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID := strings.TrimSpace(r.Header.Get(CustomerHeader))
		if customerID == "" {
			logger.Warn("customer auth rejected", "path", r.URL.Path)
			writeAuthError(w, "missing customer identity")
			return
		}

		ctx := WithIdentity(r.Context(), Identity{ID: customerID, Role: RoleCustomer})
		next(w, r.WithContext(ctx))
	}
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
