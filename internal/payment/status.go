package payment

import (
	"strings"

	"github.com/ramanifashion/order-engine/internal/domain"
)

// Gateway state vocabulary. Anything outside the success and failure families
// leaves the internal status at pending.
var (
	successStates = map[string]struct{}{
		"COMPLETED":                {},
		"SUCCESS":                  {},
		"checkout.order.completed": {},
	}
	failureStates = map[string]struct{}{
		"FAILED":                {},
		"EXPIRED":               {},
		"CANCELLED":             {},
		"checkout.order.failed": {},
	}
)

// MapGatewayState collapses the gateway's vocabulary into the internal
// tri-state payment status.
func MapGatewayState(state string) domain.PaymentStatus {
	if _, ok := successStates[state]; ok {
		return domain.PaymentStatusPaid
	}
	if _, ok := failureStates[state]; ok {
		return domain.PaymentStatusFailed
	}

	// Event-style states arrive dotted, plain states upper-cased; normalize
	// the latter before giving up.
	upper := strings.ToUpper(state)
	if _, ok := successStates[upper]; ok {
		return domain.PaymentStatusPaid
	}
	if _, ok := failureStates[upper]; ok {
		return domain.PaymentStatusFailed
	}

	return domain.PaymentStatusPending
}
