package payment

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/ramanifashion/order-engine/internal/auth"
	"github.com/ramanifashion/order-engine/internal/domain"
)

// Handler serves the three payment ingress paths: gateway webhook push,
// browser redirect return, and authenticated client poll.
type Handler struct {
	client        *Client
	reconciler    *Reconciler
	statusPageURL string
	logger        *slog.Logger
}

func NewHandler(client *Client, reconciler *Reconciler, statusPageURL string, logger *slog.Logger) *Handler {
	return &Handler{
		client:        client,
		reconciler:    reconciler,
		statusPageURL: statusPageURL,
		logger:        logger,
	}
}

// HandleWebhook ingests a gateway push notification. The body is only
// trusted after the credential digest in the Authorization header verifies.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if err := h.client.VerifyWebhook(r.Header.Get("Authorization")); err != nil {
		// Security event, distinct from ordinary validation failures.
		h.logger.Warn("webhook signature verification failed", "remote_addr", r.RemoteAddr)
		h.writeError(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	payload, err := ParseWebhook(body)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	state := payload.Payload.State
	if state == "" {
		state = payload.Event
	}

	order, err := h.reconciler.Apply(r.Context(), Observation{
		MerchantOrderID: payload.Payload.MerchantOrderID,
		State:           state,
		TransactionID:   payload.TransactionID(),
		Details:         payload.Payload.PaymentDetails,
		Channel:         ChannelWebhook,
	})
	if err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			// Dropped observation, acknowledged so the gateway stops retrying.
			h.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
		h.logger.Error("failed to apply webhook observation", "error", err,
			"merchant_order_id", payload.Payload.MerchantOrderID)
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":        "processed",
		"paymentStatus": string(order.PaymentStatus),
	})
}

// HandleRedirect serves the browser's return from the gateway. The embedded
// payload is only a hint for which order to look at; the status always comes
// from a fresh authoritative query. The browser is always answered with a
// redirect, pending when nothing resolves.
func (h *Handler) HandleRedirect(w http.ResponseWriter, r *http.Request) {
	merchantOrderID := h.resolveRedirectHint(r)
	if merchantOrderID == "" {
		h.logger.Info("redirect callback with no resolvable order")
		h.redirectToStatusPage(w, r, "", domain.PaymentStatusPending)
		return
	}

	order, err := h.reconciler.Refresh(r.Context(), merchantOrderID, ChannelRedirect)
	if err != nil {
		h.logger.Error("redirect callback failed to refresh status", "error", err,
			"merchant_order_id", merchantOrderID)
		h.redirectToStatusPage(w, r, merchantOrderID, domain.PaymentStatusPending)
		return
	}

	h.redirectToStatusPage(w, r, order.OrderNumber, order.PaymentStatus)
}

func (h *Handler) resolveRedirectHint(r *http.Request) string {
	if id := r.URL.Query().Get("merchantOrderId"); id != "" {
		return id
	}

	encoded := r.URL.Query().Get("payload")
	if encoded == "" && r.Method == http.MethodPost {
		if body, err := io.ReadAll(r.Body); err == nil {
			encoded = string(body)
		}
	}
	if encoded == "" {
		return ""
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ""
	}

	var hint struct {
		MerchantOrderID string `json:"merchantOrderId"`
	}
	if err := json.Unmarshal(decoded, &hint); err != nil {
		return ""
	}

	return hint.MerchantOrderID
}

func (h *Handler) redirectToStatusPage(w http.ResponseWriter, r *http.Request, merchantOrderID string, status domain.PaymentStatus) {
	params := url.Values{}
	params.Set("paymentStatus", string(status))
	if merchantOrderID != "" {
		params.Set("merchantOrderId", merchantOrderID)
	}
	http.Redirect(w, r, h.statusPageURL+"?"+params.Encode(), http.StatusFound)
}

type pollResponse struct {
	MerchantOrderID string          `json:"merchantOrderId"`
	PaymentStatus   string          `json:"paymentStatus"`
	State           string          `json:"state"`
	GatewayOrderID  string          `json:"gatewayOrderId,omitempty"`
	Amount          int64           `json:"amount"`
	PaymentDetails  json.RawMessage `json:"paymentDetails,omitempty"`
}

// HandlePoll returns the current payment state to the order's owner,
// querying upstream only while the cached status is non-terminal.
func (h *Handler) HandlePoll(w http.ResponseWriter, r *http.Request) {
	merchantOrderID := r.PathValue("orderNumber")
	if merchantOrderID == "" {
		h.writeError(w, http.StatusBadRequest, "missing order number")
		return
	}

	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing customer identity")
		return
	}

	order, err := h.reconciler.Refresh(r.Context(), merchantOrderID, ChannelPoll)
	if err != nil {
		h.logger.Error("failed to refresh payment status", "error", err,
			"merchant_order_id", merchantOrderID)
		h.writeDomainError(w, err)
		return
	}

	if order.CustomerID != identity.ID {
		// Existence of other customers' orders is not disclosed.
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.writeJSON(w, http.StatusOK, pollResponse{
		MerchantOrderID: order.OrderNumber,
		PaymentStatus:   string(order.PaymentStatus),
		State:           order.PhonePeState,
		GatewayOrderID:  order.PhonePeOrderID,
		Amount:          order.Total,
		PaymentDetails:  order.PhonePeDetails,
	})
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var (
		validation *domain.ValidationError
		authErr    *domain.AuthError
		notFound   *domain.NotFoundError
		conflict   *domain.ConflictError
		upstream   *domain.UpstreamError
	)
	switch {
	case errors.As(err, &validation):
		h.writeError(w, http.StatusBadRequest, validation.Msg)
	case errors.As(err, &authErr):
		h.writeError(w, http.StatusUnauthorized, authErr.Msg)
	case errors.As(err, &notFound):
		h.writeError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &conflict):
		h.writeError(w, http.StatusConflict, conflict.Reason)
	case errors.As(err, &upstream):
		h.writeError(w, http.StatusBadGateway, "payment gateway unavailable")
	default:
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
