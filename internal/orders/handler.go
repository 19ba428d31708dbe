package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ramanifashion/order-engine/internal/auth"
	"github.com/ramanifashion/order-engine/internal/domain"
)

// PaymentInitiation is what the gateway hands back when a payment is opened
// for a freshly created order.
type PaymentInitiation struct {
	GatewayOrderID string
	RedirectURL    string
}

// PaymentInitiator opens a payment at the gateway for a prepaid order.
type PaymentInitiator interface {
	Initiate(ctx context.Context, merchantOrderID string, amount int64) (*PaymentInitiation, error)
}

// Dispatcher hands an approved order to the carrier.
type Dispatcher interface {
	Dispatch(ctx context.Context, orderID string) (*domain.Order, error)
}

// Publisher emits domain events after committed transitions.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type Handler struct {
	repo       *Repository
	initiator  PaymentInitiator
	dispatcher Dispatcher
	publisher  Publisher
	logger     *slog.Logger
}

func NewHandler(repo *Repository, initiator PaymentInitiator, dispatcher Dispatcher, publisher Publisher, logger *slog.Logger) *Handler {
	return &Handler{
		repo:       repo,
		initiator:  initiator,
		dispatcher: dispatcher,
		publisher:  publisher,
		logger:     logger,
	}
}

type createOrderRequest struct {
	Items           []domain.OrderItem `json:"items"`
	ShippingAddress domain.Address     `json:"shippingAddress"`
	ShippingFee     int64              `json:"shippingFee"`
	Tax             int64              `json:"tax"`
	Discount        int64              `json:"discount"`
	PaymentMethod   string             `json:"paymentMethod"`
	Email           string             `json:"email"`
}

type createOrderResponse struct {
	*domain.Order
	PaymentRedirectURL string `json:"paymentRedirectUrl,omitempty"`
}

// HandleCreate is the checkout collaborator's boundary: it creates the order
// record in {pending, pending, approved:false} and, for prepaid orders,
// opens the gateway payment.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing customer identity")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := validateCreate(&req); err != nil {
		h.writeDomainError(w, err)
		return
	}

	var subtotal int64
	for _, item := range req.Items {
		subtotal += int64(item.Quantity) * item.Price
	}

	order := &domain.Order{
		CustomerID:      identity.ID,
		Email:           req.Email,
		Items:           req.Items,
		ShippingAddress: req.ShippingAddress,
		Subtotal:        subtotal,
		ShippingFee:     req.ShippingFee,
		Tax:             req.Tax,
		Discount:        req.Discount,
		Total:           subtotal + req.ShippingFee + req.Tax - req.Discount,
		PaymentMethod:   req.PaymentMethod,
		CreatedAt:       time.Now().UTC(),
	}

	if err := h.repo.Create(r.Context(), order); err != nil {
		h.logger.Error("failed to create order", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("order created",
		"order_number", order.OrderNumber,
		"customer_id", order.CustomerID,
		"payment_method", order.PaymentMethod)

	resp := createOrderResponse{Order: order}

	if order.PaymentMethod == domain.PaymentMethodPhonePe {
		initiation, err := h.initiator.Initiate(r.Context(), order.OrderNumber, order.Total)
		if err != nil {
			// The record is persisted; payment stays pending and can be
			// retried through the poll channel.
			h.logger.Error("failed to initiate payment", "error", err, "order_number", order.OrderNumber)
			h.writeDomainError(w, err)
			return
		}

		if err := h.repo.SetGatewayOrder(r.Context(), order.ID, initiation.GatewayOrderID); err != nil {
			h.logger.Error("failed to record gateway order id", "error", err, "order_number", order.OrderNumber)
		} else {
			order.PhonePeOrderID = initiation.GatewayOrderID
		}
		resp.PaymentRedirectURL = initiation.RedirectURL
	}

	h.writeJSON(w, http.StatusCreated, resp)
}

func validateCreate(req *createOrderRequest) error {
	if len(req.Items) == 0 {
		return &domain.ValidationError{Msg: "order has no items"}
	}
	for _, item := range req.Items {
		if item.ProductID == "" || item.Quantity <= 0 || item.Price < 0 {
			return &domain.ValidationError{Msg: "invalid order item"}
		}
	}
	if req.PaymentMethod != domain.PaymentMethodCOD && req.PaymentMethod != domain.PaymentMethodPhonePe {
		return &domain.ValidationError{Msg: "unsupported payment method"}
	}
	addr := req.ShippingAddress
	if addr.Name == "" || addr.Phone == "" || addr.Line1 == "" || addr.City == "" || addr.PostalCode == "" {
		return &domain.ValidationError{Msg: "incomplete shipping address"}
	}
	return nil
}

// HandleGet resolves an order by internal id, falling back to the order
// number as the lookup key.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("id")
	if key == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.repo.GetByID(r.Context(), key)
	if err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			order, err = h.repo.GetByOrderNumber(r.Context(), key)
		}
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, list)
}

// HandleListMine lists the calling customer's own orders.
func (h *Handler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "missing customer identity")
		return
	}

	list, err := h.repo.ListByCustomer(r.Context(), identity.ID)
	if err != nil {
		h.logger.Error("failed to list customer orders", "error", err, "customer_id", identity.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, list)
}

// HandleApprove flips the approval gate for a settled (or COD) order.
func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	identity, _ := auth.IdentityFrom(r.Context())

	order, err := h.repo.Approve(r.Context(), id, identity.ID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.logger.Info("order approved", "order_number", order.OrderNumber, "approved_by", identity.ID)
	h.publishUpdated(order)
	h.writeJSON(w, http.StatusOK, order)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// HandleReject cancels an unapproved order with a mandatory reason.
func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reason == "" {
		h.writeError(w, http.StatusBadRequest, "rejection reason is required")
		return
	}

	identity, _ := auth.IdentityFrom(r.Context())

	order, err := h.repo.Reject(r.Context(), id, identity.ID, req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.logger.Info("order rejected",
		"order_number", order.OrderNumber,
		"rejected_by", identity.ID,
		"reason", req.Reason)
	h.publishUpdated(order)
	h.writeJSON(w, http.StatusOK, order)
}

// HandleDispatch hands an approved order to the carrier.
func (h *Handler) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.dispatcher.Dispatch(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.publishUpdated(order)
	h.writeJSON(w, http.StatusOK, order)
}

type advanceStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

// HandleAdvanceStatus moves a dispatched order forward to shipped or
// delivered.
func (h *Handler) HandleAdvanceStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req advanceStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.repo.AdvanceStatus(r.Context(), id, req.Status)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.logger.Info("order status advanced", "order_number", order.OrderNumber, "status", order.OrderStatus)
	h.publishUpdated(order)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) publishUpdated(order *domain.Order) {
	if h.publisher == nil {
		return
	}

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
	if err := h.publisher.Publish(ctx, order.ID, event); err != nil {
		h.logger.Error("failed to publish order updated event", "error", err, "order_id", order.ID)
	}
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
		h.writeError(w, http.StatusBadGateway, upstream.Error())
	default:
		h.logger.Error("unhandled error", "error", err)
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
