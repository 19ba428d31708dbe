package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ramanifashion/order-engine/internal/domain"
)

// Repository is the order record store. Every mutation after creation is an
// atomic guarded UPDATE: the predicate is evaluated against current persisted
// state at write time, so concurrent writers resolve deterministically and a
// failed predicate is diagnosed into a specific conflict, never a silent
// overwrite.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const orderColumns = `
	id, order_number, customer_id, email, shipping_address,
	subtotal, shipping_fee, tax, discount, total,
	payment_method, payment_status,
	phonepe_order_id, phonepe_state, phonepe_transaction_id, phonepe_details,
	approved, approved_by, approved_at,
	rejected_by, rejected_at, rejection_reason,
	order_status,
	shiprocket_order_id, shiprocket_shipment_id, shiprocket_awb_code,
	courier_id, courier_name, label_url, tracking_url,
	created_at, updated_at`

func (r *Repository) Create(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	order.ID = uuid.New().String()

	if order.OrderNumber == "" {
		var seq int64
		if err := tx.QueryRowContext(ctx, `SELECT nextval('order_number_seq')`).Scan(&seq); err != nil {
			return fmt.Errorf("assign order number: %w", err)
		}
		order.OrderNumber = fmt.Sprintf("RM%d", seq)
	}

	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshal shipping address: %w", err)
	}

	order.PaymentStatus = domain.PaymentStatusPending
	order.OrderStatus = domain.OrderStatusPending
	order.UpdatedAt = order.CreatedAt

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_number, customer_id, email, shipping_address,
			subtotal, shipping_fee, tax, discount, total,
			payment_method, payment_status, order_status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
	`, order.ID, order.OrderNumber, order.CustomerID, order.Email, address,
		order.Subtotal, order.ShippingFee, order.Tax, order.Discount, order.Total,
		order.PaymentMethod, order.PaymentStatus, order.OrderStatus, order.CreatedAt)
	if err != nil {
		return err
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, name, price, quantity, image)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.New().String(), order.ID, item.ProductID, item.Name, item.Price, item.Quantity, item.Image)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.getBy(ctx, "id", id)
}

func (r *Repository) GetByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return r.getBy(ctx, "order_number", orderNumber)
}

func (r *Repository) getBy(ctx context.Context, column, key string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE `+column+` = $1
	`, key)

	order, err := scanOrder(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &domain.NotFoundError{Entity: "order", Key: key}
		}
		return nil, err
	}

	if err := r.loadItems(ctx, order); err != nil {
		return nil, err
	}

	return order, nil
}

func (r *Repository) loadItems(ctx context.Context, order *domain.Order) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, name, price, quantity, image
		FROM order_items
		WHERE order_id = $1
	`, order.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Price, &item.Quantity, &item.Image); err != nil {
			return err
		}
		order.Items = append(order.Items, item)
	}

	return rows.Err()
}

func (r *Repository) List(ctx context.Context) ([]domain.Order, error) {
	return r.list(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		ORDER BY created_at DESC
	`)
}

func (r *Repository) ListByCustomer(ctx context.Context, customerID string) ([]domain.Order, error) {
	return r.list(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC
	`, customerID)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		order.Items = []domain.OrderItem{}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, name, price, quantity, image
		FROM order_items
		WHERE order_id = ANY($1)
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := itemRows.Scan(&orderID, &item.ProductID, &item.Name, &item.Price, &item.Quantity, &item.Image); err != nil {
			return nil, err
		}
		order := orderMap[orderID]
		order.Items = append(order.Items, item)
	}

	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

// PaymentUpdate is a mapped payment observation ready to be merged onto an
// order record.
type PaymentUpdate struct {
	Status        domain.PaymentStatus
	GatewayState  string
	TransactionID string
	Details       json.RawMessage
}

// ApplyPaymentUpdate merges a payment observation, guarded on the payment
// status not being terminal yet. When the guard fails the current order is
// returned unchanged with applied=false: a stale or duplicate observation is
// a no-op, never a regression.
func (r *Repository) ApplyPaymentUpdate(ctx context.Context, id string, upd PaymentUpdate) (*domain.Order, bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $2,
			phonepe_state = $3,
			phonepe_transaction_id = COALESCE(NULLIF($4, ''), phonepe_transaction_id),
			phonepe_details = COALESCE($5, phonepe_details),
			updated_at = NOW()
		WHERE id = $1 AND payment_status = 'pending'
	`, id, upd.Status, upd.GatewayState, upd.TransactionID, nullableJSON(upd.Details))
	if err != nil {
		return nil, false, err
	}

	applied, err := oneRowAffected(result)
	if err != nil {
		return nil, false, err
	}

	order, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}

	return order, applied, nil
}

// SetGatewayOrder records the gateway-assigned order id after payment
// initiation.
func (r *Repository) SetGatewayOrder(ctx context.Context, id, phonepeOrderID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET phonepe_order_id = $2, updated_at = NOW()
		WHERE id = $1
	`, id, phonepeOrderID)
	if err != nil {
		return err
	}

	ok, err := oneRowAffected(result)
	if err != nil {
		return err
	}
	if !ok {
		return &domain.NotFoundError{Entity: "order", Key: id}
	}

	return nil
}

// Approve flips the approval gate exactly once. The guard requires the order
// to be unapproved, unrejected, and either COD or settled.
func (r *Repository) Approve(ctx context.Context, id, approver string) (*domain.Order, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET approved = TRUE,
			approved_by = $2,
			approved_at = NOW(),
			order_status = 'approved',
			updated_at = NOW()
		WHERE id = $1
			AND approved = FALSE
			AND rejected_at IS NULL
			AND (payment_method = 'cod' OR payment_status = 'paid')
	`, id, approver)
	if err != nil {
		return nil, err
	}

	ok, err := oneRowAffected(result)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, r.diagnoseApprovalConflict(ctx, id)
	}

	return r.GetByID(ctx, id)
}

func (r *Repository) diagnoseApprovalConflict(ctx context.Context, id string) error {
	order, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case order.Approved:
		return &domain.ConflictError{Reason: "already approved"}
	case order.RejectedAt != nil:
		return &domain.ConflictError{Reason: "already rejected"}
	default:
		return &domain.ConflictError{Reason: "payment not completed"}
	}
}

// Reject cancels an unapproved order. Cancelled is terminal: nothing
// transitions out of it.
func (r *Repository) Reject(ctx context.Context, id, approver, reason string) (*domain.Order, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET order_status = 'cancelled',
			rejected_by = $2,
			rejected_at = NOW(),
			rejection_reason = $3,
			updated_at = NOW()
		WHERE id = $1
			AND approved = FALSE
			AND order_status <> 'cancelled'
	`, id, approver, reason)
	if err != nil {
		return nil, err
	}

	ok, err := oneRowAffected(result)
	if err != nil {
		return nil, err
	}
	if !ok {
		order, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if order.Approved {
			return nil, &domain.ConflictError{Reason: "already approved"}
		}
		return nil, &domain.ConflictError{Reason: "already rejected"}
	}

	return r.GetByID(ctx, id)
}

// AttachShipment persists the carrier handoff, guarded on approval and on the
// shipment id not being assigned yet. This is the write that closes the
// double-dispatch race.
func (r *Repository) AttachShipment(ctx context.Context, id string, carrierOrderID, shipmentID int64) (*domain.Order, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET shiprocket_order_id = $2,
			shiprocket_shipment_id = $3,
			order_status = 'processing',
			updated_at = NOW()
		WHERE id = $1
			AND approved = TRUE
			AND shiprocket_shipment_id IS NULL
	`, id, carrierOrderID, shipmentID)
	if err != nil {
		return nil, err
	}

	ok, err := oneRowAffected(result)
	if err != nil {
		return nil, err
	}
	if !ok {
		order, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if order.Dispatched() {
			return nil, &domain.ConflictError{Reason: "already sent"}
		}
		return nil, &domain.ConflictError{Reason: "order not approved"}
	}

	return r.GetByID(ctx, id)
}

// AWBAssignment is the tracking identity handed back by the carrier.
type AWBAssignment struct {
	AwbCode     string
	CourierID   int64
	CourierName string
	LabelURL    string
	TrackingURL string
}

// AssignAWB persists the tracking assignment for an already dispatched order.
func (r *Repository) AssignAWB(ctx context.Context, id string, awb AWBAssignment) (*domain.Order, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET shiprocket_awb_code = $2,
			courier_id = $3,
			courier_name = $4,
			label_url = COALESCE(NULLIF($5, ''), label_url),
			tracking_url = COALESCE(NULLIF($6, ''), tracking_url),
			updated_at = NOW()
		WHERE id = $1
			AND shiprocket_shipment_id IS NOT NULL
	`, id, awb.AwbCode, awb.CourierID, awb.CourierName, awb.LabelURL, awb.TrackingURL)
	if err != nil {
		return nil, err
	}

	ok, err := oneRowAffected(result)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &domain.ConflictError{Reason: "no shipment to assign tracking to"}
	}

	return r.GetByID(ctx, id)
}

// AdvanceStatus moves an order one step forward along
// processing -> shipped -> delivered. Any other target is rejected before the
// write; a wrong current status fails the guard.
func (r *Repository) AdvanceStatus(ctx context.Context, id string, to domain.OrderStatus) (*domain.Order, error) {
	from, ok := domain.PredecessorOf(to)
	if !ok {
		return nil, &domain.ValidationError{Msg: fmt.Sprintf("cannot manually advance to status %q", to)}
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET order_status = $2, updated_at = NOW()
		WHERE id = $1 AND order_status = $3
	`, id, to, from)
	if err != nil {
		return nil, err
	}

	advanced, err := oneRowAffected(result)
	if err != nil {
		return nil, err
	}
	if !advanced {
		order, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &domain.ConflictError{
			Reason: fmt.Sprintf("cannot advance to %s from %s", to, order.OrderStatus),
		}
	}

	return r.GetByID(ctx, id)
}

func oneRowAffected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order          domain.Order
		address        []byte
		phonepeOrderID sql.NullString
		phonepeState   sql.NullString
		phonepeTxnID   sql.NullString
		phonepeDetails []byte
		approvedBy     sql.NullString
		approvedAt     sql.NullTime
		rejectedBy     sql.NullString
		rejectedAt     sql.NullTime
		rejectReason   sql.NullString
		srOrderID      sql.NullInt64
		srShipmentID   sql.NullInt64
		awbCode        sql.NullString
		courierID      sql.NullInt64
		courierName    sql.NullString
		labelURL       sql.NullString
		trackingURL    sql.NullString
	)

	err := row.Scan(
		&order.ID, &order.OrderNumber, &order.CustomerID, &order.Email, &address,
		&order.Subtotal, &order.ShippingFee, &order.Tax, &order.Discount, &order.Total,
		&order.PaymentMethod, &order.PaymentStatus,
		&phonepeOrderID, &phonepeState, &phonepeTxnID, &phonepeDetails,
		&order.Approved, &approvedBy, &approvedAt,
		&rejectedBy, &rejectedAt, &rejectReason,
		&order.OrderStatus,
		&srOrderID, &srShipmentID, &awbCode,
		&courierID, &courierName, &labelURL, &trackingURL,
		&order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(address) > 0 {
		if err := json.Unmarshal(address, &order.ShippingAddress); err != nil {
			return nil, fmt.Errorf("unmarshal shipping address: %w", err)
		}
	}

	order.PhonePeOrderID = phonepeOrderID.String
	order.PhonePeState = phonepeState.String
	order.PhonePeTransactionID = phonepeTxnID.String
	if len(phonepeDetails) > 0 {
		order.PhonePeDetails = json.RawMessage(phonepeDetails)
	}
	order.ApprovedBy = approvedBy.String
	if approvedAt.Valid {
		t := approvedAt.Time
		order.ApprovedAt = &t
	}
	order.RejectedBy = rejectedBy.String
	if rejectedAt.Valid {
		t := rejectedAt.Time
		order.RejectedAt = &t
	}
	order.RejectionReason = rejectReason.String
	if srOrderID.Valid {
		v := srOrderID.Int64
		order.ShiprocketOrderID = &v
	}
	if srShipmentID.Valid {
		v := srShipmentID.Int64
		order.ShiprocketShipmentID = &v
	}
	order.ShiprocketAwbCode = awbCode.String
	if courierID.Valid {
		v := courierID.Int64
		order.CourierID = &v
	}
	order.CourierName = courierName.String
	order.LabelURL = labelURL.String
	order.TrackingURL = trackingURL.String

	return &order, nil
}
