package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, order_number, client_id, status, assigned_to, total_amount, created_at, updated_at`

func scanOrder(row interface{ Scan(dest ...any) error }) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.ClientID,
		&o.Status,
		&o.AssignedTo,
		&o.TotalAmount,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	return o, err
}

const getOrder = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

func (q *Queries) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrder, id))
}

const getOrderForUpdate = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

// GetOrderForUpdate locks the order row for the duration of the enclosing
// transaction. Take/complete workflows serialize on this lock.
func (q *Queries) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderForUpdate, id))
}

// ListOrdersParams filters the order list. Zero-valued filters are ignored.
type ListOrdersParams struct {
	Statuses   []string
	AssignedTo pgtype.UUID
	ClientID   pgtype.UUID
	Limit      int32
	Offset     int32
}

const listOrders = `
SELECT ` + orderColumns + ` FROM orders
WHERE ($1::text[] IS NULL OR status = ANY($1))
  AND ($2::uuid IS NULL OR assigned_to = $2)
  AND ($3::uuid IS NULL OR client_id = $3)
ORDER BY created_at DESC
LIMIT $4 OFFSET $5`

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]Order, error) {
	var statuses any
	if len(arg.Statuses) > 0 {
		statuses = arg.Statuses
	}
	rows, err := q.db.Query(ctx, listOrders, statuses, arg.AssignedTo, arg.ClientID, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// UpdateOrderAssignmentParams sets or clears the active assignee.
type UpdateOrderAssignmentParams struct {
	ID         uuid.UUID
	AssignedTo pgtype.UUID
}

const updateOrderAssignment = `
UPDATE orders SET assigned_to = $2, updated_at = now()
WHERE id = $1
RETURNING ` + orderColumns

func (q *Queries) UpdateOrderAssignment(ctx context.Context, arg UpdateOrderAssignmentParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, updateOrderAssignment, arg.ID, arg.AssignedTo))
}

// AdvanceOrderStatusParams moves an order to a new status with an
// optimistic-concurrency precondition on the current status. AssignedTo is
// written as given (stage completion clears it with a NULL).
type AdvanceOrderStatusParams struct {
	ID             uuid.UUID
	Status         string
	ExpectedStatus string
	AssignedTo     pgtype.UUID
}

const advanceOrderStatus = `
UPDATE orders SET status = $2, assigned_to = $4, updated_at = now()
WHERE id = $1 AND status = $3
RETURNING ` + orderColumns

// AdvanceOrderStatus returns pgx.ErrNoRows when the precondition fails,
// which callers treat as a concurrent modification.
func (q *Queries) AdvanceOrderStatus(ctx context.Context, arg AdvanceOrderStatusParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, advanceOrderStatus, arg.ID, arg.Status, arg.ExpectedStatus, arg.AssignedTo))
}

// CancelOrderParams cancels atomically: the update applies only while the
// order is still in one of the allowed statuses.
type CancelOrderParams struct {
	ID              uuid.UUID
	Status          string
	AllowedStatuses []string
}

const cancelOrder = `
UPDATE orders SET status = $2, assigned_to = NULL, updated_at = now()
WHERE id = $1 AND status = ANY($3)
RETURNING ` + orderColumns

func (q *Queries) CancelOrder(ctx context.Context, arg CancelOrderParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, cancelOrder, arg.ID, arg.Status, arg.AllowedStatuses))
}

// CreateOrderParams inserts a new order (order placement itself lives in a
// separate flow; this backs seeding and tests).
type CreateOrderParams struct {
	ClientID    uuid.UUID
	OrderNumber string
	Status      string
	TotalAmount pgtype.Numeric
}

const createOrder = `
INSERT INTO orders (id, order_number, client_id, status, total_amount)
VALUES (gen_random_uuid(), $1, $2, $3, $4)
RETURNING ` + orderColumns

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	return scanOrder(q.db.QueryRow(ctx, createOrder, arg.OrderNumber, arg.ClientID, arg.Status, arg.TotalAmount))
}

const getNextOrderNumber = `
SELECT COALESCE(MAX(CAST(SUBSTRING(order_number FROM 5) AS INT)), 0) + 1 FROM orders`

// GetNextOrderNumber returns the next sequential order number suffix
// (order numbers look like "VTR-042").
func (q *Queries) GetNextOrderNumber(ctx context.Context) (int32, error) {
	var n int32
	err := q.db.QueryRow(ctx, getNextOrderNumber).Scan(&n)
	return n, err
}

// --- Items ---

const listOrderItemsByOrder = `
SELECT id, order_id, product_name, quantity, unit_price, subtotal
FROM order_items WHERE order_id = $1 ORDER BY id`

func (q *Queries) ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, listOrderItemsByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductName, &it.Quantity, &it.UnitPrice, &it.Subtotal); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// CreateOrderItemParams inserts a line item.
type CreateOrderItemParams struct {
	OrderID     uuid.UUID
	ProductName string
	Quantity    int32
	UnitPrice   pgtype.Numeric
	Subtotal    pgtype.Numeric
}

const createOrderItem = `
INSERT INTO order_items (id, order_id, product_name, quantity, unit_price, subtotal)
VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
RETURNING id, order_id, product_name, quantity, unit_price, subtotal`

func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error) {
	var it OrderItem
	err := q.db.QueryRow(ctx, createOrderItem,
		arg.OrderID, arg.ProductName, arg.Quantity, arg.UnitPrice, arg.Subtotal,
	).Scan(&it.ID, &it.OrderID, &it.ProductName, &it.Quantity, &it.UnitPrice, &it.Subtotal)
	return it, err
}

// --- History ---

// InsertHistoryParams appends an audit row. History is append-only; there
// are no update or delete queries on this table.
type InsertHistoryParams struct {
	OrderID   uuid.UUID
	Status    string
	Comment   string
	CreatedBy pgtype.UUID
}

const insertHistory = `
INSERT INTO order_history (id, order_id, status, comment, created_by)
VALUES (gen_random_uuid(), $1, $2, $3, $4)
RETURNING id, order_id, status, comment, created_by, created_at`

func (q *Queries) InsertHistory(ctx context.Context, arg InsertHistoryParams) (OrderHistoryEntry, error) {
	var e OrderHistoryEntry
	err := q.db.QueryRow(ctx, insertHistory, arg.OrderID, arg.Status, arg.Comment, arg.CreatedBy).
		Scan(&e.ID, &e.OrderID, &e.Status, &e.Comment, &e.CreatedBy, &e.CreatedAt)
	return e, err
}

const listHistoryByOrder = `
SELECT id, order_id, status, comment, created_by, created_at
FROM order_history WHERE order_id = $1 ORDER BY created_at, id`

func (q *Queries) ListHistoryByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderHistoryEntry, error) {
	rows, err := q.db.Query(ctx, listHistoryByOrder, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []OrderHistoryEntry
	for rows.Next() {
		var e OrderHistoryEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Status, &e.Comment, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
