package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hoangnv/shopcore/internal/database"
	"github.com/hoangnv/shopcore/internal/models"
)

type CreateOrderParams struct {
	UserID          int64
	DeliveryAddress string
	Note            string
	PaymentMethod   models.PaymentMethod
	PaymentStatus   models.PaymentStatus
	Amount          decimal.Decimal
	Items           []OrderItemParams
}

type OrderItemParams struct {
	ProductVariantID int64
	Quantity         int
	Amount           decimal.Decimal
	Note             string
}

// InsertOrder writes the order and its items. It must share a transaction
// with the stock reservation so both commit or neither does.
func InsertOrder(ctx context.Context, tx *sql.Tx, params CreateOrderParams) (*models.Order, error) {
	order := &models.Order{}

	err := tx.QueryRowContext(ctx, `
		INSERT INTO orders (user_id, delivery_address, note, payment_method, amount, status, payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id, user_id, delivery_address, note, payment_method, amount, status, payment_status, created_at, updated_at`,
		params.UserID,
		params.DeliveryAddress,
		params.Note,
		params.PaymentMethod,
		params.Amount,
		models.OrderStatusPending,
		params.PaymentStatus,
	).Scan(
		&order.ID,
		&order.UserID,
		&order.DeliveryAddress,
		&order.Note,
		&order.PaymentMethod,
		&order.Amount,
		&order.Status,
		&order.PaymentStatus,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	for _, item := range params.Items {
		var created models.OrderItem
		err := tx.QueryRowContext(ctx, `
			INSERT INTO order_items (order_id, product_variant_id, quantity, amount, note, created_at)
			VALUES ($1, $2, $3, $4, $5, NOW())
			RETURNING id, order_id, product_variant_id, quantity, amount, note, created_at`,
			order.ID, item.ProductVariantID, item.Quantity, item.Amount, item.Note,
		).Scan(
			&created.ID,
			&created.OrderID,
			&created.ProductVariantID,
			&created.Quantity,
			&created.Amount,
			&created.Note,
			&created.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("create order item: %w", err)
		}
		order.Items = append(order.Items, created)
	}

	return order, nil
}

const orderColumns = `id, user_id, delivery_address, note, payment_method, amount, status, payment_status, COALESCE(qr_code_url, ''), COALESCE(expired_at, ''), created_at, updated_at`

func scanOrder(row *sql.Row, order *models.Order) error {
	return row.Scan(
		&order.ID,
		&order.UserID,
		&order.DeliveryAddress,
		&order.Note,
		&order.PaymentMethod,
		&order.Amount,
		&order.Status,
		&order.PaymentStatus,
		&order.QRCodeURL,
		&order.ExpiredAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
}

func GetOrder(ctx context.Context, db *sql.DB, id int64) (*models.Order, error) {
	order := &models.Order{}

	row := db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	if err := scanOrder(row, order); err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := getOrderItems(ctx, db, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

// GetOrderForUpdate locks the order row for the rest of the transaction.
// Webhook, expiry and payout paths use this to re-check state before
// mutating, since none of them can assume an ordering between each other.
func GetOrderForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	order := &models.Order{}

	row := tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	if err := scanOrder(row, order); err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}

	return order, nil
}

func GetOrderItems(ctx context.Context, db *sql.DB, orderID int64) ([]models.OrderItem, error) {
	return getOrderItems(ctx, db, orderID)
}

// GetOrderItemsTx reads items inside an open transaction, typically after
// GetOrderForUpdate when stock is about to be released.
func GetOrderItemsTx(ctx context.Context, tx *sql.Tx, orderID int64) ([]models.OrderItem, error) {
	return getOrderItems(ctx, tx, orderID)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func getOrderItems(ctx context.Context, q querier, orderID int64) ([]models.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, product_variant_id, quantity, amount, note, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductVariantID,
			&item.Quantity,
			&item.Amount,
			&item.Note,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// ListOrders pages through a user's orders newest-first using a keyset
// cursor, so concurrent inserts never shift an open page.
func ListOrders(ctx context.Context, db *sql.DB, userID int64, cursor OrderCursor, pageSize int) (*CursorPage, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`,
		userID, cursor.CreatedAt, cursor.ID, pageSize+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		err := rows.Scan(
			&order.ID,
			&order.UserID,
			&order.DeliveryAddress,
			&order.Note,
			&order.PaymentMethod,
			&order.Amount,
			&order.Status,
			&order.PaymentStatus,
			&order.QRCodeURL,
			&order.ExpiredAt,
			&order.CreatedAt,
			&order.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}

	page := &CursorPage{Items: orders, HasMore: hasMore}
	if hasMore {
		last := orders[len(orders)-1]
		page.NextCursor = EncodeCursor(OrderCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return page, nil
}

// Narrow single-purpose setters keep transition invariants enforceable at
// the call site instead of inside a generic patch.

func SetOrderStatus(ctx context.Context, tx *sql.Tx, id int64, status models.OrderStatus) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	if err != nil {
		return fmt.Errorf("set order status: %w", err)
	}
	return requireRow(result)
}

func SetPaymentStatus(ctx context.Context, tx *sql.Tx, id int64, status models.PaymentStatus) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE orders SET payment_status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	if err != nil {
		return fmt.Errorf("set payment status: %w", err)
	}
	return requireRow(result)
}

func SetPaymentInfo(ctx context.Context, db *sql.DB, id int64, qrCodeURL, expiredAt string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE orders SET qr_code_url = $1, expired_at = $2, updated_at = NOW() WHERE id = $3`,
		qrCodeURL, expiredAt, id)
	if err != nil {
		return fmt.Errorf("set payment info: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrOrderNotFound
	}
	return nil
}
