package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/hoangnv/shopcore/internal/database"
)

type ReserveItem struct {
	VariantID int64
	Quantity  int
}

// ReservedVariant is the ledger's view of a variant at reservation time,
// used by the caller to price order items.
type ReservedVariant struct {
	VariantID int64
	ProductID int64
	Price     decimal.Decimal
	Quantity  int
}

type VariantsNotFoundError struct {
	IDs []int64
}

func (e *VariantsNotFoundError) Error() string {
	return "product variants not found: " + joinIDs(e.IDs)
}

func (e *VariantsNotFoundError) Unwrap() error { return database.ErrVariantNotFound }

type InsufficientStockError struct {
	ProductIDs []int64
}

func (e *InsufficientStockError) Error() string {
	return "insufficient stock for products: " + joinIDs(e.ProductIDs)
}

func (e *InsufficientStockError) Unwrap() error { return database.ErrInsufficientStock }

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// ReserveStock conditionally decrements the parent product quantity for each
// requested variant. Must run inside the same transaction as order creation;
// any failure aborts the whole transaction.
func ReserveStock(ctx context.Context, tx *sql.Tx, items []ReserveItem) ([]ReservedVariant, error) {
	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.VariantID
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT v.id, v.product_id, p.price, p.quantity
		FROM product_variants v
		JOIN products p ON p.id = v.product_id
		WHERE v.id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("fetch variants: %w", err)
	}
	defer rows.Close()

	found := make(map[int64]ReservedVariant, len(items))
	for rows.Next() {
		var rv ReservedVariant
		if err := rows.Scan(&rv.VariantID, &rv.ProductID, &rv.Price, &rv.Quantity); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		found[rv.VariantID] = rv
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	var missing []int64
	for _, item := range items {
		if _, ok := found[item.VariantID]; !ok {
			missing = append(missing, item.VariantID)
		}
	}
	if len(missing) > 0 {
		return nil, &VariantsNotFoundError{IDs: missing}
	}

	var outOfStock []int64
	reserved := make([]ReservedVariant, 0, len(items))
	for _, item := range items {
		rv := found[item.VariantID]
		if rv.Quantity < item.Quantity {
			outOfStock = append(outOfStock, rv.ProductID)
		}
		reserved = append(reserved, rv)
	}
	if len(outOfStock) > 0 {
		return nil, &InsufficientStockError{ProductIDs: outOfStock}
	}

	for _, item := range items {
		result, err := tx.ExecContext(ctx, `
			UPDATE products p
			SET quantity = p.quantity - $1,
			    updated_at = NOW()
			FROM product_variants v
			WHERE v.id = $2
			  AND v.product_id = p.id
			  AND p.quantity >= $1`,
			item.Quantity, item.VariantID)
		if err != nil {
			return nil, fmt.Errorf("decrement stock: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("get rows affected: %w", err)
		}

		// Zero rows means a concurrent order won the race since our read.
		if rowsAffected == 0 {
			return nil, &InsufficientStockError{ProductIDs: []int64{found[item.VariantID].ProductID}}
		}
	}

	return reserved, nil
}

// ReleaseStock is the symmetric increment used by cancellation and refund
// flows. Quantity only grows, so no guard is needed.
func ReleaseStock(ctx context.Context, tx *sql.Tx, items []ReserveItem) error {
	for _, item := range items {
		_, err := tx.ExecContext(ctx, `
			UPDATE products p
			SET quantity = p.quantity + $1,
			    updated_at = NOW()
			FROM product_variants v
			WHERE v.id = $2
			  AND v.product_id = p.id`,
			item.Quantity, item.VariantID)
		if err != nil {
			return fmt.Errorf("release stock: %w", err)
		}
	}
	return nil
}
