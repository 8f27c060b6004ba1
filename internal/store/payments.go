package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hoangnv/shopcore/internal/database"
	"github.com/hoangnv/shopcore/internal/models"
)

type InsertPaymentParams struct {
	OrderID         int64
	Amount          decimal.Decimal
	TransactionCode string
	AccountNumber   string
	BankCode        string
	PaymentType     models.PaymentType
	Status          models.PaymentStatus
}

func InsertPayment(ctx context.Context, tx *sql.Tx, params InsertPaymentParams) (*models.Payment, error) {
	payment := &models.Payment{}

	err := tx.QueryRowContext(ctx, `
		INSERT INTO payments (order_id, amount, transaction_code, account_number, bank_code, payment_type, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING id, order_id, amount, transaction_code, account_number, bank_code, payment_type, status, created_at, updated_at`,
		params.OrderID,
		params.Amount,
		params.TransactionCode,
		params.AccountNumber,
		params.BankCode,
		params.PaymentType,
		params.Status,
	).Scan(
		&payment.ID,
		&payment.OrderID,
		&payment.Amount,
		&payment.TransactionCode,
		&payment.AccountNumber,
		&payment.BankCode,
		&payment.PaymentType,
		&payment.Status,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}

	return payment, nil
}

// GetPaidPayin returns the PAID PAYIN row for an order, i.e. the original
// inbound payment a refund would compensate.
func GetPaidPayin(ctx context.Context, db *sql.DB, orderID int64) (*models.Payment, error) {
	payment := &models.Payment{}

	err := db.QueryRowContext(ctx, `
		SELECT id, order_id, amount, transaction_code, account_number, bank_code, payment_type, status, created_at, updated_at
		FROM payments
		WHERE order_id = $1 AND payment_type = $2 AND status = $3
		ORDER BY created_at DESC
		LIMIT 1`,
		orderID, models.PaymentTypePayin, models.PaymentStatusPaid,
	).Scan(
		&payment.ID,
		&payment.OrderID,
		&payment.Amount,
		&payment.TransactionCode,
		&payment.AccountNumber,
		&payment.BankCode,
		&payment.PaymentType,
		&payment.Status,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get paid payin: %w", err)
	}

	return payment, nil
}

// PayoutExists reports whether a PAYOUT row already references the original
// PAYIN's transaction code. This is the double-refund guard.
func PayoutExists(ctx context.Context, db *sql.DB, orderID int64, transactionCode string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM payments
			WHERE order_id = $1 AND transaction_code = $2 AND payment_type = $3
		)`,
		orderID, transactionCode, models.PaymentTypePayout,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check payout exists: %w", err)
	}
	return exists, nil
}
