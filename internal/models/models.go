package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "CASH"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMethodCreditCard   PaymentMethod = "CREDIT_CARD"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "UNPAID"
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

type PaymentType string

const (
	PaymentTypePayin  PaymentType = "PAYIN"
	PaymentTypePayout PaymentType = "PAYOUT"
)

type Product struct {
	ID        int64           `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ProductVariant carries no stock of its own; quantity is tracked on the
// parent product.
type ProductVariant struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Order struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	DeliveryAddress string          `json:"delivery_address"`
	Note            string          `json:"note,omitempty"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	Amount          decimal.Decimal `json:"amount"`
	Status          OrderStatus     `json:"status"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	QRCodeURL       string          `json:"qr_code_url,omitempty"`
	ExpiredAt       string          `json:"expired_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Items           []OrderItem     `json:"items,omitempty"`
}

type OrderItem struct {
	ID               int64           `json:"id"`
	OrderID          int64           `json:"order_id"`
	ProductVariantID int64           `json:"product_variant_id"`
	Quantity         int             `json:"quantity"`
	Amount           decimal.Decimal `json:"amount"`
	Note             string          `json:"note,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Payment is an append-only ledger row; one PAYIN per successful checkout
// plus PAYOUT rows for refunds.
type Payment struct {
	ID              int64           `json:"id"`
	OrderID         int64           `json:"order_id"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionCode string          `json:"transaction_code"`
	AccountNumber   string          `json:"account_number"`
	BankCode        string          `json:"bank_code"`
	PaymentType     PaymentType     `json:"payment_type"`
	Status          PaymentStatus   `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// PaymentInfo is returned to the caller on non-cash order creation once a
// checkout link exists.
type PaymentInfo struct {
	QRCodeURL string `json:"qr_code_url"`
	ExpiredAt string `json:"expired_at"`
}
