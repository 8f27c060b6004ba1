// Package engine orchestrates order placement and payment reconciliation:
// transactional order creation with stock reservation, checkout creation
// against the payment gateway, webhook-driven confirmation, expiry, admin
// confirm/reject and the refund payout flow.
//
// The engine is invoked concurrently by independent sources (requests,
// webhooks, scheduled jobs, admin actions). Correctness comes from
// transaction atomicity, state guards re-checked under a row lock at the
// start of each mutation, and idempotency keys, not from global ordering.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hoangnv/shopcore/internal/apperr"
	"github.com/hoangnv/shopcore/internal/database"
	"github.com/hoangnv/shopcore/internal/events"
	"github.com/hoangnv/shopcore/internal/models"
	"github.com/hoangnv/shopcore/internal/payos"
	"github.com/hoangnv/shopcore/internal/store"
)

// Gateway is the outbound payment provider surface the engine depends on.
type Gateway interface {
	CreateCheckout(ctx context.Context, req payos.CheckoutRequest) (*payos.CheckoutResult, error)
	GetPayoutAccountBalance(ctx context.Context) (int64, error)
	CreatePayout(ctx context.Context, req payos.PayoutRequest) (*payos.PayoutResult, error)
}

// Jobs is the consumed slice of the delayed job scheduler.
type Jobs interface {
	ScheduleAt(jobID string, delay time.Duration, fn func(context.Context))
	Cancel(jobID string) bool
	EnqueueRetry(name string, maxAttempts int, backoff time.Duration, fn func(context.Context) error)
}

type OrderCache interface {
	Get(ctx context.Context, id int64) (*models.Order, bool)
	Set(ctx context.Context, order *models.Order)
	Invalidate(ctx context.Context, id int64)
}

type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type Config struct {
	ExpiryWindow    time.Duration
	RetryAttempts   int
	RetryBackoff    time.Duration
	PayoutTxTimeout time.Duration
}

type Engine struct {
	db       *sql.DB
	gateway  Gateway
	jobs     Jobs
	cache    OrderCache
	producer Publisher
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

func New(db *sql.DB, gateway Gateway, jobs Jobs, cache OrderCache, producer Publisher, cfg Config, logger *zap.Logger) *Engine {
	return &Engine{
		db:       db,
		gateway:  gateway,
		jobs:     jobs,
		cache:    cache,
		producer: producer,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

func expiryJobID(orderID int64) string {
	return fmt.Sprintf("expired-%d", orderID)
}

const expiryLabelFormat = "15:04 02/01/2006"

type CreateOrderRequest struct {
	UserID          int64
	DeliveryAddress string
	Note            string
	PaymentMethod   models.PaymentMethod
	Items           []OrderItemRequest
}

type OrderItemRequest struct {
	VariantID int64
	Quantity  int
	Note      string
}

type CreateOrderResult struct {
	Order       *models.Order       `json:"order"`
	PaymentInfo *models.PaymentInfo `json:"payment_info,omitempty"`
}

// CreateOrder reserves stock and creates the order in one transaction, then
// requests a checkout link for non-cash orders. A gateway timeout does not
// roll the order back: stock stays reserved, a background retry is enqueued
// and the order is returned without payment info. Losing the order on a
// flaky provider call is worse than a short delay before a link appears.
func (e *Engine) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if req.UserID <= 0 {
		return nil, apperr.New(apperr.CodeUnauthorized, "missing or invalid user id")
	}
	if len(req.Items) == 0 {
		return nil, apperr.New(apperr.CodeBadRequest, "order must have at least one item")
	}
	for _, item := range req.Items {
		if item.VariantID <= 0 || item.Quantity <= 0 {
			return nil, apperr.New(apperr.CodeBadRequest, "invalid order item")
		}
	}

	reserveItems := make([]store.ReserveItem, len(req.Items))
	for i, item := range req.Items {
		reserveItems[i] = store.ReserveItem{VariantID: item.VariantID, Quantity: item.Quantity}
	}

	paymentStatus := models.PaymentStatusPending
	if req.PaymentMethod == models.PaymentMethodCash {
		paymentStatus = models.PaymentStatusUnpaid
	}

	var order *models.Order
	err := database.WithRetry(ctx, e.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		reserved, err := store.ReserveStock(ctx, tx, reserveItems)
		if err != nil {
			return err
		}

		priceByVariant := make(map[int64]decimal.Decimal, len(reserved))
		for _, rv := range reserved {
			priceByVariant[rv.VariantID] = rv.Price
		}

		total := decimal.Zero
		itemParams := make([]store.OrderItemParams, len(req.Items))
		for i, item := range req.Items {
			price := priceByVariant[item.VariantID]
			itemParams[i] = store.OrderItemParams{
				ProductVariantID: item.VariantID,
				Quantity:         item.Quantity,
				Amount:           price,
				Note:             item.Note,
			}
			total = total.Add(price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}

		order, err = store.InsertOrder(ctx, tx, store.CreateOrderParams{
			UserID:          req.UserID,
			DeliveryAddress: req.DeliveryAddress,
			Note:            req.Note,
			PaymentMethod:   req.PaymentMethod,
			PaymentStatus:   paymentStatus,
			Amount:          total,
			Items:           itemParams,
		})
		return err
	})
	if err != nil {
		return nil, e.mapCreateError(err)
	}

	if req.PaymentMethod == models.PaymentMethodCash {
		e.publish(ctx, events.EventOrderCreated, order)
		return &CreateOrderResult{Order: order}, nil
	}

	info, err := e.requestCheckout(ctx, order)
	if err != nil {
		var rejected *payos.ProviderError
		switch {
		case errors.Is(err, payos.ErrGatewayTimeout):
			e.logger.Warn("checkout creation timed out, scheduling retry",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
			e.enqueueCheckoutRetry(order.ID)
		case errors.As(err, &rejected):
			// Provider rejections are not auto-retried; the caller can
			// still drive a manual retry-payment later.
			e.logger.Error("checkout creation rejected",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
		default:
			// Checkout succeeded upstream but the result was not persisted;
			// retry-payment recovers by requesting a fresh link.
			e.logger.Error("checkout result could not be persisted",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
		}
		e.publish(ctx, events.EventOrderCreated, order)
		return &CreateOrderResult{Order: order}, nil
	}

	order.QRCodeURL = info.QRCodeURL
	order.ExpiredAt = info.ExpiredAt
	e.publish(ctx, events.EventOrderCreated, order)
	return &CreateOrderResult{Order: order, PaymentInfo: info}, nil
}

func (e *Engine) mapCreateError(err error) error {
	var notFound *store.VariantsNotFoundError
	if errors.As(err, &notFound) {
		return apperr.New(apperr.CodeBadRequest, "product variants not found", joinInt64(notFound.IDs)...)
	}
	var insufficient *store.InsufficientStockError
	if errors.As(err, &insufficient) {
		return apperr.New(apperr.CodeBadRequest, "insufficient stock", joinInt64(insufficient.ProductIDs)...)
	}
	e.logger.Error("create order failed", zap.Error(err))
	return apperr.Internal(err)
}

func joinInt64(ids []int64) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.FormatInt(id, 10)
	}
	return out
}

// requestCheckout calls the gateway, persists the resulting payment info and
// schedules the expiry job. The DB write happens strictly after the network
// call; no row lock is held across it.
func (e *Engine) requestCheckout(ctx context.Context, order *models.Order) (*models.PaymentInfo, error) {
	expiresAt := e.now().Add(e.cfg.ExpiryWindow)

	checkout, err := e.gateway.CreateCheckout(ctx, payos.CheckoutRequest{
		OrderCode:   order.ID,
		Amount:      order.Amount.IntPart(),
		Description: fmt.Sprintf("order #%d", order.ID),
		ExpiredAt:   expiresAt,
	})
	if err != nil {
		return nil, err
	}

	label := expiresAt.Format(expiryLabelFormat)
	if err := store.SetPaymentInfo(ctx, e.db, order.ID, checkout.CheckoutURL, label); err != nil {
		e.logger.Error("persist payment info failed",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		return nil, apperr.Internal(err)
	}
	e.cache.Invalidate(ctx, order.ID)

	e.scheduleExpiry(order.ID, expiresAt)

	return &models.PaymentInfo{QRCodeURL: checkout.CheckoutURL, ExpiredAt: label}, nil
}

func (e *Engine) scheduleExpiry(orderID int64, expiresAt time.Time) {
	delay := expiresAt.Sub(e.now())
	if delay <= 0 {
		return
	}
	e.jobs.ScheduleAt(expiryJobID(orderID), delay, func(ctx context.Context) {
		if err := e.HandleExpirePaymentOrder(ctx, orderID); err != nil {
			e.logger.Error("expiry handler failed",
				zap.Int64("order_id", orderID),
				zap.Error(err))
		}
	})
}

func (e *Engine) enqueueCheckoutRetry(orderID int64) {
	e.jobs.EnqueueRetry(
		fmt.Sprintf("create-checkout-%d", orderID),
		e.cfg.RetryAttempts,
		e.cfg.RetryBackoff,
		func(ctx context.Context) error {
			return e.retryCheckout(ctx, orderID)
		},
	)
}

// retryCheckout is the background half of the degraded create path. It
// re-checks current state first: the order may have resolved meanwhile.
func (e *Engine) retryCheckout(ctx context.Context, orderID int64) error {
	order, err := store.GetOrder(ctx, e.db, orderID)
	if err != nil {
		if errors.Is(err, database.ErrOrderNotFound) {
			return nil
		}
		return err
	}
	if !awaitingCheckout(order) {
		return nil
	}

	_, err = e.requestCheckout(ctx, order)
	return err
}

func awaitingCheckout(order *models.Order) bool {
	return order.PaymentMethod != models.PaymentMethodCash &&
		order.Status == models.OrderStatusPending &&
		order.PaymentStatus == models.PaymentStatusPending
}

// RetryPayment re-requests a checkout link for the caller's own pending
// non-cash order. Missing, foreign and non-retryable orders all surface as
// NotFound so existence is never leaked.
func (e *Engine) RetryPayment(ctx context.Context, orderID, userID int64) (*models.PaymentInfo, error) {
	if userID <= 0 {
		return nil, apperr.New(apperr.CodeUnauthorized, "missing or invalid user id")
	}

	order, ok := e.cache.Get(ctx, orderID)
	if !ok {
		var err error
		order, err = store.GetOrder(ctx, e.db, orderID)
		if err != nil {
			if errors.Is(err, database.ErrOrderNotFound) {
				return nil, apperr.New(apperr.CodeNotFound, "order not found")
			}
			e.logger.Error("retry payment load failed", zap.Int64("order_id", orderID), zap.Error(err))
			return nil, apperr.Internal(err)
		}
		e.cache.Set(ctx, order)
	}

	if order.UserID != userID || !awaitingCheckout(order) {
		return nil, apperr.New(apperr.CodeNotFound, "order not found")
	}

	info, err := e.requestCheckout(ctx, order)
	if err != nil {
		if errors.Is(err, payos.ErrGatewayTimeout) {
			// Keep a background retry going, then surface the timeout so
			// the client can decide to poll.
			e.logger.Warn("retry payment timed out, scheduling background retry",
				zap.Int64("order_id", orderID),
				zap.Error(err))
			e.enqueueCheckoutRetry(orderID)
			return nil, apperr.Wrap(apperr.CodePaymentTimeout, "payment gateway timeout", err)
		}
		var rejected *payos.ProviderError
		if errors.As(err, &rejected) {
			return nil, apperr.Wrap(apperr.CodePaymentRejected, "payment creation rejected", err)
		}
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		e.logger.Error("retry payment failed", zap.Int64("order_id", orderID), zap.Error(err))
		return nil, apperr.Internal(err)
	}

	return info, nil
}

// WebhookPayload is the provider's payment-confirmation callback. Transport
// authenticity is verified upstream.
type WebhookPayload struct {
	OrderID              int64           `json:"orderId"`
	Amount               decimal.Decimal `json:"amount"`
	Method               string          `json:"method"`
	Reference            string          `json:"reference"`
	CounterAccountBankID string          `json:"counterAccountBankId"`
	CounterAccountNumber string          `json:"counterAccountNumber"`
	CounterAccountName   string          `json:"counterAccountName"`
}

// HandlePaymentPaid applies a payment-paid webhook: one PAYIN ledger row and
// paymentStatus PAID, in one transaction. Duplicate delivery is a no-op
// success keyed on the order's current payment status, not the transaction
// code, so a resend with a fresh reference is still detected.
func (e *Engine) HandlePaymentPaid(ctx context.Context, payload WebhookPayload) error {
	if payload.OrderID <= 0 {
		return apperr.New(apperr.CodeNotFound, "order not found")
	}

	var order *models.Order
	duplicate := false

	err := database.WithTransaction(ctx, e.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var err error
		order, err = store.GetOrderForUpdate(ctx, tx, payload.OrderID)
		if err != nil {
			return err
		}

		if order.PaymentStatus == models.PaymentStatusPaid {
			duplicate = true
			return nil
		}
		// Cancelled or confirmed-unpaid orders are no longer payable.
		if order.Status != models.OrderStatusPending {
			return database.ErrOrderNotFound
		}

		if _, err := store.InsertPayment(ctx, tx, store.InsertPaymentParams{
			OrderID:         order.ID,
			Amount:          payload.Amount,
			TransactionCode: payload.Reference,
			AccountNumber:   payload.CounterAccountNumber,
			BankCode:        payload.CounterAccountBankID,
			PaymentType:     models.PaymentTypePayin,
			Status:          models.PaymentStatusPaid,
		}); err != nil {
			return err
		}

		return store.SetPaymentStatus(ctx, tx, order.ID, models.PaymentStatusPaid)
	})
	if err != nil {
		if errors.Is(err, database.ErrOrderNotFound) {
			return apperr.New(apperr.CodeNotFound, "order not found")
		}
		e.logger.Error("handle payment paid failed", zap.Int64("order_id", payload.OrderID), zap.Error(err))
		return apperr.Internal(err)
	}

	if duplicate {
		e.logger.Info("duplicate payment webhook ignored", zap.Int64("order_id", payload.OrderID))
		return nil
	}

	e.jobs.Cancel(expiryJobID(order.ID))
	e.cache.Invalidate(ctx, order.ID)

	order.PaymentStatus = models.PaymentStatusPaid
	e.publish(ctx, events.EventOrderPaid, order)

	e.logger.Info("order payment confirmed",
		zap.Int64("order_id", order.ID),
		zap.String("transaction_code", payload.Reference))
	return nil
}

type ConfirmResult struct {
	Order     *models.Order `json:"order"`
	Unchanged bool          `json:"unchanged"`
}

// ConfirmOrder marks a pending order confirmed. Confirming an already
// confirmed order is an idempotent no-op reported with the Unchanged marker.
func (e *Engine) ConfirmOrder(ctx context.Context, orderID, adminUserID int64) (*ConfirmResult, error) {
	var result *ConfirmResult

	err := database.WithTransaction(ctx, e.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		order, err := store.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if order.Status == models.OrderStatusConfirmed {
			result = &ConfirmResult{Order: order, Unchanged: true}
			return nil
		}
		if order.Status == models.OrderStatusCancelled {
			return apperr.New(apperr.CodeConflict, "order already cancelled")
		}
		if order.PaymentMethod != models.PaymentMethodCash && order.PaymentStatus != models.PaymentStatusPaid {
			return apperr.New(apperr.CodeOrderPendingPayment, "order is awaiting payment")
		}

		if err := store.SetOrderStatus(ctx, tx, order.ID, models.OrderStatusConfirmed); err != nil {
			return err
		}
		order.Status = models.OrderStatusConfirmed
		result = &ConfirmResult{Order: order}
		return nil
	})
	if err != nil {
		return nil, e.mapOrderError(err, orderID, "confirm order")
	}

	if !result.Unchanged {
		e.jobs.Cancel(expiryJobID(orderID))
		e.cache.Invalidate(ctx, orderID)
		e.publish(ctx, events.EventOrderConfirmed, result.Order)
		e.logger.Info("order confirmed",
			zap.Int64("order_id", orderID),
			zap.Int64("admin_user_id", adminUserID))
	}
	return result, nil
}

// RejectOrder cancels an unpaid pending order and releases its stock.
// Rejecting an already cancelled order is a no-op; a paid order must go
// through the payout flow instead.
func (e *Engine) RejectOrder(ctx context.Context, orderID, adminUserID int64) error {
	cancelled, status, err := e.cancelIfUnpaid(ctx, orderID)
	if err != nil {
		return e.mapOrderError(err, orderID, "reject order")
	}
	if !cancelled {
		if status == models.OrderStatusCancelled {
			return nil
		}
		return apperr.New(apperr.CodeConflict, "order cannot be rejected in its current state")
	}

	e.jobs.Cancel(expiryJobID(orderID))
	e.logger.Info("order rejected",
		zap.Int64("order_id", orderID),
		zap.Int64("admin_user_id", adminUserID))
	return nil
}

// HandleExpirePaymentOrder fires when a checkout's lifetime lapses. Payment
// may have arrived between scheduling and firing, so current state is
// re-checked under the row lock; a paid or resolved order makes this a
// no-op.
func (e *Engine) HandleExpirePaymentOrder(ctx context.Context, orderID int64) error {
	cancelled, _, err := e.cancelIfUnpaid(ctx, orderID)
	if err != nil {
		if errors.Is(err, database.ErrOrderNotFound) {
			return nil
		}
		return e.mapOrderError(err, orderID, "expire order")
	}
	if !cancelled {
		e.logger.Info("expiry fired on resolved order, skipping", zap.Int64("order_id", orderID))
		return nil
	}

	e.logger.Info("order expired and cancelled", zap.Int64("order_id", orderID))
	return nil
}

// cancelIfUnpaid is the shared cancellation core for reject and expiry: in
// one transaction it re-checks the order is still (PENDING, not PAID),
// releases reserved stock and sets status CANCELLED.
func (e *Engine) cancelIfUnpaid(ctx context.Context, orderID int64) (bool, models.OrderStatus, error) {
	var cancelled bool
	var order *models.Order

	err := database.WithTransaction(ctx, e.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var err error
		order, err = store.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if order.Status != models.OrderStatusPending || order.PaymentStatus == models.PaymentStatusPaid {
			return nil
		}

		items, err := store.GetOrderItemsTx(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := store.ReleaseStock(ctx, tx, toReserveItems(items)); err != nil {
			return err
		}
		if err := store.SetOrderStatus(ctx, tx, orderID, models.OrderStatusCancelled); err != nil {
			return err
		}
		// A cancelled order is no longer awaiting payment.
		if order.PaymentStatus == models.PaymentStatusPending {
			if err := store.SetPaymentStatus(ctx, tx, orderID, models.PaymentStatusUnpaid); err != nil {
				return err
			}
		}
		cancelled = true
		return nil
	})
	if err != nil {
		return false, "", err
	}

	if cancelled {
		e.cache.Invalidate(ctx, orderID)
		order.Status = models.OrderStatusCancelled
		if order.PaymentStatus == models.PaymentStatusPending {
			order.PaymentStatus = models.PaymentStatusUnpaid
		}
		e.publish(ctx, events.EventOrderCancelled, order)
	}
	return cancelled, order.Status, nil
}

func toReserveItems(items []models.OrderItem) []store.ReserveItem {
	out := make([]store.ReserveItem, len(items))
	for i, item := range items {
		out[i] = store.ReserveItem{VariantID: item.ProductVariantID, Quantity: item.Quantity}
	}
	return out
}

// CreatePayoutOrder refunds a paid order: it locates the original PAID
// PAYIN, guards against a second payout for the same transaction code,
// checks the payout account balance, creates the payout at the provider and
// only then records the refund. The final transaction carries an explicit
// timeout budget since it chains a completed network result into DB writes.
func (e *Engine) CreatePayoutOrder(ctx context.Context, orderID int64) (*models.Payment, error) {
	payin, err := store.GetPaidPayin(ctx, e.db, orderID)
	if err != nil {
		if errors.Is(err, database.ErrPaymentNotFound) {
			return nil, apperr.New(apperr.CodeNotFound, "no paid payment found for order")
		}
		e.logger.Error("payout lookup failed", zap.Int64("order_id", orderID), zap.Error(err))
		return nil, apperr.Internal(err)
	}

	exists, err := store.PayoutExists(ctx, e.db, orderID, payin.TransactionCode)
	if err != nil {
		e.logger.Error("payout guard check failed", zap.Int64("order_id", orderID), zap.Error(err))
		return nil, apperr.Internal(err)
	}
	if exists {
		return nil, apperr.New(apperr.CodeAlreadyRefunded, "order already refunded", payin.TransactionCode)
	}

	amount := payin.Amount.IntPart()

	balance, err := e.gateway.GetPayoutAccountBalance(ctx)
	if err != nil {
		return nil, e.mapGatewayError(err, orderID, "payout balance check")
	}
	if balance < amount {
		return nil, apperr.New(apperr.CodeBalanceNotEnough, "payout account balance is not enough")
	}

	payout, err := e.gateway.CreatePayout(ctx, payos.PayoutRequest{
		ReferenceID:     "refund-" + payin.TransactionCode,
		Amount:          amount,
		Description:     fmt.Sprintf("refund order #%d", orderID),
		ToBin:           payin.BankCode,
		ToAccountNumber: payin.AccountNumber,
	})
	if err != nil {
		return nil, e.mapGatewayError(err, orderID, "payout creation")
	}

	opts := database.DefaultTxOptions()
	opts.Timeout = e.cfg.PayoutTxTimeout

	var refund *models.Payment
	var order *models.Order
	err = database.WithTransaction(ctx, e.db, opts, func(tx *sql.Tx) error {
		order, err = store.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.PaymentStatus == models.PaymentStatusRefunded {
			return apperr.New(apperr.CodeAlreadyRefunded, "order already refunded", payin.TransactionCode)
		}

		refund, err = store.InsertPayment(ctx, tx, store.InsertPaymentParams{
			OrderID:         orderID,
			Amount:          payin.Amount,
			TransactionCode: payin.TransactionCode,
			AccountNumber:   payin.AccountNumber,
			BankCode:        payin.BankCode,
			PaymentType:     models.PaymentTypePayout,
			Status:          models.PaymentStatusPaid,
		})
		if err != nil {
			if database.IsUniqueViolation(err) {
				return apperr.New(apperr.CodeAlreadyRefunded, "order already refunded", payin.TransactionCode)
			}
			return err
		}

		if err := store.SetPaymentStatus(ctx, tx, orderID, models.PaymentStatusRefunded); err != nil {
			return err
		}

		// Stock was already released if an earlier flow cancelled the
		// order; release only on the first transition to CANCELLED.
		if order.Status != models.OrderStatusCancelled {
			items, err := store.GetOrderItemsTx(ctx, tx, orderID)
			if err != nil {
				return err
			}
			if err := store.ReleaseStock(ctx, tx, toReserveItems(items)); err != nil {
				return err
			}
			if err := store.SetOrderStatus(ctx, tx, orderID, models.OrderStatusCancelled); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, e.mapOrderError(err, orderID, "record payout")
	}

	e.jobs.Cancel(expiryJobID(orderID))
	e.cache.Invalidate(ctx, orderID)

	order.Status = models.OrderStatusCancelled
	order.PaymentStatus = models.PaymentStatusRefunded
	e.publish(ctx, events.EventOrderRefunded, order)

	e.logger.Info("order refunded",
		zap.Int64("order_id", orderID),
		zap.String("payout_id", payout.ID),
		zap.String("transaction_code", payin.TransactionCode))
	return refund, nil
}

// GetOrder is the read-through lookup used by callers polling order state.
func (e *Engine) GetOrder(ctx context.Context, orderID, userID int64) (*models.Order, error) {
	order, ok := e.cache.Get(ctx, orderID)
	if !ok {
		var err error
		order, err = store.GetOrder(ctx, e.db, orderID)
		if err != nil {
			if errors.Is(err, database.ErrOrderNotFound) {
				return nil, apperr.New(apperr.CodeNotFound, "order not found")
			}
			e.logger.Error("get order failed", zap.Int64("order_id", orderID), zap.Error(err))
			return nil, apperr.Internal(err)
		}
		e.cache.Set(ctx, order)
	}

	// Ownership mismatch is deliberately NotFound, not Forbidden.
	if userID > 0 && order.UserID != userID {
		return nil, apperr.New(apperr.CodeNotFound, "order not found")
	}
	return order, nil
}

func (e *Engine) mapOrderError(err error, orderID int64, op string) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, database.ErrOrderNotFound) {
		return apperr.New(apperr.CodeNotFound, "order not found")
	}
	e.logger.Error(op+" failed", zap.Int64("order_id", orderID), zap.Error(err))
	return apperr.Internal(err)
}

func (e *Engine) mapGatewayError(err error, orderID int64, op string) error {
	if errors.Is(err, payos.ErrGatewayTimeout) {
		e.logger.Warn(op+" timed out", zap.Int64("order_id", orderID), zap.Error(err))
		return apperr.Wrap(apperr.CodePaymentTimeout, "payment gateway timeout", err)
	}
	var rejected *payos.ProviderError
	if errors.As(err, &rejected) {
		return apperr.Wrap(apperr.CodePaymentRejected, "payment creation rejected", err)
	}
	e.logger.Error(op+" failed", zap.Int64("order_id", orderID), zap.Error(err))
	return apperr.Internal(err)
}

func (e *Engine) publish(ctx context.Context, eventType string, order *models.Order) {
	event := events.NewOrderEvent(eventType, order)
	if err := e.producer.Publish(ctx, strconv.FormatInt(order.ID, 10), event); err != nil {
		// Fire and forget: a notification failure never fails the operation.
		e.logger.Warn("publish order event failed",
			zap.String("event_type", eventType),
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}
