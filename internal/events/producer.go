// Package events publishes fire-and-forget order notifications for
// downstream consumers (email, push, reporting). Publish failures never
// fail the operation that triggered them.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/hoangnv/shopcore/internal/models"
)

const (
	EventOrderCreated   = "order_created"
	EventOrderPaid      = "order_paid"
	EventOrderConfirmed = "order_confirmed"
	EventOrderCancelled = "order_cancelled"
	EventOrderRefunded  = "order_refunded"
)

type OrderEvent struct {
	EventType     string               `json:"event_type"`
	OrderID       int64                `json:"order_id"`
	UserID        int64                `json:"user_id"`
	Status        models.OrderStatus   `json:"status"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	Amount        decimal.Decimal      `json:"amount"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

func NewOrderEvent(eventType string, order *models.Order) OrderEvent {
	return OrderEvent{
		EventType:     eventType,
		OrderID:       order.ID,
		UserID:        order.UserID,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		Amount:        order.Amount,
		OccurredAt:    time.Now(),
	}
}

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Producer{writer: writer}
}

func (p *Producer) Publish(ctx context.Context, key string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
