package domain

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

const (
	AggregateOrder       = "order"
	AggregateTransaction = "transaction"

	EventOrderCreated        = "order.created"
	EventOrderItemAdded      = "order.item_added"
	EventTransactionCreated  = "transaction.created"
	EventTransactionRefunded = "transaction.refunded"
)

// OrderStatusEvent is the outbox event type for an order entering status.
func OrderStatusEvent(status OrderStatus) string {
	return "order." + string(status)
}

func TransactionStatusEvent(status TransactionStatus) string {
	return "transaction." + string(status)
}

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED
	DedupeKey     string
}

func NewOutboxRecord(aggregateType string, aggregateID uuid.UUID, eventType string, payload interface{}) (OutboxRecord, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return OutboxRecord{}, errors.Wrapf(err, "marshal %s payload", eventType)
	}
	return OutboxRecord{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
		CreatedAt:     time.Now().UTC(),
		Status:        "NEW",
		DedupeKey:     uuid.NewString(),
	}, nil
}

type OrderEvent struct {
	OrderID     uuid.UUID   `json:"order_id"`
	Reference   string      `json:"reference"`
	UserID      uuid.UUID   `json:"user_id"`
	Status      OrderStatus `json:"status"`
	TotalAmount string      `json:"total_amount"`
	Items       []EventItem `json:"items"`
	OccurredAt  time.Time   `json:"occurred_at"`
}

type EventItem struct {
	TicketID  uuid.UUID `json:"ticket_id"`
	Quantity  int       `json:"quantity"`
	UnitPrice string    `json:"unit_price"`
}

func NewOrderEvent(o Order, at time.Time) OrderEvent {
	items := make([]EventItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, EventItem{
			TicketID:  item.TicketID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(2),
		})
	}
	return OrderEvent{
		OrderID:     o.ID,
		Reference:   o.Reference,
		UserID:      o.UserID,
		Status:      o.Status,
		TotalAmount: o.TotalAmount.StringFixed(2),
		Items:       items,
		OccurredAt:  at,
	}
}

type TransactionEvent struct {
	TransactionID uuid.UUID         `json:"transaction_id"`
	Reference     string            `json:"reference"`
	OrderID       uuid.UUID         `json:"order_id"`
	Amount        string            `json:"amount"`
	PaymentMethod string            `json:"payment_method"`
	Status        TransactionStatus `json:"status"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

func NewTransactionEvent(t Transaction, at time.Time) TransactionEvent {
	return TransactionEvent{
		TransactionID: t.ID,
		Reference:     t.Reference,
		OrderID:       t.OrderID,
		Amount:        t.Amount.StringFixed(2),
		PaymentMethod: t.PaymentMethod,
		Status:        t.Status,
		OccurredAt:    at,
	}
}
