package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderCancelled OrderStatus = "cancelled"
	OrderCompleted OrderStatus = "completed"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:   {OrderConfirmed, OrderCancelled},
	OrderConfirmed: {OrderCompleted, OrderCancelled},
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	switch st := OrderStatus(strings.ToLower(s)); st {
	case OrderPending, OrderConfirmed, OrderCancelled, OrderCompleted:
		return st, nil
	}
	return "", Validationf("unknown order status %q", s)
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderCancelled || s == OrderCompleted
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// NewOrder builds a pending order from already reserved items. Items for the same
// ticket are expected to be merged by the caller.
func NewOrder(userID uuid.UUID, items []OrderItem, now time.Time) Order {
	id := uuid.New()
	return Order{
		ID:          id,
		Reference:   newReference("ORD"),
		UserID:      userID,
		Status:      OrderPending,
		TotalAmount: SumItems(items),
		Items:       items,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func SumItems(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

func (o Order) IsPending() bool   { return o.Status == OrderPending }
func (o Order) IsConfirmed() bool { return o.Status == OrderConfirmed }

func newReference(prefix string) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + "-" + strings.ToUpper(hex[:8])
}
