package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ticket is the inventory view of a ticket type.
type Ticket struct {
	ID                uuid.UUID
	Name              string
	Price             decimal.Decimal
	AvailableQuantity int
	TotalQuantity     int
	UpdatedAt         time.Time
}

// Consistent reports whether the counters satisfy 0 <= available <= total.
func (t Ticket) Consistent() bool {
	return t.AvailableQuantity >= 0 && t.AvailableQuantity <= t.TotalQuantity
}

type CartItem struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TicketID  uuid.UUID
	Quantity  int
	UnitPrice decimal.Decimal // price when added, informational only
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Order struct {
	ID            uuid.UUID
	Reference     string
	UserID        uuid.UUID
	Status        OrderStatus
	TotalAmount   decimal.Decimal
	Items         []OrderItem
	StockReleased bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// OrderItem is frozen at purchase time and never mutated afterwards.
type OrderItem struct {
	TicketID  uuid.UUID
	Quantity  int
	UnitPrice decimal.Decimal
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Transaction struct {
	ID                uuid.UUID
	Reference         string
	OrderID           uuid.UUID
	Amount            decimal.Decimal
	PaymentMethod     string
	ExternalReference string
	Status            TransactionStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// LineItem is a requested (ticket, quantity) pair at checkout.
type LineItem struct {
	TicketID uuid.UUID `json:"ticket_id"`
	Quantity int       `json:"quantity"`
}
