// Package store defines the persistence boundary of the order engine. Every
// mutation happens inside a Tx obtained from Store.WithTx; the scope commits
// only when the callback returns nil and is rolled back on every other path.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/ticket-commerce/internal/domain"
	"github.com/shopspring/decimal"
)

type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

type Tx interface {
	TicketTx
	CartTx
	OrderTx
	TransactionTx
	InsertOutbox(ctx context.Context, record domain.OutboxRecord) error
}

// Scope lets code running inside WithTx defer side effects until the scope has
// committed. Callbacks registered by an attempt that rolls back or is retried
// are dropped.
type Scope interface {
	AfterCommit(fn func())
}

type TicketTx interface {
	Scope
	InsertTicket(ctx context.Context, t domain.Ticket) error
	GetTicket(ctx context.Context, id uuid.UUID) (domain.Ticket, error)
	// DecrementAvailable subtracts qty only if available >= qty. The returned
	// ticket reflects the row after the statement; applied reports whether it changed.
	DecrementAvailable(ctx context.Context, id uuid.UUID, qty int) (t domain.Ticket, applied bool, err error)
	// IncrementAvailable adds qty only if the result stays <= total.
	IncrementAvailable(ctx context.Context, id uuid.UUID, qty int) (t domain.Ticket, applied bool, err error)
}

type CartTx interface {
	GetCartItem(ctx context.Context, id uuid.UUID) (domain.CartItem, error)
	FindCartItem(ctx context.Context, userID, ticketID uuid.UUID) (domain.CartItem, bool, error)
	ListCartItems(ctx context.Context, userID uuid.UUID) ([]domain.CartItem, error)
	UpsertCartItem(ctx context.Context, item domain.CartItem) error
	DeleteCartItem(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteCartItems(ctx context.Context, userID uuid.UUID) (int, error)
}

type OrderTx interface {
	InsertOrder(ctx context.Context, o domain.Order) error
	// GetOrder loads the order with its items and locks the row for the rest of the scope.
	GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error)
	ListOrders(ctx context.Context, userID uuid.UUID) ([]domain.Order, error)
	ListStalePendingOrders(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)
	// CompareAndSetOrderStatus writes to only while the stored status equals from.
	CompareAndSetOrderStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus, now time.Time) (bool, error)
	AppendOrderItem(ctx context.Context, id uuid.UUID, item domain.OrderItem, total decimal.Decimal, now time.Time) error
	MarkStockReleased(ctx context.Context, id uuid.UUID, now time.Time) error
	SetOrderCompletedAt(ctx context.Context, id uuid.UUID, at time.Time) error
}

type TransactionTx interface {
	InsertTransaction(ctx context.Context, t domain.Transaction) error
	GetTransaction(ctx context.Context, id uuid.UUID) (domain.Transaction, error)
	ListTransactions(ctx context.Context, orderID uuid.UUID) ([]domain.Transaction, error)
	CompareAndSetTransactionStatus(ctx context.Context, id uuid.UUID, from, to domain.TransactionStatus, now time.Time) (bool, error)
}

// Hooks is an embeddable Scope implementation for adapters.
type Hooks struct {
	fns []func()
}

func (h *Hooks) AfterCommit(fn func()) {
	h.fns = append(h.fns, fn)
}

// RunAfterCommit is called by the adapter once the commit succeeded.
func (h *Hooks) RunAfterCommit() {
	for _, fn := range h.fns {
		fn()
	}
	h.fns = nil
}

// OutboxSource is the non-transactional side used by the outbox relay.
type OutboxSource interface {
	GetUnpublishedOutbox(ctx context.Context, limit int) ([]domain.OutboxRecord, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
}
