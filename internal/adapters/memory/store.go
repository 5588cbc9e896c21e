// Package memory is an in-process implementation of store.Store used by tests
// and local runs without CockroachDB. Scopes are serialised by a single mutex and
// operate on a staged copy that replaces the committed state only on success.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/ticket-commerce/internal/domain"
	"github.com/robertarktes/ticket-commerce/internal/store"
	"github.com/shopspring/decimal"
)

type state struct {
	tickets map[uuid.UUID]domain.Ticket
	cart    map[uuid.UUID]domain.CartItem
	orders  map[uuid.UUID]domain.Order
	txns    map[uuid.UUID]domain.Transaction
	outbox  []domain.OutboxRecord
}

func newState() *state {
	return &state{
		tickets: map[uuid.UUID]domain.Ticket{},
		cart:    map[uuid.UUID]domain.CartItem{},
		orders:  map[uuid.UUID]domain.Order{},
		txns:    map[uuid.UUID]domain.Transaction{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.tickets {
		c.tickets[k] = v
	}
	for k, v := range s.cart {
		c.cart[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = copyOrder(v)
	}
	for k, v := range s.txns {
		c.txns[k] = v
	}
	c.outbox = append([]domain.OutboxRecord(nil), s.outbox...)
	return c
}

func copyOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	if o.CompletedAt != nil {
		at := *o.CompletedAt
		o.CompletedAt = &at
	}
	return o
}

type Store struct {
	mu sync.Mutex
	st *state
}

var (
	_ store.Store        = (*Store)(nil)
	_ store.OutboxSource = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{st: newState()}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	scope := &tx{st: s.st.clone()}
	if err := fn(scope); err != nil {
		return err
	}
	s.st = scope.st
	scope.RunAfterCommit()
	return nil
}

func (s *Store) GetUnpublishedOutbox(ctx context.Context, limit int) ([]domain.OutboxRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []domain.OutboxRecord
	for _, rec := range s.st.outbox {
		if rec.Status != "NEW" {
			continue
		}
		records = append(records, rec)
		if len(records) == limit {
			break
		}
	}
	return records, nil
}

func (s *Store) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.st.outbox {
		if s.st.outbox[i].ID == id {
			at := publishedAt
			s.st.outbox[i].Status = "PUBLISHED"
			s.st.outbox[i].PublishedAt = &at
			return nil
		}
	}
	return domain.NotFoundf("outbox record %s not found", id)
}

type tx struct {
	store.Hooks
	st *state
}

func (t *tx) InsertTicket(ctx context.Context, ticket domain.Ticket) error {
	t.st.tickets[ticket.ID] = ticket
	return nil
}

func (t *tx) GetTicket(ctx context.Context, id uuid.UUID) (domain.Ticket, error) {
	ticket, ok := t.st.tickets[id]
	if !ok {
		return domain.Ticket{}, domain.NotFoundf("ticket %s not found", id)
	}
	return ticket, nil
}

func (t *tx) DecrementAvailable(ctx context.Context, id uuid.UUID, qty int) (domain.Ticket, bool, error) {
	ticket, err := t.GetTicket(ctx, id)
	if err != nil {
		return domain.Ticket{}, false, err
	}
	if ticket.AvailableQuantity < qty {
		return ticket, false, nil
	}
	ticket.AvailableQuantity -= qty
	ticket.UpdatedAt = time.Now().UTC()
	t.st.tickets[id] = ticket
	return ticket, true, nil
}

func (t *tx) IncrementAvailable(ctx context.Context, id uuid.UUID, qty int) (domain.Ticket, bool, error) {
	ticket, err := t.GetTicket(ctx, id)
	if err != nil {
		return domain.Ticket{}, false, err
	}
	if ticket.AvailableQuantity+qty > ticket.TotalQuantity {
		return ticket, false, nil
	}
	ticket.AvailableQuantity += qty
	ticket.UpdatedAt = time.Now().UTC()
	t.st.tickets[id] = ticket
	return ticket, true, nil
}

func (t *tx) GetCartItem(ctx context.Context, id uuid.UUID) (domain.CartItem, error) {
	item, ok := t.st.cart[id]
	if !ok {
		return domain.CartItem{}, domain.NotFoundf("cart item %s not found", id)
	}
	return item, nil
}

func (t *tx) FindCartItem(ctx context.Context, userID, ticketID uuid.UUID) (domain.CartItem, bool, error) {
	for _, item := range t.st.cart {
		if item.UserID == userID && item.TicketID == ticketID {
			return item, true, nil
		}
	}
	return domain.CartItem{}, false, nil
}

func (t *tx) ListCartItems(ctx context.Context, userID uuid.UUID) ([]domain.CartItem, error) {
	var items []domain.CartItem
	for _, item := range t.st.cart {
		if item.UserID == userID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID.String() < items[j].ID.String()
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (t *tx) UpsertCartItem(ctx context.Context, item domain.CartItem) error {
	t.st.cart[item.ID] = item
	return nil
}

func (t *tx) DeleteCartItem(ctx context.Context, id uuid.UUID) (bool, error) {
	if _, ok := t.st.cart[id]; !ok {
		return false, nil
	}
	delete(t.st.cart, id)
	return true, nil
}

func (t *tx) DeleteCartItems(ctx context.Context, userID uuid.UUID) (int, error) {
	n := 0
	for id, item := range t.st.cart {
		if item.UserID == userID {
			delete(t.st.cart, id)
			n++
		}
	}
	return n, nil
}

func (t *tx) InsertOrder(ctx context.Context, o domain.Order) error {
	t.st.orders[o.ID] = copyOrder(o)
	return nil
}

func (t *tx) GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return domain.Order{}, domain.NotFoundf("order %s not found", id)
	}
	return copyOrder(o), nil
}

func (t *tx) ListOrders(ctx context.Context, userID uuid.UUID) ([]domain.Order, error) {
	var orders []domain.Order
	for _, o := range t.st.orders {
		if o.UserID == userID {
			orders = append(orders, copyOrder(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders, nil
}

func (t *tx) ListStalePendingOrders(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	var stale []domain.Order
	for _, o := range t.st.orders {
		if o.Status == domain.OrderPending && o.CreatedAt.Before(before) {
			stale = append(stale, o)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	ids := make([]uuid.UUID, 0, len(stale))
	for _, o := range stale {
		if len(ids) == limit {
			break
		}
		ids = append(ids, o.ID)
	}
	return ids, nil
}

func (t *tx) CompareAndSetOrderStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus, now time.Time) (bool, error) {
	o, ok := t.st.orders[id]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = now
	t.st.orders[id] = o
	return true, nil
}

func (t *tx) AppendOrderItem(ctx context.Context, id uuid.UUID, item domain.OrderItem, total decimal.Decimal, now time.Time) error {
	o, ok := t.st.orders[id]
	if !ok {
		return domain.NotFoundf("order %s not found", id)
	}
	o = copyOrder(o)
	o.Items = append(o.Items, item)
	o.TotalAmount = total
	o.UpdatedAt = now
	t.st.orders[id] = o
	return nil
}

func (t *tx) MarkStockReleased(ctx context.Context, id uuid.UUID, now time.Time) error {
	o, ok := t.st.orders[id]
	if !ok {
		return domain.NotFoundf("order %s not found", id)
	}
	o.StockReleased = true
	o.UpdatedAt = now
	t.st.orders[id] = o
	return nil
}

func (t *tx) SetOrderCompletedAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	o, ok := t.st.orders[id]
	if !ok {
		return domain.NotFoundf("order %s not found", id)
	}
	o.CompletedAt = &at
	t.st.orders[id] = o
	return nil
}

func (t *tx) InsertTransaction(ctx context.Context, txn domain.Transaction) error {
	t.st.txns[txn.ID] = txn
	return nil
}

func (t *tx) GetTransaction(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	txn, ok := t.st.txns[id]
	if !ok {
		return domain.Transaction{}, domain.NotFoundf("transaction %s not found", id)
	}
	return txn, nil
}

func (t *tx) ListTransactions(ctx context.Context, orderID uuid.UUID) ([]domain.Transaction, error) {
	var txns []domain.Transaction
	for _, txn := range t.st.txns {
		if txn.OrderID == orderID {
			txns = append(txns, txn)
		}
	}
	sort.Slice(txns, func(i, j int) bool { return txns[i].CreatedAt.Before(txns[j].CreatedAt) })
	return txns, nil
}

func (t *tx) CompareAndSetTransactionStatus(ctx context.Context, id uuid.UUID, from, to domain.TransactionStatus, now time.Time) (bool, error) {
	txn, ok := t.st.txns[id]
	if !ok || txn.Status != from {
		return false, nil
	}
	txn.Status = to
	txn.UpdatedAt = now
	t.st.txns[id] = txn
	return true, nil
}

func (t *tx) InsertOutbox(ctx context.Context, record domain.OutboxRecord) error {
	if record.Status == "" {
		record.Status = "NEW"
	}
	t.st.outbox = append(t.st.outbox, record)
	return nil
}
