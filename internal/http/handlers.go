package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-commerce/internal/adapters/mongo"
	"github.com/robertarktes/ticket-commerce/internal/cart"
	"github.com/robertarktes/ticket-commerce/internal/domain"
	"github.com/robertarktes/ticket-commerce/internal/inventory"
	"github.com/robertarktes/ticket-commerce/internal/observability"
	"github.com/robertarktes/ticket-commerce/internal/orders"
	"github.com/robertarktes/ticket-commerce/internal/payments"
	"github.com/shopspring/decimal"
)

// History returns the relayed events of one aggregate.
type History interface {
	History(ctx context.Context, aggregateID uuid.UUID) ([]mongo.AuditLog, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	inventory *inventory.Ledger
	cart      *cart.Aggregator
	orders    *orders.Engine
	payments  *payments.Ledger
	history   History
	checks    map[string]Pinger
	logger    observability.Logger
}

type Option func(*Handlers)

func WithHistory(h History) Option {
	return func(hs *Handlers) { hs.history = h }
}

// WithReadinessCheck adds a dependency that /v1/readyz pings.
func WithReadinessCheck(name string, p Pinger) Option {
	return func(hs *Handlers) { hs.checks[name] = p }
}

func NewHandlers(inv *inventory.Ledger, cartAgg *cart.Aggregator, engine *orders.Engine, ledger *payments.Ledger, logger observability.Logger, opts ...Option) *Handlers {
	h := &Handlers{
		inventory: inv,
		cart:      cartAgg,
		orders:    engine,
		payments:  ledger,
		checks:    make(map[string]Pinger),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid request body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		badRequest(w, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) CreateTicket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name          string          `json:"name"`
		Price         decimal.Decimal `json:"price"`
		TotalQuantity int             `json:"total_quantity"`
	}
	if !decode(w, r, &req) {
		return
	}
	ticket, err := h.inventory.AddTicket(r.Context(), req.Name, req.Price, req.TotalQuantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTicketResponse(ticket))
}

func (h *Handlers) GetInventory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ticket, err := h.inventory.StatusFor(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTicketResponse(ticket))
}

func (h *Handlers) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   uuid.UUID `json:"user_id"`
		TicketID uuid.UUID `json:"ticket_id"`
		Quantity int       `json:"quantity"`
	}
	if !decode(w, r, &req) {
		return
	}
	item, err := h.cart.AddItem(r.Context(), req.UserID, req.TicketID, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newCartItemResponse(item))
}

func (h *Handlers) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Quantity int `json:"quantity"`
	}
	if !decode(w, r, &req) {
		return
	}
	item, kept, err := h.cart.UpdateQuantity(r.Context(), id, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !kept {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, newCartItemResponse(item))
}

func (h *Handlers) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.cart.RemoveItem(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	items, err := h.cart.Items(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	total, err := h.cart.ComputeTotal(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := cartResponse{UserID: userID, Items: make([]cartItemResponse, 0, len(items)), Total: total.StringFixed(2)}
	for _, item := range items {
		resp.Items = append(resp.Items, newCartItemResponse(item))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) ClearCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	if err := h.cart.ClearForUser(r.Context(), userID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   uuid.UUID         `json:"user_id"`
		Items    []domain.LineItem `json:"items"`
		FromCart bool              `json:"from_cart"`
	}
	if !decode(w, r, &req) {
		return
	}

	var (
		order domain.Order
		err   error
	)
	switch {
	case req.FromCart && len(req.Items) > 0:
		badRequest(w, "items and from_cart are mutually exclusive")
		return
	case req.FromCart:
		order, err = h.orders.CreateFromCart(r.Context(), req.UserID)
	default:
		order, err = h.orders.CreateFromItems(r.Context(), req.UserID, req.Items)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOrderResponse(order))
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	order, err := h.orders.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *Handlers) ListUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	list, err := h.orders.ListForUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]orderResponse, 0, len(list))
	for _, o := range list {
		resp = append(resp, newOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) AddOrderItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req domain.LineItem
	if !decode(w, r, &req) {
		return
	}
	order, err := h.orders.AddItem(r.Context(), id, req.TicketID, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *Handlers) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if !decode(w, r, &req) {
		return
	}
	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	order, err := h.orders.UpdateStatus(r.Context(), id, status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	order, err := h.orders.Cancel(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *Handlers) OrderEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if h.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "event history unavailable", Code: "unavailable"})
		return
	}
	if _, err := h.orders.Get(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	logs, err := h.history.History(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if logs == nil {
		logs = []mongo.AuditLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *Handlers) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID       uuid.UUID       `json:"order_id"`
		Amount        decimal.Decimal `json:"amount"`
		PaymentMethod string          `json:"payment_method"`
	}
	if !decode(w, r, &req) {
		return
	}
	txn, err := h.payments.Create(r.Context(), req.OrderID, req.Amount, req.PaymentMethod)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newTransactionResponse(txn))
}

func (h *Handlers) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	txn, err := h.payments.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionResponse(txn))
}

func (h *Handlers) ListOrderTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	txns, err := h.payments.ListForOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]transactionResponse, 0, len(txns))
	for _, t := range txns {
		resp = append(resp, newTransactionResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) UpdateTransactionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if !decode(w, r, &req) {
		return
	}
	status, err := domain.ParseTransactionStatus(req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	txn, err := h.payments.UpdateStatus(r.Context(), id, status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionResponse(txn))
}

func (h *Handlers) RefundTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	txn, err := h.payments.Refund(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionResponse(txn))
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			LoggerFrom(r.Context(), h.logger).WithError(err).WithField("dependency", name).Warn("readiness check failed")
			http.Error(w, name+" not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
