package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-commerce/internal/adapters/memory"
	"github.com/robertarktes/ticket-commerce/internal/cart"
	"github.com/robertarktes/ticket-commerce/internal/inventory"
	"github.com/robertarktes/ticket-commerce/internal/observability"
	"github.com/robertarktes/ticket-commerce/internal/orders"
	"github.com/robertarktes/ticket-commerce/internal/payments"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestRouter(opts ...Option) (*chi.Mux, *Handlers) {
	st := memory.NewStore()
	logger := observability.NopLogger()
	inv := inventory.NewLedger(st, logger)
	engine := orders.NewEngine(st, inv, logger)
	h := NewHandlers(inv, cart.NewAggregator(st, logger), engine, payments.NewLedger(st, engine, logger), logger, opts...)
	return SetupRouter(h, nil, logger, nil, nil), h
}

func do(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createTicket(t *testing.T, router http.Handler, price string, total int) ticketResponse {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/v1/tickets", map[string]interface{}{
		"name": "General admission", "price": price, "total_quantity": total,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[ticketResponse](t, rec)
}

func available(t *testing.T, router http.Handler, id uuid.UUID) int {
	t.Helper()
	rec := do(t, router, http.MethodGet, "/v1/tickets/"+id.String()+"/inventory", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	return decodeBody[ticketResponse](t, rec).AvailableQuantity
}

func TestCheckoutFlow(t *testing.T) {
	router, _ := newTestRouter()
	ticket := createTicket(t, router, "25.00", 10)
	user := uuid.New()

	rec := do(t, router, http.MethodPost, "/v1/cart/items", map[string]interface{}{
		"user_id": user, "ticket_id": ticket.ID, "quantity": 3,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/v1/users/"+user.String()+"/cart", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	c := decodeBody[cartResponse](t, rec)
	assert.Len(t, c.Items, 1)
	assert.Equal(t, "75.00", c.Total)

	rec = do(t, router, http.MethodPost, "/v1/orders", map[string]interface{}{"user_id": user, "from_cart": true})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decodeBody[orderResponse](t, rec)
	assert.Equal(t, "pending", string(order.Status))
	assert.Equal(t, "75.00", order.TotalAmount)
	assert.Equal(t, 7, available(t, router, ticket.ID))

	rec = do(t, router, http.MethodGet, "/v1/users/"+user.String()+"/cart", nil)
	assert.Empty(t, decodeBody[cartResponse](t, rec).Items)

	rec = do(t, router, http.MethodPost, "/v1/transactions", map[string]interface{}{
		"order_id": order.ID, "amount": "75.00", "payment_method": "card",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	txn := decodeBody[transactionResponse](t, rec)
	assert.Equal(t, "pending", string(txn.Status))

	rec = do(t, router, http.MethodPatch, "/v1/transactions/"+txn.ID.String()+"/status", map[string]string{"status": "success"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/v1/orders/"+order.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "confirmed", string(decodeBody[orderResponse](t, rec).Status))

	rec = do(t, router, http.MethodPost, "/v1/transactions/"+txn.ID.String()+"/refund", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "refunded", string(decodeBody[transactionResponse](t, rec).Status))
	assert.Equal(t, 10, available(t, router, ticket.ID))

	rec = do(t, router, http.MethodGet, "/v1/orders/"+order.ID.String()+"/transactions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]transactionResponse](t, rec), 1)

	rec = do(t, router, http.MethodGet, "/v1/users/"+user.String()+"/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]orderResponse](t, rec), 1)
}

func TestOrderEndpoints(t *testing.T) {
	router, _ := newTestRouter()
	a := createTicket(t, router, "10.00", 5)
	b := createTicket(t, router, "4.50", 5)
	user := uuid.New()

	rec := do(t, router, http.MethodPost, "/v1/orders", map[string]interface{}{
		"user_id": user,
		"items":   []map[string]interface{}{{"ticket_id": a.ID, "quantity": 2}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decodeBody[orderResponse](t, rec)

	rec = do(t, router, http.MethodPost, "/v1/orders/"+order.ID.String()+"/items", map[string]interface{}{
		"ticket_id": b.ID, "quantity": 2,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	order = decodeBody[orderResponse](t, rec)
	assert.Len(t, order.Items, 2)
	assert.Equal(t, "29.00", order.TotalAmount)

	rec = do(t, router, http.MethodPost, "/v1/orders/"+order.ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", string(decodeBody[orderResponse](t, rec).Status))
	assert.Equal(t, 5, available(t, router, a.ID))
	assert.Equal(t, 5, available(t, router, b.ID))

	rec = do(t, router, http.MethodPost, "/v1/orders/"+order.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_terminal", decodeBody[errorResponse](t, rec).Code)

	rec = do(t, router, http.MethodPatch, "/v1/orders/"+order.ID.String()+"/status", map[string]string{"status": "confirmed"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "illegal_transition", decodeBody[errorResponse](t, rec).Code)
}

func TestErrorMapping(t *testing.T) {
	router, _ := newTestRouter()
	ticket := createTicket(t, router, "10.00", 2)

	t.Run("insufficient inventory", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/v1/orders", map[string]interface{}{
			"user_id": uuid.New(),
			"items":   []map[string]interface{}{{"ticket_id": ticket.ID, "quantity": 3}},
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
		resp := decodeBody[errorResponse](t, rec)
		assert.Equal(t, "insufficient_inventory", resp.Code)
		require.NotNil(t, resp.TicketID)
		assert.Equal(t, ticket.ID, *resp.TicketID)
		assert.Equal(t, 3, resp.Requested)
		require.NotNil(t, resp.Available)
		assert.Equal(t, 2, *resp.Available)
	})

	t.Run("unknown order", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/v1/orders/"+uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", decodeBody[errorResponse](t, rec).Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/v1/orders/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/orders", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty cart", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/v1/orders", map[string]interface{}{"user_id": uuid.New(), "from_cart": true})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "empty_cart", decodeBody[errorResponse](t, rec).Code)
	})

	t.Run("unknown status", func(t *testing.T) {
		rec := do(t, router, http.MethodPatch, "/v1/transactions/"+uuid.NewString()+"/status", map[string]string{"status": "bogus"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "validation_error", decodeBody[errorResponse](t, rec).Code)
	})

	t.Run("unmapped errors are hidden", func(t *testing.T) {
		_, h := newTestRouter()
		rec := httptest.NewRecorder()
		h.writeError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("connection reset by peer"))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "internal error", decodeBody[errorResponse](t, rec).Error)
	})
}

func TestCartEndpoints(t *testing.T) {
	router, _ := newTestRouter()
	ticket := createTicket(t, router, "12.00", 10)
	user := uuid.New()

	rec := do(t, router, http.MethodPost, "/v1/cart/items", map[string]interface{}{
		"user_id": user, "ticket_id": ticket.ID, "quantity": 1,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	item := decodeBody[cartItemResponse](t, rec)

	rec = do(t, router, http.MethodPatch, "/v1/cart/items/"+item.ID.String(), map[string]int{"quantity": 4})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 4, decodeBody[cartItemResponse](t, rec).Quantity)

	rec = do(t, router, http.MethodPatch, "/v1/cart/items/"+item.ID.String(), map[string]int{"quantity": 0})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, http.MethodPost, "/v1/cart/items", map[string]interface{}{
		"user_id": user, "ticket_id": ticket.ID, "quantity": 2,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, http.MethodDelete, "/v1/users/"+user.String()+"/cart", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, http.MethodGet, "/v1/users/"+user.String()+"/cart", nil)
	c := decodeBody[cartResponse](t, rec)
	assert.Empty(t, c.Items)
	assert.Equal(t, "0.00", c.Total)
}

func TestOrderEventsWithoutHistory(t *testing.T) {
	router, _ := newTestRouter()
	rec := do(t, router, http.MethodGet, "/v1/orders/"+uuid.NewString()+"/events", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	router, _ := newTestRouter(WithReadinessCheck("crdb", pingFunc(func(context.Context) error { return nil })))
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/v1/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/v1/readyz", nil).Code)

	router, _ = newTestRouter(WithReadinessCheck("redis", pingFunc(func(context.Context) error {
		return errors.New("dial tcp: connection refused")
	})))
	rec := do(t, router, http.MethodGet, "/v1/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis")

	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/metrics", nil).Code)
}
