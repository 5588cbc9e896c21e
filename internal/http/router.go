package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/ticket-commerce/internal/config"
	"github.com/robertarktes/ticket-commerce/internal/idempotency"
	"github.com/robertarktes/ticket-commerce/internal/observability"
	"github.com/robertarktes/ticket-commerce/internal/rateLimit"
)

// SetupRouter wires the API. rl and idemp are optional; a nil value disables
// the corresponding middleware.
func SetupRouter(h *Handlers, cfg *config.Config, logger observability.Logger, rl *rateLimit.RateLimiter, idemp *idempotency.Idempotency) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		if rl != nil {
			r.Use(RateLimitMiddleware(rl, cfg.UserRateLimit, cfg.IPRateLimit, cfg.RateLimitWindow))
		}
		if idemp != nil {
			r.Use(IdempotencyMiddleware(idemp, logger))
		}

		r.Post("/v1/tickets", h.CreateTicket)
		r.Get("/v1/tickets/{id}/inventory", h.GetInventory)

		r.Post("/v1/cart/items", h.AddCartItem)
		r.Patch("/v1/cart/items/{id}", h.UpdateCartItem)
		r.Delete("/v1/cart/items/{id}", h.RemoveCartItem)
		r.Get("/v1/users/{userID}/cart", h.GetCart)
		r.Delete("/v1/users/{userID}/cart", h.ClearCart)

		r.Post("/v1/orders", h.CreateOrder)
		r.Get("/v1/orders/{id}", h.GetOrder)
		r.Get("/v1/users/{userID}/orders", h.ListUserOrders)
		r.Post("/v1/orders/{id}/items", h.AddOrderItem)
		r.Patch("/v1/orders/{id}/status", h.UpdateOrderStatus)
		r.Post("/v1/orders/{id}/cancel", h.CancelOrder)
		r.Get("/v1/orders/{id}/events", h.OrderEvents)
		r.Get("/v1/orders/{id}/transactions", h.ListOrderTransactions)

		r.Post("/v1/transactions", h.CreateTransaction)
		r.Get("/v1/transactions/{id}", h.GetTransaction)
		r.Patch("/v1/transactions/{id}/status", h.UpdateTransactionStatus)
		r.Post("/v1/transactions/{id}/refund", h.RefundTransaction)
	})

	return r
}
