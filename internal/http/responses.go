package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/ticket-commerce/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type ticketResponse struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	Price             string    `json:"price"`
	AvailableQuantity int       `json:"available_quantity"`
	TotalQuantity     int       `json:"total_quantity"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func newTicketResponse(t domain.Ticket) ticketResponse {
	return ticketResponse{
		ID:                t.ID,
		Name:              t.Name,
		Price:             t.Price.StringFixed(2),
		AvailableQuantity: t.AvailableQuantity,
		TotalQuantity:     t.TotalQuantity,
		UpdatedAt:         t.UpdatedAt,
	}
}

type cartItemResponse struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	TicketID  uuid.UUID `json:"ticket_id"`
	Quantity  int       `json:"quantity"`
	UnitPrice string    `json:"unit_price"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newCartItemResponse(c domain.CartItem) cartItemResponse {
	return cartItemResponse{
		ID:        c.ID,
		UserID:    c.UserID,
		TicketID:  c.TicketID,
		Quantity:  c.Quantity,
		UnitPrice: c.UnitPrice.StringFixed(2),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

type cartResponse struct {
	UserID uuid.UUID          `json:"user_id"`
	Items  []cartItemResponse `json:"items"`
	Total  string             `json:"total"`
}

type orderItemResponse struct {
	TicketID  uuid.UUID `json:"ticket_id"`
	Quantity  int       `json:"quantity"`
	UnitPrice string    `json:"unit_price"`
	Subtotal  string    `json:"subtotal"`
}

type orderResponse struct {
	ID          uuid.UUID           `json:"id"`
	Reference   string              `json:"reference"`
	UserID      uuid.UUID           `json:"user_id"`
	Status      domain.OrderStatus  `json:"status"`
	TotalAmount string              `json:"total_amount"`
	Items       []orderItemResponse `json:"items"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

func newOrderResponse(o domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemResponse{
			TicketID:  item.TicketID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(2),
			Subtotal:  item.Subtotal().StringFixed(2),
		})
	}
	return orderResponse{
		ID:          o.ID,
		Reference:   o.Reference,
		UserID:      o.UserID,
		Status:      o.Status,
		TotalAmount: o.TotalAmount.StringFixed(2),
		Items:       items,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
		CompletedAt: o.CompletedAt,
	}
}

type transactionResponse struct {
	ID                uuid.UUID                `json:"id"`
	Reference         string                   `json:"reference"`
	OrderID           uuid.UUID                `json:"order_id"`
	Amount            string                   `json:"amount"`
	PaymentMethod     string                   `json:"payment_method"`
	ExternalReference string                   `json:"external_reference,omitempty"`
	Status            domain.TransactionStatus `json:"status"`
	CreatedAt         time.Time                `json:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at"`
}

func newTransactionResponse(t domain.Transaction) transactionResponse {
	return transactionResponse{
		ID:                t.ID,
		Reference:         t.Reference,
		OrderID:           t.OrderID,
		Amount:            t.Amount.StringFixed(2),
		PaymentMethod:     t.PaymentMethod,
		ExternalReference: t.ExternalReference,
		Status:            t.Status,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
}
