package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxLineQuantity caps a single line so totals stay well inside NUMERIC and int ranges.
const MaxLineQuantity = 10000

// MoneyPlaces is the number of fractional digits stored for prices and amounts.
const MoneyPlaces = 2

func ValidateQuantity(qty int) error {
	if qty < 1 {
		return Validationf("quantity must be at least 1, got %d", qty)
	}
	if qty > MaxLineQuantity {
		return Validationf("quantity must not exceed %d, got %d", MaxLineQuantity, qty)
	}
	return nil
}

func ValidateID(name string, id uuid.UUID) error {
	if id == uuid.Nil {
		return Validationf("%s is required", name)
	}
	return nil
}

func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return Validationf("amount must be positive, got %s", amount)
	}
	if !isMoney(amount) {
		return Validationf("amount must have at most %d decimal places, got %s", MoneyPlaces, amount)
	}
	return nil
}

// isMoney accepts trailing zeros beyond the second place, so 10.500 is 10.50.
func isMoney(d decimal.Decimal) bool {
	return d.Equal(d.Round(MoneyPlaces))
}

// NormalizeLineItems validates requested items and merges duplicates, keeping the
// order of first appearance.
func NormalizeLineItems(items []LineItem) ([]LineItem, error) {
	if len(items) == 0 {
		return nil, Validationf("at least one item is required")
	}
	index := make(map[uuid.UUID]int, len(items))
	merged := make([]LineItem, 0, len(items))
	for _, item := range items {
		if err := ValidateID("ticket_id", item.TicketID); err != nil {
			return nil, err
		}
		if err := ValidateQuantity(item.Quantity); err != nil {
			return nil, err
		}
		if i, ok := index[item.TicketID]; ok {
			merged[i].Quantity += item.Quantity
			if err := ValidateQuantity(merged[i].Quantity); err != nil {
				return nil, err
			}
			continue
		}
		index[item.TicketID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}

func ValidateTicket(t Ticket) error {
	if t.Name == "" {
		return Validationf("ticket name is required")
	}
	if t.Price.IsNegative() {
		return Validationf("ticket price must not be negative")
	}
	if !isMoney(t.Price) {
		return Validationf("ticket price must have at most %d decimal places, got %s", MoneyPlaces, t.Price)
	}
	if t.TotalQuantity < 0 {
		return Validationf("total quantity must not be negative")
	}
	if !t.Consistent() {
		return Validationf("available quantity must be between 0 and total quantity")
	}
	return nil
}
