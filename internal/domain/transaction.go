package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionPending  TransactionStatus = "pending"
	TransactionSuccess  TransactionStatus = "success"
	TransactionFailed   TransactionStatus = "failed"
	TransactionRefunded TransactionStatus = "refunded"
)

var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionPending: {TransactionSuccess, TransactionFailed},
	TransactionSuccess: {TransactionRefunded},
}

func ParseTransactionStatus(s string) (TransactionStatus, error) {
	switch st := TransactionStatus(strings.ToLower(s)); st {
	case TransactionPending, TransactionSuccess, TransactionFailed, TransactionRefunded:
		return st, nil
	}
	return "", Validationf("unknown transaction status %q", s)
}

func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionFailed || s == TransactionRefunded
}

func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range transactionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func NewTransaction(orderID uuid.UUID, amount decimal.Decimal, paymentMethod string, now time.Time) Transaction {
	if paymentMethod == "" {
		paymentMethod = DefaultPaymentMethod
	}
	return Transaction{
		ID:            uuid.New(),
		Reference:     newReference("TXN"),
		OrderID:       orderID,
		Amount:        amount,
		PaymentMethod: paymentMethod,
		Status:        TransactionPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

const DefaultPaymentMethod = "card"
