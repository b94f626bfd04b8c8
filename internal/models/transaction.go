package models

import "time"

// CreditTransaction is an append-only ledger entry. Amount is signed: positive
// entries add credits, negative entries consume them. Once written a
// transaction is never mutated or deleted.
type CreditTransaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Amount      int64           `json:"amount"`
	Type        TransactionType `json:"transaction_type"`
	Description string          `json:"description"`
	RunID       string          `json:"run_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type TransactionType string

const (
	TypePurchase TransactionType = "purchase"
	TypeUsage    TransactionType = "usage"
	TypeRefund   TransactionType = "refund"
	TypeBonus    TransactionType = "bonus"
	TypeExpiry   TransactionType = "expiry"
)

// ValidType reports whether t is one of the known transaction types.
func ValidType(t TransactionType) bool {
	switch t {
	case TypePurchase, TypeUsage, TypeRefund, TypeBonus, TypeExpiry:
		return true
	}
	return false
}

// CreditableType reports whether t may be used by callers adding credits.
// Usage and expiry entries are written only by the ledger itself.
func CreditableType(t TransactionType) bool {
	switch t {
	case TypePurchase, TypeRefund, TypeBonus:
		return true
	}
	return false
}
