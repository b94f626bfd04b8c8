package models

import "time"

type Payment struct {
	ID               string        `json:"id"`
	UserID           string        `json:"user_id"`
	OrderID          string        `json:"order_id"`
	AmountCents      int64         `json:"amount_cents"`
	Currency         string        `json:"currency"`
	CreditsPurchased int64         `json:"credits_purchased"`
	Status           PaymentStatus `json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)
