package models

import "time"

type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name,omitempty"`
	PasswordHash string `json:"-"`
	// CreditsBalance is the cached balance owned by the ledger. It must always
	// equal the sum of the user's credit transactions; the ledger reconciles it
	// against the log when it diverges.
	CreditsBalance   int64      `json:"credits_balance"`
	BalanceCheckedAt *time.Time `json:"balance_checked_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}
