package errors

import "errors"

var (
	ErrUserNotFound            = errors.New("user not found")
	ErrEmailExists             = errors.New("email already registered")
	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrInsufficientCredits     = errors.New("insufficient credits")
	ErrInvalidAmount           = errors.New("amount must be positive")
	ErrInvalidTransactionType  = errors.New("invalid transaction type")
	ErrNilTransaction          = errors.New("transaction is nil")
	ErrRunNotFound             = errors.New("run not found")
	ErrRunAlreadyTerminal      = errors.New("run already in terminal state")
	ErrSubmissionFailed        = errors.New("external job submission failed")
	ErrPollTimeout             = errors.New("polling budget exhausted before terminal status")
	ErrPaymentNotFound         = errors.New("payment not found")
	ErrPaymentAlreadyProcessed = errors.New("payment already processed")
	ErrInvalidSignature        = errors.New("invalid payment signature")
	ErrInvalidInput            = errors.New("invalid input")
	ErrInternal                = errors.New("internal error")
)
