package models

import "time"

// Run is one inference or training invocation against the external provider.
type Run struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Kind        RunKind        `json:"kind"`
	Status      RunStatus      `json:"status"`
	Params      map[string]any `json:"parameters,omitempty"`
	ExternalID  string         `json:"external_id,omitempty"`
	CreditCost  int64          `json:"credit_cost"`
	OutputRefs  []string       `json:"output_refs,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

type RunKind string

const (
	KindInference RunKind = "inference"
	KindTraining  RunKind = "training"
)

type RunStatus string

const (
	StatusSubmitted  RunStatus = "submitted"
	StatusProcessing RunStatus = "processing"
	StatusCompleted  RunStatus = "completed"
	StatusFailed     RunStatus = "failed"
	StatusCanceled   RunStatus = "canceled"
)

// Terminal reports whether s permits no further transition.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}
