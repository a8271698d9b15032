package domain

import "time"

// PayupStatus represents the lifecycle state of a payment session.
type PayupStatus string

const (
	PayupStatusCreated   PayupStatus = "CREATED"
	PayupStatusFinalized PayupStatus = "FINALIZED"
	PayupStatusFailed    PayupStatus = "FAILED"
	PayupStatusCancelled PayupStatus = "CANCELLED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s PayupStatus) IsTerminal() bool {
	switch s {
	case PayupStatusFinalized, PayupStatusFailed, PayupStatusCancelled:
		return true
	default:
		return false
	}
}

// Payup represents a single checkout attempt.
type Payup struct {
	ID            string         `json:"id"`
	AppID         string         `json:"app_id"`
	Amount        int64          `json:"amount"` // Minor units (cents).
	Currency      string         `json:"currency"`
	Status        PayupStatus    `json:"status"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	ReturnURL     string         `json:"return_url"`
	CreatedAt     time.Time      `json:"created_at"`
	ExpiresAt     time.Time      `json:"expires_at"`
	FinalizedAt   *time.Time     `json:"finalized_at,omitempty"`
	FailureReason string         `json:"failure_reason,omitempty"`
	TransactionID string         `json:"transaction_id,omitempty"`
}

// OutcomeStatus is the result reported by the checkout surface.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailure OutcomeStatus = "failure"
)

// Outcome describes how a payment attempt ended.
type Outcome struct {
	Status        OutcomeStatus
	FailureReason string
}

// TerminalStatus maps the outcome onto the payup state machine.
func (o Outcome) TerminalStatus() PayupStatus {
	if o.Status == OutcomeSuccess {
		return PayupStatusFinalized
	}
	return PayupStatusFailed
}
