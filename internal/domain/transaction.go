package domain

import "time"

// TransactionStatus represents the recorded result of a payment attempt.
type TransactionStatus string

const (
	TransactionStatusSucceeded TransactionStatus = "SUCCEEDED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
)

// Transaction is the immutable record of a finalized payup.
type Transaction struct {
	ID            string            `json:"id"`
	PayupID       string            `json:"payup_id"`
	AppID         string            `json:"app_id"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Status        TransactionStatus `json:"status"`
	FailureReason string            `json:"failure_reason,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// TransactionFor derives the transaction recorded for a finalized or failed payup.
// Every caller observing the same terminal payup derives an identical transaction.
// Returns nil for payups that never produce one (created or cancelled).
func TransactionFor(p *Payup) *Transaction {
	if p == nil || p.TransactionID == "" || p.FinalizedAt == nil {
		return nil
	}

	status := TransactionStatusSucceeded
	if p.Status == PayupStatusFailed {
		status = TransactionStatusFailed
	}

	return &Transaction{
		ID:            p.TransactionID,
		PayupID:       p.ID,
		AppID:         p.AppID,
		Amount:        p.Amount,
		Currency:      p.Currency,
		Status:        status,
		FailureReason: p.FailureReason,
		CreatedAt:     *p.FinalizedAt,
	}
}
