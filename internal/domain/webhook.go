package domain

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of webhook sent to a merchant.
type EventType string

const (
	EventPaymentSucceeded EventType = "payment.succeeded"
	EventPaymentFailed    EventType = "payment.failed"
	EventPaymentCancelled EventType = "payment.cancelled"
)

// EventTypeFor returns the webhook event emitted when a payup reaches status.
func EventTypeFor(status PayupStatus) EventType {
	switch status {
	case PayupStatusFinalized:
		return EventPaymentSucceeded
	case PayupStatusCancelled:
		return EventPaymentCancelled
	default:
		return EventPaymentFailed
	}
}

// ValidEventType reports whether t is a known event type.
func ValidEventType(t EventType) bool {
	switch t {
	case EventPaymentSucceeded, EventPaymentFailed, EventPaymentCancelled:
		return true
	default:
		return false
	}
}

// WebhookTemplate shapes the body sent for one app and event type.
type WebhookTemplate struct {
	ID        string
	AppID     string
	EventType EventType
	Body      string // text/template source rendering to JSON.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WebhookEvent is the payload carried by a queue message and exposed to templates.
type WebhookEvent struct {
	ID          string       `json:"id"`
	Type        EventType    `json:"type"`
	CreatedAt   time.Time    `json:"created_at"`
	Payup       Payup        `json:"payup"`
	Transaction *Transaction `json:"transaction,omitempty"`
}

// QueueMessage is the unit of work handed to the webhook dispatcher.
// ID is stable across redeliveries and republishing.
type QueueMessage struct {
	ID         string          `json:"id"`
	AppID      string          `json:"app_id"`
	PayupID    string          `json:"payup_id"`
	EventType  EventType       `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempt    int             `json:"attempt"`
}

// OutboxMessage is the durable copy of a queue message, written alongside
// the terminal payup record.
type OutboxMessage struct {
	ID          string
	AppID       string
	PayupID     string
	EventType   EventType
	Payload     json.RawMessage
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// QueueMessage converts the outbox row into the message handed to the queue.
func (m *OutboxMessage) QueueMessage(now time.Time) *QueueMessage {
	return &QueueMessage{
		ID:         m.ID,
		AppID:      m.AppID,
		PayupID:    m.PayupID,
		EventType:  m.EventType,
		Payload:    m.Payload,
		EnqueuedAt: now,
	}
}
