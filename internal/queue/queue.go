// Package queue defines the at-least-once message channel between the session
// workflow and the webhook dispatcher.
package queue

import (
	"context"

	"payup/internal/domain"
)

// Publisher enqueues webhook jobs.
type Publisher interface {
	// Enqueue hands msg to the queue and returns the provider's message id.
	Enqueue(ctx context.Context, msg *domain.QueueMessage) (string, error)
}

// Handler processes one delivered message. Returning nil acknowledges the
// message; returning an error leaves it unacknowledged so the provider redelivers it.
type Handler func(ctx context.Context, msg *domain.QueueMessage) error

// Consumer drains messages until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
}

// Queue is a provider that can both publish and consume.
type Queue interface {
	Publisher
	Consumer
	Close() error
}
