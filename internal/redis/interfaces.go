package redis

import (
	"context"
	"time"
)

// KVStoreInterface defines the hot-store operations used by the session workflow.
type KVStoreInterface interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	CompareAndSet(ctx context.Context, key string, expected, next []byte) (bool, error)
}

// DeliveryLedgerInterface defines dedup and locking for webhook delivery.
type DeliveryLedgerInterface interface {
	AcquireDeliveryLock(ctx context.Context, messageID string, ttl time.Duration) (bool, error)
	ReleaseDeliveryLock(ctx context.Context, messageID string) error
	IsDelivered(ctx context.Context, messageID string) (bool, error)
	MarkDelivered(ctx context.Context, messageID string) error
}

// Ensure concrete types implement interfaces.
var (
	_ KVStoreInterface        = (*KVStore)(nil)
	_ DeliveryLedgerInterface = (*DeliveryLedger)(nil)
)
