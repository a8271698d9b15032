package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeliveredTTL bounds how long a delivered marker is remembered.
const DeliveredTTL = 7 * 24 * time.Hour

// DeliveryLedger tracks webhook messages that were already delivered and guards
// concurrent processing of the same message.
type DeliveryLedger struct {
	client *redis.Client
}

// NewDeliveryLedger creates a new DeliveryLedger.
func NewDeliveryLedger(client *redis.Client) *DeliveryLedger {
	return &DeliveryLedger{client: client}
}

// AcquireDeliveryLock attempts to acquire a lock for the given message.
// Returns true if the lock was acquired, false if already held.
func (s *DeliveryLedger) AcquireDeliveryLock(ctx context.Context, messageID string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("lock:webhook:%s", messageID)

	ok, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

// ReleaseDeliveryLock releases the lock for the given message.
func (s *DeliveryLedger) ReleaseDeliveryLock(ctx context.Context, messageID string) error {
	key := fmt.Sprintf("lock:webhook:%s", messageID)

	return s.client.Del(ctx, key).Err()
}

// IsDelivered reports whether the message was already delivered.
func (s *DeliveryLedger) IsDelivered(ctx context.Context, messageID string) (bool, error) {
	n, err := s.client.Exists(ctx, deliveredKey(messageID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkDelivered records a successful delivery.
func (s *DeliveryLedger) MarkDelivered(ctx context.Context, messageID string) error {
	return s.client.Set(ctx, deliveredKey(messageID), time.Now().UTC().Format(time.RFC3339), DeliveredTTL).Err()
}

func deliveredKey(messageID string) string {
	return "webhook:delivered:" + messageID
}
