package eventstore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const lockKeyPrefix = "integrationhub:event-lock:"

var releaseLockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// ClaimLock is a distributed, per-event claim assist sitting alongside the
// database's optimistic-concurrency Transition: it lets multiple worker
// processes skip an event someone else is already handling without taking
// a database round trip, and self-expires via TTL if a worker crashes
// mid-attempt.
type ClaimLock struct {
	client *redis.Client
}

func NewClaimLock(client *redis.Client) *ClaimLock {
	return &ClaimLock{client: client}
}

// Acquire attempts to claim eventID for workerID for ttl. A false result
// (with nil error) means another worker already holds the claim.
func (l *ClaimLock) Acquire(ctx context.Context, eventID, workerID string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKeyPrefix+eventID, workerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("eventstore: acquire claim lock: %w", err)
	}
	return ok, nil
}

// Release drops the claim, but only if workerID still holds it.
func (l *ClaimLock) Release(ctx context.Context, eventID, workerID string) error {
	key := lockKeyPrefix + eventID
	if err := releaseLockScript.Run(ctx, l.client, []string{key}, workerID).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("eventstore: release claim lock: %w", err)
	}
	return nil
}
