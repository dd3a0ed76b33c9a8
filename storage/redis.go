package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces this package's keys, the Redis instance is
// usually shared with the rest of the service.
const redisKeyPrefix = "chainauth:pending:"

// Redis is a RequestStore backed by Redis, for services running more than
// one replica: the replica receiving the callback is rarely the one that
// started the flow. Records are stored with a TTL matching the request's
// expiration and consumed with GETDEL, so consumption stays atomic across
// replicas.
type Redis struct {
	client redis.UniversalClient
}

// ensure that Redis implements the RequestStore interface.
var _ RequestStore = (*Redis)(nil)

// NewRedis creates a Redis backed RequestStore on top of an existing
// client.
func NewRedis(client redis.UniversalClient) (*Redis, error) {
	const op = "storage.NewRedis"
	if client == nil {
		return nil, fmt.Errorf("%s: missing redis client", op)
	}
	return &Redis{client: client}, nil
}

// Put implements the RequestStore.Put() interface function.
func (s *Redis) Put(ctx context.Context, rec PendingAuthorization) error {
	const op = "storage.(Redis).Put"
	if rec.State == "" {
		return fmt.Errorf("%s: record has no state", op)
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("%s: record is already expired", op)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%s: unable to marshal the record: %w", op, err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+rec.State, raw, ttl).Err(); err != nil {
		return fmt.Errorf("%s: unable to store the record: %w", op, err)
	}
	return nil
}

// GetAndDelete implements the RequestStore.GetAndDelete() interface
// function.
func (s *Redis) GetAndDelete(ctx context.Context, state string) (PendingAuthorization, error) {
	const op = "storage.(Redis).GetAndDelete"
	raw, err := s.client.GetDel(ctx, redisKeyPrefix+state).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return PendingAuthorization{}, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return PendingAuthorization{}, fmt.Errorf("%s: unable to load the record: %w", op, err)
	}
	var rec PendingAuthorization
	if err := json.Unmarshal(raw, &rec); err != nil {
		return PendingAuthorization{}, fmt.Errorf("%s: unable to unmarshal the record: %w", op, err)
	}
	return rec, nil
}
