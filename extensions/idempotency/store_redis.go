package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mertkaradayi/stellar-x402/pkg/types"
)

// redisPollInterval is how often cross-process waiters re-check the store
// while another instance holds the in-flight marker.
const redisPollInterval = 200 * time.Millisecond

// pendingTTL bounds how long an in-flight marker can outlive a crashed
// settlement attempt before the key becomes claimable again.
const pendingTTL = 2 * time.Minute

// RedisStore provides a Redis-backed implementation of SettlementStore for
// distributed facilitator deployments.
//
// Results are stored as JSON under <prefix>:<key> with the configured TTL.
// In-flight claims use a SETNX marker under <prefix>:pending:<key> so that
// exactly one instance performs the settlement; other instances (and other
// goroutines in the same instance) wait and then read the stored result.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration

	mu       sync.Mutex
	inFlight map[string]chan struct{}
}

// NewRedisStore creates a settlement store on an existing Redis client.
//
// The prefix namespaces this store's keys so the same client can back other
// components (e.g. the discovery catalog). TTL semantics match InMemoryStore.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "x402:settlements"
	}
	return &RedisStore{
		client:   client,
		prefix:   prefix,
		ttl:      ttl,
		inFlight: make(map[string]chan struct{}),
	}
}

func (s *RedisStore) resultKey(key string) string {
	return s.prefix + ":" + key
}

func (s *RedisStore) pendingKey(key string) string {
	return s.prefix + ":pending:" + key
}

// CheckAndMark atomically checks the cache and claims the key via SETNX if needed.
func (s *RedisStore) CheckAndMark(ctx context.Context, key string) (SettlementStatus, *types.SettleResponse, chan struct{}, error) {
	result, err := s.Get(ctx, key)
	if err != nil {
		return StatusNotFound, nil, nil, err
	}
	if result != nil {
		return StatusCached, result, nil, nil
	}

	acquired, err := s.client.SetNX(ctx, s.pendingKey(key), "1", pendingTTL).Result()
	if err != nil {
		return StatusNotFound, nil, nil, fmt.Errorf("failed to claim settlement key: %w", err)
	}

	if !acquired {
		// Someone else holds the claim. Hand back the local channel when the
		// holder lives in this process; cross-process waiters poll.
		s.mu.Lock()
		done := s.inFlight[key]
		s.mu.Unlock()
		return StatusInFlight, nil, done, nil
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.inFlight[key] = done
	s.mu.Unlock()
	return StatusNotFound, nil, done, nil
}

// WaitForResult waits for an in-flight request to complete. A nil done channel
// means the claim holder is another process; in that case the store polls.
func (s *RedisStore) WaitForResult(ctx context.Context, key string, done chan struct{}) (*types.SettleResponse, error) {
	ticker := time.NewTicker(redisPollInterval)
	defer ticker.Stop()

	for {
		if done != nil {
			select {
			case <-done:
				return s.Get(ctx, key)
			case <-ticker.C:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}

		// Claim released without a result means the holder failed; tell the
		// caller to retry.
		pending, err := s.client.Exists(ctx, s.pendingKey(key)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check settlement claim: %w", err)
		}
		if pending == 0 {
			return nil, nil
		}
	}
}

// Get returns the cached settlement response, or nil when none is stored.
func (s *RedisStore) Get(ctx context.Context, key string) (*types.SettleResponse, error) {
	data, err := s.client.Get(ctx, s.resultKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settlement result: %w", err)
	}

	var response types.SettleResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return nil, fmt.Errorf("failed to decode settlement result: %w", err)
	}
	return &response, nil
}

// Complete stores the result, releases the claim, and signals local waiters.
func (s *RedisStore) Complete(ctx context.Context, key string, response *types.SettleResponse, done chan struct{}) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to encode settlement result: %w", err)
	}

	// Result first, then the claim: a waiter observing a released claim must
	// never miss a stored result.
	if err := s.client.Set(ctx, s.resultKey(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store settlement result: %w", err)
	}
	if err := s.client.Del(ctx, s.pendingKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to release settlement claim: %w", err)
	}

	s.signalLocal(key, done)
	return nil
}

// Fail releases the claim without storing a result, allowing retries.
func (s *RedisStore) Fail(ctx context.Context, key string, done chan struct{}) error {
	if err := s.client.Del(ctx, s.pendingKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to release settlement claim: %w", err)
	}
	s.signalLocal(key, done)
	return nil
}

func (s *RedisStore) signalLocal(key string, done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if done != nil {
		delete(s.inFlight, key)
		close(done)
	}
}

// Ensure RedisStore implements SettlementStore
var _ SettlementStore = (*RedisStore)(nil)
