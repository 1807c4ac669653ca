package bazaar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mertkaradayi/stellar-x402/pkg/types"
)

// RedisCatalog provides a Redis-backed Catalog for facilitator deployments
// with more than one instance.
//
// Entries are stored as JSON fields of a single hash so the catalog can share
// a Redis client with the settlement replay store while keeping its own
// namespace.
type RedisCatalog struct {
	client *redis.Client
	key    string
}

// NewRedisCatalog creates a catalog on an existing Redis client. An empty
// key defaults to "x402:discovery".
func NewRedisCatalog(client *redis.Client, key string) *RedisCatalog {
	if key == "" {
		key = "x402:discovery"
	}
	return &RedisCatalog{
		client: client,
		key:    key,
	}
}

// Register validates and stores the entry, overwriting on key collision.
func (c *RedisCatalog) Register(ctx context.Context, request types.DiscoveryRegisterRequest) (*types.DiscoveryResource, error) {
	if err := validateForRegister(request); err != nil {
		return nil, err
	}

	entry := newEntry(request)
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to encode discovery entry: %w", err)
	}

	if err := c.client.HSet(ctx, c.key, entry.Resource, data).Err(); err != nil {
		return nil, fmt.Errorf("failed to store discovery entry: %w", err)
	}
	return &entry, nil
}

// Unregister removes the entry for the resource URL.
func (c *RedisCatalog) Unregister(ctx context.Context, resource string) error {
	removed, err := c.client.HDel(ctx, c.key, resource).Result()
	if err != nil {
		return fmt.Errorf("failed to remove discovery entry: %w", err)
	}
	if removed == 0 {
		return ErrResourceNotFound
	}
	return nil
}

// Get returns the entry for the resource URL.
func (c *RedisCatalog) Get(ctx context.Context, resource string) (*types.DiscoveryResource, error) {
	data, err := c.client.HGet(ctx, c.key, resource).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrResourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read discovery entry: %w", err)
	}

	var entry types.DiscoveryResource
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode discovery entry: %w", err)
	}
	return &entry, nil
}

// List loads every entry and applies the shared filter/pagination rules.
// Catalogs are small (one entry per gated endpoint), so HGetAll is fine.
func (c *RedisCatalog) List(ctx context.Context, opts types.ListResourcesOptions) (*types.DiscoveryListResponse, error) {
	fields, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list discovery entries: %w", err)
	}

	entries := make([]types.DiscoveryResource, 0, len(fields))
	for _, data := range fields {
		var entry types.DiscoveryResource
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode discovery entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return sortAndPage(entries, opts), nil
}

// Ensure RedisCatalog implements Catalog
var _ Catalog = (*RedisCatalog)(nil)
