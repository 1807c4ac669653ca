package bazaar

import (
	"context"
	"sync"

	"github.com/mertkaradayi/stellar-x402/pkg/types"
)

// MemoryCatalog provides an in-memory Catalog for single-process facilitators
// and tests.
type MemoryCatalog struct {
	mu      sync.RWMutex
	entries map[string]types.DiscoveryResource
}

// NewMemoryCatalog creates an empty in-memory catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		entries: make(map[string]types.DiscoveryResource),
	}
}

// Register validates and stores the entry, overwriting on key collision.
func (c *MemoryCatalog) Register(_ context.Context, request types.DiscoveryRegisterRequest) (*types.DiscoveryResource, error) {
	if err := validateForRegister(request); err != nil {
		return nil, err
	}

	entry := newEntry(request)

	c.mu.Lock()
	c.entries[entry.Resource] = entry
	c.mu.Unlock()

	return &entry, nil
}

// Unregister removes the entry for the resource URL.
func (c *MemoryCatalog) Unregister(_ context.Context, resource string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[resource]; !ok {
		return ErrResourceNotFound
	}
	delete(c.entries, resource)
	return nil
}

// Get returns the entry for the resource URL.
func (c *MemoryCatalog) Get(_ context.Context, resource string) (*types.DiscoveryResource, error) {
	c.mu.RLock()
	entry, ok := c.entries[resource]
	c.mu.RUnlock()

	if !ok {
		return nil, ErrResourceNotFound
	}
	return &entry, nil
}

// List returns entries newest first with the shared filter/pagination rules.
func (c *MemoryCatalog) List(_ context.Context, opts types.ListResourcesOptions) (*types.DiscoveryListResponse, error) {
	c.mu.RLock()
	entries := make([]types.DiscoveryResource, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	c.mu.RUnlock()

	return sortAndPage(entries, opts), nil
}

// Ensure MemoryCatalog implements Catalog
var _ Catalog = (*MemoryCatalog)(nil)
