// Package bazaar implements the facilitator's discovery catalog: a keyed map
// from resource URL to the payment requirements a resource server advertises.
// Resource servers register their gated endpoints; clients list them to find
// payable resources.
//
// Catalogs are keyed by resource URL with newest-wins semantics: registering
// an already-known resource overwrites the entry and refreshes its
// lastUpdated timestamp. Two backends are provided, an in-memory map for
// single-process deployments and a Redis hash for shared ones.
package bazaar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mertkaradayi/stellar-x402/pkg/types"
)

// ResourceTypeHTTP is the only resource type the catalog currently accepts.
const ResourceTypeHTTP = "http"

const (
	// DefaultListLimit is the page size used when a list request names none.
	DefaultListLimit = 20
	// MaxListLimit caps the page size regardless of what the request asks for.
	MaxListLimit = 100
)

// ErrResourceNotFound is returned by Get and Unregister for unknown resources.
var ErrResourceNotFound = errors.New("resource not found in discovery catalog")

// ErrInvalidRegistration wraps schema-validation failures during Register.
var ErrInvalidRegistration = errors.New("invalid discovery registration")

// Catalog stores discovery entries for payment-gated resources.
// Implementations must be safe for concurrent use.
type Catalog interface {
	// Register validates the request and stores the entry, overwriting any
	// existing entry for the same resource URL and refreshing lastUpdated.
	Register(ctx context.Context, request types.DiscoveryRegisterRequest) (*types.DiscoveryResource, error)

	// Unregister removes the entry for the resource URL.
	// Returns ErrResourceNotFound when no entry exists.
	Unregister(ctx context.Context, resource string) error

	// Get returns the entry for the resource URL.
	// Returns ErrResourceNotFound when no entry exists.
	Get(ctx context.Context, resource string) (*types.DiscoveryResource, error)

	// List returns entries sorted by lastUpdated descending, optionally
	// filtered by type, with offset/limit pagination.
	List(ctx context.Context, opts types.ListResourcesOptions) (*types.DiscoveryListResponse, error)
}

// registrationSchema describes a well-formed registration request. Validation
// runs on the JSON form, so it covers entries arriving over HTTP byte-for-byte.
var registrationSchema = gojsonschema.NewStringLoader(`{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["resource", "type", "accepts"],
	"properties": {
		"resource": {"type": "string", "pattern": "^https?://"},
		"type": {"type": "string", "enum": ["http"]},
		"accepts": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["scheme", "network", "maxAmountRequired", "payTo", "asset"],
				"properties": {
					"scheme": {"type": "string", "minLength": 1},
					"network": {"type": "string", "minLength": 1},
					"maxAmountRequired": {"type": "string", "pattern": "^[0-9]+$"},
					"payTo": {"type": "string", "minLength": 1},
					"asset": {"type": "string", "minLength": 1}
				}
			}
		},
		"metadata": {"type": "object"}
	}
}`)

// ValidationResult represents the result of validating a registration request.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// ValidateRegistration validates a registration request against the catalog's
// JSON Schema.
//
// Example:
//
//	result := bazaar.ValidateRegistration(request)
//	if !result.Valid {
//	    fmt.Println("Validation errors:", result.Errors)
//	}
func ValidateRegistration(request types.DiscoveryRegisterRequest) ValidationResult {
	requestJSON, err := json.Marshal(request)
	if err != nil {
		return ValidationResult{
			Valid:  false,
			Errors: []string{fmt.Sprintf("Failed to marshal registration: %v", err)},
		}
	}

	documentLoader := gojsonschema.NewBytesLoader(requestJSON)

	result, err := gojsonschema.Validate(registrationSchema, documentLoader)
	if err != nil {
		return ValidationResult{
			Valid:  false,
			Errors: []string{fmt.Sprintf("Schema validation failed: %v", err)},
		}
	}

	if result.Valid() {
		return ValidationResult{Valid: true}
	}

	var errs []string
	for _, desc := range result.Errors() {
		errs = append(errs, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}

	return ValidationResult{
		Valid:  false,
		Errors: errs,
	}
}

// newEntry builds the stored form of a validated registration.
func newEntry(request types.DiscoveryRegisterRequest) types.DiscoveryResource {
	return types.DiscoveryResource{
		Resource:    request.Resource,
		Type:        request.Type,
		X402Version: types.X402Version,
		Accepts:     request.Accepts,
		LastUpdated: time.Now().UTC().Format(time.RFC3339Nano),
		Metadata:    request.Metadata,
	}
}

// validateForRegister runs schema validation and folds failures into an error.
func validateForRegister(request types.DiscoveryRegisterRequest) error {
	result := ValidateRegistration(request)
	if result.Valid {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidRegistration, strings.Join(result.Errors, "; "))
}

// sortAndPage applies the list contract shared by all backends: filter by
// type, sort by lastUpdated descending (resource URL breaks ties), then page.
func sortAndPage(entries []types.DiscoveryResource, opts types.ListResourcesOptions) *types.DiscoveryListResponse {
	filtered := entries[:0:0]
	for _, entry := range entries {
		if opts.Type != "" && entry.Type != opts.Type {
			continue
		}
		filtered = append(filtered, entry)
	}

	sort.Slice(filtered, func(i, j int) bool {
		ti := parseUpdated(filtered[i].LastUpdated)
		tj := parseUpdated(filtered[j].LastUpdated)
		if ti.Equal(tj) {
			return filtered[i].Resource < filtered[j].Resource
		}
		return ti.After(tj)
	})

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	total := len(filtered)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	items := make([]types.DiscoveryResource, end-offset)
	copy(items, filtered[offset:end])

	return &types.DiscoveryListResponse{
		X402Version: types.X402Version,
		Items:       items,
		Pagination: types.DiscoveryPagination{
			Limit:  limit,
			Offset: offset,
			Total:  total,
		},
	}
}

func parseUpdated(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
