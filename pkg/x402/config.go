package x402

import (
	"encoding/json"

	x402 "github.com/mertkaradayi/stellar-x402"
)

// RouteConfig describes the payment terms for one gated route.
// This is what resource servers configure when setting up payment gating.
type RouteConfig struct {
	// Price is the amount to charge. Decimal strings ("1.5") are whole asset
	// units; integer strings and ints are already in the asset's smallest
	// unit; an x402.AssetAmount pins both asset and amount explicitly.
	Price x402.Price `json:"price"`
	// Asset is what the payment must be made in: empty or "native" for
	// lumens, or the C... contract id of a Soroban token.
	Asset string `json:"asset,omitempty"`
	// AssetDecimals is the decimal count used to scale decimal price strings
	// for contract assets. Defaults to 7 when unset.
	AssetDecimals int `json:"assetDecimals,omitempty"`

	// Optional - display/response customization
	// Description is shown in the 402 response to explain what the resource does
	Description string `json:"description,omitempty"`
	// MimeType is the content type of the protected resource
	MimeType string `json:"mimeType,omitempty"`
	// MaxTimeoutSeconds is how long the signed payment stays acceptable (default: 300)
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds,omitempty"`
	// Resource overrides the advertised resource URL. When empty the gate
	// derives it from the incoming request.
	Resource string `json:"resource,omitempty"`
	// OutputSchema documents the gated endpoint for discovery catalogs
	OutputSchema *json.RawMessage `json:"outputSchema,omitempty"`
	// Extra carries scheme-specific hints into the challenge, e.g. token
	// decimals or the code/issuer pair behind a wrapped contract asset
	Extra map[string]any `json:"extra,omitempty"`
}

// RoutesConfig maps route patterns to their payment terms. Keys are an
// optional verb followed by a path pattern:
//
//	"/weather"                  every method
//	"GET /reports/*"            GET, any path under /reports/
//	"POST /users/[id]/export"   POST, [id] matches one path segment
type RoutesConfig map[string]RouteConfig

// DefaultMaxTimeoutSeconds is the default payment validity window.
// 300 seconds (5 minutes) to cover ledger close times and settlement polling.
const DefaultMaxTimeoutSeconds = 300

// Validate checks if the route config has all required fields.
func (c *RouteConfig) Validate() error {
	if c.Price == nil {
		return ErrMissingPrice
	}
	if c.AssetDecimals < 0 {
		return ErrInvalidAssetDecimals
	}
	return nil
}

// GetMaxTimeoutSeconds returns the configured timeout, applying the default
// when unset.
func (c *RouteConfig) GetMaxTimeoutSeconds() int {
	if c.MaxTimeoutSeconds <= 0 {
		return DefaultMaxTimeoutSeconds
	}
	return c.MaxTimeoutSeconds
}
