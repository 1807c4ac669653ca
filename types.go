// Package x402 implements the x402 payment protocol for Stellar networks.
//
// The package provides the client and facilitator orchestration layers of the
// protocol: scheme/network registries, payment selection, and the byte-level
// verify/settle boundary used by HTTP facilitator services. Wire types live in
// pkg/types; the Stellar "exact" mechanism lives in mechanisms/stellar.
package x402

import (
	"encoding/json"
	"strings"
)

// ProtocolVersion is the x402 protocol version this SDK implements.
const ProtocolVersion = 1

// Network identifies a ledger network (e.g. "stellar", "stellar-testnet").
type Network string

// Match checks if this network matches a pattern. The pattern "*" matches
// every network; otherwise matching is exact. Matching is bidirectional so
// registries can look up either concrete tags or wildcard registrations.
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}
	if string(pattern) == "*" || string(n) == "*" {
		return true
	}
	// Prefix wildcard, e.g. "stellar*" matches "stellar-testnet"
	if strings.HasSuffix(string(pattern), "*") {
		return strings.HasPrefix(string(n), strings.TrimSuffix(string(pattern), "*"))
	}
	if strings.HasSuffix(string(n), "*") {
		return strings.HasPrefix(string(pattern), strings.TrimSuffix(string(n), "*"))
	}
	return false
}

// Price represents a price that can be specified in various formats:
// a decimal string in whole asset units, an integer already denominated in
// the asset's smallest unit, or an AssetAmount for contract assets.
type Price interface{}

// AssetAmount represents an amount of a specific asset
type AssetAmount struct {
	Asset  string                 `json:"asset"`
	Amount string                 `json:"amount"`
	Extra  map[string]interface{} `json:"extra,omitempty"`
}

// DeepEqual performs deep equality check on payment requirements
func DeepEqual(a, b interface{}) bool {
	// Normalize to JSON and compare
	aJSON, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bJSON, err := json.Marshal(b)
	if err != nil {
		return false
	}

	var aNorm, bNorm interface{}
	if err := json.Unmarshal(aJSON, &aNorm); err != nil {
		return false
	}
	if err := json.Unmarshal(bJSON, &bNorm); err != nil {
		return false
	}

	aNormJSON, _ := json.Marshal(aNorm)
	bNormJSON, _ := json.Marshal(bNorm)

	return string(aNormJSON) == string(bNormJSON)
}
