package types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// X402Version is the protocol version every wire structure in this package speaks.
const X402Version = 1

// PaymentRequirements describes one way a caller can pay for a resource.
// It is the element type of the `accepts` array in a 402 challenge.
type PaymentRequirements struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Resource          string `json:"resource"`
	Description       string `json:"description"`
	MimeType          string `json:"mimeType,omitempty"`
	PayTo             string `json:"payTo"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds,omitempty"`

	// Asset is "native" for lumens or a C... contract id for a Soroban token.
	Asset string `json:"asset"`

	// OutputSchema optionally documents the gated endpoint's input/output
	// for discovery catalogs.
	OutputSchema *json.RawMessage `json:"outputSchema,omitempty"`

	// Extra carries scheme/network specific hints, e.g. token decimals or
	// the classic code/issuer pair behind a wrapped contract asset.
	Extra map[string]any `json:"extra,omitempty"`
}

// PaymentPayload is the decoded X-Payment header value.
// The Payload field stays generic at the wire boundary; mechanisms bridge it
// to their typed payload shapes.
type PaymentPayload struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Payload     map[string]any `json:"payload"`
}

// PaymentRequiredResponse is the JSON body of a 402 challenge.
type PaymentRequiredResponse struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// VerifyResponse represents the response from the verify endpoint
type VerifyResponse struct {
	IsValid       bool    `json:"isValid"`
	InvalidReason *string `json:"invalidReason,omitempty"`
	Payer         *string `json:"payer,omitempty"`
}

// SettleResponse represents the response from the settle endpoint.
// On success Transaction carries the hash of the transaction that moved the
// funds (for fee-bumped settlements, the inner transaction's hash).
type SettleResponse struct {
	Success     bool    `json:"success"`
	ErrorReason *string `json:"errorReason,omitempty"`
	Transaction string  `json:"transaction"`
	Network     string  `json:"network"`
	Payer       *string `json:"payer,omitempty"`
}

// PaymentResponseHeader is the shape carried in X-Payment-Response on a paid 2xx.
type PaymentResponseHeader struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer,omitempty"`
}

// EncodeToBase64String encodes the payload for the X-Payment request header.
func (p *PaymentPayload) EncodeToBase64String() (string, error) {
	jsonBytes, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode payment payload: %w", err)
	}

	return base64.StdEncoding.EncodeToString(jsonBytes), nil
}

// EncodeToBase64String encodes the settle response for the X-Payment-Response header.
func (s *SettleResponse) EncodeToBase64String() (string, error) {
	jsonBytes, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to base64 encode the settle response: %w", err)
	}

	return base64.StdEncoding.EncodeToString(jsonBytes), nil
}

// EncodeToBase64String encodes the response header shape.
func (h *PaymentResponseHeader) EncodeToBase64String() (string, error) {
	jsonBytes, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("failed to base64 encode the payment response: %w", err)
	}

	return base64.StdEncoding.EncodeToString(jsonBytes), nil
}

// DecodePaymentPayloadFromBase64 decodes a base64 encoded string into a PaymentPayload
func DecodePaymentPayloadFromBase64(encoded string) (*PaymentPayload, error) {
	decodedBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 string: %w", err)
	}

	var payload PaymentPayload
	if err := json.Unmarshal(decodedBytes, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment payload: %w", err)
	}

	return &payload, nil
}

// ToPaymentPayload unmarshals raw JSON bytes into a PaymentPayload.
func ToPaymentPayload(data []byte) (*PaymentPayload, error) {
	var payload PaymentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment payload: %w", err)
	}
	return &payload, nil
}

// ToPaymentRequirements unmarshals raw JSON bytes into PaymentRequirements.
func ToPaymentRequirements(data []byte) (*PaymentRequirements, error) {
	var requirements PaymentRequirements
	if err := json.Unmarshal(data, &requirements); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment requirements: %w", err)
	}
	return &requirements, nil
}

// ToPaymentRequiredResponse unmarshals a 402 response body.
func ToPaymentRequiredResponse(data []byte) (*PaymentRequiredResponse, error) {
	var required PaymentRequiredResponse
	if err := json.Unmarshal(data, &required); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment required response: %w", err)
	}
	return &required, nil
}

// ValidatePaymentRequirements checks the wire-level invariants every
// challenge entry must satisfy regardless of scheme.
func ValidatePaymentRequirements(requirements *PaymentRequirements) error {
	if requirements == nil {
		return fmt.Errorf("payment requirements are required")
	}
	if requirements.Scheme == "" {
		return fmt.Errorf("scheme is required")
	}
	if requirements.Network == "" {
		return fmt.Errorf("network is required")
	}
	if requirements.PayTo == "" {
		return fmt.Errorf("payTo is required")
	}
	if requirements.Asset == "" {
		return fmt.Errorf("asset is required")
	}
	required, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok || required.Sign() <= 0 {
		return fmt.Errorf("maxAmountRequired must be a positive integer, got %q", requirements.MaxAmountRequired)
	}
	return nil
}

// DecodePaymentResponseFromBase64 decodes the X-Payment-Response header value.
func DecodePaymentResponseFromBase64(encoded string) (*PaymentResponseHeader, error) {
	decodedBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 string: %w", err)
	}

	var header PaymentResponseHeader
	if err := json.Unmarshal(decodedBytes, &header); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment response: %w", err)
	}

	return &header, nil
}

// FacilitatorConfig represents configuration for the facilitator service
type FacilitatorConfig struct {
	URL               string
	Timeout           func() time.Duration
	CreateAuthHeaders func() (map[string]map[string]string, error)
}

// =============================================================================
// Verify/Settle Request Types
// =============================================================================

// VerifyRequest represents the request body for Facilitator /verify endpoint.
type VerifyRequest struct {
	X402Version         int                  `json:"x402Version"`
	PaymentPayload      *PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements *PaymentRequirements `json:"paymentRequirements"`
}

// SettleRequest represents the request body for Facilitator /settle endpoint.
type SettleRequest struct {
	X402Version         int                  `json:"x402Version"`
	PaymentPayload      *PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements *PaymentRequirements `json:"paymentRequirements"`
}

// =============================================================================
// Facilitator Supported Types
// =============================================================================

// SupportedKind represents a supported scheme-network pair from /supported endpoint.
type SupportedKind struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// SupportedResponse represents the response from Facilitator /supported endpoint.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}
