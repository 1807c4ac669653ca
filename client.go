package x402

import (
	"context"
	"fmt"
	"sync"

	"github.com/mertkaradayi/stellar-x402/pkg/types"
)

// X402Client manages payment mechanisms and creates payment payloads.
// This is used by applications that need to make payments (have wallets/signers).
type X402Client struct {
	mu sync.RWMutex

	// network -> scheme -> client implementation
	schemes map[Network]map[string]SchemeNetworkClient

	// Function to select payment requirements when multiple options exist
	requirementsSelector PaymentRequirementsSelector
}

// PaymentRequirementsSelector chooses which payment option to use
type PaymentRequirementsSelector func(requirements []types.PaymentRequirements) types.PaymentRequirements

// ClientOption configures the client
type ClientOption func(*X402Client)

// WithPaymentSelector sets a custom payment requirements selector
func WithPaymentSelector(selector PaymentRequirementsSelector) ClientOption {
	return func(c *X402Client) {
		c.requirementsSelector = selector
	}
}

// WithScheme registers a payment mechanism at creation time
func WithScheme(network Network, client SchemeNetworkClient) ClientOption {
	return func(c *X402Client) {
		c.RegisterScheme(network, client)
	}
}

// NewX402Client creates a new x402 client
func NewX402Client(opts ...ClientOption) *X402Client {
	c := &X402Client{
		schemes:              make(map[Network]map[string]SchemeNetworkClient),
		requirementsSelector: defaultPaymentSelector,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// defaultPaymentSelector chooses the first available payment option
func defaultPaymentSelector(requirements []types.PaymentRequirements) types.PaymentRequirements {
	if len(requirements) == 0 {
		panic("no payment requirements available")
	}
	return requirements[0]
}

// RegisterScheme registers a payment mechanism for a network
func (c *X402Client) RegisterScheme(network Network, client SchemeNetworkClient) *X402Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.schemes[network] == nil {
		c.schemes[network] = make(map[string]SchemeNetworkClient)
	}
	c.schemes[network][client.Scheme()] = client

	return c
}

// SelectPaymentRequirements chooses which payment requirements to use.
// This filters requirements to only those the client can fulfill.
func (c *X402Client) SelectPaymentRequirements(requirements []types.PaymentRequirements) (types.PaymentRequirements, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var supported []types.PaymentRequirements
	for _, req := range requirements {
		schemeMap := findSchemesByNetwork(c.schemes, Network(req.Network))
		if schemeMap != nil {
			if _, hasScheme := schemeMap[req.Scheme]; hasScheme {
				supported = append(supported, req)
			}
		}
	}

	if len(supported) == 0 {
		return types.PaymentRequirements{}, &PaymentError{
			Code:    ErrCodeUnsupportedScheme,
			Message: "no supported payment schemes available",
			Details: map[string]interface{}{
				"requirements": requirements,
			},
		}
	}

	// Use selector to choose from supported options
	return c.requirementsSelector(supported), nil
}

// CreatePaymentPayload creates a signed payment payload for the given requirements
func (c *X402Client) CreatePaymentPayload(ctx context.Context, requirements types.PaymentRequirements) (*types.PaymentPayload, error) {
	if err := types.ValidatePaymentRequirements(&requirements); err != nil {
		return nil, fmt.Errorf("invalid payment requirements: %w", err)
	}

	c.mu.RLock()
	client := findByNetworkAndScheme(c.schemes, requirements.Scheme, Network(requirements.Network))
	c.mu.RUnlock()

	if client == nil {
		return nil, &PaymentError{
			Code:    ErrCodeUnsupportedScheme,
			Message: fmt.Sprintf("no client registered for scheme %s on network %s", requirements.Scheme, requirements.Network),
		}
	}

	payload, err := client.CreatePaymentPayload(ctx, requirements)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment payload: %w", err)
	}
	if payload == nil || payload.Payload == nil {
		return nil, &PaymentError{
			Code:    ErrCodeInvalidPayload,
			Message: "mechanism returned an empty payment payload",
		}
	}
	if payload.X402Version != ProtocolVersion {
		return nil, &PaymentError{
			Code:    ErrCodeInvalidX402Version,
			Message: fmt.Sprintf("mechanism returned x402 version %d", payload.X402Version),
		}
	}

	return payload, nil
}

// CreatePaymentHeader creates a payment payload and encodes it into the
// X-Payment header value.
func (c *X402Client) CreatePaymentHeader(ctx context.Context, requirements types.PaymentRequirements) (string, error) {
	payload, err := c.CreatePaymentPayload(ctx, requirements)
	if err != nil {
		return "", err
	}
	return payload.EncodeToBase64String()
}

// CanPay checks if the client can pay with any of the given requirements
func (c *X402Client) CanPay(requirements []types.PaymentRequirements) bool {
	_, err := c.SelectPaymentRequirements(requirements)
	return err == nil
}

// CreatePaymentForRequired creates a payment for a 402 Payment Required response
func (c *X402Client) CreatePaymentForRequired(ctx context.Context, required types.PaymentRequiredResponse) (*types.PaymentPayload, error) {
	selected, err := c.SelectPaymentRequirements(required.Accepts)
	if err != nil {
		return nil, err
	}

	return c.CreatePaymentPayload(ctx, selected)
}
