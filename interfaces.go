package x402

import (
	"context"

	"github.com/mertkaradayi/stellar-x402/pkg/types"
)

// SchemeNetworkClient is implemented by client-side payment mechanisms.
// A mechanism builds and signs the scheme-specific payload for one
// (scheme, network family) pair.
type SchemeNetworkClient interface {
	Scheme() string
	CreatePaymentPayload(ctx context.Context, requirements types.PaymentRequirements) (*types.PaymentPayload, error)
}

// SchemeNetworkFacilitator is implemented by facilitator-side payment mechanisms.
type SchemeNetworkFacilitator interface {
	Scheme() string

	// GetExtra returns mechanism-specific extra data for the supported kinds
	// endpoint, e.g. fee sponsorship availability and the sponsor address.
	// Return nil when there is nothing to advertise.
	GetExtra(network Network) map[string]interface{}

	Verify(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.VerifyResponse, error)
	Settle(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.SettleResponse, error)
}

// FacilitatorClient is the verify/settle boundary the gate middlewares talk
// to. It is implemented both by the in-process Facilitator registry and by
// pkg/facilitatorclient for remote facilitator services, so a resource server
// can switch between local and hosted settlement without touching handlers.
//
// Payloads and requirements cross this boundary as raw JSON bytes; the
// implementation unmarshals and routes to typed mechanisms.
type FacilitatorClient interface {
	Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*types.VerifyResponse, error)
	Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*types.SettleResponse, error)
	GetSupported(ctx context.Context) (types.SupportedResponse, error)
}
