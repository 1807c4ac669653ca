// Package stellar implements the x402 "exact" payment scheme for Stellar
// networks. Native payments use a classic payment operation; contract assets
// (Soroban tokens) use an invocation of the token's transfer function.
package stellar

import (
	"context"

	"github.com/stellar/go/txnbuild"

	x402 "github.com/mertkaradayi/stellar-x402"
)

// SchemeExact is the payment scheme implemented by this package.
const SchemeExact = "exact"

// DefaultMaxTimeoutSeconds bounds payment validity and every network wait
// when the requirements don't carry their own timeout.
const DefaultMaxTimeoutSeconds = 300

// ClientStellarSigner signs payment transactions on behalf of the paying
// account. Implementations may sign locally (raw seed) or defer to an
// interactive wallet; interactive implementations should return an error
// satisfying errors.Is(err, signers.ErrSigningCancelled) when the user
// declines.
type ClientStellarSigner interface {
	// PublicKey returns the signer's account ID (G... strkey).
	PublicKey() string

	// SignTransaction signs the transaction for the given network passphrase
	// and returns the signed transaction. The input must not be mutated.
	SignTransaction(ctx context.Context, tx *txnbuild.Transaction, networkPassphrase string) (*txnbuild.Transaction, error)
}

// FacilitatorStellarSigner provides fee-bump sponsorship at settlement time.
// The sponsor account pays the fee for the inner transaction without altering
// its bytes.
type FacilitatorStellarSigner interface {
	// PublicKey returns the sponsor's account ID (G... strkey).
	PublicKey() string

	// SignFeeBump signs a fee-bump envelope wrapping a client transaction.
	SignFeeBump(ctx context.Context, tx *txnbuild.FeeBumpTransaction, networkPassphrase string) (*txnbuild.FeeBumpTransaction, error)
}

// Register registers the Stellar mechanism implementations with the x402
// client and/or facilitator, depending on which signer capabilities are given.
func Register(
	client *x402.X402Client,
	facilitator *x402.X402Facilitator,
	signer interface{},
	networks []string,
	opts ...FacilitatorOption,
) error {
	var clientSigner ClientStellarSigner
	var facilitatorSigner FacilitatorStellarSigner

	if s, ok := signer.(ClientStellarSigner); ok {
		clientSigner = s
	}
	if s, ok := signer.(FacilitatorStellarSigner); ok {
		facilitatorSigner = s
	}

	if len(networks) == 0 {
		networks = SupportedNetworks()
	}

	if client != nil && clientSigner != nil {
		stellarClient := NewExactStellarClient(clientSigner)
		for _, network := range networks {
			if IsValidNetwork(network) {
				client.RegisterScheme(x402.Network(network), stellarClient)
			}
		}
	}

	if facilitator != nil {
		if facilitatorSigner != nil {
			opts = append(opts, WithFeeSponsor(facilitatorSigner))
		}
		stellarFacilitator, err := NewExactStellarFacilitator(opts...)
		if err != nil {
			return err
		}
		for _, network := range networks {
			if IsValidNetwork(network) {
				facilitator.Register(x402.Network(network), stellarFacilitator)
			}
		}
	}

	return nil
}

// RegisterClient registers the Stellar client implementation
func RegisterClient(client *x402.X402Client, signer ClientStellarSigner, networks ...string) error {
	return Register(client, nil, signer, networks)
}

// RegisterFacilitator registers the Stellar facilitator implementation
func RegisterFacilitator(facilitator *x402.X402Facilitator, networks []string, opts ...FacilitatorOption) error {
	return Register(nil, facilitator, nil, networks, opts...)
}
