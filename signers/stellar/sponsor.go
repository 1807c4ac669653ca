package stellar

import (
	"context"
	"fmt"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"

	x402stellar "github.com/mertkaradayi/stellar-x402/mechanisms/stellar"
)

// FeeSponsor implements x402stellar.FacilitatorStellarSigner using a local
// keypair. Facilitators use it to wrap classic payments in fee-bump envelopes
// so payers spend nothing on fees.
type FeeSponsor struct {
	kp *keypair.Full
}

var _ x402stellar.FacilitatorStellarSigner = (*FeeSponsor)(nil)

// NewFeeSponsor creates a fee sponsor from a raw secret seed (S...). The
// account must hold enough XLM to cover the bumped fees it signs for.
func NewFeeSponsor(seed string) (*FeeSponsor, error) {
	kp, err := keypair.ParseFull(seed)
	if err != nil {
		return nil, fmt.Errorf("invalid sponsor seed: %w", err)
	}
	return &FeeSponsor{kp: kp}, nil
}

// PublicKey returns the sponsor's account ID.
func (s *FeeSponsor) PublicKey() string {
	return s.kp.Address()
}

// SignFeeBump signs the fee-bump envelope. The inner transaction's bytes and
// signatures are left untouched.
func (s *FeeSponsor) SignFeeBump(_ context.Context, tx *txnbuild.FeeBumpTransaction, networkPassphrase string) (*txnbuild.FeeBumpTransaction, error) {
	return tx.Sign(networkPassphrase, s.kp)
}
