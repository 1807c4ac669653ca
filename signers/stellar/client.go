package stellar

import (
	"context"
	"errors"
	"fmt"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/txnbuild"

	x402stellar "github.com/mertkaradayi/stellar-x402/mechanisms/stellar"
)

// ErrSigningCancelled is returned by interactive signers when the user
// declines the transaction. Callers can distinguish it from transport
// failures with errors.Is.
var ErrSigningCancelled = errors.New("transaction signing cancelled")

// SignTransactionFunc defines the callback used to sign Stellar transactions.
// Implementations must return a new signed transaction and leave the input
// untouched.
type SignTransactionFunc func(ctx context.Context, tx *txnbuild.Transaction, networkPassphrase string) (*txnbuild.Transaction, error)

// ClientSigner implements x402stellar.ClientStellarSigner using a signing
// callback. This provides client-side transaction signing for creating
// payment payloads.
type ClientSigner struct {
	publicKey       string
	signTransaction SignTransactionFunc
}

var _ x402stellar.ClientStellarSigner = (*ClientSigner)(nil)

// NewClientSigner creates a client signer from a public key and signing callback.
func NewClientSigner(publicKey string, signFunc SignTransactionFunc) (x402stellar.ClientStellarSigner, error) {
	if !strkey.IsValidEd25519PublicKey(publicKey) {
		return nil, fmt.Errorf("invalid public key: %s", publicKey)
	}
	if signFunc == nil {
		return nil, fmt.Errorf("sign callback is required")
	}

	return &ClientSigner{
		publicKey:       publicKey,
		signTransaction: signFunc,
	}, nil
}

// NewLocalSigner creates a client signer from a raw secret seed (S...).
//
// Example:
//
//	signer, err := stellar.NewLocalSigner("SB3K...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := x402.NewX402Client()
//	x402stellar.RegisterClient(client, signer)
func NewLocalSigner(seed string) (x402stellar.ClientStellarSigner, error) {
	kp, err := keypair.ParseFull(seed)
	if err != nil {
		return nil, fmt.Errorf("invalid secret seed: %w", err)
	}

	signFunc := func(_ context.Context, tx *txnbuild.Transaction, networkPassphrase string) (*txnbuild.Transaction, error) {
		return tx.Sign(networkPassphrase, kp)
	}

	return NewClientSigner(kp.Address(), signFunc)
}

// PublicKey returns the signer's account ID.
func (s *ClientSigner) PublicKey() string {
	return s.publicKey
}

// SignTransaction signs the transaction via the configured callback.
func (s *ClientSigner) SignTransaction(ctx context.Context, tx *txnbuild.Transaction, networkPassphrase string) (*txnbuild.Transaction, error) {
	return s.signTransaction(ctx, tx, networkPassphrase)
}

// RequestSignatureFunc forwards an unsigned transaction envelope to a wallet
// for user approval and returns the signed envelope. Implementations return
// ErrSigningCancelled when the user declines, and honor ctx while waiting.
type RequestSignatureFunc func(ctx context.Context, unsignedXDR string, networkPassphrase string) (string, error)

// WalletSigner implements x402stellar.ClientStellarSigner against an
// interactive wallet that holds the key and approves each transaction.
type WalletSigner struct {
	publicKey string
	request   RequestSignatureFunc
}

var _ x402stellar.ClientStellarSigner = (*WalletSigner)(nil)

// NewWalletSigner creates a signer that defers to a wallet for approval and
// signing. publicKey is the account the wallet signs for.
func NewWalletSigner(publicKey string, request RequestSignatureFunc) (x402stellar.ClientStellarSigner, error) {
	if !strkey.IsValidEd25519PublicKey(publicKey) {
		return nil, fmt.Errorf("invalid public key: %s", publicKey)
	}
	if request == nil {
		return nil, fmt.Errorf("signature request callback is required")
	}

	return &WalletSigner{
		publicKey: publicKey,
		request:   request,
	}, nil
}

// PublicKey returns the wallet's account ID.
func (s *WalletSigner) PublicKey() string {
	return s.publicKey
}

// SignTransaction round-trips the envelope through the wallet and decodes
// the signed result.
func (s *WalletSigner) SignTransaction(ctx context.Context, tx *txnbuild.Transaction, networkPassphrase string) (*txnbuild.Transaction, error) {
	unsigned, err := tx.Base64()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction for wallet: %w", err)
	}

	signedXDR, err := s.request(ctx, unsigned, networkPassphrase)
	if err != nil {
		return nil, err
	}

	generic, err := txnbuild.TransactionFromXDR(signedXDR)
	if err != nil {
		return nil, fmt.Errorf("wallet returned malformed envelope: %w", err)
	}
	signed, ok := generic.Transaction()
	if !ok {
		return nil, fmt.Errorf("wallet returned a fee-bump envelope")
	}
	return signed, nil
}
