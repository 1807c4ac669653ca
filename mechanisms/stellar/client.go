package stellar

import (
	"context"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/stellar/go/amount"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"
	"github.com/stellar/stellar-rpc/protocol"

	x402 "github.com/mertkaradayi/stellar-x402"
	"github.com/mertkaradayi/stellar-x402/pkg/types"
)

// ledgerCloseSeconds is the nominal ledger close time used to convert a
// timeout in seconds into a ledger-sequence window.
const ledgerCloseSeconds = 5

// ExactStellarClient implements the SchemeNetworkClient interface for Stellar
// exact payments. It builds and signs a payment transaction against the live
// ledger state of the payer's account.
type ExactStellarClient struct {
	signer  ClientStellarSigner
	horizon map[string]HorizonClient
	soroban map[string]SorobanClient
}

// ClientOption configures an ExactStellarClient.
type ClientOption func(*ExactStellarClient)

// WithClientHorizon overrides the Horizon client used for a network.
func WithClientHorizon(networkID string, hc HorizonClient) ClientOption {
	return func(c *ExactStellarClient) {
		c.horizon[networkID] = hc
	}
}

// WithClientSoroban overrides the Soroban RPC client used for a network.
func WithClientSoroban(networkID string, sc SorobanClient) ClientOption {
	return func(c *ExactStellarClient) {
		c.soroban[networkID] = sc
	}
}

// NewExactStellarClient creates a new ExactStellarClient
func NewExactStellarClient(signer ClientStellarSigner, opts ...ClientOption) *ExactStellarClient {
	c := &ExactStellarClient{
		signer:  signer,
		horizon: make(map[string]HorizonClient),
		soroban: make(map[string]SorobanClient),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ x402.SchemeNetworkClient = (*ExactStellarClient)(nil)

// Scheme returns the scheme identifier
func (c *ExactStellarClient) Scheme() string {
	return SchemeExact
}

// CreatePaymentPayload builds, signs, and wraps a payment satisfying the
// given requirements. Native payments become a classic payment operation;
// contract assets become a simulated and assembled transfer invocation.
func (c *ExactStellarClient) CreatePaymentPayload(
	ctx context.Context,
	requirements types.PaymentRequirements,
) (*types.PaymentPayload, error) {
	config, err := GetNetworkConfig(requirements.Network)
	if err != nil {
		return nil, err
	}

	required, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok || required.Sign() <= 0 {
		return nil, fmt.Errorf("invalid required amount: %s", requirements.MaxAmountRequired)
	}

	source := c.signer.PublicKey()
	account, err := c.horizonFor(config).AccountDetail(horizonclient.AccountRequest{AccountID: source})
	if err != nil {
		return nil, fmt.Errorf("failed to load source account %s: %w", source, err)
	}

	soroban := c.sorobanFor(config)
	latest, err := soroban.GetLatestLedger(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest ledger: %w", err)
	}

	timeout := requirements.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = DefaultMaxTimeoutSeconds
	}
	validUntil := latest.Sequence + ledgersForTimeout(timeout)

	// The sequence is consumed here and reused for the post-simulation
	// rebuild on the contract path, so it is pre-incremented once.
	sourceAccount := &txnbuild.SimpleAccount{
		AccountID: account.AccountID,
		Sequence:  account.Sequence + 1,
	}

	var tx *txnbuild.Transaction
	if requirements.Asset == AssetNative {
		tx, err = buildNativePayment(sourceAccount, requirements.PayTo, required, timeout, validUntil)
	} else {
		tx, err = buildContractTransfer(ctx, soroban, sourceAccount, requirements.Asset, requirements.PayTo, required, timeout, validUntil)
	}
	if err != nil {
		return nil, err
	}

	signed, err := c.signer.SignTransaction(ctx, tx, config.NetworkPassphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	signedXDR, err := signed.Base64()
	if err != nil {
		return nil, fmt.Errorf("failed to encode signed transaction: %w", err)
	}

	stellarPayload := &ExactStellarPayload{
		SignedTxXDR:      signedXDR,
		SourceAccount:    source,
		Amount:           required.String(),
		Destination:      requirements.PayTo,
		Asset:            requirements.Asset,
		ValidUntilLedger: validUntil,
		Nonce:            uuid.NewString(),
	}

	return &types.PaymentPayload{
		X402Version: types.X402Version,
		Scheme:      SchemeExact,
		Network:     requirements.Network,
		Payload:     stellarPayload.ToMap(),
	}, nil
}

func (c *ExactStellarClient) horizonFor(config NetworkConfig) HorizonClient {
	if hc, ok := c.horizon[config.Network]; ok {
		return hc
	}
	return NewHorizonClient(config)
}

func (c *ExactStellarClient) sorobanFor(config NetworkConfig) SorobanClient {
	if sc, ok := c.soroban[config.Network]; ok {
		return sc
	}
	return NewSorobanClient(config)
}

// ledgersForTimeout converts a timeout in seconds into a ledger count,
// rounding up so the window never undershoots the requested validity.
func ledgersForTimeout(timeoutSeconds int) uint32 {
	return uint32((timeoutSeconds + ledgerCloseSeconds - 1) / ledgerCloseSeconds)
}

func paymentPreconditions(timeoutSeconds int, validUntil uint32) txnbuild.Preconditions {
	return txnbuild.Preconditions{
		TimeBounds:   txnbuild.NewTimeout(int64(timeoutSeconds)),
		LedgerBounds: &txnbuild.LedgerBounds{MinLedger: 0, MaxLedger: validUntil},
	}
}

func buildNativePayment(
	source *txnbuild.SimpleAccount,
	destination string,
	stroops *big.Int,
	timeoutSeconds int,
	validUntil uint32,
) (*txnbuild.Transaction, error) {
	if !stroops.IsInt64() {
		return nil, fmt.Errorf("amount exceeds native asset range: %s", stroops)
	}

	op := &txnbuild.Payment{
		Destination: destination,
		Amount:      amount.StringFromInt64(stroops.Int64()),
		Asset:       txnbuild.NativeAsset{},
	}

	return txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        source,
		IncrementSequenceNum: false,
		Operations:           []txnbuild.Operation{op},
		BaseFee:              txnbuild.MinBaseFee,
		Preconditions:        paymentPreconditions(timeoutSeconds, validUntil),
	})
}

// buildContractTransfer assembles a token transfer invocation: build the
// bare invocation, simulate it to obtain resource footprint + authorization
// entries, then rebuild with those attached and the resource fee included.
func buildContractTransfer(
	ctx context.Context,
	soroban SorobanClient,
	source *txnbuild.SimpleAccount,
	contractID string,
	destination string,
	units *big.Int,
	timeoutSeconds int,
	validUntil uint32,
) (*txnbuild.Transaction, error) {
	op, err := buildTransferInvocation(contractID, source.AccountID, destination, units)
	if err != nil {
		return nil, err
	}

	params := txnbuild.TransactionParams{
		SourceAccount:        source,
		IncrementSequenceNum: false,
		Operations:           []txnbuild.Operation{op},
		BaseFee:              txnbuild.MinBaseFee,
		Preconditions:        paymentPreconditions(timeoutSeconds, validUntil),
	}
	tx, err := txnbuild.NewTransaction(params)
	if err != nil {
		return nil, err
	}

	b64, err := tx.Base64()
	if err != nil {
		return nil, err
	}

	sim, err := soroban.SimulateTransaction(ctx, protocol.SimulateTransactionRequest{Transaction: b64})
	if err != nil {
		return nil, fmt.Errorf("failed to simulate contract transfer: %w", err)
	}
	if sim.Error != "" {
		return nil, fmt.Errorf("contract transfer simulation failed: %s", sim.Error)
	}

	var sorobanData xdr.SorobanTransactionData
	if err := xdr.SafeUnmarshalBase64(sim.TransactionDataXDR, &sorobanData); err != nil {
		return nil, fmt.Errorf("failed to decode simulated transaction data: %w", err)
	}
	op.Ext = xdr.TransactionExt{V: 1, SorobanData: &sorobanData}

	if len(sim.Results) > 0 && sim.Results[0].AuthXDR != nil {
		for _, authB64 := range *sim.Results[0].AuthXDR {
			var entry xdr.SorobanAuthorizationEntry
			if err := xdr.SafeUnmarshalBase64(authB64, &entry); err != nil {
				return nil, fmt.Errorf("failed to decode authorization entry: %w", err)
			}
			op.Auth = append(op.Auth, entry)
		}
	}

	params.BaseFee = txnbuild.MinBaseFee + sim.MinResourceFee
	return txnbuild.NewTransaction(params)
}
