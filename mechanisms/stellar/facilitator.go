package stellar

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/stellar/go/amount"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"
	"github.com/stellar/stellar-rpc/protocol"

	x402 "github.com/mertkaradayi/stellar-x402"
	"github.com/mertkaradayi/stellar-x402/extensions/idempotency"
	"github.com/mertkaradayi/stellar-x402/pkg/types"
)

const (
	// confirmationPollInterval is the cadence for polling a submitted
	// contract transaction until the network reports its fate.
	confirmationPollInterval = time.Second

	// replayRecordTTL bounds the default in-memory replay store. Records
	// must outlive any plausible transaction validity window.
	replayRecordTTL = time.Hour
)

// ExactStellarFacilitator implements the SchemeNetworkFacilitator interface
// for Stellar exact payments: verification against live ledger state and
// settlement with replay protection keyed by network:transaction-hash.
type ExactStellarFacilitator struct {
	store   idempotency.SettlementStore
	sponsor FacilitatorStellarSigner
	logger  *slog.Logger
	horizon map[string]HorizonClient
	soroban map[string]SorobanClient
	configs map[string]NetworkConfig
}

// FacilitatorOption configures an ExactStellarFacilitator.
type FacilitatorOption func(*ExactStellarFacilitator)

// WithFeeSponsor configures fee-bump sponsorship for native settlements.
func WithFeeSponsor(sponsor FacilitatorStellarSigner) FacilitatorOption {
	return func(f *ExactStellarFacilitator) {
		f.sponsor = sponsor
	}
}

// WithReplayStore overrides the replay store (in-memory by default).
func WithReplayStore(store idempotency.SettlementStore) FacilitatorOption {
	return func(f *ExactStellarFacilitator) {
		f.store = store
	}
}

// WithLogger overrides the logger used for ledger and store failures.
func WithLogger(logger *slog.Logger) FacilitatorOption {
	return func(f *ExactStellarFacilitator) {
		f.logger = logger
	}
}

// WithHorizon overrides the Horizon client used for a network.
func WithHorizon(networkID string, hc HorizonClient) FacilitatorOption {
	return func(f *ExactStellarFacilitator) {
		f.horizon[networkID] = hc
	}
}

// WithSoroban overrides the Soroban RPC client used for a network.
func WithSoroban(networkID string, sc SorobanClient) FacilitatorOption {
	return func(f *ExactStellarFacilitator) {
		f.soroban[networkID] = sc
	}
}

// WithNetworkConfig overrides the connection details for config.Network,
// e.g. to point a network at a private Horizon deployment.
func WithNetworkConfig(config NetworkConfig) FacilitatorOption {
	return func(f *ExactStellarFacilitator) {
		f.configs[config.Network] = config
	}
}

// NewExactStellarFacilitator creates a new ExactStellarFacilitator
func NewExactStellarFacilitator(opts ...FacilitatorOption) (*ExactStellarFacilitator, error) {
	f := &ExactStellarFacilitator{
		logger:  slog.Default(),
		horizon: make(map[string]HorizonClient),
		soroban: make(map[string]SorobanClient),
		configs: make(map[string]NetworkConfig),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.store == nil {
		f.store = idempotency.NewInMemoryStore(replayRecordTTL)
	}
	for id, config := range f.configs {
		if config.Network == "" || config.NetworkPassphrase == "" || config.HorizonURL == "" || config.SorobanRPCURL == "" {
			return nil, fmt.Errorf("incomplete network config for %s", id)
		}
	}
	return f, nil
}

var _ x402.SchemeNetworkFacilitator = (*ExactStellarFacilitator)(nil)

// Scheme returns the scheme identifier
func (f *ExactStellarFacilitator) Scheme() string {
	return SchemeExact
}

// GetExtra declares per-network capabilities for the supported listing.
func (f *ExactStellarFacilitator) GetExtra(network x402.Network) map[string]interface{} {
	extra := map[string]interface{}{
		"feeSponsorship": f.sponsor != nil,
	}
	if f.sponsor != nil {
		extra["feeSponsor"] = f.sponsor.PublicKey()
	}
	return extra
}

// paymentCheck carries everything settlement needs after verification.
type paymentCheck struct {
	config  NetworkConfig
	tx      *txnbuild.Transaction
	payload *ExactStellarPayload
	source  string
	hashHex string
	native  bool
}

// Verify checks a payment payload against requirements and live ledger state.
func (f *ExactStellarFacilitator) Verify(
	ctx context.Context,
	payload *types.PaymentPayload,
	requirements *types.PaymentRequirements,
) (*types.VerifyResponse, error) {
	check, invalid, err := f.checkPayment(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if invalid != nil {
		return invalid, nil
	}

	// A hash that already settled must not verify again.
	used, err := f.store.Get(ctx, replayKey(check.config.Network, check.hashHex))
	if err != nil {
		f.logger.Error("replay store lookup failed", "hash", check.hashHex, "error", err)
		return nil, fmt.Errorf("failed to check replay store: %w", err)
	}
	if used != nil {
		return invalidPayment(ErrTransactionAlreadyUsed, check.source), nil
	}

	payer := check.source
	return &types.VerifyResponse{IsValid: true, Payer: &payer}, nil
}

// Settle submits a verified payment to the ledger exactly once. Replayed
// hashes get the recorded result back unchanged; concurrent settlements of
// the same hash share a single submission.
func (f *ExactStellarFacilitator) Settle(
	ctx context.Context,
	payload *types.PaymentPayload,
	requirements *types.PaymentRequirements,
) (*types.SettleResponse, error) {
	check, invalid, err := f.checkPayment(ctx, payload, requirements)
	if err != nil {
		return nil, err
	}
	if invalid != nil {
		reason := x402.ErrCodeInvalidPayment
		if invalid.InvalidReason != nil {
			reason = *invalid.InvalidReason
		}
		response := failedSettlement(reason, payload.Network, "")
		response.Payer = invalid.Payer
		return response, nil
	}

	key := replayKey(check.config.Network, check.hashHex)

	var done chan struct{}
claim:
	for {
		status, cached, ch, err := f.store.CheckAndMark(ctx, key)
		if err != nil {
			f.logger.Error("replay store claim failed", "hash", check.hashHex, "error", err)
			return nil, fmt.Errorf("failed to claim settlement: %w", err)
		}
		switch status {
		case idempotency.StatusCached:
			return cached, nil
		case idempotency.StatusInFlight:
			result, err := f.store.WaitForResult(ctx, key, ch)
			if err != nil {
				return nil, err
			}
			if result != nil {
				return result, nil
			}
			// The in-flight settlement failed without a record; claim anew.
		default:
			done = ch
			break claim
		}
	}

	response, err := f.submit(ctx, check, requirements)
	if err != nil || !response.Success {
		if failErr := f.store.Fail(ctx, key, done); failErr != nil {
			f.logger.Error("replay claim release failed", "hash", check.hashHex, "error", failErr)
		}
		return response, err
	}

	// The record must be durable before the caller can act on success.
	if err := f.store.Complete(ctx, key, response, done); err != nil {
		f.logger.Error("replay record write failed after settlement", "hash", check.hashHex, "error", err)
		return nil, fmt.Errorf("settlement succeeded but replay record write failed: %w", err)
	}
	return response, nil
}

// checkPayment runs the ordered verification pipeline shared by Verify and
// Settle, stopping short of the replay check. A non-nil VerifyResponse means
// the payment is invalid with an enumerated reason; a non-nil error means a
// ledger or store dependency failed.
func (f *ExactStellarFacilitator) checkPayment(
	ctx context.Context,
	payload *types.PaymentPayload,
	requirements *types.PaymentRequirements,
) (*paymentCheck, *types.VerifyResponse, error) {
	if payload.X402Version != types.X402Version {
		return nil, invalidPayment(x402.ErrCodeInvalidX402Version, ""), nil
	}
	if payload.Scheme != SchemeExact || requirements.Scheme != SchemeExact {
		return nil, invalidPayment(x402.ErrCodeInvalidScheme, ""), nil
	}
	config, err := f.configFor(requirements.Network)
	if err != nil {
		return nil, invalidPayment(x402.ErrCodeInvalidNetwork, ""), nil
	}
	if payload.Network != requirements.Network {
		return nil, invalidPayment(ErrNetworkMismatch, ""), nil
	}

	stellarPayload, err := PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, invalidPayment(x402.ErrCodeInvalidPayload, ""), nil
	}
	if stellarPayload.SignedTxXDR == "" {
		return nil, invalidPayment(ErrMissingSignedTx, ""), nil
	}
	if stellarPayload.SourceAccount == "" || stellarPayload.Amount == "" ||
		stellarPayload.Destination == "" || stellarPayload.Asset == "" ||
		stellarPayload.Nonce == "" || stellarPayload.ValidUntilLedger == 0 {
		return nil, invalidPayment(ErrMissingRequiredFields, ""), nil
	}
	payer := stellarPayload.SourceAccount

	generic, err := txnbuild.TransactionFromXDR(stellarPayload.SignedTxXDR)
	if err != nil {
		return nil, invalidPayment(ErrInvalidXDR, payer), nil
	}
	tx, ok := generic.Transaction()
	if !ok {
		// Fee-bumping is the facilitator's job; payers submit plain envelopes.
		return nil, invalidPayment(ErrInvalidXDR, payer), nil
	}

	required, ok := new(big.Int).SetString(requirements.MaxAmountRequired, 10)
	if !ok || required.Sign() <= 0 {
		return nil, invalidPayment(x402.ErrCodeInvalidPaymentRequirements, payer), nil
	}

	txSource := tx.SourceAccount().AccountID
	if stellarPayload.SourceAccount != txSource {
		return nil, invalidPayment(x402.ErrCodeInvalidPayload, payer), nil
	}

	ops := tx.Operations()
	if len(ops) != 1 {
		return nil, invalidPayment(x402.ErrCodeInvalidPayload, payer), nil
	}

	var destination, asset string
	var paid *big.Int
	native := false

	switch op := ops[0].(type) {
	case *txnbuild.Payment:
		if !op.Asset.IsNative() {
			return nil, invalidPayment(ErrAssetMismatch, payer), nil
		}
		if op.SourceAccount != "" && op.SourceAccount != txSource {
			return nil, invalidPayment(x402.ErrCodeInvalidPayload, payer), nil
		}
		stroops, err := amount.ParseInt64(op.Amount)
		if err != nil {
			return nil, invalidPayment(x402.ErrCodeInvalidPayload, payer), nil
		}
		paid = big.NewInt(stroops)
		destination = op.Destination
		asset = AssetNative
		native = true

	case *txnbuild.InvokeHostFunction:
		details, err := parseTransferInvocation(op)
		if err != nil {
			return nil, invalidPayment(x402.ErrCodeInvalidPayload, payer), nil
		}
		if details.From != txSource {
			return nil, invalidPayment(x402.ErrCodeInvalidPayload, payer), nil
		}
		paid = details.Amount
		destination = details.To
		asset = details.Contract

	default:
		return nil, invalidPayment(x402.ErrCodeInvalidPayload, payer), nil
	}

	if destination != requirements.PayTo || stellarPayload.Destination != destination {
		return nil, invalidPayment(ErrDestinationMismatch, payer), nil
	}
	if asset != requirements.Asset || stellarPayload.Asset != asset {
		return nil, invalidPayment(ErrAssetMismatch, payer), nil
	}
	if paid.Cmp(required) < 0 {
		return nil, invalidPayment(ErrAmountMismatch, payer), nil
	}
	if mirror, ok := new(big.Int).SetString(stellarPayload.Amount, 10); !ok || mirror.Cmp(paid) != 0 {
		return nil, invalidPayment(ErrAmountMismatch, payer), nil
	}

	// A signature over this network's passphrase proves the envelope was
	// produced for the network the requirements name.
	hash, err := tx.Hash(config.NetworkPassphrase)
	if err != nil {
		return nil, invalidPayment(ErrInvalidXDR, payer), nil
	}
	kp, err := keypair.ParseAddress(txSource)
	if err != nil {
		return nil, invalidPayment(x402.ErrCodeInvalidPayload, payer), nil
	}
	signedForNetwork := false
	for _, sig := range tx.Signatures() {
		if kp.Verify(hash[:], sig.Signature) == nil {
			signedForNetwork = true
			break
		}
	}
	if !signedForNetwork {
		return nil, invalidPayment(ErrNetworkMismatch, payer), nil
	}

	account, err := f.horizonFor(config).AccountDetail(horizonclient.AccountRequest{AccountID: txSource})
	if err != nil {
		if horizonclient.IsNotFoundError(err) {
			return nil, invalidPayment(ErrSourceAccountNotFound, payer), nil
		}
		f.logger.Error("horizon account lookup failed", "account", txSource, "error", err)
		return nil, nil, fmt.Errorf("failed to load source account: %w", err)
	}

	if invalid := f.checkBalances(account, paid, big.NewInt(tx.BaseFee()), native, requirements, payer); invalid != nil {
		return nil, invalid, nil
	}

	latest, err := f.sorobanFor(config).GetLatestLedger(ctx)
	if err != nil {
		f.logger.Error("latest ledger lookup failed", "network", config.Network, "error", err)
		return nil, nil, fmt.Errorf("failed to fetch latest ledger: %w", err)
	}
	if stellarPayload.ValidUntilLedger < latest.Sequence {
		return nil, invalidPayment(ErrTransactionExpired, payer), nil
	}
	if maxLedger, bounded := envelopeMaxLedger(tx); bounded && maxLedger < latest.Sequence {
		return nil, invalidPayment(ErrTransactionExpired, payer), nil
	}
	if tb := tx.Timebounds(); tb.MaxTime != 0 && time.Now().Unix() > tb.MaxTime {
		return nil, invalidPayment(ErrTransactionExpired, payer), nil
	}

	return &paymentCheck{
		config:  config,
		tx:      tx,
		payload: stellarPayload,
		source:  txSource,
		hashHex: hex.EncodeToString(hash[:]),
		native:  native,
	}, nil, nil
}

// checkBalances confirms the source can cover the payment and the submission
// fee. For contract assets backed by a classic code/issuer pair (declared in
// the requirements extra), the trust line must exist and cover the amount;
// a missing trust line surfaces as insufficient balance.
func (f *ExactStellarFacilitator) checkBalances(
	account horizon.Account,
	paid *big.Int,
	fee *big.Int,
	native bool,
	requirements *types.PaymentRequirements,
	payer string,
) *types.VerifyResponse {
	nativeBalanceStr, err := account.GetNativeBalance()
	if err != nil {
		return invalidPayment(ErrInsufficientBalance, payer)
	}
	nativeStroops, err := amount.ParseInt64(nativeBalanceStr)
	if err != nil {
		return invalidPayment(ErrInsufficientBalance, payer)
	}
	nativeBalance := big.NewInt(nativeStroops)

	if native {
		needed := new(big.Int).Add(paid, fee)
		if nativeBalance.Cmp(needed) < 0 {
			return invalidPayment(ErrInsufficientBalance, payer)
		}
		return nil
	}

	if nativeBalance.Cmp(fee) < 0 {
		return invalidPayment(ErrInsufficientBalance, payer)
	}
	if code, issuer := classicAssetHint(requirements.Extra); code != "" {
		line, err := ParseAmount(account.GetCreditBalance(code, issuer), XLMDecimals)
		if err != nil || line.Cmp(paid) < 0 {
			return invalidPayment(ErrInsufficientBalance, payer)
		}
	}
	return nil
}

func (f *ExactStellarFacilitator) submit(
	ctx context.Context,
	check *paymentCheck,
	requirements *types.PaymentRequirements,
) (*types.SettleResponse, error) {
	if check.native {
		return f.submitNative(ctx, check)
	}
	return f.submitContract(ctx, check, requirements)
}

// submitNative submits a native payment through Horizon, wrapped in a
// sponsor-signed fee bump when one is configured. The inner envelope is
// never modified; the settlement hash is always the inner transaction's.
func (f *ExactStellarFacilitator) submitNative(ctx context.Context, check *paymentCheck) (*types.SettleResponse, error) {
	hc := f.horizonFor(check.config)

	if f.sponsor == nil {
		if _, err := hc.SubmitTransaction(check.tx); err != nil {
			f.logger.Error("transaction submission failed", "hash", check.hashHex, "error", err)
			return failedSettlement(ErrTransactionFailed, check.config.Network, check.source), nil
		}
		return successfulSettlement(check), nil
	}

	baseFee := int64(2 * txnbuild.MinBaseFee)
	if bumped := 2 * check.tx.BaseFee(); bumped > baseFee {
		baseFee = bumped
	}
	feeBump, err := txnbuild.NewFeeBumpTransaction(txnbuild.FeeBumpTransactionParams{
		Inner:      check.tx,
		FeeAccount: f.sponsor.PublicKey(),
		BaseFee:    baseFee,
	})
	if err != nil {
		f.logger.Error("fee bump construction failed", "hash", check.hashHex, "error", err)
		return failedSettlement(ErrFeeBumpFailed, check.config.Network, check.source), nil
	}
	signed, err := f.sponsor.SignFeeBump(ctx, feeBump, check.config.NetworkPassphrase)
	if err != nil {
		f.logger.Error("fee bump signing failed", "hash", check.hashHex, "error", err)
		return failedSettlement(ErrFeeBumpFailed, check.config.Network, check.source), nil
	}
	if _, err := hc.SubmitFeeBumpTransaction(signed); err != nil {
		f.logger.Error("fee bump submission failed", "hash", check.hashHex, "error", err)
		return failedSettlement(ErrFeeBumpFailed, check.config.Network, check.source), nil
	}
	return successfulSettlement(check), nil
}

// submitContract sends a signed contract invocation through Soroban RPC and
// polls until the network reports success or failure, bounded by the
// challenge timeout. An unknown fate stores nothing so a retry stays possible.
func (f *ExactStellarFacilitator) submitContract(
	ctx context.Context,
	check *paymentCheck,
	requirements *types.PaymentRequirements,
) (*types.SettleResponse, error) {
	sc := f.sorobanFor(check.config)

	sent, err := sc.SendTransaction(ctx, protocol.SendTransactionRequest{Transaction: check.payload.SignedTxXDR})
	if err != nil {
		f.logger.Error("contract submission failed", "hash", check.hashHex, "error", err)
		return failedSettlement(ErrTransactionFailed, check.config.Network, check.source), nil
	}

	switch sent.Status {
	case "PENDING", "DUPLICATE":
		// Await confirmation below.
	case "TRY_AGAIN_LATER":
		return failedSettlement(x402.ErrCodeInvalidTransactionState, check.config.Network, check.source), nil
	default:
		f.logger.Error("contract submission rejected",
			"hash", check.hashHex, "status", sent.Status, "result", sent.ErrorResultXDR)
		return failedSettlement(ErrTransactionFailed, check.config.Network, check.source), nil
	}

	timeout := requirements.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = DefaultMaxTimeoutSeconds
	}
	deadline := time.Now().Add(time.Duration(timeout) * time.Second)

	ticker := time.NewTicker(confirmationPollInterval)
	defer ticker.Stop()
	for {
		status, err := sc.GetTransaction(ctx, protocol.GetTransactionRequest{Hash: check.hashHex})
		if err != nil {
			f.logger.Warn("confirmation poll failed", "hash", check.hashHex, "error", err)
		} else {
			switch status.Status {
			case protocol.TransactionStatusSuccess:
				return successfulSettlement(check), nil
			case protocol.TransactionStatusFailed:
				return failedSettlement(ErrTransactionFailed, check.config.Network, check.source), nil
			}
		}

		if time.Now().After(deadline) {
			return failedSettlement(x402.ErrCodeInvalidTransactionState, check.config.Network, check.source), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (f *ExactStellarFacilitator) configFor(networkID string) (NetworkConfig, error) {
	if config, ok := f.configs[networkID]; ok {
		return config, nil
	}
	return GetNetworkConfig(networkID)
}

func (f *ExactStellarFacilitator) horizonFor(config NetworkConfig) HorizonClient {
	if hc, ok := f.horizon[config.Network]; ok {
		return hc
	}
	return NewHorizonClient(config)
}

func (f *ExactStellarFacilitator) sorobanFor(config NetworkConfig) SorobanClient {
	if sc, ok := f.soroban[config.Network]; ok {
		return sc
	}
	return NewSorobanClient(config)
}

func replayKey(networkID, hashHex string) string {
	return networkID + ":" + hashHex
}

func envelopeMaxLedger(tx *txnbuild.Transaction) (uint32, bool) {
	env := tx.ToXDR()
	if env.Type != xdr.EnvelopeTypeEnvelopeTypeTx || env.V1 == nil {
		return 0, false
	}
	cond := env.V1.Tx.Cond
	if cond.Type != xdr.PreconditionTypePrecondV2 || cond.V2 == nil || cond.V2.LedgerBounds == nil {
		return 0, false
	}
	return uint32(cond.V2.LedgerBounds.MaxLedger), true
}

func classicAssetHint(extra map[string]interface{}) (string, string) {
	if extra == nil {
		return "", ""
	}
	code, _ := extra["code"].(string)
	issuer, _ := extra["issuer"].(string)
	if code == "" || issuer == "" {
		return "", ""
	}
	return code, issuer
}

func invalidPayment(reason, payer string) *types.VerifyResponse {
	response := &types.VerifyResponse{IsValid: false, InvalidReason: &reason}
	if payer != "" {
		response.Payer = &payer
	}
	return response
}

func failedSettlement(reason, network, payer string) *types.SettleResponse {
	response := &types.SettleResponse{Success: false, ErrorReason: &reason, Network: network}
	if payer != "" {
		response.Payer = &payer
	}
	return response
}

func successfulSettlement(check *paymentCheck) *types.SettleResponse {
	payer := check.source
	return &types.SettleResponse{
		Success:     true,
		Transaction: check.hashHex,
		Network:     check.config.Network,
		Payer:       &payer,
	}
}
