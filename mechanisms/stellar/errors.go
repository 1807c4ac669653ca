package stellar

// Facilitator error constants for the exact Stellar scheme
const (
	// Verify errors
	ErrMissingSignedTx        = "invalid_exact_stellar_payload_missing_signed_tx"
	ErrInvalidXDR             = "invalid_exact_stellar_payload_invalid_xdr"
	ErrSourceAccountNotFound  = "invalid_exact_stellar_payload_source_account_not_found"
	ErrInsufficientBalance    = "invalid_exact_stellar_payload_insufficient_balance"
	ErrAmountMismatch         = "invalid_exact_stellar_payload_amount_mismatch"
	ErrDestinationMismatch    = "invalid_exact_stellar_payload_destination_mismatch"
	ErrAssetMismatch          = "invalid_exact_stellar_payload_asset_mismatch"
	ErrNetworkMismatch        = "invalid_exact_stellar_payload_network_mismatch"
	ErrMissingRequiredFields  = "invalid_exact_stellar_payload_missing_required_fields"
	ErrTransactionExpired     = "invalid_exact_stellar_payload_transaction_expired"
	ErrTransactionAlreadyUsed = "invalid_exact_stellar_payload_transaction_already_used"

	// Settle errors
	ErrTransactionFailed = "invalid_exact_stellar_payload_transaction_failed"
	ErrFeeBumpFailed     = "invalid_exact_stellar_payload_fee_bump_failed"
)
