package x402

import "fmt"

// PaymentError represents a payment-specific error
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes surfaced as invalidReason/errorReason strings.
// Mechanism-specific reasons (invalid_exact_stellar_payload_*) are declared
// alongside the mechanism that produces them.
const (
	ErrCodeInsufficientFunds          = "insufficient_funds"
	ErrCodeInvalidNetwork             = "invalid_network"
	ErrCodeInvalidPayload             = "invalid_payload"
	ErrCodeInvalidPaymentRequirements = "invalid_payment_requirements"
	ErrCodeInvalidScheme              = "invalid_scheme"
	ErrCodeInvalidPayment             = "invalid_payment"
	ErrCodePaymentExpired             = "payment_expired"
	ErrCodeUnsupportedScheme          = "unsupported_scheme"
	ErrCodeInvalidX402Version         = "invalid_x402_version"
	ErrCodeInvalidTransactionState    = "invalid_transaction_state"
	ErrCodeUnexpectedVerifyError      = "unexpected_verify_error"
	ErrCodeUnexpectedSettleError      = "unexpected_settle_error"
)

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}
