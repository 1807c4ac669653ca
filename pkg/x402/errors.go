package x402

import "errors"

// Gate configuration errors
var (
	ErrMissingPayTo         = errors.New("x402: payTo address is required")
	ErrMissingPrice         = errors.New("x402: price is required")
	ErrInvalidAssetDecimals = errors.New("x402: asset decimals cannot be negative")
	ErrInvalidRoutePattern  = errors.New("x402: invalid route pattern")
	ErrUnsupportedNetwork   = errors.New("x402: unsupported network")
)
