package stellar

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/stellar/go/amount"

	x402 "github.com/mertkaradayi/stellar-x402"
)

// ParsePrice converts the price forms accepted by route rules into an asset
// amount denominated in smallest units (stroops for the native asset).
//
// Accepted forms:
//   - x402.AssetAmount: passed through (asset defaults to native)
//   - decimal string "1.5": whole units, scaled by 10^7 with truncation
//   - integer string "15000000": already smallest units, passed through
//   - int / int64: already smallest units
//   - float64: whole units
func ParsePrice(price x402.Price, networkID string) (x402.AssetAmount, error) {
	if !IsValidNetwork(networkID) {
		return x402.AssetAmount{}, fmt.Errorf("unsupported stellar network: %s", networkID)
	}

	switch v := price.(type) {
	case x402.AssetAmount:
		if _, ok := new(big.Int).SetString(v.Amount, 10); !ok {
			return x402.AssetAmount{}, fmt.Errorf("invalid asset amount: %s", v.Amount)
		}
		if v.Asset == "" {
			v.Asset = AssetNative
		}
		return v, nil

	case string:
		return parseStringPrice(v)

	case float64:
		// Whole units. Format with full native precision so the decimal
		// path applies even for integral values like 5.0.
		return parseStringPrice(strconv.FormatFloat(v, 'f', XLMDecimals, 64))

	case int:
		return stroopAmount(big.NewInt(int64(v)))

	case int64:
		return stroopAmount(big.NewInt(v))

	default:
		return x402.AssetAmount{}, fmt.Errorf("invalid price type: %T", price)
	}
}

// parseStringPrice handles "1.5", "$1.5", "1.5 XLM" and plain integer strings.
func parseStringPrice(priceStr string) (x402.AssetAmount, error) {
	cleaned := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(priceStr), "$"))
	cleaned = strings.TrimSuffix(cleaned, " XLM")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" {
		return x402.AssetAmount{}, fmt.Errorf("empty price")
	}

	if !strings.Contains(cleaned, ".") {
		// Integer strings are already in smallest units.
		stroops, ok := new(big.Int).SetString(cleaned, 10)
		if !ok {
			return x402.AssetAmount{}, fmt.Errorf("invalid price format: %s", priceStr)
		}
		return stroopAmount(stroops)
	}

	stroops, err := parseNativeAmount(cleaned)
	if err != nil {
		return x402.AssetAmount{}, fmt.Errorf("invalid price format %q: %w", priceStr, err)
	}
	return stroopAmount(big.NewInt(stroops))
}

func stroopAmount(stroops *big.Int) (x402.AssetAmount, error) {
	if stroops.Sign() <= 0 {
		return x402.AssetAmount{}, fmt.Errorf("price must be positive, got %s", stroops)
	}
	return x402.AssetAmount{
		Asset:  AssetNative,
		Amount: stroops.String(),
	}, nil
}

// parseNativeAmount converts a decimal XLM amount into stroops. Digits beyond
// stroop precision are truncated rather than rejected.
func parseNativeAmount(decimal string) (int64, error) {
	if i := strings.IndexByte(decimal, '.'); i >= 0 && len(decimal)-i-1 > XLMDecimals {
		decimal = decimal[:i+1+XLMDecimals]
	}
	return amount.ParseInt64(decimal)
}

// ParseAmount converts a decimal amount string into smallest units for an
// asset with the given decimal count. Used for contract assets whose tokens
// are not stroop-denominated. Excess fractional digits are truncated.
func ParseAmount(amountStr string, decimals int) (*big.Int, error) {
	cleaned := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(amountStr), "$"))
	if cleaned == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if decimals < 0 {
		return nil, fmt.Errorf("negative decimals: %d", decimals)
	}

	whole := cleaned
	frac := ""
	if i := strings.IndexByte(cleaned, '.'); i >= 0 {
		whole, frac = cleaned[:i], cleaned[i+1:]
	}
	if len(frac) > decimals {
		frac = frac[:decimals]
	}
	frac += strings.Repeat("0", decimals-len(frac))

	if whole == "" {
		whole = "0"
	}
	units, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", amountStr)
	}
	if units.Sign() < 0 {
		return nil, fmt.Errorf("amount cannot be negative: %s", amountStr)
	}
	return units, nil
}

// FormatAmount renders an amount in smallest units as a decimal string for
// display, e.g. 15000000 stroops -> "1.5000000".
func FormatAmount(units *big.Int, decimals int) string {
	if decimals <= 0 {
		return units.String()
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(units, scale, new(big.Int))
	return fmt.Sprintf("%s.%0*d", whole, decimals, frac.Abs(frac))
}
