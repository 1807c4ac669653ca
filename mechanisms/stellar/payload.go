package stellar

import "encoding/json"

// ExactStellarPayload is the scheme payload carried inside a PaymentPayload
// for Stellar exact payments. SignedTxXDR holds the fully signed transaction
// envelope; the remaining fields restate the payment terms so the facilitator
// can cross-check them against both the decoded envelope and the challenge.
type ExactStellarPayload struct {
	SignedTxXDR      string `json:"signedTxXdr"`
	SourceAccount    string `json:"sourceAccount"`
	Amount           string `json:"amount"`
	Destination      string `json:"destination"`
	Asset            string `json:"asset"`
	ValidUntilLedger uint32 `json:"validUntilLedger"`
	Nonce            string `json:"nonce"`
}

// ToMap converts the payload to the map form carried by PaymentPayload.
func (p *ExactStellarPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"signedTxXdr":      p.SignedTxXDR,
		"sourceAccount":    p.SourceAccount,
		"amount":           p.Amount,
		"destination":      p.Destination,
		"asset":            p.Asset,
		"validUntilLedger": p.ValidUntilLedger,
		"nonce":            p.Nonce,
	}
}

// PayloadFromMap creates an ExactStellarPayload from a map. Missing fields
// are left zero; required-field validation happens during verification.
func PayloadFromMap(data map[string]interface{}) (*ExactStellarPayload, error) {
	payload := &ExactStellarPayload{}

	if v, ok := data["signedTxXdr"].(string); ok {
		payload.SignedTxXDR = v
	}
	if v, ok := data["sourceAccount"].(string); ok {
		payload.SourceAccount = v
	}
	if v, ok := data["amount"].(string); ok {
		payload.Amount = v
	}
	if v, ok := data["destination"].(string); ok {
		payload.Destination = v
	}
	if v, ok := data["asset"].(string); ok {
		payload.Asset = v
	}
	if v, ok := asUint32(data["validUntilLedger"]); ok {
		payload.ValidUntilLedger = v
	}
	if v, ok := data["nonce"].(string); ok {
		payload.Nonce = v
	}

	return payload, nil
}

// asUint32 coerces the numeric forms a ledger sequence takes after JSON
// decoding or direct construction.
func asUint32(v interface{}) (uint32, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 || n != float64(uint32(n)) {
			return 0, false
		}
		return uint32(n), true
	case uint32:
		return n, true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint32(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint32(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil || i < 0 {
			return 0, false
		}
		return uint32(i), true
	default:
		return 0, false
	}
}
