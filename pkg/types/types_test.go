package types

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupportedResponseWire(t *testing.T) {
	t.Parallel()

	const wire = `{
		"kinds": [
			{
				"x402Version": 1,
				"scheme": "exact",
				"network": "stellar-testnet",
				"extra": {"feeSponsorship": true, "feeSponsor": "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"}
			},
			{
				"x402Version": 1,
				"scheme": "exact",
				"network": "stellar"
			}
		]
	}`

	var got SupportedResponse
	require.NoError(t, json.Unmarshal([]byte(wire), &got))

	want := SupportedResponse{
		Kinds: []SupportedKind{
			{
				X402Version: 1,
				Scheme:      "exact",
				Network:     "stellar-testnet",
				Extra: map[string]any{
					"feeSponsorship": true,
					"feeSponsor":     "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H",
				},
			},
			{X402Version: 1, Scheme: "exact", Network: "stellar"},
		},
	}
	assert.Equal(t, want, got)
}

func TestDiscoveryListResponseWire(t *testing.T) {
	t.Parallel()

	const wire = `{
		"x402Version": 1,
		"items": [
			{
				"resource": "https://api.example.com/premium-data",
				"type": "http",
				"x402Version": 1,
				"accepts": [
					{
						"scheme": "exact",
						"network": "stellar-testnet",
						"maxAmountRequired": "10000000",
						"resource": "https://api.example.com/premium-data",
						"description": "Access to premium market data",
						"mimeType": "application/json",
						"payTo": "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H",
						"maxTimeoutSeconds": 60,
						"asset": "native"
					}
				],
				"lastUpdated": "2026-08-25T12:00:00Z",
				"metadata": {
					"category": "finance",
					"provider": "Example Corp"
				}
			}
		],
		"pagination": {
			"limit": 10,
			"offset": 0,
			"total": 1
		}
	}`

	var got DiscoveryListResponse
	require.NoError(t, json.Unmarshal([]byte(wire), &got))

	want := DiscoveryListResponse{
		X402Version: 1,
		Items: []DiscoveryResource{
			{
				Resource:    "https://api.example.com/premium-data",
				Type:        "http",
				X402Version: 1,
				Accepts: []PaymentRequirements{
					{
						Scheme:            "exact",
						Network:           "stellar-testnet",
						MaxAmountRequired: "10000000",
						Resource:          "https://api.example.com/premium-data",
						Description:       "Access to premium market data",
						MimeType:          "application/json",
						PayTo:             "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H",
						MaxTimeoutSeconds: 60,
						Asset:             "native",
					},
				},
				LastUpdated: "2026-08-25T12:00:00Z",
				Metadata: &DiscoveryMetadata{
					Category: "finance",
					Provider: "Example Corp",
				},
			},
		},
		Pagination: DiscoveryPagination{Limit: 10, Offset: 0, Total: 1},
	}
	assert.Equal(t, want, got)
}

func TestPaymentPayloadHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	payload := &PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "stellar-testnet",
		Payload: map[string]any{
			"signedTxXdr":      "AAAAAgAAAAB3...",
			"sourceAccount":    "GDQNY3PBOJOKYZSRMK2S7LHHGWZIUISD4QORETLMXEWXBI7KFZZMKTL3",
			"amount":           "10000000",
			"destination":      "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H",
			"asset":            "native",
			"validUntilLedger": float64(1234567),
			"nonce":            "f3a9c1d2-7b42-4a6e-9f10-5d8c2ab0e4b7",
		},
	}

	encoded, err := payload.EncodeToBase64String()
	require.NoError(t, err)

	decoded, err := DecodePaymentPayloadFromBase64(encoded)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestDecodePaymentPayloadFromBase64Corrupt(t *testing.T) {
	t.Parallel()

	payload := &PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "stellar-testnet",
		Payload:     map[string]any{"signedTxXdr": "AAAA"},
	}
	encoded, err := payload.EncodeToBase64String()
	require.NoError(t, err)

	t.Run("invalid base64", func(t *testing.T) {
		_, err := DecodePaymentPayloadFromBase64(encoded[:len(encoded)-1] + "!")
		assert.Error(t, err)
	})

	t.Run("flipped byte", func(t *testing.T) {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		require.NoError(t, err)
		raw[0] ^= 0xFF
		_, err = DecodePaymentPayloadFromBase64(base64.StdEncoding.EncodeToString(raw))
		assert.Error(t, err)
	})

	t.Run("truncated json", func(t *testing.T) {
		raw, err := base64.StdEncoding.DecodeString(encoded)
		require.NoError(t, err)
		_, err = DecodePaymentPayloadFromBase64(base64.StdEncoding.EncodeToString(raw[:len(raw)/2]))
		assert.Error(t, err)
	})
}

func TestPaymentResponseHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	header := &PaymentResponseHeader{
		Success:     true,
		Transaction: "9f2d8c1a07b3de4512fa9cc3b40e6d8a2f71c5509b8e3a6d4c2e1f0a9b8c7d6e",
		Network:     "stellar",
		Payer:       "GDQNY3PBOJOKYZSRMK2S7LHHGWZIUISD4QORETLMXEWXBI7KFZZMKTL3",
	}

	encoded, err := header.EncodeToBase64String()
	require.NoError(t, err)

	decoded, err := DecodePaymentResponseFromBase64(encoded)
	require.NoError(t, err)
	assert.Equal(t, header, decoded)
}

func TestValidatePaymentRequirements(t *testing.T) {
	t.Parallel()

	valid := PaymentRequirements{
		Scheme:            "exact",
		Network:           "stellar-testnet",
		MaxAmountRequired: "10000000",
		Resource:          "https://api.example.com/weather",
		PayTo:             "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H",
		Asset:             "native",
	}

	tests := []struct {
		name    string
		mutate  func(*PaymentRequirements)
		wantErr string
	}{
		{name: "valid", mutate: func(*PaymentRequirements) {}},
		{
			name:    "missing scheme",
			mutate:  func(r *PaymentRequirements) { r.Scheme = "" },
			wantErr: "scheme is required",
		},
		{
			name:    "missing network",
			mutate:  func(r *PaymentRequirements) { r.Network = "" },
			wantErr: "network is required",
		},
		{
			name:    "missing payTo",
			mutate:  func(r *PaymentRequirements) { r.PayTo = "" },
			wantErr: "payTo is required",
		},
		{
			name:    "missing asset",
			mutate:  func(r *PaymentRequirements) { r.Asset = "" },
			wantErr: "asset is required",
		},
		{
			name:    "zero amount",
			mutate:  func(r *PaymentRequirements) { r.MaxAmountRequired = "0" },
			wantErr: "maxAmountRequired",
		},
		{
			name:    "negative amount",
			mutate:  func(r *PaymentRequirements) { r.MaxAmountRequired = "-5" },
			wantErr: "maxAmountRequired",
		},
		{
			name:    "decimal amount",
			mutate:  func(r *PaymentRequirements) { r.MaxAmountRequired = "1.5" },
			wantErr: "maxAmountRequired",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requirements := valid
			tt.mutate(&requirements)
			err := ValidatePaymentRequirements(&requirements)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("nil requirements", func(t *testing.T) {
		assert.Error(t, ValidatePaymentRequirements(nil))
	})
}
