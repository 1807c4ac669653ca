package facilitatorclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mertkaradayi/stellar-x402/pkg/facilitatorclient"
	"github.com/mertkaradayi/stellar-x402/pkg/types"
)

func testPayloadBytes(t *testing.T) []byte {
	t.Helper()

	payload := &types.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "stellar-testnet",
		Payload: map[string]any{
			"signedTxXdr":      "AAAAAgAAAAB3...",
			"sourceAccount":    "GDQNY3PBOJOKYZSRMK2S7LHHGWZIUISD4QORETLMXEWXBI7KFZZMKTL3",
			"amount":           "10000000",
			"destination":      "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H",
			"asset":            "native",
			"validUntilLedger": 1234567,
			"nonce":            "f3a9c1d2-7b42-4a6e-9f10-5d8c2ab0e4b7",
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return data
}

func testRequirementsBytes(t *testing.T) []byte {
	t.Helper()

	requirements := &types.PaymentRequirements{
		Scheme:            "exact",
		Network:           "stellar-testnet",
		MaxAmountRequired: "10000000",
		Resource:          "https://example.com/resource",
		Description:       "Test resource",
		MimeType:          "application/json",
		PayTo:             "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H",
		MaxTimeoutSeconds: 30,
		Asset:             "native",
	}
	data, err := json.Marshal(requirements)
	if err != nil {
		t.Fatalf("failed to marshal requirements: %v", err)
	}
	return data
}

func TestVerify(t *testing.T) {
	t.Parallel()

	var capturedBody map[string]json.RawMessage

	// Create test server
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/verify" {
			t.Errorf("Expected to request '/verify', got: %s", r.URL.Path)
		}
		if r.Method != "POST" {
			t.Errorf("Expected POST request, got: %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&capturedBody); err != nil {
			t.Errorf("Failed to decode request body: %v", err)
		}

		resp := types.VerifyResponse{
			IsValid: true,
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	// Create client with test server URL
	config := &types.FacilitatorConfig{
		URL: server.URL,
	}
	client := facilitatorclient.NewFacilitatorClient(config)

	resp, err := client.Verify(context.Background(), testPayloadBytes(t), testRequirementsBytes(t))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !resp.IsValid {
		t.Errorf("Expected valid response, got invalid")
	}

	// Request envelope carries version plus verbatim payload and requirements
	for _, key := range []string{"x402Version", "paymentPayload", "paymentRequirements"} {
		if _, ok := capturedBody[key]; !ok {
			t.Errorf("Expected request body to carry %q", key)
		}
	}
}

func TestSettle(t *testing.T) {
	t.Parallel()

	// Create test server
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/settle" {
			t.Errorf("Expected to request '/settle', got: %s", r.URL.Path)
		}
		if r.Method != "POST" {
			t.Errorf("Expected POST request, got: %s", r.Method)
		}

		resp := types.SettleResponse{
			Success:     true,
			Transaction: "9f2d8c1a07b3de4512fa9cc3b40e6d8a2f71c5509b8e3a6d4c2e1f0a9b8c7d6e",
			Network:     "stellar-testnet",
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	// Create client with test server URL
	config := &types.FacilitatorConfig{
		URL: server.URL,
	}
	client := facilitatorclient.NewFacilitatorClient(config)

	resp, err := client.Settle(context.Background(), testPayloadBytes(t), testRequirementsBytes(t))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !resp.Success {
		t.Errorf("Expected successful response, got unsuccessful")
	}
	if resp.Transaction != "9f2d8c1a07b3de4512fa9cc3b40e6d8a2f71c5509b8e3a6d4c2e1f0a9b8c7d6e" {
		t.Errorf("Expected settlement transaction hash, got: %s", resp.Transaction)
	}
	if resp.Network != "stellar-testnet" {
		t.Errorf("Expected network 'stellar-testnet', got: %s", resp.Network)
	}
}

func TestSettleTransportFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := facilitatorclient.NewFacilitatorClient(&types.FacilitatorConfig{URL: server.URL})

	// Non-200 is a transport error, not a failed settlement
	if _, err := client.Settle(context.Background(), testPayloadBytes(t), testRequirementsBytes(t)); err == nil {
		t.Error("Expected error for non-200 response, got nil")
	}
}

func TestTimeout(t *testing.T) {
	t.Parallel()

	timeoutDuration := time.Millisecond * 100

	// Create test server that takes a while to respond
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * timeoutDuration)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	config := &types.FacilitatorConfig{
		URL: server.URL,
		Timeout: func() time.Duration {
			return timeoutDuration
		},
	}

	// Create client with test server URL and a timeout option
	client := facilitatorclient.NewFacilitatorClient(config)

	// Test verify with timeout
	_, err := client.Verify(context.Background(), testPayloadBytes(t), testRequirementsBytes(t))
	t.Log(err)
	if err == nil {
		t.Error("Expected timeout error, got err == nil")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context deadline exceeded error, got: %v", err)
	}
}

func TestVerifyWithAuthHeaders(t *testing.T) {
	t.Parallel()

	var capturedAuthHeader string

	// Create test server that captures the auth header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedAuthHeader = r.Header.Get("Authorization")
		resp := types.VerifyResponse{
			IsValid: true,
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	// Create mock auth headers function
	createAuthHeaders := func() (map[string]map[string]string, error) {
		return map[string]map[string]string{
			"verify": {"Authorization": "Bearer test-token"},
			"settle": {"Authorization": "Bearer settle-token"},
		}, nil
	}

	// Create client with test server URL and auth headers
	config := &types.FacilitatorConfig{
		URL:               server.URL,
		CreateAuthHeaders: createAuthHeaders,
	}
	client := facilitatorclient.NewFacilitatorClient(config)

	_, err := client.Verify(context.Background(), testPayloadBytes(t), testRequirementsBytes(t))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// Verify that the auth header was set correctly
	expectedAuthHeader := "Bearer test-token"
	if capturedAuthHeader != expectedAuthHeader {
		t.Errorf("Expected auth header '%s', got: '%s'", expectedAuthHeader, capturedAuthHeader)
	}
}

func TestSettleWithAuthHeaders(t *testing.T) {
	t.Parallel()

	var capturedAuthHeader string

	// Create test server that captures the auth header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedAuthHeader = r.Header.Get("Authorization")
		resp := types.SettleResponse{
			Success:     true,
			Transaction: "9f2d8c1a07b3de4512fa9cc3b40e6d8a2f71c5509b8e3a6d4c2e1f0a9b8c7d6e",
			Network:     "stellar-testnet",
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	// Create mock auth headers function
	createAuthHeaders := func() (map[string]map[string]string, error) {
		return map[string]map[string]string{
			"verify": {"Authorization": "Bearer test-token"},
			"settle": {"Authorization": "Bearer settle-token"},
		}, nil
	}

	// Create client with test server URL and auth headers
	config := &types.FacilitatorConfig{
		URL:               server.URL,
		CreateAuthHeaders: createAuthHeaders,
	}
	client := facilitatorclient.NewFacilitatorClient(config)

	_, err := client.Settle(context.Background(), testPayloadBytes(t), testRequirementsBytes(t))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// Verify that the auth header was set correctly
	expectedAuthHeader := "Bearer settle-token"
	if capturedAuthHeader != expectedAuthHeader {
		t.Errorf("Expected auth header '%s', got: '%s'", expectedAuthHeader, capturedAuthHeader)
	}
}

func TestGetSupported(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/supported" {
			t.Fatalf("expected supported path, got %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Fatalf("expected GET method, got %s", r.Method)
		}

		resp := types.SupportedResponse{
			Kinds: []types.SupportedKind{
				{X402Version: 1, Scheme: "exact", Network: "stellar-testnet", Extra: map[string]any{"feeSponsorship": true}},
				{X402Version: 1, Scheme: "exact", Network: "stellar"},
			},
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("failed to encode response: %v", err)
		}
	}))
	defer server.Close()

	client := facilitatorclient.NewFacilitatorClient(&types.FacilitatorConfig{URL: server.URL})

	resp, err := client.GetSupported(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(resp.Kinds) != 2 {
		t.Fatalf("expected 2 kinds, got %d", len(resp.Kinds))
	}
	if resp.Kinds[0].Network != "stellar-testnet" || resp.Kinds[1].Network != "stellar" {
		t.Fatalf("unexpected networks: %+v", resp.Kinds)
	}
	if sponsored, ok := resp.Kinds[0].Extra["feeSponsorship"].(bool); !ok || !sponsored {
		t.Fatalf("expected feeSponsorship extra, got %+v", resp.Kinds[0].Extra)
	}
}

func TestGetSupportedWithAuthHeaders(t *testing.T) {
	t.Parallel()

	var capturedAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(types.SupportedResponse{})
	}))
	defer server.Close()

	client := facilitatorclient.NewFacilitatorClient(&types.FacilitatorConfig{
		URL: server.URL,
		CreateAuthHeaders: func() (map[string]map[string]string, error) {
			return map[string]map[string]string{
				"supported": {"Authorization": "Bearer supported"},
			}, nil
		},
	})

	if _, err := client.GetSupported(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if capturedAuth != "Bearer supported" {
		t.Fatalf("expected supported auth header, got %s", capturedAuth)
	}
}

func TestListDiscoveryResources(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		opts       types.ListResourcesOptions
		wantParams map[string]string
	}{
		{
			name:       "no options",
			opts:       types.ListResourcesOptions{},
			wantParams: map[string]string{},
		},
		{
			name:       "type filter",
			opts:       types.ListResourcesOptions{Type: "http"},
			wantParams: map[string]string{"type": "http"},
		},
		{
			name:       "pagination",
			opts:       types.ListResourcesOptions{Limit: 5, Offset: 10},
			wantParams: map[string]string{"limit": "5", "offset": "10"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var capturedQuery map[string][]string

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/discovery/resources" {
					t.Errorf("expected discovery path, got %s", r.URL.Path)
				}
				capturedQuery = r.URL.Query()

				resp := types.DiscoveryListResponse{
					X402Version: 1,
					Items:       []types.DiscoveryResource{},
					Pagination:  types.DiscoveryPagination{Limit: 20, Offset: 0, Total: 0},
				}
				_ = json.NewEncoder(w).Encode(resp)
			}))
			defer server.Close()

			client := facilitatorclient.NewFacilitatorClient(&types.FacilitatorConfig{URL: server.URL})

			resp, err := client.ListDiscoveryResources(context.Background(), tc.opts)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.X402Version != 1 {
				t.Errorf("expected x402Version 1, got %d", resp.X402Version)
			}

			if len(capturedQuery) != len(tc.wantParams) {
				t.Errorf("expected %d query params, got %v", len(tc.wantParams), capturedQuery)
			}
			for key, want := range tc.wantParams {
				if got := capturedQuery[key]; len(got) != 1 || got[0] != want {
					t.Errorf("expected query %s=%s, got %v", key, want, got)
				}
			}
		})
	}
}

func TestRegisterResource(t *testing.T) {
	t.Parallel()

	var capturedRequest types.DiscoveryRegisterRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/discovery/resources" {
			t.Errorf("expected discovery path, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&capturedRequest); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}

		entry := types.DiscoveryResource{
			Resource:    capturedRequest.Resource,
			Type:        capturedRequest.Type,
			X402Version: 1,
			Accepts:     capturedRequest.Accepts,
			LastUpdated: "2026-08-25T12:00:00Z",
		}
		_ = json.NewEncoder(w).Encode(entry)
	}))
	defer server.Close()

	client := facilitatorclient.NewFacilitatorClient(&types.FacilitatorConfig{URL: server.URL})

	request := types.DiscoveryRegisterRequest{
		Resource: "https://api.example.com/weather",
		Type:     "http",
		Accepts: []types.PaymentRequirements{
			{
				Scheme:            "exact",
				Network:           "stellar-testnet",
				MaxAmountRequired: "10000000",
				PayTo:             "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H",
				Asset:             "native",
			},
		},
	}

	entry, err := client.RegisterResource(context.Background(), request)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Resource != request.Resource {
		t.Errorf("expected resource %s, got %s", request.Resource, entry.Resource)
	}
	if capturedRequest.Resource != request.Resource {
		t.Errorf("expected request to carry resource, got %+v", capturedRequest)
	}
}

func TestUnregisterResource(t *testing.T) {
	t.Parallel()

	var capturedRequest types.DiscoveryUnregisterRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/discovery/resources" {
			t.Errorf("expected discovery path, got %s", r.URL.Path)
		}
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE method, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&capturedRequest); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := facilitatorclient.NewFacilitatorClient(&types.FacilitatorConfig{URL: server.URL})

	if err := client.UnregisterResource(context.Background(), "https://api.example.com/weather"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if capturedRequest.Resource != "https://api.example.com/weather" {
		t.Errorf("expected request to carry resource, got %+v", capturedRequest)
	}
}
