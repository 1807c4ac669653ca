package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/mertkaradayi/stellar-x402"
	"github.com/mertkaradayi/stellar-x402/extensions/bazaar"
	"github.com/mertkaradayi/stellar-x402/extensions/idempotency"
	"github.com/mertkaradayi/stellar-x402/pkg/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testPayTo = "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"

const verifyRequestBody = `{
	"x402Version": 1,
	"paymentPayload": {
		"x402Version": 1,
		"scheme": "exact",
		"network": "stellar-testnet",
		"payload": {"transaction": "AAAA"}
	},
	"paymentRequirements": {
		"scheme": "exact",
		"network": "stellar-testnet",
		"maxAmountRequired": "15000000",
		"resource": "https://api.example.com/weather",
		"description": "",
		"payTo": "` + testPayTo + `",
		"maxTimeoutSeconds": 300,
		"asset": "native"
	}
}`

type stubFacilitator struct {
	verifyFunc    func(ctx context.Context, payloadBytes, requirementsBytes []byte) (*types.VerifyResponse, error)
	settleFunc    func(ctx context.Context, payloadBytes, requirementsBytes []byte) (*types.SettleResponse, error)
	supportedFunc func(ctx context.Context) (types.SupportedResponse, error)
}

func (s *stubFacilitator) Verify(ctx context.Context, payloadBytes, requirementsBytes []byte) (*types.VerifyResponse, error) {
	if s.verifyFunc != nil {
		return s.verifyFunc(ctx, payloadBytes, requirementsBytes)
	}
	return &types.VerifyResponse{IsValid: true}, nil
}

func (s *stubFacilitator) Settle(ctx context.Context, payloadBytes, requirementsBytes []byte) (*types.SettleResponse, error) {
	if s.settleFunc != nil {
		return s.settleFunc(ctx, payloadBytes, requirementsBytes)
	}
	return &types.SettleResponse{Success: true, Transaction: "deadbeef"}, nil
}

func (s *stubFacilitator) GetSupported(ctx context.Context) (types.SupportedResponse, error) {
	if s.supportedFunc != nil {
		return s.supportedFunc(ctx)
	}
	return types.SupportedResponse{}, nil
}

func newTestRouter(facilitator x402.FacilitatorClient, catalog bazaar.Catalog) *gin.Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newServer(facilitator, catalog, logger).router(prometheus.NewRegistry())
}

func doJSON(router *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func clearServiceEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PORT", "NETWORK", "HORIZON_URL", "SOROBAN_RPC_URL", "REDIS_URL", "FEE_SPONSOR_SECRET", "ENVIRONMENT"} {
		t.Setenv(key, "")
	}
}

func TestLoadServiceConfigDefaults(t *testing.T) {
	clearServiceEnv(t)

	cfg, err := loadServiceConfig()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.port)
	assert.Equal(t, []string{"stellar-testnet"}, cfg.networks)
	assert.False(t, cfg.production)
}

func TestLoadServiceConfigParsesNetworks(t *testing.T) {
	clearServiceEnv(t)
	t.Setenv("NETWORK", "stellar-testnet, stellar")

	cfg, err := loadServiceConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"stellar-testnet", "stellar"}, cfg.networks)
}

func TestLoadServiceConfigRejectsUnknownNetwork(t *testing.T) {
	clearServiceEnv(t)
	t.Setenv("NETWORK", "ethereum")

	_, err := loadServiceConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported network")
}

func TestLoadServiceConfigProductionRequiresRedis(t *testing.T) {
	clearServiceEnv(t)
	t.Setenv("ENVIRONMENT", "production")

	_, err := loadServiceConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL")

	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	cfg, err := loadServiceConfig()
	require.NoError(t, err)
	assert.True(t, cfg.production)
}

func TestLoadServiceConfigOverridesNeedSingleNetwork(t *testing.T) {
	clearServiceEnv(t)
	t.Setenv("NETWORK", "stellar-testnet,stellar")
	t.Setenv("HORIZON_URL", "https://horizon.example.com")

	_, err := loadServiceConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "single NETWORK")
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	router := newTestRouter(&stubFacilitator{}, bazaar.NewMemoryCatalog())

	rec := doJSON(router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestVerifyEndpointDelegates(t *testing.T) {
	t.Parallel()

	var gotPayload, gotRequirements []byte
	reason := "insufficient_funds"
	stub := &stubFacilitator{
		verifyFunc: func(ctx context.Context, payloadBytes, requirementsBytes []byte) (*types.VerifyResponse, error) {
			gotPayload = payloadBytes
			gotRequirements = requirementsBytes
			return &types.VerifyResponse{IsValid: false, InvalidReason: &reason}, nil
		},
	}
	router := newTestRouter(stub, bazaar.NewMemoryCatalog())

	rec := doJSON(router, http.MethodPost, "/verify", verifyRequestBody)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp types.VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.IsValid)
	require.NotNil(t, resp.InvalidReason)
	assert.Equal(t, reason, *resp.InvalidReason)

	// The handler must hand the sub-documents to the facilitator untouched.
	var payload types.PaymentPayload
	require.NoError(t, json.Unmarshal(gotPayload, &payload))
	assert.Equal(t, "exact", payload.Scheme)
	assert.Equal(t, "AAAA", payload.Payload["transaction"])

	var requirements types.PaymentRequirements
	require.NoError(t, json.Unmarshal(gotRequirements, &requirements))
	assert.Equal(t, "15000000", requirements.MaxAmountRequired)
	assert.Equal(t, testPayTo, requirements.PayTo)
}

func TestVerifyEndpointRejectsMalformedBody(t *testing.T) {
	t.Parallel()
	router := newTestRouter(&stubFacilitator{}, bazaar.NewMemoryCatalog())

	rec := doJSON(router, http.MethodPost, "/verify", "{not json")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid request body")
}

func TestVerifyEndpointTransportError(t *testing.T) {
	t.Parallel()

	stub := &stubFacilitator{
		verifyFunc: func(ctx context.Context, payloadBytes, requirementsBytes []byte) (*types.VerifyResponse, error) {
			return nil, errors.New("horizon: connection refused to 10.0.0.7")
		},
	}
	router := newTestRouter(stub, bazaar.NewMemoryCatalog())

	rec := doJSON(router, http.MethodPost, "/verify", verifyRequestBody)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "verification failed")
	assert.NotContains(t, rec.Body.String(), "10.0.0.7")
}

func TestSettleEndpointDelegates(t *testing.T) {
	t.Parallel()

	payer := testPayTo
	stub := &stubFacilitator{
		settleFunc: func(ctx context.Context, payloadBytes, requirementsBytes []byte) (*types.SettleResponse, error) {
			return &types.SettleResponse{
				Success:     true,
				Transaction: "abc123",
				Network:     "stellar-testnet",
				Payer:       &payer,
			}, nil
		},
	}
	router := newTestRouter(stub, bazaar.NewMemoryCatalog())

	rec := doJSON(router, http.MethodPost, "/settle", verifyRequestBody)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp types.SettleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "abc123", resp.Transaction)
	assert.Equal(t, "stellar-testnet", resp.Network)
}

func TestSettleEndpointTransportError(t *testing.T) {
	t.Parallel()

	stub := &stubFacilitator{
		settleFunc: func(ctx context.Context, payloadBytes, requirementsBytes []byte) (*types.SettleResponse, error) {
			return nil, errors.New("soroban rpc timeout")
		},
	}
	router := newTestRouter(stub, bazaar.NewMemoryCatalog())

	rec := doJSON(router, http.MethodPost, "/settle", verifyRequestBody)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "settlement failed")
	assert.NotContains(t, rec.Body.String(), "soroban")
}

func TestSupportedEndpoint(t *testing.T) {
	t.Parallel()

	stub := &stubFacilitator{
		supportedFunc: func(ctx context.Context) (types.SupportedResponse, error) {
			return types.SupportedResponse{Kinds: []types.SupportedKind{
				{X402Version: 1, Scheme: "exact", Network: "stellar"},
				{X402Version: 1, Scheme: "exact", Network: "stellar-testnet"},
			}}, nil
		},
	}
	router := newTestRouter(stub, bazaar.NewMemoryCatalog())

	rec := doJSON(router, http.MethodGet, "/supported", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp types.SupportedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Kinds, 2)
	assert.Equal(t, "stellar", resp.Kinds[0].Network)
}

func TestDiscoveryLifecycle(t *testing.T) {
	t.Parallel()
	router := newTestRouter(&stubFacilitator{}, bazaar.NewMemoryCatalog())

	registerBody := `{
		"resource": "https://api.example.com/weather",
		"type": "http",
		"accepts": [{
			"scheme": "exact",
			"network": "stellar-testnet",
			"maxAmountRequired": "15000000",
			"resource": "https://api.example.com/weather",
			"description": "hourly forecast",
			"payTo": "` + testPayTo + `",
			"maxTimeoutSeconds": 300,
			"asset": "native"
		}]
	}`

	rec := doJSON(router, http.MethodPost, "/discovery/resources", registerBody)
	require.Equal(t, http.StatusOK, rec.Code)

	var entry types.DiscoveryResource
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, "https://api.example.com/weather", entry.Resource)
	assert.NotEmpty(t, entry.LastUpdated)

	rec = doJSON(router, http.MethodGet, "/discovery/resources?type=http&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list types.DiscoveryListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, 1, list.Pagination.Total)
	assert.Equal(t, 10, list.Pagination.Limit)

	rec = doJSON(router, http.MethodDelete, "/discovery/resources", `{"resource":"https://api.example.com/weather"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(router, http.MethodDelete, "/discovery/resources", `{"resource":"https://api.example.com/weather"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDiscoveryListRejectsBadPagination(t *testing.T) {
	t.Parallel()
	router := newTestRouter(&stubFacilitator{}, bazaar.NewMemoryCatalog())

	rec := doJSON(router, http.MethodGet, "/discovery/resources?limit=ten", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid limit")

	rec = doJSON(router, http.MethodGet, "/discovery/resources?offset=first", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid offset")
}

func TestRegisterResourceRejectsInvalid(t *testing.T) {
	t.Parallel()
	router := newTestRouter(&stubFacilitator{}, bazaar.NewMemoryCatalog())

	rec := doJSON(router, http.MethodPost, "/discovery/resources", `{"resource":"ftp://files.example.com","type":"http","accepts":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid discovery registration")
}

func TestUnregisterRequiresResource(t *testing.T) {
	t.Parallel()
	router := newTestRouter(&stubFacilitator{}, bazaar.NewMemoryCatalog())

	rec := doJSON(router, http.MethodDelete, "/discovery/resources", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "resource is required")
}

func TestMetricsEndpointExposesCounters(t *testing.T) {
	t.Parallel()

	registry := x402.NewX402Facilitator()
	facilitator := idempotency.Wrap(registry)
	promRegistry := prometheus.NewRegistry()
	newServiceMetrics(promRegistry).instrument(facilitator)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := newServer(facilitator, bazaar.NewMemoryCatalog(), logger).router(promRegistry)

	// No mechanism is registered, so the verification routes through the
	// full pipeline and comes back invalid rather than erroring.
	rec := doJSON(router, http.MethodPost, "/verify", verifyRequestBody)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp types.VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.IsValid)

	rec = doJSON(router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `x402_facilitator_verify_total{network="stellar-testnet",outcome="invalid"} 1`)
	assert.Contains(t, rec.Body.String(), "x402_facilitator_verify_duration_seconds")
}
