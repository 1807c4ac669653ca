// Package facilitatorclient talks to a remote facilitator service over HTTP.
//
// It implements the same byte-level FacilitatorClient boundary as the
// in-process registry, so gate middlewares can delegate verify/settle to a
// hosted facilitator without code changes.
package facilitatorclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	x402 "github.com/mertkaradayi/stellar-x402"
	"github.com/mertkaradayi/stellar-x402/pkg/types"
)

const (
	// DefaultFacilitatorURL is the default URL for the x402 facilitator service
	DefaultFacilitatorURL = "https://x402.org/facilitator"

	headerContentType   = "Content-Type"
	mimeApplicationJSON = "application/json"

	authHeaderVerify     = "verify"
	authHeaderSettle     = "settle"
	authHeaderSupported  = "supported"
	authHeaderList       = "list"
	authHeaderRegister   = "register"
	authHeaderUnregister = "unregister"
)

// FacilitatorClient represents a facilitator client for verifying and settling payments
type FacilitatorClient struct {
	URL               string
	HTTPClient        *http.Client
	CreateAuthHeaders func() (map[string]map[string]string, error)
}

// NewFacilitatorClient creates a new facilitator client
func NewFacilitatorClient(config *types.FacilitatorConfig) *FacilitatorClient {
	if config == nil {
		config = &types.FacilitatorConfig{
			URL: DefaultFacilitatorURL,
		}
	}

	httpCli := &http.Client{}
	if config.Timeout != nil {
		httpCli.Timeout = config.Timeout()
	}

	return &FacilitatorClient{
		URL:               config.URL,
		HTTPClient:        httpCli,
		CreateAuthHeaders: config.CreateAuthHeaders,
	}
}

// Verify sends a payment verification request to the facilitator.
//
// The payload and requirements bytes are embedded verbatim in the request
// envelope. A non-200 status is a transport error; invalid payments come back
// as HTTP 200 with isValid=false.
func (c *FacilitatorClient) Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*types.VerifyResponse, error) {
	reqBody := map[string]any{
		"x402Version":         types.X402Version,
		"paymentPayload":      json.RawMessage(payloadBytes),
		"paymentRequirements": json.RawMessage(requirementsBytes),
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/verify", c.URL), bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(headerContentType, mimeApplicationJSON)

	// Add auth headers if available
	if err := c.addAuthHeader(req, authHeaderVerify); err != nil {
		return nil, fmt.Errorf("failed to apply verify auth headers: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send verify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to verify payment: %s", resp.Status)
	}

	var verifyResp types.VerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&verifyResp); err != nil {
		return nil, fmt.Errorf("failed to decode verify response: %w", err)
	}

	return &verifyResp, nil
}

// Settle sends a payment settlement request to the facilitator.
func (c *FacilitatorClient) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*types.SettleResponse, error) {
	reqBody := map[string]any{
		"x402Version":         types.X402Version,
		"paymentPayload":      json.RawMessage(payloadBytes),
		"paymentRequirements": json.RawMessage(requirementsBytes),
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/settle", c.URL), bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(headerContentType, mimeApplicationJSON)

	// Add auth headers if available
	if err := c.addAuthHeader(req, authHeaderSettle); err != nil {
		return nil, fmt.Errorf("failed to apply settle auth headers: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send settle request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to settle payment: %s", resp.Status)
	}

	var settleResp types.SettleResponse
	if err := json.NewDecoder(resp.Body).Decode(&settleResp); err != nil {
		return nil, fmt.Errorf("failed to decode settle response: %w", err)
	}

	return &settleResp, nil
}

// GetSupported retrieves the list of payment kinds supported by the facilitator.
func (c *FacilitatorClient) GetSupported(ctx context.Context) (types.SupportedResponse, error) {
	var supportedResp types.SupportedResponse

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/supported", c.URL), nil)
	if err != nil {
		return supportedResp, fmt.Errorf("failed to create supported request: %w", err)
	}
	req.Header.Set(headerContentType, mimeApplicationJSON)

	if err := c.addAuthHeader(req, authHeaderSupported); err != nil {
		return supportedResp, fmt.Errorf("failed to apply supported auth headers: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return supportedResp, fmt.Errorf("failed to send supported request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return supportedResp, fmt.Errorf("failed to get supported payment kinds: %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(&supportedResp); err != nil {
		return supportedResp, fmt.Errorf("failed to decode supported response: %w", err)
	}

	return supportedResp, nil
}

// ListDiscoveryResources retrieves discoverable resources from the facilitator
// catalog, newest first. Authentication relies on the optional "list" auth
// header when CreateAuthHeaders provides one.
func (c *FacilitatorClient) ListDiscoveryResources(ctx context.Context, opts types.ListResourcesOptions) (*types.DiscoveryListResponse, error) {
	endpoint := fmt.Sprintf("%s/discovery/resources", c.URL)

	if encoded := encodeDiscoveryQuery(opts); encoded != "" {
		endpoint = fmt.Sprintf("%s?%s", endpoint, encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set(headerContentType, mimeApplicationJSON)

	if err := c.addAuthHeader(req, authHeaderList); err != nil {
		return nil, fmt.Errorf("failed to apply discovery auth headers: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send discovery request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to list discovery resources: %s", resp.Status)
	}

	var discoveryResp types.DiscoveryListResponse
	if err := json.NewDecoder(resp.Body).Decode(&discoveryResp); err != nil {
		return nil, fmt.Errorf("failed to decode discovery response: %w", err)
	}

	return &discoveryResp, nil
}

// RegisterResource registers a payment-gated resource with the facilitator
// catalog. Re-registering the same resource URL overwrites the entry.
func (c *FacilitatorClient) RegisterResource(ctx context.Context, request types.DiscoveryRegisterRequest) (*types.DiscoveryResource, error) {
	jsonBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal registration: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/discovery/resources", c.URL), bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create registration request: %w", err)
	}
	req.Header.Set(headerContentType, mimeApplicationJSON)

	if err := c.addAuthHeader(req, authHeaderRegister); err != nil {
		return nil, fmt.Errorf("failed to apply registration auth headers: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send registration request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("failed to register resource: %s", resp.Status)
	}

	var entry types.DiscoveryResource
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return nil, fmt.Errorf("failed to decode registration response: %w", err)
	}

	return &entry, nil
}

// UnregisterResource removes a resource from the facilitator catalog.
func (c *FacilitatorClient) UnregisterResource(ctx context.Context, resource string) error {
	jsonBody, err := json.Marshal(types.DiscoveryUnregisterRequest{Resource: resource})
	if err != nil {
		return fmt.Errorf("failed to marshal unregister request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/discovery/resources", c.URL), bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create unregister request: %w", err)
	}
	req.Header.Set(headerContentType, mimeApplicationJSON)

	if err := c.addAuthHeader(req, authHeaderUnregister); err != nil {
		return fmt.Errorf("failed to apply unregister auth headers: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send unregister request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("failed to unregister resource: %s", resp.Status)
	}

	return nil
}

func (c *FacilitatorClient) addAuthHeader(req *http.Request, key string) error {
	if c.CreateAuthHeaders == nil {
		return nil
	}

	headers, err := c.CreateAuthHeaders()
	if err != nil {
		return fmt.Errorf("create auth headers: %w", err)
	}

	actionHeaders, ok := headers[key]
	if !ok {
		return nil
	}

	for headerKey, value := range actionHeaders {
		req.Header.Set(headerKey, value)
	}

	return nil
}

func encodeDiscoveryQuery(opts types.ListResourcesOptions) string {
	values := url.Values{}

	if opts.Type != "" {
		values.Set("type", opts.Type)
	}
	if opts.Limit > 0 {
		values.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		values.Set("offset", strconv.Itoa(opts.Offset))
	}

	return values.Encode()
}

// Ensure FacilitatorClient implements the byte-level facilitator boundary
var _ x402.FacilitatorClient = (*FacilitatorClient)(nil)
