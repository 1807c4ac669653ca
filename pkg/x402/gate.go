// Package x402 implements the framework-agnostic core of the payment gate
// middlewares: route tables mapping request paths to payment terms, 402
// challenge construction, and the verify/settle conversation with a
// facilitator. pkg/gin and pkg/stdlib wrap this core for their frameworks so
// the two stay in lockstep.
package x402

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	x402 "github.com/mertkaradayi/stellar-x402"
	"github.com/mertkaradayi/stellar-x402/mechanisms/stellar"
	"github.com/mertkaradayi/stellar-x402/pkg/facilitatorclient"
	"github.com/mertkaradayi/stellar-x402/pkg/types"
)

// GateConfig carries the middleware-level options shared by every gated
// route. Per-route terms live in RouteConfig.
type GateConfig struct {
	Network           string
	FacilitatorConfig *types.FacilitatorConfig
	Facilitator       x402.FacilitatorClient
	CustomPaywallHTML string
	ResourceRootURL   string
	Logger            *slog.Logger
}

// Option is the type for the options for the payment middlewares.
type Option func(*GateConfig)

// WithNetwork selects the Stellar network challenges are issued for.
func WithNetwork(network string) Option {
	return func(config *GateConfig) {
		config.Network = network
	}
}

// WithFacilitatorConfig points the gate at a remote facilitator service.
func WithFacilitatorConfig(facilitatorConfig *types.FacilitatorConfig) Option {
	return func(config *GateConfig) {
		config.FacilitatorConfig = facilitatorConfig
	}
}

// WithFacilitatorClient injects a verify/settle implementation directly,
// bypassing the HTTP facilitator client. Useful for in-process facilitators
// and tests.
func WithFacilitatorClient(client x402.FacilitatorClient) Option {
	return func(config *GateConfig) {
		config.Facilitator = client
	}
}

// WithCustomPaywallHTML replaces the built-in browser paywall page.
func WithCustomPaywallHTML(paywallHTML string) Option {
	return func(config *GateConfig) {
		config.CustomPaywallHTML = paywallHTML
	}
}

// WithResourceRootURL sets the base URL prepended to request paths when
// building the advertised resource URL. When unset the gate derives the URL
// from the incoming request.
func WithResourceRootURL(rootURL string) Option {
	return func(config *GateConfig) {
		config.ResourceRootURL = rootURL
	}
}

// WithLogger sets the logger for gate flow events.
func WithLogger(logger *slog.Logger) Option {
	return func(config *GateConfig) {
		config.Logger = logger
	}
}

// Gate evaluates requests against a compiled route table and drives the
// verify/settle flow for matched ones. It holds no per-request state and is
// safe for concurrent use.
type Gate struct {
	payTo       string
	network     string
	routes      []Route
	facilitator x402.FacilitatorClient
	paywallHTML string
	rootURL     string
	logger      *slog.Logger
}

// NewGate compiles the route table and wires the facilitator client.
// The default network is stellar-testnet; the default facilitator is the
// hosted one from pkg/facilitatorclient.
func NewGate(payTo string, routes RoutesConfig, opts ...Option) (*Gate, error) {
	if payTo == "" {
		return nil, ErrMissingPayTo
	}

	config := &GateConfig{
		Network: stellar.NetworkTestnet,
	}
	for _, opt := range opts {
		opt(config)
	}

	if !stellar.IsValidNetwork(config.Network) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, config.Network)
	}

	compiled, err := CompileRoutes(routes)
	if err != nil {
		return nil, err
	}

	facilitator := config.Facilitator
	if facilitator == nil {
		facilitator = facilitatorclient.NewFacilitatorClient(config.FacilitatorConfig)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Gate{
		payTo:       payTo,
		network:     config.Network,
		routes:      compiled,
		facilitator: facilitator,
		paywallHTML: config.CustomPaywallHTML,
		rootURL:     strings.TrimSuffix(config.ResourceRootURL, "/"),
		logger:      logger.With("component", "x402.gate"),
	}, nil
}

// Logger exposes the gate's logger so framework wrappers share it.
func (g *Gate) Logger() *slog.Logger {
	return g.logger
}

// Network returns the network challenges are issued for.
func (g *Gate) Network() string {
	return g.network
}

// Match returns the priced route for the request, or nil when the request
// passes through unpriced.
func (g *Gate) Match(method, path string) *Route {
	return MatchRoute(g.routes, method, path)
}

// Requirements builds the challenge entry for a matched route.
func (g *Gate) Requirements(route *Route, r *http.Request) (*types.PaymentRequirements, error) {
	assetAmount, err := g.resolvePrice(route.Config)
	if err != nil {
		return nil, err
	}

	resource := route.Config.Resource
	if resource == "" {
		resource = g.resourceURL(r)
	}

	extra := route.Config.Extra
	if extra == nil {
		extra = assetAmount.Extra
	}

	requirements := &types.PaymentRequirements{
		Scheme:            stellar.SchemeExact,
		Network:           g.network,
		MaxAmountRequired: assetAmount.Amount,
		Resource:          resource,
		Description:       route.Config.Description,
		MimeType:          route.Config.MimeType,
		PayTo:             g.payTo,
		MaxTimeoutSeconds: route.Config.GetMaxTimeoutSeconds(),
		Asset:             assetAmount.Asset,
		OutputSchema:      route.Config.OutputSchema,
		Extra:             extra,
	}

	if err := types.ValidatePaymentRequirements(requirements); err != nil {
		return nil, err
	}
	return requirements, nil
}

func (g *Gate) resolvePrice(config RouteConfig) (x402.AssetAmount, error) {
	if config.Asset == "" || config.Asset == stellar.AssetNative {
		return stellar.ParsePrice(config.Price, g.network)
	}
	return contractPrice(config)
}

// contractPrice interprets a price for a contract asset. Decimal strings
// scale by the asset's decimal count; whole-number strings and ints are
// already in smallest units.
func contractPrice(config RouteConfig) (x402.AssetAmount, error) {
	decimals := config.AssetDecimals
	if decimals == 0 {
		decimals = stellar.XLMDecimals
	}

	switch price := config.Price.(type) {
	case x402.AssetAmount:
		if _, ok := new(big.Int).SetString(price.Amount, 10); !ok {
			return x402.AssetAmount{}, fmt.Errorf("invalid asset amount: %s", price.Amount)
		}
		if price.Asset == "" {
			price.Asset = config.Asset
		}
		return price, nil

	case string:
		trimmed := strings.TrimSpace(price)
		if !strings.Contains(trimmed, ".") {
			units, ok := new(big.Int).SetString(trimmed, 10)
			if !ok {
				return x402.AssetAmount{}, fmt.Errorf("invalid price format: %s", price)
			}
			return contractUnits(config.Asset, units)
		}
		units, err := stellar.ParseAmount(trimmed, decimals)
		if err != nil {
			return x402.AssetAmount{}, err
		}
		return contractUnits(config.Asset, units)

	case int:
		return contractUnits(config.Asset, big.NewInt(int64(price)))

	case int64:
		return contractUnits(config.Asset, big.NewInt(price))

	default:
		return x402.AssetAmount{}, fmt.Errorf("invalid price type: %T", price)
	}
}

func contractUnits(asset string, units *big.Int) (x402.AssetAmount, error) {
	if units.Sign() <= 0 {
		return x402.AssetAmount{}, fmt.Errorf("price must be positive, got %s", units)
	}
	return x402.AssetAmount{Asset: asset, Amount: units.String()}, nil
}

func (g *Gate) resourceURL(r *http.Request) string {
	if g.rootURL != "" {
		return g.rootURL + r.URL.Path
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.Path
}

// VerifyPayment submits the payment for verification. A non-nil error means
// the facilitator could not be reached, not that the payment was rejected;
// rejections come back inside the VerifyResponse.
func (g *Gate) VerifyPayment(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.VerifyResponse, error) {
	payloadBytes, requirementsBytes, err := marshalPair(payload, requirements)
	if err != nil {
		return nil, err
	}
	return g.facilitator.Verify(ctx, payloadBytes, requirementsBytes)
}

// SettlePayment submits the payment for on-ledger settlement.
func (g *Gate) SettlePayment(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.SettleResponse, error) {
	payloadBytes, requirementsBytes, err := marshalPair(payload, requirements)
	if err != nil {
		return nil, err
	}
	return g.facilitator.Settle(ctx, payloadBytes, requirementsBytes)
}

func marshalPair(payload *types.PaymentPayload, requirements *types.PaymentRequirements) ([]byte, []byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode payment payload: %w", err)
	}
	requirementsBytes, err := json.Marshal(requirements)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode payment requirements: %w", err)
	}
	return payloadBytes, requirementsBytes, nil
}

// Challenge builds the 402 body advertising the requirements.
func Challenge(reason string, requirements *types.PaymentRequirements) *types.PaymentRequiredResponse {
	return &types.PaymentRequiredResponse{
		X402Version: types.X402Version,
		Error:       reason,
		Accepts:     []types.PaymentRequirements{*requirements},
	}
}

// SettlementHeader encodes the X-Payment-Response value for a settled
// payment.
func SettlementHeader(settlement *types.SettleResponse) (string, error) {
	header := &types.PaymentResponseHeader{
		Success:     settlement.Success,
		Transaction: settlement.Transaction,
		Network:     settlement.Network,
	}
	if settlement.Payer != nil {
		header.Payer = *settlement.Payer
	}
	return header.EncodeToBase64String()
}

// IsBrowserRequest reports whether the request looks like an interactive
// browser navigation rather than a programmatic client.
func IsBrowserRequest(accept, userAgent string) bool {
	return strings.Contains(accept, "text/html") && strings.Contains(userAgent, "Mozilla")
}

// PaywallHTML returns the page served to browsers that hit a gated route
// without payment.
func (g *Gate) PaywallHTML(requirements *types.PaymentRequirements) string {
	if g.paywallHTML != "" {
		return g.paywallHTML
	}
	return defaultPaywallHTML(requirements)
}

const paywallTemplate = `<!DOCTYPE html>
<html>
<head><title>Payment Required</title></head>
<body>
<h1>Payment Required</h1>
<p>%s</p>
<p>Pay %s %s on %s to access this resource.</p>
</body>
</html>
`

func defaultPaywallHTML(requirements *types.PaymentRequirements) string {
	amount := requirements.MaxAmountRequired
	asset := requirements.Asset
	if asset == stellar.AssetNative {
		if units, ok := new(big.Int).SetString(amount, 10); ok {
			amount = stellar.FormatAmount(units, stellar.XLMDecimals)
		}
		asset = "XLM"
	}

	description := requirements.Description
	if description == "" {
		description = requirements.Resource
	}

	return fmt.Sprintf(paywallTemplate,
		html.EscapeString(description),
		html.EscapeString(amount),
		html.EscapeString(asset),
		html.EscapeString(requirements.Network),
	)
}
