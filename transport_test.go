package x402

import (
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mertkaradayi/stellar-x402/pkg/types"
)

// paywallServer simulates a resource server: 402 with a challenge until the
// request carries an X-Payment header, then 200 with the body and optional
// X-Payment-Response header.
type paywallServer struct {
	*httptest.Server

	requirements types.PaymentRequirements
	settlement   *types.PaymentResponseHeader

	requests    int
	bodies      []string
	lastPayload *types.PaymentPayload
}

func newPaywallServer(t *testing.T) *paywallServer {
	t.Helper()

	ps := &paywallServer{requirements: testRequirements()}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.requests++
		if r.Body != nil {
			body, _ := io.ReadAll(r.Body)
			ps.bodies = append(ps.bodies, string(body))
		}

		header := r.Header.Get("X-Payment")
		if header == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			_ = json.NewEncoder(w).Encode(types.PaymentRequiredResponse{
				X402Version: 1,
				Error:       "payment required",
				Accepts:     []types.PaymentRequirements{ps.requirements},
			})
			return
		}

		payload, err := types.DecodePaymentPayloadFromBase64(header)
		if err != nil {
			http.Error(w, "bad payment header", http.StatusBadRequest)
			return
		}
		ps.lastPayload = payload

		if ps.settlement != nil {
			encoded, err := ps.settlement.EncodeToBase64String()
			if err != nil {
				t.Errorf("encode settlement: %v", err)
			}
			w.Header().Set("X-Payment-Response", encoded)
		}
		_, _ = io.WriteString(w, "premium weather data")
	}))
	t.Cleanup(ps.Server.Close)
	return ps
}

func payingHTTPClient(transport *Transport) *http.Client {
	return &http.Client{Transport: transport}
}

func newPayingClient() *X402Client {
	client := NewX402Client()
	client.RegisterScheme("stellar-testnet", &mockSchemeNetworkClient{scheme: "exact"})
	return client
}

func TestTransportPaysFor402(t *testing.T) {
	server := newPaywallServer(t)
	httpClient := payingHTTPClient(NewTransport(newPayingClient()))

	resp, err := httpClient.Get(server.URL)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 after payment, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "premium weather data" {
		t.Fatalf("Expected paid body, got %q", body)
	}
	if server.requests != 2 {
		t.Fatalf("Expected challenge plus paid retry, got %d requests", server.requests)
	}
	if server.lastPayload == nil || server.lastPayload.Scheme != "exact" || server.lastPayload.Network != "stellar-testnet" {
		t.Fatalf("Expected signed payload in X-Payment, got %+v", server.lastPayload)
	}
}

func TestTransportPassesThroughNon402(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	httpClient := payingHTTPClient(NewTransport(newPayingClient()))
	resp, err := httpClient.Get(server.URL)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("Expected 404 to pass through, got %d", resp.StatusCode)
	}
	if requests != 1 {
		t.Fatalf("Expected a single request, got %d", requests)
	}
}

func TestTransportMaxAmountGuard(t *testing.T) {
	server := newPaywallServer(t)

	transport := NewTransport(newPayingClient())
	transport.MaxAmount = big.NewInt(1000) // far below the 15000000 required

	_, err := payingHTTPClient(transport).Get(server.URL)
	if !errors.Is(err, ErrPaymentTooLarge) {
		t.Fatalf("Expected ErrPaymentTooLarge, got %v", err)
	}
	if server.requests != 1 {
		t.Fatalf("Expected no paid retry, got %d requests", server.requests)
	}
}

func TestTransportMaxAmountAllowsAffordablePayments(t *testing.T) {
	server := newPaywallServer(t)

	transport := NewTransport(newPayingClient())
	transport.MaxAmount = big.NewInt(20000000)

	resp, err := payingHTTPClient(transport).Get(server.URL)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestTransportRewindsBodyOnRetry(t *testing.T) {
	server := newPaywallServer(t)
	httpClient := payingHTTPClient(NewTransport(newPayingClient()))

	resp, err := httpClient.Post(server.URL, "application/json", strings.NewReader(`{"query":"spot"}`))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	resp.Body.Close()

	if len(server.bodies) != 2 {
		t.Fatalf("Expected two request bodies, got %d", len(server.bodies))
	}
	if server.bodies[0] != `{"query":"spot"}` || server.bodies[1] != `{"query":"spot"}` {
		t.Fatalf("Expected body to be replayed on the paid retry, got %q", server.bodies)
	}
}

func TestTransportOnPaymentMade(t *testing.T) {
	server := newPaywallServer(t)
	payer := testPayer
	server.settlement = &types.PaymentResponseHeader{
		Success:     true,
		Transaction: "deadbeef",
		Network:     "stellar-testnet",
		Payer:       payer,
	}

	var event *PaymentEvent
	transport := NewTransport(newPayingClient())
	transport.OnPaymentMade = func(e PaymentEvent) {
		event = &e
	}

	resp, err := payingHTTPClient(transport).Get(server.URL)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	resp.Body.Close()

	if event == nil {
		t.Fatal("Expected OnPaymentMade to be invoked")
	}
	if event.Resource != server.requirements.Resource {
		t.Fatalf("Expected resource %q, got %q", server.requirements.Resource, event.Resource)
	}
	if event.Settlement == nil || event.Settlement.Transaction != "deadbeef" || event.Settlement.Payer != payer {
		t.Fatalf("Expected decoded settlement, got %+v", event.Settlement)
	}
}

func TestTransportRejectsUnfulfillableChallenge(t *testing.T) {
	server := newPaywallServer(t)
	server.requirements.Network = "stellar" // client only pays on testnet

	_, err := payingHTTPClient(NewTransport(newPayingClient())).Get(server.URL)
	if err == nil {
		t.Fatal("Expected error for unfulfillable challenge")
	}
	var paymentErr *PaymentError
	if !errors.As(err, &paymentErr) || paymentErr.Code != ErrCodeUnsupportedScheme {
		t.Fatalf("Expected %s, got %v", ErrCodeUnsupportedScheme, err)
	}
	if server.requests != 1 {
		t.Fatalf("Expected no paid retry, got %d requests", server.requests)
	}
}

func TestTransportRejectsMalformed402Body(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = io.WriteString(w, "payment required, no JSON here")
	}))
	defer server.Close()

	_, err := payingHTTPClient(NewTransport(newPayingClient())).Get(server.URL)
	if err == nil {
		t.Fatal("Expected error for malformed 402 body")
	}
	var paymentErr *PaymentError
	if !errors.As(err, &paymentErr) || paymentErr.Code != ErrCodeInvalidPaymentRequirements {
		t.Fatalf("Expected %s, got %v", ErrCodeInvalidPaymentRequirements, err)
	}
}

func TestTransportRejects402WithoutOptions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(types.PaymentRequiredResponse{X402Version: 1, Error: "payment required"})
	}))
	defer server.Close()

	_, err := payingHTTPClient(NewTransport(newPayingClient())).Get(server.URL)
	if err == nil {
		t.Fatal("Expected error for challenge without accepts")
	}
}
