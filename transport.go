package x402

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"

	"github.com/mertkaradayi/stellar-x402/pkg/types"
)

// ErrPaymentTooLarge is returned by Transport when the selected requirement
// asks for more than the configured MaxAmount.
var ErrPaymentTooLarge = errors.New("x402: required amount exceeds transport maximum")

// PaymentEvent describes a payment made automatically by Transport.
type PaymentEvent struct {
	Resource     string
	Requirements types.PaymentRequirements
	// Settlement is the decoded X-Payment-Response header from the retried
	// request, nil when the server did not attach one.
	Settlement *types.PaymentResponseHeader
}

// Transport is an http.RoundTripper that automatically pays for 402 responses.
//
// It performs the request, and when the server answers 402 Payment Required it
// selects a fulfillable requirement via the client, builds and signs a payment
// payload, attaches it as the X-Payment header, and retries the request once.
// Any other response passes through untouched.
type Transport struct {
	// Base is the underlying RoundTripper (typically http.DefaultTransport).
	Base http.RoundTripper

	// Client selects requirements and creates payment payloads.
	Client *X402Client

	// MaxAmount, when set, caps maxAmountRequired (in the asset's smallest
	// unit) that the transport is willing to pay without being asked.
	MaxAmount *big.Int

	// OnPaymentMade, when set, is invoked after a paid retry completes.
	OnPaymentMade func(PaymentEvent)
}

// NewTransport creates a Transport around http.DefaultTransport.
func NewTransport(client *X402Client) *Transport {
	return &Transport{Client: client}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	required, err := decodePaymentRequired(resp)
	// The 402 body has been consumed either way.
	resp.Body.Close()
	if err != nil {
		return nil, &PaymentError{
			Code:    ErrCodeInvalidPaymentRequirements,
			Message: fmt.Sprintf("failed to parse 402 response: %v", err),
		}
	}

	selected, err := t.Client.SelectPaymentRequirements(required.Accepts)
	if err != nil {
		return nil, err
	}

	if t.MaxAmount != nil {
		amount, ok := new(big.Int).SetString(selected.MaxAmountRequired, 10)
		if !ok || amount.Cmp(t.MaxAmount) > 0 {
			return nil, fmt.Errorf("%w: %s requires %s", ErrPaymentTooLarge, selected.Resource, selected.MaxAmountRequired)
		}
	}

	header, err := t.Client.CreatePaymentHeader(req.Context(), selected)
	if err != nil {
		return nil, err
	}

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body for paid retry: %w", err)
		}
		retry.Body = body
	}
	retry.Header.Set("X-Payment", header)

	paidResp, err := base.RoundTrip(retry)
	if err != nil {
		return nil, err
	}

	if t.OnPaymentMade != nil {
		event := PaymentEvent{
			Resource:     selected.Resource,
			Requirements: selected,
		}
		if encoded := paidResp.Header.Get("X-Payment-Response"); encoded != "" {
			if settlement, err := types.DecodePaymentResponseFromBase64(encoded); err == nil {
				event.Settlement = settlement
			}
		}
		t.OnPaymentMade(event)
	}

	return paidResp, nil
}

func decodePaymentRequired(resp *http.Response) (*types.PaymentRequiredResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	required, err := types.ToPaymentRequiredResponse(body)
	if err != nil {
		return nil, err
	}
	if len(required.Accepts) == 0 {
		return nil, fmt.Errorf("no payment requirements in response")
	}
	return required, nil
}
