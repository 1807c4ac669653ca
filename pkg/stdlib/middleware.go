package stdlib

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mertkaradayi/stellar-x402/pkg/types"
	"github.com/mertkaradayi/stellar-x402/pkg/x402"
)

// PaymentMiddleware is the net/http middleware for resource servers using
// the x402 payment protocol. It composes with chi and any other router that
// speaks func(http.Handler) http.Handler. Payments for matched routes go to
// payTo; routes maps verb/path patterns to payment terms. Requests matching
// no route pass through unpriced.
//
// The middleware panics when the configuration is invalid so a bad route
// pattern fails at startup rather than at request time.
func PaymentMiddleware(payTo string, routes x402.RoutesConfig, opts ...x402.Option) func(http.Handler) http.Handler {
	gate, err := x402.NewGate(payTo, routes, opts...)
	if err != nil {
		panic(fmt.Sprintf("x402: invalid payment middleware configuration: %v", err))
	}
	logger := gate.Logger()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := gate.Match(r.Method, r.URL.Path)
			if route == nil {
				next.ServeHTTP(w, r)
				return
			}

			requirements, err := gate.Requirements(route, r)
			if err != nil {
				logger.Error("failed to build payment requirements", "path", r.URL.Path, "err", err)
				writeErrorResponse(w, http.StatusInternalServerError, "invalid payment configuration")
				return
			}

			payment := r.Header.Get("X-Payment")
			payload, err := types.ValidateAndDecodePaymentHeader(payment)
			if err != nil {
				if x402.IsBrowserRequest(r.Header.Get("Accept"), r.Header.Get("User-Agent")) {
					w.Header().Set("Content-Type", "text/html; charset=utf-8")
					w.WriteHeader(http.StatusPaymentRequired)
					io.WriteString(w, gate.PaywallHTML(requirements))
					return
				}
				reason := "Payment Required"
				if payment != "" {
					reason = err.Error()
				}
				writePaymentRequiredResponse(w, reason, requirements)
				return
			}

			verification, err := gate.VerifyPayment(r.Context(), payload, requirements)
			if err != nil {
				logger.Error("payment verification failed", "resource", requirements.Resource, "err", err)
				writeErrorResponse(w, http.StatusInternalServerError, "failed to verify payment")
				return
			}
			if !verification.IsValid {
				reason := "invalid payment"
				if verification.InvalidReason != nil {
					reason = *verification.InvalidReason
				}
				logger.Debug("payment rejected", "resource", requirements.Resource, "reason", reason)
				writePaymentRequiredResponse(w, reason, requirements)
				return
			}

			// Buffer the handler's response so no byte reaches the client
			// before settlement succeeds.
			recorder := newResponseRecorder()
			next.ServeHTTP(recorder, r)

			if recorder.statusCode >= http.StatusBadRequest {
				// The handler refused the request: release its response
				// as-is, no settlement, no payment header.
				recorder.flushTo(w)
				return
			}

			settlement, err := gate.SettlePayment(r.Context(), payload, requirements)
			if err != nil {
				logger.Error("payment settlement failed", "resource", requirements.Resource, "err", err)
				writeErrorResponse(w, http.StatusInternalServerError, "failed to settle payment")
				return
			}
			if !settlement.Success {
				reason := "settlement failed"
				if settlement.ErrorReason != nil {
					reason = *settlement.ErrorReason
				}
				logger.Debug("settlement rejected", "resource", requirements.Resource, "reason", reason)
				writePaymentRequiredResponse(w, reason, requirements)
				return
			}

			responseHeader, err := x402.SettlementHeader(settlement)
			if err != nil {
				logger.Error("failed to encode settlement header", "err", err)
				writeErrorResponse(w, http.StatusInternalServerError, "failed to encode settlement response")
				return
			}

			logger.Debug("payment settled",
				"resource", requirements.Resource,
				"network", settlement.Network,
				"transaction", settlement.Transaction,
			)
			recorder.Header().Set("X-Payment-Response", responseHeader)
			recorder.flushTo(w)
		})
	}
}

// responseRecorder buffers status, headers, and body until the gate decides
// to release them.
type responseRecorder struct {
	header      http.Header
	body        bytes.Buffer
	statusCode  int
	wroteHeader bool
}

var _ http.ResponseWriter = (*responseRecorder)(nil)

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{
		header:     make(http.Header),
		statusCode: http.StatusOK,
	}
}

func (r *responseRecorder) Header() http.Header {
	return r.header
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.statusCode = code
		r.wroteHeader = true
	}
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.body.Write(b)
}

// flushTo replays the captured response onto the real writer in original
// order: headers, then status, then body.
func (r *responseRecorder) flushTo(w http.ResponseWriter) {
	dst := w.Header()
	for key, values := range r.header {
		dst[key] = values
	}
	w.WriteHeader(r.statusCode)
	if r.body.Len() > 0 {
		w.Write(r.body.Bytes())
	}
}

// writeErrorResponse writes an error response with the given status code and message.
func writeErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":       errorMsg,
		"x402Version": types.X402Version,
	})
}

// writePaymentRequiredResponse writes a 402 challenge advertising the payment requirements.
func writePaymentRequiredResponse(w http.ResponseWriter, errorMsg string, requirements *types.PaymentRequirements) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	json.NewEncoder(w).Encode(x402.Challenge(errorMsg, requirements))
}
