package gin

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mertkaradayi/stellar-x402/pkg/types"
	"github.com/mertkaradayi/stellar-x402/pkg/x402"
)

// PaymentMiddleware is the Gin middleware for resource servers using the
// x402 payment protocol. Payments for matched routes go to payTo; routes
// maps verb/path patterns to payment terms. Requests matching no route pass
// through unpriced.
//
// The middleware panics when the configuration is invalid so a bad route
// pattern fails at startup rather than at request time.
func PaymentMiddleware(payTo string, routes x402.RoutesConfig, opts ...x402.Option) gin.HandlerFunc {
	gate, err := x402.NewGate(payTo, routes, opts...)
	if err != nil {
		panic(fmt.Sprintf("x402: invalid payment middleware configuration: %v", err))
	}
	logger := gate.Logger()

	return func(c *gin.Context) {
		route := gate.Match(c.Request.Method, c.Request.URL.Path)
		if route == nil {
			c.Next()
			return
		}

		requirements, err := gate.Requirements(route, c.Request)
		if err != nil {
			logger.Error("failed to build payment requirements", "path", c.Request.URL.Path, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":       "invalid payment configuration",
				"x402Version": types.X402Version,
			})
			return
		}

		payment := c.GetHeader("X-Payment")
		payload, err := types.ValidateAndDecodePaymentHeader(payment)
		if err != nil {
			if x402.IsBrowserRequest(c.GetHeader("Accept"), c.GetHeader("User-Agent")) {
				c.Abort()
				c.Data(http.StatusPaymentRequired, "text/html; charset=utf-8", []byte(gate.PaywallHTML(requirements)))
				return
			}
			reason := "Payment Required"
			if payment != "" {
				reason = err.Error()
			}
			c.AbortWithStatusJSON(http.StatusPaymentRequired, x402.Challenge(reason, requirements))
			return
		}

		verification, err := gate.VerifyPayment(c.Request.Context(), payload, requirements)
		if err != nil {
			logger.Error("payment verification failed", "resource", requirements.Resource, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":       "failed to verify payment",
				"x402Version": types.X402Version,
			})
			return
		}
		if !verification.IsValid {
			reason := "invalid payment"
			if verification.InvalidReason != nil {
				reason = *verification.InvalidReason
			}
			logger.Debug("payment rejected", "resource", requirements.Resource, "reason", reason)
			c.AbortWithStatusJSON(http.StatusPaymentRequired, x402.Challenge(reason, requirements))
			return
		}

		// Buffer the handler's response so no byte reaches the client before
		// settlement succeeds.
		writer := newBufferedWriter(c.Writer)
		c.Writer = writer

		defer func() {
			if rec := recover(); rec != nil {
				// Hand the panic to the recovery middleware with the real
				// writer restored; the buffered body is discarded unsettled.
				c.Writer = writer.ResponseWriter
				panic(rec)
			}
		}()

		c.Next()

		c.Writer = writer.ResponseWriter

		if c.IsAborted() || writer.Status() >= http.StatusBadRequest {
			// The handler refused the request: release its response as-is,
			// no settlement, no payment header.
			writer.release()
			return
		}

		settlement, err := gate.SettlePayment(c.Request.Context(), payload, requirements)
		if err != nil {
			logger.Error("payment settlement failed", "resource", requirements.Resource, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":       "failed to settle payment",
				"x402Version": types.X402Version,
			})
			return
		}
		if !settlement.Success {
			reason := "settlement failed"
			if settlement.ErrorReason != nil {
				reason = *settlement.ErrorReason
			}
			logger.Debug("settlement rejected", "resource", requirements.Resource, "reason", reason)
			c.AbortWithStatusJSON(http.StatusPaymentRequired, x402.Challenge(reason, requirements))
			return
		}

		responseHeader, err := x402.SettlementHeader(settlement)
		if err != nil {
			logger.Error("failed to encode settlement header", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":       "failed to encode settlement response",
				"x402Version": types.X402Version,
			})
			return
		}

		logger.Debug("payment settled",
			"resource", requirements.Resource,
			"network", settlement.Network,
			"transaction", settlement.Transaction,
		)
		c.Header("X-Payment-Response", responseHeader)
		writer.release()
	}
}

// bufferedWriter captures status, headers, and body written by the protected
// handler until the gate decides to release them.
type bufferedWriter struct {
	gin.ResponseWriter
	header      http.Header
	body        *bytes.Buffer
	statusCode  int
	wroteHeader bool
}

var _ gin.ResponseWriter = (*bufferedWriter)(nil)

func newBufferedWriter(w gin.ResponseWriter) *bufferedWriter {
	return &bufferedWriter{
		ResponseWriter: w,
		header:         w.Header().Clone(),
		body:           &bytes.Buffer{},
		statusCode:     http.StatusOK,
	}
}

func (w *bufferedWriter) Header() http.Header {
	return w.header
}

func (w *bufferedWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
	}
}

// WriteHeaderNow is suppressed; nothing is flushed until release.
func (w *bufferedWriter) WriteHeaderNow() {}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(b)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.WriteString(s)
}

func (w *bufferedWriter) Status() int {
	return w.statusCode
}

func (w *bufferedWriter) Size() int {
	return w.body.Len()
}

func (w *bufferedWriter) Written() bool {
	return w.wroteHeader || w.body.Len() > 0
}

// Flush is suppressed; streaming writes stay buffered until release.
func (w *bufferedWriter) Flush() {}

// release replays the captured response onto the real writer in original
// order: headers, then status, then body.
func (w *bufferedWriter) release() {
	dst := w.ResponseWriter.Header()
	for key, values := range w.header {
		dst[key] = values
	}
	w.ResponseWriter.WriteHeader(w.statusCode)
	if w.body.Len() > 0 {
		w.ResponseWriter.Write(w.body.Bytes())
	}
}
