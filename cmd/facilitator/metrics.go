package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	x402 "github.com/mertkaradayi/stellar-x402"
	"github.com/mertkaradayi/stellar-x402/extensions/idempotency"
)

type serviceMetrics struct {
	verifyTotal    *prometheus.CounterVec
	settleTotal    *prometheus.CounterVec
	verifyDuration *prometheus.HistogramVec
	settleDuration *prometheus.HistogramVec
}

func newServiceMetrics(reg prometheus.Registerer) *serviceMetrics {
	factory := promauto.With(reg)
	return &serviceMetrics{
		verifyTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "x402",
			Subsystem: "facilitator",
			Name:      "verify_total",
			Help:      "Verification attempts by outcome.",
		}, []string{"outcome", "network"}),
		settleTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "x402",
			Subsystem: "facilitator",
			Name:      "settle_total",
			Help:      "Settlement attempts by outcome.",
		}, []string{"outcome", "network"}),
		verifyDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "x402",
			Subsystem: "facilitator",
			Name:      "verify_duration_seconds",
			Help:      "Verification latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		settleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "x402",
			Subsystem: "facilitator",
			Name:      "settle_duration_seconds",
			Help:      "Settlement latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
}

// instrument observes verify and settle outcomes through facilitator hooks.
// Settles answered from the replay cache bypass the inner facilitator and are
// not counted; nothing was submitted for them.
func (m *serviceMetrics) instrument(facilitator *idempotency.IdempotentFacilitator) {
	facilitator.OnAfterVerify(func(ctx x402.FacilitatorVerifyResultContext) error {
		outcome := "valid"
		if !ctx.Result.IsValid {
			outcome = "invalid"
		}
		m.verifyTotal.WithLabelValues(outcome, ctx.PaymentRequirements.Network).Inc()
		m.verifyDuration.WithLabelValues(outcome).Observe(ctx.Duration.Seconds())
		return nil
	})
	facilitator.OnVerifyFailure(func(ctx x402.FacilitatorVerifyFailureContext) (*x402.FacilitatorVerifyFailureHookResult, error) {
		m.verifyTotal.WithLabelValues("error", ctx.PaymentRequirements.Network).Inc()
		m.verifyDuration.WithLabelValues("error").Observe(ctx.Duration.Seconds())
		return nil, nil
	})
	facilitator.OnAfterSettle(func(ctx x402.FacilitatorSettleResultContext) error {
		outcome := "success"
		if !ctx.Result.Success {
			outcome = "failure"
		}
		m.settleTotal.WithLabelValues(outcome, ctx.PaymentRequirements.Network).Inc()
		m.settleDuration.WithLabelValues(outcome).Observe(ctx.Duration.Seconds())
		return nil
	})
	facilitator.OnSettleFailure(func(ctx x402.FacilitatorSettleFailureContext) (*x402.FacilitatorSettleFailureHookResult, error) {
		m.settleTotal.WithLabelValues("error", ctx.PaymentRequirements.Network).Inc()
		m.settleDuration.WithLabelValues("error").Observe(ctx.Duration.Seconds())
		return nil, nil
	})
}
