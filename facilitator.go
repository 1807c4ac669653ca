package x402

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mertkaradayi/stellar-x402/pkg/types"
)

// X402Facilitator manages payment verification and settlement. It routes each
// request to the mechanism registered for the requirements' (network, scheme)
// pair, with wildcard network matching, and runs lifecycle hooks around both
// operations.
type X402Facilitator struct {
	mu sync.RWMutex

	schemes map[Network]map[string]SchemeNetworkFacilitator
	extras  map[Network]map[string]interface{}

	// Lifecycle hooks
	beforeVerifyHooks    []FacilitatorBeforeVerifyHook
	afterVerifyHooks     []FacilitatorAfterVerifyHook
	onVerifyFailureHooks []FacilitatorOnVerifyFailureHook
	beforeSettleHooks    []FacilitatorBeforeSettleHook
	afterSettleHooks     []FacilitatorAfterSettleHook
	onSettleFailureHooks []FacilitatorOnSettleFailureHook
}

func NewX402Facilitator() *X402Facilitator {
	return &X402Facilitator{
		schemes: make(map[Network]map[string]SchemeNetworkFacilitator),
		extras:  make(map[Network]map[string]interface{}),
	}
}

// Register registers a facilitator mechanism for a network. The optional extra
// value overrides the mechanism's own GetExtra in the supported response.
func (f *X402Facilitator) Register(network Network, facilitator SchemeNetworkFacilitator, extra ...interface{}) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.schemes[network] == nil {
		f.schemes[network] = make(map[string]SchemeNetworkFacilitator)
	}
	f.schemes[network][facilitator.Scheme()] = facilitator

	if len(extra) > 0 {
		if f.extras[network] == nil {
			f.extras[network] = make(map[string]interface{})
		}
		f.extras[network][facilitator.Scheme()] = extra[0]
	}
	return f
}

// ============================================================================
// Hook Registration Methods
// ============================================================================

func (f *X402Facilitator) OnBeforeVerify(hook FacilitatorBeforeVerifyHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeVerifyHooks = append(f.beforeVerifyHooks, hook)
	return f
}

func (f *X402Facilitator) OnAfterVerify(hook FacilitatorAfterVerifyHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterVerifyHooks = append(f.afterVerifyHooks, hook)
	return f
}

func (f *X402Facilitator) OnVerifyFailure(hook FacilitatorOnVerifyFailureHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onVerifyFailureHooks = append(f.onVerifyFailureHooks, hook)
	return f
}

func (f *X402Facilitator) OnBeforeSettle(hook FacilitatorBeforeSettleHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeSettleHooks = append(f.beforeSettleHooks, hook)
	return f
}

func (f *X402Facilitator) OnAfterSettle(hook FacilitatorAfterSettleHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterSettleHooks = append(f.afterSettleHooks, hook)
	return f
}

func (f *X402Facilitator) OnSettleFailure(hook FacilitatorOnSettleFailureHook) *X402Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSettleFailureHooks = append(f.onSettleFailureHooks, hook)
	return f
}

// ============================================================================
// Core Payment Methods (Network Boundary - uses bytes, routes internally)
// ============================================================================

// Verify verifies a payment. Malformed input and version mismatches produce an
// invalid VerifyResponse with an enumerated reason, never an error; errors are
// reserved for mechanism-level failures (and can be recovered by hooks).
func (f *X402Facilitator) Verify(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*types.VerifyResponse, error) {
	payload, err := types.ToPaymentPayload(payloadBytes)
	if err != nil {
		return invalidVerifyResponse(ErrCodeInvalidPayload), nil
	}
	requirements, err := types.ToPaymentRequirements(requirementsBytes)
	if err != nil {
		return invalidVerifyResponse(ErrCodeInvalidPaymentRequirements), nil
	}
	if payload.X402Version != ProtocolVersion {
		return invalidVerifyResponse(ErrCodeInvalidX402Version), nil
	}

	hookCtx := FacilitatorVerifyContext{
		Ctx:                 ctx,
		PaymentPayload:      *payload,
		PaymentRequirements: *requirements,
		Timestamp:           time.Now(),
	}
	for _, hook := range f.beforeVerifyHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return invalidVerifyResponse(err.Error()), err
		}
		if result != nil && result.Abort {
			return invalidVerifyResponse(result.Reason), nil
		}
	}

	started := time.Now()
	verifyResult, verifyErr := f.verify(ctx, payload, requirements)

	if verifyErr != nil {
		failureCtx := FacilitatorVerifyFailureContext{
			FacilitatorVerifyContext: hookCtx,
			Error:                    verifyErr,
			Duration:                 time.Since(started),
		}
		for _, hook := range f.onVerifyFailureHooks {
			result, _ := hook(failureCtx)
			if result != nil && result.Recovered {
				return &result.Result, nil
			}
		}
		return verifyResult, verifyErr
	}

	resultCtx := FacilitatorVerifyResultContext{
		FacilitatorVerifyContext: hookCtx,
		Result:                   *verifyResult,
		Duration:                 time.Since(started),
	}
	for _, hook := range f.afterVerifyHooks {
		_ = hook(resultCtx) // Log errors but don't fail
	}

	return verifyResult, nil
}

// Settle settles a payment. Routing mirrors Verify; a before-hook abort fails
// the settlement with the hook's reason.
func (f *X402Facilitator) Settle(ctx context.Context, payloadBytes []byte, requirementsBytes []byte) (*types.SettleResponse, error) {
	payload, err := types.ToPaymentPayload(payloadBytes)
	if err != nil {
		return failedSettleResponse(ErrCodeInvalidPayload), nil
	}
	requirements, err := types.ToPaymentRequirements(requirementsBytes)
	if err != nil {
		return failedSettleResponse(ErrCodeInvalidPaymentRequirements), nil
	}
	if payload.X402Version != ProtocolVersion {
		return failedSettleResponse(ErrCodeInvalidX402Version), nil
	}

	hookCtx := FacilitatorSettleContext{
		Ctx:                 ctx,
		PaymentPayload:      *payload,
		PaymentRequirements: *requirements,
		Timestamp:           time.Now(),
	}
	for _, hook := range f.beforeSettleHooks {
		result, err := hook(hookCtx)
		if err != nil {
			return failedSettleResponse(err.Error()), err
		}
		if result != nil && result.Abort {
			return failedSettleResponse(result.Reason), fmt.Errorf("%s", result.Reason)
		}
	}

	started := time.Now()
	settleResult, settleErr := f.settle(ctx, payload, requirements)

	if settleErr != nil {
		failureCtx := FacilitatorSettleFailureContext{
			FacilitatorSettleContext: hookCtx,
			Error:                    settleErr,
			Duration:                 time.Since(started),
		}
		for _, hook := range f.onSettleFailureHooks {
			result, _ := hook(failureCtx)
			if result != nil && result.Recovered {
				return &result.Result, nil
			}
		}
		return settleResult, settleErr
	}

	resultCtx := FacilitatorSettleResultContext{
		FacilitatorSettleContext: hookCtx,
		Result:                   *settleResult,
		Duration:                 time.Since(started),
	}
	for _, hook := range f.afterSettleHooks {
		_ = hook(resultCtx) // Log errors but don't fail
	}

	return settleResult, nil
}

// ============================================================================
// Internal Typed Methods (called after decoding)
// ============================================================================

func (f *X402Facilitator) verify(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.VerifyResponse, error) {
	f.mu.RLock()
	facilitator := findByNetworkAndScheme(f.schemes, requirements.Scheme, Network(requirements.Network))
	f.mu.RUnlock()

	if facilitator == nil {
		return invalidVerifyResponse(ErrCodeUnsupportedScheme), nil
	}

	return facilitator.Verify(ctx, payload, requirements)
}

func (f *X402Facilitator) settle(ctx context.Context, payload *types.PaymentPayload, requirements *types.PaymentRequirements) (*types.SettleResponse, error) {
	f.mu.RLock()
	facilitator := findByNetworkAndScheme(f.schemes, requirements.Scheme, Network(requirements.Network))
	f.mu.RUnlock()

	if facilitator == nil {
		return failedSettleResponse(ErrCodeUnsupportedScheme), nil
	}

	return facilitator.Settle(ctx, payload, requirements)
}

// GetSupported returns supported payment kinds, sorted by network then scheme
// so the response is stable across restarts.
func (f *X402Facilitator) GetSupported(ctx context.Context) (types.SupportedResponse, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var kinds []types.SupportedKind
	for network, schemeMap := range f.schemes {
		for scheme, facilitator := range schemeMap {
			kind := types.SupportedKind{
				X402Version: ProtocolVersion,
				Scheme:      scheme,
				Network:     string(network),
			}
			extra := f.extras[network][scheme]
			if extra == nil {
				extra = facilitator.GetExtra(network)
			}
			if extraMap, ok := extra.(map[string]interface{}); ok {
				kind.Extra = extraMap
			}
			kinds = append(kinds, kind)
		}
	}

	sort.Slice(kinds, func(i, j int) bool {
		if kinds[i].Network != kinds[j].Network {
			return kinds[i].Network < kinds[j].Network
		}
		return kinds[i].Scheme < kinds[j].Scheme
	})

	return types.SupportedResponse{Kinds: kinds}, nil
}

func invalidVerifyResponse(reason string) *types.VerifyResponse {
	return &types.VerifyResponse{IsValid: false, InvalidReason: &reason}
}

func failedSettleResponse(reason string) *types.SettleResponse {
	return &types.SettleResponse{Success: false, ErrorReason: &reason}
}
