// Package verify is the single entry point the rest of the engine
// calls to verify an AttestationReport: it dispatches on
// report.Provider to the matching policy/composite verifier and
// returns a uniform VerificationResult regardless of which backend
// actually produced it.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/Phala-Network/private-ai-verifier/pkg/types"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify/intel"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify/nearai"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify/redpill"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify/tinfoil"
)

// Facade dispatches an AttestationReport to the verifier matching its
// Provider.
type Facade struct {
	generic *intel.Verifier
	tinfoil *tinfoil.Policy
	redpill *redpill.Router
	nearai  *nearai.Verifier
}

// Config wires a Facade's collaborators. Generic is required (used for
// ProviderGeneric reports carrying a bare TDX quote); Tinfoil, Redpill,
// and NearAI may be nil when the caller doesn't need those providers
// wired, in which case reports tagged for them fail closed with a
// descriptive error rather than a nil-pointer panic.
type Config struct {
	Generic *intel.Verifier
	Tinfoil *tinfoil.Policy
	Redpill *redpill.Router
	NearAI  *nearai.Verifier
}

// New builds a Facade from config.
func New(config Config) (*Facade, error) {
	if config.Generic == nil {
		return nil, fmt.Errorf("verify: generic intel verifier is required")
	}
	return &Facade{generic: config.Generic, tinfoil: config.Tinfoil, redpill: config.Redpill, nearai: config.NearAI}, nil
}

// Verify dispatches report to the verifier registered for its
// Provider.
func (f *Facade) Verify(ctx context.Context, report *types.AttestationReport) *types.VerificationResult {
	switch report.Provider {
	case types.ProviderTinfoil:
		if f.tinfoil == nil {
			return unavailableResult(report.Provider, "tinfoil verifier not configured")
		}
		repo, _ := report.Raw["repo"].(string)
		result := f.tinfoil.Verify(ctx, report.IntelQuote, report.ModelID, repo)
		result.Provider = types.ProviderTinfoil
		return result

	case types.ProviderRedpill:
		if f.redpill == nil {
			return unavailableResult(report.Provider, "redpill router not configured")
		}
		reportData := map[string]any{
			"model_id":        report.ModelID,
			"intel_quote":     report.IntelQuote,
			"request_nonce":   report.RequestNonce,
			"nvidia_payload":  report.NvidiaPayload,
			"signing_address": report.Raw["signing_address"],
			"raw":             report.Raw["raw"],
		}
		result := f.redpill.Verify(ctx, reportData)
		result.Provider = types.ProviderRedpill
		return result

	case types.ProviderNearAI:
		if f.nearai == nil {
			return unavailableResult(report.Provider, "nearai verifier not configured")
		}
		result := f.nearai.Verify(ctx, report.Raw, report.RequestNonce)
		result.Provider = types.ProviderNearAI
		return result

	default:
		result := f.generic.Verify(ctx, report.IntelQuote, report.ModelID, "")
		result.Provider = types.ProviderGeneric
		return result
	}
}

func unavailableResult(provider types.Provider, reason string) *types.VerificationResult {
	return &types.VerificationResult{
		ModelVerified: false,
		Provider:      provider,
		Timestamp:     time.Now(),
		HardwareType:  []string{},
		Claims:        map[string]any{},
		Error:         reason,
	}
}
