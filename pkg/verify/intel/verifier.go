// Package intel implements the baseline Intel TDX verifier: it runs a
// quote through the DCAP oracle, classifies the TCB status, and
// optionally enriches the verdict with an Intel Trust Authority
// appraisal. The Tinfoil policy (used directly and on Redpill's Tinfoil
// path) wraps this verifier and adds its own pins on top of the claims
// it produces; the Phala and NearAI composites verify their quotes
// through the dstack-verifier service instead.
package intel

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Phala-Network/private-ai-verifier/internal/dcap"
	"github.com/Phala-Network/private-ai-verifier/internal/ita"
	"github.com/Phala-Network/private-ai-verifier/internal/tdx"
	"github.com/Phala-Network/private-ai-verifier/pkg/types"
)

// Verifier produces the baseline verdict for a raw TDX quote: DCAP
// status classification plus the decoded measurement registers as
// claims, with an optional Intel Trust Authority appraisal layered in.
type Verifier struct {
	oracle *dcap.Oracle
	ita    *ita.Client // nil-safe: ita.Client.Enabled() gates the call
	logger *zap.Logger
}

// Config wires a Verifier's collaborators.
type Config struct {
	Oracle *dcap.Oracle
	ITA    *ita.Client
	Logger *zap.Logger
}

// New builds a Verifier from config. Oracle is required; ITA may be
// nil or a disabled client to skip appraisal entirely.
func New(config Config) (*Verifier, error) {
	if config.Oracle == nil {
		return nil, fmt.Errorf("intel: oracle is required")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Verifier{oracle: config.Oracle, ita: config.ITA, logger: config.Logger}, nil
}

// Verify runs quoteHex through the DCAP oracle and returns a
// VerificationResult tagged with Provider ProviderGeneric, modelID, and
// repo claim (repo is optional — pass "" when the caller has none).
//
// When the DCAP oracle itself fails (collateral fetch error, not a bad
// TCB status), this falls back to the manual byte-offset TDX parse so
// downstream policy checks (Tinfoil's hardware pin in particular) still
// have register values to compare, with ModelVerified forced false and
// Error set — mirroring the upstream verifier's explicit choice to keep
// the manual-parse claims around for its subclasses rather than discard
// them on failure.
func (v *Verifier) Verify(ctx context.Context, quoteHex, modelID, repo string) *types.VerificationResult {
	quoteBytes, err := hex.DecodeString(quoteHex)
	if err != nil {
		return &types.VerificationResult{
			ModelVerified: false,
			Provider:      types.ProviderGeneric,
			Timestamp:     time.Now(),
			HardwareType:  []string{types.HardwareIntelTDX},
			ModelID:       modelID,
			Claims:        map[string]any{"trace_id": uuid.New().String()},
			Error:         fmt.Sprintf("invalid quote hex: %v", err),
		}
	}

	verdict, err := v.oracle.Verify(ctx, quoteBytes)
	if err != nil {
		return v.fallbackResult(ctx, quoteBytes, modelID, repo, err)
	}

	claims := map[string]any{
		"status":       verdict.Status,
		"advisory_ids": verdict.AdvisoryIDs,
		"trace_id":     uuid.New().String(),
	}
	for k, val := range verdict.ReportBody {
		claims[k] = val
	}
	if repo != "" {
		claims["repo"] = repo
	}

	result := &types.VerificationResult{
		ModelVerified: verdict.Accepted,
		Provider:      types.ProviderGeneric,
		Timestamp:     time.Now(),
		HardwareType:  []string{types.HardwareIntelTDX},
		ModelID:       modelID,
		Claims:        claims,
	}
	if !verdict.Accepted {
		result.Error = fmt.Sprintf("verification failed with status: %s", verdict.Status)
	}

	v.attachAppraisal(ctx, quoteBytes, claims)
	return result
}

func (v *Verifier) fallbackResult(ctx context.Context, quoteBytes []byte, modelID, repo string, verifyErr error) *types.VerificationResult {
	v.logger.Sugar().Warnw("dcap verification failed, falling back to manual parse", "error", verifyErr)

	claims := map[string]any{}
	if quote, parseErr := tdx.Parse(quoteBytes); parseErr == nil {
		claims = map[string]any{
			"tee_tcb_svn":      quote.TeeTcbSvn,
			"mr_seam":          quote.MrSeam,
			"mr_signer_seam":   quote.MrSignerSeam,
			"seam_attributes":  quote.SeamAttributes,
			"td_attributes":    quote.TdAttributes,
			"xfam":             quote.Xfam,
			"mr_td":            quote.MrTd,
			"mr_config_id":     quote.MrConfigId,
			"mr_owner":         quote.MrOwner,
			"mr_owner_config":  quote.MrOwnerConfig,
			"rt_mr0":           quote.RtMr0,
			"rt_mr1":           quote.RtMr1,
			"rt_mr2":           quote.RtMr2,
			"rt_mr3":           quote.RtMr3,
			"report_data":      quote.ReportData,
			"registers":        quote.Registers(),
		}
	}
	if repo != "" {
		claims["repo"] = repo
	}
	claims["status"] = "Error"
	claims["trace_id"] = uuid.New().String()

	v.attachAppraisal(ctx, quoteBytes, claims)

	return &types.VerificationResult{
		ModelVerified: false,
		Provider:      types.ProviderGeneric,
		Timestamp:     time.Now(),
		HardwareType:  []string{types.HardwareIntelTDX},
		ModelID:       modelID,
		Claims:        claims,
		Error:         fmt.Sprintf("verification failed: %v", verifyErr),
	}
}

func (v *Verifier) attachAppraisal(ctx context.Context, quoteBytes []byte, claims map[string]any) {
	if v.ita == nil || !v.ita.Enabled() {
		return
	}
	appraisal, err := v.ita.Appraise(ctx, quoteBytes)
	if err != nil || appraisal == nil {
		return
	}
	claims["intel_trust_authority"] = appraisal
}
