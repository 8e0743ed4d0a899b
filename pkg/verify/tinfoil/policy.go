// Package tinfoil layers Tinfoil's hardware and manifest pins on top of
// the baseline Intel TDX verdict: a fixed allow-list of MR_SEAM values,
// exact TD_ATTRIBUTES/XFAM pins, zeroed owner/RTMR3 fields, and a
// Sigstore-backed comparison of the running image's RTMR1/RTMR2 and
// hardware generation's MRTD/RTMR0 against golden values published for
// the model's source repo.
package tinfoil

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Phala-Network/private-ai-verifier/internal/sigstore"
	"github.com/Phala-Network/private-ai-verifier/pkg/types"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify/intel"
)

// acceptedMrSeams are the TDX module hashes Tinfoil's environment may
// run, derived from https://github.com/tinfoilsh/verifier's own pin
// list (current generation plus the previous one, kept during
// rollovers).
var acceptedMrSeams = map[string]bool{
	"49b66faa451d19ebbdbe89371b8daf2b65aa3984ec90110343e9e2eec116af08850fa20e3b1aa9a874d77a65380ee7e6": true,
	"685f891ea5c20e8fa27b151bf34bf3b50fbaf7143cc53662727cbdb167c0ad8385f1f6f3571539a91e104a1c96d75e04": true,
}

const (
	expectedTdAttributes = "0000001000000000"
	expectedXfam         = "e702060000000000"
)

// zero48 is the 48-byte all-zero field (96 hex chars) MR_OWNER,
// MR_OWNER_CONFIG, and RT_MR3 must equal under Tinfoil's policy.
var zero48 = strings.Repeat("00", 48)

// Fetcher is the golden-measurement source a Policy checks manifest
// pins against. Satisfied by *sigstore.Fetcher directly, or by any
// decorator (e.g. a caching layer) wrapping one.
type Fetcher interface {
	FetchImageMeasurements(ctx context.Context, repo string) sigstore.ImageMeasurements
	FetchHardwareProfiles(ctx context.Context) sigstore.HardwareProfiles
}

// Policy verifies a Tinfoil-hosted model's TDX attestation: the
// baseline Intel verdict, then Tinfoil's own hardware and manifest
// pins on top.
type Policy struct {
	base    *intel.Verifier
	fetcher Fetcher
	logger  *zap.Logger
}

// Config wires a Policy's collaborators.
type Config struct {
	Base    *intel.Verifier
	Fetcher Fetcher
	Logger  *zap.Logger
}

// New builds a Policy from config.
func New(config Config) (*Policy, error) {
	if config.Base == nil {
		return nil, fmt.Errorf("tinfoil: base verifier is required")
	}
	if config.Fetcher == nil {
		return nil, fmt.Errorf("tinfoil: sigstore fetcher is required")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Policy{base: config.Base, fetcher: config.Fetcher, logger: config.Logger}, nil
}

// Verify runs the baseline Intel verdict for quoteHex, then applies
// Tinfoil's hardware and (when repo is non-empty) manifest pins. The
// policy checks run even when the base verdict failed; any reasons they
// collect mark the result unverified and are appended, as a "Policy
// violation" message, after the base verdict's own error.
func (p *Policy) Verify(ctx context.Context, quoteHex, modelID, repo string) *types.VerificationResult {
	result := p.base.Verify(ctx, quoteHex, modelID, repo)
	if result.Claims == nil {
		return result
	}

	var reasons []string
	p.checkHardwarePolicy(result.Claims, &reasons)

	if repo != "" {
		p.checkManifestPolicy(ctx, result.Claims, repo, &reasons)
	}

	if len(reasons) > 0 {
		result.ModelVerified = false
		msg := "Policy violation: " + joinReasons(reasons)
		if result.Error != "" {
			msg = result.Error + "; " + msg
		}
		result.Error = msg
	}

	return result
}

func (p *Policy) checkHardwarePolicy(claims map[string]any, reasons *[]string) {
	mrSeam, _ := claims["mr_seam"].(string)
	if !acceptedMrSeams[mrSeam] {
		*reasons = append(*reasons, fmt.Sprintf("invalid MrSeam: %s", mrSeam))
	}

	if td, _ := claims["td_attributes"].(string); td != expectedTdAttributes {
		*reasons = append(*reasons, fmt.Sprintf("invalid TdAttributes: %s", td))
	}

	if xfam, _ := claims["xfam"].(string); xfam != expectedXfam {
		*reasons = append(*reasons, fmt.Sprintf("invalid Xfam: %s", xfam))
	}

	if owner, _ := claims["mr_owner"].(string); owner != zero48 {
		*reasons = append(*reasons, "mr_owner is not zero")
	}

	if ownerConfig, _ := claims["mr_owner_config"].(string); ownerConfig != zero48 {
		*reasons = append(*reasons, "mr_owner_config is not zero")
	}

	if rtmr3, _ := claims["rt_mr3"].(string); rtmr3 != "" && rtmr3 != zero48 {
		*reasons = append(*reasons, "RTMR3 is not zeroed")
	}
}

func (p *Policy) checkManifestPolicy(ctx context.Context, claims map[string]any, repo string, reasons *[]string) {
	golden := p.fetcher.FetchImageMeasurements(ctx, repo)
	actualRtmr1, _ := claims["rt_mr1"].(string)
	actualRtmr2, _ := claims["rt_mr2"].(string)

	if golden.RTMR1 != actualRtmr1 {
		*reasons = append(*reasons, fmt.Sprintf("RTMR1 mismatch: expected %s, got %s", golden.RTMR1, actualRtmr1))
	}
	if golden.RTMR2 != actualRtmr2 {
		*reasons = append(*reasons, fmt.Sprintf("RTMR2 mismatch: expected %s, got %s", golden.RTMR2, actualRtmr2))
	}

	profiles := p.fetcher.FetchHardwareProfiles(ctx)
	actualMrtd, _ := claims["mr_td"].(string)
	actualRtmr0, _ := claims["rt_mr0"].(string)

	found := false
	for name, profile := range profiles {
		if profile.MRTD == actualMrtd && profile.RTMR0 == actualRtmr0 {
			found = true
			claims["hw_profile"] = name
			break
		}
	}

	if !found {
		*reasons = append(*reasons, fmt.Sprintf("no matching hardware profile found for MRTD=%s... RTMR0=%s...",
			truncate(actualMrtd, 8), truncate(actualRtmr0, 8)))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += ", "
		}
		out += r
	}
	return out
}
