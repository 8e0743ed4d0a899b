// Package sdk exposes the verification engine as a single façade:
// fetch an attestation report from a named provider, verify it, or do
// both in one call. It is the entry point cmd/verifier-server and
// cmd/verify-cli both sit on top of.
package sdk

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Phala-Network/private-ai-verifier/pkg/provider"
	"github.com/Phala-Network/private-ai-verifier/pkg/types"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify"
)

// TeeVerifier is the top-level façade over the provider registry and
// the verification facade.
type TeeVerifier struct {
	providers *provider.Registry
	verifier  *verify.Facade
	logger    *zap.Logger
}

// Config wires a TeeVerifier's collaborators.
type Config struct {
	Providers *provider.Registry
	Verifier  *verify.Facade
	Logger    *zap.Logger
}

// New builds a TeeVerifier from config.
func New(config Config) (*TeeVerifier, error) {
	if config.Providers == nil {
		return nil, fmt.Errorf("sdk: provider registry is required")
	}
	if config.Verifier == nil {
		return nil, fmt.Errorf("sdk: verification facade is required")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &TeeVerifier{providers: config.Providers, verifier: config.Verifier, logger: config.Logger}, nil
}

// FetchReport fetches a fresh attestation report for modelID from the
// named provider.
func (t *TeeVerifier) FetchReport(ctx context.Context, providerName, modelID string) (*types.AttestationReport, error) {
	p, ok := t.providers.Get(strings.ToLower(providerName))
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", providerName)
	}
	return p.FetchReport(ctx, modelID)
}

// Verify runs the verification facade against an already-fetched
// report.
func (t *TeeVerifier) Verify(ctx context.Context, report *types.AttestationReport) *types.VerificationResult {
	return t.verifier.Verify(ctx, report)
}

// VerifyModel fetches a report from providerName for modelID, then
// verifies it in one call.
func (t *TeeVerifier) VerifyModel(ctx context.Context, providerName, modelID string) *types.VerificationResult {
	report, err := t.FetchReport(ctx, providerName, modelID)
	if err != nil {
		return &types.VerificationResult{
			ModelVerified: false,
			HardwareType:  []string{},
			Claims:        map[string]any{},
			Error:         err.Error(),
		}
	}
	return t.Verify(ctx, report)
}

// ListProviders returns every provider name registered with this
// TeeVerifier.
func (t *TeeVerifier) ListProviders() []string {
	return t.providers.Names()
}

// ListModels returns every model ID the named provider currently
// serves.
func (t *TeeVerifier) ListModels(ctx context.Context, providerName string) ([]string, error) {
	p, ok := t.providers.Get(strings.ToLower(providerName))
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", providerName)
	}
	return p.ListModels(ctx)
}
