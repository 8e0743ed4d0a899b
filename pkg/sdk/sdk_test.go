package sdk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Phala-Network/private-ai-verifier/internal/dcap"
	"github.com/Phala-Network/private-ai-verifier/pkg/provider"
	"github.com/Phala-Network/private-ai-verifier/pkg/types"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify/intel"
)

type stubProvider struct {
	report *types.AttestationReport
	err    error
	models []string
}

func (s stubProvider) FetchReport(ctx context.Context, modelID string) (*types.AttestationReport, error) {
	return s.report, s.err
}

func (s stubProvider) ListModels(ctx context.Context) ([]string, error) {
	return s.models, nil
}

type stubOracleVerifier struct{}

func (stubOracleVerifier) GetCollateralAndVerify(ctx context.Context, quote []byte) (*dcap.CollateralResult, error) {
	return &dcap.CollateralResult{Status: "UpToDate"}, nil
}

func newTestSDK(t *testing.T, registry *provider.Registry) *TeeVerifier {
	t.Helper()
	oracle := dcap.NewOracle(stubOracleVerifier{}, nil)
	genericVerifier, err := intel.New(intel.Config{Oracle: oracle})
	require.NoError(t, err)
	facade, err := verify.New(verify.Config{Generic: genericVerifier})
	require.NoError(t, err)
	sdkVerifier, err := New(Config{Providers: registry, Verifier: facade})
	require.NoError(t, err)
	return sdkVerifier
}

func TestTeeVerifier_VerifyModel(t *testing.T) {
	registry := provider.NewRegistry(map[string]provider.Provider{
		"generic-test": stubProvider{report: &types.AttestationReport{
			Provider:   types.ProviderGeneric,
			IntelQuote: "deadbeef",
		}},
	})
	sdkVerifier := newTestSDK(t, registry)

	result := sdkVerifier.VerifyModel(t.Context(), "generic-test", "m1")
	assert.Equal(t, types.ProviderGeneric, result.Provider)
}

func TestTeeVerifier_UnknownProvider(t *testing.T) {
	registry := provider.NewRegistry(map[string]provider.Provider{})
	sdkVerifier := newTestSDK(t, registry)

	result := sdkVerifier.VerifyModel(t.Context(), "nope", "m1")
	assert.False(t, result.ModelVerified)
	assert.Contains(t, result.Error, "unknown provider")
}

func TestTeeVerifier_ListProvidersAndModels(t *testing.T) {
	registry := provider.NewRegistry(map[string]provider.Provider{
		"generic-test": stubProvider{models: []string{"a", "b"}},
	})
	sdkVerifier := newTestSDK(t, registry)

	assert.ElementsMatch(t, []string{"generic-test"}, sdkVerifier.ListProviders())
	models, err := sdkVerifier.ListModels(t.Context(), "generic-test")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, models)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
