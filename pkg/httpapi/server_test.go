package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Phala-Network/private-ai-verifier/internal/dcap"
	"github.com/Phala-Network/private-ai-verifier/pkg/provider"
	"github.com/Phala-Network/private-ai-verifier/pkg/sdk"
	"github.com/Phala-Network/private-ai-verifier/pkg/types"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify/intel"
)

type stubProvider struct{}

func (stubProvider) FetchReport(ctx context.Context, modelID string) (*types.AttestationReport, error) {
	return &types.AttestationReport{Provider: types.ProviderGeneric, IntelQuote: "deadbeef"}, nil
}

func (stubProvider) ListModels(ctx context.Context) ([]string, error) {
	return []string{"m1"}, nil
}

type stubOracleVerifier struct{}

func (stubOracleVerifier) GetCollateralAndVerify(ctx context.Context, quote []byte) (*dcap.CollateralResult, error) {
	return &dcap.CollateralResult{Status: "UpToDate"}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	registry := provider.NewRegistry(map[string]provider.Provider{"generic": stubProvider{}})
	oracle := dcap.NewOracle(stubOracleVerifier{}, nil)
	genericVerifier, err := intel.New(intel.Config{Oracle: oracle})
	require.NoError(t, err)
	facade, err := verify.New(verify.Config{Generic: genericVerifier})
	require.NoError(t, err)
	teeVerifier, err := sdk.New(sdk.Config{Providers: registry, Verifier: facade})
	require.NoError(t, err)

	srv := NewServer(teeVerifier, ":0", nil)
	return httptest.NewServer(srv.httpServer.Handler)
}

func TestHandleListProviders(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	resp, err := http.Get(server.URL + "/providers")
	require.NoError(t, err)
	defer resp.Body.Close()
	var providers []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&providers))
	assert.Equal(t, []string{"generic"}, providers)
}

func TestHandleVerifyModel(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	resp, err := http.Get(server.URL + "/verify-model?provider=generic&model_id=m1")
	require.NoError(t, err)
	defer resp.Body.Close()
	var result types.VerificationResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, types.ProviderGeneric, result.Provider)
}

func TestHandleVerifyModel_MissingParams(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	resp, err := http.Get(server.URL + "/verify-model")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
