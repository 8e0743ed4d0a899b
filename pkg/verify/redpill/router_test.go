package redpill

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Phala-Network/private-ai-verifier/internal/dcap"
	"github.com/Phala-Network/private-ai-verifier/internal/dstack"
	"github.com/Phala-Network/private-ai-verifier/internal/nvidia"
	"github.com/Phala-Network/private-ai-verifier/internal/sigstore"
	"github.com/Phala-Network/private-ai-verifier/pkg/config"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify/intel"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify/nearai"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify/phala"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify/tinfoil"
)

func newTestRouter(t *testing.T, modelsHandler http.HandlerFunc) (*Router, *httptest.Server) {
	t.Helper()

	modelsServer := httptest.NewServer(modelsHandler)
	t.Cleanup(modelsServer.Close)

	dstackServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"is_valid": true})
	}))
	t.Cleanup(dstackServer.Close)

	nvidiaServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]any{})
	}))
	t.Cleanup(nvidiaServer.Close)

	dstackClient := dstack.NewClient(dstackServer.URL, nil)
	nvidiaClient := nvidia.NewClientWithURL(nil, nvidiaServer.URL)

	nearaiVerifier, err := nearai.New(nearai.Config{DstackClient: dstackClient, NvidiaClient: nvidiaClient})
	require.NoError(t, err)
	phalaVerifier, err := phala.New(phala.Config{DstackClient: dstackClient, NvidiaClient: nvidiaClient})
	require.NoError(t, err)

	oracle := dcap.NewOracle(nopVerifier{}, nil)
	baseVerifier, err := intel.New(intel.Config{Oracle: oracle})
	require.NoError(t, err)
	tinfoilPolicy, err := tinfoil.New(tinfoil.Config{Base: baseVerifier, Fetcher: sigstore.NewFetcher(nil)})
	require.NoError(t, err)

	modelMapPath := filepath.Join(t.TempDir(), "redpill_config.yml")
	require.NoError(t, os.WriteFile(modelMapPath, []byte(`
tinfoil_models:
  tinfoil/model-a: tinfoil-enclave-a
nearai_models:
  nearai/model-b: NearAI/model-b
`), 0o644))

	router, err := New(Config{
		TinfoilPolicy:  tinfoilPolicy,
		NearAIVerifier: nearaiVerifier,
		PhalaVerifier:  phalaVerifier,
		ModelMap:       config.NewRedpillModelMap(modelMapPath),
		HTTPClient:     modelsServer.Client(),
	})
	require.NoError(t, err)
	router.modelsURL = modelsServer.URL
	return router, modelsServer
}

type nopVerifier struct{}

func (nopVerifier) GetCollateralAndVerify(ctx context.Context, quote []byte) (*dcap.CollateralResult, error) {
	return &dcap.CollateralResult{Status: "UpToDate"}, nil
}

func TestVerify_MissingModelID(t *testing.T) {
	router, server := newTestRouter(t, func(w http.ResponseWriter, r *http.Request) {})
	server.Close()

	result := router.Verify(t.Context(), map[string]any{})
	assert.False(t, result.ModelVerified)
	assert.Contains(t, result.Error, "missing model_id")
}

func TestVerify_UnknownModel(t *testing.T) {
	router, _ := newTestRouter(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	})

	result := router.Verify(t.Context(), map[string]any{"model_id": "nope"})
	assert.False(t, result.ModelVerified)
	assert.Contains(t, result.Error, "could not find model info")
}

func TestVerify_UnverifiableProvider(t *testing.T) {
	router, _ := newTestRouter(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []any{
				map[string]any{"id": "m1", "metadata": map[string]any{"providers": []any{"openai"}}},
			},
		})
	})

	result := router.Verify(t.Context(), map[string]any{"model_id": "m1"})
	assert.False(t, result.ModelVerified)
	assert.Contains(t, result.Error, "is not verifiable")
}

func TestVerify_NoTinfoilMapping(t *testing.T) {
	router, _ := newTestRouter(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []any{
				map[string]any{"id": "unmapped", "metadata": map[string]any{"providers": []any{"tinfoil"}}},
			},
		})
	})

	result := router.Verify(t.Context(), map[string]any{"model_id": "unmapped"})
	assert.False(t, result.ModelVerified)
	assert.Contains(t, result.Error, "no tinfoil mapping")
}

func TestVerify_PhalaReportDataBindingFailure(t *testing.T) {
	router, _ := newTestRouter(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []any{
				map[string]any{"id": "phala-model", "metadata": map[string]any{"appid": "app-1"}},
			},
		})
	})

	reportData := map[string]any{
		"model_id":        "phala-model",
		"intel_quote":     strings.Repeat("00", 632),
		"request_nonce":   strings.Repeat("22", 32),
		"signing_address": "0102030405060708090a0b0c0d0e0f1011121314",
		"system_info": map[string]any{
			"instances": []any{
				map[string]any{"quote": "q1", "eventlog": "[]"},
			},
			"vm_config": "{}",
		},
	}

	result := router.Verify(t.Context(), reportData)
	assert.False(t, result.ModelVerified)
	assert.Contains(t, result.Error, "Report data binding failed")
}

func TestVerify_NearAIGPUNonceMismatch(t *testing.T) {
	router, _ := newTestRouter(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []any{
				map[string]any{"id": "nearai/model-b", "metadata": map[string]any{"providers": []any{"near-ai"}}},
			},
		})
	})

	reportData := map[string]any{
		"model_id":      "nearai/model-b",
		"request_nonce": "bbbb",
		"raw": map[string]any{
			"gateway_attestation": map[string]any{
				"intel_quote":    "q1",
				"event_log":      "[]",
				"info":           map[string]any{"vm_config": "{}"},
				"nvidia_payload": map[string]any{"nonce": "aaaa"},
			},
		},
	}

	result := router.Verify(t.Context(), reportData)
	assert.False(t, result.ModelVerified)
	assert.Contains(t, result.Error, "GPU nonce mismatch")
}
