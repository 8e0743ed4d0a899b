package provider

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNearAIProvider_FetchReport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ecdsa", r.URL.Query().Get("signing_algo"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model_attestations": []map[string]any{
				{"intel_quote": "cafebabe", "nvidia_payload": map[string]any{"y": 2}},
			},
		})
	}))
	defer server.Close()

	p := NewNearAIProviderWithBase(server.URL, nil)
	report, err := p.FetchReport(t.Context(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "cafebabe", report.IntelQuote)
	assert.Equal(t, float64(2), report.NvidiaPayload["y"])
}

func TestNearAIProvider_MissingAttestations(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer server.Close()

	p := NewNearAIProviderWithBase(server.URL, nil)
	_, err := p.FetchReport(t.Context(), "m1")
	assert.ErrorContains(t, err, "missing model_attestations")
}

func TestNearAIProvider_ListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]string{"m1", "m2"})
	}))
	defer server.Close()

	p := NewNearAIProviderWithBase(server.URL, nil)
	models, err := p.ListModels(t.Context())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"m1", "m2"}, models)
}
