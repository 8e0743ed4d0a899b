package provider

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedpillProvider_FetchReport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/attestation/report", r.URL.Path)
		assert.Equal(t, "m1", r.URL.Query().Get("model"))
		assert.NotEmpty(t, r.URL.Query().Get("nonce"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"intel_quote":    "deadbeef",
			"nvidia_payload": `{"x":1}`,
		})
	}))
	defer server.Close()

	p := NewRedpillProviderWithBase(server.URL, nil)
	report, err := p.FetchReport(t.Context(), "m1")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", report.IntelQuote)
	assert.NotEmpty(t, report.RequestNonce)
	assert.Equal(t, float64(1), report.NvidiaPayload["x"])
}

func TestRedpillProvider_MissingQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer server.Close()

	p := NewRedpillProviderWithBase(server.URL, nil)
	_, err := p.FetchReport(t.Context(), "m1")
	assert.ErrorContains(t, err, "missing intel_quote")
}

func TestRedpillProvider_ListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"id": "a"}, {"id": "b"}},
		})
	}))
	defer server.Close()

	p := NewRedpillProviderWithBase(server.URL, nil)
	models, err := p.ListModels(t.Context())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, models)
}
