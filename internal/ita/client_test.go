package ita

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	raw, err := json.Marshal(claims)
	require.NoError(t, err)
	payload := base64.RawURLEncoding.EncodeToString(raw)
	return header + "." + payload + ".sig"
}

func TestAppraise_Disabled(t *testing.T) {
	c := NewClient(ClientConfig{})
	assert.False(t, c.Enabled())

	claims, err := c.Appraise(t.Context(), []byte("quote"))
	require.NoError(t, err)
	assert.Nil(t, claims)
}

func TestAppraise_Success(t *testing.T) {
	token := fakeToken(t, map[string]any{"ear_status": "affirming"})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		_ = json.NewEncoder(w).Encode(appraisalResponse{Token: token})
	}))
	defer server.Close()

	c := NewClient(ClientConfig{APIKey: "test-key", AppraisalURL: server.URL})
	assert.True(t, c.Enabled())

	claims, err := c.Appraise(t.Context(), []byte("quote-bytes"))
	require.NoError(t, err)
	require.NotNil(t, claims)
	assert.Equal(t, "affirming", claims["ear_status"])
}

func TestAppraise_NonOKStatusReturnsNilNotError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	c := NewClient(ClientConfig{APIKey: "test-key", AppraisalURL: server.URL})
	claims, err := c.Appraise(t.Context(), []byte("quote"))
	require.NoError(t, err)
	assert.Nil(t, claims)
}

func TestAppraise_MissingTokenReturnsNilNotError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(appraisalResponse{})
	}))
	defer server.Close()

	c := NewClient(ClientConfig{APIKey: "test-key", AppraisalURL: server.URL})
	claims, err := c.Appraise(t.Context(), []byte("quote"))
	require.NoError(t, err)
	assert.Nil(t, claims)
}

func TestAppraise_NetworkFailureReturnsNilNotError(t *testing.T) {
	c := NewClient(ClientConfig{APIKey: "test-key", AppraisalURL: "http://127.0.0.1:0"})
	claims, err := c.Appraise(t.Context(), []byte("quote"))
	require.NoError(t, err)
	assert.Nil(t, claims)
}
