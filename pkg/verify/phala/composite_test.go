package phala

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Phala-Network/private-ai-verifier/internal/dstack"
	"github.com/Phala-Network/private-ai-verifier/internal/nvidia"
)

func newTestVerifier(t *testing.T, dstackHandler http.HandlerFunc) *Verifier {
	t.Helper()
	dstackServer := httptest.NewServer(dstackHandler)
	t.Cleanup(dstackServer.Close)

	dstackClient := dstack.NewClient(dstackServer.URL, nil)
	nvidiaServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]any{})
	}))
	t.Cleanup(nvidiaServer.Close)
	nvidiaClient := nvidia.NewClientWithURL(nil, nvidiaServer.URL)

	v, err := New(Config{DstackClient: dstackClient, NvidiaClient: nvidiaClient})
	require.NoError(t, err)
	return v
}

func TestVerify_AllComponentsValid(t *testing.T) {
	v := newTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"is_valid": true})
	})

	systemInfo := map[string]any{
		"app_id": "app-1",
		"instances": []any{
			map[string]any{"quote": "q1", "eventlog": "[]", "image_version": "1.0"},
		},
		"vm_config": "{}",
	}

	result := v.Verify(t.Context(), "app-1", systemInfo, nil)
	assert.True(t, result.ModelVerified, result.Error)
	assert.Contains(t, result.HardwareType, "INTEL_TDX")
}

func TestVerify_MissingInstances(t *testing.T) {
	v := newTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {})

	result := v.Verify(t.Context(), "app-1", map[string]any{}, nil)
	assert.False(t, result.ModelVerified)
	assert.Contains(t, result.Error, "no instances")
}

func TestVerify_ComponentMissingData(t *testing.T) {
	v := newTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"is_valid": true})
	})

	systemInfo := map[string]any{
		"instances": []any{
			map[string]any{"quote": "", "eventlog": "", "image_version": "1.0"},
		},
	}

	result := v.Verify(t.Context(), "app-1", systemInfo, nil)
	assert.False(t, result.ModelVerified)
	assert.Contains(t, result.Error, "model failed")
}

func TestVerify_ComposeHashMismatch(t *testing.T) {
	v := newTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"is_valid": true,
			"details": map[string]any{
				"app_info": map[string]any{"compose_hash": "not-the-real-hash"},
			},
		})
	})

	systemInfo := map[string]any{
		"instances": []any{
			map[string]any{"quote": "q1", "eventlog": "[]"},
		},
		"vm_config": "{}",
		"kms_guest_agent_info": map[string]any{
			"vm_config": "{}",
			"tcb_info":  map[string]any{"event_log": "[]", "app_compose": "services: {}"},
			"app_certificates": []any{
				map[string]any{"quote": "kms-quote"},
			},
		},
	}

	result := v.Verify(t.Context(), "app-1", systemInfo, nil)
	assert.False(t, result.ModelVerified)
	assert.Contains(t, result.Error, "compose hash mismatch")
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
