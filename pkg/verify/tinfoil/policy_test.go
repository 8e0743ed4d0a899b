package tinfoil

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Phala-Network/private-ai-verifier/internal/dcap"
	"github.com/Phala-Network/private-ai-verifier/internal/sigstore"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify/intel"
)

type stubQuoteVerifier struct {
	result *dcap.CollateralResult
}

func (s *stubQuoteVerifier) GetCollateralAndVerify(ctx context.Context, quote []byte) (*dcap.CollateralResult, error) {
	return s.result, nil
}

func validReportBody() map[string]any {
	return map[string]any{
		"mr_seam":         "49b66faa451d19ebbdbe89371b8daf2b65aa3984ec90110343e9e2eec116af08850fa20e3b1aa9a874d77a65380ee7e6",
		"td_attributes":   expectedTdAttributes,
		"xfam":            expectedXfam,
		"mr_owner":        zero48,
		"mr_owner_config": zero48,
		"rt_mr3":          zero48,
		"rt_mr1":          "rtmr1-val",
		"rt_mr2":          "rtmr2-val",
		"mr_td":           "mrtd-val",
		"rt_mr0":          "rtmr0-val",
	}
}

func quoteHex() string {
	return hex.EncodeToString(make([]byte, 632))
}

func newPolicy(t *testing.T, reportBody map[string]any) *Policy {
	t.Helper()
	oracle := dcap.NewOracle(&stubQuoteVerifier{result: &dcap.CollateralResult{
		Status:     "UpToDate",
		ReportBody: reportBody,
	}}, nil)
	base, err := intel.New(intel.Config{Oracle: oracle})
	require.NoError(t, err)

	fetcher := sigstore.NewFetcher(nil)
	p, err := New(Config{Base: base, Fetcher: fetcher})
	require.NoError(t, err)
	return p
}

func TestVerify_HardwarePolicyPassesWithoutRepo(t *testing.T) {
	p := newPolicy(t, validReportBody())
	result := p.Verify(t.Context(), quoteHex(), "model", "")
	assert.True(t, result.ModelVerified)
	assert.Empty(t, result.Error)
}

func TestVerify_InvalidMrSeamFails(t *testing.T) {
	body := validReportBody()
	body["mr_seam"] = "deadbeef"
	p := newPolicy(t, body)

	result := p.Verify(t.Context(), quoteHex(), "model", "")
	assert.False(t, result.ModelVerified)
	assert.Contains(t, result.Error, "MrSeam")
	assert.True(t, strings.HasPrefix(result.Error, "Policy violation: "), result.Error)
}

func TestVerify_NonZeroOwnerFails(t *testing.T) {
	body := validReportBody()
	body["mr_owner"] = strings.Repeat("ff", 48)
	p := newPolicy(t, body)

	result := p.Verify(t.Context(), quoteHex(), "model", "")
	assert.False(t, result.ModelVerified)
	assert.Contains(t, result.Error, "mr_owner")
}

func TestVerify_ManifestPolicyMatchesGoldenMeasurements(t *testing.T) {
	githubMux := http.NewServeMux()
	githubMux.HandleFunc("/repos/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tag_name":"v1"}`))
	})
	githubMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("abc123"))
	})
	github := httptest.NewServer(githubMux)
	defer github.Close()

	callCount := 0
	attMux := http.NewServeMux()
	attMux.HandleFunc("/repos/", func(w http.ResponseWriter, r *http.Request) {
		callCount++
		var payloadB64 string
		if strings.Contains(r.URL.Path, "hardware-measurements") {
			payloadB64 = mustBase64(t, map[string]any{
				"predicateType": predicateHardwareMeasurement(),
				"predicate": map[string]any{
					"gen1": map[string]any{"mrtd": "mrtd-val", "rtmr0": "rtmr0-val"},
				},
			})
		} else {
			payloadB64 = mustBase64(t, map[string]any{
				"predicateType": predicateImageMeasurement(),
				"predicate": map[string]any{
					"tdx_measurement": map[string]any{"rtmr1": "rtmr1-val", "rtmr2": "rtmr2-val"},
				},
			})
		}
		w.Write([]byte(`{"attestations":[{"bundle":{"dsseEnvelope":{"payload":"` + payloadB64 + `"}}}]}`))
	})
	attestation := httptest.NewServer(attMux)
	defer attestation.Close()

	oracle := dcap.NewOracle(&stubQuoteVerifier{result: &dcap.CollateralResult{
		Status:     "UpToDate",
		ReportBody: validReportBody(),
	}}, nil)
	base, err := intel.New(intel.Config{Oracle: oracle})
	require.NoError(t, err)
	fetcher := sigstore.NewFetcherWithProxies(nil, github.URL, attestation.URL)
	p, err := New(Config{Base: base, Fetcher: fetcher})
	require.NoError(t, err)

	result := p.Verify(t.Context(), quoteHex(), "model", "some/repo")
	assert.True(t, result.ModelVerified, result.Error)
	assert.Equal(t, "gen1", result.Claims["hw_profile"])
}

func TestVerify_ManifestMismatchFails(t *testing.T) {
	body := validReportBody()
	body["rt_mr1"] = "wrong-value"
	p := newPolicy(t, body) // sigstore fetch fails closed (empty), so golden != actual

	result := p.Verify(t.Context(), quoteHex(), "model", "some/repo")
	assert.False(t, result.ModelVerified)
	assert.Contains(t, result.Error, "RTMR1 mismatch")
}

func mustBase64(t *testing.T, v map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func predicateImageMeasurement() string    { return "https://tinfoil.sh/predicate/snp-tdx-multiplatform/v1" }
func predicateHardwareMeasurement() string { return "https://tinfoil.sh/predicate/hardware-measurements/v1" }
