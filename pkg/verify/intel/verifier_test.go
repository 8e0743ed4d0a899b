package intel

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Phala-Network/private-ai-verifier/internal/dcap"
	"github.com/Phala-Network/private-ai-verifier/internal/ita"
)

type stubQuoteVerifier struct {
	result *dcap.CollateralResult
	err    error
}

func (s *stubQuoteVerifier) GetCollateralAndVerify(ctx context.Context, quote []byte) (*dcap.CollateralResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func fullQuote() string {
	header := make([]byte, 48)
	body := make([]byte, 584)
	for i := range body {
		body[i] = byte(i)
	}
	return hex.EncodeToString(append(header, body...))
}

func TestVerify_Accepted(t *testing.T) {
	oracle := dcap.NewOracle(&stubQuoteVerifier{result: &dcap.CollateralResult{
		Status:     "UpToDate",
		ReportBody: map[string]any{"mr_td": "abc"},
	}}, nil)

	v, err := New(Config{Oracle: oracle})
	require.NoError(t, err)

	result := v.Verify(t.Context(), fullQuote(), "model-1", "some/repo")
	assert.True(t, result.ModelVerified)
	assert.Empty(t, result.Error)
	assert.Equal(t, "model-1", result.ModelID)
	assert.Equal(t, "some/repo", result.Claims["repo"])
	assert.Equal(t, "abc", result.Claims["mr_td"])
}

func TestVerify_RejectedStatus(t *testing.T) {
	oracle := dcap.NewOracle(&stubQuoteVerifier{result: &dcap.CollateralResult{Status: "OutOfDate"}}, nil)

	v, err := New(Config{Oracle: oracle})
	require.NoError(t, err)

	result := v.Verify(t.Context(), fullQuote(), "", "")
	assert.False(t, result.ModelVerified)
	assert.Contains(t, result.Error, "OutOfDate")
}

func TestVerify_DcapFailureFallsBackToManualParse(t *testing.T) {
	oracle := dcap.NewOracle(&stubQuoteVerifier{err: assertError("collateral service down")}, nil)

	v, err := New(Config{Oracle: oracle})
	require.NoError(t, err)

	result := v.Verify(t.Context(), fullQuote(), "model-x", "")
	assert.False(t, result.ModelVerified)
	assert.Equal(t, "Error", result.Claims["status"])
	assert.NotEmpty(t, result.Claims["mr_td"])
	assert.NotEmpty(t, result.Claims["report_data"])
}

func TestVerify_InvalidHex(t *testing.T) {
	oracle := dcap.NewOracle(&stubQuoteVerifier{result: &dcap.CollateralResult{Status: "UpToDate"}}, nil)
	v, err := New(Config{Oracle: oracle})
	require.NoError(t, err)

	result := v.Verify(t.Context(), "not-hex", "", "")
	assert.False(t, result.ModelVerified)
	assert.Contains(t, result.Error, "invalid quote hex")
}

func TestVerify_AppraisalDisabledByDefault(t *testing.T) {
	oracle := dcap.NewOracle(&stubQuoteVerifier{result: &dcap.CollateralResult{Status: "UpToDate"}}, nil)
	v, err := New(Config{Oracle: oracle, ITA: ita.NewClient(ita.ClientConfig{})})
	require.NoError(t, err)

	result := v.Verify(t.Context(), fullQuote(), "", "")
	assert.NotContains(t, result.Claims, "intel_trust_authority")
}

func TestNew_RequiresOracle(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

type simpleError string

func (e simpleError) Error() string { return string(e) }

func assertError(msg string) error { return simpleError(msg) }
