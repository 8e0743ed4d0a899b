package dcap

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVerifier struct {
	result *CollateralResult
	err    error
}

func (s *stubVerifier) GetCollateralAndVerify(ctx context.Context, quote []byte) (*CollateralResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func TestOracle_StatusClassification(t *testing.T) {
	successStatusesTable := []string{
		"UpToDate",
		"SWHardeningNeeded",
		"ConfigurationNeeded",
		"ConfigurationAndSWHardeningNeeded",
	}
	failureStatusesTable := []string{
		"OutOfDate",
		"OutOfDateConfigurationNeeded",
		"Revoked",
		"Unknown",
		"SomethingElse",
	}

	for _, status := range successStatusesTable {
		t.Run("accept_"+status, func(t *testing.T) {
			o := NewOracle(&stubVerifier{result: &CollateralResult{Status: status}}, nil)
			v, err := o.Verify(context.Background(), []byte("quote"))
			require.NoError(t, err)
			assert.True(t, v.Accepted, "expected %s to be accepted", status)
		})
	}

	for _, status := range failureStatusesTable {
		t.Run("reject_"+status, func(t *testing.T) {
			o := NewOracle(&stubVerifier{result: &CollateralResult{Status: status}}, nil)
			v, err := o.Verify(context.Background(), []byte("quote"))
			require.NoError(t, err)
			assert.False(t, v.Accepted, "expected %s to be rejected", status)
		})
	}
}

func TestOracle_UnderlyingFailure(t *testing.T) {
	o := NewOracle(&stubVerifier{err: fmt.Errorf("network down")}, nil)
	_, err := o.Verify(context.Background(), []byte("quote"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDcapFailure)
}

func TestOracle_CarriesAdvisoryIDsAndReportBody(t *testing.T) {
	o := NewOracle(&stubVerifier{result: &CollateralResult{
		Status:      "SWHardeningNeeded",
		AdvisoryIDs: []string{"INTEL-SA-1234"},
		ReportBody:  map[string]any{"mr_td": "deadbeef"},
	}}, nil)

	v, err := o.Verify(context.Background(), []byte("quote"))
	require.NoError(t, err)
	assert.Equal(t, []string{"INTEL-SA-1234"}, v.AdvisoryIDs)
	assert.Equal(t, "deadbeef", v.ReportBody["mr_td"])
}
