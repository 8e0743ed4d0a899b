// Package dcap wraps the DCAP quote-verification library: a black-box
// oracle that takes raw TDX quote bytes and returns a TCB status plus
// structured report body. The oracle's job is purely to classify that
// status into Intel's "attestation valid, patch advisories only" set
// versus everything else — it never re-implements quote cryptography.
package dcap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrDcapFailure wraps any verification failure reported by the
// underlying DCAP library or collateral service.
var ErrDcapFailure = errors.New("dcap: verification failed")

// successStatuses is the accepted set: Intel's "attestation valid, patch
// advisories only" states.
var successStatuses = map[string]bool{
	"UpToDate":                          true,
	"SWHardeningNeeded":                 true,
	"ConfigurationNeeded":               true,
	"ConfigurationAndSWHardeningNeeded": true,
}

// CollateralResult is what the underlying DCAP library returns for a
// quote: its TCB status, any advisory IDs attached to that status, and
// the structured TD10/TD15 report body it parsed out of the quote.
type CollateralResult struct {
	Status      string         `json:"status"`
	AdvisoryIDs []string       `json:"advisory_ids"`
	ReportBody  map[string]any `json:"report_body"`
}

// QuoteVerifier is the black-box DCAP oracle contract: given raw quote
// bytes, fetch the relevant TCB collateral (possibly over the network
// to Intel PCS) and return a verdict. Implementations are fallible —
// network I/O to Intel PCS may occur inside.
type QuoteVerifier interface {
	GetCollateralAndVerify(ctx context.Context, quote []byte) (*CollateralResult, error)
}

// Verdict is the oracle's normalised output: a pass/fail classification
// plus the raw status string and report body for downstream claims.
type Verdict struct {
	Status      string
	Accepted    bool
	AdvisoryIDs []string
	ReportBody  map[string]any
}

// Oracle normalises QuoteVerifier's raw status into the accepted/failed
// classification described in spec §4.2.
type Oracle struct {
	verifier QuoteVerifier
	logger   *zap.Logger
}

// NewOracle constructs an Oracle around a QuoteVerifier implementation.
// If logger is nil, a no-op logger is used.
func NewOracle(verifier QuoteVerifier, logger *zap.Logger) *Oracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Oracle{verifier: verifier, logger: logger}
}

// Verify classifies the quote's DCAP status. A non-nil error is
// returned only when the oracle itself could not be reached; any status
// it answers with, recognised or not, comes back with a nil error, and
// Verdict.Accepted carries the TCB-status classification (false for an
// unrecognised status).
func (o *Oracle) Verify(ctx context.Context, quote []byte) (*Verdict, error) {
	result, err := o.verifier.GetCollateralAndVerify(ctx, quote)
	if err != nil {
		o.logger.Sugar().Warnw("dcap collateral fetch failed", "error", err)
		return nil, errors.Wrap(ErrDcapFailure, err.Error())
	}

	accepted := successStatuses[result.Status]
	o.logger.Sugar().Debugw("dcap status classified", "status", result.Status, "accepted", accepted)

	return &Verdict{
		Status:      result.Status,
		Accepted:    accepted,
		AdvisoryIDs: result.AdvisoryIDs,
		ReportBody:  result.ReportBody,
	}, nil
}

// HTTPQuoteVerifier implements QuoteVerifier by POSTing the quote
// (base64-encoded) to a collateral-checking service and parsing its
// JSON response. It is the production stand-in for the native DCAP
// library, which this engine treats as an external collaborator rather
// than re-implementing the signature-chain/TCB check itself.
type HTTPQuoteVerifier struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPQuoteVerifier builds a verifier that POSTs to baseURL+"/verify".
func NewHTTPQuoteVerifier(baseURL string) *HTTPQuoteVerifier {
	return &HTTPQuoteVerifier{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type httpQuoteRequest struct {
	Quote string `json:"quote"`
}

func (v *HTTPQuoteVerifier) GetCollateralAndVerify(ctx context.Context, quote []byte) (*CollateralResult, error) {
	body, err := json.Marshal(httpQuoteRequest{Quote: fmt.Sprintf("%x", quote)})
	if err != nil {
		return nil, fmt.Errorf("dcap: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.BaseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("dcap: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dcap: collateral service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dcap: collateral service returned status %d", resp.StatusCode)
	}

	var result CollateralResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("dcap: decode response: %w", err)
	}
	return &result, nil
}
