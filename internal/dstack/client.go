// Package dstack talks to a dstack-verifier HTTP service: Phala's
// external verifier for confidential-container TEE state (quote,
// runtime event log, VM config). Like the DCAP collateral check, this
// service's cryptographic and event-log replay logic is treated as a
// black box here — this package only specifies its wire contract.
package dstack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultServiceURL = "http://localhost:8080"

// Result is the dstack-verifier service's verdict for one TEE
// component.
type Result struct {
	IsValid    bool
	Reason     string
	ReportData string
	Details    map[string]any
}

// Client verifies dstack TEE evidence against a dstack-verifier
// service instance.
type Client struct {
	serviceURL string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a Client against serviceURL. An empty serviceURL
// defaults to http://localhost:8080, matching the upstream verifier's
// default. If logger is nil, a no-op logger is used.
func NewClient(serviceURL string, logger *zap.Logger) *Client {
	if serviceURL == "" {
		serviceURL = defaultServiceURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		serviceURL: serviceURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

type verifyRequest struct {
	Quote    string `json:"quote"`
	EventLog string `json:"event_log"`
	VMConfig string `json:"vm_config"`
}

type verifyResponse struct {
	IsValid    bool           `json:"is_valid"`
	Reason     string         `json:"reason"`
	ReportData string         `json:"report_data"`
	Details    map[string]any `json:"details"`
}

// Verify posts the quote/event-log/VM-config triple to the
// dstack-verifier service and returns its verdict. Network failures
// and non-2xx responses fail closed: IsValid=false with Reason
// describing what went wrong, matching the upstream client's
// try/except-into-invalid-result contract rather than propagating a Go
// error, since callers fold this straight into a component verdict.
func (c *Client) Verify(ctx context.Context, quote, eventLog, vmConfig string) *Result {
	c.logger.Sugar().Infow("verifying with dstack-verifier service", "service_url", c.serviceURL)

	body, err := json.Marshal(verifyRequest{Quote: quote, EventLog: eventLog, VMConfig: vmConfig})
	if err != nil {
		return &Result{IsValid: false, Reason: fmt.Sprintf("marshal request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return &Result{IsValid: false, Reason: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Sugar().Errorw("failed to verify with dstack-verifier service", "error", err)
		return &Result{IsValid: false, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("dstack-verifier responded with status %d", resp.StatusCode)
		c.logger.Sugar().Errorw("failed to verify with dstack-verifier service", "error", err)
		return &Result{IsValid: false, Reason: err.Error()}
	}

	var parsed verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		c.logger.Sugar().Errorw("failed to decode dstack-verifier response", "error", err)
		return &Result{IsValid: false, Reason: fmt.Sprintf("decode response: %v", err)}
	}

	return &Result{
		IsValid:    parsed.IsValid,
		Reason:     parsed.Reason,
		ReportData: parsed.ReportData,
		Details:    parsed.Details,
	}
}

// ComposeHash extracts details.app_info.compose_hash from a Result, if
// present. Used by the Phala and NearAI composite verifiers to compare
// the running app's compose hash against its expected manifest digest.
func (r *Result) ComposeHash() string {
	if r == nil || r.Details == nil {
		return ""
	}
	appInfo, _ := r.Details["app_info"].(map[string]any)
	if appInfo == nil {
		return ""
	}
	hash, _ := appInfo["compose_hash"].(string)
	return hash
}
