package provider

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/Phala-Network/private-ai-verifier/pkg/types"
)

const redpillAPIBase = "https://api.redpill.ai/v1"

// RedpillProvider fetches attestation reports for models resold
// through the Redpill marketplace. Redpill models are themselves Phala
// Cloud apps, NearAI gateways, or Tinfoil enclaves; verification
// dispatch on the fetched report happens downstream in
// pkg/verify/redpill, not here.
type RedpillProvider struct {
	apiBase    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewRedpillProvider builds a RedpillProvider against the production
// Redpill API.
func NewRedpillProvider(logger *zap.Logger) *RedpillProvider {
	return NewRedpillProviderWithBase(redpillAPIBase, logger)
}

// NewRedpillProviderWithBase builds a RedpillProvider against apiBase,
// letting tests redirect to a local server.
func NewRedpillProviderWithBase(apiBase string, logger *zap.Logger) *RedpillProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedpillProvider{
		apiBase:    apiBase,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// FetchReport requests a fresh attestation report for modelID, binding
// a random nonce to the request so the caller can later check the
// returned quote's report-data commits to it.
func (p *RedpillProvider) FetchReport(ctx context.Context, modelID string) (*types.AttestationReport, error) {
	nonce, err := randomHex(32)
	if err != nil {
		return nil, fmt.Errorf("generate redpill request nonce: %w", err)
	}

	reqURL := fmt.Sprintf("%s/attestation/report?%s", p.apiBase, url.Values{
		"model": {modelID},
		"nonce": {nonce},
	}.Encode())
	p.logger.Sugar().Infow("fetching redpill attestation", "model_id", modelID, "nonce_prefix", nonce[:8])

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch redpill attestation: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("redpill attestation request failed: status %d", resp.StatusCode)
	}

	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode redpill attestation response: %w", err)
	}

	quote, _ := data["intel_quote"].(string)
	if quote == "" {
		return nil, fmt.Errorf("redpill report missing intel_quote")
	}

	nvidiaPayload := decodeNvidiaPayload(data["nvidia_payload"])
	data["model_id"] = modelID

	return &types.AttestationReport{
		Provider:      types.ProviderRedpill,
		ModelID:       modelID,
		IntelQuote:    quote,
		RequestNonce:  nonce,
		NvidiaPayload: nvidiaPayload,
		Raw:           data,
	}, nil
}

// ListModels returns every model ID currently served by Redpill.
func (p *RedpillProvider) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+"/models", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch redpill models: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode redpill models: %w", err)
	}

	models := make([]string, 0, len(body.Data))
	for _, m := range body.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

func decodeNvidiaPayload(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(t), &m); err == nil {
			return m
		}
	}
	return nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
