package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/Phala-Network/private-ai-verifier/pkg/types"
)

const nearaiAPIBase = "https://cloud-api.near.ai/v1"

// NearAIProvider fetches attestation reports for models hosted on
// NearAI. A NearAI report bundles one attestation per gateway/model
// component; this layer surfaces the first model attestation's quote
// as the report's IntelQuote and keeps the full bundle in Raw for the
// composite verifier.
type NearAIProvider struct {
	apiBase    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewNearAIProvider builds a NearAIProvider against the production
// NearAI API.
func NewNearAIProvider(logger *zap.Logger) *NearAIProvider {
	return NewNearAIProviderWithBase(nearaiAPIBase, logger)
}

// NewNearAIProviderWithBase builds a NearAIProvider against apiBase,
// letting tests redirect to a local server.
func NewNearAIProviderWithBase(apiBase string, logger *zap.Logger) *NearAIProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NearAIProvider{
		apiBase:    apiBase,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// FetchReport requests a fresh attestation bundle for modelID, binding
// a random nonce signed with ecdsa per NearAI's signing_algo parameter.
func (p *NearAIProvider) FetchReport(ctx context.Context, modelID string) (*types.AttestationReport, error) {
	nonce, err := randomHex(32)
	if err != nil {
		return nil, fmt.Errorf("generate nearai request nonce: %w", err)
	}

	reqURL := fmt.Sprintf("%s/attestation/report?%s", p.apiBase, url.Values{
		"model":        {modelID},
		"signing_algo": {"ecdsa"},
		"nonce":        {nonce},
	}.Encode())
	p.logger.Sugar().Infow("fetching nearai attestation", "model_id", modelID, "nonce_prefix", nonce[:8])

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch nearai attestation: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nearai attestation request failed: status %d", resp.StatusCode)
	}

	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode nearai attestation response: %w", err)
	}

	attestations, ok := data["model_attestations"].([]any)
	if !ok || len(attestations) == 0 {
		return nil, fmt.Errorf("nearai report missing model_attestations")
	}

	first, ok := attestations[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("nearai report has malformed model_attestations[0]")
	}
	quote, _ := first["intel_quote"].(string)
	if quote == "" {
		return nil, fmt.Errorf("nearai report missing intel_quote")
	}

	nvidiaPayload := decodeNvidiaPayload(first["nvidia_payload"])

	return &types.AttestationReport{
		Provider:      types.ProviderNearAI,
		ModelID:       modelID,
		IntelQuote:    quote,
		RequestNonce:  nonce,
		NvidiaPayload: nvidiaPayload,
		Raw:           data,
	}, nil
}

// ListModels returns every model ID currently served by NearAI.
func (p *NearAIProvider) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+"/model/list", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch nearai models: %w", err)
	}
	defer resp.Body.Close()

	var raw []any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode nearai models: %w", err)
	}

	models := make([]string, 0, len(raw))
	for _, m := range raw {
		switch t := m.(type) {
		case string:
			models = append(models, t)
		case map[string]any:
			if id, ok := t["modelId"].(string); ok {
				models = append(models, id)
			}
		}
	}
	return models, nil
}
