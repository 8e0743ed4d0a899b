package provider

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Phala-Network/private-ai-verifier/pkg/config"
	"github.com/Phala-Network/private-ai-verifier/pkg/types"
)

const tinfoilAttestationFormatPrefix = "https://tinfoil.sh/predicate/tdx-guest/"

// TinfoilProvider fetches enclave attestations published at a Tinfoil
// model's well-known endpoint.
type TinfoilProvider struct {
	modelMap   *config.TinfoilModelMap
	httpClient *http.Client
	logger     *zap.Logger
}

// NewTinfoilProvider builds a TinfoilProvider backed by modelMap.
func NewTinfoilProvider(modelMap *config.TinfoilModelMap, logger *zap.Logger) *TinfoilProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TinfoilProvider{
		modelMap:   modelMap,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

type tinfoilAttestationResponse struct {
	Format string `json:"format"`
	Body   string `json:"body"`
}

// FetchReport fetches and decompresses the TDX quote published by
// modelID's enclave at /.well-known/tinfoil-attestation.
func (p *TinfoilProvider) FetchReport(ctx context.Context, modelID string) (*types.AttestationReport, error) {
	host, err := p.modelMap.Host(modelID)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("https://%s/.well-known/tinfoil-attestation", host)
	p.logger.Sugar().Infow("fetching tinfoil attestation", "url", url, "model_id", modelID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch tinfoil attestation: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tinfoil attestation request failed: status %d", resp.StatusCode)
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tinfoil attestation response: %w", err)
	}

	raw, err := decodeJSONObject(bodyBytes)
	if err != nil {
		return nil, fmt.Errorf("decode tinfoil attestation response: %w", err)
	}

	format, _ := raw["format"].(string)
	if !strings.HasPrefix(format, tinfoilAttestationFormatPrefix) {
		if format == "" {
			format = "missing"
		}
		return nil, fmt.Errorf("unsupported tinfoil attestation format: %s", format)
	}

	body, _ := raw["body"].(string)
	if body == "" {
		return nil, fmt.Errorf("tinfoil response missing body")
	}

	compressed, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("decode tinfoil attestation body: %w", err)
	}
	quoteBytes, err := gunzip(compressed)
	if err != nil {
		return nil, fmt.Errorf("decompress tinfoil attestation body: %w", err)
	}

	raw["repo"] = p.modelMap.Repo(modelID)
	raw["model_id"] = modelID

	return &types.AttestationReport{
		Provider:   types.ProviderTinfoil,
		ModelID:    modelID,
		IntelQuote: fmt.Sprintf("%x", quoteBytes),
		Raw:        raw,
	}, nil
}

// ListModels returns every model ID the Tinfoil config names.
func (p *TinfoilProvider) ListModels(ctx context.Context) ([]string, error) {
	return p.modelMap.ListModels()
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
