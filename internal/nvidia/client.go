// Package nvidia talks to NVIDIA's Remote Attestation Service (NRAS)
// to verify a GPU evidence payload. NRAS returns a JWT per component
// rather than a single structured verdict, so this client decodes
// those tokens and flattens their claims for the composite verifiers
// that layer GPU checks on top of a TDX quote.
package nvidia

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Phala-Network/private-ai-verifier/internal/jwtutil"
)

const (
	defaultNrasURL = "https://nras.attestation.nvidia.com/v3/attest/gpu"
	requestTimeout = 15 * time.Second

	// overallResultClaim is the platform token claim NRAS sets to true
	// only when every attested GPU passed.
	overallResultClaim = "x-nvidia-overall-att-result"

	// nrasRateLimit bounds outbound attestation requests to NRAS so a
	// burst of concurrent GPU checks doesn't trip NVIDIA's own
	// throttling.
	nrasRateLimit = 5 // requests/sec
	nrasRateBurst = 10

	defaultJWKSRefresh = time.Hour
)

// Result is the outcome of a GPU attestation check against NRAS.
type Result struct {
	Valid  bool
	Claims map[string]any
	Raw    any
}

// Client verifies NVIDIA confidential-computing GPU evidence against
// NRAS.
type Client struct {
	nrasURL    string
	httpClient *http.Client
	logger     *zap.Logger
	limiter    *rate.Limiter

	jwksURL     string
	jwksRefresh time.Duration
	jwkSetOnce  sync.Once
	jwkSet      jwk.Set
	jwkSetErr   error
}

// NewClient builds a Client pointed at the production NRAS endpoint.
// If logger is nil, a no-op logger is used.
func NewClient(logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		nrasURL:    defaultNrasURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
		limiter:    rate.NewLimiter(nrasRateLimit, nrasRateBurst),
	}
}

// NewClientWithURL builds a Client against an arbitrary NRAS-compatible
// endpoint, for tests.
func NewClientWithURL(logger *zap.Logger, nrasURL string) *Client {
	c := NewClient(logger)
	c.nrasURL = nrasURL
	return c
}

// WithJWKS turns on signature verification of NRAS tokens against
// jwksURL instead of the default unverified decode. refreshInterval
// defaults to an hour when zero or negative.
func (c *Client) WithJWKS(jwksURL string, refreshInterval time.Duration) *Client {
	c.jwksURL = jwksURL
	if refreshInterval <= 0 {
		refreshInterval = defaultJWKSRefresh
	}
	c.jwksRefresh = refreshInterval
	return c
}

// Verify posts the GPU evidence payload (nonce plus per-GPU evidence,
// shaped however the caller's evidence collector produced it) to NRAS
// and decodes the resulting token array.
//
// NRAS replies with `[["JWT", platform_token], {device_id: gpu_token, ...}]`.
// The platform token's x-nvidia-overall-att-result claim is the single
// source of truth for pass/fail; per-GPU claims are merged in on top
// for detail but never override it.
func (c *Client) Verify(ctx context.Context, payload map[string]any) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("nvidia: rate limiter: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("nvidia: marshal evidence payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.nrasURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("nvidia: build request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nvidia: nras unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nvidia: nras responded with status %d", resp.StatusCode)
	}

	var tokens []any
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, fmt.Errorf("nvidia: decode nras response: %w", err)
	}
	if len(tokens) < 1 {
		return nil, fmt.Errorf("nvidia: empty nras response, expected at least a platform token")
	}

	platformClaims, err := c.decodePlatformToken(ctx, tokens[0])
	if err != nil {
		return nil, err
	}

	valid, _ := platformClaims[overallResultClaim].(bool)

	claims := map[string]any{}
	for k, v := range platformClaims {
		claims[k] = v
	}
	for k, v := range c.decodeFirstGPUToken(ctx, tokens) {
		claims[k] = v
	}

	return &Result{
		Valid:  valid,
		Claims: claims,
		Raw:    tokens,
	}, nil
}

func (c *Client) decodePlatformToken(ctx context.Context, entry any) (map[string]any, error) {
	pair, ok := entry.([]any)
	if !ok || len(pair) != 2 {
		return nil, fmt.Errorf("nvidia: malformed platform token entry")
	}
	kind, _ := pair[0].(string)
	if kind != "JWT" {
		return nil, fmt.Errorf("nvidia: unexpected platform token kind %q", kind)
	}
	jwtStr, _ := pair[1].(string)

	claims, err := c.decodeToken(ctx, jwtStr)
	if err != nil {
		c.logger.Sugar().Warnw("failed to decode nvidia platform token", "error", err)
		return map[string]any{}, nil
	}
	return claims, nil
}

// decodeFirstGPUToken decodes a single entry of the per-GPU token map,
// the one Go's map iteration yields first. The map is decoded from a
// JSON object, so when several GPUs are present which device's token is
// decoded is not defined; the others are not decoded.
func (c *Client) decodeFirstGPUToken(ctx context.Context, tokens []any) map[string]any {
	if len(tokens) < 2 {
		return nil
	}
	gpuTokens, ok := tokens[1].(map[string]any)
	if !ok || len(gpuTokens) == 0 {
		return nil
	}

	for _, raw := range gpuTokens {
		jwtStr, ok := raw.(string)
		if !ok {
			continue
		}
		claims, err := c.decodeToken(ctx, jwtStr)
		if err != nil {
			c.logger.Sugar().Warnw("failed to decode nvidia gpu token", "error", err)
			return nil
		}
		return claims
	}
	return nil
}

// decodeToken decodes a NRAS-issued token's claims. When the client was
// configured via WithJWKS, the token's signature is verified against
// that JWKS first; otherwise claims are read without verification,
// trusting the HTTPS connection to NRAS alone.
func (c *Client) decodeToken(ctx context.Context, token string) (map[string]any, error) {
	if c.jwksURL == "" {
		return jwtutil.DecodeUnverified(token)
	}
	c.jwkSetOnce.Do(func() {
		c.jwkSet, c.jwkSetErr = jwtutil.NewJWKCache(ctx, c.jwksURL, c.jwksRefresh)
	})
	if c.jwkSetErr != nil {
		return nil, c.jwkSetErr
	}
	return jwtutil.VerifyWithJWKS(token, c.jwkSet)
}
