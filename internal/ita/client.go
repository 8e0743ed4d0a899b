// Package ita appraises a TDX quote against Intel Trust Authority's
// attestation API. Appraisal is an optional enrichment layered on top
// of the DCAP verdict, never a substitute for it: a caller with no API
// key configured simply skips this step.
package ita

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"go.uber.org/zap"

	"github.com/Phala-Network/private-ai-verifier/internal/jwtutil"
)

const (
	defaultAppraisalURL = "https://api.trustauthority.intel.com/appraisal/v2/attest"
	defaultJWKSRefresh  = time.Hour
)

// ClientConfig configures a Client.
type ClientConfig struct {
	APIKey       string // empty disables appraisal; callers should check Enabled() first
	AppraisalURL string // defaults to the production Intel Trust Authority endpoint
	Logger       *zap.Logger
	HTTPClient   *http.Client // optional; defaults to a 15s-timeout client

	// JWKSURL, when set, turns on signature verification of the
	// appraisal token against Intel's published JWKS instead of the
	// default unverified decode. JWKSRefreshInterval defaults to an
	// hour when JWKSURL is set but the interval is left zero.
	JWKSURL             string
	JWKSRefreshInterval time.Duration
}

// Client appraises TDX quotes through Intel Trust Authority.
type Client struct {
	apiKey       string
	appraisalURL string
	httpClient   *http.Client
	logger       *zap.Logger

	jwksURL     string
	jwksRefresh time.Duration
	jwkSetOnce  sync.Once
	jwkSet      jwk.Set
	jwkSetErr   error
}

// NewClient builds a Client from config.
func NewClient(config ClientConfig) *Client {
	if config.AppraisalURL == "" {
		config.AppraisalURL = defaultAppraisalURL
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if config.JWKSURL != "" && config.JWKSRefreshInterval <= 0 {
		config.JWKSRefreshInterval = defaultJWKSRefresh
	}
	return &Client{
		apiKey:       config.APIKey,
		appraisalURL: config.AppraisalURL,
		httpClient:   config.HTTPClient,
		logger:       config.Logger,
		jwksURL:      config.JWKSURL,
		jwksRefresh:  config.JWKSRefreshInterval,
	}
}

// Enabled reports whether this client was configured with an API key.
// Appraisal is always optional; callers should skip it entirely rather
// than call Appraise when this is false.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

type appraisalRequest struct {
	TDX struct {
		Quote string `json:"quote"`
	} `json:"tdx"`
}

type appraisalResponse struct {
	Token string `json:"token"`
}

// Appraise submits quoteBytes to Intel Trust Authority and returns the
// decoded claims of the appraisal token it issues. Any failure —
// disabled client, network error, non-2xx response, missing token — is
// treated as "no appraisal available" (nil, nil) rather than propagated
// as an error, since appraisal is a best-effort enrichment the upstream
// verifier silently skips on failure.
func (c *Client) Appraise(ctx context.Context, quoteBytes []byte) (map[string]any, error) {
	if !c.Enabled() {
		return nil, nil
	}

	reqBody := appraisalRequest{}
	reqBody.TDX.Quote = base64.StdEncoding.EncodeToString(quoteBytes)

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.appraisalURL, bytes.NewReader(body))
	if err != nil {
		return nil, nil
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Sugar().Debugw("intel trust authority appraisal request failed", "error", err)
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Sugar().Debugw("intel trust authority appraisal returned non-200", "status", resp.StatusCode)
		return nil, nil
	}

	var parsed appraisalResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil || parsed.Token == "" {
		return nil, nil
	}

	claims, err := c.decodeToken(ctx, parsed.Token)
	if err != nil {
		c.logger.Sugar().Debugw("failed to decode intel trust authority token", "error", err)
		return nil, nil
	}
	return claims, nil
}

// decodeToken decodes an appraisal token's claims. When the client was
// configured with a JWKSURL, the token's signature is verified against
// that JWKS first; otherwise claims are read without verification,
// trusting the HTTPS connection and API key alone.
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
