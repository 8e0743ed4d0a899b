// Package sigstore fetches golden measurement bundles published as
// Sigstore/GitHub attestations and extracts the DSSE-enveloped in-toto
// payload they carry. It is the mechanism Tinfoil's manifest pin relies
// on: the golden RTMR1/RTMR2 image digests and MRTD/RTMR0 hardware
// profiles both arrive this way, keyed by predicate type.
package sigstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	githubProxyBase      = "https://api-github-proxy.tinfoil.sh"
	attestationProxyBase = "https://gh-attestation-proxy.tinfoil.sh"

	predicateImageMeasurement    = "https://tinfoil.sh/predicate/snp-tdx-multiplatform/v1"
	predicateHardwareMeasurement = "https://tinfoil.sh/predicate/hardware-measurements/v1"

	hardwareMeasurementsRepo = "tinfoilsh/hardware-measurements"

	fetchTimeout = 10 * time.Second

	// proxyRateLimit bounds outbound requests to Tinfoil's GitHub
	// proxies so a burst of manifest-policy checks against many repos
	// doesn't hammer a shared proxy host.
	proxyRateLimit = 5 // requests/sec
	proxyRateBurst = 10
)

// ImageMeasurements is the golden RTMR1/RTMR2 pair published for one
// repo's latest release image.
type ImageMeasurements struct {
	RTMR1 string
	RTMR2 string
}

// HardwareProfiles maps a named hardware profile to its golden
// MRTD/RTMR0 pair.
type HardwareProfiles map[string]HardwareProfile

// HardwareProfile is the golden MRTD/RTMR0 pair for one named hardware
// generation.
type HardwareProfile struct {
	MRTD  string
	RTMR0 string
}

// Fetcher retrieves Sigstore attestation bundles through Tinfoil's
// GitHub proxy and decodes their DSSE payload. All fetches fail closed:
// any network error, non-2xx response, or predicate-type mismatch
// yields a zero-value result rather than an error, since a missing
// golden measurement should read as "no match" to the caller, not as a
// verifier crash.
type Fetcher struct {
	httpClient           *http.Client
	logger               *zap.Logger
	githubProxyBase      string
	attestationProxyBase string
	limiter              *rate.Limiter
}

// NewFetcher builds a Fetcher against Tinfoil's production proxies. If
// logger is nil, a no-op logger is used.
func NewFetcher(logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		httpClient:           &http.Client{Timeout: fetchTimeout},
		logger:               logger,
		githubProxyBase:      githubProxyBase,
		attestationProxyBase: attestationProxyBase,
		limiter:              rate.NewLimiter(proxyRateLimit, proxyRateBurst),
	}
}

// NewFetcherWithProxies builds a Fetcher against arbitrary proxy base
// URLs, for tests exercising the fetch sequence against an httptest
// server.
func NewFetcherWithProxies(logger *zap.Logger, githubProxy, attestationProxy string) *Fetcher {
	f := NewFetcher(logger)
	f.githubProxyBase = githubProxy
	f.attestationProxyBase = attestationProxy
	return f
}

// FetchImageMeasurements returns the golden RTMR1/RTMR2 pair published
// as a repo's latest SnpTdxMultiPlatformV1 attestation. Returns the
// zero value on any fetch failure or predicate mismatch.
func (f *Fetcher) FetchImageMeasurements(ctx context.Context, repo string) ImageMeasurements {
	payload := f.fetchPayload(ctx, repo)
	if payload == nil {
		return ImageMeasurements{}
	}

	predicateType, _ := payload["predicateType"].(string)
	if predicateType != predicateImageMeasurement {
		return ImageMeasurements{}
	}

	predicate, _ := payload["predicate"].(map[string]any)
	tdx, _ := predicate["tdx_measurement"].(map[string]any)

	return ImageMeasurements{
		RTMR1: stringField(tdx, "rtmr1"),
		RTMR2: stringField(tdx, "rtmr2"),
	}
}

// FetchHardwareProfiles returns the named MRTD/RTMR0 hardware profiles
// published as the hardware-measurements repo's latest attestation.
// Returns an empty map on any fetch failure or predicate mismatch.
func (f *Fetcher) FetchHardwareProfiles(ctx context.Context) HardwareProfiles {
	payload := f.fetchPayload(ctx, hardwareMeasurementsRepo)
	profiles := HardwareProfiles{}
	if payload == nil {
		return profiles
	}

	predicateType, _ := payload["predicateType"].(string)
	if predicateType != predicateHardwareMeasurement {
		return profiles
	}

	predicate, _ := payload["predicate"].(map[string]any)
	for name, raw := range predicate {
		values, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		profiles[name] = HardwareProfile{
			MRTD:  stringField(values, "mrtd"),
			RTMR0: stringField(values, "rtmr0"),
		}
	}
	return profiles
}

// fetchPayload runs the three-step fetch (latest release tag -> digest
// file -> attestation bundle) and returns the decoded DSSE payload, or
// nil if any step failed.
func (f *Fetcher) fetchPayload(ctx context.Context, repo string) map[string]any {
	bundle, err := f.fetchBundle(ctx, repo)
	if err != nil {
		f.logger.Sugar().Warnw("failed to fetch sigstore bundle", "repo", repo, "error", err)
		return nil
	}

	payload, err := extractPayload(bundle)
	if err != nil {
		f.logger.Sugar().Warnw("failed to extract dsse payload", "repo", repo, "error", err)
		return nil
	}
	return payload
}

func (f *Fetcher) fetchBundle(ctx context.Context, repo string) (map[string]any, error) {
	tag, err := f.fetchLatestTag(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("fetch latest tag: %w", err)
	}

	digest, err := f.fetchDigest(ctx, repo, tag)
	if err != nil {
		return nil, fmt.Errorf("fetch digest: %w", err)
	}

	attestations, err := f.fetchAttestations(ctx, repo, digest)
	if err != nil {
		return nil, fmt.Errorf("fetch attestations: %w", err)
	}
	if len(attestations) == 0 {
		return nil, fmt.Errorf("no attestations found for sha256:%s", digest)
	}

	bundle, _ := attestations[0]["bundle"].(map[string]any)
	return bundle, nil
}

func (f *Fetcher) fetchLatestTag(ctx context.Context, repo string) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/releases/latest", f.githubProxyBase, repo)
	var body struct {
		TagName string `json:"tag_name"`
	}
	if err := f.getJSON(ctx, url, &body); err != nil {
		return "", err
	}
	if body.TagName == "" {
		return "", fmt.Errorf("response had no tag_name")
	}
	return body.TagName, nil
}

func (f *Fetcher) fetchDigest(ctx context.Context, repo, tag string) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/%s/releases/download/%s/tinfoil.hash", f.githubProxyBase, repo, tag)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func (f *Fetcher) fetchAttestations(ctx context.Context, repo, digest string) ([]map[string]any, error) {
	url := fmt.Sprintf("%s/repos/%s/attestations/sha256:%s", f.attestationProxyBase, repo, digest)
	var body struct {
		Attestations []map[string]any `json:"attestations"`
	}
	if err := f.getJSON(ctx, url, &body); err != nil {
		return nil, err
	}
	return body.Attestations, nil
}

func (f *Fetcher) getJSON(ctx context.Context, url string, out any) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// extractPayload base64-decodes a Sigstore bundle's DSSE envelope
// payload and unmarshals the in-toto statement JSON it carries.
func extractPayload(bundle map[string]any) (map[string]any, error) {
	if bundle == nil {
		return nil, fmt.Errorf("nil bundle")
	}

	envelope, _ := bundle["dsseEnvelope"].(map[string]any)
	payloadB64, _ := envelope["payload"].(string)
	if payloadB64 == "" {
		return nil, fmt.Errorf("bundle has no dsseEnvelope.payload")
	}

	raw, err := base64.StdEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return payload, nil
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
