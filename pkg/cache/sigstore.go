package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/Phala-Network/private-ai-verifier/internal/sigstore"
)

// sigstoreFetcher is the subset of *sigstore.Fetcher that
// CachedSigstoreFetcher wraps. Declared here, not imported from
// internal/sigstore, only so tests can substitute a stub.
type sigstoreFetcher interface {
	FetchImageMeasurements(ctx context.Context, repo string) sigstore.ImageMeasurements
	FetchHardwareProfiles(ctx context.Context) sigstore.HardwareProfiles
}

// defaultGoldenMeasurementsTTL bounds how long a fetched Sigstore
// bundle is trusted before the next call re-fetches it. Tinfoil cuts
// new enclave releases at most a few times a day, so an hour keeps the
// cache useful without risking a stale pin surviving a security patch
// for long.
const defaultGoldenMeasurementsTTL = time.Hour

// CachedSigstoreFetcher decorates a Sigstore fetcher with a Cache so
// repeated policy checks against the same repo or the hardware-profile
// set don't each pay the three-step GitHub-proxy round trip.
type CachedSigstoreFetcher struct {
	fetcher sigstoreFetcher
	cache   Cache
	ttl     time.Duration
	logger  *zap.Logger
}

// NewCachedSigstoreFetcher wraps fetcher with cache, using
// defaultGoldenMeasurementsTTL for every cached entry.
func NewCachedSigstoreFetcher(fetcher *sigstore.Fetcher, cache Cache, logger *zap.Logger) *CachedSigstoreFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedSigstoreFetcher{fetcher: fetcher, cache: cache, ttl: defaultGoldenMeasurementsTTL, logger: logger}
}

// FetchImageMeasurements returns repo's cached golden RTMR1/RTMR2 pair,
// fetching and populating the cache on a miss.
func (c *CachedSigstoreFetcher) FetchImageMeasurements(ctx context.Context, repo string) sigstore.ImageMeasurements {
	key := "sigstore:image:" + repo

	if cached, ok := c.get(ctx, key); ok {
		var measurements sigstore.ImageMeasurements
		if err := json.Unmarshal(cached, &measurements); err == nil {
			return measurements
		}
	}

	measurements := c.fetcher.FetchImageMeasurements(ctx, repo)
	c.set(ctx, key, measurements)
	return measurements
}

// FetchHardwareProfiles returns the cached hardware-profile set,
// fetching and populating the cache on a miss.
func (c *CachedSigstoreFetcher) FetchHardwareProfiles(ctx context.Context) sigstore.HardwareProfiles {
	const key = "sigstore:hardware-profiles"

	if cached, ok := c.get(ctx, key); ok {
		var profiles sigstore.HardwareProfiles
		if err := json.Unmarshal(cached, &profiles); err == nil {
			return profiles
		}
	}

	profiles := c.fetcher.FetchHardwareProfiles(ctx)
	c.set(ctx, key, profiles)
	return profiles
}

func (c *CachedSigstoreFetcher) get(ctx context.Context, key string) ([]byte, bool) {
	value, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Sugar().Warnw("sigstore cache read failed", "key", key, "error", err)
		return nil, false
	}
	return value, ok
}

func (c *CachedSigstoreFetcher) set(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Sugar().Warnw("sigstore cache write failed", "key", key, "error", err)
	}
}
