package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Phala-Network/private-ai-verifier/internal/dcap"
	"github.com/Phala-Network/private-ai-verifier/internal/dstack"
	"github.com/Phala-Network/private-ai-verifier/internal/ita"
	"github.com/Phala-Network/private-ai-verifier/internal/nvidia"
	"github.com/Phala-Network/private-ai-verifier/internal/sigstore"
	"github.com/Phala-Network/private-ai-verifier/pkg/cache"
	"github.com/Phala-Network/private-ai-verifier/pkg/config"
	"github.com/Phala-Network/private-ai-verifier/pkg/httpapi"
	"github.com/Phala-Network/private-ai-verifier/pkg/provider"
	"github.com/Phala-Network/private-ai-verifier/pkg/sdk"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify/intel"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify/nearai"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify/phala"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify/redpill"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify/tinfoil"
)

func main() {
	app := &cli.App{
		Name:  "verifier-server",
		Usage: "Confidential AI model attestation verifier API",
		Description: `Serves an HTTP API for fetching and verifying TEE attestation
reports across Tinfoil, Phala, NearAI, and Redpill-resold models.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   8000,
				Usage:   "HTTP server port",
				EnvVars: []string{"VERIFIER_PORT"},
			},
			&cli.StringFlag{
				Name:    "dcap-url",
				Usage:   "DCAP quote-verification oracle base URL",
				EnvVars: []string{"VERIFIER_DCAP_URL"},
				Value:   "http://localhost:8081",
			},
			&cli.StringFlag{
				Name:    "dstack-url",
				Usage:   "dstack-verifier service base URL",
				EnvVars: []string{"VERIFIER_DSTACK_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "ita-api-key",
				Usage:   "Intel Trust Authority API key (enrichment is skipped if unset)",
				EnvVars: []string{"VERIFIER_ITA_API_KEY"},
			},
			&cli.StringFlag{
				Name:    "verify-jwks",
				Usage:   "JWKS URL to verify ITA/NRAS token signatures against instead of trusting HTTPS alone",
				EnvVars: []string{"VERIFIER_JWKS_URL"},
			},
			&cli.StringFlag{
				Name:    "tinfoil-config",
				Usage:   "Path to tinfoil_config.yml",
				EnvVars: []string{"VERIFIER_TINFOIL_CONFIG"},
				Value:   "config/tinfoil_config.yml",
			},
			&cli.StringFlag{
				Name:    "redpill-config",
				Usage:   "Path to redpill_config.yml",
				EnvVars: []string{"VERIFIER_REDPILL_CONFIG"},
				Value:   "config/redpill_config.yml",
			},
			&cli.StringFlag{
				Name:    "cache-backend",
				Usage:   "Golden-measurement cache backend: memory, badger, or redis",
				EnvVars: []string{"VERIFIER_CACHE_BACKEND"},
				Value:   "memory",
			},
			&cli.StringFlag{
				Name:    "cache-badger-path",
				Usage:   "Data directory for the badger cache backend",
				EnvVars: []string{"VERIFIER_CACHE_BADGER_PATH"},
				Value:   "data/cache",
			},
			&cli.StringFlag{
				Name:    "cache-redis-address",
				Usage:   "Redis address (host:port) for the redis cache backend",
				EnvVars: []string{"VERIFIER_CACHE_REDIS_ADDRESS"},
				Value:   "localhost:6379",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose (debug) logging",
				EnvVars: []string{"VERIFIER_VERBOSE"},
			},
		},
		Action: runServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("verifier-server: %v", err)
	}
}

func runServer(c *cli.Context) error {
	logger, err := newLogger(c.Bool("verbose"))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	teeVerifier, err := buildVerifier(c, logger)
	if err != nil {
		return fmt.Errorf("build verifier: %w", err)
	}

	addr := fmt.Sprintf(":%d", c.Int("port"))
	server := httpapi.NewServer(teeVerifier, addr, logger)
	logger.Sugar().Infow("verifier-server listening", "addr", addr)
	return server.ListenAndServe()
}

func buildVerifier(c *cli.Context, logger *zap.Logger) (*sdk.TeeVerifier, error) {
	oracle := dcap.NewOracle(dcap.NewHTTPQuoteVerifier(c.String("dcap-url")), logger)

	jwksURL := c.String("verify-jwks")

	var itaClient *ita.Client
	if apiKey := c.String("ita-api-key"); apiKey != "" {
		itaClient = ita.NewClient(ita.ClientConfig{APIKey: apiKey, Logger: logger, JWKSURL: jwksURL})
	}

	genericVerifier, err := intel.New(intel.Config{Oracle: oracle, ITA: itaClient, Logger: logger})
	if err != nil {
		return nil, err
	}

	tinfoilModelMap := config.NewTinfoilModelMap(c.String("tinfoil-config"))
	redpillModelMap := config.NewRedpillModelMap(c.String("redpill-config"))

	measurementCache, err := buildCache(c, logger)
	if err != nil {
		return nil, fmt.Errorf("build measurement cache: %w", err)
	}
	cachedFetcher := cache.NewCachedSigstoreFetcher(sigstore.NewFetcher(logger), measurementCache, logger)

	tinfoilPolicy, err := tinfoil.New(tinfoil.Config{
		Base:    genericVerifier,
		Fetcher: cachedFetcher,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	dstackClient := dstack.NewClient(c.String("dstack-url"), logger)
	nvidiaClient := nvidia.NewClient(logger)
	if jwksURL != "" {
		nvidiaClient.WithJWKS(jwksURL, 0)
	}

	phalaVerifier, err := phala.New(phala.Config{DstackClient: dstackClient, NvidiaClient: nvidiaClient, Logger: logger})
	if err != nil {
		return nil, err
	}
	nearaiVerifier, err := nearai.New(nearai.Config{DstackClient: dstackClient, NvidiaClient: nvidiaClient, Logger: logger})
	if err != nil {
		return nil, err
	}
	redpillRouter, err := redpill.New(redpill.Config{
		TinfoilPolicy:  tinfoilPolicy,
		NearAIVerifier: nearaiVerifier,
		PhalaVerifier:  phalaVerifier,
		ModelMap:       redpillModelMap,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	facade, err := verify.New(verify.Config{Generic: genericVerifier, Tinfoil: tinfoilPolicy, Redpill: redpillRouter, NearAI: nearaiVerifier})
	if err != nil {
		return nil, err
	}

	registry := provider.NewRegistry(map[string]provider.Provider{
		"tinfoil": provider.NewTinfoilProvider(tinfoilModelMap, logger),
		"redpill": provider.NewRedpillProvider(logger),
		"nearai":  provider.NewNearAIProvider(logger),
	})

	return sdk.New(sdk.Config{Providers: registry, Verifier: facade, Logger: logger})
}

// buildCache constructs the golden-measurement cache backend named by
// the cache-backend flag.
func buildCache(c *cli.Context, logger *zap.Logger) (cache.Cache, error) {
	switch backend := c.String("cache-backend"); backend {
	case "", "memory":
		return cache.NewMemoryCache(), nil
	case "badger":
		return cache.NewBadgerCache(c.String("cache-badger-path"), logger)
	case "redis":
		return cache.NewRedisCache(cache.RedisConfig{Address: c.String("cache-redis-address")}, logger)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
