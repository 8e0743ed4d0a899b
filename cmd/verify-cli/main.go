package main

import (
	"encoding/json"
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
	"github.com/Phala-Network/private-ai-verifier/pkg/provider"
	"github.com/Phala-Network/private-ai-verifier/pkg/sdk"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify/intel"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify/nearai"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify/phala"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify/redpill"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify/tinfoil"
)

var commonFlags = []cli.Flag{
	&cli.StringFlag{Name: "dcap-url", Value: "http://localhost:8081", EnvVars: []string{"VERIFIER_DCAP_URL"}},
	&cli.StringFlag{Name: "dstack-url", Value: "http://localhost:8080", EnvVars: []string{"VERIFIER_DSTACK_URL"}},
	&cli.StringFlag{Name: "ita-api-key", EnvVars: []string{"VERIFIER_ITA_API_KEY"}},
	&cli.StringFlag{Name: "verify-jwks", Usage: "JWKS URL to verify ITA/NRAS token signatures against instead of trusting HTTPS alone", EnvVars: []string{"VERIFIER_JWKS_URL"}},
	&cli.StringFlag{Name: "tinfoil-config", Value: "config/tinfoil_config.yml", EnvVars: []string{"VERIFIER_TINFOIL_CONFIG"}},
	&cli.StringFlag{Name: "redpill-config", Value: "config/redpill_config.yml", EnvVars: []string{"VERIFIER_REDPILL_CONFIG"}},
}

func main() {
	app := &cli.App{
		Name:  "verify-cli",
		Usage: "Fetch and verify TEE attestation reports for confidential AI models",
		Commands: []*cli.Command{
			{
				Name:      "list-providers",
				Usage:     "List registered attestation providers",
				Flags:     commonFlags,
				Action:    cmdListProviders,
			},
			{
				Name:      "list-models",
				Usage:     "List models served by a provider",
				ArgsUsage: "<provider>",
				Flags:     commonFlags,
				Action:    cmdListModels,
			},
			{
				Name:      "fetch",
				Usage:     "Fetch a raw attestation report for a model",
				ArgsUsage: "<provider> <model-id>",
				Flags:     commonFlags,
				Action:    cmdFetch,
			},
			{
				Name:      "verify-model",
				Usage:     "Fetch and verify a model's attestation report",
				ArgsUsage: "<provider> <model-id>",
				Flags:     commonFlags,
				Action:    cmdVerifyModel,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("verify-cli: %v", err)
	}
}

func cmdListProviders(c *cli.Context) error {
	teeVerifier, err := buildVerifier(c)
	if err != nil {
		return err
	}
	return printJSON(teeVerifier.ListProviders())
}

func cmdListModels(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("usage: verify-cli list-models <provider>")
	}
	teeVerifier, err := buildVerifier(c)
	if err != nil {
		return err
	}
	models, err := teeVerifier.ListModels(c.Context, c.Args().Get(0))
	if err != nil {
		return err
	}
	return printJSON(models)
}

func cmdFetch(c *cli.Context) error {
	if c.NArg() < 2 {
		return fmt.Errorf("usage: verify-cli fetch <provider> <model-id>")
	}
	teeVerifier, err := buildVerifier(c)
	if err != nil {
		return err
	}
	report, err := teeVerifier.FetchReport(c.Context, c.Args().Get(0), c.Args().Get(1))
	if err != nil {
		return err
	}
	return printJSON(report)
}

func cmdVerifyModel(c *cli.Context) error {
	if c.NArg() < 2 {
		return fmt.Errorf("usage: verify-cli verify-model <provider> <model-id>")
	}
	teeVerifier, err := buildVerifier(c)
	if err != nil {
		return err
	}
	result := teeVerifier.VerifyModel(c.Context, c.Args().Get(0), c.Args().Get(1))
	return printJSON(result)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func buildVerifier(c *cli.Context) (*sdk.TeeVerifier, error) {
	logger := zap.NewNop()

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

	cachedFetcher := cache.NewCachedSigstoreFetcher(sigstore.NewFetcher(logger), cache.NewMemoryCache(), logger)
	tinfoilPolicy, err := tinfoil.New(tinfoil.Config{Base: genericVerifier, Fetcher: cachedFetcher, Logger: logger})
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
