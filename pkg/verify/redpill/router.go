// Package redpill verifies models resold through the Redpill
// marketplace by dispatching to whichever underlying provider actually
// hosts them: Tinfoil, NearAI, or (the default, since Redpill models
// are themselves Phala Cloud apps) Phala. On the Phala path it also
// checks that the Redpill-issued quote binds the caller's signing
// address and request nonce; the Tinfoil and NearAI paths do not run
// that check.
package redpill

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Phala-Network/private-ai-verifier/internal/binding"
	"github.com/Phala-Network/private-ai-verifier/internal/tdx"
	"github.com/Phala-Network/private-ai-verifier/pkg/config"
	"github.com/Phala-Network/private-ai-verifier/pkg/types"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify/nearai"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify/phala"
	"github.com/Phala-Network/private-ai-verifier/pkg/verify/tinfoil"
)

const modelsURL = "https://api.redpill.ai/v1/models"

// Router dispatches a Redpill model attestation to the backend that
// actually hosts it.
type Router struct {
	tinfoilPolicy  *tinfoil.Policy
	nearaiVerifier *nearai.Verifier
	phalaVerifier  *phala.Verifier
	modelMap       *config.RedpillModelMap
	httpClient     *http.Client
	modelsURL      string
	logger         *zap.Logger
}

// Config wires a Router's collaborators.
type Config struct {
	TinfoilPolicy  *tinfoil.Policy
	NearAIVerifier *nearai.Verifier
	PhalaVerifier  *phala.Verifier
	ModelMap       *config.RedpillModelMap
	HTTPClient     *http.Client
	Logger         *zap.Logger
}

// New builds a Router from config.
func New(cfg Config) (*Router, error) {
	if cfg.TinfoilPolicy == nil {
		return nil, fmt.Errorf("redpill: tinfoil policy is required")
	}
	if cfg.NearAIVerifier == nil {
		return nil, fmt.Errorf("redpill: nearai verifier is required")
	}
	if cfg.PhalaVerifier == nil {
		return nil, fmt.Errorf("redpill: phala verifier is required")
	}
	if cfg.ModelMap == nil {
		return nil, fmt.Errorf("redpill: model map is required")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Router{
		tinfoilPolicy:  cfg.TinfoilPolicy,
		nearaiVerifier: cfg.NearAIVerifier,
		phalaVerifier:  cfg.PhalaVerifier,
		modelMap:       cfg.ModelMap,
		httpClient:     cfg.HTTPClient,
		modelsURL:      modelsURL,
		logger:         cfg.Logger,
	}, nil
}

type redpillModel struct {
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata"`
}

func (m redpillModel) providers() []string {
	raw, _ := m.Metadata["providers"].([]any)
	providers := make([]string, 0, len(raw))
	for _, p := range raw {
		if s, ok := p.(string); ok {
			providers = append(providers, s)
		}
	}
	return providers
}

func (m redpillModel) appID() string {
	s, _ := m.Metadata["appid"].(string)
	return s
}

// ListModels fetches the currently running Redpill model catalog.
func (r *Router) ListModels(ctx context.Context) ([]redpillModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.modelsURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch redpill models: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Data []redpillModel `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode redpill models: %w", err)
	}
	return body.Data, nil
}

func (r *Router) findModel(ctx context.Context, modelID string) (*redpillModel, error) {
	models, err := r.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range models {
		if m.ID == modelID {
			return &m, nil
		}
	}
	return nil, nil
}

// Verify dispatches reportData (the raw Redpill attestation-report
// payload: model_id, intel_quote, nvidia_payload, signing_address,
// request_nonce, and provider-specific raw bundles) to the backend that
// hosts modelID.
func (r *Router) Verify(ctx context.Context, reportData map[string]any) *types.VerificationResult {
	modelID, _ := reportData["model_id"].(string)
	if modelID == "" {
		modelID, _ = reportData["model"].(string)
	}
	if modelID == "" {
		return errResult("missing model_id in report data")
	}

	model, err := r.findModel(ctx, modelID)
	if err != nil {
		return errResult(fmt.Sprintf("failed to fetch redpill model catalog: %v", err))
	}
	if model == nil {
		result := errResult(fmt.Sprintf("could not find model info for model %s", modelID))
		result.Claims["model_id"] = modelID
		return result
	}

	providers := model.providers()

	switch {
	case containsString(providers, "tinfoil"):
		return r.verifyTinfoil(ctx, modelID, providers, reportData)
	case containsString(providers, "near-ai"):
		return r.verifyNearAI(ctx, modelID, providers, reportData)
	case containsString(providers, "phala") || len(providers) == 0:
		return r.verifyPhala(ctx, modelID, *model, reportData)
	default:
		result := errResult(fmt.Sprintf("model provided by %v is not verifiable", providers))
		result.Claims["model_id"] = modelID
		result.Claims["providers"] = providers
		return result
	}
}

func (r *Router) verifyTinfoil(ctx context.Context, modelID string, providers []string, reportData map[string]any) *types.VerificationResult {
	tinfoilID := r.modelMap.TinfoilModelID(modelID)
	if tinfoilID == "" {
		result := errResult(fmt.Sprintf("no tinfoil mapping for model %s", modelID))
		result.Claims["model_id"] = modelID
		result.Claims["providers"] = providers
		return result
	}

	intelQuote, _ := reportData["intel_quote"].(string)
	result := r.tinfoilPolicy.Verify(ctx, intelQuote, tinfoilID, "")
	result.Claims["redpill_model_id"] = modelID
	result.Claims["model_provider"] = "tinfoil"
	return result
}

func (r *Router) verifyNearAI(ctx context.Context, modelID string, providers []string, reportData map[string]any) *types.VerificationResult {
	nearaiID := r.modelMap.NearAIModelID(modelID)
	if nearaiID == "" {
		result := errResult(fmt.Sprintf("no nearai mapping for model %s", modelID))
		result.Claims["model_id"] = modelID
		result.Claims["providers"] = providers
		return result
	}

	rawData := reportData
	if raw, ok := reportData["raw"].(map[string]any); ok {
		rawData = raw
	}
	if attestations, ok := rawData["model_attestations"].([]any); ok && len(attestations) > 1 {
		trimmed := map[string]any{}
		for k, v := range rawData {
			trimmed[k] = v
		}
		trimmed["model_attestations"] = attestations[:1]
		rawData = trimmed
	}

	requestNonce, _ := reportData["request_nonce"].(string)
	result := r.nearaiVerifier.Verify(ctx, rawData, requestNonce)
	result.Claims["redpill_model_id"] = modelID
	result.Claims["nearai_model_id"] = nearaiID
	result.Claims["model_provider"] = "nearai"
	return result
}

func (r *Router) verifyPhala(ctx context.Context, modelID string, model redpillModel, reportData map[string]any) *types.VerificationResult {
	appID := model.appID()
	if appID == "" {
		result := errResult(fmt.Sprintf("could not find phala app_id for model %s", modelID))
		result.Claims["model_id"] = modelID
		return result
	}

	nvidiaPayload, _ := reportData["nvidia_payload"].(map[string]any)
	systemInfo, _ := reportData["system_info"].(map[string]any)

	result := r.phalaVerifier.Verify(ctx, appID, systemInfo, nvidiaPayload)
	result.Claims["model_id"] = modelID
	result.Claims["app_id"] = appID
	result.Claims["model_provider"] = "phala"

	if !result.ModelVerified {
		return result
	}

	requestNonce, _ := reportData["request_nonce"].(string)
	signingAddress, _ := reportData["signing_address"].(string)
	intelQuote, _ := reportData["intel_quote"].(string)

	if intelQuote == "" || requestNonce == "" || signingAddress == "" {
		return result
	}

	reportDataHex, err := tdx.ExtractReportData(intelQuote)
	if err != nil {
		return result
	}

	rd := binding.Verify(reportDataHex, signingAddress, requestNonce)
	result.Claims["report_data_check"] = rd

	if !rd.Valid {
		msg := rd.Error
		if msg == "" {
			msg = "Address/Nonce mismatch"
		}
		result.ModelVerified = false
		result.Error = fmt.Sprintf("Report data binding failed: %s", msg)
		return result
	}

	result.Claims["nonce_verified"] = true
	result.Claims["signing_address_verified"] = true
	result.Claims["request_nonce"] = requestNonce
	result.Claims["signing_address"] = signingAddress
	return result
}

func errResult(msg string) *types.VerificationResult {
	return &types.VerificationResult{
		ModelVerified: false,
		Timestamp:     time.Now(),
		HardwareType:  []string{},
		Claims:        map[string]any{},
		Error:         msg,
	}
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}
