// Package nearai verifies a NearAI-hosted model's attestation bundle:
// a Gateway component plus one or more Model components, each carrying
// its own TDX quote, event log, compose hash, and (for GPU-backed
// models) NVIDIA payload. Every component is verified independently;
// the overall verdict is the conjunction of all of them.
package nearai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Phala-Network/private-ai-verifier/internal/binding"
	"github.com/Phala-Network/private-ai-verifier/internal/dstack"
	"github.com/Phala-Network/private-ai-verifier/internal/nvidia"
	"github.com/Phala-Network/private-ai-verifier/pkg/types"
)

// Verifier verifies a NearAI attestation bundle's Gateway and Model
// components.
type Verifier struct {
	dstackClient *dstack.Client
	nvidiaClient *nvidia.Client
	logger       *zap.Logger
}

// Config wires a Verifier's collaborators.
type Config struct {
	DstackClient *dstack.Client
	NvidiaClient *nvidia.Client
	Logger       *zap.Logger
}

// New builds a Verifier from config.
func New(config Config) (*Verifier, error) {
	if config.DstackClient == nil {
		return nil, fmt.Errorf("nearai: dstack client is required")
	}
	if config.NvidiaClient == nil {
		return nil, fmt.Errorf("nearai: nvidia client is required")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Verifier{dstackClient: config.DstackClient, nvidiaClient: config.NvidiaClient, logger: config.Logger}, nil
}

type componentResult struct {
	Name    string         `json:"name"`
	IsValid bool           `json:"is_valid"`
	Details map[string]any `json:"details"`
	Errors  []string       `json:"errors"`
}

// Verify checks bundle's gateway_attestation and model_attestations.
// requestNonce, when empty, falls back to gateway_attestation's own
// request_nonce field.
func (v *Verifier) Verify(ctx context.Context, bundle map[string]any, requestNonce string) *types.VerificationResult {
	gatewayData, _ := bundle["gateway_attestation"].(map[string]any)
	if gatewayData == nil {
		return &types.VerificationResult{
			ModelVerified: false,
			Timestamp:     time.Now(),
			HardwareType:  []string{},
			Claims:        map[string]any{},
			Error:         "missing gateway_attestation",
		}
	}

	if requestNonce == "" {
		requestNonce, _ = gatewayData["request_nonce"].(string)
	}

	components := map[string]componentResult{}
	components["gateway"] = v.verifyComponent(ctx, "gateway", gatewayData, requestNonce)

	modelAttestations, _ := bundle["model_attestations"].([]any)
	for i, raw := range modelAttestations {
		modelData, _ := raw.(map[string]any)
		name := "model"
		if len(modelAttestations) > 1 {
			name = fmt.Sprintf("model-%d", i)
		}
		components[name] = v.verifyComponent(ctx, name, modelData, requestNonce)
	}

	allValid := true
	var errs []string
	hasGPU := false
	for _, c := range components {
		if !c.IsValid {
			allValid = false
		}
		errs = append(errs, c.Errors...)
		if _, ok := c.Details["gpu"]; ok {
			hasGPU = true
		}
	}

	hardwareTypes := []string{types.HardwareIntelTDX}
	if allValid && hasGPU {
		hardwareTypes = append(hardwareTypes, types.HardwareNvidiaCC)
	}

	claims := map[string]any{
		"components":      components,
		"request_nonce":   requestNonce,
		"signing_address": gatewayData["signing_address"],
	}

	result := &types.VerificationResult{
		ModelVerified: allValid,
		Timestamp:     time.Now(),
		HardwareType:  hardwareTypes,
		Claims:        claims,
	}
	if len(errs) > 0 {
		result.Error = strings.Join(errs, "; ")
	}
	return result
}

func (v *Verifier) verifyComponent(ctx context.Context, name string, attestationData map[string]any, requestNonce string) componentResult {
	result := componentResult{Name: name, Details: map[string]any{}}

	quote, _ := attestationData["intel_quote"].(string)
	eventLog := jsonStringValue(attestationData["event_log"])

	info, _ := attestationData["info"].(map[string]any)
	tcbInfo := tcbInfoOf(info)

	appCompose, _ := tcbInfo["app_compose"].(string)

	vmConfig := jsonStringValue(info["vm_config"])
	if vmConfig == "" {
		vmConfig = jsonStringValue(tcbInfo["vm_config"])
	}

	dstackResult := v.dstackClient.Verify(ctx, quote, eventLog, vmConfig)
	result.Details["dstack"] = dstackResult

	if !dstackResult.IsValid {
		result.Errors = append(result.Errors, fmt.Sprintf("dstack verification failed: %s", orUnknown(dstackResult.Reason)))
	}

	reportedComposeHash, _ := info["compose_hash"].(string)
	composeVerified := false
	if appCompose != "" && reportedComposeHash != "" {
		composeVerified = strings.EqualFold(sha256Hex(appCompose), reportedComposeHash)
		if !composeVerified {
			result.Errors = append(result.Errors, "compose hash mismatch")
		}
	}
	result.Details["compose_verified"] = composeVerified

	signingAddress, _ := attestationData["signing_address"].(string)
	if dstackResult.ReportData != "" && requestNonce != "" && signingAddress != "" {
		rd := binding.Verify(dstackResult.ReportData, signingAddress, requestNonce)
		result.Details["report_data_check"] = rd
		if !rd.Valid {
			msg := rd.Error
			if msg == "" {
				msg = "mismatch"
			}
			result.Errors = append(result.Errors, fmt.Sprintf("report data check failed: %s", msg))
		}
	}

	if rawPayload, ok := attestationData["nvidia_payload"]; ok && rawPayload != nil {
		nvidiaPayload := toMap(rawPayload)
		if gpuNonce, _ := nvidiaPayload["nonce"].(string); requestNonce != "" && gpuNonce != "" {
			if !strings.EqualFold(requestNonce, gpuNonce) {
				result.Errors = append(result.Errors, fmt.Sprintf("GPU nonce mismatch: expected %s, got %s", requestNonce, gpuNonce))
			}
		}

		gpuResult, err := v.nvidiaClient.Verify(ctx, nvidiaPayload)
		if err == nil && gpuResult != nil {
			result.Details["gpu"] = gpuResult
			if !gpuResult.Valid {
				result.Errors = append(result.Errors, "GPU verification failed")
			}
		}
	}

	result.IsValid = len(result.Errors) == 0 && dstackResult.IsValid
	return result
}

func tcbInfoOf(info map[string]any) map[string]any {
	if info == nil {
		return map[string]any{}
	}
	switch v := info["tcb_info"].(type) {
	case map[string]any:
		return v
	case string:
		var parsed map[string]any
		if json.Unmarshal([]byte(v), &parsed) == nil {
			return parsed
		}
	}
	return map[string]any{}
}

func toMap(v any) map[string]any {
	switch m := v.(type) {
	case map[string]any:
		return m
	case string:
		var parsed map[string]any
		if json.Unmarshal([]byte(m), &parsed) == nil {
			return parsed
		}
	}
	return map[string]any{}
}

func jsonStringValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
