// Package phala verifies a Phala Cloud app's Main-App/KMS/Gateway
// dstack components and, optionally, an attached NVIDIA GPU. It is
// composed from system metadata fetched from the Phala Cloud API
// rather than a single quote: each component carries its own quote,
// event log, and VM config, verified independently through the
// dstack-verifier service and cross-checked against its compose hash.
package phala

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Phala-Network/private-ai-verifier/internal/dstack"
	"github.com/Phala-Network/private-ai-verifier/internal/nvidia"
	"github.com/Phala-Network/private-ai-verifier/pkg/types"
)

const (
	cloudAPIBase = "https://cloud-api.phala.network/api/v1"

	componentModel   = "model"
	componentKMS     = "key management service"
	componentGateway = "gateway"
)

// Verifier verifies a Phala Cloud app by ID.
type Verifier struct {
	dstackClient *dstack.Client
	nvidiaClient *nvidia.Client
	httpClient   *http.Client
	logger       *zap.Logger
}

// Config wires a Verifier's collaborators.
type Config struct {
	DstackClient *dstack.Client
	NvidiaClient *nvidia.Client
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// New builds a Verifier from config.
func New(config Config) (*Verifier, error) {
	if config.DstackClient == nil {
		return nil, fmt.Errorf("phala: dstack client is required")
	}
	if config.NvidiaClient == nil {
		return nil, fmt.Errorf("phala: nvidia client is required")
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Verifier{
		dstackClient: config.DstackClient,
		nvidiaClient: config.NvidiaClient,
		httpClient:   config.HTTPClient,
		logger:       config.Logger,
	}, nil
}

type componentSpec struct {
	name        string
	quote       string
	eventLog    string
	vmConfig    string
	appCompose  string
}

// Verify fetches system info for appID from the Phala Cloud API (or
// uses systemInfo directly when the caller already has it), verifies
// each dstack component, and optionally the attached GPU payload.
func (v *Verifier) Verify(ctx context.Context, appID string, systemInfo map[string]any, nvidiaPayload map[string]any) *types.VerificationResult {
	if systemInfo == nil {
		fetched, err := v.fetchSystemInfo(ctx, appID)
		if err != nil {
			return &types.VerificationResult{
				ModelVerified: false,
				Timestamp:     time.Now(),
				HardwareType:  []string{},
				Claims:        map[string]any{},
				Error:         err.Error(),
			}
		}
		systemInfo = fetched
	}

	instances, _ := systemInfo["instances"].([]any)
	if len(instances) == 0 {
		return &types.VerificationResult{
			ModelVerified: false,
			Timestamp:     time.Now(),
			HardwareType:  []string{},
			Claims:        map[string]any{},
			Error:         "no instances found for this app",
		}
	}
	instance, _ := instances[0].(map[string]any)

	mainVMConfig, mainCompose := v.fetchMainAppInfo(ctx, appID, systemInfo)
	if mainVMConfig == "" {
		mainVMConfig = jsonStringField(systemInfo, "vm_config")
	}

	components := []componentSpec{
		{
			name:       componentModel,
			quote:      stringField(instance, "quote"),
			eventLog:   jsonStringField(instance, "eventlog"),
			vmConfig:   mainVMConfig,
			appCompose: mainCompose,
		},
	}

	if kmsInfo, ok := systemInfo["kms_guest_agent_info"].(map[string]any); ok {
		tcb, _ := kmsInfo["tcb_info"].(map[string]any)
		components = append(components, componentSpec{
			name:       componentKMS,
			quote:      firstCertQuote(kmsInfo),
			eventLog:   jsonStringField(tcb, "event_log"),
			vmConfig:   jsonStringField(kmsInfo, "vm_config"),
			appCompose: stringField(tcb, "app_compose"),
		})
	}

	if gwInfo, ok := systemInfo["gateway_guest_agent_info"].(map[string]any); ok {
		tcb, _ := gwInfo["tcb_info"].(map[string]any)
		components = append(components, componentSpec{
			name:       componentGateway,
			quote:      firstCertQuote(gwInfo),
			eventLog:   jsonStringField(tcb, "event_log"),
			vmConfig:   jsonStringField(gwInfo, "vm_config"),
			appCompose: stringField(tcb, "app_compose"),
		})
	}

	flattened := map[string]any{}
	allValid := true
	var errMsgs []string

	for _, c := range components {
		verdict := v.verifyComponent(ctx, c)
		flattened[c.name] = verdict
		if !verdict.IsValid {
			allValid = false
			errMsgs = append(errMsgs, fmt.Sprintf("%s failed: %s", c.name, verdict.Reason))
		}
	}

	hardwareTypes := []string{types.HardwareIntelTDX}

	var nvidiaClaims map[string]any
	if len(nvidiaPayload) > 0 {
		gpuResult, err := v.nvidiaClient.Verify(ctx, nvidiaPayload)
		if err == nil && gpuResult != nil {
			if allValid {
				if gpuResult.Valid {
					hardwareTypes = append(hardwareTypes, types.HardwareNvidiaCC)
				} else {
					errMsgs = append(errMsgs, "GPU verification failed")
				}
			}
			nvidiaClaims = gpuResult.Claims
		}
	}

	if !allValid && len(errMsgs) == 0 {
		errMsgs = append(errMsgs, "one or more components failed verification")
	}

	claims := map[string]any{
		"components": flattened,
		"phala": map[string]any{
			"app_id":            systemInfo["app_id"],
			"contract_address":  systemInfo["contract_address"],
			"image_version":     instanceField(instance, "image_version"),
			"kms_info":          systemInfo["kms_info"],
		},
	}
	if nvidiaClaims != nil {
		claims["nvidia"] = nvidiaClaims
	}

	result := &types.VerificationResult{
		ModelVerified: allValid,
		Provider:      types.ProviderGeneric,
		Timestamp:     time.Now(),
		HardwareType:  hardwareTypes,
		Claims:        claims,
	}
	if len(errMsgs) > 0 {
		result.Error = strings.Join(errMsgs, "; ")
	}
	return result
}

func (v *Verifier) verifyComponent(ctx context.Context, c componentSpec) types.ComponentVerdict {
	if c.quote == "" || c.eventLog == "" || c.vmConfig == "" {
		return types.ComponentVerdict{
			Name:   c.name,
			Reason: "missing required verification data (quote, event_log, or vm_config)",
		}
	}

	dstackResult := v.dstackClient.Verify(ctx, c.quote, c.eventLog, c.vmConfig)

	verdict := types.ComponentVerdict{
		Name:            c.name,
		IsValid:         dstackResult.IsValid,
		ComposeVerified: true,
		DstackDetails:   dstackResult.Details,
		Reason:          dstackResult.Reason,
	}

	if verdict.IsValid && c.appCompose != "" {
		expected := dstackResult.ComposeHash()
		if expected != "" {
			actual := sha256Hex(c.appCompose)
			if actual != expected {
				verdict.IsValid = false
				verdict.ComposeVerified = false
				verdict.Reason = fmt.Sprintf("compose hash mismatch for %s: expected %s, got %s", c.name, expected, actual)
			}
		}
	}

	return verdict
}

// fetchSystemInfo fetches attestation system info for appID from the
// Phala Cloud API.
func (v *Verifier) fetchSystemInfo(ctx context.Context, appID string) (map[string]any, error) {
	url := fmt.Sprintf("%s/apps/%s/attestations", cloudAPIBase, appID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build phala cloud request: %w", err)
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch system info from phala cloud for app %s: %w", appID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("phala cloud returned status %d for app %s", resp.StatusCode, appID)
	}

	var info map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode phala cloud response: %w", err)
	}
	return info, nil
}

// fetchMainAppInfo queries the Main App's PRPC Info endpoint directly
// for its authoritative vm_config and app_compose, since the Cloud
// API's own copy can lag. Any failure here is non-fatal: the caller
// falls back to the Cloud API's vm_config.
func (v *Verifier) fetchMainAppInfo(ctx context.Context, appID string, systemInfo map[string]any) (vmConfig, appCompose string) {
	var kmsURL string
	if m, ok := systemInfo["kms_info"].(map[string]any); ok {
		kmsURL, _ = m["url"].(string)
	}
	if kmsURL == "" {
		return "", ""
	}

	parsed, err := url.Parse(kmsURL)
	if err != nil {
		return "", ""
	}

	parts := strings.Split(parsed.Host, ".")
	domain := parsed.Host
	if len(parts) >= 3 {
		domain = strings.Join(parts[len(parts)-3:], ".")
	}

	rpcEndpoint := fmt.Sprintf("https://%s-8090.%s/prpc/Info", appID, domain)
	v.logger.Sugar().Infow("fetching authoritative main app info", "endpoint", rpcEndpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rpcEndpoint, strings.NewReader("{}"))
	if err != nil {
		return "", ""
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		v.logger.Sugar().Warnw("prpc request failed", "error", err)
		return "", ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		v.logger.Sugar().Warnw("failed to fetch appinfo from prpc", "status", resp.StatusCode)
		return "", ""
	}

	var prpcInfo map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&prpcInfo); err != nil {
		return "", ""
	}

	vmConfig = jsonStringField(prpcInfo, "vm_config")

	if tcbInfoStr, _ := prpcInfo["tcb_info"].(string); tcbInfoStr != "" {
		var tcbInfo map[string]any
		if json.Unmarshal([]byte(tcbInfoStr), &tcbInfo) == nil {
			appCompose, _ = tcbInfo["app_compose"].(string)
		}
	}
	return vmConfig, appCompose
}

func firstCertQuote(info map[string]any) string {
	certs, _ := info["app_certificates"].([]any)
	if len(certs) == 0 {
		return ""
	}
	cert, _ := certs[0].(map[string]any)
	return stringField(cert, "quote")
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func instanceField(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	return m[key]
}

// jsonStringField returns field key of m as a string: if it's already
// a string it's returned as-is, otherwise it's re-marshaled to JSON.
// dstack-verifier requires event_log/vm_config as JSON strings, but the
// Cloud API sometimes returns them as nested objects.
func jsonStringField(m any, key string) string {
	obj, ok := m.(map[string]any)
	if !ok {
		return ""
	}
	var value any
	if key == "" {
		value = obj
	} else {
		value = obj[key]
	}
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(raw)
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
