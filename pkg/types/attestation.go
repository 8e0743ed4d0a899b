// Package types defines the data model shared across the attestation
// verification engine: the provider-tagged report the engine consumes,
// the decoded TDX measurement registers, and the verdict the engine
// produces.
package types

import "time"

// Provider is the discriminant carried by an AttestationReport and
// echoed back in VerificationResult.Provider / claims["model_provider"].
type Provider string

const (
	ProviderTinfoil Provider = "tinfoil"
	ProviderRedpill Provider = "redpill"
	ProviderNearAI  Provider = "nearai"
	ProviderGeneric Provider = "generic"
)

// Hardware type tags reported in VerificationResult.HardwareType.
const (
	HardwareIntelTDX = "INTEL_TDX"
	HardwareNvidiaCC = "NVIDIA_CC"
)

// AttestationReport is the provider-tagged envelope the verification
// engine consumes. It is immutable after construction: verifiers never
// mutate a report, only the VerificationResult they build from it.
type AttestationReport struct {
	Provider      Provider       `json:"provider"`
	ModelID       string         `json:"model_id,omitempty"`
	IntelQuote    string         `json:"intel_quote"` // hex string of the raw TDX quote bytes
	RequestNonce  string         `json:"request_nonce,omitempty"`
	NvidiaPayload map[string]any `json:"nvidia_payload,omitempty"`
	Raw           map[string]any `json:"raw,omitempty"`
}

// TdxV4Quote is the decoded body of a TDX v4 quote: 584 bytes at offset
// 48, sliced into the fixed-offset measurement fields. All fields are
// lowercase hex strings as produced by TdxQuoteParser.
type TdxV4Quote struct {
	TeeTcbSvn      string `json:"tee_tcb_svn"`
	MrSeam         string `json:"mr_seam"`
	MrSignerSeam   string `json:"mr_signer_seam"`
	SeamAttributes string `json:"seam_attributes"`
	TdAttributes   string `json:"td_attributes"`
	Xfam           string `json:"xfam"`
	MrTd           string `json:"mr_td"`
	MrConfigId     string `json:"mr_config_id"`
	MrOwner        string `json:"mr_owner"`
	MrOwnerConfig  string `json:"mr_owner_config"`
	RtMr0          string `json:"rt_mr0"`
	RtMr1          string `json:"rt_mr1"`
	RtMr2          string `json:"rt_mr2"`
	RtMr3          string `json:"rt_mr3"`
	ReportData     string `json:"report_data"`
}

// Registers returns the measurement registers higher-level policies
// compare against golden values: mr_td, rt_mr0..rt_mr3, in that order.
func (q *TdxV4Quote) Registers() []string {
	return []string{q.MrTd, q.RtMr0, q.RtMr1, q.RtMr2, q.RtMr3}
}

// VerificationResult is the verdict surface returned by every verifier
// in the hierarchy. Invariant: ModelVerified implies Error is empty and
// HardwareType contains HardwareIntelTDX.
type VerificationResult struct {
	ModelVerified  bool           `json:"model_verified"`
	Provider       Provider       `json:"provider"`
	Timestamp      time.Time      `json:"timestamp"`
	HardwareType   []string       `json:"hardware_type"`
	ModelID        string         `json:"model_id,omitempty"`
	RequestNonce   string         `json:"request_nonce,omitempty"`
	SigningAddress string         `json:"signing_address,omitempty"`
	Claims         map[string]any `json:"claims"`
	Error          string         `json:"error,omitempty"`
	Raw            any            `json:"raw,omitempty"`
}

// WithHardware appends a hardware type tag if not already present.
func (r *VerificationResult) WithHardware(kind string) {
	for _, h := range r.HardwareType {
		if h == kind {
			return
		}
	}
	r.HardwareType = append(r.HardwareType, kind)
}

// GoldenMeasurements is the lazily-fetched, process-lifetime cached
// bundle of pinned values a hardware/software policy compares evidence
// against.
type GoldenMeasurements struct {
	// ImageMeasurements maps a Sigstore repo slug to its {rtmr1, rtmr2}.
	ImageMeasurements map[string]ImageMeasurement
	// HardwareProfiles maps a profile name to its {mrtd, rtmr0}.
	HardwareProfiles map[string]HardwareProfile
}

type ImageMeasurement struct {
	RtMr1 string
	RtMr2 string
}

type HardwareProfile struct {
	MrTd  string
	RtMr0 string
}

// ComponentVerdict is the internal aggregate produced for each
// sub-component of the Phala composite verifier (its Main-App/KMS/Gateway
// components).
type ComponentVerdict struct {
	Name            string         `json:"name"`
	IsValid         bool           `json:"is_valid"`
	ComposeVerified bool           `json:"compose_verified"`
	DstackDetails   map[string]any `json:"details,omitempty"`
	Reason          string         `json:"reason,omitempty"`
}
