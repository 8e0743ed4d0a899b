// Package tdx decodes the binary TDX v4 quote layout into the typed
// measurement fields higher-level policies compare against golden
// values. Parsing is pure and deterministic: no I/O, no network calls.
package tdx

import (
	"encoding/hex"
	"fmt"

	"github.com/Phala-Network/private-ai-verifier/pkg/types"
)

// ErrQuoteMalformed is returned when the quote is too short to contain
// a 48-byte header plus a 584-byte body.
var ErrQuoteMalformed = fmt.Errorf("tdx: quote malformed")

const (
	headerLen = 48
	bodyLen   = 584
	minLen    = headerLen + bodyLen

	offTeeTcbSvn      = 0
	offMrSeam         = 16
	offMrSignerSeam   = 64
	offSeamAttributes = 112
	offTdAttributes   = 120
	offXfam           = 128
	offMrTd           = 136
	offMrConfigId     = 184
	offMrOwner        = 232
	offMrOwnerConfig  = 280
	offRtMr0          = 328
	offRtMr1          = 376
	offRtMr2          = 424
	offRtMr3          = 472
	offReportData     = 520
	offEnd            = 584
)

// ParseHex decodes a hex-encoded TDX v4 quote.
func ParseHex(quoteHex string) (*types.TdxV4Quote, error) {
	raw, err := hex.DecodeString(quoteHex)
	if err != nil {
		return nil, fmt.Errorf("tdx: decode hex: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a raw TDX v4 quote: skips the 48-byte header, reads the
// 584-byte body, and slices fixed offsets into the measurement fields.
// Fails with ErrQuoteMalformed if the total length is below 632 bytes.
func Parse(quote []byte) (*types.TdxV4Quote, error) {
	if len(quote) < minLen {
		return nil, fmt.Errorf("%w: got %d bytes, need at least %d", ErrQuoteMalformed, len(quote), minLen)
	}

	body := quote[headerLen : headerLen+bodyLen]

	return &types.TdxV4Quote{
		TeeTcbSvn:      hex.EncodeToString(body[offTeeTcbSvn:offMrSeam]),
		MrSeam:         hex.EncodeToString(body[offMrSeam:offMrSignerSeam]),
		MrSignerSeam:   hex.EncodeToString(body[offMrSignerSeam:offSeamAttributes]),
		SeamAttributes: hex.EncodeToString(body[offSeamAttributes:offTdAttributes]),
		TdAttributes:   hex.EncodeToString(body[offTdAttributes:offXfam]),
		Xfam:           hex.EncodeToString(body[offXfam:offMrTd]),
		MrTd:           hex.EncodeToString(body[offMrTd:offMrConfigId]),
		MrConfigId:     hex.EncodeToString(body[offMrConfigId:offMrOwner]),
		MrOwner:        hex.EncodeToString(body[offMrOwner:offMrOwnerConfig]),
		MrOwnerConfig:  hex.EncodeToString(body[offMrOwnerConfig:offRtMr0]),
		RtMr0:          hex.EncodeToString(body[offRtMr0:offRtMr1]),
		RtMr1:          hex.EncodeToString(body[offRtMr1:offRtMr2]),
		RtMr2:          hex.EncodeToString(body[offRtMr2:offRtMr3]),
		RtMr3:          hex.EncodeToString(body[offRtMr3:offReportData]),
		ReportData:     hex.EncodeToString(body[offReportData:offEnd]),
	}, nil
}

// ExtractReportData returns just the 64-byte report-data field as hex,
// used by composite verifiers that need to bind a quote's report data
// without the cost of a full parse-to-struct.
func ExtractReportData(quoteHex string) (string, error) {
	raw, err := hex.DecodeString(quoteHex)
	if err != nil {
		return "", fmt.Errorf("tdx: decode hex: %w", err)
	}
	if len(raw) < minLen {
		return "", fmt.Errorf("%w: got %d bytes, need at least %d", ErrQuoteMalformed, len(raw), minLen)
	}
	body := raw[headerLen : headerLen+bodyLen]
	return hex.EncodeToString(body[offReportData:offEnd]), nil
}
