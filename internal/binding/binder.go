// Package binding checks that a TDX report-data field binds the caller
// expected signer address and request nonce, per the layout
// report_data = signer_address_padded_32 || nonce_32.
package binding

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	reportDataLen  = 64
	addressHalfLen = 32
	rawAddressLen  = 20
)

// Result is the verdict of a report-data binding check.
type Result struct {
	Valid        bool   `json:"valid"`
	AddressMatch bool   `json:"address_match"`
	NonceMatch   bool   `json:"nonce_match"`
	Error        string `json:"error,omitempty"`
}

// Verify compares reportDataHex against signerAddressHex||nonceHex per
// the layout bytes[0:20]=signer_address, bytes[20:32]=zero padding,
// bytes[32:64]=nonce. Returns {valid:false, error:"..."} on any
// malformed input rather than an error return, matching the original
// verify_report_data contract every caller expects a Result, not a Go
// error, so it can be embedded directly in claims.
func Verify(reportDataHex, signerAddressHex, nonceHex string) Result {
	reportData, err := hex.DecodeString(reportDataHex)
	if err != nil {
		return Result{Error: fmt.Sprintf("invalid report_data hex: %v", err)}
	}
	if len(reportData) != reportDataLen {
		return Result{Error: fmt.Sprintf("invalid report_data length: %d", len(reportData))}
	}

	signerAddressHex = strings.TrimPrefix(signerAddressHex, "0x")
	signerAddressHex = strings.TrimPrefix(signerAddressHex, "0X")
	addrBytes, err := hex.DecodeString(signerAddressHex)
	if err != nil {
		return Result{Error: fmt.Sprintf("invalid signer address hex: %v", err)}
	}

	nonceBytes, err := hex.DecodeString(nonceHex)
	if err != nil {
		return Result{Error: fmt.Sprintf("invalid nonce hex: %v", err)}
	}

	expectedAddress := make([]byte, addressHalfLen)
	copy(expectedAddress, addrBytes) // right-padded with zero bytes

	embeddedAddress := reportData[:addressHalfLen]
	embeddedNonce := reportData[addressHalfLen:]

	addressMatch := bytes.Equal(embeddedAddress, expectedAddress)
	nonceMatch := bytes.Equal(embeddedNonce, nonceBytes)

	return Result{
		Valid:        addressMatch && nonceMatch,
		AddressMatch: addressMatch,
		NonceMatch:   nonceMatch,
	}
}
