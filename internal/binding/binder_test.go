package binding

import (
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomHex(t *testing.T, n int) (string, []byte) {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return hex.EncodeToString(b), b
}

func TestVerify_RoundTrip(t *testing.T) {
	addrHex, addr := randomHex(t, 20)
	nonceHex, nonce := randomHex(t, 32)

	reportData := append(append([]byte{}, addr...), make([]byte, 12)...)
	reportData = append(reportData, nonce...)
	require.Len(t, reportData, 64)

	res := Verify(hex.EncodeToString(reportData), addrHex, nonceHex)
	assert.True(t, res.Valid)
	assert.True(t, res.AddressMatch)
	assert.True(t, res.NonceMatch)
	assert.Empty(t, res.Error)
}

func TestVerify_FlippedAddressByte(t *testing.T) {
	addrHex, addr := randomHex(t, 20)
	nonceHex, nonce := randomHex(t, 32)

	reportData := append(append([]byte{}, addr...), make([]byte, 12)...)
	reportData = append(reportData, nonce...)
	reportData[0] ^= 0xFF

	res := Verify(hex.EncodeToString(reportData), addrHex, nonceHex)
	assert.False(t, res.Valid)
	assert.False(t, res.AddressMatch)
	assert.True(t, res.NonceMatch)
}

func TestVerify_FlippedNonceByte(t *testing.T) {
	addrHex, addr := randomHex(t, 20)
	nonceHex, nonce := randomHex(t, 32)

	reportData := append(append([]byte{}, addr...), make([]byte, 12)...)
	reportData = append(reportData, nonce...)
	reportData[63] ^= 0xFF

	res := Verify(hex.EncodeToString(reportData), addrHex, nonceHex)
	assert.False(t, res.Valid)
	assert.True(t, res.AddressMatch)
	assert.False(t, res.NonceMatch)
}

func TestVerify_TruncatedReportData(t *testing.T) {
	addrHex, _ := randomHex(t, 20)
	nonceHex, _ := randomHex(t, 32)

	res := Verify(hex.EncodeToString(make([]byte, 63)), addrHex, nonceHex)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Error, "length")
}

func TestVerify_0xPrefixedAddress(t *testing.T) {
	addrHex, addr := randomHex(t, 20)
	nonceHex, nonce := randomHex(t, 32)

	reportData := append(append([]byte{}, addr...), make([]byte, 12)...)
	reportData = append(reportData, nonce...)

	res := Verify(hex.EncodeToString(reportData), "0x"+addrHex, nonceHex)
	assert.True(t, res.Valid)
}

func TestVerify_InvalidHex(t *testing.T) {
	res := Verify("not-hex", "aa", "bb")
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.Error)
}
