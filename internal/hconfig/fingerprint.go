package hconfig

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// FingerprintSecret returns a short, irreversible fingerprint of a secret
// (e.g. hass.token) suitable for log lines, so operators can correlate
// "which token" without the raw value ever reaching a log sink. Grounded on
// the pack's blake2b.New usage for content hashing, applied here to a
// single secret value instead of a streamed encoder.
func FingerprintSecret(secret string) string {
	if secret == "" {
		return ""
	}
	h, err := blake2b.New(8, nil)
	if err != nil {
		return ""
	}
	_, _ = h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}
