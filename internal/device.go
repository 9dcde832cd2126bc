package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashBindingValue returns the SHA-256 digest of v.
func HashBindingValue(v string) [32]byte {
	return sha256.Sum256([]byte(v))
}

// DeviceFingerprint returns the client-supplied fingerprint when present,
// otherwise a stable digest of the user agent. Empty input yields "".
func DeviceFingerprint(supplied, userAgent string) string {
	if fp := strings.TrimSpace(supplied); fp != "" {
		if len(fp) > 128 {
			fp = fp[:128]
		}
		return fp
	}
	if userAgent == "" {
		return ""
	}
	sum := HashBindingValue(userAgent)
	return "ua:" + hex.EncodeToString(sum[:12])
}
