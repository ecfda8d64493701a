package audit

import (
	"crypto/sha256"
	"encoding/base64"
)

// Fingerprint hashes a token so audit entries can correlate grants without
// ever recording the token itself.
func Fingerprint(token string) string {
	if token == "" {
		return "(n/a)"
	}
	hash := sha256.Sum256([]byte(token))
	return base64.StdEncoding.EncodeToString(hash[:])
}
