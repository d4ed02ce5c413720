package visitors

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// IPHasher builds the salted digest stored in place of a visitor's IP.
// The same salt and IP always give the same hash, so exclusion lists keyed
// by hash stay valid across requests.
type IPHasher struct {
	salt string
}

func NewIPHasher(salt string) IPHasher {
	return IPHasher{salt: salt}
}

// Hash returns hex(sha256(salt + trimmed ip)).
func (h IPHasher) Hash(ipAddress string) string {
	sum := sha256.Sum256([]byte(h.salt + strings.TrimSpace(ipAddress)))
	return hex.EncodeToString(sum[:])
}

// HashAll hashes every non-blank address.
func (h IPHasher) HashAll(ipAddresses []string) []string {
	hashes := make([]string, 0, len(ipAddresses))
	for _, ip := range ipAddresses {
		if strings.TrimSpace(ip) == "" {
			continue
		}
		hashes = append(hashes, h.Hash(ip))
	}
	return hashes
}

// IsIPHash reports whether s looks like a value produced by Hash.
func IsIPHash(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
