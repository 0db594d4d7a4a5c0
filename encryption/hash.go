package encryption

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Keccak256 computes a Keccak-256 hash over the concatenation of the inputs.
func Keccak256(data ...[]byte) []byte {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	return d.Sum(nil)
}

// FormatVerificationCode turns a ballot hash into the voter-facing
// "XXXX-XXXX-XXXX-XXXX" form: the first 16 hex characters, upper-cased,
// in groups of four.
func FormatVerificationCode(hash []byte) string {
	h := strings.ToUpper(hex.EncodeToString(hash))
	if len(h) > 16 {
		h = h[:16]
	}
	groups := make([]string, 0, 4)
	for i := 0; i < len(h); i += 4 {
		end := i + 4
		if end > len(h) {
			end = len(h)
		}
		groups = append(groups, h[i:end])
	}
	return strings.Join(groups, "-")
}

// NewVoteSecret returns a fresh 64-character hex token for Level-2
// verification.
func NewVoteSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate vote secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewSalt returns random bytes for verification-code regeneration.
func NewSalt() ([]byte, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return b, nil
}
