// Package checksum provides SHA-256 checksum utilities for artifact integrity
// verification. Compiled ruleset artifacts and field-registry snapshots are
// content-addressed by their checksum, and every manifest row records it in
// the prefixed "sha256:<64-lowercase-hex>" form. Keeping this logic in one
// package keeps hashing behaviour consistent across the compiler, publisher,
// and storage layers without duplicating crypto/sha256 wiring.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
)

// Prefix is prepended to the hex digest in all stored checksums.
const Prefix = "sha256:"

var prefixedPattern = regexp.MustCompile(`^sha256:[0-9a-f]{64}$`)

// SHA256 computes the lowercase hex SHA-256 digest of data.
func SHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Prefixed computes the stored checksum form "sha256:<hex>" of data.
func Prefixed(data []byte) string {
	return Prefix + SHA256(data)
}

// IsPrefixed reports whether s is a well-formed prefixed checksum
// (exactly 71 characters: the prefix plus 64 lowercase hex digits).
func IsPrefixed(s string) bool {
	return prefixedPattern.MatchString(s)
}

// CalculateSHA256 calculates the SHA-256 digest of data from a reader.
func CalculateSHA256(reader io.Reader) (string, error) {
	hasher := sha256.New()

	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// VerifySHA256 verifies that the checksum of data matches the expected
// checksum. The expected value may be bare hex or in prefixed form.
func VerifySHA256(reader io.Reader, expectedChecksum string) (bool, error) {
	actualChecksum, err := CalculateSHA256(reader)
	if err != nil {
		return false, err
	}

	if IsPrefixed(expectedChecksum) {
		return Prefix+actualChecksum == expectedChecksum, nil
	}
	return actualChecksum == expectedChecksum, nil
}
