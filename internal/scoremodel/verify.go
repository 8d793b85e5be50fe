package scoremodel

import (
	"crypto/sha3"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// Digest returns the lowercase hex SHA3-256 of data.
func Digest(data []byte) string {
	sum := sha3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestFile streams path through SHA3-256. Used to pin a model in config.
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha3.New256()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify compares an actual digest with the pinned one. An empty expected
// value means the model is unpinned. A malformed pin never matches.
func Verify(actual, expected string) error {
	expected = strings.ToLower(strings.TrimSpace(expected))
	if expected == "" {
		return nil
	}
	if len(expected) != 64 || !isHex(expected) {
		return fmt.Errorf("%w: pinned digest %q is not a SHA3-256 hex string", ErrHashMismatch, expected)
	}
	if actual != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrHashMismatch, expected, actual)
	}
	return nil
}

func isHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
