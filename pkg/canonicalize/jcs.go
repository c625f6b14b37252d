// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and content digests for post-action documents.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"
)

// DigestPrefix is the algorithm tag carried by every digest.
const DigestPrefix = "sha256:"

// JCS returns the RFC 8785 canonical JSON representation of v.
// Struct tags are honoured; the result has sorted keys and no HTML escaping.
func JCS(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}
	return Bytes(raw)
}

// Bytes canonicalizes an already encoded JSON document.
func Bytes(raw []byte) ([]byte, error) {
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return out, nil
}

// Digest returns "sha256:<hex>" over the canonical form of v.
func Digest(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns "sha256:<hex>" over raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return DigestPrefix + hex.EncodeToString(sum[:])
}

// ValidDigest reports whether s looks like "sha256:" followed by 64 lowercase hex characters.
func ValidDigest(s string) bool {
	h, ok := strings.CutPrefix(s, DigestPrefix)
	if !ok || len(h) != sha256.Size*2 {
		return false
	}
	for _, c := range h {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
