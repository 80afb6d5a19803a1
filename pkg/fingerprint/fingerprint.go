// Package fingerprint computes the deterministic idempotency key and content
// hash used by the job supervisor and the degradation cache.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/shopcompliance/engine/pkg/model"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Normalize casefolds, collapses runs of whitespace to a single space, and
// trims the result. This is the one documented normalization constant used
// by both the idempotency key and the content hash.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// IdempotencyKey hashes the normalized submission tuple. It is stable across
// worker restarts because it depends only on caller-supplied input, never on
// clock time or process state.
func IdempotencyKey(in model.SubmissionInput) string {
	h := sha256.New()
	h.Write([]byte(Normalize(in.ShopName)))
	h.Write([]byte{0})
	h.Write([]byte(Normalize(in.ShopSpecialization)))
	h.Write([]byte{0})
	h.Write([]byte(Normalize(string(in.PolicyType))))
	h.Write([]byte{0})
	h.Write([]byte(Normalize(in.PolicyText)))
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash hashes the normalized policy text alone, independent of the
// submitting shop. Used by the degradation store so a cached analysis can
// serve any shop with byte-equivalent (after normalization) policy text.
func ContentHash(policyText string) string {
	sum := sha256.Sum256([]byte(Normalize(policyText)))
	return hex.EncodeToString(sum[:])
}
