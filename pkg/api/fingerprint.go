package api

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"
	"strings"
	"unicode"
)

// NormalizePrompt trims surrounding whitespace and collapses interior
// whitespace runs to single spaces. Fingerprinting and similarity keys both
// operate on the normalized form, so incidental formatting differences never
// defeat cache matching.
func NormalizePrompt(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Fingerprint derives the deterministic exact-match cache key for the
// request: a SHA-256 over the capability, the provider pin (if any), the
// normalized prompt, and the canonical parameter list. Parameter ordering is
// irrelevant; keys are sorted before hashing.
func (r *Request) Fingerprint() string {
	h := sha256.New()
	io.WriteString(h, string(r.Capability))
	h.Write([]byte{0})
	io.WriteString(h, r.Provider)
	h.Write([]byte{0})
	io.WriteString(h, NormalizePrompt(r.Prompt))
	h.Write([]byte{0})
	io.WriteString(h, canonicalParams(r.Params))
	return hex.EncodeToString(h.Sum(nil))
}

// SimilarityKey is the near-duplicate matching key for a request. Two
// requests are comparable only within the same bucket (same capability,
// provider pin, and non-prompt parameters); within a bucket their similarity
// is the Jaccard overlap of their prompt token sets.
type SimilarityKey struct {
	Bucket string   `json:"bucket"`
	Tokens []string `json:"tokens"`
}

// SimilarityKey derives the near-duplicate key for the request. Tokens are
// the deduplicated, sorted, lowercase alphanumeric words of the normalized
// prompt.
func (r *Request) SimilarityKey() SimilarityKey {
	h := sha256.New()
	io.WriteString(h, string(r.Capability))
	h.Write([]byte{0})
	io.WriteString(h, r.Provider)
	h.Write([]byte{0})
	io.WriteString(h, canonicalParams(r.Params))
	sum := h.Sum(nil)

	return SimilarityKey{
		Bucket: string(r.Capability) + ":" + hex.EncodeToString(sum[:8]),
		Tokens: promptTokens(r.Prompt),
	}
}

// Score returns the Jaccard similarity between two keys in [0, 1].
// Keys in different buckets never match.
func (k SimilarityKey) Score(o SimilarityKey) float64 {
	if k.Bucket != o.Bucket || len(k.Tokens) == 0 || len(o.Tokens) == 0 {
		return 0
	}
	// Both token slices are sorted and deduplicated.
	var inter, i, j int
	for i < len(k.Tokens) && j < len(o.Tokens) {
		switch {
		case k.Tokens[i] == o.Tokens[j]:
			inter++
			i++
			j++
		case k.Tokens[i] < o.Tokens[j]:
			i++
		default:
			j++
		}
	}
	union := len(k.Tokens) + len(o.Tokens) - inter
	return float64(inter) / float64(union)
}

// canonicalParams renders params as "k=v" pairs sorted by key, joined with a
// unit separator. Empty values are skipped so an absent key and an explicit
// empty value fingerprint identically.
func canonicalParams(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

// promptTokens returns the deduplicated, sorted, lowercase alphanumeric
// tokens of the prompt.
func promptTokens(prompt string) []string {
	fields := strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		tokens = append(tokens, f)
	}
	sort.Strings(tokens)
	return tokens
}
