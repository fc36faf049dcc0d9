package guard

import "regexp"

// maskReplacement substitutes every detected PII span.
const maskReplacement = "***REDACTED***"

// The masks cover the common unambiguous shapes: emails, US phone numbers,
// SSNs, and 16-digit card numbers.
var (
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	cardPattern  = regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`)
)

// MaskPII replaces detected PII spans in text and reports whether anything
// was masked. The masked text is what gets fingerprinted, cached, and sent
// to providers; the raw PII never leaves the process.
func MaskPII(text string) (string, bool) {
	masked := text
	found := false
	for _, p := range []*regexp.Regexp{emailPattern, cardPattern, ssnPattern, phonePattern} {
		if p.MatchString(masked) {
			masked = p.ReplaceAllString(masked, maskReplacement)
			found = true
		}
	}
	return masked, found
}

var (
	scriptBlockPattern = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	jsURIPattern       = regexp.MustCompile(`(?i)javascript:`)
)

// SanitizeOutput strips script blocks and javascript: URIs from outbound
// text payloads. It deliberately does not strip markup wholesale: diagram
// code legitimately contains tags like <br/> in labels.
func SanitizeOutput(text string) string {
	out := scriptBlockPattern.ReplaceAllString(text, "")
	out = jsURIPattern.ReplaceAllString(out, "")
	return out
}
