package api

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ValidationConfig holds configurable limits for structural request
// validation. Policy-driven limits (content rules, per-capability length
// windows) are enforced separately by the validation gates; these bounds
// reject requests that are malformed regardless of policy.
type ValidationConfig struct {
	MaxPromptLength int
	MaxOutputCount  int
	MaxVideoSeconds int
}

// DefaultValidationConfig returns a ValidationConfig with sensible defaults.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxPromptLength: 32 * 1024,
		MaxOutputCount:  8,
		MaxVideoSeconds: 60,
	}
}

var dimensionsPattern = regexp.MustCompile(`^\d{2,4}x\d{2,4}$`)

// ValidateRequest checks a Request for structural validity. It returns an
// *APIError describing the first validation failure, or nil if the request
// is valid.
func ValidateRequest(req *Request, cfg ValidationConfig) *APIError {
	if !req.Capability.Valid() {
		return NewInvalidRequestError("capability",
			fmt.Sprintf("unknown capability %q", req.Capability))
	}

	if strings.TrimSpace(req.Prompt) == "" {
		return NewInvalidRequestError("prompt", "prompt is required")
	}

	if cfg.MaxPromptLength > 0 && len(req.Prompt) > cfg.MaxPromptLength {
		return NewInvalidRequestError("prompt",
			fmt.Sprintf("prompt exceeds maximum length of %d bytes", cfg.MaxPromptLength))
	}

	if v := req.Param(ParamCount); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return NewInvalidRequestError(ParamCount, "count must be a positive integer")
		}
		if cfg.MaxOutputCount > 0 && n > cfg.MaxOutputCount {
			return NewInvalidRequestError(ParamCount,
				fmt.Sprintf("count exceeds maximum of %d", cfg.MaxOutputCount))
		}
	}

	if v := req.Param(ParamDuration); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return NewInvalidRequestError(ParamDuration, "duration must be a positive integer")
		}
		if cfg.MaxVideoSeconds > 0 && n > cfg.MaxVideoSeconds {
			return NewInvalidRequestError(ParamDuration,
				fmt.Sprintf("duration exceeds maximum of %d seconds", cfg.MaxVideoSeconds))
		}
	}

	for _, key := range []string{ParamSize, ParamResolution} {
		if v := req.Param(key); v != "" && !dimensionsPattern.MatchString(v) {
			return NewInvalidRequestError(key,
				fmt.Sprintf("%s must be WIDTHxHEIGHT, e.g. 1024x1024", key))
		}
	}

	return nil
}
