// Package guard runs the security and quality gates over inbound requests
// before any cache, budget, or provider work happens. Gates are pure
// functions of the request and the caller's policy snapshot; the engine
// owns the ordering.
package guard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/atelier-dev/atelier/pkg/api"
	"github.com/atelier-dev/atelier/pkg/policy"
)

// Gate names, recorded in rejections and surfaced in error params.
const (
	GateContentFilter   = "content_filter"
	GatePromptInjection = "prompt_injection"
	GatePromptLength    = "prompt_length"
	GateImageSize       = "image_size"
	GateDiagramFormat   = "diagram_format"
	GateVideoDuration   = "video_duration"
)

// Rejection describes why a gate refused a request.
type Rejection struct {
	Gate   string
	Reason string
}

// Validate runs the security gates, then the quality gates, and returns
// the first rejection. A nil return means every gate passed.
func Validate(snap *policy.Snapshot, req *api.Request) *Rejection {
	if r := checkBlockedTerms(snap.Security, req.Prompt); r != nil {
		return r
	}
	if r := checkInjection(snap.Security, req.Prompt); r != nil {
		return r
	}
	if r := checkPromptLength(snap.Quality, req.Capability, req.Prompt); r != nil {
		return r
	}
	switch req.Capability {
	case api.CapabilityImage:
		if r := checkImageSize(snap.Quality, req); r != nil {
			return r
		}
	case api.CapabilityDiagram:
		if r := checkDiagramFormat(snap.Quality, req); r != nil {
			return r
		}
	case api.CapabilityVideo:
		if r := checkVideoDuration(snap.Quality, req); r != nil {
			return r
		}
	}
	return nil
}

func checkBlockedTerms(sec policy.SecurityPolicy, prompt string) *Rejection {
	lower := strings.ToLower(prompt)
	for _, term := range sec.BlockedTerms {
		if term == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(term)) {
			return &Rejection{
				Gate:   GateContentFilter,
				Reason: fmt.Sprintf("prompt contains blocked term %q", term),
			}
		}
	}
	return nil
}

// checkInjection scores a prompt by the fraction of its tokens that belong
// to matched injection phrases. A long legitimate prompt that happens to
// contain one suspicious phrase scores low; a prompt that is mostly
// injection phrasing scores high.
func checkInjection(sec policy.SecurityPolicy, prompt string) *Rejection {
	if sec.InjectionTokenRatio <= 0 || len(sec.InjectionPatterns) == 0 {
		return nil
	}

	total := len(strings.Fields(prompt))
	if total == 0 {
		return nil
	}

	lower := strings.ToLower(prompt)
	suspicious := 0
	for _, pattern := range sec.InjectionPatterns {
		p := strings.ToLower(pattern)
		if p == "" {
			continue
		}
		if n := strings.Count(lower, p); n > 0 {
			suspicious += n * len(strings.Fields(p))
		}
	}
	if suspicious == 0 {
		return nil
	}

	ratio := float64(suspicious) / float64(total)
	if ratio > 1 {
		ratio = 1
	}
	if ratio >= sec.InjectionTokenRatio {
		return &Rejection{
			Gate:   GatePromptInjection,
			Reason: fmt.Sprintf("prompt injection suspected (token ratio %.2f)", ratio),
		}
	}
	return nil
}

func checkPromptLength(q policy.QualityPolicy, capability api.Capability, prompt string) *Rejection {
	window, ok := q.PromptLimits[capability]
	if !ok {
		return nil
	}
	n := len(prompt)
	if window.Min > 0 && n < window.Min {
		return &Rejection{
			Gate:   GatePromptLength,
			Reason: fmt.Sprintf("prompt length %d below minimum %d", n, window.Min),
		}
	}
	if window.Max > 0 && n > window.Max {
		return &Rejection{
			Gate:   GatePromptLength,
			Reason: fmt.Sprintf("prompt length %d exceeds maximum %d", n, window.Max),
		}
	}
	return nil
}

func checkImageSize(q policy.QualityPolicy, req *api.Request) *Rejection {
	size := req.Param(api.ParamSize)
	if size == "" || len(q.AllowedSizes) == 0 {
		return nil
	}
	for _, allowed := range q.AllowedSizes {
		if size == allowed {
			return nil
		}
	}
	return &Rejection{
		Gate:   GateImageSize,
		Reason: fmt.Sprintf("size %q is not allowed (allowed: %s)", size, strings.Join(q.AllowedSizes, ", ")),
	}
}

func checkDiagramFormat(q policy.QualityPolicy, req *api.Request) *Rejection {
	format := req.Param(api.ParamFormat)
	if format == "" || len(q.AllowedFormats) == 0 {
		return nil
	}
	for _, allowed := range q.AllowedFormats {
		if format == allowed {
			return nil
		}
	}
	return &Rejection{
		Gate:   GateDiagramFormat,
		Reason: fmt.Sprintf("format %q is not allowed (allowed: %s)", format, strings.Join(q.AllowedFormats, ", ")),
	}
}

func checkVideoDuration(q policy.QualityPolicy, req *api.Request) *Rejection {
	if q.MaxVideoSeconds <= 0 {
		return nil
	}
	raw := req.Param(api.ParamDuration)
	if raw == "" {
		return nil
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil {
		// Structural validation rejects non-numeric durations first.
		return nil
	}
	if seconds > q.MaxVideoSeconds {
		return &Rejection{
			Gate:   GateVideoDuration,
			Reason: fmt.Sprintf("duration %ds exceeds maximum %ds", seconds, q.MaxVideoSeconds),
		}
	}
	return nil
}
