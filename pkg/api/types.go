package api

import (
	"time"
)

// ---------------------------------------------------------------------------
// Capabilities
// ---------------------------------------------------------------------------

// Capability is a category of generation work routed independently:
// images, diagram code, or video.
type Capability string

const (
	CapabilityImage   Capability = "image"
	CapabilityDiagram Capability = "diagram"
	CapabilityVideo   Capability = "video"
)

// Capabilities returns all known capabilities in stable order.
func Capabilities() []Capability {
	return []Capability{CapabilityImage, CapabilityDiagram, CapabilityVideo}
}

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	switch c {
	case CapabilityImage, CapabilityDiagram, CapabilityVideo:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Request
// ---------------------------------------------------------------------------

// Well-known parameter keys. Adapters interpret the ones relevant to their
// capability; unknown keys still participate in fingerprinting.
const (
	ParamSize       = "size"       // image: "1024x1024"
	ParamStyle      = "style"      // image: "vivid", "natural"
	ParamCount      = "count"      // image: number of outputs
	ParamKind       = "kind"       // diagram: "flowchart", "sequence", ...
	ParamFormat     = "format"     // diagram: "mermaid"
	ParamDuration   = "duration"   // video: seconds
	ParamResolution = "resolution" // video: "1280x720"
	ParamImageURL   = "image_url"  // video: source image to animate
	ParamMotion     = "motion"     // video: motion intensity, 1-255
)

// Request is a normalized generation request. The orchestration engine treats
// the prompt and parameters as opaque content: they influence routing only
// through the capability, and caching only through the fingerprint.
type Request struct {
	// ID is the generation ID assigned at admission ("gen_" prefix).
	ID string `json:"id"`

	// Capability selects the routing chain and the adapter operation.
	Capability Capability `json:"capability"`

	// Prompt is the natural-language description of the desired output.
	Prompt string `json:"prompt"`

	// Params holds capability-specific parameters. Values are normalized
	// strings; ordering is irrelevant (fingerprinting sorts keys).
	Params map[string]string `json:"params,omitempty"`

	// Provider optionally pins the request to a single provider. The router
	// honors the pin only if that provider is configured and feature-enabled
	// for the capability.
	Provider string `json:"provider,omitempty"`
}

// Param returns the named parameter or the empty string.
func (r *Request) Param(key string) string {
	if r.Params == nil {
		return ""
	}
	return r.Params[key]
}

// ---------------------------------------------------------------------------
// Artifact
// ---------------------------------------------------------------------------

// Media is one produced media item, referenced by URL, inlined as base64,
// or both.
type Media struct {
	URL      string `json:"url,omitempty"`
	B64      string `json:"b64,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Artifact is the payload produced by a provider for one request. Image and
// video capabilities populate Media; the diagram capability populates Code.
type Artifact struct {
	Capability Capability `json:"capability"`
	Provider   string     `json:"provider"`
	Media      []Media    `json:"media,omitempty"`
	Code       string     `json:"code,omitempty"`
	Format     string     `json:"format,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ---------------------------------------------------------------------------
// Orchestration outcome
// ---------------------------------------------------------------------------

// OutcomeStatus is the terminal status of one orchestration.
type OutcomeStatus string

const (
	StatusSuccess            OutcomeStatus = "success"
	StatusCacheHit           OutcomeStatus = "cache_hit"
	StatusBudgetRejected     OutcomeStatus = "budget_rejected"
	StatusExhausted          OutcomeStatus = "exhausted"
	StatusValidationRejected OutcomeStatus = "validation_rejected"
	StatusNoProviders        OutcomeStatus = "no_providers_configured"
)

// AttemptReason is the terminal reason recorded for one candidate provider.
type AttemptReason string

const (
	ReasonSuccess          AttemptReason = "success"
	ReasonExhausted        AttemptReason = "exhausted"
	ReasonCircuitOpen      AttemptReason = "circuit_open"
	ReasonBudgetRejected   AttemptReason = "budget_rejected"
	ReasonDeadlineExceeded AttemptReason = "deadline_exceeded"
	ReasonUnregistered     AttemptReason = "provider_unregistered"
)

// Attempt records the terminal result of trying one candidate provider.
type Attempt struct {
	Provider   string        `json:"provider"`
	Reason     AttemptReason `json:"reason"`
	Tries      int           `json:"tries"`
	DurationMS int64         `json:"duration_ms"`
	Error      string        `json:"error,omitempty"`
}

// Outcome is the terminal result of one orchestration. It is returned to the
// transport layer and emitted to the observability sink; the engine does not
// retain it.
type Outcome struct {
	Status     OutcomeStatus `json:"status"`
	RequestID  string        `json:"request_id"`
	Capability Capability    `json:"capability"`

	// Provider is the provider that produced the artifact. For cache hits it
	// names the provider that produced the cached artifact.
	Provider string `json:"provider,omitempty"`

	// Artifact is set for success and cache_hit outcomes.
	Artifact *Artifact `json:"artifact,omitempty"`

	// Err describes the failure for non-success outcomes.
	Err *APIError `json:"error,omitempty"`

	// Attempts records every candidate tried, in order. Empty for outcomes
	// that never reached a provider (cache hits, rejections).
	Attempts []Attempt `json:"attempts"`

	// EstimatedCost is the admitted estimate; ActualCost the committed cost.
	// Both are zero for cache hits and requests rejected before admission.
	EstimatedCost float64 `json:"estimated_cost_usd,omitempty"`
	ActualCost    float64 `json:"actual_cost_usd,omitempty"`

	// BudgetOverCeiling reports that committing the actual cost pushed a
	// scope past its ceiling (soft enforcement at commit time).
	BudgetOverCeiling bool `json:"budget_over_ceiling,omitempty"`

	// PolicyVersion is the snapshot version captured at admission.
	PolicyVersion int64 `json:"policy_version"`

	DurationMS int64 `json:"duration_ms"`
}

// Succeeded reports whether the outcome carries a usable artifact.
func (o *Outcome) Succeeded() bool {
	return o.Status == StatusSuccess || o.Status == StatusCacheHit
}
