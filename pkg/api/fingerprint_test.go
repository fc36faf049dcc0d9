package api

import (
	"testing"
)

func TestNormalizePrompt(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "a red fox", "a red fox"},
		{"surrounding whitespace", "  a red fox\n", "a red fox"},
		{"interior runs", "a   red\t\tfox", "a red fox"},
		{"empty", "", ""},
		{"only whitespace", " \t\n ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizePrompt(tt.in); got != tt.want {
				t.Errorf("NormalizePrompt(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a := &Request{
		Capability: CapabilityImage,
		Prompt:     "a red fox in the snow",
		Params:     map[string]string{ParamSize: "1024x1024", ParamStyle: "vivid"},
	}
	b := &Request{
		Capability: CapabilityImage,
		Prompt:     "  a red   fox in the snow ",
		Params:     map[string]string{ParamStyle: "vivid", ParamSize: "1024x1024"},
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("whitespace and param ordering must not change the fingerprint")
	}
}

func TestFingerprintDiscriminates(t *testing.T) {
	base := &Request{Capability: CapabilityImage, Prompt: "a red fox"}

	tests := []struct {
		name  string
		other *Request
	}{
		{"different prompt", &Request{Capability: CapabilityImage, Prompt: "a blue fox"}},
		{"different capability", &Request{Capability: CapabilityVideo, Prompt: "a red fox"}},
		{"provider pin", &Request{Capability: CapabilityImage, Prompt: "a red fox", Provider: "openai"}},
		{"extra param", &Request{Capability: CapabilityImage, Prompt: "a red fox", Params: map[string]string{ParamSize: "512x512"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if base.Fingerprint() == tt.other.Fingerprint() {
				t.Error("fingerprints must differ")
			}
		})
	}
}

func TestFingerprintEmptyParamValue(t *testing.T) {
	a := &Request{Capability: CapabilityImage, Prompt: "fox"}
	b := &Request{Capability: CapabilityImage, Prompt: "fox", Params: map[string]string{ParamStyle: ""}}
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("an empty param value must fingerprint like an absent key")
	}
}

func TestSimilarityKeyBuckets(t *testing.T) {
	a := &Request{Capability: CapabilityImage, Prompt: "a red fox", Params: map[string]string{ParamSize: "1024x1024"}}
	b := &Request{Capability: CapabilityImage, Prompt: "one red fox", Params: map[string]string{ParamSize: "1024x1024"}}
	c := &Request{Capability: CapabilityImage, Prompt: "a red fox", Params: map[string]string{ParamSize: "512x512"}}

	if a.SimilarityKey().Bucket != b.SimilarityKey().Bucket {
		t.Error("same capability and params must share a bucket")
	}
	if a.SimilarityKey().Bucket == c.SimilarityKey().Bucket {
		t.Error("different params must not share a bucket")
	}
}

func TestSimilarityScore(t *testing.T) {
	req := func(prompt string) SimilarityKey {
		r := &Request{Capability: CapabilityImage, Prompt: prompt}
		return r.SimilarityKey()
	}

	tests := []struct {
		name string
		a, b SimilarityKey
		want float64
	}{
		{"identical", req("a red fox"), req("a red fox"), 1.0},
		{"case and punctuation", req("A red fox!"), req("a RED fox"), 1.0},
		{"disjoint", req("a red fox"), req("blue whale swimming"), 0.0},
		{"partial overlap", req("red fox snow"), req("red fox forest"), 0.5},
		{"empty prompt", req(""), req("a red fox"), 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Score(tt.b); got != tt.want {
				t.Errorf("Score = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSimilarityScoreAcrossBuckets(t *testing.T) {
	a := &Request{Capability: CapabilityImage, Prompt: "a red fox"}
	b := &Request{Capability: CapabilityDiagram, Prompt: "a red fox"}
	if got := a.SimilarityKey().Score(b.SimilarityKey()); got != 0 {
		t.Errorf("Score across buckets = %v, want 0", got)
	}
}
