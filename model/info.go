// Package model provides the model registry and selector for semflow.
// Instead of hardcoding a model per step, workflows declare task requirements
// (capabilities, context window, priority) and the selector ranks the models a
// user can access, returning a primary choice with a fallback chain.
package model

import (
	"time"
)

// Capabilities describes what a model can do. The selector treats these as
// hard requirements when set on Requirements, and as bonus signals otherwise.
type Capabilities struct {
	// Text indicates general text generation support.
	Text bool `json:"text" yaml:"text"`

	// Vision indicates image understanding support.
	Vision bool `json:"vision" yaml:"vision"`

	// Code indicates the model is tuned for code generation.
	Code bool `json:"code" yaml:"code"`

	// FunctionCalling indicates structured tool/function call support.
	FunctionCalling bool `json:"function_calling" yaml:"function_calling"`

	// JSONMode indicates native JSON output mode support.
	JSONMode bool `json:"json_mode" yaml:"json_mode"`

	// LargeContext indicates a context window of 100k tokens or more.
	LargeContext bool `json:"large_context" yaml:"large_context"`
}

// Satisfies reports whether the model capabilities cover every capability
// required by req.
func (c Capabilities) Satisfies(req Capabilities) bool {
	if req.Text && !c.Text {
		return false
	}
	if req.Vision && !c.Vision {
		return false
	}
	if req.Code && !c.Code {
		return false
	}
	if req.FunctionCalling && !c.FunctionCalling {
		return false
	}
	if req.JSONMode && !c.JSONMode {
		return false
	}
	if req.LargeContext && !c.LargeContext {
		return false
	}
	return true
}

// Pricing holds the per-token cost of a model in USD per 1k tokens.
type Pricing struct {
	InputPer1K  float64 `json:"input_per_1k" yaml:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k" yaml:"output_per_1k"`
}

// Cost returns the USD cost for the given token counts.
func (p Pricing) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*p.InputPer1K + float64(outputTokens)/1000*p.OutputPer1K
}

// Metrics is the live performance record for a model. All scores are kept
// in [0,1] and updated online via exponential moving average after real
// invocations (see Registry.UpdateMetrics).
type Metrics struct {
	// Performance is the observed output quality score.
	Performance float64 `json:"performance" yaml:"performance"`

	// Speed is the latency score, normalized against LatencyBaseline.
	Speed float64 `json:"speed" yaml:"speed"`

	// CostEfficiency scores how cheap the model is relative to peers.
	CostEfficiency float64 `json:"cost_efficiency" yaml:"cost_efficiency"`

	// Reliability tracks invocation success; success pulls toward 1,
	// failure toward 0.
	Reliability float64 `json:"reliability" yaml:"reliability"`

	// AvgLatency is the moving average invocation latency.
	AvgLatency time.Duration `json:"avg_latency" yaml:"avg_latency"`

	// SuccessRate mirrors Reliability for reporting.
	SuccessRate float64 `json:"success_rate" yaml:"success_rate"`
}

// Info is the descriptive and performance record for a single model.
type Info struct {
	// ID uniquely identifies the model within the registry
	// (e.g. "claude-sonnet", "gpt-4o-mini").
	ID string `json:"id" yaml:"id"`

	// Provider is the invocation provider (anthropic, openai, ollama).
	Provider string `json:"provider" yaml:"provider"`

	// Model is the identifier sent to the provider API.
	Model string `json:"model" yaml:"model"`

	// Endpoint is the API base URL for non-default providers.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	Capabilities Capabilities `json:"capabilities" yaml:"capabilities"`
	Pricing      Pricing      `json:"pricing" yaml:"pricing"`

	// ContextWindow is the maximum input context in tokens.
	ContextWindow int `json:"context_window" yaml:"context_window"`

	// MaxOutputTokens caps a single completion.
	MaxOutputTokens int `json:"max_output_tokens" yaml:"max_output_tokens"`

	Metrics Metrics `json:"metrics" yaml:"metrics"`
}

// DefaultMetrics returns the neutral starting scores for a model with no
// invocation history. Online updates move them toward observed behavior.
func DefaultMetrics() Metrics {
	return Metrics{
		Performance:    0.5,
		Speed:          0.5,
		CostEfficiency: 0.5,
		Reliability:    0.9,
		SuccessRate:    0.9,
	}
}

// Clone returns a deep copy of the info record.
func (i *Info) Clone() *Info {
	out := *i
	return &out
}
