// Package backend defines the Adapter contract that every model-serving
// backend implements (spec.md §5), plus the speed-tier and quality-tier
// HTTP adapters, health caching, and chain failover grounded on the
// teacher's ai/providers and ai/chain_client.go.
package backend

import (
	"context"
	"time"
)

// Tier distinguishes the two backend classes the router selects between.
type Tier string

const (
	TierSpeed   Tier = "speed"
	TierQuality Tier = "quality"
)

// Options configures a single generation call.
type Options struct {
	Model        string
	Temperature  float32
	MaxTokens    int
	SystemPrompt string
}

// TokenUsage reports token accounting for a completed call.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the result of a generation call.
type Response struct {
	Content  string
	Model    string
	Provider string
	Usage    TokenUsage
	Latency  time.Duration
}

// StreamChunk is one piece of a streaming response.
type StreamChunk struct {
	Content      string
	Delta        bool
	Index        int
	Model        string
	FinishReason string
}

// StreamCallback receives chunks as they arrive; returning an error stops
// the stream early.
type StreamCallback func(StreamChunk) error

// Status is the result of a single health probe.
type Status string

const (
	StatusHealthy     Status = "healthy"
	StatusDegraded    Status = "degraded"
	StatusUnavailable Status = "unavailable"
)

// Health is a point-in-time health reading for a backend.
type Health struct {
	Status    Status
	Latency   time.Duration
	CheckedAt time.Time
	Detail    string
}

// Adapter is the contract every backend (speed-tier HTTP, quality-tier
// HTTP, or a chain of either) must satisfy.
type Adapter interface {
	Name() string
	Tier() Tier
	Generate(ctx context.Context, prompt string, opts Options) (Response, error)
	Stream(ctx context.Context, prompt string, opts Options, cb StreamCallback) (Response, error)
	ListModels(ctx context.Context) ([]string, error)
	Health(ctx context.Context) (Health, error)
}
