package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"time"

	"github.com/meridianrt/spine/pkg/spineerr"
)

// QualityAdapter talks to an Ollama-style /api/generate endpoint that
// streams newline-delimited JSON objects rather than OpenAI's SSE
// envelope. Grounded on the teacher's provider split between a
// low-latency OpenAI-shaped client and higher-latency alternatives,
// generalized here to the quality tier's NDJSON wire format.
type QualityAdapter struct {
	*httpCore
}

// NewQualityAdapter constructs a quality-tier adapter against baseURL
// (e.g. a local Ollama instance).
func NewQualityAdapter(name, baseURL, defaultModel string, opts ...httpCoreOption) *QualityAdapter {
	core := newHTTPCore(name, TierQuality, baseURL, 120*time.Second, opts...)
	core.defaultModel = defaultModel
	a := &QualityAdapter{httpCore: core}
	core.probeFn = a.probe
	core.listModelsFn = a.ListModels
	core.probeModelFn = a.probeModel
	return a
}

type ndjsonGenerateRequest struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	System  string  `json:"system,omitempty"`
	Stream  bool    `json:"stream"`
	Options ndjsonOptions `json:"options,omitempty"`
}

type ndjsonOptions struct {
	Temperature float32 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ndjsonGenerateLine struct {
	Model              string `json:"model"`
	Response           string `json:"response"`
	Done               bool   `json:"done"`
	PromptEvalCount    int    `json:"prompt_eval_count"`
	EvalCount          int    `json:"eval_count"`
}

// Generate collects the full NDJSON stream into one Response.
func (a *QualityAdapter) Generate(ctx context.Context, prompt string, opts Options) (Response, error) {
	opts = applyDefaults(ctx, a.httpCore, opts)
	start := time.Now()

	var full string
	var usage TokenUsage
	var model string

	resp, err := a.Stream(ctx, prompt, opts, func(chunk StreamChunk) error {
		full += chunk.Content
		if chunk.Model != "" {
			model = chunk.Model
		}
		return nil
	})
	if err != nil {
		return Response{}, err
	}
	usage = resp.Usage
	if model == "" {
		model = resp.Model
	}

	return Response{Content: full, Model: model, Provider: a.name, Usage: usage, Latency: time.Since(start)}, nil
}

// Stream issues a streaming generate call, invoking cb once per NDJSON
// line decoded from the response body.
func (a *QualityAdapter) Stream(ctx context.Context, prompt string, opts Options, cb StreamCallback) (Response, error) {
	opts = applyDefaults(ctx, a.httpCore, opts)
	start := time.Now()

	reqBody := ndjsonGenerateRequest{
		Model:  opts.Model,
		Prompt: prompt,
		System: opts.SystemPrompt,
		Stream: true,
		Options: ndjsonOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Response{}, spineerr.New(spineerr.KindParsing, "quality.Stream", err, nil)
	}

	body, err := a.openStream(ctx, "/api/generate", payload)
	if err != nil {
		return Response{}, err
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var full string
	var model string
	var usage TokenUsage
	chunkIndex := 0

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return Response{Content: full, Model: model, Provider: a.name}, ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var parsed ndjsonGenerateLine
		if jsonErr := json.Unmarshal(line, &parsed); jsonErr != nil {
			continue
		}
		if parsed.Model != "" {
			model = parsed.Model
		}
		if parsed.Response != "" {
			full += parsed.Response
			if cbErr := cb(StreamChunk{Content: parsed.Response, Delta: true, Index: chunkIndex, Model: model}); cbErr != nil {
				return Response{Content: full, Model: model, Provider: a.name}, nil
			}
			chunkIndex++
		}
		if parsed.Done {
			usage = TokenUsage{
				PromptTokens:     parsed.PromptEvalCount,
				CompletionTokens: parsed.EvalCount,
				TotalTokens:      parsed.PromptEvalCount + parsed.EvalCount,
			}
		}
	}

	return Response{Content: full, Model: model, Provider: a.name, Usage: usage, Latency: time.Since(start)}, nil
}

// ListModels queries Ollama's /api/tags endpoint.
func (a *QualityAdapter) ListModels(ctx context.Context) ([]string, error) {
	body, _, err := a.doJSON(ctx, "GET", "/api/tags", nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, spineerr.New(spineerr.KindParsing, "quality.ListModels", err, nil)
	}
	models := make([]string, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

// probeModel issues a minimal, one-token generate call against model to
// see whether the backend can actually serve it, backing the
// fallback-list step of auto model selection (spec.md §4.1).
func (a *QualityAdapter) probeModel(ctx context.Context, model string) bool {
	_, err := a.Generate(ctx, "ping", Options{Model: model, MaxTokens: 1})
	return err == nil
}

func (a *QualityAdapter) probe(ctx context.Context) (Health, error) {
	start := time.Now()
	_, err := a.ListModels(ctx)
	if err != nil {
		return Health{Status: StatusUnavailable, CheckedAt: time.Now(), Detail: err.Error()}, err
	}
	return Health{Status: StatusHealthy, Latency: time.Since(start), CheckedAt: time.Now()}, nil
}
