package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/meridianrt/spine/pkg/spineerr"
)

// SpeedAdapter talks to an OpenAI-compatible chat/completions endpoint.
// Grounded on the teacher's ai/providers/openai.Client, trimmed to the
// fields this module exercises (no reasoning-model token multiplier).
type SpeedAdapter struct {
	*httpCore
}

// NewSpeedAdapter constructs a speed-tier adapter against baseURL (e.g.
// a local vLLM or Groq-compatible endpoint).
func NewSpeedAdapter(name, baseURL, defaultModel string, opts ...httpCoreOption) *SpeedAdapter {
	core := newHTTPCore(name, TierSpeed, baseURL, 30*time.Second, opts...)
	core.defaultModel = defaultModel
	core.probeEndpoint = "/models"
	a := &SpeedAdapter{httpCore: core}
	core.probeFn = a.probe
	core.listModelsFn = a.ListModels
	core.probeModelFn = a.probeModel
	return a
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

type chatCompletionChoice struct {
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type chatCompletionResponse struct {
	Model   string                  `json:"model"`
	Choices []chatCompletionChoice  `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (a *SpeedAdapter) buildMessages(prompt string, opts Options) []chatMessage {
	var msgs []chatMessage
	if opts.SystemPrompt != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: opts.SystemPrompt})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: prompt})
	return msgs
}

// Generate issues a single non-streaming completion request.
func (a *SpeedAdapter) Generate(ctx context.Context, prompt string, opts Options) (Response, error) {
	opts = applyDefaults(ctx, a.httpCore, opts)
	start := time.Now()

	reqBody := chatCompletionRequest{
		Model:       opts.Model,
		Messages:    a.buildMessages(prompt, opts),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      false,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Response{}, spineerr.New(spineerr.KindParsing, "speed.Generate", err, nil)
	}

	body, _, err := a.doJSON(ctx, "POST", "/chat/completions", payload)
	if err != nil {
		return Response{}, err
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Response{}, spineerr.New(spineerr.KindParsing, "speed.Generate", err, nil)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, spineerr.New(spineerr.KindAPI, "speed.Generate", fmt.Errorf("no choices returned"), map[string]interface{}{"backend": a.name})
	}

	return Response{
		Content:  parsed.Choices[0].Message.Content,
		Model:    parsed.Model,
		Provider: a.name,
		Usage: TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// Stream issues a server-sent-events completion request, invoking cb for
// each delta chunk.
func (a *SpeedAdapter) Stream(ctx context.Context, prompt string, opts Options, cb StreamCallback) (Response, error) {
	opts = applyDefaults(ctx, a.httpCore, opts)
	start := time.Now()

	reqBody := chatCompletionRequest{
		Model:       opts.Model,
		Messages:    a.buildMessages(prompt, opts),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      true,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Response{}, spineerr.New(spineerr.KindParsing, "speed.Stream", err, nil)
	}

	resp, err := a.openStream(ctx, "/chat/completions", payload)
	if err != nil {
		return Response{}, err
	}
	defer resp.Close()

	reader := bufio.NewReader(resp)
	var full strings.Builder
	var model string
	chunkIndex := 0

	for {
		select {
		case <-ctx.Done():
			return Response{Content: full.String(), Model: model, Provider: a.name}, ctx.Err()
		default:
		}

		line, readErr := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line != "" {
			if line == "data: [DONE]" {
				break
			}
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var chunk chatCompletionResponse
				if jsonErr := json.Unmarshal([]byte(data), &chunk); jsonErr == nil {
					if chunk.Model != "" {
						model = chunk.Model
					}
					for _, choice := range chunk.Choices {
						if choice.Delta.Content != "" {
							full.WriteString(choice.Delta.Content)
							if cbErr := cb(StreamChunk{Content: choice.Delta.Content, Delta: true, Index: chunkIndex, Model: model}); cbErr != nil {
								return Response{Content: full.String(), Model: model, Provider: a.name}, nil
							}
							chunkIndex++
						}
					}
				}
			}
		}

		if readErr != nil {
			break
		}
	}

	return Response{Content: full.String(), Model: model, Provider: a.name, Latency: time.Since(start)}, nil
}

// ListModels queries the OpenAI-compatible /models endpoint.
func (a *SpeedAdapter) ListModels(ctx context.Context) ([]string, error) {
	body, _, err := a.doJSON(ctx, "GET", "/models", nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, spineerr.New(spineerr.KindParsing, "speed.ListModels", err, nil)
	}
	models := make([]string, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

// probeModel issues a minimal, one-token completion against model to see
// whether the backend can actually serve it, backing the fallback-list
// step of auto model selection (spec.md §4.1).
func (a *SpeedAdapter) probeModel(ctx context.Context, model string) bool {
	_, err := a.Generate(ctx, "ping", Options{Model: model, MaxTokens: 1})
	return err == nil
}

func (a *SpeedAdapter) probe(ctx context.Context) (Health, error) {
	start := time.Now()
	_, err := a.ListModels(ctx)
	if err != nil {
		return Health{Status: StatusUnavailable, CheckedAt: time.Now(), Detail: err.Error()}, err
	}
	return Health{Status: StatusHealthy, Latency: time.Since(start), CheckedAt: time.Now()}, nil
}
