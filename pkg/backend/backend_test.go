package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianrt/spine/pkg/spineerr"
)

func TestSpeedAdapterGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		resp := chatCompletionResponse{Model: "test-model"}
		resp.Choices = []chatCompletionChoice{{}}
		resp.Choices[0].Message.Content = "hello world"
		resp.Usage.PromptTokens = 5
		resp.Usage.CompletionTokens = 2
		resp.Usage.TotalTokens = 7
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	a := NewSpeedAdapter("speed-test", srv.URL, "test-model")
	out, err := a.Generate(context.Background(), "hi", Options{})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out.Content)
	assert.Equal(t, 7, out.Usage.TotalTokens)
}

func TestSpeedAdapterClassifiesAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	a := NewSpeedAdapter("speed-test", srv.URL, "test-model")
	_, err := a.Generate(context.Background(), "hi", Options{})
	require.Error(t, err)
	assert.Equal(t, spineerr.KindAuthentication, spineerr.KindOf(err))
}

func TestQualityAdapterStreamsNDJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lines := []ndjsonGenerateLine{
			{Model: "llama3", Response: "hel"},
			{Model: "llama3", Response: "lo"},
			{Model: "llama3", Done: true, PromptEvalCount: 3, EvalCount: 2},
		}
		for _, l := range lines {
			b, _ := json.Marshal(l)
			_, _ = w.Write(append(b, '\n'))
		}
	}))
	defer srv.Close()

	a := NewQualityAdapter("quality-test", srv.URL, "llama3")
	out, err := a.Generate(context.Background(), "hi", Options{})
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Content)
	assert.Equal(t, 5, out.Usage.TotalTokens)
}

func TestHealthCacheCoalescesAndExpires(t *testing.T) {
	calls := 0
	cache := NewHealthCache(20*time.Millisecond, func(ctx context.Context) (Health, error) {
		calls++
		return Health{Status: StatusHealthy, CheckedAt: time.Now()}, nil
	})

	for i := 0; i < 5; i++ {
		_, err := cache.Get(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls, "repeated calls within ttl should not re-probe")

	time.Sleep(25 * time.Millisecond)
	_, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "call after ttl should re-probe")
}

type fakeAdapter struct {
	name    string
	tier    Tier
	failWith error
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Tier() Tier   { return f.tier }
func (f *fakeAdapter) Generate(ctx context.Context, prompt string, opts Options) (Response, error) {
	if f.failWith != nil {
		return Response{}, f.failWith
	}
	return Response{Content: "ok from " + f.name}, nil
}
func (f *fakeAdapter) Stream(ctx context.Context, prompt string, opts Options, cb StreamCallback) (Response, error) {
	return f.Generate(ctx, prompt, opts)
}
func (f *fakeAdapter) ListModels(ctx context.Context) ([]string, error) { return []string{f.name + "-model"}, nil }
func (f *fakeAdapter) Health(ctx context.Context) (Health, error)       { return Health{Status: StatusHealthy}, nil }

func TestChainAdapterFailsOverToNextLink(t *testing.T) {
	primary := &fakeAdapter{name: "primary", tier: TierSpeed, failWith: assert.AnError}
	secondary := &fakeAdapter{name: "secondary", tier: TierSpeed}

	chain, err := NewChainAdapter("chain", []Adapter{primary, secondary}, nil)
	require.NoError(t, err)

	out, err := chain.Generate(context.Background(), "hi", Options{})
	require.NoError(t, err)
	assert.Equal(t, "ok from secondary", out.Content)
	assert.Equal(t, "chain", out.Provider)
}

func TestChainAdapterRejectsEmptyLinks(t *testing.T) {
	_, err := NewChainAdapter("chain", nil, nil)
	require.Error(t, err)
}

func TestSpeedAdapterAutoSelectsCodingModel(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]string{{"id": "llama3"}, {"id": "llama3-coder"}},
			})
		case "/chat/completions":
			var req chatCompletionRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			gotModel = req.Model
			resp := chatCompletionResponse{Model: req.Model}
			resp.Choices = []chatCompletionChoice{{}}
			resp.Choices[0].Message.Content = "ok"
			_ = json.NewEncoder(w).Encode(resp)
		}
	}))
	defer srv.Close()

	a := NewSpeedAdapter("speed-test", srv.URL, "fallback-model")
	_, err := a.Generate(context.Background(), "hi", Options{Model: "auto"})
	require.NoError(t, err)
	assert.Equal(t, "llama3-coder", gotModel, "auto-selection should prefer the coding-specialized loaded model")
}

func TestSpeedAdapterAutoFallsBackToFirstLoadedModel(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]string{{"id": "alpha"}, {"id": "beta"}},
			})
		case "/chat/completions":
			var req chatCompletionRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			gotModel = req.Model
			resp := chatCompletionResponse{Model: req.Model}
			resp.Choices = []chatCompletionChoice{{}}
			resp.Choices[0].Message.Content = "ok"
			_ = json.NewEncoder(w).Encode(resp)
		}
	}))
	defer srv.Close()

	a := NewSpeedAdapter("speed-test", srv.URL, "fallback-model")
	_, err := a.Generate(context.Background(), "hi", Options{Model: "auto"})
	require.NoError(t, err)
	assert.Equal(t, "alpha", gotModel)
}

func TestSpeedAdapterAutoCachesResolvedModelAcrossCalls(t *testing.T) {
	var modelsCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models":
			modelsCalls++
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]string{{"id": "alpha"}},
			})
		case "/chat/completions":
			resp := chatCompletionResponse{Model: "alpha"}
			resp.Choices = []chatCompletionChoice{{}}
			resp.Choices[0].Message.Content = "ok"
			_ = json.NewEncoder(w).Encode(resp)
		}
	}))
	defer srv.Close()

	a := NewSpeedAdapter("speed-test", srv.URL, "fallback-model")
	_, err := a.Generate(context.Background(), "first", Options{Model: "auto"})
	require.NoError(t, err)
	_, err = a.Generate(context.Background(), "second", Options{Model: "auto"})
	require.NoError(t, err)
	assert.Equal(t, 1, modelsCalls, "auto-selection must be cached for the life of the adapter, not re-resolved per call")
}

func TestSpeedAdapterAutoProbesFallbackListWhenNoModelsLoaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []map[string]string{}})
		case "/chat/completions":
			var req chatCompletionRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Model != "mistral" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"model not found"}`))
				return
			}
			resp := chatCompletionResponse{Model: req.Model}
			resp.Choices = []chatCompletionChoice{{}}
			resp.Choices[0].Message.Content = "ok"
			_ = json.NewEncoder(w).Encode(resp)
		}
	}))
	defer srv.Close()

	a := NewSpeedAdapter("speed-test", srv.URL, "fallback-model")
	out, err := a.Generate(context.Background(), "hi", Options{Model: "auto"})
	require.NoError(t, err)
	assert.Equal(t, "mistral", out.Model, "should probe fallbackModelCandidates in order and use the first that loads")
}

func TestQualityAdapterAutoSelectsCodingModel(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"models": []map[string]string{{"name": "llama3"}, {"name": "qwen2.5-coder"}},
			})
		case "/api/generate":
			var req ndjsonGenerateRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			gotModel = req.Model
			line := ndjsonGenerateLine{Model: req.Model, Response: "ok", Done: true}
			b, _ := json.Marshal(line)
			_, _ = w.Write(append(b, '\n'))
		}
	}))
	defer srv.Close()

	a := NewQualityAdapter("quality-test", srv.URL, "fallback-model")
	_, err := a.Generate(context.Background(), "hi", Options{Model: "auto"})
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5-coder", gotModel, "auto-selection should prefer the coding-specialized loaded model")
}

func TestResolveAliasAppliesDefaultsOnlyWhenUnset(t *testing.T) {
	url, key, ok := ResolveAlias("ollama", "", "")
	require.True(t, ok)
	assert.Equal(t, "http://localhost:11434", url)
	assert.Empty(t, key)

	url, key, ok = ResolveAlias("ollama", "http://custom:1234", "")
	require.True(t, ok)
	assert.Equal(t, "http://custom:1234", url)
	assert.Empty(t, key)
}

func TestResolveAliasUnknownPassesThrough(t *testing.T) {
	url, key, ok := ResolveAlias("not-a-real-alias", "http://explicit", "secret")
	require.False(t, ok)
	assert.Equal(t, "http://explicit", url)
	assert.Equal(t, "secret", key)
}
