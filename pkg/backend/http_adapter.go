package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/meridianrt/spine/internal/logger"
	"github.com/meridianrt/spine/internal/telemetry"
	"github.com/meridianrt/spine/pkg/resilience"
	"github.com/meridianrt/spine/pkg/spineerr"
)

// httpCore holds the fields shared by every HTTP-speaking adapter,
// grounded on the teacher's providers.BaseClient.
type httpCore struct {
	name          string
	tier          Tier
	baseURL       string
	apiKey        string
	defaultModel  string
	client        *http.Client
	log           logger.Logger
	tel           telemetry.Telemetry
	retryConfig   *resilience.RetryConfig
	breaker       *resilience.CircuitBreaker
	healthCache   *HealthCache
	probeEndpoint string
	probeFn       ProbeFunc

	// listModelsFn and probeModelFn back auto model selection (spec.md
	// §4.1); both are wired by the concrete adapter constructor the same
	// way probeFn is, since the wire format differs per backend.
	listModelsFn func(ctx context.Context) ([]string, error)
	probeModelFn func(ctx context.Context, model string) bool

	modelMu       sync.Mutex
	resolvedModel string
}

// httpCoreOption configures a httpCore at construction time.
type httpCoreOption func(*httpCore)

// WithLogger attaches a component-aware logger to an adapter.
func WithLogger(l logger.Logger) httpCoreOption {
	return func(c *httpCore) { c.log = l }
}

// WithTelemetry attaches a telemetry sink to an adapter.
func WithTelemetry(t telemetry.Telemetry) httpCoreOption {
	return func(c *httpCore) { c.tel = t }
}

// WithHTTPClient overrides the default http.Client (tests use this to
// point at an httptest.Server with a short timeout).
func WithHTTPClient(client *http.Client) httpCoreOption {
	return func(c *httpCore) { c.client = client }
}

// WithAPIKey sets the bearer credential sent with every request.
func WithAPIKey(key string) httpCoreOption {
	return func(c *httpCore) { c.apiKey = key }
}

// WithDefaultModel sets the model used when Options.Model is empty.
func WithDefaultModel(model string) httpCoreOption {
	return func(c *httpCore) { c.defaultModel = model }
}

func newHTTPCore(name string, tier Tier, baseURL string, timeout time.Duration, opts ...httpCoreOption) *httpCore {
	c := &httpCore{
		name:        name,
		tier:        tier,
		baseURL:     baseURL,
		client:      &http.Client{Timeout: timeout},
		log:         logger.NoOp{},
		tel:         telemetry.NoOp{},
		retryConfig: resilience.DefaultRetryConfig(),
		breaker:     resilience.NewCircuitBreaker(name, 5, 30*time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.healthCache = NewHealthCache(30*time.Second, func(ctx context.Context) (Health, error) {
		return c.probeFn(ctx)
	})
	return c
}

func (c *httpCore) Name() string { return c.name }
func (c *httpCore) Tier() Tier   { return c.tier }

// doJSON executes an HTTP request under retry + circuit-breaker protection
// and returns the raw response body, classifying failures the way the
// teacher's providers.BaseClient.HandleError does.
func (c *httpCore) doJSON(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	var body []byte
	var status int

	err := resilience.WithCircuitBreaker(ctx, c.retryConfig, c.breaker, func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return spineerr.New(spineerr.KindValidation, "backend.doJSON", err, nil)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, doErr := c.client.Do(req)
		if doErr != nil {
			return classifyTransportError(c.name, doErr)
		}
		defer resp.Body.Close()

		b, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return spineerr.New(spineerr.KindNetwork, "backend.doJSON", readErr, map[string]interface{}{"backend": c.name})
		}

		status = resp.StatusCode
		body = b

		if resp.StatusCode >= 400 {
			return classifyStatusError(c.name, resp.StatusCode, b)
		}
		return nil
	})

	return body, status, err
}

// classifyTransportError maps a transport-level failure (dial refused,
// deadline) to a taxonomy kind (spec.md §7).
func classifyTransportError(backendName string, err error) error {
	return spineerr.New(spineerr.KindNetwork, "backend.request", err, map[string]interface{}{"backend": backendName})
}

// classifyStatusError maps an HTTP status code to a taxonomy kind, matching
// the failure semantics in spec.md §5: 401/403 are non-retryable auth
// errors, 429 and 5xx are retryable, 400 is a non-retryable validation
// error, and everything else is a non-retryable API error.
func classifyStatusError(backendName string, status int, body []byte) error {
	meta := map[string]interface{}{"backend": backendName, "status": status}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return spineerr.New(spineerr.KindAuthentication, "backend.request", fmt.Errorf("authentication failed (status %d): %s", status, truncate(body, 300)), meta)
	case status == http.StatusTooManyRequests:
		return spineerr.New(spineerr.KindRateLimit, "backend.request", fmt.Errorf("rate limited (status %d)", status), meta)
	case status >= 500:
		return spineerr.New(spineerr.KindNetwork, "backend.request", fmt.Errorf("backend unavailable (status %d): %s", status, truncate(body, 300)), meta)
	case status == http.StatusBadRequest:
		return spineerr.New(spineerr.KindValidation, "backend.request", fmt.Errorf("invalid request (status %d): %s", status, truncate(body, 300)), meta)
	default:
		return spineerr.New(spineerr.KindAPI, "backend.request", fmt.Errorf("backend error (status %d): %s", status, truncate(body, 300)), meta)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Health returns the health-cached status for this backend.
func (c *httpCore) Health(ctx context.Context) (Health, error) {
	return c.healthCache.Get(ctx)
}

// openStream issues a streaming POST and returns the live response body.
// Unlike doJSON, there is no retry: once bytes have started flowing to a
// caller's callback, replaying the request from scratch would duplicate
// output, so streaming connection establishment gets one attempt.
func (c *httpCore) openStream(ctx context.Context, path string, payload []byte) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, spineerr.New(spineerr.KindValidation, "backend.openStream", err, nil)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(c.name, err)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, classifyStatusError(c.name, resp.StatusCode, body)
	}
	return resp.Body, nil
}

// autoModelSentinel is the caller-facing value requesting model
// auto-selection (spec.md §4.1).
const autoModelSentinel = "auto"

// codeModelSubstrings names the case-insensitive substrings that mark a
// loaded model as coding-specialized, preferred by auto-selection.
var codeModelSubstrings = []string{"coder", "code"}

// fallbackModelCandidates is the short built-in list probed, in order,
// when a backend reports no loaded models at all.
var fallbackModelCandidates = []string{"llama3.1", "qwen2.5-coder", "mistral", "gpt-4o-mini"}

func applyDefaults(ctx context.Context, c *httpCore, opts Options) Options {
	switch opts.Model {
	case "":
		opts.Model = c.defaultModel
	case autoModelSentinel:
		opts.Model = c.resolveAutoModel(ctx)
	}
	if opts.Temperature == 0 {
		opts.Temperature = 0.7
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = 1024
	}
	return opts
}

// resolveAutoModel implements spec.md §4.1's "on first use" auto-selection:
// list loaded models and prefer a coding-specialized one by substring
// match, else take the first loaded model, else probe the built-in
// fallback list and take the first that loads, else fall back to the
// adapter's own static default. The result is cached for the life of the
// adapter, matching "cache the chosen model for the session."
func (c *httpCore) resolveAutoModel(ctx context.Context) string {
	c.modelMu.Lock()
	defer c.modelMu.Unlock()

	if c.resolvedModel != "" {
		return c.resolvedModel
	}

	resolved := c.defaultModel

	if c.listModelsFn != nil {
		if models, err := c.listModelsFn(ctx); err == nil && len(models) > 0 {
			resolved = preferCodingModel(models)
		} else if c.probeModelFn != nil {
			for _, candidate := range fallbackModelCandidates {
				if c.probeModelFn(ctx, candidate) {
					resolved = candidate
					break
				}
			}
		}
	}

	c.resolvedModel = resolved
	return resolved
}

// preferCodingModel returns the first model matching codeModelSubstrings,
// or models[0] if none match.
func preferCodingModel(models []string) string {
	for _, m := range models {
		lower := strings.ToLower(m)
		for _, kw := range codeModelSubstrings {
			if strings.Contains(lower, kw) {
				return m
			}
		}
	}
	return models[0]
}
