package backend

import (
	"context"
	"fmt"

	"github.com/meridianrt/spine/internal/logger"
	"github.com/meridianrt/spine/pkg/spineerr"
)

// ChainAdapter tries each configured adapter in order until one succeeds,
// grounded on the teacher's ai.ChainClient failover loop. Non-retryable
// validation errors abort the chain immediately since retrying the same
// malformed input on a different backend cannot help; every other
// failure (including auth, since each backend may hold its own
// credentials) advances to the next link.
type ChainAdapter struct {
	name    string
	tier    Tier
	links   []Adapter
	log     logger.Logger
}

// NewChainAdapter builds a failover chain. links must be non-empty and
// should share a tier (the chain reports the first link's tier).
func NewChainAdapter(name string, links []Adapter, log logger.Logger) (*ChainAdapter, error) {
	if len(links) == 0 {
		return nil, spineerr.New(spineerr.KindValidation, "backend.NewChainAdapter", fmt.Errorf("chain %q requires at least one backend", name), nil)
	}
	if log == nil {
		log = logger.NoOp{}
	}
	return &ChainAdapter{name: name, tier: links[0].Tier(), links: links, log: log}, nil
}

func (c *ChainAdapter) Name() string { return c.name }
func (c *ChainAdapter) Tier() Tier   { return c.tier }

// Generate tries each link in order, returning the first success.
func (c *ChainAdapter) Generate(ctx context.Context, prompt string, opts Options) (Response, error) {
	var lastErr error
	var failed []string

	for i, link := range c.links {
		resp, err := link.Generate(ctx, prompt, opts)
		if err == nil {
			if i > 0 {
				c.log.Warn("chain failover succeeded", map[string]interface{}{
					"chain": c.name, "backend": link.Name(), "failed_before": failed,
				})
			}
			resp.Provider = c.name
			return resp, nil
		}

		lastErr = err
		failed = append(failed, link.Name())

		if spineerr.KindOf(err) == spineerr.KindValidation {
			return Response{}, fmt.Errorf("chain %q aborted on non-retryable error from %s: %w", c.name, link.Name(), err)
		}

		c.log.Warn("backend failed in chain, trying next", map[string]interface{}{
			"chain": c.name, "backend": link.Name(), "error": err.Error(), "remaining": len(c.links) - i - 1,
		})
	}

	return Response{}, fmt.Errorf("chain %q exhausted all %d backends, last error: %w", c.name, len(c.links), lastErr)
}

// Stream tries each link in order for streaming calls; once a link
// begins emitting chunks to cb, the chain commits to it (a partial
// stream cannot be silently restarted on a different backend).
func (c *ChainAdapter) Stream(ctx context.Context, prompt string, opts Options, cb StreamCallback) (Response, error) {
	var lastErr error

	for i, link := range c.links {
		started := false
		wrappedCB := func(chunk StreamChunk) error {
			started = true
			return cb(chunk)
		}

		resp, err := link.Stream(ctx, prompt, opts, wrappedCB)
		if err == nil {
			resp.Provider = c.name
			return resp, nil
		}
		if started {
			return resp, err
		}

		lastErr = err
		if spineerr.KindOf(err) == spineerr.KindValidation {
			return Response{}, fmt.Errorf("chain %q aborted on non-retryable error from %s: %w", c.name, link.Name(), err)
		}
		c.log.Warn("backend failed in streaming chain before first chunk, trying next", map[string]interface{}{
			"chain": c.name, "backend": link.Name(), "error": err.Error(), "remaining": len(c.links) - i - 1,
		})
	}

	return Response{}, fmt.Errorf("chain %q exhausted all %d backends, last error: %w", c.name, len(c.links), lastErr)
}

// ListModels aggregates models from every link, deduplicated.
func (c *ChainAdapter) ListModels(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	var lastErr error
	for _, link := range c.links {
		models, err := link.ListModels(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		for _, m := range models {
			if _, ok := seen[m]; !ok {
				seen[m] = struct{}{}
				out = append(out, m)
			}
		}
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

// Health reports the first healthy link's status, or the last link's
// unhealthy status if none are healthy.
func (c *ChainAdapter) Health(ctx context.Context) (Health, error) {
	var last Health
	var lastErr error
	for _, link := range c.links {
		h, err := link.Health(ctx)
		if err == nil && h.Status == StatusHealthy {
			return h, nil
		}
		last, lastErr = h, err
	}
	return last, lastErr
}
