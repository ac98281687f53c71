package council

import (
	"context"
	"time"

	"github.com/meridianrt/spine/internal/logger"
	"github.com/meridianrt/spine/internal/telemetry"
	"github.com/meridianrt/spine/pkg/backend"
)

// defaultScoreThreshold is the audit score below which a refine pass
// runs, per spec.md §4.7.
const defaultScoreThreshold = 80

// fallbackConfidence is used whenever the auditor is unavailable and
// the coordinator falls back to a single generation.
const fallbackConfidence = 0.6

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithScoreThreshold overrides the default audit score threshold (80).
func WithScoreThreshold(threshold int) Option {
	return func(c *Coordinator) { c.scoreThreshold = threshold }
}

// WithLogger attaches a component-scoped logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// WithTelemetry attaches a tracer/meter.
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(c *Coordinator) { c.tel = tel }
}

// Coordinator runs the generate -> audit -> refine? -> approve loop
// over a generator and auditor backend pair.
type Coordinator struct {
	generator      backend.Adapter
	auditor        backend.Adapter
	scoreThreshold int
	log            logger.Logger
	tel            telemetry.Telemetry
}

// NewCoordinator builds a Coordinator. auditor may be nil, in which
// case Coordinate always falls back to a single generation.
func NewCoordinator(generator, auditor backend.Adapter, opts ...Option) *Coordinator {
	c := &Coordinator{
		generator:      generator,
		auditor:        auditor,
		scoreThreshold: defaultScoreThreshold,
		log:            logger.NoOp{},
		tel:            telemetry.NoOp{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Coordinate runs the full loop and returns the final response.
func (c *Coordinator) Coordinate(ctx context.Context, prompt string, opts backend.Options) (CoordinatedResponse, error) {
	ctx, span := c.tel.StartSpan(ctx, "council.coordinate")
	defer span.End()

	start := time.Now()
	var trail []AuditStep

	genStep := AuditStep{Kind: StepGenerate, StartedAt: time.Now()}
	draft, err := c.generator.Generate(ctx, prompt, opts)
	genStep.EndedAt = time.Now()
	trail = append(trail, genStep)
	if err != nil {
		return CoordinatedResponse{}, err
	}

	if c.auditor == nil {
		return c.fallback(draft, trail, start, "auditor not configured"), nil
	}

	auditStep := AuditStep{Kind: StepAudit, StartedAt: time.Now()}
	auditResp, auditErr := c.auditor.Generate(ctx, buildAuditPrompt(prompt, draft.Content), backend.Options{})
	var result AuditResult
	if auditErr == nil {
		result, auditErr = parseAuditResult(auditResp.Content)
	}
	auditStep.EndedAt = time.Now()
	trail = append(trail, auditStep)

	if auditErr != nil {
		c.log.Warn("auditor unavailable, falling back to single generation", map[string]interface{}{"error": auditErr.Error()})
		return c.fallback(draft, trail, start, "auditor unavailable: "+auditErr.Error()), nil
	}

	content := draft.Content
	model := draft.Model
	if result.Score < c.scoreThreshold && len(result.Issues) > 0 {
		refineStep := AuditStep{Kind: StepRefine, StartedAt: time.Now()}
		refined, refineErr := c.generator.Generate(ctx, buildRefinementPrompt(prompt, draft.Content, result), opts)
		refineStep.EndedAt = time.Now()
		if refineErr == nil {
			content = refined.Content
			model = refined.Model
		} else {
			refineStep.Detail = "refine failed, keeping original draft: " + refineErr.Error()
		}
		trail = append(trail, refineStep)
	}

	approveStep := AuditStep{Kind: StepApprove, StartedAt: time.Now(), EndedAt: time.Now()}
	trail = append(trail, approveStep)

	return CoordinatedResponse{
		Content:      content,
		AuditTrail:   trail,
		Confidence:   scoreToConfidence(result.Score),
		ModelUsed:    model,
		ResponseTime: time.Since(start),
		Warnings:     result.Warnings,
	}, nil
}

func (c *Coordinator) fallback(draft backend.Response, trail []AuditStep, start time.Time, reason string) CoordinatedResponse {
	return CoordinatedResponse{
		Content:      draft.Content,
		AuditTrail:   trail,
		Confidence:   fallbackConfidence,
		ModelUsed:    draft.Model,
		ResponseTime: time.Since(start),
		Warnings:     []string{reason},
	}
}

func scoreToConfidence(score int) float64 {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return float64(score) / 100.0
}

// Stream runs the same loop but forwards the generator's draft as it
// streams, then emits audit/refine steps and the final response as
// discrete events. Cancelling ctx cancels whichever adapter call is
// in flight.
func (c *Coordinator) Stream(ctx context.Context, prompt string, opts backend.Options, handler StreamHandler) error {
	ctx, span := c.tel.StartSpan(ctx, "council.coordinate_stream")
	defer span.End()

	start := time.Now()
	var trail []AuditStep

	genStep := AuditStep{Kind: StepGenerate, StartedAt: time.Now()}
	draft, err := c.generator.Stream(ctx, prompt, opts, func(chunk backend.StreamChunk) error {
		return handler(StreamEvent{Kind: StreamEventChunk, Chunk: chunk.Content})
	})
	genStep.EndedAt = time.Now()
	trail = append(trail, genStep)
	if err != nil {
		return err
	}

	if c.auditor == nil {
		return c.emitFallback(handler, draft, trail, start, "auditor not configured")
	}

	auditStep := AuditStep{Kind: StepAudit, StartedAt: time.Now()}
	auditResp, auditErr := c.auditor.Generate(ctx, buildAuditPrompt(prompt, draft.Content), backend.Options{})
	var result AuditResult
	if auditErr == nil {
		result, auditErr = parseAuditResult(auditResp.Content)
	}
	auditStep.EndedAt = time.Now()
	trail = append(trail, auditStep)
	if err := handler(StreamEvent{Kind: StreamEventAudit, Step: &auditStep}); err != nil {
		return err
	}

	if auditErr != nil {
		return c.emitFallback(handler, draft, trail, start, "auditor unavailable: "+auditErr.Error())
	}

	content := draft.Content
	model := draft.Model
	if result.Score < c.scoreThreshold && len(result.Issues) > 0 {
		refineStep := AuditStep{Kind: StepRefine, StartedAt: time.Now()}
		refined, refineErr := c.generator.Generate(ctx, buildRefinementPrompt(prompt, draft.Content, result), opts)
		refineStep.EndedAt = time.Now()
		if refineErr == nil {
			content = refined.Content
			model = refined.Model
		}
		trail = append(trail, refineStep)
		if err := handler(StreamEvent{Kind: StreamEventAudit, Step: &refineStep}); err != nil {
			return err
		}
	}

	approveStep := AuditStep{Kind: StepApprove, StartedAt: time.Now(), EndedAt: time.Now()}
	trail = append(trail, approveStep)

	final := CoordinatedResponse{
		Content:      content,
		AuditTrail:   trail,
		Confidence:   scoreToConfidence(result.Score),
		ModelUsed:    model,
		ResponseTime: time.Since(start),
		Warnings:     result.Warnings,
	}
	return handler(StreamEvent{Kind: StreamEventComplete, Final: &final})
}

func (c *Coordinator) emitFallback(handler StreamHandler, draft backend.Response, trail []AuditStep, start time.Time, reason string) error {
	final := c.fallback(draft, trail, start, reason)
	return handler(StreamEvent{Kind: StreamEventComplete, Final: &final})
}
