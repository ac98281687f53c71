package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meridianrt/spine/pkg/backend"
	"github.com/meridianrt/spine/pkg/council"
	"github.com/meridianrt/spine/pkg/memory"
	"github.com/meridianrt/spine/pkg/perf"
	"github.com/meridianrt/spine/pkg/redteam"
	"github.com/meridianrt/spine/pkg/request"
	"github.com/meridianrt/spine/pkg/router"
	"github.com/meridianrt/spine/pkg/selector"
	"github.com/meridianrt/spine/pkg/spineerr"
	"github.com/meridianrt/spine/pkg/voice"
)

// ErrNoBackendAvailable is the sentinel wrapped into the error returned
// by Handle when every dispatched voice failed and synthesis produced
// no content, letting callers (e.g. cmd/spine) distinguish this case
// from a generic failure for exit-code purposes (spec.md §6).
var ErrNoBackendAvailable = errors.New("no backend produced a usable response")

// defaultMaxConcurrentVoices bounds how many voices are dispatched at
// once within a single request's fan-out (spec.md §5).
const defaultMaxConcurrentVoices = 3

// interBatchDelay is the pause between fan-out batches once the voice
// count exceeds the concurrency cap, giving backends breathing room
// between bursts (spec.md §5).
const interBatchDelay = 50 * time.Millisecond

// estimatedQualityTime mirrors router's own quality-tier estimate, used
// when an escalation overrides a speed-tier Decision's EstimatedTime.
const estimatedQualityTime = 15 * time.Second

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithMaxConcurrentVoices overrides the default fan-out width of 3.
func WithMaxConcurrentVoices(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxConcurrentVoices = n
		}
	}
}

// WithBlockPolicy toggles whether a high-or-above consensus verdict on
// the input actually blocks the request (default true). Disabling it
// lets the request proceed; the input verdict is still returned in
// Result.InputVerdict, and no warning is added for it.
func WithBlockPolicy(block bool) Option {
	return func(o *Orchestrator) { o.blockOnInputThreat = block }
}

// Orchestrator runs the full request lifecycle against a shared
// Runtime. Multiple goroutines may call Handle concurrently; all
// per-request state lives on the stack of that call, never on the
// Orchestrator itself.
type Orchestrator struct {
	rt *Runtime

	maxConcurrentVoices int
	blockOnInputThreat  bool
}

// New builds an Orchestrator over rt.
func New(rt *Runtime, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		rt:                  rt,
		maxConcurrentVoices: defaultMaxConcurrentVoices,
		blockOnInputThreat:  true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle runs req through validation, input red-teaming, voice
// selection, bounded parallel per-voice execution, synthesis, output
// red-teaming, and outcome recording, per spec.md §4.8.
func (o *Orchestrator) Handle(ctx context.Context, req request.Request) (Result, error) {
	req, err := req.Start()
	if err != nil {
		return Result{Request: req}, err
	}

	budget := req.Constraints.MaxResponseTime
	if budget <= 0 {
		budget = request.DefaultConstraints().MaxResponseTime
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	inputVerdict := o.rt.RedTeam.Analyze(ctx, req.Content)
	if o.blockOnInputThreat && inputVerdict.Blocks() {
		req, _ = req.Fail()
		return Result{Request: req, InputVerdict: inputVerdict, Refused: true},
			spineerr.New(spineerr.KindSecurity, "orchestrator.Handle",
				fmt.Errorf("input rejected: consensus threat level %s", inputVerdict.ConsensusThreatLevel),
				map[string]interface{}{"requestId": req.ID})
	}

	voices := o.selectVoices(req)
	if len(voices) == 0 {
		req, _ = req.Fail()
		return Result{Request: req, InputVerdict: inputVerdict},
			spineerr.New(spineerr.KindValidation, "orchestrator.Handle", fmt.Errorf("no candidate voices resolved for request"), nil)
	}

	outcomes, err := o.runVoices(ctx, req, voices)
	if err != nil {
		req, _ = req.Cancel()
		return Result{Request: req, InputVerdict: inputVerdict, VoiceOutcomes: outcomes}, err
	}

	content, auditTrail, warnings := o.synthesize(ctx, req, outcomes)
	if content == "" {
		if ctxErr := ctx.Err(); ctxErr != nil {
			req, _ = req.Cancel()
			return Result{Request: req, InputVerdict: inputVerdict, VoiceOutcomes: outcomes, Warnings: warnings}, ctxErr
		}
		req, _ = req.Fail()
		return Result{Request: req, InputVerdict: inputVerdict, VoiceOutcomes: outcomes, Warnings: warnings},
			spineerr.New(spineerr.KindNetwork, "orchestrator.Handle", ErrNoBackendAvailable, nil)
	}

	outputVerdict := o.rt.RedTeam.Analyze(ctx, content)
	refused := false
	if outputVerdict.ConsensusThreatLevel >= redteam.SeverityCritical {
		content = refusalMessage
		refused = true
		warnings = append(warnings, "output withheld: critical red-team finding")
	} else if outputVerdict.Blocks() {
		warnings = append(warnings, "output flagged: high red-team consensus")
	}

	o.recordOutcome(req, voices, outcomes, refused)

	if refused {
		req, _ = req.Fail()
	} else {
		req, _ = req.Complete()
	}

	voiceIDs := make([]voice.ID, len(voices))
	for i, v := range voices {
		voiceIDs[i] = v.ID
	}

	return Result{
		Request:       req,
		Content:       content,
		Voices:        voiceIDs,
		VoiceOutcomes: outcomes,
		AuditTrail:    auditTrail,
		InputVerdict:  inputVerdict,
		OutputVerdict: outputVerdict,
		Warnings:      warnings,
		Refused:       refused,
	}, nil
}

// selectVoices honors an explicit RequiredVoices override, otherwise
// runs the classifier/ROI selector, then drops anything named in
// ExcludedVoices.
func (o *Orchestrator) selectVoices(req request.Request) []*voice.Voice {
	var candidates []*voice.Voice
	if len(req.Constraints.RequiredVoices) > 0 {
		for _, name := range req.Constraints.RequiredVoices {
			if v := o.rt.Registry.Get(voice.ID(name)); v != nil {
				candidates = append(candidates, v)
			}
		}
	} else {
		candidates = selector.Select(req.Content, selector.PreferenceAuto, selector.TimeConstraintNone, o.rt.Registry, o.rt.Perf)
	}

	if len(req.Constraints.ExcludedVoices) == 0 {
		return candidates
	}
	excluded := make(map[string]bool, len(req.Constraints.ExcludedVoices))
	for _, name := range req.Constraints.ExcludedVoices {
		excluded[name] = true
	}
	out := candidates[:0:0]
	for _, v := range candidates {
		if !excluded[string(v.ID)] {
			out = append(out, v)
		}
	}
	return out
}

// runVoices dispatches one router+backend call per voice in batches of
// o.maxConcurrentVoices, pausing interBatchDelay between batches.
func (o *Orchestrator) runVoices(ctx context.Context, req request.Request, voices []*voice.Voice) ([]VoiceOutcome, error) {
	outcomes := make([]VoiceOutcome, len(voices))

	for start := 0; start < len(voices); start += o.maxConcurrentVoices {
		end := start + o.maxConcurrentVoices
		if end > len(voices) {
			end = len(voices)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			v := voices[i]
			g.Go(func() error {
				outcomes[i] = o.runVoice(gctx, req, v)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return outcomes, err
		}

		if end < len(voices) {
			select {
			case <-ctx.Done():
				return outcomes, ctx.Err()
			case <-time.After(interBatchDelay):
			}
		}
	}

	return outcomes, nil
}

// runVoice injects memory context, routes, and invokes the chosen
// backend tier for a single voice, always returning a populated
// VoiceOutcome rather than propagating the error upward: one voice's
// failure should not sink the whole fan-out.
func (o *Orchestrator) runVoice(ctx context.Context, req request.Request, v *voice.Voice) VoiceOutcome {
	started := time.Now()

	vctx := o.rt.Memory.GetVoiceContext(memory.Query{VoiceID: v.ID, TaskType: string(req.Type), Prompt: req.Content})
	prompt := buildVoicePrompt(req, v, vctx)

	metrics := metricsFor(req)
	decision := o.rt.Router.Route(req.Type, prompt, metrics)

	escalated := false
	if o.rt.Router.ShouldEscalate(decision) {
		escalated = true
		decision.Tier = backend.TierQuality
		decision.Reason = decision.Reason + "; escalated to quality-tier below confidence threshold"
		decision.EstimatedTime = estimatedQualityTime
	}

	adapter := o.rt.Speed
	if decision.Tier == backend.TierQuality {
		adapter = o.rt.Quality
	}
	acquireLoad(o.rt.Router.Load(), decision.Tier)
	defer releaseLoad(o.rt.Router.Load(), decision.Tier)

	resp, err := adapter.Generate(ctx, prompt, backend.Options{
		SystemPrompt: v.SystemPrompt(),
		Temperature:  v.BaseTemperature,
	})
	latency := time.Since(started)

	v.RecordUse(started)

	sample := perf.Sample{
		Latency:   latency,
		Success:   err == nil,
		Timestamp: started,
	}
	if err == nil {
		sample.Tokens = resp.Usage.TotalTokens
		sample.Quality = vctx.Quality
	}
	o.rt.Router.RecordOutcome(decision.Tier, req.Type, string(v.ID), sample)

	outcome := VoiceOutcome{VoiceID: v.ID, Decision: decision, Escalated: escalated, Err: err, Latency: latency}
	if err == nil {
		outcome.Content = resp.Content
	}
	return outcome
}

func acquireLoad(lt *router.LoadTracker, tier backend.Tier) {
	if tier == backend.TierSpeed {
		lt.AcquireSpeed()
		return
	}
	lt.AcquireQuality()
}

func releaseLoad(lt *router.LoadTracker, tier backend.Tier) {
	if tier == backend.TierSpeed {
		lt.ReleaseSpeed()
		return
	}
	lt.ReleaseQuality()
}

// buildVoicePrompt folds the voice's recent interactions and success
// patterns ahead of the request content, per spec.md §4.5's "inject
// memory context before dispatch".
func buildVoicePrompt(req request.Request, v *voice.Voice, vctx memory.VoiceContext) string {
	var b strings.Builder
	if len(vctx.SuccessPatterns) > 0 {
		b.WriteString("Prior successful collaborations for this kind of task:\n")
		for _, p := range vctx.SuccessPatterns {
			fmt.Fprintf(&b, "- %s (quality %.2f)\n", p.TaskType, p.Quality)
		}
		b.WriteString("\n")
	}
	if len(vctx.RecentInteractions) > 1 {
		b.WriteString("Recent related prompts:\n")
		for _, p := range vctx.RecentInteractions[1:] {
			fmt.Fprintf(&b, "- %s\n", truncate(p, 200))
		}
		b.WriteString("\n")
	}
	b.WriteString(req.Content)
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// metricsFor derives a router.Metrics heuristic from request context,
// since the router has no direct view of the caller's codebase.
func metricsFor(req request.Request) router.Metrics {
	lines := 0
	if req.Context.ExistingCode != "" {
		lines = strings.Count(req.Context.ExistingCode, "\n") + 1
	}
	fileCount := len(req.Context.Languages)
	securitySensitive := false
	for _, kw := range []string{"security", "vulnerab", "exploit", "auth"} {
		if strings.Contains(strings.ToLower(req.Content), kw) {
			securitySensitive = true
			break
		}
	}

	return router.Metrics{
		LinesOfCode:             lines,
		FileCount:               fileCount,
		MultiFile:               fileCount > 1,
		DeepAnalysis:            req.Type == request.TypeCodeAnalysis || req.Type == request.TypeArchitectureDesign,
		TemplateGeneration:      req.Type == request.TypeDocumentation,
		HasSecurityImplications: securitySensitive,
		EstimatedProcessingTime: req.Constraints.MaxResponseTime,
	}
}

// synthesize returns a single voice's draft directly, or runs the
// dual-agent council over the combined drafts when more than one voice
// was dispatched (spec.md §4.8 step 5).
func (o *Orchestrator) synthesize(ctx context.Context, req request.Request, outcomes []VoiceOutcome) (string, []council.AuditStep, []string) {
	var warnings []string
	var succeeded []VoiceOutcome
	for _, out := range outcomes {
		if out.Err != nil {
			warnings = append(warnings, fmt.Sprintf("voice %s failed: %v", out.VoiceID, out.Err))
			continue
		}
		succeeded = append(succeeded, out)
	}

	if len(succeeded) == 0 {
		return "", nil, append(warnings, "all voices failed; no content produced")
	}
	if len(succeeded) == 1 {
		return succeeded[0].Content, nil, warnings
	}

	synthesisPrompt := buildSynthesisPrompt(req, succeeded)
	coordinated, err := o.rt.Council.Coordinate(ctx, synthesisPrompt, backend.Options{})
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("council synthesis failed, falling back to first voice draft: %v", err))
		return succeeded[0].Content, nil, warnings
	}

	return coordinated.Content, coordinated.AuditTrail, append(warnings, coordinated.Warnings...)
}

func buildSynthesisPrompt(req request.Request, drafts []VoiceOutcome) string {
	sorted := append([]VoiceOutcome(nil), drafts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].VoiceID < sorted[j].VoiceID })

	var b strings.Builder
	fmt.Fprintf(&b, "Original request:\n%s\n\n", req.Content)
	b.WriteString("Independent voice drafts to reconcile into one coherent answer:\n\n")
	for _, d := range sorted {
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", d.VoiceID, d.Content)
	}
	return b.String()
}

// recordOutcome folds the request's overall result into voice memory's
// L3 collaboration history, shaping future GetVoiceContext calls.
func (o *Orchestrator) recordOutcome(req request.Request, voices []*voice.Voice, outcomes []VoiceOutcome, refused bool) {
	ids := make([]voice.ID, len(voices))
	for i, v := range voices {
		ids[i] = v.ID
	}

	outcome := "success"
	if refused {
		outcome = "failure"
	}

	successes := 0
	for _, out := range outcomes {
		if out.Err == nil {
			successes++
		}
	}
	quality := 0.0
	if len(outcomes) > 0 {
		quality = float64(successes) / float64(len(outcomes))
	}
	if refused {
		quality = 0
	}

	o.rt.Memory.RecordCollaborationOutcome(ids, string(req.Type), outcome, quality)
}
