package redteam

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/meridianrt/spine/internal/logger"
	"github.com/meridianrt/spine/internal/telemetry"
)

// conflictConfidenceSpread is how far apart two inspectors' confidence
// scores must be before synthesis calls it out as a conflict.
const conflictConfidenceSpread = 0.3

// Option configures a Validator.
type Option func(*Validator)

// WithInspectors overrides the default five-inspector catalog.
func WithInspectors(inspectors ...Inspector) Option {
	return func(v *Validator) { v.inspectors = inspectors }
}

// WithLogger attaches a component-scoped logger.
func WithLogger(log logger.Logger) Option {
	return func(v *Validator) { v.log = log }
}

// WithTelemetry attaches a tracer/meter.
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(v *Validator) { v.tel = tel }
}

// WithCompletionHandler registers a callback invoked with every
// synthesized Verdict, so the orchestrator can block, quarantine, or
// annotate per spec.md §4.6's "emits an event on completion".
func WithCompletionHandler(handler func(Verdict)) Option {
	return func(v *Validator) { v.onComplete = append(v.onComplete, handler) }
}

// Validator runs a catalog of inspectors concurrently and synthesizes
// their individual verdicts into one consensus.
type Validator struct {
	inspectors []Inspector
	log        logger.Logger
	tel        telemetry.Telemetry
	onComplete []func(Verdict)
}

// NewValidator builds a Validator over the standard five inspectors
// unless WithInspectors overrides the catalog.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		inspectors: StandardInspectors(),
		log:        logger.NoOp{},
		tel:        telemetry.NoOp{},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Analyze runs every inspector concurrently over content and returns
// the synthesized Verdict, firing any registered completion handlers.
func (v *Validator) Analyze(ctx context.Context, content string) Verdict {
	ctx, span := v.tel.StartSpan(ctx, "redteam.analyze")
	defer span.End()

	results := make([]InspectorResult, len(v.inspectors))
	var wg sync.WaitGroup
	for i, insp := range v.inspectors {
		wg.Add(1)
		go func(i int, insp Inspector) {
			defer wg.Done()
			results[i] = insp.Inspect(ctx, content)
		}(i, insp)
	}
	wg.Wait()

	verdict := synthesize(results)

	v.log.Info("redteam analysis complete", map[string]interface{}{
		"consensus":      verdict.ConsensusThreatLevel.String(),
		"agent_agreement": verdict.AgentAgreement,
		"finding_count":   len(verdict.Findings),
	})

	for _, handler := range v.onComplete {
		handler(verdict)
	}

	return verdict
}

func synthesize(results []InspectorResult) Verdict {
	n := len(results)
	consensus := consensusLevel(results, n)
	agreement := agentAgreement(results)
	findings := dedupeAndSortFindings(results)
	conflicts := detectConflicts(results)
	recommendations := mergeRecommendations(results, consensus)

	return Verdict{
		ConsensusThreatLevel: consensus,
		AgentAgreement:       agreement,
		Findings:             findings,
		Recommendations:      recommendations,
		Conflicts:            conflicts,
		Results:              results,
	}
}

func consensusLevel(results []InspectorResult, n int) Severity {
	if n == 0 {
		return SeverityLow
	}

	var critical, high, mediumPlus int
	for _, r := range results {
		switch {
		case r.ThreatLevel == SeverityCritical:
			critical++
		case r.ThreatLevel == SeverityHigh:
			high++
		}
		if r.ThreatLevel >= SeverityMedium {
			mediumPlus++
		}
	}

	switch {
	case critical > 0:
		return SeverityCritical
	case high*2 >= n:
		return SeverityHigh
	case mediumPlus*2 >= n:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// agentAgreement implements spec.md §4.6's 1 - variance(score)/2, where
// score maps {low:1, medium:2, high:3, critical:4}.
func agentAgreement(results []InspectorResult) float64 {
	if len(results) == 0 {
		return 1.0
	}

	var sum float64
	for _, r := range results {
		sum += r.ThreatLevel.score()
	}
	mean := sum / float64(len(results))

	var variance float64
	for _, r := range results {
		d := r.ThreatLevel.score() - mean
		variance += d * d
	}
	variance /= float64(len(results))

	agreement := 1 - variance/2
	return math.Max(0, math.Min(1, agreement))
}

func dedupeAndSortFindings(results []InspectorResult) []Finding {
	seen := make(map[string]bool)
	var out []Finding
	for _, r := range results {
		for _, f := range r.Findings {
			key := findingKey(f)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity > out[j].Severity
	})
	return out
}

func detectConflicts(results []InspectorResult) []string {
	var conflicts []string

	var sawLow, sawCritical bool
	minConf, maxConf := 1.0, 0.0
	for _, r := range results {
		if r.ThreatLevel == SeverityLow {
			sawLow = true
		}
		if r.ThreatLevel == SeverityCritical {
			sawCritical = true
		}
		if r.Confidence < minConf {
			minConf = r.Confidence
		}
		if r.Confidence > maxConf {
			maxConf = r.Confidence
		}
	}

	if sawLow && sawCritical {
		conflicts = append(conflicts, "inspectors split between low and critical threat assessments")
	}
	if maxConf-minConf > conflictConfidenceSpread {
		conflicts = append(conflicts, "wide confidence spread across inspectors")
	}
	return conflicts
}

func consensusAdvice(level Severity) string {
	switch level {
	case SeverityCritical:
		return "block the request and require manual review"
	case SeverityHigh:
		return "flag the request for reviewer sign-off before delivery"
	case SeverityMedium:
		return "log and monitor; no automatic action required"
	default:
		return "no action required"
	}
}

func mergeRecommendations(results []InspectorResult, consensus Severity) []string {
	seen := make(map[string]bool)
	out := []string{consensusAdvice(consensus)}
	seen[out[0]] = true

	for _, r := range results {
		for _, rec := range r.Recommendations {
			if seen[rec] {
				continue
			}
			seen[rec] = true
			out = append(out, rec)
		}
	}
	return out
}
