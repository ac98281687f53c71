package router

import (
	"math"
	"regexp"
	"time"

	"github.com/meridianrt/spine/pkg/request"
)

// Metrics carries the optional complexity signals a caller may already
// know about a request (spec.md §4.3).
type Metrics struct {
	LinesOfCode              int
	FileCount                int
	MultiFile                bool
	DeepAnalysis             bool
	TemplateGeneration       bool
	HasSecurityImplications  bool
	EstimatedProcessingTime  time.Duration
}

// baseByTaskType is the base-by-task-type component of the complexity
// score. request.Type has no direct "security" category (security
// implications are instead signaled via Metrics.HasSecurityImplications
// and the security regex family below); TypeOptimization has no
// spec-given base weight either, so it is set between edit and analysis.
var baseByTaskType = map[request.Type]float64{
	request.TypeDocumentation:      0.10, // format
	request.TypeCodeGeneration:     0.15, // template
	request.TypeReview:             0.25, // edit
	request.TypeOptimization:       0.50,
	request.TypeCodeAnalysis:       0.75, // analysis
	request.TypeArchitectureDesign: 0.85, // architecture
}

type patternFamily struct {
	re     *regexp.Regexp
	weight float64
}

// highWeightFamilies and mediumWeightFamilies implement the "regex
// families with weights" prompt-pattern analysis (spec.md §4.3). Match
// counts are dampened to min(matches/10, 1) before the weight is applied.
var highWeightFamilies = []patternFamily{
	{regexp.MustCompile(`(?i)\b(analyz\w*|audit|deep dive|thorough review)\b`), 0.30},
	{regexp.MustCompile(`(?i)\b(secur\w*|vulnerab\w*|cve|exploit|injection)\b`), 0.35},
	{regexp.MustCompile(`(?i)\b(architect\w*|system design|scalab\w*|microservice\w*)\b`), 0.30},
	{regexp.MustCompile(`(?i)\b(optimi[sz]e\w*|performance|bottleneck|latency)\b`), 0.25},
	{regexp.MustCompile(`(?i)\b(algorithm\w*|complexity|big-o|data structure\w*)\b`), 0.30},
}

var mediumWeightFamilies = []patternFamily{
	{regexp.MustCompile(`(?i)\b(multiple|several|various|many)\b`), 0.15},
	{regexp.MustCompile(`(?i)\b(integrat\w*|api|service|third-party)\b`), 0.20},
	{regexp.MustCompile(`(?i)\b(refactor\w*|restructure|reorganiz\w*)\b`), 0.25},
	{regexp.MustCompile(`(?i)\b(debug\w*|bug|exception|stack trace)\b`), 0.20},
}

var reducerFamilies = []patternFamily{
	{regexp.MustCompile(`(?i)\b(simple|trivial|quick|easy)\b`), -0.10},
	{regexp.MustCompile(`(?i)\b(format\w*|lint|style|whitespace)\b`), -0.05},
	{regexp.MustCompile(`(?i)\b(template\w*|boilerplate|scaffold\w*)\b`), -0.10},
}

var technicalTerms = regexp.MustCompile(`(?i)\b(goroutine|channel|mutex|interface|generic|kubernetes|container|async|concurren\w*|database|cache|index|schema)\b`)

func dampenedScore(families []patternFamily, prompt string) float64 {
	var total float64
	for _, f := range families {
		matches := len(f.re.FindAllString(prompt, -1))
		if matches == 0 {
			continue
		}
		dampened := math.Min(float64(matches)/10.0, 1.0)
		total += dampened * f.weight
	}
	return total
}

// ContextualInputs carries signals the scorer needs but that aren't part
// of the request itself: current load and historical success for this
// task type on the speed tier.
type ContextualInputs struct {
	BusinessHours       bool
	SpeedSuccessForType float64
	TotalLoad           int
	SpeedLoad           int
	QualityLoad         int
}

// Score computes the complexity score in [0.05, 1.0] per spec.md §4.3.
func Score(taskType request.Type, prompt string, m Metrics, ctx ContextualInputs) float64 {
	score := baseByTaskType[taskType]
	if score == 0 {
		score = 0.5
	}

	score += dampenedScore(highWeightFamilies, prompt)
	score += dampenedScore(mediumWeightFamilies, prompt)
	score += dampenedScore(reducerFamilies, prompt)

	if length := len(prompt); length > 500 {
		score += math.Min(float64(length-500)/2000.0, 0.30)
	}

	if termCount := len(technicalTerms.FindAllString(prompt, -1)); termCount > 0 {
		score += math.Min(float64(termCount)*0.10, 0.25)
	}

	switch {
	case m.FileCount > 10:
		score += 0.40
	case m.FileCount > 3:
		score += 0.20
	}
	if m.LinesOfCode > 0 {
		score += math.Min(math.Log10(float64(m.LinesOfCode)+1)*0.10, 0.30)
	}
	if m.HasSecurityImplications {
		score += 0.40
	}
	if m.DeepAnalysis {
		score += 0.35
	}
	if m.MultiFile {
		score += 0.25
	}
	if m.TemplateGeneration {
		score -= 0.10
	}

	if ctx.BusinessHours {
		score *= 0.95
	} else {
		score *= 1.05
	}

	switch {
	case ctx.SpeedSuccessForType > 0 && ctx.SpeedSuccessForType < 0.7:
		score += 0.15
	case ctx.SpeedSuccessForType > 0.9:
		score -= 0.10
	}

	if ctx.TotalLoad > 5 {
		if ctx.SpeedLoad > ctx.QualityLoad {
			score += 0.05
		} else if ctx.QualityLoad > ctx.SpeedLoad {
			score -= 0.05
		}
	}

	if score < 0.05 {
		score = 0.05
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
