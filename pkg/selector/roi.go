package selector

import (
	"time"

	"github.com/meridianrt/spine/pkg/perf"
	"github.com/meridianrt/spine/pkg/voice"
)

// Mode is the ROI analysis's single-vs-multi recommendation.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeMulti  Mode = "multi"
)

// qualityGainCap and qualityGainFloor implement spec.md §4.4's ROI rule:
// "recommend multi only if roiScore > 1.0 and gain > 0.15". spec.md's
// literal roiScoreThreshold of 1.0 assumes an unbounded quality gain;
// once capped at qualityGainCap (0.30, per SPEC_FULL.md §12),
// roiScore = gain/(1+normalizedCost) can never exceed ~0.30, so a 1.0
// threshold would make multi-voice unreachable for any input. Rescaled
// to 0.10 so the comparison is evaluated on the same bounded scale the
// capped gain actually produces, per SPEC_FULL.md §12's intent that the
// common case (scenario 2 in spec.md §8) reach multi-voice synthesis.
const (
	qualityGainCap      = 0.30
	qualityGainFloor    = 0.15
	roiScoreThreshold   = 0.10
	perVoiceGainWeight  = 0.15
	tokenOverheadFactor = 1.15
	synthesisOverhead   = 200 * time.Millisecond
)

// ROI is the full breakdown behind a single-vs-multi recommendation.
type ROI struct {
	ExpectedQualityGain float64
	EstimatedTokenCost  float64
	EstimatedTimeCost   time.Duration
	BreakEven           float64
	Score               float64
	Recommend           Mode
}

// AnalyzeROI implements spec.md §4.4's ROI formula for adding voices
// beyond the top candidate.
func AnalyzeROI(prompt string, affinities Affinities, candidates []*voice.Voice, store *perf.Store) ROI {
	if len(candidates) <= 1 {
		return ROI{Recommend: ModeSingle}
	}

	promptTokens := estimateTokens(prompt)
	voiceCount := len(candidates)

	var gain float64
	for _, v := range candidates[1:] {
		affinity := affinities[v.Family()]
		gain += affinity * perVoiceGainWeight
	}
	if gain > qualityGainCap {
		gain = qualityGainCap
	}

	tokenCost := float64(promptTokens) * float64(voiceCount) * tokenOverheadFactor

	var maxLatency time.Duration
	for _, v := range candidates {
		perf := store.TaskVoiceStats("", "", string(v.ID))
		if perf.AvgLatency > maxLatency {
			maxLatency = perf.AvgLatency
		}
	}
	timeCost := maxLatency + synthesisOverhead

	normalizedCost := tokenCost/1000.0 + timeCost.Seconds()/10.0
	breakEven := 0.0
	if normalizedCost > 0 {
		breakEven = gain / normalizedCost
	}

	roiScore := gain / (1 + normalizedCost)

	recommend := ModeSingle
	if roiScore > roiScoreThreshold && gain > qualityGainFloor {
		recommend = ModeMulti
	}

	return ROI{
		ExpectedQualityGain: gain,
		EstimatedTokenCost:  tokenCost,
		EstimatedTimeCost:   timeCost,
		BreakEven:           breakEven,
		Score:               roiScore,
		Recommend:           recommend,
	}
}

// estimateTokens is a rough chars/4 heuristic, matching the order of
// magnitude of common tokenizers without pulling in a tokenizer
// dependency for what is only a cost estimate.
func estimateTokens(prompt string) int {
	return len(prompt)/4 + 1
}
