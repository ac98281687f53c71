package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianrt/spine/pkg/backend"
	"github.com/meridianrt/spine/pkg/perf"
	"github.com/meridianrt/spine/pkg/request"
)

func TestScoreSimplePromptStaysLow(t *testing.T) {
	score := Score(request.TypeCodeGeneration, "write a simple quick template", Metrics{}, ContextualInputs{BusinessHours: true})
	assert.Less(t, score, defaultLow)
}

func TestScoreSecurityPromptGoesHigh(t *testing.T) {
	score := Score(request.TypeCodeAnalysis, "perform a thorough security audit looking for vulnerabilities and exploits", Metrics{HasSecurityImplications: true}, ContextualInputs{BusinessHours: true})
	assert.Greater(t, score, defaultHigh)
}

func TestScoreClampedToBounds(t *testing.T) {
	score := Score(request.TypeDocumentation, "simple quick trivial format lint", Metrics{}, ContextualInputs{BusinessHours: true})
	assert.GreaterOrEqual(t, score, 0.05)
	assert.LessOrEqual(t, score, 1.0)
}

func TestRouteBelowLowThresholdPicksSpeed(t *testing.T) {
	store := perf.NewStore()
	r := NewHybridRouter(store, 3)

	d := r.Route(request.TypeDocumentation, "fix formatting", Metrics{})
	assert.Equal(t, backend.TierSpeed, d.Tier)
}

func TestRouteAboveHighThresholdPicksQuality(t *testing.T) {
	store := perf.NewStore()
	r := NewHybridRouter(store, 3)

	d := r.Route(request.TypeArchitectureDesign, "design a thorough scalable microservice architecture with security review", Metrics{HasSecurityImplications: true, DeepAnalysis: true})
	assert.Equal(t, backend.TierQuality, d.Tier)
}

func TestShouldEscalateBelowThreshold(t *testing.T) {
	store := perf.NewStore()
	r := NewHybridRouter(store, 3, WithEscalationThreshold(0.75))
	// A 0.75 speed-tier success rate keeps the low threshold at 0.30 but
	// drops the below-low confidence from 0.95 to 0.70.
	for i := 0; i < 3; i++ {
		r.RecordOutcome(backend.TierSpeed, request.TypeReview, "developer", perf.Sample{Success: true})
	}
	r.RecordOutcome(backend.TierSpeed, request.TypeReview, "developer", perf.Sample{Success: false})

	d := r.Route(request.TypeCodeGeneration, "fix typo", Metrics{})
	require.Equal(t, backend.TierSpeed, d.Tier)
	require.Less(t, d.Confidence, 0.75)
	assert.True(t, r.ShouldEscalate(d))
}

func TestShouldEscalateFalseAboveThreshold(t *testing.T) {
	store := perf.NewStore()
	r := NewHybridRouter(store, 3)

	d := r.Route(request.TypeDocumentation, "fix formatting", Metrics{})
	require.Equal(t, backend.TierSpeed, d.Tier)
	assert.False(t, r.ShouldEscalate(d))
}

func TestShouldEscalateFalseForQualityTier(t *testing.T) {
	store := perf.NewStore()
	r := NewHybridRouter(store, 3)

	d := r.Route(request.TypeArchitectureDesign, "design a thorough scalable microservice architecture with security review", Metrics{HasSecurityImplications: true, DeepAnalysis: true})
	require.Equal(t, backend.TierQuality, d.Tier)
	assert.False(t, r.ShouldEscalate(d))
}

func TestRouteIsCachedAndIdempotent(t *testing.T) {
	store := perf.NewStore()
	r := NewHybridRouter(store, 3)

	first := r.Route(request.TypeReview, "review this code", Metrics{})
	second := r.Route(request.TypeReview, "review this code", Metrics{})
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), r.Cache().Stats().Hits)
}

func TestRouteForcedTierBypassesRule(t *testing.T) {
	store := perf.NewStore()
	r := NewHybridRouter(store, 3, WithForcedTier(backend.TierQuality))

	d := r.Route(request.TypeDocumentation, "anything", Metrics{})
	assert.Equal(t, backend.TierQuality, d.Tier)
	assert.Equal(t, 0.90, d.Confidence)
}

func TestLoadAdjustmentSwitchesTierAtCapacity(t *testing.T) {
	store := perf.NewStore()
	r := NewHybridRouter(store, 1, WithForcedTier(""))
	r.Load().AcquireSpeed()

	d := r.Route(request.TypeDocumentation, "trivial fix, unique prompt to avoid cache hit", Metrics{})
	assert.Equal(t, backend.TierQuality, d.Tier)
	assert.LessOrEqual(t, d.Confidence, 0.95-0.20+1e-9)
}

func TestDynamicThresholdsShiftWithPerformance(t *testing.T) {
	store := perf.NewStore()
	for i := 0; i < 10; i++ {
		store.Record(speedBackendName, "review", "developer", perf.Sample{Success: true, Latency: time.Second})
	}
	th := DynamicThresholds(store)
	assert.Equal(t, 0.35, th.Low)
}

func TestRecordOutcomeFeedsDynamicThresholds(t *testing.T) {
	store := perf.NewStore()
	r := NewHybridRouter(store, 3)

	for i := 0; i < 10; i++ {
		r.RecordOutcome(backend.TierQuality, request.TypeCodeAnalysis, "analyzer", perf.Sample{Success: true, Quality: 0.95})
	}
	th := DynamicThresholds(store)
	assert.Equal(t, 0.60, th.High)
}

func TestDecisionCacheRespectsTTL(t *testing.T) {
	c := NewDecisionCache()
	key := Fingerprint("review", "hello", Metrics{})
	c.Set(key, Decision{Tier: backend.TierSpeed, Confidence: 0.9})

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, backend.TierSpeed, got.Tier)
}
