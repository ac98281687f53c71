package router

import (
	"math"
	"time"

	"github.com/meridianrt/spine/pkg/backend"
	"github.com/meridianrt/spine/pkg/perf"
	"github.com/meridianrt/spine/pkg/request"
)

// Thresholds are the dynamic low/high complexity cutoffs (spec.md
// §4.3 "Dynamic thresholds").
type Thresholds struct {
	Low  float64
	High float64
}

// defaultLow and defaultHigh match the spec's defaults exactly.
const (
	defaultLow  = 0.30
	defaultHigh = 0.70

	failsafeConfidence    = 0.5
	failsafeEstimatedTime = 20 * time.Second
)

// speedBackendName and qualityBackendName are the synthetic keys under
// which tier-wide (not per-voice) performance is recorded, distinct from
// the concrete backend adapter names the orchestrator configures.
const (
	speedBackendName   = "tier:speed"
	qualityBackendName = "tier:quality"
)

// DynamicThresholds derives low/high from recent tier performance.
func DynamicThresholds(store *perf.Store) Thresholds {
	t := Thresholds{Low: defaultLow, High: defaultHigh}

	speedSuccess := store.SuccessRate(speedBackendName)
	speedLatency := store.OutcomeStats(speedBackendName, "success").AvgLatency

	switch {
	case speedSuccess > 0.9 && speedLatency > 0 && speedLatency < 5*time.Second:
		t.Low = 0.35
	case speedSuccess < 0.7:
		t.Low = 0.25
	}

	qualitySuccess := store.SuccessRate(qualityBackendName)
	switch {
	case qualitySuccess > 0.95:
		t.High = 0.60
	case qualitySuccess < 0.8:
		t.High = 0.75
	}

	return t
}

// HybridRouter selects speed-tier vs quality-tier per call, caching
// decisions and learning from recorded outcomes (spec.md §4.3).
type HybridRouter struct {
	cache           *DecisionCache
	perf            *perf.Store
	load            *LoadTracker
	escalationLevel float64
	forcedTier      backend.Tier
	businessHoursFn func(time.Time) bool
}

// Option configures a HybridRouter at construction time.
type Option func(*HybridRouter)

// WithForcedTier bypasses the selection rule entirely, always returning
// tier with confidence 0.90 (spec.md §4.3 "forced default").
func WithForcedTier(tier backend.Tier) Option {
	return func(r *HybridRouter) { r.forcedTier = tier }
}

// WithEscalationThreshold sets the confidence floor below which a
// hybrid decision escalates from speed-tier to quality-tier.
func WithEscalationThreshold(threshold float64) Option {
	return func(r *HybridRouter) { r.escalationLevel = threshold }
}

// WithBusinessHoursFunc overrides the default 9-17 local-time business
// hours check, mainly for deterministic tests.
func WithBusinessHoursFunc(fn func(time.Time) bool) Option {
	return func(r *HybridRouter) { r.businessHoursFn = fn }
}

// NewHybridRouter constructs a router with its own decision cache and
// load tracker, sharing the given performance store.
func NewHybridRouter(store *perf.Store, maxConcurrentPerTier int, opts ...Option) *HybridRouter {
	r := &HybridRouter{
		cache:           NewDecisionCache(),
		perf:            store,
		load:            NewLoadTracker(maxConcurrentPerTier),
		escalationLevel: 0.6,
		businessHoursFn: defaultBusinessHours,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func defaultBusinessHours(t time.Time) bool {
	h := t.Hour()
	return h >= 9 && h < 17
}

// Load exposes the tracker so callers can Acquire/Release around the
// actual adapter call.
func (r *HybridRouter) Load() *LoadTracker { return r.load }

// Cache exposes the decision cache for stats reporting.
func (r *HybridRouter) Cache() *DecisionCache { return r.cache }

// Route selects a tier for one voice invocation, per spec.md §4.3.
// Any panic during scoring is recovered into the fixed failsafe
// decision (quality-tier, confidence 0.5, estimatedTime 20s).
func (r *HybridRouter) Route(taskType request.Type, prompt string, m Metrics) (decision Decision) {
	defer func() {
		if rec := recover(); rec != nil {
			decision = Decision{Tier: backend.TierQuality, Confidence: failsafeConfidence, Reason: "failsafe: panic during routing", EstimatedTime: failsafeEstimatedTime}
		}
	}()

	key := Fingerprint(string(taskType), prompt, m)
	if cached, ok := r.cache.Get(key); ok {
		return cached
	}

	if r.forcedTier != "" {
		d := Decision{Tier: r.forcedTier, Confidence: 0.90, Reason: "forced tier override", EstimatedTime: estimatedTimeFor(r.forcedTier)}
		r.cache.Set(key, d)
		return d
	}

	ctxInputs := ContextualInputs{
		BusinessHours:       r.businessHoursFn(time.Now()),
		SpeedSuccessForType: r.perf.SuccessRate(speedBackendName),
		TotalLoad:           r.load.SpeedLoad() + r.load.QualityLoad(),
		SpeedLoad:           r.load.SpeedLoad(),
		QualityLoad:         r.load.QualityLoad(),
	}
	score := Score(taskType, prompt, m, ctxInputs)
	thresholds := DynamicThresholds(r.perf)

	d := r.selectTier(score, thresholds)
	d = r.applyLoadAdjustment(d)

	r.cache.Set(key, d)
	return d
}

func (r *HybridRouter) selectTier(score float64, t Thresholds) Decision {
	speedSuccess := r.perf.SuccessRate(speedBackendName)
	qualitySuccess := r.perf.SuccessRate(qualityBackendName)

	switch {
	case score < t.Low:
		conf := 0.70
		if speedSuccess > 0.8 {
			conf = 0.95
		}
		return Decision{Tier: backend.TierSpeed, Confidence: conf, Reason: "below low threshold", EstimatedTime: estimatedTimeFor(backend.TierSpeed)}

	case score > t.High:
		conf := 0.80
		if qualitySuccess > 0.8 {
			conf = 0.95
		}
		return Decision{Tier: backend.TierQuality, Confidence: conf, Reason: "above high threshold", EstimatedTime: estimatedTimeFor(backend.TierQuality)}

	default:
		speedLoad := r.load.SpeedLoad()
		qualityLoad := r.load.QualityLoad()
		lessLoadedIsSpeed := speedLoad <= qualityLoad

		if lessLoadedIsSpeed && speedSuccess > 0.75 {
			return Decision{Tier: backend.TierSpeed, Confidence: 0.85, Reason: "mid-range, less-loaded speed tier has good success", EstimatedTime: estimatedTimeFor(backend.TierSpeed)}
		}
		if !lessLoadedIsSpeed && qualitySuccess > 0.75 {
			return Decision{Tier: backend.TierQuality, Confidence: 0.85, Reason: "mid-range, less-loaded quality tier has good success", EstimatedTime: estimatedTimeFor(backend.TierQuality)}
		}

		return Decision{
			Tier:          backend.TierSpeed,
			Confidence:    r.escalationLevel,
			Reason:        "hybrid: start speed-tier, escalate to quality-tier below confidence threshold",
			EstimatedTime: estimatedTimeFor(backend.TierSpeed),
		}
	}
}

// ShouldEscalate reports whether a speed-tier decision's confidence is
// below the escalation threshold, so the call should run on quality-tier
// instead. A mid-range hybrid decision carries the threshold itself as
// its confidence and is therefore not escalated by this check; no
// confidence from the response is fed back during a call.
func (r *HybridRouter) ShouldEscalate(d Decision) bool {
	return d.Tier == backend.TierSpeed && d.Confidence < r.escalationLevel
}

func (r *HybridRouter) applyLoadAdjustment(d Decision) Decision {
	selectedIsSpeed := d.Tier == backend.TierSpeed
	if !r.load.AtCapacity(selectedIsSpeed) {
		return d
	}

	other := backend.TierQuality
	if !selectedIsSpeed {
		other = backend.TierSpeed
	}
	if !r.load.HasCapacity(other == backend.TierSpeed) {
		return d
	}

	adjusted := d
	adjusted.Tier = other
	adjusted.Confidence = math.Max(d.Confidence-0.20, 0.30)
	adjusted.Reason = d.Reason + "; switched tier due to load"
	adjusted.EstimatedTime = estimatedTimeFor(other)
	return adjusted
}

func estimatedTimeFor(tier backend.Tier) time.Duration {
	if tier == backend.TierSpeed {
		return 3 * time.Second
	}
	return 15 * time.Second
}

// RecordOutcome is the learning hook: it folds a completed invocation
// into the tier-wide performance buckets that DynamicThresholds and
// Score read back.
func (r *HybridRouter) RecordOutcome(tier backend.Tier, taskType request.Type, voice string, sample perf.Sample) {
	name := qualityBackendName
	if tier == backend.TierSpeed {
		name = speedBackendName
	}
	r.perf.Record(name, string(taskType), voice, sample)
}
