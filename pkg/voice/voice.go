// Package voice defines persona identity, family grouping, and the
// lazily-materialized system prompt described in spec.md §3/§9.
package voice

import (
	"fmt"
	"sync"
	"time"
)

// ID identifies a voice/persona.
type ID string

const (
	Developer  ID = "developer"
	Implementor ID = "implementor"
	Analyzer   ID = "analyzer"
	Optimizer  ID = "optimizer"
	Architect  ID = "architect"
	Designer   ID = "designer"
	Maintainer ID = "maintainer"
	Guardian   ID = "guardian"
	Security   ID = "security"
)

// Family groups related voices (spec.md §3).
type Family string

const (
	FamilyImplementation Family = "implementation"
	FamilyAnalysis       Family = "analysis"
	FamilyDesign         Family = "design"
	FamilyQuality        Family = "quality"
	FamilySecurity       Family = "security"
)

// Families maps every known voice to its family.
var Families = map[ID]Family{
	Developer:   FamilyImplementation,
	Implementor: FamilyImplementation,
	Analyzer:    FamilyAnalysis,
	Optimizer:   FamilyAnalysis,
	Architect:   FamilyDesign,
	Designer:    FamilyDesign,
	Maintainer:  FamilyQuality,
	Guardian:    FamilyQuality,
	Security:    FamilySecurity,
}

// MembersOf returns every voice id in a family, in a stable order.
func MembersOf(f Family) []ID {
	var out []ID
	for _, id := range AllIDs {
		if Families[id] == f {
			out = append(out, id)
		}
	}
	return out
}

// AllIDs is the fixed, stable-ordered registry of known voices.
var AllIDs = []ID{Developer, Implementor, Analyzer, Optimizer, Architect, Designer, Maintainer, Guardian, Security}

// PromptConfig is the recognized-field configuration struct that replaces
// builder-heavy prompt assembly (spec.md §9): fields are set explicitly
// and the system prompt is materialized lazily on first use.
type PromptConfig struct {
	Role           string
	Style          string
	Temperature    float32
	Specialization string
	Tools          []string
}

// Performance is the exponentially-smoothed performance record carried on
// every Voice (spec.md §3), updated with alpha=0.1 by pkg/memory.
type Performance struct {
	AvgQuality       float64
	AvgLatency       time.Duration
	AvgTokens        float64
	SuccessRate      float64
	CostPerInvocation float64
}

// Voice is a persona's identity and behavior.
type Voice struct {
	ID             ID
	Name           string
	Style          string
	BaseTemperature float32
	Specialization string

	mu             sync.Mutex
	isInitialized  bool
	systemPrompt   string
	lastUsed       time.Time
	usageCount     int
	performance    Performance
}

// New constructs a voice that has not yet materialized its system prompt.
func New(id ID, name, style string, baseTemperature float32, specialization string) *Voice {
	return &Voice{
		ID:              id,
		Name:            name,
		Style:           style,
		BaseTemperature: baseTemperature,
		Specialization:  specialization,
	}
}

// Family returns this voice's family.
func (v *Voice) Family() Family {
	return Families[v.ID]
}

// SystemPrompt materializes (once) and returns the voice's system prompt.
// Invariant (a) of spec.md §3: a voice is never "initialized" without a
// materialized prompt — IsInitialized only flips true inside this method.
func (v *Voice) SystemPrompt() string {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.isInitialized {
		return v.systemPrompt
	}

	v.systemPrompt = fmt.Sprintf(
		"You are %s, a %s specializing in %s. Style: %s. Respond with precise, actionable output.",
		v.Name, v.Family(), v.Specialization, v.Style,
	)
	v.isInitialized = true
	return v.systemPrompt
}

// IsInitialized reports whether the system prompt has been materialized.
func (v *Voice) IsInitialized() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.isInitialized
}

// RecordUse updates LastUsed/UsageCount; called once per invocation.
func (v *Voice) RecordUse(at time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastUsed = at
	v.usageCount++
}

// UsageCount returns how many times this voice has been invoked.
func (v *Voice) UsageCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.usageCount
}

// LastUsed returns the last invocation time.
func (v *Voice) LastUsed() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastUsed
}

// Performance returns a snapshot of the current performance record.
func (v *Voice) Performance() Performance {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.performance
}

// UpdatePerformance applies an exponential moving average with the given
// alpha, as specified for L1 memory updates in spec.md §4.5.
func (v *Voice) UpdatePerformance(alpha float64, sample Performance) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p := &v.performance
	p.AvgQuality = ema(p.AvgQuality, sample.AvgQuality, alpha)
	p.AvgLatency = time.Duration(ema(float64(p.AvgLatency), float64(sample.AvgLatency), alpha))
	p.AvgTokens = ema(p.AvgTokens, sample.AvgTokens, alpha)
	p.SuccessRate = ema(p.SuccessRate, sample.SuccessRate, alpha)
	p.CostPerInvocation = ema(p.CostPerInvocation, sample.CostPerInvocation, alpha)
}

func ema(current, sample, alpha float64) float64 {
	if current == 0 {
		return sample
	}
	return alpha*sample + (1-alpha)*current
}

// Registry owns all known voices as singletons, one per known voice per
// spec.md §4.5 L1 tier ("always resident, one per known voice").
type Registry struct {
	mu     sync.RWMutex
	voices map[ID]*Voice
}

// NewRegistry builds a Registry pre-populated with the nine standard
// voices and their base specializations.
func NewRegistry() *Registry {
	r := &Registry{voices: make(map[ID]*Voice, len(AllIDs))}
	defs := map[ID]struct{ name, style, spec string; temp float32 }{
		Developer:   {"Developer", "pragmatic", "general-purpose implementation", 0.4},
		Implementor: {"Implementor", "terse", "feature implementation", 0.35},
		Analyzer:    {"Analyzer", "methodical", "static analysis and code review", 0.2},
		Optimizer:   {"Optimizer", "precise", "performance optimization", 0.25},
		Architect:   {"Architect", "structured", "system architecture design", 0.5},
		Designer:    {"Designer", "exploratory", "API and interface design", 0.55},
		Maintainer:  {"Maintainer", "conservative", "long-term maintainability", 0.3},
		Guardian:    {"Guardian", "skeptical", "quality gating", 0.2},
		Security:    {"Security", "adversarial", "security review", 0.15},
	}
	for _, id := range AllIDs {
		d := defs[id]
		r.voices[id] = New(id, d.name, d.style, d.temp, d.spec)
	}
	return r
}

// Get returns the singleton Voice for id, or nil if unknown.
func (r *Registry) Get(id ID) *Voice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.voices[id]
}

// All returns every registered voice in stable order.
func (r *Registry) All() []*Voice {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Voice, 0, len(AllIDs))
	for _, id := range AllIDs {
		out = append(out, r.voices[id])
	}
	return out
}
