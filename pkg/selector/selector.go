// Package selector classifies a prompt into task categories, maps them
// to candidate voices, and runs an ROI analysis to decide single- vs
// multi-voice dispatch (spec.md §4.4).
package selector

import (
	"regexp"
	"sort"

	"github.com/meridianrt/spine/pkg/perf"
	"github.com/meridianrt/spine/pkg/voice"
)

// Preference is an explicit user override of the multi-voice decision.
type Preference string

const (
	PreferenceAuto   Preference = "auto"
	PreferenceSingle Preference = "single"
	PreferenceMulti  Preference = "multi"
)

// TimeConstraint adjusts Select's result: TimeConstraintFast keeps only
// the first candidate voice; TimeConstraintThorough is handled the same
// as TimeConstraintNone.
type TimeConstraint string

const (
	TimeConstraintNone     TimeConstraint = ""
	TimeConstraintFast     TimeConstraint = "fast"
	TimeConstraintThorough TimeConstraint = "thorough"
)

// fallbackVoices is the always-available pair used when the classifier
// has no confident match (spec.md §4.4).
var fallbackVoices = []voice.ID{voice.Developer, voice.Maintainer}

type keywordFamily struct {
	re     *regexp.Regexp
	family voice.Family
}

// keywordFamilies implement the "keyword families" prompt classifier.
// Multiple families may match; each contributes to that family's
// affinity score.
var keywordFamilies = []keywordFamily{
	{regexp.MustCompile(`(?i)\b(implement|build|write|create|add feature|code)\b`), voice.FamilyImplementation},
	{regexp.MustCompile(`(?i)\b(analy[sz]e|review|audit|inspect|evaluate)\b`), voice.FamilyAnalysis},
	{regexp.MustCompile(`(?i)\b(design|architect|structure|api shape|interface)\b`), voice.FamilyDesign},
	{regexp.MustCompile(`(?i)\b(maintain|quality|test|refactor|clean up|lint)\b`), voice.FamilyQuality},
	{regexp.MustCompile(`(?i)\b(secur|vulnerab|exploit|cve|injection|auth)\b`), voice.FamilySecurity},
}

// Affinities maps each voice family to a [0,1] relevance score.
type Affinities map[voice.Family]float64

// ClassifyPrompt scores every family by keyword match density, returning
// an empty map if nothing matched (the caller falls back to
// fallbackVoices in that case).
func ClassifyPrompt(prompt string) Affinities {
	out := make(Affinities)
	for _, kf := range keywordFamilies {
		matches := len(kf.re.FindAllString(prompt, -1))
		if matches == 0 {
			continue
		}
		score := float64(matches) / 5.0
		if score > 1.0 {
			score = 1.0
		}
		out[kf.family] += score
		if out[kf.family] > 1.0 {
			out[kf.family] = 1.0
		}
	}
	return out
}

// CandidatesFor returns the voices whose family scored above zero,
// highest affinity first, or the fallback pair if nothing matched.
func CandidatesFor(affinities Affinities, registry *voice.Registry) []*voice.Voice {
	if len(affinities) == 0 {
		return resolve(registry, fallbackVoices)
	}

	families := make([]voice.Family, 0, len(affinities))
	for f := range affinities {
		families = append(families, f)
	}
	sort.Slice(families, func(i, j int) bool {
		return affinities[families[i]] > affinities[families[j]]
	})

	var out []*voice.Voice
	for _, f := range families {
		for _, id := range voice.MembersOf(f) {
			if v := registry.Get(id); v != nil {
				out = append(out, v)
			}
		}
	}
	if len(out) == 0 {
		return resolve(registry, fallbackVoices)
	}
	return out
}

func resolve(registry *voice.Registry, ids []voice.ID) []*voice.Voice {
	out := make([]*voice.Voice, 0, len(ids))
	for _, id := range ids {
		if v := registry.Get(id); v != nil {
			out = append(out, v)
		}
	}
	return out
}

// Select runs the full selection pipeline: classify, gather candidates,
// then decide single vs multi via ROI analysis (or an explicit
// preference override).
func Select(prompt string, pref Preference, tc TimeConstraint, registry *voice.Registry, store *perf.Store) []*voice.Voice {
	affinities := ClassifyPrompt(prompt)
	candidates := CandidatesFor(affinities, registry)
	if len(candidates) == 0 {
		candidates = resolve(registry, fallbackVoices)
	}

	switch pref {
	case PreferenceSingle:
		return candidates[:1]
	case PreferenceMulti:
		return candidates
	}

	if tc == TimeConstraintFast {
		return candidates[:1]
	}

	analysis := AnalyzeROI(prompt, affinities, candidates, store)
	if analysis.Recommend == ModeMulti {
		return candidates
	}
	return candidates[:1]
}
