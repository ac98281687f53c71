package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianrt/spine/pkg/perf"
	"github.com/meridianrt/spine/pkg/voice"
)

func TestClassifyPromptMatchesSecurityKeywords(t *testing.T) {
	a := ClassifyPrompt("please audit this for vulnerabilities and injection risks")
	assert.Greater(t, a[voice.FamilySecurity], 0.0)
}

func TestClassifyPromptEmptyWhenNoKeywords(t *testing.T) {
	a := ClassifyPrompt("xyz abc qqq")
	assert.Empty(t, a)
}

func TestCandidatesForFallsBackWhenUnsure(t *testing.T) {
	reg := voice.NewRegistry()
	candidates := CandidatesFor(Affinities{}, reg)
	require.Len(t, candidates, 2)
	assert.Equal(t, voice.Developer, candidates[0].ID)
	assert.Equal(t, voice.Maintainer, candidates[1].ID)
}

func TestSelectSinglePreferenceReturnsOneVoice(t *testing.T) {
	reg := voice.NewRegistry()
	store := perf.NewStore()
	out := Select("implement a new feature", PreferenceSingle, TimeConstraintNone, reg, store)
	assert.Len(t, out, 1)
}

func TestSelectMultiPreferenceReturnsAllCandidates(t *testing.T) {
	reg := voice.NewRegistry()
	store := perf.NewStore()
	out := Select("design and implement and review this", PreferenceMulti, TimeConstraintNone, reg, store)
	assert.GreaterOrEqual(t, len(out), 1)
}

func TestSelectFastConstraintForcesSingle(t *testing.T) {
	reg := voice.NewRegistry()
	store := perf.NewStore()
	out := Select("design and implement and review this", PreferenceAuto, TimeConstraintFast, reg, store)
	assert.Len(t, out, 1)
}

func TestAnalyzeROISingleCandidateIsAlwaysSingle(t *testing.T) {
	reg := voice.NewRegistry()
	store := perf.NewStore()
	candidates := []*voice.Voice{reg.Get(voice.Developer)}
	roi := AnalyzeROI("hello", Affinities{}, candidates, store)
	assert.Equal(t, ModeSingle, roi.Recommend)
}

func TestAnalyzeROIGainCappedAt030(t *testing.T) {
	reg := voice.NewRegistry()
	store := perf.NewStore()
	candidates := []*voice.Voice{reg.Get(voice.Developer), reg.Get(voice.Implementor), reg.Get(voice.Architect), reg.Get(voice.Designer), reg.Get(voice.Security)}
	affinities := Affinities{
		voice.FamilyImplementation: 1.0,
		voice.FamilyDesign:         1.0,
		voice.FamilySecurity:       1.0,
	}
	roi := AnalyzeROI("design a secure implementation", affinities, candidates, store)
	assert.LessOrEqual(t, roi.ExpectedQualityGain, qualityGainCap+1e-9)
}

// TestAnalyzeROIRecommendsMultiWhenGainIsHighAndCostIsLow guards against
// roiScoreThreshold being recalibrated back to a value unreachable under
// the capped gain, which would silently collapse every PreferenceAuto
// selection to single-voice.
func TestAnalyzeROIRecommendsMultiWhenGainIsHighAndCostIsLow(t *testing.T) {
	reg := voice.NewRegistry()
	store := perf.NewStore()
	candidates := []*voice.Voice{reg.Get(voice.Developer), reg.Get(voice.Implementor), reg.Get(voice.Architect), reg.Get(voice.Designer), reg.Get(voice.Security)}
	affinities := Affinities{
		voice.FamilyImplementation: 1.0,
		voice.FamilyDesign:         1.0,
		voice.FamilySecurity:       1.0,
	}
	roi := AnalyzeROI("design a secure implementation", affinities, candidates, store)
	assert.Equal(t, ModeMulti, roi.Recommend)
	assert.Greater(t, roi.Score, roiScoreThreshold)
}

func TestSelectAutoPreferenceCanReturnMultipleVoices(t *testing.T) {
	reg := voice.NewRegistry()
	store := perf.NewStore()
	prompt := "implement implement implement implement implement design design design design design"
	out := Select(prompt, PreferenceAuto, TimeConstraintNone, reg, store)
	assert.Greater(t, len(out), 1)
}
