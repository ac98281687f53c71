// Package memory implements the three-tier hierarchical voice memory
// described in spec.md §4.5: an always-resident L1 per voice, an LRU
// L2 of shared context keyed by family or task, and a bounded L3
// collaboration history per voice.
package memory

import (
	"sort"
	"strings"
	"time"

	"github.com/meridianrt/spine/pkg/voice"
)

// CollaborationRecord is one completed multi-voice (or single-voice)
// invocation outcome, appended to L3 and folded into the matching L2
// shared context.
type CollaborationRecord struct {
	Voices    []voice.ID
	TaskType  string
	Outcome   string // "success" or "failure"
	Quality   float64
	Timestamp time.Time
}

// SharedContext is an L2 entry: context shared across voices that
// collaborated on the same family or task.
type SharedContext struct {
	Key            string
	Voices         []voice.ID
	TaskType       string
	Summary        string
	Collaborations []CollaborationRecord
	UpdatedAt      time.Time
}

const maxL2Collaborations = 20

func (s *SharedContext) appendCollaboration(rec CollaborationRecord) {
	s.Collaborations = append(s.Collaborations, rec)
	if len(s.Collaborations) > maxL2Collaborations {
		s.Collaborations = s.Collaborations[len(s.Collaborations)-maxL2Collaborations:]
	}
	s.UpdatedAt = time.Now()
}

// VoiceContext is the synthesized view getVoiceContext returns.
type VoiceContext struct {
	VoiceID            voice.ID
	RecentInteractions []string
	SuccessPatterns    []CollaborationRecord
	Quality            float64
}

// FamilyKey builds the L2 key for a whole-family shared context.
func FamilyKey(f voice.Family) string {
	return "family_" + string(f)
}

// TaskVoicesKey builds the L2 key for a specific task type plus the
// sorted set of participating voice ids, per spec.md §4.5.
func TaskVoicesKey(taskType string, voices []voice.ID) string {
	ids := make([]string, len(voices))
	for i, v := range voices {
		ids[i] = string(v)
	}
	sort.Strings(ids)
	return taskType + "_" + strings.Join(ids, "-")
}
