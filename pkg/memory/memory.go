package memory

import (
	"sync"
	"time"

	"github.com/meridianrt/spine/pkg/voice"
)

const (
	maxL3History       = 20
	maxRecentInteraction = 5
	// recordAlpha is the exponential-moving-average rate applied to a
	// voice's Performance record on every collaboration outcome.
	recordAlpha = 0.1

	qualitySuccessThreshold = 0.7
)

// Query identifies which voice is asking for context and, optionally,
// which task it is about to work on.
type Query struct {
	VoiceID  voice.ID
	TaskType string
	Prompt   string
}

type l1Entry struct {
	mu                 sync.Mutex
	synthesized        bool
	recentInteractions []string
	successPatterns    []CollaborationRecord
	quality            float64
}

// Memory is the hierarchical voice memory: an always-resident L1 per
// voice, an LRU L2 of context shared across collaborating voices, and
// a bounded L3 collaboration history per voice.
type Memory struct {
	registry *voice.Registry

	l1 map[voice.ID]*l1Entry

	l2 *l2Cache

	l3mu sync.RWMutex
	l3   map[voice.ID][]CollaborationRecord
}

// NewMemory pre-populates L1 for every voice known to registry, so it
// is always resident and never needs a nil check at query time.
func NewMemory(registry *voice.Registry) *Memory {
	m := &Memory{
		registry: registry,
		l1:       make(map[voice.ID]*l1Entry),
		l2:       newL2Cache(),
		l3:       make(map[voice.ID][]CollaborationRecord),
	}
	for _, v := range registry.All() {
		m.l1[v.ID] = &l1Entry{}
	}
	return m
}

// GetVoiceContext returns the resident context for query.VoiceID,
// synthesizing it from L2 family context and L3 success history on
// first access, then prepending the current prompt to the recent
// interaction list.
func (m *Memory) GetVoiceContext(q Query) VoiceContext {
	entry := m.entryFor(q.VoiceID)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if !entry.synthesized {
		m.synthesizeLocked(entry, q.VoiceID, q.TaskType)
	}

	if q.Prompt != "" {
		entry.recentInteractions = append([]string{q.Prompt}, entry.recentInteractions...)
		if len(entry.recentInteractions) > maxRecentInteraction {
			entry.recentInteractions = entry.recentInteractions[:maxRecentInteraction]
		}
		entry.quality = computeQuality(entry.recentInteractions, entry.successPatterns, m.l3Snapshot(q.VoiceID))
	}

	return VoiceContext{
		VoiceID:            q.VoiceID,
		RecentInteractions: append([]string(nil), entry.recentInteractions...),
		SuccessPatterns:    append([]CollaborationRecord(nil), entry.successPatterns...),
		Quality:            entry.quality,
	}
}

func (m *Memory) entryFor(id voice.ID) *l1Entry {
	if e, ok := m.l1[id]; ok {
		return e
	}
	// a voice outside the registry's nine standard ids; still give it
	// a resident entry rather than panicking.
	e := &l1Entry{}
	m.l1[id] = e
	return e
}

// synthesizeLocked fills entry from L2 family context and this voice's
// own L3 history. Caller holds entry.mu.
func (m *Memory) synthesizeLocked(entry *l1Entry, id voice.ID, taskType string) {
	var family voice.Family
	if v := m.registry.Get(id); v != nil {
		family = v.Family()
	}

	history := m.l3Snapshot(id)

	var patterns []CollaborationRecord
	if famCtx, ok := m.l2.get(FamilyKey(family)); ok {
		patterns = append(patterns, filterSuccessPatterns(famCtx.Collaborations, taskType)...)
	}
	patterns = append(patterns, filterSuccessPatterns(history, taskType)...)

	entry.successPatterns = patterns
	entry.quality = computeQuality(entry.recentInteractions, patterns, history)
	entry.synthesized = true
}

func filterSuccessPatterns(records []CollaborationRecord, taskType string) []CollaborationRecord {
	var out []CollaborationRecord
	for _, r := range records {
		if r.Outcome != "success" || r.Quality <= qualitySuccessThreshold {
			continue
		}
		if taskType != "" && r.TaskType != taskType {
			continue
		}
		out = append(out, r)
	}
	return out
}

// computeQuality implements spec.md §4.5's confidence heuristic: a
// 0.5 base, with bonuses for having any recent interaction, any
// success pattern, any history at all, and the observed success rate.
func computeQuality(recent []string, successPatterns, history []CollaborationRecord) float64 {
	q := 0.5
	if len(recent) > 0 {
		q += 0.1
	}
	if len(successPatterns) > 0 {
		q += 0.2
	}
	if len(history) > 0 {
		q += 0.1
		q += 0.1 * successRateOf(history)
	}
	if q > 1.0 {
		q = 1.0
	}
	return q
}

func successRateOf(history []CollaborationRecord) float64 {
	if len(history) == 0 {
		return 0
	}
	var successes int
	for _, r := range history {
		if r.Outcome == "success" {
			successes++
		}
	}
	return float64(successes) / float64(len(history))
}

func (m *Memory) l3Snapshot(id voice.ID) []CollaborationRecord {
	m.l3mu.RLock()
	defer m.l3mu.RUnlock()
	return append([]CollaborationRecord(nil), m.l3[id]...)
}

// RecordCollaborationOutcome folds a completed invocation's outcome
// into every participating voice's L3 history, the matching L2 shared
// contexts, and each voice's own Performance record, then forces the
// next GetVoiceContext call to resynthesize L1.
func (m *Memory) RecordCollaborationOutcome(voices []voice.ID, taskType, outcome string, quality float64) {
	rec := CollaborationRecord{
		Voices:    append([]voice.ID(nil), voices...),
		TaskType:  taskType,
		Outcome:   outcome,
		Quality:   quality,
		Timestamp: time.Now(),
	}

	families := make(map[voice.Family]struct{})

	m.l3mu.Lock()
	for _, id := range voices {
		list := append(m.l3[id], rec)
		if len(list) > maxL3History {
			list = list[len(list)-maxL3History:]
		}
		m.l3[id] = list

		if v := m.registry.Get(id); v != nil {
			families[v.Family()] = struct{}{}
		}
	}
	m.l3mu.Unlock()

	for family := range families {
		ctx := m.l2.getOrCreate(FamilyKey(family))
		ctx.appendCollaboration(rec)
	}
	taskCtx := m.l2.getOrCreate(TaskVoicesKey(taskType, voices))
	taskCtx.appendCollaboration(rec)

	successRate := 0.0
	if outcome == "success" {
		successRate = 1.0
	}
	for _, id := range voices {
		if v := m.registry.Get(id); v != nil {
			v.UpdatePerformance(recordAlpha, voice.Performance{
				AvgQuality:  quality,
				SuccessRate: successRate,
			})
		}
		if entry, ok := m.l1[id]; ok {
			entry.mu.Lock()
			entry.synthesized = false
			entry.mu.Unlock()
		}
	}
}

// L2Len reports the number of live L2 entries, for diagnostics.
func (m *Memory) L2Len() int {
	return m.l2.len()
}
