// Package orchestrator wires every other package into the end-to-end
// request flow described in spec.md §4.8: validate, red-team the input,
// select voices, fan out per-voice router+backend calls with memory
// injection, synthesize, red-team the output, and record outcomes.
package orchestrator

import (
	"time"

	"github.com/meridianrt/spine/pkg/council"
	"github.com/meridianrt/spine/pkg/redteam"
	"github.com/meridianrt/spine/pkg/request"
	"github.com/meridianrt/spine/pkg/router"
	"github.com/meridianrt/spine/pkg/voice"
)

// VoiceOutcome records one voice's individual invocation within a
// handled request, surfaced to callers that want per-voice detail
// instead of just the synthesized result.
type VoiceOutcome struct {
	VoiceID   voice.ID
	Decision  router.Decision
	Escalated bool
	Content   string
	Err       error
	Latency   time.Duration
}

// Result is the synthesized, fully-audited outcome of Handle.
type Result struct {
	Request        request.Request
	Content        string
	Voices         []voice.ID
	VoiceOutcomes  []VoiceOutcome
	AuditTrail     []council.AuditStep
	InputVerdict   redteam.Verdict
	OutputVerdict  redteam.Verdict
	Warnings       []string
	Refused        bool
}

// refusalMessage is returned in place of synthesized content whenever
// the output red-team pass finds a critical threat; spec.md §4.8 calls
// this "a safe refusal" without prescribing exact wording.
const refusalMessage = "This response was withheld because the red-team output review flagged a critical-severity finding."
