// Package request defines the immutable Request value and its guarded
// lifecycle transitions (spec.md §3).
package request

import (
	"fmt"
	"time"

	"github.com/meridianrt/spine/pkg/spineerr"
)

// Type enumerates the supported task categories.
type Type string

const (
	TypeCodeGeneration    Type = "code-generation"
	TypeCodeAnalysis      Type = "code-analysis"
	TypeArchitectureDesign Type = "architecture-design"
	TypeDocumentation     Type = "documentation"
	TypeOptimization      Type = "optimization"
	TypeReview            Type = "review"
)

// Priority of a request.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Status is the lifecycle state of a Request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Context is optional task context supplied by the caller.
type Context struct {
	Languages    []string
	Frameworks   []string
	ProjectSize  string
	ExistingCode string
	Requirements []string
	Constraints  []string
}

// Constraints bound how a Request may be serviced.
type Constraints struct {
	MaxResponseTime time.Duration
	MaxCost         float64
	RequiredQuality float64
	ExcludedVoices  []string
	RequiredVoices  []string
	OutputFormat    string
}

// DefaultConstraints matches spec.md's default 180s budget.
func DefaultConstraints() Constraints {
	return Constraints{MaxResponseTime: 180 * time.Second}
}

const (
	minContentLen = 1
	maxContentLen = 100_000
)

// Request is immutable once created; every lifecycle transition below
// returns a new value rather than mutating the receiver.
type Request struct {
	ID          string
	Content     string
	Type        Type
	Priority    Priority
	Context     Context
	Constraints Constraints
	Timestamp   time.Time
	Status      Status
}

// New validates and constructs a pending Request. This is the only place
// content-length and id-non-empty invariants are enforced.
func New(id, content string, typ Type, priority Priority, ctx Context, constraints Constraints) (Request, error) {
	if id == "" {
		return Request{}, spineerr.New(spineerr.KindValidation, "request.New", fmt.Errorf("id must not be empty"), nil)
	}
	if len(content) < minContentLen {
		return Request{}, spineerr.New(spineerr.KindValidation, "request.New", fmt.Errorf("content must not be empty"), nil)
	}
	if len(content) > maxContentLen {
		return Request{}, spineerr.New(spineerr.KindValidation, "request.New", fmt.Errorf("content exceeds %d characters", maxContentLen), nil)
	}
	if !validType(typ) {
		return Request{}, spineerr.New(spineerr.KindValidation, "request.New", fmt.Errorf("unknown request type %q", typ), nil)
	}
	if constraints.MaxResponseTime == 0 {
		constraints.MaxResponseTime = DefaultConstraints().MaxResponseTime
	}

	return Request{
		ID:          id,
		Content:     content,
		Type:        typ,
		Priority:    priority,
		Context:     ctx,
		Constraints: constraints,
		Timestamp:   time.Now(),
		Status:      StatusPending,
	}, nil
}

func validType(t Type) bool {
	switch t {
	case TypeCodeGeneration, TypeCodeAnalysis, TypeArchitectureDesign, TypeDocumentation, TypeOptimization, TypeReview:
		return true
	}
	return false
}

// Start transitions pending -> processing. Only pending requests may start.
func (r Request) Start() (Request, error) {
	if r.Status != StatusPending {
		return r, transitionErr(r.Status, StatusProcessing)
	}
	next := r
	next.Status = StatusProcessing
	return next, nil
}

// Complete transitions processing -> completed. completed is terminal.
func (r Request) Complete() (Request, error) {
	if r.Status != StatusProcessing {
		return r, transitionErr(r.Status, StatusCompleted)
	}
	next := r
	next.Status = StatusCompleted
	return next, nil
}

// Fail transitions processing -> failed.
func (r Request) Fail() (Request, error) {
	if r.Status != StatusProcessing {
		return r, transitionErr(r.Status, StatusFailed)
	}
	next := r
	next.Status = StatusFailed
	return next, nil
}

// Cancel transitions pending or processing -> cancelled. completed and
// already-cancelled requests cannot be cancelled.
func (r Request) Cancel() (Request, error) {
	if r.Status != StatusPending && r.Status != StatusProcessing {
		return r, transitionErr(r.Status, StatusCancelled)
	}
	next := r
	next.Status = StatusCancelled
	return next, nil
}

// Terminal reports whether Status is one of the three terminal states.
func (r Request) Terminal() bool {
	switch r.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func transitionErr(from, to Status) error {
	return spineerr.New(spineerr.KindValidation, "request.transition",
		fmt.Errorf("illegal transition from %s to %s", from, to),
		map[string]interface{}{"from": from, "to": to})
}
