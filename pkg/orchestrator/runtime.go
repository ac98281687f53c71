package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/meridianrt/spine/internal/logger"
	"github.com/meridianrt/spine/internal/telemetry"
	"github.com/meridianrt/spine/pkg/backend"
	"github.com/meridianrt/spine/pkg/council"
	"github.com/meridianrt/spine/pkg/mcp"
	"github.com/meridianrt/spine/pkg/memory"
	"github.com/meridianrt/spine/pkg/perf"
	"github.com/meridianrt/spine/pkg/redteam"
	"github.com/meridianrt/spine/pkg/router"
	"github.com/meridianrt/spine/pkg/session"
	"github.com/meridianrt/spine/pkg/voice"
)

// maxConcurrentPerTier bounds in-flight calls the router's load tracker
// allows per tier, independent of the orchestrator's own per-request
// fan-out limit (spec.md §4.3/§5).
const maxConcurrentPerTier = 6

// Runtime is the set of long-lived, process-wide collaborators a
// request is handled against: one Runtime is built at startup and
// shared by every concurrent Handle call, never recreated per request
// (spec.md §5's "no component holding per-request global state").
type Runtime struct {
	Registry *voice.Registry
	Perf     *perf.Store
	Router   *router.HybridRouter
	Memory   *memory.Memory
	RedTeam  *redteam.Validator
	Council  *council.Coordinator

	Speed   backend.Adapter
	Quality backend.Adapter
	Tools   mcp.Executor

	Sessions    *session.Store
	Snapshots   memory.SnapshotStore
	snapshotKey string

	Log logger.Logger
	Tel telemetry.Telemetry

	auditorOverride backend.Adapter
	redTeamHandlers []func(redteam.Verdict)
}

// RuntimeOption configures a Runtime at construction time.
type RuntimeOption func(*Runtime)

// WithAuditor overrides the quality-tier backend as the council's
// auditor persona with a distinct adapter (e.g. a different model or
// provider), per spec.md §4.7's "two distinct personas" framing.
func WithAuditor(auditor backend.Adapter) RuntimeOption {
	return func(r *Runtime) { r.auditorOverride = auditor }
}

// WithTools attaches an MCP tool executor; Runtime defaults to
// mcp.Unavailable, a fail-closed no-op.
func WithTools(tools mcp.Executor) RuntimeOption {
	return func(r *Runtime) { r.Tools = tools }
}

// WithSessions attaches on-disk session persistence.
func WithSessions(store *session.Store) RuntimeOption {
	return func(r *Runtime) { r.Sessions = store }
}

// WithSnapshots attaches a voice-memory snapshot store (Redis or
// in-memory) so Shutdown can persist L3 history across restarts, and
// Restore can reload it at startup. key identifies this runtime's
// snapshot within the store (e.g. a deployment or instance name).
func WithSnapshots(store memory.SnapshotStore, key string) RuntimeOption {
	return func(r *Runtime) { r.Snapshots = store; r.snapshotKey = key }
}

// WithLogger attaches a component-scoped logger shared by every
// collaborator built inside NewRuntime.
func WithLogger(log logger.Logger) RuntimeOption {
	return func(r *Runtime) { r.Log = log }
}

// WithTelemetry attaches a tracer/meter shared by every collaborator
// built inside NewRuntime.
func WithTelemetry(tel telemetry.Telemetry) RuntimeOption {
	return func(r *Runtime) { r.Tel = tel }
}

// WithRedTeamCompletionHandler registers a callback fired with every
// synthesized red-team verdict, input or output.
func WithRedTeamCompletionHandler(handler func(redteam.Verdict)) RuntimeOption {
	return func(r *Runtime) { r.redTeamHandlers = append(r.redTeamHandlers, handler) }
}

// NewRuntime wires every package into one process-wide Runtime. speed
// and quality are the two backend.Adapter tiers the router dispatches
// between; quality also serves as the council's generator and, unless
// WithAuditor overrides it, its auditor.
func NewRuntime(speed, quality backend.Adapter, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		Speed:   speed,
		Quality: quality,
		Tools:   mcp.Unavailable,
		Log:     logger.NoOp{},
		Tel:     telemetry.NoOp{},
	}
	for _, opt := range opts {
		opt(r)
	}

	r.Registry = voice.NewRegistry()
	r.Perf = perf.NewStore()
	r.Router = router.NewHybridRouter(r.Perf, maxConcurrentPerTier)
	r.Memory = memory.NewMemory(r.Registry)

	auditor := quality
	if r.auditorOverride != nil {
		auditor = r.auditorOverride
	}
	r.Council = council.NewCoordinator(quality, auditor, council.WithLogger(r.Log), council.WithTelemetry(r.Tel))

	validatorOpts := []redteam.Option{redteam.WithLogger(r.Log), redteam.WithTelemetry(r.Tel)}
	for _, h := range r.redTeamHandlers {
		validatorOpts = append(validatorOpts, redteam.WithCompletionHandler(h))
	}
	r.RedTeam = redteam.NewValidator(validatorOpts...)

	return r
}

// Restore loads a previously-saved voice-memory snapshot, if Snapshots
// is attached and holds one under this Runtime's key. Absence of a
// prior snapshot is not an error; the Memory simply starts empty.
func (r *Runtime) Restore(ctx context.Context) error {
	if r.Snapshots == nil {
		return nil
	}
	snap, ok, err := r.Snapshots.Load(ctx, r.snapshotKey)
	if err != nil {
		return fmt.Errorf("orchestrator: failed to load memory snapshot: %w", err)
	}
	if ok {
		r.Memory.Import(snap)
	}
	return nil
}

// Shutdown flushes voice-memory L3 history to Snapshots (if attached)
// and closes any adapter implementing io.Closer. It does not fail hard
// on a close error from one adapter; all are attempted and errors are
// joined.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error

	if r.Snapshots != nil {
		if err := r.Snapshots.Save(ctx, r.snapshotKey, r.Memory.Export()); err != nil {
			errs = append(errs, fmt.Errorf("orchestrator: failed to save memory snapshot: %w", err))
		}
		if err := r.Snapshots.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	for _, adapter := range []backend.Adapter{r.Speed, r.Quality} {
		if closer, ok := adapter.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// SpeedHealth reports the health of the speed-tier backend. It lets
// Runtime satisfy internal/adminhttp.Checker without that package
// importing pkg/orchestrator.
func (r *Runtime) SpeedHealth(ctx context.Context) (backend.Health, error) {
	return r.Speed.Health(ctx)
}

// QualityHealth reports the health of the quality-tier backend.
func (r *Runtime) QualityHealth(ctx context.Context) (backend.Health, error) {
	return r.Quality.Health(ctx)
}
