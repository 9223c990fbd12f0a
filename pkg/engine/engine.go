// Package engine wires the registry, bond resolver, matcher and
// orchestration coordinator together over a descriptor source. It holds an
// immutable snapshot that is rebuilt and swapped atomically on reload, so
// requests never see a half-built registry.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/bonds"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/invoker"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/logger"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/matcher"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/orchestrator"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/registry"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/telemetry"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

var (
	// ErrNoMatch is returned by Resolve when no descriptor matches the input
	ErrNoMatch = errors.New("no capability matches the request")
	// ErrNotLoaded is returned when the engine is used before a successful Load
	ErrNotLoaded = errors.New("capabilities have not been loaded")
	// ErrStalePlan is returned by Execute when the snapshot a plan was built
	// from is no longer retained
	ErrStalePlan = errors.New("plan was built from capabilities that are no longer loaded")
)

// retainedSnapshots is how many recent snapshots stay available to execute
// plans resolved before a reload
const retainedSnapshots = 16

// Source produces the descriptors the registry is built from.
// *source.Loader satisfies it.
type Source interface {
	Load(ctx context.Context) ([]capability.Descriptor, error)
}

// Recorder persists executed plans. *audit.Recorder satisfies it.
type Recorder interface {
	Record(ctx context.Context, plan *capability.Plan, startedAt time.Time, results []capability.Result, execErr error) error
}

// Snapshot is one consistent, immutable view of the loaded capabilities
type Snapshot struct {
	Registry *registry.Registry
	Bonds    *bonds.Resolver
	Matcher  *matcher.Matcher
	Warnings []error // descriptor files skipped during load
	LoadedAt time.Time
	// Generation increases by one with every successful load
	Generation uint64

	coordinator *orchestrator.Coordinator
}

// Engine resolves requests into plans and executes them
type Engine struct {
	source      Source
	invoker     orchestrator.Invoker
	recorder    Recorder
	allowlist   []string
	matcherOpts []matcher.Option
	now         func() time.Time

	current    atomic.Pointer[Snapshot]
	retained   *lru.Cache[uint64, *Snapshot]
	generation uint64 // guarded by reloadMu
	reloadMu   sync.Mutex
}

// Option configures an Engine
type Option func(*Engine) error

// WithInvoker sets the invoker used to execute plan steps. The default is
// the offline echo invoker.
func WithInvoker(inv orchestrator.Invoker) Option {
	return func(e *Engine) error {
		if inv == nil {
			return errors.New("invoker must not be nil")
		}
		e.invoker = inv
		return nil
	}
}

// WithRecorder records every executed plan
func WithRecorder(r Recorder) Option {
	return func(e *Engine) error {
		e.recorder = r
		return nil
	}
}

// WithAllowlist restricts the registry to descriptors matching the glob
// patterns and the descriptors they bond to
func WithAllowlist(patterns ...string) Option {
	return func(e *Engine) error {
		e.allowlist = patterns
		return nil
	}
}

// WithMatcherOptions configures the matcher built on every load
func WithMatcherOptions(opts ...matcher.Option) Option {
	return func(e *Engine) error {
		e.matcherOpts = append(e.matcherOpts, opts...)
		return nil
	}
}

// New creates an Engine over src. Call Load before resolving requests.
func New(src Source, opts ...Option) (*Engine, error) {
	if src == nil {
		return nil, errors.New("descriptor source must not be nil")
	}
	e := &Engine{
		source:  src,
		invoker: &invoker.Echo{},
		now:     time.Now,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, errors.Wrap(err, "failed to apply engine option")
		}
	}
	retained, err := lru.New[uint64, *Snapshot](retainedSnapshots)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create snapshot cache")
	}
	e.retained = retained
	return e, nil
}

// Load builds the first snapshot. Registry errors such as duplicate ids or
// dangling bonds are fatal; unparseable descriptor files are only logged
// and kept as snapshot warnings.
func (e *Engine) Load(ctx context.Context) error {
	return e.Reload(ctx)
}

// Reload rebuilds the snapshot from the source and swaps it in. On failure
// the previous snapshot stays active and the error is returned.
func (e *Engine) Reload(ctx context.Context) error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	return telemetry.WithSpan(ctx, "engine.reload", func(ctx context.Context) error {
		snap, err := e.build(ctx)
		if err != nil {
			if e.current.Load() != nil {
				logger.G(ctx).WithError(err).Error("reload failed, keeping previous capabilities")
			}
			return err
		}

		e.generation++
		snap.Generation = e.generation
		e.retained.Add(snap.Generation, snap)
		e.current.Store(snap)
		telemetry.SetAttributes(ctx,
			attribute.Int64("registry.generation", int64(snap.Generation)),
			attribute.Int("registry.size", snap.Registry.Len()),
			attribute.Int("load.warnings", len(snap.Warnings)),
		)
		logger.G(ctx).WithFields(map[string]interface{}{
			"capabilities": snap.Registry.Len(),
			"warnings":     len(snap.Warnings),
			"generation":   snap.Generation,
		}).Info("capabilities loaded")
		return nil
	})
}

func (e *Engine) build(ctx context.Context) (*Snapshot, error) {
	descriptors, loadErr := e.source.Load(ctx)

	var warnings []error
	if loadErr != nil {
		var merr *multierror.Error
		if errors.As(loadErr, &merr) {
			warnings = merr.WrappedErrors()
		} else {
			warnings = []error{loadErr}
		}
		for _, w := range warnings {
			logger.G(ctx).WithError(w).Warn("skipping descriptor")
		}
	}

	var opts []registry.Option
	if len(e.allowlist) > 0 {
		opts = append(opts, registry.WithAllowlist(e.allowlist...))
	}
	reg, err := registry.Build(descriptors, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build capability registry")
	}

	resolver := bonds.NewResolver(reg)
	return &Snapshot{
		Registry:    reg,
		Bonds:       resolver,
		Matcher:     matcher.New(reg, e.matcherOpts...),
		Warnings:    warnings,
		LoadedAt:    e.now(),
		coordinator: orchestrator.New(reg, resolver, e.invoker),
	}, nil
}

// Snapshot returns the active snapshot, or nil before the first Load
func (e *Engine) Snapshot() *Snapshot {
	return e.current.Load()
}

func (e *Engine) snapshot() (*Snapshot, error) {
	snap := e.current.Load()
	if snap == nil {
		return nil, ErrNotLoaded
	}
	return snap, nil
}

// snapshotFor returns the snapshot plan was built from
func (e *Engine) snapshotFor(plan *capability.Plan) (*Snapshot, error) {
	snap, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	if plan.Generation == 0 || plan.Generation == snap.Generation {
		return snap, nil
	}
	if old, ok := e.retained.Get(plan.Generation); ok {
		return old, nil
	}
	return nil, errors.Wrapf(ErrStalePlan, "plan %s, generation %d, active generation %d", plan.ID, plan.Generation, snap.Generation)
}

// Match returns the ranked candidates for text
func (e *Engine) Match(text string) ([]capability.MatchCandidate, error) {
	snap, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	return snap.Matcher.Match(text), nil
}

// Resolve matches text and builds a validated plan for the best candidate.
// It returns ErrNoMatch when nothing matches and capability.ValidationErrors
// when raw does not satisfy the parameter schemas of the plan's steps.
func (e *Engine) Resolve(ctx context.Context, text string, raw map[string]string) (*capability.Plan, error) {
	snap, err := e.snapshot()
	if err != nil {
		return nil, err
	}

	var plan *capability.Plan
	err = telemetry.WithSpan(ctx, "engine.resolve", func(ctx context.Context) error {
		candidates := snap.Matcher.Match(text)
		telemetry.SetAttributes(ctx, attribute.Int("match.candidates", len(candidates)))
		if len(candidates) == 0 {
			return ErrNoMatch
		}
		logger.G(ctx).WithFields(map[string]interface{}{
			"top":   candidates[0].DescriptorID,
			"score": candidates[0].Score,
		}).Debug("matched request")

		var err error
		plan, err = snap.coordinator.BuildPlan(ctx, candidates, raw)
		if err != nil {
			return err
		}
		plan.Input = text
		plan.Generation = snap.Generation
		return nil
	})
	if err != nil {
		return nil, err
	}

	warnUnknown(ctx, snap, plan, raw)
	return plan, nil
}

// ResolveID builds a validated plan for an explicitly named descriptor,
// such as a command invoked by id
func (e *Engine) ResolveID(ctx context.Context, id, input string, raw map[string]string) (*capability.Plan, error) {
	snap, err := e.snapshot()
	if err != nil {
		return nil, err
	}

	var plan *capability.Plan
	err = telemetry.WithSpan(ctx, "engine.resolve_id", func(ctx context.Context) error {
		var err error
		plan, err = snap.coordinator.PlanFor(ctx, id, raw)
		if err != nil {
			return err
		}
		plan.Input = input
		plan.Generation = snap.Generation
		return nil
	}, attribute.String("descriptor.id", id))
	if err != nil {
		return nil, err
	}

	warnUnknown(ctx, snap, plan, raw)
	return plan, nil
}

// Execute runs plan against the snapshot it was resolved from, so a reload
// between Resolve and Execute never mixes two registries in one request.
// Plans without a generation run against the active snapshot. The outcome
// is recorded when a recorder is configured; a recording failure is logged
// and does not change the result.
func (e *Engine) Execute(ctx context.Context, plan *capability.Plan) ([]capability.Result, error) {
	snap, err := e.snapshotFor(plan)
	if err != nil {
		return nil, err
	}

	startedAt := e.now()
	var results []capability.Result
	execErr := telemetry.WithSpan(ctx, "engine.execute", func(ctx context.Context) error {
		var err error
		results, err = snap.coordinator.Execute(ctx, plan)
		return err
	},
		attribute.String("plan.id", plan.ID),
		attribute.String("plan.flow", string(plan.Flow)),
		attribute.Int("plan.steps", len(plan.Steps)),
	)

	if e.recorder != nil {
		// Recording must outlive a cancelled request.
		recordCtx := context.WithoutCancel(ctx)
		if err := e.recorder.Record(recordCtx, plan, startedAt, results, execErr); err != nil {
			logger.G(ctx).WithError(err).WithField("plan_id", plan.ID).Error("failed to record execution")
		}
	}

	return results, execErr
}

// warnUnknown logs arguments that no step of plan declares
func warnUnknown(ctx context.Context, snap *Snapshot, plan *capability.Plan, raw map[string]string) {
	if len(raw) == 0 {
		return
	}
	declared := make(map[string]struct{})
	for _, step := range plan.Steps {
		d, err := snap.Registry.Lookup(step.DescriptorID)
		if err != nil {
			continue
		}
		for _, p := range d.ParameterSchema {
			declared[p.Name] = struct{}{}
		}
	}
	for name := range raw {
		if _, ok := declared[name]; !ok {
			logger.G(ctx).WithFields(map[string]interface{}{
				"plan_id":  plan.ID,
				"argument": name,
			}).Warn("ignoring undeclared argument")
		}
	}
}
