package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/matcher"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/orchestrator"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/source"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

type sourceFunc func(ctx context.Context) ([]capability.Descriptor, error)

func (f sourceFunc) Load(ctx context.Context) ([]capability.Descriptor, error) {
	return f(ctx)
}

func staticSource(descriptors ...capability.Descriptor) Source {
	return sourceFunc(func(context.Context) ([]capability.Descriptor, error) {
		return descriptors, nil
	})
}

type record struct {
	plan    *capability.Plan
	results []capability.Result
	err     error
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []record
}

func (r *fakeRecorder) Record(_ context.Context, plan *capability.Plan, _ time.Time, results []capability.Result, execErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record{plan: plan, results: results, err: execErr})
	return nil
}

func fixtures() []capability.Descriptor {
	return []capability.Descriptor{
		{
			ID:                 "rag-systems",
			Kind:               capability.KindSkill,
			Description:        "Retrieval augmented generation",
			ActivationTriggers: []string{"rag", "vector database"},
			ParameterSchema: []capability.ParameterSpec{
				{Name: "top_k", Type: capability.ParamInt, Default: 5},
			},
			Bonds: []capability.Bond{{TargetID: "rag-engineer", Type: capability.BondPrimary}},
		},
		{
			ID:          "rag-engineer",
			Kind:        capability.KindAgent,
			Description: "Builds retrieval pipelines",
		},
		{
			ID:                 "assess",
			Kind:               capability.KindCommand,
			Description:        "Assess learning progress",
			ActivationTriggers: []string{"assess"},
			Flow:               capability.FlowSequential,
			ParameterSchema: []capability.ParameterSpec{
				{Name: "areas", Type: capability.ParamList, Required: true, AllowedValues: []string{"rag", "memory"}},
			},
			Bonds: []capability.Bond{{TargetID: "rag-engineer", Type: capability.BondSecondary}},
		},
	}
}

func loadedEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := New(staticSource(fixtures()...), opts...)
	require.NoError(t, err)
	require.NoError(t, e.Load(context.Background()))
	return e
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	e := loadedEngine(t)

	t.Run("best match becomes a single step plan", func(t *testing.T) {
		plan, err := e.Resolve(ctx, "how do I build a vector database for rag", nil)
		require.NoError(t, err)

		assert.NotEmpty(t, plan.ID)
		assert.Equal(t, capability.FlowSingle, plan.Flow)
		assert.Equal(t, "how do I build a vector database for rag", plan.Input)
		require.Len(t, plan.Steps, 1)
		assert.Equal(t, "rag-systems", plan.Steps[0].DescriptorID)
		assert.Equal(t, 5, plan.Steps[0].Parameters["top_k"])
	})

	t.Run("no match", func(t *testing.T) {
		_, err := e.Resolve(ctx, "what is the weather tomorrow", nil)
		assert.ErrorIs(t, err, ErrNoMatch)
	})

	t.Run("invalid arguments", func(t *testing.T) {
		_, err := e.Resolve(ctx, "rag please", map[string]string{"top_k": "many"})
		require.Error(t, err)

		var verrs capability.ValidationErrors
		require.True(t, errors.As(err, &verrs))
		require.Len(t, verrs, 1)
		assert.Equal(t, capability.CodeTypeMismatch, verrs[0].Code)
	})

	t.Run("undeclared arguments are ignored", func(t *testing.T) {
		plan, err := e.Resolve(ctx, "rag please", map[string]string{"colour": "blue"})
		require.NoError(t, err)
		assert.NotContains(t, plan.Steps[0].Parameters, "colour")
	})
}

func TestResolveID(t *testing.T) {
	ctx := context.Background()
	e := loadedEngine(t)

	plan, err := e.ResolveID(ctx, "assess", "/assess", map[string]string{"areas": "rag"})
	require.NoError(t, err)
	assert.Equal(t, capability.FlowSequential, plan.Flow)
	assert.Equal(t, []string{"assess", "rag-engineer"}, plan.DescriptorIDs())
	assert.Equal(t, []string{"rag"}, plan.Steps[0].Parameters["areas"])

	_, err = e.ResolveID(ctx, "assess", "/assess", nil)
	require.Error(t, err, "areas is required")

	_, err = e.ResolveID(ctx, "missing", "", nil)
	assert.ErrorIs(t, err, capability.ErrNotFound)
}

func TestNotLoaded(t *testing.T) {
	e, err := New(staticSource(fixtures()...))
	require.NoError(t, err)

	assert.Nil(t, e.Snapshot())
	_, err = e.Resolve(context.Background(), "rag", nil)
	assert.ErrorIs(t, err, ErrNotLoaded)
	_, err = e.Match("rag")
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("records successful executions", func(t *testing.T) {
		rec := &fakeRecorder{}
		e := loadedEngine(t, WithRecorder(rec))

		plan, err := e.ResolveID(ctx, "assess", "assess me", map[string]string{"areas": "rag,memory"})
		require.NoError(t, err)

		results, err := e.Execute(ctx, plan)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "rag-engineer", results[1].DescriptorID)
		assert.Contains(t, results[1].Output, "Request: assess me")

		require.Len(t, rec.records, 1)
		assert.Equal(t, plan.ID, rec.records[0].plan.ID)
		assert.NoError(t, rec.records[0].err)
	})

	t.Run("records failures with partial results", func(t *testing.T) {
		rec := &fakeRecorder{}
		failing := orchestrator.InvokerFunc(func(_ context.Context, inv orchestrator.Invocation) (capability.Result, error) {
			if inv.Step.DescriptorID == "rag-engineer" {
				return capability.Result{}, errors.New("model unavailable")
			}
			return capability.Result{Output: "done"}, nil
		})
		e := loadedEngine(t, WithRecorder(rec), WithInvoker(failing))

		plan, err := e.ResolveID(ctx, "assess", "", map[string]string{"areas": "rag"})
		require.NoError(t, err)

		results, err := e.Execute(ctx, plan)
		require.Error(t, err)
		assert.Len(t, results, 1)

		var failure *capability.ExecutionFailure
		require.True(t, errors.As(err, &failure))
		assert.Equal(t, 1, failure.StepIndex)

		require.Len(t, rec.records, 1)
		assert.Error(t, rec.records[0].err)
		assert.Len(t, rec.records[0].results, 1)
	})
}

func TestReloadKeepsPreviousSnapshotOnFailure(t *testing.T) {
	ctx := context.Background()
	broken := false
	src := sourceFunc(func(context.Context) ([]capability.Descriptor, error) {
		descriptors := fixtures()
		if broken {
			descriptors = append(descriptors, capability.Descriptor{
				ID:    "dangling",
				Kind:  capability.KindSkill,
				Bonds: []capability.Bond{{TargetID: "ghost", Type: capability.BondPrimary}},
			})
		}
		return descriptors, nil
	})

	e, err := New(src)
	require.NoError(t, err)
	require.NoError(t, e.Load(ctx))
	before := e.Snapshot()

	broken = true
	err = e.Reload(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, capability.ErrInvalidBond)
	assert.Same(t, before, e.Snapshot())

	plan, err := e.Resolve(ctx, "rag", nil)
	require.NoError(t, err)
	assert.Equal(t, "rag-systems", plan.Steps[0].DescriptorID)
}

func TestFirstLoadFailureIsFatal(t *testing.T) {
	dup := fixtures()
	dup = append(dup, dup[0])

	e, err := New(staticSource(dup...))
	require.NoError(t, err)
	err = e.Load(context.Background())
	assert.ErrorIs(t, err, capability.ErrDuplicateID)
	assert.Nil(t, e.Snapshot())
}

func TestLoadWarnings(t *testing.T) {
	src := sourceFunc(func(context.Context) ([]capability.Descriptor, error) {
		var merr *multierror.Error
		merr = multierror.Append(merr,
			&source.LoadError{Path: "skills/a/SKILL.md", Err: errors.New("missing frontmatter")},
			&source.LoadError{Path: "agents/b.md", Err: errors.New("description is required in frontmatter")},
		)
		return fixtures(), merr
	})

	e, err := New(src)
	require.NoError(t, err)
	require.NoError(t, e.Load(context.Background()))

	snap := e.Snapshot()
	assert.Len(t, snap.Warnings, 2)
	assert.Equal(t, 3, snap.Registry.Len())
}

func TestOptions(t *testing.T) {
	t.Run("allowlist", func(t *testing.T) {
		e := loadedEngine(t, WithAllowlist("assess"))
		reg := e.Snapshot().Registry
		assert.True(t, reg.Has("assess"))
		assert.True(t, reg.Has("rag-engineer"))
		assert.False(t, reg.Has("rag-systems"))
	})

	t.Run("matcher limit", func(t *testing.T) {
		e := loadedEngine(t, WithMatcherOptions(matcher.WithLimit(1)))
		candidates, err := e.Match("assess my rag skills")
		require.NoError(t, err)
		assert.Len(t, candidates, 1)
	})

	t.Run("nil invoker", func(t *testing.T) {
		_, err := New(staticSource(), WithInvoker(nil))
		assert.Error(t, err)
	})

	t.Run("nil source", func(t *testing.T) {
		_, err := New(nil)
		assert.Error(t, err)
	})
}

func TestWatchReloadsOnChange(t *testing.T) {
	root := t.TempDir()
	skillDir := filepath.Join(root, "skills", "rag-systems")
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(skillDir, "SKILL.md"),
		[]byte("---\ndescription: Retrieval augmented generation\nactivation_triggers: [rag]\n---\n"), 0o644))

	loader, err := source.NewLoader(source.WithRoots(root))
	require.NoError(t, err)
	e, err := New(loader)
	require.NoError(t, err)
	require.NoError(t, e.Load(context.Background()))
	require.False(t, e.Snapshot().Registry.Has("agent-memory"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- e.Watch(ctx, []string{root}, 20*time.Millisecond, nil)
	}()

	memoryDir := filepath.Join(root, "skills", "agent-memory")
	require.NoError(t, os.MkdirAll(memoryDir, 0o755))
	assert.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(memoryDir, "SKILL.md"),
			[]byte("---\ndescription: Memory for agents\nactivation_triggers: [memory]\n---\n"), 0o644)
		return e.Snapshot().Registry.Has("agent-memory")
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancellation")
	}
}

func TestWatchWithoutDirectories(t *testing.T) {
	e := loadedEngine(t)
	err := e.Watch(context.Background(), []string{filepath.Join(t.TempDir(), "missing")}, 0, nil)
	assert.Error(t, err)
}
