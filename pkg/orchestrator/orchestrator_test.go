package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/bonds"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/registry"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	level := capability.ParameterSpec{
		Name:          "level",
		Type:          capability.ParamEnum,
		Default:       "beginner",
		AllowedValues: []string{"beginner", "advanced"},
	}

	reg, err := registry.Build([]capability.Descriptor{
		{ID: "solo", Kind: capability.KindSkill, ParameterSchema: []capability.ParameterSpec{level}},
		{
			ID:    "s1",
			Kind:  capability.KindSkill,
			Flow:  capability.FlowSequential,
			Bonds: []capability.Bond{{TargetID: "s2", Type: capability.BondPrimary}, {TargetID: "s3", Type: capability.BondSecondary}},
		},
		{ID: "s2", Kind: capability.KindAgent, ParameterSchema: []capability.ParameterSpec{level}},
		{ID: "s3", Kind: capability.KindAgent},
		{
			ID:   "strict-chain",
			Kind: capability.KindCommand,
			Flow: capability.FlowSequential,
			ParameterSchema: []capability.ParameterSpec{
				{Name: "topic", Type: capability.ParamString, Required: true},
			},
			Bonds: []capability.Bond{{TargetID: "needs-count", Type: capability.BondPrimary}},
		},
		{
			ID:              "needs-count",
			Kind:            capability.KindAgent,
			ParameterSchema: []capability.ParameterSpec{{Name: "count", Type: capability.ParamInt, Required: true}},
		},
		{
			ID:   "lead",
			Kind: capability.KindAgent,
			Flow: capability.FlowOrchestratorWorker,
			ParameterSchema: []capability.ParameterSpec{
				{Name: WorkersParam, Type: capability.ParamList},
			},
			Bonds: []capability.Bond{
				{TargetID: "researcher", Type: capability.BondSecondary},
				{TargetID: "writer", Type: capability.BondSecondary},
				{TargetID: "reviewer", Type: capability.BondSecondary},
			},
		},
		{ID: "researcher", Kind: capability.KindAgent},
		{ID: "writer", Kind: capability.KindAgent},
		{ID: "reviewer", Kind: capability.KindAgent},
	})
	require.NoError(t, err)
	return reg
}

func newCoordinator(t *testing.T, invoker Invoker) *Coordinator {
	reg := testRegistry(t)
	return New(reg, bonds.NewResolver(reg), invoker)
}

func candidates(ids ...string) []capability.MatchCandidate {
	out := make([]capability.MatchCandidate, len(ids))
	for i, id := range ids {
		out[i] = capability.MatchCandidate{DescriptorID: id, Score: 2}
	}
	return out
}

func TestBuildPlanSingle(t *testing.T) {
	c := newCoordinator(t, nil)

	plan, err := c.BuildPlan(context.Background(), candidates("solo", "s1"), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, plan.ID)
	assert.Equal(t, capability.FlowSingle, plan.Flow)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, capability.Step{
		Index:        0,
		DescriptorID: "solo",
		Role:         capability.RoleStep,
		Parameters:   map[string]any{"level": "beginner"},
	}, plan.Steps[0])
}

func TestBuildPlanNoCandidates(t *testing.T) {
	c := newCoordinator(t, nil)

	_, err := c.BuildPlan(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestBuildPlanUnknownCandidate(t *testing.T) {
	c := newCoordinator(t, nil)

	_, err := c.BuildPlan(context.Background(), candidates("ghost"), nil)
	assert.ErrorIs(t, err, capability.ErrNotFound)
}

func TestBuildPlanSequential(t *testing.T) {
	c := newCoordinator(t, nil)

	plan, err := c.BuildPlan(context.Background(), candidates("s1"), map[string]string{"level": "advanced"})
	require.NoError(t, err)
	assert.Equal(t, capability.FlowSequential, plan.Flow)
	assert.Equal(t, []string{"s1", "s2", "s3"}, plan.DescriptorIDs())
	for i, step := range plan.Steps {
		assert.Equal(t, i, step.Index)
	}
	assert.Equal(t, map[string]any{"level": "advanced"}, plan.Steps[1].Parameters)
	assert.Empty(t, plan.Steps[0].Parameters)
}

func TestBuildPlanSequentialValidatesEveryStep(t *testing.T) {
	c := newCoordinator(t, nil)

	plan, err := c.BuildPlan(context.Background(), candidates("strict-chain"), map[string]string{})
	assert.Nil(t, plan)

	var verrs capability.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 2)
	assert.Equal(t, "strict-chain", verrs[0].DescriptorID)
	assert.Equal(t, "topic", verrs[0].Field)
	assert.Equal(t, "needs-count", verrs[1].DescriptorID)
	assert.Equal(t, "count", verrs[1].Field)
}

func TestBuildPlanSequentialFailsWhenOneStepInvalid(t *testing.T) {
	c := newCoordinator(t, nil)

	_, err := c.BuildPlan(context.Background(), candidates("s1"), map[string]string{"level": "expert"})
	var verrs capability.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 1)
	assert.Equal(t, "s2", verrs[0].DescriptorID)
	assert.Equal(t, capability.CodeInvalidEnumValue, verrs[0].Code)
}

func TestBuildPlanOrchestratorWorker(t *testing.T) {
	tests := []struct {
		name     string
		raw      map[string]string
		expected []string
	}{
		{name: "all bonded workers by default", raw: nil, expected: []string{"lead", "researcher", "writer", "reviewer"}},
		{name: "subset keeps bond order", raw: map[string]string{WorkersParam: "reviewer,researcher"}, expected: []string{"lead", "researcher", "reviewer"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCoordinator(t, nil)

			plan, err := c.BuildPlan(context.Background(), candidates("lead"), tt.raw)
			require.NoError(t, err)
			assert.Equal(t, capability.FlowOrchestratorWorker, plan.Flow)
			assert.Equal(t, tt.expected, plan.DescriptorIDs())
			assert.Equal(t, capability.RoleCoordinator, plan.Steps[0].Role)
			for _, step := range plan.Steps[1:] {
				assert.Equal(t, capability.RoleWorker, step.Role)
			}
		})
	}
}

func TestBuildPlanOrchestratorWorkerRejectsUnbondedWorker(t *testing.T) {
	c := newCoordinator(t, nil)

	_, err := c.BuildPlan(context.Background(), candidates("lead"), map[string]string{WorkersParam: "writer,solo,ghost"})
	var verrs capability.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs, 1)
	assert.Equal(t, WorkersParam, verrs[0].Field)
	assert.Equal(t, "ghost,solo", verrs[0].Value)
}

func TestPlanFor(t *testing.T) {
	c := newCoordinator(t, nil)

	plan, err := c.PlanFor(context.Background(), "s1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3"}, plan.DescriptorIDs())
}

func recordingInvoker(calls *[]string, failOn string) InvokerFunc {
	return func(_ context.Context, inv Invocation) (capability.Result, error) {
		*calls = append(*calls, inv.Step.DescriptorID)
		if inv.Step.DescriptorID == failOn {
			return capability.Result{}, errors.New("model unavailable")
		}
		return capability.Result{
			Output:   fmt.Sprintf("%s after %d", inv.Step.DescriptorID, len(inv.Previous)),
			Metadata: map[string]any{"role": string(inv.Step.Role)},
		}, nil
	}
}

func TestExecuteRunsStepsInOrder(t *testing.T) {
	var calls []string
	c := newCoordinator(t, recordingInvoker(&calls, ""))

	plan, err := c.BuildPlan(context.Background(), candidates("s1"), nil)
	require.NoError(t, err)

	results, err := c.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3"}, calls)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i, r.StepIndex)
		assert.Equal(t, plan.Steps[i].DescriptorID, r.DescriptorID)
	}
	assert.Equal(t, "s3 after 2", results[2].Output)
}

func TestExecuteAttachesPrimaryBondedAgent(t *testing.T) {
	agents := map[string]string{}
	c := newCoordinator(t, InvokerFunc(func(_ context.Context, inv Invocation) (capability.Result, error) {
		if inv.BondedAgent != nil {
			agents[inv.Step.DescriptorID] = inv.BondedAgent.ID
		}
		return capability.Result{}, nil
	}))

	plan, err := c.BuildPlan(context.Background(), candidates("s1"), nil)
	require.NoError(t, err)
	_, err = c.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"s1": "s2"}, agents, "only the primary bond is attached")

	plan, err = c.BuildPlan(context.Background(), candidates("solo"), nil)
	require.NoError(t, err)
	_, err = c.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.NotContains(t, agents, "solo")
}

func TestExecuteStopsAtFirstFailure(t *testing.T) {
	var calls []string
	c := newCoordinator(t, recordingInvoker(&calls, "s2"))

	plan, err := c.BuildPlan(context.Background(), candidates("s1"), nil)
	require.NoError(t, err)

	results, err := c.Execute(context.Background(), plan)
	require.Error(t, err)
	assert.Equal(t, []string{"s1", "s2"}, calls, "no step after s2 may run")
	require.Len(t, results, 1)
	assert.Equal(t, "s1", results[0].DescriptorID)

	var failure *capability.ExecutionFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, 1, failure.StepIndex)
	assert.Equal(t, "s2", failure.DescriptorID)
	assert.Equal(t, plan.ID, failure.PlanID)
	assert.Equal(t, results, failure.Partial)
	assert.Contains(t, failure.Error(), "model unavailable")
}

func TestExecuteHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls []string
	invoker := InvokerFunc(func(_ context.Context, inv Invocation) (capability.Result, error) {
		calls = append(calls, inv.Step.DescriptorID)
		if inv.Step.DescriptorID == "s1" {
			cancel()
		}
		return capability.Result{Output: "ok"}, nil
	})
	c := newCoordinator(t, invoker)

	plan, err := c.BuildPlan(context.Background(), candidates("s1"), nil)
	require.NoError(t, err)

	results, err := c.Execute(ctx, plan)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"s1"}, calls)
	assert.Len(t, results, 1)

	var failure *capability.ExecutionFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, 1, failure.StepIndex)
}
