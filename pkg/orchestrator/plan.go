package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/logger"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/params"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

// BuildPlan expands the top candidate into a plan according to its flow
// kind and validates every step against raw. If any step fails validation
// the plan is rejected with a capability.ValidationErrors covering all
// steps.
func (c *Coordinator) BuildPlan(ctx context.Context, candidates []capability.MatchCandidate, raw map[string]string) (*capability.Plan, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	top, err := c.catalog.Lookup(candidates[0].DescriptorID)
	if err != nil {
		return nil, err
	}

	flow := top.FlowOrDefault()
	log := logger.G(ctx).WithFields(map[string]interface{}{
		"descriptor": top.ID,
		"flow":       flow,
	})

	var (
		steps []capability.Step
		errs  capability.ValidationErrors
	)

	switch flow {
	case capability.FlowSingle:
		step, verrs := c.validateStep(top, capability.RoleStep, raw)
		steps, errs = append(steps, step), append(errs, verrs...)

	case capability.FlowSequential:
		step, verrs := c.validateStep(top, capability.RoleStep, raw)
		steps, errs = append(steps, step), append(errs, verrs...)
		for _, id := range c.bonds.Targets(top.ID) {
			d, err := c.catalog.Lookup(id)
			if err != nil {
				return nil, err
			}
			step, verrs := c.validateStep(d, capability.RoleStep, raw)
			steps, errs = append(steps, step), append(errs, verrs...)
		}

	case capability.FlowOrchestratorWorker:
		coordinator, verrs := c.validateStep(top, capability.RoleCoordinator, raw)
		steps, errs = append(steps, coordinator), append(errs, verrs...)
		if len(verrs) > 0 {
			break
		}
		workers, verrs := c.selectWorkers(top, coordinator.Parameters)
		errs = append(errs, verrs...)
		for _, id := range workers {
			d, err := c.catalog.Lookup(id)
			if err != nil {
				return nil, err
			}
			step, verrs := c.validateStep(d, capability.RoleWorker, raw)
			steps, errs = append(steps, step), append(errs, verrs...)
		}

	default:
		return nil, errors.Wrapf(capability.ErrInvalidDescriptor, "descriptor '%s' has unknown flow '%s'", top.ID, flow)
	}

	if len(errs) > 0 {
		log.WithField("errors", len(errs)).Debug("plan rejected by validation")
		return nil, errs
	}

	for i := range steps {
		steps[i].Index = i
	}
	plan := &capability.Plan{
		ID:    uuid.New().String(),
		Flow:  flow,
		Steps: steps,
	}
	log.WithField("plan_id", plan.ID).WithField("steps", len(steps)).Debug("plan built")
	return plan, nil
}

// PlanFor builds a plan for an explicitly named descriptor, bypassing
// activation matching
func (c *Coordinator) PlanFor(ctx context.Context, id string, raw map[string]string) (*capability.Plan, error) {
	return c.BuildPlan(ctx, []capability.MatchCandidate{{DescriptorID: id}}, raw)
}

func (c *Coordinator) validateStep(d *capability.Descriptor, role capability.StepRole, raw map[string]string) (capability.Step, capability.ValidationErrors) {
	step := capability.Step{DescriptorID: d.ID, Role: role}

	resolved, err := params.Validate(d, raw)
	if err != nil {
		var verrs capability.ValidationErrors
		if errors.As(err, &verrs) {
			return step, verrs
		}
		return step, capability.ValidationErrors{{DescriptorID: d.ID, Code: capability.CodeTypeMismatch, Message: err.Error()}}
	}
	step.Parameters = resolved
	return step, nil
}

// selectWorkers returns the coordinator's bond targets in declaration order,
// restricted to the resolved workers parameter when the coordinator declares
// one and it is non-empty
func (c *Coordinator) selectWorkers(coordinator *capability.Descriptor, resolved map[string]any) ([]string, capability.ValidationErrors) {
	bonded := c.bonds.Targets(coordinator.ID)

	selection := requestedWorkers(resolved[WorkersParam])
	if len(selection) == 0 {
		return bonded, nil
	}

	known := make(map[string]struct{}, len(bonded))
	for _, id := range bonded {
		known[id] = struct{}{}
	}
	var unknown []string
	for id := range selection {
		if _, ok := known[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, capability.ValidationErrors{{
			DescriptorID: coordinator.ID,
			Field:        WorkersParam,
			Code:         capability.CodeInvalidEnumValue,
			Value:        strings.Join(unknown, ","),
			Message:      fmt.Sprintf("workers [%s] are not bonded to '%s'", strings.Join(unknown, ", "), coordinator.ID),
		}}
	}

	var workers []string
	for _, id := range bonded {
		if _, ok := selection[id]; ok {
			workers = append(workers, id)
		}
	}
	return workers, nil
}

func requestedWorkers(v any) map[string]struct{} {
	var ids []string
	switch typed := v.(type) {
	case []string:
		ids = typed
	case string:
		ids = strings.Split(typed, ",")
	}

	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out[id] = struct{}{}
		}
	}
	return out
}
