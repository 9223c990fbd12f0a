package orchestrator

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/logger"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/telemetry"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

// Execute runs the plan's steps in order. Each step sees the results of
// every step before it. The first failure, or cancellation of ctx before a
// step starts, stops execution; the returned error is then a
// *capability.ExecutionFailure and the returned slice holds the results of
// the steps that completed.
func (c *Coordinator) Execute(ctx context.Context, plan *capability.Plan) ([]capability.Result, error) {
	results := make([]capability.Result, 0, len(plan.Steps))
	log := logger.G(ctx).WithField("plan_id", plan.ID)

	for i, step := range plan.Steps {
		fail := func(err error) ([]capability.Result, error) {
			log.WithError(err).WithField("step", i).WithField("descriptor", step.DescriptorID).Warn("plan step failed")
			return results, &capability.ExecutionFailure{
				PlanID:       plan.ID,
				StepIndex:    i,
				DescriptorID: step.DescriptorID,
				Partial:      results,
				Err:          err,
			}
		}

		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		d, err := c.catalog.Lookup(step.DescriptorID)
		if err != nil {
			return fail(err)
		}
		agent, err := c.bondedAgent(d)
		if err != nil {
			return fail(err)
		}

		inv := Invocation{
			PlanID:      plan.ID,
			Input:       plan.Input,
			Step:        step,
			Descriptor:  d,
			BondedAgent: agent,
			Previous:    append([]capability.Result(nil), results...),
		}

		var result capability.Result
		err = telemetry.WithSpan(ctx, "orchestrator.step", func(ctx context.Context) error {
			var invokeErr error
			result, invokeErr = c.invoker.Invoke(ctx, inv)
			return invokeErr
		},
			attribute.String("plan.id", plan.ID),
			attribute.Int("step.index", i),
			attribute.String("step.descriptor", step.DescriptorID),
			attribute.String("step.role", string(step.Role)),
		)
		if err != nil {
			return fail(errors.Wrapf(err, "invoking '%s'", step.DescriptorID))
		}

		result.StepIndex = i
		result.DescriptorID = step.DescriptorID
		results = append(results, result)
		log.WithField("step", i).WithField("descriptor", step.DescriptorID).Debug("plan step completed")
	}

	return results, nil
}

// bondedAgent looks up the primary bond target of d, if it declares one
func (c *Coordinator) bondedAgent(d *capability.Descriptor) (*capability.Descriptor, error) {
	id, ok := c.bonds.ResolvePrimary(d.ID)
	if !ok {
		return nil, nil
	}
	agent, err := c.catalog.Lookup(id)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving primary bond of '%s'", d.ID)
	}
	return agent, nil
}
