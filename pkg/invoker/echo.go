package invoker

import (
	"context"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/orchestrator"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

// Echo renders each step as text without calling any model. It is the
// default invoker and is deterministic, which makes it useful for dry runs.
type Echo struct{}

// Invoke returns the rendered prompt of the step as its output
func (e *Echo) Invoke(ctx context.Context, inv orchestrator.Invocation) (capability.Result, error) {
	if err := ctx.Err(); err != nil {
		return capability.Result{}, err
	}
	return capability.Result{
		StepIndex:    inv.Step.Index,
		DescriptorID: inv.Step.DescriptorID,
		Output:       userPrompt(inv),
		Metadata: map[string]any{
			"invoker": ProviderEcho,
		},
	}, nil
}
