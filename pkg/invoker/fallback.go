package invoker

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/logger"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/orchestrator"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

// Provider is one named entry of a Fallback chain
type Provider struct {
	Name    string
	Invoker orchestrator.Invoker
}

// Fallback tries its providers in priority order and returns the first
// successful result
type Fallback struct {
	providers []Provider
}

// NewFallback creates a Fallback over providers, highest priority first
func NewFallback(providers ...Provider) *Fallback {
	return &Fallback{providers: providers}
}

// Invoke calls each provider in turn until one succeeds. Cancellation of
// ctx stops the chain. When every provider fails the error lists each
// provider's failure.
func (f *Fallback) Invoke(ctx context.Context, inv orchestrator.Invocation) (capability.Result, error) {
	if len(f.providers) == 0 {
		return capability.Result{}, errors.New("no invoker providers configured")
	}

	var merr *multierror.Error
	for i, p := range f.providers {
		if err := ctx.Err(); err != nil {
			return capability.Result{}, err
		}

		result, err := p.Invoker.Invoke(ctx, inv)
		if err == nil {
			if i > 0 {
				logger.G(ctx).WithField("provider", p.Name).WithField("step", inv.Step.DescriptorID).Info("step served by fallback provider")
				if result.Metadata == nil {
					result.Metadata = map[string]any{}
				}
				result.Metadata["fallback_provider"] = p.Name
			}
			return result, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return capability.Result{}, err
		}

		logger.G(ctx).WithError(err).WithField("provider", p.Name).Warn("invoker provider failed")
		merr = multierror.Append(merr, errors.Wrapf(err, "provider %s", p.Name))
	}

	return capability.Result{}, errors.Wrap(merr.ErrorOrNil(), "all invoker providers failed")
}
