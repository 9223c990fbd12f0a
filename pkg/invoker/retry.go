package invoker

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/logger"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/orchestrator"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

// Retrying retries a wrapped invoker on retryable errors
type Retrying struct {
	next    orchestrator.Invoker
	config  RetryConfig
	retryIf func(error) bool
}

// NewRetrying wraps next. A nil retryIf retries every error except
// context cancellation.
func NewRetrying(next orchestrator.Invoker, config RetryConfig, retryIf func(error) bool) *Retrying {
	if retryIf == nil {
		retryIf = func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}
	}
	return &Retrying{next: next, config: config, retryIf: retryIf}
}

// Invoke calls the wrapped invoker until it succeeds, a non-retryable error
// occurs, the attempts are used up or ctx is done
func (r *Retrying) Invoke(ctx context.Context, inv orchestrator.Invocation) (capability.Result, error) {
	if r.config.Attempts <= 1 {
		return r.next.Invoke(ctx, inv)
	}

	initialDelay := time.Duration(r.config.InitialDelay) * time.Millisecond
	maxDelay := time.Duration(r.config.MaxDelay) * time.Millisecond

	var delayType retry.DelayTypeFunc
	switch r.config.BackoffType {
	case "fixed":
		delayType = retry.FixedDelay
	case "exponential":
		fallthrough
	default:
		delayType = retry.BackOffDelay
	}

	var (
		result         capability.Result
		originalErrors []error
	)
	err := retry.Do(
		func() error {
			var err error
			result, err = r.next.Invoke(ctx, inv)
			if err != nil {
				originalErrors = append(originalErrors, err)
			}
			return err
		},
		retry.RetryIf(r.retryIf),
		retry.Attempts(uint(r.config.Attempts)),
		retry.Delay(initialDelay),
		retry.DelayType(delayType),
		retry.MaxDelay(maxDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).WithFields(map[string]interface{}{
				"attempt":      n + 1,
				"max_attempts": r.config.Attempts,
				"capability":   inv.Step.DescriptorID,
			}).Warn("retrying invocation")
		}),
	)
	if err != nil {
		if len(originalErrors) > 1 {
			return capability.Result{}, errors.Wrapf(err, "all %d attempts failed", len(originalErrors))
		}
		return capability.Result{}, err
	}

	return result, nil
}
