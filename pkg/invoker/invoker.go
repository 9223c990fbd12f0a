// Package invoker provides the collaborators that execute individual plan
// steps: an offline echo invoker and LLM-backed invokers for Anthropic,
// OpenAI and Google Gemini. Provider invokers can be wrapped with retries
// and chained with fallback providers.
package invoker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/logger"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/orchestrator"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

// Providers
const (
	ProviderEcho      = "echo"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
)

// Config selects and configures an invoker
type Config struct {
	Provider  string      `mapstructure:"provider" json:"provider" yaml:"provider"`
	Model     string      `mapstructure:"model" json:"model" yaml:"model"`
	MaxTokens int         `mapstructure:"max_tokens" json:"max_tokens" yaml:"max_tokens"`
	BaseURL   string      `mapstructure:"base_url" json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Retry     RetryConfig `mapstructure:"retry" json:"retry" yaml:"retry"`

	// Fallbacks are tried in order when the provider above fails
	Fallbacks []Config `mapstructure:"fallbacks" json:"fallbacks,omitempty" yaml:"fallbacks,omitempty"`
}

// RetryConfig controls retries of failed invocations. Delays are in
// milliseconds. Zero attempts disables retrying.
type RetryConfig struct {
	Attempts     int    `mapstructure:"attempts" json:"attempts" yaml:"attempts"`
	InitialDelay int    `mapstructure:"initial_delay" json:"initial_delay" yaml:"initial_delay"`
	MaxDelay     int    `mapstructure:"max_delay" json:"max_delay" yaml:"max_delay"`
	BackoffType  string `mapstructure:"backoff_type" json:"backoff_type" yaml:"backoff_type"` // fixed or exponential
}

// DefaultRetryConfig is used when no retry settings are configured
var DefaultRetryConfig = RetryConfig{
	Attempts:     3,
	InitialDelay: 1000,
	MaxDelay:     10000,
	BackoffType:  "exponential",
}

// New creates the invoker named by cfg.Provider, wrapped with retries when
// cfg.Retry.Attempts is positive. The echo invoker is never retried. When
// cfg.Fallbacks is set the result is a *Fallback trying cfg first and then
// each fallback in order; fallbacks without retry settings inherit cfg's.
func New(ctx context.Context, cfg Config) (orchestrator.Invoker, error) {
	if len(cfg.Fallbacks) == 0 {
		return newProvider(ctx, cfg)
	}

	configs := append([]Config{cfg}, cfg.Fallbacks...)
	providers := make([]Provider, 0, len(configs))
	for i, c := range configs {
		if c.Retry == (RetryConfig{}) {
			c.Retry = cfg.Retry
		}
		c.Fallbacks = nil
		inv, err := newProvider(ctx, c)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create invoker %d (%s)", i, c.Provider)
		}
		providers = append(providers, Provider{Name: providerName(c), Invoker: inv})
	}
	return NewFallback(providers...), nil
}

func newProvider(ctx context.Context, cfg Config) (orchestrator.Invoker, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	logger.G(ctx).WithFields(map[string]interface{}{
		"provider": provider,
		"model":    cfg.Model,
	}).Debug("creating invoker")

	switch provider {
	case "", ProviderEcho:
		return &Echo{}, nil
	case ProviderAnthropic:
		inv, err := NewAnthropic(cfg)
		if err != nil {
			return nil, err
		}
		return withRetry(inv, cfg.Retry, isRetryableAnthropicError), nil
	case ProviderOpenAI:
		inv, err := NewOpenAI(cfg)
		if err != nil {
			return nil, err
		}
		return withRetry(inv, cfg.Retry, isRetryableOpenAIError), nil
	case ProviderGoogle:
		inv, err := NewGoogle(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return withRetry(inv, cfg.Retry, isRetryableGoogleError), nil
	default:
		return nil, errors.Errorf("unknown invoker provider '%s'", cfg.Provider)
	}
}

// providerName labels a provider in logs and errors, e.g. "openai/gpt-4.1"
func providerName(cfg Config) string {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name == "" {
		name = ProviderEcho
	}
	if cfg.Model != "" {
		name += "/" + cfg.Model
	}
	return name
}

func withRetry(inv orchestrator.Invoker, cfg RetryConfig, retryIf func(error) bool) orchestrator.Invoker {
	if cfg.Attempts <= 0 {
		return inv
	}
	return NewRetrying(inv, cfg, retryIf)
}

// systemPrompt is the descriptor's Markdown body followed by the persona of
// its primary bonded agent
func systemPrompt(inv orchestrator.Invocation) string {
	var parts []string
	if body := descriptorBody(inv.Descriptor); body != "" {
		parts = append(parts, body)
	}
	if agent := inv.BondedAgent; agent != nil {
		if body := descriptorBody(agent); body != "" {
			parts = append(parts, fmt.Sprintf("## Bonded agent: %s\n\n%s", agent.ID, body))
		}
	}
	return strings.Join(parts, "\n\n")
}

// descriptorBody is the Markdown body of d, falling back to its description
// when the body is empty
func descriptorBody(d *capability.Descriptor) string {
	if d == nil {
		return ""
	}
	if content := strings.TrimSpace(d.Content); content != "" {
		return content
	}
	return strings.TrimSpace(d.Description)
}

// userPrompt renders the request, the step parameters and the output of
// every earlier step
func userPrompt(inv orchestrator.Invocation) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Request: %s\n", inv.Input)
	fmt.Fprintf(&b, "Capability: %s", inv.Step.DescriptorID)
	if inv.Descriptor != nil {
		fmt.Fprintf(&b, " (%s)", inv.Descriptor.Kind)
	}
	fmt.Fprintf(&b, "\nRole: %s\n", inv.Step.Role)
	if inv.BondedAgent != nil {
		fmt.Fprintf(&b, "Agent: %s\n", inv.BondedAgent.ID)
	}

	if len(inv.Step.Parameters) > 0 {
		b.WriteString("Parameters:\n")
		names := make([]string, 0, len(inv.Step.Parameters))
		for name := range inv.Step.Parameters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "  %s: %v\n", name, formatValue(inv.Step.Parameters[name]))
		}
	}

	for _, prev := range inv.Previous {
		fmt.Fprintf(&b, "\n<result step=%d capability=%q>\n%s\n</result>\n", prev.StepIndex, prev.DescriptorID, prev.Output)
	}

	return b.String()
}

func formatValue(v any) string {
	if list, ok := v.([]string); ok {
		return strings.Join(list, ", ")
	}
	return fmt.Sprint(v)
}
