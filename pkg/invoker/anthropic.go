package invoker

import (
	"context"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/orchestrator"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

const defaultMaxTokens = 4096

// Anthropic invokes steps through the Anthropic Messages API. The
// descriptor body becomes the system prompt.
type Anthropic struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropic creates an Anthropic invoker. ANTHROPIC_API_KEY must be set.
func NewAnthropic(cfg Config) (*Anthropic, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaude3_7SonnetLatest
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	return &Anthropic{
		client:    anthropic.NewClient(append(opts, option.WithMaxRetries(0))...),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Invoke sends one step to the model and returns the text of the reply
func (a *Anthropic) Invoke(ctx context.Context, inv orchestrator.Invocation) (capability.Result, error) {
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt(inv))),
		},
	}
	if system := systemPrompt(inv); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	response, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return capability.Result{}, errors.Wrap(err, "error sending message to Anthropic")
	}

	var output strings.Builder
	for _, block := range response.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			output.WriteString(variant.Text)
		}
	}

	return capability.Result{
		StepIndex:    inv.Step.Index,
		DescriptorID: inv.Step.DescriptorID,
		Output:       output.String(),
		Metadata: map[string]any{
			"invoker":       ProviderAnthropic,
			"model":         string(response.Model),
			"stop_reason":   string(response.StopReason),
			"input_tokens":  response.Usage.InputTokens,
			"output_tokens": response.Usage.OutputTokens,
		},
	}, nil
}

func isRetryableAnthropicError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 408 || apiErr.StatusCode == 409 || apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}

	return isTransientMessage(err.Error())
}

// isTransientMessage matches error text that signals a temporary failure
func isTransientMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, pattern := range []string{
		"connection reset",
		"connection refused",
		"timeout",
		"temporarily unavailable",
		"rate limit",
		"overloaded",
		"too many requests",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
