package invoker

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/orchestrator"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

// OpenAI invokes steps through an OpenAI compatible chat completion API
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAI creates an OpenAI invoker. OPENAI_API_KEY must be set.
// OPENAI_API_BASE overrides the configured base URL.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable is required")
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL := os.Getenv("OPENAI_API_BASE"); baseURL != "" {
		clientConfig.BaseURL = baseURL
	} else if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4o
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	return &OpenAI{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

// Invoke sends one step to the model and returns the first choice
func (o *OpenAI) Invoke(ctx context.Context, inv orchestrator.Invocation) (capability.Result, error) {
	var messages []openai.ChatCompletionMessage
	if system := systemPrompt(inv); system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userPrompt(inv),
	})

	response, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:               o.model,
		MaxCompletionTokens: o.maxTokens,
		Messages:            messages,
	})
	if err != nil {
		return capability.Result{}, errors.Wrap(err, "error sending chat completion to OpenAI")
	}
	if len(response.Choices) == 0 {
		return capability.Result{}, errors.New("OpenAI returned no choices")
	}

	choice := response.Choices[0]
	return capability.Result{
		StepIndex:    inv.Step.Index,
		DescriptorID: inv.Step.DescriptorID,
		Output:       choice.Message.Content,
		Metadata: map[string]any{
			"invoker":       ProviderOpenAI,
			"model":         response.Model,
			"finish_reason": string(choice.FinishReason),
			"input_tokens":  response.Usage.PromptTokens,
			"output_tokens": response.Usage.CompletionTokens,
		},
	}, nil
}

func isRetryableOpenAIError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return true
	}

	return isTransientMessage(err.Error())
}
