package invoker

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/orchestrator"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

const defaultGoogleModel = "gemini-2.5-flash"

// Google invokes steps through the Gemini API
type Google struct {
	client    *genai.Client
	model     string
	maxTokens int32
}

// NewGoogle creates a Gemini invoker. GEMINI_API_KEY or GOOGLE_API_KEY must
// be set.
func NewGoogle(ctx context.Context, cfg Config) (*Google, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY or GOOGLE_API_KEY environment variable is required")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Google GenAI client")
	}

	model := cfg.Model
	if model == "" {
		model = defaultGoogleModel
	}
	maxTokens := int32(cfg.MaxTokens)
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	return &Google{client: client, model: model, maxTokens: maxTokens}, nil
}

// Invoke sends one step to the model and returns the text of the reply
func (g *Google) Invoke(ctx context.Context, inv orchestrator.Invocation) (capability.Result, error) {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: g.maxTokens,
	}
	if system := systemPrompt(inv); system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	response, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(userPrompt(inv)), config)
	if err != nil {
		return capability.Result{}, errors.Wrap(err, "error generating content with Google GenAI")
	}

	metadata := map[string]any{
		"invoker": ProviderGoogle,
		"model":   g.model,
	}
	if len(response.Candidates) > 0 {
		metadata["finish_reason"] = string(response.Candidates[0].FinishReason)
	}
	if usage := response.UsageMetadata; usage != nil {
		metadata["input_tokens"] = usage.PromptTokenCount
		metadata["output_tokens"] = usage.CandidatesTokenCount
	}

	return capability.Result{
		StepIndex:    inv.Step.Index,
		DescriptorID: inv.Step.DescriptorID,
		Output:       response.Text(),
		Metadata:     metadata,
	}, nil
}

func isRetryableGoogleError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 408 || apiErr.Code == 429 || apiErr.Code >= 500
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code == 408 || apiErrPtr.Code == 429 || apiErrPtr.Code >= 500
	}

	return isTransientMessage(err.Error())
}
