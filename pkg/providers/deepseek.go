package providers

import (
	"context"
	"fmt"

	"github.com/go-deepseek/deepseek"
	"github.com/go-deepseek/deepseek/request"
)

// DeepSeekProvider uses the go-deepseek SDK.
type DeepSeekProvider struct {
	client deepseek.Client
	model  string
}

// NewDeepSeekProvider creates a DeepSeek provider.
func NewDeepSeekProvider(apiKey, defaultModel string) (*DeepSeekProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("DeepSeek API key is required")
	}
	if defaultModel == "" {
		defaultModel = "deepseek-chat"
	}
	client, err := deepseek.NewClient(apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create DeepSeek client: %w", err)
	}
	return &DeepSeekProvider{client: client, model: defaultModel}, nil
}

// Chat sends a non-streaming chat completion.
func (p *DeepSeekProvider) Chat(ctx context.Context, req ChatRequest) (*LLMResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]*request.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, &request.Message{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, &request.Message{Role: m.Role, Content: m.Content})
	}

	temp := req.Temperature
	chatReq := &request.ChatCompletionsRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: &temp,
		Stream:      false,
	}

	resp, err := p.client.CallChatCompletionsChat(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("DeepSeek API request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	return &LLMResponse{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: resp.Choices[0].FinishReason,
		Usage: map[string]int{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.PromptTokens + resp.Usage.CompletionTokens,
		},
	}, nil
}

// GetDefaultModel returns the default model.
func (p *DeepSeekProvider) GetDefaultModel() string {
	return p.model
}
