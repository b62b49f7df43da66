package providers

import (
	"context"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a single completion call.
type ChatRequest struct {
	System      string
	Messages    []Message
	Model       string
	Temperature float32
	MaxTokens   int
	// JSON asks the provider for a JSON object when it supports a
	// response format switch.
	JSON bool
}

// LLMResponse represents a response from an LLM provider.
type LLMResponse struct {
	Content      string         `json:"content,omitempty"`
	FinishReason string         `json:"finish_reason"`
	Usage        map[string]int `json:"usage"`
}

// LLMProvider is the interface for LLM providers.
type LLMProvider interface {
	Chat(ctx context.Context, req ChatRequest) (*LLMResponse, error)
	GetDefaultModel() string
}
