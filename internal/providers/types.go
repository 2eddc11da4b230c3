package providers

import (
	"context"
	"encoding/json"
)

// Provider is the interface all LLM providers must implement.
type Provider interface {
	// Chat sends messages to the LLM and returns the complete response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// DefaultModel returns the provider's default model name.
	DefaultModel() string

	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string
}

// Request option keys for ChatRequest.Options.
const (
	OptMaxTokens      = "max_tokens"
	OptTemperature    = "temperature"
	OptResponseFormat = "response_format" // value is *ResponseFormat
)

// ResponseFormat requests JSON output. With a Schema, OpenAI-compatible
// providers use the json_schema response format and Anthropic forces a
// tool whose input is the schema. With a nil Schema it degrades to the
// provider's generic JSON mode (json_object on OpenAI, prompt-only on
// Anthropic).
type ResponseFormat struct {
	Name   string
	Schema map[string]interface{}
}

// ChatRequest contains the input for a Chat call.
type ChatRequest struct {
	Messages []Message              `json:"messages"`
	Tools    []ToolDefinition       `json:"tools,omitempty"`
	Model    string                 `json:"model,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// ChatResponse is the result from an LLM call.
type ChatResponse struct {
	Content      string          `json:"content"`
	ToolCalls    []ToolCall      `json:"tool_calls,omitempty"`
	FinishReason string          `json:"finish_reason"` // "stop", "tool_calls", "length"
	Usage        *Usage          `json:"usage,omitempty"`
	Reasoning    json.RawMessage `json:"reasoning_content,omitempty"` // opaque; see Message.Reasoning
}

// Message represents a conversation message.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for role="tool" responses

	// Reasoning is thinking-model metadata carried verbatim: whatever
	// the provider returned on an assistant message must be echoed back
	// on subsequent calls in the same turn. Never parsed or persisted.
	Reasoning json.RawMessage `json:"reasoning_content,omitempty"`
}

// ToolCall represents a tool invocation requested by the LLM.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolDefinition describes a tool available to the LLM.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function ToolFunctionSchema `json:"function"`
}

// ToolFunctionSchema is the schema for a function tool.
type ToolFunctionSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// NewToolDefinition wraps a function schema in the standard envelope.
func NewToolDefinition(name, description string, parameters map[string]interface{}) ToolDefinition {
	return ToolDefinition{
		Type: "function",
		Function: ToolFunctionSchema{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
	}
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
