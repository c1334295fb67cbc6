package llm

import (
	"context"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message in a provider-agnostic format
type Message struct {
	Role       string // "user", "assistant", "system", "tool"
	Content    string
	Name       string     // tool name on role "tool"
	ToolCallID string     // id of the call a tool message answers
	ToolCalls  []ToolCall // set on assistant messages that requested tools
}

// ToolCall is a model-issued function call. Arguments is the raw JSON text as sent by the model.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition advertises a callable tool to the model. Parameters is a JSON schema object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the result of one "complete" call.
type Completion struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *Usage
	Model     string
}

// Option allows for optional parameters like Temperature, MaxTokens, etc.
type Option func(*Options)

type Options struct {
	Temperature float64
	MaxTokens   int
	Model       string // Override default model
	Tools       []ToolDefinition
}

func WithTemperature(temp float64) Option {
	return func(o *Options) {
		o.Temperature = temp
	}
}

func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

func WithMaxTokens(n int) Option {
	return func(o *Options) {
		o.MaxTokens = n
	}
}

func WithTools(tools []ToolDefinition) Option {
	return func(o *Options) {
		o.Tools = tools
	}
}

func ApplyOptions(defaults Options, opts ...Option) Options {
	for _, opt := range opts {
		opt(&defaults)
	}
	return defaults
}

// LLMProvider defines the contract for any LLM backend
type LLMProvider interface {
	// Complete sends the history (and optional tools) and returns content plus any tool calls.
	Complete(ctx context.Context, history []Message, options ...Option) (*Completion, error)

	// Chat sends a chat history to the model and returns the response text
	Chat(ctx context.Context, history []Message, options ...Option) (string, error)
}
