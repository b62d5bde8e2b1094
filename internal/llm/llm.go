// Package llm talks to the language model behind the chat endpoints.
package llm

import "context"

// Roles used in a conversation.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message is one conversation turn.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
	// Loading marks a placeholder turn the chat UI shows while waiting; never sent upstream
	Loading bool `json:"loading,omitempty"`
}

// Generator produces the model's reply to a conversation.
type Generator interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, messages []Message) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, messages []Message) (string, error) {
	return f(ctx, messages)
}
