// Package model is the LLM provider abstraction shared by the router
// and the modules that talk to a model.
package model

import (
	"context"

	"github.com/stupiduntilnot/officebot/internal/history"
)

// Tool is a function the model may choose to call.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON schema object.
	Parameters map[string]any
}

// ToolCall is the model's choice of one tool.
type ToolCall struct {
	Name      string
	Arguments string
}

// Request is one completion call.
type Request struct {
	Messages    []history.Message
	Tools       []Tool
	Temperature float32
}

// Completion is the common response model for model providers.
type Completion struct {
	Content      string
	ToolCall     *ToolCall
	InputTokens  int
	OutputTokens int
}

// Provider is the model provider abstraction.
type Provider interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}
