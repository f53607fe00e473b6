// Package llm abstracts the large-language-model backends the summarizer
// writes its narrative through. A Provider hides whether the completion is
// served by OpenAI, a gateway like any-llm, or a local engine; the pipeline
// only ever sees this interface.
//
// Implementations must be safe for concurrent use and must honour context
// cancellation on every call.
package llm

import (
	"context"

	"github.com/rpgscribe/rpgscribe/pkg/types"
)

// Usage is the token accounting a backend reports for one exchange. Counts
// are in the model's own token unit and are not comparable across vendors.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	// TotalTokens is PromptTokens + CompletionTokens; some backends return
	// it directly.
	TotalTokens int
}

// CompletionRequest is one completion call. Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the conversation so far, oldest first.
	Messages []types.Message

	// Tools offers function definitions the model may invoke. Check
	// Capabilities().SupportsToolCalling before relying on this.
	Tools []types.ToolDefinition

	// Temperature in [0.0, 2.0]; 0 asks for greedy decoding.
	Temperature float64

	// MaxTokens caps the completion length; 0 defers to the provider.
	MaxTokens int

	// SystemPrompt is injected ahead of Messages. Backends without a native
	// system slot prepend it as a "system"-role message.
	SystemPrompt string
}

// Chunk is one fragment of a streaming completion. Any combination of the
// fields may be set on a single chunk.
type Chunk struct {
	Text string

	// FinishReason is non-empty only on the final chunk: "stop", "length",
	// "tool_calls", or "error" for mid-stream failures.
	FinishReason string

	ToolCalls []types.ToolCall
}

// CompletionResponse is the result of a non-streaming completion.
type CompletionResponse struct {
	// Content is the assistant's full reply; empty when the model answered
	// only with tool calls.
	Content string

	ToolCalls []types.ToolCall
	Usage     Usage
}

// Provider is the uniform surface over an LLM backend.
type Provider interface {
	// StreamCompletion starts a streaming completion and returns the chunk
	// channel, which the implementation closes when generation ends or ctx
	// is cancelled. Callers must drain it. A failure to even start the
	// stream is the returned error; failures after that arrive as a chunk
	// with FinishReason "error". The channel is never nil when err is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete runs the request to completion and returns the whole reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how many context-window tokens messages would
	// occupy. Estimates should err on the high side.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities reports static model metadata, constant for the life of
	// the Provider.
	Capabilities() types.ModelCapabilities
}
