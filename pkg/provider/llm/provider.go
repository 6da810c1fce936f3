// Package llm defines the Provider interface for Large Language Model backends.
//
// A provider wraps a remote or local model API (OpenAI, Anthropic, a local
// Ollama instance, ...) and exposes the two calls feedbackd needs: free-form
// chat completions for the interviewing assistant and schema-constrained
// completions for structured feedback extraction.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import (
	"context"

	"github.com/MrWong99/feedbackd/pkg/types"
)

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ResponseSchema asks the model to answer with a single JSON document that
// validates against Schema. Providers with native structured output pass it
// through; others append it to the system prompt.
type ResponseSchema struct {
	// Name is a short identifier for the schema (e.g. "feedback_analysis").
	Name string

	// Description is an optional human-readable explanation of the document.
	Description string

	// Schema is the JSON Schema document. Any value that marshals to a JSON
	// Schema object is accepted (e.g. *jsonschema.Schema or map[string]any).
	Schema any
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history.
	Messages []types.Message

	// SystemPrompt is an optional instruction placed before the history.
	SystemPrompt string

	// Temperature controls output randomness in the range [0.0, 2.0].
	// Zero means the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider default.
	MaxTokens int

	// ResponseSchema, when non-nil, requests a JSON answer matching the schema.
	ResponseSchema *ResponseSchema
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content of this chunk.
	Text string

	// FinishReason is set on the final chunk: "stop", "length", or "error".
	// When it is "error", Text carries the error message.
	FinishReason string
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// StreamCompletion sends req to the model and returns a channel that emits
	// Chunk values as they arrive. The initial error is non-nil only for
	// failures that prevent the stream from starting; later failures arrive as
	// a Chunk with FinishReason "error". The channel is never nil when the
	// error is nil, and callers must drain it.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() types.ModelCapabilities
}

// Collect drains a stream returned by [Provider.StreamCompletion] and returns
// the concatenated text. onDelta, when non-nil, is invoked for every non-empty
// fragment in order. A chunk with FinishReason "error" ends collection with an
// error carrying the chunk text.
func Collect(ch <-chan Chunk, onDelta func(string)) (string, error) {
	var text []byte
	var streamErr error
	for c := range ch {
		if c.FinishReason == "error" {
			if streamErr == nil {
				streamErr = &StreamError{Message: c.Text}
			}
			continue
		}
		if c.Text == "" {
			continue
		}
		text = append(text, c.Text...)
		if onDelta != nil {
			onDelta(c.Text)
		}
	}
	return string(text), streamErr
}

// StreamError is returned by [Collect] when a stream ends with an error chunk.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return "llm: stream: " + e.Message }
