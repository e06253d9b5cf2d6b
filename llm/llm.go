// Package llm defines the narrow chat-completion interface the planner
// depends on. The LLM provider itself is a Non-goal of this module (spec
// §1): only the interface and a concrete Anthropic-backed adapter live
// here, grounded on runtime/agent/model/model.go's Client/Request/Response
// shape, stripped down to the single non-streaming, no-tool-calling
// completion the planner actually issues.
package llm

import "context"

// Message is one turn of the prompt sent to Complete.
type Message struct {
	Role    string // "system" or "user"
	Content string
}

// Request is a single chat-completion invocation.
type Request struct {
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// Response is the model's reply.
type Response struct {
	Text string
}

// Client is the provider-agnostic interface the planner calls. Concrete
// adapters translate Request into a specific provider's wire format.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
