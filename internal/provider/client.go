// Package provider defines the generation capability the fallback engine
// invokes against one upstream provider, plus a reference HTTP client for
// OpenAI-compatible chat-completions APIs. The engine treats the request
// payload as opaque; only the inference layer reads prompt text.
package provider

import (
	"context"

	"github.com/tidegate/cascade/internal/registry"
)

// Message is one chat message in a generation request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the caller's generation request. The engine never interprets
// it semantically; it is handed as-is to the Client for each attempt.
type Request struct {
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// PromptText returns the concatenated user-visible text of the request,
// used by context inference and token estimation only.
func (r Request) PromptText() string {
	var out string
	for _, m := range r.Messages {
		if out != "" {
			out += "\n"
		}
		out += m.Content
	}
	return out
}

// Result is the outcome of one successful generation call.
type Result struct {
	Content   string  `json:"content"`
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	CostUSD   float64 `json:"cost_usd"`
}

// Client performs one generation call against one named provider/model.
// Implementations wrap a real vendor API; the engine injects a Client and
// never constructs vendor requests itself. The context carries the
// per-attempt timeout; implementations must honour cancellation.
type Client interface {
	Generate(ctx context.Context, prov registry.Provider, req Request) (*Result, error)
}
