package llm

import (
	"context"
	"encoding/json"

	"github.com/appforge-ai/appforge/services/orchestrator/datatypes"
)

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamCallback receives tokens as they are generated by the LLM.
// Return an error to abort streaming (e.g., on client disconnect).
type StreamCallback func(token string) error

// Client defines the standard interface for any LLM backend.
type Client interface {
	// Generate produces a completion for a single prompt.
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)

	// Chat produces a completion for a conversation.
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)

	// ChatStream produces a completion, invoking callback for every token
	// in production order. The call returns once the stream is exhausted
	// or the callback aborts.
	ChatStream(ctx context.Context, messages []datatypes.Message, params GenerationParams,
		callback StreamCallback) error

	// GenerateStructured produces a completion constrained to the given
	// JSON schema and unmarshals it into out. Backends that cannot
	// enforce schemas natively embed the schema in the prompt and
	// validate by unmarshaling.
	GenerateStructured(ctx context.Context, messages []datatypes.Message,
		schema json.RawMessage, out any) error
}
