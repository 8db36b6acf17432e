package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/appforge-ai/appforge/services/orchestrator/datatypes"
)

// RateLimitedClient wraps a Client with a token-bucket limiter so a burst
// of sessions cannot exhaust provider quotas. Waits respect the caller's
// context; a cancelled wait surfaces as an error, not a dropped call.
type RateLimitedClient struct {
	inner   Client
	limiter *rate.Limiter
}

// NewRateLimitedClient wraps inner with the given requests-per-second
// limit and burst size.
func NewRateLimitedClient(inner Client, rps float64, burst int) *RateLimitedClient {
	return &RateLimitedClient{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (r *RateLimitedClient) wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

func (r *RateLimitedClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	if err := r.wait(ctx); err != nil {
		return "", err
	}
	return r.inner.Generate(ctx, prompt, params)
}

func (r *RateLimitedClient) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error) {
	if err := r.wait(ctx); err != nil {
		return "", err
	}
	return r.inner.Chat(ctx, messages, params)
}

func (r *RateLimitedClient) ChatStream(ctx context.Context, messages []datatypes.Message,
	params GenerationParams, callback StreamCallback) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.inner.ChatStream(ctx, messages, params, callback)
}

func (r *RateLimitedClient) GenerateStructured(ctx context.Context, messages []datatypes.Message,
	schema json.RawMessage, out any) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.inner.GenerateStructured(ctx, messages, schema, out)
}

var _ Client = (*RateLimitedClient)(nil)
