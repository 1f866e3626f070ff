// LLMClient - wrapper around providers that bounds and retries every call.

package llm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Vidura-Wijekoon/fitassist/internal/logger"
	"github.com/Vidura-Wijekoon/fitassist/internal/retry"
)

// Client wraps a Provider. Each attempt runs under the timeout; attempts
// failing with an unavailable upstream are retried under the policy.
type Client struct {
	provider Provider
	timeout  time.Duration
	policy   retry.Policy
	logger   *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetry retries unavailable upstreams under p. Without it every call is
// attempted once.
func WithRetry(p retry.Policy) ClientOption {
	return func(c *Client) { c.policy = p }
}

// WithClientLogger sets the logger used for retry notices.
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logger.OrNop(l) }
}

// NewClient creates a client. A zero timeout leaves calls bounded only by
// the caller's context.
func NewClient(provider Provider, timeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{provider: provider, timeout: timeout, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Chat sends a chat completion request and returns just the content.
func (c *Client) Chat(ctx context.Context, messages []ChatMessage) (string, error) {
	response, err := c.ChatWithUsage(ctx, messages)
	if err != nil {
		return "", err
	}
	return response.Content, nil
}

// ChatWithUsage sends a chat completion request and returns the full response.
func (c *Client) ChatWithUsage(ctx context.Context, messages []ChatMessage) (LLMResponse, error) {
	return c.call(ctx, "chat", func(ctx context.Context) (LLMResponse, error) {
		return c.provider.Chat(ctx, messages)
	})
}

// ChatWithTools sends a chat completion request with tool definitions.
func (c *Client) ChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (LLMResponse, error) {
	return c.call(ctx, "chat_with_tools", func(ctx context.Context) (LLMResponse, error) {
		return c.provider.ChatWithTools(ctx, messages, tools)
	})
}

// Describe names the provider and model behind the client.
func (c *Client) Describe() (provider, model string) {
	return c.provider.Name(), c.provider.Model()
}

func (c *Client) call(ctx context.Context, op string, fn func(context.Context) (LLMResponse, error)) (LLMResponse, error) {
	var resp LLMResponse
	err := retry.Do(ctx, c.policy, c.provider.Name()+" "+op, c.logger, IsUnavailable, func(ctx context.Context) error {
		ctx, cancel := c.bound(ctx)
		defer cancel()

		var err error
		resp, err = fn(ctx)
		return err
	})
	if err != nil {
		return LLMResponse{}, err
	}
	return resp, nil
}

func (c *Client) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
