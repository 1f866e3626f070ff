// Package llm provides the language-model providers the router plans and
// synthesizes with.
//
// Each provider implementation hides:
// - API client initialization and authentication
// - Request/response format conversion
// - Provider-specific tool-call encoding
// - Translation of SDK errors into the model error taxonomy

package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/Vidura-Wijekoon/fitassist/model"
)

// Provider is a language model that can answer plainly or request tool calls.
type Provider interface {
	// Name returns the provider name (for logging/debugging).
	Name() string

	// Model returns the current model being used.
	Model() string

	// Chat sends a plain chat completion request. Used for synthesis.
	Chat(ctx context.Context, messages []ChatMessage) (LLMResponse, error)

	// ChatWithTools sends a chat completion request with tool definitions.
	// Used for planning; the reply may carry ToolCalls.
	ChatWithTools(ctx context.Context, messages []ChatMessage, tools []ToolDefinition) (LLMResponse, error)
}

// IsUnavailable reports whether err is an outage worth retrying later:
// rate limiting, a 5xx, a transport failure or a timed-out call.
func IsUnavailable(err error) bool {
	return errors.Is(err, model.ErrUpstreamUnavailable)
}

// providerError wraps a failed completion. status is the HTTP status the SDK
// reported, or 0 when no response arrived.
func providerError(name string, status int, err error) error {
	if unavailable(status, err) {
		return fmt.Errorf("%s chat completion failed: %w: %w", name, model.ErrUpstreamUnavailable, err)
	}
	return fmt.Errorf("%s chat completion failed: %w", name, err)
}

func unavailable(status int, err error) bool {
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return true
	}
	if status != 0 {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
