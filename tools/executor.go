// Retrying executor for calls against flaky upstreams.
//
// Information Hiding:
// - Retry strategy implementation hidden
// - Backoff algorithm hidden
// - Error classification logic hidden

package tools

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/Vidura-Wijekoon/fitassist/internal/logger"
	"github.com/Vidura-Wijekoon/fitassist/internal/retry"
	"github.com/Vidura-Wijekoon/fitassist/model"
)

// Executor retries operations that fail with a retryable error, using
// exponential backoff.
type Executor struct {
	config    ToolConfig
	retryable func(error) bool
	logger    *zap.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithRetryable overrides which errors are retried. The default retries
// only model.ErrUpstreamUnavailable.
func WithRetryable(fn func(error) bool) ExecutorOption {
	return func(e *Executor) { e.retryable = fn }
}

// WithExecutorLogger sets the logger used for retry notices.
func WithExecutorLogger(l *zap.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger.OrNop(l) }
}

// NewExecutor creates a new executor with the given configuration.
func NewExecutor(config ToolConfig, opts ...ExecutorOption) *Executor {
	e := &Executor{
		config: config,
		retryable: func(err error) bool {
			return errors.Is(err, model.ErrUpstreamUnavailable)
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewDefaultExecutor creates an executor with default configuration.
func NewDefaultExecutor() *Executor {
	return NewExecutor(DefaultToolConfig())
}

// Retry runs op until it succeeds, fails with a non-retryable error, or the
// retry budget is spent. The last error is returned. A cancelled ctx stops
// the loop and returns ctx.Err().
func (e *Executor) Retry(ctx context.Context, name string, op func(ctx context.Context) error) error {
	return retry.Do(ctx, e.policy(), name, e.logger, e.retryable, op)
}

func (e *Executor) policy() retry.Policy {
	return retry.Policy{
		Retries: e.config.Retries(),
		Base:    e.config.BaseBackoff(),
		Max:     e.config.MaxBackoff(),
	}
}

// ExecuteOnce validates the arguments and runs a tool once without retries.
func ExecuteOnce(ctx context.Context, tool Tool, args json.RawMessage) (ToolResult, error) {
	if err := tool.Validate(args); err != nil {
		return FailureResultf("validation failed: %w", err), nil
	}

	return tool.Execute(ctx, args)
}
