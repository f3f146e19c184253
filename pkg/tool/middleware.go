package tool

import (
	"context"
	"time"

	"github.com/odvcencio/stepwise/pkg/logging"
	"github.com/odvcencio/stepwise/pkg/telemetry"
)

// ExecutionContext carries request metadata through the middleware chain.
type ExecutionContext struct {
	Context   context.Context
	ToolName  string
	Tool      Tool
	CallID    string
	Params    map[string]any
	StartTime time.Time
}

// Executor is the function signature for tool execution.
type Executor func(ctx *ExecutionContext) (any, error)

// Middleware wraps an Executor with additional behavior.
type Middleware func(next Executor) Executor

// Chain composes middlewares in order (first middleware is outermost).
func Chain(middlewares ...Middleware) Middleware {
	return func(final Executor) Executor {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// Timeout applies a per-tool or default timeout by updating the context.
func Timeout(defaultTimeout time.Duration, perTool map[string]time.Duration) Middleware {
	return func(next Executor) Executor {
		return func(ctx *ExecutionContext) (any, error) {
			if ctx == nil {
				return next(ctx)
			}
			timeout := defaultTimeout
			if t, ok := perTool[ctx.ToolName]; ok {
				timeout = t
			}
			if timeout <= 0 {
				return next(ctx)
			}

			base := ctx.Context
			if base == nil {
				base = context.Background()
			}
			timeoutCtx, cancel := context.WithTimeout(base, timeout)
			defer cancel()

			ctx.Context = timeoutCtx
			return next(ctx)
		}
	}
}

// Instrument records call counts, latency and an otel span per execution.
func Instrument() Middleware {
	return func(next Executor) Executor {
		return func(ctx *ExecutionContext) (any, error) {
			if ctx == nil {
				return next(ctx)
			}
			spanCtx, span := telemetry.StartSpan(ctx.Context, "tool.execute", telemetry.AttrTool.String(ctx.ToolName))
			ctx.Context = spanCtx

			start := time.Now()
			res, err := next(ctx)
			telemetry.ToolLatency.WithLabelValues(ctx.ToolName).Observe(time.Since(start).Seconds())
			telemetry.ToolCalls.WithLabelValues(ctx.ToolName, telemetry.Outcome(err == nil)).Inc()
			telemetry.EndSpan(span, err)
			return res, err
		}
	}
}

// Logging emits one event per execution.
func Logging(logger *logging.Logger) Middleware {
	return func(next Executor) Executor {
		return func(ctx *ExecutionContext) (any, error) {
			if ctx == nil || logger == nil {
				return next(ctx)
			}
			res, err := next(ctx)
			details := map[string]any{
				"tool":        ctx.ToolName,
				"call_id":     ctx.CallID,
				"duration_ms": time.Since(ctx.StartTime).Milliseconds(),
			}
			if err != nil {
				details["error"] = err.Error()
				logger.Warn(logging.CategoryTool, "tool_failed", "tool execution failed", details)
			} else {
				logger.Debug(logging.CategoryTool, "tool_succeeded", "tool execution finished", details)
			}
			return res, err
		}
	}
}
