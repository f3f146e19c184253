// Package dispatch executes one iteration's tool calls. Calls with a
// registered executor run concurrently; the rest are handed back to the
// caller untouched apart from reference resolution and secret injection.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/odvcencio/stepwise/pkg/errors"
	"github.com/odvcencio/stepwise/pkg/logging"
	"github.com/odvcencio/stepwise/pkg/memory"
	"github.com/odvcencio/stepwise/pkg/reference"
	"github.com/odvcencio/stepwise/pkg/telemetry"
	"github.com/odvcencio/stepwise/pkg/tool"
)

// Executor runs tools by name. *tool.Registry satisfies it.
type Executor interface {
	Has(name string) bool
	Execute(ctx context.Context, name, callID string, params map[string]any) (any, error)
}

// Overrides holds caller-supplied secrets keyed by tool, then param.
type Overrides map[string]map[string]any

// Outcome is everything dispatch produced for one iteration.
type Outcome struct {
	Results          []tool.Result
	FrontendHandlers []tool.Call
	AttributeUpdates []memory.Attribute
	Misses           []reference.Miss
}

// Dispatcher fans tool calls out to an Executor.
type Dispatcher struct {
	exec        Executor
	maxParallel int
	logger      *logging.Logger
}

// New returns a dispatcher. maxParallel <= 0 leaves concurrency unbounded.
func New(exec Executor, maxParallel int, logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Dispatcher{exec: exec, maxParallel: maxParallel, logger: logger}
}

// Dispatch resolves, partitions and executes calls. It waits for every
// dispatched call; a failing call never cancels the others.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []tool.Call, mem memory.Snapshot, overrides Overrides) Outcome {
	var out Outcome
	resolver := reference.New(mem)

	var queued []tool.Call
	for _, call := range calls {
		params, misses := resolver.ResolveParams(call.Params)
		if params == nil {
			params = map[string]any{}
		}
		out.Misses = append(out.Misses, misses...)
		params = mergeOverrides(params, overrides[call.Tool])

		prepared := call
		prepared.Params = params

		if d.exec == nil || !d.exec.Has(call.Tool) {
			telemetry.FrontendHandlers.WithLabelValues(call.Tool).Inc()
			_ = d.logger.Info(logging.CategoryTool, "tool.frontend", "no executor; returning call to caller", map[string]any{
				"tool": call.Tool,
				"id":   call.ID,
			})
			out.FrontendHandlers = append(out.FrontendHandlers, prepared)
			continue
		}
		queued = append(queued, prepared)
	}

	results := make([]tool.Result, len(queued))
	values := make([]any, len(queued))

	var g errgroup.Group
	if d.maxParallel > 0 {
		g.SetLimit(d.maxParallel)
	}
	for i, call := range queued {
		g.Go(func() error {
			start := time.Now()
			value, err := d.exec.Execute(ctx, call.Tool, call.ID, call.Params)
			res := tool.Result{
				ID:         call.ID,
				Tool:       call.Tool,
				DurationMs: time.Since(start).Milliseconds(),
			}
			if err != nil {
				res.Error = errorText(err)
			} else {
				res.Success = true
				res.Result = value
				values[i] = value
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	for i, call := range queued {
		if call.SaveAs == "" || !results[i].Success {
			continue
		}
		attr := memory.NewAttribute(call.SaveAs, values[i])
		out.AttributeUpdates = append(out.AttributeUpdates, attr)
		results[i].Result = SavedSummary(attr)
		results[i].SavedAs = attr.Name
	}

	out.Results = results
	return out
}

// SavedSummary is the visible result of a save_as call.
func SavedSummary(attr memory.Attribute) string {
	return fmt.Sprintf("Saved to attribute %q (~%d bytes). Reference it with {{attribute:%s}}.", attr.Name, attr.Size, attr.Name)
}

// errorText drops the code prefix and context of structured errors so the
// model sees the plain failure.
func errorText(err error) string {
	appErr, ok := apperrors.As(err)
	if !ok {
		return err.Error()
	}
	if appErr.Underlying != nil {
		return appErr.Message + ": " + appErr.Underlying.Error()
	}
	return appErr.Message
}

// mergeOverrides applies secrets on top of params. Object values are
// shallow-merged with override keys winning; anything else is replaced.
func mergeOverrides(params map[string]any, secrets map[string]any) map[string]any {
	if len(secrets) == 0 {
		return params
	}
	for key, override := range secrets {
		existing, ok := params[key].(map[string]any)
		incoming, isMap := override.(map[string]any)
		if !ok || !isMap {
			params[key] = override
			continue
		}
		merged := make(map[string]any, len(existing)+len(incoming))
		for k, v := range existing {
			merged[k] = v
		}
		for k, v := range incoming {
			merged[k] = v
		}
		params[key] = merged
	}
	return params
}
