// Package engine runs one stateless agent iteration: it assembles the
// prompt, calls the model, repairs and normalizes its output, and dispatches
// the requested tool calls. Nothing is retained between calls.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/stepwise/pkg/archive"
	"github.com/odvcencio/stepwise/pkg/bus"
	"github.com/odvcencio/stepwise/pkg/dispatch"
	apperrors "github.com/odvcencio/stepwise/pkg/errors"
	"github.com/odvcencio/stepwise/pkg/logging"
	"github.com/odvcencio/stepwise/pkg/loopdetect"
	"github.com/odvcencio/stepwise/pkg/memory"
	"github.com/odvcencio/stepwise/pkg/model"
	"github.com/odvcencio/stepwise/pkg/parse"
	"github.com/odvcencio/stepwise/pkg/prompt"
	"github.com/odvcencio/stepwise/pkg/telemetry"
	"github.com/odvcencio/stepwise/pkg/tool"
)

// Completer issues one model call. *model.Client satisfies it.
//
//go:generate mockgen -package=engine -destination=mock_completer_test.go github.com/odvcencio/stepwise/pkg/engine Completer
type Completer interface {
	Complete(ctx context.Context, p model.Prompt) (*model.Completion, error)
}

// ToolSet executes server-side tools and lists their names for the catalog.
// *tool.Registry satisfies it.
type ToolSet interface {
	dispatch.Executor
	Names() []string
}

// EventPublisher receives a summary of every finished iteration.
type EventPublisher interface {
	PublishIteration(ctx context.Context, evt bus.IterationCompleted) error
}

// Archiver stores finished exchanges.
type Archiver interface {
	Save(ctx context.Context, rec archive.Record) error
}

// Options configures a Controller.
type Options struct {
	Completer     Completer
	Tools         ToolSet
	MaxParallel   int
	LoopWindow    int
	LoopThreshold int
	MaxTokens     int
	CountTokens   bool
	Events        EventPublisher
	Archive       Archiver
	Logger        *logging.Logger
}

// Controller runs iterations. It is safe for concurrent use.
type Controller struct {
	completer  Completer
	tools      ToolSet
	dispatcher *dispatch.Dispatcher
	detector   loopdetect.Detector
	parser     *parse.Parser
	maxTokens  int
	countTok   func(string) int
	events     EventPublisher
	archive    Archiver
	logger     *logging.Logger
}

// New builds a controller from opts.
func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Controller{
		completer:  opts.Completer,
		tools:      opts.Tools,
		dispatcher: dispatch.New(opts.Tools, opts.MaxParallel, logger),
		detector:   loopdetect.New(opts.LoopWindow, opts.LoopThreshold),
		parser:     parse.New(logger),
		maxTokens:  opts.MaxTokens,
		countTok:   prompt.Counter(opts.CountTokens),
		events:     opts.Events,
		archive:    opts.Archive,
		logger:     logger,
	}
}

// Iterate runs one iteration. It always returns a response; failures are
// reported through Success, Error and ErrorCode.
func (c *Controller) Iterate(ctx context.Context, req *Request) *Response {
	start := time.Now()
	traceID := ulid.Make().String()
	resp := newResponse(traceID, req)
	logger := c.logger.WithTrace(traceID)

	ctx, span := telemetry.StartSpan(ctx, "engine.iterate", telemetry.AttrTraceID.String(traceID))
	defer func() {
		c.finish(ctx, span, logger, req, resp, start)
	}()

	if req == nil {
		c.fail(resp, apperrors.New(apperrors.ErrCodeInvalidInput, "request body is required"))
		return resp
	}
	span.SetAttributes(
		telemetry.AttrModel.String(req.Model),
		telemetry.AttrIteration.Int(req.Iteration),
	)

	attributes, err := validate(req)
	if err != nil {
		c.fail(resp, err)
		return resp
	}

	detection := c.detector.Detect(req.Blackboard)
	warning := loopdetect.Warning(detection)
	if detection.Detected {
		resp.LoopDetected = true
		telemetry.LoopWarnings.Inc()
		_ = logger.Warn(logging.CategoryLoop, "loop.detected", "repeated blackboard content", map[string]any{
			"content": detection.Content,
			"count":   detection.Count,
			"window":  detection.Window,
		})
	}

	snapshot := memory.Snapshot{
		Blackboard: req.Blackboard,
		Scratchpad: req.Scratchpad,
		Attributes: attributes,
		Artifacts:  req.Artifacts,
	}
	vars := prompt.Render(prompt.State{
		Prompt:           req.Prompt,
		Iteration:        req.Iteration,
		Memory:           snapshot,
		SessionFiles:     req.SessionFiles,
		PreviousResults:  req.PreviousResults,
		AssistanceAnswer: req.AssistanceAnswer,
		Tools:            c.catalog(req.Tools),
		LoopWarning:      warning,
	})
	system, err := prompt.Assemble(req.TemplateSections, vars)
	resp.Debug.SystemPrompt = system
	if err != nil {
		c.fail(resp, err)
		return resp
	}
	resp.Debug.PromptTokens = c.countTok(system) + c.countTok(req.Prompt)
	resp.Debug.Provider = model.ProviderOf(req.Model)

	if c.completer == nil {
		c.fail(resp, apperrors.New(apperrors.ErrCodeConfiguration, "no model client configured"))
		return resp
	}
	completion, err := c.completer.Complete(ctx, model.Prompt{
		Model:     req.Model,
		System:    system,
		User:      req.Prompt,
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		c.fail(resp, err)
		return resp
	}
	resp.Debug.RawLLMResponse = completion.Text
	if completion.Provider != "" {
		resp.Debug.Provider = completion.Provider
	}

	parsed := c.parser.Parse(completion.Text)
	if parsed == nil {
		resp.Debug.ParseTier = string(parse.TierFailed)
		c.fail(resp, apperrors.New(apperrors.ErrCodeParse, "model response could not be parsed"))
		return resp
	}
	resp.Debug.ParseTier = string(parsed.Tier)
	span.SetAttributes(telemetry.AttrParseTier.String(string(parsed.Tier)))
	resp.Warnings = append(resp.Warnings, parsed.Warnings...)

	if parsed.Tier == parse.TierSalvaged {
		resp.Reasoning = parsed.Response.Reasoning
		resp.MessageToUser = parsed.Response.MessageToUser
		c.fail(resp, apperrors.New(apperrors.ErrCodeParse, parse.SalvagedMessage))
		return resp
	}

	out := parsed.Response
	normalize(resp, out, req.Iteration)

	if out.ScratchpadUpdate != nil {
		updated, err := req.Scratchpad.Apply(*out.ScratchpadUpdate)
		if err != nil {
			resp.warn("scratchpad_update ignored: " + err.Error())
		} else {
			text := string(updated)
			resp.Scratchpad = &text
			snapshot.Scratchpad = updated
		}
	}
	if len(out.Artifacts) > 0 {
		snapshot.Artifacts = append(append(memory.Artifacts(nil), req.Artifacts...), out.Artifacts...)
	}

	calls := assignCallIDs(out.ToolCalls)
	resp.ToolCalls = calls
	span.SetAttributes(telemetry.AttrToolCalls.Int(len(calls)))

	outcome := c.dispatcher.Dispatch(ctx, calls, snapshot, req.SecretOverrides)
	if outcome.Results != nil {
		resp.ToolResults = outcome.Results
	}
	if outcome.FrontendHandlers != nil {
		resp.FrontendHandlers = outcome.FrontendHandlers
	}
	if outcome.AttributeUpdates != nil {
		resp.AttributeUpdates = outcome.AttributeUpdates
	}
	for _, miss := range outcome.Misses {
		telemetry.ReferenceMisses.WithLabelValues(string(miss.Kind)).Inc()
		resp.warn(fmt.Sprintf("reference not found: %s:%s", miss.Kind, miss.Name))
	}

	return resp
}

// catalog merges request specs with server-side tools that have none.
func (c *Controller) catalog(specs []tool.Spec) []tool.Spec {
	out := append([]tool.Spec(nil), specs...)
	if c.tools == nil {
		return out
	}
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		seen[s.Name] = true
	}
	for _, name := range c.tools.Names() {
		if !seen[name] {
			out = append(out, tool.Spec{Name: name})
		}
	}
	return out
}

// fail marks resp as a failed iteration. Status is forced to error.
func (c *Controller) fail(resp *Response, err error) {
	resp.Success = false
	resp.Status = StatusError
	resp.Error = errorMessage(err)
	resp.ErrorCode = string(apperrors.GetCode(err))
}

func (c *Controller) finish(ctx context.Context, span trace.Span, logger *logging.Logger, req *Request, resp *Response, start time.Time) {
	elapsed := time.Since(start)
	resp.Debug.DurationMs = elapsed.Milliseconds()

	telemetry.Iterations.WithLabelValues(string(resp.Status), fmt.Sprint(resp.Success)).Inc()
	telemetry.IterationLatency.Observe(elapsed.Seconds())
	span.SetAttributes(telemetry.AttrStatus.String(string(resp.Status)))
	var spanErr error
	if !resp.Success {
		spanErr = fmt.Errorf("%s: %s", resp.ErrorCode, resp.Error)
	}
	telemetry.EndSpan(span, spanErr)

	details := map[string]any{
		"status":      resp.Status,
		"success":     resp.Success,
		"parse_tier":  resp.Debug.ParseTier,
		"tool_calls":  len(resp.ToolCalls),
		"duration_ms": resp.Debug.DurationMs,
	}
	if resp.Success {
		_ = logger.Info(logging.CategoryEngine, "iteration.completed", "iteration finished", details)
	} else {
		details["error_code"] = resp.ErrorCode
		details["error"] = resp.Error
		_ = logger.Warn(logging.CategoryEngine, "iteration.failed", "iteration finished with error", details)
	}

	// Observers must not be cut short by a caller that already hung up.
	obsCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if c.events != nil {
		evt := bus.IterationCompleted{
			TraceID:    resp.Debug.TraceID,
			Model:      resp.Debug.Model,
			Provider:   resp.Debug.Provider,
			Status:     string(resp.Status),
			Success:    resp.Success,
			ErrorCode:  resp.ErrorCode,
			ToolCalls:  len(resp.ToolCalls),
			ParseTier:  resp.Debug.ParseTier,
			DurationMs: resp.Debug.DurationMs,
			Timestamp:  time.Now().UTC(),
		}
		if req != nil {
			evt.Iteration = req.Iteration
		}
		if err := c.events.PublishIteration(obsCtx, evt); err != nil {
			_ = logger.Warn(logging.CategoryEngine, "event.publish_failed", "could not publish iteration event", map[string]any{
				"error": err.Error(),
			})
		}
	}

	if c.archive != nil && req != nil {
		if err := c.archive.Save(obsCtx, record(req, resp)); err != nil {
			_ = logger.Warn(logging.CategoryEngine, "archive.save_failed", "could not archive iteration", map[string]any{
				"error": err.Error(),
			})
		}
	}
}

// redacted replaces secret override values in archived exchanges.
const redacted = "[REDACTED]"

// record snapshots the exchange for the archive. Secret override values are
// replaced in both the request and the frontend handlers they were merged
// into, so a replay runs without them.
func record(req *Request, resp *Response) archive.Record {
	reqJSON, err := json.Marshal(redactRequest(req))
	if err != nil {
		reqJSON = []byte("null")
	}
	respJSON, err := json.Marshal(redactResponse(resp, req.SecretOverrides))
	if err != nil {
		respJSON = []byte("null")
	}
	return archive.Record{
		TraceID:   resp.Debug.TraceID,
		Model:     req.Model,
		Iteration: req.Iteration,
		Status:    string(resp.Status),
		Success:   resp.Success,
		CreatedAt: time.Now().UTC(),
		Request:   reqJSON,
		Response:  respJSON,
	}
}

func redactRequest(req *Request) *Request {
	if len(req.SecretOverrides) == 0 {
		return req
	}
	cp := *req
	cp.SecretOverrides = make(dispatch.Overrides, len(req.SecretOverrides))
	for name, params := range req.SecretOverrides {
		masked := make(map[string]any, len(params))
		for key := range params {
			masked[key] = redacted
		}
		cp.SecretOverrides[name] = masked
	}
	return &cp
}

func redactResponse(resp *Response, overrides dispatch.Overrides) *Response {
	if len(overrides) == 0 || len(resp.FrontendHandlers) == 0 {
		return resp
	}
	cp := *resp
	cp.FrontendHandlers = make([]tool.Call, len(resp.FrontendHandlers))
	for i, call := range resp.FrontendHandlers {
		secrets := overrides[call.Tool]
		if len(secrets) == 0 {
			cp.FrontendHandlers[i] = call
			continue
		}
		masked := call.Clone()
		for key := range secrets {
			if _, ok := masked.Params[key]; ok {
				masked.Params[key] = redacted
			}
		}
		cp.FrontendHandlers[i] = masked
	}
	return &cp
}

func validate(req *Request) (memory.Attributes, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "prompt is required")
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "model is required")
	}
	if req.Iteration < 0 {
		return nil, apperrors.Newf(apperrors.ErrCodeInvalidInput, "iteration must not be negative, got %d", req.Iteration)
	}
	if err := req.Blackboard.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid blackboard")
	}
	attrs, err := memory.AttributesFromList(req.Attributes)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid attributes")
	}
	return attrs, nil
}

func assignCallIDs(calls []tool.Call) []tool.Call {
	out := make([]tool.Call, len(calls))
	for i, call := range calls {
		if strings.TrimSpace(call.ID) == "" {
			call.ID = uuid.NewString()
		}
		out[i] = call
	}
	return out
}

// errorMessage drops the code prefix; the code travels in ErrorCode.
func errorMessage(err error) string {
	appErr, ok := apperrors.As(err)
	if !ok {
		return err.Error()
	}
	if appErr.Underlying != nil {
		return appErr.Message + ": " + appErr.Underlying.Error()
	}
	return appErr.Message
}
