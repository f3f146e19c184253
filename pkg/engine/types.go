package engine

import (
	"github.com/odvcencio/stepwise/pkg/dispatch"
	"github.com/odvcencio/stepwise/pkg/memory"
	"github.com/odvcencio/stepwise/pkg/prompt"
	"github.com/odvcencio/stepwise/pkg/tool"
)

// Status is the iteration state reported back to the caller.
type Status string

const (
	StatusInProgress      Status = "in_progress"
	StatusNeedsAssistance Status = "needs_assistance"
	StatusCompleted       Status = "completed"
	StatusError           Status = "error"
)

// Terminal reports whether the caller should stop issuing iterations.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Request is the complete state snapshot for one iteration. The caller owns
// it and resubmits memory on every call.
type Request struct {
	Prompt           string               `json:"prompt"`
	Model            string               `json:"model"`
	Blackboard       memory.Blackboard    `json:"blackboard"`
	Scratchpad       memory.Scratchpad    `json:"scratchpad"`
	SessionFiles     []memory.SessionFile `json:"sessionFiles,omitempty"`
	PreviousResults  []tool.Result        `json:"previousResults,omitempty"`
	Iteration        int                  `json:"iteration"`
	AssistanceAnswer string               `json:"assistanceAnswer,omitempty"`
	SecretOverrides  dispatch.Overrides   `json:"secretOverrides,omitempty"`
	Attributes       []memory.Attribute   `json:"attributes,omitempty"`
	Artifacts        memory.Artifacts     `json:"artifacts,omitempty"`
	TemplateSections []prompt.Section     `json:"templateSections"`
	Tools            []tool.Spec          `json:"tools,omitempty"`
}

// Response is the delta and next actions for one iteration. It is returned
// for every outcome, including failures.
type Response struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`

	Reasoning       string            `json:"reasoning"`
	ToolCalls       []tool.Call       `json:"toolCalls"`
	BlackboardEntry *memory.Entry     `json:"blackboardEntry,omitempty"`
	Status          Status            `json:"status"`
	MessageToUser   string            `json:"messageToUser,omitempty"`
	Artifacts       []memory.Artifact `json:"artifacts,omitempty"`
	FinalReport     any               `json:"finalReport,omitempty"`

	ToolResults      []tool.Result      `json:"toolResults"`
	FrontendHandlers []tool.Call        `json:"frontendHandlers"`
	Scratchpad       *string            `json:"scratchpad,omitempty"`
	AttributeUpdates []memory.Attribute `json:"attributeUpdates"`

	LoopDetected bool     `json:"loopDetected"`
	Warnings     []string `json:"warnings"`
	Debug        Debug    `json:"debug"`
}

// Debug is the observability trace attached to every response.
type Debug struct {
	TraceID        string `json:"traceId"`
	SystemPrompt   string `json:"systemPrompt"`
	UserPrompt     string `json:"userPrompt"`
	RawLLMResponse string `json:"rawLLMResponse"`
	ParseTier      string `json:"parseTier,omitempty"`
	Provider       string `json:"provider,omitempty"`
	Model          string `json:"model,omitempty"`
	PromptTokens   int    `json:"promptTokens"`
	DurationMs     int64  `json:"durationMs"`
}

func newResponse(traceID string, req *Request) *Response {
	resp := &Response{
		Success:          true,
		Status:           StatusInProgress,
		ToolCalls:        []tool.Call{},
		ToolResults:      []tool.Result{},
		FrontendHandlers: []tool.Call{},
		AttributeUpdates: []memory.Attribute{},
		Warnings:         []string{},
		Debug:            Debug{TraceID: traceID},
	}
	if req != nil {
		resp.Debug.UserPrompt = req.Prompt
		resp.Debug.Model = req.Model
	}
	return resp
}

func (r *Response) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}
