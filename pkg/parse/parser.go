// Package parse turns raw model text into the canonical response structure,
// repairing common malformations through a fixed ladder of strategies.
package parse

import (
	"strings"

	"github.com/odvcencio/stepwise/pkg/logging"
	"github.com/odvcencio/stepwise/pkg/telemetry"
	"github.com/odvcencio/stepwise/pkg/tool"
)

// Tier names the strategy that produced a parse.
type Tier string

const (
	TierStrict    Tier = "strict"
	TierSanitized Tier = "sanitized"
	TierExtracted Tier = "extracted"
	TierSalvaged  Tier = "salvaged"
	TierFailed    Tier = "failed"
)

// SalvagedMessage is shown to the user when only reasoning survived.
const SalvagedMessage = "The model response could not be parsed as structured output. Please retry or rephrase the request."

// Result is a successful parse and the tier that produced it.
type Result struct {
	Response *Response
	Tier     Tier
	Warnings []string
}

// Parser runs the repair ladder.
type Parser struct {
	logger *logging.Logger
}

// New returns a parser that logs tier outcomes to logger.
func New(logger *logging.Logger) *Parser {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Parser{logger: logger}
}

// Parse uses a discarding logger.
func Parse(raw string) *Result {
	return New(nil).Parse(raw)
}

// Parse returns nil only when every tier fails.
func (p *Parser) Parse(raw string) *Result {
	res := p.parse(raw)
	if res == nil {
		telemetry.ParseTiers.WithLabelValues(string(TierFailed)).Inc()
		_ = p.logger.Warn(logging.CategoryParse, "parse.failed", "no tier could parse model output", map[string]any{
			"length": len(raw),
		})
		return nil
	}

	telemetry.ParseTiers.WithLabelValues(string(res.Tier)).Inc()
	details := map[string]any{"tier": string(res.Tier)}
	if len(res.Warnings) > 0 {
		details["warnings"] = res.Warnings
	}
	if res.Tier == TierSalvaged {
		_ = p.logger.Warn(logging.CategoryParse, "parse.salvaged", "only reasoning could be recovered", details)
	} else {
		_ = p.logger.Info(logging.CategoryParse, "parse.ok", "model output parsed", details)
	}
	return res
}

func (p *Parser) parse(raw string) *Result {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil
	}

	if obj, ok := decodeObject(text); ok {
		return build(obj, TierStrict)
	}
	if fixed, changed := sanitize(text); changed {
		if obj, ok := decodeObject(fixed); ok {
			return build(obj, TierSanitized)
		}
	}

	if outer, ok := outermostObject(text); ok {
		if obj, ok := decodeRepaired(outer); ok {
			return build(obj, TierExtracted)
		}
	}
	for _, candidate := range objectCandidates(text) {
		if obj, ok := decodeRepaired(candidate); ok {
			return build(obj, TierExtracted)
		}
	}

	if reasoning, ok := salvageReasoning(text); ok {
		return &Result{
			Response: &Response{
				Reasoning:     reasoning,
				ToolCalls:     []tool.Call{},
				Status:        "error",
				MessageToUser: SalvagedMessage,
			},
			Tier:     TierSalvaged,
			Warnings: []string{"response salvaged from malformed output"},
		}
	}
	return nil
}

func decodeRepaired(text string) (map[string]any, bool) {
	if obj, ok := decodeObject(text); ok {
		return obj, true
	}
	if fixed, changed := sanitize(text); changed {
		return decodeObject(fixed)
	}
	return nil, false
}

func build(obj map[string]any, tier Tier) *Result {
	resp, warnings := fromObject(obj)
	return &Result{Response: resp, Tier: tier, Warnings: warnings}
}
