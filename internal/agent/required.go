package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"

	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/llm"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/prompts"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/tools"
)

// inferRequiredTools asks the model which registered tools the request
// needs and how often. Unknown names and non-positive counts are
// dropped. Any failure yields nil.
func (l *Loop) inferRequiredTools(ctx context.Context, log *slog.Logger, input string, descs []tools.Descriptor, res *Result) []prompts.ToolCount {
	if len(descs) == 0 {
		return nil
	}
	callCtx := ctx
	if l.cfg.DecisionTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, l.cfg.DecisionTimeout)
		defer cancel()
	}

	res.AuxCalls++
	resp, err := l.llm.Chat(callCtx, l.cfg.Model, []llm.Message{
		{Role: llm.RoleUser, Content: prompts.RequiredToolsPrompt(input, prompts.ToolManifest(descs))},
	}, &llm.Options{Temperature: llm.Float(0), JSON: true})
	if err != nil {
		log.Warn("required tool inference failed", "error", err)
		return nil
	}
	res.InputTokens += resp.InputTokens
	res.OutputTokens += resp.OutputTokens

	counts := parseRequiredTools(resp.Message.Content, descs, l.cfg.Policy.MaxSteps)
	log.Debug("inferred required tools", "tools", counts)
	return counts
}

// parseRequiredTools reads {"tools":{"name":count}} and returns the
// known names in registry order. Counts are capped at limit, since no
// cycle can run a tool more often than it has steps.
func parseRequiredTools(raw string, descs []tools.Descriptor, limit int) []prompts.ToolCount {
	var parsed struct {
		Tools map[string]float64 `json:"tools"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil {
		return nil
	}
	var out []prompts.ToolCount
	for _, d := range descs {
		n, ok := parsed.Tools[d.Name]
		if !ok || n < 1 {
			continue
		}
		out = append(out, prompts.ToolCount{Name: d.Name, Count: int(math.Round(min(n, float64(limit))))})
	}
	return out
}
