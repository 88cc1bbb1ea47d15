// Package agent implements the bounded tool-calling loop: the model
// proposes one action at a time as JSON, the loop validates and runs it
// against the tool registry, and the cycle always ends with an answer.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/compress"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/llm"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/prefs"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/prompts"
	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/tools"
)

// Outcome records how a cycle ended.
type Outcome string

const (
	OutcomeFinal       Outcome = "final"
	OutcomeForcedFinal Outcome = "forced_final"
	OutcomeExhausted   Outcome = "exhausted"
	OutcomeMalformed   Outcome = "malformed"
	OutcomeModelError  Outcome = "model_error"
)

// Result is what one cycle returns to its caller.
type Result struct {
	CycleID       string        `json:"cycle_id"`
	Answer        string        `json:"answer"`
	ToolsUsed     []string      `json:"tools_used"`
	Outcome       Outcome       `json:"outcome"`
	Model         string        `json:"model"`
	Steps         int           `json:"steps"`
	DecisionCalls int           `json:"decision_calls"`
	AuxCalls      int           `json:"aux_calls,omitempty"`
	InputTokens   int           `json:"input_tokens"`
	OutputTokens  int           `json:"output_tokens"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration_ns"`
}

// Config holds the loop's model settings and policy.
type Config struct {
	Model           string
	Temperature     float64
	TopP            float64
	MaxTokens       int
	DecisionTimeout time.Duration

	// MaxPromptChars is the request size above which the compressor
	// runs. Zero disables compression.
	MaxPromptChars int

	// SystemPrompt replaces the builtin base directive when non-empty.
	SystemPrompt string

	// Genres enables favorite-genre learning when non-empty.
	Genres []string

	Policy LoopPolicy
}

// Loop runs request cycles. A Loop is safe for concurrent Run calls;
// all per-cycle state lives inside Run. Setters must be called before
// the first Run.
type Loop struct {
	logger     *slog.Logger
	llm        llm.Client
	tools      *tools.Registry
	compressor *compress.Compressor
	prefs      prefs.Store
	observers  []CycleObserver
	cfg        Config
}

// NewLoop creates an agent loop.
func NewLoop(logger *slog.Logger, client llm.Client, registry *tools.Registry, cfg Config) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = tools.NewRegistry(logger)
	}
	cfg.Policy = cfg.Policy.normalized()
	return &Loop{
		logger: logger,
		llm:    client,
		tools:  registry,
		cfg:    cfg,
	}
}

// SetCompressor enables input compression.
func (l *Loop) SetCompressor(c *compress.Compressor) { l.compressor = c }

// SetPreferences attaches a preference store.
func (l *Loop) SetPreferences(s prefs.Store) { l.prefs = s }

// AddObserver registers a cycle observer.
func (l *Loop) AddObserver(o CycleObserver) { l.observers = append(l.observers, o) }

// Tools returns the registry the loop dispatches against.
func (l *Loop) Tools() *tools.Registry { return l.tools }

// Model returns the decision model name.
func (l *Loop) Model() string { return l.cfg.Model }

// Policy returns the effective loop policy.
func (l *Loop) Policy() LoopPolicy { return l.cfg.Policy }

// runState is the mutable state of one cycle.
type runState struct {
	toolsUsed []string
	steps     int
	pending   []tools.Result
}

func (s *runState) counts() []prompts.ToolCount {
	return countInOrder(s.toolsUsed)
}

// Run processes one user message from first decision to final answer.
// It never fails: errors become diagnostic answers, and the returned
// ToolsUsed is never nil.
func (l *Loop) Run(ctx context.Context, userMessage string) *Result {
	res := &Result{
		CycleID:   newCycleID(),
		Model:     l.cfg.Model,
		StartedAt: time.Now(),
	}
	ctx = tools.WithCycleID(ctx, res.CycleID)
	log := l.logger.With("cycle_id", res.CycleID)
	st := &runState{toolsUsed: []string{}}

	log.Info("cycle started", "model", l.cfg.Model, "input_chars", len([]rune(userMessage)))

	input := userMessage
	if l.compressor != nil {
		input = l.compressor.Compress(ctx, userMessage, l.cfg.MaxPromptChars)
	}
	p := l.loadPreferences(ctx, log, input)

	descs := l.tools.List()
	t := NewTranscript(prompts.SystemPrompt(l.cfg.SystemPrompt, descs, l.cfg.Policy.AllowRepeats, p))
	t.Append(llm.RoleUser, input)

	var required []prompts.ToolCount
	if l.cfg.Policy.InferRequiredTools {
		required = l.inferRequiredTools(ctx, log, input, descs, res)
	}

	l.iterate(ctx, log, t, st, required, res)

	res.ToolsUsed = slices.Clone(st.toolsUsed)
	res.Steps = st.steps
	res.Duration = time.Since(res.StartedAt)

	log.Info("cycle completed",
		"outcome", res.Outcome,
		"steps", res.Steps,
		"decision_calls", res.DecisionCalls,
		"tools_used", res.ToolsUsed,
		"input_tokens", res.InputTokens,
		"output_tokens", res.OutputTokens,
		"elapsed", res.Duration.Round(time.Millisecond),
	)

	obsCtx := context.WithoutCancel(ctx)
	for _, o := range l.observers {
		o.CycleCompleted(obsCtx, userMessage, res)
	}
	return res
}

// iterate drives the decision loop and fills in res.Answer and
// res.Outcome.
func (l *Loop) iterate(ctx context.Context, log *slog.Logger, t *Transcript, st *runState, required []prompts.ToolCount, res *Result) {
	policy := l.cfg.Policy
	malformedLeft := policy.MalformedRetries

	for st.steps < policy.MaxSteps {
		d, err := l.decide(ctx, t, res)
		if err != nil {
			log.Error("decision request failed", "step", st.steps, "error", err)
			res.Answer = prompts.ModelErrorAnswer(err)
			res.Outcome = OutcomeModelError
			return
		}

		switch d.Kind {
		case DecisionMalformed:
			if malformedLeft > 0 {
				malformedLeft--
				log.Warn("malformed decision, re-prompting",
					"error", d.Err,
					"retries_left", malformedLeft,
				)
				t.Append(llm.RoleAssistant, d.Raw)
				t.Append(llm.RoleSystem, prompts.MalformedCorrection(d.Err))
				continue
			}
			log.Warn("malformed decision, ending cycle", "error", d.Err, "raw", d.Raw)
			res.Answer = prompts.ParseErrorAnswer(d.Err)
			res.Outcome = OutcomeMalformed
			return

		case DecisionFinal:
			res.Answer = Assemble(d.Answer, st.toolsUsed, st.pending)
			res.Outcome = OutcomeFinal
			return

		case DecisionToolCall:
			st.steps++
			t.Append(llm.RoleAssistant, echoDecision(d))
			l.handleToolCall(ctx, log, t, st, d, required)
		}
	}

	log.Info("step budget exhausted, forcing final answer", "max_steps", policy.MaxSteps)
	t.Append(llm.RoleSystem, prompts.ForcedFinalPrompt())
	d, err := l.decide(ctx, t, res)
	if err == nil && d.Kind == DecisionFinal {
		res.Answer = Assemble(d.Answer, st.toolsUsed, st.pending)
		res.Outcome = OutcomeForcedFinal
		return
	}
	if err != nil {
		log.Error("forced final request failed", "error", err)
	} else {
		log.Warn("forced final request did not produce an answer", "kind", d.Kind)
	}
	res.Answer = Assemble(prompts.IncompleteAnswer, st.toolsUsed, st.pending)
	res.Outcome = OutcomeExhausted
}

// handleToolCall validates one tool call against the registry and the
// repeat policy, runs it, and records the observation.
func (l *Loop) handleToolCall(ctx context.Context, log *slog.Logger, t *Transcript, st *runState, d Decision, required []prompts.ToolCount) {
	if !l.tools.Has(d.Tool) {
		log.Warn("model requested unknown tool", "tool", d.Tool, "step", st.steps)
		t.Append(llm.RoleSystem, prompts.UnknownToolCorrection(d.Tool, l.tools.Names()))
		return
	}
	if !l.cfg.Policy.AllowRepeats && slices.Contains(st.toolsUsed, d.Tool) {
		log.Warn("model repeated a tool", "tool", d.Tool, "step", st.steps)
		t.Append(llm.RoleSystem, prompts.RepeatToolCorrection(d.Tool, st.toolsUsed))
		return
	}

	// Rejected arguments are not an execution: the tool stays callable
	// and nothing is recorded.
	if err := l.tools.Validate(d.Tool, d.Args); err != nil {
		log.Warn("tool arguments rejected", "tool", d.Tool, "step", st.steps, "error", err)
		t.Append(llm.RoleSystem, prompts.InvalidArgsCorrection(d.Tool, err))
		return
	}

	r := l.tools.Invoke(ctx, d.Tool, d.Args)
	st.toolsUsed = append(st.toolsUsed, d.Tool)
	st.pending = append(st.pending, r)

	log.Info("tool executed", "tool", d.Tool, "status", r.Status, "step", st.steps)
	if !r.OK() {
		log.Debug("tool error", "tool", d.Tool, "message", r.Message)
	}

	if _, isImage := imageMarkdown(r); isImage {
		t.Append(llm.RoleSystem, prompts.ImageObservation(d.Tool))
	} else {
		t.Append(llm.RoleSystem, prompts.ToolObservation(d.Tool, r.RawText))
	}
	t.Append(llm.RoleSystem, prompts.ProgressSummary(st.counts(), len(st.toolsUsed), required))
}

// decide requests one decision for the current transcript.
func (l *Loop) decide(ctx context.Context, t *Transcript, res *Result) (Decision, error) {
	callCtx := ctx
	if l.cfg.DecisionTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, l.cfg.DecisionTimeout)
		defer cancel()
	}

	res.DecisionCalls++
	resp, err := l.llm.Chat(callCtx, l.cfg.Model, t.Messages(), l.decisionOptions())
	if err != nil {
		return Decision{}, err
	}
	res.InputTokens += resp.InputTokens
	res.OutputTokens += resp.OutputTokens

	d := ParseDecision(resp.Message.Content)
	l.logger.Log(ctx, llm.LevelTrace, "decision received",
		"cycle_id", res.CycleID,
		"kind", d.Kind,
		"raw", resp.Message.Content,
	)
	return d, nil
}

func (l *Loop) decisionOptions() *llm.Options {
	opts := &llm.Options{
		Temperature: llm.Float(l.cfg.Temperature),
		MaxTokens:   l.cfg.MaxTokens,
		JSON:        true,
	}
	if l.cfg.TopP > 0 {
		opts.TopP = llm.Float(l.cfg.TopP)
	}
	return opts
}

// loadPreferences reads stored preferences and records a favorite genre
// mentioned in the request. Store failures are logged and ignored.
func (l *Loop) loadPreferences(ctx context.Context, log *slog.Logger, input string) prefs.Preferences {
	if l.prefs == nil {
		return nil
	}
	p, err := l.prefs.Load(ctx)
	if err != nil {
		log.Warn("failed to load preferences", "error", err)
		p = prefs.Preferences{}
	}

	genre := prefs.DetectGenre(input, l.cfg.Genres)
	if genre == "" || p[prefs.FavoriteGenreKey] == genre {
		return p
	}
	p = p.Clone()
	p[prefs.FavoriteGenreKey] = genre
	if err := l.prefs.Save(ctx, p); err != nil {
		log.Warn("failed to save preferences", "error", err)
	} else {
		log.Info("learned preference", "key", prefs.FavoriteGenreKey, "value", genre)
	}
	return p
}

// echoDecision renders a tool call back into the transcript as compact
// protocol JSON.
func echoDecision(d Decision) string {
	raw, err := json.Marshal(struct {
		Action string         `json:"action"`
		Args   map[string]any `json:"args"`
	}{d.Tool, d.Args})
	if err != nil {
		return d.Raw
	}
	return string(raw)
}

// countInOrder counts names, keeping first-appearance order.
func countInOrder(names []string) []prompts.ToolCount {
	var out []prompts.ToolCount
	idx := make(map[string]int)
	for _, n := range names {
		if i, ok := idx[n]; ok {
			out[i].Count++
			continue
		}
		idx[n] = len(out)
		out = append(out, prompts.ToolCount{Name: n, Count: 1})
	}
	return out
}

func newCycleID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
