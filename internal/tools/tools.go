// Package tools defines the tool registry the agent dispatches against.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
)

// Handler executes a tool. The returned payload is JSON-encoded into the
// result's raw text; strings pass through unchanged.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     Handler        `json:"-"`
}

// Descriptor is the model-facing view of a registered tool.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type entry struct {
	tool   Tool
	schema *openapi3.Schema
}

// Registry holds available tools. It is safe for concurrent use; tools
// are normally registered once at startup.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*entry
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*entry),
		logger: logger,
	}
}

// Register adds a tool. Empty or duplicate names, a nil handler, and
// argument schemas that do not compile are rejected.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return errors.New("tool name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %q: handler is required", t.Name)
	}
	if t.Parameters == nil {
		t.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	schema, err := compileSchema(t.Parameters)
	if err != nil {
		return fmt.Errorf("tool %q: %w", t.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Name]; ok {
		return fmt.Errorf("tool %q: %w", t.Name, ErrDuplicateTool)
	}
	r.tools[t.Name] = &entry{tool: t, schema: schema}
	return nil
}

// compileSchema turns a JSON-schema style parameter map into an
// openapi3 schema and checks that it is well formed.
func compileSchema(params map[string]any) (*openapi3.Schema, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}
	schema := openapi3.NewSchema()
	if err := json.Unmarshal(raw, schema); err != nil {
		return nil, fmt.Errorf("parse parameters schema: %w", err)
	}
	if err := schema.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid parameters schema: %w", err)
	}
	return schema, nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return Tool{}, false
	}
	return e.tool, true
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns the descriptors of all registered tools, sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, Descriptor{
			Name:        e.tool.Name,
			Description: e.tool.Description,
			Parameters:  e.tool.Parameters,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// OpenAIFunctions returns all tools in the OpenAI function-calling
// format, for providers with native tool support.
func (r *Registry) OpenAIFunctions() []map[string]any {
	descs := r.List()
	result := make([]map[string]any, 0, len(descs))
	for _, d := range descs {
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        d.Name,
				"description": d.Description,
				"parameters":  d.Parameters,
			},
		})
	}
	return result
}

// Invoke runs a tool by name. It never returns an error and never
// panics: unknown names, argument schema violations, handler errors and
// handler panics all come back as error results.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (res Result) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		err := &ErrToolUnavailable{ToolName: name, Suggestions: r.Suggest(name, 3, 3)}
		r.logger.Warn("unknown tool requested", "tool", name, "cycle_id", CycleIDFromContext(ctx))
		return ErrorResult(name, err)
	}

	args, err := e.check(args)
	if err != nil {
		return ErrorResult(name, err)
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked",
				"tool", name,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			res = ErrorResult(name, fmt.Errorf("tool %q panicked: %v", name, p))
		}
		r.logger.Debug("tool invoked",
			"tool", name,
			"status", res.Status,
			"cycle_id", CycleIDFromContext(ctx),
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	}()

	payload, err := e.tool.Handler(ctx, args)
	if err != nil {
		return ErrorResult(name, err)
	}
	return OKResult(name, payload)
}

// Validate checks args against the named tool's schema without running
// it. The error is *ErrToolUnavailable for unknown names and
// *ArgumentError for schema violations.
func (r *Registry) Validate(name string, args map[string]any) error {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return &ErrToolUnavailable{ToolName: name, Suggestions: r.Suggest(name, 3, 3)}
	}
	_, err := e.check(args)
	return err
}

// check normalizes args and validates them against the schema,
// collecting every violation.
func (e *entry) check(args map[string]any) (map[string]any, error) {
	args, err := normalizeArgs(args)
	if err != nil {
		return nil, &ArgumentError{Tool: e.tool.Name, Err: err}
	}
	if err := e.schema.VisitJSON(args, openapi3.MultiErrors()); err != nil {
		return nil, &ArgumentError{Tool: e.tool.Name, Err: errors.New(schemaReason(err))}
	}
	return args, nil
}

// schemaReason reduces a kin-openapi validation error to its reasons
// and JSON pointers, leaving out the schema and value dumps.
func schemaReason(err error) string {
	switch e := err.(type) {
	case openapi3.MultiError:
		parts := make([]string, 0, len(e))
		for _, inner := range e {
			parts = append(parts, schemaReason(inner))
		}
		return strings.Join(parts, "; ")
	case *openapi3.SchemaError:
		if ptr := e.JSONPointer(); len(ptr) > 0 {
			return "/" + strings.Join(ptr, "/") + ": " + e.Reason
		}
		return e.Reason
	}
	return err.Error()
}

// normalizeArgs deep-copies args through JSON so handlers receive the
// same value shapes (float64 numbers, []any, map[string]any) regardless
// of where the arguments came from.
func normalizeArgs(args map[string]any) (map[string]any, error) {
	if len(args) == 0 {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	return out, nil
}
