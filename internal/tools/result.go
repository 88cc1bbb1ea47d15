package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Status is the outcome of a tool invocation.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Result is the outcome of one tool invocation. Results are created by
// the registry and not modified afterwards.
type Result struct {
	Tool    string `json:"tool"`
	Status  Status `json:"status"`
	Payload any    `json:"payload,omitempty"`
	Message string `json:"message,omitempty"`

	// RawText is the observation shown to the model: the payload as
	// JSON, or {"status":"error","message":...} for failures.
	RawText string `json:"-"`
}

// OK reports whether the invocation succeeded.
func (r Result) OK() bool { return r.Status == StatusOK }

// OKResult builds a successful result. String payloads are used as the
// raw text directly.
func OKResult(tool string, payload any) Result {
	res := Result{Tool: tool, Status: StatusOK, Payload: payload}
	switch p := payload.(type) {
	case string:
		res.RawText = p
	case []byte:
		res.RawText = string(p)
		res.Payload = string(p)
	default:
		raw, err := json.Marshal(payload)
		if err != nil {
			return ErrorResult(tool, fmt.Errorf("encode result: %w", err))
		}
		res.RawText = string(raw)
	}
	return res
}

// ErrorResult builds a failed result carrying err's message.
func ErrorResult(tool string, err error) Result {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	raw, _ := json.Marshal(struct {
		Status  Status `json:"status"`
		Message string `json:"message"`
	}{StatusError, msg})
	return Result{
		Tool:    tool,
		Status:  StatusError,
		Message: msg,
		RawText: string(raw),
	}
}

// Fields returns the payload as a JSON object, or nil when the payload
// is not object-shaped.
func (r Result) Fields() map[string]any {
	if m, ok := r.Payload.(map[string]any); ok {
		return m
	}
	if r.RawText == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(r.RawText), &m); err != nil {
		return nil
	}
	return m
}

// DecodeArgs converts validated arguments into a typed struct.
func DecodeArgs[T any](args map[string]any) (T, error) {
	var out T
	raw, err := json.Marshal(args)
	if err != nil {
		return out, fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode arguments: %w", err)
	}
	return out, nil
}

// Typed adapts a handler over a typed argument struct. Arguments are
// decoded after the registry has validated them against the schema.
func Typed[T any](fn func(ctx context.Context, args T) (any, error)) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		typed, err := DecodeArgs[T](args)
		if err != nil {
			return nil, err
		}
		return fn(ctx, typed)
	}
}
