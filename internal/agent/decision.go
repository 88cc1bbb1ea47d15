package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/prompts"
)

// DecisionKind tags the shape of a parsed model decision.
type DecisionKind int

const (
	// DecisionMalformed means the output could not be read as a decision.
	DecisionMalformed DecisionKind = iota
	// DecisionToolCall asks the loop to invoke a tool.
	DecisionToolCall
	// DecisionFinal carries the answer for the user.
	DecisionFinal
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionToolCall:
		return "tool_call"
	case DecisionFinal:
		return "final"
	default:
		return "malformed"
	}
}

// finalAction is the reserved action name that ends a cycle.
const finalAction = "final"

// Decision is one parsed model response. Only the fields for Kind are
// set: Tool and Args for a tool call, Answer for a final answer, Err for
// malformed output. Raw always holds the model's text.
type Decision struct {
	Kind   DecisionKind
	Tool   string
	Args   map[string]any
	Answer string
	Raw    string
	Err    error
}

// ParseDecision interprets raw model output. It never fails: anything
// that is not a usable decision comes back as DecisionMalformed.
//
// Output wrapped in a JSON array is read from its first element. An
// empty array or null becomes a placeholder final answer, and any other
// non-object JSON value becomes a final answer holding that value as
// text.
func ParseDecision(raw string) Decision {
	d := Decision{Raw: raw}

	v, err := decodeJSON(stripFences(raw))
	if err != nil {
		return malformed(d, err)
	}

	if arr, ok := v.([]any); ok {
		if len(arr) == 0 {
			return final(d, prompts.NoResponseAnswer)
		}
		v = arr[0]
	}

	obj, ok := v.(map[string]any)
	if !ok {
		if v == nil {
			return final(d, prompts.NoResponseAnswer)
		}
		return final(d, stringify(v))
	}

	action, _ := obj["action"].(string)
	action = strings.TrimSpace(action)
	if action == "" {
		return malformed(d, errors.New(`missing "action" field`))
	}

	if strings.EqualFold(action, finalAction) {
		switch a := obj["answer"].(type) {
		case nil:
			return final(d, "")
		case string:
			return final(d, a)
		default:
			return final(d, stringify(a))
		}
	}

	d.Kind = DecisionToolCall
	d.Tool = action
	switch args := obj["args"].(type) {
	case nil:
		d.Args = map[string]any{}
	case map[string]any:
		d.Args = args
	default:
		return malformed(Decision{Raw: raw}, fmt.Errorf(`"args" for %s must be an object, got %T`, action, args))
	}
	return d
}

func final(d Decision, answer string) Decision {
	d.Kind = DecisionFinal
	d.Answer = answer
	return d
}

func malformed(d Decision, err error) Decision {
	d.Kind = DecisionMalformed
	d.Err = err
	return d
}

// stripFences removes surrounding whitespace and a markdown code fence
// such as ```json ... ```.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// decodeJSON parses exactly one JSON value. Numbers are kept as
// json.Number so they stringify the way the model wrote them.
func decodeJSON(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty response")
		}
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON value")
	}
	return v, nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(v); err != nil {
			return fmt.Sprint(v)
		}
		return strings.TrimSpace(buf.String())
	}
}
