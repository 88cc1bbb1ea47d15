package tools

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicateTool is returned by Register when the name is taken.
var ErrDuplicateTool = errors.New("tool already registered")

// ErrToolUnavailable reports a call to a tool that is not in the
// registry. Suggestions holds close registered names, if any.
type ErrToolUnavailable struct {
	ToolName    string
	Suggestions []string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	msg := fmt.Sprintf("unknown tool %q", e.ToolName)
	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf(" (did you mean %s?)", quoteJoin(e.Suggestions))
	}
	return msg
}

// ArgumentError reports arguments that do not match a tool's schema.
type ArgumentError struct {
	Tool string
	Err  error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

func quoteJoin(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	return strings.Join(quoted, " or ")
}
