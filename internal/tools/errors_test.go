package tools

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrToolUnavailable_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ErrToolUnavailable
		want string
	}{
		{"no suggestions", &ErrToolUnavailable{ToolName: "tell_joke"}, `unknown tool "tell_joke"`},
		{
			"one suggestion",
			&ErrToolUnavailable{ToolName: "random_dogs", Suggestions: []string{"random_dog"}},
			`unknown tool "random_dogs" (did you mean "random_dog"?)`,
		},
		{
			"two suggestions",
			&ErrToolUnavailable{ToolName: "tivia", Suggestions: []string{"trivia", "tibia"}},
			`unknown tool "tivia" (did you mean "trivia" or "tibia"?)`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrToolUnavailable_WrappedErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("dispatch: %w", &ErrToolUnavailable{ToolName: "get_joke"})

	var target *ErrToolUnavailable
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As failed to match wrapped *ErrToolUnavailable")
	}
	if target.ToolName != "get_joke" {
		t.Errorf("ToolName = %q, want %q", target.ToolName, "get_joke")
	}
}

func TestArgumentError_Unwrap(t *testing.T) {
	inner := errors.New("property \"city\" is missing")
	err := &ArgumentError{Tool: "city_to_coords", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("errors.Is should see the wrapped schema error")
	}
	want := `invalid arguments for city_to_coords: property "city" is missing`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
