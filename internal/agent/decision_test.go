package agent

import (
	"testing"

	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/prompts"
)

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantKind   DecisionKind
		wantTool   string
		wantAnswer string
		wantArgs   int
	}{
		{"empty array", `[]`, DecisionFinal, "", prompts.NoResponseAnswer, 0},
		{"null", `null`, DecisionFinal, "", prompts.NoResponseAnswer, 0},
		{"broken json", `{not json`, DecisionMalformed, "", "", 0},
		{"list wrapped final", `[{"action":"final","answer":"x"}]`, DecisionFinal, "", "x", 0},
		{"list wrapped null", `[null]`, DecisionFinal, "", prompts.NoResponseAnswer, 0},
		{"final", `{"action":"final","answer":"Sunny and 21°C."}`, DecisionFinal, "", "Sunny and 21°C.", 0},
		{"final missing answer", `{"action":"final"}`, DecisionFinal, "", "", 0},
		{"final numeric answer", `{"action":"final","answer":3}`, DecisionFinal, "", "3", 0},
		{"final uppercase", `{"action":"FINAL","answer":"ok"}`, DecisionFinal, "", "ok", 0},
		{"tool call", `{"action":"city_to_coords","args":{"city":"Paris"}}`, DecisionToolCall, "city_to_coords", "", 1},
		{"tool call without args", `{"action":"random_dog"}`, DecisionToolCall, "random_dog", "", 0},
		{"tool call null args", `{"action":"trivia","args":null}`, DecisionToolCall, "trivia", "", 0},
		{"extra keys ignored", `{"action":"trivia","args":{},"thought":"fun"}`, DecisionToolCall, "trivia", "", 0},
		{"non-object args", `{"action":"trivia","args":"none"}`, DecisionMalformed, "", "", 0},
		{"missing action", `{"answer":"hi"}`, DecisionMalformed, "", "", 0},
		{"non-string action", `{"action":7}`, DecisionMalformed, "", "", 0},
		{"bare number", `42`, DecisionFinal, "", "42", 0},
		{"bare float keeps formatting", `1.50`, DecisionFinal, "", "1.50", 0},
		{"bare string", `"hello there"`, DecisionFinal, "", "hello there", 0},
		{"bare bool", `true`, DecisionFinal, "", "true", 0},
		{"array of numbers", `[1, 2]`, DecisionFinal, "", "1", 0},
		{"nested array", `[[1,2]]`, DecisionFinal, "", "[1,2]", 0},
		{"empty", ``, DecisionMalformed, "", "", 0},
		{"whitespace", "  \n ", DecisionMalformed, "", "", 0},
		{"free text", `Sure! Here is a dog.`, DecisionMalformed, "", "", 0},
		{"trailing text", `{"action":"final","answer":"x"} hope this helps`, DecisionMalformed, "", "", 0},
		{"fenced", "```json\n{\"action\":\"final\",\"answer\":\"fenced\"}\n```", DecisionFinal, "", "fenced", 0},
		{"fenced no language", "```\n{\"action\":\"trivia\"}\n```", DecisionToolCall, "trivia", "", 0},
		{"surrounding whitespace", "\n\t{\"action\":\"final\",\"answer\":\"y\"}  \n", DecisionFinal, "", "y", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ParseDecision(tt.raw)
			if d.Kind != tt.wantKind {
				t.Fatalf("Kind = %v, want %v (err=%v)", d.Kind, tt.wantKind, d.Err)
			}
			if d.Raw != tt.raw {
				t.Errorf("Raw = %q, want original text", d.Raw)
			}
			switch d.Kind {
			case DecisionFinal:
				if d.Answer != tt.wantAnswer {
					t.Errorf("Answer = %q, want %q", d.Answer, tt.wantAnswer)
				}
			case DecisionToolCall:
				if d.Tool != tt.wantTool {
					t.Errorf("Tool = %q, want %q", d.Tool, tt.wantTool)
				}
				if d.Args == nil {
					t.Fatal("Args must never be nil for a tool call")
				}
				if len(d.Args) != tt.wantArgs {
					t.Errorf("len(Args) = %d, want %d", len(d.Args), tt.wantArgs)
				}
			case DecisionMalformed:
				if d.Err == nil {
					t.Error("malformed decision must carry an error")
				}
				if d.Tool != "" || d.Args != nil {
					t.Errorf("malformed decision leaked tool fields: %+v", d)
				}
			}
		})
	}
}

func TestDecisionKindString(t *testing.T) {
	for kind, want := range map[DecisionKind]string{
		DecisionMalformed: "malformed",
		DecisionToolCall:  "tool_call",
		DecisionFinal:     "final",
	} {
		if got := kind.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", kind, got, want)
		}
	}
}
