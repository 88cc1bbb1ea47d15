package prompts

import (
	"errors"
	"strings"
	"testing"

	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/tools"
)

var testDescs = []tools.Descriptor{
	{
		Name:        "book_recs",
		Description: "Book recommendations for a topic.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"topic": map[string]any{"type": "string"},
				"limit": map[string]any{"type": "integer"},
			},
			"required": []string{"topic"},
		},
	},
	{Name: "random_dog", Description: "Return a random dog image."},
}

func TestSystemPrompt(t *testing.T) {
	got := SystemPrompt("", testDescs, true, map[string]any{"favorite_genre": "fantasy"})

	for _, want := range []string{
		"Weekend Wizard",
		"- book_recs(topic, limit?): Book recommendations for a topic.",
		"- random_dog: Return a random dog image.",
		repeatAllowedRule,
		`{"action":"final","answer":`,
		`"favorite_genre":"fantasy"`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if strings.Contains(got, repeatForbiddenRule) {
		t.Error("repeat-allowed prompt should not forbid repeats")
	}
}

func TestSystemPrompt_CustomBaseAndNoRepeats(t *testing.T) {
	got := SystemPrompt("You are a test bot.\n", testDescs, false, nil)
	if !strings.HasPrefix(got, "You are a test bot.\n\n## Tool Rules") {
		t.Errorf("custom base not used verbatim:\n%s", got)
	}
	if !strings.Contains(got, repeatForbiddenRule) {
		t.Error("no-repeat prompt should forbid repeats")
	}
	if strings.Contains(got, "User Preferences") {
		t.Error("empty preferences should add no section")
	}
}

func TestToolManifest_Empty(t *testing.T) {
	if got := ToolManifest(nil); !strings.Contains(got, "no tools") {
		t.Errorf("ToolManifest(nil) = %q", got)
	}
}

func TestProgressSummary(t *testing.T) {
	tests := []struct {
		name     string
		counts   []ToolCount
		total    int
		required []ToolCount
		want     []string
	}{
		{
			name:   "counts",
			counts: []ToolCount{{"random_dog", 2}, {"trivia", 1}},
			total:  3,
			want:   []string{"Tools completed: random_dog (2x), trivia.", "Total calls: 3."},
		},
		{
			name:     "with required set",
			counts:   []ToolCount{{"random_dog", 1}},
			total:    1,
			required: []ToolCount{{"random_dog", 2}},
			want:     []string{"Required for this request: random_dog (2x)."},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ProgressSummary(tt.counts, tt.total, tt.required)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("ProgressSummary() = %q, missing %q", got, w)
				}
			}
		})
	}
}

func TestCorrections(t *testing.T) {
	unknown := UnknownToolCorrection("tell_joke", []string{"random_dog", "trivia"})
	if !strings.Contains(unknown, "'tell_joke' does not exist") || !strings.Contains(unknown, "random_dog, trivia") {
		t.Errorf("UnknownToolCorrection() = %q", unknown)
	}
	repeat := RepeatToolCorrection("trivia", []string{"trivia"})
	if !strings.Contains(repeat, "'trivia' has already been called") {
		t.Errorf("RepeatToolCorrection() = %q", repeat)
	}
	invalid := InvalidArgsCorrection("city_to_coords", errors.New(`property "city" is missing`))
	if !strings.Contains(invalid, `'city_to_coords' was not run: property "city" is missing`) || !strings.Contains(invalid, "Call it again") {
		t.Errorf("InvalidArgsCorrection() = %q", invalid)
	}
	if got := ParseErrorAnswer(errors.New("unexpected EOF")); got != "Error: could not parse model response: unexpected EOF" {
		t.Errorf("ParseErrorAnswer() = %q", got)
	}
}

func TestCompressionAndRequiredPrompts(t *testing.T) {
	if got := CompressionPrompt("find me a dog"); !strings.Contains(got, "find me a dog") {
		t.Error("compression prompt should contain the input")
	}
	got := RequiredToolsPrompt("two dogs please", ToolManifest(testDescs))
	if !strings.Contains(got, "two dogs please") || !strings.Contains(got, "- random_dog") {
		t.Errorf("RequiredToolsPrompt() = %q", got)
	}
}
