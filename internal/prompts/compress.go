package prompts

import "fmt"

// compressionTemplate asks a model to boil a long request down to what
// the user actually wants. The single format verb is the truncated input.
const compressionTemplate = `The following user message is too long to process in full. Extract the
actionable request: what the user wants done, including any quantities,
places, topics or preferences it mentions. Reply with the request only, in
plain text, without commentary.

Message:
%s

Actionable request:`

// CompressionPrompt returns the prompt for input compression.
func CompressionPrompt(text string) string {
	return fmt.Sprintf(compressionTemplate, text)
}
