package prompts

import "fmt"

// requiredToolsTemplate asks which tools, and how many calls of each, a
// request needs. Format verbs: (1) tool manifest, (2) user message.
const requiredToolsTemplate = `Decide which of these tools are needed to fully answer the user's request,
and how many times each must be called.

Tools:
%s

Request:
%s

Respond with JSON only, mapping tool names to call counts. Use only the
names listed above and omit tools that are not needed:
{"tools": {"tool_name": 1}}`

// RequiredToolsPrompt returns the prompt for required-tool inference.
// manifest is the output of ToolManifest.
func RequiredToolsPrompt(message, manifest string) string {
	return fmt.Sprintf(requiredToolsTemplate, manifest, message)
}
