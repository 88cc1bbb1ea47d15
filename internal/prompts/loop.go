package prompts

import (
	"fmt"
	"strings"
)

// NoResponseAnswer stands in for a model reply that carried nothing
// usable, such as an empty JSON array or null.
const NoResponseAnswer = "No response generated"

// IncompleteAnswer is returned when the step budget runs out and the
// forced final request does not produce an answer either.
const IncompleteAnswer = "I couldn't complete the request."

// forcedFinalPrompt is appended once the step budget is spent.
const forcedFinalPrompt = `You have reached the maximum number of steps. Do not call any more tools.
Using ONLY the tool results above, respond now with your final answer:
{"action":"final","answer":"..."}`

// ForcedFinalPrompt returns the instruction demanding a final answer.
func ForcedFinalPrompt() string {
	return forcedFinalPrompt
}

// UnknownToolCorrection tells the model it named a tool that does not
// exist, listing the valid names.
func UnknownToolCorrection(name string, valid []string) string {
	return fmt.Sprintf("ERROR: Tool '%s' does not exist. Available tools: %s. Use an available tool or provide the final answer.",
		name, strings.Join(valid, ", "))
}

// RepeatToolCorrection rejects a second call to a tool under the
// no-repeat policy.
func RepeatToolCorrection(name string, used []string) string {
	return fmt.Sprintf("ERROR: Tool '%s' has already been called and may not be called again. Tools already used: %s. Use a different tool or provide the final answer.",
		name, strings.Join(used, ", "))
}

// InvalidArgsCorrection rejects a tool call whose arguments do not
// match the tool's schema. The tool may be called again.
func InvalidArgsCorrection(name string, err error) string {
	return fmt.Sprintf("ERROR: Tool '%s' was not run: %v. Call it again with arguments that match its parameters, or provide the final answer.",
		name, err)
}

// MalformedCorrection asks the model to resend its decision as valid
// protocol JSON.
func MalformedCorrection(err error) string {
	return fmt.Sprintf(`ERROR: Your last response was not valid (%v). Respond with exactly one JSON object: {"action":"tool_name","args":{...}} or {"action":"final","answer":"..."}.`, err)
}

// ParseErrorAnswer is the diagnostic answer for an unparsable decision.
func ParseErrorAnswer(err error) string {
	return fmt.Sprintf("Error: could not parse model response: %v", err)
}

// ModelErrorAnswer is the diagnostic answer when the decision request
// itself fails.
func ModelErrorAnswer(err error) string {
	return fmt.Sprintf("Error: the language model request failed: %v", err)
}

// ToolCount is how often one tool has run in the current cycle.
type ToolCount struct {
	Name  string
	Count int
}

// ProgressSummary reports the tools completed so far so the model can
// check them against what the user asked for. required, when non-empty,
// is the inferred set of tools the request needs.
func ProgressSummary(counts []ToolCount, total int, required []ToolCount) string {
	var sb strings.Builder
	sb.WriteString("Tools completed: ")
	sb.WriteString(formatCounts(counts))
	sb.WriteString(fmt.Sprintf(". Total calls: %d.", total))
	if len(required) > 0 {
		sb.WriteString(" Required for this request: ")
		sb.WriteString(formatCounts(required))
		sb.WriteString(".")
	}
	sb.WriteString(" Check if the exact quantity requested by the user is met. If not, continue; if it is, give the final answer.")
	return sb.String()
}

func formatCounts(counts []ToolCount) string {
	parts := make([]string, len(counts))
	for i, c := range counts {
		if c.Count > 1 {
			parts[i] = fmt.Sprintf("%s (%dx)", c.Name, c.Count)
		} else {
			parts[i] = c.Name
		}
	}
	return strings.Join(parts, ", ")
}

// ToolObservation is the transcript entry for a tool result.
func ToolObservation(tool, rawText string) string {
	return fmt.Sprintf("Tool result (%s): %s", tool, rawText)
}

// ImageObservation replaces an inline image payload, which the model
// cannot usefully read, in the transcript.
func ImageObservation(tool string) string {
	return fmt.Sprintf("Tool result (%s): image received successfully. It will be attached to your answer automatically.", tool)
}
