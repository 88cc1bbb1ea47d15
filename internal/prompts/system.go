package prompts

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/PS-dhruvi-bhimani/weekend-wizard/internal/tools"
)

// baseSystemTemplate is the default directive used when no system prompt
// file is configured.
const baseSystemTemplate = `You are Weekend Wizard, an autonomous assistant with access to tools.
You MUST always respond with a single JSON object.

## Core Behavior
- Be friendly, concise and accurate.
- If real-world, dynamic or factual data is required, call the appropriate tool.
- NEVER make up tool results. Use the actual tool output values in your final answer.
- Carefully analyze the request. If the user asks for several things or a specific
  quantity, identify EXACTLY what is needed:
  * "two dog images" means calling random_dog exactly 2 times
  * "a dog image and some trivia" means calling random_dog once, then trivia once
  * "3 book recommendations" means calling book_recs once with limit=3
- For city names, call city_to_coords first, then get_weather with the returned
  coordinates. When the user already gives coordinates, call get_weather directly.

## Final Answer
- Present each result naturally and separately.
- Do not mention tool names, and do not say that you used a tool.
- Images are attached to your answer automatically; do not paste image data.`

// protocolTemplate is always appended after the base directive. Format
// verbs: (1) repeat rule, (2) tool manifest.
const protocolTemplate = `

## Tool Rules
- Call ONE tool at a time: {"action":"tool_name","args":{...}}
- ONLY use tools from the list below. NEVER invent tool names or arguments.
- %s

## Available Tools
%s

## Response Format
To call a tool:
{"action":"tool_name","args":{...}}

When you have everything you need:
{"action":"final","answer":"Your response using the tool data"}`

const (
	repeatAllowedRule   = "You may call the same tool again when the user asked for more than one result of that kind."
	repeatForbiddenRule = "NEVER call a tool that has already been called in this conversation."
)

// BaseSystemPrompt returns the builtin directive.
func BaseSystemPrompt() string {
	return baseSystemTemplate
}

// SystemPrompt assembles the first transcript message: the base
// directive (builtin or from a file), the protocol rules for the
// configured repeat policy, the tool manifest and any stored user
// preferences.
func SystemPrompt(base string, descs []tools.Descriptor, allowRepeats bool, prefs map[string]any) string {
	if strings.TrimSpace(base) == "" {
		base = baseSystemTemplate
	}
	rule := repeatForbiddenRule
	if allowRepeats {
		rule = repeatAllowedRule
	}

	var sb strings.Builder
	sb.WriteString(strings.TrimRight(base, "\n"))
	sb.WriteString(fmt.Sprintf(protocolTemplate, rule, ToolManifest(descs)))
	if section := preferencesSection(prefs); section != "" {
		sb.WriteString("\n\n")
		sb.WriteString(section)
	}
	return sb.String()
}

// ToolManifest renders one line per tool with its argument names.
func ToolManifest(descs []tools.Descriptor) string {
	if len(descs) == 0 {
		return "(no tools are available; answer directly)"
	}
	var sb strings.Builder
	for i, d := range descs {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("- ")
		sb.WriteString(d.Name)
		if args := argumentNames(d.Parameters); args != "" {
			sb.WriteString("(" + args + ")")
		}
		if d.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(d.Description)
		}
	}
	return sb.String()
}

// argumentNames lists schema properties, marking optional ones with "?".
func argumentNames(params map[string]any) string {
	props, _ := params["properties"].(map[string]any)
	if len(props) == 0 {
		return ""
	}
	required := make(map[string]bool)
	switch req := params["required"].(type) {
	case []string:
		for _, r := range req {
			required[r] = true
		}
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if required[names[i]] != required[names[j]] {
			return required[names[i]]
		}
		return names[i] < names[j]
	})
	for i, name := range names {
		if !required[name] {
			names[i] = name + "?"
		}
	}
	return strings.Join(names, ", ")
}

func preferencesSection(prefs map[string]any) string {
	if len(prefs) == 0 {
		return ""
	}
	raw, err := json.Marshal(prefs)
	if err != nil {
		return ""
	}
	return "## User Preferences\nKnown preferences (use them when relevant, e.g. for book topics):\n" + string(raw)
}
