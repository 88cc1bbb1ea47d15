// Package prompts contains the prompt text the agent sends to models.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates use fmt.Sprintf interpolation and can be validated by tests. The
// one user-facing override is agent.system_prompt_file, which replaces the
// base directive; the tool manifest and protocol rules are always appended.
//
// Convention: each prompt category gets its own file (system.go, loop.go,
// compress.go, required.go) with an exported function that accepts the
// dynamic parts and returns the fully interpolated prompt string.
package prompts
