// Package prompts contains all LLM prompt templates used internally by Veris.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates use fmt.Sprintf interpolation, benefit from compile-time embedding,
// and can be validated by tests. User-facing configuration (persona system
// prompts) lives in the persona file; this package holds the text we inject
// into model context for internal operations (memory injection framing,
// truncation notices).
//
// Convention: each prompt category gets its own file with an exported
// function that accepts the dynamic parts and returns the fully interpolated
// prompt string.
package prompts
