// Package llm wraps an OpenRouter-compatible chat completions API with
// JSON-only response handling, optional image inputs, and transport-level
// retry with Retry-After awareness. It is shared by the classify, vision,
// and synthesis components.
package llm
