// Package provider contains the LLM client used by the content and
// explore capabilities. Prompt templates and wording live with the
// capabilities, not here.
package provider

import "context"

// Generator produces text completions for capability modules.
type Generator interface {
	// Generate returns a completion for the given system and user prompts.
	Generate(ctx context.Context, system, prompt string) (string, error)
	// Model returns the configured model name, for health reporting.
	Model() string
}
