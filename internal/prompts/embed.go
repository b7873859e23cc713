// Package prompts provides externalized stage prompt templates with
// override support.
package prompts

import "embed"

//go:embed stage/*.md
var embeddedFS embed.FS
