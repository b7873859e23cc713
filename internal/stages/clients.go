// Package stages implements the stage units for the built-in pipeline
// modes. Stages talk to their collaborators through the client interfaces
// below, injected at construction, so runs are isolated and testable without
// network access.
package stages

import "context"

// LLMClient is the text-model collaborator used by analysis and prompt
// stages. Implementations own their retry budget; a returned error means the
// call could not complete.
type LLMClient interface {
	Complete(ctx context.Context, system, prompt string) (text string, costUSD float64, err error)
}

// ImageClient is the diffusion-model collaborator used by render and repair
// stages
type ImageClient interface {
	Generate(ctx context.Context, prompt string) (artifactRef string, costUSD float64, err error)
	Edit(ctx context.Context, baseRef, instruction string) (artifactRef string, costUSD float64, err error)
}

// Config tunes stage behavior
type Config struct {
	// MaxConcurrentRenders bounds the render fan-out to respect provider
	// rate limits.
	MaxConcurrentRenders int
}
