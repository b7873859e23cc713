// Package registry holds the mode templates that map a pipeline mode to its
// ordered stage list, resolves conditional placeholders against run flags,
// and answers which stages are required for a mode.
package registry

import (
	"fmt"
	"sync"

	"github.com/chuahwb/ai-content-creation-sub005/internal/domain"
)

// Conditional is the placeholder token a mode template may contain. Each
// occurrence is resolved to a concrete stage name before execution starts.
const Conditional = "conditional"

// ConfigError reports an unusable mode configuration. It is always raised
// before any run row is created.
type ConfigError struct {
	Mode   domain.RunMode
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("mode %q: %s", e.Mode, e.Reason)
}

// Flags carries the context values known before any stage executes that
// placeholder resolution may depend on.
type Flags struct {
	RefinementType domain.RefinementType
}

// ModeConfig is the declarative definition of one pipeline mode
type ModeConfig struct {
	Template []string
	// Optional marks stages whose failure does not abort the run.
	// Stages not listed are required.
	Optional map[string]bool
}

// Registry resolves mode templates to concrete ordered stage lists.
// Safe for concurrent use; Replace swaps the whole mode table atomically.
type Registry struct {
	mu    sync.RWMutex
	modes map[domain.RunMode]ModeConfig
}

// New creates a Registry seeded with the built-in mode table
func New() *Registry {
	return &Registry{modes: Defaults()}
}

// Defaults returns the built-in mode table
func Defaults() map[domain.RunMode]ModeConfig {
	return map[domain.RunMode]ModeConfig{
		domain.ModeGeneration: {
			Template: []string{"eval", "strategize", "style", "compose", "render", "assess"},
			Optional: map[string]bool{"assess": true},
		},
		domain.ModeRefinement: {
			Template: []string{"load_base", Conditional, "save"},
		},
		domain.ModeCaption: {
			Template: []string{"eval", "caption"},
		},
	}
}

// Replace swaps the mode table. Used by the modes-file watcher on reload.
func (r *Registry) Replace(modes map[domain.RunMode]ModeConfig) {
	r.mu.Lock()
	r.modes = modes
	r.mu.Unlock()
}

// Modes returns the names of all configured modes
func (r *Registry) Modes() []domain.RunMode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]domain.RunMode, 0, len(r.modes))
	for m := range r.modes {
		names = append(names, m)
	}
	return names
}

// ResolveStageList returns the concrete ordered stage list for (mode, flags).
// Resolution is pure: identical inputs always yield an identical list. An
// unknown mode or an unresolvable placeholder is a *ConfigError.
func (r *Registry) ResolveStageList(mode domain.RunMode, flags Flags) ([]string, error) {
	r.mu.RLock()
	cfg, ok := r.modes[mode]
	r.mu.RUnlock()
	if !ok {
		return nil, &ConfigError{Mode: mode, Reason: "unknown mode"}
	}

	stages := make([]string, 0, len(cfg.Template))
	for _, name := range cfg.Template {
		if name != Conditional {
			stages = append(stages, name)
			continue
		}
		concrete, err := resolveConditional(mode, flags)
		if err != nil {
			return nil, err
		}
		stages = append(stages, concrete)
	}
	return stages, nil
}

// resolveConditional selects the concrete stage for a placeholder occurrence.
// The switch is exhaustive over known refinement types; anything else is a
// configuration error, never a silent skip.
func resolveConditional(mode domain.RunMode, flags Flags) (string, error) {
	switch flags.RefinementType {
	case domain.RefineSubject:
		return "subject_repair", nil
	case domain.RefineText:
		return "text_repair", nil
	case domain.RefinePrompt:
		return "prompt_refine", nil
	case "":
		return "", &ConfigError{Mode: mode, Reason: "conditional stage requires a refinement type"}
	default:
		return "", &ConfigError{Mode: mode, Reason: fmt.Sprintf("no stage for refinement type %q", flags.RefinementType)}
	}
}

// IsRequired reports whether a stage's failure aborts the run for this mode.
// Stages resolved from a placeholder inherit the placeholder's criticality.
func (r *Registry) IsRequired(mode domain.RunMode, stage string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.modes[mode]
	if !ok {
		return true
	}
	return !cfg.Optional[stage]
}
