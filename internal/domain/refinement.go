package domain

import (
	"fmt"
	"time"
)

// ParentKind discriminates what a refinement's parent pointer refers to
type ParentKind string

const (
	ParentOriginal   ParentKind = "original"
	ParentRefinement ParentKind = "refinement"
)

// ParentRef points at the artifact a refinement operates on: either one of a
// run's original outputs or the output of an earlier refinement job. Exactly
// one interpretation of ID applies, selected by Kind.
type ParentRef struct {
	Kind ParentKind
	// ID is the artifact identifier for ParentOriginal (scoped to the parent
	// run) or the RefinementJob ID for ParentRefinement.
	ID string
	// GenerationIndex selects one of N sibling outputs when Kind is
	// ParentOriginal and the parent run produced multiple variants.
	GenerationIndex *int
}

// Validate checks structural validity of the reference
func (p ParentRef) Validate() error {
	switch p.Kind {
	case ParentOriginal, ParentRefinement:
	default:
		return fmt.Errorf("invalid parent kind %q", p.Kind)
	}
	if p.ID == "" {
		return fmt.Errorf("parent image id is required")
	}
	if p.Kind == ParentRefinement && p.GenerationIndex != nil {
		return fmt.Errorf("generation index only applies to original parents")
	}
	return nil
}

// RefinementJob is a derived job that reworks an artifact produced by an
// earlier run or refinement. Its pipeline executes as a run of ModeRefinement
// referenced by RunID; status here mirrors that run.
type RefinementJob struct {
	ID           string
	ParentRunID  string
	Parent       ParentRef
	Type         RefinementType
	Status       RunStatus
	RunID        string
	Instruction  string
	Summary      string
	ArtifactRef  string
	CostUSD      float64
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// AncestrySeed is the minimal state a new refinement needs from its ancestry:
// the artifact being refined plus the continuity fields carried forward from
// the originating run. It never includes replayed ancestor stage outputs.
type AncestrySeed struct {
	ArtifactRef     string
	OriginRunID     string
	GenerationIndex int
	BasePrompt      string
	StyleSummary    string
	StrategySummary string
}
