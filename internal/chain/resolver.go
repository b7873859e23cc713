// Package chain resolves refinement ancestry: given a parent reference it
// walks the pointer graph back to the originating artifact and reconstructs
// the minimal context a new refinement run needs. The graph is expected to
// be a finite acyclic forest rooted at original run outputs; resolution
// guards against cycles instead of trusting that.
package chain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chuahwb/ai-content-creation-sub005/internal/domain"
)

var (
	// ErrCyclicAncestry is returned when the parent pointers loop
	ErrCyclicAncestry = errors.New("cyclic ancestry")
	// ErrMissingParent is returned when a referenced ancestor does not exist
	ErrMissingParent = errors.New("missing ancestry parent")
	// ErrParentNotCompleted is returned when an ancestor has not reached
	// terminal COMPLETED status
	ErrParentNotCompleted = errors.New("parent not completed")
)

// Store is the read surface the resolver needs
type Store interface {
	GetRun(id string) (*domain.Run, error)
	GetRefinementJob(id string) (*domain.RefinementJob, error)
}

// Resolver walks refinement ancestry pointers
type Resolver struct {
	store Store
}

// New creates a Resolver reading from the given store
func New(store Store) *Resolver {
	return &Resolver{store: store}
}

// ResolveAncestor resolves the ancestry of an existing refinement job
func (r *Resolver) ResolveAncestor(jobID string) (*domain.AncestrySeed, error) {
	job, err := r.store.GetRefinementJob(jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: job %s", ErrMissingParent, jobID)
	}
	visited := map[string]bool{jobID: true}
	return r.resolve(job.ParentRunID, job.Parent, visited)
}

// ResolveParent resolves a parent reference before any job row exists, so
// ancestry errors are rejected at submission time.
func (r *Resolver) ResolveParent(parentRunID string, ref domain.ParentRef) (*domain.AncestrySeed, error) {
	return r.resolve(parentRunID, ref, make(map[string]bool))
}

func (r *Resolver) resolve(parentRunID string, ref domain.ParentRef, visited map[string]bool) (*domain.AncestrySeed, error) {
	cur := ref
	for {
		switch cur.Kind {
		case domain.ParentOriginal:
			return r.resolveOriginal(parentRunID, cur)

		case domain.ParentRefinement:
			if visited[cur.ID] {
				return nil, fmt.Errorf("%w: job %s revisited", ErrCyclicAncestry, cur.ID)
			}
			visited[cur.ID] = true

			parent, err := r.store.GetRefinementJob(cur.ID)
			if err != nil {
				return nil, fmt.Errorf("%w: refinement job %s", ErrMissingParent, cur.ID)
			}
			if parent.Status != domain.RunCompleted {
				return nil, fmt.Errorf("%w: refinement job %s is %s", ErrParentNotCompleted, parent.ID, parent.Status)
			}
			if parent.ArtifactRef != "" {
				// The nearest completed ancestor already carries the artifact;
				// no ancestor pipeline state is replayed beyond it.
				return r.seedFromRefinement(parent)
			}
			// A completed refinement without an artifact is a degenerate
			// record; keep walking toward the original.
			cur = parent.Parent

		default:
			return nil, fmt.Errorf("%w: invalid parent kind %q", ErrMissingParent, cur.Kind)
		}
	}
}

// seedFromRefinement builds the seed for a refinement-of-refinement. Only
// the root run's input prompt is read for continuity, never the root run's
// stage outputs.
func (r *Resolver) seedFromRefinement(parent *domain.RefinementJob) (*domain.AncestrySeed, error) {
	seed := &domain.AncestrySeed{
		ArtifactRef:     parent.ArtifactRef,
		OriginRunID:     parent.ParentRunID,
		GenerationIndex: -1,
		StyleSummary:    parent.Summary,
	}
	if run, err := r.store.GetRun(parent.ParentRunID); err == nil {
		seed.BasePrompt = run.Input.Prompt
	}
	return seed, nil
}

// resolveOriginal locates one of the parent run's rendered outputs
func (r *Resolver) resolveOriginal(parentRunID string, ref domain.ParentRef) (*domain.AncestrySeed, error) {
	run, err := r.store.GetRun(parentRunID)
	if err != nil {
		return nil, fmt.Errorf("%w: run %s", ErrMissingParent, parentRunID)
	}
	if run.Status != domain.RunCompleted {
		return nil, fmt.Errorf("%w: run %s is %s", ErrParentNotCompleted, run.ID, run.Status)
	}

	var render domain.RenderOutput
	var haveRender bool
	seed := &domain.AncestrySeed{
		OriginRunID:     run.ID,
		GenerationIndex: -1,
		BasePrompt:      run.Input.Prompt,
	}
	for _, rec := range run.Stages {
		if rec.Status != domain.StageCompleted || len(rec.Output) == 0 {
			continue
		}
		switch rec.Name {
		case "render":
			if err := json.Unmarshal(rec.Output, &render); err != nil {
				return nil, fmt.Errorf("run %s: decode render output: %w", run.ID, err)
			}
			haveRender = true
		case "style":
			var style domain.StyleOutput
			if err := json.Unmarshal(rec.Output, &style); err == nil {
				seed.StyleSummary = style.Summary
			}
		case "strategize":
			var strategy domain.StrategyOutput
			if err := json.Unmarshal(rec.Output, &strategy); err == nil {
				seed.StrategySummary = strategy.Summary
			}
		case "compose":
			var compose domain.ComposeOutput
			if err := json.Unmarshal(rec.Output, &compose); err == nil && compose.FinalPrompt != "" {
				seed.BasePrompt = compose.FinalPrompt
			}
		}
	}
	if !haveRender {
		return nil, fmt.Errorf("%w: run %s has no rendered output", ErrMissingParent, run.ID)
	}

	item, ok := render.Item(ref.ID)
	if !ok && ref.GenerationIndex != nil {
		idx := *ref.GenerationIndex
		if idx >= 0 && idx < len(render.Items) {
			item, ok = render.Items[idx], true
		}
	}
	if !ok || !item.OK {
		return nil, fmt.Errorf("%w: artifact %s not found in run %s", ErrMissingParent, ref.ID, run.ID)
	}

	seed.ArtifactRef = item.ArtifactRef
	seed.GenerationIndex = item.Index
	return seed, nil
}
