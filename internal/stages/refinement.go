package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/chuahwb/ai-content-creation-sub005/internal/domain"
	"github.com/chuahwb/ai-content-creation-sub005/internal/engine"
	"github.com/chuahwb/ai-content-creation-sub005/internal/prompts"
)

// LoadBaseStage seeds the refinement context with the resolved ancestor
// artifact. It requires the run to carry an ancestry payload.
type LoadBaseStage struct{}

func (s *LoadBaseStage) Name() string { return "load_base" }

func (s *LoadBaseStage) Execute(ctx context.Context, rc *engine.Context) (engine.Outcome, error) {
	if rc.Ancestry == nil {
		return engine.Outcome{}, fmt.Errorf("load_base: run has no resolved ancestry")
	}
	rc.Logf("info", "loaded base artifact %s from run %s", rc.Ancestry.ArtifactRef, rc.Ancestry.OriginRunID)
	return engine.Outcome{
		Output: domain.BaseImageOutput{
			ArtifactRef: rc.Ancestry.ArtifactRef,
			BasePrompt:  rc.Ancestry.BasePrompt,
		},
		Message: "base image loaded",
	}, nil
}

// repairStage is the shared body of the three conditional refinement stages
type repairStage struct {
	name        string
	instruction string
	Images      ImageClient
}

func (s *repairStage) Name() string { return s.name }

func (s *repairStage) Execute(ctx context.Context, rc *engine.Context) (engine.Outcome, error) {
	v, err := rc.MustGet("load_base")
	if err != nil {
		return engine.Outcome{}, err
	}
	base := v.(domain.BaseImageOutput)

	instruction := rc.Input.Prompt
	if instruction == "" {
		instruction = s.instruction
	}
	ref, cost, err := s.Images.Edit(ctx, base.ArtifactRef, instruction)
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("%s: %w", s.name, err)
	}
	rc.AddCost(cost)

	return engine.Outcome{
		Output:  domain.RefineOutput{ArtifactRef: ref, Summary: fmt.Sprintf("%s: %s", s.name, instruction)},
		Message: fmt.Sprintf("%s applied", s.name),
	}, nil
}

// NewSubjectRepairStage fixes the main subject of the base image
func NewSubjectRepairStage(images ImageClient) engine.Stage {
	return &repairStage{name: "subject_repair", instruction: "repair the main subject", Images: images}
}

// NewTextRepairStage fixes rendered text in the base image
func NewTextRepairStage(images ImageClient) engine.Stage {
	return &repairStage{name: "text_repair", instruction: "repair the rendered text", Images: images}
}

// PromptRefineStage re-renders the base image from an adjusted prompt
// instead of editing it in place
type PromptRefineStage struct {
	LLM    LLMClient
	Images ImageClient
}

func (s *PromptRefineStage) Name() string { return "prompt_refine" }

func (s *PromptRefineStage) Execute(ctx context.Context, rc *engine.Context) (engine.Outcome, error) {
	v, err := rc.MustGet("load_base")
	if err != nil {
		return engine.Outcome{}, err
	}
	base := v.(domain.BaseImageOutput)

	system, err := prompts.Stage("prompt_refine", prompts.StageData{})
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("prompt_refine: %w", err)
	}
	text, cost, err := s.LLM.Complete(ctx, system,
		fmt.Sprintf("base: %s\nadjustment: %s", base.BasePrompt, rc.Input.Prompt))
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("prompt_refine: %w", err)
	}
	rc.AddCost(cost)

	ref, cost, err := s.Images.Generate(ctx, strings.TrimSpace(text))
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("prompt_refine: %w", err)
	}
	rc.AddCost(cost)

	return engine.Outcome{
		Output:  domain.RefineOutput{ArtifactRef: ref, Summary: "re-rendered from refined prompt"},
		Message: "prompt refined and re-rendered",
	}, nil
}

// repairStageNames are the stages a conditional placeholder can resolve to
var repairStageNames = []string{"subject_repair", "text_repair", "prompt_refine"}

// SaveStage finalizes the refinement by surfacing whichever repair stage ran
type SaveStage struct{}

func (s *SaveStage) Name() string { return "save" }

func (s *SaveStage) Execute(ctx context.Context, rc *engine.Context) (engine.Outcome, error) {
	for _, name := range repairStageNames {
		v, ok := rc.Get(name)
		if !ok {
			continue
		}
		refined := v.(domain.RefineOutput)
		rc.Logf("info", "saved refined artifact %s", refined.ArtifactRef)
		return engine.Outcome{Output: refined, Message: "refinement saved"}, nil
	}
	return engine.Outcome{}, fmt.Errorf("%w: no repair stage output", engine.ErrMissingInput)
}
