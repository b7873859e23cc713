package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/chuahwb/ai-content-creation-sub005/internal/domain"
	"github.com/chuahwb/ai-content-creation-sub005/internal/engine"
	"github.com/chuahwb/ai-content-creation-sub005/internal/prompts"
)

// CaptionStage writes a platform-appropriate caption for the evaluated brief
type CaptionStage struct {
	LLM LLMClient
}

func (s *CaptionStage) Name() string { return "caption" }

func (s *CaptionStage) Execute(ctx context.Context, rc *engine.Context) (engine.Outcome, error) {
	v, err := rc.MustGet("eval")
	if err != nil {
		return engine.Outcome{}, err
	}
	eval := v.(domain.EvalOutput)

	system, err := prompts.Stage("caption", prompts.StageData{Platform: rc.Input.Platform})
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("caption: %w", err)
	}
	text, cost, err := s.LLM.Complete(ctx, system,
		fmt.Sprintf("subject: %s\nplatform: %s", eval.Subject, rc.Input.Platform))
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("caption: %w", err)
	}
	rc.AddCost(cost)

	return engine.Outcome{
		Output:  domain.CaptionOutput{Caption: strings.TrimSpace(text)},
		Message: "caption written",
	}, nil
}

// All returns the full stage set keyed by stage name, ready for mode
// resolution to index into
func All(llm LLMClient, images ImageClient, cfg Config) map[string]engine.Stage {
	set := []engine.Stage{
		&EvalStage{LLM: llm},
		&StrategizeStage{LLM: llm},
		&StyleStage{LLM: llm},
		&ComposeStage{LLM: llm},
		&RenderStage{Images: images, Cfg: cfg},
		&AssessStage{LLM: llm},
		&LoadBaseStage{},
		NewSubjectRepairStage(images),
		NewTextRepairStage(images),
		&PromptRefineStage{LLM: llm, Images: images},
		&SaveStage{},
		&CaptionStage{LLM: llm},
	}
	out := make(map[string]engine.Stage, len(set))
	for _, s := range set {
		out[s.Name()] = s
	}
	return out
}
