package stages

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/chuahwb/ai-content-creation-sub005/internal/domain"
	"github.com/chuahwb/ai-content-creation-sub005/internal/engine"
	"github.com/chuahwb/ai-content-creation-sub005/internal/prompts"
)

// EvalStage analyzes the submitted prompt and flags what later stages need
// to know about the subject
type EvalStage struct {
	LLM LLMClient
}

func (s *EvalStage) Name() string { return "eval" }

func (s *EvalStage) Execute(ctx context.Context, rc *engine.Context) (engine.Outcome, error) {
	system, err := prompts.Stage("eval", prompts.StageData{})
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("eval: %w", err)
	}
	text, cost, err := s.LLM.Complete(ctx, system, rc.Input.Prompt)
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("eval: %w", err)
	}
	rc.AddCost(cost)
	rc.Logf("info", "evaluated subject: %s", text)

	out := domain.EvalOutput{
		Subject:    strings.TrimSpace(text),
		HasText:    strings.Contains(strings.ToLower(rc.Input.Prompt), "text"),
		Confidence: 1,
	}
	return engine.Outcome{Output: out, Message: "brief analyzed"}, nil
}

// StrategizeStage derives a creative angle from the evaluated brief
type StrategizeStage struct {
	LLM LLMClient
}

func (s *StrategizeStage) Name() string { return "strategize" }

func (s *StrategizeStage) Execute(ctx context.Context, rc *engine.Context) (engine.Outcome, error) {
	v, err := rc.MustGet("eval")
	if err != nil {
		return engine.Outcome{}, err
	}
	eval := v.(domain.EvalOutput)

	system, err := prompts.Stage("strategize", prompts.StageData{})
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("strategize: %w", err)
	}
	text, cost, err := s.LLM.Complete(ctx, system,
		fmt.Sprintf("subject: %s\nplatform: %s", eval.Subject, rc.Input.Platform))
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("strategize: %w", err)
	}
	rc.AddCost(cost)

	out := domain.StrategyOutput{
		Audience: rc.Input.Platform,
		Angle:    strings.TrimSpace(text),
		Summary:  strings.TrimSpace(text),
	}
	return engine.Outcome{Output: out, Message: "strategy drafted"}, nil
}

// StyleStage picks a visual direction consistent with the strategy
type StyleStage struct {
	LLM LLMClient
}

func (s *StyleStage) Name() string { return "style" }

func (s *StyleStage) Execute(ctx context.Context, rc *engine.Context) (engine.Outcome, error) {
	v, err := rc.MustGet("strategize")
	if err != nil {
		return engine.Outcome{}, err
	}
	strategy := v.(domain.StrategyOutput)

	system, err := prompts.Stage("style", prompts.StageData{})
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("style: %w", err)
	}
	text, cost, err := s.LLM.Complete(ctx, system, strategy.Angle)
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("style: %w", err)
	}
	rc.AddCost(cost)

	return engine.Outcome{
		Output:  domain.StyleOutput{Summary: strings.TrimSpace(text)},
		Message: "style guide ready",
	}, nil
}

// ComposeStage assembles the final diffusion prompt from the accumulated
// context
type ComposeStage struct {
	LLM LLMClient
}

func (s *ComposeStage) Name() string { return "compose" }

func (s *ComposeStage) Execute(ctx context.Context, rc *engine.Context) (engine.Outcome, error) {
	sv, err := rc.MustGet("strategize")
	if err != nil {
		return engine.Outcome{}, err
	}
	tv, err := rc.MustGet("style")
	if err != nil {
		return engine.Outcome{}, err
	}
	strategy := sv.(domain.StrategyOutput)
	style := tv.(domain.StyleOutput)

	system, err := prompts.Stage("compose", prompts.StageData{})
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("compose: %w", err)
	}
	text, cost, err := s.LLM.Complete(ctx, system,
		fmt.Sprintf("brief: %s\nangle: %s\nstyle: %s", rc.Input.Prompt, strategy.Angle, style.Summary))
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("compose: %w", err)
	}
	rc.AddCost(cost)

	return engine.Outcome{
		Output:  domain.ComposeOutput{FinalPrompt: strings.TrimSpace(text)},
		Message: "prompt assembled",
	}, nil
}

// RenderStage generates N variants concurrently under the configured
// fan-out bound. Item failures are carried per item; the stage only fails
// when every variant failed.
type RenderStage struct {
	Images ImageClient
	Cfg    Config
}

func (s *RenderStage) Name() string { return "render" }

func (s *RenderStage) Execute(ctx context.Context, rc *engine.Context) (engine.Outcome, error) {
	v, err := rc.MustGet("compose")
	if err != nil {
		return engine.Outcome{}, err
	}
	prompt := v.(domain.ComposeOutput).FinalPrompt

	n := rc.Input.NumVariants
	if n <= 0 {
		n = 1
	}

	var costMu sync.Mutex
	var totalCost float64
	results := engine.FanOut(ctx, n, s.Cfg.MaxConcurrentRenders, func(ctx context.Context, i int) (any, error) {
		if rc.CancelRequested() {
			return nil, fmt.Errorf("variant %d: cancelled", i)
		}
		ref, cost, err := s.Images.Generate(ctx, prompt)
		costMu.Lock()
		totalCost += cost
		costMu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("variant %d: %w", i, err)
		}
		return ref, nil
	})
	// Fan-out aggregates cost locally and reports it once.
	rc.AddCost(totalCost)

	out := domain.RenderOutput{Items: make([]domain.RenderItem, len(results))}
	for i, r := range results {
		item := domain.RenderItem{Index: i, OK: r.OK, Error: r.Error}
		if r.OK {
			item.ID = uuid.New().String()
			item.ArtifactRef = r.Output.(string)
		}
		out.Items[i] = item
	}

	if engine.AllFailed(results) {
		return engine.Outcome{}, fmt.Errorf("render: all %d variants failed", n)
	}
	ok := engine.SucceededCount(results)
	return engine.Outcome{
		Output:  out,
		Message: fmt.Sprintf("rendered %d/%d variants", ok, n),
	}, nil
}

// AssessStage scores the rendered variants. Optional in the generation
// mode: its failure does not abort the run.
type AssessStage struct {
	LLM LLMClient
}

func (s *AssessStage) Name() string { return "assess" }

func (s *AssessStage) Execute(ctx context.Context, rc *engine.Context) (engine.Outcome, error) {
	v, err := rc.MustGet("render")
	if err != nil {
		return engine.Outcome{}, err
	}
	render := v.(domain.RenderOutput)

	system, err := prompts.Stage("assess", prompts.StageData{})
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("assess: %w", err)
	}
	text, cost, err := s.LLM.Complete(ctx, system,
		fmt.Sprintf("brief: %s\nvariants: %d", rc.Input.Prompt, len(render.Items)))
	if err != nil {
		return engine.Outcome{}, fmt.Errorf("assess: %w", err)
	}
	rc.AddCost(cost)

	scores := make([]float64, 0, len(render.Items))
	for _, item := range render.Items {
		if item.OK {
			scores = append(scores, 1)
		} else {
			scores = append(scores, 0)
		}
	}
	return engine.Outcome{
		Output:  domain.AssessOutput{Scores: scores, Notes: strings.TrimSpace(text)},
		Message: "variants assessed",
	}, nil
}
