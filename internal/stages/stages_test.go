package stages

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/chuahwb/ai-content-creation-sub005/internal/domain"
	"github.com/chuahwb/ai-content-creation-sub005/internal/engine"
)

// fakeLLM returns canned text
type fakeLLM struct {
	text string
	err  error
}

func (f *fakeLLM) Complete(ctx context.Context, system, prompt string) (string, float64, error) {
	if f.err != nil {
		return "", 0, f.err
	}
	return f.text, 0.01, nil
}

// fakeImages counts calls and can fail selected ones
type fakeImages struct {
	calls    atomic.Int64
	failNth  map[int64]bool
	editErr  error
}

func (f *fakeImages) Generate(ctx context.Context, prompt string) (string, float64, error) {
	n := f.calls.Add(1)
	if f.failNth[n] {
		return "", 0.02, fmt.Errorf("provider rejected request")
	}
	return fmt.Sprintf("artifacts/img-%d.png", n), 0.02, nil
}

func (f *fakeImages) Edit(ctx context.Context, baseRef, instruction string) (string, float64, error) {
	if f.editErr != nil {
		return "", 0, f.editErr
	}
	return baseRef + ".edited.png", 0.03, nil
}

func genContext() *engine.Context {
	return engine.NewContext("run-1", domain.ModeGeneration, domain.InputSnapshot{
		Prompt:      "a lighthouse at dusk",
		Platform:    "instagram",
		NumVariants: 3,
	})
}

func TestEvalStage(t *testing.T) {
	rc := genContext()
	out, err := (&EvalStage{LLM: &fakeLLM{text: "lighthouse"}}).Execute(context.Background(), rc)
	if err != nil {
		t.Fatal(err)
	}
	eval := out.Output.(domain.EvalOutput)
	if eval.Subject != "lighthouse" {
		t.Errorf("subject = %q", eval.Subject)
	}
	if rc.CostUSD() == 0 {
		t.Error("cost not accrued")
	}
}

func TestStrategizeStage_MissingInput(t *testing.T) {
	rc := genContext()
	_, err := (&StrategizeStage{LLM: &fakeLLM{text: "x"}}).Execute(context.Background(), rc)
	if !errors.Is(err, engine.ErrMissingInput) {
		t.Errorf("error = %v, want ErrMissingInput", err)
	}
}

func TestRenderStage_PartialFailureSucceeds(t *testing.T) {
	rc := genContext()
	rc.Set("compose", domain.ComposeOutput{FinalPrompt: "lighthouse, dusk"})

	images := &fakeImages{failNth: map[int64]bool{2: true}}
	stage := &RenderStage{Images: images, Cfg: Config{MaxConcurrentRenders: 2}}

	out, err := stage.Execute(context.Background(), rc)
	if err != nil {
		t.Fatalf("stage should succeed on mixed results: %v", err)
	}
	render := out.Output.(domain.RenderOutput)
	if len(render.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(render.Items))
	}
	failed := 0
	for _, item := range render.Items {
		if !item.OK {
			failed++
			if item.Error == "" {
				t.Error("failed item missing error message")
			}
		} else if item.ID == "" || item.ArtifactRef == "" {
			t.Errorf("successful item missing id/ref: %+v", item)
		}
	}
	if failed != 1 {
		t.Errorf("failed items = %d, want 1", failed)
	}
	// Cost covers all three attempts, aggregated once.
	if got := rc.CostUSD(); got < 0.059 || got > 0.061 {
		t.Errorf("cost = %v, want ~0.06", got)
	}
}

func TestRenderStage_AllFailed(t *testing.T) {
	rc := genContext()
	rc.Set("compose", domain.ComposeOutput{FinalPrompt: "lighthouse"})
	images := &fakeImages{failNth: map[int64]bool{1: true, 2: true, 3: true}}
	stage := &RenderStage{Images: images, Cfg: Config{MaxConcurrentRenders: 2}}

	if _, err := stage.Execute(context.Background(), rc); err == nil {
		t.Fatal("stage should fail when every variant failed")
	}
}

func TestLoadBaseStage_RequiresAncestry(t *testing.T) {
	rc := engine.NewContext("run-2", domain.ModeRefinement, domain.InputSnapshot{})
	if _, err := (&LoadBaseStage{}).Execute(context.Background(), rc); err == nil {
		t.Fatal("expected error without ancestry")
	}

	rc.Ancestry = &domain.AncestrySeed{ArtifactRef: "artifacts/img-1.png", BasePrompt: "lighthouse"}
	out, err := (&LoadBaseStage{}).Execute(context.Background(), rc)
	if err != nil {
		t.Fatal(err)
	}
	base := out.Output.(domain.BaseImageOutput)
	if base.ArtifactRef != "artifacts/img-1.png" {
		t.Errorf("artifact = %q", base.ArtifactRef)
	}
}

func TestRepairAndSave(t *testing.T) {
	rc := engine.NewContext("run-2", domain.ModeRefinement, domain.InputSnapshot{Prompt: "fix the headline"})
	rc.Ancestry = &domain.AncestrySeed{ArtifactRef: "artifacts/img-1.png"}
	rc.Set("load_base", domain.BaseImageOutput{ArtifactRef: "artifacts/img-1.png"})

	repair := NewTextRepairStage(&fakeImages{})
	out, err := repair.Execute(context.Background(), rc)
	if err != nil {
		t.Fatal(err)
	}
	rc.Set(repair.Name(), out.Output)

	saved, err := (&SaveStage{}).Execute(context.Background(), rc)
	if err != nil {
		t.Fatal(err)
	}
	refined := saved.Output.(domain.RefineOutput)
	if refined.ArtifactRef != "artifacts/img-1.png.edited.png" {
		t.Errorf("artifact = %q", refined.ArtifactRef)
	}
}

func TestSaveStage_NoRepairOutput(t *testing.T) {
	rc := engine.NewContext("run-2", domain.ModeRefinement, domain.InputSnapshot{})
	if _, err := (&SaveStage{}).Execute(context.Background(), rc); !errors.Is(err, engine.ErrMissingInput) {
		t.Errorf("error = %v, want ErrMissingInput", err)
	}
}

func TestAll_CoversEveryTemplateStage(t *testing.T) {
	set := All(&fakeLLM{text: "x"}, &fakeImages{}, Config{MaxConcurrentRenders: 2})
	for _, name := range []string{
		"eval", "strategize", "style", "compose", "render", "assess",
		"load_base", "subject_repair", "text_repair", "prompt_refine", "save", "caption",
	} {
		if _, ok := set[name]; !ok {
			t.Errorf("stage %q missing from set", name)
		}
	}
}
