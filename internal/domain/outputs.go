package domain

// Typed payloads for each stage family. Stages store these in the run
// context under their own name; the executor serializes them into the stage
// record, and downstream consumers (later stages, the chain resolver, API
// clients) read them back through these shapes.

// EvalOutput is produced by the eval stage
type EvalOutput struct {
	Subject    string  `json:"subject"`
	HasText    bool    `json:"has_text"`
	Confidence float64 `json:"confidence"`
}

// StrategyOutput is produced by the strategize stage
type StrategyOutput struct {
	Audience string `json:"audience"`
	Angle    string `json:"angle"`
	Summary  string `json:"summary"`
}

// StyleOutput is produced by the style stage
type StyleOutput struct {
	Palette []string `json:"palette,omitempty"`
	Summary string   `json:"summary"`
}

// ComposeOutput is produced by the compose stage
type ComposeOutput struct {
	FinalPrompt string `json:"final_prompt"`
}

// RenderItem is one variant produced by the render fan-out
type RenderItem struct {
	Index       int    `json:"index"`
	ID          string `json:"id,omitempty"`
	ArtifactRef string `json:"artifact_ref,omitempty"`
	OK          bool   `json:"ok"`
	Error       string `json:"error,omitempty"`
}

// RenderOutput is produced by the render stage. The per-item list carries
// partial failures; the stage itself only fails when every item failed.
type RenderOutput struct {
	Items []RenderItem `json:"items"`
}

// Item returns the render item with the given artifact ID
func (o RenderOutput) Item(artifactID string) (RenderItem, bool) {
	for _, it := range o.Items {
		if it.ID == artifactID {
			return it, true
		}
	}
	return RenderItem{}, false
}

// AssessOutput is produced by the optional assess stage
type AssessOutput struct {
	Scores []float64 `json:"scores"`
	Notes  string    `json:"notes,omitempty"`
}

// CaptionOutput is produced by the caption stage
type CaptionOutput struct {
	Caption string `json:"caption"`
}

// BaseImageOutput is produced by the load_base refinement stage
type BaseImageOutput struct {
	ArtifactRef string `json:"artifact_ref"`
	BasePrompt  string `json:"base_prompt,omitempty"`
}

// RefineOutput is produced by the repair/refine stages and by save
type RefineOutput struct {
	ArtifactRef string `json:"artifact_ref"`
	Summary     string `json:"summary,omitempty"`
}
