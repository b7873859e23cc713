package domain

// RunMode identifies a pipeline variant with its own stage-list template
type RunMode string

const (
	ModeGeneration RunMode = "generation"
	ModeRefinement RunMode = "refinement"
	ModeCaption    RunMode = "caption"
)

// KnownModes lists every built-in pipeline mode
var KnownModes = []RunMode{ModeGeneration, ModeRefinement, ModeCaption}

// RunStatus represents the lifecycle state of a run or refinement job
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether s is a final status
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// StageStatus represents the execution state of one stage within a run
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// IsTerminal reports whether s is a final stage status
func (s StageStatus) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageSkipped
}

// stageRank orders stage statuses so transitions can be checked for monotonicity
func stageRank(s StageStatus) int {
	switch s {
	case StagePending:
		return 0
	case StageRunning:
		return 1
	default:
		return 2
	}
}

// CanTransition reports whether a stage may move from s to next without regressing
func (s StageStatus) CanTransition(next StageStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return stageRank(next) > stageRank(s)
}

// ErrorKind distinguishes expected domain failures from defects for triage
type ErrorKind string

const (
	ErrorKindStage  ErrorKind = "stage_error"
	ErrorKindDefect ErrorKind = "defect"
)

// RefinementType selects the concrete repair stage for a refinement run
type RefinementType string

const (
	RefineSubject RefinementType = "subject"
	RefineText    RefinementType = "text"
	RefinePrompt  RefinementType = "prompt"
)

// Valid reports whether t is a known refinement type
func (t RefinementType) Valid() bool {
	switch t {
	case RefineSubject, RefineText, RefinePrompt:
		return true
	}
	return false
}
