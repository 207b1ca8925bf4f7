package workflow

import (
	"fmt"
	"slices"
	"strings"
)

// Stage names a step of the exam workflow.
type Stage string

const (
	StageStudentSetup     Stage = "student_setup"
	StageTemplateSetup    Stage = "template_setup"
	StageUploadProcessing Stage = "upload_processing"
	StageMarking          Stage = "marking"
	StageReview           Stage = "review"
	StageCompleted        Stage = "completed"
)

var stageOrder = []Stage{
	StageStudentSetup,
	StageTemplateSetup,
	StageUploadProcessing,
	StageMarking,
	StageReview,
	StageCompleted,
}

// Stages returns every stage in workflow order.
func Stages() []Stage {
	return slices.Clone(stageOrder)
}

// ParseStage resolves a stage name.
func ParseStage(value string) (Stage, error) {
	candidate := Stage(strings.ToLower(strings.TrimSpace(value)))
	if slices.Contains(stageOrder, candidate) {
		return candidate, nil
	}
	return "", fmt.Errorf("unknown stage %q", value)
}

func (s Stage) index() int {
	return slices.Index(stageOrder, s)
}

// StageStatus is the lifecycle of a single stage.
type StageStatus string

const (
	StatusPending    StageStatus = "pending"
	StatusInProgress StageStatus = "in_progress"
	StatusCompleted  StageStatus = "completed"
	StatusFailed     StageStatus = "failed"
)

// Graph is the stage dependency graph for one workflow configuration.
type Graph struct {
	SkipReview bool
}

// Active lists the stages that participate in the workflow, in order.
func (g Graph) Active() []Stage {
	active := make([]Stage, 0, len(stageOrder))
	for _, stage := range stageOrder {
		if g.Includes(stage) {
			active = append(active, stage)
		}
	}
	return active
}

// Includes reports whether the stage participates in the workflow.
func (g Graph) Includes(stage Stage) bool {
	if stage == StageReview && g.SkipReview {
		return false
	}
	return stage.index() >= 0
}

// Dependencies returns the stages that must be completed before entering stage.
func (g Graph) Dependencies(stage Stage) []Stage {
	if !g.Includes(stage) {
		return nil
	}
	active := g.Active()
	idx := slices.Index(active, stage)
	if idx <= 0 {
		return nil
	}
	return []Stage{active[idx-1]}
}

// Next returns the stage that follows stage, if any.
func (g Graph) Next(stage Stage) (Stage, bool) {
	active := g.Active()
	idx := slices.Index(active, stage)
	if idx < 0 || idx+1 >= len(active) {
		return "", false
	}
	return active[idx+1], true
}

// Downstream returns every stage that depends on stage, directly or not.
func (g Graph) Downstream(stage Stage) []Stage {
	active := g.Active()
	idx := slices.Index(active, stage)
	if idx < 0 {
		return nil
	}
	return slices.Clone(active[idx+1:])
}
