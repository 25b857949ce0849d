package core

import (
	"fmt"
	"time"
)

// StepPatch changes the status and progress of one named step.
type StepPatch struct {
	Name     StepName
	Status   StepStatus
	Progress int
}

// Patch lists the fields of a Job an update changes. Nil fields are left as they are.
type Patch struct {
	Status          *JobStatus
	Progress        *int
	Step            *StepPatch
	FailCurrentStep bool
	Result          *Result
	Error           *string
	CompletedAt     *time.Time
	CancelledAt     *time.Time
}

// StatusPtr, IntPtr, StringPtr and TimePtr build patch fields inline.
func StatusPtr(status JobStatus) *JobStatus { return &status }

func IntPtr(value int) *int { return &value }

func StringPtr(value string) *string { return &value }

func TimePtr(value time.Time) *time.Time { return &value }

// Apply validates the patch against job and returns the merged copy.
// The original job is never modified, so a rejected patch leaves no trace.
func (p Patch) Apply(job *Job, now time.Time) (*Job, error) {
	if job.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: job %s is %s", ErrJobTerminal, job.ID, job.Status)
	}

	next := job.Clone()

	err := p.applyStatus(next)
	if err != nil {
		return nil, err
	}

	if p.Progress != nil {
		progress := clampPercent(*p.Progress)
		if progress > next.Progress {
			next.Progress = progress
		}
	}

	if p.FailCurrentStep {
		for i := range next.Steps {
			if next.Steps[i].Status == StepStatusProcessing {
				next.Steps[i].Status = StepStatusFailed

				break
			}
		}
	}

	if p.Step != nil {
		err = applyStep(next, *p.Step)
		if err != nil {
			return nil, err
		}
	}

	if p.CompletedAt != nil {
		next.CompletedAt = TimePtr(*p.CompletedAt)
	}

	if p.CancelledAt != nil {
		next.CancelledAt = TimePtr(*p.CancelledAt)
	}

	next.UpdatedAt = now

	return next, nil
}

func (p Patch) applyStatus(next *Job) error {
	target := next.Status
	if p.Status != nil {
		target = *p.Status
	}

	if p.Result != nil && target != JobStatusCompleted {
		return fmt.Errorf("%w: result requires status %s", ErrInvalidPatch, JobStatusCompleted)
	}

	if p.Error != nil && target != JobStatusFailed {
		return fmt.Errorf("%w: error requires status %s", ErrInvalidPatch, JobStatusFailed)
	}

	if target == JobStatusCompleted && p.Result == nil && next.Result == nil {
		return fmt.Errorf("%w: completed job needs a result", ErrInvalidPatch)
	}

	if p.Status != nil && !isValidTransition(next.Status, target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, next.Status, target)
	}

	next.Status = target

	if p.Result != nil {
		result := *p.Result
		next.Result = &result
	}

	if p.Error != nil {
		next.Error = *p.Error
	}

	return nil
}

func applyStep(next *Job, patch StepPatch) error {
	index := -1

	for i, step := range next.Steps {
		if step.Name == patch.Name {
			index = i

			break
		}
	}

	if index < 0 {
		return fmt.Errorf("%w: unknown step %q", ErrInvalidPatch, patch.Name)
	}

	switch patch.Status {
	case StepStatusCompleted:
		for _, earlier := range next.Steps[:index] {
			if earlier.Status != StepStatusCompleted {
				return fmt.Errorf("%w: step %s completed before %s", ErrInvalidPatch, patch.Name, earlier.Name)
			}
		}
	case StepStatusProcessing:
		for i, other := range next.Steps {
			if i != index && other.Status == StepStatusProcessing {
				return fmt.Errorf("%w: step %s is already processing", ErrInvalidPatch, other.Name)
			}
		}
	case StepStatusPending, StepStatusFailed:
	}

	step := &next.Steps[index]
	step.Status = patch.Status

	progress := clampPercent(patch.Progress)
	if progress > step.Progress {
		step.Progress = progress
	}

	return nil
}

// isValidTransition enforces the job state machine edges.
func isValidTransition(from, to JobStatus) bool {
	if from == to {
		return true
	}

	switch from {
	case JobStatusPending:
		return to == JobStatusProcessing || to == JobStatusFailed || to == JobStatusCancelled
	case JobStatusProcessing:
		return to == JobStatusCompleted || to == JobStatusFailed || to == JobStatusCancelled
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return false
	default:
		return false
	}
}

func clampPercent(value int) int {
	switch {
	case value < 0:
		return 0
	case value > 100:
		return 100
	default:
		return value
	}
}
