// Package estimate predicts how long a lecture job takes and how much of it is left.
package estimate

import (
	"strings"

	"github.com/book-expert/lecture-service/internal/core"
)

// Remaining-time labels reported while a job runs.
const (
	LabelNotStarted  = "5-10 minutes"
	LabelUnderMinute = "less than 1 minute"
	LabelOneToTwo    = "1-2 minutes"
	LabelTwoToFour   = "2-4 minutes"
	LabelOneToThree  = "1-3 minutes"
	LabelThreeToFive = "3-5 minutes"
)

const (
	secondsPerMinute    = 60
	fullProgressPercent = 100
)

// Estimate is the predicted total processing time of a job.
type Estimate struct {
	Seconds int `json:"seconds"`
	Minutes int `json:"minutes"`
}

// Model holds the tunable constants of the estimator.
type Model struct {
	BaseSeconds           float64
	AudioSecondsPerWord   float64
	VideoSecondsPerWord   float64
	StylePenalty          map[string]float64
	NearlyDoneProgress    int
	MostlyDoneProgress    int
	HalfwayProgress       int
	ShortRemainingSeconds float64
	LongRemainingSeconds  float64
}

// DefaultModel returns the estimator constants used by the service.
func DefaultModel() Model {
	return Model{
		BaseSeconds:         60,
		AudioSecondsPerWord: 0.1,
		VideoSecondsPerWord: 0.2,
		StylePenalty: map[string]float64{
			"modern":  1.2,
			"classic": 1.2,
		},
		NearlyDoneProgress:    90,
		MostlyDoneProgress:    70,
		HalfwayProgress:       40,
		ShortRemainingSeconds: 60,
		LongRemainingSeconds:  180,
	}
}

// Total estimates the processing time for text rendered with settings.
func (m Model) Total(text string, settings core.Settings) Estimate {
	words := float64(len(strings.Fields(text)))

	penalty, ok := m.StylePenalty[settings.VideoStyle]
	if !ok {
		penalty = 1.0
	}

	seconds := m.BaseSeconds + words*m.AudioSecondsPerWord + words*m.VideoSecondsPerWord*penalty
	whole := int(seconds)

	minutes := whole / secondsPerMinute
	if minutes < 1 {
		minutes = 1
	}

	return Estimate{Seconds: whole, Minutes: minutes}
}

// Remaining describes the time left for job as a coarse label.
// Elapsed time is measured up to the job's last update, so repeated calls on an
// unchanged job return the same label.
func (m Model) Remaining(job *core.Job) string {
	progress := job.Progress

	switch {
	case progress <= 0:
		return LabelNotStarted
	case progress >= m.NearlyDoneProgress:
		return LabelUnderMinute
	case progress >= m.MostlyDoneProgress:
		return LabelOneToTwo
	case progress >= m.HalfwayProgress:
		return LabelTwoToFour
	}

	elapsed := job.UpdatedAt.Sub(job.CreatedAt).Seconds()
	remaining := elapsed * (fullProgressPercent/float64(progress) - 1)

	switch {
	case remaining < m.ShortRemainingSeconds:
		return LabelUnderMinute
	case remaining < m.LongRemainingSeconds:
		return LabelOneToThree
	default:
		return LabelThreeToFive
	}
}

// Total estimates with the default model.
func Total(text string, settings core.Settings) Estimate {
	return DefaultModel().Total(text, settings)
}

// Remaining labels the time left with the default model.
func Remaining(job *core.Job) string {
	return DefaultModel().Remaining(job)
}
