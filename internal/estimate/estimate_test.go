package estimate_test

import (
	"strings"
	"testing"
	"time"

	"github.com/book-expert/lecture-service/internal/core"
	"github.com/book-expert/lecture-service/internal/estimate"
	"github.com/stretchr/testify/assert"
)

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("word ", n))
}

func TestTotal(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		text     string
		style    string
		expected estimate.Estimate
	}{
		{name: "empty text costs the base time", text: "", style: "presentation", expected: estimate.Estimate{Seconds: 60, Minutes: 1}},
		{name: "500 words presentation", text: words(500), style: "presentation", expected: estimate.Estimate{Seconds: 210, Minutes: 3}},
		{name: "500 words modern", text: words(500), style: "modern", expected: estimate.Estimate{Seconds: 230, Minutes: 3}},
		{name: "500 words classic", text: words(500), style: "classic", expected: estimate.Estimate{Seconds: 230, Minutes: 3}},
		{name: "short text never under a minute", text: words(10), style: "minimal", expected: estimate.Estimate{Seconds: 63, Minutes: 1}},
		{name: "fractional seconds are dropped", text: words(3), style: "presentation", expected: estimate.Estimate{Seconds: 60, Minutes: 1}},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got := estimate.Total(testCase.text, core.Settings{VideoStyle: testCase.style})
			assert.Equal(t, testCase.expected, got)
		})
	}
}

func jobAt(progress int, elapsed time.Duration) *core.Job {
	created := time.Unix(1_700_000_000, 0)
	job := core.NewJob("job", "lecture", core.Inputs{}, created)
	job.Status = core.JobStatusProcessing
	job.Progress = progress
	job.UpdatedAt = created.Add(elapsed)

	return job
}

func TestRemaining_Buckets(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		job      *core.Job
		expected string
	}{
		{name: "not started", job: jobAt(0, time.Minute), expected: "5-10 minutes"},
		{name: "nearly done", job: jobAt(90, time.Hour), expected: "less than 1 minute"},
		{name: "mostly done", job: jobAt(70, time.Hour), expected: "1-2 minutes"},
		{name: "halfway", job: jobAt(40, time.Hour), expected: "2-4 minutes"},
		{name: "early and fast", job: jobAt(20, 10*time.Second), expected: "less than 1 minute"},
		{name: "early and moderate", job: jobAt(20, 30*time.Second), expected: "1-3 minutes"},
		{name: "early and slow", job: jobAt(20, 2*time.Minute), expected: "3-5 minutes"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.expected, estimate.Remaining(testCase.job))
		})
	}
}

func TestRemaining_IsStableForUnchangedJob(t *testing.T) {
	t.Parallel()

	job := jobAt(20, 30*time.Second)

	first := estimate.Remaining(job)
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, first, estimate.Remaining(job))
}

func TestModel_CustomPenalty(t *testing.T) {
	t.Parallel()

	model := estimate.DefaultModel()
	model.StylePenalty = map[string]float64{"minimal": 0.5}

	got := model.Total(words(100), core.Settings{VideoStyle: "minimal"})
	assert.Equal(t, 80, got.Seconds)
}
