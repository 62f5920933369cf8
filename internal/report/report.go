// Package report receives the outcome of every task and of the run as a
// whole: the operation log, a short summary and, on failure, the error.
package report

import (
	"context"
	"errors"
	"time"

	"github.com/specialistvlad/taskgrid/internal/action"
	"github.com/specialistvlad/taskgrid/internal/target"
)

// TaskReport is handed over once per task run, whatever the outcome.
type TaskReport struct {
	Target      target.Target
	Hash        string
	Status      action.Status
	OutputStyle string
	Operations  action.OperationList
	Err         error
}

// Duration is the total time recorded by the task's operations.
func (r *TaskReport) Duration() time.Duration {
	return r.Operations.Duration()
}

// Output returns the captured output of the last execution or hydration.
func (r *TaskReport) Output() *action.Output {
	for i := len(r.Operations) - 1; i >= 0; i-- {
		if r.Operations[i].Output != nil {
			return r.Operations[i].Output
		}
	}
	return nil
}

// RunSummary describes a finished pipeline run.
type RunSummary struct {
	StartedAt time.Time
	Duration  time.Duration
	Passed    int
	Cached    int
	Failed    int
	Skipped   int
	Err       error
}

// Add counts a task status into the summary.
func (s *RunSummary) Add(status action.Status) {
	switch {
	case status.IsCached():
		s.Cached++
	case status.IsFailure():
		s.Failed++
	case status == action.StatusSkipped:
		s.Skipped++
	default:
		s.Passed++
	}
}

// Total is the number of tasks counted.
func (s *RunSummary) Total() int {
	return s.Passed + s.Cached + s.Failed + s.Skipped
}

// Reporter consumes task and run outcomes. Implementations must be safe for
// concurrent use: tasks of one batch report in parallel.
type Reporter interface {
	TaskFinished(ctx context.Context, r *TaskReport) error
	RunFinished(ctx context.Context, s *RunSummary) error
}

// Multi fans every report out to several reporters.
type Multi []Reporter

// TaskFinished implements Reporter.
func (m Multi) TaskFinished(ctx context.Context, r *TaskReport) error {
	var errs []error
	for _, rep := range m {
		errs = append(errs, rep.TaskFinished(ctx, r))
	}
	return errors.Join(errs...)
}

// RunFinished implements Reporter.
func (m Multi) RunFinished(ctx context.Context, s *RunSummary) error {
	var errs []error
	for _, rep := range m {
		errs = append(errs, rep.RunFinished(ctx, s))
	}
	return errors.Join(errs...)
}

// Nop discards every report.
type Nop struct{}

func (Nop) TaskFinished(context.Context, *TaskReport) error { return nil }
func (Nop) RunFinished(context.Context, *RunSummary) error  { return nil }
