package runner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/specialistvlad/taskgrid/internal/target"
)

var (
	// ErrMissingDependencyState means a dependency of a task never recorded
	// an outcome. The scheduler broke its ordering contract; the run must stop.
	ErrMissingDependencyState = errors.New("dependency has no recorded state")
	// ErrRunFailed matches every *RunFailedError.
	ErrRunFailed = errors.New("task run failed")
	// ErrMissingOutputs means a task finished without creating its declared outputs.
	ErrMissingOutputs = errors.New("task did not create its declared outputs")
)

// RunFailedError is returned when a task's command exits non-zero after all retries.
type RunFailedError struct {
	Target   target.Target
	ExitCode int
	Attempts int
	Stderr   string
}

func (e *RunFailedError) Error() string {
	msg := fmt.Sprintf("task %s failed with exit code %d", e.Target, e.ExitCode)
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + lastLine(stderr)
	}
	return msg
}

// Is lets errors.Is match ErrRunFailed.
func (e *RunFailedError) Is(target error) bool {
	return target == ErrRunFailed
}

// MissingOutputsError lists the outputs a task failed to produce.
type MissingOutputsError struct {
	Target  target.Target
	Missing []string
}

func (e *MissingOutputsError) Error() string {
	return fmt.Sprintf("task %s defines outputs %s but they do not exist", e.Target, strings.Join(e.Missing, ", "))
}

func (e *MissingOutputsError) Unwrap() error {
	return ErrMissingOutputs
}

// IsFatal reports whether err must abort the whole run rather than only the task.
func IsFatal(err error) bool {
	return errors.Is(err, ErrMissingDependencyState)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
