package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/specialistvlad/taskgrid/internal/ctxlog"
)

// LogReporter writes task outcomes to the context logger and, depending on
// the task's output style, replays captured output to a writer.
type LogReporter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewLogReporter creates a reporter that replays output to out.
func NewLogReporter(out io.Writer) *LogReporter {
	return &LogReporter{out: out}
}

// TaskFinished implements Reporter.
func (l *LogReporter) TaskFinished(ctx context.Context, r *TaskReport) error {
	logger := ctxlog.FromContext(ctx)
	attrs := []any{"target", r.Target.String(), "status", r.Status.String(), "duration", r.Duration()}
	if r.Hash != "" {
		attrs = append(attrs, "hash", r.Hash)
	}

	switch {
	case r.Err != nil:
		logger.Error("Task failed.", append(attrs, "error", r.Err)...)
	case r.Status.IsCached():
		logger.Info("Task restored from cache.", attrs...)
	default:
		logger.Info("Task finished.", attrs...)
	}

	return l.replay(r)
}

// RunFinished implements Reporter.
func (l *LogReporter) RunFinished(ctx context.Context, s *RunSummary) error {
	ctxlog.FromContext(ctx).Info("Run finished.",
		"duration", s.Duration, "passed", s.Passed, "cached", s.Cached, "failed", s.Failed, "skipped", s.Skipped)

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := fmt.Fprintf(l.out, "Tasks: %d completed (%d cached), %d failed, %d skipped\n",
		s.Passed+s.Cached, s.Cached, s.Failed, s.Skipped)
	return err
}

func (l *LogReporter) replay(r *TaskReport) error {
	out := r.Output()
	if out == nil {
		return nil
	}

	var b strings.Builder
	switch r.OutputStyle {
	case "none":
		return nil
	case "hash":
		if r.Hash == "" {
			return nil
		}
		fmt.Fprintf(&b, "%s %s\n", r.Target, r.Hash)
	case "stream":
		// Streamed tasks already wrote their output live; only failures replay stderr.
		if r.Err == nil {
			return nil
		}
		writePrefixed(&b, r.Target.String(), out.Stderr)
	default:
		writePrefixed(&b, r.Target.String(), out.Stdout)
		writePrefixed(&b, r.Target.String(), out.Stderr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := io.WriteString(l.out, b.String())
	return err
}

func writePrefixed(b *strings.Builder, prefix, text string) {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return
	}
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprintf(b, "%s | %s\n", prefix, line)
	}
}
