package testutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// AssertTaskReplayed checks that the log reporter replayed output for a
// target, which happens for every completed task with buffered output.
func AssertTaskReplayed(t *testing.T, result *HarnessResult, target, line string) {
	t.Helper()
	expected := target + " | " + line
	require.True(t,
		strings.Contains(result.LogOutput, expected),
		"expected replayed output %q was not found in logs", expected,
	)
}

// AssertSummary checks the counts of a finished run.
func AssertSummary(t *testing.T, result *HarnessResult, passed, cached, failed, skipped int) {
	t.Helper()
	require.NotNil(t, result.Summary, "run produced no summary: %v", result.Err)
	got := [4]int{result.Summary.Passed, result.Summary.Cached, result.Summary.Failed, result.Summary.Skipped}
	require.Equal(t, [4]int{passed, cached, failed, skipped}, got, "passed, cached, failed, skipped")
}
