package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fmueller/voxhub/internal/cli"
	"github.com/stretchr/testify/require"
)

func TestShouldPrintUsageHint(t *testing.T) {
	t.Parallel()

	require.True(t, shouldPrintUsageHint(errors.New("unknown command \"bad\" for \"voxhub\"")))
	require.True(t, shouldPrintUsageHint(errors.New("unknown flag: --oops")))
	require.True(t, shouldPrintUsageHint(errors.New("accepts 1 arg(s), received 0")))
	require.False(t, shouldPrintUsageHint(errors.New("download model \"small\": context deadline exceeded")))
	require.False(t, shouldPrintUsageHint(errors.New("invalid configuration: retention must be positive, got 0s")))
	require.False(t, shouldPrintUsageHint(nil))
}

func TestHelpHintTarget(t *testing.T) {
	t.Parallel()

	root := cli.NewRootCmd()
	require.Equal(t, "voxhub", helpHintTarget(nil, nil))
	require.Equal(t, "voxhub", helpHintTarget(root, []string{"--badflag"}))
	require.Equal(t, "voxhub", helpHintTarget(root, []string{"badcmd"}))
	require.Equal(t, "voxhub serve", helpHintTarget(root, []string{"serve", "--bogus"}))
	require.Equal(t, "voxhub transcribe", helpHintTarget(root, []string{"transcribe"}))
}

func TestRunExitCodes(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	require.Equal(t, exitUsage, run(cli.NewRootCmd(), []string{"--env-file=", "badcmd"}, &stderr))
	require.Contains(t, stderr.String(), "Run 'voxhub --help' for usage.")

	stderr.Reset()
	require.Equal(t, exitFailure, run(cli.NewRootCmd(), []string{"--env-file=", "sweep", "--retention", "0s"}, &stderr))
	require.Contains(t, stderr.String(), "retention must be positive")
	require.NotContains(t, stderr.String(), "--help")

	stderr.Reset()
	require.Equal(t, 0, run(cli.NewRootCmd(), []string{"--version"}, &stderr))
	require.Empty(t, stderr.String())
}
