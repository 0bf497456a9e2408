package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestScriptRunsBatchToCompletion(t *testing.T) {
	script := strings.Join([]string{
		"# a small book",
		"book fx_spot USDINR 83.10 1000000",
		"book irs SOFR_5Y 4.30 5000000",
		"run eod",
		"status",
		"ls",
	}, "\n")

	out, _, err := run(t, script, "script", "--strict")
	require.NoError(t, err)
	assert.Contains(t, out, "> run eod")
	assert.Contains(t, out, "COMPLETE")
	assert.Contains(t, out, "FX-")
	assert.NotContains(t, out, "a small book")
}

func TestScriptStrictFailsOnBadCommand(t *testing.T) {
	_, errOut, err := run(t, "fly away\n", "script", "--strict")
	require.Error(t, err)
	assert.Contains(t, errOut, "unknown command")
}

func TestEODBooksRandomTrades(t *testing.T) {
	out, _, err := run(t, "", "eod", "--trades", "5", "--seed", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "> pnl")
	assert.Contains(t, out, "COMPLETE")

	again, _, err := run(t, "", "eod", "--trades", "5", "--seed", "42")
	require.NoError(t, err)
	assert.Equal(t, strings.Count(out, "\n"), strings.Count(again, "\n"))
}

func TestEODRejectsEmptyBook(t *testing.T) {
	_, _, err := run(t, "", "eod", "--trades", "0")
	assert.Error(t, err)
}
