package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvidae-ai/warden/pkg/executor"
)

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"--version"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		assert.Contains(t, output.String(), "warden version")
		assert.Contains(t, output.String(), GetVersion())
	})

	t.Run("help flag", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"--help"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		helpText := output.String()
		assert.Contains(t, helpText, "Warden")
		assert.Contains(t, helpText, "run")
		assert.Contains(t, helpText, "status")
	})

	t.Run("global flags", func(t *testing.T) {
		cmd := GetRootCmd()

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		logLevelFlag := cmd.PersistentFlags().Lookup("log-level")
		require.NotNil(t, logLevelFlag)
	})
}

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	assert.NotEmpty(t, version)
	assert.True(t, strings.HasPrefix(version, "0."))
}

func TestReadTask(t *testing.T) {
	t.Run("should build a task from argument text", func(t *testing.T) {
		runTaskFile = ""
		task, err := readTask([]string{"summarize", "the", "report"})
		require.NoError(t, err)
		assert.Equal(t, "summarize the report", task.Text)
	})

	t.Run("should require a task", func(t *testing.T) {
		runTaskFile = ""
		_, err := readTask(nil)
		assert.ErrorContains(t, err, "task is required")
	})
}

func TestPatternOverrideFlag(t *testing.T) {
	t.Run("should reject an unknown pattern before wiring anything", func(t *testing.T) {
		assert.False(t, executor.Pattern("mystery").Valid())
		assert.True(t, executor.Pattern("react").Valid())
	})
}
