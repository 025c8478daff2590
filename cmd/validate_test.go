package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeValidate(t *testing.T, dir string) (string, string, error) {
	t.Helper()
	original := configPath
	t.Cleanup(func() { configPath = original })
	configPath = dir

	c := newValidateCmd()
	var out, errOut bytes.Buffer
	c.SetOut(&out)
	c.SetErr(&errOut)
	err := runValidate(c, nil)
	return out.String(), errOut.String(), err
}

func TestValidate_ValidConfig(t *testing.T) {
	dir := writeConfig(t, `
workers: 4
namespaces: [web]
controllers:
  webpage:
    workflowWorkers: 2
    finalizer: pages.example.com/finalizer
  other:
    workers: 1
`)

	out, _, err := executeValidate(t, dir)
	require.NoError(t, err)

	assert.Contains(t, out, "webpage")
	assert.Contains(t, out, "pages.example.com/finalizer")
	assert.Contains(t, out, "web")
	for _, dep := range []string{"html", "deployment", "service", "ingress"} {
		assert.Contains(t, out, dep)
	}
	assert.Contains(t, out, "activation")
	assert.Contains(t, out, `unknown controller "other"`)
	assert.Contains(t, out, "is valid")
}

func TestValidate_MissingConfigUsesDefaults(t *testing.T) {
	out, _, err := executeValidate(t, t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "webpage")
	assert.Contains(t, out, "is valid")
}

func TestValidate_InvalidConfig(t *testing.T) {
	dir := writeConfig(t, "workers: -1\n")

	out, errOut, err := executeValidate(t, dir)
	require.Error(t, err)
	assert.Equal(t, ExitCodeConfigError, getExitCode(err))
	assert.Contains(t, errOut, "workers")
	assert.NotContains(t, out, "is valid")
}

func TestValidate_MalformedConfig(t *testing.T) {
	dir := writeConfig(t, "workers: [\n")

	_, _, err := executeValidate(t, dir)
	require.Error(t, err)
	assert.Equal(t, ExitCodeConfigError, getExitCode(err))
}

func TestValidateCommand_RejectsArgs(t *testing.T) {
	var c *cobra.Command = newValidateCmd()
	assert.Error(t, c.Args(c, []string{"extra"}))
}
