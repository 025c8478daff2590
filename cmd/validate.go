package cmd

import (
	"fmt"
	"sort"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"operatorkit/internal/sample/webpage"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and show the effective controller settings",
		Long: `Loads config.yaml from the configuration directory, validates it and prints
the settings every controller would run with, followed by the dependent
resources of each controller's workflow in execution order.

The exit code is 2 when the configuration is invalid.`,
		Args: cobra.NoArgs,
		RunE: runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	names := []string{webpage.ControllerName}
	var unknown []string
	for name := range cfg.Controllers {
		if name != webpage.ControllerName {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)

	out := cmd.OutOrStdout()
	renderSettings(out, cfg, names)

	wf, err := webpage.Workflow(cfg.For(webpage.ControllerName).WorkflowWorkers, nil)
	if err != nil {
		return err
	}
	renderLevels(out, fmt.Sprintf("Workflow of %s", webpage.ControllerName), wf)

	for _, name := range unknown {
		fmt.Fprintf(out, "%s configuration for unknown controller %q is ignored\n", text.FgYellow.Sprint("warning:"), name)
	}
	fmt.Fprintf(out, "%s configuration in %s is valid\n", text.FgGreen.Sprint("✓"), resolveConfigPath())
	return nil
}
