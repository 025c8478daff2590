package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"operatorkit/internal/config"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeConfigError indicates that the configuration could not be loaded
	// or is invalid.
	ExitCodeConfigError = 2
)

// configPath is the directory holding config.yaml. It is shared by every
// subcommand that reads the configuration.
var configPath string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "operatorkit",
	Short: "Run Kubernetes operators built from reconcilers and dependent resources",
	Long: `operatorkit runs controllers that reconcile primary Kubernetes resources.

Each controller schedules at most one reconciliation per resource at a time,
retries failures with exponential backoff and manages the resource's
dependents as a workflow: they are created in dependency order and deleted in
reverse order before the finalizer is removed.

The bundled sample controller serves ConfigMaps labeled
operatorkit.dev/webpage=true as static web pages.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "operatorkit version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	var ce config.ConfigurationError
	if errors.As(err, &ce) {
		return ExitCodeConfigError
	}
	return ExitCodeError
}

// resolveConfigPath returns the --config directory, or the user config
// directory when the flag is not set.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.GetDefaultConfigPathOrPanic()
}

// loadConfig loads and validates the operator configuration. Configuration
// errors are printed in detail before they are returned.
func loadConfig(cmd *cobra.Command) (config.OperatorConfig, error) {
	cfg, err := config.LoadConfig(resolveConfigPath())
	if err != nil {
		var ce config.ConfigurationError
		if errors.As(err, &ce) {
			fmt.Fprintln(cmd.ErrOrStderr(), ce.DetailedError())
		}
		return config.OperatorConfig{}, err
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration directory containing config.yaml (default $HOME/.config/operatorkit)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newValidateCmd())
}
