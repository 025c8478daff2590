package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"

	"operatorkit/internal/config"
	"operatorkit/internal/controller"
	"operatorkit/internal/event"
	"operatorkit/internal/events"
	"operatorkit/internal/operator"
	"operatorkit/internal/sample/webpage"
	"operatorkit/internal/source"
	"operatorkit/pkg/logging"
)

// runOptions holds the flags of the run command.
type runOptions struct {
	namespaces []string
	debug      bool
	logFormat  string
	htmlDir    string
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the operator against the current Kubernetes cluster",
		Long: `Connects to the cluster from the current kubeconfig (or the in-cluster
service account), starts the controllers and reconciles until interrupted.

On SIGINT or SIGTERM the controllers stop accepting events, running
reconciliations finish and a summary of the reconciled resources is printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperator(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.namespaces, "namespace", "n", nil, "Namespaces to watch (repeatable, overrides the configuration)")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", string(logging.FormatText), "Log format: text or json")
	cmd.Flags().StringVar(&opts.htmlDir, "html-dir", "", "Directory of page files (<namespace>/<name>.html) overriding the html key of web pages")
	return cmd
}

func initLogging(cmd *cobra.Command, cfg config.OperatorConfig, opts *runOptions) error {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	if opts.debug {
		level = logging.LevelDebug
	}

	format := logging.Format(opts.logFormat)
	if format != logging.FormatText && format != logging.FormatJSON {
		return fmt.Errorf("unknown log format %q", opts.logFormat)
	}
	logging.Init(level, format, cmd.ErrOrStderr())
	return nil
}

func runOperator(cmd *cobra.Command, opts *runOptions) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(opts.namespaces) > 0 {
		cfg.Namespaces = opts.namespaces
	}
	if err := initLogging(cmd, cfg, opts); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	restConfig, err := source.RestConfig()
	if err != nil {
		return fmt.Errorf("failed to load Kubernetes configuration: %w", err)
	}
	cluster, err := source.NewCluster(restConfig, clientgoscheme.Scheme, cfg.Namespaces...)
	if err != nil {
		return err
	}

	var pages *source.Directory
	if opts.htmlDir != "" {
		pages = source.NewDirectory("pages", opts.htmlDir, source.WithExtensions(".html", ".htm"))
	}

	op := operator.New(cfg)
	ctrl, err := webpage.NewController(ctx, cluster, op.Settings(webpage.ControllerName), pages,
		controller.WithMetrics(op.Metrics()),
		controller.WithEventRecorder(events.NewRecorder(cluster.Client(), "operatorkit")),
		controller.WithRetryExhaustedHandler(func(err *event.RetryExhaustedError) {
			logging.Error("Operator", err, "Giving up on %s until it changes", err.ID)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create controller %s: %w", webpage.ControllerName, err)
	}
	if err := op.Register(ctrl); err != nil {
		return err
	}

	if err := cluster.Start(ctx); err != nil {
		return err
	}
	defer cluster.Stop()

	if err := op.Start(ctx); err != nil {
		return err
	}
	logging.Info("CLI", "Operator running with controllers %v. Press Ctrl+C to stop.", op.Controllers())

	<-ctx.Done()

	logging.Info("CLI", "Shutting down...")
	op.Stop()

	out := cmd.OutOrStdout()
	renderStatuses(out, op.Statuses())
	renderMetrics(out, op.Metrics())
	return nil
}
