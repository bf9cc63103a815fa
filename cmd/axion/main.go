// Command axion is a thin CLI over the cached generation, embedding and
// agent services.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ZanzyTHEbar/axion/axion/app"
	"github.com/ZanzyTHEbar/axion/axion/config"
	"github.com/ZanzyTHEbar/axion/axion/logging"

	"github.com/spf13/cobra"
)

var version = "dev"

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "axion",
		Short:         "Cached local text generation, embeddings and planning agents",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "override the configured log format (console or json)")

	root.AddCommand(
		newGenerateCmd(opts),
		newEmbedCmd(opts),
		newPlanCmd(opts),
		newReplanCmd(opts),
		newCacheCmd(opts),
	)
	return root
}

// withApp loads configuration, builds the application and closes it, which
// flushes persisted caches, once fn returns.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app.App) error) (err error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}

	logger, err := logging.NewWithWriter(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	defer func() {
		if cerr := a.Close(ctx); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close application: %w", cerr)
		}
	}()

	return fn(ctx, a)
}
