// Command officebot runs the Telegram office assistant.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stupiduntilnot/officebot/internal/config"
	"github.com/stupiduntilnot/officebot/internal/logging"
)

var (
	verbose bool
	logger  *zap.Logger
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "officebot",
		Short: "Telegram office assistant",
		Long: `officebot answers employee questions over Telegram.

Messages pass the access and rate-limit policy, are routed to a
capability module (knowledge base, mail, AI assistant) and answered.
Run without arguments to serve.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			level := cfg.LogLevel
			if verbose {
				level = "debug"
			}
			logger, err = logging.New(level, cfg.LogFormat)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
		RunE: runServe,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Poll the transport and answer messages",
			Args:  cobra.NoArgs,
			RunE:  runServe,
		},
		newVaultCmd(),
		newAuditCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
