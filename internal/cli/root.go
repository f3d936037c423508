// Package cli exposes the coordinator as the multiagent command: one-shot
// queries and join-key detection, multi-agent creation, the job worker,
// the admin server and schema migrations.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/Shannon/go/multiagent/internal/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
	output     string
}

// NewRootCommand builds the command tree
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "multiagent",
		Short:         "Coordinate RAG agents over a shared query context",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.PathFromEnv(), "config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", os.Getenv("LOG_LEVEL"), "log level override (debug, info, warn, error)")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", formatJSON, "output format (json or yaml)")

	root.AddCommand(
		queryCMD(opts),
		detectCMD(opts),
		createCMD(opts),
		suggestNameCMD(opts),
		workerCMD(opts),
		serveCMD(opts),
		migrateCMD(opts),
	)
	return root
}

// Execute runs the root command with signal-aware cancellation
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// withApp builds the app for a command and closes it afterwards
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	if err := validateFormat(opts.output); err != nil {
		return err
	}
	a, err := newApp(opts.configPath, opts.logLevel)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}
