package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ms-attendance/internal/config"
	"ms-attendance/internal/logger"
)

type cli struct {
	cfg *config.Config
	log *logger.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "attendance-cli",
		Short:         "Administrative tasks for the attendance service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
			c.cfg = config.Load()
			c.log = logger.NewWriterLogger(cmd.ErrOrStderr())
		},
	}

	root.AddCommand(
		newImportCmd(c),
		newAutolinkCmd(c),
		newMigrateCmd(c),
		newTailCmd(c),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
