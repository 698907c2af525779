package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aurora-linux/aurora/internal/cli"
	"github.com/aurora-linux/aurora/internal/logger"
)

var (
	bootstrapRoot string
	force         bool
	skipCrypto    bool
	verbose       bool
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		cancel()
		os.Exit(1)
	}

	cancel()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aurora",
		Short: "A transactional system package manager",
		Long: `aurora synchronizes signed repository indexes, resolves package
dependencies, downloads and verifies artifacts, and atomically applies
install, remove and upgrade transactions to a target root.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			level := "info"
			if verbose {
				level = "debug"
			}
			logger.InitLogger(level)
		},
	}

	cmd.PersistentFlags().StringVar(&bootstrapRoot, "bootstrap", "/", "operate on a different system root")
	cmd.PersistentFlags().BoolVar(&force, "force", false, "bypass dependency and conflict checks")
	cmd.PersistentFlags().BoolVar(&skipCrypto, "skip-crypto", false, "bypass checksum and signature verification")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Expose the global flags to the command implementations.
	cli.Root = &bootstrapRoot
	cli.Force = &force
	cli.SkipCrypto = &skipCrypto

	cmd.AddCommand(
		cli.NewSyncCmd(),
		cli.NewInstallCmd(),
		cli.NewInstallLocalCmd(),
		cli.NewRemoveCmd(),
		cli.NewUpdateCmd(),
	)

	return cmd
}
