package main

import (
	"context"
	"log"
	"os"

	"github.com/spf13/cobra"

	"pkt.systems/psi"
	"pkt.systems/pslog"
)

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := newLogger(false)
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)

	root := newRootCmd()
	root.SetArgs(os.Args[1:])

	if err := root.ExecuteContext(ctx); err != nil {
		pslog.Ctx(ctx).With("err", err).Error("eclkernel command failed")
		return 1
	}
	return 0
}

// newLogger builds the process logger from LOG_* environment variables.
// debug lowers the minimum level to debug.
func newLogger(debug bool) pslog.Logger {
	opts := pslog.Options{Mode: pslog.ModeConsole, MinLevel: pslog.InfoLevel}
	if debug {
		opts.MinLevel = pslog.DebugLevel
	}
	return pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(opts),
	)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "eclkernel",
		Short:         "ECL notebook kernel backed by HPCC workunits",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.AddCommand(newKernelCmd())
	root.AddCommand(newConsoleCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newTranscriptCmd())
	root.AddCommand(newVersionCmd())

	return root
}
