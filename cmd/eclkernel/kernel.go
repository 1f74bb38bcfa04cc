package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/eclkernel"
	"pkt.systems/eclkernel/internal/appconfig"
	"pkt.systems/eclkernel/internal/kernelgrpc"
	"pkt.systems/eclkernel/internal/version"
	"pkt.systems/eclkernel/internal/workunit"
	"pkt.systems/eclkernel/schema"
	"pkt.systems/pslog"
)

type kernelFlags struct {
	cfgPath             string
	debug               bool
	hideUndefined       bool
	showUndefined       bool
	hideExecutionResult bool
	protocol            string
	workingDir          string
	startupScript       string
	listen              string
	transcript          string
}

func newKernelCmd() *cobra.Command {
	var flags kernelFlags
	cmd := &cobra.Command{
		Use:   "kernel",
		Short: "Serve an ECL kernel session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := appconfig.Load(flags.cfgPath)
			if err != nil {
				return err
			}
			applyKernelFlags(cmd, &cfg, flags)

			ctx := cmd.Context()
			logger := pslog.Ctx(ctx)
			if cfg.Kernel.Debug {
				logger = newLogger(true)
				ctx = pslog.ContextWithLogger(ctx, logger)
			}

			sessionID, err := cfg.SessionID()
			if err != nil {
				return err
			}
			kernelCfg := cfg.KernelSession(sessionID)
			kernelCfg.ImplementationVersion = version.Implementation()
			server, err := eclkernel.New(eclkernel.ServerConfig{
				Kernel:         kernelCfg,
				Workunit:       toWorkunitOptions(cfg.Workunit),
				Transport:      kernelgrpc.Config{Listen: cfg.Transport.Listen},
				TranscriptPath: cfg.Logging.TranscriptPath,
			}, eclkernel.ServerDeps{Logger: logger})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Stop(stopCtx); err != nil {
					logger.Warn("server stop failed", "err", err)
				}
			}()
			logger.Info("kernel listening", "listen", cfg.Transport.Listen, "workunit_url", cfg.Workunit.BaseURL, "protocol", cfg.Kernel.ProtocolVersion)
			if err := server.Start(ctx); err != nil {
				return err
			}
			return server.Wait()
		},
	}
	cmd.Flags().StringVarP(&flags.cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "enable debug logging")
	cmd.Flags().BoolVar(&flags.hideUndefined, "hide-undefined", false, "do not show results that are \"undefined\"")
	cmd.Flags().BoolVar(&flags.showUndefined, "show-undefined", false, "show results that are \"undefined\"")
	cmd.Flags().BoolVar(&flags.hideExecutionResult, "hide-execution-result", false, "never publish execute_result messages")
	cmd.Flags().StringVar(&flags.protocol, "protocol", "", "messaging protocol version (default "+schema.DefaultProtocolVersion+")")
	cmd.Flags().StringVar(&flags.workingDir, "session-working-dir", "", "working directory for the session")
	cmd.Flags().StringVar(&flags.startupScript, "startup-script", "", "ECL file or directory run before serving")
	cmd.Flags().StringVar(&flags.listen, "listen", "", "listen address (unix://path or host:port)")
	cmd.Flags().StringVar(&flags.transcript, "transcript", "", "append every message to this JSON lines file")
	cmd.MarkFlagsMutuallyExclusive("hide-undefined", "show-undefined")
	return cmd
}

// applyKernelFlags overrides config values with explicitly set flags.
func applyKernelFlags(cmd *cobra.Command, cfg *appconfig.Config, flags kernelFlags) {
	set := cmd.Flags().Changed
	if set("debug") {
		cfg.Kernel.Debug = flags.debug
	}
	if set("hide-undefined") {
		cfg.Kernel.HideUndefined = flags.hideUndefined
	}
	if set("show-undefined") {
		cfg.Kernel.HideUndefined = !flags.showUndefined
	}
	if set("hide-execution-result") {
		cfg.Kernel.HideExecutionResult = flags.hideExecutionResult
	}
	if set("protocol") {
		cfg.Kernel.ProtocolVersion = flags.protocol
	}
	if set("session-working-dir") {
		cfg.Kernel.Cwd = flags.workingDir
	}
	if set("startup-script") {
		cfg.Kernel.StartupScript = flags.startupScript
	}
	if set("listen") {
		cfg.Transport.Listen = flags.listen
	}
	if set("transcript") {
		cfg.Logging.TranscriptPath = flags.transcript
	}
}

func toWorkunitOptions(cfg appconfig.WorkunitConfig) workunit.Options {
	return workunit.Options{
		BaseURL:            cfg.BaseURL,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		PollInterval:       cfg.PollInterval,
		RequestTimeout:     cfg.RequestTimeout,
		Username:           cfg.Username,
		Password:           cfg.Password,
	}
}
