package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/deskwright/shellcore"
	"github.com/deskwright/shellcore/internal/logger"
	"github.com/deskwright/shellcore/internal/supervisor"
)

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the shellcore daemon",
		Long: `Start the daemon: bootstrap the sidecar services, then serve the bridge
API for the UI process. Configuration comes from an optional TOML file with
SHELLCORE_* environment overrides applied on top.

Examples:
  shellcored serve                  # built-in defaults + environment
  shellcored serve config.toml      # explicit config file`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := globalFlags.ConfigPath
			if len(args) > 0 {
				configPath = args[0]
			}
			return runServe(configPath)
		},
	}
}

func runServe(configPath string) error {
	cfg, err := shellcore.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	lg := logger.Setup(cfg.LogLevel)
	if err := shellcore.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		lg.Warn("failed to register metrics", "error", err)
	}

	sup := shellcore.New(supervisor.Options{
		ExecPath:      cfg.Supervisor.ExecPath,
		MaxConcurrent: cfg.Supervisor.MaxConcurrent,
		MaxRuntime:    cfg.Supervisor.MaxRuntime,
		GracePeriod:   cfg.Supervisor.GracePeriod,
		Retention:     cfg.Supervisor.Retention,
		Logger:        lg,
	})

	boot := shellcore.NewBootstrapper(cfg.ArtifactDir, cfg.Env, cfg.Supervisor.GracePeriod)
	names := make([]string, 0, len(cfg.Sidecars))
	specs := make([]shellcore.SidecarSpec, 0, len(cfg.Sidecars))
	for _, sc := range cfg.Sidecars {
		names = append(names, sc.Name)
		specs = append(specs, shellcore.SidecarSpec{
			Name:        sc.Name,
			Command:     sc.Command,
			WorkDir:     sc.WorkDir,
			Env:         sc.Env,
			ReadyMarker: sc.ReadyMarker,
			HealthURL:   sc.HealthURL,
			Log:         sc.Log,
		})
	}
	if len(specs) > 0 {
		boot.Start(specs...)
		if !boot.WaitReady(names, cfg.StartupWait) {
			// Soft timeout: the shell stays usable for everything that does
			// not need the sidecars.
			lg.Warn("starting degraded: sidecars not ready within window", "window", cfg.StartupWait.String())
		}
	}

	server, err := shellcore.NewHTTPServer(cfg.Listen, cfg.BasePath, sup)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}
	lg.Info("bridge listening", "addr", cfg.Listen, "base_path", cfg.BasePath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	lg.Info("shutting down")
	sup.Cleanup()
	boot.Shutdown()
	return server.Close()
}
