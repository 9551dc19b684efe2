package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anishkny/attractor/internal/attractor/engine"
	"github.com/anishkny/attractor/internal/config"
	"github.com/anishkny/attractor/internal/httpapi"
)

func newServeCommand() *cobra.Command {
	var (
		addr       string
		configPath string
		promptDir  string
		logsRoot   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API for submitting and observing pipeline runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				if addr == "" {
					addr = cfg.HTTP.ListenAddr
				}
				if logsRoot == "" {
					logsRoot = cfg.LogsRoot
				}
				if promptDir == "" {
					promptDir = cfg.PromptDir
				}
			}
			if addr == "" {
				addr = ":8080"
			}

			srv := httpapi.New(httpapi.Config{Addr: addr}, engine.NewHandlerRegistry(), nil, nil, promptDir, logsRoot)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				srv.Shutdown()
			}()

			return srv.ListenAndServe()
		},
	}

	cmd.Flags().StringVar(&addr, "listen", "", "HTTP listen address (default :8080)")
	cmd.Flags().StringVar(&configPath, "config", "", "path to a run config YAML/JSON file")
	cmd.Flags().StringVar(&promptDir, "prompt-dir", "", "base directory prompt_file globs resolve against")
	cmd.Flags().StringVar(&logsRoot, "logs-root", "", "directory to write run_<id>/checkpoint.json under")
	return cmd
}
