package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anishkny/attractor/internal/attractor/dot"
	"github.com/anishkny/attractor/internal/attractor/engine"
	"github.com/anishkny/attractor/internal/attractor/validate"
	"github.com/anishkny/attractor/internal/config"
)

func newRunCommand() *cobra.Command {
	var (
		validateOnly bool
		logsRoot     string
		resume       bool
		configPath   string
		promptDir    string
	)

	cmd := &cobra.Command{
		Use:   "run <file.dot>",
		Short: "Run a pipeline graph to completion, or validate it without running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			graphPath := args[0]
			dotSource, err := os.ReadFile(graphPath)
			if err != nil {
				os.Exit(exitInvalidInvocation)
				return err
			}

			graph, err := dot.Parse(dotSource)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(exitValidationError)
				return nil
			}

			registry := engine.NewHandlerRegistry()
			if err := validate.ValidateOrError(graph, validate.NewTypeKnownRule(registry.KnownTypes())); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(exitValidationError)
				return nil
			}

			if validateOnly {
				fmt.Printf("ok: %s\n", graphPath)
				os.Exit(exitSuccess)
				return nil
			}

			backoff := engine.DefaultBackoffPolicy()
			if configPath != "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					os.Exit(exitInvalidInvocation)
					return nil
				}
				backoff = cfg.BackoffPolicy()
				if logsRoot == "" {
					logsRoot = cfg.LogsRoot
				}
				if promptDir == "" {
					promptDir = cfg.PromptDir
				}
			}

			eng := engine.New(graph, registry, backoff)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				cancel()
			}()

			res, err := eng.Run(ctx, engine.RunOptions{
				LogsRoot:  logsRoot,
				Resume:    resume,
				PromptDir: promptDir,
			})
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(exitPipelineFailure)
				return nil
			}

			fmt.Printf("run_id=%s\n", res.RunID)
			fmt.Printf("status=%s\n", res.Status)
			if res.FailureReason != "" {
				fmt.Printf("failure_reason=%s\n", res.FailureReason)
			}
			for _, w := range res.Warnings {
				fmt.Fprintf(os.Stderr, "WARNING: %s\n", w)
			}

			if string(res.Status) != "success" {
				os.Exit(exitPipelineFailure)
			}
			os.Exit(exitSuccess)
			return nil
		},
	}

	cmd.Flags().BoolVar(&validateOnly, "validate-only", false, "validate the graph and exit without running it")
	cmd.Flags().StringVar(&logsRoot, "logs-root", "", "directory to write run_<id>/checkpoint.json under")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume from the checkpoint under --logs-root")
	cmd.Flags().StringVar(&configPath, "config", "", "path to a run config YAML/JSON file")
	cmd.Flags().StringVar(&promptDir, "prompt-dir", "", "base directory prompt_file globs resolve against")
	return cmd
}
