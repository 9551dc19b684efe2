package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/anishkny/attractor/internal/attractor/dot"
	"github.com/anishkny/attractor/internal/attractor/engine"
	"github.com/anishkny/attractor/internal/attractor/validate"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file.dot>",
		Short: "Validate a pipeline graph without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			graphPath := args[0]
			dotSource, err := os.ReadFile(graphPath)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(exitInvalidInvocation)
				return nil
			}

			graph, err := dot.Parse(dotSource)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(exitValidationError)
				return nil
			}

			registry := engine.NewHandlerRegistry()
			diags := validate.Validate(graph, validate.NewTypeKnownRule(registry.KnownTypes()))

			hasError := false
			for _, d := range diags {
				fmt.Printf("%s: %s (%s)\n", d.Severity, d.Message, d.Rule)
				if d.Severity == validate.SeverityError {
					hasError = true
				}
			}
			if hasError {
				os.Exit(exitValidationError)
				return nil
			}
			fmt.Printf("ok: %s\n", graphPath)
			os.Exit(exitSuccess)
			return nil
		},
	}
	return cmd
}
