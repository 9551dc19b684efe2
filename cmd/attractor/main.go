// Command attractor runs and inspects DOT-authored pipelines from the
// shell: run a graph to completion or resume one from a checkpoint,
// validate a graph without running it, or serve the HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes per the CLI contract: 0 success, 1 validation error,
// 2 pipeline failure, 3 invalid invocation.
const (
	exitSuccess           = 0
	exitValidationError   = 1
	exitPipelineFailure   = 2
	exitInvalidInvocation = 3
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitInvalidInvocation)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "attractor",
		Short:        "Run and inspect graph-driven pipelines authored in DOT",
		SilenceUsage: true,
	}
	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newValidateCommand())
	cmd.AddCommand(newServeCommand())
	return cmd
}
