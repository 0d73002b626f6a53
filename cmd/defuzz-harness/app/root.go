package app

import (
	"github.com/spf13/cobra"
)

// NewRootCommand creates the root command for the defuzz-harness tool.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "defuzz-harness",
		Short: "Agentic fuzz-harness generator for native libraries.",
		Long: `defuzz-harness iteratively drives a conversational agent to
synthesize libFuzzer-compatible harness programs for a target C/C++
library, validating each candidate against coverage growth and a
statically-extracted critical path of target APIs.`,
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewResumeCommand())

	return cmd
}
