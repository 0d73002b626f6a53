package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjy-dev/defuzz-harness/internal/logger"
)

// NewResumeCommand creates the "resume" subcommand.
func NewResumeCommand() *cobra.Command {
	var (
		configPath  string
		workDir     string
		gadgetsPath string
		promptPath  string
		baseURL     string
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a previously interrupted run from its persisted state.",
		Long: `Resume continues trial counting, accumulated coverage, and mutator
energy state from workdir/state/latest.json, which "run" writes after
every trial. Flags must match the original run's workdir for the state
file to be found; the gadget universe is loaded fresh from --gadgets but
is overridden by whatever mutator state was persisted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.Init(logLevel)

			if !cmd.Flags().Changed("workdir") {
				workDir = defaultWorkDir(configPath)
			}

			c, err := build(buildOptions{
				ConfigPath:  configPath,
				WorkDir:     workDir,
				GadgetsPath: gadgetsPath,
				PromptPath:  promptPath,
				BaseURL:     baseURL,
				Resume:      true,
			})
			if err != nil {
				return err
			}

			trial, err := c.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("resume: %w", err)
			}

			if trial.Success > 0 {
				logger.Info("harness validated after %d trial(s), cost %.4f", trial.Number, trial.Cost)
			} else {
				logger.Info("quota exhausted after %d trial(s), no harness validated", trial.Number)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "Path to the run configuration file")
	cmd.Flags().StringVar(&workDir, "workdir", "", "Run output directory (default: alongside the config file)")
	cmd.Flags().StringVar(&gadgetsPath, "gadgets", "gadgets.json", "Path to the precomputed static-analysis gadget fixture")
	cmd.Flags().StringVar(&promptPath, "prompt", "", "Path to a custom prompt template (default: the built-in template)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Override the OpenAI-compatible API base URL")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	return cmd
}
