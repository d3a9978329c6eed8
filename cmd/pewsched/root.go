package main

import (
	"github.com/spf13/cobra"

	"pewsched/internal/config"
)

var (
	// Global flags
	cfgPath string
	envPath string
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "pewsched",
		Short: "Condition-gated task scheduler",
		Long: `pewsched runs one task at a time from a plan of schedule entries.
Each entry starts when its cadence, window and start conditions allow it and
stops when its stop conditions are met.

Examples:
  pewsched run --config ./config.yaml
  pewsched plan validate ./plan.yaml
  pewsched plan show
  pewsched runs --limit 20`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(envPath)
		},
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to the config file (json, yaml or toml)")
	root.PersistentFlags().StringVar(&envPath, "env", ".env", "dotenv file loaded before the config; missing is fine")

	root.AddCommand(newRunCommand())
	root.AddCommand(newPlanCommand())
	root.AddCommand(newRunsCommand())
	return root
}

func loadConfig() (*config.Config, error) {
	return config.NewConfigManager(cfgPath).Parse()
}
