package main

import (
	"fmt"
	"os"

	"github.com/ZanzyTHEbar/loglens/loglens"
	"github.com/ZanzyTHEbar/loglens/loglens/config"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           loglens.DefaultAppName,
		Short:         "loglens: exception log analysis backed by Qwen",
		Long:          "Sends Java exception traces and follow-up questions to the DashScope text-generation API and keeps a short per-session history.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "path to a config file (default: ./config.yaml, ~/.config/loglens/config.yaml)")
	flags.String("addr", loglens.DefaultListenAddr, "HTTP listen address")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("api-key", "", "DashScope API key (or LOGLENS_QWEN_API_KEY)")
	flags.String("model", loglens.DefaultModel, "model identifier")

	root.AddCommand(
		serveCmd(&configPath),
		analyzeCmd(&configPath),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", loglens.DefaultAppName, loglens.Version)
		},
	}
}

// loadConfig reads and validates configuration with the command's flags bound.
func loadConfig(cmd *cobra.Command, configPath string) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
