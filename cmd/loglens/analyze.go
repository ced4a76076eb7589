package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ZanzyTHEbar/loglens/loglens/generation/harness"
	"github.com/spf13/cobra"
)

func analyzeCmd(configPath *string) *cobra.Command {
	var sessionID string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "analyze [file]",
		Short: "Analyze one exception trace from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Log, cmd.ErrOrStderr())

			input, err := readInput(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			factory := harness.NewFactory(cfg, logger)
			orchestrator, err := factory.CreateOrchestrator(nil, factory.CreateStore())
			if err != nil {
				return fmt.Errorf("create orchestrator: %w", err)
			}

			res := orchestrator.Analyze(cmd.Context(), input, sessionID)
			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else if res.OK() {
				fmt.Fprintln(cmd.OutOrStdout(), res.AnalysisResult)
			}

			if !res.OK() {
				return fmt.Errorf("analysis failed (%d): %s", res.Code, res.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id to continue")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the full result as JSON")
	return cmd
}

func readInput(stdin io.Reader, args []string) (string, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 1 && args[0] != "-" {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(stdin)
	}
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(data), nil
}
