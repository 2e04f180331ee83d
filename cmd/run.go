// File: cmd/run.go
package cmd

import (
	"fmt"
	"os"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AGmitmanipal/MINDMESH/internal/observability"
	"github.com/AGmitmanipal/MINDMESH/internal/runner"
)

// newRunCmd creates the `run` command: one autonomous run, synchronous.
func newRunCmd() *cobra.Command {
	var (
		startURL string
		tabID    int
	)

	runCmd := &cobra.Command{
		Use:   "run [goal...]",
		Short: "Executes one autonomous browsing run for the given goal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			goal := strings.Join(args, " ")

			// Command-line flags override file and environment configuration.
			if cmd.Flags().Changed("dry-run") {
				dryRun, _ := cmd.Flags().GetBool("dry-run")
				loadedConfig.Agent.DryRun = dryRun
			}
			if cmd.Flags().Changed("allow") {
				allow, _ := cmd.Flags().GetStringSlice("allow")
				loadedConfig.Agent.AllowlistDomains = allow
			}

			run, _, cleanup, err := buildRunner(ctx, loadedConfig, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			runID, err := run.Start(ctx, goal, startURL, tabID)
			if err != nil {
				return err
			}
			logger.Info("Run started", zap.String("run_id", runID))

			select {
			case <-run.Done():
			case <-ctx.Done():
				logger.Info("Interrupt received, stopping run", zap.String("run_id", runID))
				if err := run.Stop(runID); err == nil {
					<-run.Done()
				}
			}

			status := run.Status()
			out, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, string(out))

			if status.State == runner.StateError {
				return fmt.Errorf("run ended in error: %s", status.LastError)
			}
			return nil
		},
	}

	runCmd.Flags().StringVar(&startURL, "start-url", "", "URL to open before the first planning step")
	runCmd.Flags().IntVar(&tabID, "tab", 0, "existing tab id to reuse")
	runCmd.Flags().Bool("dry-run", false, "plan and count actions without navigating")
	runCmd.Flags().StringSlice("allow", nil, "domain allowlist (repeatable)")

	return runCmd
}
