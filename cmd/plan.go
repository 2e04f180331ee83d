// File: cmd/plan.go
package cmd

import (
	"fmt"
	"os"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/AGmitmanipal/MINDMESH/api/schemas"
	"github.com/AGmitmanipal/MINDMESH/internal/llmclient"
	"github.com/AGmitmanipal/MINDMESH/internal/observability"
	"github.com/AGmitmanipal/MINDMESH/internal/planner"
)

// newPlanCmd creates the `plan` command: resolve a single step and print it.
// Useful for inspecting what the chain would do without touching a browser.
func newPlanCmd() *cobra.Command {
	var (
		step  int
		model string
		allow []string
	)

	planCmd := &cobra.Command{
		Use:   "plan [goal...]",
		Short: "Resolves one planning step for a goal and prints the action",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()
			goal := strings.Join(args, " ")

			backends, err := llmclient.NewBackends(loadedConfig.Agent.LLM, logger)
			if err != nil {
				return err
			}
			resolver := planner.NewResolver(
				backends.OnDevice,
				backends.Remote,
				loadedConfig.Agent.LLM.Remote.ModelPattern,
				logger,
			)

			result := resolver.ResolveStep(cmd.Context(), schemas.InferenceRequest{
				Goal:            goal,
				Step:            step,
				Allowlist:       allow,
				ModelPreference: model,
			})

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, string(out))
			return nil
		},
	}

	planCmd.Flags().IntVar(&step, "step", 0, "zero-based step counter")
	planCmd.Flags().StringVar(&model, "model", "", "model preference passed to the backends")
	planCmd.Flags().StringSliceVar(&allow, "allow", nil, "domain allowlist")

	return planCmd
}
