// File: cmd/serve.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/AGmitmanipal/MINDMESH/internal/llmclient"
	"github.com/AGmitmanipal/MINDMESH/internal/observability"
	"github.com/AGmitmanipal/MINDMESH/internal/planner"
	"github.com/AGmitmanipal/MINDMESH/internal/server"
)

// newServeCmd creates the `serve` command: the HTTP request layer plus the
// run core, serving until interrupted.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the agent HTTP API (plan, start, stop, status)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if cmd.Flags().Changed("addr") {
				addr, _ := cmd.Flags().GetString("addr")
				loadedConfig.Server.Addr = addr
			}

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

			run, storage, cleanup, err := buildRunner(ctx, loadedConfig, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			srv := server.NewServer(loadedConfig.Server, resolver, run, storage, logger)
			return srv.Run(ctx)
		},
	}

	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	return serveCmd
}
