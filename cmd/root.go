// File: cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/AGmitmanipal/MINDMESH/internal/config"
	"github.com/AGmitmanipal/MINDMESH/internal/observability"
)

// loadedConfig is populated by the root command's PersistentPreRunE and read
// by the subcommands.
var loadedConfig *config.Config

// NewRootCommand builds a fresh command tree. Each invocation gets its own
// instance so flag state never leaks between executions.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "mindmesh",
		Short:         "MindMesh is an autonomous browser-session agent core.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				// Fall back to a console logger so the failure is visible.
				observability.InitializeLogger(config.LoggerConfig{
					Level: "info", Format: "console", ServiceName: "mindmesh",
				})
				return err
			}

			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Info("Starting MindMesh", zap.String("version", Version))

			loadedConfig = cfg
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml or ~/.mindmesh/config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newPlanCmd())

	return rootCmd
}

// Execute runs the command tree with a signal-aware context.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
		return err
	}
	return nil
}

// loadConfig reads the config file (when present), the environment and the
// defaults into a validated configuration.
func loadConfig(cfgFile string) (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(home + "/.mindmesh")
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("MINDMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and environment apply.
	}

	return config.NewConfigFromViper(v)
}
