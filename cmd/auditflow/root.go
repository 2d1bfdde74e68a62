package main

import (
	"context"
	"fmt"
	"os"

	"auditflow/internal/config"
	"auditflow/internal/observability"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "auditflow",
	Short:         "Two-stage static analysis and AI-assisted security audit service.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load(viper.GetViper(), cfgFile)
		if err != nil {
			return fmt.Errorf("failed to initialize configuration: %w", err)
		}
		cfg = loaded
		observability.InitializeLogger(cfg.Logger)
		observability.GetLogger().Debug("configuration loaded", zap.String("command", cmd.Name()))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./auditflow.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "override logger.level")
	_ = viper.BindPFlag("logger.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(newServeCmd(stageOne))
	rootCmd.AddCommand(newServeCmd(stageTwo))
	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newStatusCmd())
}

// Execute runs the CLI with ctx cancelled on SIGINT/SIGTERM.
func Execute(ctx context.Context) error {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if cfg != nil && ctx.Err() == nil {
			observability.GetLogger().Error("command failed", zap.Error(err))
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
