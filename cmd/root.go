package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/okto-sec/tiksolve/internal/config"
	"github.com/okto-sec/tiksolve/internal/observability"
)

var (
	cfgFile string
	// cfg is the effective configuration, resolved in PersistentPreRunE and
	// read by every subcommand.
	cfg *config.Config
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:     "tiksolve",
	Short:   "Detects and solves TikTok and Douyin captchas in a live browser session.",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig()
		if err != nil {
			// A fallback logger so the error itself is visible somewhere.
			observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "tiksolve"})
			return err
		}

		observability.InitializeLogger(cfg.Logger)
		observability.GetLogger().Info("Starting tiksolve", zap.String("version", Version))
		return nil
	},
}

// Execute runs the CLI with a signal-aware context.
func Execute(ctx context.Context) {
	defer observability.Sync()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.AddCommand(newSolveCmd())
}

// loadConfig resolves defaults, the optional config file and TIKSOLVE_*
// environment variables into a Config.
func loadConfig() (*config.Config, error) {
	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
			// No config file; defaults and env vars carry the day.
		}
	}

	return config.NewConfigFromViper(v)
}
