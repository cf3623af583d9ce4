// File: cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/enjoyfamily583-dotcom/newredirect/internal/config"
	"github.com/enjoyfamily583-dotcom/newredirect/internal/observability"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "newredirect",
	Short:   "Gates a redirect target behind visitor classification.",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 1. Initialize configuration loading (Viper).
		if err := initializeConfig(); err != nil {
			basicLogger, _ := zap.NewDevelopment()
			basicLogger.Error("Failed to initialize configuration", zap.Error(err))
			return fmt.Errorf("failed to initialize configuration: %w", err)
		}

		// 2. Unmarshal the configuration.
		var cfg config.Config
		if err := viper.Unmarshal(&cfg); err != nil {
			observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "newredirect"})
			return fmt.Errorf("failed to unmarshal config: %w", err)
		}

		// 3. Validate the configuration.
		if err := cfg.Validate(); err != nil {
			observability.InitializeLogger(cfg.Logger)
			return fmt.Errorf("invalid configuration: %w", err)
		}

		// 4. Store the configuration globally.
		config.Set(&cfg)

		// 5. Initialize the logger.
		observability.InitializeLogger(cfg.Logger)
		observability.GetLogger().Info("Starting newredirect", zap.String("version", Version))

		return nil
	},
}

// Execute adds all child commands to the root command and runs it. It
// accepts a context passed from main.go for graceful shutdown.
func Execute(ctx context.Context) error {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newInspectCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Context cancellation is the normal shutdown path, not a failure.
		if ctx.Err() == nil {
			observability.GetLogger().Error("Command execution failed", zap.Error(err))
		}
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
}

// initializeConfig reads in the config file and environment variables.
func initializeConfig() error {
	// Optional env file for local runs; silently absent elsewhere.
	_ = godotenv.Load("config.env")

	// Set default values so the service can run with a minimal config.
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("NEWREDIRECT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// The target is the one value operators set most often; bind a short
	// alias next to the structured name.
	_ = viper.BindEnv("gate.target_url", "NEWREDIRECT_TARGET_URL", "NEWREDIRECT_GATE_TARGET_URL")

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and environment carry it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}
