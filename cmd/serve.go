// cmd/serve.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/enjoyfamily583-dotcom/newredirect/internal/config"
	"github.com/enjoyfamily583-dotcom/newredirect/internal/observability"
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gate server",
		Long:  `Starts the HTTP listener that serves the interstitial page, classifies visitors, and reveals the redirect target to those that pass.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			// Get the configuration initialized by the root command.
			cfg := config.Get()

			components, err := buildComponents(cfg)
			if err != nil {
				return fmt.Errorf("failed to build gate components: %w", err)
			}

			logger.Info("Gate configured.", zap.String("target", cfg.Gate.TargetURL))

			// Blocks until the context is canceled or the listener fails.
			if err := components.Server.Start(ctx); err != nil {
				return fmt.Errorf("running gate server: %w", err)
			}

			logger.Info("Gate server stopped.")
			return nil
		},
	}

	return serveCmd
}
