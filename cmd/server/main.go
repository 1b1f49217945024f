package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"detectionapi/internal/app"
	"detectionapi/internal/config"
)

func main() {
	var configFile string

	cmd := &cobra.Command{
		Use:          "detectionapi",
		Short:        "Object detection HTTP API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				os.Setenv("CONFIG_FILE", configFile)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			application, err := app.NewApp(cmd.Context(), cfg, app.Options{LiveUpdates: true})
			if err != nil {
				return fmt.Errorf("failed to start server: %w", err)
			}
			defer application.Close()

			return application.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "YAML configuration file (overrides CONFIG_FILE)")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
