// Command detect runs the detection pipeline on local images without the HTTP server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"detectionapi/internal/app"
	"detectionapi/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:          "detect",
		Short:        "Run object detection on local images",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configFile != "" {
				os.Setenv("CONFIG_FILE", configFile)
			}
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML configuration file (overrides CONFIG_FILE)")

	root.AddCommand(fileCommand(), dirCommand())
	return root
}

func fileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "file <path>",
		Short: "Detect objects in a single image and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Close()

			outcome, err := application.Processor().Process(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "    ")
			return enc.Encode(outcome)
		},
	}
}

func dirCommand() *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "dir <directory>",
		Short: "Detect objects in every .jpg, .jpeg and .png image of a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			images, err := collectImages(args[0])
			if err != nil {
				return err
			}
			if len(images) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No images found to process")
				return nil
			}

			application, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer application.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Processing %d images from %s...\n", len(images), args[0])
			summary := processAll(cmd.Context(), application.Processor(), images, workers, application.Logger())
			summary.print(cmd.OutOrStdout())
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d images failed", summary.Failed, len(images))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 2, "number of images processed concurrently")
	return cmd
}

func newApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.NewApp(ctx, cfg, app.Options{})
}
