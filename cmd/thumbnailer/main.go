package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/wb-go/wbf/zlog"

	"github.com/Lunanaall/thumbnailer/internal/config"
)

type flags struct {
	configPath string
	workers    int
	dryRun     bool
}

func main() {
	// Context & signals: an interrupted run stops taking new items and the
	// remaining records stay pending for the next run.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	zlog.Init()

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("thumbnailer failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:           "thumbnailer",
		Short:         "Generate previews for pending images",
		Long:          "Runs one pass over the image metadata store: every pending record gets a JPEG preview published to the thumbnails container.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPass(cmd.Context(), f, f.dryRun)
		},
	}

	root.PersistentFlags().StringVarP(&f.configPath, "config", "c", config.DefaultPath, "path to the YAML config file")
	root.Flags().IntVarP(&f.workers, "workers", "w", 0, "concurrent items (overrides pipeline.workers)")
	root.Flags().BoolVar(&f.dryRun, "dry-run", false, "list pending images without processing them")

	root.AddCommand(
		&cobra.Command{
			Use:   "pending",
			Short: "List pending images and their preview keys",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runPass(cmd.Context(), f, true)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply metadata schema migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runMigrate(cmd.Context(), f)
			},
		},
	)

	return root
}
