package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/offline/internal/core"
)

var removeCmd = &cobra.Command{
	Use:     "remove <id>...",
	Aliases: []string{"rm"},
	Short:   "Remove items and their downloaded files",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(ctx context.Context, svc *core.LocalDownloadService) error {
			var errs []error
			for _, id := range args {
				if err := svc.Delete(ctx, id); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", id, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed: [%s]\n", id)
			}
			return errors.Join(errs...)
		})
	},
}

var pathCmd = &cobra.Command{
	Use:   "path <id>",
	Short: "Print the local manifest or media file to hand to a player",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(ctx context.Context, svc *core.LocalDownloadService) error {
			p, err := svc.Engine().PlaybackPath(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		})
	},
}
