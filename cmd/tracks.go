package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/offline/internal/core"
	"github.com/surge-downloader/offline/internal/engine/types"
)

var tracksCmd = &cobra.Command{
	Use:   "tracks <id>",
	Short: "Show or change the track selection of an item",
	Long: `tracks lists the renditions found in an item's manifest; selected ones
are marked with *. --select replaces the selection of the listed types, for
example --select video=v1,audio=a0+a1,text= . Chunks of newly selected
tracks are fetched by the next "offline download".`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		selectFlag, _ := cmd.Flags().GetString("select")
		selection, err := parseSelection(selectFlag)
		if err != nil {
			return err
		}

		return withService(cmd.Context(), func(ctx context.Context, svc *core.LocalDownloadService) error {
			sel, err := svc.Engine().TrackSelector(ctx, args[0])
			if err != nil {
				return err
			}
			if len(selection) > 0 {
				for _, t := range types.TrackTypes {
					ids, ok := selection[t]
					if !ok {
						continue
					}
					if err := sel.SetSelectedTracks(t, ids...); err != nil {
						return fmt.Errorf("selecting %s tracks: %w", t, err)
					}
				}
				item, err := sel.Apply(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Selection saved; estimated size %s\n", formatSize(item.EstimatedSize))
			}
			printTracks(cmd.OutOrStdout(), sel)
			return nil
		})
	},
}

func printTracks(out io.Writer, sel types.TrackSelector) {
	for _, t := range types.TrackTypes {
		available := sel.AvailableTracks(t)
		if len(available) == 0 {
			continue
		}
		selected := make(map[string]bool)
		for _, tr := range sel.SelectedTracks(t) {
			selected[tr.RelativeID] = true
		}

		fmt.Fprintf(out, "%s:\n", t)
		for _, tr := range available {
			mark := " "
			if selected[tr.RelativeID] {
				mark = "*"
			}
			fmt.Fprintf(out, "  %s %-6s %s\n", mark, tr.RelativeID, describeTrack(tr))
		}
	}
}

func describeTrack(tr types.Track) string {
	var parts []string
	if tr.Width > 0 && tr.Height > 0 {
		parts = append(parts, fmt.Sprintf("%dx%d", tr.Width, tr.Height))
	}
	if tr.Bitrate > 0 {
		parts = append(parts, fmt.Sprintf("%d kbps", tr.Bitrate/1000))
	}
	if tr.Language != "" {
		parts = append(parts, tr.Language)
	}
	if tr.Codecs != "" {
		parts = append(parts, tr.Codecs)
	}
	return strings.Join(parts, "  ")
}

func init() {
	tracksCmd.Flags().String("select", "", "new selection, e.g. video=v1,audio=a0+a1")
}
