package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/surge-downloader/offline/internal/core"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List items",
	RunE: func(cmd *cobra.Command, args []string) error {
		stateList, _ := cmd.Flags().GetString("state")
		asJSON, _ := cmd.Flags().GetBool("json")
		states, err := parseStates(stateList)
		if err != nil {
			return err
		}

		return withService(cmd.Context(), func(ctx context.Context, svc *core.LocalDownloadService) error {
			items, err := svc.List(ctx, states...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(items)
			}
			if len(items) == 0 {
				fmt.Fprintln(out, "No items")
				return nil
			}

			t := table.New().Headers("ID", "STATE", "FORMAT", "PROGRESS", "SIZE", "URL")
			for _, it := range items {
				t.Row(
					it.ID,
					it.State.String(),
					string(it.Format),
					fmt.Sprintf("%.1f%%", it.Progress()),
					formatSize(it.EstimatedSize),
					it.ContentURL,
				)
			}
			fmt.Fprintln(out, t.Render())
			return nil
		})
	},
}

func formatSize(n int64) string {
	if n <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(n))
}

func init() {
	listCmd.Flags().String("state", "", "only list items in these states (comma separated)")
	listCmd.Flags().Bool("json", false, "print items as JSON")
}
