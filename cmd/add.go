package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/surge-downloader/offline/internal/core"
)

var addCmd = &cobra.Command{
	Use:   "add [url]...",
	Short: "Register items for later download",
	Long: `add registers one item per URL. Items start NEW; pass --load to fetch
their manifests right away so tracks can be inspected with "offline tracks".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		batchFile, _ := cmd.Flags().GetString("batch")
		fromClipboard, _ := cmd.Flags().GetBool("clipboard")
		load, _ := cmd.Flags().GetBool("load")

		urls := append([]string(nil), args...)
		if batchFile != "" {
			fileURLs, err := readURLsFromFile(batchFile)
			if err != nil {
				return err
			}
			urls = append(urls, fileURLs...)
		}
		if fromClipboard {
			text, err := clipboard.ReadAll()
			if err != nil {
				return fmt.Errorf("reading clipboard: %w", err)
			}
			if text = strings.TrimSpace(text); text != "" {
				urls = append(urls, text)
			}
		}
		if len(urls) == 0 {
			return errors.New("no URL given")
		}
		if id != "" && len(urls) > 1 {
			return errors.New("--id needs exactly one URL")
		}

		return withService(cmd.Context(), func(ctx context.Context, svc *core.LocalDownloadService) error {
			ch, stop, err := svc.StreamEvents(ctx)
			if err != nil {
				return err
			}
			defer stop()

			pending := make(map[string]bool)
			var errs []error
			for _, u := range urls {
				itemID := id
				if itemID == "" {
					itemID = uuid.New().String()
				}
				item, err := svc.Add(ctx, itemID, u)
				if err != nil {
					errs = append(errs, fmt.Errorf("adding %s: %w", u, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added: %s [%s]\n", item.ContentURL, item.ID)
				if load {
					if err := svc.LoadMetadata(ctx, item.ID); err != nil {
						errs = append(errs, err)
						continue
					}
					pending[item.ID] = true
				}
			}

			failed, err := waitForMetadata(ctx, ch, pending)
			for itemID, loadErr := range failed {
				errs = append(errs, fmt.Errorf("loading %s: %w", itemID, loadErr))
			}
			if err != nil {
				errs = append(errs, err)
			}
			return errors.Join(errs...)
		})
	},
}

func init() {
	addCmd.Flags().String("id", "", "item id (default: a random UUID)")
	addCmd.Flags().StringP("batch", "b", "", "file containing URLs to add (one per line)")
	addCmd.Flags().Bool("clipboard", false, "add the URL on the clipboard")
	addCmd.Flags().Bool("load", false, "load manifests before returning")
}
