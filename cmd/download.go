package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/surge-downloader/offline/internal/core"
	"github.com/surge-downloader/offline/internal/engine/events"
	"github.com/surge-downloader/offline/internal/engine/types"
	"github.com/surge-downloader/offline/internal/tui"
)

var downloadCmd = &cobra.Command{
	Use:   "download [id]...",
	Short: "Download items, loading their manifests first when needed",
	Long: `download starts or resumes the given items and shows their progress
until every one of them completed or failed. NEW items get their manifest
loaded first. Interrupting leaves running items to resume on the next start.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		headless, _ := cmd.Flags().GetBool("headless")
		if len(args) == 0 && !all {
			return errors.New("no item id given (use --all for every unfinished item)")
		}

		return withService(cmd.Context(), func(ctx context.Context, svc *core.LocalDownloadService) error {
			items, err := selectItems(ctx, svc, args, all)
			if err != nil {
				return err
			}

			ch, stop, err := svc.StreamEvents(ctx)
			if err != nil {
				return err
			}
			defer stop()

			items, err = loadNewItems(ctx, cmd.ErrOrStderr(), svc, ch, items)
			if err != nil {
				return err
			}
			for _, it := range items {
				if err := svc.Start(ctx, it.ID); err != nil {
					return fmt.Errorf("starting %s: %w", it.ID, err)
				}
			}

			if headless {
				return consumeHeadless(ctx, cmd.OutOrStdout(), ch, items)
			}
			return runDashboardOn(ctx, svc, ch, items, true)
		})
	},
}

func selectItems(ctx context.Context, svc core.DownloadService, ids []string, all bool) ([]types.Item, error) {
	if all {
		items, err := svc.List(ctx)
		if err != nil {
			return nil, err
		}
		return unfinished(items), nil
	}
	var items []types.Item
	for _, id := range ids {
		it, err := svc.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}
		items = append(items, it)
	}
	return items, nil
}

// loadNewItems loads the manifest of every NEW item and returns the items
// that are ready to start. Items whose load failed are reported and skipped.
func loadNewItems(ctx context.Context, out io.Writer, svc core.DownloadService, ch <-chan any, items []types.Item) ([]types.Item, error) {
	pending := make(map[string]bool)
	for _, it := range items {
		if it.State != types.StateNew {
			continue
		}
		if err := svc.LoadMetadata(ctx, it.ID); err != nil {
			return nil, err
		}
		pending[it.ID] = true
	}
	failed, err := waitForMetadata(ctx, ch, pending)
	if err != nil {
		return nil, err
	}

	var ready []types.Item
	for _, it := range items {
		if loadErr, ok := failed[it.ID]; ok {
			fmt.Fprintf(out, "Error: [%s] loading manifest: %v\n", shortID(it.ID), loadErr)
			continue
		}
		ready = append(ready, it)
	}
	if len(ready) == 0 && len(items) > 0 {
		return nil, errors.New("no item could be started")
	}
	return ready, nil
}

// runDashboard opens the TUI over items without starting anything
func runDashboard(ctx context.Context, svc *core.LocalDownloadService, items []types.Item, exitWhenDone bool) error {
	ch, stop, err := svc.StreamEvents(ctx)
	if err != nil {
		return err
	}
	defer stop()
	return runDashboardOn(ctx, svc, ch, items, exitWhenDone)
}

func runDashboardOn(ctx context.Context, svc core.DownloadService, ch <-chan any, items []types.Item, exitWhenDone bool) error {
	m := tui.NewRootModel(ctx, svc, ch, items, exitWhenDone)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running TUI: %w", err)
	}
	if rm, ok := final.(tui.RootModel); ok {
		if failed := rm.Failed(); len(failed) > 0 {
			return fmt.Errorf("failed: %s", strings.Join(failed, ", "))
		}
	}
	return nil
}

// consumeHeadless prints one line per lifecycle event until every item
// completed, failed or was removed.
func consumeHeadless(ctx context.Context, out io.Writer, ch <-chan any, items []types.Item) error {
	active := make(map[string]bool, len(items))
	for _, it := range items {
		active[it.ID] = true
	}

	var failed []string
	for len(active) > 0 {
		var msg any
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "Interrupted; unfinished items resume on the next start")
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return errors.New("event stream closed")
			}
			msg = m
		}

		switch m := msg.(type) {
		case events.DownloadStartedMsg:
			fmt.Fprintf(out, "Started: [%s] %d chunks pending\n", shortID(m.DownloadID), m.Pending)
		case events.DownloadPausedMsg:
			fmt.Fprintf(out, "Paused: [%s]\n", shortID(m.DownloadID))
		case events.DownloadCompleteMsg:
			if active[m.DownloadID] {
				delete(active, m.DownloadID)
				fmt.Fprintf(out, "Completed: [%s] %s (in %s)\n", shortID(m.DownloadID), formatSize(m.Total), m.Elapsed)
			}
		case events.DownloadErrorMsg:
			if active[m.DownloadID] {
				delete(active, m.DownloadID)
				failed = append(failed, m.DownloadID)
				fmt.Fprintf(out, "Error: [%s]: %v\n", shortID(m.DownloadID), m.Err)
			}
		case events.DownloadRemovedMsg:
			if active[m.DownloadID] {
				delete(active, m.DownloadID)
				fmt.Fprintf(out, "Removed: [%s]\n", shortID(m.DownloadID))
			}
		}
	}
	if len(failed) > 0 {
		logger.Warn("downloads failed", zap.Strings("items", failed))
		return fmt.Errorf("failed: %s", strings.Join(failed, ", "))
	}
	return nil
}

func init() {
	downloadCmd.Flags().Bool("all", false, "download every unfinished item")
	downloadCmd.Flags().Bool("headless", false, "print progress lines instead of the dashboard")
}
