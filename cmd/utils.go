package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/surge-downloader/offline/internal/engine/events"
	"github.com/surge-downloader/offline/internal/engine/types"
)

// readURLsFromFile reads URLs from a file, one per line. Blank lines and
// lines starting with # are skipped.
func readURLsFromFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var urls []string
	scanner := bufio.NewScanner(file)

	// Signed CDN URLs can be long
	const maxCapacity = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxCapacity)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			urls = append(urls, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return urls, nil
}

// parseSelection parses "video=v1,audio=a0+a1,text=" into relative ids per
// track type. An empty list deselects every track of that type.
func parseSelection(list string) (map[types.TrackType][]string, error) {
	out := make(map[types.TrackType][]string)
	if strings.TrimSpace(list) == "" {
		return out, nil
	}
	for _, part := range strings.Split(list, ",") {
		name, ids, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return nil, fmt.Errorf("selection %q: expected type=id[+id...]", part)
		}
		t, ok := types.ParseTrackType(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("selection %q: unknown track type %q", part, name)
		}
		if _, dup := out[t]; dup {
			return nil, fmt.Errorf("selection lists %s twice", t)
		}
		out[t] = []string{}
		for _, id := range strings.Split(ids, "+") {
			if id = strings.TrimSpace(id); id != "" {
				out[t] = append(out[t], id)
			}
		}
	}
	return out, nil
}

// parseStates parses a comma separated list of item states
func parseStates(list string) ([]types.ItemState, error) {
	var states []types.ItemState
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		st, ok := types.ParseItemState(name)
		if !ok {
			return nil, fmt.Errorf("unknown state %q", name)
		}
		states = append(states, st)
	}
	return states, nil
}

func unfinished(items []types.Item) []types.Item {
	var out []types.Item
	for _, it := range items {
		if it.State != types.StateCompleted {
			out = append(out, it)
		}
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// waitForMetadata drains ch until every id in pending got a
// MetadataLoadedMsg. Load errors are returned per id.
func waitForMetadata(ctx context.Context, ch <-chan any, pending map[string]bool) (map[string]error, error) {
	failed := make(map[string]error)
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return failed, ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return failed, context.Canceled
			}
			switch m := msg.(type) {
			case events.MetadataLoadedMsg:
				if !pending[m.DownloadID] {
					continue
				}
				delete(pending, m.DownloadID)
				if m.Err != nil {
					failed[m.DownloadID] = m.Err
				}
			case events.DownloadRemovedMsg:
				if pending[m.DownloadID] {
					delete(pending, m.DownloadID)
					failed[m.DownloadID] = types.ErrItemNotFound
				}
			}
		}
	}
	return failed, nil
}
