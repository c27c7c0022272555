package core

import (
	"context"

	"github.com/surge-downloader/offline/internal/engine/types"
)

// DownloadService defines the interface for interacting with the download engine.
// This abstraction keeps the TUI and the CLI independent of how the engine is
// hosted.
type DownloadService interface {
	// List returns the items in any of states, or all items.
	List(ctx context.Context, states ...types.ItemState) ([]types.Item, error)

	// Get returns one item by id.
	Get(ctx context.Context, id string) (types.Item, error)

	// Add registers a new item.
	Add(ctx context.Context, id, url string) (types.Item, error)

	// LoadMetadata fetches the manifest of a NEW item in the background.
	LoadMetadata(ctx context.Context, id string) error

	// Start queues the pending chunks of an item.
	Start(ctx context.Context, id string) error

	// Pause pauses an active download.
	Pause(ctx context.Context, id string) error

	// Resume resumes a paused download.
	Resume(ctx context.Context, id string) error

	// Delete cancels and removes an item with its files.
	Delete(ctx context.Context, id string) error

	// StreamEvents returns a channel that receives engine events until the
	// returned function is called or ctx is done.
	StreamEvents(ctx context.Context) (<-chan any, func(), error)

	// Shutdown handles graceful shutdown of the service
	Shutdown() error
}
