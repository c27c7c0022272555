package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/surge-downloader/offline/internal/engine/events"
	"github.com/surge-downloader/offline/internal/engine/types"
	"github.com/surge-downloader/offline/internal/utils"
)

// CreateItem registers a NEW item. Its files live in a directory named after
// the id under the downloads directory.
func (e *Engine) CreateItem(ctx context.Context, id, contentURL string) (types.Item, error) {
	s, err := e.session()
	if err != nil {
		return types.Item{}, err
	}
	if id == "" {
		return types.Item{}, errors.New("item id is empty")
	}
	u, err := url.Parse(contentURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return types.Item{}, fmt.Errorf("invalid content url %q", contentURL)
	}
	if e.isRemoving(id) {
		return types.Item{}, types.ErrItemExists
	}

	item := types.Item{
		ID:         id,
		ContentURL: u.String(),
		State:      types.StateNew,
		AddedAt:    time.Now(),
		DataDir:    filepath.Join(e.cfg.DownloadsDir, utils.SafeID(id)),
	}
	if err := s.store.AddItem(ctx, item); err != nil {
		return types.Item{}, err
	}
	e.logger.Info("item created", zap.String("item", id), zap.String("url", item.ContentURL))
	return item, nil
}

// FindItem returns the freshest copy of an item
func (e *Engine) FindItem(ctx context.Context, id string) (types.Item, error) {
	s, err := e.session()
	if err != nil {
		return types.Item{}, err
	}
	return s.cache.Get(ctx, id)
}

// Items returns the items in any of states, or every item when none are
// given. Byte counts reflect the cache.
func (e *Engine) Items(ctx context.Context, states ...types.ItemState) ([]types.Item, error) {
	s, err := e.session()
	if err != nil {
		return nil, err
	}
	if err := s.cache.Flush(ctx); err != nil {
		return nil, err
	}
	return s.store.ItemsByState(ctx, states...)
}

// EstimatedSize sums the estimated sizes of ids, or of every item
func (e *Engine) EstimatedSize(ctx context.Context, ids ...string) (int64, error) {
	return e.sumItems(ctx, ids, func(it types.Item) int64 { return it.EstimatedSize })
}

// DownloadedSize sums the downloaded bytes of ids, or of every item
func (e *Engine) DownloadedSize(ctx context.Context, ids ...string) (int64, error) {
	return e.sumItems(ctx, ids, func(it types.Item) int64 { return it.DownloadedSize })
}

func (e *Engine) sumItems(ctx context.Context, ids []string, field func(types.Item) int64) (int64, error) {
	var items []types.Item
	if len(ids) == 0 {
		all, err := e.Items(ctx)
		if err != nil {
			return 0, err
		}
		items = all
	}
	for _, id := range ids {
		item, err := e.FindItem(ctx, id)
		if err != nil {
			return 0, err
		}
		items = append(items, item)
	}

	var total int64
	for _, it := range items {
		total += field(it)
	}
	return total, nil
}

// PlaybackPath returns the absolute path of the item's local manifest or
// media file.
func (e *Engine) PlaybackPath(ctx context.Context, id string) (string, error) {
	item, err := e.FindItem(ctx, id)
	if err != nil {
		return "", err
	}
	if !item.State.HasPlayback() || item.PlaybackPath == "" {
		return "", fmt.Errorf("%w: %s has no playback path yet", types.ErrInvalidState, id)
	}
	return filepath.Join(item.DataDir, filepath.FromSlash(item.PlaybackPath)), nil
}

// RemoveItem cancels everything the item has queued or running, deletes its
// files and rows and reports a DownloadRemovedMsg.
func (e *Engine) RemoveItem(ctx context.Context, id string) error {
	s, err := e.session()
	if err != nil {
		return err
	}
	item, err := s.cache.Get(ctx, id)
	if err != nil {
		return err
	}
	return e.removeItem(ctx, s, item, true)
}

// removeItem does the work of RemoveItem. A metadata job removing its own
// item must not wait on the metadata pool.
func (e *Engine) removeItem(ctx context.Context, s *session, item types.Item, waitMetadata bool) error {
	id := item.ID
	e.mu.Lock()
	e.removing[id] = true
	delete(e.runs, id)
	e.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	if waitMetadata {
		if err := s.metadata.CancelItemAndWait(dctx, id); err != nil {
			e.logger.Warn("metadata load still running", zap.String("item", id), zap.Error(err))
		}
	} else {
		s.metadata.CancelItem(id)
	}
	if err := s.chunks.CancelItemAndWait(dctx, id); err != nil {
		e.logger.Warn("chunks still running", zap.String("item", id), zap.Error(err))
	}

	var errs []error
	if item.DataDir != "" {
		if err := os.RemoveAll(item.DataDir); err != nil {
			errs = append(errs, &types.StorageError{Op: "remove item files", Err: err})
		}
	}
	if err := s.store.RemoveItem(ctx, id); err != nil && !errors.Is(err, types.ErrItemNotFound) {
		errs = append(errs, err)
	}
	s.cache.Forget(id)

	// clears the removing mark once earlier progress has been dropped
	s.book.Publish(itemRemoved{itemID: id})
	e.logger.Info("item removed", zap.String("item", id))
	e.events.Publish(events.DownloadRemovedMsg{DownloadID: id})
	return errors.Join(errs...)
}
