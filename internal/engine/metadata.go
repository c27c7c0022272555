package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/surge-downloader/offline/internal/engine/events"
	"github.com/surge-downloader/offline/internal/engine/manifest"
	"github.com/surge-downloader/offline/internal/engine/state"
	"github.com/surge-downloader/offline/internal/engine/types"
)

// LoadMetadata queues the manifest download and plan compilation of a NEW
// item. Listeners get a TracksAvailableMsg they may use to change the
// selection, then a MetadataLoadedMsg. A failed load leaves the item NEW.
func (e *Engine) LoadMetadata(ctx context.Context, id string) error {
	s, err := e.session()
	if err != nil {
		return err
	}
	item, err := s.cache.Get(ctx, id)
	if err != nil {
		return err
	}
	if item.State != types.StateNew {
		return fmt.Errorf("%w: metadata of %s already loaded", types.ErrInvalidState, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loading[id] || e.removing[id] {
		return nil
	}
	if err := s.metadata.Submit(id, func(ctx context.Context) {
		e.loadMetadata(ctx, s, item)
	}); err != nil {
		return err
	}
	e.loading[id] = true
	return nil
}

// CancelMetadata cancels a queued or running metadata load. The item is
// removed once the load notices; no failure is reported.
func (e *Engine) CancelMetadata(ctx context.Context, id string) error {
	s, err := e.session()
	if err != nil {
		return err
	}
	e.mu.Lock()
	loading := e.loading[id]
	e.mu.Unlock()
	if !loading {
		return nil
	}
	s.metadata.CancelItem(id)
	return nil
}

func (e *Engine) loadMetadata(ctx context.Context, s *session, item types.Item) {
	id := item.ID
	logger := e.logger.With(zap.String("item", id))
	defer func() {
		e.mu.Lock()
		delete(e.loading, id)
		e.mu.Unlock()
	}()

	applied, err := e.compile(ctx, s, item)
	if ctx.Err() != nil || types.IsStopped(err) {
		if !e.Running() || e.isRemoving(id) {
			// engine shutdown; the item stays NEW
			return
		}
		logger.Info("metadata load cancelled, removing item")
		if err := e.removeItem(context.Background(), s, item, false); err != nil {
			logger.Warn("removing cancelled item", zap.Error(err))
		}
		return
	}
	if err != nil {
		logger.Warn("metadata load failed", zap.Error(err))
		e.events.Publish(events.MetadataLoadedMsg{DownloadID: id, Item: item, Err: err})
		return
	}

	updated, err := s.cache.Update(ctx, id, func(it *types.Item) {
		it.State = types.StateInfoLoaded
		it.Format = applied.Format
		it.Duration = applied.Duration
		it.EstimatedSize = applied.EstimatedSize
		it.PlaybackPath = applied.PlaybackPath
	}, state.ColState)
	if err != nil {
		e.events.Publish(events.MetadataLoadedMsg{DownloadID: id, Item: item, Err: err})
		return
	}
	logger.Info("metadata loaded",
		zap.String("format", string(updated.Format)),
		zap.Int64("estimated", updated.EstimatedSize))
	e.events.Publish(events.MetadataLoadedMsg{DownloadID: id, Item: updated})
}

// compile runs a create mode compiler, giving listeners a chance to
// change the selection before the plan is persisted.
func (e *Engine) compile(ctx context.Context, s *session, item types.Item) (types.Item, error) {
	c, err := manifest.Create(ctx, item, manifest.Options{
		Fetcher:         s.transfer,
		Store:           s.store,
		MaxManifestSize: e.cfg.GetMaxManifestSize(),
		Logger:          e.logger,
	})
	if err != nil {
		return item, err
	}

	if hasTracks(c) {
		msg := events.TracksAvailableMsg{DownloadID: item.ID, Item: c.Item(), Selector: c}
		if err := e.events.PublishSync(ctx, msg); err != nil {
			return item, err
		}
	}
	return c.Apply(ctx)
}

func hasTracks(sel types.TrackSelector) bool {
	for _, t := range types.TrackTypes {
		if len(sel.AvailableTracks(t)) > 0 {
			return true
		}
	}
	return false
}

// TrackSelector opens an update mode compiler over the saved manifest of an
// item whose metadata is loaded. Apply persists the new selection and only
// adds chunks for newly selected tracks; call StartDownload afterwards to
// fetch them.
func (e *Engine) TrackSelector(ctx context.Context, id string) (*manifest.Compiler, error) {
	s, err := e.session()
	if err != nil {
		return nil, err
	}
	item, err := s.cache.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return manifest.Open(ctx, item, manifest.Options{
		Store:  s.store,
		Logger: e.logger,
		OnApplied: func(updated types.Item) {
			// the compiler already persisted these columns
			_, err := s.cache.Update(context.Background(), id, func(it *types.Item) {
				it.EstimatedSize = updated.EstimatedSize
				it.PlaybackPath = updated.PlaybackPath
			})
			if err != nil {
				e.logger.Warn("refreshing item after selection change", zap.String("item", id), zap.Error(err))
			}
		},
	})
}
