package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/surge-downloader/offline/internal/engine/events"
	"github.com/surge-downloader/offline/internal/engine/state"
	"github.com/surge-downloader/offline/internal/engine/transfer"
	"github.com/surge-downloader/offline/internal/engine/types"
)

// Messages of the bookkeeping queue. Workers only publish them; every
// cache mutation they cause happens on the queue goroutine, in order.
type (
	chunkProgress struct {
		itemID string
		n      int64
	}

	chunkDone struct {
		gen    uint64
		task   types.ChunkTask
		result transfer.Result
	}

	itemRemoved struct {
		itemID string
	}
)

func (e *Engine) bookkeeper(s *session) events.Listener {
	return func(msg any) {
		ctx := context.Background()
		switch m := msg.(type) {
		case chunkProgress:
			e.countBytes(ctx, s, m)
		case chunkDone:
			e.chunkFinished(ctx, s, m)
		case itemRemoved:
			e.mu.Lock()
			delete(e.removing, m.itemID)
			delete(e.unreported, m.itemID)
			e.mu.Unlock()
		}
	}
}

// countBytes adds n to the item's downloaded size. Bytes that arrive after
// the item left IN_PROGRESS are still counted but reported with the next
// event of the item.
func (e *Engine) countBytes(ctx context.Context, s *session, m chunkProgress) {
	if m.n <= 0 || e.isRemoving(m.itemID) {
		return
	}
	item, err := s.cache.Update(ctx, m.itemID, func(it *types.Item) {
		it.DownloadedSize += m.n
	})
	if err != nil {
		e.logger.Debug("dropping progress", zap.String("item", m.itemID), zap.Error(err))
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if item.State != types.StateInProgress {
		e.unreported[m.itemID] += m.n
		return
	}
	n := m.n + e.unreported[m.itemID]
	delete(e.unreported, m.itemID)
	e.events.Publish(events.ProgressMsg{
		DownloadID: m.itemID,
		Downloaded: item.DownloadedSize,
		NewBytes:   n,
		Total:      item.EstimatedSize,
	})
}

func (e *Engine) chunkFinished(ctx context.Context, s *session, m chunkDone) {
	id := m.task.ItemID
	if e.isRemoving(id) {
		return
	}

	switch m.result.Outcome {
	case transfer.Stopped:
		return
	case transfer.Failed:
		e.failRun(ctx, s, id, m.gen, m.result.Err)
		return
	}

	if err := s.store.MarkChunkComplete(ctx, m.task); err != nil {
		e.failRun(ctx, s, id, m.gen, err)
		return
	}

	e.mu.Lock()
	r, ok := e.runs[id]
	if !ok || r.gen != m.gen {
		e.mu.Unlock()
		return
	}
	r.pending--
	if r.pending > 0 {
		e.mu.Unlock()
		return
	}
	delete(e.runs, id)
	e.mu.Unlock()

	left, err := s.store.CountPendingChunks(ctx, id, "")
	if err != nil {
		e.failItem(ctx, s, id, err)
		return
	}
	if left > 0 {
		// the selection grew while this run was going; the next start
		// picks the new chunks up
		e.logger.Info("run finished with chunks left", zap.String("item", id), zap.Int("pending", left))
		return
	}
	e.completeItem(ctx, s, id, time.Since(r.started))
}

// failRun fails the item unless the run already ended. Sibling chunks of
// a failed run are cancelled, so the item reports one failure per run.
func (e *Engine) failRun(ctx context.Context, s *session, id string, gen uint64, cause error) {
	e.mu.Lock()
	r, ok := e.runs[id]
	if !ok || r.gen != gen {
		e.mu.Unlock()
		e.logger.Debug("suppressing failure of finished run", zap.String("item", id), zap.Error(cause))
		return
	}
	delete(e.runs, id)
	s.chunks.CancelItem(id)
	e.mu.Unlock()

	e.failItem(ctx, s, id, cause)
}

func (e *Engine) failItem(ctx context.Context, s *session, id string, cause error) {
	if cause == nil {
		cause = errors.New("unknown error")
	}
	_, err := s.cache.Update(ctx, id, func(it *types.Item) {
		it.State = types.StateFailed
	}, state.ColState)
	if err != nil {
		e.logger.Warn("recording failure", zap.String("item", id), zap.Error(err))
	}
	e.logger.Error("download failed", zap.String("item", id), zap.Error(cause))
	e.events.Publish(events.DownloadErrorMsg{DownloadID: id, Err: cause})
}

func (e *Engine) completeItem(ctx context.Context, s *session, id string, elapsed time.Duration) {
	item, err := s.cache.Update(ctx, id, func(it *types.Item) {
		it.State = types.StateCompleted
		if it.FinishedAt.IsZero() {
			it.FinishedAt = time.Now()
		}
	}, state.ColState, state.ColFinishedAt, state.ColDownloadedSize)
	if err != nil {
		e.logger.Warn("recording completion", zap.String("item", id), zap.Error(err))
		return
	}

	e.mu.Lock()
	n := e.unreported[id]
	delete(e.unreported, id)
	e.mu.Unlock()

	e.logger.Info("download complete",
		zap.String("item", id),
		zap.Int64("bytes", item.DownloadedSize),
		zap.Duration("elapsed", elapsed))
	e.events.Publish(events.DownloadCompleteMsg{
		DownloadID: id,
		Item:       item,
		Elapsed:    elapsed,
		Total:      item.DownloadedSize,
		NewBytes:   n,
	})
}
