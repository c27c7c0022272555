package engine

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/surge-downloader/offline/internal/engine/events"
	"github.com/surge-downloader/offline/internal/engine/state"
	"github.com/surge-downloader/offline/internal/engine/transfer"
	"github.com/surge-downloader/offline/internal/engine/types"
)

// StartDownload queues every incomplete chunk of the item. It is legal from
// any state except NEW; an item that is already running is left alone.
func (e *Engine) StartDownload(ctx context.Context, id string) error {
	s, err := e.session()
	if err != nil {
		return err
	}
	item, err := s.cache.Get(ctx, id)
	if err != nil {
		return err
	}
	if item.State == types.StateNew {
		return fmt.Errorf("%w: metadata of %s not loaded", types.ErrInvalidState, id)
	}

	e.mu.Lock()
	if e.removing[id] {
		e.mu.Unlock()
		return types.ErrItemNotFound
	}
	if _, ok := e.runs[id]; ok {
		e.mu.Unlock()
		return nil
	}
	e.gen++
	r := &run{gen: e.gen, started: time.Now()}
	e.runs[id] = r
	e.mu.Unlock()

	abort := func() {
		e.mu.Lock()
		if e.runs[id] == r {
			delete(e.runs, id)
		}
		e.mu.Unlock()
	}

	if err := transfer.CheckDiskSpace(e.volumes()...); err != nil {
		abort()
		e.failItem(ctx, s, id, err)
		return err
	}

	pending, err := s.store.PendingChunks(ctx, id)
	if err != nil {
		abort()
		return err
	}
	if len(pending) == 0 {
		abort()
		if item.State != types.StateCompleted {
			e.completeItem(ctx, s, id, 0)
		}
		return nil
	}
	if unordered(pending) {
		shuffle(pending, e.cfg.GetShuffleSeed())
	}

	item, err = s.cache.Update(ctx, id, func(it *types.Item) {
		it.State = types.StateInProgress
	}, state.ColState)
	if err != nil {
		abort()
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runs[id] != r {
		// paused or removed while we were getting ready
		return nil
	}
	r.pending = len(pending)
	e.events.Publish(events.DownloadStartedMsg{DownloadID: id, Item: item, Pending: len(pending)})

	for _, task := range pending {
		if err := s.chunks.Submit(id, e.chunkJob(s, r.gen, task)); err != nil {
			delete(e.runs, id)
			s.chunks.CancelItem(id)
			return err
		}
	}
	e.logger.Info("download started", zap.String("item", id), zap.Int("chunks", len(pending)))
	return nil
}

// ResumeDownload is StartDownload
func (e *Engine) ResumeDownload(ctx context.Context, id string) error {
	return e.StartDownload(ctx, id)
}

func (e *Engine) chunkJob(s *session, gen uint64, task types.ChunkTask) func(context.Context) {
	return func(ctx context.Context) {
		res := s.transfer.Fetch(ctx, task, func(n int64) {
			s.book.Publish(chunkProgress{itemID: task.ItemID, n: n})
		})
		if res.Outcome == transfer.Failed {
			e.logger.Warn("chunk failed",
				zap.String("item", task.ItemID),
				zap.String("url", task.URL),
				zap.Int("attempts", res.Attempts),
				zap.Error(res.Err))
		}
		s.book.Publish(chunkDone{gen: gen, task: task, result: res})
	}
}

// PauseDownload cancels the item's queued and running chunks and moves it to
// PAUSED. It does nothing when no chunk is pending.
func (e *Engine) PauseDownload(ctx context.Context, id string) error {
	s, err := e.session()
	if err != nil {
		return err
	}
	item, err := s.cache.Get(ctx, id)
	if err != nil {
		return err
	}
	left, err := s.store.CountPendingChunks(ctx, id, "")
	if err != nil {
		return err
	}
	if left == 0 {
		return nil
	}
	switch item.State {
	case types.StatePaused:
		return nil
	case types.StateNew, types.StateFailed, types.StateCompleted:
		return fmt.Errorf("%w: cannot pause %s item %s", types.ErrInvalidState, item.State, id)
	}

	e.mu.Lock()
	delete(e.runs, id)
	s.chunks.Pause()
	cancelled := s.chunks.CancelItem(id)
	s.chunks.Resume()
	e.mu.Unlock()

	paused := false
	item, err = s.cache.Update(ctx, id, func(it *types.Item) {
		if it.State == types.StateInProgress || it.State == types.StateInfoLoaded {
			it.State = types.StatePaused
			paused = true
		}
	}, state.ColState)
	if err != nil {
		return err
	}
	if !paused {
		return nil
	}

	e.logger.Info("download paused", zap.String("item", id), zap.Int("cancelled", cancelled))
	e.events.Publish(events.DownloadPausedMsg{DownloadID: id, Downloaded: item.DownloadedSize})
	return nil
}

func unordered(tasks []types.ChunkTask) bool {
	for _, t := range tasks {
		if t.Order != types.OrderUnknown {
			return false
		}
	}
	return true
}

// shuffle mixes small and large files of an unordered plan. The fixed seed
// keeps the order identical across runs.
func shuffle(tasks []types.ChunkTask, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(tasks), func(i, j int) {
		tasks[i], tasks[j] = tasks[j], tasks[i]
	})
}
