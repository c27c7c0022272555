package core

import (
	"context"
	"sync"

	"github.com/surge-downloader/offline/internal/engine"
	"github.com/surge-downloader/offline/internal/engine/events"
	"github.com/surge-downloader/offline/internal/engine/types"
)

// EventBuffer is the channel size of StreamEvents
const EventBuffer = 100

// LocalDownloadService runs the engine in this process
type LocalDownloadService struct {
	engine *engine.Engine
}

// NewLocalDownloadService wraps a started engine
func NewLocalDownloadService(e *engine.Engine) *LocalDownloadService {
	return &LocalDownloadService{engine: e}
}

// Engine exposes the wrapped engine for operations outside the interface
func (s *LocalDownloadService) Engine() *engine.Engine {
	return s.engine
}

func (s *LocalDownloadService) List(ctx context.Context, states ...types.ItemState) ([]types.Item, error) {
	return s.engine.Items(ctx, states...)
}

func (s *LocalDownloadService) Get(ctx context.Context, id string) (types.Item, error) {
	return s.engine.FindItem(ctx, id)
}

func (s *LocalDownloadService) Add(ctx context.Context, id, url string) (types.Item, error) {
	return s.engine.CreateItem(ctx, id, url)
}

func (s *LocalDownloadService) LoadMetadata(ctx context.Context, id string) error {
	return s.engine.LoadMetadata(ctx, id)
}

func (s *LocalDownloadService) Start(ctx context.Context, id string) error {
	return s.engine.StartDownload(ctx, id)
}

func (s *LocalDownloadService) Pause(ctx context.Context, id string) error {
	return s.engine.PauseDownload(ctx, id)
}

func (s *LocalDownloadService) Resume(ctx context.Context, id string) error {
	return s.engine.ResumeDownload(ctx, id)
}

func (s *LocalDownloadService) Delete(ctx context.Context, id string) error {
	return s.engine.RemoveItem(ctx, id)
}

// StreamEvents forwards engine events to a channel. Progress updates are
// dropped while the channel is full; every other event waits for room.
func (s *LocalDownloadService) StreamEvents(ctx context.Context) (<-chan any, func(), error) {
	ch := make(chan any, EventBuffer)
	ctx, cancel := context.WithCancel(ctx)

	var mu sync.Mutex
	closed := false
	unsubscribe := s.engine.Subscribe(func(msg any) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		if _, ok := msg.(events.ProgressMsg); ok {
			select {
			case ch <- msg:
			default:
			}
			return
		}
		select {
		case ch <- msg:
		case <-ctx.Done():
		}
	})

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			unsubscribe()
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ch, stop, nil
}

// Shutdown stops the engine, leaving running items to resume next time
func (s *LocalDownloadService) Shutdown() error {
	return s.engine.Close()
}
