// Package engine is the orchestrator of offline downloads. It owns the item
// lifecycle, schedules metadata loads and chunk transfers on worker pools and
// reports progress to listeners.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/surge-downloader/offline/internal/engine/events"
	"github.com/surge-downloader/offline/internal/engine/pool"
	"github.com/surge-downloader/offline/internal/engine/state"
	"github.com/surge-downloader/offline/internal/engine/transfer"
	"github.com/surge-downloader/offline/internal/engine/types"
)

// LockFileName guards a state directory against a second engine
const LockFileName = "offline.lock"

// drainTimeout bounds how long removal and shutdown wait on cancelled work
const drainTimeout = 30 * time.Second

// Options configures an Engine
type Options struct {
	StateDir string // Database and lock file
	Adapter  types.RequestAdapter
	Client   *http.Client // Optional, built from the config when nil
	Logger   *zap.Logger

	// FreeSpace overrides how volume free space is measured
	FreeSpace transfer.FreeSpaceFunc
}

// run is one StartDownload of an item. Chunk results of an older run only
// count bytes.
type run struct {
	gen     uint64
	pending int
	started time.Time
}

// session holds what exists between Start and Stop
type session struct {
	lock     *flock.Flock
	store    *state.Store
	cache    *state.ItemCache
	transfer *transfer.Transfer
	chunks   *pool.WorkerPool
	metadata *pool.WorkerPool
	book     *events.Dispatcher // Serial progress aggregation queue
}

// Engine is the offline download orchestrator. Every method is safe for
// concurrent use. Listener callbacks run on a single dispatcher goroutine.
type Engine struct {
	cfg      *types.RuntimeConfig
	stateDir string
	adapter  types.RequestAdapter
	client   *http.Client
	logger   *zap.Logger
	free     transfer.FreeSpaceFunc

	events *events.Dispatcher

	mu         sync.Mutex
	s          *session
	gen        uint64
	runs       map[string]*run
	loading    map[string]bool
	removing   map[string]bool
	unreported map[string]int64 // Bytes counted while progress was muted
}

// New creates a stopped engine
func New(cfg *types.RuntimeConfig, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.Clone()
	if cfg.DownloadsDir == "" {
		cfg.DownloadsDir = filepath.Join(opts.StateDir, "downloads")
	}
	return &Engine{
		cfg:        cfg,
		stateDir:   opts.StateDir,
		adapter:    opts.Adapter,
		client:     opts.Client,
		free:       opts.FreeSpace,
		logger:     logger.With(zap.String("component", "engine")),
		events:     events.NewDispatcher(logger),
		runs:       make(map[string]*run),
		loading:    make(map[string]bool),
		removing:   make(map[string]bool),
		unreported: make(map[string]int64),
	}
}

// Subscribe registers a listener for engine messages and returns a function
// removing it. Listeners survive Stop and Start.
func (e *Engine) Subscribe(l events.Listener) func() {
	return e.events.Subscribe(l)
}

func (e *Engine) volumes() []transfer.Volume {
	return []transfer.Volume{
		{Path: e.cfg.DownloadsDir, MinFree: e.cfg.GetMinFreeDownloadBytes(), Free: e.free},
		{Path: e.stateDir, MinFree: e.cfg.GetMinFreeDataBytes(), Free: e.free},
	}
}

// Start takes the state directory lock, opens the store and starts the
// worker pools. Items left IN_PROGRESS by a previous run are resumed when
// auto resume is on.
func (e *Engine) Start(ctx context.Context) error {
	s, err := e.start(ctx)
	if err != nil || s == nil {
		return err
	}
	if e.cfg.GetAutoResume() {
		e.resumeInterrupted(ctx, s)
	}
	return nil
}

// start returns the new session, or nil when already running
func (e *Engine) start(ctx context.Context) (*session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s != nil {
		return nil, nil
	}

	if e.stateDir == "" {
		return nil, errors.New("engine: state directory not set")
	}
	for _, dir := range []string{e.stateDir, e.cfg.DownloadsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &types.StorageError{Op: "create directory", Err: err}
		}
	}

	lock := flock.New(filepath.Join(e.stateDir, LockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, &types.StorageError{Op: "lock state directory", Err: err}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrEngineLocked, e.stateDir)
	}

	store, err := state.Open(ctx, filepath.Join(e.stateDir, state.DBFileName), e.logger)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	s := &session{
		lock:     lock,
		store:    store,
		cache:    state.NewItemCache(store, e.cfg.GetFlushInterval(), e.cfg.GetCacheIdleTimeout(), e.logger),
		transfer: transfer.New(e.client, e.cfg, e.adapter, e.logger),
		chunks:   pool.New(e.cfg.GetMaxConcurrentDownloads(), e.logger.With(zap.String("pool", "chunks"))),
		metadata: pool.New(1, e.logger.With(zap.String("pool", "metadata"))),
		book:     events.NewDispatcher(e.logger.With(zap.String("queue", "bookkeeping"))),
	}
	s.transfer.Guard = transfer.DiskGuard(e.volumes()...)
	s.cache.Start()
	s.book.Subscribe(e.bookkeeper(s))

	e.s = s
	e.runs = make(map[string]*run)
	e.loading = make(map[string]bool)

	e.logger.Info("engine started",
		zap.String("state_dir", e.stateDir),
		zap.String("downloads_dir", e.cfg.DownloadsDir),
		zap.Int("workers", e.cfg.GetMaxConcurrentDownloads()))
	return s, nil
}

// resumeInterrupted restarts items a previous process left IN_PROGRESS
func (e *Engine) resumeInterrupted(ctx context.Context, s *session) {
	items, err := s.store.ItemsByState(ctx, types.StateInProgress)
	if err != nil {
		e.logger.Warn("listing interrupted items failed", zap.Error(err))
		return
	}
	for _, item := range items {
		e.logger.Info("resuming interrupted item", zap.String("item", item.ID))
		if err := e.StartDownload(ctx, item.ID); err != nil {
			e.logger.Warn("auto resume failed", zap.String("item", item.ID), zap.Error(err))
		}
	}
}

// Stop cancels every transfer without touching persisted item states, so
// IN_PROGRESS items resume on the next Start. Dirty byte counts are flushed
// before the store is closed.
func (e *Engine) Stop() error {
	e.mu.Lock()
	s := e.s
	e.s = nil
	e.mu.Unlock()
	if s == nil {
		return nil
	}

	s.metadata.Shutdown()
	s.chunks.Shutdown()
	// every result of the cancelled jobs is queued by now
	s.book.Close()

	var errs []error
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := s.cache.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.lock.Unlock(); err != nil {
		errs = append(errs, &types.StorageError{Op: "unlock state directory", Err: err})
	}

	e.mu.Lock()
	e.runs = make(map[string]*run)
	e.loading = make(map[string]bool)
	e.mu.Unlock()

	e.logger.Info("engine stopped")
	return errors.Join(errs...)
}

// Close stops the engine and the listener dispatcher. The engine cannot be
// restarted afterwards.
func (e *Engine) Close() error {
	err := e.Stop()
	e.events.Close()
	return err
}

// Running reports whether Start succeeded and Stop was not called yet
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s != nil
}

func (e *Engine) session() (*session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s == nil {
		return nil, types.ErrEngineStopped
	}
	return e.s, nil
}

func (e *Engine) isRemoving(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removing[id]
}
