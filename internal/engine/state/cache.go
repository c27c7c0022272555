package state

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/surge-downloader/offline/internal/engine/types"
)

type cacheEntry struct {
	item     types.Item
	dirty    bool
	lastUsed time.Time
}

// ItemCache is a write-back cache over the Store for hot item fields.
// Downloaded byte counts are flushed periodically; every other column is
// written through when the caller names it.
type ItemCache struct {
	store    *Store
	interval time.Duration
	idle     time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*cacheEntry

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewItemCache creates a cache. Call Start to run the flush sweep.
func NewItemCache(store *Store, interval, idle time.Duration, logger *zap.Logger) *ItemCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = types.FlushInterval
	}
	if idle <= 0 {
		idle = types.CacheIdleTimeout
	}
	return &ItemCache{
		store:    store,
		interval: interval,
		idle:     idle,
		logger:   logger.With(zap.String("component", "item-cache")),
		now:      time.Now,
		entries:  make(map[string]*cacheEntry),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the periodic sweep
func (c *ItemCache) Start() {
	c.startOnce.Do(func() {
		go c.run()
	})
}

// Close stops the sweep and flushes whatever is still dirty
func (c *ItemCache) Close(ctx context.Context) error {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	// never started: nothing to wait for
	c.startOnce.Do(func() { close(c.done) })
	<-c.done
	return c.Flush(ctx)
}

func (c *ItemCache) run() {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep(context.Background())
		}
	}
}

// sweep flushes dirty entries, then evicts the clean idle ones
func (c *ItemCache) sweep(ctx context.Context) {
	if err := c.Flush(ctx); err != nil {
		c.logger.Warn("flush failed", zap.Error(err))
	}
	c.evict(c.now())
}

// evict drops clean entries idle for longer than the idle window. Dirty
// entries always survive until a flush succeeds.
func (c *ItemCache) evict(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for id, e := range c.entries {
		if e.dirty {
			continue
		}
		if now.Sub(e.lastUsed) >= c.idle {
			delete(c.entries, id)
			evicted++
		}
	}
	return evicted
}

// Flush writes every dirty byte count in one transaction
func (c *ItemCache) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var dirty []types.Item
	for _, e := range c.entries {
		if e.dirty {
			dirty = append(dirty, e.item)
		}
	}
	if len(dirty) == 0 {
		return nil
	}

	err := c.store.withTx(ctx, func(tx *sql.Tx) error {
		for _, item := range dirty {
			if err := c.store.updateItem(ctx, tx, item, ColDownloadedSize); err != nil && !errors.Is(err, types.ErrItemNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &types.StorageError{Op: "flush item cache", Err: err}
	}

	for _, item := range dirty {
		if e, ok := c.entries[item.ID]; ok && e.item.DownloadedSize == item.DownloadedSize {
			e.dirty = false
		}
	}
	return nil
}

// load returns the entry for id, reading it from the store on a miss.
// Callers hold c.mu.
func (c *ItemCache) load(ctx context.Context, id string) (*cacheEntry, error) {
	if e, ok := c.entries[id]; ok {
		e.lastUsed = c.now()
		return e, nil
	}
	item, err := c.store.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	e := &cacheEntry{item: item, lastUsed: c.now()}
	c.entries[id] = e
	return e, nil
}

// Get returns the freshest copy of the item
func (c *ItemCache) Get(ctx context.Context, id string) (types.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.load(ctx, id)
	if err != nil {
		return types.Item{}, err
	}
	return e.item, nil
}

// Update applies fn to the cached item. Columns in writeThrough are persisted
// before Update returns; a changed downloaded byte count not among them is
// left dirty for the next flush.
func (c *ItemCache) Update(ctx context.Context, id string, fn func(*types.Item), writeThrough ...Column) (types.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.load(ctx, id)
	if err != nil {
		return types.Item{}, err
	}

	next := e.item
	fn(&next)
	next.ID = e.item.ID

	if len(writeThrough) > 0 {
		if err := c.store.UpdateItem(ctx, next, writeThrough...); err != nil {
			return e.item, err
		}
	}

	bytesWritten := false
	for _, col := range writeThrough {
		if col == ColDownloadedSize {
			bytesWritten = true
		}
	}
	if next.DownloadedSize != e.item.DownloadedSize && !bytesWritten {
		e.dirty = true
	} else if bytesWritten {
		e.dirty = false
	}
	e.item = next
	return next, nil
}

// Forget drops the entry without flushing it
func (c *ItemCache) Forget(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Len returns the number of cached items
func (c *ItemCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
