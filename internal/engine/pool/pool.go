// Package pool runs jobs on a fixed set of workers sharing one FIFO queue.
package pool

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned by Submit after Shutdown
var ErrClosed = errors.New("worker pool is shut down")

// Job runs with its item's context and must return promptly once that
// context is cancelled.
type Job func(ctx context.Context)

type queuedJob struct {
	itemID string
	ctx    context.Context
	run    Job
	entry  *itemEntry
}

// itemEntry is the cancellation scope of one item's outstanding jobs
type itemEntry struct {
	ctx         context.Context
	cancel      context.CancelFunc
	outstanding int
	done        chan struct{} // closed when outstanding drops to zero
}

// WorkerPool executes jobs from every item on the same workers, so the
// concurrency cap is global. Pause blocks workers before they pick up a new
// job; jobs already running are left alone.
type WorkerPool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*queuedJob
	items   map[string]*itemEntry
	paused  bool
	closed  bool
	running int
	peak    int

	wg     sync.WaitGroup
	logger *zap.Logger
}

// New starts workers goroutines
func New(workers int, logger *zap.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &WorkerPool{
		items:  make(map[string]*itemEntry),
		logger: logger,
	}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(i)
	}
	return p
}

// Submit queues run for itemID. Jobs of the same item share a context that
// CancelItem cancels.
func (p *WorkerPool) Submit(itemID string, run Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	entry, ok := p.items[itemID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		entry = &itemEntry{ctx: ctx, cancel: cancel, done: make(chan struct{})}
		p.items[itemID] = entry
	}
	entry.outstanding++

	p.queue = append(p.queue, &queuedJob{itemID: itemID, ctx: entry.ctx, run: run, entry: entry})
	p.cond.Signal()
	return nil
}

// Pause stops workers from starting new jobs
func (p *WorkerPool) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume lets workers pick up jobs again
func (p *WorkerPool) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Paused reports whether the pool is paused
func (p *WorkerPool) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// CancelItem cancels every queued and running job of itemID and returns how
// many were outstanding. Jobs submitted afterwards get a fresh context.
func (p *WorkerPool) CancelItem(itemID string) int {
	p.mu.Lock()
	entry, ok := p.items[itemID]
	outstanding := 0
	if ok {
		delete(p.items, itemID)
		outstanding = entry.outstanding
	}
	p.mu.Unlock()

	if !ok {
		return 0
	}
	entry.cancel()
	p.logger.Debug("item cancelled", zap.String("item", itemID), zap.Int("outstanding", outstanding))
	return outstanding
}

// CancelItemAndWait cancels itemID like CancelItem, then blocks until its
// jobs have returned or ctx is done.
func (p *WorkerPool) CancelItemAndWait(ctx context.Context, itemID string) error {
	p.mu.Lock()
	entry, ok := p.items[itemID]
	if ok {
		delete(p.items, itemID)
	}
	p.mu.Unlock()

	if !ok {
		return nil
	}
	entry.cancel()
	select {
	case <-entry.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelAll cancels every item
func (p *WorkerPool) CancelAll() {
	p.mu.Lock()
	entries := p.items
	p.items = make(map[string]*itemEntry)
	p.mu.Unlock()

	for _, e := range entries {
		e.cancel()
	}
}

// Outstanding returns the number of queued and running jobs of itemID
func (p *WorkerPool) Outstanding(itemID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.items[itemID]; ok {
		return e.outstanding
	}
	return 0
}

// Running returns the number of jobs executing right now
func (p *WorkerPool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Peak returns the highest number of jobs that ever ran at once
func (p *WorkerPool) Peak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

// Shutdown cancels everything, lets workers drain the queue with cancelled
// contexts and waits for them to exit.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.CancelAll()
	p.cond.Broadcast()
	p.wg.Wait()
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for !p.closed && (p.paused || len(p.queue) == 0) {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}

		j := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.running++
		if p.running > p.peak {
			p.peak = p.running
		}
		p.mu.Unlock()

		p.runJob(id, j)

		p.mu.Lock()
		p.running--
		j.entry.outstanding--
		if j.entry.outstanding == 0 {
			if cur, ok := p.items[j.itemID]; ok && cur == j.entry {
				delete(p.items, j.itemID)
			}
			j.entry.cancel()
			close(j.entry.done)
		}
		p.mu.Unlock()
	}
}

func (p *WorkerPool) runJob(worker int, j *queuedJob) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", zap.Int("worker", worker), zap.String("item", j.itemID), zap.Any("panic", r))
		}
	}()
	j.run(j.ctx)
}
