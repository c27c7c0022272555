package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/surge-downloader/offline/internal/engine/types"
)

// Outcome is the terminal status of one chunk transfer
type Outcome int

const (
	Completed Outcome = iota
	Stopped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Stopped:
		return "stopped"
	case Failed:
		return "error"
	default:
		return "unknown"
	}
}

// Result reports what a Fetch did
type Result struct {
	Outcome  Outcome
	NewBytes int64 // Bytes credited to the item by this fetch
	Size     int64 // Final length of the target file
	Attempts int
	Err      error
}

// ProgressFunc receives batched byte deltas while a chunk streams
type ProgressFunc func(newBytes int64)

// errReadStalled cancels an attempt whose body stopped producing bytes
var errReadStalled = errors.New("read stalled")

// Transfer downloads chunk tasks. It is safe for concurrent use.
type Transfer struct {
	client  *http.Client
	cfg     *types.RuntimeConfig
	adapter types.RequestAdapter
	limiter *rate.Limiter
	logger  *zap.Logger
	bufPool sync.Pool

	// Guard runs before every task; a non-nil error fails the task
	Guard func() error

	retryBaseDelay time.Duration
}

// New creates a Transfer. adapter may be nil.
func New(client *http.Client, cfg *types.RuntimeConfig, adapter types.RequestAdapter, logger *zap.Logger) *Transfer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client == nil {
		client = NewClient(cfg, logger)
	}

	t := &Transfer{
		client:         client,
		cfg:            cfg,
		adapter:        adapter,
		logger:         logger.With(zap.String("component", "transfer")),
		retryBaseDelay: types.RetryBaseDelay,
	}

	bufSize := cfg.GetWorkerBufferSize()
	t.bufPool.New = func() any {
		buf := make([]byte, bufSize)
		return &buf
	}

	if cfg != nil && cfg.MaxBytesPerSecond > 0 {
		burst := int(cfg.MaxBytesPerSecond)
		if burst < bufSize {
			burst = bufSize
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.MaxBytesPerSecond), burst)
	}
	return t
}

func (t *Transfer) newRequest(ctx context.Context, method, rawURL string) (*http.Request, error) {
	header := http.Header{}
	header.Set("User-Agent", t.cfg.GetUserAgent())
	if t.adapter != nil {
		rawURL, header = t.adapter.Adapt(rawURL, header)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, &types.NetworkError{URL: rawURL, Err: err}
	}
	for key, vals := range header {
		req.Header[key] = vals
	}
	return req, nil
}

// Fetch downloads task.URL into task.TargetFile, resuming a partial file.
// Cancelling ctx yields a Stopped result, never Failed.
func (t *Transfer) Fetch(ctx context.Context, task types.ChunkTask, onProgress ProgressFunc) Result {
	if onProgress == nil {
		onProgress = func(int64) {}
	}

	if err := ctx.Err(); err != nil {
		return Result{Outcome: Stopped, Err: types.ErrStopped}
	}

	if t.Guard != nil {
		if err := t.Guard(); err != nil {
			return Result{Outcome: Failed, Err: err}
		}
	}

	if err := os.MkdirAll(filepath.Dir(task.TargetFile), 0755); err != nil {
		return Result{Outcome: Failed, Err: &types.StorageError{Op: "create chunk directory", Err: err}}
	}

	maxRetries := t.cfg.GetMaxTaskRetries()
	var credit int64 = -1
	var total int64
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<attempt) * t.retryBaseDelay // Exponential backoff
			t.logger.Debug("retrying chunk",
				zap.String("url", task.URL), zap.Int("attempt", attempt), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return Result{Outcome: Stopped, NewBytes: total, Attempts: attempt, Err: types.ErrStopped}
			case <-time.After(delay):
			}
		}

		n, size, done, err := t.attempt(ctx, task, &credit, onProgress)
		attempts++
		total += n
		if err == nil {
			return Result{Outcome: Completed, NewBytes: total, Size: size, Attempts: attempt + 1}
		}
		if ctx.Err() != nil || types.IsStopped(err) {
			return Result{Outcome: Stopped, NewBytes: total, Attempts: attempt + 1, Err: types.ErrStopped}
		}
		lastErr = err
		if done || !types.IsTransient(err) {
			break
		}
	}

	return Result{Outcome: Failed, NewBytes: total, Attempts: attempts, Err: lastErr}
}

// remoteLength returns the expected final size of the target file, or -1
// when unknown.
func (t *Transfer) remoteLength(ctx context.Context, task types.ChunkTask) int64 {
	if task.IsRanged() {
		return task.RangeLength
	}
	n, err := t.ProbeLength(ctx, task.URL)
	if err != nil {
		t.logger.Debug("length probe failed, transferring anyway", zap.String("url", task.URL), zap.Error(err))
		return -1
	}
	return n
}

// attempt performs one request. It returns bytes credited, the final file
// size, whether the error is final regardless of retry budget, and the error.
//
// credit tracks bytes of a discarded local file that were already credited
// to the item by earlier runs; rewritten bytes are only credited past it so
// the item total never counts the same file twice.
func (t *Transfer) attempt(ctx context.Context, task types.ChunkTask, credit *int64, onProgress ProgressFunc) (int64, int64, bool, error) {
	var local int64
	if fi, err := os.Stat(task.TargetFile); err == nil {
		local = fi.Size()
	}

	if local > 0 {
		remote := t.remoteLength(ctx, task)
		switch {
		case remote >= 0 && local == remote:
			return 0, local, false, nil
		case remote >= 0 && local > remote:
			t.logger.Warn("local chunk larger than remote, restarting",
				zap.String("file", task.TargetFile), zap.Int64("local", local), zap.Int64("remote", remote))
			if *credit < 0 {
				*credit = local
			}
			if err := os.Truncate(task.TargetFile, 0); err != nil {
				return 0, 0, true, &types.StorageError{Op: "truncate chunk", Err: err}
			}
			local = 0
		}
	}

	attemptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	req, err := t.newRequest(attemptCtx, http.MethodGet, task.URL)
	if err != nil {
		return 0, local, true, err
	}
	if rng := rangeHeader(task, local); rng != "" {
		req.Header.Set("Range", rng)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(context.Cause(attemptCtx), errReadStalled) {
			return 0, local, false, &types.NetworkError{URL: task.URL, Transient: true, Err: errReadStalled}
		}
		return 0, local, false, types.NewNetworkError(task.URL, err)
	}
	defer resp.Body.Close()

	truncate := false
	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		if task.IsRanged() {
			return 0, local, true, &types.NetworkError{URL: task.URL, Err: fmt.Errorf("origin ignored byte range")}
		}
		if local > 0 {
			// Range ignored: start over from byte zero
			if *credit < 0 {
				*credit = local
			}
			truncate = true
			local = 0
		}
	case http.StatusRequestedRangeNotSatisfiable:
		if local > 0 {
			// Nothing beyond what we already hold
			return 0, local, false, nil
		}
		return 0, local, true, &types.NetworkError{URL: task.URL, StatusCode: resp.StatusCode}
	default:
		return 0, local, true, &types.NetworkError{URL: task.URL, StatusCode: resp.StatusCode}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if truncate {
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	out, err := os.OpenFile(task.TargetFile, flags, 0644)
	if err != nil {
		return 0, local, true, &types.StorageError{Op: "open chunk file", Err: err}
	}

	written, copyErr := t.copyBody(attemptCtx, cancel, out, resp.Body, local, credit, onProgress)
	if err := out.Close(); err != nil && copyErr == nil {
		copyErr = &types.StorageError{Op: "close chunk file", Err: err}
	}
	size := local + written

	if copyErr != nil {
		var se *types.StorageError
		isStorage := errors.As(copyErr, &se)
		switch {
		case errors.Is(context.Cause(attemptCtx), errReadStalled):
			copyErr = &types.NetworkError{URL: task.URL, Transient: true, Err: errReadStalled}
		case !isStorage && ctx.Err() == nil:
			copyErr = types.NewNetworkError(task.URL, copyErr)
		}
		return credited(local, written, credit), size, isStorage, copyErr
	}
	return credited(local, written, credit), size, false, nil
}

func rangeHeader(task types.ChunkTask, local int64) string {
	if task.IsRanged() {
		start := task.RangeOffset + local
		end := task.RangeOffset + task.RangeLength - 1
		return "bytes=" + strconv.FormatInt(start, 10) + "-" + strconv.FormatInt(end, 10)
	}
	if local > 0 {
		return "bytes=" + strconv.FormatInt(local, 10) + "-"
	}
	return ""
}

// credited returns how many of written bytes (appended at offset local)
// count as new for the item.
func credited(local, written int64, credit *int64) int64 {
	if *credit < 0 {
		return written
	}
	end := local + written
	if end <= *credit {
		return 0
	}
	start := local
	if start < *credit {
		start = *credit
	}
	return end - start
}

// copyBody streams body to out in WorkerBufferSize reads. Progress is
// reported every ProgressReportReads reads and once at the end. A read that
// produces nothing for ReadTimeout cancels the attempt.
func (t *Transfer) copyBody(ctx context.Context, cancel context.CancelCauseFunc, out io.Writer, body io.Reader,
	local int64, credit *int64, onProgress ProgressFunc) (int64, error) {

	bufPtr := t.bufPool.Get().(*[]byte)
	defer t.bufPool.Put(bufPtr)
	buf := *bufPtr

	readTimeout := t.cfg.GetReadTimeout()
	watchdog := time.AfterFunc(readTimeout, func() { cancel(errReadStalled) })
	defer watchdog.Stop()

	reportEvery := t.cfg.GetProgressReportReads()
	var written, reported int64
	reads := 0

	flush := func() {
		now := credited(local, written, credit)
		if delta := now - reported; delta > 0 {
			onProgress(delta)
			reported = now
		}
	}
	defer flush()

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, readErr := body.Read(buf)
		watchdog.Reset(readTimeout)
		if nr > 0 {
			if t.limiter != nil {
				if err := t.limiter.WaitN(ctx, nr); err != nil {
					return written, err
				}
			}
			nw, writeErr := out.Write(buf[:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if writeErr != nil {
				return written, &types.StorageError{Op: "write chunk", Err: writeErr}
			}
			if nw != nr {
				return written, &types.StorageError{Op: "write chunk", Err: io.ErrShortWrite}
			}
			reads++
			if reads%reportEvery == 0 {
				flush()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, readErr
		}
	}
}
