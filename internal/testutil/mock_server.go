// Package testutil provides an in-process origin server for engine tests.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Resource is one file served by a MockOrigin
type Resource struct {
	Data        []byte
	ContentType string
	Status      int // Forced response status (0 = serve normally)
}

// MockOrigin is a configurable HTTP origin serving manifests and segments.
type MockOrigin struct {
	Server *httptest.Server

	// Configuration
	SupportsRanges bool          // Whether to honor Range requests
	SupportsHead   bool          // Whether HEAD returns the length
	Latency        time.Duration // Artificial latency per request
	ByteLatency    time.Duration // Latency per 32KB written
	FailAfterBytes int64         // Abort a response after this many bytes (0 = never)

	// Tracking
	RequestCount   atomic.Int64
	BytesServed    atomic.Int64
	RangeRequests  atomic.Int64
	HeadRequests   atomic.Int64
	FullRequests   atomic.Int64
	FailedRequests atomic.Int64
	ActiveRequests atomic.Int64
	MaxActive      atomic.Int64

	mu        sync.RWMutex
	resources map[string]*Resource
	perPath   map[string]int
	gate      chan struct{}
}

// MockOriginOption is a function that configures a MockOrigin.
type MockOriginOption func(*MockOrigin)

// WithRangeSupport enables or disables Range request support.
func WithRangeSupport(enabled bool) MockOriginOption {
	return func(m *MockOrigin) {
		m.SupportsRanges = enabled
	}
}

// WithHeadSupport enables or disables HEAD length reporting.
func WithHeadSupport(enabled bool) MockOriginOption {
	return func(m *MockOrigin) {
		m.SupportsHead = enabled
	}
}

// WithLatency adds artificial latency per request.
func WithLatency(d time.Duration) MockOriginOption {
	return func(m *MockOrigin) {
		m.Latency = d
	}
}

// WithByteLatency adds latency after every 32KB served.
func WithByteLatency(d time.Duration) MockOriginOption {
	return func(m *MockOrigin) {
		m.ByteLatency = d
	}
}

// WithFailAfterBytes aborts every response after n bytes.
func WithFailAfterBytes(n int64) MockOriginOption {
	return func(m *MockOrigin) {
		m.FailAfterBytes = n
	}
}

// NewMockOrigin starts an origin with no resources.
func NewMockOrigin(opts ...MockOriginOption) *MockOrigin {
	m := newMockOrigin(opts...)
	m.Server = NewHTTPServer(http.HandlerFunc(m.handleRequest))
	return m
}

// NewMockOriginT starts an origin and closes it when the test ends.
func NewMockOriginT(t *testing.T, opts ...MockOriginOption) *MockOrigin {
	t.Helper()
	m := newMockOrigin(opts...)
	m.Server = NewHTTPServerT(t, http.HandlerFunc(m.handleRequest))
	t.Cleanup(m.Close)
	return m
}

func newMockOrigin(opts ...MockOriginOption) *MockOrigin {
	m := &MockOrigin{
		SupportsRanges: true,
		SupportsHead:   true,
		resources:      make(map[string]*Resource),
		perPath:        make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add serves data at p
func (m *MockOrigin) Add(p string, data []byte, contentType string) string {
	p = path.Clean("/" + p)
	m.mu.Lock()
	m.resources[p] = &Resource{Data: data, ContentType: contentType}
	m.mu.Unlock()
	return m.URL(p)
}

// AddFile serves size deterministic bytes at p and returns them
func (m *MockOrigin) AddFile(p string, size int) []byte {
	data := Pattern(p, size)
	m.Add(p, data, "application/octet-stream")
	return data
}

// SetStatus makes p answer with status instead of its content
func (m *MockOrigin) SetStatus(p string, status int) {
	p = path.Clean("/" + p)
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.resources[p]; ok {
		r.Status = status
	} else {
		m.resources[p] = &Resource{Status: status}
	}
}

// Hold blocks every segment response until Release is called.
func (m *MockOrigin) Hold() {
	m.mu.Lock()
	m.gate = make(chan struct{})
	m.mu.Unlock()
}

// Release unblocks responses held by Hold.
func (m *MockOrigin) Release() {
	m.mu.Lock()
	if m.gate != nil {
		close(m.gate)
		m.gate = nil
	}
	m.mu.Unlock()
}

// URL returns the absolute URL of p on this origin.
func (m *MockOrigin) URL(p string) string {
	return m.Server.URL + path.Clean("/"+p)
}

// Requests returns how many requests hit p
func (m *MockOrigin) Requests(p string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.perPath[path.Clean("/"+p)]
}

// Close shuts down the origin.
func (m *MockOrigin) Close() {
	m.Release()
	if m.Server != nil {
		m.Server.Close()
	}
}

// Reset clears all tracking counters.
func (m *MockOrigin) Reset() {
	m.RequestCount.Store(0)
	m.BytesServed.Store(0)
	m.RangeRequests.Store(0)
	m.HeadRequests.Store(0)
	m.FullRequests.Store(0)
	m.FailedRequests.Store(0)
	m.MaxActive.Store(0)
	m.mu.Lock()
	m.perPath = make(map[string]int)
	m.mu.Unlock()
}

// Stats returns a summary of origin statistics.
func (m *MockOrigin) Stats() MockOriginStats {
	return MockOriginStats{
		TotalRequests:  m.RequestCount.Load(),
		BytesServed:    m.BytesServed.Load(),
		RangeRequests:  m.RangeRequests.Load(),
		HeadRequests:   m.HeadRequests.Load(),
		FullRequests:   m.FullRequests.Load(),
		FailedRequests: m.FailedRequests.Load(),
		MaxActive:      m.MaxActive.Load(),
	}
}

// MockOriginStats contains origin statistics.
type MockOriginStats struct {
	TotalRequests  int64
	BytesServed    int64
	RangeRequests  int64
	HeadRequests   int64
	FullRequests   int64
	FailedRequests int64
	MaxActive      int64
}

func (m *MockOrigin) handleRequest(w http.ResponseWriter, r *http.Request) {
	m.RequestCount.Add(1)
	active := m.ActiveRequests.Add(1)
	defer m.ActiveRequests.Add(-1)
	for {
		peak := m.MaxActive.Load()
		if active <= peak || m.MaxActive.CompareAndSwap(peak, active) {
			break
		}
	}

	p := path.Clean(r.URL.Path)
	m.mu.Lock()
	m.perPath[p]++
	res, ok := m.resources[p]
	gate := m.gate
	m.mu.Unlock()

	if !ok {
		m.FailedRequests.Add(1)
		http.NotFound(w, r)
		return
	}
	if res.Status != 0 {
		m.FailedRequests.Add(1)
		http.Error(w, http.StatusText(res.Status), res.Status)
		return
	}

	if m.Latency > 0 {
		time.Sleep(m.Latency)
	}

	size := int64(len(res.Data))
	if r.Method == http.MethodHead {
		m.HeadRequests.Add(1)
		if !m.SupportsHead {
			http.Error(w, "HEAD not allowed", http.StatusMethodNotAllowed)
			return
		}
		setCommonHeaders(w, res.ContentType, 0, size-1)
		w.WriteHeader(http.StatusOK)
		return
	}

	if gate != nil && !isManifest(res.ContentType) {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	start, end := int64(0), size-1
	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" && m.SupportsRanges {
		m.RangeRequests.Add(1)

		var err error
		start, end, err = parseRange(rangeHeader, size)
		if err != nil {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			http.Error(w, "Invalid range", http.StatusRequestedRangeNotSatisfiable)
			return
		}

		setCommonHeaders(w, res.ContentType, start, end)
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		m.FullRequests.Add(1)
		setCommonHeaders(w, res.ContentType, 0, size-1)
		if m.SupportsRanges {
			w.Header().Set("Accept-Ranges", "bytes")
		}
		w.WriteHeader(http.StatusOK)
	}

	// Write in chunks to support byte latency and fail-after-bytes
	length := end - start + 1
	var written int64
	chunkSize := int64(32 * 1024)
	for written < length {
		if m.FailAfterBytes > 0 && written >= m.FailAfterBytes {
			m.FailedRequests.Add(1)
			return
		}
		n := length - written
		if n > chunkSize {
			n = chunkSize
		}
		from := start + written
		nw, err := w.Write(res.Data[from : from+n])
		if err != nil {
			return // Client disconnected
		}
		written += int64(nw)
		m.BytesServed.Add(int64(nw))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		if m.ByteLatency > 0 {
			time.Sleep(m.ByteLatency)
		}
	}
}

func isManifest(contentType string) bool {
	return strings.Contains(contentType, "dash+xml") || strings.Contains(contentType, "mpegurl")
}

func setCommonHeaders(w http.ResponseWriter, contentType string, start, end int64) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
}

// parseRange parses an HTTP Range header and returns start, end positions.
// Handles formats like "bytes=0-499" or "bytes=500-"
func parseRange(rangeHeader string, fileSize int64) (int64, int64, error) {
	if !strings.HasPrefix(rangeHeader, "bytes=") {
		return 0, 0, fmt.Errorf("invalid range prefix")
	}

	rangeSpec := strings.TrimPrefix(rangeHeader, "bytes=")
	parts := strings.Split(rangeSpec, "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid range format")
	}

	var start, end int64
	var err error

	if parts[0] == "" {
		// Suffix range: -500 means last 500 bytes
		end = fileSize - 1
		start, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		start = fileSize - start
	} else {
		start, err = strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return 0, 0, err
		}

		if parts[1] == "" {
			// Open-ended range: 500-
			end = fileSize - 1
		} else {
			end, err = strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return 0, 0, err
			}
			if end >= fileSize {
				end = fileSize - 1
			}
		}
	}

	// Validate
	if start < 0 || start >= fileSize || start > end {
		return 0, 0, fmt.Errorf("range out of bounds")
	}

	return start, end, nil
}

// Pattern returns size deterministic bytes derived from seed
func Pattern(seed string, size int) []byte {
	data := make([]byte, size)
	var h byte
	for i := 0; i < len(seed); i++ {
		h = h*31 + seed[i]
	}
	for i := range data {
		data[i] = byte(i) ^ h
	}
	return data
}
