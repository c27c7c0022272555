package types

import (
	"time"
)

// Size constants
const (
	KB = 1024
	MB = 1024 * KB
	GB = 1024 * MB

	// Megabyte as float for display calculations
	Megabyte = 1024.0 * 1024.0
)

// Transfer tuning
const (
	WorkerBuffer        = 64 * KB
	ProgressReportReads = 16 // Report progress after this many buffer reads
	MaxManifestSize     = 10 * MB
)

// HTTP Client Tuning
const (
	DefaultMaxIdleConns          = 100
	DefaultIdleConnTimeout       = 90 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 15 * time.Second
	DefaultExpectContinueTimeout = 1 * time.Second
	DialTimeout                  = 10 * time.Second
	KeepAliveDuration            = 30 * time.Second
	ProbeTimeout                 = 30 * time.Second
	ReadTimeout                  = 30 * time.Second
)

// Engine defaults
const (
	MaxConcurrentDownloads = 2
	MaxTaskRetries         = 3
	RetryBaseDelay         = 200 * time.Millisecond
	FlushInterval          = 200 * time.Millisecond
	CacheIdleTimeout       = 60 * time.Second
	ShuffleSeed            = 42

	MinFreeDownloadBytes = 200 * MB
	MinFreeDataBytes     = 50 * MB

	// Channel buffer sizes
	EventChannelBuffer = 256
)

// RuntimeConfig holds engine settings. Zero values fall back to the defaults
// above through the Get* accessors.
type RuntimeConfig struct {
	MaxConcurrentDownloads int
	UserAgent              string
	ProxyURL               string
	SkipTLSVerification    bool

	ConnectTimeout      time.Duration
	ReadTimeout         time.Duration
	WorkerBufferSize    int
	ProgressReportReads int
	MaxTaskRetries      int
	MaxBytesPerSecond   int64
	MaxManifestSize     int64

	DownloadsDir         string // Root under which item data dirs are created
	MinFreeDownloadBytes int64
	MinFreeDataBytes     int64

	FlushInterval    time.Duration
	CacheIdleTimeout time.Duration
	ShuffleSeed      int64
	AutoResume       *bool
}

// Clone returns a copy safe to keep after the caller mutates the original
func (r *RuntimeConfig) Clone() *RuntimeConfig {
	if r == nil {
		return &RuntimeConfig{}
	}
	c := *r
	if r.AutoResume != nil {
		v := *r.AutoResume
		c.AutoResume = &v
	}
	return &c
}

// GetUserAgent returns the configured user agent or the default
func (r *RuntimeConfig) GetUserAgent() string {
	if r == nil || r.UserAgent == "" {
		return "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	return r.UserAgent
}

// GetMaxConcurrentDownloads returns configured value or default
func (r *RuntimeConfig) GetMaxConcurrentDownloads() int {
	if r == nil || r.MaxConcurrentDownloads <= 0 {
		return MaxConcurrentDownloads
	}
	return r.MaxConcurrentDownloads
}

// GetConnectTimeout returns configured value or default
func (r *RuntimeConfig) GetConnectTimeout() time.Duration {
	if r == nil || r.ConnectTimeout <= 0 {
		return DialTimeout
	}
	return r.ConnectTimeout
}

// GetReadTimeout returns configured value or default
func (r *RuntimeConfig) GetReadTimeout() time.Duration {
	if r == nil || r.ReadTimeout <= 0 {
		return ReadTimeout
	}
	return r.ReadTimeout
}

// GetWorkerBufferSize returns configured value or default
func (r *RuntimeConfig) GetWorkerBufferSize() int {
	if r == nil || r.WorkerBufferSize <= 0 {
		return WorkerBuffer
	}
	return r.WorkerBufferSize
}

// GetProgressReportReads returns configured value or default
func (r *RuntimeConfig) GetProgressReportReads() int {
	if r == nil || r.ProgressReportReads <= 0 {
		return ProgressReportReads
	}
	return r.ProgressReportReads
}

// GetMaxTaskRetries returns configured value or default
func (r *RuntimeConfig) GetMaxTaskRetries() int {
	if r == nil || r.MaxTaskRetries <= 0 {
		return MaxTaskRetries
	}
	return r.MaxTaskRetries
}

// GetMaxManifestSize returns configured value or default
func (r *RuntimeConfig) GetMaxManifestSize() int64 {
	if r == nil || r.MaxManifestSize <= 0 {
		return MaxManifestSize
	}
	return r.MaxManifestSize
}

// GetMinFreeDownloadBytes returns configured value or default. A negative
// value disables the check.
func (r *RuntimeConfig) GetMinFreeDownloadBytes() int64 {
	if r == nil || r.MinFreeDownloadBytes == 0 {
		return MinFreeDownloadBytes
	}
	return r.MinFreeDownloadBytes
}

// GetMinFreeDataBytes returns configured value or default. A negative value
// disables the check.
func (r *RuntimeConfig) GetMinFreeDataBytes() int64 {
	if r == nil || r.MinFreeDataBytes == 0 {
		return MinFreeDataBytes
	}
	return r.MinFreeDataBytes
}

// GetFlushInterval returns configured value or default
func (r *RuntimeConfig) GetFlushInterval() time.Duration {
	if r == nil || r.FlushInterval <= 0 {
		return FlushInterval
	}
	return r.FlushInterval
}

// GetCacheIdleTimeout returns configured value or default
func (r *RuntimeConfig) GetCacheIdleTimeout() time.Duration {
	if r == nil || r.CacheIdleTimeout <= 0 {
		return CacheIdleTimeout
	}
	return r.CacheIdleTimeout
}

// GetShuffleSeed returns configured value or default
func (r *RuntimeConfig) GetShuffleSeed() int64 {
	if r == nil || r.ShuffleSeed == 0 {
		return ShuffleSeed
	}
	return r.ShuffleSeed
}

// GetAutoResume reports whether IN_PROGRESS items restart on engine start
func (r *RuntimeConfig) GetAutoResume() bool {
	if r == nil || r.AutoResume == nil {
		return true
	}
	return *r.AutoResume
}
