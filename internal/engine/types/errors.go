package types

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
)

var (
	ErrItemExists    = errors.New("item already exists")
	ErrItemNotFound  = errors.New("item not found")
	ErrTrackNotFound = errors.New("track not found")
	ErrInvalidState  = errors.New("operation not allowed in current state")
	ErrEngineStopped = errors.New("engine is not running")
	ErrEngineLocked  = errors.New("state directory is owned by another engine")

	// ErrStopped marks a transfer that was cancelled. It is never a failure.
	ErrStopped = errors.New("transfer stopped")

	// ErrLowDiskSpace is matched by every LowDiskSpaceError
	ErrLowDiskSpace = errors.New("low disk space")
)

// NetworkError describes a failed HTTP exchange. Transient errors (timeouts)
// are retried by the transfer; all others fail the item immediately.
type NetworkError struct {
	URL        string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("network: %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("network: %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ManifestError is returned when the origin manifest cannot be used
type ManifestError struct {
	Reason string
	Err    error
}

func (e *ManifestError) Error() string {
	if e.Err != nil {
		return "manifest: " + e.Reason + ": " + e.Err.Error()
	}
	return "manifest: " + e.Reason
}

func (e *ManifestError) Unwrap() error {
	return e.Err
}

// StorageError wraps database and filesystem failures
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// LowDiskSpaceError is raised before a transfer when a volume is below its
// configured threshold.
type LowDiskSpaceError struct {
	Path     string
	Free     int64
	Required int64
}

func (e *LowDiskSpaceError) Error() string {
	return fmt.Sprintf("low disk space on %s: %d bytes free, %d required", e.Path, e.Free, e.Required)
}

func (e *LowDiskSpaceError) Is(target error) bool {
	return target == ErrLowDiskSpace
}

// IsStopped reports whether err is a cancellation rather than a failure
func IsStopped(err error) bool {
	return errors.Is(err, ErrStopped) || errors.Is(err, context.Canceled)
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Transient
	}
	return isTimeout(err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// NewNetworkError classifies a transport error for url
func NewNetworkError(url string, err error) *NetworkError {
	return &NetworkError{URL: url, Transient: isTimeout(err), Err: err}
}
