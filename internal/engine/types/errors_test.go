package types

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsStopped(t *testing.T) {
	assert.True(t, IsStopped(ErrStopped))
	assert.True(t, IsStopped(fmt.Errorf("chunk: %w", context.Canceled)))
	assert.False(t, IsStopped(errors.New("boom")))
	assert.False(t, IsStopped(nil))
}

func TestNetworkError_Classification(t *testing.T) {
	timeout := NewNetworkError("http://x/seg.ts", timeoutErr{})
	assert.True(t, timeout.Transient)
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", timeout)))

	fatal := &NetworkError{URL: "http://x/seg.ts", StatusCode: 404}
	assert.False(t, IsTransient(fatal))
	assert.Contains(t, fatal.Error(), "404")

	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(nil))
}

func TestLowDiskSpaceError_Is(t *testing.T) {
	err := fmt.Errorf("start: %w", &LowDiskSpaceError{Path: "/data", Free: 10, Required: 100})
	assert.True(t, errors.Is(err, ErrLowDiskSpace))

	var lds *LowDiskSpaceError
	assert.True(t, errors.As(err, &lds))
	assert.Equal(t, "/data", lds.Path)
}

func TestWrappedErrorsUnwrap(t *testing.T) {
	base := errors.New("disk I/O error")
	assert.ErrorIs(t, &StorageError{Op: "add item", Err: base}, base)
	assert.ErrorIs(t, &ManifestError{Reason: "no periods", Err: base}, base)
	assert.Equal(t, "manifest: no periods", (&ManifestError{Reason: "no periods"}).Error())
}
