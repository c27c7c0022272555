package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Message Tests
// =============================================================================

func TestMessageTypes_AreDistinct(t *testing.T) {
	messages := []any{
		MetadataLoadedMsg{DownloadID: "meta"},
		TracksAvailableMsg{DownloadID: "tracks"},
		DownloadStartedMsg{DownloadID: "started"},
		ProgressMsg{DownloadID: "progress"},
		DownloadPausedMsg{DownloadID: "paused"},
		DownloadCompleteMsg{DownloadID: "complete"},
		DownloadErrorMsg{DownloadID: "error"},
		DownloadRemovedMsg{DownloadID: "removed"},
	}

	typeNames := make(map[string]bool)
	for _, msg := range messages {
		typeName := fmt.Sprintf("%T", msg)
		assert.False(t, typeNames[typeName], "duplicate type %s", typeName)
		typeNames[typeName] = true
	}
	assert.Len(t, typeNames, len(messages))
}

func TestDownloadErrorMsg_JSONRoundTrip(t *testing.T) {
	msg := DownloadErrorMsg{DownloadID: "err-1", Err: errors.New("connection reset")}

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"DownloadID":"err-1","Err":"connection reset"}`, string(data))

	var decoded DownloadErrorMsg
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "err-1", decoded.DownloadID)
	require.Error(t, decoded.Err)
	assert.Equal(t, "connection reset", decoded.Err.Error())
}

func TestDownloadErrorMsg_NilError(t *testing.T) {
	data, err := json.Marshal(DownloadErrorMsg{DownloadID: "ok"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"DownloadID":"ok"}`, string(data))

	var decoded DownloadErrorMsg
	require.NoError(t, json.Unmarshal([]byte(`{"DownloadID":"ok","Err":null}`), &decoded))
	assert.NoError(t, decoded.Err)
}

// =============================================================================
// Dispatcher Tests
// =============================================================================

func TestDispatcher_DeliversInOrder(t *testing.T) {
	d := NewDispatcher(nil)

	var mu sync.Mutex
	var got []int64
	d.Subscribe(func(msg any) {
		if p, ok := msg.(ProgressMsg); ok {
			mu.Lock()
			got = append(got, p.Downloaded)
			mu.Unlock()
		}
	})

	for i := int64(1); i <= 100; i++ {
		d.Publish(ProgressMsg{DownloadID: "a", Downloaded: i})
	}
	d.Close()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, int64(i+1), v)
	}
}

func TestDispatcher_NotOnCallerGoroutine(t *testing.T) {
	d := NewDispatcher(nil)
	defer d.Close()

	release := make(chan struct{})
	entered := make(chan struct{})
	d.Subscribe(func(msg any) {
		close(entered)
		<-release
	})

	// Publish must return while the listener is still blocked
	d.Publish(DownloadRemovedMsg{DownloadID: "x"})
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("listener never invoked")
	}
	close(release)
}

func TestDispatcher_PublishSyncWaitsForListeners(t *testing.T) {
	d := NewDispatcher(nil)
	defer d.Close()

	var seen bool
	d.Subscribe(func(msg any) {
		time.Sleep(20 * time.Millisecond)
		seen = true
	})

	require.NoError(t, d.PublishSync(context.Background(), TracksAvailableMsg{DownloadID: "x"}))
	assert.True(t, seen)
}

func TestDispatcher_PublishSyncContextCancelled(t *testing.T) {
	d := NewDispatcher(nil)
	defer d.Close()

	release := make(chan struct{})
	d.Subscribe(func(msg any) { <-release })
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.PublishSync(ctx, DownloadStartedMsg{DownloadID: "x"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatcher_Unsubscribe(t *testing.T) {
	d := NewDispatcher(nil)

	var count int
	unsubscribe := d.Subscribe(func(msg any) { count++ })

	require.NoError(t, d.PublishSync(context.Background(), ProgressMsg{}))
	unsubscribe()
	unsubscribe()
	require.NoError(t, d.PublishSync(context.Background(), ProgressMsg{}))
	d.Close()

	assert.Equal(t, 1, count)
}

func TestDispatcher_ListenerPanicDoesNotStopDelivery(t *testing.T) {
	d := NewDispatcher(nil)

	var delivered int
	d.Subscribe(func(msg any) { panic("boom") })
	d.Subscribe(func(msg any) { delivered++ })

	d.Publish(ProgressMsg{})
	d.Publish(ProgressMsg{})
	d.Close()

	assert.Equal(t, 2, delivered)
}

func TestDispatcher_PublishAfterClose(t *testing.T) {
	d := NewDispatcher(nil)
	d.Close()
	d.Close()

	d.Publish(ProgressMsg{})
	assert.NoError(t, d.PublishSync(context.Background(), ProgressMsg{}))
}
