package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/surge-downloader/offline/internal/engine/types"
)

// MetadataLoadedMsg is sent when a metadata load finishes. Err is nil on
// success; the item state is only changed on success.
type MetadataLoadedMsg struct {
	DownloadID string
	Item       types.Item
	Err        error
}

// TracksAvailableMsg is sent once per metadata load, before the chunk plan is
// compiled. Listeners may change the selection through Selector while the
// message is being delivered.
type TracksAvailableMsg struct {
	DownloadID string
	Item       types.Item
	Selector   types.TrackSelector `json:"-"`
}

// DownloadStartedMsg is sent when chunk transfers have been queued
type DownloadStartedMsg struct {
	DownloadID string
	Item       types.Item
	Pending    int
}

// ProgressMsg represents a progress update for one item
type ProgressMsg struct {
	DownloadID string
	Downloaded int64 // Total bytes downloaded for the item
	NewBytes   int64 // Bytes added by this update
	Total      int64 // Estimated size
}

// DownloadPausedMsg is sent after the item's in-flight work was cancelled
type DownloadPausedMsg struct {
	DownloadID string
	Downloaded int64
}

// DownloadCompleteMsg signals that the last pending chunk finished. NewBytes
// carries bytes written while the item was not reporting progress.
type DownloadCompleteMsg struct {
	DownloadID string
	Item       types.Item
	Elapsed    time.Duration
	Total      int64
	NewBytes   int64
}

// DownloadErrorMsg signals that the item moved to FAILED
type DownloadErrorMsg struct {
	DownloadID string
	Err        error
}

func (m DownloadErrorMsg) MarshalJSON() ([]byte, error) {
	type encoded struct {
		DownloadID string `json:"DownloadID"`
		Err        string `json:"Err,omitempty"`
	}

	out := encoded{DownloadID: m.DownloadID}
	if m.Err != nil {
		out.Err = m.Err.Error()
	}

	return json.Marshal(out)
}

func (m *DownloadErrorMsg) UnmarshalJSON(data []byte) error {
	var aux struct {
		DownloadID string          `json:"DownloadID"`
		Err        json.RawMessage `json:"Err"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	m.DownloadID = aux.DownloadID
	m.Err = nil

	if len(aux.Err) == 0 {
		return nil
	}

	var errStr string
	if err := json.Unmarshal(aux.Err, &errStr); err == nil {
		if errStr != "" {
			m.Err = errors.New(errStr)
		}
		return nil
	}

	raw := string(aux.Err)
	if raw != "" && raw != "null" {
		m.Err = errors.New(raw)
	}
	return nil
}

// DownloadRemovedMsg is sent after an item's files and rows were deleted
type DownloadRemovedMsg struct {
	DownloadID string
}
