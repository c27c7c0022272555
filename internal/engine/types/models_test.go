package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestItemState_RoundTrip(t *testing.T) {
	for st := StateNew; st <= StateFailed; st++ {
		parsed, ok := ParseItemState(st.String())
		assert.True(t, ok, st.String())
		assert.Equal(t, st, parsed)
	}

	_, ok := ParseItemState("bogus")
	assert.False(t, ok)
}

func TestItemState_HasPlayback(t *testing.T) {
	assert.False(t, StateNew.HasPlayback())
	for _, st := range []ItemState{StateInfoLoaded, StateInProgress, StatePaused, StateCompleted, StateFailed} {
		assert.True(t, st.HasPlayback(), st.String())
	}
}

func TestParseTrackType(t *testing.T) {
	tt, ok := ParseTrackType("audio")
	assert.True(t, ok)
	assert.Equal(t, TrackAudio, tt)

	_, ok = ParseTrackType("subtitle")
	assert.False(t, ok)
}

func TestItem_Progress(t *testing.T) {
	tests := []struct {
		name string
		item Item
		want float64
	}{
		{"unknown size", Item{DownloadedSize: 10}, 0},
		{"half", Item{EstimatedSize: 200, DownloadedSize: 100}, 50},
		{"estimate exceeded", Item{EstimatedSize: 100, DownloadedSize: 150}, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.item.Progress(), 0.001)
		})
	}
}

func TestChunkTask_IsRanged(t *testing.T) {
	assert.False(t, ChunkTask{RangeOffset: WholeResource}.IsRanged())
	assert.False(t, ChunkTask{RangeOffset: 0, RangeLength: 0}.IsRanged())
	assert.True(t, ChunkTask{RangeOffset: 0, RangeLength: 512}.IsRanged())
}

func TestRuntimeConfig_Defaults(t *testing.T) {
	var nilCfg *RuntimeConfig
	assert.Equal(t, MaxConcurrentDownloads, nilCfg.GetMaxConcurrentDownloads())
	assert.True(t, nilCfg.GetAutoResume())
	assert.Equal(t, int64(ShuffleSeed), nilCfg.GetShuffleSeed())

	cfg := &RuntimeConfig{MinFreeDataBytes: -1, MaxConcurrentDownloads: 4}
	assert.Equal(t, int64(-1), cfg.GetMinFreeDataBytes())
	assert.Equal(t, int64(MinFreeDownloadBytes), cfg.GetMinFreeDownloadBytes())
	assert.Equal(t, 4, cfg.GetMaxConcurrentDownloads())

	off := false
	cfg.AutoResume = &off
	clone := cfg.Clone()
	off = true
	assert.False(t, clone.GetAutoResume())
}
