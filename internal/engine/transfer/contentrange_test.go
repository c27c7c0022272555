package transfer

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/offline/internal/testutil"
)

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		header                string
		first, last, complete int64
		ok                    bool
	}{
		{"bytes 0-0/1234", 0, 0, 1234, true},
		{"bytes 100-199/200", 100, 199, 200, true},
		{"Bytes 0-9/*", 0, 9, -1, true},
		{"bytes */500", -1, -1, 500, true},
		{"bytes */*", -1, -1, -1, false},
		{"bytes 10-5/100", -1, -1, -1, false},
		{"bytes 0-100/100", -1, -1, -1, false},
		{"bytes 0-9", -1, -1, -1, false},
		{"items 0-9/10", -1, -1, -1, false},
		{"bytes a-b/10", -1, -1, -1, false},
		{"", -1, -1, -1, false},
	}
	for _, tt := range tests {
		h := http.Header{}
		if tt.header != "" {
			h.Set("Content-Range", tt.header)
		}
		first, last, complete, ok := parseContentRange(h)
		assert.Equal(t, tt.ok, ok, tt.header)
		assert.Equal(t, tt.first, first, tt.header)
		assert.Equal(t, tt.last, last, tt.header)
		assert.Equal(t, tt.complete, complete, tt.header)
	}
}

func TestPeek_ReportsLengthAndMediaType(t *testing.T) {
	origin := testutil.NewMockOriginT(t)
	body := []byte(`<?xml version="1.0"?><MPD xmlns="urn:mpeg:dash:schema:mpd:2011"></MPD>`)
	origin.Add("/movie/manifest.mpd", body, "Application/DASH+XML; charset=utf-8")

	tr := newTestTransfer(nil)
	doc, err := tr.Peek(context.Background(), origin.URL("/movie/manifest.mpd"), 16)
	require.NoError(t, err)
	assert.Equal(t, "application/dash+xml", doc.ContentType)
	assert.Equal(t, int64(len(body)), doc.Length)
	assert.Equal(t, body[:16], doc.Body)

	doc, err = tr.Get(context.Background(), origin.URL("/movie/manifest.mpd"), 1024)
	require.NoError(t, err)
	assert.Equal(t, "application/dash+xml", doc.ContentType)
	assert.Equal(t, body, doc.Body)
}

func TestLengthFromRangedGet_UsesContentRangeTotal(t *testing.T) {
	origin := testutil.NewMockOriginT(t, testutil.WithHeadSupport(false))
	origin.AddFile("/seg.ts", 4321)

	n, err := newTestTransfer(nil).ProbeLength(context.Background(), origin.URL("/seg.ts"))
	require.NoError(t, err)
	assert.Equal(t, int64(4321), n)
	assert.Equal(t, int64(1), origin.Stats().RangeRequests)
}
