// Package manifest turns an origin manifest into tracks, chunk plans and a
// local manifest that plays from the downloaded files.
package manifest

import (
	"bytes"
	"strings"

	"github.com/h2non/filetype"

	"github.com/surge-downloader/offline/internal/engine/types"
	"github.com/surge-downloader/offline/internal/utils"
)

// SniffSize is how many leading bytes DetectFormat needs to recognize a
// manifest by content.
const SniffSize = 1024

var (
	mpdType  = filetype.NewType("mpd", "application/dash+xml")
	m3u8Type = filetype.NewType("m3u8", "application/vnd.apple.mpegurl")
)

func init() {
	filetype.AddMatcher(mpdType, matchMPD)
	filetype.AddMatcher(m3u8Type, matchM3U8)
}

func trimHead(buf []byte) []byte {
	buf = bytes.TrimPrefix(buf, []byte("\xef\xbb\xbf"))
	return bytes.TrimLeft(buf, " \t\r\n")
}

func matchMPD(buf []byte) bool {
	head := trimHead(buf)
	if len(head) > SniffSize {
		head = head[:SniffSize]
	}
	if !bytes.HasPrefix(head, []byte("<")) {
		return false
	}
	return bytes.Contains(head, []byte("<MPD"))
}

func matchM3U8(buf []byte) bool {
	return bytes.HasPrefix(trimHead(buf), []byte("#EXTM3U"))
}

// DetectFormat picks the manifest variant for a content URL. The response
// content type wins, then the URL extension, then the leading bytes. Anything
// unrecognized is a simple single file asset.
func DetectFormat(rawURL, contentType string, head []byte) types.AssetFormat {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "dash+xml"):
		return types.FormatDash
	case strings.Contains(ct, "mpegurl"):
		return types.FormatHls
	}

	switch utils.URLExtension(rawURL) {
	case ".mpd":
		return types.FormatDash
	case ".m3u8", ".m3u":
		return types.FormatHls
	}

	if len(head) > 0 {
		kind, err := filetype.Match(head)
		if err == nil {
			switch kind {
			case mpdType:
				return types.FormatDash
			case m3u8Type:
				return types.FormatHls
			}
		}
	}
	return types.FormatSimple
}

// mediaExtension returns the file extension for a simple asset, from the URL
// or, failing that, from the sniffed content.
func mediaExtension(rawURL string, head []byte) string {
	if ext := utils.URLExtension(rawURL); ext != "" {
		return ext
	}
	kind, err := filetype.Match(head)
	if err != nil || kind == filetype.Unknown {
		return ""
	}
	return "." + kind.Extension
}
