package utils

import (
	"net/url"
	"testing"
)

func TestResolveURL(t *testing.T) {
	base, _ := url.Parse("https://cdn.example.com/vod/movie/manifest.mpd?token=1")

	tests := []struct {
		name     string
		ref      string
		expected string
	}{
		{
			name:     "Relative segment",
			ref:      "video/seg-1.m4s",
			expected: "https://cdn.example.com/vod/movie/video/seg-1.m4s",
		},
		{
			name:     "Root relative",
			ref:      "/other/seg.ts",
			expected: "https://cdn.example.com/other/seg.ts",
		},
		{
			name:     "Parent directory",
			ref:      "../shared/init.mp4",
			expected: "https://cdn.example.com/vod/shared/init.mp4",
		},
		{
			name:     "Already absolute",
			ref:      "http://mirror.org/a.ts",
			expected: "http://mirror.org/a.ts",
		},
		{
			name:     "Surrounding whitespace",
			ref:      "  audio.m4s \n",
			expected: "https://cdn.example.com/vod/movie/audio.m4s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveURL(base, tt.ref)
			if err != nil {
				t.Fatalf("ResolveURL() unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("ResolveURL() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestURLHash_Stable(t *testing.T) {
	a := URLHash("https://example.com/seg-1.m4s")
	b := URLHash("https://example.com/seg-1.m4s")
	c := URLHash("https://example.com/seg-2.m4s")

	if a != b {
		t.Errorf("hash of same URL differs: %s vs %s", a, b)
	}
	if a == c {
		t.Error("hash of different URLs collided")
	}
	if len(a) != 16 {
		t.Errorf("expected 16 hex chars, got %d", len(a))
	}
}

func TestRangeHash(t *testing.T) {
	u := "https://example.com/media.mp4"
	if RangeHash(u, -1, 0) != URLHash(u) {
		t.Error("whole resource should hash like the URL")
	}
	if RangeHash(u, 0, 100) == RangeHash(u, 100, 100) {
		t.Error("different ranges should hash differently")
	}
}

func TestSafeID(t *testing.T) {
	tests := map[string]string{
		"movie-1":      "movie-1",
		"a/b/c":        "a_b_c",
		"with\x00nul":  "with_nul",
		"win\\path":    "win_path",
		"..":           "__",
		"  padded id ": "padded id",
	}
	for in, want := range tests {
		if got := SafeID(in); got != want {
			t.Errorf("SafeID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestURLExtension(t *testing.T) {
	tests := map[string]string{
		"https://x/a/master.M3U8?x=1":      ".m3u8",
		"https://x/manifest.mpd":           ".mpd",
		"https://x/video":                  "",
		"https://x/seg-$Number$.m4s":       ".m4s",
		"https://x/file.verylongextension": "",
	}
	for in, want := range tests {
		if got := URLExtension(in); got != want {
			t.Errorf("URLExtension(%q) = %q, want %q", in, got, want)
		}
	}
}
