package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// URLHash returns a short, stable hash of a URL. Chunk file names are built
// from it so recompiling a plan maps to the same files on disk.
func URLHash(rawURL string) string {
	h := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(h[:8]) // 16 chars
}

// RangeHash is URLHash for a byte range of a URL
func RangeHash(rawURL string, offset, length int64) string {
	if offset < 0 {
		return URLHash(rawURL)
	}
	return URLHash(fmt.Sprintf("%s|%d-%d", rawURL, offset, length))
}

// ResolveURL makes ref absolute against base
func ResolveURL(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", ref, err)
	}
	if base == nil || u.IsAbs() {
		return u.String(), nil
	}
	return base.ResolveReference(u).String(), nil
}

// URLExtension returns the extension of the URL path ("" if none)
func URLExtension(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := path.Ext(u.Path)
	if len(ext) > 6 || strings.ContainsAny(ext, "$%") {
		return ""
	}
	return strings.ToLower(ext)
}

// SafeID makes a caller supplied id usable as a single path element
func SafeID(id string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", "\x00", "_")
	id = r.Replace(strings.TrimSpace(id))
	if id == "." || id == ".." {
		id = strings.Repeat("_", len(id))
	}
	return id
}
