package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/vfaronov/httpheader"

	"github.com/surge-downloader/offline/internal/engine/types"
)

// Document is a small resource read fully into memory, such as a manifest
type Document struct {
	URL         string // Final URL after redirects; relative references resolve against it
	ContentType string // Media type without parameters
	Body        []byte
	Length      int64 // Total resource length, -1 when unknown
}

// Get reads rawURL into memory. Bodies longer than limit are rejected with
// a *types.ManifestError.
func (t *Transfer) Get(ctx context.Context, rawURL string, limit int64) (*Document, error) {
	return t.get(ctx, rawURL, limit, "")
}

// Peek reads at most the first n bytes of rawURL
func (t *Transfer) Peek(ctx context.Context, rawURL string, n int) (*Document, error) {
	return t.get(ctx, rawURL, int64(n), "bytes=0-"+strconv.Itoa(n-1))
}

func (t *Transfer) get(ctx context.Context, rawURL string, limit int64, rng string) (*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, types.ProbeTimeout)
	defer cancel()

	req, err := t.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}
	if rng != "" {
		req.Header.Set("Range", rng)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, types.NewNetworkError(rawURL, err)
	}
	defer resp.Body.Close()

	mtype, _ := httpheader.ContentType(resp.Header)
	doc := &Document{
		URL:         resp.Request.URL.String(),
		ContentType: mtype,
		Length:      resp.ContentLength,
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusPartialContent:
		if _, _, complete, ok := parseContentRange(resp.Header); ok {
			doc.Length = complete
		} else {
			doc.Length = -1
		}
	default:
		return nil, &types.NetworkError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	if rng == "" && resp.ContentLength > limit {
		return nil, &types.ManifestError{Reason: fmt.Sprintf("document is %d bytes, limit is %d", resp.ContentLength, limit)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, types.NewNetworkError(rawURL, err)
	}
	if int64(len(body)) > limit {
		if rng != "" {
			// Origin ignored the range; keep the head only
			body = body[:limit]
		} else {
			return nil, &types.ManifestError{Reason: fmt.Sprintf("document exceeds %d bytes", limit)}
		}
	}
	doc.Body = body
	return doc, nil
}
