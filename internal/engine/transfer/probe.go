package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/surge-downloader/offline/internal/engine/types"
)

// ProbeLength asks the origin for the resource's length without
// transferring its body. HEAD is tried first; origins that reject HEAD or
// omit the length are asked for the first byte instead.
func (t *Transfer) ProbeLength(ctx context.Context, rawURL string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, types.ProbeTimeout)
	defer cancel()

	if n, err := t.probe(ctx, http.MethodHead, rawURL); err == nil && n >= 0 {
		return n, nil
	}
	n, err := t.probe(ctx, http.MethodGet, rawURL)
	if err != nil {
		return -1, err
	}
	if n < 0 {
		return -1, fmt.Errorf("origin did not report a length for %s", rawURL)
	}
	return n, nil
}

func (t *Transfer) probe(ctx context.Context, method, rawURL string) (int64, error) {
	req, err := t.newRequest(ctx, method, rawURL)
	if err != nil {
		return -1, err
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return -1, types.NewNetworkError(rawURL, err)
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*types.KB)) // Drain any remaining data
		resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		// Content-Range: bytes 0-0/TOTAL
		_, _, complete, ok := parseContentRange(resp.Header)
		if !ok || complete < 0 {
			return -1, nil
		}
		return complete, nil
	case http.StatusOK:
		if method == http.MethodGet && resp.ContentLength < 0 {
			return -1, nil
		}
		return resp.ContentLength, nil
	default:
		return -1, &types.NetworkError{URL: rawURL, StatusCode: resp.StatusCode}
	}
}
