package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/surge-downloader/offline/internal/engine/transfer"
	"github.com/surge-downloader/offline/internal/engine/types"
	"github.com/surge-downloader/offline/internal/utils"
)

const (
	sourceDir   = "manifest"
	sourceIndex = "index.json"
)

// Fetcher is the network side of the compiler. *transfer.Transfer
// implements it.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, limit int64) (*transfer.Document, error)
	Peek(ctx context.Context, rawURL string, n int) (*transfer.Document, error)
	ProbeLength(ctx context.Context, rawURL string) (int64, error)
}

type sourceEntry struct {
	File        string `json:"file"`
	FinalURL    string `json:"final_url"`
	ContentType string `json:"content_type,omitempty"`
}

// sources keeps every manifest document an item was compiled from under
// <data dir>/manifest so update mode can re-parse offline.
type sources struct {
	dir     string
	fetcher Fetcher // nil when offline
	limit   int64

	mu    sync.Mutex
	index map[string]sourceEntry
}

func newSources(dataDir string, fetcher Fetcher, limit int64) *sources {
	return &sources{
		dir:     filepath.Join(dataDir, sourceDir),
		fetcher: fetcher,
		limit:   limit,
		index:   make(map[string]sourceEntry),
	}
}

// openSources loads a saved index for update mode
func openSources(dataDir string) (*sources, error) {
	s := newSources(dataDir, nil, 0)
	data, err := os.ReadFile(filepath.Join(s.dir, sourceIndex))
	if err != nil {
		return nil, &types.ManifestError{Reason: "saved manifest missing", Err: err}
	}
	if err := json.Unmarshal(data, &s.index); err != nil {
		return nil, &types.ManifestError{Reason: "saved manifest index corrupt", Err: err}
	}
	return s, nil
}

// load returns the document for rawURL, fetching and saving it when online
func (s *sources) load(ctx context.Context, rawURL string) (*transfer.Document, error) {
	s.mu.Lock()
	entry, ok := s.index[rawURL]
	s.mu.Unlock()

	if ok {
		body, err := os.ReadFile(filepath.Join(s.dir, entry.File))
		if err == nil {
			return &transfer.Document{URL: entry.FinalURL, ContentType: entry.ContentType, Body: body, Length: int64(len(body))}, nil
		}
		if s.fetcher == nil {
			return nil, &types.ManifestError{Reason: "saved manifest unreadable", Err: err}
		}
	}
	if s.fetcher == nil {
		return nil, &types.ManifestError{Reason: fmt.Sprintf("%s was never downloaded", rawURL)}
	}

	doc, err := s.fetcher.Get(ctx, rawURL, s.limit)
	if err != nil {
		return nil, err
	}
	if err := s.save(rawURL, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// save writes doc under the manifest dir and indexes it by rawURL
func (s *sources) save(rawURL string, doc *transfer.Document) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return &types.StorageError{Op: "create manifest dir", Err: err}
	}
	name := utils.URLHash(rawURL) + utils.URLExtension(doc.URL)
	if err := os.WriteFile(filepath.Join(s.dir, name), doc.Body, 0644); err != nil {
		return &types.StorageError{Op: "save manifest", Err: err}
	}

	s.mu.Lock()
	s.index[rawURL] = sourceEntry{File: name, FinalURL: doc.URL, ContentType: doc.ContentType}
	s.mu.Unlock()
	return nil
}

// commit writes the index. Until then update mode cannot open the item.
func (s *sources) commit() error {
	s.mu.Lock()
	data, err := json.MarshalIndent(s.index, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return &types.StorageError{Op: "create manifest dir", Err: err}
	}

	tmp := filepath.Join(s.dir, sourceIndex+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return &types.StorageError{Op: "save manifest index", Err: err}
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, sourceIndex)); err != nil {
		_ = os.Remove(tmp)
		return &types.StorageError{Op: "save manifest index", Err: err}
	}
	return nil
}
