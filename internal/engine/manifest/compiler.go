package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/surge-downloader/offline/internal/engine/state"
	"github.com/surge-downloader/offline/internal/engine/types"
)

// Store is the persistence a compiler needs. *state.Store implements it.
type Store interface {
	SaveMetadata(ctx context.Context, item types.Item, tracks []types.Track, chunks []types.ChunkTask, cols ...state.Column) error
	ApplySelection(ctx context.Context, change state.SelectionChange) (int, error)
	Tracks(ctx context.Context, itemID string, states ...types.TrackState) ([]types.Track, error)
	CountPendingChunks(ctx context.Context, itemID, trackID string) (int, error)
}

// Options wires a compiler to the network and the store
type Options struct {
	Fetcher         Fetcher // Unused in update mode
	Store           Store
	MaxManifestSize int64
	Logger          *zap.Logger

	// OnApplied runs after a successful Apply with the updated item
	OnApplied func(types.Item)
}

type mode int

const (
	createMode mode = iota
	updateMode
)

func (m mode) String() string {
	if m == updateMode {
		return "update"
	}
	return "create"
}

// Compiler exposes the tracks of one item's manifest, lets callers change the
// selection and compiles the selection into chunk tasks and a local manifest.
//
// A create mode compiler comes from Create and persists the whole first plan
// once. An update mode compiler comes from Open, re-parses the saved
// manifest and persists only the difference to the stored selection.
type Compiler struct {
	mode      mode
	item      types.Item
	format    format
	src       *sources
	store     Store
	onApplied func(types.Item)
	logger    *zap.Logger

	mu        sync.Mutex
	available []types.Track
	selected  map[string]bool
	persisted map[string]bool // update mode: selection currently in the store
	dirty     bool
	applied   bool
}

func newCompiler(m mode, item types.Item, f format, src *sources, opts Options) *Compiler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compiler{
		mode:      m,
		item:      item,
		format:    f,
		src:       src,
		store:     opts.Store,
		onApplied: opts.OnApplied,
		logger:    logger.With(zap.String("item", item.ID), zap.String("mode", m.String())),
		selected:  make(map[string]bool),
		persisted: make(map[string]bool),
	}
}

// Create downloads and parses the origin manifest of a new item and applies
// the default selection. Nothing is persisted until Apply.
func Create(ctx context.Context, item types.Item, opts Options) (*Compiler, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("manifest: create mode needs a fetcher")
	}
	limit := opts.MaxManifestSize
	if limit <= 0 {
		limit = types.MaxManifestSize
	}

	af := DetectFormat(item.ContentURL, "", nil)
	var head []byte
	if af == types.FormatSimple {
		doc, err := opts.Fetcher.Peek(ctx, item.ContentURL, SniffSize)
		if err != nil {
			return nil, err
		}
		head = doc.Body
		af = DetectFormat(item.ContentURL, doc.ContentType, head)
	}

	f := newFormat(af, opts.Fetcher)
	if sf, ok := f.(*simpleFormat); ok {
		sf.ext = mediaExtension(item.ContentURL, head)
	}

	src := newSources(item.DataDir, opts.Fetcher, limit)
	if err := f.parseOrigin(ctx, src, item.ContentURL); err != nil {
		return nil, err
	}

	item.Format = af
	item.Duration = f.duration()
	c := newCompiler(createMode, item, f, src, opts)
	c.available = f.createTracks(item.ID)
	for _, ids := range DefaultSelection(c.available) {
		for _, id := range ids {
			c.selected[id] = true
		}
	}
	c.logger.Info("manifest parsed",
		zap.String("format", string(af)),
		zap.Int("tracks", len(c.available)),
		zap.Duration("duration", item.Duration))
	return c, nil
}

// Open re-parses the saved manifest of an item whose metadata is loaded and
// reads the stored selection. No network access is needed.
func Open(ctx context.Context, item types.Item, opts Options) (*Compiler, error) {
	if !item.State.HasPlayback() {
		return nil, fmt.Errorf("%w: metadata of %s not loaded", types.ErrInvalidState, item.ID)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("manifest: update mode needs a store")
	}

	src, err := openSources(item.DataDir)
	if err != nil {
		return nil, err
	}
	f := newFormat(item.Format, nil)
	if err := f.parseOrigin(ctx, src, item.ContentURL); err != nil {
		return nil, err
	}

	c := newCompiler(updateMode, item, f, src, opts)
	c.available = f.createTracks(item.ID)

	stored, err := opts.Store.Tracks(ctx, item.ID, types.TrackSelected, types.TrackDownloaded)
	if err != nil {
		return nil, err
	}
	for _, t := range stored {
		c.selected[t.RelativeID] = true
		c.persisted[t.RelativeID] = true
	}
	return c, nil
}

// Item returns the item as last compiled
func (c *Compiler) Item() types.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.item
}

// Format returns the detected manifest format
func (c *Compiler) Format() types.AssetFormat {
	return c.format.assetFormat()
}

func (c *Compiler) withState(t types.Track) types.Track {
	if c.selected[t.RelativeID] {
		t.State = types.TrackSelected
	} else {
		t.State = types.TrackNotSelected
	}
	return t
}

// AvailableTracks returns every track of kind t in discovery order
func (c *Compiler) AvailableTracks(t types.TrackType) []types.Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []types.Track
	for _, tr := range c.available {
		if tr.Type == t {
			out = append(out, c.withState(tr))
		}
	}
	return out
}

// SelectedTracks returns the currently selected tracks of kind t
func (c *Compiler) SelectedTracks(t types.TrackType) []types.Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedLocked(t)
}

func (c *Compiler) selectedLocked(t types.TrackType) []types.Track {
	var out []types.Track
	for _, tr := range c.available {
		if tr.Type == t && c.selected[tr.RelativeID] {
			out = append(out, c.withState(tr))
		}
	}
	return out
}

func (c *Compiler) allSelectedLocked() []types.Track {
	var out []types.Track
	for _, tr := range c.available {
		if c.selected[tr.RelativeID] {
			out = append(out, c.withState(tr))
		}
	}
	return out
}

// SetSelectedTracks replaces the selection for kind t. Every id must name an
// available track of that kind.
func (c *Compiler) SetSelectedTracks(t types.TrackType, relativeIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode == createMode && c.applied {
		return fmt.Errorf("%w: selection already applied", types.ErrInvalidState)
	}

	want := make(map[string]bool, len(relativeIDs))
	for _, id := range relativeIDs {
		found := false
		for _, tr := range c.available {
			if tr.RelativeID == id && tr.Type == t {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s track %q", types.ErrTrackNotFound, t, id)
		}
		want[id] = true
	}

	for _, tr := range c.available {
		if tr.Type != t {
			continue
		}
		if c.selected[tr.RelativeID] != want[tr.RelativeID] {
			c.dirty = true
		}
		if want[tr.RelativeID] {
			c.selected[tr.RelativeID] = true
		} else {
			delete(c.selected, tr.RelativeID)
		}
	}
	return nil
}

// Dirty reports whether the selection differs from what Apply last persisted
func (c *Compiler) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Apply compiles and persists the selection. In create mode it runs once;
// later calls log a warning and change nothing. In update mode it is a
// no-op unless the selection changed.
func (c *Compiler) Apply(ctx context.Context) (types.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	switch c.mode {
	case createMode:
		if c.applied {
			c.logger.Warn("apply called again on a create mode compiler, ignoring")
			return c.item, nil
		}
		err = c.applyCreate(ctx)
	default:
		if !c.dirty {
			return c.item, nil
		}
		err = c.applyUpdate(ctx)
	}
	if err != nil {
		return c.item, err
	}
	if c.onApplied != nil {
		c.onApplied(c.item)
	}
	return c.item, nil
}

func (c *Compiler) applyCreate(ctx context.Context) error {
	selected := c.allSelectedLocked()
	if len(c.available) > 0 && len(selected) == 0 {
		return &types.ManifestError{Reason: "no tracks selected"}
	}

	item := c.item
	tasks, err := c.format.createDownloadTasks(item, selected)
	if err != nil {
		return err
	}
	playback, err := c.format.createLocalManifest(item, selected)
	if err != nil {
		return err
	}
	if err := c.src.commit(); err != nil {
		return err
	}

	item.PlaybackPath = playback
	item.EstimatedSize = c.format.estimatedSize(selected)

	tracks := make([]types.Track, len(c.available))
	for i, t := range c.available {
		tracks[i] = c.withState(t)
	}

	if c.store != nil {
		if err := c.store.SaveMetadata(ctx, item, tracks, tasks,
			state.ColFormat, state.ColDuration, state.ColEstimatedSize, state.ColPlaybackPath); err != nil {
			return err
		}
	}

	c.item = item
	c.applied = true
	c.dirty = false
	for id := range c.selected {
		c.persisted[id] = true
	}
	c.logger.Info("plan compiled",
		zap.Int("selected", len(selected)),
		zap.Int("chunks", len(tasks)),
		zap.Int64("estimated", item.EstimatedSize))
	return nil
}

func (c *Compiler) applyUpdate(ctx context.Context) error {
	var added, removed []types.Track
	for _, t := range c.available {
		switch sel, was := c.selected[t.RelativeID], c.persisted[t.RelativeID]; {
		case sel && !was:
			added = append(added, t)
		case !sel && was:
			removed = append(removed, t)
		}
	}

	item := c.item
	selected := c.allSelectedLocked()
	tasks, err := c.format.createDownloadTasks(item, added)
	if err != nil {
		return err
	}
	playback, err := c.format.createLocalManifest(item, selected)
	if err != nil {
		return err
	}
	item.PlaybackPath = playback
	item.EstimatedSize = c.format.estimatedSize(selected)

	change := state.SelectionChange{
		Item:    item,
		Columns: []state.Column{state.ColEstimatedSize, state.ColPlaybackPath},
		Chunks:  tasks,
	}
	for _, t := range added {
		change.Selected = append(change.Selected, t.RelativeID)
	}
	for _, t := range removed {
		change.Deselected = append(change.Deselected, t.RelativeID)
	}

	inserted, err := c.store.ApplySelection(ctx, change)
	if err != nil {
		return err
	}

	c.item = item
	c.dirty = false
	c.persisted = make(map[string]bool, len(c.selected))
	for id := range c.selected {
		c.persisted[id] = true
	}
	c.logger.Info("selection updated",
		zap.Strings("added", change.Selected),
		zap.Strings("removed", change.Deselected),
		zap.Int("new_chunks", inserted))
	return nil
}

// DownloadedTracks returns the persisted selected tracks that have no
// incomplete chunk task left. The state is derived, never stored.
func (c *Compiler) DownloadedTracks(ctx context.Context) ([]types.Track, error) {
	c.mu.Lock()
	var candidates []types.Track
	for _, t := range c.available {
		if c.persisted[t.RelativeID] {
			candidates = append(candidates, t)
		}
	}
	itemID := c.item.ID
	c.mu.Unlock()

	if c.store == nil {
		return nil, nil
	}
	var out []types.Track
	for _, t := range candidates {
		n, err := c.store.CountPendingChunks(ctx, itemID, t.RelativeID)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			t.State = types.TrackDownloaded
			out = append(out, t)
		}
	}
	return out, nil
}

// writeLocal atomically writes a local manifest file below dataDir
func writeLocal(dataDir, rel string, data []byte) error {
	target := filepath.Join(dataDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return &types.StorageError{Op: "create manifest dir", Err: err}
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return &types.StorageError{Op: "write local manifest", Err: err}
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return &types.StorageError{Op: "write local manifest", Err: err}
	}
	return nil
}
