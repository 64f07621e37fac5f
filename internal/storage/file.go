package storage

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/yourusername/bulletin/internal/announcement"
)

// FileAdapter keeps each collection in <dir>/<kind>.json.
// Concurrent writers are not coordinated; the last write wins.
type FileAdapter struct {
	dir    string
	logger *slog.Logger
}

// NewFileAdapter creates a file adapter rooted at dir.
func NewFileAdapter(dir string) *FileAdapter {
	return NewFileAdapterWithLogger(dir, slog.Default())
}

// NewFileAdapterWithLogger creates a file adapter with a custom logger.
func NewFileAdapterWithLogger(dir string, logger *slog.Logger) *FileAdapter {
	return &FileAdapter{
		dir:    dir,
		logger: logger.With("component", "storage.file"),
	}
}

// Name implements Adapter.
func (s *FileAdapter) Name() string { return "file" }

// Path returns the document path for a collection.
func (s *FileAdapter) Path(kind announcement.Kind) string {
	return filepath.Join(s.dir, string(kind)+".json")
}

// Load reads a collection. A missing file is an empty collection.
func (s *FileAdapter) Load(ctx context.Context, kind announcement.Kind) (announcement.Collection, error) {
	path := s.Path(kind)
	// #nosec G304 -- path is built from the configured data directory
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.DebugContext(ctx, "Collection file not found, using empty collection", "path", path)
			return announcement.Collection{}, nil
		}
		return nil, &Error{Kind: KindNetwork, Backend: s.Name(), Op: "load", Collection: kind, Err: err}
	}

	var items announcement.Collection
	if err := json.Unmarshal(data, &items); err != nil {
		s.logger.WarnContext(ctx, "Collection file is not valid JSON", "path", path, "error", err)
		return nil, &Error{Kind: KindMalformed, Backend: s.Name(), Op: "load", Collection: kind, Err: err}
	}
	if items == nil {
		items = announcement.Collection{}
	}
	return items, nil
}

// Save writes a collection as pretty-printed JSON.
func (s *FileAdapter) Save(ctx context.Context, kind announcement.Kind, items announcement.Collection) error {
	data, err := EncodeCollection(items)
	if err != nil {
		return &Error{Kind: KindMalformed, Backend: s.Name(), Op: "save", Collection: kind, Err: err}
	}

	// #nosec G301 -- data directory is served as part of the public site
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return &Error{Kind: KindNetwork, Backend: s.Name(), Op: "save", Collection: kind, Err: err}
	}
	// #nosec G306 -- collection files are public site content
	if err := os.WriteFile(s.Path(kind), data, 0644); err != nil {
		return &Error{Kind: KindNetwork, Backend: s.Name(), Op: "save", Collection: kind, Err: err}
	}

	s.logger.DebugContext(ctx, "Wrote collection file", "path", s.Path(kind), "count", len(items))
	return nil
}

// EncodeCollection renders the pretty-printed document format shared by every backend.
func EncodeCollection(items announcement.Collection) ([]byte, error) {
	if items == nil {
		items = announcement.Collection{}
	}
	return json.MarshalIndent(items, "", "  ")
}

var _ Adapter = &FileAdapter{}
