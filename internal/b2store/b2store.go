// Package b2store keeps the collections as objects in a Backblaze B2 bucket.
package b2store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/kurin/blazer/b2"

	"github.com/yourusername/bulletin/internal/announcement"
	"github.com/yourusername/bulletin/internal/storage"
)

// errNotExist is returned by Objects.Read for a missing key.
var errNotExist = errors.New("object does not exist")

// Objects is the subset of object storage the adapter needs.
type Objects interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
}

// Adapter stores each collection as <prefix>/<kind>.json.
type Adapter struct {
	objects Objects
	prefix  string
	logger  *slog.Logger
}

// NewAdapter creates an adapter over any object store.
func NewAdapter(objects Objects, prefix string, logger *slog.Logger) *Adapter {
	return &Adapter{
		objects: objects,
		prefix:  prefix,
		logger:  logger.With("component", "b2store"),
	}
}

// Connect authorizes against B2 and opens bucketName.
func Connect(ctx context.Context, accountID, appKey, bucketName, prefix string, logger *slog.Logger) (*Adapter, error) {
	client, err := b2.NewClient(ctx, accountID, appKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create b2 client: %w", err)
	}
	bucket, err := client.Bucket(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}
	return NewAdapter(&bucketObjects{bucket: bucket}, prefix, logger), nil
}

// Name implements storage.Adapter.
func (a *Adapter) Name() string { return "b2" }

// Key returns the object name of a collection.
func (a *Adapter) Key(kind announcement.Kind) string {
	return path.Join(a.prefix, string(kind)+".json")
}

// Load implements storage.Adapter. A missing object is an empty collection.
func (a *Adapter) Load(ctx context.Context, kind announcement.Kind) (announcement.Collection, error) {
	start := time.Now()
	data, err := a.objects.Read(ctx, a.Key(kind))
	if errors.Is(err, errNotExist) {
		return announcement.Collection{}, nil
	}
	if err != nil {
		return nil, &storage.Error{Kind: storage.KindNetwork, Backend: a.Name(), Op: "load", Collection: kind, Err: err}
	}

	items := announcement.Collection{}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, &storage.Error{Kind: storage.KindMalformed, Backend: a.Name(), Op: "load", Collection: kind, Err: err}
	}
	if items == nil {
		items = announcement.Collection{}
	}
	a.logger.DebugContext(ctx, "Loaded collection object",
		"key", a.Key(kind),
		"count", len(items),
		"duration_ms", time.Since(start).Milliseconds())
	return items, nil
}

// Save implements storage.Adapter.
func (a *Adapter) Save(ctx context.Context, kind announcement.Kind, items announcement.Collection) error {
	data, err := storage.EncodeCollection(items)
	if err != nil {
		return &storage.Error{Kind: storage.KindMalformed, Backend: a.Name(), Op: "save", Collection: kind, Err: err}
	}
	start := time.Now()
	if err := a.objects.Write(ctx, a.Key(kind), data); err != nil {
		return &storage.Error{Kind: storage.KindNetwork, Backend: a.Name(), Op: "save", Collection: kind, Err: err}
	}
	a.logger.InfoContext(ctx, "Uploaded collection object",
		"key", a.Key(kind),
		"count", len(items),
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

type bucketObjects struct {
	bucket *b2.Bucket
}

func (o *bucketObjects) Read(ctx context.Context, key string) ([]byte, error) {
	r := o.bucket.Object(key).NewReader(ctx)
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	if b2.IsNotExist(err) {
		return nil, errNotExist
	}
	return data, err
}

func (o *bucketObjects) Write(ctx context.Context, key string, data []byte) error {
	w := o.bucket.Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return nil
}

var _ storage.Adapter = &Adapter{}
