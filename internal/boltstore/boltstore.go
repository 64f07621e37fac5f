// Package boltstore keeps the collections in an embedded bbolt file.
package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/yourusername/bulletin/internal/announcement"
	"github.com/yourusername/bulletin/internal/storage"
)

var bucket = []byte("Collections")

// Adapter stores one JSON document per collection under the Collections bucket.
type Adapter struct {
	db     *bbolt.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path.
func Open(path string, logger *slog.Logger) (*Adapter, error) {
	// #nosec G301 -- database directory is owned by the service
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Adapter{db: db, logger: logger.With("component", "boltstore")}, nil
}

// Close releases the database file lock.
func (a *Adapter) Close() error {
	return a.db.Close()
}

// Name implements storage.Adapter.
func (a *Adapter) Name() string { return "bolt" }

// Load implements storage.Adapter. A missing key is an empty collection.
func (a *Adapter) Load(ctx context.Context, kind announcement.Kind) (announcement.Collection, error) {
	var data []byte
	err := a.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}
		// Values are only valid inside the transaction.
		if v := b.Get([]byte(kind)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, &storage.Error{Kind: storage.KindNetwork, Backend: a.Name(), Op: "load", Collection: kind, Err: err}
	}
	if data == nil {
		return announcement.Collection{}, nil
	}

	items := announcement.Collection{}
	if err := json.Unmarshal(data, &items); err != nil {
		a.logger.WarnContext(ctx, "Stored collection is not valid JSON", "collection", kind, "error", err)
		return nil, &storage.Error{Kind: storage.KindMalformed, Backend: a.Name(), Op: "load", Collection: kind, Err: err}
	}
	if items == nil {
		items = announcement.Collection{}
	}
	return items, nil
}

// Save implements storage.Adapter.
func (a *Adapter) Save(ctx context.Context, kind announcement.Kind, items announcement.Collection) error {
	data, err := storage.EncodeCollection(items)
	if err != nil {
		return &storage.Error{Kind: storage.KindMalformed, Backend: a.Name(), Op: "save", Collection: kind, Err: err}
	}
	err = a.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}
		return b.Put([]byte(kind), data)
	})
	if err != nil {
		return &storage.Error{Kind: storage.KindNetwork, Backend: a.Name(), Op: "save", Collection: kind, Err: err}
	}
	a.logger.DebugContext(ctx, "Stored collection", "collection", kind, "count", len(items))
	return nil
}

var _ storage.Adapter = &Adapter{}
