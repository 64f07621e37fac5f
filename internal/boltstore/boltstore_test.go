package boltstore

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"go.etcd.io/bbolt"

	"github.com/yourusername/bulletin/internal/announcement"
	"github.com/yourusername/bulletin/internal/storage"
)

func openTemp(t *testing.T) *Adapter {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	a, err := Open(filepath.Join(t.TempDir(), "nested", "bulletin.db"), logger)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestRoundTrip(t *testing.T) {
	a := openTemp(t)

	got, err := a.Load(t.Context(), announcement.News)
	if err != nil {
		t.Fatalf("Load() on empty db error = %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Load() = %v, want empty collection", got)
	}

	items := announcement.Collection{
		{ID: 2, Title: "二", Date: "2025-09-02", Content: "b", Image: "img/icon.png"},
		{ID: 1, Title: "一", Date: "2025-09-01", Content: "a", Image: "img/icon.png"},
	}
	if err := a.Save(t.Context(), announcement.News, items); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err = a.Load(t.Context(), announcement.News)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 2 || got[0] != items[0] || got[1] != items[1] {
		t.Errorf("Load() = %+v, want %+v", got, items)
	}
	if other, _ := a.Load(t.Context(), announcement.Activities); len(other) != 0 {
		t.Errorf("activities = %+v, want independent empty collection", other)
	}
}

func TestMalformedValue(t *testing.T) {
	a := openTemp(t)
	err := a.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(announcement.News), []byte("{not json"))
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = a.Load(t.Context(), announcement.News)
	if storage.KindOf(err) != storage.KindMalformed {
		t.Errorf("Load() error = %v, want Malformed", err)
	}
}
