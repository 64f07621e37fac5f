// Package store is the single entry point UI code uses to read and change
// the news and activity collections.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yourusername/bulletin/internal/announcement"
	"github.com/yourusername/bulletin/internal/coordinator"
	"github.com/yourusername/bulletin/internal/notify"
)

// Store errors.
var (
	ErrNotFound             = errors.New("announcement not found")
	ErrConfirmationRequired = errors.New("operator confirmation required")
)

// Confirmation is proof that the operator approved a destructive operation.
// The zero value is not a confirmation.
type Confirmation struct {
	confirmed bool
}

// Confirmed returns a confirmation token. Callers obtain it only after the
// operator has agreed, however their UI asks.
func Confirmed() Confirmation {
	return Confirmation{confirmed: true}
}

// SaveResult reports where a mutation was persisted.
type SaveResult struct {
	Outcome coordinator.Outcome
	// Primary is the primary backend failure, if any.
	Primary error
	// Mirror is the local mirror failure, if any.
	Mirror error
}

func resultOf(w coordinator.WriteResult) SaveResult {
	return SaveResult{Outcome: w.Outcome(), Primary: w.Primary, Mirror: w.Mirror}
}

// Results holds one SaveResult per collection for operations touching both.
type Results map[announcement.Kind]SaveResult

// Outcome returns the worst outcome across collections.
func (r Results) Outcome() coordinator.Outcome {
	worst := coordinator.OutcomeOK
	for _, res := range r {
		switch res.Outcome {
		case coordinator.OutcomeFailed:
			return coordinator.OutcomeFailed
		case coordinator.OutcomeDegraded:
			worst = coordinator.OutcomeDegraded
		}
	}
	return worst
}

// Store owns the in-memory collections. Mutations are serialized: a second
// call waits until the first one's persistence has finished.
type Store struct {
	coord  *coordinator.Coordinator
	bus    *notify.Bus
	logger *slog.Logger
	now    func() time.Time

	// opMu serializes mutating operations end to end, including I/O.
	opMu sync.Mutex

	// mu guards the fields below for List and friends.
	mu       sync.RWMutex
	items    map[announcement.Kind]announcement.Collection
	degraded map[announcement.Kind]bool
	lastID   int64
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithBus sets the notification bus; by default a private one is created.
func WithBus(bus *notify.Bus) Option {
	return func(s *Store) { s.bus = bus }
}

// WithClock sets the time source used for ids and export timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store with empty collections. Call Load to populate it.
func New(coord *coordinator.Coordinator, opts ...Option) *Store {
	s := &Store{
		coord:    coord,
		logger:   slog.Default(),
		now:      time.Now,
		items:    make(map[announcement.Kind]announcement.Collection),
		degraded: make(map[announcement.Kind]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = notify.NewBus()
	}
	s.logger = s.logger.With("component", "store")
	for _, kind := range announcement.Kinds {
		s.items[kind] = announcement.Collection{}
	}
	return s
}

// Subscribe registers a listener for change events.
func (s *Store) Subscribe(fn notify.Listener) (unsubscribe func()) {
	return s.bus.Subscribe(fn)
}

// Primary names the configured primary backend.
func (s *Store) Primary() string {
	return s.coord.PrimaryName()
}

func (s *Store) publish(kinds ...announcement.Kind) {
	for _, kind := range kinds {
		s.bus.Publish(notify.Event{Collection: kind})
	}
}

func (s *Store) set(kind announcement.Kind, items announcement.Collection, degraded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[kind] = items
	s.degraded[kind] = degraded
	if highest := items.MaxID(); highest > s.lastID {
		s.lastID = highest
	}
}

// Load reads both collections through the coordinator, replacing memory.
func (s *Store) Load(ctx context.Context) map[announcement.Kind]coordinator.ReadResult {
	s.opMu.Lock()
	results := make(map[announcement.Kind]coordinator.ReadResult, len(announcement.Kinds))
	for _, kind := range announcement.Kinds {
		res := s.coord.Read(ctx, kind)
		s.set(kind, res.Items.Clone(), res.Degraded)
		results[kind] = res
		if res.Degraded {
			s.logger.WarnContext(ctx, "Collection loaded from local mirror",
				"collection", kind,
				"count", len(res.Items),
				"pending_sync", res.Pending,
				"error", res.Err)
		} else {
			s.logger.InfoContext(ctx, "Collection loaded",
				"collection", kind,
				"source", res.Source,
				"count", len(res.Items))
		}
	}
	s.opMu.Unlock()

	s.publish(announcement.Kinds...)
	return results
}

// List returns a copy of a collection, newest first. It never fails.
func (s *Store) List(kind announcement.Kind) announcement.Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[kind].Clone()
}

// Degraded reports whether the collection currently reflects only the local
// mirror, either because a read fell back or writes have not reached the primary.
func (s *Store) Degraded(kind announcement.Kind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded[kind]
}

// nextID returns a millisecond id strictly greater than every id handed out
// so far and every id in the collection.
func (s *Store) nextID(kind announcement.Kind) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id := s.now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	if highest := s.items[kind].MaxID(); id <= highest {
		id = highest + 1
	}
	return id
}

func checkKind(kind announcement.Kind) error {
	if _, err := announcement.ParseKind(string(kind)); err != nil {
		return &announcement.ValidationError{Field: "collection", Reason: err.Error()}
	}
	return nil
}

// Create validates a draft, prepends the new record and persists the collection.
// Validation failures return an error before any persistence is attempted.
// A failed persistence is reported in SaveResult, and memory is left unchanged.
func (s *Store) Create(ctx context.Context, kind announcement.Kind, draft announcement.Draft) (announcement.Announcement, SaveResult, error) {
	if err := checkKind(kind); err != nil {
		return announcement.Announcement{}, SaveResult{}, err
	}
	draft = draft.Normalize()
	if err := draft.Validate(); err != nil {
		return announcement.Announcement{}, SaveResult{}, err
	}

	s.opMu.Lock()
	record := announcement.Announcement{
		ID:      s.nextID(kind),
		Title:   draft.Title,
		Date:    draft.Date,
		Content: draft.Content,
		Image:   draft.Image,
	}
	if record.Image == "" {
		record.Image = announcement.DefaultImage
	}

	next := append(announcement.Collection{record}, s.List(kind)...)
	res := resultOf(s.coord.Write(ctx, kind, next))
	changed := res.Outcome != coordinator.OutcomeFailed
	if changed {
		s.set(kind, next, res.Outcome == coordinator.OutcomeDegraded)
	}
	s.opMu.Unlock()

	s.logger.InfoContext(ctx, "Created announcement",
		"collection", kind,
		"id", record.ID,
		"title", record.Title,
		"outcome", res.Outcome)
	if changed {
		s.publish(kind)
	}
	return record, res, nil
}

// Remove deletes a record by id. An unknown id returns ErrNotFound and
// leaves the collection untouched.
func (s *Store) Remove(ctx context.Context, kind announcement.Kind, id int64, confirm Confirmation) (SaveResult, error) {
	if err := checkKind(kind); err != nil {
		return SaveResult{}, err
	}
	if !confirm.confirmed {
		return SaveResult{}, ErrConfirmationRequired
	}

	s.opMu.Lock()
	current := s.List(kind)
	idx := current.IndexOf(id)
	if idx < 0 {
		s.opMu.Unlock()
		return SaveResult{}, fmt.Errorf("%w: %s %d", ErrNotFound, kind, id)
	}

	next := make(announcement.Collection, 0, len(current)-1)
	next = append(next, current[:idx]...)
	next = append(next, current[idx+1:]...)

	res := resultOf(s.coord.Write(ctx, kind, next))
	changed := res.Outcome != coordinator.OutcomeFailed
	if changed {
		s.set(kind, next, res.Outcome == coordinator.OutcomeDegraded)
	}
	s.opMu.Unlock()

	s.logger.InfoContext(ctx, "Removed announcement",
		"collection", kind,
		"id", id,
		"outcome", res.Outcome)
	if changed {
		s.publish(kind)
	}
	return res, nil
}

// replaceAll persists both collections with the given contents. Caller holds opMu.
func (s *Store) replaceAll(ctx context.Context, contents map[announcement.Kind]announcement.Collection) (Results, []announcement.Kind) {
	results := make(Results, len(announcement.Kinds))
	var changed []announcement.Kind
	for _, kind := range announcement.Kinds {
		items := contents[kind].Clone()
		res := resultOf(s.coord.Write(ctx, kind, items))
		results[kind] = res
		if res.Outcome != coordinator.OutcomeFailed {
			s.set(kind, items, res.Outcome == coordinator.OutcomeDegraded)
			changed = append(changed, kind)
		}
	}
	return results, changed
}

// Clear empties both collections. The caller must have the operator's confirmation.
func (s *Store) Clear(ctx context.Context, confirm Confirmation) (Results, error) {
	if !confirm.confirmed {
		return nil, ErrConfirmationRequired
	}

	s.opMu.Lock()
	results, changed := s.replaceAll(ctx, map[announcement.Kind]announcement.Collection{})
	s.opMu.Unlock()

	s.logger.InfoContext(ctx, "Cleared all collections", "outcome", results.Outcome())
	s.publish(changed...)
	return results, nil
}

// ExportAll captures both collections in a portable snapshot.
func (s *Store) ExportAll() Snapshot {
	return Snapshot{
		Version:    SnapshotVersion,
		ExportDate: s.now().UTC(),
		News:       s.List(announcement.News),
		Activities: s.List(announcement.Activities),
	}
}

// ImportAll replaces both collections with the snapshot's contents.
func (s *Store) ImportAll(ctx context.Context, snap Snapshot) (Results, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}

	s.opMu.Lock()
	results, changed := s.replaceAll(ctx, map[announcement.Kind]announcement.Collection{
		announcement.News:       snap.News,
		announcement.Activities: snap.Activities,
	})
	s.opMu.Unlock()

	s.logger.InfoContext(ctx, "Imported snapshot",
		"version", snap.Version,
		"news_count", len(snap.News),
		"activities_count", len(snap.Activities),
		"outcome", results.Outcome())
	s.publish(changed...)
	return results, nil
}

// Sync is the manual "push local writes to the primary" command. Only
// collections with writes the primary missed are pushed. It never retries.
func (s *Store) Sync(ctx context.Context) Results {
	s.opMu.Lock()
	results := make(Results, len(announcement.Kinds))
	var changed []announcement.Kind
	for _, kind := range announcement.Kinds {
		res := s.coord.Sync(ctx, kind)
		switch {
		case res.Mirror != nil:
			results[kind] = SaveResult{Outcome: coordinator.OutcomeFailed, Mirror: res.Mirror}
		case res.Primary != nil:
			results[kind] = SaveResult{Outcome: coordinator.OutcomeDegraded, Primary: res.Primary}
			s.set(kind, res.Items, true)
			changed = append(changed, kind)
		case res.Pushed:
			results[kind] = SaveResult{Outcome: coordinator.OutcomeOK}
			s.set(kind, res.Items, false)
			changed = append(changed, kind)
		default:
			results[kind] = SaveResult{Outcome: coordinator.OutcomeOK}
		}
	}
	s.opMu.Unlock()

	s.logger.InfoContext(ctx, "Manual sync finished", "outcome", results.Outcome(), "pushed", changed)
	s.publish(changed...)
	return results
}
