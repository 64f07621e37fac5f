package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yourusername/bulletin/internal/announcement"
	"github.com/yourusername/bulletin/internal/coordinator"
	"github.com/yourusername/bulletin/internal/notify"
	"github.com/yourusername/bulletin/internal/storage"
	"github.com/yourusername/bulletin/internal/storage/storagetest"
)

type fixture struct {
	store   *Store
	primary *storagetest.Memory
	mirror  *storagetest.Memory
	events  []notify.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	f := &fixture{
		primary: storagetest.NewMemory("primary"),
		mirror:  storagetest.NewMemory("local"),
	}
	clock := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	f.store = New(
		coordinator.New(f.primary, f.mirror, logger),
		WithLogger(logger),
		WithClock(func() time.Time { return clock }),
	)
	f.store.Subscribe(func(ev notify.Event) { f.events = append(f.events, ev) })
	return f
}

func draft(title string) announcement.Draft {
	return announcement.Draft{Title: title, Date: "2025-09-01", Content: "body of " + title}
}

func TestScenarioCreateThenRemove(t *testing.T) {
	f := newFixture(t)

	created, res, err := f.store.Create(t.Context(), announcement.News, announcement.Draft{
		Title: "開學講座", Date: "2025-09-01", Content: "歡迎參加",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if res.Outcome != coordinator.OutcomeOK {
		t.Errorf("Create() outcome = %q, want ok", res.Outcome)
	}

	list := f.store.List(announcement.News)
	if len(list) != 1 {
		t.Fatalf("List() len = %d, want 1", len(list))
	}
	got := list[0]
	if got.Title != "開學講座" || got.Date != "2025-09-01" || got.Content != "歡迎參加" {
		t.Errorf("List()[0] = %+v", got)
	}
	if got.Image != announcement.DefaultImage {
		t.Errorf("Image = %q, want default", got.Image)
	}
	if got.ID != created.ID {
		t.Errorf("listed id %d != created id %d", got.ID, created.ID)
	}

	if _, err := f.store.Remove(t.Context(), announcement.News, created.ID, Confirmed()); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if list := f.store.List(announcement.News); len(list) != 0 {
		t.Errorf("List() after Remove() = %+v, want empty", list)
	}
}

func TestListBeforeLoadIsEmpty(t *testing.T) {
	f := newFixture(t)
	for _, kind := range announcement.Kinds {
		if got := f.store.List(kind); got == nil || len(got) != 0 {
			t.Errorf("List(%s) = %v, want empty non-nil", kind, got)
		}
	}
}

func TestCreateNewestFirst(t *testing.T) {
	f := newFixture(t)

	var ids []int64
	for _, title := range []string{"one", "two", "three"} {
		rec, _, err := f.store.Create(t.Context(), announcement.Activities, draft(title))
		if err != nil {
			t.Fatalf("Create(%s) error = %v", title, err)
		}
		ids = append(ids, rec.ID)
		if first := f.store.List(announcement.Activities)[0]; first.ID != rec.ID {
			t.Errorf("after Create(%s) first record = %q, want newest", title, first.Title)
		}
	}

	// The clock is frozen, so ids must still increase strictly.
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Errorf("ids not increasing: %v", ids)
		}
	}

	stored := f.primary.Get(announcement.Activities)
	if len(stored) != 3 || stored[0].Title != "three" || stored[2].Title != "one" {
		t.Errorf("primary = %+v, want newest first", stored)
	}
	if len(f.store.List(announcement.News)) != 0 {
		t.Error("collections must stay independent")
	}
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name  string
		kind  announcement.Kind
		draft announcement.Draft
	}{
		{name: "empty title", kind: announcement.News, draft: announcement.Draft{Date: "2025-09-01", Content: "c"}},
		{name: "whitespace content", kind: announcement.News, draft: announcement.Draft{Title: "t", Date: "2025-09-01", Content: "  "}},
		{name: "no date", kind: announcement.News, draft: announcement.Draft{Title: "t", Content: "c"}},
		{name: "unknown collection", kind: "events", draft: draft("x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, _, err := f.store.Create(t.Context(), tt.kind, tt.draft)
			if !announcement.IsValidationError(err) {
				t.Fatalf("Create() error = %v, want ValidationError", err)
			}
			if f.primary.Saves() != 0 || f.mirror.Saves() != 0 {
				t.Error("validation failures must not reach any backend")
			}
			if len(f.events) != 0 {
				t.Error("validation failures must not emit events")
			}
		})
	}
}

func TestCreateTrimsInput(t *testing.T) {
	f := newFixture(t)
	rec, _, err := f.store.Create(t.Context(), announcement.News, announcement.Draft{
		Title: "  padded  ", Date: "2025-09-01", Content: "\ttext\n", Image: "img/up.png",
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if rec.Title != "padded" || rec.Content != "text" || rec.Image != "img/up.png" {
		t.Errorf("Create() = %+v", rec)
	}
}

func TestRemoveNotFoundLeavesCollection(t *testing.T) {
	f := newFixture(t)
	rec, _, _ := f.store.Create(t.Context(), announcement.News, draft("keep"))
	before := f.store.List(announcement.News)
	saves := f.primary.Saves()
	events := len(f.events)

	_, err := f.store.Remove(t.Context(), announcement.News, rec.ID+1000, Confirmed())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Remove() error = %v, want ErrNotFound", err)
	}

	after := f.store.List(announcement.News)
	if len(after) != len(before) || after[0].ID != before[0].ID {
		t.Errorf("collection changed: %+v -> %+v", before, after)
	}
	if f.primary.Saves() != saves {
		t.Error("failed delete must not persist")
	}
	if len(f.events) != events {
		t.Error("failed delete must not emit events")
	}
}

func TestRemoveRequiresConfirmation(t *testing.T) {
	f := newFixture(t)
	rec, _, _ := f.store.Create(t.Context(), announcement.News, draft("x"))

	if _, err := f.store.Remove(t.Context(), announcement.News, rec.ID, Confirmation{}); !errors.Is(err, ErrConfirmationRequired) {
		t.Errorf("Remove() error = %v, want ErrConfirmationRequired", err)
	}
	if len(f.store.List(announcement.News)) != 1 {
		t.Error("unconfirmed remove must not delete")
	}
}

func TestPrimaryFailureStillMirrors(t *testing.T) {
	f := newFixture(t)
	f.primary.FailSaves(storage.KindNetwork)

	rec, res, err := f.store.Create(t.Context(), announcement.News, draft("offline"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if res.Outcome != coordinator.OutcomeDegraded {
		t.Errorf("Outcome = %q, want degraded", res.Outcome)
	}
	if storage.KindOf(res.Primary) != storage.KindNetwork || res.Mirror != nil {
		t.Errorf("SaveResult = %+v, want primary NetworkError and mirror ok", res)
	}

	mirrored := f.mirror.Get(announcement.News)
	if len(mirrored) != 1 || mirrored[0].ID != rec.ID {
		t.Errorf("mirror = %+v, want the new record", mirrored)
	}
	if !f.store.Degraded(announcement.News) {
		t.Error("Degraded() should be set after a write that missed the primary")
	}
	if len(f.events) != 1 {
		t.Errorf("degraded write should emit one event, got %d", len(f.events))
	}
}

func TestBothBackendsFail(t *testing.T) {
	f := newFixture(t)
	f.primary.FailSaves(storage.KindNetwork)
	f.mirror.FailSaves(storage.KindQuotaExceeded)

	_, res, err := f.store.Create(t.Context(), announcement.News, draft("lost"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if res.Outcome != coordinator.OutcomeFailed {
		t.Errorf("Outcome = %q, want failed", res.Outcome)
	}
	if storage.KindOf(res.Mirror) != storage.KindQuotaExceeded {
		t.Errorf("Mirror = %v, want QuotaExceeded", res.Mirror)
	}
	if len(f.store.List(announcement.News)) != 0 {
		t.Error("a write persisted nowhere must not change memory")
	}
	if len(f.events) != 0 {
		t.Error("failed write must not emit events")
	}
}

func TestLoadDegraded(t *testing.T) {
	f := newFixture(t)
	f.mirror.Put(announcement.News, announcement.Collection{{ID: 5, Title: "cached", Date: "2025-01-01", Content: "c"}})
	f.primary.FailLoads(storage.KindNetwork)

	results := f.store.Load(t.Context())
	if !results[announcement.News].Degraded {
		t.Error("Load() should report a degraded read")
	}
	if !f.store.Degraded(announcement.News) {
		t.Error("Degraded() should be set")
	}
	if list := f.store.List(announcement.News); len(list) != 1 || list[0].Title != "cached" {
		t.Errorf("List() = %+v, want mirror content", list)
	}
	if len(f.events) != 2 {
		t.Errorf("Load() should notify both collections, got %d events", len(f.events))
	}

	rec, _, _ := f.store.Create(t.Context(), announcement.News, draft("next"))
	if rec.ID <= 5 {
		t.Errorf("new id %d should exceed loaded ids", rec.ID)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	src := newFixture(t)
	for _, title := range []string{"a", "b"} {
		if _, _, err := src.store.Create(t.Context(), announcement.News, draft(title)); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := src.store.Create(t.Context(), announcement.Activities, draft("c")); err != nil {
		t.Fatal(err)
	}

	snap := src.store.ExportAll()
	if snap.Version != SnapshotVersion {
		t.Errorf("Version = %q", snap.Version)
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(snap); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.Contains(buf.String(), `"newsItems"`) || !strings.Contains(buf.String(), `"activityItems"`) {
		t.Errorf("snapshot JSON = %s", buf.String())
	}
	decoded, err := DecodeSnapshot(&buf)
	if err != nil {
		t.Fatalf("DecodeSnapshot() error = %v", err)
	}

	dst := newFixture(t)
	results, err := dst.store.ImportAll(t.Context(), decoded)
	if err != nil {
		t.Fatalf("ImportAll() error = %v", err)
	}
	if results.Outcome() != coordinator.OutcomeOK {
		t.Errorf("ImportAll() outcome = %q", results.Outcome())
	}

	for _, kind := range announcement.Kinds {
		want := src.store.List(kind)
		got := dst.store.List(kind)
		if len(got) != len(want) {
			t.Fatalf("%s len = %d, want %d", kind, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("%s[%d] = %+v, want %+v", kind, i, got[i], want[i])
			}
		}
		if len(dst.primary.Get(kind)) != len(want) {
			t.Errorf("import should persist %s", kind)
		}
	}
}

func TestImportValidation(t *testing.T) {
	tests := []struct {
		name string
		json string
	}{
		{name: "missing version", json: `{"newsItems":[],"activityItems":[]}`},
		{name: "unknown version", json: `{"version":"2.0","newsItems":[],"activityItems":[]}`},
		{name: "news not a list", json: `{"version":"1.0","newsItems":{},"activityItems":[]}`},
		{name: "activities missing", json: `{"version":"1.0","newsItems":[]}`},
		{name: "activities null", json: `{"version":"1.0","newsItems":[],"activityItems":null}`},
		{name: "invalid record", json: `{"version":"1.0","newsItems":[{"id":1,"title":"","date":"2025-01-01","content":"c"}],"activityItems":[]}`},
		{name: "duplicate ids", json: `{"version":"1.0","newsItems":[],"activityItems":[
			{"id":1,"title":"a","date":"2025-01-01","content":"c"},
			{"id":1,"title":"b","date":"2025-01-01","content":"c"}]}`},
		{name: "not json", json: `nope`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSnapshot(strings.NewReader(tt.json))
			if !announcement.IsValidationError(err) {
				t.Errorf("DecodeSnapshot() error = %v, want ValidationError", err)
			}
		})
	}

	f := newFixture(t)
	if _, err := f.store.ImportAll(t.Context(), Snapshot{Version: "1.0"}); !announcement.IsValidationError(err) {
		t.Errorf("ImportAll() with nil collections error = %v, want ValidationError", err)
	}
	if f.primary.Saves() != 0 {
		t.Error("rejected import must not persist")
	}
}

func TestClear(t *testing.T) {
	f := newFixture(t)
	_, _, _ = f.store.Create(t.Context(), announcement.News, draft("a"))
	_, _, _ = f.store.Create(t.Context(), announcement.Activities, draft("b"))

	if _, err := f.store.Clear(t.Context(), Confirmation{}); !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("Clear() without confirmation error = %v", err)
	}
	if len(f.store.List(announcement.News)) != 1 {
		t.Fatal("unconfirmed clear must not delete")
	}

	results, err := f.store.Clear(t.Context(), Confirmed())
	if err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if results.Outcome() != coordinator.OutcomeOK {
		t.Errorf("Clear() outcome = %q", results.Outcome())
	}
	for _, kind := range announcement.Kinds {
		if len(f.store.List(kind)) != 0 || len(f.primary.Get(kind)) != 0 || len(f.mirror.Get(kind)) != 0 {
			t.Errorf("%s not cleared everywhere", kind)
		}
	}
}

func TestSyncPushesLocalState(t *testing.T) {
	f := newFixture(t)
	f.primary.FailSaves(storage.KindNetwork)
	_, _, _ = f.store.Create(t.Context(), announcement.News, draft("pending"))

	f.primary.FailSaves("")
	results := f.store.Sync(t.Context())
	if results.Outcome() != coordinator.OutcomeOK {
		t.Fatalf("Sync() outcome = %q, results %+v", results.Outcome(), results)
	}
	if p := f.primary.Get(announcement.News); len(p) != 1 || p[0].Title != "pending" {
		t.Errorf("primary after Sync() = %+v", p)
	}
	if f.store.Degraded(announcement.News) {
		t.Error("Degraded() should clear after a successful sync")
	}
}

func TestSyncFailureReported(t *testing.T) {
	f := newFixture(t)
	f.primary.FailSaves(storage.KindNetwork)
	_, _, _ = f.store.Create(t.Context(), announcement.News, draft("pending"))
	f.primary.FailSaves(storage.KindConflict)

	results := f.store.Sync(t.Context())
	res := results[announcement.News]
	if res.Outcome != coordinator.OutcomeDegraded || !storage.IsConflict(res.Primary) {
		t.Errorf("Sync() news = %+v, want degraded conflict", res)
	}
	if len(f.store.List(announcement.News)) != 1 {
		t.Error("the local record must survive a failed sync")
	}
	if !f.store.Degraded(announcement.News) {
		t.Error("collection stays degraded while writes are pending")
	}
}

func TestSyncKeepsPrimaryWhenMirrorIsEmpty(t *testing.T) {
	f := newFixture(t)
	f.primary.Put(announcement.News, announcement.Collection{{ID: 7, Title: "remote", Date: "2025-01-01", Content: "c"}})
	f.store.Load(t.Context())

	results := f.store.Sync(t.Context())
	if results.Outcome() != coordinator.OutcomeOK {
		t.Errorf("Sync() outcome = %q", results.Outcome())
	}
	if p := f.primary.Get(announcement.News); len(p) != 1 || p[0].Title != "remote" {
		t.Errorf("primary after Sync() = %+v, a fresh mirror must not overwrite it", p)
	}
	if list := f.store.List(announcement.News); len(list) != 1 {
		t.Errorf("List() after Sync() = %+v, want the primary record", list)
	}
	if f.primary.Saves() != 0 {
		t.Errorf("Sync() with nothing pending saved %d times", f.primary.Saves())
	}
}

func TestSyncAfterMirrorFailureKeepsPrimary(t *testing.T) {
	f := newFixture(t)
	f.mirror.FailSaves(storage.KindQuotaExceeded)
	rec, res, err := f.store.Create(t.Context(), announcement.News, draft("accepted"))
	if err != nil || res.Outcome != coordinator.OutcomeOK {
		t.Fatalf("Create() = %+v, %v; want ok", res, err)
	}
	f.mirror.FailSaves("")

	f.store.Sync(t.Context())
	if p := f.primary.Get(announcement.News); len(p) != 1 || p[0].ID != rec.ID {
		t.Errorf("primary after Sync() = %+v, want the accepted record", p)
	}
	if list := f.store.List(announcement.News); len(list) != 1 || list[0].ID != rec.ID {
		t.Errorf("List() after Sync() = %+v, want the accepted record", list)
	}
}

func TestPendingWritesSurviveRestart(t *testing.T) {
	f := newFixture(t)
	f.primary.Put(announcement.News, announcement.Collection{{ID: 1, Title: "old", Date: "2025-01-01", Content: "c"}})
	f.store.Load(t.Context())
	f.primary.FailSaves(storage.KindNetwork)
	rec, _, _ := f.store.Create(t.Context(), announcement.News, draft("offline"))
	f.primary.FailSaves("")

	restarted := New(coordinator.New(f.primary, f.mirror, nil), WithBus(notify.NewBus()))
	restarted.Load(t.Context())
	list := restarted.List(announcement.News)
	if len(list) != 2 || list[0].ID != rec.ID {
		t.Fatalf("List() after restart = %+v, want the pending record first", list)
	}
	if !restarted.Degraded(announcement.News) {
		t.Error("pending writes should keep the collection degraded")
	}

	if results := restarted.Sync(t.Context()); results.Outcome() != coordinator.OutcomeOK {
		t.Fatalf("Sync() outcome = %q", results.Outcome())
	}
	if p := f.primary.Get(announcement.News); len(p) != 2 || p[0].ID != rec.ID {
		t.Errorf("primary after Sync() = %+v", p)
	}
	if restarted.Degraded(announcement.News) {
		t.Error("Degraded() should clear once pending writes are pushed")
	}
}

func TestResultsOutcome(t *testing.T) {
	r := Results{
		announcement.News:       {Outcome: coordinator.OutcomeOK},
		announcement.Activities: {Outcome: coordinator.OutcomeDegraded},
	}
	if r.Outcome() != coordinator.OutcomeDegraded {
		t.Errorf("Outcome() = %q, want degraded", r.Outcome())
	}
	r[announcement.News] = SaveResult{Outcome: coordinator.OutcomeFailed}
	if r.Outcome() != coordinator.OutcomeFailed {
		t.Errorf("Outcome() = %q, want failed", r.Outcome())
	}
}

// slowAdapter blocks every save until released, to observe serialization.
type slowAdapter struct {
	*storagetest.Memory
	mu       sync.Mutex
	inFlight int
	maxSeen  int
}

func (s *slowAdapter) Save(ctx context.Context, kind announcement.Kind, items announcement.Collection) error {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.maxSeen {
		s.maxSeen = s.inFlight
	}
	s.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
	return s.Memory.Save(ctx, kind, items)
}

func TestConcurrentCreatesAreSerialized(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	primary := &slowAdapter{Memory: storagetest.NewMemory("primary")}
	s := New(coordinator.New(primary, storagetest.NewMemory("local"), logger), WithLogger(logger))

	const n = 10
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := s.Create(context.Background(), announcement.News, draft("parallel")); err != nil {
				t.Errorf("Create() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if primary.maxSeen != 1 {
		t.Errorf("saw %d overlapping saves, want 1", primary.maxSeen)
	}
	list := s.List(announcement.News)
	if len(list) != n {
		t.Fatalf("List() len = %d, want %d (lost updates)", len(list), n)
	}
	if len(primary.Get(announcement.News)) != n {
		t.Errorf("primary len = %d, want %d", len(primary.Get(announcement.News)), n)
	}
	seen := map[int64]bool{}
	for _, rec := range list {
		if seen[rec.ID] {
			t.Errorf("duplicate id %d", rec.ID)
		}
		seen[rec.ID] = true
	}
}
