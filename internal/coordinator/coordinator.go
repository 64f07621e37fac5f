// Package coordinator decides which backend answers a read and propagates
// writes to the primary backend and the local mirror.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yourusername/bulletin/internal/announcement"
	"github.com/yourusername/bulletin/internal/storage"
)

// Outcome summarizes a persistence attempt.
type Outcome string

// Persistence outcomes.
const (
	OutcomeOK       Outcome = "ok"       // primary backend accepted the write
	OutcomeDegraded Outcome = "degraded" // only the local mirror has it
	OutcomeFailed   Outcome = "failed"   // neither backend has it
)

// ReadResult is the answer to a read.
type ReadResult struct {
	Items announcement.Collection
	// Source names the backend that produced Items.
	Source string
	// Degraded is set when Items came from the mirror rather than the primary.
	Degraded bool
	// Pending is set when the mirror holds writes the primary has not
	// accepted; Items are then the mirror's copy.
	Pending bool
	// Err is the primary failure behind a degraded read, or the mirror
	// failure when no backend could answer.
	Err error
}

// WriteResult keeps the two halves of a write apart so callers can say
// "saved locally, remote sync failed".
type WriteResult struct {
	Primary error
	Mirror  error
	// MirrorOnly is set when no primary is configured and the mirror is authoritative.
	MirrorOnly bool
}

// Outcome collapses the result into a single tag.
func (r WriteResult) Outcome() Outcome {
	if r.MirrorOnly {
		if r.Mirror == nil {
			return OutcomeOK
		}
		return OutcomeFailed
	}
	switch {
	case r.Primary == nil:
		return OutcomeOK
	case r.Mirror == nil:
		return OutcomeDegraded
	default:
		return OutcomeFailed
	}
}

// Err joins both failures, or returns nil when the write fully succeeded.
func (r WriteResult) Err() error {
	return errors.Join(r.Primary, r.Mirror)
}

// SyncResult reports a manual sync of one collection.
type SyncResult struct {
	// Items is the collection after the sync; nil when nothing was pending
	// or the mirror could not be read.
	Items announcement.Collection
	// Pushed is set when pending local writes reached the primary.
	Pushed bool
	// Primary is the primary failure; the writes stay pending.
	Primary error
	// Mirror is set when the mirror could not be read.
	Mirror error
}

// Coordinator routes reads and writes between a primary adapter and the local mirror.
type Coordinator struct {
	primary storage.Adapter
	mirror  storage.Mirror
	logger  *slog.Logger
}

// New creates a coordinator. A nil primary makes the mirror authoritative.
func New(primary storage.Adapter, mirror storage.Mirror, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		primary: primary,
		mirror:  mirror,
		logger:  logger.With("component", "coordinator"),
	}
}

// PrimaryName returns the configured primary backend, or the mirror's name
// when the mirror is authoritative.
func (c *Coordinator) PrimaryName() string {
	if c.primary == nil {
		return c.mirror.Name()
	}
	return c.primary.Name()
}

func (c *Coordinator) pending(ctx context.Context, kind announcement.Kind) bool {
	pending, err := c.mirror.Pending(ctx, kind)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to read pending marker", "collection", kind, "error", err)
		return false
	}
	return pending
}

// Read loads from the primary and falls back to the mirror on any failure.
// While the mirror holds pending writes its copy is served instead, but the
// primary is still loaded so its concurrency token stays fresh.
func (c *Coordinator) Read(ctx context.Context, kind announcement.Kind) ReadResult {
	logger := c.logger.With("collection", kind)

	if c.primary == nil {
		items, err := c.mirror.Load(ctx, kind)
		if err != nil {
			logger.ErrorContext(ctx, "Local profile read failed", "error", err)
			return ReadResult{Items: announcement.Collection{}, Source: c.mirror.Name(), Err: err}
		}
		return ReadResult{Items: items, Source: c.mirror.Name()}
	}

	items, err := c.primary.Load(ctx, kind)
	if err == nil {
		if !c.pending(ctx, kind) {
			return ReadResult{Items: items, Source: c.primary.Name()}
		}
		local, merr := c.mirror.Load(ctx, kind)
		if merr != nil {
			logger.ErrorContext(ctx, "Pending local writes could not be read", "error", merr)
			return ReadResult{Items: items, Source: c.primary.Name()}
		}
		logger.WarnContext(ctx, "Serving local mirror with writes pending sync", "count", len(local))
		return ReadResult{Items: local, Source: c.mirror.Name(), Degraded: true, Pending: true}
	}

	logger.WarnContext(ctx, "Primary read failed, falling back to local mirror",
		"backend", c.primary.Name(),
		"kind", storage.KindOf(err),
		"error", err)

	local, merr := c.mirror.Load(ctx, kind)
	if merr != nil {
		logger.ErrorContext(ctx, "Local mirror read failed too", "error", merr)
		return ReadResult{
			Items:    announcement.Collection{},
			Source:   c.mirror.Name(),
			Degraded: true,
			Err:      errors.Join(err, merr),
		}
	}
	return ReadResult{Items: local, Source: c.mirror.Name(), Degraded: true, Pending: c.pending(ctx, kind), Err: err}
}

// Write saves to the primary and then, whatever happened there, to the mirror.
// A collection the primary missed is marked pending; one it accepted is not.
func (c *Coordinator) Write(ctx context.Context, kind announcement.Kind, items announcement.Collection) WriteResult {
	logger := c.logger.With("collection", kind, "count", len(items))

	result := WriteResult{MirrorOnly: c.primary == nil}
	if c.primary != nil {
		result.Primary = c.primary.Save(ctx, kind, items)
		if result.Primary != nil {
			logger.WarnContext(ctx, "Primary write failed",
				"backend", c.primary.Name(),
				"kind", storage.KindOf(result.Primary),
				"error", result.Primary)
		}
	}

	result.Mirror = c.mirror.Save(ctx, kind, items)
	if result.Mirror != nil {
		logger.ErrorContext(ctx, "Local mirror write failed", "error", result.Mirror)
	}

	if !result.MirrorOnly {
		switch {
		case result.Primary == nil:
			if err := c.mirror.SetPending(ctx, kind, false); err != nil {
				logger.ErrorContext(ctx, "Failed to clear pending marker", "error", err)
			}
		case result.Mirror == nil:
			if err := c.mirror.SetPending(ctx, kind, true); err != nil {
				logger.ErrorContext(ctx, "Failed to mark collection pending", "error", err)
				result.Mirror = err
			}
		}
	}

	logger.InfoContext(ctx, "Collection written", "outcome", result.Outcome())
	return result
}

// Sync pushes pending local writes of a collection to the primary. Without
// pending writes nothing is sent, so a stale or empty mirror never overwrites
// the primary. The primary is reloaded first so the write carries a fresh
// concurrency token; the local copy wins. Nothing is retried.
func (c *Coordinator) Sync(ctx context.Context, kind announcement.Kind) SyncResult {
	logger := c.logger.With("collection", kind)
	if c.primary == nil {
		return SyncResult{}
	}

	pending, err := c.mirror.Pending(ctx, kind)
	if err != nil {
		return SyncResult{Mirror: fmt.Errorf("failed to read pending marker: %w", err)}
	}
	if !pending {
		logger.InfoContext(ctx, "Nothing to sync")
		return SyncResult{}
	}

	local, err := c.mirror.Load(ctx, kind)
	if err != nil {
		return SyncResult{Mirror: fmt.Errorf("failed to read local mirror: %w", err)}
	}
	if _, err := c.primary.Load(ctx, kind); err != nil {
		return SyncResult{Items: local, Primary: fmt.Errorf("failed to refresh %s before sync: %w", c.primary.Name(), err)}
	}
	if err := c.primary.Save(ctx, kind, local); err != nil {
		return SyncResult{Items: local, Primary: fmt.Errorf("failed to push to %s: %w", c.primary.Name(), err)}
	}
	if err := c.mirror.SetPending(ctx, kind, false); err != nil {
		logger.ErrorContext(ctx, "Failed to clear pending marker", "error", err)
	}

	logger.InfoContext(ctx, "Synced local mirror to primary",
		"backend", c.primary.Name(),
		"count", len(local))
	return SyncResult{Items: local, Pushed: true}
}
