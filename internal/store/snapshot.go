package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/yourusername/bulletin/internal/announcement"
)

// SnapshotVersion is written by ExportAll and is the only version ImportAll accepts.
const SnapshotVersion = "1.0"

// Snapshot is the backup document format.
type Snapshot struct {
	Version    string                  `json:"version"`
	ExportDate time.Time               `json:"exportDate"`
	News       announcement.Collection `json:"newsItems"`
	Activities announcement.Collection `json:"activityItems"`
}

// Validate checks the version and both collections.
func (s Snapshot) Validate() error {
	if s.Version != SnapshotVersion {
		if s.Version == "" {
			return &announcement.ValidationError{Field: "version", Reason: "is required"}
		}
		return &announcement.ValidationError{Field: "version", Reason: fmt.Sprintf("%q is not supported", s.Version)}
	}
	if s.News == nil {
		return &announcement.ValidationError{Field: "newsItems", Reason: "must be a list"}
	}
	if s.Activities == nil {
		return &announcement.ValidationError{Field: "activityItems", Reason: "must be a list"}
	}
	if err := s.News.Validate(); err != nil {
		return fmt.Errorf("newsItems: %w", err)
	}
	if err := s.Activities.Validate(); err != nil {
		return fmt.Errorf("activityItems: %w", err)
	}
	return nil
}

// DecodeSnapshot parses a backup document. Collections that are missing or
// are not JSON arrays are rejected rather than read as empty.
func DecodeSnapshot(r io.Reader) (Snapshot, error) {
	var raw struct {
		Version    string          `json:"version"`
		ExportDate string          `json:"exportDate"`
		News       json.RawMessage `json:"newsItems"`
		Activities json.RawMessage `json:"activityItems"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return Snapshot{}, &announcement.ValidationError{Reason: "backup is not valid JSON: " + err.Error()}
	}

	snap := Snapshot{Version: raw.Version}
	if raw.ExportDate != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw.ExportDate); err == nil {
			snap.ExportDate = ts
		}
	}

	var err error
	if snap.News, err = decodeList("newsItems", raw.News); err != nil {
		return Snapshot{}, err
	}
	if snap.Activities, err = decodeList("activityItems", raw.Activities); err != nil {
		return Snapshot{}, err
	}
	if err := snap.Validate(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func decodeList(field string, raw json.RawMessage) (announcement.Collection, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, &announcement.ValidationError{Field: field, Reason: "must be a list"}
	}
	items := announcement.Collection{}
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, &announcement.ValidationError{Field: field, Reason: "has invalid records: " + err.Error()}
	}
	return items, nil
}
