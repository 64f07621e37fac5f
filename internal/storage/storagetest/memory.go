// Package storagetest provides an in-memory adapter with failure injection for tests.
package storagetest

import (
	"context"
	"errors"
	"sync"

	"github.com/yourusername/bulletin/internal/announcement"
	"github.com/yourusername/bulletin/internal/storage"
)

// ErrInjected is the cause attached to injected failures.
var ErrInjected = errors.New("injected failure")

// Memory is a storage.Adapter backed by a map.
type Memory struct {
	name string

	mu       sync.Mutex
	data     map[announcement.Kind]announcement.Collection
	pending  map[announcement.Kind]bool
	loadFail storage.Kind
	saveFail storage.Kind
	loads    int
	saves    int
}

// NewMemory creates an empty adapter reporting the given name.
func NewMemory(name string) *Memory {
	return &Memory{
		name:    name,
		data:    make(map[announcement.Kind]announcement.Collection),
		pending: make(map[announcement.Kind]bool),
	}
}

// Name implements storage.Adapter.
func (m *Memory) Name() string { return m.name }

// FailLoads makes every Load fail with kind; "" clears it.
func (m *Memory) FailLoads(kind storage.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadFail = kind
}

// FailSaves makes every Save fail with kind; "" clears it.
func (m *Memory) FailSaves(kind storage.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveFail = kind
}

// Put seeds a collection without counting as a save.
func (m *Memory) Put(kind announcement.Kind, items announcement.Collection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[kind] = items.Clone()
}

// Get returns the stored copy of a collection.
func (m *Memory) Get(kind announcement.Kind) announcement.Collection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[kind].Clone()
}

// Saves reports how many successful saves happened.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Loads reports how many loads were attempted.
func (m *Memory) Loads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loads
}

// Load implements storage.Adapter.
func (m *Memory) Load(_ context.Context, kind announcement.Kind) (announcement.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.loadFail != "" {
		return nil, &storage.Error{Kind: m.loadFail, Backend: m.name, Op: "load", Collection: kind, Err: ErrInjected}
	}
	return m.data[kind].Clone(), nil
}

// Save implements storage.Adapter.
func (m *Memory) Save(_ context.Context, kind announcement.Kind, items announcement.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveFail != "" {
		return &storage.Error{Kind: m.saveFail, Backend: m.name, Op: "save", Collection: kind, Err: ErrInjected}
	}
	m.saves++
	m.data[kind] = items.Clone()
	return nil
}

// SetPending implements storage.Mirror.
func (m *Memory) SetPending(_ context.Context, kind announcement.Kind, pending bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[kind] = pending
	return nil
}

// Pending implements storage.Mirror.
func (m *Memory) Pending(_ context.Context, kind announcement.Kind) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending[kind], nil
}

var _ storage.Mirror = &Memory{}
