package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// MemorySettings is an in-memory implementation of position.Settings.
//
// FailWrites makes every SetMany fail without applying anything, which
// lets tests check that nothing leaks into the store on a failed commit.
type MemorySettings struct {
	mu         sync.Mutex
	values     map[string]int
	FailWrites bool
}

// ErrWriteRejected is returned by SetMany when FailWrites is set.
var ErrWriteRejected = errors.New("settings write rejected")

// NewMemorySettings returns an empty store.
func NewMemorySettings() *MemorySettings {
	return &MemorySettings{values: make(map[string]int)}
}

func (m *MemorySettings) Get(_ context.Context, key string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemorySettings) SetMany(_ context.Context, values map[string]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return ErrWriteRejected
	}
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

func (m *MemorySettings) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

// Keys returns the stored keys in sorted order.
func (m *MemorySettings) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.values))
	for k := range m.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
