// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hostfunc

import (
	"context"
	"sync"
)

// MemoryKV is an in-process KVStore. Values are copied on the way in and out.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

var _ KVStore = (*MemoryKV)(nil)

// NewMemoryKV creates an empty store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]map[string][]byte)}
}

// Get returns nil without error for a missing key.
func (m *MemoryKV) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[namespace][key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

// Set stores value under namespace/key.
func (m *MemoryKV) Set(ctx context.Context, namespace, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.data[namespace]
	if !ok {
		ns = make(map[string][]byte)
		m.data[namespace] = ns
	}
	ns[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes namespace/key. Missing keys are not an error.
func (m *MemoryKV) Delete(ctx context.Context, namespace, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[namespace], key)
	return nil
}

// Purge drops every key of a namespace.
func (m *MemoryKV) Purge(namespace string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, namespace)
}
